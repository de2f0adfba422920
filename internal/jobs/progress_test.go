package jobs

import "testing"

func TestProgress(t *testing.T) {
	cases := []struct {
		done, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{1, 7, 14},
		{6, 7, 85},
		{5, 5, 100},
		{0, 0, 0},
		{1, 0, 0},
		{-1, 4, 0},
		{9, 4, 100},
	}
	for _, c := range cases {
		if got := Progress(c.done, c.total); got != c.want {
			t.Errorf("Progress(%d, %d) = %d, want %d", c.done, c.total, got, c.want)
		}
	}
}

func TestProgressMonotonic(t *testing.T) {
	for total := 1; total <= 250; total++ {
		prev := -1
		for done := 0; done <= total; done++ {
			p := Progress(done, total)
			if p < prev {
				t.Fatalf("Progress(%d, %d) = %d < previous %d", done, total, p, prev)
			}
			if p < 0 || p > 100 {
				t.Fatalf("Progress(%d, %d) = %d out of range", done, total, p)
			}
			prev = p
		}
	}
}
