package pipeline

import (
	"cmp"
	"slices"

	"otonote/internal/diarize"
)

// SortByStart orders intervals by start time. Equal starts keep emission order.
func SortByStart(ivs []diarize.Interval) []diarize.Interval {
	out := slices.Clone(ivs)
	slices.SortStableFunc(out, func(a, b diarize.Interval) int {
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}

// Merge joins adjacent same-speaker intervals separated by at most gap
// seconds, then folds intervals shorter than minDur into the one before.
// Non-positive values disable the respective pass. Input must be sorted.
func Merge(ivs []diarize.Interval, gap, minDur float64) []diarize.Interval {
	if len(ivs) == 0 {
		return nil
	}
	out := slices.Clone(ivs)

	if gap > 0 {
		joined := []diarize.Interval{out[0]}
		for _, iv := range out[1:] {
			last := &joined[len(joined)-1]
			if iv.Speaker == last.Speaker && iv.Start-last.End <= gap {
				last.End = max(last.End, iv.End)
				continue
			}
			joined = append(joined, iv)
		}
		out = joined
	}

	if minDur > 0 {
		var fixed []diarize.Interval
		for _, iv := range out {
			if len(fixed) > 0 && iv.Duration() < minDur {
				fixed[len(fixed)-1].End = max(fixed[len(fixed)-1].End, iv.End)
				continue
			}
			fixed = append(fixed, iv)
		}
		out = fixed
	}
	return out
}

// dropEmpty removes intervals that cannot be cut into a clip.
func dropEmpty(ivs []diarize.Interval) (kept []diarize.Interval, dropped int) {
	for _, iv := range ivs {
		if iv.Duration() <= 0 {
			dropped++
			continue
		}
		kept = append(kept, iv)
	}
	return kept, dropped
}
