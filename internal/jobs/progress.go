package jobs

// Progress maps processed/total segments to a truncated percentage.
// It only reaches 100 when done == total; finalization commits 100 on its own.
func Progress(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return done * 100 / total
}
