package app

// Passed decides pass/fail for a score. The threshold carries no unit: when it
// exceeds the total possible marks it is read as a percentage, otherwise as an
// absolute cutoff. Quizzes whose total equals the threshold's intended
// percentage get misread; an explicit unit on the quiz would remove the guess.
func Passed(score, totalPossible int, threshold float64) bool {
	if threshold > float64(totalPossible) {
		if totalPossible <= 0 {
			return false
		}
		return float64(score)/float64(totalPossible)*100 >= threshold
	}
	return PassedAbsolute(score, threshold)
}

// PassedAbsolute compares the score against the threshold as raw points.
func PassedAbsolute(score int, threshold float64) bool {
	return float64(score) >= threshold
}
