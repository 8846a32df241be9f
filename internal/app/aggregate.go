package app

import (
	"sort"
	"time"

	"quiz-assessment-service/internal/domain"
)

// Summarize reduces a quiz's submitted attempts to the instructor-facing
// summary. Attempts still in progress have no score yet and are skipped. Pass
// rate uses the absolute comparison only, which is what the instructor view shows.
func Summarize(quizID string, attempts []domain.Attempt, threshold float64) domain.Summary {
	summary := domain.Summary{QuizID: quizID, Best: []domain.LeaderboardEntry{}}

	type best struct {
		entry domain.LeaderboardEntry
		at    time.Time
	}
	bestByStudent := make(map[string]*best)
	count := 0
	total := 0
	passed := 0
	for _, a := range attempts {
		if !a.Submitted() {
			continue
		}
		count++
		total += a.Score
		if PassedAbsolute(a.Score, threshold) {
			passed++
		}

		at := *a.SubmittedAt
		b, ok := bestByStudent[a.StudentID]
		if !ok || a.Score > b.entry.BestScore || (a.Score == b.entry.BestScore && at.Before(b.at)) {
			bestByStudent[a.StudentID] = &best{
				entry: domain.LeaderboardEntry{
					StudentID:   a.StudentID,
					DisplayName: a.StudentName,
					BestScore:   a.Score,
					AttemptID:   a.ID,
				},
				at: at,
			}
		}
	}

	if count == 0 {
		return summary
	}
	summary.Count = count
	summary.UniqueStudents = len(bestByStudent)
	summary.AverageScore = float64(total) / float64(count)
	summary.PassRate = float64(passed) / float64(count) * 100

	ranked := make([]*best, 0, len(bestByStudent))
	for _, b := range bestByStudent {
		ranked = append(ranked, b)
	}
	// Score desc, then whoever reached it first, then name.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].entry.BestScore != ranked[j].entry.BestScore {
			return ranked[i].entry.BestScore > ranked[j].entry.BestScore
		}
		if !ranked[i].at.Equal(ranked[j].at) {
			return ranked[i].at.Before(ranked[j].at)
		}
		return ranked[i].entry.DisplayName < ranked[j].entry.DisplayName
	})
	for _, b := range ranked {
		summary.Best = append(summary.Best, b.entry)
	}
	return summary
}
