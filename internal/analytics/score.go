// Package analytics holds the pure scoring, cohort and attribution
// computations. Nothing here touches storage.
package analytics

import (
	"math"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Grade is the scored outcome of one session.
type Grade struct {
	Correct       int
	QuestionCount int
	Score         int
	Passed        bool
}

// GradeSession scores the answers of one session against its question order,
// out of the assessment's questionCount (len(order) when unset).
// Unanswered questions count as incorrect; answers to questions outside the
// order are ignored.
func GradeSession(order []uuid.UUID, key map[uuid.UUID]int, answers model.AnswerMap, questionCount, passScore int) Grade {
	if questionCount <= 0 {
		questionCount = len(order)
	}
	g := Grade{QuestionCount: questionCount}
	for _, qid := range order {
		a, ok := answers[qid]
		if !ok {
			continue
		}
		if correct, ok := key[qid]; ok && a.SelectedIndex == correct {
			g.Correct++
		}
	}
	g.Score = ScorePercent(g.Correct, g.QuestionCount)
	g.Passed = g.Score >= passScore
	return g
}

// ScorePercent is round(100 × correct / count) capped at 100, 0 for an
// empty assessment.
func ScorePercent(correct, count int) int {
	if count <= 0 {
		return 0
	}
	return min(100, int(math.Round(100*float64(correct)/float64(count))))
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
