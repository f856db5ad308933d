package model

import (
	"github.com/google/uuid"
)

// Question is a multiple-choice item of an assessment's question bank.
type Question struct {
	ID           uuid.UUID `json:"id"`
	AssessmentID uuid.UUID `json:"assessment_id"`
	Position     int       `json:"position"`
	Stem         string    `json:"stem"`
	Options      []string  `json:"options"`
	CorrectIndex int       `json:"-"`
}

// QuestionForCandidate is a question without its correct answer.
type QuestionForCandidate struct {
	ID      uuid.UUID `json:"question_id"`
	Stem    string    `json:"stem"`
	Options []string  `json:"options"`
}

// ForCandidate strips the answer key.
func (q *Question) ForCandidate() QuestionForCandidate {
	return QuestionForCandidate{ID: q.ID, Stem: q.Stem, Options: q.Options}
}

// ReviewItem is a question as shown after finalization when review is allowed.
type ReviewItem struct {
	QuestionID    uuid.UUID `json:"question_id"`
	Stem          string    `json:"stem"`
	Options       []string  `json:"options"`
	SelectedIndex *int      `json:"selected_index"`
	CorrectIndex  int       `json:"correct_index"`
	IsCorrect     bool      `json:"is_correct"`
}
