package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the current selection for one (session, question) pair.
type Answer struct {
	SessionID        uuid.UUID `json:"session_id"`
	QuestionID       uuid.UUID `json:"question_id"`
	SelectedIndex    int       `json:"selected_index"`
	AnsweredAt       time.Time `json:"answered_at"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// AnswerView is the per-question value of the answers mapping.
type AnswerView struct {
	SelectedIndex    int       `json:"selected_index"`
	AnsweredAt       time.Time `json:"answered_at"`
	TimeSpentSeconds int       `json:"time_spent_seconds"`
}

// AnswerMap indexes answers by question id.
type AnswerMap map[uuid.UUID]AnswerView

// NewAnswerMap builds the questionId -> answer mapping.
func NewAnswerMap(answers []Answer) AnswerMap {
	m := make(AnswerMap, len(answers))
	for _, a := range answers {
		m[a.QuestionID] = AnswerView{
			SelectedIndex:    a.SelectedIndex,
			AnsweredAt:       a.AnsweredAt,
			TimeSpentSeconds: a.TimeSpentSeconds,
		}
	}
	return m
}

// RecordAnswerRequest is the payload for recording a selection.
type RecordAnswerRequest struct {
	QuestionID       string `json:"question_id" binding:"required,uuid"`
	SelectedIndex    *int   `json:"selected_index" binding:"required,min=0"`
	TimeSpentSeconds int    `json:"time_spent_seconds" binding:"min=0"`
	// TimeRemainingSeconds optionally carries the displayed countdown.
	TimeRemainingSeconds *int `json:"time_remaining_seconds" binding:"omitempty,min=0"`
}
