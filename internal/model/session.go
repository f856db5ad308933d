package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates assessment session states.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusTimedOut   SessionStatus = "timed_out"
)

// IsTerminal reports whether the status can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusTimedOut
}

// CompletionReason is what triggered a finalization.
type CompletionReason string

const (
	CompletionManual  CompletionReason = "manual"
	CompletionTimeout CompletionReason = "timeout"
)

// Session is one candidate's attempt at an assessment.
type Session struct {
	ID                   uuid.UUID        `json:"id"`
	AssessmentID         uuid.UUID        `json:"assessment_id"`
	UserID               string           `json:"user_id"`
	Status               SessionStatus    `json:"status"`
	QuestionOrder        []uuid.UUID      `json:"question_order"`
	TimeRemainingSeconds int              `json:"time_remaining_seconds"`
	TabSwitchCount       int              `json:"tab_switch_count"`
	TabSwitchLog         []ViolationEntry `json:"tab_switch_log"`
	StartedAt            time.Time        `json:"started_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
	Score                *int             `json:"score,omitempty"`
	Passed               *bool            `json:"passed,omitempty"`
	// LastSnapshotAt is when time_remaining_seconds was last persisted.
	LastSnapshotAt time.Time `json:"-"`
}

// IsActive reports whether answers and violations may still be recorded.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusInProgress
}

// HasQuestion reports whether id is part of the session's question order.
func (s *Session) HasQuestion(id uuid.UUID) bool {
	for _, q := range s.QuestionOrder {
		if q == id {
			return true
		}
	}
	return false
}

// IsFlagged reports whether any integrity violation was recorded.
func (s *Session) IsFlagged() bool {
	return s.TabSwitchCount > 0 || len(s.TabSwitchLog) > 0
}

// Clone returns a deep copy so stores can hand out sessions without aliasing.
func (s *Session) Clone() *Session {
	c := *s
	c.QuestionOrder = append([]uuid.UUID(nil), s.QuestionOrder...)
	c.TabSwitchLog = append([]ViolationEntry(nil), s.TabSwitchLog...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	if s.Passed != nil {
		v := *s.Passed
		c.Passed = &v
	}
	return &c
}

// FinalResult is written atomically when a session leaves in_progress.
type FinalResult struct {
	Status      SessionStatus
	Score       int
	Passed      bool
	CompletedAt time.Time
}

// AttemptHistory summarizes a user's previous sessions of one assessment.
type AttemptHistory struct {
	Attempts        int
	LastCompletedAt *time.Time
}

// StartSessionRequest is the payload for starting (or resuming) a session.
type StartSessionRequest struct {
	AccessCode string `json:"access_code" binding:"omitempty,max=128"`
}

// TimeSnapshotRequest carries the displayed remaining time for drift correction.
type TimeSnapshotRequest struct {
	TimeRemainingSeconds *int `json:"time_remaining_seconds" binding:"required,min=0"`
}

// CompleteSessionRequest is the payload for finalizing a session.
type CompleteSessionRequest struct {
	Reason               CompletionReason `json:"reason" binding:"omitempty,oneof=manual timeout"`
	TimeRemainingSeconds *int             `json:"time_remaining_seconds" binding:"omitempty,min=0"`
}
