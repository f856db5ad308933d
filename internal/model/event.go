package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a live session event published to proctor monitors.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventAnswerRecorded    EventType = "answer_recorded"
	EventViolationReported EventType = "violation_reported"
	EventSessionFinalized  EventType = "session_finalized"
)

// SessionEvent is one message on an assessment's monitor channel.
type SessionEvent struct {
	Type         EventType              `json:"type"`
	AssessmentID uuid.UUID              `json:"assessment_id"`
	SessionID    uuid.UUID              `json:"session_id"`
	UserID       string                 `json:"user_id"`
	At           time.Time              `json:"at"`
	Data         map[string]interface{} `json:"data,omitempty"`
}
