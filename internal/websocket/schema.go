package websocket

import (
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer    Action = "answer"
	ActionViolation Action = "violation"
	ActionFinish    Action = "finish"
	ActionPing      Action = "ping"
)

// RequestPayload is the union of every client action; fields not used by
// the action are ignored.
type RequestPayload struct {
	Action Action `json:"action"`

	// answer
	QuestionID       string `json:"question_id,omitempty"`
	SelectedIndex    *int   `json:"selected_index,omitempty"`
	TimeSpentSeconds int    `json:"time_spent_seconds,omitempty"`

	// violation
	Type      model.ViolationType `json:"type,omitempty"`
	Timestamp *time.Time          `json:"timestamp,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventTick        Event = "tick"
	EventAnswerSaved Event = "answer_saved"
	EventExpired     Event = "expired"
	EventCompleted   Event = "completed"
	EventError       Event = "error"
	EventPong        Event = "pong"
)

// TimeUpMessage is what the candidate sees when the countdown ends,
// whether or not the finalization has committed yet.
const TimeUpMessage = "time is up"

type TickResponse struct {
	Event                Event `json:"event"`
	TimeRemainingSeconds int   `json:"time_remaining_seconds"`
}

type AnswerSavedResponse struct {
	Event      Event     `json:"event"`
	QuestionID uuid.UUID `json:"question_id"`
	AnsweredAt time.Time `json:"answered_at"`
}

type ExpiredResponse struct {
	Event   Event  `json:"event"`
	Message string `json:"message"`
}

type CompletedResponse struct {
	Event            Event          `json:"event"`
	Session          *model.Session `json:"session"`
	AlreadyFinalized bool           `json:"already_finalized"`
}

type ErrorResponse struct {
	Event     Event  `json:"event"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
