package model

import (
	"time"

	"github.com/google/uuid"
)

// MonitorStats counts an assessment's sessions by state.
type MonitorStats struct {
	TotalSessions   int `json:"total_sessions"`
	TotalInProgress int `json:"total_in_progress"`
	TotalCompleted  int `json:"total_completed"`
	TotalTimedOut   int `json:"total_timed_out"`
	TotalFlagged    int `json:"total_flagged"`
}

// MonitorRow is one session as shown on the live monitor.
type MonitorRow struct {
	SessionID            uuid.UUID     `json:"session_id"`
	UserID               string        `json:"user_id"`
	Status               SessionStatus `json:"status"`
	TimeRemainingSeconds int           `json:"time_remaining_seconds"`
	TabSwitchCount       int           `json:"tab_switch_count"`
	StartedAt            time.Time     `json:"started_at"`
	Score                *int          `json:"score,omitempty"`
}

// MonitorSnapshot is the first event of a live monitor stream.
type MonitorSnapshot struct {
	Assessment AssessmentSummary `json:"assessment"`
	Stats      MonitorStats      `json:"stats"`
	Sessions   []MonitorRow      `json:"sessions"`
}
