package model

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType enumerates the integrity signals the client reports.
type ViolationType string

const (
	ViolationTabHidden      ViolationType = "tab_hidden"
	ViolationFullscreenExit ViolationType = "fullscreen_exit"
)

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	return t == ViolationTabHidden || t == ViolationFullscreenExit
}

// ViolationEntry is one element of a session's tab_switch_log.
type ViolationEntry struct {
	Timestamp time.Time     `json:"timestamp"`
	Type      ViolationType `json:"type"`
}

// ViolationEvent is a violation addressed to a session, as queued for persistence.
type ViolationEvent struct {
	SessionID uuid.UUID     `json:"session_id"`
	Type      ViolationType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
}

// Entry returns the log element for the event.
func (e ViolationEvent) Entry() ViolationEntry {
	return ViolationEntry{Timestamp: e.Timestamp, Type: e.Type}
}

// ReportViolationRequest is the payload for reporting a violation.
type ReportViolationRequest struct {
	Type      string     `json:"type" binding:"required,oneof=tab_hidden fullscreen_exit"`
	Timestamp *time.Time `json:"timestamp" binding:"omitempty"`
}
