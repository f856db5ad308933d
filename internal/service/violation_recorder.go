package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const debouncePruneThreshold = 4096

type debounceKey struct {
	session uuid.UUID
	typ     model.ViolationType
}

// ViolationRecorder appends integrity signals to a session's log. It never
// fails the caller: every problem is logged and the event dropped.
type ViolationRecorder struct {
	sessions *SessionService
	stores   Stores
	set      settings
	log      zerolog.Logger

	mu   sync.Mutex
	last map[debounceKey]time.Time
}

// NewViolationRecorder creates a new ViolationRecorder.
func NewViolationRecorder(sessions *SessionService, stores Stores, log zerolog.Logger, opts ...Option) *ViolationRecorder {
	return &ViolationRecorder{
		sessions: sessions,
		stores:   stores,
		set:      applyOptions(opts),
		log:      log.With().Str("component", "violation_recorder").Logger(),
		last:     make(map[debounceKey]time.Time),
	}
}

// Append records a violation. A nil timestamp means now. It reports whether
// the event was accepted for persistence.
func (r *ViolationRecorder) Append(ctx context.Context, sessionID uuid.UUID, userID string, typ model.ViolationType, ts *time.Time) bool {
	logger := r.log.With().Str("session_id", sessionID.String()).Str("type", string(typ)).Logger()

	if !typ.Valid() {
		logger.Warn().Msg("Dropping violation of unknown type")
		return false
	}
	sess, err := r.sessions.owned(ctx, sessionID, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("Dropping violation for unknown or foreign session")
		return false
	}
	if !sess.IsActive() {
		logger.Debug().Msg("Dropping violation for non-active session")
		return false
	}

	now := r.set.now()
	if r.debounced(debounceKey{session: sessionID, typ: typ}, now) {
		logger.Debug().Msg("Debounced violation")
		return false
	}

	at := now
	if ts != nil && !ts.IsZero() {
		at = *ts
	}
	ev := model.ViolationEvent{SessionID: sessionID, Type: typ, Timestamp: at}
	if err := r.stores.Violations.Enqueue(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("Failed to record violation")
		return false
	}

	publish(ctx, r.stores.Publisher, r.log, model.SessionEvent{
		Type:         model.EventViolationReported,
		AssessmentID: sess.AssessmentID,
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		At:           at,
		Data:         map[string]interface{}{"type": typ, "tab_switch_count": sess.TabSwitchCount + 1},
	})
	return true
}

// debounced reports whether an event with the same key was accepted within
// the debounce window, recording now otherwise.
func (r *ViolationRecorder) debounced(key debounceKey, now time.Time) bool {
	window := r.set.violationDebounce
	if window <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.last[key]; ok && now.Sub(prev) < window {
		return true
	}
	r.last[key] = now
	if len(r.last) > debouncePruneThreshold {
		for k, t := range r.last {
			if now.Sub(t) >= window {
				delete(r.last, k)
			}
		}
	}
	return false
}
