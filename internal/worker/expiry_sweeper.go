package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// SessionExpirer lists and finalizes sessions whose countdown ran out.
type SessionExpirer interface {
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	Expire(ctx context.Context, sessionID uuid.UUID) (*service.Completion, error)
}

// ExpirySweeper times out sessions abandoned by their candidate: nobody is
// connected to run the countdown, so the deadline passes unobserved.
type ExpirySweeper struct {
	sessions SessionExpirer
	interval time.Duration
	grace    time.Duration
	batch    int
	now      func() time.Time
	log      zerolog.Logger
}

func NewExpirySweeper(sessions SessionExpirer, interval, grace time.Duration, batch int, log zerolog.Logger) *ExpirySweeper {
	return &ExpirySweeper{
		sessions: sessions,
		interval: interval,
		grace:    grace,
		batch:    batch,
		now:      time.Now,
		log:      log.With().Str("component", "expiry_sweeper").Logger(),
	}
}

// Start runs a sweep every interval until ctx is done.
func (w *ExpirySweeper) Start(ctx context.Context) {
	if w.interval <= 0 {
		w.log.Info().Msg("Sweeper disabled")
		return
	}
	w.log.Info().Dur("interval", w.interval).Dur("grace", w.grace).Msg("ExpirySweeper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep expires one batch of overdue sessions and returns how many it
// finalized.
func (w *ExpirySweeper) Sweep(ctx context.Context) int {
	ids, err := w.sessions.ListExpired(ctx, w.now().Add(-w.grace), w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("List expired sessions failed")
		return 0
	}

	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		c, err := w.sessions.Expire(ctx, id)
		if err != nil {
			w.log.Error().Err(err).Str("session_id", id.String()).Msg("Expire failed, retrying next sweep")
			continue
		}
		if !c.AlreadyFinalized {
			expired++
		}
	}
	if expired > 0 {
		w.log.Info().Int("count", expired).Msg("Timed out abandoned sessions")
	}
	return expired
}
