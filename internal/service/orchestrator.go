package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Orchestrator is the public boundary of the session engine. Every error it
// returns is a *Error; unclassified failures become retryable
// infrastructure errors after being logged.
type Orchestrator struct {
	sessions   *SessionService
	ledger     *AnswerLedger
	violations *ViolationRecorder
	analytics  *AnalyticsService
	monitor    *MonitorService
	log        zerolog.Logger
}

// NewOrchestrator wires the services over stores.
func NewOrchestrator(stores Stores, log zerolog.Logger, opts ...Option) *Orchestrator {
	sessions := NewSessionService(stores, log, opts...)
	return &Orchestrator{
		sessions:   sessions,
		ledger:     NewAnswerLedger(sessions, stores, log, opts...),
		violations: NewViolationRecorder(sessions, stores, log, opts...),
		analytics:  NewAnalyticsService(stores, log, opts...),
		monitor:    NewMonitorService(stores),
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

func (o *Orchestrator) boundary(op string, err error) error {
	if err == nil {
		return nil
	}
	se, classified := asServiceError(err)
	if !classified || se.Kind == KindInfrastructure {
		o.log.Error().Err(err).Str("op", op).Msg("Operation failed")
	}
	return se
}

// StartSession starts or resumes the user's session of an assessment.
func (o *Orchestrator) StartSession(ctx context.Context, assessmentID uuid.UUID, userID, accessCode string) (*model.Session, bool, error) {
	sess, resumed, err := o.sessions.Start(ctx, assessmentID, userID, accessCode)
	return sess, resumed, o.boundary("start_session", err)
}

// Resume returns a session with its ordered questions and answers.
func (o *Orchestrator) Resume(ctx context.Context, sessionID uuid.UUID, userID string) (*SessionView, error) {
	v, err := o.sessions.Resume(ctx, sessionID, userID)
	return v, o.boundary("resume", err)
}

// RecordAnswer upserts one selection.
func (o *Orchestrator) RecordAnswer(ctx context.Context, sessionID uuid.UUID, userID string, in AnswerInput) (*model.Answer, error) {
	a, err := o.ledger.Record(ctx, sessionID, userID, in)
	return a, o.boundary("record_answer", err)
}

// GetAnswers returns the session's answers keyed by question id.
func (o *Orchestrator) GetAnswers(ctx context.Context, sessionID uuid.UUID, userID string) (model.AnswerMap, error) {
	m, err := o.ledger.GetAnswers(ctx, sessionID, userID)
	return m, o.boundary("get_answers", err)
}

// ReportViolation records an integrity signal. It never fails.
func (o *Orchestrator) ReportViolation(ctx context.Context, sessionID uuid.UUID, userID string, typ model.ViolationType, ts *time.Time) bool {
	return o.violations.Append(ctx, sessionID, userID, typ, ts)
}

// SnapshotTime persists the displayed countdown.
func (o *Orchestrator) SnapshotTime(ctx context.Context, sessionID uuid.UUID, userID string, remaining int) (int, error) {
	r, err := o.sessions.SnapshotTime(ctx, sessionID, userID, remaining)
	return r, o.boundary("snapshot_time", err)
}

// Complete finalizes a session for its owner.
func (o *Orchestrator) Complete(ctx context.Context, sessionID uuid.UUID, userID string, reason model.CompletionReason, remaining *int) (*Completion, error) {
	c, err := o.sessions.Complete(ctx, sessionID, userID, reason, remaining)
	return c, o.boundary("complete", err)
}

// Expire finalizes a session whose countdown reached zero.
func (o *Orchestrator) Expire(ctx context.Context, sessionID uuid.UUID) (*Completion, error) {
	c, err := o.sessions.Expire(ctx, sessionID)
	return c, o.boundary("expire", err)
}

// Review returns the graded questions of a finalized session.
func (o *Orchestrator) Review(ctx context.Context, sessionID uuid.UUID, userID string) ([]model.ReviewItem, error) {
	items, err := o.sessions.Review(ctx, sessionID, userID)
	return items, o.boundary("review", err)
}

// ListExpired returns abandoned in-progress sessions past cutoff.
func (o *Orchestrator) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	ids, err := o.sessions.ListExpired(ctx, cutoff, limit)
	return ids, o.boundary("list_expired", err)
}

// Cohort returns the cohort analytics of an assessment.
func (o *Orchestrator) Cohort(ctx context.Context, assessmentID uuid.UUID) (*model.CohortAnalytics, error) {
	a, err := o.analytics.Cohort(ctx, assessmentID)
	return a, o.boundary("cohort", err)
}

// Heatmap returns the violation heatmap of an assessment.
func (o *Orchestrator) Heatmap(ctx context.Context, assessmentID uuid.UUID) (*model.ViolationHeatmap, error) {
	h, err := o.analytics.Heatmap(ctx, assessmentID)
	return h, o.boundary("heatmap", err)
}

// MonitorSnapshot returns the live roster of an assessment.
func (o *Orchestrator) MonitorSnapshot(ctx context.Context, assessmentID uuid.UUID) (*model.MonitorSnapshot, error) {
	m, err := o.monitor.Snapshot(ctx, assessmentID)
	return m, o.boundary("monitor_snapshot", err)
}
