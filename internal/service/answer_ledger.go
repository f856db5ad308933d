package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// AnswerInput is one selection reported by a candidate view.
type AnswerInput struct {
	QuestionID       uuid.UUID
	SelectedIndex    int
	TimeSpentSeconds int
	// TimeRemainingSeconds optionally piggybacks a countdown snapshot.
	TimeRemainingSeconds *int
}

// AnswerLedger records per-question selections. The latest write per
// (session, question) wins.
type AnswerLedger struct {
	sessions *SessionService
	stores   Stores
	set      settings
	log      zerolog.Logger
}

// NewAnswerLedger creates a new AnswerLedger.
func NewAnswerLedger(sessions *SessionService, stores Stores, log zerolog.Logger, opts ...Option) *AnswerLedger {
	return &AnswerLedger{
		sessions: sessions,
		stores:   stores,
		set:      applyOptions(opts),
		log:      log.With().Str("component", "answer_ledger").Logger(),
	}
}

// Record upserts a selection for an in-progress session.
func (l *AnswerLedger) Record(ctx context.Context, sessionID uuid.UUID, userID string, in AnswerInput) (*model.Answer, error) {
	if in.SelectedIndex < 0 || in.TimeSpentSeconds < 0 {
		return nil, validationError(response.ErrValidation)
	}
	if in.TimeRemainingSeconds != nil && *in.TimeRemainingSeconds < 0 {
		return nil, validationError(response.ErrValidation)
	}

	sess, err := l.sessions.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive() {
		return nil, stateError(response.ErrSessionNotActive)
	}
	if !sess.HasQuestion(in.QuestionID) {
		return nil, validationError(response.ErrQuestionNotInSession)
	}

	a := &model.Answer{
		SessionID:        sess.ID,
		QuestionID:       in.QuestionID,
		SelectedIndex:    in.SelectedIndex,
		AnsweredAt:       l.set.now(),
		TimeSpentSeconds: in.TimeSpentSeconds,
	}
	if err := l.stores.Answers.Upsert(ctx, a); err != nil {
		if errors.Is(err, repository.ErrAnswersSealed) {
			return nil, stateError(response.ErrSessionNotActive)
		}
		return nil, fmt.Errorf("record answer: %w", err)
	}

	if in.TimeRemainingSeconds != nil {
		if err := l.stores.Sessions.UpdateTimeRemaining(ctx, sess.ID, *in.TimeRemainingSeconds); err != nil {
			l.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to persist piggybacked time snapshot")
		}
	}

	publish(ctx, l.stores.Publisher, l.log, model.SessionEvent{
		Type:         model.EventAnswerRecorded,
		AssessmentID: sess.AssessmentID,
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		At:           a.AnsweredAt,
		Data:         map[string]interface{}{"question_id": a.QuestionID},
	})
	return a, nil
}

// GetAnswers returns the session's current selections keyed by question id.
func (l *AnswerLedger) GetAnswers(ctx context.Context, sessionID uuid.UUID, userID string) (model.AnswerMap, error) {
	sess, err := l.sessions.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	answers, err := l.stores.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return model.NewAnswerMap(answers), nil
}
