package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/analytics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/response"
	"golang.org/x/crypto/bcrypt"
)

// SessionView is a session with everything a candidate view needs to render.
type SessionView struct {
	Session    *model.Session               `json:"session"`
	Assessment model.AssessmentSummary      `json:"assessment"`
	Questions  []model.QuestionForCandidate `json:"questions"`
	Answers    model.AnswerMap              `json:"answers"`
}

// Completion is the outcome of a finalization request.
type Completion struct {
	Session *model.Session `json:"session"`
	// AlreadyFinalized is true when the session was terminal before this call.
	AlreadyFinalized bool `json:"already_finalized"`
}

// SessionService is the session state machine: in_progress → completed or
// timed_out, exactly once.
type SessionService struct {
	stores Stores
	set    settings
	log    zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(stores Stores, log zerolog.Logger, opts ...Option) *SessionService {
	return &SessionService{
		stores: stores,
		set:    applyOptions(opts),
		log:    log.With().Str("component", "session_service").Logger(),
	}
}

// Start returns the user's in-progress session for the assessment, or
// creates one after the attempt policy checks pass. resumed reports whether
// an existing session was returned.
func (s *SessionService) Start(ctx context.Context, assessmentID uuid.UUID, userID, accessCode string) (sess *model.Session, resumed bool, err error) {
	if userID == "" {
		return nil, false, validationError(response.ErrTokenRequired)
	}

	active, err := s.stores.Sessions.FindActive(ctx, assessmentID, userID)
	if err == nil {
		return active, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("find active session: %w", err)
	}

	a, err := s.publishedAssessment(ctx, assessmentID)
	if err != nil {
		return nil, false, err
	}

	hist, err := s.stores.Sessions.AttemptHistory(ctx, assessmentID, userID)
	if err != nil {
		return nil, false, fmt.Errorf("attempt history: %w", err)
	}
	if a.MaxAttempts > 0 && hist.Attempts >= a.MaxAttempts {
		return nil, false, attemptLimitError()
	}
	if a.CooldownMinutes > 0 && hist.LastCompletedAt != nil {
		until := hist.LastCompletedAt.Add(time.Duration(a.CooldownMinutes) * time.Minute)
		if now := s.set.now(); now.Before(until) {
			return nil, false, cooldownError(until.Sub(now))
		}
	}
	if a.RequiresAccessCode() && !accessCodeMatches(a.AccessCode, accessCode) {
		return nil, false, validationError(response.ErrInvalidAccessCode)
	}

	bank, err := s.stores.Questions.ListQuestions(ctx, assessmentID)
	if err != nil {
		return nil, false, fmt.Errorf("list questions: %w", err)
	}
	if a.QuestionCount <= 0 || len(bank) < a.QuestionCount {
		s.log.Warn().
			Str("assessment_id", assessmentID.String()).
			Int("question_count", a.QuestionCount).
			Int("bank_size", len(bank)).
			Msg("Question bank too small to start a session")
		return nil, false, stateError(response.ErrAssessmentUnavailable)
	}

	sess = &model.Session{
		AssessmentID:         assessmentID,
		UserID:               userID,
		QuestionOrder:        s.buildOrder(a, bank),
		TimeRemainingSeconds: a.TimeLimitSeconds(),
	}
	if err := s.stores.Sessions.Create(ctx, sess); err != nil {
		if !errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, false, fmt.Errorf("create session: %w", err)
		}
		// A concurrent start won; converge on its session.
		winner, ferr := s.stores.Sessions.FindActive(ctx, assessmentID, userID)
		if ferr != nil {
			return nil, false, fmt.Errorf("find concurrent session: %w", ferr)
		}
		return winner, true, nil
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("assessment_id", assessmentID.String()).
		Str("user_id", userID).
		Int("attempt", hist.Attempts+1).
		Msg("Session started")
	publish(ctx, s.stores.Publisher, s.log, model.SessionEvent{
		Type:         model.EventSessionStarted,
		AssessmentID: assessmentID,
		SessionID:    sess.ID,
		UserID:       userID,
		At:           sess.StartedAt,
		Data:         map[string]interface{}{"time_remaining_seconds": sess.TimeRemainingSeconds},
	})
	return sess, false, nil
}

// buildOrder samples QuestionCount ids from the bank, shuffled or in
// position order.
func (s *SessionService) buildOrder(a *model.Assessment, bank []model.Question) []uuid.UUID {
	ids := make([]uuid.UUID, len(bank))
	for i, q := range bank {
		ids[i] = q.ID
	}
	if a.ShuffleQuestions {
		s.set.shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	}
	return ids[:a.QuestionCount]
}

// accessCodeMatches compares against a bcrypt hash or, for plain stored
// codes, in constant time.
func accessCodeMatches(stored, given string) bool {
	if given == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

func (s *SessionService) publishedAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, err := s.assessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != model.AssessmentStatusPublished {
		return nil, validationError(response.ErrAssessmentNotFound)
	}
	return a, nil
}

func (s *SessionService) assessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a, err := s.stores.Assessments.GetAssessment(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(response.ErrAssessmentNotFound)
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	return a, nil
}

// owned loads a session, hiding sessions of other users as not found.
func (s *SessionService) owned(ctx context.Context, sessionID uuid.UUID, userID string) (*model.Session, error) {
	if userID == "" {
		return nil, validationError(response.ErrTokenRequired)
	}
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(response.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.UserID != userID {
		return nil, validationError(response.ErrSessionNotFound)
	}
	return sess, nil
}

// Resume returns the persisted session state. time_remaining_seconds is
// whatever was last persisted; no elapsed wall-clock time is subtracted.
func (s *SessionService) Resume(ctx context.Context, sessionID uuid.UUID, userID string) (*SessionView, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	a, err := s.assessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	bank, err := s.stores.Questions.ListQuestions(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.stores.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}

	byID := make(map[uuid.UUID]*model.Question, len(bank))
	for i := range bank {
		byID[bank[i].ID] = &bank[i]
	}
	questions := make([]model.QuestionForCandidate, 0, len(sess.QuestionOrder))
	for _, qid := range sess.QuestionOrder {
		q, ok := byID[qid]
		if !ok {
			s.log.Warn().Str("session_id", sess.ID.String()).Str("question_id", qid.String()).Msg("Question in order no longer in bank")
			continue
		}
		questions = append(questions, q.ForCandidate())
	}

	return &SessionView{
		Session:    sess,
		Assessment: a.Summary(),
		Questions:  questions,
		Answers:    model.NewAnswerMap(answers),
	}, nil
}

// SnapshotTime persists the displayed countdown. The stored value only ever
// decreases; terminal sessions are left as they are. It returns the value now
// in effect.
func (s *SessionService) SnapshotTime(ctx context.Context, sessionID uuid.UUID, userID string, remaining int) (int, error) {
	if remaining < 0 {
		return 0, validationError(response.ErrValidation)
	}
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return 0, err
	}
	if !sess.IsActive() {
		return sess.TimeRemainingSeconds, nil
	}
	if err := s.stores.Sessions.UpdateTimeRemaining(ctx, sess.ID, remaining); err != nil {
		return 0, fmt.Errorf("snapshot time: %w", err)
	}
	return min(sess.TimeRemainingSeconds, remaining), nil
}

// Complete finalizes a session on behalf of its owner. remaining, when
// given, is applied as a snapshot before the status is decided.
func (s *SessionService) Complete(ctx context.Context, sessionID uuid.UUID, userID string, reason model.CompletionReason, remaining *int) (*Completion, error) {
	if remaining != nil && *remaining < 0 {
		return nil, validationError(response.ErrValidation)
	}
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return s.finalize(ctx, sess, reason, remaining)
}

// Expire finalizes a session whose countdown ran out. It is the system path
// used by the view timer and the abandoned-session sweep.
func (s *SessionService) Expire(ctx context.Context, sessionID uuid.UUID) (*Completion, error) {
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, validationError(response.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	zero := 0
	return s.finalize(ctx, sess, model.CompletionTimeout, &zero)
}

func (s *SessionService) finalize(ctx context.Context, sess *model.Session, reason model.CompletionReason, remaining *int) (*Completion, error) {
	if sess.Status.IsTerminal() {
		return &Completion{Session: sess, AlreadyFinalized: true}, nil
	}
	if reason == "" {
		reason = model.CompletionManual
	}

	if remaining != nil {
		if err := s.stores.Sessions.UpdateTimeRemaining(ctx, sess.ID, *remaining); err != nil {
			return nil, fmt.Errorf("snapshot time: %w", err)
		}
		sess.TimeRemainingSeconds = min(sess.TimeRemainingSeconds, *remaining)
	}

	a, err := s.assessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	key, err := s.stores.AnswerKeys.AnswerKey(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("answer key: %w", err)
	}
	// Sealing first means every accepted answer is in the list below.
	if err := s.stores.Answers.Seal(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("seal answers: %w", err)
	}
	answers, err := s.stores.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	grade := analytics.GradeSession(sess.QuestionOrder, key, model.NewAnswerMap(answers), a.QuestionCount, a.PassScore)

	status := model.SessionStatusTimedOut
	if reason == model.CompletionManual || sess.TimeRemainingSeconds > 0 {
		status = model.SessionStatusCompleted
	}
	res := model.FinalResult{
		Status:      status,
		Score:       grade.Score,
		Passed:      grade.Passed,
		CompletedAt: s.set.now(),
	}

	applied, err := s.stores.Sessions.Finalize(ctx, sess.ID, res)
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}
	if !applied {
		// Another trigger finalized first; report its result.
		winner, err := s.stores.Sessions.Get(ctx, sess.ID)
		if err != nil {
			return nil, fmt.Errorf("reload finalized session: %w", err)
		}
		return &Completion{Session: winner, AlreadyFinalized: true}, nil
	}

	sess.Status = res.Status
	sess.Score = &res.Score
	sess.Passed = &res.Passed
	sess.CompletedAt = &res.CompletedAt

	if r, ok := s.stores.Answers.(answerRetirer); ok {
		if err := r.Retire(ctx, sess.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to retire answer cache")
		}
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("status", string(res.Status)).
		Str("reason", string(reason)).
		Int("score", res.Score).
		Int("correct", grade.Correct).
		Int("question_count", grade.QuestionCount).
		Msg("Session finalized")
	publish(ctx, s.stores.Publisher, s.log, model.SessionEvent{
		Type:         model.EventSessionFinalized,
		AssessmentID: sess.AssessmentID,
		SessionID:    sess.ID,
		UserID:       sess.UserID,
		At:           res.CompletedAt,
		Data: map[string]interface{}{
			"status": res.Status,
			"score":  res.Score,
			"passed": res.Passed,
		},
	})
	return &Completion{Session: sess}, nil
}

// Review returns the graded questions of a finalized session when the
// assessment allows it.
func (s *SessionService) Review(ctx context.Context, sessionID uuid.UUID, userID string) ([]model.ReviewItem, error) {
	sess, err := s.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.IsTerminal() {
		return nil, stateError(response.ErrReviewNotAllowed)
	}
	a, err := s.assessment(ctx, sess.AssessmentID)
	if err != nil {
		return nil, err
	}
	if !a.AllowReview {
		return nil, stateError(response.ErrReviewNotAllowed)
	}

	bank, err := s.stores.Questions.ListQuestions(ctx, sess.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	answers, err := s.stores.Answers.ListBySession(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	answerMap := model.NewAnswerMap(answers)
	byID := make(map[uuid.UUID]*model.Question, len(bank))
	for i := range bank {
		byID[bank[i].ID] = &bank[i]
	}

	items := make([]model.ReviewItem, 0, len(sess.QuestionOrder))
	for _, qid := range sess.QuestionOrder {
		q, ok := byID[qid]
		if !ok {
			continue
		}
		item := model.ReviewItem{
			QuestionID:   q.ID,
			Stem:         q.Stem,
			Options:      q.Options,
			CorrectIndex: q.CorrectIndex,
		}
		if ans, ok := answerMap[qid]; ok {
			selected := ans.SelectedIndex
			item.SelectedIndex = &selected
			item.IsCorrect = selected == q.CorrectIndex
		}
		items = append(items, item)
	}
	return items, nil
}

// ListExpired exposes abandoned in-progress sessions to the sweep.
func (s *SessionService) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return s.stores.Sessions.ListExpired(ctx, cutoff, limit)
}

func publish(ctx context.Context, p Publisher, log zerolog.Logger, ev model.SessionEvent) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Str("session_id", ev.SessionID.String()).Msg("Failed to publish session event")
	}
}
