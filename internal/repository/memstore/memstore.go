// Package memstore is an in-process implementation of every store the
// services depend on. It backs STORE_DRIVER=memory and the test suites.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

type answerKey struct {
	session  uuid.UUID
	question uuid.UUID
}

// Store holds assessments, question banks, sessions and answers in memory.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	assessments map[uuid.UUID]*model.Assessment
	questions   map[uuid.UUID][]model.Question
	sessions    map[uuid.UUID]*model.Session
	answers     map[answerKey]model.Answer
	sealed      map[uuid.UUID]bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		now:         time.Now,
		assessments: make(map[uuid.UUID]*model.Assessment),
		questions:   make(map[uuid.UUID][]model.Question),
		sessions:    make(map[uuid.UUID]*model.Session),
		answers:     make(map[answerKey]model.Answer),
		sealed:      make(map[uuid.UUID]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ─── Content ────────────────────────────────────────────────────────

// PutAssessment inserts or replaces an assessment.
func (s *Store) PutAssessment(a *model.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *a
	s.assessments[a.ID] = &c
}

// PutQuestions replaces an assessment's question bank.
func (s *Store) PutQuestions(assessmentID uuid.UUID, qs []model.Question) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bank := make([]model.Question, len(qs))
	copy(bank, qs)
	for i := range bank {
		bank[i].AssessmentID = assessmentID
	}
	sort.SliceStable(bank, func(i, j int) bool { return bank[i].Position < bank[j].Position })
	s.questions[assessmentID] = bank
}

func (s *Store) GetAssessment(_ context.Context, id uuid.UUID) (*model.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (s *Store) ListQuestions(_ context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bank := s.questions[assessmentID]
	out := make([]model.Question, len(bank))
	copy(out, bank)
	return out, nil
}

func (s *Store) AnswerKey(_ context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := make(map[uuid.UUID]int, len(s.questions[assessmentID]))
	for _, q := range s.questions[assessmentID] {
		key[q.ID] = q.CorrectIndex
	}
	return key, nil
}

// ─── Sessions ───────────────────────────────────────────────────────

func (s *Store) Get(_ context.Context, id uuid.UUID) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *Store) FindActive(_ context.Context, assessmentID uuid.UUID, userID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.activeLocked(assessmentID, userID); sess != nil {
		return sess.Clone(), nil
	}
	return nil, repository.ErrNotFound
}

func (s *Store) activeLocked(assessmentID uuid.UUID, userID string) *model.Session {
	for _, sess := range s.sessions {
		if sess.AssessmentID == assessmentID && sess.UserID == userID && sess.IsActive() {
			return sess
		}
	}
	return nil
}

func (s *Store) Create(_ context.Context, sess *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeLocked(sess.AssessmentID, sess.UserID) != nil {
		return repository.ErrActiveSessionExists
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	now := s.now()
	sess.Status = model.SessionStatusInProgress
	sess.StartedAt = now
	sess.LastSnapshotAt = now
	if sess.TabSwitchLog == nil {
		sess.TabSwitchLog = []model.ViolationEntry{}
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *Store) AttemptHistory(_ context.Context, assessmentID uuid.UUID, userID string) (*model.AttemptHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := &model.AttemptHistory{}
	for _, sess := range s.sessions {
		if sess.AssessmentID != assessmentID || sess.UserID != userID {
			continue
		}
		h.Attempts++
		if sess.CompletedAt != nil && (h.LastCompletedAt == nil || sess.CompletedAt.After(*h.LastCompletedAt)) {
			t := *sess.CompletedAt
			h.LastCompletedAt = &t
		}
	}
	return h, nil
}

func (s *Store) UpdateTimeRemaining(_ context.Context, id uuid.UUID, seconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return repository.ErrNotFound
	}
	if !sess.IsActive() {
		return nil
	}
	if seconds < sess.TimeRemainingSeconds {
		sess.TimeRemainingSeconds = seconds
	}
	sess.LastSnapshotAt = s.now()
	return nil
}

func (s *Store) Finalize(_ context.Context, id uuid.UUID, res model.FinalResult) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if !sess.IsActive() {
		return false, nil
	}
	score, passed, at := res.Score, res.Passed, res.CompletedAt
	s.sealed[id] = true
	sess.Status = res.Status
	sess.Score = &score
	sess.Passed = &passed
	sess.CompletedAt = &at
	return true, nil
}

func (s *Store) ListExpired(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []*model.Session
	for _, sess := range s.sessions {
		deadline := sess.LastSnapshotAt.Add(time.Duration(sess.TimeRemainingSeconds) * time.Second)
		if sess.IsActive() && deadline.Before(cutoff) {
			expired = append(expired, sess)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].LastSnapshotAt.Before(expired[j].LastSnapshotAt) })
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	ids := make([]uuid.UUID, len(expired))
	for i, sess := range expired {
		ids[i] = sess.ID
	}
	return ids, nil
}

func (s *Store) ListByAssessment(_ context.Context, assessmentID uuid.UUID) ([]model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Session
	for _, sess := range s.sessions {
		if sess.AssessmentID == assessmentID {
			out = append(out, *sess.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// AppendViolations appends events to their sessions' logs. Events for
// unknown sessions are skipped.
func (s *Store) AppendViolations(_ context.Context, events []model.ViolationEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		sess, ok := s.sessions[ev.SessionID]
		if !ok {
			continue
		}
		sess.TabSwitchLog = append(sess.TabSwitchLog, ev.Entry())
		sess.TabSwitchCount++
	}
	return nil
}

// Enqueue applies a violation immediately; there is no queue in memory.
func (s *Store) Enqueue(ctx context.Context, ev model.ViolationEvent) error {
	return s.AppendViolations(ctx, []model.ViolationEvent{ev})
}

// ─── Answers ────────────────────────────────────────────────────────

// Upsert keeps the newest answer per (session, question). It refuses
// answers for sealed or finalized sessions.
func (s *Store) Upsert(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sealed[a.SessionID] {
		return repository.ErrAnswersSealed
	}
	if sess, ok := s.sessions[a.SessionID]; ok && !sess.IsActive() {
		return repository.ErrAnswersSealed
	}
	k := answerKey{session: a.SessionID, question: a.QuestionID}
	if prev, ok := s.answers[k]; ok && prev.AnsweredAt.After(a.AnsweredAt) {
		return nil
	}
	s.answers[k] = *a
	return nil
}

// Seal stops Upsert from accepting answers for the session.
func (s *Store) Seal(_ context.Context, sessionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealed[sessionID] = true
	return nil
}

func (s *Store) ListBySession(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Answer
	for k, a := range s.answers {
		if k.session == sessionID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out, nil
}

func (s *Store) ListAnswersByAssessment(_ context.Context, assessmentID uuid.UUID) ([]model.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Answer
	for k, a := range s.answers {
		if sess, ok := s.sessions[k.session]; ok && sess.AssessmentID == assessmentID {
			out = append(out, a)
		}
	}
	sortAnswers(out)
	return out, nil
}

func sortAnswers(answers []model.Answer) {
	sort.Slice(answers, func(i, j int) bool {
		if answers[i].SessionID != answers[j].SessionID {
			return answers[i].SessionID.String() < answers[j].SessionID.String()
		}
		return answers[i].AnsweredAt.Before(answers[j].AnsweredAt)
	})
}
