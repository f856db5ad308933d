package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/response"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	t          *testing.T
	ctx        context.Context
	clock      *fakeClock
	store      *memstore.Store
	stores     Stores
	orch       *Orchestrator
	assessment *model.Assessment
	questions  []model.Question
}

// newFixture builds an orchestrator over a memstore holding one published
// assessment: 3 questions, pass_score 70, 10 minutes, correct answers 0, 1, 2.
func newFixture(t *testing.T, mutate func(a *model.Assessment), opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := memstore.New(memstore.WithClock(clock.Now))

	a := &model.Assessment{
		ID:               uuid.New(),
		Title:            "Kinematics quiz",
		Status:           model.AssessmentStatusPublished,
		TimeLimitMinutes: 10,
		PassScore:        70,
		QuestionCount:    3,
	}
	if mutate != nil {
		mutate(a)
	}
	store.PutAssessment(a)

	bankSize := a.QuestionCount
	if bankSize < 3 {
		bankSize = 3
	}
	questions := make([]model.Question, bankSize)
	for i := range questions {
		questions[i] = model.Question{
			ID:           uuid.New(),
			AssessmentID: a.ID,
			Position:     i + 1,
			Stem:         fmt.Sprintf("Question %d", i+1),
			Options:      []string{"a", "b", "c", "d"},
			CorrectIndex: i % 4,
		}
	}
	store.PutQuestions(a.ID, questions)

	stores := Stores{
		Sessions:      store,
		Answers:       store,
		AnswerHistory: store,
		Assessments:   store,
		Questions:     store,
		AnswerKeys:    store,
		Violations:    store,
		Publisher:     memstore.NewBroker(),
	}
	allOpts := append([]Option{WithClock(clock.Now)}, opts...)
	return &fixture{
		t:          t,
		ctx:        context.Background(),
		clock:      clock,
		store:      store,
		stores:     stores,
		orch:       NewOrchestrator(stores, zerolog.Nop(), allOpts...),
		assessment: a,
		questions:  questions,
	}
}

func (f *fixture) start(userID string) *model.Session {
	f.t.Helper()
	sess, _, err := f.orch.StartSession(f.ctx, f.assessment.ID, userID, "")
	if err != nil {
		f.t.Fatalf("StartSession() error = %v", err)
	}
	return sess
}

func (f *fixture) answer(sess *model.Session, qid uuid.UUID, selected, spent int) {
	f.t.Helper()
	if _, err := f.orch.RecordAnswer(f.ctx, sess.ID, sess.UserID, AnswerInput{
		QuestionID: qid, SelectedIndex: selected, TimeSpentSeconds: spent,
	}); err != nil {
		f.t.Fatalf("RecordAnswer() error = %v", err)
	}
}

func (f *fixture) reload(id uuid.UUID) *model.Session {
	f.t.Helper()
	sess, err := f.store.Get(f.ctx, id)
	if err != nil {
		f.t.Fatalf("Get(%s) error = %v", id, err)
	}
	return sess
}

// correctFor returns the correct option of a question in the bank.
func (f *fixture) correctFor(qid uuid.UUID) int {
	for _, q := range f.questions {
		if q.ID == qid {
			return q.CorrectIndex
		}
	}
	f.t.Fatalf("question %s not in bank", qid)
	return -1
}

func errCode(t *testing.T, err error) response.ErrCode {
	t.Helper()
	var se *Error
	if !errors.As(err, &se) {
		t.Fatalf("error %v is not a *service.Error", err)
	}
	return se.Code
}
