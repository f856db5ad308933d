package service

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssessmentProvider reads assessment configuration.
type AssessmentProvider interface {
	GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error)
}

// QuestionProvider reads an assessment's bank ordered by position.
type QuestionProvider interface {
	ListQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error)
}

// AnswerKeySource resolves question id → correct option index.
type AnswerKeySource interface {
	AnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error)
}

// SessionStore persists sessions. Implementations return
// repository.ErrNotFound and repository.ErrActiveSessionExists.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Session, error)
	FindActive(ctx context.Context, assessmentID uuid.UUID, userID string) (*model.Session, error)
	Create(ctx context.Context, s *model.Session) error
	AttemptHistory(ctx context.Context, assessmentID uuid.UUID, userID string) (*model.AttemptHistory, error)
	UpdateTimeRemaining(ctx context.Context, id uuid.UUID, seconds int) error
	Finalize(ctx context.Context, id uuid.UUID, res model.FinalResult) (bool, error)
	ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Session, error)
}

// AnswerStore is the per-session answer ledger. After Seal, Upsert for that
// session returns repository.ErrAnswersSealed.
type AnswerStore interface {
	Upsert(ctx context.Context, a *model.Answer) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
	Seal(ctx context.Context, sessionID uuid.UUID) error
}

// AnswerHistory reads persisted answers for batch analytics.
type AnswerHistory interface {
	ListAnswersByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Answer, error)
}

// ViolationSink accepts violation events for persistence.
type ViolationSink interface {
	Enqueue(ctx context.Context, ev model.ViolationEvent) error
}

// Publisher fans session events out to live monitors.
type Publisher interface {
	Publish(ctx context.Context, ev model.SessionEvent) error
}

// Cache stores computed analytics.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, v interface{}) error
}

// answerRetirer is implemented by answer stores that keep per-session state
// worth expiring once a session is finalized.
type answerRetirer interface {
	Retire(ctx context.Context, sessionID uuid.UUID) error
}

// Stores bundles every dependency of the services. Publisher and Cache may
// be nil.
type Stores struct {
	Sessions      SessionStore
	Answers       AnswerStore
	AnswerHistory AnswerHistory
	Assessments   AssessmentProvider
	Questions     QuestionProvider
	AnswerKeys    AnswerKeySource
	Violations    ViolationSink
	Publisher     Publisher
	Cache         Cache
}

// ─── Options ────────────────────────────────────────────────────────

type settings struct {
	now               func() time.Time
	shuffle           func(n int, swap func(i, j int))
	violationDebounce time.Duration
	analyticsLocation *time.Location
}

func defaultSettings() settings {
	return settings{
		now:               time.Now,
		shuffle:           rand.Shuffle,
		violationDebounce: 2 * time.Second,
		analyticsLocation: time.Local,
	}
}

// Option tunes service behaviour.
type Option func(*settings)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithShuffle overrides the permutation source used for shuffled orders.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *settings) { s.shuffle = shuffle }
}

// WithViolationDebounce sets the per (session, type) debounce window.
// Zero disables it.
func WithViolationDebounce(d time.Duration) Option {
	return func(s *settings) { s.violationDebounce = d }
}

// WithAnalyticsLocation sets the zone used for attemptsByHour.
func WithAnalyticsLocation(loc *time.Location) Option {
	return func(s *settings) {
		if loc != nil {
			s.analyticsLocation = loc
		}
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, o := range opts {
		o(&s)
	}
	return s
}
