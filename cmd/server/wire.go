package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/demo"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/repository/memstore"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/worker"
)

// dependencies is everything main needs from a store driver.
type dependencies struct {
	stores     service.Stores
	subscriber handler.Subscriber
	checks     map[string]handler.Pinger
	workers    []func(ctx context.Context)
	closers    []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// wirePostgres uses PostgreSQL as the durable store and Redis for the answer
// fast lane, persistence queues, caches and the monitor channel.
func wirePostgres(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*dependencies, error) {
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	sessionRepo := repository.NewSessionRepository(pool)
	answerRepo := repository.NewAnswerRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	publisher := repository.NewMonitorPublisher(rdb)

	stores := service.Stores{
		Sessions:      sessionRepo,
		Answers:       repository.NewAnswerCache(rdb, answerRepo, log),
		AnswerHistory: answerRepo,
		Assessments:   repository.NewAssessmentRepository(pool),
		Questions:     questionRepo,
		AnswerKeys:    repository.NewAnswerKeyCache(rdb, questionRepo, log),
		Violations:    repository.NewViolationQueue(rdb),
		Publisher:     publisher,
		Cache:         repository.NewJSONCache(rdb, cfg.AnalyticsCacheTTL),
	}

	return &dependencies{
		stores:     stores,
		subscriber: publisher,
		checks: map[string]handler.Pinger{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
		workers: []func(ctx context.Context){
			worker.NewAutosaveWorker(answerRepo, rdb, log).Start,
			worker.NewViolationWorker(sessionRepo, rdb, log).Start,
		},
		closers: []func(){
			pool.Close,
			func() { _ = rdb.Close() },
		},
	}, nil
}

// wireMemory keeps everything in process, preloaded with the demo
// assessment. It suits local development, not multi-instance deployments.
func wireMemory(log zerolog.Logger) *dependencies {
	store := memstore.New()
	broker := memstore.NewBroker()

	a, questions := demo.Assessment()
	store.PutAssessment(a)
	store.PutQuestions(a.ID, questions)
	log.Warn().Str("assessment_id", a.ID.String()).Msg("Using in-memory store with demo content; data is lost on restart")

	return &dependencies{
		stores: service.Stores{
			Sessions:      store,
			Answers:       store,
			AnswerHistory: store,
			Assessments:   store,
			Questions:     store,
			AnswerKeys:    store,
			Violations:    store,
			Publisher:     broker,
		},
		subscriber: broker,
	}
}
