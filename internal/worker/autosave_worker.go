package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
	// RequeueBackoff is the pause after requeueing failed items.
	RequeueBackoff = 2 * time.Second
)

// AnswerWriter is the durable side of the answer fast lane.
type AnswerWriter interface {
	Upsert(ctx context.Context, a *model.Answer) error
	UpsertBatch(ctx context.Context, answers []model.Answer) error
}

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
// Replays are safe: the store ignores an answer older than the one it holds.
type AutosaveWorker struct {
	store   AnswerWriter
	rdb     *redis.Client
	log     zerolog.Logger
	backoff time.Duration
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerWriter, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "autosave_worker").Logger(),
		backoff: RequeueBackoff,
	}
}

// Start begins the worker loop and returns once ctx is done and the
// buffer has been flushed. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	buffer := make([]model.Answer, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var a model.Answer
		if err := json.Unmarshal([]byte(result[1]), &a); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, a)
	}
}

// flushSafe attempts the batch upsert, then row-by-row, then requeues.
func (w *AutosaveWorker) flushSafe(ctx context.Context, batch []model.Answer) {
	if len(batch) == 0 {
		return
	}
	err := w.store.UpsertBatch(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch upsert failed, attempting row-by-row recovery")

	requeue := make([]model.Answer, 0)
	for i := range batch {
		if err := w.store.Upsert(ctx, &batch[i]); err != nil {
			w.log.Error().Err(err).
				Str("session_id", batch[i].SessionID.String()).
				Str("question_id", batch[i].QuestionID.String()).
				Msg("Upsert failed, requeueing")
			requeue = append(requeue, batch[i])
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *AutosaveWorker) requeue(ctx context.Context, items []model.Answer) {
	// Requeue must survive a cancelled worker context.
	ctx = context.WithoutCancel(ctx)
	pipe := w.rdb.Pipeline()
	for _, a := range items {
		data, _ := json.Marshal(a)
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: failed to requeue answers, data loss occurred")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed answers")
	time.Sleep(w.backoff)
}

// shutdown flushes the buffer and drains what is still queued.
func (w *AutosaveWorker) shutdown(buffer []model.Answer) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.flushSafe(ctx, buffer)
	w.drain(ctx)
	w.log.Info().Msg("Worker stopped")
}

// drain processes the remaining queue items one by one before exit.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for ctx.Err() == nil {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var a model.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		if err := w.store.Upsert(ctx, &a); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(context.WithoutCancel(ctx), config.WorkerKey.PersistAnswersQueue, raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
