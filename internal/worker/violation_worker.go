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

// ViolationWriter appends queued violations to their sessions' logs.
type ViolationWriter interface {
	AppendViolations(ctx context.Context, events []model.ViolationEvent) error
}

// ViolationWorker consumes persist_violations_queue in batches.
type ViolationWorker struct {
	store   ViolationWriter
	rdb     *redis.Client
	log     zerolog.Logger
	backoff time.Duration
}

func NewViolationWorker(store ViolationWriter, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		store:   store,
		rdb:     rdb,
		log:     log.With().Str("component", "violation_worker").Logger(),
		backoff: RequeueBackoff,
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")

	buffer := make([]model.ViolationEvent, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistViolationsQueue).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var ev model.ViolationEvent
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, ev)
	}
}

// flushSafe attempts the batch append, then event-by-event, then requeues.
func (w *ViolationWorker) flushSafe(ctx context.Context, batch []model.ViolationEvent) {
	if len(batch) == 0 {
		return
	}
	err := w.store.AppendViolations(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Batch append failed, attempting one-by-one recovery")

	requeueList := make([]model.ViolationEvent, 0)
	for _, ev := range batch {
		if err := w.store.AppendViolations(ctx, []model.ViolationEvent{ev}); err != nil {
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Append failed, requeueing")
			requeueList = append(requeueList, ev)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *ViolationWorker) requeue(ctx context.Context, items []model.ViolationEvent) {
	ctx = context.WithoutCancel(ctx)
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue violations to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violations back to Redis")
	time.Sleep(w.backoff)
}

func (w *ViolationWorker) shutdown(buffer []model.ViolationEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.flushSafe(shutdownCtx, buffer)
	w.drain(shutdownCtx)
	w.log.Info().Msg("Worker stopped")
}

// drain appends what is still queued in one batch before exit.
func (w *ViolationWorker) drain(ctx context.Context) {
	raw, err := w.rdb.LPopCount(ctx, config.WorkerKey.PersistViolationsQueue, BatchSize).Result()
	if err != nil || len(raw) == 0 {
		return
	}
	events := make([]model.ViolationEvent, 0, len(raw))
	for _, item := range raw {
		var ev model.ViolationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}
		events = append(events, ev)
	}
	w.flushSafe(ctx, events)
	w.log.Info().Int("count", len(events)).Msg("Drained remaining items")
}
