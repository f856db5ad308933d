package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

// answerSink records upserts and fails the ones it is told to.
type answerSink struct {
	mu        sync.Mutex
	failBatch bool
	failRow   map[uuid.UUID]bool
	rows      map[uuid.UUID]model.Answer
}

func newAnswerSink() *answerSink {
	return &answerSink{failRow: map[uuid.UUID]bool{}, rows: map[uuid.UUID]model.Answer{}}
}

func (s *answerSink) Upsert(_ context.Context, a *model.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRow[a.QuestionID] {
		return errors.New("constraint violation")
	}
	s.rows[a.QuestionID] = *a
	return nil
}

func (s *answerSink) UpsertBatch(ctx context.Context, answers []model.Answer) error {
	if s.failBatch {
		return errors.New("batch rejected")
	}
	for i := range answers {
		if err := s.Upsert(ctx, &answers[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *answerSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func queued(t *testing.T, rdb *redis.Client, key string) []string {
	t.Helper()
	items, err := rdb.LRange(context.Background(), key, 0, -1).Result()
	if err != nil {
		t.Fatalf("LRange(%s) error = %v", key, err)
	}
	return items
}

func answerFor(sessionID uuid.UUID) model.Answer {
	return model.Answer{
		SessionID:     sessionID,
		QuestionID:    uuid.New(),
		SelectedIndex: 1,
		AnsweredAt:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestAutosaveFlushRequeuesFailedRows(t *testing.T) {
	_, rdb := newRedis(t)
	sink := newAnswerSink()
	sink.failBatch = true
	sid := uuid.New()
	good, bad := answerFor(sid), answerFor(sid)
	sink.failRow[bad.QuestionID] = true

	w := NewAutosaveWorker(sink, rdb, zerolog.Nop())
	w.backoff = 0
	w.flushSafe(context.Background(), []model.Answer{good, bad})

	if _, ok := sink.rows[good.QuestionID]; !ok {
		t.Error("good answer not persisted by row-by-row recovery")
	}
	items := queued(t, rdb, config.WorkerKey.PersistAnswersQueue)
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}
	var got model.Answer
	if err := json.Unmarshal([]byte(items[0]), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.QuestionID != bad.QuestionID {
		t.Errorf("requeued question = %s, want %s", got.QuestionID, bad.QuestionID)
	}
}

func TestAutosaveFlushBatchSuccessQueuesNothing(t *testing.T) {
	_, rdb := newRedis(t)
	sink := newAnswerSink()
	w := NewAutosaveWorker(sink, rdb, zerolog.Nop())

	sid := uuid.New()
	w.flushSafe(context.Background(), []model.Answer{answerFor(sid), answerFor(sid)})

	if sink.count() != 2 {
		t.Errorf("persisted = %d, want 2", sink.count())
	}
	if items := queued(t, rdb, config.WorkerKey.PersistAnswersQueue); len(items) != 0 {
		t.Errorf("queue length = %d, want 0", len(items))
	}
}

func TestAutosaveDrainsQueueOnShutdown(t *testing.T) {
	_, rdb := newRedis(t)
	sink := newAnswerSink()
	sid := uuid.New()
	for i := 0; i < 3; i++ {
		data, _ := json.Marshal(answerFor(sid))
		rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, data)
	}
	rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, "{not json")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewAutosaveWorker(sink, rdb, zerolog.Nop())
	w.Start(ctx)

	if sink.count() != 3 {
		t.Errorf("persisted = %d, want 3", sink.count())
	}
	if items := queued(t, rdb, config.WorkerKey.PersistAnswersQueue); len(items) != 0 {
		t.Errorf("queue length = %d, want 0 after drain", len(items))
	}
}

func TestAutosaveDrainStopsAndRequeuesOnFailure(t *testing.T) {
	_, rdb := newRedis(t)
	sink := newAnswerSink()
	sid := uuid.New()
	bad := answerFor(sid)
	sink.failRow[bad.QuestionID] = true
	for _, a := range []model.Answer{bad, answerFor(sid)} {
		data, _ := json.Marshal(a)
		rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewAutosaveWorker(sink, rdb, zerolog.Nop()).Start(ctx)

	// The failed item goes back behind the untouched one.
	if items := queued(t, rdb, config.WorkerKey.PersistAnswersQueue); len(items) != 2 {
		t.Errorf("queue length = %d, want 2", len(items))
	}
	if sink.count() != 0 {
		t.Errorf("persisted = %d, want 0", sink.count())
	}
}

func TestAutosaveStartPersistsQueuedAnswers(t *testing.T) {
	_, rdb := newRedis(t)
	sink := newAnswerSink()
	sid := uuid.New()
	for i := 0; i < 2; i++ {
		data, _ := json.Marshal(answerFor(sid))
		rdb.RPush(context.Background(), config.WorkerKey.PersistAnswersQueue, data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewAutosaveWorker(sink, rdb, zerolog.Nop()).Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for rdb.LLen(context.Background(), config.WorkerKey.PersistAnswersQueue).Val() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never consumed the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
	if sink.count() != 2 {
		t.Errorf("persisted = %d, want 2", sink.count())
	}
}
