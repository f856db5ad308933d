package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type violationSink struct {
	failing  uuid.UUID
	calls    int
	appended []model.ViolationEvent
}

func (s *violationSink) AppendViolations(_ context.Context, events []model.ViolationEvent) error {
	s.calls++
	for _, ev := range events {
		if ev.SessionID == s.failing {
			return errors.New("session row locked")
		}
	}
	s.appended = append(s.appended, events...)
	return nil
}

func violationFor(sessionID uuid.UUID) model.ViolationEvent {
	return model.ViolationEvent{
		SessionID: sessionID,
		Type:      model.ViolationTabHidden,
		Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestViolationFlushRequeuesFailedEvents(t *testing.T) {
	_, rdb := newRedis(t)
	failing := uuid.New()
	sink := &violationSink{failing: failing}
	w := NewViolationWorker(sink, rdb, zerolog.Nop())
	w.backoff = 0

	ok := violationFor(uuid.New())
	w.flushSafe(context.Background(), []model.ViolationEvent{ok, violationFor(failing)})

	if len(sink.appended) != 1 || sink.appended[0].SessionID != ok.SessionID {
		t.Errorf("appended = %+v, want only the healthy session", sink.appended)
	}
	items := queued(t, rdb, config.WorkerKey.PersistViolationsQueue)
	if len(items) != 1 {
		t.Fatalf("queue length = %d, want 1", len(items))
	}
	var got model.ViolationEvent
	if err := json.Unmarshal([]byte(items[0]), &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.SessionID != failing {
		t.Errorf("requeued session = %s, want %s", got.SessionID, failing)
	}
}

func TestViolationDrainsQueueOnShutdown(t *testing.T) {
	_, rdb := newRedis(t)
	sink := &violationSink{}
	for i := 0; i < 3; i++ {
		data, _ := json.Marshal(violationFor(uuid.New()))
		rdb.RPush(context.Background(), config.WorkerKey.PersistViolationsQueue, data)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewViolationWorker(sink, rdb, zerolog.Nop()).Start(ctx)

	if len(sink.appended) != 3 {
		t.Errorf("appended = %d, want 3", len(sink.appended))
	}
	if sink.calls != 1 {
		t.Errorf("AppendViolations calls = %d, want one batch", sink.calls)
	}
	if items := queued(t, rdb, config.WorkerKey.PersistViolationsQueue); len(items) != 0 {
		t.Errorf("queue length = %d, want 0 after drain", len(items))
	}
}
