package memstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

type topic struct {
	session bool
	id      uuid.UUID
}

// Broker is an in-process stand-in for the Redis monitor channels.
// Slow subscribers miss events rather than blocking publishers.
type Broker struct {
	mu   sync.Mutex
	subs map[topic]map[chan model.SessionEvent]struct{}
}

// NewBroker creates a Broker with no subscribers.
func NewBroker() *Broker {
	return &Broker{subs: make(map[topic]map[chan model.SessionEvent]struct{})}
}

func (b *Broker) Publish(_ context.Context, ev model.SessionEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deliverLocked(topic{id: ev.AssessmentID}, ev)
	if ev.Type == model.EventSessionFinalized {
		b.deliverLocked(topic{session: true, id: ev.SessionID}, ev)
	}
	return nil
}

func (b *Broker) deliverLocked(t topic, ev model.SessionEvent) {
	for ch := range b.subs[t] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe delivers every event of an assessment.
func (b *Broker) Subscribe(ctx context.Context, assessmentID uuid.UUID) (<-chan model.SessionEvent, func(), error) {
	return b.subscribe(ctx, topic{id: assessmentID})
}

// SubscribeSession delivers the finalization of one session.
func (b *Broker) SubscribeSession(ctx context.Context, sessionID uuid.UUID) (<-chan model.SessionEvent, func(), error) {
	return b.subscribe(ctx, topic{session: true, id: sessionID})
}

func (b *Broker) subscribe(ctx context.Context, t topic) (<-chan model.SessionEvent, func(), error) {
	ch := make(chan model.SessionEvent, 16)
	b.mu.Lock()
	if b.subs[t] == nil {
		b.subs[t] = make(map[chan model.SessionEvent]struct{})
	}
	b.subs[t][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[t], ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel, nil
}
