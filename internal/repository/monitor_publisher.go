package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorPublisher fans session events out to proctor monitors over Redis PubSub.
type MonitorPublisher struct {
	rdb *redis.Client
}

// NewMonitorPublisher creates a new MonitorPublisher.
func NewMonitorPublisher(rdb *redis.Client) *MonitorPublisher {
	return &MonitorPublisher{rdb: rdb}
}

// Publish sends ev on the assessment's monitor channel. Finalization is also
// sent on the session's own channel.
func (p *MonitorPublisher) Publish(ctx context.Context, ev model.SessionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.Type != model.EventSessionFinalized {
		return p.rdb.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID.String()), data).Err()
	}
	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, config.CacheKey.AssessmentMonitorChannel(ev.AssessmentID.String()), data)
	pipe.Publish(ctx, config.CacheKey.SessionEventsChannel(ev.SessionID.String()), data)
	_, err = pipe.Exec(ctx)
	return err
}

// Subscribe opens a subscription to an assessment's monitor channel. The
// returned channel closes when ctx is done or the cancel func is called.
func (p *MonitorPublisher) Subscribe(ctx context.Context, assessmentID uuid.UUID) (<-chan model.SessionEvent, func(), error) {
	return p.subscribe(ctx, config.CacheKey.AssessmentMonitorChannel(assessmentID.String()))
}

// SubscribeSession delivers the finalization of one session.
func (p *MonitorPublisher) SubscribeSession(ctx context.Context, sessionID uuid.UUID) (<-chan model.SessionEvent, func(), error) {
	return p.subscribe(ctx, config.CacheKey.SessionEventsChannel(sessionID.String()))
}

func (p *MonitorPublisher) subscribe(ctx context.Context, channel string) (<-chan model.SessionEvent, func(), error) {
	pubsub := p.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so no event is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan model.SessionEvent, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev model.SessionEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = pubsub.Close() }, nil
}
