// Package database opens the PostgreSQL pool and the Redis client.
package database

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// connectAttempts bounds the startup wait for a dependency that is still booting.
const connectAttempts = 5

var retryDelay = time.Second

// waitReady pings until it succeeds, backing off linearly between attempts.
func waitReady(ctx context.Context, target string, log zerolog.Logger, ping func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = ping(ctx); err == nil {
			return nil
		}
		if attempt == connectAttempts {
			break
		}
		log.Warn().Err(err).Str("target", target).Int("attempt", attempt).Msg("Not ready, retrying")
		t := time.NewTimer(retryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}
