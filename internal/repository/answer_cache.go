package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerRetention is how long a finalized or rehydrated session's answer hash
// stays in Redis.
const AnswerRetention = 24 * time.Hour

// upsertAnswerScript writes the hash field and queues the answer unless the
// session is sealed. KEYS: sealed flag, answer hash, persist queue.
var upsertAnswerScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[2], ARGV[1], ARGV[2])
redis.call("RPUSH", KEYS[3], ARGV[2])
return 1
`)

type answerReader interface {
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
}

// AnswerCache is the fast-lane answer ledger. Writes land in a per-session
// Redis hash and on persist_answers_queue in one script; the
// AutosaveWorker drains the queue into Postgres.
type AnswerCache struct {
	rdb     *redis.Client
	durable answerReader
	log     zerolog.Logger
}

// NewAnswerCache creates a new AnswerCache backed by durable for cache misses.
func NewAnswerCache(rdb *redis.Client, durable answerReader, log zerolog.Logger) *AnswerCache {
	return &AnswerCache{
		rdb:     rdb,
		durable: durable,
		log:     log.With().Str("component", "answer_cache").Logger(),
	}
}

// Upsert records the answer in the hash and queues it for persistence in
// one script, so a sealed session never gains an answer.
func (c *AnswerCache) Upsert(ctx context.Context, a *model.Answer) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	sid := a.SessionID.String()
	keys := []string{
		config.CacheKey.SessionSealedKey(sid),
		config.CacheKey.SessionAnswersKey(sid),
		config.WorkerKey.PersistAnswersQueue,
	}
	written, err := upsertAnswerScript.Run(ctx, c.rdb, keys, a.QuestionID.String(), data).Int()
	if err != nil {
		return fmt.Errorf("cache answer: %w", err)
	}
	if written == 0 {
		return ErrAnswersSealed
	}
	return nil
}

// Seal closes the session's hash to further writes. Answers accepted
// before Seal returns are visible to the next ListBySession.
func (c *AnswerCache) Seal(ctx context.Context, sessionID uuid.UUID) error {
	if err := c.rdb.Set(ctx, config.CacheKey.SessionSealedKey(sessionID.String()), 1, AnswerRetention).Err(); err != nil {
		return fmt.Errorf("seal answers: %w", err)
	}
	return nil
}

// ListBySession reads the hash, falling back to Postgres on a miss and
// rehydrating the hash from what Postgres returns.
func (c *AnswerCache) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	key := config.CacheKey.SessionAnswersKey(sessionID.String())
	fields, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("HGetAll failed, reading from Postgres")
	}
	if err == nil && len(fields) > 0 {
		answers := make([]model.Answer, 0, len(fields))
		for qid, raw := range fields {
			var a model.Answer
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				c.log.Error().Err(err).Str("session_id", sessionID.String()).Str("question_id", qid).Msg("Discarding malformed cached answer")
				continue
			}
			answers = append(answers, a)
		}
		return answers, nil
	}

	answers, err := c.durable.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(answers) > 0 {
		c.heal(ctx, key, answers)
	}
	return answers, nil
}

func (c *AnswerCache) heal(ctx context.Context, key string, answers []model.Answer) {
	values := make(map[string]interface{}, len(answers))
	for i := range answers {
		data, err := json.Marshal(&answers[i])
		if err != nil {
			return
		}
		values[answers[i].QuestionID.String()] = data
	}
	pipe := c.rdb.Pipeline()
	pipe.HSet(ctx, key, values)
	pipe.Expire(ctx, key, AnswerRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Failed to rehydrate answer cache")
	}
}

// Retire bounds the lifetime of a finalized session's hash.
func (c *AnswerCache) Retire(ctx context.Context, sessionID uuid.UUID) error {
	return c.rdb.Expire(ctx, config.CacheKey.SessionAnswersKey(sessionID.String()), AnswerRetention).Err()
}
