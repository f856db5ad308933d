package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
)

const answerKeyTTL = time.Hour

type answerKeySource interface {
	AnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error)
}

// AnswerKeyCache serves answer keys for scoring from Redis, loading them
// from the question bank on a miss.
type AnswerKeyCache struct {
	rdb    *redis.Client
	source answerKeySource
	log    zerolog.Logger
}

// NewAnswerKeyCache creates a new AnswerKeyCache.
func NewAnswerKeyCache(rdb *redis.Client, source answerKeySource, log zerolog.Logger) *AnswerKeyCache {
	return &AnswerKeyCache{
		rdb:    rdb,
		source: source,
		log:    log.With().Str("component", "answer_key_cache").Logger(),
	}
}

// AnswerKey returns question id → correct option index.
func (c *AnswerKeyCache) AnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error) {
	cacheKey := config.CacheKey.AssessmentAnswerKey(assessmentID.String())
	if fields, err := c.rdb.HGetAll(ctx, cacheKey).Result(); err == nil && len(fields) > 0 {
		if key, ok := decodeAnswerKey(fields); ok {
			return key, nil
		}
		c.log.Warn().Str("assessment_id", assessmentID.String()).Msg("Cached answer key is corrupt, reloading")
	} else if err != nil {
		c.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("HGetAll failed, reading from Postgres")
	}

	key, err := c.source.AnswerKey(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return key, nil
	}

	values := make(map[string]interface{}, len(key))
	for qid, idx := range key {
		values[qid.String()] = idx
	}
	pipe := c.rdb.Pipeline()
	pipe.Del(ctx, cacheKey)
	pipe.HSet(ctx, cacheKey, values)
	pipe.Expire(ctx, cacheKey, answerKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Str("assessment_id", assessmentID.String()).Msg("Failed to cache answer key")
	}
	return key, nil
}

func decodeAnswerKey(fields map[string]string) (map[uuid.UUID]int, bool) {
	key := make(map[uuid.UUID]int, len(fields))
	for k, v := range fields {
		qid, err := uuid.Parse(k)
		if err != nil {
			return nil, false
		}
		idx, err := strconv.Atoi(v)
		if err != nil {
			return nil, false
		}
		key[qid] = idx
	}
	return key, true
}
