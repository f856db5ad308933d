// Command seed loads the demo assessment into PostgreSQL and prints tokens
// for trying the API locally.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/demo"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func main() {
	candidate := flag.String("candidate", "demo-candidate", "User ID for the candidate token")
	proctor := flag.String("proctor", "demo-proctor", "User ID for the proctor token")
	ttl := flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	a, questions := demo.Assessment()
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		return upsertAssessment(ctx, tx, a, questions)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to seed demo assessment")
	}
	log.Info().Str("assessment_id", a.ID.String()).Int("questions", len(questions)).Msg("Seeded demo assessment")

	verifier := service.NewTokenVerifier(cfg.JWTSecret)
	for _, u := range []struct{ id, role string }{
		{*candidate, service.RoleCandidate},
		{*proctor, service.RoleProctor},
	} {
		token, err := verifier.Sign(u.id, u.role, *ttl)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Printf("%s (%s): %s\n", u.role, u.id, token)
	}
}

func upsertAssessment(ctx context.Context, tx pgx.Tx, a *model.Assessment, questions []model.Question) error {
	var accessCode *string
	if a.AccessCode != "" {
		accessCode = &a.AccessCode
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO assessments (id, title, status, time_limit_minutes, pass_score, question_count,
			shuffle_questions, max_attempts, cooldown_minutes, allow_review, access_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			time_limit_minutes = EXCLUDED.time_limit_minutes,
			pass_score = EXCLUDED.pass_score,
			question_count = EXCLUDED.question_count,
			shuffle_questions = EXCLUDED.shuffle_questions,
			max_attempts = EXCLUDED.max_attempts,
			cooldown_minutes = EXCLUDED.cooldown_minutes,
			allow_review = EXCLUDED.allow_review,
			access_code = EXCLUDED.access_code`,
		a.ID, a.Title, a.Status, a.TimeLimitMinutes, a.PassScore, a.QuestionCount,
		a.ShuffleQuestions, a.MaxAttempts, a.CooldownMinutes, a.AllowReview, accessCode,
	)
	if err != nil {
		return fmt.Errorf("upsert assessment: %w", err)
	}

	batch := &pgx.Batch{}
	for _, q := range questions {
		batch.Queue(`
			INSERT INTO questions (id, assessment_id, position, stem, options, correct_index)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				position = EXCLUDED.position,
				stem = EXCLUDED.stem,
				options = EXCLUDED.options,
				correct_index = EXCLUDED.correct_index`,
			q.ID, q.AssessmentID, q.Position, q.Stem, q.Options, q.CorrectIndex,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert questions: %w", err)
	}
	return nil
}
