package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AssessmentRepository reads assessment configuration owned by the content
// collaborator.
type AssessmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(pool *pgxpool.Pool) *AssessmentRepository {
	return &AssessmentRepository{pool: pool}
}

// GetAssessment retrieves an assessment's configuration by id.
func (r *AssessmentRepository) GetAssessment(ctx context.Context, id uuid.UUID) (*model.Assessment, error) {
	a := &model.Assessment{}
	var accessCode *string
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, status, time_limit_minutes, pass_score, question_count,
		        shuffle_questions, max_attempts, cooldown_minutes, allow_review,
		        access_code, created_at
		 FROM assessments WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.Status, &a.TimeLimitMinutes, &a.PassScore, &a.QuestionCount,
		&a.ShuffleQuestions, &a.MaxAttempts, &a.CooldownMinutes, &a.AllowReview,
		&accessCode, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if accessCode != nil {
		a.AccessCode = *accessCode
	}
	return a, nil
}
