package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// QuestionRepository reads question banks owned by the content collaborator.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListQuestions retrieves an assessment's question bank ordered by position.
func (r *QuestionRepository) ListQuestions(ctx context.Context, assessmentID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, assessment_id, position, stem, options, correct_index
		 FROM questions WHERE assessment_id = $1
		 ORDER BY position, id`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var options []byte
		if err := rows.Scan(&q.ID, &q.AssessmentID, &q.Position, &q.Stem, &options, &q.CorrectIndex); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("decode options of question %s: %w", q.ID, err)
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// AnswerKey returns question id → correct option index for an assessment.
func (r *QuestionRepository) AnswerKey(ctx context.Context, assessmentID uuid.UUID) (map[uuid.UUID]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, correct_index FROM questions WHERE assessment_id = $1`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := make(map[uuid.UUID]int)
	for rows.Next() {
		var id uuid.UUID
		var idx int
		if err := rows.Scan(&id, &idx); err != nil {
			return nil, err
		}
		key[id] = idx
	}
	return key, rows.Err()
}
