package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// upsertAnswerSQL keeps the newest selection per (session, question). A
// requeued older write never overwrites a newer one.
const upsertAnswerSQL = `INSERT INTO session_answers
	  (session_id, question_id, selected_index, answered_at, time_spent_seconds)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (session_id, question_id) DO UPDATE
	SET selected_index = EXCLUDED.selected_index,
	    answered_at = EXCLUDED.answered_at,
	    time_spent_seconds = EXCLUDED.time_spent_seconds
	WHERE session_answers.answered_at <= EXCLUDED.answered_at`

// AnswerRepository is the durable answer ledger.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// Upsert stores a single answer.
func (r *AnswerRepository) Upsert(ctx context.Context, a *model.Answer) error {
	_, err := r.pool.Exec(ctx, upsertAnswerSQL,
		a.SessionID, a.QuestionID, a.SelectedIndex, a.AnsweredAt, a.TimeSpentSeconds)
	return err
}

// UpsertBatch stores many answers in one round trip.
func (r *AnswerRepository) UpsertBatch(ctx context.Context, answers []model.Answer) error {
	batch := &pgx.Batch{}
	for _, a := range answers {
		batch.Queue(upsertAnswerSQL,
			a.SessionID, a.QuestionID, a.SelectedIndex, a.AnsweredAt, a.TimeSpentSeconds)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range answers {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ListBySession retrieves the current answers of one session.
func (r *AnswerRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	return r.list(ctx,
		`SELECT session_id, question_id, selected_index, answered_at, time_spent_seconds
		 FROM session_answers WHERE session_id = $1
		 ORDER BY answered_at`, sessionID)
}

// ListAnswersByAssessment retrieves the answers of every session of an assessment.
func (r *AnswerRepository) ListAnswersByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Answer, error) {
	return r.list(ctx,
		`SELECT a.session_id, a.question_id, a.selected_index, a.answered_at, a.time_spent_seconds
		 FROM session_answers a
		 JOIN assessment_sessions s ON s.id = a.session_id
		 WHERE s.assessment_id = $1
		 ORDER BY a.session_id, a.answered_at`, assessmentID)
}

func (r *AnswerRepository) list(ctx context.Context, query string, arg uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.SelectedIndex, &a.AnsweredAt, &a.TimeSpentSeconds); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
