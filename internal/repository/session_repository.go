package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const sessionColumns = `id, assessment_id, user_id, status, question_order, time_remaining_seconds,
	tab_switch_count, tab_switch_log, started_at, completed_at, score, passed, last_snapshot_at`

// SessionRepository handles assessment session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.Session, error) {
	s := &model.Session{}
	var order, log []byte
	if err := row.Scan(&s.ID, &s.AssessmentID, &s.UserID, &s.Status, &order, &s.TimeRemainingSeconds,
		&s.TabSwitchCount, &log, &s.StartedAt, &s.CompletedAt, &s.Score, &s.Passed, &s.LastSnapshotAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(order, &s.QuestionOrder); err != nil {
		return nil, fmt.Errorf("decode question_order of session %s: %w", s.ID, err)
	}
	if len(log) > 0 {
		if err := json.Unmarshal(log, &s.TabSwitchLog); err != nil {
			return nil, fmt.Errorf("decode tab_switch_log of session %s: %w", s.ID, err)
		}
	}
	return s, nil
}

// Get retrieves a session by id.
func (r *SessionRepository) Get(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM assessment_sessions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FindActive retrieves the user's in-progress session for an assessment.
func (r *SessionRepository) FindActive(ctx context.Context, assessmentID uuid.UUID, userID string) (*model.Session, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM assessment_sessions
		 WHERE assessment_id = $1 AND user_id = $2 AND status = 'in_progress'`,
		assessmentID, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// Create inserts a new in-progress session. The partial unique index on
// (assessment_id, user_id) rejects a second active session with
// ErrActiveSessionExists.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	order, err := json.Marshal(s.QuestionOrder)
	if err != nil {
		return err
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	err = r.pool.QueryRow(ctx,
		`INSERT INTO assessment_sessions
		   (id, assessment_id, user_id, status, question_order, time_remaining_seconds)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		 RETURNING started_at, last_snapshot_at`,
		s.ID, s.AssessmentID, s.UserID, model.SessionStatusInProgress, string(order), s.TimeRemainingSeconds,
	).Scan(&s.StartedAt, &s.LastSnapshotAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return err
	}
	s.Status = model.SessionStatusInProgress
	s.TabSwitchLog = []model.ViolationEntry{}
	return nil
}

// AttemptHistory counts a user's sessions of an assessment and reports the
// latest completion time.
func (r *SessionRepository) AttemptHistory(ctx context.Context, assessmentID uuid.UUID, userID string) (*model.AttemptHistory, error) {
	h := &model.AttemptHistory{}
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*), MAX(completed_at) FROM assessment_sessions
		 WHERE assessment_id = $1 AND user_id = $2`,
		assessmentID, userID,
	).Scan(&h.Attempts, &h.LastCompletedAt)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// UpdateTimeRemaining persists a countdown snapshot. The stored value never
// increases and terminal sessions are left untouched.
func (r *SessionRepository) UpdateTimeRemaining(ctx context.Context, id uuid.UUID, seconds int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET time_remaining_seconds = LEAST(time_remaining_seconds, $2),
		     last_snapshot_at = NOW()
		 WHERE id = $1 AND status = 'in_progress'`,
		id, seconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

// Finalize writes the final result if the session is still in progress.
// applied is false when another finalization won the race.
func (r *SessionRepository) Finalize(ctx context.Context, id uuid.UUID, res model.FinalResult) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = $2, score = $3, passed = $4, completed_at = $5
		 WHERE id = $1 AND status = 'in_progress'`,
		id, res.Status, res.Score, res.Passed, res.CompletedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, r.exists(ctx, id)
	}
	return true, nil
}

// ListExpired returns in-progress sessions whose persisted countdown ran out
// before cutoff.
func (r *SessionRepository) ListExpired(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM assessment_sessions
		 WHERE status = 'in_progress'
		   AND last_snapshot_at + make_interval(secs => time_remaining_seconds) < $1
		 ORDER BY last_snapshot_at
		 LIMIT NULLIF($2::int, 0)`,
		cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByAssessment retrieves every session of an assessment.
func (r *SessionRepository) ListByAssessment(ctx context.Context, assessmentID uuid.UUID) ([]model.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM assessment_sessions
		 WHERE assessment_id = $1
		 ORDER BY started_at`, assessmentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// AppendViolations appends queued violation events to their sessions' logs
// and bumps tab_switch_count, one statement per session in a single batch.
func (r *SessionRepository) AppendViolations(ctx context.Context, events []model.ViolationEvent) error {
	bySession := make(map[uuid.UUID][]model.ViolationEntry)
	var order []uuid.UUID
	for _, ev := range events {
		if _, ok := bySession[ev.SessionID]; !ok {
			order = append(order, ev.SessionID)
		}
		bySession[ev.SessionID] = append(bySession[ev.SessionID], ev.Entry())
	}

	batch := &pgx.Batch{}
	for _, id := range order {
		entries := bySession[id]
		sort.SliceStable(entries, func(i, j int) bool {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		})
		payload, err := json.Marshal(entries)
		if err != nil {
			return err
		}
		batch.Queue(
			`UPDATE assessment_sessions
			 SET tab_switch_log = tab_switch_log || $2::jsonb,
			     tab_switch_count = tab_switch_count + $3
			 WHERE id = $1`,
			id, string(payload), len(entries),
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range order {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *SessionRepository) exists(ctx context.Context, id uuid.UUID) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM assessment_sessions WHERE id = $1`, id).Scan(&one)
	return notFound(err)
}
