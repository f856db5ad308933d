package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Store-agnostic errors. Every store (Postgres, Redis, memstore) maps its
// native not-found / conflict conditions onto these.
var (
	ErrNotFound            = errors.New("not found")
	ErrActiveSessionExists = errors.New("an in-progress session already exists")
	// ErrAnswersSealed is returned by answer stores once a session has
	// started finalizing.
	ErrAnswersSealed = errors.New("session no longer accepts answers")
)

const pgUniqueViolation = "23505"

// notFound converts pgx.ErrNoRows into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
