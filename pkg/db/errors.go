package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation  = "23505"
	sqliteUniquePrefix = "UNIQUE constraint failed: "
)

// UniqueViolation reports whether err is a unique constraint failure. The
// returned name is the Postgres constraint, or the column list sqlite prints.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName, pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	if _, cols, ok := strings.Cut(msg, sqliteUniquePrefix); ok {
		return strings.TrimSpace(cols), true
	}
	return "", strings.Contains(msg, "duplicate key value")
}

// IsUniqueViolation narrows UniqueViolation to one constraint. An empty name
// matches any unique failure.
func IsUniqueViolation(err error, constraint string) bool {
	name, ok := UniqueViolation(err)
	return ok && (constraint == "" || name == constraint)
}
