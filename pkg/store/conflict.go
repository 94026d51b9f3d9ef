package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is Postgres's unique_violation SQLSTATE (DD-010 in
// the kubernaut pack: detect via pgconn.PgError rather than string
// matching driver error text).
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique
// constraint violation — the race spec.md §4.3 describes ("concurrent
// writes of the same (content_hash, org_id) collapse to a single row
// via the uniqueness constraint; the loser reads the winner's id").
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
