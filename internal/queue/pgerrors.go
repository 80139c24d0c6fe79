package queue

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"reel/internal/pkg/errors"
)

// IsUndefinedTable reports a missing table, usually unapplied migrations.
// 42P01 = undefined_table
func IsUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "42P01"
	}
	return false
}

// isUnavailable reports server-side conditions that clear up on their own:
// connection exceptions (08), insufficient resources (53), operator
// intervention such as shutdown (57) and serialization failures (40).
func isUnavailable(pgErr *pgconn.PgError) bool {
	for _, class := range []string{"08", "53", "57", "40"} {
		if strings.HasPrefix(pgErr.Code, class) {
			return true
		}
	}
	return false
}

// classify maps a pgx error onto the reel error codes. Anything that is not
// a server-reported error means the database could not be reached.
func classify(err error, op, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errors.WrapWithCode(err, errors.CodeNotFound, op, message)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.WrapWithCode(err, errors.CodeTimeout, op, message)
	}
	if errors.Is(err, context.Canceled) {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, message)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case isUnavailable(pgErr):
			return errors.WrapWithCode(err, errors.CodeUnavailable, op, message)
		case IsUndefinedTable(err):
			return errors.WrapWithCode(err, errors.CodeInternal, op, message+" (run `reelctl migrate up`)")
		default:
			return errors.WrapWithCode(err, errors.CodeInternal, op, message)
		}
	}

	return errors.WrapWithCode(err, errors.CodeUnavailable, op, message)
}
