package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a row looked up or updated by key does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned on unique constraint violations (username, serial_number, chain position).
	ErrDuplicate = errors.New("storage: duplicate key")
	// ErrForeignKey is returned when a row references a parent that does not exist.
	ErrForeignKey = errors.New("storage: foreign key violation")
	// ErrConstraint is returned on CHECK and NOT NULL violations.
	ErrConstraint = errors.New("storage: constraint violation")
	// ErrInvalidArgument is returned before any query runs when the input is unusable.
	ErrInvalidArgument = errors.New("storage: invalid argument")
	// ErrNestedTransaction is returned by WithinTransaction on a transactional store.
	ErrNestedTransaction = errors.New("storage: cannot start a transaction within an existing transaction")
)

// PostgreSQL SQLSTATE codes (class 23, integrity constraint violation).
const (
	pqNotNullViolation    = "23502"
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
	pqCheckViolation      = "23514"
)

// classifyError maps a driver error to one of the constraint sentinels, or
// nil when err is not a constraint violation.
func classifyError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return ErrDuplicate
		case pqForeignKeyViolation:
			return ErrForeignKey
		case pqCheckViolation, pqNotNullViolation:
			return ErrConstraint
		}
		return nil
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrDuplicate
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKey
		case sqlite3.ErrConstraintCheck, sqlite3.ErrConstraintNotNull:
			return ErrConstraint
		}
	}
	return nil
}

// wrapError prefixes err with msg and, for constraint violations, also wraps
// the matching sentinel so callers can use errors.Is.
func wrapError(err error, msg string) error {
	if kind := classifyError(err); kind != nil {
		logConstraintViolation(err, msg)
		return fmt.Errorf("storage: %s: %w: %w", msg, kind, err)
	}
	return fmt.Errorf("storage: %s: %w", msg, err)
}

// notFound wraps ErrNotFound when err is sql.ErrNoRows and otherwise behaves
// like wrapError.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return wrapError(err, "failed to get "+what)
}

// execOne runs an UPDATE expected to touch exactly one row.
func execOne(ctx context.Context, q Querier, what string, query string, args ...interface{}) error {
	result, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return wrapError(err, "failed to update "+what)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: failed to read affected rows for %s: %w", what, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}

// insertReturningID runs an INSERT ... RETURNING id statement.
func insertReturningID(ctx context.Context, q Querier, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := q.QueryRowxContext(ctx, q.Rebind(query), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func logConstraintViolation(err error, msg string) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		logger.Debug("Constraint violation", zap.String("operation", msg),
			zap.String("code", string(pqErr.Code)),
			zap.String("constraint", pqErr.Constraint),
			zap.String("table", pqErr.Table),
			zap.String("detail", pqErr.Detail),
		)
		return
	}
	logger.Debug("Constraint violation", zap.String("operation", msg), zap.Error(err))
}
