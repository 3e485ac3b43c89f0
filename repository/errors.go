package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Error codes used across the core. Storage and network failures are caught
// at the component boundary and converted into this taxonomy; no error is
// swallowed on the way up.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeRateLimited           = "RATE_LIMITED"
	CodeEmptyCandidateSet     = "EMPTY_CANDIDATE_SET"
	CodeApprovalFailed        = "APPROVAL_FAILED"
	CodeShardNotFound         = "SHARD_NOT_FOUND"
	CodeDownstreamUnavailable = "DOWNSTREAM_UNAVAILABLE"
	CodeMigration             = "MIGRATION_ERROR"
	CodeEntityNotFound        = "ENTITY_NOT_FOUND"
	CodeInvalidState          = "INVALID_STATE"
	CodeDatabase              = "DATABASE_ERROR"
)

// PostgreSQL error codes surfaced to handlers.
const (
	PgErrForeignKeyViolation = "23503"
	PgErrUniqueViolation     = "23505"
	PgErrCheckViolation      = "23514"
	PgErrNotNullViolation    = "23502"
)

// Error represents a failure in the repository or ledger layer.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// NewError builds a coded error.
func NewError(code, message, detail string) *Error {
	return &Error{Code: code, Message: message, Detail: detail}
}

// wrapDBError converts a gorm/pg error into the taxonomy. Postgres errors
// keep their SQLSTATE code so handlers can map constraint violations.
func wrapDBError(err error, message string) *Error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Code: CodeEntityNotFound, Message: message, Detail: err.Error()}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Code: pgErr.Code, Message: pgErr.Message, Detail: pgErr.Detail}
	}
	return &Error{Code: CodeDatabase, Message: message, Detail: err.Error()}
}
