package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE values the repositories can surface.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNumericOutOfRange   = "22003"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
)

// ErrorDump flattens an error chain for structured logs.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if pg, ok := postgresError(err); ok {
		d.PGCode = pg.code
		d.PGConstraint = pg.constraint
		d.PGTable = pg.table
		d.PGColumn = pg.column
		d.PGDetail = pg.detail
		d.PGMessage = pg.message
	}
	return d
}

type pgFields struct {
	code       string
	constraint string
	table      string
	column     string
	detail     string
	message    string
}

// postgresError extracts driver fields from either pgx or lib/pq errors.
func postgresError(err error) (pgFields, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgFields{
			code:       pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			column:     pgxErr.ColumnName,
			detail:     pgxErr.Detail,
			message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgFields{
			code:       string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			column:     pqErr.Column,
			detail:     pqErr.Detail,
			message:    pqErr.Message,
		}, true
	}
	return pgFields{}, false
}

// FromStorage classifies a repository failure during op. A foreign key
// violation means the referenced subject (for example the proposal being
// voted on) was deleted concurrently and becomes NotFound. Unique and check
// violations map to Conflict and Validation. Everything else is a retryable
// dependency failure. Errors that are already typed pass through.
func FromStorage(err error, op, subject string) *Error {
	if err == nil {
		return nil
	}
	if typed := As(err); typed != nil {
		return typed
	}
	switch storageClass(err) {
	case pgForeignKeyViolation:
		return Wrap(CodeNotFound, err, subject+" not found")
	case pgUniqueViolation:
		return Wrap(CodeConflict, err, subject+" already exists")
	case pgCheckViolation, pgNumericOutOfRange:
		return Wrap(CodeValidation, err, "invalid "+subject)
	default:
		return Wrap(CodeDependency, err, op)
	}
}

// Transient reports whether a storage error is a serialization failure or
// deadlock that is safe to retry immediately.
func Transient(err error) bool {
	code := storageClass(err)
	return code == pgSerialization || code == pgDeadlock
}

// storageClass returns the SQLSTATE of err, recognising the sqlite messages
// used in tests and dev mode as their Postgres equivalents.
func storageClass(err error) string {
	if pg, ok := postgresError(err); ok {
		return pg.code
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return pgForeignKeyViolation
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return pgUniqueViolation
	case strings.Contains(msg, "CHECK constraint failed"):
		return pgCheckViolation
	case strings.Contains(msg, "database is locked"):
		return pgSerialization
	}
	return ""
}
