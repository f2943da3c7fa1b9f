package errors

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// "Key (kind, subject_id)=(derive-artifact, acme) already exists."
	reKeyField = regexp.MustCompile(`Key \(([^)]+)\)=`)
	// "... is still referenced from table "task_queue"." / "... is not present in table "jobs"."
	reReferencedFrom = regexp.MustCompile(`is still referenced from table "?([^"]+)"?`)
	reNotPresent     = regexp.MustCompile(`is not present in table "?([^"]+)"?`)
)

// constraintMessages describes the named constraints declared by the migrations.
var constraintMessages = map[string]string{ //nolint:gochecknoglobals // fixed lookup table
	"jobs_active_subject_idx":       "a job of this kind is already pending or processing for the subject",
	"jobs_error_iff_failed":         "only failed jobs carry an error",
	"artifacts_lineage_version_key": "this artifact version already exists",
	"task_queue_pkey":               "the job is already queued",
}

var tableNames = map[string]string{ //nolint:gochecknoglobals // fixed lookup table
	"jobs":             "job",
	"artifacts":        "artifact",
	"task_queue":       "queued task",
	"analytics_events": "analytics event",
}

// MapDBError maps driver and context errors onto AppError codes:
//
//	pgx.ErrNoRows / sql.ErrNoRows          → NotFound
//	unique_violation                       → Conflict
//	foreign_key_violation                  → ForeignKey
//	check_violation / not_null_violation   → Validation
//	object_not_in_prerequisite_state       → Conflict (approved artifact trigger)
//	serialization, deadlock, lock, conn    → Transient
//	context deadline / cancel              → Timeout / Canceled
//
// Errors it does not recognise are returned unchanged.
func MapDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &AppError{Code: ErrCodeTimeout, Message: "database call timed out", Cause: err}
	case errors.Is(err, context.Canceled):
		return &AppError{Code: ErrCodeCanceled, Message: "database call canceled", Cause: err}
	case errors.Is(err, pgx.ErrNoRows), errors.Is(err, sql.ErrNoRows):
		return &AppError{Code: ErrCodeNotFound, Message: "resource not found", Cause: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapPgError(pgErr)
	}
	return err
}

func mapPgError(pgErr *pgconn.PgError) *AppError {
	e := &AppError{Cause: pgErr, Field: fieldOf(pgErr)}
	switch code := pgErr.Code; {
	case code == pgerrcode.UniqueViolation:
		e.Code = ErrCodeConflict
		e.Message = describe(pgErr, "value already exists")
	case code == pgerrcode.ForeignKeyViolation:
		e.Code = ErrCodeForeignKey
		e.Message = foreignKeyMessage(pgErr)
	case code == pgerrcode.CheckViolation, code == pgerrcode.NotNullViolation:
		e.Code = ErrCodeValidation
		e.Message = describe(pgErr, "value violates a table constraint")
	case code == pgerrcode.ObjectNotInPrerequisiteState:
		e.Code = ErrCodeConflict
		e.Message = pgErr.Message
	case code == pgerrcode.SerializationFailure,
		code == pgerrcode.DeadlockDetected,
		code == pgerrcode.LockNotAvailable,
		pgerrcode.IsConnectionException(code):
		e.Code = ErrCodeTransient
		e.Message = "database temporarily unavailable"
	default:
		e.Code = ErrCodeInternal
		e.Message = "database error"
	}
	return e
}

func describe(pgErr *pgconn.PgError, fallback string) string {
	if msg, ok := constraintMessages[pgErr.ConstraintName]; ok {
		return msg
	}
	return fallback
}

// fieldOf prefers ColumnName, then the Detail key list, then a table_field_key constraint name.
func fieldOf(pgErr *pgconn.PgError) string {
	if pgErr.ColumnName != "" {
		return pgErr.ColumnName
	}
	if m := reKeyField.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return m[1]
	}
	return fieldFromConstraint(pgErr.ConstraintName)
}

func fieldFromConstraint(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) != 3 {
		return ""
	}
	switch parts[2] {
	case "key", "unique", "check":
		return parts[1]
	}
	return ""
}

func foreignKeyMessage(pgErr *pgconn.PgError) string {
	if m := reReferencedFrom.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "still referenced by a " + tableName(m[1])
	}
	if m := reNotPresent.FindStringSubmatch(pgErr.Detail); len(m) == 2 {
		return "referenced " + tableName(m[1]) + " does not exist"
	}
	if pgErr.TableName != "" {
		return "referenced " + tableName(pgErr.TableName) + " does not exist"
	}
	return "referenced row does not exist"
}

func tableName(table string) string {
	table = strings.ToLower(strings.TrimSpace(table))
	if name, ok := tableNames[table]; ok {
		return name
	}
	return strings.ReplaceAll(table, "_", " ")
}
