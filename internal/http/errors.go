package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/errors"
)

// StatusFor maps an error to the HTTP status returned to API callers.
func StatusFor(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeJobInFlight,
		apperrors.ErrCodeAlreadyTerminal,
		apperrors.ErrCodeRefinementLimit,
		apperrors.ErrCodeConflict,
		apperrors.ErrCodeForeignKey:
		return http.StatusConflict
	case apperrors.ErrCodeFatalConfig:
		return http.StatusUnprocessableEntity
	case apperrors.ErrCodeTransient:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}

	// Constraint errors that escaped repository translation.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.ForeignKeyViolation:
			return http.StatusConflict
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
			return http.StatusBadRequest
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// errorCode is the machine readable code in the error body.
func errorCode(err error) string {
	if code := apperrors.GetCode(err); code != "" {
		return string(code)
	}
	return string(apperrors.ErrCodeInternal)
}

// WriteAppError renders err with its mapped status. Server errors are logged and their
// message is replaced so internals do not leak to callers.
func WriteAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFor(err)
	p := ErrorParams{Code: status, ErrCode: errorCode(err), Err: err}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		p.Field = appErr.Field
		p.Violations = appErr.Violations
	}

	if status >= http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		p.Err = errors.New(http.StatusText(status))
	}
	WriteError(w, p)
}
