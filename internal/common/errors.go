package common

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound               = errors.New("requested resource not found")
	ErrUnauthorized           = errors.New("unauthorized access")
	ErrOwnershipViolation     = errors.New("caller does not own this resource")
	ErrBadRequest             = errors.New("bad request")
	ErrValidation             = errors.New("validation failed")
	ErrIllegalStateTransition = errors.New("illegal state transition")
	ErrIneligibleWorker       = errors.New("worker is not eligible for this action")
	ErrDuplicateResource      = errors.New("duplicate resource")
	ErrInvalidCredential      = errors.New("invalid confirmation code")
	ErrLockedOut              = errors.New("too many failed attempts, locked out")
	ErrGatewayUnavailable     = errors.New("payment gateway unavailable")
	ErrLeaseNotAcquired       = errors.New("failed to acquire sweep lease")
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrOwnershipViolation) || errors.Is(err, ErrIneligibleWorker) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrInvalidCredential) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrIllegalStateTransition) || errors.Is(err, ErrDuplicateResource) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrLockedOut) {
		return http.StatusLocked
	}
	if errors.Is(err, ErrGatewayUnavailable) {
		return http.StatusServiceUnavailable
	}

	// pgx unique violations surface as conflicts even when a repository
	// missed mapping them.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
