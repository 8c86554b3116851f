package app

import (
	"errors"
	"net/http"

	"keepsake/api/internal/auth"
	"keepsake/api/internal/session"
	"keepsake/api/internal/store"
)

type DomainError struct {
	Status  int
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func domainError(status int, message string, err error) *DomainError {
	return &DomainError{Status: status, Message: message, Err: err}
}

// mapError translates service errors into an HTTP status and a client-facing
// message. Ownership mismatches surface as plain not-found.
func mapError(err error) (int, string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Message
	}
	var upstream *auth.UpstreamError
	if errors.As(err, &upstream) {
		status := upstream.Status
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return status, "Failed to exchange token"
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "Invalid ID token"
	}
	if errors.Is(err, session.ErrNoSession) {
		return http.StatusUnauthorized, "Authentication required"
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "Not found"
	}
	return http.StatusInternalServerError, "Server error"
}
