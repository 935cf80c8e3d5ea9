package app

import (
	"fmt"
	"net/http"
	"time"
)

// DomainError is an error the HTTP layer can render as-is. Errors holds the
// per-field messages of a validation failure.
type DomainError struct {
	Status     int
	Code       string
	Message    string
	Errors     []string
	RetryAfter time.Duration
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
	}
}

func validationError(problems []string) *DomainError {
	err := domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation failed")
	err.Errors = problems
	return err
}

func badRequest(message string) *DomainError {
	return domainError(http.StatusBadRequest, "BAD_REQUEST", message)
}

func unauthenticated(message string) *DomainError {
	if message == "" {
		message = "Authentication required"
	}
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = "You do not have permission to perform this action"
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found")
}

func rateLimited(retryAfter time.Duration) *DomainError {
	err := domainError(http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts, please try again later")
	err.RetryAfter = retryAfter
	return err
}
