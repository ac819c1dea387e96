// Package errdefs defines the error taxonomy shared across the workflow stages.
// Stage code wraps one of these sentinels with %w so callers can classify
// failures with errors.Is regardless of how many layers added context.
package errdefs

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidInput marks bad caller input. Not retryable.
	ErrInvalidInput = errors.New("invalid input")

	// ErrParse marks malformed file content. Not retryable without a new file.
	ErrParse = errors.New("parse failure")

	// ErrDuplicateID marks an idempotency violation on insert.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrEmbeddingService marks an upstream embedding service failure.
	ErrEmbeddingService = errors.New("embedding service failure")

	// ErrLLMService marks an upstream language model failure.
	ErrLLMService = errors.New("language model service failure")

	// ErrStoreUnavailable marks a backing store failure, fatal for the request.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Retryable reports whether the error class is a transient upstream failure
// that a caller may retry with backoff.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmbeddingService) || errors.Is(err, ErrLLMService)
}

// HTTPStatus maps an error to the status code the workflow API surfaces.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, ErrEmbeddingService), errors.Is(err, ErrLLMService):
		return http.StatusBadGateway
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
