package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrParse, http.StatusUnprocessableEntity},
		{ErrDuplicateID, http.StatusConflict},
		{ErrEmbeddingService, http.StatusBadGateway},
		{ErrLLMService, http.StatusBadGateway},
		{ErrStoreUnavailable, http.StatusServiceUnavailable},
		{errors.New("unclassified"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err))
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := fmt.Errorf("extract: read csv: %w", ErrParse)
	assert.Equal(t, http.StatusUnprocessableEntity, HTTPStatus(wrapped))
	assert.False(t, Retryable(wrapped))

	twice := fmt.Errorf("workflow: embed rows: %w", fmt.Errorf("status 429: %w", ErrEmbeddingService))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(twice))
	assert.True(t, Retryable(twice))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrEmbeddingService))
	assert.True(t, Retryable(ErrLLMService))
	assert.False(t, Retryable(ErrInvalidInput))
	assert.False(t, Retryable(ErrStoreUnavailable))
	assert.False(t, Retryable(nil))
}
