package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"monthend_back/errdefs"
)

// Embedder turns texts into fixed-dimension vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// EmbedderConfig holds the settings for the OpenAI-compatible embeddings
// endpoint. RetryAttempts counts total tries; retries back off exponentially
// from RetryBaseDelay. Embedding the same text twice yields the same vector
// upstream, so retried calls are safe.
type EmbedderConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxBatch       int
	Dimensions     int
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// EmbedderConfigFromEnv reads EMBEDDING_* variables, falling back to the
// LLM_* ones when the embedding endpoint shares the same gateway.
func EmbedderConfigFromEnv() (EmbedderConfig, error) {
	apiKey := strings.TrimSpace(os.Getenv("EMBEDDING_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	}
	if apiKey == "" {
		return EmbedderConfig{}, errors.New("knowledge: EMBEDDING_API_KEY environment variable is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("EMBEDDING_BASE_URL"))
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	}

	model := strings.TrimSpace(os.Getenv("EMBEDDING_MODEL_ID"))
	if model == "" {
		model = "text-embedding-3-small"
	}

	return EmbedderConfig{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		Model:         model,
		MaxBatch:      envInt("EMBEDDING_MAX_BATCH", 16),
		Dimensions:    envInt("EMBEDDING_VECTOR_DIM", 0),
		RetryAttempts: envInt("EMBEDDING_RETRY_ATTEMPTS", 1),
	}, nil
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

type httpEmbedder struct {
	httpClient *http.Client
	cfg        EmbedderConfig
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// NewHTTPEmbedder builds an Embedder against an OpenAI-compatible
// /embeddings endpoint.
func NewHTTPEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("knowledge: embedding API key is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("knowledge: embedding base URL is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("knowledge: invalid embedding base URL %q", cfg.BaseURL)
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}

	return &httpEmbedder{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}, nil
}

func (e *httpEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if e == nil {
		return nil, errors.New("knowledge: embedder is not configured")
	}
	sanitized := make([]string, 0, len(inputs))
	for _, item := range inputs {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		sanitized = append(sanitized, trimmed)
	}
	if len(sanitized) == 0 {
		return nil, nil
	}

	var results [][]float32
	for start := 0; start < len(sanitized); start += e.cfg.MaxBatch {
		end := start + e.cfg.MaxBatch
		if end > len(sanitized) {
			end = len(sanitized)
		}
		vectors, err := e.embedBatchWithRetry(ctx, sanitized[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, vectors...)
	}
	return results, nil
}

func (e *httpEmbedder) embedBatchWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	delay := e.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt < e.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("knowledge: embedding canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		vectors, err := e.embedBatch(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if !errdefs.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (e *httpEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	payload := embeddingRequest{Model: e.cfg.Model, Input: batch}
	if e.cfg.Dimensions > 0 {
		dim := e.cfg.Dimensions
		payload.Dimensions = &dim
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("knowledge: encode embedding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/embeddings", body)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: embedding request failed: %v: %w", err, errdefs.ErrEmbeddingService)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("knowledge: embedding API status %s: %s: %w",
			resp.Status, strings.TrimSpace(string(snippet)), errdefs.ErrEmbeddingService)
	}

	var decoded embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("knowledge: decode embedding response: %v: %w", err, errdefs.ErrEmbeddingService)
	}
	if len(decoded.Data) != len(batch) {
		return nil, fmt.Errorf("knowledge: embedding response count mismatch (expected %d, got %d): %w",
			len(batch), len(decoded.Data), errdefs.ErrEmbeddingService)
	}

	vectors := make([][]float32, len(decoded.Data))
	for i, item := range decoded.Data {
		vector := make([]float32, len(item.Embedding))
		for j, value := range item.Embedding {
			vector[j] = float32(value)
		}
		if e.cfg.Dimensions > 0 && len(vector) != e.cfg.Dimensions {
			return nil, fmt.Errorf("knowledge: embedding length %d does not match expected %d: %w",
				len(vector), e.cfg.Dimensions, errdefs.ErrEmbeddingService)
		}
		vectors[i] = vector
	}
	return vectors, nil
}
