// Package llm wraps the OpenAI-compatible chat completions API used for
// answer generation and report narration.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"monthend_back/errdefs"
)

const (
	defaultModelID = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second
)

// Config holds the chat completion endpoint settings.
type Config struct {
	BaseURL     string
	APIKey      string
	ModelID     string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// ConfigFromEnv reads LLM_* variables. LLM_API_KEY and LLM_BASE_URL are
// required.
func ConfigFromEnv() (Config, error) {
	apiKey := strings.TrimSpace(os.Getenv("LLM_API_KEY"))
	if apiKey == "" {
		return Config{}, errors.New("llm: LLM_API_KEY environment variable is required")
	}
	baseURL := strings.TrimSpace(os.Getenv("LLM_BASE_URL"))
	if baseURL == "" {
		return Config{}, errors.New("llm: LLM_BASE_URL environment variable is required")
	}
	modelID := strings.TrimSpace(os.Getenv("LLM_MODEL_ID"))
	if modelID == "" {
		modelID = defaultModelID
	}
	return Config{BaseURL: baseURL, APIKey: apiKey, ModelID: modelID}, nil
}

// Client talks to one chat completions endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: API key is required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("llm: base URL is required")
	}
	if !strings.HasPrefix(cfg.BaseURL, "http://") && !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
	}, nil
}

// Message is one turn in a conversation payload.
type Message struct {
	Role    string
	Content string
}

// Usage captures token accounting returned by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the assistant reply with usage metrics when the provider
// reports them.
type Result struct {
	Content string
	Usage   *Usage
}

// StreamDelta is one increment of a streamed reply. FullContent accumulates
// everything streamed so far; Done marks the terminal delta.
type StreamDelta struct {
	Content     string
	FullContent string
	Done        bool
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Stream      bool          `json:"stream"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

type wireStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *Client) buildRequest(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	payload := wireRequest{
		Model:     c.cfg.ModelID,
		Stream:    stream,
		Messages:  make([]wireMessage, 0, len(messages)),
		MaxTokens: c.cfg.MaxTokens,
	}
	if c.cfg.Temperature > 0 {
		temp := c.cfg.Temperature
		payload.Temperature = &temp
	}
	for _, msg := range messages {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = "user"
		}
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		payload.Messages = append(payload.Messages, wireMessage{Role: role, Content: content})
	}
	if len(payload.Messages) == 0 {
		return nil, fmt.Errorf("llm: messages contain no content: %w", errdefs.ErrInvalidInput)
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")
	}
	return req, nil
}

// Chat sends the messages and returns the first assistant reply.
func (c *Client) Chat(ctx context.Context, messages []Message) (Result, error) {
	if c == nil {
		return Result{}, errors.New("llm: client is nil")
	}
	req, err := c.buildRequest(ctx, messages, false)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("llm: execute request: %v: %w", err, errdefs.ErrLLMService)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Result{}, fmt.Errorf("llm: unexpected status %s: %s: %w",
			resp.Status, strings.TrimSpace(string(snippet)), errdefs.ErrLLMService)
	}

	var decoded wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{}, fmt.Errorf("llm: decode response: %v: %w", err, errdefs.ErrLLMService)
	}
	if len(decoded.Choices) == 0 {
		return Result{}, fmt.Errorf("llm: response contains no choices: %w", errdefs.ErrLLMService)
	}

	return Result{
		Content: strings.TrimSpace(decoded.Choices[0].Message.Content),
		Usage:   decoded.Usage,
	}, nil
}

// ChatStream sends the messages with streaming enabled and invokes handler
// for every delta. The final Result carries the accumulated reply.
func (c *Client) ChatStream(ctx context.Context, messages []Message, handler func(StreamDelta) error) (Result, error) {
	if c == nil {
		return Result{}, errors.New("llm: client is nil")
	}
	req, err := c.buildRequest(ctx, messages, true)
	if err != nil {
		return Result{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("llm: execute request: %v: %w", err, errdefs.ErrLLMService)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return Result{}, fmt.Errorf("llm: unexpected status %s: %s: %w",
			resp.Status, strings.TrimSpace(string(snippet)), errdefs.ErrLLMService)
	}

	emit := func(delta StreamDelta) error {
		if handler == nil {
			return nil
		}
		return handler(delta)
	}

	// Some providers ignore the stream flag and answer with plain JSON.
	contentType := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Type")))
	if strings.Contains(contentType, "application/json") {
		var decoded wireResponse
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return Result{}, fmt.Errorf("llm: decode response: %v: %w", err, errdefs.ErrLLMService)
		}
		if len(decoded.Choices) == 0 {
			return Result{}, fmt.Errorf("llm: response contains no choices: %w", errdefs.ErrLLMService)
		}
		full := strings.TrimSpace(decoded.Choices[0].Message.Content)
		if full != "" {
			if err := emit(StreamDelta{Content: full, FullContent: full}); err != nil {
				return Result{}, err
			}
		}
		if err := emit(StreamDelta{FullContent: full, Done: true}); err != nil {
			return Result{}, err
		}
		return Result{Content: full, Usage: decoded.Usage}, nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var builder strings.Builder
	var usage *Usage

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			if err := emit(StreamDelta{FullContent: builder.String(), Done: true}); err != nil {
				return Result{}, err
			}
			return Result{Content: builder.String(), Usage: usage}, nil
		}

		var chunk wireStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			builder.WriteString(choice.Delta.Content)
			if err := emit(StreamDelta{Content: choice.Delta.Content, FullContent: builder.String()}); err != nil {
				return Result{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("llm: read stream: %v: %w", err, errdefs.ErrLLMService)
	}

	if err := emit(StreamDelta{FullContent: builder.String(), Done: true}); err != nil {
		return Result{}, err
	}
	return Result{Content: builder.String(), Usage: usage}, nil
}
