// =============================================================================
// MarketFlow OpenAI-Compatible Chat Client
// =============================================================================
// Minimal chat-completions client for OpenAI and API-compatible endpoints.
// Local rate limiting via golang.org/x/time/rate, bounded retry with
// exponential backoff and jitter, structured error mapping.
// =============================================================================

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/marketflow/internal/tlsutil"
)

const (
	defaultBaseURL      = "https://api.openai.com"
	defaultEndpointPath = "/v1/chat/completions"
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
)

// OpenAIClient is a Provider backed by an OpenAI-compatible HTTP endpoint.
type OpenAIClient struct {
	name         string
	apiKey       string
	baseURL      string
	endpointPath string
	model        string

	client  *http.Client
	limiter *rate.Limiter

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration

	logger *zap.Logger
}

// OpenAIOption configures the client.
type OpenAIOption func(*OpenAIClient)

// WithBaseURL points the client at a compatible endpoint (e.g. a local proxy).
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel sets the model used when the request does not name one.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithMaxRetries sets how many times a retryable failure is retried.
func WithMaxRetries(n int) OpenAIOption {
	return func(c *OpenAIClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial and maximum backoff delays.
func WithRetryDelay(initial, max time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		if initial > 0 {
			c.initialDelay = initial
		}
		if max > 0 {
			c.maxDelay = max
		}
	}
}

// WithRateLimit throttles outgoing requests to rps with the given burst.
// A non-positive rps disables local throttling.
func WithRateLimit(rps float64, burst int) OpenAIOption {
	return func(c *OpenAIClient) {
		if rps > 0 {
			if burst < 1 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *zap.Logger) OpenAIOption {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenAIClient creates a client authenticated with apiKey.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		name:         "openai",
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		endpointPath: defaultEndpointPath,
		model:        defaultModel,
		client:       tlsutil.SecureHTTPClient(defaultTimeout),
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
		maxDelay:     defaultMaxDelay,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return c.name }

// Completion performs a chat completion, retrying retryable upstream
// failures with exponential backoff. The context bounds the whole call
// including backoff waits.
func (c *OpenAIClient) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			c.logger.Debug("Retrying completion",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", c.maxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := c.doCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("completion failed after %d retries: %w", c.maxRetries, lastErr)
}

// --- wire types ---

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
	Usage ChatUsage `json:"usage"`
}

func (c *OpenAIClient) doCompletion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	payload, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.endpointPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{
			Code: ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.name,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), c.name)
	}

	var oaResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, &Error{
			Code: ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: c.name,
		}
	}

	result := &ChatResponse{
		ID:       oaResp.ID,
		Provider: c.name,
		Model:    oaResp.Model,
		Usage:    oaResp.Usage,
	}
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	for _, ch := range oaResp.Choices {
		result.Choices = append(result.Choices, ChatChoice{
			Index:        ch.Index,
			FinishReason: ch.FinishReason,
			Message:      ch.Message,
		})
	}
	return result, nil
}

// backoffDelay computes the exponential backoff with ±25% jitter.
func (c *OpenAIClient) backoffDelay(attempt int) time.Duration {
	delay := float64(c.initialDelay) * math.Pow(2.0, float64(attempt-1))
	if delay > float64(c.maxDelay) {
		delay = float64(c.maxDelay)
	}
	jitter := delay * 0.25
	delay = delay + (rand.Float64()*2-1)*jitter
	if delay < float64(c.initialDelay) {
		delay = float64(c.initialDelay)
	}
	return time.Duration(delay)
}

// mapHTTPError converts an upstream HTTP status into a structured Error.
func mapHTTPError(status int, msg string, provider string) *Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Code: ErrUnauthorized, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusTooManyRequests:
		return &Error{Code: ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &Error{Code: ErrUpstreamTimeout, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		msgLower := strings.ToLower(msg)
		if strings.Contains(msgLower, "quota") ||
			strings.Contains(msgLower, "credit") ||
			strings.Contains(msgLower, "billing") {
			return &Error{Code: ErrQuotaExceeded, Message: msg, HTTPStatus: status, Provider: provider}
		}
		return &Error{Code: ErrInvalidRequest, Message: msg, HTTPStatus: status, Provider: provider}
	}
	if status >= 500 {
		return &Error{Code: ErrUpstreamError, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	}
	return &Error{Code: ErrUpstreamError, Message: msg, HTTPStatus: status, Provider: provider}
}

// readErrorMessage extracts {"error":{"message":...}} from an error body,
// falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "upstream error"
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
