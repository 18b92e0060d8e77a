// Package gemini implements assistant.Generator on the Gemini REST API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/studyhub/study-hub/internal/domain/assistant"
	"github.com/studyhub/study-hub/internal/domain/flashcard"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/circuitbreaker"
	"github.com/studyhub/study-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBaseURL is the public Gemini endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// SystemPrompt frames every chat answer.
const SystemPrompt = `You are an intelligent study assistant that helps students with their academic journey.
Give personalized study tips, explain subject questions, suggest learning techniques and help with time management and planning.
Be encouraging and practical. Keep answers concise but informative, use a friendly tone and the occasional emoji.
If you don't know something, say so. Stay on study-related topics.`

// ClientConfig contains configuration for the Gemini client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	Temperature     float64
	MaxOutputTokens int

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// RequestsPerSecond and Burst limit outbound calls (0 = unlimited).
	RequestsPerSecond float64
	Burst             int

	Retry   retry.Policy
	Breaker circuitbreaker.Config

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey string) ClientConfig {
	return ClientConfig{
		BaseURL:           DefaultBaseURL,
		APIKey:            apiKey,
		Model:             "gemini-2.0-flash",
		Temperature:       0.7,
		MaxOutputTokens:   1000,
		Timeout:           30 * time.Second,
		RequestsPerSecond: 5,
		Burst:             10,
		Retry:             retry.GeneratorPolicy(),
		Breaker:           circuitbreaker.DefaultConfig("gemini"),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client calls the generateContent endpoint. Safe for concurrent use.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

var _ assistant.Generator = (*Client)(nil)

// ErrNotConfigured is returned by NewClient without an API key.
var ErrNotConfigured = errors.New("gemini: api key is not configured")

// NewClient creates a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	def := DefaultClientConfig(cfg.APIKey)
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "gemini"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger.With("component", "gemini")
	breakerCfg := cfg.Breaker
	if breakerCfg.OnStateChange == nil {
		breakerCfg.OnStateChange = func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		}
	}
	// Client errors say nothing about the health of the API.
	if breakerCfg.IsFailure == nil {
		breakerCfg.IsFailure = func(err error) bool {
			var apiErr *APIError
			return !errors.As(err, &apiErr) || apiErr.Temporary()
		}
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		breaker: circuitbreaker.New(breakerCfg),
		logger:  logger,
	}, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() circuitbreaker.State { return c.breaker.State() }

// ══════════════════════════════════════════════════════════════════════════════
// GENERATOR
// ══════════════════════════════════════════════════════════════════════════════

// Ask returns a chat answer.
func (c *Client) Ask(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: SystemPrompt}}},
		Contents:          []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.cfg.Temperature,
			MaxOutputTokens: c.cfg.MaxOutputTokens,
		},
	}
	text, err := c.generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateQA asks for count flashcards as a JSON array of {front, back}.
func (c *Client) GenerateQA(ctx context.Context, src assistant.Source, count int) ([]flashcard.Card, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	parts := []part{{Text: fmt.Sprintf(
		"You are a teacher. Create %d study flashcards based strictly on the provided content. "+
			"Return ONLY a raw JSON array of objects. Each object must have exactly two fields: "+
			`"front" (question) and "back" (answer). Example: [{"front": "Question?", "back": "Answer"}]`, count)}}
	if src.Document != nil {
		parts = append(parts,
			part{InlineData: &inlineData{
				MIMEType: src.Document.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(src.Document.Data),
			}},
			part{Text: "Generate flashcards from this image/document. Focus on the key concepts shown."},
		)
	} else {
		parts = append(parts, part{Text: fmt.Sprintf("Topic: %q", strings.TrimSpace(src.Topic))})
	}

	text, err := c.generate(ctx, generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{ResponseMIMEType: "application/json"},
	})
	if err != nil {
		return nil, err
	}
	return ParseCards(text)
}

// ParseCards decodes a JSON card array, tolerating a markdown code fence around it.
func ParseCards(text string) ([]flashcard.Card, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var cards []flashcard.Card
	if err := json.Unmarshal([]byte(text), &cards); err != nil {
		return nil, fmt.Errorf("gemini: decode flashcards: %w", err)
	}
	return cards, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini: %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Temporary reports whether retrying may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// generate runs one logical call: the breaker sees it once, retries happen inside.
func (c *Client) generate(ctx context.Context, req generateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("gemini: encode request: %w", err)
	}

	var text string
	err = c.breaker.Execute(ctx, func(ctx context.Context) error {
		policy := c.cfg.Retry
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.logger.Warn("generation attempt failed, retrying", "attempt", attempt, "delay", delay.String(), "error", err)
		}
		return policy.Do(ctx, func(ctx context.Context) error {
			var callErr error
			text, callErr = c.call(ctx, body)
			return callErr
		})
	})

	switch {
	case err == nil:
		return text, nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen), errors.Is(err, circuitbreaker.ErrTooManyProbes):
		return "", shared.WrapError("assistant", "generate", shared.ErrServiceUnavailable, "The assistant is temporarily unavailable.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return "", shared.WrapError("assistant", "generate", shared.ErrTimeout, "The assistant took too long to answer.", err)
	default:
		return "", err
	}
}

// call performs a single HTTP attempt and classifies its error for retry.
func (c *Client) call(ctx context.Context, body []byte) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(c.cfg.BaseURL, "/"), url.PathEscape(c.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("gemini: create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", retry.Retryable(fmt.Errorf("gemini: execute request: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", retry.Retryable(fmt.Errorf("gemini: read response: %w", err))
	}
	c.logger.Debug("generateContent", "status", resp.StatusCode, "duration", time.Since(start).String())

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			apiErr.Message = er.Error.Message
			if er.Error.Status != "" {
				apiErr.Status = er.Error.Status
			}
		}
		if apiErr.Temporary() {
			return "", retry.Retryable(apiErr)
		}
		return "", retry.Permanent(apiErr)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("gemini: decode response: %w", err))
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", retry.Permanent(fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason))
	}
	text := out.text()
	if strings.TrimSpace(text) == "" {
		return "", retry.Permanent(errors.New("gemini: empty response"))
	}
	return text, nil
}
