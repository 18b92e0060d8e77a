package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/study-hub/internal/domain/assistant"
	"github.com/studyhub/study-hub/internal/domain/shared"
	"github.com/studyhub/study-hub/pkg/circuitbreaker"
	"github.com/studyhub/study-hub/pkg/logger"
	"github.com/studyhub/study-hub/pkg/retry"
)

func reply(text string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"candidates": []map[string]interface{}{
			{"content": map[string]interface{}{"parts": []map[string]string{{"text": text}}}},
		},
	})
	return string(b)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("test-key")
	cfg.BaseURL = srv.URL
	cfg.Logger = logger.Discard()
	cfg.Retry = retry.NewPolicy(retry.WithMaxAttempts(3), retry.WithInitialDelay(time.Millisecond), retry.WithMaxDelay(2*time.Millisecond))
	cfg.Breaker = circuitbreaker.Config{Name: "gemini", FailureThreshold: 2, OpenTimeout: time.Hour}

	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c, &calls
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(ClientConfig{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestAsk(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		assert.Equal(t, SystemPrompt, req.SystemInstruction.Parts[0].Text)
		assert.Equal(t, "how do I focus?", req.Contents[0].Parts[0].Text)
		assert.Equal(t, 1000, req.GenerationConfig.MaxOutputTokens)

		_, _ = w.Write([]byte(reply("  Try the Pomodoro technique 🍅 ")))
	})

	text, err := c.Ask(context.Background(), "how do I focus?")
	require.NoError(t, err)
	assert.Equal(t, "Try the Pomodoro technique 🍅", text)
}

func TestGenerateQA_Document(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", req.GenerationConfig.ResponseMIMEType)
		require.Len(t, req.Contents[0].Parts, 3)
		doc := req.Contents[0].Parts[1].InlineData
		require.NotNil(t, doc)
		assert.Equal(t, "application/pdf", doc.MIMEType)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), doc.Data)

		_, _ = w.Write([]byte(reply("```json\n[{\"front\":\"Q1\",\"back\":\"A1\"},{\"front\":\"Q2\",\"back\":\"A2\"}]\n```")))
	})

	cards, err := c.GenerateQA(context.Background(), assistant.Source{
		Document: &assistant.Document{Name: "notes.pdf", MIMEType: "application/pdf", Data: []byte("%PDF")},
	}, 2)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "Q2", cards[1].Front)
}

func TestGenerateQA_Topic(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Contents[0].Parts[0].Text, "Create 5 study flashcards")
		assert.Equal(t, `Topic: "photosynthesis"`, req.Contents[0].Parts[1].Text)
		_, _ = w.Write([]byte(reply(`[{"front":"What is made?","back":"Glucose"}]`)))
	})

	cards, err := c.GenerateQA(context.Background(), assistant.Source{Topic: " photosynthesis "}, 5)
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	_, err = c.GenerateQA(context.Background(), assistant.Source{}, 5)
	assert.ErrorIs(t, err, assistant.ErrEmptySource)
}

func TestRetriesTemporaryFailures(t *testing.T) {
	var n atomic.Int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if n.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
			return
		}
		_, _ = w.Write([]byte(reply("ok")))
	})

	text, err := c.Ask(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.BreakerState())
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	})

	for i := 0; i < 3; i++ {
		_, err := c.Ask(context.Background(), "hi")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "API key not valid", apiErr.Message)
		assert.False(t, apiErr.Temporary())
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, circuitbreaker.StateClosed, c.BreakerState())
}

func TestBreakerOpensAfterRepeatedOutages(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	for i := 0; i < 2; i++ {
		_, err := c.Ask(context.Background(), "hi")
		require.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerState())
	before := calls.Load()

	_, err := c.Ask(context.Background(), "hi")
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.True(t, shared.IsRetryable(err))
	assert.Equal(t, before, calls.Load())
}

func TestEmptyAndBlockedResponses(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"SAFETY"}}`))
	})

	_, err := c.Ask(context.Background(), "hi")
	assert.ErrorContains(t, err, "SAFETY")
	assert.Equal(t, int32(1), calls.Load())
}

func TestParseCards(t *testing.T) {
	cards, err := ParseCards("```\n[{\"front\":\"a\",\"back\":\"b\"}]\n```")
	require.NoError(t, err)
	assert.Len(t, cards, 1)

	_, err = ParseCards("Here are your cards!")
	assert.Error(t, err)
}
