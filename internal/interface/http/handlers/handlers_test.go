package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestCompositeHealthChecker_NoChecks(t *testing.T) {
	status := NewCompositeHealthChecker("v1").Check(context.Background())

	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "no checks registered", status.Message)
	assert.Equal(t, "v1", status.Version)
}

func TestCompositeHealthChecker_AllPass(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("postgres", true, NewPingCheck(pingerFunc(func(context.Context) error { return nil })))
	c.AddCheck("redis", false, func(context.Context) error { return nil })

	status := c.Check(context.Background())

	assert.True(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "all checks passed", status.Message)
	require.Len(t, status.Checks, 2)
	assert.True(t, status.Checks["postgres"].Critical)
	assert.Equal(t, "OK", status.Checks["redis"].Message)
}

func TestCompositeHealthChecker_NonCriticalFailureKeepsReady(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("postgres", true, func(context.Context) error { return nil })
	c.AddCheck("redis", false, func(context.Context) error { return errors.New("connection refused") })

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "failing checks: redis", status.Message)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestCompositeHealthChecker_CriticalFailure(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddCheck("redis", false, func(context.Context) error { return errors.New("down") })
	c.AddCheck("postgres", true, func(context.Context) error { return errors.New("down") })

	status := c.Check(context.Background())

	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "failing checks: postgres, redis", status.Message)
}

func TestCompositeHealthChecker_DetailedCheck(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.AddDetailedCheck("postgres", true, func(context.Context) (string, error) {
		return "conns 3/10 (1 acquired, 2 idle)", nil
	})
	c.AddDetailedCheck("replica", false, func(context.Context) (string, error) {
		return "ignored", errors.New("no route to host")
	})

	status := c.Check(context.Background())

	assert.True(t, status.Ready)
	assert.Equal(t, "conns 3/10 (1 acquired, 2 idle)", status.Checks["postgres"].Message)
	assert.Equal(t, "no route to host", status.Checks["replica"].Message)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("v1")
	c.SetTimeout(20 * time.Millisecond)
	c.AddCheck("slow", true, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	start := time.Now()
	status := c.Check(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, status.Ready)
	assert.Contains(t, status.Checks["slow"].Message, "deadline exceeded")
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(mark("outer"), nil, mark("inner"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestSecurityAndCacheHeaders(t *testing.T) {
	h := Chain(SecurityHeadersMiddleware, NoCacheMiddleware)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestRequestSizeLimit(t *testing.T) {
	var readErr error
	h := RequestSizeLimitMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("declared length over limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789")))

		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
		assert.Contains(t, rec.Body.String(), "payload_too_large")
	})

	t.Run("unknown length is capped while reading", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
		req.ContentLength = -1
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		var tooLarge *http.MaxBytesError
		assert.ErrorAs(t, readErr, &tooLarge)
	})

	t.Run("within limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("ok")))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NoError(t, readErr)
	})
}
