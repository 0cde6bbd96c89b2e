// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package middleware_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aharahq/ahara/internal/platform/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusOK)
	})
}

/*
TestThrottler_ScopedBuckets verifies that each (scope, identity) pair owns an
independent token bucket.
*/
func TestThrottler_ScopedBuckets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	throttler := middleware.NewThrottler(ctx)

	scope := middleware.ThrottleScope{
		Name:      "test",
		PerMinute: 2,
		Key:       middleware.KeyByIP,
	}
	guarded := throttler.Limit(scope)(okHandler())

	hit := func(ip string) int {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		request.Header.Set("X-Real-IP", ip)
		recorder := httptest.NewRecorder()
		guarded.ServeHTTP(recorder, request)
		return recorder.Code
	}

	// 1. The burst budget admits the first PerMinute requests
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))
	assert.Equal(t, http.StatusOK, hit("10.0.0.1"))

	// 2. The next request from the same identity is rejected
	assert.Equal(t, http.StatusTooManyRequests, hit("10.0.0.1"))

	// 3. A different identity has its own untouched bucket
	assert.Equal(t, http.StatusOK, hit("10.0.0.2"))
}

/*
TestThrottler_EmptyKeySkips verifies that an empty identity bypasses the scope.
*/
func TestThrottler_EmptyKeySkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	throttler := middleware.NewThrottler(ctx)

	scope := middleware.ThrottleScope{
		Name:      "test",
		PerMinute: 1,
		Key:       func(*http.Request) string { return "" },
	}
	guarded := throttler.Limit(scope)(okHandler())

	for i := 0; i < 5; i++ {
		request := httptest.NewRequest(http.MethodGet, "/", nil)
		recorder := httptest.NewRecorder()
		guarded.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	}
}

/*
TestKeyByBodyEmail verifies identity extraction and that the body remains
readable for the downstream JSON decoder.
*/
func TestKeyByBodyEmail(t *testing.T) {
	t.Run("extracts and lowercases the email", func(t *testing.T) {
		body := []byte(`{"email": " Jane@Example.COM ", "password": "secret"}`)
		request := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))

		assert.Equal(t, "jane@example.com", middleware.KeyByBodyEmail(request))

		// The full body must still be available downstream.
		replayed, err := io.ReadAll(request.Body)
		require.NoError(t, err)
		assert.Equal(t, body, replayed)
	})

	t.Run("malformed body yields no identity", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{")))
		assert.Empty(t, middleware.KeyByBodyEmail(request))
	})

	t.Run("missing email yields no identity", func(t *testing.T) {
		request := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"password":"x"}`)))
		assert.Empty(t, middleware.KeyByBodyEmail(request))
	})
}

/*
TestRealIP verifies proxy header precedence.
*/
func TestRealIP(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.RemoteAddr = "192.0.2.10:12345"

	// 1. Fallback to the connection address
	assert.Equal(t, "192.0.2.10", middleware.RealIP(request))

	// 2. X-Forwarded-For takes the first hop
	request.Header.Set("X-Forwarded-For", "203.0.113.5, 70.41.3.18")
	assert.Equal(t, "203.0.113.5", middleware.RealIP(request))

	// 3. X-Real-IP wins over everything
	request.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", middleware.RealIP(request))
}
