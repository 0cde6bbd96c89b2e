// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

/*
Package middleware provides the cross-cutting HTTP processing chain.

It acts as a series of decorators around the standard http.Handler, injecting
traceability, safety, and security into every request lifecycle.

Standard Stack:

  - Trace: RequestID generation for log correlation.
  - Log: Structured Activity logging (slog).
  - Guard: Per-scope throttling and CORS validation.
  - Safe: Panic recovery to prevent server crashes.

This package ensures that domain handlers can focus purely on business logic
without worrying about infrastructure-level concerns.
*/
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aharahq/ahara/internal/platform/constants"
	"github.com/aharahq/ahara/internal/platform/ctxutil"
	"github.com/aharahq/ahara/pkg/uuid"
)

// # Request Tracing

// RequestID attaches a correlation ID to every request for log tracing.
func RequestID() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// 1. Check if the client already provided an ID
			requestID := request.Header.Get(constants.HeaderXRequestID)

			// 2. Generate a new one if missing (UUID v7 keeps logs time-sortable)
			if requestID == "" {
				requestID = uuid.New()
			}

			// 3. Inject into context and response headers
			ctx := ctxutil.WithRequestID(request.Context(), requestID)
			writer.Header().Set(constants.HeaderXRequestID, requestID)

			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// # Activity Logging

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (recorder *statusRecorder) WriteHeader(code int) {
	recorder.status = code
	recorder.ResponseWriter.WriteHeader(code)
}

// StructuredLogger logs every request status and performance metrics.
// It also injects a request-specific logger into the context.
func StructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			startTime := time.Now()
			rid := ctxutil.GetRequestID(request.Context())
			ip := RealIP(request)

			// 1. Create a sub-logger for this specific request
			requestLogger := logger.With(
				slog.String("request_id", rid),
				slog.String("method", request.Method),
				slog.String("path", request.URL.Path),
				slog.String("ip", ip),
			)

			// 2. Inject this logger into the context for downstream use
			ctx := ctxutil.WithLogger(request.Context(), requestLogger)
			wrappedWriter := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

			// 3. Proceed to downstream handlers with the enriched context
			next.ServeHTTP(wrappedWriter, request.WithContext(ctx))

			// 4. Final log entry after the request is finished
			latency := time.Since(startTime).Milliseconds()
			logLevel := slog.LevelInfo

			if wrappedWriter.status >= 500 {
				logLevel = slog.LevelError
			} else if wrappedWriter.status >= 400 {
				logLevel = slog.LevelWarn
			}

			// Enlist final response metrics
			logAtters := []any{
				slog.Int("status", wrappedWriter.status),
				slog.Int64("latency_ms", latency),
				slog.String("user_agent", request.UserAgent()),
			}

			// Add user_id if the request is authenticated
			if claims := ctxutil.GetAuthUser(ctx); claims != nil {
				logAtters = append(logAtters, slog.String("user_id", claims.UserID))
			}

			requestLogger.Log(ctx, logLevel, "http_request_finished", logAtters...)
		})
	}
}

// # Throttling
//
// Endpoints declare their throttle scopes statically at route registration
// (no runtime dispatch table). Each scope owns an independent set of token
// buckets, keyed by client identity (IP or submitted email), so a burst
// against one account cannot exhaust the budget of another.

// ThrottleScope is the static per-endpoint throttle declaration.
type ThrottleScope struct {
	// Name identifies the scope ("signup", "login_user", ...). It prefixes
	// every bucket key so scopes never collide.
	Name string

	// PerMinute is the sustained request budget; it also sizes the burst.
	PerMinute int

	// Key extracts the client identity from the request. Returning "" skips
	// throttling for that request (e.g. a body without an email field).
	Key func(request *http.Request) string
}

type throttleClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttler owns the token buckets for every declared scope.
type Throttler struct {
	mu      sync.Mutex
	clients map[string]*throttleClient
}

// NewThrottler creates a Throttler and starts its background cleanup routine,
// which stops when the given context is cancelled.
func NewThrottler(applicationContext context.Context) *Throttler {
	throttler := &Throttler{clients: make(map[string]*throttleClient)}

	go func() {
		ticker := time.NewTicker(constants.ThrottleCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				throttler.mu.Lock()
				for key, clientInfo := range throttler.clients {
					if time.Since(clientInfo.lastSeen) > constants.ThrottleClientTTL {
						delete(throttler.clients, key)
					}
				}
				throttler.mu.Unlock()
			case <-applicationContext.Done():
				// Stop the goroutine when the application shuts down
				return
			}
		}
	}()

	return throttler
}

// Limit returns a middleware enforcing the given scope's budget.
func (throttler *Throttler) Limit(scope ThrottleScope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			identity := scope.Key(request)
			if identity == "" {
				next.ServeHTTP(writer, request)
				return
			}

			if !throttler.allow(scope, identity) {
				writeError(writer, http.StatusTooManyRequests, "RATE_LIMITED", "Rate limit exceeded")
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// allow consumes one token from the scoped bucket for the given identity.
func (throttler *Throttler) allow(scope ThrottleScope, identity string) bool {
	bucketKey := scope.Name + ":" + identity

	throttler.mu.Lock()
	defer throttler.mu.Unlock()

	clientInfo, found := throttler.clients[bucketKey]
	if !found {
		clientInfo = &throttleClient{
			limiter: rate.NewLimiter(
				rate.Limit(float64(scope.PerMinute)/60.0),
				scope.PerMinute,
			),
		}
		throttler.clients[bucketKey] = clientInfo
	}

	clientInfo.lastSeen = time.Now()
	return clientInfo.limiter.Allow()
}

// KeyByIP identifies the client by network address.
func KeyByIP(request *http.Request) string {
	return RealIP(request)
}

// KeyByBodyEmail identifies the client by the "email" field of a JSON body.
//
// The body is re-buffered so downstream handlers can still decode it. Auth
// payloads are small; bodies beyond 64KiB are rejected upstream by the
// server's read limits long before they reach this point.
func KeyByBodyEmail(request *http.Request) string {
	if request.Body == nil {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(request.Body, 64<<10))
	_ = request.Body.Close()
	request.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}

	var probe struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}

	return strings.ToLower(strings.TrimSpace(probe.Email))
}

// # Reliability & Safety

// PanicRecovery recovers from panics, logs stack trace, and returns 500.
func PanicRecovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// Defer a recovery function to catch any runtime exceptions
			defer func() {
				if err := recover(); err != nil {

					// Capture the runtime stack trace for diagnostics
					stackTrace := make([]byte, 2048)
					length := runtime.Stack(stackTrace, false)

					// Retrieve the request-specific logger from context if available
					reqLogger := ctxutil.GetLogger(request.Context())

					// Log the incident to our structured logging system
					reqLogger.ErrorContext(request.Context(), "panic_recovered",
						slog.Any("error", err),
						slog.String("stack", string(stackTrace[:length])),
					)

					// Return a safe, generic error to the client
					writeError(writer, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(writer, request)
		})
	}
}

// # Cross-Origin Resource Sharing

// AppConfig defines the behavior needed by the CORS middleware.
type AppConfig interface {
	IsDevelopment() bool
}

// CORS handles Cross-Origin Resource Sharing based on application environment.
//
// The SPA is served from a different site, so credentialed cross-origin
// requests must be allowed for the refresh cookie to flow.
func CORS(cfg AppConfig, extraOrigins string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	for _, origin := range strings.Split(extraOrigins, ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowed[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// 1. Check the Origin header
			origin := request.Header.Get(constants.HeaderOrigin)
			if origin == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// 2. Check if the origin is allowed (strict in PROD, open in DEV)
			isAllowed := false
			if cfg.IsDevelopment() {
				isAllowed = true
			} else if strings.HasSuffix(origin, "ahara.app") || allowed[origin] {
				isAllowed = true
			}

			// 3. Inject standard CORS headers if authorized
			if isAllowed {
				header := writer.Header()
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				header.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, X-Request-ID")
				header.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")
				header.Set("Access-Control-Allow-Credentials", "true")
				header.Set("Access-Control-Max-Age", "300")
			}

			// 4. Handle pre-flight requests (OPTIONS)
			if request.Method == http.MethodOptions {
				writer.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}

// # Middleware Helpers

// RealIP extracts client IP, respecting common proxy headers.
func RealIP(request *http.Request) string {

	// Check standard proxy headers first
	if ip := request.Header.Get(constants.HeaderXRealIP); ip != "" {
		return ip
	}

	if forwarded := request.Header.Get(constants.HeaderXForwardedFor); forwarded != "" {
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}

	// Fallback to the direct connection's address
	host, _, _ := net.SplitHostPort(request.RemoteAddr)
	return host
}

// writeError outputs a minimal error envelope without importing respond
// (avoids an import cycle through ctxutil).
func writeError(writer http.ResponseWriter, status int, code, message string) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(map[string]any{
		constants.FieldStatus: map[string]any{
			constants.FieldCode:    status,
			constants.FieldMessage: message,
		},
		constants.FieldData:   nil,
		constants.FieldErrors: map[string]string{constants.FieldDetail: message, constants.FieldCode: code},
	})
}
