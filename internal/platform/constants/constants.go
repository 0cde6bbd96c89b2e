// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

/*
Package constants provides centralized, immutable values for the entire platform.

It defines default timeouts, rate limits, and cross-cutting keys that are shared
between different layers of the system.

Categories:

  - Server Timing: Read/Write/Idle timeouts for the HTTP server.
  - Rate Limiting: Bucket rates for the declared throttle scopes.
  - Security: JWT issuer and refresh cookie configuration.

Using this package ensures Magic Strings and Magic Numbers are eliminated
from the business logic.
*/
package constants

import "time"

// # Metadata

const (
	AppName    = "ahara-api"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	// DefaultReadTimeout is the maximum duration for reading the entire request.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout is the maximum duration before timing out writes of the response.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultIdleTimeout is the maximum amount of time to wait for the next request.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultReadHeaderTimeout is the amount of time allowed to read request headers.
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout is the deadline for the entire request lifecycle.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long we wait for in-flight requests to complete during shutdown.
	ShutdownTimeout = 30 * time.Second
)

// # Rate Limiting
//
// Scope rates mirror the product throttle policy: anonymous traffic gets a
// generous per-IP bucket, while the credential endpoints get tight per-IP and
// per-email buckets to slow down guessing attacks on a single account.

const (
	// AnonRatePerMinute is the per-IP request budget for anonymous traffic.
	AnonRatePerMinute = 100

	// SignupRatePerMinute is the per-IP budget for POST /auth/register.
	SignupRatePerMinute = 5

	// LoginIPRatePerMinute is the per-IP budget for POST /auth/login.
	LoginIPRatePerMinute = 10

	// LoginUserRatePerMinute is the per-email budget for POST /auth/login.
	LoginUserRatePerMinute = 5

	// VerifyOtpIPRatePerMinute is the per-IP budget for POST /auth/verify-otp.
	VerifyOtpIPRatePerMinute = 5

	// VerifyOtpUserRatePerMinute is the per-email budget for POST /auth/verify-otp.
	VerifyOtpUserRatePerMinute = 5

	// ThrottleCleanupInterval is how often idle throttle buckets are removed from memory.
	ThrottleCleanupInterval = 1 * time.Minute

	// ThrottleClientTTL is how long a client must be idle before its bucket is deleted.
	ThrottleClientTTL = 3 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "ahara.app"

	// DefaultRefreshCookieName is the cookie that carries the refresh token.
	// The deployed name is configurable via REFRESH_COOKIE_NAME.
	DefaultRefreshCookieName = "ahara_rt"

	// RefreshCookiePath is the scoped path for the refresh token cookie.
	RefreshCookiePath = "/"
)

// # HTTP Headers

const (
	HeaderXRequestID    = "X-Request-ID"
	HeaderXRealIP       = "X-Real-IP"
	HeaderXForwardedFor = "X-Forwarded-For"
	HeaderOrigin        = "Origin"
	HeaderAuthorization = "Authorization"
)

// # JSON Field Identifiers

const (
	FieldData    = "data"
	FieldStatus  = "status"
	FieldErrors  = "errors"
	FieldCode    = "code"
	FieldMessage = "message"
	FieldDetail  = "detail"
)

// # Database Schemas

const (
	SchemaUsers = "users"
)

// # Redis Prefixes (Cache Taxonomy)

const (
	// RedisPrefixRevokedJti marks refresh-token identifiers that were rotated
	// out or logged out. Entries expire with the token's natural expiry.
	RedisPrefixRevokedJti = "auth:revoked_jti:"
)
