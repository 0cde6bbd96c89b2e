// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package auth

import "time"

// # Authentication Constraints

const (
	// AccessTokenTTL is the duration a JWT access token remains valid.
	// We keep it short (10m) to minimize the impact of a leaked token.
	AccessTokenTTL = 10 * time.Minute

	// RefreshTokenTTL is the duration a refresh token remains valid.
	// Long-lived (14 days) to provide a good user experience.
	RefreshTokenTTL = 14 * 24 * time.Hour

	// OtpTTL is the window in which an emailed verification code is accepted.
	OtpTTL = 10 * time.Minute

	// OtpMin and OtpMax bound the generated code to exactly six digits.
	OtpMin = 100000
	OtpMax = 999999

	// MaxUsernameAttempts caps the numeric-suffix search when deriving a
	// username from an email local part. Hitting the cap means the namespace
	// around that local part is saturated and registration fails.
	MaxUsernameAttempts = 100
)

// # Throttle Scope Names

const (
	ScopeSignup        = "signup"
	ScopeLoginIP       = "login"
	ScopeLoginUser     = "login_user"
	ScopeVerifyOtpIP   = "verify_otp"
	ScopeVerifyOtpUser = "verify_otp_user"
)
