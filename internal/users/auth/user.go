// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

/*
Package auth implements the user identity and session management layer.

It defines the core domain entities (User, OtpEntry) and logic for
registration, OTP email verification, and the refresh-token session
lifecycle.

# Architecture

This layer is the "Truth" of the system. Entities defined here have no external
dependencies and encapsulate all business rules related to user identity.
*/
package auth

import (
	"time"

	"github.com/aharahq/ahara/internal/platform/apperr"
)

// # Domain Entities

// User represents a registered member of the Ahara platform.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"` // Explicitly omitted from JSON for security.
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	Bio          string     `json:"bio,omitempty"`
	Gender       string     `json:"gender,omitempty"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	Country      string     `json:"country,omitempty"`
	BirthDate    *time.Time `json:"birth_date,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	IsActive     bool       `json:"is_active"`
	IsVerified   bool       `json:"is_verified"`
	IsStaff      bool       `json:"-"` // Internal flag, never exposed over the API.
	DateJoined   time.Time  `json:"date_joined"`
	UpdatedAt    time.Time  `json:"-"`
}

// OtpEntry represents a single pending email-verification code.
//
// A user may accumulate several entries (one per registration retry); only
// the newest one is ever accepted, and acceptance consumes it.
type OtpEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Code      int       `json:"-"` // Never serialized. Delivered out-of-band by email.
	CreatedAt time.Time `json:"created_at"`
}

// ExpiresAt returns the instant after which the code can no longer be accepted.
func (entry *OtpEntry) ExpiresAt() time.Time {
	return entry.CreatedAt.Add(OtpTTL)
}

// # Domain Errors

// Sentinel conflicts surfaced by the registration flow. Declared as package
// vars so callers can discriminate with errors.Is.
var (
	ErrEmailTaken    = apperr.Conflict("A user with this email already exists.")
	ErrUsernameTaken = apperr.Conflict("A user with that username already exists.")
)

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldUsername  = "username"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldOtp       = "otp"
	FieldAccess    = "access"
	FieldVerified  = "verified"
	FieldFirstName = "first_name"
	FieldLastName  = "last_name"
	FieldBio       = "bio"
	FieldGender    = "gender"
	FieldCity      = "city"
	FieldState     = "state"
	FieldCountry   = "country"
	FieldBirthDate = "birth_date"
	FieldAvatarURL = "avatar_url"
)
