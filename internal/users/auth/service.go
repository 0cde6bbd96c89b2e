// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

/*
This file implements the core identity and access management (IAM) flows.

It handles everything from user registration and secure password hashing to
OTP email verification and the refresh-token rotation lifecycle (revocations
stored in Redis).

Architecture:

  - Service: Orchestrates business logic (Register, Login, VerifyOtp, Refresh).
  - Repository: Abstracted interfaces for Postgres (Users, OTP) and Redis (Revocations).
  - Security: Leverages Bcrypt hashing and HMAC-signed JWTs.

The package ensures that identity data remains consistent and secure throughout
the platform's lifecycle.
*/
package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/aharahq/ahara/internal/platform/apperr"
	"github.com/aharahq/ahara/internal/platform/ctxutil"
	"github.com/aharahq/ahara/internal/platform/dberr"
	"github.com/aharahq/ahara/internal/platform/sec"
	"github.com/aharahq/ahara/pkg/username"
	"github.com/aharahq/ahara/pkg/uuid"
)

// # Contracts & Types

// TokenProvider defines the contract for generating and verifying security tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT string for the given user.
	//
	// # Parameters
	//   - userID: The ID of the account.
	//   - username: The username of the account.
	//   - timeToLive: The duration before the token expires.
	//
	// # Returns
	//   - A signed JWT string, or an err if signing fails.
	GenerateAccessToken(userID, username string, timeToLive time.Duration) (string, error)

	// GenerateRefreshToken creates a signed refresh JWT carrying a fresh jti.
	//
	// # Returns
	//   - The signed token, its jti, its expiry instant, or an err.
	GenerateRefreshToken(userID string, timeToLive time.Duration) (string, string, time.Time, error)

	// VerifyRefreshToken validates a refresh token's signature, expiry, and type.
	VerifyRefreshToken(tokenString string) (*sec.RefreshClaims, error)
}

// Service implements user authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to hashing, registration,
// or OTP logic must be reviewed by the security team.
type Service struct {
	userRepository UserRepository
	otpRepository  OtpRepository
	revocations    RevocationRegistry
	tokenProvider  TokenProvider
}

// NewService constructs a new [Service] with necessary dependencies.
func NewService(
	userRepo UserRepository,
	otpRepo OtpRepository,
	revocations RevocationRegistry,
	tokenProv TokenProvider,
) *Service {
	return &Service{
		userRepository: userRepo,
		otpRepository:  otpRepo,
		revocations:    revocations,
		tokenProvider:  tokenProv,
	}
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Email    string
	Password string
}

/*
Register validates, hashes, and persists a brand new user account.

Description: Deep-enrollment of a new member. The username is derived from the
email local part; collisions are resolved by appending the lowest free numeric
suffix (jane, jane2, jane3, ...). A six-digit verification code is issued as
part of the same flow.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *User: Created entity
  - err: ErrEmailTaken (if identity exists) or storage errors
*/
func (service *Service) Register(context context.Context, input RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))

	// Verify email uniqueness up-front. The DB constraint is the real guard;
	// this check just gives the common case a clean error without burning a
	// username candidate.
	if _, err := service.userRepository.FindByEmail(context, email); err == nil {
		return nil, ErrEmailTaken
	}

	// Prevent storing plain-text passwords. Default cost is used for balance
	// between security and CPU utilization during registration spikes.
	hashedPassword, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("auth_service_hash_failed: %w", err)
	}

	user, err := service.createWithDerivedUsername(context, email, hashedPassword)
	if err != nil {
		return nil, err
	}

	// Issue the verification code as part of the registration contract. A
	// registration whose code was never stored cannot be verified, so this
	// failure is surfaced rather than swallowed.
	if _, err := service.issueOtp(context, user.ID); err != nil {
		return nil, err
	}

	return user, nil
}

// createWithDerivedUsername persists the user under the first free username
// derived from the email local part.
//
// The lookup-then-insert sequence is racy by nature, so a unique violation on
// the username column is treated as "candidate taken" and the search moves to
// the next suffix. A violation on the email column means a concurrent
// registration won the same address.
func (service *Service) createWithDerivedUsername(context context.Context, email, passwordHash string) (*User, error) {
	base := username.FromEmail(email)

	for attempt := 0; attempt < MaxUsernameAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + strconv.Itoa(attempt+1)
		}

		// Cheap pre-check to skip obviously taken candidates.
		if _, err := service.userRepository.FindByUsername(context, candidate); err == nil {
			continue
		}

		// Time-sortable ID to prevent PG index fragmentation.
		user := &User{
			ID:           uuid.New(),
			Username:     candidate,
			Email:        email,
			PasswordHash: passwordHash,
			IsActive:     true,
			IsVerified:   false,
		}

		err := service.userRepository.Create(context, user)
		if err == nil {
			return user, nil
		}

		if dberr.IsUniqueViolation(err) {
			constraint := dberr.ConstraintName(err)
			if strings.Contains(constraint, FieldEmail) {
				return nil, ErrEmailTaken
			}
			// Lost the race on this username; try the next suffix.
			continue
		}

		return nil, fmt.Errorf("auth_service_register_failed: %w", err)
	}

	return nil, ErrUsernameTaken
}

// issueOtp generates, persists, and (eventually) delivers a verification code.
func (service *Service) issueOtp(context context.Context, userID string) (*OtpEntry, error) {
	code, err := generateOtpCode()
	if err != nil {
		return nil, fmt.Errorf("auth_service_otp_generation_failed: %w", err)
	}

	entry := &OtpEntry{
		ID:     uuid.New(),
		UserID: userID,
		Code:   code,
	}

	if err := service.otpRepository.Create(context, entry); err != nil {
		return nil, fmt.Errorf("auth_service_otp_persist_failed: %w", err)
	}

	// Delivery is the notifications service's concern; this layer only
	// records that a code exists for the account.
	ctxutil.GetLogger(context).Info("otp_issued", "user_id", userID)

	return entry, nil
}

// generateOtpCode returns a uniformly random six-digit code.
func generateOtpCode() (int, error) {
	span := big.NewInt(int64(OtpMax - OtpMin + 1))
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, err
	}
	return OtpMin + int(n.Int64()), nil
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email    string
	Password string
}

// Session represents a successfully established user session.
type Session struct {
	AccessToken           string
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
	User                  *User
}

/*
Login validates user credentials and issues security tokens.

Description: Verifies identity, performs constant-time password comparison,
and issues a fresh access/refresh token pair. Verification status is not a
login precondition; unverified members authenticate normally.

Parameters:
  - context: context.Context
  - input: LoginInput

Returns:
  - *Session: Transport-ready session identifiers
  - err: Unauthorized or internal failures
*/
func (service *Service) Login(context context.Context, input LoginInput) (*Session, error) {
	user, err := service.userRepository.FindByEmail(context, input.Email)

	// If (err != nil) the user does not exist. Generic message to prevent enumeration.
	if err != nil {
		return nil, apperr.Unauthorized("Invalid credentials.")
	}

	// Verify password hash using constant-time comparison in bcrypt to prevent timing attacks
	if !sec.CheckPasswordHash(input.Password, user.PasswordHash) {
		return nil, apperr.Unauthorized("Invalid credentials.")
	}

	// Deactivated accounts keep their credentials but cannot authenticate.
	if !user.IsActive {
		return nil, apperr.Unauthorized("User account is disabled.")
	}

	return service.issueSession(user)
}

// issueSession mints a fresh access/refresh pair for the user.
func (service *Service) issueSession(user *User) (*Session, error) {
	accessToken, err := service.tokenProvider.GenerateAccessToken(user.ID, user.Username, AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_access_token_failed: %w", err)
	}

	refreshToken, _, expiresAt, err := service.tokenProvider.GenerateRefreshToken(user.ID, RefreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_token_failed: %w", err)
	}

	return &Session{
		AccessToken:           accessToken,
		RefreshToken:          refreshToken,
		RefreshTokenExpiresAt: expiresAt,
		User:                  user,
	}, nil
}

// # OTP Verification Flow

// VerifyOtpInput identifies the code being redeemed.
type VerifyOtpInput struct {
	Email string
	Otp   int
}

/*
VerifyOtp redeems a verification code and establishes a session.

Description: Resolves the account, checks the submitted code against the
newest pending entry, and consumes that entry atomically. Token minting runs
inside the consume transaction: if signing fails, the code survives and can
be retried. Under concurrent submissions of the same code, exactly one
request wins; the rest are rejected.

Parameters:
  - context: context.Context
  - input: VerifyOtpInput

Returns:
  - *Session: Fresh credentials for the newly verified member
  - err: Unauthorized for every code-related failure
*/
func (service *Service) VerifyOtp(context context.Context, input VerifyOtpInput) (*Session, error) {
	user, err := service.userRepository.FindByEmail(context, input.Email)
	if err != nil {
		// Same shape as a consumed code to avoid account enumeration.
		return nil, apperr.Unauthorized("Invalid or expired OTP.")
	}

	entry, err := service.otpRepository.FindLatest(context, user.ID)
	if err != nil {
		return nil, apperr.Unauthorized("OTP not found for this user.")
	}

	// Expiry and mismatch are checked before touching the row lock; both are
	// re-validated implicitly by the consume step's identity re-check. An
	// expired entry is destroyed on detection so it cannot linger as the
	// account's newest code.
	if time.Now().After(entry.ExpiresAt()) {
		if err := service.otpRepository.Delete(context, entry.ID); err != nil {
			ctxutil.GetLogger(context).Error("auth_service_expired_otp_delete_failed", "user_id", user.ID, "error", err)
		}
		return nil, apperr.Unauthorized("OTP has expired.")
	}

	if entry.Code != input.Otp {
		return nil, apperr.Unauthorized("Invalid OTP.")
	}

	var session *Session
	err = service.otpRepository.Consume(context, user.ID, entry.ID, func() error {
		minted, mintErr := service.issueSession(user)
		if mintErr != nil {
			return mintErr
		}
		session = minted
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Verification status is a post-commit side effect: the code is already
	// consumed, so a failure here must not fail the request.
	if err := service.userRepository.MarkVerified(context, user.ID); err != nil {
		ctxutil.GetLogger(context).Error("auth_service_mark_verified_failed", "user_id", user.ID, "error", err)
	} else {
		user.IsVerified = true
	}

	return session, nil
}

// # Session Management

/*
RefreshSession implements the Refresh Token Rotation mechanism.

Description: Verifies the presented refresh token, confirms its jti has not
been revoked, revokes it to prevent reuse (replay attack mitigation), and
issues a fresh pair of rotated tokens.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - *Session: New session credentials
  - err: Unauthorized or storage failures
*/
func (service *Service) RefreshSession(context context.Context, refreshToken string) (*Session, error) {

	// Signature, expiry, and token-type checks
	claims, err := service.tokenProvider.VerifyRefreshToken(refreshToken)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	// A rotated-out or logged-out token must be rejected even though its
	// signature is still valid.
	revoked, err := service.revocations.IsRevoked(context, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("auth_service_revocation_check_failed: %w", err)
	}
	if revoked {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	// Fetch the user associated with this token
	user, err := service.userRepository.FindByID(context, claims.Subject)
	if err != nil {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	if !user.IsActive {
		return nil, apperr.Unauthorized("User account is disabled.")
	}

	// Rotation: revoke the presented jti BEFORE minting the replacement. If
	// the revocation write fails the whole refresh fails; the alternative
	// leaves two live tokens from one presentation. The revoke is also the
	// arbiter for simultaneous presentations: only the caller that placed
	// the jti on the deny list may rotate.
	first, err := service.revocations.Revoke(context, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("auth_service_refresh_revoke_failed: %w", err)
	}
	if !first {
		return nil, apperr.Unauthorized("Invalid or expired refresh token")
	}

	return service.issueSession(user)
}

/*
Logout permanently revokes the presented refresh token.

Description: Best-effort and idempotent. A missing, malformed, expired, or
already-revoked token still results in a successful logout; the client's
session state is cleared either way.

Parameters:
  - context: context.Context
  - refreshToken: string
*/
func (service *Service) Logout(context context.Context, refreshToken string) {
	if refreshToken == "" {
		return
	}

	claims, err := service.tokenProvider.VerifyRefreshToken(refreshToken)
	if err != nil {
		return
	}

	if _, err := service.revocations.Revoke(context, claims.ID, claims.ExpiresAt.Time); err != nil {
		ctxutil.GetLogger(context).Error("auth_service_logout_revoke_failed", "error", err)
	}
}

// # Profile Management

// UpdateProfileInput carries partial profile changes. Nil fields are untouched.
type UpdateProfileInput struct {
	FirstName *string
	LastName  *string
	Bio       *string
	Gender    *string
	City      *string
	State     *string
	Country   *string
	BirthDate *time.Time
	AvatarURL *string
}

/*
GetProfile returns the authenticated member's own account.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *User: Hydrated entity
  - err: Not found or storage failures
*/
func (service *Service) GetProfile(context context.Context, userID string) (*User, error) {
	user, err := service.userRepository.FindByID(context, userID)
	if err != nil {
		if apperr.IsAppError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("auth_service_get_profile_failed: %w", err)
	}
	return user, nil
}

/*
UpdateProfile applies partial changes to the member's own profile.

Description: PATCH semantics. Only non-nil input fields are written; identity
fields (email, username, password) are not reachable through this flow.

Parameters:
  - context: context.Context
  - userID: string
  - input: UpdateProfileInput

Returns:
  - *User: The updated entity
  - err: Not found or storage failures
*/
func (service *Service) UpdateProfile(context context.Context, userID string, input UpdateProfileInput) (*User, error) {
	user, err := service.userRepository.FindByID(context, userID)
	if err != nil {
		return nil, err
	}

	applyString := func(target *string, value *string) {
		if value != nil {
			*target = strings.TrimSpace(*value)
		}
	}

	applyString(&user.FirstName, input.FirstName)
	applyString(&user.LastName, input.LastName)
	applyString(&user.Bio, input.Bio)
	applyString(&user.Gender, input.Gender)
	applyString(&user.City, input.City)
	applyString(&user.State, input.State)
	applyString(&user.Country, input.Country)
	applyString(&user.AvatarURL, input.AvatarURL)

	if input.BirthDate != nil {
		user.BirthDate = input.BirthDate
	}

	if err := service.userRepository.Update(context, user); err != nil {
		return nil, fmt.Errorf("auth_service_update_profile_failed: %w", err)
	}

	return user, nil
}
