// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aharahq/ahara/internal/platform/apperr"
	"github.com/aharahq/ahara/internal/platform/constants"
	"github.com/aharahq/ahara/internal/platform/sec"
	"github.com/aharahq/ahara/internal/users/auth"
)

// # Shared Fakes
//
// The fakes emulate the storage contracts in memory, including the pieces the
// service depends on for correctness: case-insensitive email lookup,
// unique-constraint style conflicts, and the lock-and-recheck consume
// protocol with rollback on a failed beforeCommit.

type fakeUserRepository struct {
	mu    sync.Mutex
	users map[string]*auth.User

	// createFailures queues constraint names; each Create pops one and fails
	// with a matching unique-violation error.
	createFailures []string
}

func newFakeUserRepository() *fakeUserRepository {
	return &fakeUserRepository{users: make(map[string]*auth.User)}
}

func uniqueViolation(constraint string) error {
	return fmt.Errorf("fake_create_failed: %w", &pgconn.PgError{
		Code:           pgerrcode.UniqueViolation,
		ConstraintName: constraint,
	})
}

func (repository *fakeUserRepository) FindByID(_ context.Context, id string) (*auth.User, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if user, found := repository.users[id]; found {
		clone := *user
		return &clone, nil
	}
	return nil, apperr.NotFound("User not found")
}

func (repository *fakeUserRepository) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, user := range repository.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("User not found with this email")
}

func (repository *fakeUserRepository) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	for _, user := range repository.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("User not found with this username")
}

func (repository *fakeUserRepository) Create(_ context.Context, user *auth.User) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	if len(repository.createFailures) > 0 {
		constraint := repository.createFailures[0]
		repository.createFailures = repository.createFailures[1:]
		return uniqueViolation(constraint)
	}

	for _, existing := range repository.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return uniqueViolation("account_email_lower_idx")
		}
		if existing.Username == user.Username {
			return uniqueViolation("account_username_key")
		}
	}

	user.DateJoined = time.Now()
	clone := *user
	repository.users[user.ID] = &clone
	return nil
}

func (repository *fakeUserRepository) Update(_ context.Context, user *auth.User) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if _, found := repository.users[user.ID]; !found {
		return apperr.NotFound("User not found")
	}
	clone := *user
	repository.users[user.ID] = &clone
	return nil
}

func (repository *fakeUserRepository) MarkVerified(_ context.Context, userID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if user, found := repository.users[userID]; found {
		user.IsVerified = true
		return nil
	}
	return apperr.NotFound("User not found")
}

func (repository *fakeUserRepository) setActive(userID string, active bool) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.users[userID].IsActive = active
}

func (repository *fakeUserRepository) delete(userID string) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	delete(repository.users, userID)
}

type fakeOtpRepository struct {
	mu      sync.Mutex
	entries []*auth.OtpEntry
}

func (repository *fakeOtpRepository) Create(_ context.Context, entry *auth.OtpEntry) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	clone := *entry
	repository.entries = append(repository.entries, &clone)
	return nil
}

func (repository *fakeOtpRepository) latestLocked(userID string) *auth.OtpEntry {
	var latest *auth.OtpEntry
	for _, entry := range repository.entries {
		if entry.UserID != userID {
			continue
		}
		if latest == nil || entry.CreatedAt.After(latest.CreatedAt) {
			latest = entry
		}
	}
	return latest
}

func (repository *fakeOtpRepository) FindLatest(_ context.Context, userID string) (*auth.OtpEntry, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	latest := repository.latestLocked(userID)
	if latest == nil {
		return nil, apperr.NotFound("OTP not found for this user")
	}
	clone := *latest
	return &clone, nil
}

// Consume mirrors the row-lock semantics: the mutex serializes racers, the
// identity re-check catches the loser, and a beforeCommit error restores the
// entry (rollback).
func (repository *fakeOtpRepository) Consume(_ context.Context, userID, entryID string, beforeCommit func() error) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	latest := repository.latestLocked(userID)
	if latest == nil || latest.ID != entryID {
		return apperr.Unauthorized("Invalid or expired OTP")
	}

	remaining := repository.entries[:0]
	for _, entry := range repository.entries {
		if entry.ID != entryID {
			remaining = append(remaining, entry)
		}
	}
	repository.entries = remaining

	if beforeCommit != nil {
		if err := beforeCommit(); err != nil {
			repository.entries = append(repository.entries, latest)
			return err
		}
	}
	return nil
}

func (repository *fakeOtpRepository) Delete(_ context.Context, entryID string) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	remaining := repository.entries[:0]
	for _, entry := range repository.entries {
		if entry.ID != entryID {
			remaining = append(remaining, entry)
		}
	}
	repository.entries = remaining
	return nil
}

func (repository *fakeOtpRepository) backdateLatest(userID string, by time.Duration) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	if latest := repository.latestLocked(userID); latest != nil {
		latest.CreatedAt = latest.CreatedAt.Add(-by)
	}
}

type fakeRevocationRegistry struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func newFakeRevocationRegistry() *fakeRevocationRegistry {
	return &fakeRevocationRegistry{revoked: make(map[string]time.Time)}
}

func (registry *fakeRevocationRegistry) Revoke(_ context.Context, jti string, expiresAt time.Time) (bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, found := registry.revoked[jti]; found {
		return false, nil
	}
	registry.revoked[jti] = expiresAt
	return true, nil
}

func (registry *fakeRevocationRegistry) IsRevoked(_ context.Context, jti string) (bool, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	_, found := registry.revoked[jti]
	return found, nil
}

// # Test Harness

type testEnv struct {
	service     *auth.Service
	users       *fakeUserRepository
	otps        *fakeOtpRepository
	revocations *fakeRevocationRegistry
	tokens      *sec.TokenService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokens, err := sec.NewTokenService("0123456789abcdef0123456789abcdef", constants.AuthIssuer)
	require.NoError(t, err)

	users := newFakeUserRepository()
	otps := &fakeOtpRepository{}
	revocations := newFakeRevocationRegistry()

	return &testEnv{
		service:     auth.NewService(users, otps, revocations, tokens),
		users:       users,
		otps:        otps,
		revocations: revocations,
		tokens:      tokens,
	}
}

// register enrolls a user and returns it together with the issued OTP code.
func (env *testEnv) register(t *testing.T, email, password string) (*auth.User, int) {
	t.Helper()

	user, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)

	entry, err := env.otps.FindLatest(context.Background(), user.ID)
	require.NoError(t, err)
	return user, entry.Code
}

// # Registration

/*
TestService_Register_DerivesUsernameFromEmail verifies local-part derivation
and numeric-suffix collision handling.
*/
func TestService_Register_DerivesUsernameFromEmail(t *testing.T) {
	env := newTestEnv(t)

	// 1. First jane gets the bare local part
	first, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    "Jane@Example.com",
		Password: "correct-horse7",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane", first.Username)
	assert.Equal(t, "jane@example.com", first.Email, "email must be stored lowercased")
	assert.False(t, first.IsVerified)
	assert.True(t, first.IsActive)

	// 2. Second jane falls back to the first free numeric suffix
	second, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    "jane@other.org",
		Password: "correct-horse7",
	})
	require.NoError(t, err)
	assert.Equal(t, "jane2", second.Username)

	// 3. Each registration left exactly one pending OTP
	entry, err := env.otps.FindLatest(context.Background(), first.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, entry.Code, 100000)
	assert.LessOrEqual(t, entry.Code, 999999)
}

/*
TestService_Register_DuplicateEmail verifies the conflict sentinel for an
already-registered address, regardless of case.
*/
func TestService_Register_DuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com", "correct-horse7")

	_, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    "JANE@EXAMPLE.COM",
		Password: "correct-horse7",
	})

	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

/*
TestService_Register_UsernameRaceRetries verifies that losing the insert race
on a username advances to the next suffix instead of failing.
*/
func TestService_Register_UsernameRaceRetries(t *testing.T) {
	env := newTestEnv(t)

	// 1. Simulate a concurrent registration grabbing "jane" between the
	//    availability check and the insert.
	env.users.createFailures = []string{"account_username_key"}

	user, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})

	// 2. The retry lands on the next candidate
	require.NoError(t, err)
	assert.Equal(t, "jane2", user.Username)
}

/*
TestService_Register_EmailRaceConflicts verifies that losing the insert race
on the email column surfaces as the email conflict, not a username retry.
*/
func TestService_Register_EmailRaceConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.users.createFailures = []string{"account_email_lower_idx"}

	_, err := env.service.Register(context.Background(), auth.RegisterInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})

	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

// # Login

/*
TestService_Login verifies the credential checks, including that the unknown
account and wrong password produce the same client-visible message.
*/
func TestService_Login(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "jane@example.com", "correct-horse7")

	t.Run("success", func(t *testing.T) {
		session, err := env.service.Login(context.Background(), auth.LoginInput{
			Email:    "jane@example.com",
			Password: "correct-horse7",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, session.AccessToken)
		assert.NotEmpty(t, session.RefreshToken)
		assert.Equal(t, user.ID, session.User.ID)

		// The access token must verify and carry the user identity.
		claims, err := env.tokens.VerifyAccessToken(session.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, user.ID, claims.UserID)
		assert.Equal(t, "jane", claims.Username)
	})

	t.Run("unverified user may log in", func(t *testing.T) {
		// Registration leaves IsVerified false; login is still allowed.
		_, err := env.service.Login(context.Background(), auth.LoginInput{
			Email:    "jane@example.com",
			Password: "correct-horse7",
		})
		assert.NoError(t, err)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := env.service.Login(context.Background(), auth.LoginInput{
			Email:    "jane@example.com",
			Password: "wrong-password",
		})
		require.Error(t, err)
		assert.Equal(t, "Invalid credentials.", err.Error())
	})

	t.Run("unknown email uses the same message", func(t *testing.T) {
		_, err := env.service.Login(context.Background(), auth.LoginInput{
			Email:    "nobody@example.com",
			Password: "correct-horse7",
		})
		require.Error(t, err)
		assert.Equal(t, "Invalid credentials.", err.Error())
	})

	t.Run("disabled account", func(t *testing.T) {
		env.users.setActive(user.ID, false)
		defer env.users.setActive(user.ID, true)

		_, err := env.service.Login(context.Background(), auth.LoginInput{
			Email:    "jane@example.com",
			Password: "correct-horse7",
		})
		require.Error(t, err)
		assert.Equal(t, "User account is disabled.", err.Error())
	})
}

// # OTP Verification

/*
TestService_VerifyOtp_Success verifies the happy path: the code is consumed,
the account is marked verified, and a session is issued.
*/
func TestService_VerifyOtp_Success(t *testing.T) {
	env := newTestEnv(t)
	user, code := env.register(t, "jane@example.com", "correct-horse7")

	session, err := env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
		Email: "jane@example.com",
		Otp:   code,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
	assert.True(t, session.User.IsVerified)

	// 1. The stored account is verified
	stored, err := env.users.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsVerified)

	// 2. The code is single-use: a replay finds nothing pending
	_, err = env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
		Email: "jane@example.com",
		Otp:   code,
	})
	require.Error(t, err)
	assert.Equal(t, "OTP not found for this user.", err.Error())
}

/*
TestService_VerifyOtp_Rejections covers the failure taxonomy: wrong code,
expired code, superseded code, and unknown account.
*/
func TestService_VerifyOtp_Rejections(t *testing.T) {
	t.Run("wrong code", func(t *testing.T) {
		env := newTestEnv(t)
		_, code := env.register(t, "jane@example.com", "correct-horse7")

		wrong := code + 1
		if wrong > 999999 {
			wrong = 100000
		}

		_, err := env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
			Email: "jane@example.com",
			Otp:   wrong,
		})
		require.Error(t, err)
		assert.Equal(t, "Invalid OTP.", err.Error())
	})

	t.Run("expired code", func(t *testing.T) {
		env := newTestEnv(t)
		user, code := env.register(t, "jane@example.com", "correct-horse7")
		env.otps.backdateLatest(user.ID, auth.OtpTTL+time.Minute)

		_, err := env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
			Email: "jane@example.com",
			Otp:   code,
		})
		require.Error(t, err)
		assert.Equal(t, "OTP has expired.", err.Error())

		// The expired entry is destroyed on detection, not merely rejected.
		_, err = env.otps.FindLatest(context.Background(), user.ID)
		require.Error(t, err)

		_, err = env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
			Email: "jane@example.com",
			Otp:   code,
		})
		require.Error(t, err)
		assert.Equal(t, "OTP not found for this user.", err.Error())
	})

	t.Run("no pending code", func(t *testing.T) {
		env := newTestEnv(t)
		user, code := env.register(t, "jane@example.com", "correct-horse7")

		// Consume out-of-band so nothing is pending.
		entry, err := env.otps.FindLatest(context.Background(), user.ID)
		require.NoError(t, err)
		require.NoError(t, env.otps.Consume(context.Background(), user.ID, entry.ID, nil))

		_, err = env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
			Email: "jane@example.com",
			Otp:   code,
		})
		require.Error(t, err)
		assert.Equal(t, "OTP not found for this user.", err.Error())
	})

	t.Run("unknown email", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
			Email: "nobody@example.com",
			Otp:   123456,
		})
		require.Error(t, err)
		assert.Equal(t, "Invalid or expired OTP.", err.Error())
	})
}

/*
TestService_VerifyOtp_ConcurrentSingleUse verifies that simultaneous
submissions of the same valid code produce exactly one winner.
*/
func TestService_VerifyOtp_ConcurrentSingleUse(t *testing.T) {
	env := newTestEnv(t)
	_, code := env.register(t, "jane@example.com", "correct-horse7")

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.VerifyOtp(context.Background(), auth.VerifyOtpInput{
				Email: "jane@example.com",
				Otp:   code,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			var appError *apperr.AppError
			require.True(t, errors.As(err, &appError))
			assert.Equal(t, 401, appError.HTTPStatus)
		}
	}
	assert.Equal(t, 1, successes, "exactly one racer must consume the code")
}

// # Refresh & Logout

/*
TestService_RefreshSession_Rotation verifies single-use rotation: the
presented token is revoked, its replacement works, and a replay of the old
token is rejected.
*/
func TestService_RefreshSession_Rotation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com", "correct-horse7")

	login, err := env.service.Login(context.Background(), auth.LoginInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})
	require.NoError(t, err)

	// 1. First refresh succeeds and yields a different token
	rotated, err := env.service.RefreshSession(context.Background(), login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	// 2. Replaying the original token fails: its jti is revoked
	_, err = env.service.RefreshSession(context.Background(), login.RefreshToken)
	require.Error(t, err)
	assert.Equal(t, "Invalid or expired refresh token", err.Error())

	// 3. The rotated token is still live
	_, err = env.service.RefreshSession(context.Background(), rotated.RefreshToken)
	assert.NoError(t, err)
}

/*
TestService_RefreshSession_ConcurrentPresentation verifies that simultaneous
presentations of the same refresh token resolve to exactly one rotation: the
deny-list write is the arbiter, so losers of the race get rejected even when
none of them observed the jti as revoked beforehand.
*/
func TestService_RefreshSession_ConcurrentPresentation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com", "correct-horse7")

	login, err := env.service.Login(context.Background(), auth.LoginInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.RefreshSession(context.Background(), login.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, "Invalid or expired refresh token", err.Error())
		}
	}
	assert.Equal(t, 1, successes, "exactly one presentation may rotate the token")
}

/*
TestService_RefreshSession_Rejections covers garbage tokens, access tokens
presented as refresh tokens, and tokens for deleted or disabled users.
*/
func TestService_RefreshSession_Rejections(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "jane@example.com", "correct-horse7")

	login, err := env.service.Login(context.Background(), auth.LoginInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})
	require.NoError(t, err)

	t.Run("malformed token", func(t *testing.T) {
		_, err := env.service.RefreshSession(context.Background(), "not-a-jwt")
		require.Error(t, err)
		assert.Equal(t, "Invalid or expired refresh token", err.Error())
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		_, err := env.service.RefreshSession(context.Background(), login.AccessToken)
		require.Error(t, err)
		assert.Equal(t, "Invalid or expired refresh token", err.Error())
	})

	t.Run("disabled user", func(t *testing.T) {
		env.users.setActive(user.ID, false)
		defer env.users.setActive(user.ID, true)

		_, err := env.service.RefreshSession(context.Background(), login.RefreshToken)
		require.Error(t, err)
		assert.Equal(t, "User account is disabled.", err.Error())
	})

	t.Run("deleted user", func(t *testing.T) {
		env.users.delete(user.ID)

		_, err := env.service.RefreshSession(context.Background(), login.RefreshToken)
		require.Error(t, err)
		assert.Equal(t, "Invalid or expired refresh token", err.Error())
	})
}

/*
TestService_Logout verifies that logout revokes the token and stays quiet on
every form of bad input (idempotent by contract).
*/
func TestService_Logout(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "jane@example.com", "correct-horse7")

	login, err := env.service.Login(context.Background(), auth.LoginInput{
		Email:    "jane@example.com",
		Password: "correct-horse7",
	})
	require.NoError(t, err)

	// 1. Logout revokes the refresh token
	env.service.Logout(context.Background(), login.RefreshToken)
	_, err = env.service.RefreshSession(context.Background(), login.RefreshToken)
	require.Error(t, err)

	// 2. Repeating and abusing logout never panics or errors
	env.service.Logout(context.Background(), login.RefreshToken)
	env.service.Logout(context.Background(), "")
	env.service.Logout(context.Background(), "garbage")
}

// # Profile

/*
TestService_UpdateProfile verifies PATCH semantics: provided fields change,
absent fields survive.
*/
func TestService_UpdateProfile(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.register(t, "jane@example.com", "correct-horse7")

	first := "Jane"
	bio := "  plant-based since 2019  "
	birth := time.Date(1990, time.April, 12, 0, 0, 0, 0, time.UTC)

	updated, err := env.service.UpdateProfile(context.Background(), user.ID, auth.UpdateProfileInput{
		FirstName: &first,
		Bio:       &bio,
		BirthDate: &birth,
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane", updated.FirstName)
	assert.Equal(t, "plant-based since 2019", updated.Bio, "string fields are trimmed")
	require.NotNil(t, updated.BirthDate)
	assert.True(t, birth.Equal(*updated.BirthDate))

	// Untouched fields keep their values
	assert.Equal(t, "jane", updated.Username)
	assert.Equal(t, "jane@example.com", updated.Email)

	// A later partial update leaves earlier changes intact
	city := "Austin"
	again, err := env.service.UpdateProfile(context.Background(), user.ID, auth.UpdateProfileInput{
		City: &city,
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane", again.FirstName)
	assert.Equal(t, "Austin", again.City)
}
