// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

// This file implements the storage layer for the identity domain using PostgreSQL.
//
// # Architecture
//
// Repositories here are strictly separated from domain logic. They implement
// the domain-defined interfaces ([UserRepository], [OtpRepository]) using the
// [pgxpool.Pool] connection manager.
//
// # Error Mapping
//
// Storage-specific errors (like pgx.ErrNoRows) are mapped to domain-friendly
// [apperr.AppError] types to avoid leaking storage implementation details.
// Unique-constraint violations are surfaced raw so the service layer can
// inspect the violated constraint via the dberr helpers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aharahq/ahara/internal/platform/apperr"
)

const userColumns = `
	id, username, email, passwordhash, firstname, lastname, bio, gender,
	city, state, country, birthdate, avatarurl, isactive, isverified,
	isstaff, datejoined, updatedat`

// scanUser hydrates a User from a row that selected userColumns in order.
func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.FirstName,
		&user.LastName,
		&user.Bio,
		&user.Gender,
		&user.City,
		&user.State,
		&user.Country,
		&user.BirthDate,
		&user.AvatarURL,
		&user.IsActive,
		&user.IsVerified,
		&user.IsStaff,
		&user.DateJoined,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// # User Repository

// PostgresUserRepository implements the UserRepository interface using pgx.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new PostgreSQL implementation of the UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

/*
Create persists a new user record into the users.account table.

Description: Deep-persists account metadata, ensuring timestamps are
initialized if not provided. Unique violations on email or username are
returned unwrapped to domain-error types so the caller can distinguish which
column collided.

Parameters:
  - context: context.Context
  - user: *User (Entity to persist)

Returns:
  - error: Database constraint violations or connectivity errors
*/
func (repository *PostgresUserRepository) Create(context context.Context, user *User) error {
	const query = `
		INSERT INTO users.account (
			id, username, email, passwordhash, firstname, lastname, bio, gender,
			city, state, country, birthdate, avatarurl, isactive, isverified,
			isstaff, datejoined, updatedat
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	now := time.Now()
	if user.DateJoined.IsZero() {
		user.DateJoined = now
	}
	user.UpdatedAt = now

	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.Gender,
		user.City,
		user.State,
		user.Country,
		user.BirthDate,
		user.AvatarURL,
		user.IsActive,
		user.IsVerified,
		user.IsStaff,
		user.DateJoined,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_user_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindByEmail retrieves a user record by their email address.

Description: Case-insensitive lookup on the account table; registration
lowercases emails but historical rows may predate that rule.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByEmail(context context.Context, email string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(repository.pool.QueryRow(context, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User not found with this email")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_email_failed: %w", err)
	}

	return user, nil
}

/*
FindByUsername retrieves a user record by their unique username.

Parameters:
  - context: context.Context
  - username: string

Returns:
  - *User: Hydrated account entity
  - error: apperr.NotFound or database errors
*/
func (repository *PostgresUserRepository) FindByUsername(context context.Context, username string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE username = $1`

	user, err := scanUser(repository.pool.QueryRow(context, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User not found with this username")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_username_failed: %w", err)
	}

	return user, nil
}

/*
FindByID retrieves a user record by their unique ID.

Description: Primary key resolution for user accounts.

Parameters:
  - context: context.Context
  - id: string (UUIDv7)

Returns:
  - *User: Hydrated account entity
  - error: Not found or execution errors
*/
func (repository *PostgresUserRepository) FindByID(context context.Context, id string) (*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users.account
		WHERE id = $1`

	user, err := scanUser(repository.pool.QueryRow(context, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("postgres_user_repo_find_by_id_failed: %w", err)
	}

	return user, nil
}

/*
Update persists changes to a user's mutable profile fields.

Description: Synchronizes the in-memory user state with the database,
refreshing the updatedat timestamp. Identity fields (email, username,
passwordhash) are deliberately excluded.

Parameters:
  - context: context.Context
  - user: *User

Returns:
  - error: Update failures
*/
func (repository *PostgresUserRepository) Update(context context.Context, user *User) error {
	const query = `
		UPDATE users.account
		SET firstname = $2, lastname = $3, bio = $4, gender = $5, city = $6,
		    state = $7, country = $8, birthdate = $9, avatarurl = $10, updatedat = $11
		WHERE id = $1`

	user.UpdatedAt = time.Now()
	_, err := repository.pool.Exec(context, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Bio,
		user.Gender,
		user.City,
		user.State,
		user.Country,
		user.BirthDate,
		user.AvatarURL,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_user_repo_update_failed: %w", err)
	}

	return nil
}

/*
MarkVerified updates the user's status to isverified = true.

Description: Post-verification cleanup to activate the account.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - error: Database errors
*/
func (repository *PostgresUserRepository) MarkVerified(context context.Context, userID string) error {
	const query = "UPDATE users.account SET isverified = TRUE, updatedat = $2 WHERE id = $1"
	_, err := repository.pool.Exec(context, query, userID, time.Now())
	if err != nil {
		return fmt.Errorf("postgres_user_repo_mark_verified_failed: %w", err)
	}
	return nil
}

// # OTP Repository

// PostgresOtpRepository implements the OtpRepository interface using pgx.
type PostgresOtpRepository struct {
	pool *pgxpool.Pool
}

// NewOtpRepository creates a new PostgreSQL implementation of OtpRepository.
func NewOtpRepository(pool *pgxpool.Pool) *PostgresOtpRepository {
	return &PostgresOtpRepository{pool: pool}
}

/*
Create persists a new verification code into the users.otp table.

Parameters:
  - context: context.Context
  - entry: *OtpEntry

Returns:
  - error: Storage failures
*/
func (repository *PostgresOtpRepository) Create(context context.Context, entry *OtpEntry) error {
	const query = `
		INSERT INTO users.otp (id, userid, code, createdat)
		VALUES ($1, $2, $3, $4)`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := repository.pool.Exec(context, query,
		entry.ID,
		entry.UserID,
		entry.Code,
		entry.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("postgres_otp_repo_create_failed: %w", err)
	}

	return nil
}

/*
FindLatest retrieves the user's newest pending code.

Description: Ordered by creation time descending so retried registrations
always resolve to the most recent email.

Parameters:
  - context: context.Context
  - userID: string

Returns:
  - *OtpEntry: The newest entry
  - error: apperr.NotFound or execution errors
*/
func (repository *PostgresOtpRepository) FindLatest(context context.Context, userID string) (*OtpEntry, error) {
	const query = `
		SELECT id, userid, code, createdat
		FROM users.otp
		WHERE userid = $1
		ORDER BY createdat DESC
		LIMIT 1`

	entry := &OtpEntry{}
	err := repository.pool.QueryRow(context, query, userID).Scan(
		&entry.ID,
		&entry.UserID,
		&entry.Code,
		&entry.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("OTP not found for this user")
		}
		return nil, fmt.Errorf("postgres_otp_repo_find_latest_failed: %w", err)
	}

	return entry, nil
}

/*
Consume atomically deletes the user's newest pending code.

Description: Implements the lock-and-recheck protocol required by the
[OtpRepository] contract. The newest row is locked FOR UPDATE, its identity is
re-checked against entryID (a concurrent consumer may have won the race while
we waited on the lock), the row is deleted, and beforeCommit runs inside the
same transaction so a failed side effect rolls the deletion back.

Parameters:
  - context: context.Context
  - userID: string
  - entryID: string
  - beforeCommit: func() error

Returns:
  - error: apperr.Unauthorized on a lost race; storage failures otherwise
*/
func (repository *PostgresOtpRepository) Consume(context context.Context, userID, entryID string, beforeCommit func() error) error {
	err := pgx.BeginFunc(context, repository.pool, func(transaction pgx.Tx) error {
		const lockQuery = `
			SELECT id
			FROM users.otp
			WHERE userid = $1
			ORDER BY createdat DESC
			LIMIT 1
			FOR UPDATE`

		var lockedID string
		if err := transaction.QueryRow(context, lockQuery, userID).Scan(&lockedID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				// Already consumed by a concurrent request.
				return apperr.Unauthorized("Invalid or expired OTP")
			}
			return fmt.Errorf("postgres_otp_repo_lock_failed: %w", err)
		}

		// The newest entry changed while we waited on the lock.
		if lockedID != entryID {
			return apperr.Unauthorized("Invalid or expired OTP")
		}

		const deleteQuery = "DELETE FROM users.otp WHERE id = $1"
		if _, err := transaction.Exec(context, deleteQuery, lockedID); err != nil {
			return fmt.Errorf("postgres_otp_repo_delete_failed: %w", err)
		}

		if beforeCommit != nil {
			return beforeCommit()
		}
		return nil
	})

	return err
}

/*
Delete removes a single verification code by its ID.

Description: Used to destroy an entry found past its validity window, so a
stale code cannot linger as the user's newest entry. A row that is already
gone is not an error.

Parameters:
  - context: context.Context
  - entryID: string

Returns:
  - error: Execution errors
*/
func (repository *PostgresOtpRepository) Delete(context context.Context, entryID string) error {
	const query = "DELETE FROM users.otp WHERE id = $1"

	if _, err := repository.pool.Exec(context, query, entryID); err != nil {
		return fmt.Errorf("postgres_otp_repo_delete_failed: %w", err)
	}

	return nil
}
