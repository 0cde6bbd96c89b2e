// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package auth

import (
	"context"
	"time"
)

// # User Data Access

// UserRepository defines the data access contract for user accounts.
type UserRepository interface {

	/*
		FindByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByID(context context.Context, id string) (*User, error)

	/*
		FindByEmail returns the account with the given email.
		The lookup is case-insensitive.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByEmail(context context.Context, email string) (*User, error)

	/*
		FindByUsername returns the account with the given username.

		Parameters:
		  - context: context.Context
		  - username: string

		Returns:
		  - *User: Hydrated entity
		  - error: Database retrieval failures
	*/
	FindByUsername(context context.Context, username string) (*User, error)

	/*
		Create persists a brand-new user account to the storage.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: Persistence failures (including unique-constraint conflicts)
	*/
	Create(context context.Context, user *User) error

	/*
		Update persists changes to mutable profile fields.

		Parameters:
		  - context: context.Context
		  - user: *User

		Returns:
		  - error: Persistence failures
	*/
	Update(context context.Context, user *User) error

	/*
		MarkVerified updates the user's status to isverified = true.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - error: Persistence failures
	*/
	MarkVerified(context context.Context, userID string) error
}

// # OTP Data Access

// OtpRepository defines the data access contract for pending verification codes.
type OtpRepository interface {

	/*
		Create persists a fresh verification code for the user.

		Parameters:
		  - context: context.Context
		  - entry: *OtpEntry

		Returns:
		  - error: Persistence failures
	*/
	Create(context context.Context, entry *OtpEntry) error

	/*
		FindLatest returns the user's newest pending code.

		Parameters:
		  - context: context.Context
		  - userID: string

		Returns:
		  - *OtpEntry: The newest entry by creation time
		  - error: apperr.NotFound when the user has no pending codes
	*/
	FindLatest(context context.Context, userID string) (*OtpEntry, error)

	/*
		Consume atomically deletes the user's newest pending code, provided it
		is still the entry identified by entryID.

		The implementation must take a row lock, re-check that the newest entry
		is still entryID after acquiring it, delete the row, and then invoke
		beforeCommit inside the same transaction. If beforeCommit returns an
		error the deletion is rolled back and the code remains usable.

		Under concurrent calls for the same entry, exactly one call succeeds.

		Parameters:
		  - context: context.Context
		  - userID: string
		  - entryID: string
		  - beforeCommit: func() error

		Returns:
		  - error: apperr.Unauthorized when the entry was already consumed or
		    superseded; persistence failures otherwise
	*/
	Consume(context context.Context, userID, entryID string, beforeCommit func() error) error

	/*
		Delete removes a single pending code by its ID. Deleting an entry that
		no longer exists is not an error.

		Parameters:
		  - context: context.Context
		  - entryID: string

		Returns:
		  - error: Persistence failures
	*/
	Delete(context context.Context, entryID string) error
}

// # Revocation Data Access

// RevocationRegistry defines the contract for the refresh-token deny list.
type RevocationRegistry interface {

	/*
		Revoke records a refresh-token identifier as unusable until its
		natural expiry.

		The write must be atomic with the existence check: when two callers
		revoke the same jti at the same time, exactly one observes first=true.
		Rotation relies on this to reject the loser of a simultaneous replay.

		Parameters:
		  - context: context.Context
		  - jti: string
		  - expiresAt: time.Time

		Returns:
		  - bool: true when this call placed the jti on the deny list,
		    false when it was already there
		  - error: Persistence failures
	*/
	Revoke(context context.Context, jti string, expiresAt time.Time) (bool, error)

	/*
		IsRevoked reports whether the identifier has been revoked.

		Parameters:
		  - context: context.Context
		  - jti: string

		Returns:
		  - bool: true when the jti is on the deny list
		  - error: Retrieval failures
	*/
	IsRevoked(context context.Context, jti string) (bool, error)
}
