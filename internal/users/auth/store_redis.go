// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aharahq/ahara/internal/platform/constants"
	"github.com/aharahq/ahara/internal/platform/sec"
)

// # Revocation Registry

// RedisRevocationRegistry implements RevocationRegistry using Redis.
//
// Each revoked jti is stored as a key with a TTL equal to the time remaining
// until the token's natural expiry, so the registry is self-cleaning: once
// the token would have expired anyway, the deny-list entry evaporates.
type RedisRevocationRegistry struct {
	client *redis.Client
}

// NewRevocationRegistry creates a new Redis-backed RevocationRegistry.
func NewRevocationRegistry(client *redis.Client) *RedisRevocationRegistry {
	return &RedisRevocationRegistry{client: client}
}

/*
Revoke records a refresh-token identifier on the deny list.

Description: Atomic revoke-and-detect through SET NX. The first caller for a
given jti writes the entry and reports first=true; every later caller finds
the key already present and reports first=false. Two simultaneous rotations
of the same token therefore resolve to exactly one winner inside Redis.

Parameters:
  - context: context.Context
  - jti: string
  - expiresAt: time.Time

Returns:
  - bool: true when this call placed the jti on the deny list
  - error: Execution errors
*/
func (registry *RedisRevocationRegistry) Revoke(context context.Context, jti string, expiresAt time.Time) (bool, error) {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Clock leeway lets a token within seconds past 'exp' still verify,
		// so the entry must outlive that window rather than be skipped.
		ttl = sec.TokenLeeway
	}

	key := constants.RedisPrefixRevokedJti + jti
	first, err := registry.client.SetNX(context, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis_revocation_set_failed: %w", err)
	}

	return first, nil
}

/*
IsRevoked reports whether the identifier is on the deny list.

Parameters:
  - context: context.Context
  - jti: string

Returns:
  - bool: true when revoked
  - error: Connectivity errors
*/
func (registry *RedisRevocationRegistry) IsRevoked(context context.Context, jti string) (bool, error) {
	key := constants.RedisPrefixRevokedJti + jti

	count, err := registry.client.Exists(context, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis_revocation_exists_failed: %w", err)
	}

	return count > 0, nil
}
