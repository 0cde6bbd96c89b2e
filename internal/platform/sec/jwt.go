// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

// Package sec provides cryptographic primitives and token management.
//
// # Architecture
//
// This package isolates security-sensitive code (Hashing, JWT Signing) from
// the domain logic. It acts as an Infrastructure service injected into the
// Application layer via the [auth.TokenProvider] interface.
//
// Both token kinds are self-contained HS256-signed claim sets: verification
// needs no server-side state beyond the shared secret. Refresh tokens
// additionally carry a 'jti' so the revocation registry can kill a rotated
// token before its natural expiry.
package sec

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aharahq/ahara/pkg/uuid"
)

// TokenLeeway is the clock-skew window accepted when validating 'exp'/'iat'.
const TokenLeeway = 30 * time.Second

// Token type discriminators embedded in the 'typ' claim. They prevent a
// refresh token from being replayed as an access token and vice versa.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// minSecretLength guards against trivially brute-forceable HMAC keys.
const minSecretLength = 32

// AuthClaims represents the payload embedded inside a JWT Access Token.
//
// # Why custom claims?
//
// By embedding the UserID and Username directly inside the JWT, the
// [middleware.Authenticate] chain can reconstruct the active user context
// WITHOUT querying the database on every single API request.
type AuthClaims struct {
	jwt.RegisteredClaims

	// Custom application claims are abbreviated to keep the JWT payload small.
	UserID    string `json:"uid"`
	Username  string `json:"unm"`
	TokenType string `json:"typ"`
}

// RefreshClaims represents the payload embedded inside a JWT Refresh Token.
//
// The RegisteredClaims.ID field ('jti') is the revocation key: rotation and
// logout store it in the revocation registry until the token's natural expiry.
type RefreshClaims struct {
	jwt.RegisteredClaims

	TokenType string `json:"typ"`
}

// TokenService handles generation and verification of JWT tokens using HS256.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a new TokenService from a shared HMAC secret.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("sec: JWT secret must be at least %d bytes", minSecretLength)
	}

	return &TokenService{
		secret: []byte(secret),
		issuer: issuer,
	}, nil
}

// GenerateAccessToken creates a new short-lived JWT access token for a user.
//
// Access tokens are never individually revocable; their blast radius is
// bounded only by the short TTL.
func (service *TokenService) GenerateAccessToken(userID, username string, timeToLive time.Duration) (string, error) {
	currentTime := time.Now()
	claims := AuthClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(currentTime.Add(timeToLive)),
		},
		UserID:    userID,
		Username:  username,
		TokenType: TokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(service.secret)
	if err != nil {
		return "", fmt.Errorf("sec: failed to sign access token: %w", err)
	}

	return signedToken, nil
}

// GenerateRefreshToken creates a new long-lived JWT refresh token for a user.
//
// # Returns
//   - The signed token string for cookie transport.
//   - The unique 'jti' identifier, used as the revocation key on rotation.
//   - The absolute expiry, used to align the cookie's Expires attribute.
func (service *TokenService) GenerateRefreshToken(userID string, timeToLive time.Duration) (string, string, time.Time, error) {
	currentTime := time.Now()
	expiresAt := currentTime.Add(timeToLive)
	jti := uuid.New()

	claims := RefreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			Issuer:    service.issuer,
			IssuedAt:  jwt.NewNumericDate(currentTime),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		TokenType: TokenTypeRefresh,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(service.secret)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("sec: failed to sign refresh token: %w", err)
	}

	return signedToken, jti, expiresAt, nil
}

// VerifyAccessToken checks the signature and validity of an access token string.
func (service *TokenService) VerifyAccessToken(tokenString string) (*AuthClaims, error) {
	claims := &AuthClaims{}
	if err := service.parseInto(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("sec: token is not an access token")
	}

	return claims, nil
}

// VerifyRefreshToken checks the signature and validity of a refresh token string.
//
// Revocation is NOT checked here — the token is stateless. The caller must
// consult the revocation registry with the returned 'jti'.
func (service *TokenService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := service.parseInto(tokenString, claims); err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeRefresh || claims.ID == "" {
		return nil, fmt.Errorf("sec: token is not a refresh token")
	}

	return claims, nil
}

// parseInto parses and validates a signed token string into the given claims.
func (service *TokenService) parseInto(tokenString string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("sec: unexpected signing method: %v", token.Header["alg"])
		}
		return service.secret, nil
	},
		jwt.WithIssuer(service.issuer),
		jwt.WithLeeway(TokenLeeway),
	)

	if err != nil {
		return fmt.Errorf("sec: invalid token: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("sec: invalid token claims")
	}

	return nil
}
