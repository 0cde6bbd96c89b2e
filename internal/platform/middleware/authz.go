// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package middleware

import (
	"net/http"
	"strings"

	"github.com/aharahq/ahara/internal/platform/constants"
	"github.com/aharahq/ahara/internal/platform/ctxutil"
	"github.com/aharahq/ahara/internal/platform/sec"
)

// TokenVerifier validates a signed access token into claims.
type TokenVerifier interface {
	VerifyAccessToken(tokenString string) (*sec.AuthClaims, error)
}

/*
Authenticate extracts and validates the Bearer token from the Authorization header.

This middleware is non-blocking: if the token is missing or invalid, the request
proceeds anonymously. Use RequireAuth on routes that must reject anonymous access.

Parameters:
  - verifier: The token service used to check signatures and expiry.

Returns:
  - func(http.Handler) http.Handler: Standard middleware decorator.
*/
func Authenticate(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			// 1. Read the Authorization header
			authHeader := request.Header.Get(constants.HeaderAuthorization)
			if authHeader == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// 2. Expect the "Bearer <token>" scheme
			scheme, token, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
				next.ServeHTTP(writer, request)
				return
			}

			// 3. Verify signature, expiry, and token type
			claims, err := verifier.VerifyAccessToken(token)
			if err != nil {
				// Invalid tokens degrade to anonymous rather than failing here;
				// protected routes reject via RequireAuth with a stable message.
				next.ServeHTTP(writer, request)
				return
			}

			// 4. Inject the authenticated identity into the context
			ctx := ctxutil.WithAuthUser(request.Context(), claims)
			next.ServeHTTP(writer, request.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests that did not authenticate successfully.
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {

			if ctxutil.GetAuthUser(request.Context()) == nil {
				writeError(writer, http.StatusUnauthorized, "AUTHENTICATION_FAILED", "Authentication required")
				return
			}

			next.ServeHTTP(writer, request)
		})
	}
}
