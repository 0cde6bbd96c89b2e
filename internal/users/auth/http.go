// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

/*
This file provides the HTTP delivery layer for user identity management.

It implements the gateway for the authentication lifecycle, from account
creation through OTP verification to session rotation and logout.

# Architecture

The handler acts as a thin mediation layer between the web and domain services:
  - Protocol: Standard RESTful JSON interface under /api/v1/auth.
  - Security: Handles JWT orchestration and refresh token cookie injection.
  - Verification: Enforces strict input validation before passing to [Service].

This layer is strictly responsible for transport concerns (status codes,
headers, cookies, JSON).
*/
package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aharahq/ahara/internal/platform/apperr"
	"github.com/aharahq/ahara/internal/platform/constants"
	"github.com/aharahq/ahara/internal/platform/middleware"
	requestutil "github.com/aharahq/ahara/internal/platform/request"
	"github.com/aharahq/ahara/internal/platform/respond"
	"github.com/aharahq/ahara/internal/platform/validate"
)

// birthDateLayout is the wire format for the birth_date profile field.
const birthDateLayout = "2006-01-02"

// # Definitions & Constructors

// CookieSettings describes how the refresh-token cookie is written.
//
// The values depend on deployment: a cross-site SPA needs SameSite=None with
// Secure, while a same-site deployment downgrades to Lax.
type CookieSettings struct {
	Name     string
	Path     string
	Secure   bool
	SameSite http.SameSite
}

// Handler implements authentication-related HTTP endpoints.
//
// # Scope
//
// This handler manages everything related to the user lifecycle entry points
// (Registration, OTP verification, Login, Session rotation, Profile).
type Handler struct {
	authService *Service
	cookies     CookieSettings
	throttler   *middleware.Throttler
}

// NewHandler constructs a new [Handler] with its dependencies.
// A nil throttler disables throttling; tests rely on this.
func NewHandler(service *Service, cookies CookieSettings, throttler *middleware.Throttler) *Handler {
	return &Handler{authService: service, cookies: cookies, throttler: throttler}
}

// Routes returns a [chi.Router] configured with authentication-specific routes.
//
// # Endpoints
//   - POST /register   : Creates a new account and issues an OTP.
//   - POST /verify-otp : Redeems the OTP and establishes a session.
//   - POST /login      : Authenticates and returns a JWT.
//   - POST /refresh    : Rotates the refresh cookie.
//   - POST /logout     : Revokes the refresh token (idempotent).
//   - GET  /me         : Returns the authenticated profile.
//   - PATCH /me        : Partially updates the authenticated profile.
//
// Throttle scopes are declared statically here, next to the route they guard.
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	router.With(
		handler.throttle(ScopeSignup, constants.SignupRatePerMinute, middleware.KeyByIP),
	).Post("/register", handler.register)

	router.With(
		handler.throttle(ScopeLoginIP, constants.LoginIPRatePerMinute, middleware.KeyByIP),
		handler.throttle(ScopeLoginUser, constants.LoginUserRatePerMinute, middleware.KeyByBodyEmail),
	).Post("/login", handler.login)

	router.With(
		handler.throttle(ScopeVerifyOtpIP, constants.VerifyOtpIPRatePerMinute, middleware.KeyByIP),
		handler.throttle(ScopeVerifyOtpUser, constants.VerifyOtpUserRatePerMinute, middleware.KeyByBodyEmail),
	).Post("/verify-otp", handler.verifyOtp)

	// Cookie-based, not access-token-based.
	router.Post("/refresh", handler.refresh)
	router.Post("/logout", handler.logout)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth())
		r.Get("/me", handler.me)
		r.Patch("/me", handler.updateMe)
	})

	return router
}

// throttle builds a scoped rate-limit middleware, or a pass-through when no
// throttler is configured.
func (handler *Handler) throttle(name string, perMinute int, key func(*http.Request) string) func(http.Handler) http.Handler {
	if handler.throttler == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return handler.throttler.Limit(middleware.ThrottleScope{
		Name:      name,
		PerMinute: perMinute,
		Key:       key,
	})
}

// # Request Payloads

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyOtpRequest struct {
	Email string `json:"email"`
	Otp   int    `json:"otp"`
}

type updateProfileRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Bio       *string `json:"bio"`
	Gender    *string `json:"gender"`
	City      *string `json:"city"`
	State     *string `json:"state"`
	Country   *string `json:"country"`
	BirthDate *string `json:"birth_date"`
	AvatarURL *string `json:"avatar_url"`
}

/*
Register handles the creation of a new user account.

POST /api/v1/auth/register

Description: Validates input, derives a username from the email local part,
persists the account, and issues the verification OTP. No tokens yet.

Request:
  - Body: registerRequest (Email, Password)

Response:
  - 201: Created profile summary (id, username, email, date_joined)
  - 400: ErrInvalidJSON: Bad input or validation failure
  - 409: ErrConflict: Email already registered
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password).
		Password(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.authService.Register(request.Context(), RegisterInput{
		Email:    input.Email,
		Password: input.Password,
	})

	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, "User registered. OTP sent to email.", map[string]any{
		"id":          user.ID,
		FieldUsername: user.Username,
		FieldEmail:    user.Email,
		"date_joined": user.DateJoined,
	})
}

/*
Login authenticates a user and establishes a session.

POST /api/v1/auth/login

Description: Verifies credentials, returns the access token in the body, and
injects the refresh token as an HttpOnly cookie.

Request:
  - Body: loginRequest (Email, Password)

Response:
  - 200: Session: Access token and profile summary
  - 401: ErrUnauthorized: Invalid credentials or disabled account
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.authService.Login(request.Context(), LoginInput{
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, session.RefreshToken, session.RefreshTokenExpiresAt)

	respond.OK(writer, "Logged in", map[string]any{
		"id":          session.User.ID,
		FieldUsername: session.User.Username,
		FieldEmail:    session.User.Email,
		FieldAccess:   session.AccessToken,
	})
}

/*
VerifyOtp redeems an emailed verification code.

POST /api/v1/auth/verify-otp

Description: Consumes the user's newest pending OTP (single-use, race-safe)
and establishes a session exactly like login.

Request:
  - Body: verifyOtpRequest (Email, Otp)

Response:
  - 200: Session: Access token and verified profile summary
  - 401: ErrUnauthorized: Missing, expired, mismatched, or consumed OTP
*/
func (handler *Handler) verifyOtp(writer http.ResponseWriter, request *http.Request) {
	var input verifyOtpRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Email(FieldEmail, input.Email).
		Custom(FieldOtp, input.Otp < OtpMin || input.Otp > OtpMax, "must be a six digit code")

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	session, err := handler.authService.VerifyOtp(request.Context(), VerifyOtpInput{
		Email: input.Email,
		Otp:   input.Otp,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, session.RefreshToken, session.RefreshTokenExpiresAt)

	respond.OK(writer, "OTP verified", map[string]any{
		"id":          session.User.ID,
		FieldUsername: session.User.Username,
		FieldEmail:    session.User.Email,
		FieldVerified: true,
		FieldAccess:   session.AccessToken,
	})
}

/*
Refresh rotates the session using the refresh cookie.

POST /api/v1/auth/refresh

Description: Validates the refresh cookie, revokes its jti, and issues a
fresh access token plus an updated refresh cookie.

Response:
  - 200: RefreshResponse: New access token
  - 401: ErrUnauthorized: Missing, invalid, expired, or revoked refresh token
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(handler.cookies.Name)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, apperr.Unauthorized("No refresh cookie present."))
		return
	}

	session, err := handler.authService.RefreshSession(request.Context(), cookie.Value)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	handler.setRefreshCookie(writer, session.RefreshToken, session.RefreshTokenExpiresAt)

	respond.OK(writer, "Token refreshed", map[string]any{
		FieldAccess: session.AccessToken,
	})
}

/*
Logout terminates the current session.

POST /api/v1/auth/logout

Description: Revokes the refresh token (if a valid one is presented) and
clears the cookie. Always succeeds, including with no cookie at all.

Response:
  - 200: {ok: true}: Session terminated
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	if cookie, err := request.Cookie(handler.cookies.Name); err == nil && cookie.Value != "" {
		handler.authService.Logout(request.Context(), cookie.Value)
	}

	handler.clearRefreshCookie(writer)

	respond.OK(writer, "Logged out", map[string]any{
		"ok": true,
	})
}

/*
Me returns the authenticated user's profile.

GET /api/v1/auth/me

Response:
  - 200: User: Full profile projection
  - 401: ErrUnauthorized: Authentication required
*/
func (handler *Handler) me(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	user, err := handler.authService.GetProfile(request.Context(), userID)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, "Current user", user)
}

/*
UpdateMe partially updates the authenticated user's profile.

PATCH /api/v1/auth/me

Description: PATCH semantics; absent fields are untouched. Identity fields
(email, username, password) are not modifiable here.

Request:
  - Body: updateProfileRequest (all fields optional)

Response:
  - 200: User: Updated profile projection
  - 400: ErrInvalidJSON: Malformed body or invalid birth_date
  - 401: ErrUnauthorized: Authentication required
*/
func (handler *Handler) updateMe(writer http.ResponseWriter, request *http.Request) {
	userID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input updateProfileRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	update := UpdateProfileInput{
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Bio:       input.Bio,
		Gender:    input.Gender,
		City:      input.City,
		State:     input.State,
		Country:   input.Country,
		AvatarURL: input.AvatarURL,
	}

	if input.BirthDate != nil {
		parsed, parseErr := time.Parse(birthDateLayout, *input.BirthDate)
		if parseErr != nil {
			respond.Error(writer, request, validate.RequiredError(FieldBirthDate, "must be formatted as YYYY-MM-DD"))
			return
		}
		update.BirthDate = &parsed
	}

	user, err := handler.authService.UpdateProfile(request.Context(), userID, update)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, "Current user", user)
}

// # Cookie Management

// setRefreshCookie writes the refresh token using the configured attributes.
func (handler *Handler) setRefreshCookie(writer http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     handler.cookies.Name,
		Value:    token,
		Path:     handler.cookies.Path,
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt) / time.Second),
		Secure:   handler.cookies.Secure,
		HttpOnly: true,
		SameSite: handler.cookies.SameSite,
	})
}

// clearRefreshCookie expires the refresh cookie on the client.
func (handler *Handler) clearRefreshCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     handler.cookies.Name,
		Value:    "",
		Path:     handler.cookies.Path,
		MaxAge:   -1,
		Secure:   handler.cookies.Secure,
		HttpOnly: true,
		SameSite: handler.cookies.SameSite,
	})
}
