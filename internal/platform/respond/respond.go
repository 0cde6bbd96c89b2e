// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

// Package respond provides HTTP response helpers used by all API handlers.
//
// # Architecture
//
// This package centralizes the presentation logic for HTTP responses.
// Every response (Success or Error) across the entire application follows
// one envelope shape:
//
//	{"status": {"code": 200, "message": "Logged in"}, "data": {...}, "errors": null}
//
// This consistency is crucial for the SPA client to parse data robustly.
// The error-kind → HTTP-status mapping is owned by [apperr]; this package
// only consults it at the boundary.
package respond

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aharahq/ahara/internal/platform/apperr"
	"github.com/aharahq/ahara/internal/platform/ctxkey"
)

// Status is the machine-and-human readable outcome block of every envelope.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is the uniform JSON shape for every API response.
type Envelope struct {
	Status Status      `json:"status"`
	Data   interface{} `json:"data"`
	Errors interface{} `json:"errors"`
}

// JSON writes an envelope with the given status code.
func JSON(writer http.ResponseWriter, statusCode int, payload Envelope) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(statusCode)
	_ = json.NewEncoder(writer).Encode(payload)
}

// OK writes a 200 response with data wrapped in the standard envelope.
func OK(writer http.ResponseWriter, message string, data interface{}) {
	JSON(writer, http.StatusOK, Envelope{
		Status: Status{Code: http.StatusOK, Message: message},
		Data:   data,
	})
}

// Created writes a 201 response with data wrapped in the standard envelope.
func Created(writer http.ResponseWriter, message string, data interface{}) {
	JSON(writer, http.StatusCreated, Envelope{
		Status: Status{Code: http.StatusCreated, Message: message},
		Data:   data,
	})
}

// Error converts any Go error into a standardized JSON API error response.
func Error(writer http.ResponseWriter, request *http.Request, err error) {
	var appError *apperr.AppError
	if !errors.As(err, &appError) {
		// Unexpected internal error: log full details but hide them from the client for security.
		logger := getLoggerFromContext(request)
		logger.ErrorContext(request.Context(), "unhandled_error_swallowed",
			slog.String("error", err.Error()),
			slog.String("request_id", getRequestIDFromContext(request)),
		)
		appError = apperr.Internal(err)
	}

	// Always log 5xx errors as they indicate server-side issues.
	if appError.HTTPStatus >= 500 {
		logger := getLoggerFromContext(request)
		logger.ErrorContext(request.Context(), "api_server_error",
			slog.String("code", appError.Code),
			slog.String("request_id", getRequestIDFromContext(request)),
			slog.Any("cause", appError.Cause),
		)
	}

	// Field-level details take the errors slot when present; otherwise a
	// single-detail object keeps the shape predictable for the client.
	var errorsPayload interface{}
	if len(appError.Details) > 0 {
		errorsPayload = appError.Details
	} else {
		errorsPayload = map[string]string{"detail": appError.Message}
	}

	JSON(writer, appError.HTTPStatus, Envelope{
		Status: Status{Code: appError.HTTPStatus, Message: appError.Message},
		Errors: errorsPayload,
	})
}

// getLoggerFromContext extracts the per-request logger.
func getLoggerFromContext(request *http.Request) *slog.Logger {
	if logger, ok := request.Context().Value(ctxkey.KeyLogger).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}

// getRequestIDFromContext extracts the X-Request-ID for log correlation.
func getRequestIDFromContext(request *http.Request) string {
	if id, ok := request.Context().Value(ctxkey.KeyRequestID).(string); ok {
		return id
	}
	return ""
}
