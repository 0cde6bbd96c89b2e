// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

// Package username derives account usernames from email addresses.
//
// # Usage
//
// Registration never asks the member for a username. Instead the local part
// of their email is normalized into a base candidate ("anu.sharma@x.com" →
// "anu.sharma"), and the auth service appends a numeric suffix when the base
// is already reserved.
package username

import (
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback is used when normalization leaves nothing usable.
const Fallback = "user"

// FromEmail returns the normalized base username for an email address.
//
// # Transformation Pipeline
//
// 1. Takes the local part (everything before the first '@').
// 2. Normalizes to NFD and strips combining marks (é → e).
// 3. Lowercases the result.
// 4. Replaces anything outside letters, digits and @ . + - _ with '_'.
// 5. Falls back to "user" when the result is empty.
func FromEmail(email string) string {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	return Normalize(local)
}

// Normalize sanitizes an arbitrary string into a valid username base.
func Normalize(s string) string {
	// 1. Decompose accented characters and drop the combining marks
	t := transform.Chain(norm.NFD, transform.RemoveFunc(isMn))
	result, _, _ := transform.String(t, strings.TrimSpace(s))

	// 2. Lowercase
	result = strings.ToLower(result)

	// 3. Keep only the characters the username column accepts
	result = strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '_'
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		switch r {
		case '@', '.', '+', '-', '_':
			return r
		}
		return '_'
	}, result)

	if result == "" {
		return Fallback
	}
	return result
}

// isMn reports whether the rune is a Unicode nonspacing mark (category Mn).
func isMn(r rune) bool {
	return unicode.Is(unicode.Mn, r)
}
