// Copyright (c) 2026 Ahara. All rights reserved.
// Author: dev@ahara.app

package username_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aharahq/ahara/pkg/username"
)

/*
TestFromEmail verifies local-part extraction and normalization.
*/
func TestFromEmail(t *testing.T) {
	testCases := []struct {
		name     string
		email    string
		expected string
	}{
		{"simple", "jane@example.com", "jane"},
		{"uppercase folds", "Jane.Doe@Example.com", "jane.doe"},
		{"plus addressing kept", "jane+news@example.com", "jane+news"},
		{"accents stripped", "josé@example.com", "jose"},
		{"disallowed runes replaced", "ja ne!@example.com", "ja_ne_"},
		{"no at sign", "plainstring", "plainstring"},
		{"empty local part", "@example.com", username.Fallback},
		{"empty input", "", username.Fallback},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Equal(t, testCase.expected, username.FromEmail(testCase.email))
		})
	}
}

/*
TestNormalize verifies the character set contract directly.
*/
func TestNormalize(t *testing.T) {
	assert.Equal(t, "jane-doe_99", username.Normalize("Jane-Doe_99"))
	assert.Equal(t, username.Fallback, username.Normalize("   "))
}
