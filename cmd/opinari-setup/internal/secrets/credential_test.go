// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package secrets

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialRoundTrip(t *testing.T) {
	c := NewCredentialFromString("sk-test-1234")
	require.False(t, c.Empty())

	var seen string
	err := c.Use(func(plaintext []byte) error {
		seen = string(plaintext)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "sk-test-1234", seen)

	// Reusable: the enclave survives an Open/Destroy cycle.
	err = c.Use(func(plaintext []byte) error {
		assert.Equal(t, "sk-test-1234", string(plaintext))
		return nil
	})
	require.NoError(t, err)
}

func TestEmptyCredential(t *testing.T) {
	for _, c := range []*Credential{nil, {}, NewCredentialFromString("")} {
		assert.True(t, c.Empty())
		_, err := c.Open()
		assert.ErrorIs(t, err, ErrEmpty)
	}
}

func TestFormattingNeverLeaks(t *testing.T) {
	c := NewCredentialFromString("sk-supersecret")

	for _, rendered := range []string{
		fmt.Sprintf("%v", c),
		fmt.Sprintf("%s", c),
		fmt.Sprintf("%#v", c),
	} {
		assert.NotContains(t, rendered, "supersecret")
		assert.Contains(t, rendered, "redacted")
	}
}
