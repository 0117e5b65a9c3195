// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Backing out of the optional directory prompt (Esc or Ctrl+C in the form)
// means "keep the default", not "abandon setup": by this point provisioning
// has already succeeded and the completion marker must still be written.
func TestCancelledDirectoryPromptKeepsDefault(t *testing.T) {
	dir, err := cancelKeepsDefault(huh.ErrUserAborted)
	require.NoError(t, err)
	assert.Empty(t, dir)

	// huh may wrap the abort; the mapping follows the chain.
	dir, err = cancelKeepsDefault(fmt.Errorf("running form: %w", huh.ErrUserAborted))
	require.NoError(t, err)
	assert.Empty(t, dir)
}

func TestDirectoryPromptFailuresStillPropagate(t *testing.T) {
	_, err := cancelKeepsDefault(context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
}
