// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarBounds(t *testing.T) {
	// Out-of-range inputs clamp instead of panicking on negative repeats.
	assert.Contains(t, ProgressBar(-10, 10), "0%")
	assert.Contains(t, ProgressBar(250, 10), "100%")
	assert.Contains(t, ProgressBar(50, 10), "50%")
}

func TestIconRenderFallsBackToRawGlyph(t *testing.T) {
	// Unstyled icons pass through unchanged.
	assert.True(t, strings.Contains(IconArrow.Render(), string(IconArrow)))
	assert.True(t, strings.Contains(IconSuccess.Render(), string(IconSuccess)))
}
