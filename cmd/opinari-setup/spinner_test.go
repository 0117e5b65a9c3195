// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a bytes.Buffer for the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinnerWritesAndClears(t *testing.T) {
	out := &syncBuffer{}
	s := NewSpinner("working")
	s.writer = out
	s.interval = 5 * time.Millisecond

	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.SetMessage("still working")
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	rendered := out.String()
	assert.Contains(t, rendered, "working")
	assert.Contains(t, rendered, "still working")
	// The final write clears the line.
	assert.True(t, strings.HasSuffix(rendered, "\r\033[K"))
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	s := NewSpinner("noop")
	// Must not panic or block.
	s.Stop()
	s.Stop()
}

func TestSpinnerDoubleStart(t *testing.T) {
	out := &syncBuffer{}
	s := NewSpinner("once")
	s.writer = out
	s.interval = 5 * time.Millisecond

	s.Start()
	s.Start() // no second goroutine
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
