// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Spinner shows an animated indicator for waits with no measurable
// progress (server startup, credential round trips). Measurable work goes
// through the progress channel and its bar instead.
//
// # Thread Safety
//
// Safe for concurrent use; Start/Stop/SetMessage may be called from
// different goroutines.
type Spinner struct {
	mu       sync.Mutex
	message  string
	writer   io.Writer
	interval time.Duration
	frames   []string
	running  bool
	stop     chan struct{}
	done     chan struct{}
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message:  message,
		writer:   os.Stderr,
		interval: 100 * time.Millisecond,
		frames:   []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
	}
}

// Start begins the animation. Starting a running spinner is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.spin(s.stop, s.done)
}

func (s *Spinner) spin(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-stop:
			fmt.Fprint(s.writer, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			msg := s.message
			s.mu.Unlock()
			fmt.Fprintf(s.writer, "\r%s %s", s.frames[frame%len(s.frames)], msg)
			frame++
		}
	}
}

// SetMessage updates the displayed text.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
}
