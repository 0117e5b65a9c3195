// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package progress provides the unidirectional event stream that connects
long-running setup operations to the wizard and its presentation layer.

# Problem Statement

Runtime installation, model pulls and artifact downloads run for minutes.
The wizard must show live progress without blocking, and a retried step must
not replay stale events from an earlier attempt. Previously (in the Electron
prototype) progress flowed through ambient global listeners, which produced
out-of-order and duplicate updates.

# Solution

A Channel owns the event stream for exactly one step at a time:

	ch := progress.NewChannel()
	events, cancel := ch.Subscribe(64)
	defer cancel()

	go installer.Install(ctx, choice, ch)

	for ev := range events {
	    render(ev)
	    if ev.Terminal() {
	        break
	    }
	}

# Guarantees

 1. Percent values delivered for a step are non-decreasing. Publishers may
    report regressions (e.g. a second download layer restarting at 0); the
    channel clamps them to the high-water mark.
 2. The terminal event (complete or error) is always the last event for the
    step. Events published after a terminal event are dropped.
 3. At most one subscriber is active; Subscribe while another subscription
    is live replaces it, so a retried step never double-delivers.
 4. When the subscriber's buffer is full, intermediate events are dropped
    (last-write-wins); terminal events are never dropped.

Reset() arms the channel for the next step: it clears the percent
high-water mark and the terminal latch but keeps the latest-event index so
the presentation layer can still show the last known state of prior stages.
*/
package progress

import (
	"sync"
	"time"
)

// Stage identifies which part of provisioning an event belongs to.
type Stage string

const (
	StageIdle                 Stage = "idle"
	StageDetecting            Stage = "detecting"
	StageInstallingRuntime    Stage = "installing-runtime"
	StagePullingModel         Stage = "pulling-model"
	StageValidatingCredential Stage = "validating-credential"
	StageDownloadingModels    Stage = "downloading-models"
	StageComplete             Stage = "complete"
	StageError                Stage = "error"
)

// Event is a single progress update for the current step.
type Event struct {
	// Stage identifies the operation phase.
	Stage Stage

	// Percent is the unified step progress, 0-100.
	Percent int

	// Message is a human-readable status line.
	Message string

	// ErrorDetail carries failure information. Only set when Stage is
	// StageError.
	ErrorDetail string

	// At is when the event was published.
	At time.Time
}

// Terminal reports whether this event ends the step.
func (e Event) Terminal() bool {
	return e.Stage == StageComplete || e.Stage == StageError
}

// Sink is the write side of the channel, passed to installers and
// provisioners so they do not see subscription management.
type Sink interface {
	Publish(ev Event)
}

// Channel is the stream owner. One Channel serves one setup session; the
// sequencer calls Reset between steps.
type Channel struct {
	mu        sync.Mutex
	sub       chan Event
	latest    map[Stage]Event
	highWater int
	closed    bool
}

// NewChannel creates a channel with no active subscription.
func NewChannel() *Channel {
	return &Channel{
		latest: make(map[Stage]Event),
	}
}

// Subscribe attaches the single subscriber for the current step and returns
// the event stream plus a cancel function. An existing subscription is
// replaced (its stream is closed), so a step retry cannot receive events
// twice.
func (c *Channel) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		close(c.sub)
	}
	ch := make(chan Event, buffer)
	c.sub = ch

	cancel := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.sub == ch {
			close(c.sub)
			c.sub = nil
		}
	}
	return ch, cancel
}

// Publish records an event and delivers it to the subscriber, enforcing the
// ordering guarantees described in the package documentation.
func (c *Channel) Publish(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		// Step already ended; late events from a detached operation are
		// dropped so terminal stays last.
		return
	}

	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	switch {
	case ev.Stage == StageComplete:
		ev.Percent = 100
	case ev.Stage == StageError:
		if ev.Percent < c.highWater {
			ev.Percent = c.highWater
		}
	default:
		if ev.Percent < c.highWater {
			ev.Percent = c.highWater
		}
		if ev.Percent > 100 {
			ev.Percent = 100
		}
	}
	c.highWater = ev.Percent

	c.latest[ev.Stage] = ev

	if ev.Terminal() {
		c.closed = true
	}

	if c.sub == nil {
		return
	}

	if ev.Terminal() {
		// Terminal events must arrive. Make room by discarding the oldest
		// buffered event; the subscriber only needs the latest state anyway.
		for {
			select {
			case c.sub <- ev:
				return
			default:
				select {
				case <-c.sub:
				default:
				}
			}
		}
	}

	select {
	case c.sub <- ev:
	default:
		// Buffer full: drop this intermediate update. A later event with an
		// equal-or-higher percent will supersede it.
	}
}

// Latest returns the last event seen for a stage, if any. The presentation
// layer uses this for its last-write-wins view.
func (c *Channel) Latest(stage Stage) (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.latest[stage]
	return ev, ok
}

// Reset arms the channel for the next step. The percent high-water mark and
// terminal latch are cleared; the latest-event index is kept.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.highWater = 0
	c.closed = false
}

// Report is a convenience for publishing a non-terminal update.
func (c *Channel) Report(stage Stage, percent int, message string) {
	c.Publish(Event{Stage: stage, Percent: percent, Message: message})
}

// Done publishes the successful terminal event for the step.
func (c *Channel) Done(message string) {
	c.Publish(Event{Stage: StageComplete, Percent: 100, Message: message})
}

// Fail publishes the failing terminal event for the step.
func (c *Channel) Fail(message, detail string) {
	c.Publish(Event{Stage: StageError, Message: message, ErrorDetail: detail})
}
