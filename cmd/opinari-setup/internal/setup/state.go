// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package setup

import (
	"github.com/google/uuid"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/hardware"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/provider"
)

// Step identifies one wizard state.
type Step string

const (
	StepWelcome           Step = "welcome"
	StepEnvironmentCheck  Step = "environment-check"
	StepProviderChoice    Step = "provider-choice"
	StepProviderSetup     Step = "provider-setup"
	StepModelProvisioning Step = "model-provisioning"
	StepOutputSelection   Step = "output-selection"
	StepComplete          Step = "complete"

	// StepError is the terminal failure state. Re-entry goes back to the
	// step that failed, never further.
	StepError Step = "error"
)

// stepOrder is the forward path through the wizard. StepError sits outside
// the sequence.
var stepOrder = []Step{
	StepWelcome,
	StepEnvironmentCheck,
	StepProviderChoice,
	StepProviderSetup,
	StepModelProvisioning,
	StepOutputSelection,
	StepComplete,
}

func stepIndex(s Step) int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// Next returns the successor step. ok is false at the end of the sequence
// and for StepError.
func Next(s Step) (Step, bool) {
	i := stepIndex(s)
	if i < 0 || i >= len(stepOrder)-1 {
		return s, false
	}
	return stepOrder[i+1], true
}

// Prev returns the predecessor step. ok is false at the start and for
// StepError; leaving the error state is a retry, not a retreat.
func Prev(s Step) (Step, bool) {
	i := stepIndex(s)
	if i <= 0 {
		return s, false
	}
	return stepOrder[i-1], true
}

// State is the wizard's session state. It lives in memory only; durable
// outcomes go through the configuration store.
type State struct {
	// SessionID tags log lines and progress for this run.
	SessionID uuid.UUID

	// Step is the current wizard position.
	Step Step

	// Capability is the hardware detection result.
	Capability hardware.Capability

	// Recommended is the advisory local model for the detected tier.
	Recommended string

	// Choice is the user's provider selection.
	Choice provider.Choice

	// Offline is set when the environment check found no network.
	Offline bool

	// FailedStep remembers where a failure happened so re-entry from the
	// error state lands on the right step.
	FailedStep Step

	// LastError is the rendered failure for the error screen.
	LastError string

	// History is the ordered sequence of visited steps, including repeat
	// visits after retries and retreats.
	History []Step
}

// NewState starts a session at the welcome step.
func NewState() *State {
	return &State{
		SessionID: uuid.New(),
		Step:      StepWelcome,
		History:   []Step{StepWelcome},
	}
}

// visit moves the session to step and records the visit.
func (st *State) visit(step Step) {
	st.Step = step
	st.History = append(st.History, step)
}
