// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package provider sets up the LLM backend the user chose: the local Ollama
runtime with a pulled model, or a validated OpenAI API key. The two paths
sit behind one Installer contract so the wizard's provider-setup step does
not branch on the choice.
*/
package provider

import (
	"context"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/secrets"
)

// Kind is the provider family.
type Kind int

const (
	KindNone Kind = iota
	KindLocal
	KindCloud
)

// String returns the persisted mode value for the kind.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCloud:
		return "api"
	default:
		return "none"
	}
}

// Choice is the user's provider selection.
type Choice struct {
	Kind Kind

	// ModelID is the local Ollama tag or the cloud model name.
	ModelID string

	// APIProvider names the cloud vendor. Only "openai" today.
	APIProvider string

	// Credential is the sealed API key for cloud providers.
	Credential *secrets.Credential
}

// Installer makes a provider choice usable on this machine.
//
// Install publishes its progress to sink, ending with a terminal event; it
// additionally returns the error for the sequencer's state transition. A
// satisfied target completes immediately with no intermediate events.
type Installer interface {
	// IsSatisfied reports whether the choice already works without any
	// installation or validation side effects beyond cheap reads.
	IsSatisfied(ctx context.Context, choice Choice) (bool, error)

	// Install brings the machine to the chosen state.
	Install(ctx context.Context, choice Choice, sink progress.Sink) error
}
