// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package setup drives the first-run provisioning wizard as a deterministic
state machine.

# Problem Statement

First-run setup interleaves user decisions (provider, output directory)
with multi-minute machine operations (runtime install, model pull, artifact
downloads) that fail in the field constantly. The flow must resume sensibly
after any failure, never repeat completed work, and leave the configuration
store in a state the desktop app can trust.

# Solution

A Sequencer walks the fixed step sequence

	welcome → environment-check → provider-choice → provider-setup →
	model-provisioning → output-selection → complete

with one error state on the side. Each long step resets the shared progress
channel, runs its operation in a goroutine and waits for it, so the caller
(and its renderer goroutine) stays responsive. Failures park the machine in
the error state with the failed step recorded; a retry re-enters exactly
that step, where satisfaction checks skip whatever already succeeded. The
provider outcome is persisted exactly once, after model provisioning
completes, on every path including the short-circuit.

# Related Files

  - state.go — the step sequence and session state.
  - internal/provider — the two installers this sequencer drives.
  - internal/config — the durable outcome.
*/
package setup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/artifacts"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/config"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/hardware"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/infra"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/provider"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/recommend"
)

// Interactor is the user-facing surface the sequencer calls out to. The
// CLI implements it with terminal forms; tests script it.
type Interactor interface {
	// Welcome shows the intro screen and returns when the user continues.
	Welcome(ctx context.Context, st *State) error

	// ChooseProvider collects the provider selection. The recommendation
	// is advisory; the returned choice may override the model or pick the
	// cloud or skip providers entirely (KindNone).
	ChooseProvider(ctx context.Context, st *State) (provider.Choice, error)

	// ChooseOutputDir collects the report output directory. Empty keeps
	// the current value.
	ChooseOutputDir(ctx context.Context, st *State) (string, error)

	// RetryFromError asks whether to re-enter the failed step. False ends
	// the run with the failure.
	RetryFromError(ctx context.Context, st *State) (bool, error)
}

// Store is the slice of the configuration store the sequencer writes
// through. *config.Store implements it.
type Store interface {
	Document() config.Document
	Persist(doc config.Document) error
	Set(key, value string) error
	MarkCompleted() error
}

// Sequencer owns one wizard session.
type Sequencer struct {
	probe       hardware.Probe
	env         infra.EnvironmentChecker
	checker     infra.SystemChecker
	local       provider.Installer
	cloud       provider.Installer
	provisioner artifacts.Provisioner
	store       Store
	channel     *progress.Channel
	ui          Interactor

	state *State
}

// Deps bundles the sequencer's collaborators.
type Deps struct {
	Probe       hardware.Probe
	Env         infra.EnvironmentChecker
	Checker     infra.SystemChecker
	Local       provider.Installer
	Cloud       provider.Installer
	Provisioner artifacts.Provisioner
	Store       Store
	Channel     *progress.Channel
	UI          Interactor
}

// NewSequencer creates a session over the given collaborators.
func NewSequencer(d Deps) *Sequencer {
	return &Sequencer{
		probe:       d.Probe,
		env:         d.Env,
		checker:     d.Checker,
		local:       d.Local,
		cloud:       d.Cloud,
		provisioner: d.Provisioner,
		store:       d.Store,
		channel:     d.Channel,
		ui:          d.UI,
		state:       NewState(),
	}
}

// State exposes the session state for rendering.
func (s *Sequencer) State() *State { return s.state }

// Channel exposes the progress stream for the renderer.
func (s *Sequencer) Channel() *progress.Channel { return s.channel }

// Advance moves to the next step in sequence.
func (s *Sequencer) Advance() {
	if next, ok := Next(s.state.Step); ok {
		slog.Debug("wizard advance", "from", s.state.Step, "to", next, "session", s.state.SessionID)
		s.state.visit(next)
	}
}

// Retreat moves to the previous step. Used by back-navigation; a running
// operation keeps going detached and its step re-checks satisfaction on
// re-entry.
func (s *Sequencer) Retreat() {
	if prev, ok := Prev(s.state.Step); ok {
		slog.Debug("wizard retreat", "from", s.state.Step, "to", prev, "session", s.state.SessionID)
		s.state.visit(prev)
	}
}

// fail parks the machine in the error state, remembering where it broke.
func (s *Sequencer) fail(detail string) {
	s.state.FailedStep = s.state.Step
	s.state.LastError = detail
	s.state.visit(StepError)
	slog.Warn("wizard step failed",
		"step", s.state.FailedStep, "session", s.state.SessionID, "detail", detail)
}

// Run executes the wizard until complete, a declined retry, or ctx
// cancellation.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.state.Step {
		case StepWelcome:
			if err := s.ui.Welcome(ctx, s.state); err != nil {
				return err
			}
			s.Advance()

		case StepEnvironmentCheck:
			s.runEnvironmentCheck(ctx)

		case StepProviderChoice:
			choice, err := s.ui.ChooseProvider(ctx, s.state)
			if err != nil {
				return err
			}
			s.state.Choice = choice
			s.Advance()

		case StepProviderSetup:
			s.runProviderSetup(ctx)

		case StepModelProvisioning:
			s.runModelProvisioning(ctx)

		case StepOutputSelection:
			dir, err := s.ui.ChooseOutputDir(ctx, s.state)
			if err != nil {
				return err
			}
			if dir != "" {
				if err := s.store.Set("app.outputDir", dir); err != nil {
					s.fail(err.Error())
					continue
				}
			}
			s.Advance()

		case StepComplete:
			if err := s.store.MarkCompleted(); err != nil {
				s.fail(err.Error())
				continue
			}
			slog.Info("setup complete", "session", s.state.SessionID)
			return nil

		case StepError:
			retry, err := s.ui.RetryFromError(ctx, s.state)
			if err != nil {
				return err
			}
			if !retry {
				return fmt.Errorf("setup failed at %s: %s", s.state.FailedStep, s.state.LastError)
			}
			// Re-entry: back to the failed step. Satisfaction checks there
			// skip whatever already succeeded.
			s.state.visit(s.state.FailedStep)
			s.state.LastError = ""

		default:
			return fmt.Errorf("wizard in unknown step %q", s.state.Step)
		}
	}
}

// runEnvironmentCheck verifies the analytics runtime, detects hardware and
// probes the network. Only a broken analytics runtime is fatal; a missing
// network just flags the session offline.
func (s *Sequencer) runEnvironmentCheck(ctx context.Context) {
	s.channel.Reset()
	s.channel.Report(progress.StageDetecting, 10, "Checking analytics environment")

	if err := s.env.PrepareEnvironment(ctx); err != nil {
		detail := err.Error()
		if ce, ok := err.(*infra.CheckError); ok {
			detail = ce.FullError()
		}
		s.channel.Fail("Analytics environment is not usable", detail)
		s.fail(detail)
		return
	}

	s.channel.Report(progress.StageDetecting, 40, "Detecting hardware")
	s.state.Capability = s.probe.Detect(ctx)
	s.state.Recommended = recommend.LocalModel(s.state.Capability.Tier)

	s.channel.Report(progress.StageDetecting, 80, "Checking network connectivity")
	if err := s.checker.CheckNetwork(ctx); err != nil {
		s.state.Offline = true
		slog.Warn("continuing offline", "session", s.state.SessionID)
	} else {
		s.state.Offline = false
	}

	s.channel.Done("Environment ready")
	s.Advance()
}

// runProviderSetup installs or validates the chosen provider. A choice that
// is already satisfied short-circuits: no installer sub-events, but the
// eventual persist still re-writes the provider selection.
func (s *Sequencer) runProviderSetup(ctx context.Context) {
	s.channel.Reset()

	if s.state.Choice.Kind == provider.KindNone {
		s.channel.Done("Provider setup skipped")
		s.Advance()
		return
	}

	installer := s.installerFor(s.state.Choice.Kind)

	satisfied, err := installer.IsSatisfied(ctx, s.state.Choice)
	if err == nil && satisfied {
		slog.Info("provider already satisfied",
			"kind", s.state.Choice.Kind.String(), "model", s.state.Choice.ModelID)
		s.channel.Done("Provider already set up")
		s.Advance()
		return
	}

	if s.state.Offline && s.state.Choice.Kind == provider.KindCloud {
		detail := "cloud provider validation needs network connectivity"
		s.channel.Fail("No network connectivity", detail)
		s.fail(detail)
		return
	}

	if err := s.await(ctx, func() error {
		return installer.Install(ctx, s.state.Choice, s.channel)
	}); err != nil {
		s.fail(renderError(err))
		return
	}
	s.Advance()
}

// runModelProvisioning ensures the auxiliary artifacts, then persists the
// provider outcome. Persist happens exactly here so one completed
// provider-setup/model-provisioning pair writes one configuration.
func (s *Sequencer) runModelProvisioning(ctx context.Context) {
	s.channel.Reset()

	required := artifacts.AllKeys()
	remaining := s.provisioner.DownloadSizeMB(required)

	if remaining > 0 {
		if s.state.Offline {
			detail := fmt.Sprintf("%dMB of analysis models still need downloading and there is no network", remaining)
			s.channel.Fail("No network connectivity", detail)
			s.fail(detail)
			return
		}
		if err := s.checker.CheckDiskSpace(artifacts.DefaultCacheDir(), remaining<<20); err != nil {
			s.channel.Fail("Not enough disk space", renderError(err))
			s.fail(renderError(err))
			return
		}
	}

	if err := s.await(ctx, func() error {
		_, err := s.provisioner.EnsureArtifacts(ctx, required, s.channel)
		return err
	}); err != nil {
		s.channel.Fail("Model download failed", renderError(err))
		s.fail(renderError(err))
		return
	}

	if err := s.persistOutcome(); err != nil {
		s.channel.Fail("Could not save configuration", err.Error())
		s.fail(err.Error())
		return
	}

	s.channel.Done("Analysis models ready")
	s.Advance()
}

// persistOutcome writes the provider selection into the durable store. The
// API key leaves its enclave only here, straight into the document.
func (s *Sequencer) persistOutcome() error {
	doc := s.store.Document()
	doc.LLM.Mode = s.state.Choice.Kind.String()
	doc.LLM.LocalModel = ""
	doc.LLM.APIModel = ""
	doc.LLM.APIProvider = ""
	doc.LLM.APIKey = ""

	switch s.state.Choice.Kind {
	case provider.KindLocal:
		doc.LLM.LocalModel = s.state.Choice.ModelID
	case provider.KindCloud:
		doc.LLM.APIModel = s.state.Choice.ModelID
		if doc.LLM.APIModel == "" {
			doc.LLM.APIModel = config.DefaultAPIModel
		}
		doc.LLM.APIProvider = s.state.Choice.APIProvider
		if doc.LLM.APIProvider == "" {
			doc.LLM.APIProvider = "openai"
		}
		if err := s.state.Choice.Credential.Use(func(plaintext []byte) error {
			doc.LLM.APIKey = string(plaintext)
			return nil
		}); err != nil {
			return fmt.Errorf("credential unavailable at persist: %w", err)
		}
	}

	return s.store.Persist(doc)
}

func (s *Sequencer) installerFor(kind provider.Kind) provider.Installer {
	if kind == provider.KindCloud {
		return s.cloud
	}
	return s.local
}

// await runs fn in a goroutine and waits for it or for cancellation. On
// cancellation the operation keeps running detached; its late events are
// dropped by the channel once the step has a terminal event.
func (s *Sequencer) await(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// renderError prefers typed renderers with remediation.
func renderError(err error) string {
	type fullErrorer interface{ FullError() string }
	if fe, ok := err.(fullErrorer); ok {
		return fe.FullError()
	}
	return err.Error()
}
