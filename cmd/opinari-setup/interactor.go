// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/provider"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/recommend"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/secrets"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/setup"
	"github.com/opinari-app/opinari-setup/pkg/ux"
)

// terminalInteractor implements setup.Interactor with huh forms.
type terminalInteractor struct{}

// Welcome shows the intro screen and waits for confirmation.
func (t *terminalInteractor) Welcome(ctx context.Context, st *setup.State) error {
	ux.Box("Welcome to Opinari",
		"This wizard prepares your machine for review analysis:\n"+
			"an AI provider, the analysis models, and a place for reports.\n"+
			"It takes a few minutes on first run.")

	var proceed bool = true
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Start setup?").
			Affirmative("Start").
			Negative("Quit").
			Value(&proceed),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return err
	}
	if !proceed {
		return context.Canceled
	}
	return nil
}

// ChooseProvider collects the provider family, the model, and for the
// cloud path the API key.
func (t *terminalInteractor) ChooseProvider(ctx context.Context, st *setup.State) (provider.Choice, error) {
	ux.Info(fmt.Sprintf("Detected: %dGB RAM, %s GPU (%s tier)",
		st.Capability.RAMGB, st.Capability.GPU, st.Capability.Tier))

	var kind string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("How should Opinari run its AI analysis?").
			Description("Local runs free and private on this machine; the API path needs an OpenAI key.").
			Options(
				huh.NewOption(fmt.Sprintf("Local model (recommended: %s)", st.Recommended), "local"),
				huh.NewOption("OpenAI API key", "api"),
				huh.NewOption("Skip for now (AI features disabled)", "none"),
			).
			Value(&kind),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return provider.Choice{}, err
	}

	switch kind {
	case "local":
		return t.chooseLocalModel(ctx, st)
	case "api":
		return t.chooseCloudKey(ctx)
	default:
		return provider.Choice{Kind: provider.KindNone}, nil
	}
}

func (t *terminalInteractor) chooseLocalModel(ctx context.Context, st *setup.State) (provider.Choice, error) {
	options := make([]huh.Option[string], 0, len(recommend.Catalog()))
	for _, id := range recommend.Catalog() {
		label := id
		if id == st.Recommended {
			label += " (recommended for your hardware)"
		}
		options = append(options, huh.NewOption(label, id))
	}

	model := st.Recommended
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Which local model?").
			Options(options...).
			Value(&model),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return provider.Choice{}, err
	}
	return provider.Choice{Kind: provider.KindLocal, ModelID: model}, nil
}

func (t *terminalInteractor) chooseCloudKey(ctx context.Context) (provider.Choice, error) {
	var key string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("OpenAI API key").
			Description("Starts with sk-. Stored locally, used only for your analyses.").
			EchoMode(huh.EchoModePassword).
			Value(&key),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return provider.Choice{}, err
	}

	cred := secrets.NewCredentialFromString(key)
	key = "" // the enclave owns it now
	return provider.Choice{
		Kind:        provider.KindCloud,
		ModelID:     "gpt-4o-mini",
		APIProvider: "openai",
		Credential:  cred,
	}, nil
}

// ChooseOutputDir collects the report directory; empty keeps the default.
func (t *terminalInteractor) ChooseOutputDir(ctx context.Context, st *setup.State) (string, error) {
	var dir string
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Where should reports be saved?").
			Description("Leave empty to use the default documents folder.").
			Value(&dir),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return cancelKeepsDefault(err)
	}
	return dir, nil
}

// cancelKeepsDefault maps an aborted directory prompt to "keep the
// default". The picker is optional; backing out of it is a choice, not a
// failure, and must not abandon the wizard after provisioning already
// succeeded.
func cancelKeepsDefault(err error) (string, error) {
	if errors.Is(err, huh.ErrUserAborted) {
		return "", nil
	}
	return "", err
}

// RetryFromError shows the failure and asks whether to retry the step.
func (t *terminalInteractor) RetryFromError(ctx context.Context, st *setup.State) (bool, error) {
	ux.ErrorBox(fmt.Sprintf("Setup failed during %s", st.FailedStep), st.LastError)

	var retry bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title("Try that step again?").
			Affirmative("Retry").
			Negative("Quit").
			Value(&retry),
	))
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return retry, nil
}
