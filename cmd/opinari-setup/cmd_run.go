// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/artifacts"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/config"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/hardware"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/infra"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/ollama"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/provider"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/setup"
	"github.com/opinari-app/opinari-setup/pkg/ux"
)

// runSetup wires the wizard's collaborators and runs it to completion.
func runSetup(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := config.Open(configPath)
	if err != nil {
		return err
	}

	if store.Completed() && !forceRerun {
		ux.Success("Setup already completed.")
		ux.Muted("Re-run with --force to change the provider or models.")
		return nil
	}

	checker := infra.NewSystemChecker()
	client := ollama.NewClient(ollamaURL)
	channel := progress.NewChannel()

	seq := setup.NewSequencer(setup.Deps{
		Probe:       hardware.NewProbe(),
		Env:         &infra.DefaultEnvironmentChecker{},
		Checker:     checker,
		Local:       provider.NewLocalRuntimeInstaller(checker, client),
		Cloud:       provider.NewCloudKeyValidator(),
		Provisioner: artifacts.NewProvisioner(artifacts.DefaultCacheDir()),
		Store:       store,
		Channel:     channel,
		UI:          &terminalInteractor{},
	})

	// One renderer goroutine serves the whole session; each step's stream
	// ends with a terminal event, which prints as a check or cross.
	events, cancel := channel.Subscribe(256)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		renderProgress(events)
	}()

	runErr := seq.Run(ctx)
	cancel()
	wg.Wait()

	if runErr != nil {
		return runErr
	}

	doc := store.Document()
	ux.Success("Setup complete.")
	switch doc.LLM.Mode {
	case config.ModeLocal:
		ux.Info("AI provider: local model " + doc.LLM.LocalModel)
	case config.ModeAPI:
		ux.Info("AI provider: " + doc.LLM.APIProvider + " / " + doc.LLM.APIModel)
	default:
		ux.Warning("AI features are disabled; re-run setup to enable them.")
	}
	if doc.App.OutputDir != "" {
		ux.Info("Reports folder: " + doc.App.OutputDir)
	}
	return nil
}

// renderProgress draws progress events until the stream closes. Percent
// updates redraw one line; terminal events finish the line with an icon.
func renderProgress(events <-chan progress.Event) {
	inline := false
	endLine := func() {
		if inline {
			fmt.Fprint(os.Stderr, "\r\033[K")
			inline = false
		}
	}

	for ev := range events {
		switch ev.Stage {
		case progress.StageComplete:
			endLine()
			ux.Success(ev.Message)
		case progress.StageError:
			endLine()
			ux.Error(ev.Message)
			if ev.ErrorDetail != "" {
				ux.Detail(ev.ErrorDetail)
			}
		default:
			fmt.Fprintf(os.Stderr, "\r\033[K%s %s", ux.ProgressBar(ev.Percent, 24), ev.Message)
			inline = true
		}
	}
	endLine()
}
