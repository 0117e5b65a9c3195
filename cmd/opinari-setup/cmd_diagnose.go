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

	"github.com/spf13/cobra"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/infra"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/ollama"
)

// diagProber adapts the Ollama client to the report's probe surface.
type diagProber struct {
	client *ollama.Client
}

func (d *diagProber) Version(ctx context.Context) (string, error) {
	return d.client.Version(ctx)
}

func (d *diagProber) ListModelNames(ctx context.Context) ([]string, error) {
	models, err := d.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.Name
	}
	return names, nil
}

// runDiagnose prints the full environment report. Always exits zero; the
// report itself shows what is broken.
func runDiagnose(cmd *cobra.Command, args []string) error {
	spinner := NewSpinner("Collecting diagnostics...")
	spinner.Start()
	report := infra.RunDiagnostics(cmd.Context(),
		infra.NewSystemChecker(),
		&infra.DefaultEnvironmentChecker{},
		&diagProber{client: ollama.NewClient(ollamaURL)},
	)
	spinner.Stop()
	fmt.Print(report.String())
	return nil
}
