// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opinari-app/opinari-setup/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath string
	verbose    bool
	ollamaURL  string
	forceRerun bool

	rootCmd = &cobra.Command{
		Use:   "opinari-setup",
		Short: "First-run provisioning for the Opinari desktop app",
		Long: `opinari-setup prepares a machine for Opinari: it detects hardware,
installs or validates an LLM provider (local Ollama or an OpenAI API key),
downloads the analysis models, and saves the result where the app reads it.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the interactive setup wizard",
		Long: `Walks through provider choice, installation and model downloads.
Safe to re-run: completed work is detected and skipped.`,
		RunE: runSetup, // Defined in cmd_run.go
	}

	diagnoseCmd = &cobra.Command{
		Use:   "diagnose",
		Short: "Print a diagnostic report of the setup environment",
		RunE:  runDiagnose, // Defined in cmd_diagnose.go
	}

	// --- Configuration store surface ---
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Read and write the shared Opinari configuration",
	}
	configGetCmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Print one configuration value",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet, // Defined in cmd_config.go
	}
	configSetCmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one configuration value",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}
	configListCmd = &cobra.Command{
		Use:   "list",
		Short: "Print all configuration keys and values",
		RunE:  runConfigList,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"configuration file path (default ~/.opinari/opinari.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"enable debug logging")

	runCmd.Flags().StringVar(&ollamaURL, "ollama-url", "",
		"Ollama server URL (default http://localhost:11434)")
	runCmd.Flags().BoolVar(&forceRerun, "force", false,
		"run the wizard even if setup already completed")

	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
	rootCmd.AddCommand(runCmd, diagnoseCmd, configCmd)
}

// initLogging routes slog to stderr so wizard output on stdout stays clean.
func initLogging() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		ux.Error(err.Error())
		return err
	}
	return nil
}
