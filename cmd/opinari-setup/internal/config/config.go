// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package config is the durable configuration store shared between the setup
wizard and the desktop application.

# Problem Statement

Setup runs as a separate process from the app that consumes its results. A
crash mid-write must never leave the app reading a truncated YAML file, the
API key must round-trip without ever appearing in logs, and the app needs to
observe "setup finished" without polling.

# Solution

A Store over one YAML file (~/.opinari/opinari.yaml by default):

  - Persist writes the whole document via temp file + rename on the same
    filesystem, so readers see either the old or the new file, never a
    partial one. Last write wins.
  - Get/Set expose the namespaced key surface (llm.mode, llm.localModel,
    llm.apiModel, llm.apiProvider, llm.apiKey, app.outputDir) used by the
    `config` CLI and the host app bridge.
  - Watch emits on every change to the file so the running app reacts to a
    completed setup immediately.
  - Struct validation (go-playground/validator) rejects inconsistent
    documents before they reach disk: the mode gates which model field is
    required.

# Related Files

  - internal/setup — persists exactly once per completed provider setup.
  - cmd/opinari-setup/cmd_config.go — the get/set CLI surface.
*/
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Provider modes accepted by llm.mode.
const (
	ModeLocal = "local"
	ModeAPI   = "api"
	ModeNone  = "none"
)

// DefaultAPIModel is used when the user picks the cloud provider without
// naming a model.
const DefaultAPIModel = "gpt-4o-mini"

// ErrUnknownKey is returned by Get/Set for keys outside the store surface.
var ErrUnknownKey = errors.New("unknown configuration key")

// LLM is the provider section of the document.
type LLM struct {
	Mode        string `yaml:"mode" validate:"required,oneof=local api none"`
	LocalModel  string `yaml:"localModel" validate:"required_if=Mode local"`
	APIModel    string `yaml:"apiModel" validate:"required_if=Mode api"`
	APIProvider string `yaml:"apiProvider" validate:"omitempty,oneof=openai"`
	// APIKey is opaque to the store. Never logged.
	APIKey string `yaml:"apiKey"`
}

// App is the application section of the document.
type App struct {
	OutputDir string `yaml:"outputDir"`
}

// Setup tracks wizard completion.
type Setup struct {
	Completed bool `yaml:"completed"`
}

// Document is the full persisted configuration.
type Document struct {
	LLM   LLM   `yaml:"llm"`
	App   App   `yaml:"app"`
	Setup Setup `yaml:"setup"`
}

// DefaultDocument returns the first-run configuration.
func DefaultDocument() Document {
	return Document{
		LLM: LLM{Mode: ModeNone},
	}
}

// DefaultPath returns the standard config location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".opinari", "opinari.yaml")
	}
	return filepath.Join(home, ".opinari", "opinari.yaml")
}

// Store owns one configuration file.
type Store struct {
	path     string
	validate *validator.Validate

	mu  sync.RWMutex
	doc Document
}

// Open loads the store at path, creating the default document on first run.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}
	s := &Store{
		path:     path,
		validate: validator.New(),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if s.doc.LLM.Mode == "" {
			s.doc.LLM.Mode = ModeNone
		}
	case os.IsNotExist(err):
		s.doc = DefaultDocument()
		if err := s.writeLocked(); err != nil {
			return nil, err
		}
		slog.Info("created default configuration", "path", path)
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return s, nil
}

// Path returns the file this store persists to.
func (s *Store) Path() string { return s.path }

// Document returns a copy of the current in-memory document.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Persist validates and atomically writes the whole document. Last write
// wins.
func (s *Store) Persist(doc Document) error {
	if err := s.validate.Struct(doc); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	if err := s.writeLocked(); err != nil {
		return err
	}
	slog.Info("configuration persisted",
		"mode", doc.LLM.Mode,
		"local_model", doc.LLM.LocalModel,
		"api_model", doc.LLM.APIModel,
		"has_api_key", doc.LLM.APIKey != "")
	return nil
}

// writeLocked serializes the document and renames it into place. The temp
// file lives in the target directory so the rename stays on one filesystem.
func (s *Store) writeLocked() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".opinari-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod temp config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// ---- Namespaced key surface ----

// Get returns the value for a namespaced key. llm.apiKey reads back
// redacted; the raw key never crosses this surface.
func (s *Store) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch key {
	case "llm.mode":
		return s.doc.LLM.Mode, nil
	case "llm.localModel":
		return s.doc.LLM.LocalModel, nil
	case "llm.apiModel":
		return s.doc.LLM.APIModel, nil
	case "llm.apiProvider":
		return s.doc.LLM.APIProvider, nil
	case "llm.apiKey":
		if s.doc.LLM.APIKey == "" {
			return "", nil
		}
		return "[redacted]", nil
	case "app.outputDir":
		return s.doc.App.OutputDir, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set updates one namespaced key and persists the document.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()

	switch key {
	case "llm.mode":
		doc.LLM.Mode = value
	case "llm.localModel":
		doc.LLM.LocalModel = value
	case "llm.apiModel":
		doc.LLM.APIModel = value
	case "llm.apiProvider":
		doc.LLM.APIProvider = value
	case "llm.apiKey":
		doc.LLM.APIKey = value
	case "app.outputDir":
		doc.App.OutputDir = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return s.Persist(doc)
}

// Keys lists the settable namespaced keys.
func Keys() []string {
	return []string{
		"llm.mode",
		"llm.localModel",
		"llm.apiModel",
		"llm.apiProvider",
		"llm.apiKey",
		"app.outputDir",
	}
}

// ---- Completion marker ----

// MarkCompleted records that setup reached its final step.
func (s *Store) MarkCompleted() error {
	s.mu.Lock()
	doc := s.doc
	s.mu.Unlock()
	doc.Setup.Completed = true
	return s.Persist(doc)
}

// Completed reports whether a previous setup run finished.
func (s *Store) Completed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Setup.Completed
}
