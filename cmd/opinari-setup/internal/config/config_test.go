// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "opinari.yaml"))
	require.NoError(t, err)
	return s
}

func TestOpenCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "opinari.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	doc := s.Document()
	assert.Equal(t, ModeNone, doc.LLM.Mode)
	assert.False(t, doc.Setup.Completed)

	// The default document landed on disk.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestOpenLoadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opinari.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"llm:\n  mode: local\n  localModel: mistral:7b\napp:\n  outputDir: /tmp/out\nsetup:\n  completed: true\n",
	), 0o600))

	s, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "mistral:7b", s.Document().LLM.LocalModel)
	assert.True(t, s.Completed())
}

func TestPersistValidatesModeGating(t *testing.T) {
	s := testStore(t)

	// local mode without a local model is inconsistent.
	err := s.Persist(Document{LLM: LLM{Mode: ModeLocal}})
	require.Error(t, err)

	// api mode without an api model is inconsistent.
	err = s.Persist(Document{LLM: LLM{Mode: ModeAPI}})
	require.Error(t, err)

	// unknown provider is rejected.
	err = s.Persist(Document{LLM: LLM{Mode: ModeAPI, APIModel: "gpt-4o-mini", APIProvider: "azure"}})
	require.Error(t, err)

	require.NoError(t, s.Persist(Document{LLM: LLM{Mode: ModeLocal, LocalModel: "mistral:7b"}}))
	require.NoError(t, s.Persist(Document{LLM: LLM{
		Mode: ModeAPI, APIModel: DefaultAPIModel, APIProvider: "openai", APIKey: "sk-test",
	}}))
}

func TestPersistIsAtomicUnderConcurrentReads(t *testing.T) {
	s := testStore(t)
	doc := Document{LLM: LLM{Mode: ModeLocal, LocalModel: "mistral:7b"}}
	require.NoError(t, s.Persist(doc))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			data, err := os.ReadFile(s.Path())
			if err != nil {
				// A reader never sees a missing file either.
				t.Error("config file vanished:", err)
				return
			}
			var got Document
			if err := yaml.Unmarshal(data, &got); err != nil {
				t.Error("reader saw a partial file:", err)
				return
			}
			if got.LLM.Mode == "" {
				t.Error("reader saw an empty document")
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		doc.App.OutputDir = filepath.Join("/tmp", "out", time.Now().Format("150405.000000000"))
		require.NoError(t, s.Persist(doc))
	}
	close(stop)
	wg.Wait()
}

func TestGetSetRoundTrip(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.Set("app.outputDir", "/tmp/reports"))
	v, err := s.Get("app.outputDir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/reports", v)

	// Survives a reopen.
	s2, err := Open(s.Path())
	require.NoError(t, err)
	v, err = s2.Get("app.outputDir")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/reports", v)
}

func TestGetNeverReturnsRawAPIKey(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.Persist(Document{LLM: LLM{
		Mode: ModeAPI, APIModel: DefaultAPIModel, APIProvider: "openai", APIKey: "sk-supersecret",
	}}))

	v, err := s.Get("llm.apiKey")
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", v)

	// Empty key reads back empty, not redacted, so callers can tell the
	// difference.
	require.NoError(t, s.Persist(Document{LLM: LLM{Mode: ModeNone}}))
	v, err = s.Get("llm.apiKey")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestUnknownKey(t *testing.T) {
	s := testStore(t)

	_, err := s.Get("llm.nope")
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.ErrorIs(t, s.Set("nope.nope", "x"), ErrUnknownKey)
}

func TestMarkCompleted(t *testing.T) {
	s := testStore(t)
	assert.False(t, s.Completed())

	require.NoError(t, s.MarkCompleted())
	assert.True(t, s.Completed())

	s2, err := Open(s.Path())
	require.NoError(t, err)
	assert.True(t, s2.Completed())
}

func TestWatchFiresOnPersist(t *testing.T) {
	s := testStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, s.Set("app.outputDir", "/tmp/x"))

	select {
	case _, ok := <-changes:
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not fire after persist")
	}
}
