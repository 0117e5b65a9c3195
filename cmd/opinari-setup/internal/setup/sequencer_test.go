// Copyright (C) 2025 Opinari Labs (dev@opinari.app)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Tests here script whole wizard sessions against fake collaborators: a
// fresh machine choosing local, a cloud key with no credits, and a re-run
// over an already provisioned machine. Component behavior (install ladders,
// download verification) is covered in the component packages; these tests
// pin the transitions, the single persist per completed run, and the
// progress stream contract.
package setup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/artifacts"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/config"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/hardware"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/infra"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/progress"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/provider"
	"github.com/opinari-app/opinari-setup/cmd/opinari-setup/internal/secrets"
)

// ---- Fakes ----

type fakeProbe struct{ cap hardware.Capability }

func (f *fakeProbe) Detect(ctx context.Context) hardware.Capability { return f.cap }

type fakeEnv struct{ ready bool }

func (f *fakeEnv) EnvironmentReady() bool { return f.ready }
func (f *fakeEnv) PrepareEnvironment(ctx context.Context) error {
	if f.ready {
		return nil
	}
	return &infra.CheckError{
		Type:        infra.CheckErrEnvironment,
		Message:     "analytics runtime is missing or incomplete",
		Remediation: "reinstall the application",
	}
}

type fakeChecker struct {
	networkErr error
	diskErr    error
}

func (f *fakeChecker) RuntimeInstalled() bool                      { return true }
func (f *fakeChecker) RuntimePath() (string, error)                { return "/usr/bin/ollama", nil }
func (f *fakeChecker) CanInstallRuntime() bool                     { return true }
func (f *fakeChecker) InstallRuntime(ctx context.Context) error    { return nil }
func (f *fakeChecker) InstallInstructions() string                 { return "install" }
func (f *fakeChecker) StartServer(ctx context.Context) error       { return nil }
func (f *fakeChecker) CheckNetwork(ctx context.Context) error      { return f.networkErr }
func (f *fakeChecker) CheckDiskSpace(path string, req int64) error { return f.diskErr }
func (f *fakeChecker) AvailableDiskSpace(p string) (int64, error)  { return 1 << 40, nil }
func (f *fakeChecker) ModelStoragePath() string                    { return "/tmp/models" }

type fakeInstaller struct {
	satisfied    bool
	installErr   error
	installCalls int
	checkCalls   int
}

func (f *fakeInstaller) IsSatisfied(ctx context.Context, c provider.Choice) (bool, error) {
	f.checkCalls++
	return f.satisfied, nil
}

func (f *fakeInstaller) Install(ctx context.Context, c provider.Choice, sink progress.Sink) error {
	f.installCalls++
	if f.installErr != nil {
		sink.Publish(progress.Event{Stage: progress.StageError, Message: "install failed", ErrorDetail: f.installErr.Error()})
		return f.installErr
	}
	sink.Publish(progress.Event{Stage: progress.StageInstallingRuntime, Percent: 20, Message: "working"})
	sink.Publish(progress.Event{Stage: progress.StagePullingModel, Percent: 70, Message: "pulling"})
	sink.Publish(progress.Event{Stage: progress.StageComplete, Percent: 100, Message: "provider ready"})
	return nil
}

type fakeProvisioner struct {
	cachedMB    int64
	ensureErr   error
	ensureCalls int
}

func (f *fakeProvisioner) EnsureArtifacts(ctx context.Context, required []string, sink progress.Sink) (*artifacts.Result, error) {
	f.ensureCalls++
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	if sink != nil {
		sink.Publish(progress.Event{Stage: progress.StageDownloadingModels, Percent: 50, Message: "downloading"})
	}
	f.cachedMB = 0
	return &artifacts.Result{}, nil
}

func (f *fakeProvisioner) IsCached(key string) bool { return f.cachedMB == 0 }
func (f *fakeProvisioner) DownloadSizeMB(required []string) int64 {
	return f.cachedMB
}

// scriptedUI walks the wizard without a human.
type scriptedUI struct {
	choice      provider.Choice
	outputDir   string
	retriesLeft int

	sawRecommended string
	errorDetails   []string
}

func (u *scriptedUI) Welcome(ctx context.Context, st *State) error { return nil }
func (u *scriptedUI) ChooseProvider(ctx context.Context, st *State) (provider.Choice, error) {
	u.sawRecommended = st.Recommended
	return u.choice, nil
}
func (u *scriptedUI) ChooseOutputDir(ctx context.Context, st *State) (string, error) {
	return u.outputDir, nil
}
func (u *scriptedUI) RetryFromError(ctx context.Context, st *State) (bool, error) {
	u.errorDetails = append(u.errorDetails, st.LastError)
	if u.retriesLeft > 0 {
		u.retriesLeft--
		return true, nil
	}
	return false, nil
}

type harness struct {
	seq         *Sequencer
	store       *config.Store
	ui          *scriptedUI
	local       *fakeInstaller
	cloud       *fakeInstaller
	provisioner *fakeProvisioner
	checker     *fakeChecker
}

func newHarness(t *testing.T, ui *scriptedUI) *harness {
	t.Helper()
	store, err := config.Open(filepath.Join(t.TempDir(), "opinari.yaml"))
	require.NoError(t, err)

	h := &harness{
		store:       store,
		ui:          ui,
		local:       &fakeInstaller{},
		cloud:       &fakeInstaller{},
		provisioner: &fakeProvisioner{cachedMB: 1380},
		checker:     &fakeChecker{},
	}
	h.seq = NewSequencer(Deps{
		Probe:       &fakeProbe{cap: hardware.Capability{RAMGB: 8, Tier: hardware.TierMid}},
		Env:         &fakeEnv{ready: true},
		Checker:     h.checker,
		Local:       h.local,
		Cloud:       h.cloud,
		Provisioner: h.provisioner,
		Store:       store,
		Channel:     progress.NewChannel(),
		UI:          ui,
	})
	return h
}

// ---- Scenario A: fresh machine, local provider ----

func TestFreshMachineLocalProvider(t *testing.T) {
	ui := &scriptedUI{
		choice:    provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"},
		outputDir: "/tmp/reports",
	}
	h := newHarness(t, ui)

	require.NoError(t, h.seq.Run(context.Background()))

	// The recommendation for a mid-tier machine reached the choice screen.
	assert.Equal(t, "mistral:7b", ui.sawRecommended)

	assert.Equal(t, 1, h.local.installCalls)
	assert.Zero(t, h.cloud.installCalls)
	assert.Equal(t, 1, h.provisioner.ensureCalls)

	doc := h.store.Document()
	assert.Equal(t, config.ModeLocal, doc.LLM.Mode)
	assert.Equal(t, "mistral:7b", doc.LLM.LocalModel)
	assert.Empty(t, doc.LLM.APIModel)
	assert.Equal(t, "/tmp/reports", doc.App.OutputDir)
	assert.True(t, h.store.Completed())
}

// ---- Scenario B: cloud key with exhausted credits ----

func TestCloudKeyWithoutCreditsFails(t *testing.T) {
	ui := &scriptedUI{
		choice: provider.Choice{
			Kind:       provider.KindCloud,
			ModelID:    "gpt-4o-mini",
			Credential: secrets.NewCredentialFromString("sk-broke-abcdefghijklmn"),
		},
	}
	h := newHarness(t, ui)
	h.cloud.installErr = &provider.CredentialError{Result: provider.ValidationResult{
		Code:    provider.CredentialNoCredits,
		Message: "the key is valid but the account has no remaining credits",
	}}

	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StepProviderSetup))

	// The user saw the credit explanation, not a generic failure.
	require.Len(t, ui.errorDetails, 1)
	assert.Contains(t, ui.errorDetails[0], "no remaining credits")

	// Nothing was provisioned or persisted and setup is not complete.
	assert.Zero(t, h.provisioner.ensureCalls)
	doc := h.store.Document()
	assert.Equal(t, config.ModeNone, doc.LLM.Mode)
	assert.Empty(t, doc.LLM.APIKey)
	assert.False(t, h.store.Completed())
}

func TestRetryReentersFailedStep(t *testing.T) {
	ui := &scriptedUI{
		choice:      provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"},
		retriesLeft: 1,
	}
	h := newHarness(t, ui)
	h.local.installErr = errors.New("pull interrupted")

	// The fault persists across the retry: provider-setup fails, the
	// scripted retry re-enters it, it fails again, the decline ends the
	// run.
	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StepProviderSetup))
	assert.Equal(t, 2, h.local.installCalls, "retry re-entered exactly the failed step")
	assert.Len(t, ui.errorDetails, 2, "error screen shown once per failure")
	assert.Zero(t, ui.retriesLeft)
	// The earlier steps did not rerun into different answers.
	assert.Zero(t, h.provisioner.ensureCalls)

	// The history records both visits to the failed step and both error
	// screens, in order.
	assert.Equal(t, []Step{
		StepWelcome,
		StepEnvironmentCheck,
		StepProviderChoice,
		StepProviderSetup,
		StepError,
		StepProviderSetup,
		StepError,
	}, h.seq.State().History)
}

// ---- Scenario C: machine already provisioned ----

func TestRerunShortCircuitsButRewritesConfig(t *testing.T) {
	ui := &scriptedUI{
		choice: provider.Choice{Kind: provider.KindLocal, ModelID: "llama3.1:8b"},
	}
	h := newHarness(t, ui)
	h.local.satisfied = true
	h.provisioner.cachedMB = 0 // artifacts all cached

	// A previous run persisted a different model.
	require.NoError(t, h.store.Persist(config.Document{
		LLM: config.LLM{Mode: config.ModeLocal, LocalModel: "mistral:7b"},
	}))

	require.NoError(t, h.seq.Run(context.Background()))

	// Satisfied target: no install sub-operations ran.
	assert.Zero(t, h.local.installCalls)
	assert.Positive(t, h.local.checkCalls)

	// The provider selection was still re-written durably.
	doc := h.store.Document()
	assert.Equal(t, "llama3.1:8b", doc.LLM.LocalModel)
	assert.True(t, h.store.Completed())
}

func TestSkipProviderRecordsModeNone(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{Kind: provider.KindNone}}
	h := newHarness(t, ui)
	h.provisioner.cachedMB = 0

	require.NoError(t, h.seq.Run(context.Background()))

	assert.Zero(t, h.local.installCalls)
	assert.Zero(t, h.cloud.installCalls)
	// Artifacts are provider-independent and still provisioned.
	assert.Equal(t, 1, h.provisioner.ensureCalls)
	assert.Equal(t, config.ModeNone, h.store.Document().LLM.Mode)
	assert.True(t, h.store.Completed())
}

// failingMarkStore wraps the real store and fails the completion marker a
// given number of times before letting it through.
type failingMarkStore struct {
	*config.Store
	failures int
}

func (f *failingMarkStore) MarkCompleted() error {
	if f.failures > 0 {
		f.failures--
		return errors.New("read-only filesystem while writing completion marker")
	}
	return f.Store.MarkCompleted()
}

// A failed completion-marker write parks the wizard in the error state
// like any other persistence failure, so the retry prompt can recover it
// instead of the run bailing out with the provider config half-recorded.
func TestCompletionMarkerFailureIsRetryable(t *testing.T) {
	ui := &scriptedUI{
		choice:      provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"},
		retriesLeft: 1,
	}
	h := newHarness(t, ui)
	h.seq.store = &failingMarkStore{Store: h.store, failures: 1}

	require.NoError(t, h.seq.Run(context.Background()))

	require.Len(t, ui.errorDetails, 1)
	assert.Contains(t, ui.errorDetails[0], "completion marker")
	assert.Equal(t, StepComplete, h.seq.State().FailedStep)
	assert.True(t, h.store.Completed(), "retry re-entered the final step and marked the run complete")
}

// A declined retry after the marker failure still ends the run with the
// failed step named, not a bare error bubbled out of the loop.
func TestCompletionMarkerFailureDeclinedNamesStep(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"}}
	h := newHarness(t, ui)
	h.seq.store = &failingMarkStore{Store: h.store, failures: 1}

	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StepComplete))
	assert.False(t, h.store.Completed())
	// The provider outcome was already persisted before the marker write.
	assert.Equal(t, config.ModeLocal, h.store.Document().LLM.Mode)
}

// ---- Visited-step history ----

func TestHistoryRecordsVisitedSteps(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"}}
	h := newHarness(t, ui)

	require.NoError(t, h.seq.Run(context.Background()))

	assert.Equal(t, []Step{
		StepWelcome,
		StepEnvironmentCheck,
		StepProviderChoice,
		StepProviderSetup,
		StepModelProvisioning,
		StepOutputSelection,
		StepComplete,
	}, h.seq.State().History)
}

// ---- Offline degradation ----

func TestOfflineWithEverythingCachedCompletes(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"}}
	h := newHarness(t, ui)
	h.checker.networkErr = &infra.CheckError{Type: infra.CheckErrNetwork, Message: "no network"}
	h.local.satisfied = true
	h.provisioner.cachedMB = 0

	require.NoError(t, h.seq.Run(context.Background()))
	assert.True(t, h.seq.State().Offline)
	assert.True(t, h.store.Completed())
}

func TestOfflineWithMissingArtifactsFails(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{Kind: provider.KindLocal, ModelID: "mistral:7b"}}
	h := newHarness(t, ui)
	h.checker.networkErr = &infra.CheckError{Type: infra.CheckErrNetwork, Message: "no network"}
	h.local.satisfied = true
	h.provisioner.cachedMB = 900

	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StepModelProvisioning))
	assert.Zero(t, h.provisioner.ensureCalls)
}

func TestOfflineCloudChoiceFails(t *testing.T) {
	ui := &scriptedUI{choice: provider.Choice{
		Kind:       provider.KindCloud,
		Credential: secrets.NewCredentialFromString("sk-test-abcdefghijklmnop"),
	}}
	h := newHarness(t, ui)
	h.checker.networkErr = &infra.CheckError{Type: infra.CheckErrNetwork, Message: "no network"}

	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, h.cloud.installCalls)
}

// ---- Environment failures ----

func TestBrokenEnvironmentIsFatalWithRemediation(t *testing.T) {
	ui := &scriptedUI{}
	h := newHarness(t, ui)
	h.seq.env = &fakeEnv{ready: false}

	err := h.seq.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(StepEnvironmentCheck))
	require.Len(t, ui.errorDetails, 1)
	assert.Contains(t, ui.errorDetails[0], "reinstall")
}

// ---- Step sequence ----

func TestNextPrevAreInverse(t *testing.T) {
	for i, step := range stepOrder {
		if i < len(stepOrder)-1 {
			next, ok := Next(step)
			require.True(t, ok, step)
			prev, ok := Prev(next)
			require.True(t, ok)
			assert.Equal(t, step, prev)
		}
	}

	_, ok := Next(StepComplete)
	assert.False(t, ok)
	_, ok = Prev(StepWelcome)
	assert.False(t, ok)
	_, ok = Next(StepError)
	assert.False(t, ok)
}

func TestAdvanceRetreat(t *testing.T) {
	h := newHarness(t, &scriptedUI{})
	seq := h.seq

	assert.Equal(t, StepWelcome, seq.State().Step)
	seq.Advance()
	assert.Equal(t, StepEnvironmentCheck, seq.State().Step)
	seq.Retreat()
	assert.Equal(t, StepWelcome, seq.State().Step)
	// Retreat at the start is a no-op, not a panic.
	seq.Retreat()
	assert.Equal(t, StepWelcome, seq.State().Step)

	// Only real moves landed in the history; the no-op did not.
	assert.Equal(t, []Step{StepWelcome, StepEnvironmentCheck, StepWelcome}, seq.State().History)
}
