// Package kokoro adapts a kokoro-style speech-synthesis server as a
// Backend. Grounded on the same shape as pkg/backend/whispercpp (a single
// capability, no recognized recipe options per spec.md §3's "kokoro: none"
// entry) but for the SpeechSynthesis capability instead of audio-in.
package kokoro

import (
	"context"
	"io"
	"strconv"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

// Name is the recipe tag this adapter serves.
const Name = "kokoro"

type adapter struct {
	installer *backend.Installer
}

// New creates a kokoro Backend adapter.
func New(installer *backend.Installer) backend.Backend {
	return &adapter{installer: installer}
}

func (a *adapter) Name() string { return Name }

func (a *adapter) Capabilities() []backend.Capability {
	return []backend.Capability{backend.CapabilitySpeechSynthesis}
}

func (a *adapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return a.installer.EnsureInstalled(ctx)
}

func (a *adapter) ReadinessPath() string { return "/health" }

func (a *adapter) EndpointMap() map[backend.Operation]string {
	return map[backend.Operation]string{
		backend.OperationAudioSpeech: "/v1/audio/speech",
	}
}

// RecognizedOptions lists only the universal save_options pseudo-option:
// spec.md §3 lists no recognized keys specific to the kokoro recipe.
func (a *adapter) RecognizedOptions() []string {
	return []string{"save_options"}
}

func (a *adapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if model.ResolvedMain == "" {
		return backend.SpawnSpec{}, apierror.New(apierror.KindLoadFailed, "model has no resolved path")
	}

	return backend.SpawnSpec{
		Exe: a.installer.ExecutableName,
		Args: []string{
			"--model", model.ResolvedMain,
			"--port", strconv.Itoa(port),
			"--host", "127.0.0.1",
		},
	}, nil
}
