// Package whispercpp adapts the whisper.cpp transcription server as a
// Backend, grounded on the teacher's general audio/image adapter shape
// (pkg/inference/backends/mlx processes bundle resolution, generalized to
// an audio-only capability set).
package whispercpp

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

// Name is the recipe tag this adapter serves.
const Name = "whispercpp"

type adapter struct {
	installer *backend.Installer
}

// New creates a whisper.cpp Backend adapter.
func New(installer *backend.Installer) backend.Backend {
	return &adapter{installer: installer}
}

func (a *adapter) Name() string { return Name }

func (a *adapter) Capabilities() []backend.Capability {
	return []backend.Capability{backend.CapabilityAudioTranscription}
}

func (a *adapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return a.installer.EnsureInstalled(ctx)
}

func (a *adapter) ReadinessPath() string { return "/health" }

func (a *adapter) EndpointMap() map[backend.Operation]string {
	return map[backend.Operation]string{
		backend.OperationAudioTranscription: "/v1/audio/transcriptions",
	}
}

func (a *adapter) RecognizedOptions() []string {
	return []string{"whispercpp_backend", "save_options"}
}

func (a *adapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if model.ResolvedMain == "" {
		return backend.SpawnSpec{}, apierror.New(apierror.KindLoadFailed, "model has no resolved path")
	}

	whisperBackend := "cpu"
	if v, ok := options["whispercpp_backend"].(string); ok && v != "" {
		switch v {
		case "cpu", "npu":
			whisperBackend = v
		default:
			return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, fmt.Sprintf("unrecognized whispercpp_backend %q", v))
		}
	}

	args := []string{
		"--model", model.ResolvedMain,
		"--port", strconv.Itoa(port),
		"--host", "127.0.0.1",
	}
	var env []string
	if whisperBackend == "npu" {
		env = append(env, "WHISPER_USE_NPU=1")
	}

	return backend.SpawnSpec{Exe: a.installer.ExecutableName, Args: args, Env: env}, nil
}
