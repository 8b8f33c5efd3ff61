// Package ryzenai adapts AMD Ryzen AI's NPU-accelerated LLM engine as a
// Backend, sharing the NPU-exclusivity and driver-version-gating pattern of
// pkg/backend/flm but as a distinct recipe tag ("ryzenai-llm") per
// spec.md §3.
package ryzenai

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

// Name is the recipe tag this adapter serves.
const Name = "ryzenai-llm"

// MinDriverVersion is the minimum NPU driver version this adapter requires.
const MinDriverVersion = "1.0.0"

type adapter struct {
	installer       *backend.Installer
	driverVersionFn func(ctx context.Context) (string, error)
}

// New creates a ryzenai-llm Backend adapter.
func New(installer *backend.Installer, driverVersionFn func(ctx context.Context) (string, error)) backend.Backend {
	return &adapter{installer: installer, driverVersionFn: driverVersionFn}
}

func (a *adapter) Name() string { return Name }

func (a *adapter) Capabilities() []backend.Capability {
	return []backend.Capability{backend.CapabilityCompletion}
}

func (a *adapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return a.installer.EnsureInstalled(ctx)
}

func (a *adapter) ReadinessPath() string { return "/health" }

func (a *adapter) EndpointMap() map[backend.Operation]string {
	return map[backend.Operation]string{
		backend.OperationChatCompletion: "/v1/chat/completions",
		backend.OperationCompletion:     "/v1/completions",
	}
}

func (a *adapter) RecognizedOptions() []string {
	return []string{"ctx_size", "save_options"}
}

func (a *adapter) MinDriverVersion() string { return MinDriverVersion }

func (a *adapter) HostDriverVersion(ctx context.Context) (string, error) {
	return a.driverVersionFn(ctx)
}

func (a *adapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if model.ResolvedMain == "" {
		return backend.SpawnSpec{}, apierror.New(apierror.KindLoadFailed, "model has no resolved path")
	}

	version, err := a.HostDriverVersion(ctx)
	if err != nil || backend.CompareVersions(version, MinDriverVersion) < 0 {
		return backend.SpawnSpec{}, apierror.New(apierror.KindPreconditionFailed,
			fmt.Sprintf("Ryzen AI NPU driver version %q is below required %q", version, MinDriverVersion))
	}

	ctxSize := 4096
	if v, ok := options["ctx_size"]; ok {
		n, ok := toInt(v)
		if !ok {
			return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "ctx_size must be an integer")
		}
		ctxSize = n
	}

	return backend.SpawnSpec{
		Exe: a.installer.ExecutableName,
		Args: []string{
			"--model", model.ResolvedMain,
			"--port", strconv.Itoa(port),
			"--ctx-size", strconv.Itoa(ctxSize),
		},
	}, nil
}

// toInt coerces a recipe option value to an int, handling the float64 shape
// json.Unmarshal produces for any JSON number alongside the int/int64 shapes
// a caller might set programmatically.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
