// Package sdcpp adapts the stable-diffusion.cpp image engine as a Backend.
// Grounded on spec.md §4.2's note that this adapter embeds extra sampling
// parameters into the prompt via an inline <sd_cpp_extra_args> tag for
// engine versions that require it.
package sdcpp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

// Name is the recipe tag this adapter serves.
const Name = "sd-cpp"

// ImageDefaults mirrors ModelInfo.image_defaults for adapters that need it
// without importing pkg/registry.
type ImageDefaults struct {
	Steps    int
	CFGScale float64
	Width    int
	Height   int
}

type adapter struct {
	installer            *backend.Installer
	requiresExtraArgsTag  bool
}

// New creates a stable-diffusion.cpp Backend adapter. requiresExtraArgsTag
// selects the inline-tag sampling-parameter path for engine versions that
// need it.
func New(installer *backend.Installer, requiresExtraArgsTag bool) backend.Backend {
	return &adapter{installer: installer, requiresExtraArgsTag: requiresExtraArgsTag}
}

func (a *adapter) Name() string { return Name }

func (a *adapter) Capabilities() []backend.Capability {
	return []backend.Capability{backend.CapabilityImageGeneration}
}

func (a *adapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return a.installer.EnsureInstalled(ctx)
}

func (a *adapter) ReadinessPath() string { return "/" }

func (a *adapter) EndpointMap() map[backend.Operation]string {
	return map[backend.Operation]string{
		backend.OperationImageGeneration: "/v1/images/generations",
	}
}

func (a *adapter) RecognizedOptions() []string {
	return []string{
		"sdcpp_backend", "steps", "cfg_scale", "width", "height",
		"seed", "sample_method", "scheduler", "save_options",
	}
}

func (a *adapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if model.ResolvedMain == "" {
		return backend.SpawnSpec{}, apierror.New(apierror.KindLoadFailed, "model has no resolved path")
	}

	steps, err := intOption(options, "steps", 20)
	if err != nil || steps < 1 {
		return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "steps must be an integer >= 1")
	}
	cfgScale, err := floatOption(options, "cfg_scale", 7.0)
	if err != nil || cfgScale < 0 {
		return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "cfg_scale must be a number >= 0")
	}
	width, err := intOption(options, "width", 512)
	if err != nil || width%64 != 0 {
		return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "width must be an integer multiple of 64")
	}
	height, err := intOption(options, "height", 512)
	if err != nil || height%64 != 0 {
		return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "height must be an integer multiple of 64")
	}

	args := []string{
		"--model", model.ResolvedMain,
		"--port", strconv.Itoa(port),
	}
	if model.ResolvedVAE != "" {
		args = append(args, "--vae", model.ResolvedVAE)
	}
	if !a.requiresExtraArgsTag {
		args = append(args, "--steps", strconv.Itoa(steps), "--cfg-scale", fmt.Sprintf("%g", cfgScale),
			"--width", strconv.Itoa(width), "--height", strconv.Itoa(height))
	}

	return backend.SpawnSpec{Exe: a.installer.ExecutableName, Args: args}, nil
}

// RequiresPromptTag reports whether this adapter's spawned engine version
// needs sampling parameters embedded in the prompt rather than passed as
// spawn flags, satisfying backend.PromptTagBuilder.
func (a *adapter) RequiresPromptTag() bool { return a.requiresExtraArgsTag }

// BuildPromptTag builds the inline <sd_cpp_extra_args> tag this adapter
// embeds in the prompt when RequiresPromptTag is true, carrying the
// sampling parameters the spawned engine version can't accept as flags.
func (a *adapter) BuildPromptTag(options backend.RecipeOptions) (string, error) {
	steps, err := intOption(options, "steps", 20)
	if err != nil {
		return "", err
	}
	cfgScale, err := floatOption(options, "cfg_scale", 7.0)
	if err != nil {
		return "", err
	}
	seed, err := int64Option(options, "seed", -1)
	if err != nil {
		return "", err
	}
	sampleMethod := stringOption(options, "sample_method", "euler_a")
	scheduler := stringOption(options, "scheduler", "discrete")

	payload := map[string]any{
		"steps":         steps,
		"cfg_scale":     cfgScale,
		"seed":          seed,
		"sample_method": sampleMethod,
		"scheduler":     scheduler,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling sd_cpp_extra_args: %w", err)
	}
	return fmt.Sprintf("<sd_cpp_extra_args>%s</sd_cpp_extra_args>", b), nil
}

func intOption(options backend.RecipeOptions, key string, def int) (int, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s is not an integer", key)
	}
}

func floatOption(options backend.RecipeOptions, key string, def float64) (float64, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("%s is not a number", key)
	}
}

func int64Option(options backend.RecipeOptions, key string, def int64) (int64, error) {
	v, ok := options[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("%s is not an integer", key)
	}
}

func stringOption(options backend.RecipeOptions, key, def string) string {
	if v, ok := options[key].(string); ok && v != "" {
		return v
	}
	return def
}
