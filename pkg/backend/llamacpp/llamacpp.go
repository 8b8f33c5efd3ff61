// Package llamacpp adapts the llama.cpp GGUF server as a Backend, grounded
// on the teacher's pkg/inference/backends/llamacpp/llamacpp.go: argument
// construction via go-shellwords, GPU backend selection, and rejection of
// user-supplied llamacpp_args that collide with router-managed flags.
package llamacpp

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/mattn/go-shellwords"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

// Name is the recipe tag this adapter serves.
const Name = "llamacpp"

// disallowedArgs are router-managed flags a llamacpp_args string must never
// set, per spec.md §4.2.
var disallowedArgs = map[string]bool{
	"-m": true, "--model": true,
	"--port": true,
	"--ctx-size": true, "-c": true,
	"-ngl": true, "--n-gpu-layers": true,
	"--host": true,
	"--embeddings": true,
	"--mmproj": true,
}

// Defaults carries the process-wide config/env layer of spec.md §3's
// effective-value precedence (request override -> stored per-model option
// -> process-wide config/env -> adapter default), resolved once at
// startup from flags/env and applied in BuildSpawn beneath any per-load
// options.
type Defaults struct {
	CtxSize int
	Backend string
	Args    string
}

// adapter is the llama.cpp Backend implementation.
type adapter struct {
	installer *backend.Installer
	defaults  Defaults
}

// New creates a llama.cpp Backend adapter. defaults supplies the
// process-wide ctx_size/llamacpp_backend/llamacpp_args fallbacks applied
// when a load doesn't specify them.
func New(installer *backend.Installer, defaults Defaults) backend.Backend {
	return &adapter{installer: installer, defaults: defaults}
}

func (a *adapter) Name() string { return Name }

func (a *adapter) Capabilities() []backend.Capability {
	return []backend.Capability{backend.CapabilityCompletion, backend.CapabilityEmbeddings, backend.CapabilityReranking}
}

func (a *adapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return a.installer.EnsureInstalled(ctx)
}

func (a *adapter) ReadinessPath() string { return "/health" }

func (a *adapter) EndpointMap() map[backend.Operation]string {
	return map[backend.Operation]string{
		backend.OperationChatCompletion: "/v1/chat/completions",
		backend.OperationCompletion:     "/v1/completions",
		backend.OperationEmbeddings:     "/v1/embeddings",
		backend.OperationReranking:      "/v1/rerank",
	}
}

func (a *adapter) RecognizedOptions() []string {
	return []string{"ctx_size", "llamacpp_backend", "llamacpp_args", "save_options"}
}

// BuildSpawn constructs the llama-server command line: the bound port, the
// model path, a context-size flag, and any validated user-supplied extra
// arguments, rejecting collisions with router-managed flags.
func (a *adapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if model.ResolvedMain == "" {
		return backend.SpawnSpec{}, apierror.New(apierror.KindLoadFailed, "model has no resolved GGUF path")
	}

	args := []string{
		"--model", model.ResolvedMain,
		"--port", strconv.Itoa(port),
		"--host", "127.0.0.1",
	}

	ctxSize := 4096
	if a.defaults.CtxSize > 0 {
		ctxSize = a.defaults.CtxSize
	}
	if v, ok := options["ctx_size"]; ok {
		n, ok := toInt(v)
		if !ok {
			return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, "ctx_size must be an integer")
		}
		ctxSize = n
	}
	args = append(args, "--ctx-size", strconv.Itoa(ctxSize))

	if mmproj, ok := options["mmproj"].(string); ok && mmproj != "" {
		args = append(args, "--mmproj", mmproj)
	} else if model.ResolvedMMProj != "" {
		args = append(args, "--mmproj", model.ResolvedMMProj)
	}

	gpuBackend := "cpu"
	if a.defaults.Backend != "" {
		gpuBackend = a.defaults.Backend
	}
	if v, ok := options["llamacpp_backend"].(string); ok && v != "" {
		switch v {
		case "vulkan", "rocm", "metal", "cpu":
			gpuBackend = v
		default:
			return backend.SpawnSpec{}, apierror.New(apierror.KindBadRequest, fmt.Sprintf("unrecognized llamacpp_backend %q", v))
		}
	}
	env := gpuEnvFor(gpuBackend)

	extra := a.defaults.Args
	if v, ok := options["llamacpp_args"].(string); ok && v != "" {
		extra = v
	}
	if extra != "" {
		extraArgs, err := parseAndValidateExtraArgs(extra)
		if err != nil {
			return backend.SpawnSpec{}, err
		}
		args = append(args, extraArgs...)
	}

	return backend.SpawnSpec{
		Exe:  a.installer.ExecutableName,
		Args: args,
		Env:  env,
	}, nil
}

func parseAndValidateExtraArgs(extra string) ([]string, error) {
	parser := shellwords.NewParser()
	parsed, err := parser.Parse(extra)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "parsing llamacpp_args", err)
	}
	for _, tok := range parsed {
		if disallowedArgs[tok] {
			return nil, apierror.New(apierror.KindBadRequest, fmt.Sprintf("llamacpp_args may not set router-managed flag %q", tok))
		}
	}
	return parsed, nil
}

func gpuEnvFor(backendName string) []string {
	switch backendName {
	case "vulkan":
		return []string{"GGML_VK_VISIBLE_DEVICES=0"}
	case "rocm":
		return []string{"HIP_VISIBLE_DEVICES=0"}
	case "metal":
		return nil
	default:
		return []string{"GGML_N_GPU_LAYERS=0"}
	}
}

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
