package llamacpp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

func newTestAdapter() backend.Backend {
	return New(&backend.Installer{ExecutableName: "llama-server"}, Defaults{})
}

func TestBuildSpawnRejectsMissingModel(t *testing.T) {
	a := newTestAdapter()
	_, err := a.BuildSpawn(nil, backend.ModelRef{}, backend.RecipeOptions{}, 8080, nil)
	assert.Error(t, err)
}

func TestBuildSpawnIncludesPortAndModel(t *testing.T) {
	a := newTestAdapter()
	spec, err := a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, backend.RecipeOptions{}, 8081, nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "/models/m.gguf")
	assert.Contains(t, spec.Args, "8081")
}

func TestBuildSpawnRejectsDisallowedExtraArgs(t *testing.T) {
	a := newTestAdapter()
	opts := backend.RecipeOptions{"llamacpp_args": "--port 9999"}
	_, err := a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	assert.Error(t, err)
}

func TestBuildSpawnAllowsBenignExtraArgs(t *testing.T) {
	a := newTestAdapter()
	opts := backend.RecipeOptions{"llamacpp_args": "--threads 4"}
	spec, err := a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "--threads")
}

func TestBuildSpawnRejectsUnknownBackend(t *testing.T) {
	a := newTestAdapter()
	opts := backend.RecipeOptions{"llamacpp_backend": "cuda"}
	_, err := a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	assert.Error(t, err)
}

func TestBuildSpawnUsesConfiguredDefaultsBeneathRequestOptions(t *testing.T) {
	a := New(&backend.Installer{ExecutableName: "llama-server"}, Defaults{CtxSize: 8192, Backend: "vulkan", Args: "--threads 8"})

	spec, err := a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, backend.RecipeOptions{}, 8081, nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "8192")
	assert.Contains(t, spec.Args, "--threads")
	assert.Contains(t, spec.Env, "GGML_VK_VISIBLE_DEVICES=0")

	opts := backend.RecipeOptions{"ctx_size": float64(2048)}
	spec, err = a.BuildSpawn(nil, backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "2048")
	assert.NotContains(t, spec.Args, "8192")
}

func TestEndpointMapHasChatCompletions(t *testing.T) {
	a := newTestAdapter()
	path, ok := a.EndpointMap()[backend.OperationChatCompletion]
	assert.True(t, ok)
	assert.Equal(t, "/v1/chat/completions", path)
}
