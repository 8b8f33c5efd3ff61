package flm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/backend"
)

func newTestAdapter(version string) backend.Backend {
	return New(&backend.Installer{ExecutableName: "flm-server"}, func(ctx context.Context) (string, error) {
		return version, nil
	})
}

func TestBuildSpawnRejectsBelowMinDriverVersion(t *testing.T) {
	a := newTestAdapter("0.9.0")
	_, err := a.BuildSpawn(context.Background(), backend.ModelRef{ResolvedMain: "/models/m.gguf"}, backend.RecipeOptions{}, 8081, nil)
	assert.Error(t, err)
}

func TestBuildSpawnAcceptsJSONDecodedCtxSize(t *testing.T) {
	a := newTestAdapter("1.0.0")
	opts := backend.RecipeOptions{"ctx_size": float64(8192)}
	spec, err := a.BuildSpawn(context.Background(), backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	require.NoError(t, err)
	assert.Contains(t, spec.Args, "8192")
}

func TestBuildSpawnRejectsNonNumericCtxSize(t *testing.T) {
	a := newTestAdapter("1.0.0")
	opts := backend.RecipeOptions{"ctx_size": "big"}
	_, err := a.BuildSpawn(context.Background(), backend.ModelRef{ResolvedMain: "/models/m.gguf"}, opts, 8081, nil)
	assert.Error(t, err)
}
