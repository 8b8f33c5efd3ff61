package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelTypePrecedence(t *testing.T) {
	cases := []struct {
		name string
		info ModelInfo
		want ModelType
	}{
		{"embeddings wins over vision", ModelInfo{Labels: []string{LabelVision, LabelEmbeddings}}, ModelTypeEmbedding},
		{"reranking", ModelInfo{Labels: []string{LabelReranking}}, ModelTypeReranking},
		{"audio label", ModelInfo{Labels: []string{LabelAudio}}, ModelTypeAudio},
		{"whispercpp recipe implies audio", ModelInfo{Recipe: RecipeWhisperCpp}, ModelTypeAudio},
		{"image label", ModelInfo{Labels: []string{LabelImage}}, ModelTypeImage},
		{"sd-cpp recipe implies image", ModelInfo{Recipe: RecipeSDCpp}, ModelTypeImage},
		{"kokoro recipe implies tts", ModelInfo{Recipe: RecipeKokoro}, ModelTypeTTS},
		{"default llm", ModelInfo{Recipe: RecipeLlamaCpp}, ModelTypeLLM},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.info.Type())
		})
	}
}

func TestRegisterUserRejectsBadPrefix(t *testing.T) {
	reg := openTestRegistry(t)
	err := reg.RegisterUser(ModelInfo{ID: "not-user-prefixed", Recipe: RecipeKokoro, Downloaded: true})
	assert.Error(t, err)
}

func TestRegisterUserThenDeleteRoundTrips(t *testing.T) {
	reg := openTestRegistry(t)

	before, err := os.ReadFile(reg.userModelsPath())
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}

	info := ModelInfo{ID: "user.my-model", Recipe: RecipeKokoro, Downloaded: true}
	require.NoError(t, reg.RegisterUser(info))

	got, err := reg.Get("user.my-model")
	require.NoError(t, err)
	assert.Equal(t, info.ID, got.ID)

	require.NoError(t, reg.Delete("user.my-model"))

	_, err = reg.Get("user.my-model")
	assert.Error(t, err)

	after, err := os.ReadFile(reg.userModelsPath())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	reg := openTestRegistry(t)
	err := reg.Delete("user.does-not-exist")
	assert.Error(t, err)
}

func TestRecipeOptionsRoundTrip(t *testing.T) {
	reg := openTestRegistry(t)

	assert.Empty(t, reg.GetRecipeOptions("Qwen2.5-7B-Instruct-GGUF"))

	opts := map[string]any{"ctx_size": float64(8192)}
	require.NoError(t, reg.SetRecipeOptions("Qwen2.5-7B-Instruct-GGUF", opts))

	got := reg.GetRecipeOptions("Qwen2.5-7B-Instruct-GGUF")
	assert.Equal(t, opts, got)
}

func TestListFiltersUndownloadedByDefault(t *testing.T) {
	reg := openTestRegistry(t)

	all := reg.List(true)
	assert.NotEmpty(t, all)

	downloadedOnly := reg.List(false)
	for _, m := range downloadedOnly {
		assert.True(t, m.Downloaded)
	}
	assert.Less(t, len(downloadedOnly), len(all))
}

func TestUserEntryShadowsBuiltinByID(t *testing.T) {
	reg := openTestRegistry(t)
	shadow := ModelInfo{ID: builtinModels[0].ID, Recipe: RecipeLlamaCpp, Downloaded: true}
	// User ids must carry the "user." prefix for RegisterUser, but the
	// precedence rule itself is id-based, not prefix-based, so we exercise
	// it directly against the merge order.
	reg.user = append(reg.user, shadow)

	got, err := reg.Get(builtinModels[0].ID)
	require.NoError(t, err)
	assert.True(t, got.Downloaded)
}

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	dir := t.TempDir()
	reg, err := Open(filepath.Join(dir, "cache"), "", nil)
	require.NoError(t, err)
	return reg
}
