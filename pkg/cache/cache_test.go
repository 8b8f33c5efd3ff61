package cache

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

// fakeAdapter is a minimal backend.Backend whose BuildSpawn launches a real
// /bin/sh child (so supervisor.Start, Stop, and process-group termination
// are genuinely exercised) without requiring that child to actually speak
// HTTP. Readiness is decided by the cache's overridable readyProbe instead.
type fakeAdapter struct {
	recipe       string
	caps         []backend.Capability
	endpoints    map[backend.Operation]string
	recognized   []string
	sleepSeconds int
	installErr   error
	installOut   backend.InstallOutcome
	spawnErr     error
}

func (f *fakeAdapter) Name() string                    { return f.recipe }
func (f *fakeAdapter) Capabilities() []backend.Capability { return f.caps }
func (f *fakeAdapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	return f.installOut, f.installErr
}
func (f *fakeAdapter) ReadinessPath() string { return "/health" }
func (f *fakeAdapter) BuildSpawn(ctx context.Context, model backend.ModelRef, options backend.RecipeOptions, port int, logSink io.Writer) (backend.SpawnSpec, error) {
	if f.spawnErr != nil {
		return backend.SpawnSpec{}, f.spawnErr
	}
	secs := f.sleepSeconds
	if secs == 0 {
		secs = 30
	}
	return backend.SpawnSpec{Exe: "/bin/sh", Args: []string{"-c", fmt.Sprintf("trap 'exit 0' TERM; sleep %d", secs)}}, nil
}
func (f *fakeAdapter) EndpointMap() map[backend.Operation]string { return f.endpoints }
func (f *fakeAdapter) RecognizedOptions() []string               { return f.recognized }

func testLogger() logging.Logger {
	return logging.NewLogrusAdapter(logrus.New())
}

func alwaysReady(ctx context.Context, url string) bool { return true }

func newTestCache(t *testing.T, backends map[string]backend.Backend, capacity int, infos ...registry.ModelInfo) *Cache {
	t.Helper()
	reg, err := registry.Open(t.TempDir(), "", nil)
	require.NoError(t, err)
	for _, info := range infos {
		require.NoError(t, reg.RegisterUser(info))
	}
	c := New(reg, backends, capacity, testLogger())
	c.readyProbe = alwaysReady
	return c
}

func llmFake(name string) *fakeAdapter {
	return &fakeAdapter{
		recipe:     name,
		caps:       []backend.Capability{backend.CapabilityCompletion},
		endpoints:  map[backend.Operation]string{backend.OperationChatCompletion: "/v1/chat/completions"},
		recognized: []string{"ctx_size"},
	}
}

func TestAcquireFastPathReusesLoadedInstance(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true})

	inst1, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	rel1()

	inst2, rel2, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	defer rel2()

	assert.Same(t, inst1, inst2)
}

func TestCapacityEvictsLRUWithinType(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
		registry.ModelInfo{ID: "user.m2", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	rel1() // must be unpinned to be evictable

	_, rel2, err := c.Acquire(context.Background(), "user.m2", nil)
	require.NoError(t, err)
	defer rel2()

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "user.m2", status[0].ModelID)
}

func TestCrossTypeModelsCoexistAtCapacityOne(t *testing.T) {
	llm := llmFake("fake-llm")
	embed := llmFake("fake-embed")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": llm, "fake-embed": embed}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
		registry.ModelInfo{ID: "user.e1", Recipe: "fake-embed", Labels: []string{registry.LabelEmbeddings}, Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	defer rel1()

	_, rel2, err := c.Acquire(context.Background(), "user.e1", nil)
	require.NoError(t, err)
	defer rel2()

	assert.Len(t, c.Status(), 2)
}

func TestPinnedInstanceBlocksEvictionUntilCapacityBusy(t *testing.T) {
	old := capacityWaitBudget
	capacityWaitBudget = 300 * time.Millisecond
	defer func() { capacityWaitBudget = old }()

	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
		registry.ModelInfo{ID: "user.m2", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	defer rel1() // never released before the second Acquire, so m1 stays pinned

	_, _, err = c.Acquire(context.Background(), "user.m2", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no evictable slot")

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "user.m1", status[0].ModelID)
}

func TestNPUExclusivityEvictsAcrossTypes(t *testing.T) {
	flm := llmFake("flm")
	ryzen := llmFake("ryzenai-llm")
	c := newTestCache(t, map[string]backend.Backend{"flm": flm, "ryzenai-llm": ryzen}, 2,
		registry.ModelInfo{ID: "user.n1", Recipe: "flm", Downloaded: true},
		registry.ModelInfo{ID: "user.w1", Recipe: "ryzenai-llm", Labels: []string{registry.LabelEmbeddings}, Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.n1", nil)
	require.NoError(t, err)
	rel1()

	_, rel2, err := c.Acquire(context.Background(), "user.w1", nil)
	require.NoError(t, err)
	defer rel2()

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "user.w1", status[0].ModelID)
}

func TestUnloadByIDRemovesOnlyThatInstance(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, -1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
		registry.ModelInfo{ID: "user.m2", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	rel1()
	_, rel2, err := c.Acquire(context.Background(), "user.m2", nil)
	require.NoError(t, err)
	defer rel2()

	id := "user.m1"
	require.NoError(t, c.Unload(context.Background(), &id))

	status := c.Status()
	require.Len(t, status, 1)
	assert.Equal(t, "user.m2", status[0].ModelID)
}

func TestUnloadAllEvictsEverything(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, -1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel1, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	rel1()

	require.NoError(t, c.Unload(context.Background(), nil))
	assert.Empty(t, c.Status())
}

func TestEffectiveOptionsRejectsUnrecognizedKey(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)

	_, _, err := c.Acquire(context.Background(), "user.m1", backend.RecipeOptions{"not_a_real_option": true})
	require.Error(t, err)
}

func TestSaveOptionsPersistsOnlyProvidedKeys(t *testing.T) {
	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel, err := c.Acquire(context.Background(), "user.m1", backend.RecipeOptions{"ctx_size": float64(8192), "save_options": true})
	require.NoError(t, err)
	defer rel()

	stored := c.reg.GetRecipeOptions("user.m1")
	assert.Equal(t, map[string]any{"ctx_size": float64(8192)}, stored)
}
