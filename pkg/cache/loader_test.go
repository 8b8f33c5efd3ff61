package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

// flakyInstallAdapter fails EnsureInstalled on its first call and succeeds
// on every call after, modeling the "evict everything, retry once" path of
// spec.md §4.4.2 step 9 (the fallback retries the whole load, which calls
// EnsureInstalled again).
type flakyInstallAdapter struct {
	*fakeAdapter
	calls int
}

func (f *flakyInstallAdapter) EnsureInstalled(ctx context.Context) (backend.InstallOutcome, error) {
	f.calls++
	if f.calls == 1 {
		return backend.InstallOutcome{}, errors.New("simulated transient install failure")
	}
	return backend.InstallOutcome{}, nil
}

func TestLoadRetriesOnceAfterEvictAllOnFailure(t *testing.T) {
	inner := llmFake("fake-llm")
	flaky := &flakyInstallAdapter{fakeAdapter: inner}

	c := newTestCache(t, map[string]backend.Backend{"fake-llm": flaky}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)

	_, rel, err := c.Acquire(context.Background(), "user.m1", nil)
	require.NoError(t, err)
	defer rel()

	assert.Equal(t, 2, flaky.calls)
}

func TestLoadFailsAfterSecondAttempt(t *testing.T) {
	adapter := &fakeAdapter{
		recipe:     "fake-llm",
		caps:       []backend.Capability{backend.CapabilityCompletion},
		endpoints:  map[backend.Operation]string{backend.OperationChatCompletion: "/v1/chat/completions"},
		recognized: nil,
		installErr: errors.New("permanently broken install"),
	}
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)

	_, _, err := c.Acquire(context.Background(), "user.m1", nil)
	require.Error(t, err)
	assert.Equal(t, apierror.KindInstallFailed, apierror.KindOf(err))
}

func TestReadinessTimeoutFailsLoad(t *testing.T) {
	old := readinessBudget
	oldInterval := readinessInterval
	readinessBudget = 50 * time.Millisecond
	readinessInterval = 10 * time.Millisecond
	defer func() { readinessBudget = old; readinessInterval = oldInterval }()

	adapter := llmFake("fake-llm")
	c := newTestCache(t, map[string]backend.Backend{"fake-llm": adapter}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "fake-llm", Downloaded: true},
	)
	c.readyProbe = func(ctx context.Context, url string) bool { return false }

	_, _, err := c.Acquire(context.Background(), "user.m1", nil)
	require.Error(t, err)
	assert.Equal(t, apierror.KindLoadFailed, apierror.KindOf(err))
}

func TestUnsupportedRecipeFailsWithUnsupportedOperation(t *testing.T) {
	c := newTestCache(t, map[string]backend.Backend{}, 1,
		registry.ModelInfo{ID: "user.m1", Recipe: "no-such-recipe", Downloaded: true},
	)

	_, _, err := c.Acquire(context.Background(), "user.m1", nil)
	require.Error(t, err)
	assert.Equal(t, apierror.KindUnsupportedOp, apierror.KindOf(err))
}
