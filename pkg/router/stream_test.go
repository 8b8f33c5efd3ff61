package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

func TestSSEWriterFramesEventsWithBlankLineTerminator(t *testing.T) {
	rec := httptest.NewRecorder()
	sse := newSSEWriter(rec)
	require.NotNil(t, sse)

	sse.prepare()
	sse.writeEvent("progress", map[string]any{"percent": 10})
	sse.writeEvent("complete", map[string]any{"id": "u1"})

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(body, "event: progress\ndata: "))
	assert.Contains(t, body, "\n\nevent: complete\ndata: ")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

// fakeFetcher reports a fixed sequence of progress ticks then succeeds,
// modeling spec.md §8 scenario S6 (monotonically non-decreasing percent,
// one complete event, then a final empty terminator).
type fakeFetcher struct {
	ticks []PullProgress
	info  registry.ModelInfo
}

func (f *fakeFetcher) Fetch(ctx context.Context, req PullRequest, onProgress func(PullProgress)) (registry.ModelInfo, error) {
	for _, tick := range f.ticks {
		if onProgress != nil {
			onProgress(tick)
		}
	}
	return f.info, nil
}

func TestPullStreamingReportsProgressThenCompleteAndRegisters(t *testing.T) {
	reg, err := registry.Open(t.TempDir(), "", nil)
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		ticks: []PullProgress{{File: "model.gguf", Percent: 10}, {File: "model.gguf", Percent: 100}},
		info:  registry.ModelInfo{ID: "user.u1", Recipe: "llamacpp", Downloaded: true, Checkpoint: "org/mdl:Q4"},
	}

	rt := New(nil, reg, testLogger(), nil, fetcher, "", MaxModelsByType{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pull",
		strings.NewReader(`{"model_name":"u1","stream":true,"checkpoint":"org/mdl:Q4","recipe":"llamacpp"}`))
	rec := httptest.NewRecorder()
	rt.handlePull(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "event: progress")
	assert.Contains(t, body, "event: complete")
	assert.True(t, strings.HasSuffix(body, "\n\n"))

	models := reg.List(false)
	require.Len(t, models, 1)
	assert.Equal(t, "user.u1", models[0].ID)
}

func TestPullNonStreamingReturnsJSON(t *testing.T) {
	reg, err := registry.Open(t.TempDir(), "", nil)
	require.NoError(t, err)
	fetcher := &fakeFetcher{info: registry.ModelInfo{ID: "user.u2", Recipe: "llamacpp", Checkpoint: "org/mdl:Q4", Downloaded: true}}
	rt := New(nil, reg, testLogger(), nil, fetcher, "", MaxModelsByType{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pull", strings.NewReader(`{"model_name":"u2"}`))
	rec := httptest.NewRecorder()
	rt.handlePull(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "user.u2")
}

func TestPullWithoutFetcherIsUnsupported(t *testing.T) {
	reg, err := registry.Open(t.TempDir(), "", nil)
	require.NoError(t, err)
	rt := New(nil, reg, testLogger(), nil, nil, "", MaxModelsByType{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pull", strings.NewReader(`{"model_name":"u3"}`))
	rec := httptest.NewRecorder()
	rt.handlePull(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
