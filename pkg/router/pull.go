package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

// PullProgress is one file-download progress tick a ModelFetcher reports
// while pulling a model, per spec.md §4.5's "emits events per file".
type PullProgress struct {
	File    string  `json:"file"`
	Percent float64 `json:"percent"`
}

// PullRequest is POST /api/v1/pull's body, per spec.md §6.
type PullRequest struct {
	ModelName   string `json:"model_name"`
	Stream      bool   `json:"stream"`
	Checkpoint  string `json:"checkpoint"`
	Recipe      string `json:"recipe"`
	Reasoning   bool   `json:"reasoning"`
	Vision      bool   `json:"vision"`
	Embedding   bool   `json:"embedding"`
	Reranking   bool   `json:"reranking"`
	MMProj      string `json:"mmproj"`
	LocalImport bool   `json:"local_import"`
}

// ModelFetcher is the capability that drives POST /api/v1/pull: it fetches
// whatever req.Checkpoint (or a local path, for local_import) names and
// reports progress as it goes. Concrete implementations (HTTP download,
// hub client, local copy) are out of scope per spec.md §1 — this interface
// is the contract the router's SSE plumbing is built against; any fetcher
// satisfying it plugs in unchanged.
type ModelFetcher interface {
	Fetch(ctx context.Context, req PullRequest, onProgress func(PullProgress)) (registry.ModelInfo, error)
}

// handlePull implements POST /api/v1/pull of spec.md §4.5/§6: drives the
// ModelFetcher and, for stream=true, reports progress as
// "event: progress|complete|error\ndata: <json>\n\n" SSE frames, grounded
// on the teacher's models/manager.go PullModel + progressResponseWriter
// (chunked transfer headers, a flush after every write).
func (rt *Router) handlePull(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maximumInferenceRequestSize)
	if err != nil {
		writeError(w, err)
		return
	}

	var req PullRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ModelName == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "model_name is required"))
		return
	}

	if rt.fetcher == nil {
		writeError(w, apierror.New(apierror.KindUnsupportedOp, "no model fetcher is configured"))
		return
	}

	if !req.Stream {
		info, err := rt.fetcher.Fetch(r.Context(), req, nil)
		if err != nil {
			writeError(w, apierror.Wrap(apierror.KindLoadFailed, "pulling model", err))
			return
		}
		if err := rt.reg.RegisterUser(info); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toModelResponse(info))
		return
	}

	sse := newSSEWriter(w)
	if sse == nil {
		writeError(w, apierror.New(apierror.KindBadRequest, "streaming not supported by this client"))
		return
	}
	sse.prepare()

	info, err := rt.fetcher.Fetch(r.Context(), req, func(p PullProgress) {
		sse.writeEvent("progress", p)
	})
	if err != nil {
		sse.writeEvent("error", map[string]string{"message": err.Error()})
		return
	}

	if err := rt.reg.RegisterUser(info); err != nil {
		sse.writeEvent("error", map[string]string{"message": err.Error()})
		return
	}

	sse.writeEvent("complete", toModelResponse(info))
}
