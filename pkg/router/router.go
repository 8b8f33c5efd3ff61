// Package router implements the Router / HTTP Surface of spec.md §4.5: the
// OpenAI-compatible inference surface plus the router's own model-lifecycle
// extensions, dispatched over a Go 1.22+ http.ServeMux exactly the way the
// teacher's pkg/inference/scheduling.HTTPHandler dispatches its own
// backend-prefixed routes, and CORS-reconfigured through the same
// RWMutex-guarded handler-swap (RebuildRoutes) the teacher uses.
package router

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/apipath"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/cache"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
	"github.com/lemonade-sh/lemonade-router/pkg/metrics"
	"github.com/lemonade-sh/lemonade-router/pkg/middleware"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

// maximumInferenceRequestSize caps an inference request body, mirroring the
// teacher's maximumOpenAIInferenceRequestSize DoS guard.
const maximumInferenceRequestSize = 64 << 20

// MaxModelsByType reports the configured capacity for each model type, for
// GET /api/v1/health's max_models object.
type MaxModelsByType struct {
	LLM        int `json:"llm"`
	Embedding  int `json:"embedding"`
	Reranking  int `json:"reranking"`
	Audio      int `json:"audio"`
	Image      int `json:"image"`
}

// Router wraps the Model Cache and Model Registry with the HTTP surface of
// spec.md §4.5/§6. Its handler table is rebuilt only when CORS
// configuration changes; route registration itself is fixed at
// construction time, matching the teacher's split between router (fixed)
// and httpHandler (CORS-wrapped, hot-swappable).
type Router struct {
	cache    *cache.Cache
	reg      *registry.Registry
	log      logging.Logger
	tracker  *metrics.Tracker
	fetcher  ModelFetcher
	apiKey   string
	maxModels MaxModelsByType

	mux         *http.ServeMux
	lock        sync.RWMutex
	httpHandler http.Handler

	backends  map[string]backend.Backend
	startedAt time.Time
}

// New constructs a Router. fetcher may be nil, in which case /api/v1/pull
// fails with UnsupportedOperation (HTTP 422) rather than panicking — the concrete fetch
// mechanism is out of scope per spec.md §1's Non-goals, but the SSE
// plumbing that would drive one is fully wired. backends is the same
// recipe->adapter map the Cache was constructed with, consulted only by
// GET /api/v1/system-info to report which engine families this instance
// can serve.
func New(c *cache.Cache, reg *registry.Registry, log logging.Logger, tracker *metrics.Tracker, fetcher ModelFetcher, apiKey string, maxModels MaxModelsByType, backends map[string]backend.Backend) *Router {
	rt := &Router{
		cache:     c,
		reg:       reg,
		log:       log,
		tracker:   tracker,
		fetcher:   fetcher,
		apiKey:    apiKey,
		maxModels: maxModels,
		backends:  backends,
		mux:       http.NewServeMux(),
		startedAt: time.Now(),
	}

	rt.mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, apierror.New(apierror.KindNotFound, "not found"))
	})
	for route, handler := range rt.routeHandlers() {
		rt.mux.HandleFunc(route, handler)
	}

	rt.RebuildRoutes(nil)
	return rt
}

// routeHandlers registers the exact paths of spec.md §6, including the
// /api/v0 alias for chat completions.
func (rt *Router) routeHandlers() map[string]http.HandlerFunc {
	m := map[string]http.HandlerFunc{
		"POST " + apipath.APIPrefixV1 + "/chat/completions": rt.handlerFor(backend.OperationChatCompletion),
		"POST " + apipath.APIPrefixV0 + "/chat/completions": rt.handlerFor(backend.OperationChatCompletion),
		"POST " + apipath.APIPrefixV1 + "/completions":      rt.handlerFor(backend.OperationCompletion),
		"POST " + apipath.APIPrefixV1 + "/responses":        rt.handlerFor(backend.OperationResponses),
		"POST " + apipath.APIPrefixV1 + "/embeddings":       rt.handlerFor(backend.OperationEmbeddings),
		"POST " + apipath.APIPrefixV1 + "/reranking":        rt.handlerFor(backend.OperationReranking),
		"POST " + apipath.APIPrefixV1 + "/audio/transcriptions": rt.handlerFor(backend.OperationAudioTranscription),
		"POST " + apipath.APIPrefixV1 + "/audio/speech":         rt.handlerFor(backend.OperationAudioSpeech),
		"POST " + apipath.APIPrefixV1 + "/images/generations":   rt.handlerFor(backend.OperationImageGeneration),

		"GET " + apipath.APIPrefixV1 + "/models":      rt.handleListModels,
		"GET " + apipath.APIPrefixV1 + "/models/{id}": rt.handleGetModel,

		"POST " + apipath.APIPrefixV1 + "/pull":   rt.handlePull,
		"POST " + apipath.APIPrefixV1 + "/delete": rt.handleDelete,
		"POST " + apipath.APIPrefixV1 + "/load":   rt.handleLoad,
		"POST " + apipath.APIPrefixV1 + "/unload": rt.handleUnload,

		"GET " + apipath.APIPrefixV1 + "/health":      rt.handleHealth,
		"GET " + apipath.APIPrefixV1 + "/stats":       rt.handleStats,
		"GET " + apipath.APIPrefixV1 + "/system-info": rt.handleSystemInfo,

		"GET /live": rt.handleLive,
		"GET /metrics": func(w http.ResponseWriter, r *http.Request) {
			if rt.tracker != nil {
				rt.tracker.Handler().ServeHTTP(w, r)
				return
			}
			writeError(w, apierror.New(apierror.KindNotFound, "metrics not configured"))
		},
	}
	return m
}

// RebuildRoutes re-wraps the fixed mux with bearer-auth and CORS middleware
// for the given allowed origins, swapping the live handler under a write
// lock so in-flight requests always see a consistent handler, matching the
// teacher's HTTPHandler.RebuildRoutes.
func (rt *Router) RebuildRoutes(allowedOrigins []string) {
	rt.lock.Lock()
	defer rt.lock.Unlock()

	// Bare "/v1/..." and "/v0/..." paths (the plain OpenAI client shape)
	// alias onto the matching "/api/v1/..." and "/api/v0/..." routes
	// registered on rt.mux;
	// everything else (the router extensions, /live, /metrics) is already
	// registered under its real path and is served directly.
	aliased := http.NewServeMux()
	aliased.Handle("/v1/", &middleware.AliasHandler{Handler: rt.mux})
	aliased.Handle("/v0/", &middleware.AliasHandler{Handler: rt.mux})
	aliased.Handle("/", rt.mux)

	var h http.Handler = aliased
	h = middleware.CorsMiddleware(h, middleware.CORSConfig{AllowedOrigins: allowedOrigins})
	h = middleware.BearerAuth(h, rt.apiKey)
	h = otelhttp.NewHandler(h, "lemonade-router")
	rt.httpHandler = h
}

// ServeHTTP implements http.Handler, delegating to the current
// CORS/auth-wrapped handler under a read lock.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.lock.RLock()
	h := rt.httpHandler
	rt.lock.RUnlock()
	h.ServeHTTP(w, r)
}

func (rt *Router) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apierror.StatusCode(err), apierror.ToEnvelope(err))
}

// readBody enforces the same request-size ceiling the teacher's
// http_handler.go applies before decoding, to avoid DoS via oversized
// bodies and to fail fast on slow/abusive clients.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "reading request body", err)
	}
	return body, nil
}

