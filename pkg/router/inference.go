package router

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/cache"
)

// inferenceRequestHeader is the minimal shape every OpenAI-compatible JSON
// body shares: enough to route the request without fully decoding it,
// mirroring the teacher's OpenAIInferenceRequest (model-only) extraction in
// http_handler.go.
type inferenceRequestHeader struct {
	Model string `json:"model"`
}

// handlerFor builds the generic inference handler of spec.md §4.5 for a
// single logical Operation: extract the model id, acquire its instance,
// resolve the operation's child-side path, and forward the request
// verbatim. One handler body serves every OpenAI-compatible route; the
// Operation is the only thing that varies per registration, the same way
// the teacher's handleOpenAIInference serves chat/completions/embeddings
// off of one function keyed by URL path.
func (rt *Router) handlerFor(op backend.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r, maximumInferenceRequestSize)
		if err != nil {
			writeError(w, err)
			return
		}

		model, err := extractModel(r, body)
		if err != nil {
			writeError(w, err)
			return
		}
		if model == "" {
			writeError(w, apierror.New(apierror.KindBadRequest, "model is required"))
			return
		}

		inst, release, err := rt.cache.Acquire(r.Context(), model, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		defer release()

		path, ok := inst.EndpointPath(op)
		if !ok {
			writeError(w, apierror.New(apierror.KindUnsupportedOp, "recipe "+inst.Recipe+" does not support this operation"))
			return
		}

		if op == backend.OperationImageGeneration {
			body, err = injectPromptTag(inst, body)
			if err != nil {
				writeError(w, err)
				return
			}
		}

		start := time.Now()
		status := forward(w, r, inst, path, body)
		if rt.tracker != nil {
			rt.tracker.ObserveRequest(model, inst.Recipe, string(op), status, time.Since(start))
			rt.tracker.SetInflight(model, inst.Inflight())
		}
	}
}

// extractModel reads the "model" field out of body, which is either a JSON
// object (every route but audio/transcriptions) or a multipart/form-data
// body whose "model" part carries it (spec.md §4.5 step 1). It never
// mutates body, so the caller can still forward the original bytes
// unchanged to the backend.
func extractModel(r *http.Request, body []byte) (string, error) {
	mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err == nil && strings.HasPrefix(mediaType, "multipart/") {
		reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				return "", nil
			}
			if err != nil {
				return "", apierror.Wrap(apierror.KindBadRequest, "parsing multipart request", err)
			}
			if part.FormName() == "model" {
				value, err := io.ReadAll(part)
				if err != nil {
					return "", apierror.Wrap(apierror.KindBadRequest, "reading model field", err)
				}
				return strings.TrimSpace(string(value)), nil
			}
		}
	}

	var header inferenceRequestHeader
	if len(body) > 0 {
		if err := json.Unmarshal(body, &header); err != nil {
			return "", apierror.Wrap(apierror.KindBadRequest, "invalid request body", err)
		}
	}
	return header.Model, nil
}

// injectPromptTag rewrites body's "prompt" field to carry the adapter's
// inline sampling-parameter tag when inst.Adapter requires one (the
// stable-diffusion.cpp <sd_cpp_extra_args> case of spec.md §4.2). Adapters
// that don't implement backend.PromptTagBuilder, or that report
// RequiresPromptTag false, pass body through unchanged.
func injectPromptTag(inst *cache.Instance, body []byte) ([]byte, error) {
	tagger, ok := inst.Adapter.(backend.PromptTagBuilder)
	if !ok || !tagger.RequiresPromptTag() {
		return body, nil
	}

	tag, err := tagger.BuildPromptTag(inst.RecipeOptions)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "building prompt tag", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "invalid request body", err)
	}
	prompt, _ := payload["prompt"].(string)
	payload["prompt"] = prompt + tag

	rewritten, err := json.Marshal(payload)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindLoadFailed, "marshaling rewritten request", err)
	}
	return rewritten, nil
}

// forward proxies r to instance.BackendURL+path, returning the status code
// the child answered with. A fresh *httputil.ReverseProxy is built per
// request rather than reused because the target port varies per instance;
// FlushInterval is -1 so every write reaches the client immediately,
// which is what gives unary JSON, SSE frames, and raw audio/image bytes
// the same "forward verbatim, flush promptly" treatment spec.md §4.6
// demands of the streaming cases, without needing separate code paths for
// the unary ones. Grounded on the teacher's nim.go
// httputil.NewSingleHostReverseProxy usage, generalized from a single
// fixed container endpoint to a per-load ephemeral one.
func forward(w http.ResponseWriter, r *http.Request, inst *cache.Instance, path string, body []byte) int {
	target, err := url.Parse(inst.BackendURL)
	if err != nil {
		writeError(w, apierror.Wrap(apierror.KindUpstreamError, "invalid backend url", err))
		return http.StatusBadGateway
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.FlushInterval = -1
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.URL.Path = path
		req.URL.RawQuery = r.URL.RawQuery
		req.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		writeError(w, apierror.Wrap(apierror.KindUpstreamError, "backend request failed", err))
	}

	upstreamRequest := r.Clone(r.Context())
	upstreamRequest.Body = io.NopCloser(bytes.NewReader(body))
	upstreamRequest.ContentLength = int64(len(body))

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	proxy.ServeHTTP(rec, upstreamRequest)
	return rec.status
}

// statusRecorder captures the status code a proxied response answered with
// for metrics, while still passing Flusher support through to the
// underlying ResponseWriter so streamed responses are not buffered.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
