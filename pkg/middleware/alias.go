package middleware

import (
	"net/http"

	"github.com/lemonade-sh/lemonade-router/pkg/apipath"
)

// AliasHandler provides path aliasing by prepending the API prefix to
// incoming request paths, so that bare OpenAI-shape paths (e.g. "/v1/chat/
// completions") resolve the same as their "/api/v1/..." counterparts.
type AliasHandler struct {
	Handler http.Handler
}

func (h *AliasHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Clone the request with modified path, prepending the API prefix.
	r2 := r.Clone(r.Context())
	r2.URL.Path = apipath.InferencePrefix + r.URL.Path

	h.Handler.ServeHTTP(w, r2)
}
