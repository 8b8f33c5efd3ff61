package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/apipath"
)

// BearerAuth requires every request to present "Authorization: Bearer
// <apiKey>" when apiKey is non-empty. When apiKey is empty, auth is
// disabled and every request passes through, per the config surface.
func BearerAuth(next http.Handler, apiKey string) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(apipath.AuthorizationHeader)
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || header[len(prefix):] != apiKey {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	env := apierror.ToEnvelope(apierror.New(apierror.KindBadRequest, "missing or invalid bearer token"))
	_ = json.NewEncoder(w).Encode(env)
}
