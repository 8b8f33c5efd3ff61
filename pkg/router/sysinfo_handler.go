package router

import (
	"net/http"
	"sort"

	"github.com/lemonade-sh/lemonade-router/pkg/sysinfo"
)

func (rt *Router) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(rt.backends))
	for name := range rt.backends {
		names = append(names, name)
	}
	sort.Strings(names)

	backends := make([]sysinfo.BackendInfo, 0, len(names))
	for _, name := range names {
		caps := rt.backends[name].Capabilities()
		capNames := make([]string, 0, len(caps))
		for _, c := range caps {
			capNames = append(capNames, string(c))
		}
		backends = append(backends, sysinfo.BackendInfo{Recipe: name, Capabilities: capNames})
	}

	writeJSON(w, http.StatusOK, sysinfo.Collect(r.Context(), backends))
}
