package router

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
)

// modelResponse is the catalog shape GET /api/v1/models and .../models/{id}
// report, per spec.md §3's ModelInfo fields.
type modelResponse struct {
	ID         string   `json:"id"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     string   `json:"recipe"`
	Labels     []string `json:"labels,omitempty"`
	Type       string   `json:"type"`
	SizeGB     float64  `json:"size_gb,omitempty"`
	Downloaded bool     `json:"downloaded"`
	Suggested  bool     `json:"suggested,omitempty"`
}

func toModelResponse(m registry.ModelInfo) modelResponse {
	return modelResponse{
		ID:         m.ID,
		Checkpoint: m.Checkpoint,
		Recipe:     m.Recipe,
		Labels:     m.Labels,
		Type:       string(m.Type()),
		SizeGB:     m.SizeGB,
		Downloaded: m.Downloaded,
		Suggested:  m.Suggested,
	}
}

func (rt *Router) handleListModels(w http.ResponseWriter, r *http.Request) {
	showAll := false
	if v := r.URL.Query().Get("show_all"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, apierror.New(apierror.KindBadRequest, "invalid show_all value"))
			return
		}
		showAll = parsed
	}

	models := rt.reg.List(showAll)
	out := make([]modelResponse, 0, len(models))
	for _, m := range models {
		out = append(out, toModelResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	info, err := rt.reg.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toModelResponse(info))
}

// loadedInstanceView is the per-instance record GET /api/v1/health reports
// in all_models_loaded, per spec.md §6.
type loadedInstanceView struct {
	ModelName     string                 `json:"model_name"`
	Checkpoint    string                 `json:"checkpoint"`
	LastUse       time.Time              `json:"last_use"`
	Type          string                 `json:"type"`
	Device        string                 `json:"device"`
	Recipe        string                 `json:"recipe"`
	RecipeOptions map[string]any         `json:"recipe_options,omitempty"`
	BackendURL    string                 `json:"backend_url"`
}

type healthResponse struct {
	Status          string                `json:"status"`
	ModelLoaded     bool                  `json:"model_loaded"`
	AllModelsLoaded []loadedInstanceView  `json:"all_models_loaded"`
	MaxModels       MaxModelsByType       `json:"max_models"`
}

// deviceFor reports the coarse device class a loaded instance is bound to,
// derived the same way spec.md §3's NPU exclusivity rule is: by recipe tag
// first, falling back to the llamacpp_backend option for the GPU family
// backends, and cpu otherwise.
func deviceFor(recipe string, opts map[string]any) string {
	if backend.NPUExclusive(recipe, opts) {
		return "npu"
	}
	if v, ok := opts["llamacpp_backend"].(string); ok && v != "cpu" && v != "" {
		return v
	}
	if v, ok := opts["sdcpp_backend"].(string); ok && v != "" {
		return v
	}
	return "cpu"
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := rt.cache.Status()
	loaded := make([]loadedInstanceView, 0, len(statuses))
	for _, s := range statuses {
		info, err := rt.reg.Get(s.ModelID)
		checkpoint := ""
		if err == nil {
			checkpoint = info.Checkpoint
		}
		loaded = append(loaded, loadedInstanceView{
			ModelName:  s.ModelID,
			Checkpoint: checkpoint,
			LastUse:    s.LastUse,
			Type:       string(s.ModelType),
			Device:     deviceFor(s.Recipe, rt.reg.GetRecipeOptions(s.ModelID)),
			Recipe:     s.Recipe,
			BackendURL: "http://127.0.0.1:" + strconv.Itoa(s.Port),
		})
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "ok",
		ModelLoaded:     len(loaded) > 0,
		AllModelsLoaded: loaded,
		MaxModels:       rt.maxModels,
	})
}

func (rt *Router) handleStats(w http.ResponseWriter, r *http.Request) {
	if rt.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, rt.tracker.LastRequest())
}

// loadRequest is POST /api/v1/load's body, per spec.md §6: a model name
// plus any recipe-specific options to pre-warm with, and an optional
// save_options directive to persist them.
type loadRequest struct {
	ModelName string `json:"model_name"`
}

func (rt *Router) handleLoad(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maximumInferenceRequestSize)
	if err != nil {
		writeError(w, err)
		return
	}

	var req loadRequest
	var raw map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, apierror.New(apierror.KindBadRequest, "invalid request body"))
		return
	}
	_ = json.Unmarshal(body, &raw)
	if req.ModelName == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "model_name is required"))
		return
	}
	delete(raw, "model_name")

	overrides := backend.RecipeOptions(raw)
	inst, release, err := rt.cache.Acquire(r.Context(), req.ModelName, overrides)
	if err != nil {
		writeError(w, err)
		return
	}
	release()

	writeJSON(w, http.StatusOK, map[string]any{"model_name": inst.ModelID, "status": "loaded"})
}

// unloadRequest is POST /api/v1/unload's body; an absent model_name means
// "unload everything", per spec.md §6.
type unloadRequest struct {
	ModelName *string `json:"model_name"`
}

func (rt *Router) handleUnload(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maximumInferenceRequestSize)
	if err != nil {
		writeError(w, err)
		return
	}

	var req unloadRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, apierror.New(apierror.KindBadRequest, "invalid request body"))
			return
		}
	}

	if err := rt.cache.Unload(r.Context(), req.ModelName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unloaded"})
}

// deleteRequest is POST /api/v1/delete's body, per spec.md §6.
type deleteRequest struct {
	ModelName string `json:"model_name"`
}

func (rt *Router) handleDelete(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, maximumInferenceRequestSize)
	if err != nil {
		writeError(w, err)
		return
	}

	var req deleteRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ModelName == "" {
		writeError(w, apierror.New(apierror.KindBadRequest, "model_name is required"))
		return
	}

	// Best-effort unload before delete so a loaded instance's process does
	// not keep running against a catalog entry that no longer exists.
	_ = rt.cache.Unload(r.Context(), &req.ModelName)

	if err := rt.reg.Delete(req.ModelName); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
