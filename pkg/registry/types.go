// Package registry implements the Model Registry of spec.md §4.3: a
// read-only catalog merged from a built-in model list, a user-writable
// list, a user-writable per-model options map, and an optional scan of an
// extra models directory for GGUF files.
//
// Grounded on the teacher's pkg/inference/models/manager.go normalization
// and merge-by-precedence pattern (normalizeModelName), reimplemented over
// flat JSON files with github.com/moby/sys/atomicwriter instead of the
// teacher's OCI content store — the spec's registry has no image layers to
// manage, just a handful of persisted documents.
package registry

// ModelType is the derived serving category of a model, used to select the
// correct per-type LRU slot in pkg/cache. Exactly one of the values below,
// chosen by the precedence rule in spec.md §3.
type ModelType string

const (
	ModelTypeLLM        ModelType = "llm"
	ModelTypeEmbedding  ModelType = "embedding"
	ModelTypeReranking  ModelType = "reranking"
	ModelTypeAudio      ModelType = "audio"
	ModelTypeImage      ModelType = "image"
	ModelTypeTTS        ModelType = "tts"
)

// Recognized label tags, per spec.md §3.
const (
	LabelReasoning  = "reasoning"
	LabelVision     = "vision"
	LabelEmbeddings = "embeddings"
	LabelReranking  = "reranking"
	LabelAudio      = "audio"
	LabelImage      = "image"
)

// Recognized recipe tags, per spec.md §3.
const (
	RecipeLlamaCpp  = "llamacpp"
	RecipeFLM       = "flm"
	RecipeRyzenAI   = "ryzenai-llm"
	RecipeWhisperCpp = "whispercpp"
	RecipeSDCpp     = "sd-cpp"
	RecipeKokoro    = "kokoro"
)

// ImageDefaults mirrors the per-model sampling defaults an image-generation
// model carries, per spec.md §3.
type ImageDefaults struct {
	Steps    int     `json:"steps,omitempty"`
	CFGScale float64 `json:"cfg_scale,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
}

// ModelInfo is the immutable-per-read catalog record of spec.md §3.
type ModelInfo struct {
	ID         string   `json:"id"`
	Checkpoint string   `json:"checkpoint"`
	Recipe     string   `json:"recipe"`
	Labels     []string `json:"labels,omitempty"`
	SizeGB     float64  `json:"size_gb,omitempty"`
	Downloaded bool     `json:"downloaded"`
	Suggested  bool     `json:"suggested,omitempty"`

	// MMProj is the multimodal projector file reference, when present.
	MMProj string `json:"mmproj,omitempty"`
	// ImageDefaults carries sampling defaults for image-generation models.
	ImageDefaults *ImageDefaults `json:"image_defaults,omitempty"`

	// Paths maps a role ("main", "text_encoder", "vae", "mmproj", ...) to
	// an on-disk path, consulted by ResolvedPath.
	Paths map[string]string `json:"paths,omitempty"`
}

// HasLabel reports whether m carries label l.
func (m ModelInfo) HasLabel(l string) bool {
	for _, have := range m.Labels {
		if have == l {
			return true
		}
	}
	return false
}

// ResolvedPath resolves role to an on-disk path for the engine. "main" falls
// back to Paths["main"] only; it never guesses a path from Checkpoint, since
// the checkpoint identifier and the local on-disk layout are independent
// concerns (a checkpoint may be downloaded under a hub-specific directory
// layout the registry does not otherwise model).
func (m ModelInfo) ResolvedPath(role string) (string, bool) {
	if role == "mmproj" && m.MMProj != "" {
		return m.MMProj, true
	}
	p, ok := m.Paths[role]
	return p, ok
}

// Type derives the ModelType for m from its labels and recipe, applying the
// precedence chain of spec.md §3 in order: embeddings -> reranking ->
// audio -> image -> kokoro -> llm. First match wins; see DESIGN.md's Open
// Question decision for why overlapping labels are not resolved any other
// way.
func (m ModelInfo) Type() ModelType {
	switch {
	case m.HasLabel(LabelEmbeddings):
		return ModelTypeEmbedding
	case m.HasLabel(LabelReranking):
		return ModelTypeReranking
	case m.HasLabel(LabelAudio) || m.Recipe == RecipeWhisperCpp:
		return ModelTypeAudio
	case m.HasLabel(LabelImage) || m.Recipe == RecipeSDCpp:
		return ModelTypeImage
	case m.Recipe == RecipeKokoro:
		return ModelTypeTTS
	default:
		return ModelTypeLLM
	}
}
