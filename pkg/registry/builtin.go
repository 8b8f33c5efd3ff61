package registry

// builtinModels is the catalog embedded at build time, per spec.md §4.3.
// This is a representative seed list, not an exhaustive one; operators
// extend it via the user-registered list or the extra models directory.
var builtinModels = []ModelInfo{
	{
		ID:         "Qwen2.5-7B-Instruct-GGUF",
		Checkpoint: "Qwen/Qwen2.5-7B-Instruct-GGUF:Q4_K_M",
		Recipe:     RecipeLlamaCpp,
		Labels:     []string{LabelReasoning},
		SizeGB:     4.7,
		Suggested:  true,
	},
	{
		ID:         "Llama-3.2-3B-Instruct-GGUF",
		Checkpoint: "meta-llama/Llama-3.2-3B-Instruct-GGUF:Q4_K_M",
		Recipe:     RecipeLlamaCpp,
		SizeGB:     2.0,
		Suggested:  true,
	},
	{
		ID:         "nomic-embed-text-GGUF",
		Checkpoint: "nomic-ai/nomic-embed-text-v1.5-GGUF:Q8_0",
		Recipe:     RecipeLlamaCpp,
		Labels:     []string{LabelEmbeddings},
		SizeGB:     0.3,
	},
	{
		ID:         "bge-reranker-v2-m3-GGUF",
		Checkpoint: "BAAI/bge-reranker-v2-m3-GGUF:Q8_0",
		Recipe:     RecipeLlamaCpp,
		Labels:     []string{LabelReranking},
		SizeGB:     0.6,
	},
	{
		ID:         "whisper-base-GGUF",
		Checkpoint: "ggerganov/whisper.cpp:base",
		Recipe:     RecipeWhisperCpp,
		Labels:     []string{LabelAudio},
		SizeGB:     0.15,
	},
	{
		ID:         "sd-turbo-GGUF",
		Checkpoint: "stabilityai/sd-turbo-GGUF:f16",
		Recipe:     RecipeSDCpp,
		Labels:     []string{LabelImage},
		SizeGB:     2.1,
		ImageDefaults: &ImageDefaults{
			Steps:    4,
			CFGScale: 1.0,
			Width:    512,
			Height:   512,
		},
	},
	{
		ID:         "kokoro-82M",
		Checkpoint: "hexgrad/Kokoro-82M:fp16",
		Recipe:     RecipeKokoro,
		SizeGB:     0.3,
	},
}
