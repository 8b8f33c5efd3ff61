package registry

import (
	"os"
	"path/filepath"
	"strings"

	parser "github.com/gpustack/gguf-parser-go"

	"github.com/lemonade-sh/lemonade-router/pkg/internal/utils"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
)

// scanExtraDir recursively discovers GGUF files under dir and builds one
// ModelInfo per file, per spec.md §4.3's "extra-directory scan" source.
// Parse failures are logged and skipped rather than aborting the whole
// scan, since one corrupt file should not hide every sibling model.
func scanExtraDir(dir string, log logging.Logger) []ModelInfo {
	if dir == "" {
		return nil
	}
	var out []ModelInfo
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if log != nil {
				log.WithError(err).Warnf("scanning extra models dir entry %s", utils.SanitizeForLog(path))
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".gguf") {
			return nil
		}
		info, scanErr := scanGGUFFile(path)
		if scanErr != nil {
			if log != nil {
				log.WithError(scanErr).Warnf("skipping unparseable GGUF file %s", utils.SanitizeForLog(path))
			}
			return nil
		}
		out = append(out, info)
		return nil
	})
	return out
}

// scanGGUFFile parses one GGUF file's metadata and derives a ModelInfo with
// recipe "llamacpp" and filename-heuristic labels, per spec.md §4.3.
func scanGGUFFile(path string) (ModelInfo, error) {
	gguf, err := parser.ParseGGUFFile(path)
	if err != nil {
		return ModelInfo{}, err
	}
	meta := gguf.Metadata()

	base := filepath.Base(path)
	info := ModelInfo{
		ID:         canonicalExtraID(path),
		Checkpoint: strings.TrimSuffix(base, filepath.Ext(base)) + ":local",
		Recipe:     RecipeLlamaCpp,
		Labels:     labelsFromFilename(base),
		Downloaded: true,
		Paths:      map[string]string{"main": path},
	}
	if fi, statErr := os.Stat(path); statErr == nil {
		info.SizeGB = float64(fi.Size()) / (1 << 30)
	}
	_ = meta // architecture/parameters/quantization are available via meta but
	// are not part of ModelInfo's wire shape; kept for future sysinfo/labels use.
	return info, nil
}

// labelsFromFilename applies the filename heuristics spec.md §4.3 allows
// for extra-directory entries: substrings that commonly mark embedding,
// reranking, and vision-capable GGUF exports.
func labelsFromFilename(name string) []string {
	lower := strings.ToLower(name)
	var labels []string
	switch {
	case strings.Contains(lower, "embed"):
		labels = append(labels, LabelEmbeddings)
	case strings.Contains(lower, "rerank"):
		labels = append(labels, LabelReranking)
	}
	if strings.Contains(lower, "vision") || strings.Contains(lower, "-vl-") || strings.Contains(lower, "-vl.") {
		labels = append(labels, LabelVision)
	}
	return labels
}
