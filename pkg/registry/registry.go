package registry

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/internal/utils"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
)

const (
	userModelsFileName    = "user_models.json"
	recipeOptionsFileName = "recipe_options.json"
	userIDPrefix          = "user."
)

// Registry implements the Model Registry of spec.md §4.3.
type Registry struct {
	mu sync.RWMutex

	cacheDir       string
	extraModelsDir string
	log            logging.Logger

	builtin []ModelInfo
	user    []ModelInfo
	options map[string]map[string]any
}

// Open loads (or initializes) the registry rooted at cacheDir, per spec.md
// §6's persisted state layout. A missing cacheDir or missing persisted
// files are not errors; the registry starts from the built-in list alone
// and writes each missing file in its empty form ("[]" / "{}"), the same
// bytes a later register-then-delete round trip leaves behind.
func Open(cacheDir, extraModelsDir string, log logging.Logger) (*Registry, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, apierror.Wrap(apierror.KindBadRequest, "creating registry cache directory", err)
	}

	r := &Registry{
		cacheDir:       cacheDir,
		extraModelsDir: extraModelsDir,
		log:            log,
		builtin:        append([]ModelInfo(nil), builtinModels...),
		options:        map[string]map[string]any{},
	}

	if err := readJSONFile(r.userModelsPath(), &r.user); err != nil {
		return nil, err
	}
	if err := readJSONFile(r.recipeOptionsPath(), &r.options); err != nil {
		return nil, err
	}
	if r.options == nil {
		r.options = map[string]map[string]any{}
	}
	if r.user == nil {
		r.user = []ModelInfo{}
	}
	if _, err := os.Stat(r.userModelsPath()); os.IsNotExist(err) {
		if err := r.persistUserModelsLocked(); err != nil {
			return nil, err
		}
	}
	if _, err := os.Stat(r.recipeOptionsPath()); os.IsNotExist(err) {
		if err := r.persistRecipeOptionsLocked(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) userModelsPath() string    { return filepath.Join(r.cacheDir, userModelsFileName) }
func (r *Registry) recipeOptionsPath() string { return filepath.Join(r.cacheDir, recipeOptionsFileName) }

// merged returns the full catalog, user entries first, then extra-dir scan
// results, then built-ins, with the first occurrence of each id winning —
// spec.md §4.3's "merged in precedence order (high->low id collision wins
// first): user, extra-directory, built-in".
func (r *Registry) merged() []ModelInfo {
	seen := make(map[string]bool)
	var out []ModelInfo

	add := func(infos []ModelInfo) {
		for _, m := range infos {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			out = append(out, m)
		}
	}

	add(r.user)
	add(scanExtraDir(r.extraModelsDir, r.log))
	add(r.builtin)
	return out
}

// List returns every catalog entry, filtered to Downloaded==true unless
// showAll is set, per spec.md §4.3.
func (r *Registry) List(showAll bool) []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := r.merged()
	if showAll {
		return all
	}
	out := all[:0:0]
	for _, m := range all {
		if m.Downloaded {
			out = append(out, m)
		}
	}
	return out
}

// Get resolves a single model by id, failing NotFound if absent.
func (r *Registry) Get(id string) (ModelInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.merged() {
		if m.ID == id {
			return m, nil
		}
	}
	return ModelInfo{}, apierror.New(apierror.KindNotFound, "model "+id+" not found")
}

// RegisterUser persists info to the user-registered list. info.ID must
// carry the "user." prefix per spec.md §4.3; ids are rejected otherwise.
func (r *Registry) RegisterUser(info ModelInfo) error {
	if !strings.HasPrefix(info.ID, userIDPrefix) {
		return apierror.New(apierror.KindBadRequest, "user-registered model id must begin with \""+userIDPrefix+"\"")
	}
	if info.Recipe == RecipeLlamaCpp {
		if _, _, err := ValidateGGUFCheckpoint(info.Checkpoint); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, existing := range r.user {
		if existing.ID == info.ID {
			r.user[i] = info
			return r.persistUserModelsLocked()
		}
	}
	r.user = append(r.user, info)
	return r.persistUserModelsLocked()
}

// Delete removes id from the user-registered list (and its per-model
// options). It does not reach into builtin or extra-dir entries, which are
// not registry-owned records to begin with. Local cache file removal is
// best-effort and does not fail the call.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	found := false
	remaining := r.user[:0:0]
	for _, m := range r.user {
		if m.ID == id {
			found = true
			if path, ok := m.ResolvedPath("main"); ok && path != "" {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) && r.log != nil {
					r.log.WithError(err).Warnf("removing local file for %s", utils.SanitizeForLog(id))
				}
			}
			continue
		}
		remaining = append(remaining, m)
	}
	if !found {
		return apierror.New(apierror.KindNotFound, "model "+id+" not found")
	}
	r.user = remaining
	delete(r.options, id)

	if err := r.persistUserModelsLocked(); err != nil {
		return err
	}
	return r.persistRecipeOptionsLocked()
}

// GetRecipeOptions returns the persisted per-model option overrides for id,
// or an empty map if none have been saved.
func (r *Registry) GetRecipeOptions(id string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.options[id]
	out := make(map[string]any, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out
}

// SetRecipeOptions persists opts as id's stored option overrides, replacing
// any previous value. Per DESIGN.md's Open Question decision, the caller
// passes only the explicitly-provided keys; SetRecipeOptions never merges
// in adapter-resolved defaults.
func (r *Registry) SetRecipeOptions(id string, opts map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.options[id] = opts
	return r.persistRecipeOptionsLocked()
}

func (r *Registry) persistUserModelsLocked() error {
	return writeJSONFileAtomic(r.userModelsPath(), r.user)
}

func (r *Registry) persistRecipeOptionsLocked() error {
	return writeJSONFileAtomic(r.recipeOptionsPath(), r.options)
}
