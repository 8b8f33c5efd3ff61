package cache

import (
	"sync"
	"time"

	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
	"github.com/lemonade-sh/lemonade-router/pkg/supervisor"
)

// Instance is a LoadedInstance of spec.md §3: a running backend child
// process plus the bookkeeping the cache needs to route, age, and evict it.
// Every field below inflight/lastUse is set once at load time and never
// mutated again; inflight and lastUse are the only fields the per-instance
// lock protects, per spec.md §4.4.5.
type Instance struct {
	ModelID       string
	ModelType     registry.ModelType
	Recipe        string
	Adapter       backend.Backend
	Handle        *supervisor.Handle
	Port          int
	BackendURL    string
	RecipeOptions backend.RecipeOptions

	mu       sync.Mutex
	lastUse  time.Time
	inflight int
}

// Inflight returns the instance's current in-flight request count.
func (i *Instance) Inflight() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inflight
}

// LastUse returns the instance's last-touched timestamp.
func (i *Instance) LastUse() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastUse
}

// EndpointPath resolves op against the instance's adapter, reporting
// whether the adapter supports it.
func (i *Instance) EndpointPath(op backend.Operation) (string, bool) {
	path, ok := i.Adapter.EndpointMap()[op]
	return path, ok
}
