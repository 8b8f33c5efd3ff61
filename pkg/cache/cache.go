// Package cache implements the Model Cache and Load Coordinator of
// spec.md §4.4 — the hard core of the router: per-ModelType LRU slots of
// LoadedInstances, NPU exclusivity, pinned-instance eviction protection,
// per-model-id load serialization, and the bounded "evict everything, retry
// once" load-failure fallback.
//
// Grounded jointly on the teacher's pkg/inference/scheduling/scheduler.go
// (the loader/installer worker-goroutine split and the
// loader.load/loader.release external call shape that pkg/router consumes)
// and on the retrieval pack's GinoKube llamacppgateway internal/process
// manager (EnsureModel's lock-check-start-waitForReady skeleton,
// evictIfNeeded's LRU-candidate-skip-if-ActiveReqs>0 pinning rule, and
// Shutdown's bounded-drain-then-stop loop) — the richest available
// grounding for the per-type-slot LRU with NPU exclusivity this package
// generalizes that manager's single flat slot list into.
package cache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lemonade-sh/lemonade-router/pkg/apierror"
	"github.com/lemonade-sh/lemonade-router/pkg/backend"
	"github.com/lemonade-sh/lemonade-router/pkg/logging"
	"github.com/lemonade-sh/lemonade-router/pkg/network"
	"github.com/lemonade-sh/lemonade-router/pkg/registry"
	"github.com/lemonade-sh/lemonade-router/pkg/supervisor"
)

// capacityWaitBudget bounds how long admission waits for a fully-pinned
// type slot to free up before failing CapacityBusy, per spec.md §5. A var,
// not a const, so tests can shrink it instead of waiting out 30 real seconds.
var capacityWaitBudget = 30 * time.Second

// evictionDrainBudget bounds how long an eviction waits for a pinned
// instance's in-flight count to reach zero before giving up.
var evictionDrainBudget = 30 * time.Second

// readinessBudget is the overall time budget for polling a freshly spawned
// child's readiness path, per spec.md §5. It is extended 10x the first
// time a given recipe is loaded, to absorb NPU compiled-cache warmup.
var readinessBudget = 60 * time.Second

// readinessInterval is the polling cadence within readinessBudget.
var readinessInterval = 500 * time.Millisecond

// Release decrements the in-flight count an Acquire incremented. Calling it
// more than once is a caller bug but is not guarded against, matching the
// teacher's own bare decrement-on-close idiom.
type Release func()

// Cache owns every LoadedInstance and serializes all admission decisions.
// The global lock (mu) is held only for bookkeeping — map/slice mutation
// and admission scans — never across subprocess I/O or HTTP calls, per
// spec.md §4.4.5.
type Cache struct {
	mu       sync.Mutex
	cond     *sync.Cond
	byID     map[string]*Instance
	slots    map[registry.ModelType][]*Instance
	everSeen map[string]bool // recipe -> has this recipe ever completed a load

	capacity int // max_loaded_models; -1 = unlimited

	loadLocksMu sync.Mutex
	loadLocks   map[string]*sync.Mutex

	reg        *registry.Registry
	backends   map[string]backend.Backend
	log        logging.Logger
	httpClient *http.Client

	// readyProbe decides whether a freshly spawned child is ready, given
	// its full readiness URL. It defaults to an HTTP GET against the real
	// child, but is overridable per-instance in tests so cache admission
	// and eviction logic can be exercised without a real HTTP server
	// behind every spawned test process.
	readyProbe func(ctx context.Context, url string) bool
}

// New constructs a Cache. backends maps recipe tag -> adapter, mirroring
// the teacher scheduler's map[string]inference.Backend.
func New(reg *registry.Registry, backends map[string]backend.Backend, capacity int, log logging.Logger) *Cache {
	c := &Cache{
		byID:       make(map[string]*Instance),
		slots:      make(map[registry.ModelType][]*Instance),
		everSeen:   make(map[string]bool),
		capacity:   capacity,
		loadLocks:  make(map[string]*sync.Mutex),
		reg:        reg,
		backends:   backends,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	c.cond = sync.NewCond(&c.mu)
	c.readyProbe = c.httpProbeReady
	return c
}

// Acquire resolves model_id to a running instance, loading it on demand,
// per spec.md §4.4.1. The returned Release must be called exactly once
// when the caller is done using the instance.
func (c *Cache) Acquire(ctx context.Context, modelID string, overrides backend.RecipeOptions) (*Instance, Release, error) {
	if inst, ok := c.fastAcquire(modelID); ok {
		return inst, c.releaseFunc(inst), nil
	}

	lm := c.loadMutexFor(modelID)
	lm.Lock()
	defer lm.Unlock()

	// Re-check: another goroutine may have finished loading modelID while
	// we were waiting for the per-model load lock.
	if inst, ok := c.fastAcquire(modelID); ok {
		return inst, c.releaseFunc(inst), nil
	}

	inst, err := c.load(ctx, modelID, overrides)
	if err != nil {
		// spec.md §4.4.2 step 9: on first-attempt failure, evict everything
		// best-effort and retry once. A second failure is final.
		c.evictAll(ctx)
		inst, err = c.load(ctx, modelID, overrides)
		if err != nil {
			return nil, nil, err
		}
	}
	return inst, c.releaseFunc(inst), nil
}

func (c *Cache) fastAcquire(modelID string) (*Instance, bool) {
	c.mu.Lock()
	inst, ok := c.byID[modelID]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	inst.mu.Lock()
	inst.inflight++
	inst.lastUse = time.Now()
	inst.mu.Unlock()
	return inst, true
}

func (c *Cache) releaseFunc(inst *Instance) Release {
	return func() {
		inst.mu.Lock()
		if inst.inflight > 0 {
			inst.inflight--
		}
		inst.lastUse = time.Now()
		inst.mu.Unlock()

		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

func (c *Cache) loadMutexFor(modelID string) *sync.Mutex {
	c.loadLocksMu.Lock()
	defer c.loadLocksMu.Unlock()
	m, ok := c.loadLocks[modelID]
	if !ok {
		m = &sync.Mutex{}
		c.loadLocks[modelID] = m
	}
	return m
}

// load implements spec.md §4.4.2 steps 2-8 for a single attempt.
func (c *Cache) load(ctx context.Context, modelID string, overrides backend.RecipeOptions) (*Instance, error) {
	info, err := c.reg.Get(modelID)
	if err != nil {
		return nil, err
	}

	adapter, ok := c.backends[info.Recipe]
	if !ok {
		return nil, apierror.New(apierror.KindUnsupportedOp, "no backend adapter registered for recipe "+info.Recipe)
	}

	effective, err := c.effectiveOptions(adapter, info.ID, overrides)
	if err != nil {
		return nil, err
	}

	outcome, err := adapter.EnsureInstalled(ctx)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindInstallFailed, "installing backend for recipe "+info.Recipe, err)
	}
	if outcome.InvalidatesRecipe {
		c.evictRecipe(ctx, info.Recipe)
	}

	if checker, ok := adapter.(backend.DriverVersionChecker); ok {
		hostVersion, verr := checker.HostDriverVersion(ctx)
		if verr != nil {
			return nil, apierror.Wrap(apierror.KindPreconditionFailed, "checking host driver version", verr)
		}
		if backend.CompareVersions(hostVersion, checker.MinDriverVersion()) < 0 {
			return nil, apierror.New(apierror.KindPreconditionFailed,
				fmt.Sprintf("host driver version %s is below the minimum required %s", hostVersion, checker.MinDriverVersion()))
		}
	}

	if backend.NPUExclusive(info.Recipe, effective) {
		if err := c.evictNPU(ctx); err != nil {
			return nil, err
		}
	}

	modelType := info.Type()
	if err := c.admitCapacity(ctx, modelType); err != nil {
		return nil, err
	}

	port, err := network.ChooseAvailablePort(5)
	if err != nil {
		return nil, apierror.Wrap(apierror.KindSpawnFailed, "choosing a free port", err)
	}

	var logSink io.Writer = io.Discard
	if c.log != nil {
		logSink = c.log.Writer()
	}

	spawnSpec, err := adapter.BuildSpawn(ctx, toModelRef(info), effective, port, logSink)
	if err != nil {
		// Adapter errors that already carry a kind (BadRequest for a
		// rejected option, PreconditionFailed for an old driver) keep it.
		if apierror.KindOf(err) != "" {
			return nil, err
		}
		return nil, apierror.Wrap(apierror.KindSpawnFailed, "building spawn spec for "+info.ID, err)
	}

	// The child's lifetime is owned by the cache, not by whichever request
	// happened to trigger the load: spawn it against context.Background()
	// so a client disconnecting mid-load does not tear down a process other
	// requests may go on to reuse.
	handle, err := supervisor.Start(context.Background(), supervisor.Spec{
		Exe:        spawnSpec.Exe,
		Args:       spawnSpec.Args,
		Env:        spawnSpec.Env,
		WorkingDir: spawnSpec.WorkingDir,
		LogSink:    logSink,
	}, c.log)
	if err != nil {
		return nil, err
	}

	backendURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	c.mu.Lock()
	extended := !c.everSeen[info.Recipe]
	c.mu.Unlock()

	if err := c.waitReady(ctx, handle, backendURL+adapter.ReadinessPath(), extended); err != nil {
		_ = handle.Stop(ctx)
		return nil, err
	}

	inst := &Instance{
		ModelID:       info.ID,
		ModelType:     modelType,
		Recipe:        info.Recipe,
		Adapter:       adapter,
		Handle:        handle,
		Port:          port,
		BackendURL:    backendURL,
		RecipeOptions: effective,
		lastUse:       time.Now(),
		inflight:      1,
	}

	c.mu.Lock()
	c.byID[info.ID] = inst
	c.slots[modelType] = append(c.slots[modelType], inst)
	c.everSeen[info.Recipe] = true
	c.mu.Unlock()

	c.persistSaveOptions(info.ID, overrides)

	return inst, nil
}

// effectiveOptions merges the stored per-model options (registry) under
// the request-supplied overrides, rejecting any override key the adapter
// does not recognize, per spec.md §4.2/§4.4.2's option-precedence rule:
// request overrides win over anything previously persisted for this model.
func (c *Cache) effectiveOptions(adapter backend.Backend, modelID string, overrides backend.RecipeOptions) (backend.RecipeOptions, error) {
	recognized := make(map[string]bool, len(adapter.RecognizedOptions()))
	for _, k := range adapter.RecognizedOptions() {
		recognized[k] = true
	}

	stored := c.reg.GetRecipeOptions(modelID)
	effective := make(backend.RecipeOptions, len(stored)+len(overrides))
	for k, v := range stored {
		effective[k] = v
	}
	for k, v := range overrides {
		if k == "save_options" {
			continue
		}
		if !recognized[k] {
			return nil, apierror.New(apierror.KindBadRequest, "unrecognized option "+k+" for recipe "+adapter.Name())
		}
		effective[k] = v
	}
	return effective, nil
}

// persistSaveOptions honors the request-level "save_options" directive:
// only the explicitly-provided override keys are persisted, never the
// resolved effective map, per DESIGN.md's Open Question decision.
func (c *Cache) persistSaveOptions(modelID string, overrides backend.RecipeOptions) {
	save, _ := overrides["save_options"].(bool)
	if !save {
		return
	}
	toPersist := make(map[string]any, len(overrides))
	for k, v := range overrides {
		if k == "save_options" {
			continue
		}
		toPersist[k] = v
	}
	if err := c.reg.SetRecipeOptions(modelID, toPersist); err != nil && c.log != nil {
		c.log.WithError(err).Warnf("persisting recipe options for %s", modelID)
	}
}

// waitReady polls url until it answers 200, the child exits, ctx is
// cancelled, or the time budget is exhausted, per spec.md §4.2/§5.
func (c *Cache) waitReady(ctx context.Context, handle *supervisor.Handle, url string, extended bool) error {
	budget := readinessBudget
	if extended {
		budget *= 10
	}
	deadline := time.Now().Add(budget)

	ticker := time.NewTicker(readinessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return apierror.Wrap(apierror.KindCancelled, "readiness wait cancelled", ctx.Err())
		case <-handle.Done():
			return apierror.New(apierror.KindLoadFailed, "backend process exited before becoming ready")
		case <-ticker.C:
			if c.readyProbe(ctx, url) {
				return nil
			}
			if time.Now().After(deadline) {
				return apierror.New(apierror.KindLoadFailed, "backend did not become ready within the readiness budget")
			}
		}
	}
}

func (c *Cache) httpProbeReady(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// admitCapacity implements spec.md §4.4.2 step 5: evict the LRU evictable
// entry of mt if at capacity, or wait bounded for one to become evictable.
// Unlimited capacity (-1) never blocks.
func (c *Cache) admitCapacity(ctx context.Context, mt registry.ModelType) error {
	if c.capacity < 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(capacityWaitBudget)
	for {
		list := c.slots[mt]
		if len(list) < c.capacity {
			return nil
		}

		victim := lruEvictable(list)
		if victim != nil {
			c.removeLocked(victim)
			c.mu.Unlock()
			_ = victim.Handle.Stop(ctx)
			c.mu.Lock()
			c.cond.Broadcast()
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return apierror.New(apierror.KindCapacityBusy, "no evictable slot available for model type "+string(mt))
		}

		timer := time.AfterFunc(remaining, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		c.cond.Wait()
		timer.Stop()

		select {
		case <-ctx.Done():
			return apierror.Wrap(apierror.KindCancelled, "admission wait cancelled", ctx.Err())
		default:
		}
	}
}

// lruEvictable returns the instance in list with inflight==0 and the
// smallest lastUse, or nil if every instance is pinned. Earlier entries in
// list win ties, matching insertion order per spec.md §4.4.3.
func lruEvictable(list []*Instance) *Instance {
	var victim *Instance
	var victimLastUse time.Time
	for _, inst := range list {
		inst.mu.Lock()
		inflight := inst.inflight
		lastUse := inst.lastUse
		inst.mu.Unlock()
		if inflight > 0 {
			continue
		}
		if victim == nil || lastUse.Before(victimLastUse) {
			victim = inst
			victimLastUse = lastUse
		}
	}
	return victim
}

// removeLocked removes inst from every index. Caller must hold c.mu.
func (c *Cache) removeLocked(inst *Instance) {
	delete(c.byID, inst.ModelID)
	list := c.slots[inst.ModelType]
	for i, v := range list {
		if v == inst {
			c.slots[inst.ModelType] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// evictInstance waits bounded for inst's in-flight count to drain, then
// removes it from the cache and stops its process, per spec.md §4.4.3.
func (c *Cache) evictInstance(ctx context.Context, inst *Instance, waitBudget time.Duration) error {
	deadline := time.Now().Add(waitBudget)
	for {
		inst.mu.Lock()
		inflight := inst.inflight
		inst.mu.Unlock()
		if inflight == 0 {
			break
		}
		if time.Now().After(deadline) {
			return apierror.New(apierror.KindCapacityBusy, "instance "+inst.ModelID+" still has in-flight requests")
		}
		select {
		case <-ctx.Done():
			return apierror.Wrap(apierror.KindCancelled, "eviction drain wait cancelled", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}

	c.mu.Lock()
	c.removeLocked(inst)
	c.mu.Unlock()

	if err := inst.Handle.Stop(ctx); err != nil && c.log != nil {
		c.log.WithError(err).Warnf("stopping evicted instance %s", inst.ModelID)
	}

	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
	return nil
}

// evictNPU evicts every instance currently holding the shared NPU device,
// per spec.md §3's exclusivity rule, snapshotting the target list up front
// so a stuck pinned instance cannot turn this into an infinite loop.
func (c *Cache) evictNPU(ctx context.Context) error {
	c.mu.Lock()
	var targets []*Instance
	for _, inst := range c.byID {
		if backend.NPUExclusive(inst.Recipe, inst.RecipeOptions) {
			targets = append(targets, inst)
		}
	}
	c.mu.Unlock()

	for _, inst := range targets {
		if err := c.evictInstance(ctx, inst, evictionDrainBudget); err != nil {
			return err
		}
	}
	return nil
}

// evictRecipe best-effort evicts every loaded instance of recipe, per
// spec.md §4.2's "an upgrade invalidates all previously loaded models of
// that family" handling.
func (c *Cache) evictRecipe(ctx context.Context, recipe string) {
	c.mu.Lock()
	var targets []*Instance
	for _, inst := range c.byID {
		if inst.Recipe == recipe {
			targets = append(targets, inst)
		}
	}
	c.mu.Unlock()

	for _, inst := range targets {
		if err := c.evictInstance(ctx, inst, evictionDrainBudget); err != nil && c.log != nil {
			c.log.WithError(err).Warnf("evicting recipe %s instance %s", recipe, inst.ModelID)
		}
	}
}

// evictAll best-effort evicts every loaded instance, used both by the
// load-failure "evict everything, retry once" fallback (spec.md §4.4.2
// step 9) and by Unload(nil).
func (c *Cache) evictAll(ctx context.Context) {
	c.mu.Lock()
	targets := make([]*Instance, 0, len(c.byID))
	for _, inst := range c.byID {
		targets = append(targets, inst)
	}
	c.mu.Unlock()

	for _, inst := range targets {
		if err := c.evictInstance(ctx, inst, 5*time.Second); err != nil && c.log != nil {
			c.log.WithError(err).Warnf("evict-all: instance %s could not be evicted", inst.ModelID)
		}
	}
}

// Unload implements spec.md §4.4.4: evicts a single model by id, or every
// loaded instance when modelID is nil (best effort; still refuses to evict
// pinned instances beyond the bounded wait).
func (c *Cache) Unload(ctx context.Context, modelID *string) error {
	if modelID == nil {
		c.evictAll(ctx)
		return nil
	}

	c.mu.Lock()
	inst, ok := c.byID[*modelID]
	c.mu.Unlock()
	if !ok {
		return apierror.New(apierror.KindNotFound, "model "+*modelID+" is not loaded")
	}
	return c.evictInstance(ctx, inst, evictionDrainBudget)
}

// Shutdown evicts every loaded instance in parallel, bounded by ctx, using
// an errgroup to fan out the per-instance drain-then-stop the same way the
// teacher's Scheduler.Run fans out its worker goroutines.
func (c *Cache) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	targets := make([]*Instance, 0, len(c.byID))
	for _, inst := range c.byID {
		targets = append(targets, inst)
	}
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range targets {
		inst := inst
		g.Go(func() error {
			return c.evictInstance(gctx, inst, evictionDrainBudget)
		})
	}
	return g.Wait()
}

// InstanceStatus is the read-only snapshot pkg/router exposes via
// /api/v1/health.
type InstanceStatus struct {
	ModelID   string
	ModelType registry.ModelType
	Recipe    string
	Port      int
	PID       int
	LastUse   time.Time
	Inflight  int
}

// Status returns a snapshot of every currently loaded instance.
func (c *Cache) Status() []InstanceStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]InstanceStatus, 0, len(c.byID))
	for _, inst := range c.byID {
		inst.mu.Lock()
		out = append(out, InstanceStatus{
			ModelID:   inst.ModelID,
			ModelType: inst.ModelType,
			Recipe:    inst.Recipe,
			Port:      inst.Port,
			PID:       inst.Handle.PID(),
			LastUse:   inst.lastUse,
			Inflight:  inst.inflight,
		})
		inst.mu.Unlock()
	}
	return out
}

func toModelRef(info registry.ModelInfo) backend.ModelRef {
	main, _ := info.ResolvedPath("main")
	mmproj, _ := info.ResolvedPath("mmproj")
	vae, _ := info.ResolvedPath("vae")
	textEncoder, _ := info.ResolvedPath("text_encoder")
	return backend.ModelRef{
		ID:                  info.ID,
		Checkpoint:          info.Checkpoint,
		ResolvedMain:        main,
		ResolvedMMProj:      mmproj,
		ResolvedVAE:         vae,
		ResolvedTextEncoder: textEncoder,
	}
}
