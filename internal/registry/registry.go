// Package registry is the content-addressed store of live module
// instances, with reference counts and per-app dependency sets.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/logging"
)

// Record is the stored record for one live module instance.
type Record struct {
	UniqueKey    string
	LogicalName  string
	Language     string
	Role         lifecycle.Role
	Instance     lifecycle.Module
	RefCount     int
	FileOrigin   string
	Config       map[string]interface{}
	insertOrder  int
}

// depKey identifies a (role, uniqueKey) pair in an app's dependency set.
type depKey struct {
	role      lifecycle.Role
	uniqueKey string
}

// Registry is the live module store. Maps are guarded by a single
// reader/writer lock: reads (Get/Has) are common, writes
// (Register/cleanup) are rarer.
type Registry struct {
	logger *logging.Logger

	mu          sync.RWMutex
	instances   map[string]*Record // uniqueKey -> record
	nameIndex   map[string][]string // logicalName -> ordered uniqueKeys
	appDeps     map[string]map[depKey]int // app -> (role, uniqueKey) -> times registered
	fileOrigin  map[string]string // filePath -> uniqueKey, for unload
	insertCount int

	// bloomMu guards bloom, a "definitely absent" check ahead of taking
	// mu for read. A false positive ("maybe present") always falls
	// through to the authoritative map lookup under mu.
	bloomMu sync.Mutex
	bloom   *bloom.BloomFilter
}

// New builds an empty Registry.
func New(logger *logging.Logger) *Registry {
	return &Registry{
		logger:     logger,
		instances:  make(map[string]*Record),
		nameIndex:  make(map[string][]string),
		appDeps:    make(map[string]map[depKey]int),
		fileOrigin: make(map[string]string),
		bloom:      bloom.NewWithEstimates(1000, 0.01),
	}
}

func (r *Registry) maybePresent(uniqueKey string) bool {
	r.bloomMu.Lock()
	defer r.bloomMu.Unlock()
	return r.bloom.TestString(uniqueKey)
}

func (r *Registry) markPresent(uniqueKey string) {
	r.bloomMu.Lock()
	defer r.bloomMu.Unlock()
	r.bloom.AddString(uniqueKey)
}

// Register stores instance under its computed uniqueKey, or increments
// the refcount of an existing record. owningApp == "" means an orphan
// registration (a global provider/utility) that counts toward no app's
// cleanup.
//
// If starting a brand-new instance fails, the registration is rolled
// back entirely: no refcount bump, no name-index entry, no
// app-dependency attribution.
func (r *Registry) Register(ctx context.Context, role lifecycle.Role, logicalName string, instance lifecycle.Module, config map[string]interface{}, owningApp string, fileOrigin string, token lifecycle.Token) (*Record, error) {
	uniqueKey := UniqueKey(logicalName, config)

	r.mu.Lock()
	if existing, ok := r.instances[uniqueKey]; ok {
		existing.RefCount++
		r.attachApp(owningApp, role, uniqueKey)
		r.mu.Unlock()
		return existing, nil
	}
	r.mu.Unlock()

	// Start the instance outside the lock: Start may block or call back
	// into the kernel.
	if err := instance.Start(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrLoadFailed, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check: a concurrent Register for the same uniqueKey may have
	// won the race while we were outside the lock starting the
	// instance. Keep the earlier one to preserve single-instance
	// semantics and stop ours.
	if existing, ok := r.instances[uniqueKey]; ok {
		existing.RefCount++
		r.attachApp(owningApp, role, uniqueKey)
		go func() { _ = instance.Stop(context.Background(), token) }()
		return existing, nil
	}

	r.insertCount++
	rec := &Record{
		UniqueKey:   uniqueKey,
		LogicalName: logicalName,
		Role:        role,
		Instance:    instance,
		RefCount:    1,
		FileOrigin:  fileOrigin,
		Config:      config,
		insertOrder: r.insertCount,
	}
	r.instances[uniqueKey] = rec
	r.nameIndex[logicalName] = appendUnique(r.nameIndex[logicalName], uniqueKey)
	if fileOrigin != "" {
		r.fileOrigin[fileOrigin] = uniqueKey
	}
	r.attachApp(owningApp, role, uniqueKey)
	r.markPresent(uniqueKey)

	return rec, nil
}

func appendUnique(list []string, key string) []string {
	for _, k := range list {
		if k == key {
			return list
		}
	}
	return append(list, key)
}

// attachApp must be called with mu held. Each attachment is counted, so
// an app that registers the same module twice needs two cleanup passes
// to fully release it.
func (r *Registry) attachApp(app string, role lifecycle.Role, uniqueKey string) {
	if app == "" {
		return
	}
	deps, ok := r.appDeps[app]
	if !ok {
		deps = make(map[depKey]int)
		r.appDeps[app] = deps
	}
	deps[depKey{role: role, uniqueKey: uniqueKey}]++
}

// AddDependency increments refcount and attaches to app's set, but
// only if the instance already exists.
func (r *Registry) AddDependency(role lifecycle.Role, name string, config map[string]interface{}, app string) error {
	uniqueKey := UniqueKey(name, config)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.instances[uniqueKey]
	if !ok {
		return kernelerr.ErrModuleNotFound
	}
	rec.RefCount++
	r.attachApp(app, role, uniqueKey)
	return nil
}

// LoadContext is the app whose load is in progress. If set, Get prefers
// a bare-name candidate that belongs to this app's dependency set. It
// is threaded explicitly by the caller (kernel.Kernel holds it for the
// duration of StartApp) rather than read from a package global.
type LoadContext = string

// Get looks up an instance. With config, the lookup is by exact
// uniqueKey; without, the name index is consulted and ambiguity
// resolved via disambiguate.
func (r *Registry) Get(role lifecycle.Role, name string, config map[string]interface{}, loadContext LoadContext) (*Record, error) {
	if config != nil {
		uniqueKey := UniqueKey(name, config)
		if !r.maybePresent(uniqueKey) {
			return nil, kernelerr.ErrModuleNotFound
		}
		r.mu.RLock()
		defer r.mu.RUnlock()
		rec, ok := r.instances[uniqueKey]
		if !ok || rec.Role != role {
			return nil, kernelerr.ErrModuleNotFound
		}
		return rec, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.nameIndex[name]
	candidates := make([]*Record, 0, len(keys))
	for _, k := range keys {
		if rec, ok := r.instances[k]; ok && rec.Role == role {
			candidates = append(candidates, rec)
		}
	}

	switch len(candidates) {
	case 0:
		return nil, kernelerr.ErrModuleNotFound
	case 1:
		return candidates[0], nil
	default:
		return r.disambiguate(candidates, role, loadContext)
	}
}

// disambiguate prefers candidates owned by the load context, then the
// strictly longest uniqueKey (the most specifically configured one).
// Must be called with mu held (read lock suffices).
func (r *Registry) disambiguate(candidates []*Record, role lifecycle.Role, loadContext LoadContext) (*Record, error) {
	if loadContext != "" {
		if deps, ok := r.appDeps[loadContext]; ok {
			var inContext []*Record
			for _, rec := range candidates {
				if deps[depKey{role: role, uniqueKey: rec.UniqueKey}] > 0 {
					inContext = append(inContext, rec)
				}
			}
			if len(inContext) == 1 {
				return inContext[0], nil
			}
			if len(inContext) > 1 {
				candidates = inContext
			}
		}
	}

	// Strictly-longest uniqueKey tiebreak.
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].UniqueKey) > len(candidates[j].UniqueKey)
	})
	if len(candidates) >= 2 && len(candidates[0].UniqueKey) == len(candidates[1].UniqueKey) {
		return nil, kernelerr.ErrAmbiguous
	}
	return candidates[0], nil
}

// List returns a snapshot of every live record, sorted by insertion
// order, for introspection tools such as the kernelctl CLI.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Record, 0, len(r.instances))
	for _, rec := range r.instances {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].insertOrder < out[j].insertOrder })
	return out
}

// Has is the boolean form of Get.
func (r *Registry) Has(role lifecycle.Role, name string, config map[string]interface{}, loadContext LoadContext) bool {
	_, err := r.Get(role, name, config, loadContext)
	return err == nil
}

// CleanupAppDependencies releases the app's dependency set: each owned
// (role, uniqueKey) has its refcount decremented once per pass; at zero,
// the instance is stopped and erased. An app that attached the same
// module more than once keeps its remaining attachments for a later
// pass; once all are drained the app leaves the table. Errors from Stop
// are logged and swallowed so teardown makes progress.
func (r *Registry) CleanupAppDependencies(ctx context.Context, app string, token lifecycle.Token) {
	r.mu.Lock()
	deps, ok := r.appDeps[app]
	if !ok {
		r.mu.Unlock()
		return
	}

	type toStop struct {
		uniqueKey string
		rec       *Record
	}
	var stopList []toStop

	for dk := range deps {
		deps[dk]--
		if deps[dk] <= 0 {
			delete(deps, dk)
		}
		rec, ok := r.instances[dk.uniqueKey]
		if !ok {
			continue
		}
		rec.RefCount--
		if rec.RefCount <= 0 {
			stopList = append(stopList, toStop{uniqueKey: dk.uniqueKey, rec: rec})
			delete(r.instances, dk.uniqueKey)
			r.removeFromNameIndex(rec.LogicalName, dk.uniqueKey)
			if rec.FileOrigin != "" {
				delete(r.fileOrigin, rec.FileOrigin)
			}
		}
	}
	if len(deps) == 0 {
		delete(r.appDeps, app)
	}
	r.mu.Unlock()

	for _, s := range stopList {
		if err := s.rec.Instance.Stop(ctx, token); err != nil {
			r.logger.Warn(fmt.Sprintf("stop failed for %s: %v", s.uniqueKey, err))
		}
	}
}

// removeFromNameIndex must be called with mu held. A logicalName whose
// key list becomes empty is removed entirely.
func (r *Registry) removeFromNameIndex(name, uniqueKey string) {
	keys := r.nameIndex[name]
	out := keys[:0]
	for _, k := range keys {
		if k != uniqueKey {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		delete(r.nameIndex, name)
	} else {
		r.nameIndex[name] = out
	}
}

// PurgeMatching erases every record pred matches, without calling Stop.
// Used when a foreign child has already exited: its wrapper is dead
// weight, and pending RPCs fail on their own channel-closed path.
// Dependency-set entries pointing at a purged record are left in place;
// cleanup tolerates them.
func (r *Registry) PurgeMatching(pred func(*Record) bool) []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var purged []*Record
	for key, rec := range r.instances {
		if !pred(rec) {
			continue
		}
		delete(r.instances, key)
		r.removeFromNameIndex(rec.LogicalName, key)
		if rec.FileOrigin != "" {
			delete(r.fileOrigin, rec.FileOrigin)
		}
		purged = append(purged, rec)
	}
	return purged
}

// StopAll stops every live instance under a per-module timeout, logging
// and swallowing errors.
func (r *Registry) StopAll(ctx context.Context, token lifecycle.Token, perModuleTimeout func(context.Context, func(context.Context) error) (bool, error)) {
	r.mu.Lock()
	all := make([]*Record, 0, len(r.instances))
	for _, rec := range r.instances {
		all = append(all, rec)
	}
	r.instances = make(map[string]*Record)
	r.nameIndex = make(map[string][]string)
	r.fileOrigin = make(map[string]string)
	r.appDeps = make(map[string]map[depKey]int)
	r.mu.Unlock()

	for _, rec := range all {
		rec := rec
		timedOut, err := perModuleTimeout(ctx, func(c context.Context) error {
			return rec.Instance.Stop(c, token)
		})
		if timedOut {
			r.logger.Warn(fmt.Sprintf("stop timed out, abandoning %s", rec.UniqueKey))
		} else if err != nil {
			r.logger.Warn(fmt.Sprintf("stop failed for %s: %v", rec.UniqueKey, err))
		}
	}
}

// Unload reverse-looks-up a record by fileOrigin, then stops and erases
// it regardless of refcount (developer reload). Nothing calls this on
// file change yet; a filesystem watcher would.
func (r *Registry) Unload(ctx context.Context, token lifecycle.Token, filePath string) error {
	r.mu.Lock()
	uniqueKey, ok := r.fileOrigin[filePath]
	if !ok {
		r.mu.Unlock()
		return kernelerr.ErrModuleNotFound
	}
	rec, ok := r.instances[uniqueKey]
	if !ok {
		r.mu.Unlock()
		return kernelerr.ErrModuleNotFound
	}
	delete(r.instances, uniqueKey)
	r.removeFromNameIndex(rec.LogicalName, uniqueKey)
	delete(r.fileOrigin, filePath)
	r.mu.Unlock()

	return rec.Instance.Stop(ctx, token)
}
