// Package kernel is the façade applications use to start, query, and
// tear down module graphs. It mints the process-unique privileged
// capability token and owns the registry's load-context attribution
// for the duration of each StartApp call.
package kernel

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/logging"
	"github.com/nmxmxh/adc/internal/orchestrator"
	"github.com/nmxmxh/adc/internal/registry"
)

// defaultStopAllTimeout is the per-module deadline StopAll uses when
// abandoning orphaned instances.
const defaultStopAllTimeout = 2 * time.Second

// Kernel is the top-level façade over the orchestrator and registry.
type Kernel struct {
	token        lifecycle.Token
	registry     *registry.Registry
	orchestrator *orchestrator.Orchestrator
	logger       *logging.Logger

	mu           sync.Mutex
	appOrder     []string
	loadContexts map[string]bool
}

// New mints the kernel's one real capability token (via a google/uuid
// random identifier, so it is unguessable as well as identity-compared)
// and wires the façade to its collaborators.
func New(reg *registry.Registry, orch *orchestrator.Orchestrator, logger *logging.Logger) *Kernel {
	k := &Kernel{
		token:        lifecycle.NewToken(uuid.NewString()),
		registry:     reg,
		orchestrator: orch,
		logger:       logger,
		loadContexts: make(map[string]bool),
	}
	orch.SetKernel(k)
	return k
}

// StartApp drives the orchestrator against def, attributing every
// registration made during the call to appName. Starting the same app
// a second time with the same definition is safe: already-registered
// modules are reused and their refcounts bumped.
func (k *Kernel) StartApp(ctx context.Context, appName string, def orchestrator.Definition) error {
	k.mu.Lock()
	if !k.loadContexts[appName] {
		k.appOrder = append(k.appOrder, appName)
	}
	k.loadContexts[appName] = true
	k.mu.Unlock()

	return k.orchestrator.Load(ctx, appName, def, k.token)
}

// StopApp releases appName's entire dependency set.
func (k *Kernel) StopApp(ctx context.Context, appName string) {
	k.registry.CleanupAppDependencies(ctx, appName, k.token)

	k.mu.Lock()
	delete(k.loadContexts, appName)
	for i, a := range k.appOrder {
		if a == appName {
			k.appOrder = append(k.appOrder[:i], k.appOrder[i+1:]...)
			break
		}
	}
	k.mu.Unlock()
}

// StopAll tears down every app in reverse registration order, then
// sweeps any surviving orphaned modules under a per-module timeout.
// Timed-out modules are logged and abandoned; the process may still
// exit cleanly.
func (k *Kernel) StopAll(ctx context.Context) {
	k.mu.Lock()
	order := append([]string(nil), k.appOrder...)
	k.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		k.StopApp(ctx, order[i])
	}

	k.registry.StopAll(ctx, k.token, func(c context.Context, op func(context.Context) error) (bool, error) {
		return lifecycle.WithTimeout(c, defaultStopAllTimeout, op)
	})
}

// GetProvider looks up a provider by logical name, optionally
// disambiguated by config, within appName's load context.
func (k *Kernel) GetProvider(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return k.get(lifecycle.RoleProvider, appName, name, config)
}

// GetUtility looks up a utility by logical name.
func (k *Kernel) GetUtility(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return k.get(lifecycle.RoleUtility, appName, name, config)
}

// GetService looks up a service by logical name.
func (k *Kernel) GetService(appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	return k.get(lifecycle.RoleService, appName, name, config)
}

func (k *Kernel) get(role lifecycle.Role, appName, name string, config map[string]interface{}) (lifecycle.Module, error) {
	rec, err := k.registry.Get(role, name, config, appName)
	if err != nil {
		return nil, err
	}
	return rec.Instance, nil
}

// HasModule is the boolean form of the typed Get accessors.
func (k *Kernel) HasModule(role lifecycle.Role, appName, name string, config map[string]interface{}) bool {
	return k.registry.Has(role, name, config, appName)
}

// AddModuleDependency attaches an already-registered instance to
// appName's dependency set, bumping its refcount.
func (k *Kernel) AddModuleDependency(role lifecycle.Role, name string, config map[string]interface{}, appName string) error {
	return k.registry.AddDependency(role, name, config, appName)
}

// Token exposes the kernel's capability token to code that legitimately
// needs to call privileged methods directly (e.g. Stop on a single
// instance). Holding a *Kernel is itself the privilege boundary:
// nothing outside this package can mint an equal token.
func (k *Kernel) Token() lifecycle.Token { return k.token }

// Unload stops and erases whichever instance originated from filePath,
// regardless of refcount. Intended for developer reload; nothing calls
// it automatically on file change.
func (k *Kernel) Unload(ctx context.Context, filePath string) error {
	return k.registry.Unload(ctx, k.token, filePath)
}
