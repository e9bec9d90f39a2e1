// Package orchestrator parses module definitions and drives the
// resolver, language loaders, and registry in phased order: global
// providers and utilities first, then services with their own
// providers and utilities. Env-var interpolation and config-merge
// precedence run ahead of registration.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/nmxmxh/adc/internal/envfile"
	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/loaders"
	"github.com/nmxmxh/adc/internal/logging"
	"github.com/nmxmxh/adc/internal/registry"
	"github.com/nmxmxh/adc/internal/resolver"
)

// Descriptor is one entry in a module definition's providers/utilities/
// services list.
type Descriptor struct {
	Name     string                 `json:"name" yaml:"name"`
	Version  string                 `json:"version,omitempty" yaml:"version,omitempty"`
	Language string                 `json:"language,omitempty" yaml:"language,omitempty"`
	Global   bool                   `json:"global,omitempty" yaml:"global,omitempty"`
	Type     string                 `json:"type,omitempty" yaml:"type,omitempty"`
	Config   map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	Custom   map[string]interface{} `json:"custom,omitempty" yaml:"custom,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`

	Providers []Descriptor `json:"providers,omitempty" yaml:"providers,omitempty"`
	Utilities []Descriptor `json:"utilities,omitempty" yaml:"utilities,omitempty"`
}

// Definition is the top-level module definition document.
type Definition struct {
	Providers   []Descriptor           `json:"providers,omitempty" yaml:"providers,omitempty"`
	Utilities   []Descriptor           `json:"utilities,omitempty" yaml:"utilities,omitempty"`
	Services    []Descriptor           `json:"services,omitempty" yaml:"services,omitempty"`
	FailOnError bool                   `json:"failOnError,omitempty" yaml:"failOnError,omitempty"`
	GlobalFlags map[string]interface{} `json:"globalFlags,omitempty" yaml:"globalFlags,omitempty"`
}

// Orchestrator coordinates the resolver, loaders, and registry to
// satisfy one module definition at a time.
type Orchestrator struct {
	moduleRoot    string
	resolver      *resolver.Resolver
	nativeLoader  *loaders.NativeLoader
	foreignLoader *loaders.ForeignLoader
	registry      *registry.Registry
	logger        *logging.Logger
	kernel        loaders.KernelAccessor
}

// SetKernel injects the kernel façade after construction, breaking the
// kernel<->orchestrator constructor cycle (kernel.New takes an
// *Orchestrator; the orchestrator only needs the narrow KernelAccessor
// view back, wired in once the kernel exists).
func (o *Orchestrator) SetKernel(k loaders.KernelAccessor) { o.kernel = k }

// New builds an Orchestrator wired to the given collaborators.
func New(moduleRoot string, rslv *resolver.Resolver, native *loaders.NativeLoader, foreign *loaders.ForeignLoader, reg *registry.Registry, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		moduleRoot:    moduleRoot,
		resolver:      rslv,
		nativeLoader:  native,
		foreignLoader: foreign,
		registry:      reg,
		logger:        logger,
	}
}

// Load satisfies one module definition for one app: the definition's
// own providers and utilities first (global or not), then each service
// in declaration order.
func (o *Orchestrator) Load(ctx context.Context, appName string, def Definition, token lifecycle.Token) error {
	hostEnv := envfile.Map(hostEnviron())

	for _, d := range def.Providers {
		if err := o.loadTopLevel(ctx, lifecycle.RoleProvider, d, hostEnv, appName, token); err != nil {
			if def.FailOnError {
				return err
			}
			o.logger.Warn(fmt.Sprintf("provider %q: %v", d.Name, err))
		}
	}
	for _, d := range def.Utilities {
		if err := o.loadTopLevel(ctx, lifecycle.RoleUtility, d, hostEnv, appName, token); err != nil {
			if def.FailOnError {
				return err
			}
			o.logger.Warn(fmt.Sprintf("utility %q: %v", d.Name, err))
		}
	}

	for _, svc := range def.Services {
		if err := o.loadService(ctx, appName, svc, hostEnv, token); err != nil {
			if def.FailOnError {
				return err
			}
			o.logger.Warn(fmt.Sprintf("service %q: %v", svc.Name, err))
		}
	}

	return nil
}

// loadTopLevel loads one of the definition's own provider/utility
// descriptors. A global descriptor registers as an orphan (owningApp =
// ""), skipped entirely if already present; a non-global one is
// attributed to the loading app, so each additional owning app bumps
// the shared instance's refcount.
func (o *Orchestrator) loadTopLevel(ctx context.Context, role lifecycle.Role, d Descriptor, hostEnv envfile.Map, appName string, token lifecycle.Token) error {
	merged := mergeConfig(d.Config, d.Options, d.Custom)
	interpolate(merged, hostEnv)

	if d.Global {
		if _, err := o.registry.Get(role, d.Name, merged, ""); err == nil {
			return nil
		}
		_, err := o.resolveLoadRegister(ctx, role, d, merged, "", token)
		return err
	}

	_, err := o.resolveLoadRegister(ctx, role, d, merged, appName, token)
	return err
}

// loadService loads one service descriptor: its .env, its effective
// providers and utilities, then the service instance itself.
func (o *Orchestrator) loadService(ctx context.Context, appName string, svc Descriptor, hostEnv envfile.Map, token lifecycle.Token) error {
	version := svc.Version
	if version == "" {
		version = "latest"
	}
	language := svc.Language

	resolved, err := o.resolver.Resolve(o.moduleRoot, svc.Name, version, language)
	if err != nil {
		return err
	}

	serviceEnv, _ := envfile.Load(filepath.Join(resolved.FilesystemPath, ".env"))
	envChain := chainEnv(serviceEnv, hostEnv)

	providers := svc.Providers
	if providers == nil {
		if inherited, err := loadColocatedProviders(resolved.FilesystemPath); err == nil {
			providers = inherited
		}
	}

	merged := mergeConfig(svc.Config, svc.Options, svc.Custom)
	interpolate(merged, envChain...)
	merged["__providers"] = providerNames(providers)

	if _, err := o.registry.Get(lifecycle.RoleService, svc.Name, merged, appName); err == nil {
		return o.registry.AddDependency(lifecycle.RoleService, svc.Name, merged, appName)
	} else if !errorsIsNotFound(err) {
		return err
	}

	// resolveLoadRegister already attributes each provider to appName:
	// it calls registry.Register with owningApp=appName, which both sets
	// the refcount and counts an attachment in appDeps. A second
	// AddDependency here would leave the provider needing an extra
	// cleanup pass before it ever stops.
	for _, p := range providers {
		if p.Global {
			continue
		}
		pMerged := mergeConfig(p.Config, p.Options, p.Custom)
		interpolate(pMerged, envChain...)
		if _, err := o.resolveLoadRegister(ctx, lifecycle.RoleProvider, p, pMerged, appName, token); err != nil {
			return fmt.Errorf("provider %q for service %q: %w", p.Name, svc.Name, err)
		}
	}

	for _, u := range svc.Utilities {
		if u.Global {
			continue
		}
		uMerged := mergeConfig(u.Config, u.Options, u.Custom)
		interpolate(uMerged, envChain...)
		if _, err := o.resolveLoadRegister(ctx, lifecycle.RoleUtility, u, uMerged, appName, token); err != nil {
			return fmt.Errorf("utility %q for service %q: %w", u.Name, svc.Name, err)
		}
	}

	if _, err := o.resolveLoadRegister(ctx, lifecycle.RoleService, svc, merged, appName, token); err != nil {
		return err
	}

	return nil
}

// resolveLoadRegister performs the common resolve -> load -> register
// sequence shared by globals, service providers/utilities, and the
// service instance itself.
func (o *Orchestrator) resolveLoadRegister(ctx context.Context, role lifecycle.Role, d Descriptor, mergedConfig map[string]interface{}, owningApp string, token lifecycle.Token) (*registry.Record, error) {
	version := d.Version
	if version == "" {
		version = "latest"
	}

	resolved, err := o.resolver.Resolve(o.moduleRoot, d.Name, version, d.Language)
	if err != nil {
		return nil, err
	}

	cfg := loaders.InstanceConfig{
		ModuleName:    d.Name,
		ModuleVersion: resolved.ExactVersion.String(),
		Language:      d.Language,
		Type:          d.Type,
		ModulePath:    resolved.FilesystemPath,
		Config:        mergedConfig,
		AppName:       owningApp,
		Kernel:        o.kernel,
		Role:          role,
	}

	var instance lifecycle.Module
	if isNativeLanguage(d.Language) {
		instance, err = o.nativeLoader.Load(ctx, cfg)
	} else {
		instance, err = o.foreignLoader.Load(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := instance.SetPrivilegedKey(token); err != nil {
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrLoadFailed, err)
	}

	return o.registry.Register(ctx, role, d.Name, instance, mergedConfig, owningApp, resolved.FilesystemPath, token)
}

func isNativeLanguage(language string) bool {
	return language == "" || strings.EqualFold(language, "go") || strings.EqualFold(language, "golang")
}

// mergeConfig applies the precedence custom > options > config.
func mergeConfig(config, options, custom map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(config)+len(options)+len(custom))
	for k, v := range config {
		out[k] = v
	}
	for k, v := range options {
		out[k] = v
	}
	for k, v := range custom {
		out[k] = v
	}
	return out
}

// chainEnv orders env maps by precedence, highest first, skipping nils.
func chainEnv(maps ...envfile.Map) []envfile.Map {
	out := make([]envfile.Map, 0, len(maps))
	for _, m := range maps {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// interpolate replaces every "${NAME}" string found anywhere in tree, in
// place, consulting envs in precedence order; an unresolved name becomes
// the empty string.
func interpolate(tree map[string]interface{}, envs ...envfile.Map) {
	for k, v := range tree {
		tree[k] = interpolateValue(v, envs)
	}
}

func interpolateValue(v interface{}, envs []envfile.Map) interface{} {
	switch val := v.(type) {
	case string:
		return interpolateString(val, envs)
	case map[string]interface{}:
		interpolate(val, envs...)
		return val
	case []interface{}:
		for i, elem := range val {
			val[i] = interpolateValue(elem, envs)
		}
		return val
	default:
		return v
	}
}

func interpolateString(s string, envs []envfile.Map) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == '$' && i+1 < len(s) && s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				i++
				continue
			}
			name := s[i+2 : i+2+end]
			b.WriteString(lookupEnv(name, envs))
			i = i + 2 + end + 1
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

func lookupEnv(name string, envs []envfile.Map) string {
	for _, m := range envs {
		if v, ok := m[name]; ok {
			return v
		}
	}
	return ""
}

func hostEnviron() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

func decodeJSONFile(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(out)
}

// providerNames extracts logical names for the __providers uniqueKey
// component: two services differing only in effective provider lists
// are distinct instances.
func providerNames(descs []Descriptor) []string {
	names := make([]string, 0, len(descs))
	for _, d := range descs {
		names = append(names, d.Name)
	}
	return names
}

// loadColocatedProviders reads a service's colocated config.json to
// inherit its default providers list when the descriptor omits one.
func loadColocatedProviders(servicePath string) ([]Descriptor, error) {
	var doc struct {
		Providers []Descriptor `json:"providers"`
	}
	if err := decodeJSONFile(filepath.Join(servicePath, "config.json"), &doc); err != nil {
		return nil, err
	}
	return doc.Providers, nil
}

// DecodeConfig decodes an opaque config map into a typed struct.
// Provider/utility/service packages call this from their constructors to
// turn the enriched config map into their own typed options struct.
func DecodeConfig(raw map[string]interface{}, out interface{}) error {
	if reflect.ValueOf(out).Kind() != reflect.Ptr {
		return fmt.Errorf("orchestrator: DecodeConfig target must be a pointer")
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, kernelerr.ErrModuleNotFound)
}
