// Package loaders holds the per-language strategies that turn a
// resolved filesystem path into a live module instance. Go has no
// runtime dynamic import, so the native loader keeps an explicit
// factory registry keyed by logical module name, populated from each
// module package's init(). Foreign languages run as child processes
// reached through the IPC manager.
package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/nmxmxh/adc/internal/ipc"
	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/logging"
)

// KernelAccessor is the subset of the kernel façade a service
// constructor is allowed to see, injected alongside the enriched
// config. Defined here, not imported from internal/kernel, so the
// dependency points loaders -> (interface only) and internal/kernel
// can satisfy it without an import cycle.
type KernelAccessor interface {
	GetProvider(appName, name string, config map[string]interface{}) (lifecycle.Module, error)
	GetUtility(appName, name string, config map[string]interface{}) (lifecycle.Module, error)
	GetService(appName, name string, config map[string]interface{}) (lifecycle.Module, error)
}

// InstanceConfig is the enriched constructor argument every loader
// builds before instantiating a module: the declared config plus the
// identity fields the module needs to know about itself.
type InstanceConfig struct {
	ModuleName    string                 `json:"moduleName"`
	ModuleVersion string                 `json:"moduleVersion"`
	Language      string                 `json:"language"`
	Type          string                 `json:"type"`
	ModulePath    string                 `json:"modulePath"`
	Config        map[string]interface{} `json:"config"`
	AppName       string                 `json:"-"`
	Kernel        KernelAccessor         `json:"-"`

	// Role is the descriptor's role (provider/utility/service), distinct
	// from Type (a free-form subtype tag like "postgres" or "hs256").
	// Native factories already know their own role statically; foreign
	// modules have no other way to learn it, since ADC_MODULE_TYPE on
	// the wire carries Type, not Role.
	Role lifecycle.Role `json:"-"`
}

// Factory builds a native module instance from an enriched config. A
// module package registers its factory under its own logical module
// name via RegisterNative, mirroring database/sql's driver-registration
// idiom.
type Factory func(cfg InstanceConfig) (lifecycle.Module, error)

var (
	nativeMu        sync.RWMutex
	nativeFactories = make(map[string]Factory)
)

// RegisterNative associates a logical module name (as it appears in a
// module definition's `name` field, e.g. "jwtsigner") with the
// constructor that builds it. Call from an init() in the module's own
// package. The resolver still walks the filesystem to pick the best
// on-disk version directory for a native module, so version selection
// behaves the same across languages, but the Go object built for a
// given name is always the compiled-in factory: factories are not
// reloaded from disk at runtime.
func RegisterNative(name string, factory Factory) {
	nativeMu.Lock()
	defer nativeMu.Unlock()
	nativeFactories[name] = factory
}

// NativeLoader instantiates modules whose language is the host's own.
type NativeLoader struct{}

// NewNativeLoader builds a NativeLoader.
func NewNativeLoader() *NativeLoader { return &NativeLoader{} }

// Load looks up the registered factory for cfg.ModuleName and invokes
// it. A missing factory is LOAD_FAILED, not a panic.
func (l *NativeLoader) Load(_ context.Context, cfg InstanceConfig) (lifecycle.Module, error) {
	nativeMu.RLock()
	factory, ok := nativeFactories[cfg.ModuleName]
	nativeMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no native factory registered for %q", kernelerr.ErrLoadFailed, cfg.ModuleName)
	}
	instance, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", kernelerr.ErrLoadFailed, err)
	}
	return instance, nil
}

// interpreter maps a normalized language tag to the executable used to
// run a foreign module's entry file, and the entry filename within its
// resolved directory.
var interpreter = map[string]struct {
	exe   string
	entry string
}{
	"ts": {exe: "node", entry: "index.ts"},
	"py": {exe: "python3", entry: "index.py"},
}

// ForeignLoader spawns a child process for languages that cannot run in
// the host, and wraps the resulting IPC channel in a Module-shaped
// proxy.
type ForeignLoader struct {
	manager *ipc.Manager
	logger  *logging.Logger
}

// NewForeignLoader builds a ForeignLoader over an IPC Manager.
func NewForeignLoader(manager *ipc.Manager, logger *logging.Logger) *ForeignLoader {
	return &ForeignLoader{manager: manager, logger: logger}
}

// Load spawns (or reuses, via the IPC Manager's child table) the
// foreign-language process for cfg and returns a ForeignProxy.
func (l *ForeignLoader) Load(ctx context.Context, cfg InstanceConfig) (*ForeignProxy, error) {
	configJSON, err := json.Marshal(cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config: %v", kernelerr.ErrLoadFailed, err)
	}

	env := append(os.Environ(),
		"ADC_MODULE_NAME="+cfg.ModuleName,
		"ADC_MODULE_VERSION="+cfg.ModuleVersion,
		"ADC_MODULE_TYPE="+cfg.Type,
		"ADC_MODULE_CONFIG="+string(configJSON),
	)

	spawnKey := cfg.ModuleName + "@" + cfg.ModuleVersion
	var spec ipc.SpawnSpec

	switch cfg.Language {
	case "cpp":
		binary, err := buildCppModule(cfg.ModulePath)
		if err != nil {
			return nil, fmt.Errorf("%w: cpp build: %v", kernelerr.ErrLoadFailed, err)
		}
		spec = ipc.SpawnSpec{Key: spawnKey, Executable: binary, Env: env}
	default:
		it, ok := interpreter[cfg.Language]
		if !ok {
			return nil, fmt.Errorf("%w: no interpreter registered for language %q", kernelerr.ErrLoadFailed, cfg.Language)
		}
		entryPath := filepath.Join(cfg.ModulePath, it.entry)
		if cfg.Language == "py" {
			env = append(env, "PYTHONPATH="+cfg.ModulePath)
		}
		spec = ipc.SpawnSpec{Key: spawnKey, Executable: it.exe, Args: []string{entryPath}, Env: env}
	}

	child, err := l.manager.GetOrSpawn(ctx, spec)
	if err != nil {
		return nil, err
	}

	return NewForeignProxy(cfg.ModuleName, cfg.Role, cfg.Type, child), nil
}

// buildCppModule invokes cmake to produce a binary under a deterministic
// temp path, skipping the rebuild when the binary already exists and is
// newer than every source file under modulePath.
func buildCppModule(modulePath string) (string, error) {
	buildDir := filepath.Join(os.TempDir(), "adc-cpp-build", filepath.Base(modulePath))
	binary := filepath.Join(buildDir, "module")

	if up, err := isBuildUpToDate(binary, modulePath); err == nil && up {
		return binary, nil
	}

	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return "", err
	}

	configure := exec.Command("cmake", "-S", modulePath, "-B", buildDir)
	if out, err := configure.CombinedOutput(); err != nil {
		return "", fmt.Errorf("cmake configure: %w: %s", err, out)
	}
	build := exec.Command("cmake", "--build", buildDir)
	if out, err := build.CombinedOutput(); err != nil {
		return "", fmt.Errorf("cmake build: %w: %s", err, out)
	}
	return binary, nil
}

func isBuildUpToDate(binary, modulePath string) (bool, error) {
	binInfo, err := os.Stat(binary)
	if err != nil {
		return false, err
	}
	upToDate := true
	err = filepath.Walk(modulePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.ModTime().After(binInfo.ModTime()) {
			upToDate = false
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return upToDate, nil
}

// ForeignProxy implements lifecycle.Module over an IPC child process.
// Arbitrary foreign methods go through the explicit Invoke surface;
// service code that wants typed access defines a client interface whose
// methods call Invoke underneath.
type ForeignProxy struct {
	lifecycle.Base
	child *ipc.Child
}

// NewForeignProxy wraps an already-spawned child in the Module contract.
func NewForeignProxy(name string, role lifecycle.Role, typ string, child *ipc.Child) *ForeignProxy {
	return &ForeignProxy{Base: lifecycle.NewBase(name, role, typ), child: child}
}

// Start is a no-op beyond the idempotence guard: the child process is
// already running and ready by the time GetOrSpawn returns.
func (p *ForeignProxy) Start(ctx context.Context, token lifecycle.Token) error {
	run, err := p.Base.GuardStart(token)
	if err != nil || !run {
		return err
	}
	return nil
}

// Stop closes the IPC channel, terminating the child.
func (p *ForeignProxy) Stop(ctx context.Context, token lifecycle.Token) error {
	run, err := p.Base.GuardStop(token)
	if err != nil || !run {
		return err
	}
	return p.child.Close()
}

// ChildKey returns the IPC child-table key backing this proxy, so a
// death observer can match registry records to the exited child.
func (p *ForeignProxy) ChildKey() string { return p.child.Key() }

// Invoke calls method on the foreign instance with args, honoring ctx's
// deadline or DefaultCallTimeout, whichever is shorter-lived.
func (p *ForeignProxy) Invoke(ctx context.Context, method string, args []interface{}) (json.RawMessage, error) {
	return p.child.Call(ctx, method, args, ipc.DefaultCallTimeout)
}
