package loaders

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmxmxh/adc/internal/ipc"
	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/lifecycle"
	"github.com/nmxmxh/adc/internal/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(zap.NewNop(), "test").Named("loaders-test")
}

// buildForeignStub compiles cmd/foreignstub into a temp dir so the
// foreign-child path can be exercised without a Python/Node/C++
// toolchain present.
func buildForeignStub(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "foreignstub")
	out, err := exec.Command("go", "build", "-o", bin, "github.com/nmxmxh/adc/cmd/foreignstub").CombinedOutput()
	require.NoError(t, err, "building foreignstub: %s", out)
	return bin
}

// withStubLanguage registers the built stub binary as the interpreter
// for a synthetic "stub" language tag for the duration of the test.
func withStubLanguage(t *testing.T, bin string) {
	t.Helper()
	interpreter["stub"] = struct {
		exe   string
		entry string
	}{exe: bin, entry: "index.stub"}
	t.Cleanup(func() { delete(interpreter, "stub") })
}

func TestForeignLoader_LoadInvokeStop(t *testing.T) {
	withStubLanguage(t, buildForeignStub(t))

	logger := newTestLogger(t)
	manager := ipc.New(logger)
	loader := NewForeignLoader(manager, logger)
	token := lifecycle.NewToken("k")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := InstanceConfig{
		ModuleName:    "remote-echo",
		ModuleVersion: "1.0.0",
		Language:      "stub",
		Type:          "provider",
		ModulePath:    t.TempDir(),
		Config:        map[string]interface{}{"region": "local"},
		Role:          lifecycle.RoleProvider,
	}

	proxy, err := loader.Load(ctx, cfg)
	require.NoError(t, err, "spawn and readiness handshake should succeed")

	assert.Equal(t, "remote-echo", proxy.Name())
	assert.Equal(t, lifecycle.RoleProvider, proxy.Role())
	assert.Equal(t, "remote-echo@1.0.0", proxy.ChildKey())

	require.NoError(t, proxy.SetPrivilegedKey(token))
	require.NoError(t, proxy.Start(ctx, token))

	result, err := proxy.Invoke(ctx, "echo", []interface{}{"hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `["hello"]`, string(result))

	_, err = proxy.Invoke(ctx, "fail", nil)
	assert.ErrorIs(t, err, kernelerr.ErrIPCRemoteError)

	require.NoError(t, proxy.Stop(ctx, token))
}

// TestForeignLoader_ReusesChild: two loads of the same module+version
// share one child process through the manager's child table.
func TestForeignLoader_ReusesChild(t *testing.T) {
	withStubLanguage(t, buildForeignStub(t))

	logger := newTestLogger(t)
	manager := ipc.New(logger)
	loader := NewForeignLoader(manager, logger)
	token := lifecycle.NewToken("k")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := InstanceConfig{
		ModuleName:    "remote-shared",
		ModuleVersion: "2.0.0",
		Language:      "stub",
		Type:          "utility",
		ModulePath:    t.TempDir(),
		Role:          lifecycle.RoleUtility,
	}

	p1, err := loader.Load(ctx, cfg)
	require.NoError(t, err)
	p2, err := loader.Load(ctx, cfg)
	require.NoError(t, err)

	assert.Equal(t, p1.ChildKey(), p2.ChildKey())

	require.NoError(t, p1.SetPrivilegedKey(token))
	require.NoError(t, p1.Stop(ctx, token))
}

func TestForeignLoader_UnknownLanguage(t *testing.T) {
	logger := newTestLogger(t)
	loader := NewForeignLoader(ipc.New(logger), logger)

	_, err := loader.Load(context.Background(), InstanceConfig{
		ModuleName: "mystery",
		Language:   "fortran",
		ModulePath: t.TempDir(),
	})
	assert.ErrorIs(t, err, kernelerr.ErrLoadFailed)
}
