package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/logging"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(zap.NewNop(), "test").Named("resolver-test")
}

func makeVersionDir(t *testing.T, root, name, versionTag string) {
	t.Helper()
	dir := filepath.Join(root, name, versionTag)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.ts"), []byte("// stub"), 0o644))
}

// TestResolve_VersionSelection exercises caret, tilde, and not-found
// resolution over a populated version tree.
func TestResolve_VersionSelection(t *testing.T) {
	root := t.TempDir()
	makeVersionDir(t, root, "logger", "1.0.0-ts")
	makeVersionDir(t, root, "logger", "1.2.3-ts")
	makeVersionDir(t, root, "logger", "2.0.0-ts")

	r := New(newTestLogger(t), 0)

	resolved, err := r.Resolve(root, "logger", "^1.0.0", "typescript")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", resolved.ExactVersion.String())

	resolved, err = r.Resolve(root, "logger", "~1.0.0", "typescript")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", resolved.ExactVersion.String())

	_, err = r.Resolve(root, "logger", "^3.0.0", "typescript")
	assert.ErrorIs(t, err, kernelerr.ErrModuleNotFound)
}

func TestResolve_LegacyLayout(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "simple")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.go"), []byte("package simple"), 0o644))

	r := New(newTestLogger(t), 0)
	resolved, err := r.Resolve(root, "simple", "*", "go")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", resolved.ExactVersion.String())
	assert.Equal(t, dir, resolved.FilesystemPath)
}

func TestResolve_RecursiveDiscovery(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	makeVersionDir(t, nested, "deep", "1.0.0-ts")

	r := New(newTestLogger(t), 0)
	resolved, err := r.Resolve(root, "deep", "*", "ts")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", resolved.ExactVersion.String())
}

func TestResolve_NotFound(t *testing.T) {
	root := t.TempDir()
	r := New(newTestLogger(t), 0)
	_, err := r.Resolve(root, "missing", "*", "go")
	assert.ErrorIs(t, err, kernelerr.ErrModuleNotFound)
}

func TestNormalizeLangTag(t *testing.T) {
	assert.Equal(t, "ts", NormalizeLangTag("TypeScript"))
	assert.Equal(t, "ts", NormalizeLangTag("js"))
	assert.Equal(t, "py", NormalizeLangTag("Python"))
	assert.Equal(t, "cpp", NormalizeLangTag("c++"))
	assert.Equal(t, NativeLangTag, NormalizeLangTag(""))
}
