// Package resolver locates the best matching on-disk module version for
// a (module root, logical name, semver range, language) tuple.
package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/nmxmxh/adc/internal/kernelerr"
	"github.com/nmxmxh/adc/internal/logging"
	"github.com/nmxmxh/adc/internal/semver"
)

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	FilesystemPath string
	ExactVersion   semver.Version
}

// entryFiles maps a normalized language tag to the entry filename the
// resolver looks for inside a version directory.
var entryFiles = map[string]string{
	"go":  "index.go",
	"ts":  "index.ts",
	"py":  "index.py",
	"cpp": "index.cpp",
}

// candidate is an on-disk version directory that matched the language.
type candidate struct {
	version semver.Version
	path    string
}

// Resolver scans a module root for version directories. Directory scans
// are cached briefly: the same (root, name) pair is resolved repeatedly
// during a single definition load, but the filesystem can change across
// developer edits, hence a short TTL rather than an unbounded cache.
type Resolver struct {
	logger *logging.Logger
	cache  *cache.Cache
}

// New builds a Resolver. ttl of zero disables caching.
func New(logger *logging.Logger, ttl time.Duration) *Resolver {
	var c *cache.Cache
	if ttl > 0 {
		c = cache.New(ttl, ttl*2)
	}
	return &Resolver{logger: logger, cache: c}
}

// Resolve locates the best version of logicalName under root satisfying
// rng for language. Returns kernelerr.ErrModuleNotFound (never panics or
// otherwise raises) when nothing matches.
func (r *Resolver) Resolve(root, logicalName, rng, language string) (Resolved, error) {
	lang := NormalizeLangTag(language)
	vrange, err := semver.ParseRange(rng)
	if err != nil {
		r.logger.Warn("invalid version range, treating as not-found", zap.Error(err))
		return Resolved{}, kernelerr.ErrModuleNotFound
	}

	candidates, err := r.candidates(root, logicalName, lang)
	if err != nil || len(candidates) == 0 {
		r.logger.Warn(fmt.Sprintf("module %q not found under %q for language %q", logicalName, root, lang))
		return Resolved{}, kernelerr.ErrModuleNotFound
	}

	best, ok := selectBest(candidates, vrange)
	if !ok {
		r.logger.Warn(fmt.Sprintf("module %q has no version satisfying %q for language %q", logicalName, rng, lang))
		return Resolved{}, kernelerr.ErrModuleNotFound
	}
	return Resolved{FilesystemPath: best.path, ExactVersion: best.version}, nil
}

// selectBest picks the highest exact version satisfying rng; ties are
// broken by lexicographic path order.
func selectBest(candidates []candidate, rng semver.Range) (candidate, bool) {
	matching := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if rng.Satisfies(c.version) {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return candidate{}, false
	}
	sort.Slice(matching, func(i, j int) bool {
		if cmp := matching[i].version.Compare(matching[j].version); cmp != 0 {
			return cmp > 0
		}
		return matching[i].path < matching[j].path
	})
	return matching[0], true
}

func (r *Resolver) candidates(root, logicalName, lang string) ([]candidate, error) {
	cacheKey := root + "\x00" + logicalName + "\x00" + lang
	if r.cache != nil {
		if v, found := r.cache.Get(cacheKey); found {
			return v.([]candidate), nil
		}
	}

	moduleDir := filepath.Join(root, logicalName)
	found, err := scanModuleDir(moduleDir, lang)
	if err != nil {
		// Legacy/preferred layout absent: fall back to the bounded
		// recursive discovery (depth <= 3).
		found, err = recursiveDiscover(root, logicalName, lang, 3)
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Set(cacheKey, found, cache.DefaultExpiration)
	}
	return found, nil
}

// scanModuleDir implements the preferred and legacy layouts directly
// under <root>/<logicalName>.
func scanModuleDir(moduleDir, lang string) ([]candidate, error) {
	entries, err := os.ReadDir(moduleDir)
	if err != nil {
		return nil, err
	}

	entryFile := entryFiles[lang]
	var out []candidate

	// Legacy layout: <root>/<name>/index.<ext> directly, version 1.0.0.
	if entryFile != "" {
		legacy := filepath.Join(moduleDir, entryFile)
		if fileExists(legacy) {
			out = append(out, candidate{version: semver.Version{Major: 1, Minor: 0, Patch: 0}, path: moduleDir})
		}
	}

	// Preferred layout: <root>/<name>/<X.Y.Z>-<langTag>/<entry file>.
	for _, e := range entries {
		if !e.IsDir() || isHiddenOrSymlink(e) {
			continue
		}
		version, tag, ok := splitVersionDirName(e.Name())
		if !ok || tag != lang {
			continue
		}
		dirPath := filepath.Join(moduleDir, e.Name())
		if entryFile != "" && !fileExists(filepath.Join(dirPath, entryFile)) {
			continue
		}
		out = append(out, candidate{version: version, path: dirPath})
	}

	if len(out) == 0 {
		return nil, kernelerr.ErrModuleNotFound
	}
	return out, nil
}

// recursiveDiscover walks root up to maxDepth looking for a directory
// literally named logicalName. Symbolic links and hidden entries are
// skipped.
func recursiveDiscover(root, logicalName, lang string, maxDepth int) ([]candidate, error) {
	var found []candidate
	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			if !e.IsDir() || isHiddenOrSymlink(e) {
				continue
			}
			full := filepath.Join(dir, e.Name())
			if e.Name() == logicalName {
				if candidates, err := scanModuleDir(full, lang); err == nil {
					found = append(found, candidates...)
				}
				continue
			}
			_ = walk(full, depth+1)
		}
		return nil
	}
	if err := walk(root, 0); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, kernelerr.ErrModuleNotFound
	}
	return found, nil
}

func isHiddenOrSymlink(e os.DirEntry) bool {
	if strings.HasPrefix(e.Name(), ".") {
		return true
	}
	info, err := e.Info()
	if err != nil {
		return true
	}
	return info.Mode()&os.ModeSymlink != 0
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// splitVersionDirName parses a "<X.Y.Z>-<langTag>" directory name.
func splitVersionDirName(name string) (semver.Version, string, bool) {
	idx := strings.LastIndex(name, "-")
	if idx < 0 {
		return semver.Version{}, "", false
	}
	versionPart, tagPart := name[:idx], name[idx+1:]
	v, err := semver.ParseVersion(versionPart)
	if err != nil {
		return semver.Version{}, "", false
	}
	return v, NormalizeLangTag(tagPart), true
}
