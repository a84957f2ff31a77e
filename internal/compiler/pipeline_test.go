package compiler

import (
	"context"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
	"github.com/Norgate-AV/jsbundle/internal/cache"
	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/sourcemap"
)

// These tests run the real bundler end to end

func compileFiles(t *testing.T, c *Compiler, files map[string]string, order []string, opts bundle.Options) (*Result, error) {
	t.Helper()

	var reqFiles []bundle.File
	for _, path := range order {
		reqFiles = append(reqFiles, bundle.File{Path: path, Source: []byte(files[path])})
	}

	req, err := bundle.NewRequest(reqFiles, opts)
	require.NoError(t, err)

	return c.Compile(context.Background(), req)
}

func TestPipeline_SourceMapRoundTrip(t *testing.T) {
	for _, mode := range []bundle.SourceMapMode{bundle.SourceMapInline, bundle.SourceMapExternal} {
		t.Run(string(mode), func(t *testing.T) {
			root := t.TempDir()
			files := map[string]string{
				"entry.js":    "var lib = require('./lib/util');\nconsole.log(lib.double(21));\n",
				"lib/util.js": "exports.double = function (n) { return n * 2; };\n",
			}

			// lib/util.js is read from disk, entry.js from the request
			require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "util.js"), []byte(files["lib/util.js"]), 0o644))

			res, err := compileFiles(t, New(), files, []string{"entry.js"}, bundle.Options{
				Root:               root,
				SourceMapsRequired: true,
				SourceMapMode:      mode,
			})
			require.NoError(t, err)
			assert.Empty(t, res.Warnings)

			artifact := res.Artifact
			require.NotNil(t, artifact.Map)
			assert.True(t, artifact.ReferencesMap)
			assert.True(t, strings.HasSuffix(string(artifact.Bundle), "\n//# sourceMappingURL=bundle.js.map\n"))
			assert.Equal(t, 1, strings.Count(string(artifact.Bundle), "sourceMappingURL"))

			sm := artifact.Map
			assert.Equal(t, sourcemap.Version, sm.Version)
			assert.Equal(t, "bundle.js", sm.File)
			assert.Empty(t, sm.SourceRoot)
			require.Len(t, sm.SourcesContent, len(sm.Sources))

			// Every module appears once, relative to root, with its original text
			got := map[string]string{}
			for i, src := range sm.Sources {
				require.NotNil(t, sm.SourcesContent[i])
				got[src] = *sm.SourcesContent[i]
			}
			assert.Equal(t, files, got)
		})
	}
}

func TestPipeline_KeepsReferenceLikeStrings(t *testing.T) {
	res, err := compileFiles(t, New(), map[string]string{
		"entry.js": "module.exports = `x\n//# sourceMappingURL=keep-me\ny`;\n",
	}, []string{"entry.js"}, bundle.Options{
		Root:               t.TempDir(),
		SourceMapsRequired: true,
	})
	require.NoError(t, err)

	code := string(res.Artifact.Bundle)
	assert.Contains(t, code, "`x\n//# sourceMappingURL=keep-me\ny`")
	assert.True(t, strings.HasSuffix(code, "\n//# sourceMappingURL=bundle.js.map\n"))
	require.NotNil(t, res.Artifact.Map)
}

func TestPipeline_DependencyEdit(t *testing.T) {
	root := t.TempDir()
	lib := filepath.Join(root, "lib.js")
	require.NoError(t, os.WriteFile(lib, []byte("module.exports = 'OLD_VALUE';\n"), 0o644))

	files := map[string]string{"entry.js": "console.log(require('./lib'));\n"}
	opts := bundle.Options{Root: root}
	c := New(WithStore(cache.NewMemoryStore()))

	first, err := compileFiles(t, c, files, []string{"entry.js"}, opts)
	require.NoError(t, err)
	assert.Contains(t, string(first.Artifact.Bundle), "OLD_VALUE")
	assert.Equal(t, []string{"lib.js"}, slices.Collect(maps.Keys(first.Artifact.Inputs)),
		"only files read from disk are recorded")

	require.NoError(t, os.WriteFile(lib, []byte("module.exports = 'NEW_VALUE';\n"), 0o644))

	second, err := compileFiles(t, c, files, []string{"entry.js"}, opts)
	require.NoError(t, err)
	assert.False(t, second.CacheHit)
	assert.Contains(t, string(second.Artifact.Bundle), "NEW_VALUE")
	assert.NotContains(t, string(second.Artifact.Bundle), "OLD_VALUE")

	third, err := compileFiles(t, c, files, []string{"entry.js"}, opts)
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Contains(t, string(third.Artifact.Bundle), "NEW_VALUE")
}

func TestPipeline_MissingDependency(t *testing.T) {
	store := cache.NewMemoryStore()
	c := New(WithStore(store))

	_, err := compileFiles(t, c, map[string]string{
		"entry.js": "require('./missing');\n",
	}, []string{"entry.js"}, bundle.Options{Root: t.TempDir()})
	require.Error(t, err)

	d, ok := codes.As(err)
	require.True(t, ok)
	assert.Equal(t, codes.UnresolvedDependency, d.Kind)
	assert.Equal(t, "./missing", d.Name)
	assert.Equal(t, "entry.js", d.FilePath)

	assert.Equal(t, 0, store.Len(), "a failed compile must not write the cache")
}

func TestPipeline_DiskCacheAcrossCompilers(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, ".jsbundle-cache")
	files := map[string]string{"entry.js": "module.exports = 42;\n"}

	store, err := cache.NewDiskStore(cacheDir)
	require.NoError(t, err)

	first, err := compileFiles(t, New(WithStore(store)), files, []string{"entry.js"}, bundle.Options{Root: root})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.NoError(t, store.Close())

	// A new process sees the stored artifact
	store, err = cache.NewDiskStore(cacheDir)
	require.NoError(t, err)
	defer store.Close()

	bundler := &mockBundler{}
	second, err := compileFiles(t, New(WithStore(store), WithBundler(bundler)), files, []string{"entry.js"}, bundle.Options{Root: root})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, int32(0), bundler.calls.Load())
	assert.Equal(t, first.Artifact.Bundle, second.Artifact.Bundle)
	assert.Equal(t, first.Artifact.Map, second.Artifact.Map)
}

func TestPipeline_WrittenBundleRuns(t *testing.T) {
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node not available")
	}

	root := t.TempDir()
	res, err := compileFiles(t, New(), map[string]string{
		"entry.js": "var a = require('./a');\nconsole.log(a.name, process.env.NODE_ENV);\n",
		"a.js":     "exports.name = 'a';\n",
	}, []string{"entry.js", "a.js"}, bundle.Options{
		Root:         root,
		EnvOverrides: map[string]string{"NODE_ENV": "production"},
	})
	require.NoError(t, err)

	out := filepath.Join(root, "dist")
	written, err := WriteArtifact(out, res.Artifact)
	require.NoError(t, err)

	cmd := exec.Command("node", "--enable-source-maps", written.BundlePath)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, string(output))
	assert.Equal(t, "a production\n", string(output))

	_, err = os.Stat(written.MapPath)
	require.NoError(t, err)
}
