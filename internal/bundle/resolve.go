package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/Norgate-AV/jsbundle/internal/codes"
)

const (
	pluginName = "jsbundle-modules"

	// entryNamespace holds the synthetic module that requires every
	// request file in order when a request has more than one file
	entryNamespace = "jsbundle-entry"
	entryPath      = "jsbundle:entry"
)

// candidateSuffixes are tried in order when a specifier has no exact match
var candidateSuffixes = []string{
	"",
	".js",
	".json",
	string(filepath.Separator) + "index.js",
	string(filepath.Separator) + "index.json",
}

// moduleTable serves request files from memory and resolves specifiers
// against them before esbuild falls back to node_modules lookup
type moduleTable struct {
	root     string
	sources  map[string]string
	order    []string
	aliases  map[string]string
	jsLoader api.Loader

	mu         sync.Mutex
	unresolved []*codes.Diagnostic
}

func newModuleTable(root string, files []File, aliases map[string]string) *moduleTable {
	t := &moduleTable{
		root:     root,
		sources:  make(map[string]string, len(files)),
		aliases:  aliases,
		jsLoader: api.LoaderJS,
	}

	for _, f := range files {
		abs := t.absolute(f.Path)
		t.sources[abs] = string(f.Source)
		t.order = append(t.order, abs)
	}

	return t
}

func (t *moduleTable) absolute(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Join(t.root, p)
}

// relative returns p relative to root, for diagnostics
func (t *moduleTable) relative(p string) string {
	rel, err := filepath.Rel(t.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(p)
	}

	return filepath.ToSlash(rel)
}

// entryPoints returns the engine entry points for the request
func (t *moduleTable) entryPoints() []string {
	if len(t.order) == 1 {
		return []string{t.order[0]}
	}

	return []string{entryPath}
}

// entrySource requires every request file in declared order and exports
// each module under its root-relative path
func (t *moduleTable) entrySource() string {
	var b strings.Builder
	b.WriteString("module.exports = {};\n")

	for _, abs := range t.order {
		fmt.Fprintf(&b, "module.exports[%s] = require(%s);\n",
			strconv.Quote(t.relative(abs)), strconv.Quote(abs))
	}

	return b.String()
}

// lookup finds a request file for p, trying the usual suffixes
func (t *moduleTable) lookup(p string) (string, bool) {
	for _, suffix := range candidateSuffixes {
		candidate := filepath.Clean(p + suffix)
		if _, ok := t.sources[candidate]; ok {
			return candidate, true
		}
	}

	return "", false
}

// lookupDisk finds an existing file for p, trying the usual suffixes
func lookupDisk(p string) (string, bool) {
	for _, suffix := range candidateSuffixes {
		candidate := filepath.Clean(p + suffix)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}

	return "", false
}

// alias maps specifier through ModuleAliases, matching exact names and
// name/subpath prefixes
func (t *moduleTable) alias(specifier string) (string, bool) {
	if target, ok := t.aliases[specifier]; ok {
		return target, true
	}

	for name, target := range t.aliases {
		if rest, ok := strings.CutPrefix(specifier, name+"/"); ok {
			return target + "/" + rest, true
		}
	}

	return "", false
}

func isPathSpecifier(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		filepath.IsAbs(filepath.FromSlash(s))
}

func (t *moduleTable) recordUnresolved(name, importer string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.unresolved = append(t.unresolved, codes.Unresolved(name, importer))
}

func (t *moduleTable) firstUnresolved() *codes.Diagnostic {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.unresolved) == 0 {
		return nil
	}

	return t.unresolved[0]
}

// resolve implements the module lookup policy:
//  1. aliases are applied first; path targets are relative to root
//  2. path specifiers resolve against the importer's directory, request
//     files before disk
//  3. bare names that match a request file at root resolve to it
//  4. anything else is left to esbuild's node_modules resolution
func (t *moduleTable) resolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	if args.Path == entryPath {
		return api.OnResolveResult{Path: entryPath, Namespace: entryNamespace}, nil
	}

	specifier := args.Path
	base := args.ResolveDir
	if base == "" {
		base = t.root
	}

	target, aliased := t.alias(specifier)
	if aliased {
		if !isPathSpecifier(target) {
			// package-to-package aliases are handled by the engine's Alias option
			return api.OnResolveResult{}, nil
		}

		specifier = target
		base = t.root
	}

	if isPathSpecifier(specifier) {
		p := filepath.FromSlash(specifier)
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}

		if found, ok := t.lookup(p); ok {
			return api.OnResolveResult{Path: found, Namespace: "file"}, nil
		}

		if aliased {
			if found, ok := lookupDisk(p); ok {
				return api.OnResolveResult{Path: found, Namespace: "file"}, nil
			}

			t.recordUnresolved(args.Path, t.importerName(args.Importer))
			return api.OnResolveResult{}, fmt.Errorf("alias %q points at missing module %q", args.Path, target)
		}

		return api.OnResolveResult{}, nil
	}

	if found, ok := t.lookup(filepath.Join(t.root, filepath.FromSlash(specifier))); ok {
		return api.OnResolveResult{Path: found, Namespace: "file"}, nil
	}

	return api.OnResolveResult{}, nil
}

func (t *moduleTable) importerName(importer string) string {
	if importer == "" || importer == entryPath {
		return ""
	}

	return t.relative(importer)
}

func (t *moduleTable) load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	src, ok := t.sources[args.Path]
	if !ok {
		// not a request file, let esbuild read it from disk
		return api.OnLoadResult{}, nil
	}

	loader := t.jsLoader
	if strings.EqualFold(filepath.Ext(args.Path), ".json") {
		loader = api.LoaderJSON
	}

	return api.OnLoadResult{
		Contents:   &src,
		ResolveDir: filepath.Dir(args.Path),
		Loader:     loader,
	}, nil
}

func (t *moduleTable) loadEntry(api.OnLoadArgs) (api.OnLoadResult, error) {
	src := t.entrySource()

	return api.OnLoadResult{
		Contents:   &src,
		ResolveDir: t.root,
		Loader:     api.LoaderJS,
	}, nil
}

func (t *moduleTable) plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `.*`}, t.resolve)
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: entryNamespace}, t.loadEntry)
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"}, t.load)
		},
	}
}
