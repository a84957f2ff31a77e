// Package bundle turns a set of CommonJS source files into a single
// browser bundle.
//
// A Request carries the entry files (already read from disk) and the options
// that affect the output. Hash derives the content-addressed cache key for a
// request and Bundler runs the bundling engine over it.
package bundle

import (
	"maps"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/Norgate-AV/jsbundle/internal/codes"
)

// DefaultBundleName is used when Options.BundleName is empty
const DefaultBundleName = "bundle.js"

// SourceMapMode selects how the bundling engine hands back the source map
type SourceMapMode string

const (
	// SourceMapInline embeds the map in the bundle as a data URI comment
	SourceMapInline SourceMapMode = "inline"

	// SourceMapExternal emits the map as a separate output
	SourceMapExternal SourceMapMode = "external"
)

var envNamePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// File is one entry module of a request
type File struct {
	// Path as supplied by the host, relative to Options.Root or absolute
	Path string

	// Source is the raw module text
	Source []byte
}

// Options are the bundler settings that take part in the cache key
type Options struct {
	// Transforms are applied in order; see TransformNames for the known set
	Transforms []string

	// EnvOverrides replace reads of process.env.<NAME> with literal values
	EnvOverrides map[string]string

	// Minify produces a minified bundle; otherwise file boundaries are kept
	Minify bool

	// SourceMapsRequired turns a failed map extraction into a failed compile
	SourceMapsRequired bool

	// ModuleAliases maps a module name to a path or another module name
	ModuleAliases map[string]string

	// Root is the directory module lookup and source map paths are relative to
	Root string

	// BundleName is the output file name
	BundleName string

	// SourceMapMode defaults to SourceMapInline
	SourceMapMode SourceMapMode

	// GlobalName optionally exposes the entry module's exports as a global
	GlobalName string
}

func (o Options) clone() Options {
	o.Transforms = slices.Clone(o.Transforms)
	o.EnvOverrides = maps.Clone(o.EnvOverrides)
	o.ModuleAliases = maps.Clone(o.ModuleAliases)

	return o
}

// Request is an immutable compile request
type Request struct {
	files []File
	opts  Options
}

// NewRequest validates and copies its inputs into a Request
func NewRequest(files []File, opts Options) (*Request, error) {
	req := &Request{
		files: make([]File, 0, len(files)),
		opts:  opts.clone(),
	}

	for _, f := range files {
		req.files = append(req.files, File{Path: f.Path, Source: slices.Clone(f.Source)})
	}

	if req.opts.BundleName == "" {
		req.opts.BundleName = DefaultBundleName
	}

	if req.opts.SourceMapMode == "" {
		req.opts.SourceMapMode = SourceMapInline
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	return req, nil
}

// Validate checks the request is usable by Hash and Bundler
func (r *Request) Validate() error {
	if r == nil || len(r.files) == 0 {
		return codes.New(codes.InvalidRequest, "request has no files")
	}

	seen := make(map[string]bool, len(r.files))
	for i, f := range r.files {
		if strings.TrimSpace(f.Path) == "" {
			return codes.New(codes.InvalidRequest, "file %d has an empty path", i)
		}

		if seen[f.Path] {
			return &codes.Diagnostic{Kind: codes.InvalidRequest, FilePath: f.Path, Message: "duplicate file in request"}
		}

		seen[f.Path] = true
	}

	for name := range r.opts.EnvOverrides {
		if !envNamePattern.MatchString(name) {
			return codes.New(codes.InvalidRequest, "invalid environment variable name %q", name)
		}
	}

	for _, name := range r.opts.Transforms {
		if !KnownTransform(name) {
			return codes.New(codes.InvalidRequest, "unknown transform %q", name)
		}
	}

	for name, target := range r.opts.ModuleAliases {
		if name == "" || target == "" {
			return codes.New(codes.InvalidRequest, "invalid module alias %q=%q", name, target)
		}
	}

	switch r.opts.SourceMapMode {
	case SourceMapInline, SourceMapExternal:
	default:
		return codes.New(codes.InvalidRequest, "invalid source map mode %q", r.opts.SourceMapMode)
	}

	if r.opts.BundleName != path.Base(r.opts.BundleName) || strings.ContainsRune(r.opts.BundleName, '\\') {
		return codes.New(codes.InvalidRequest, "bundle name %q must be a plain file name", r.opts.BundleName)
	}

	return nil
}

// Files returns a copy of the request's files in declared order
func (r *Request) Files() []File {
	out := make([]File, len(r.files))
	for i, f := range r.files {
		out[i] = File{Path: f.Path, Source: slices.Clone(f.Source)}
	}

	return out
}

// Options returns a copy of the request's options
func (r *Request) Options() Options {
	return r.opts.clone()
}

// Paths returns the declared file paths
func (r *Request) Paths() []string {
	paths := make([]string, len(r.files))
	for i, f := range r.files {
		paths[i] = f.Path
	}

	return paths
}
