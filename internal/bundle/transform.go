package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/opencontainers/go-digest"

	"github.com/Norgate-AV/jsbundle/internal/codes"
)

var unresolvedPattern = regexp.MustCompile(`^Could not resolve ("(?:[^"\\]|\\.)*")`)

// Output is the raw result of a bundle
type Output struct {
	// Code is the bundle; in inline mode it ends with a data URI map comment
	Code []byte

	// Map is the separately emitted source map, nil in inline mode
	Map []byte

	// Inputs are the files read from disk rather than from the request,
	// keyed by root-relative path, with the digest of what was read
	Inputs map[string]digest.Digest

	// Warnings are non-fatal engine messages
	Warnings []string
}

// Bundler runs the bundling engine over a request
type Bundler struct{}

// NewBundler creates a new bundler
func NewBundler() *Bundler {
	return &Bundler{}
}

// Bundle builds the dependency closure of the request's files into one
// self-executing bundle. A done context cancels the build and returns a
// Timeout diagnostic.
func (b *Bundler) Bundle(ctx context.Context, req *Request) (*Output, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, codes.Wrap(codes.Timeout, err, "bundle aborted before start")
	}

	opts, mods, err := buildOptions(req)
	if err != nil {
		return nil, err
	}

	bctx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return nil, translateMessages(ctxErr.Errors, mods)
	}
	defer bctx.Dispose()

	done := make(chan api.BuildResult, 1)
	go func() {
		done <- bctx.Rebuild()
	}()

	var result api.BuildResult
	select {
	case result = <-done:
	case <-ctx.Done():
		bctx.Cancel()
		return nil, codes.Wrap(codes.Timeout, ctx.Err(), "bundle aborted")
	}

	if len(result.Errors) > 0 {
		return nil, translateMessages(result.Errors, mods)
	}

	out, err := collectOutput(result, opts.Outfile)
	if err != nil {
		return nil, err
	}

	out.Inputs = diskInputs(result.Metafile, mods)

	return out, nil
}

// buildOptions maps a request onto engine options
func buildOptions(req *Request) (api.BuildOptions, *moduleTable, error) {
	o := req.opts

	root, err := resolveRoot(o.Root)
	if err != nil {
		return api.BuildOptions{}, nil, err
	}

	mods := newModuleTable(root, req.files, o.ModuleAliases)

	opts := api.BuildOptions{
		EntryPoints:    mods.entryPoints(),
		Bundle:         true,
		Write:          false,
		Format:         api.FormatIIFE,
		Platform:       api.PlatformBrowser,
		GlobalName:     o.GlobalName,
		Outfile:        filepath.Join(root, o.BundleName),
		AbsWorkingDir:  root,
		LogLevel:       api.LogLevelSilent,
		Charset:        api.CharsetUTF8,
		SourcesContent: api.SourcesContentInclude,
		Metafile:       true,
		Define:         defines(o.EnvOverrides),
		Alias:          packageAliases(o.ModuleAliases),
		Plugins:        []api.Plugin{mods.plugin()},
	}

	switch o.SourceMapMode {
	case SourceMapExternal:
		opts.Sourcemap = api.SourceMapExternal
	default:
		opts.Sourcemap = api.SourceMapInline
	}

	if o.Minify {
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
	}

	applyTransforms(o.Transforms, &opts, mods)

	return opts, mods, nil
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}

		return cwd, nil
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return "", codes.Wrap(codes.InvalidRequest, err, "invalid root %q", root)
	}

	return abs, nil
}

// defines substitutes process.env.<NAME> reads with JSON string literals
func defines(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}

	out := make(map[string]string, len(env))
	for name, value := range env {
		literal, _ := json.Marshal(value)
		out["process.env."+name] = string(literal)
	}

	return out
}

// packageAliases returns the aliases whose target is another package name
func packageAliases(aliases map[string]string) map[string]string {
	var out map[string]string
	for name, target := range aliases {
		if isPathSpecifier(name) || isPathSpecifier(target) {
			continue
		}

		if out == nil {
			out = make(map[string]string)
		}
		out[name] = target
	}

	return out
}

func collectOutput(result api.BuildResult, outfile string) (*Output, error) {
	out := &Output{}

	for _, f := range result.OutputFiles {
		switch {
		case strings.HasSuffix(f.Path, ".map"):
			out.Map = f.Contents
		case f.Path == outfile || out.Code == nil:
			out.Code = f.Contents
		}
	}

	if out.Code == nil {
		return nil, codes.New(codes.CompileError, "bundler produced no output")
	}

	for _, w := range result.Warnings {
		out.Warnings = append(out.Warnings, formatMessage(w))
	}

	return out, nil
}

// translateMessages maps the first engine error onto the diagnostic taxonomy
func translateMessages(msgs []api.Message, mods *moduleTable) error {
	if d := mods.firstUnresolved(); d != nil {
		return d
	}

	if len(msgs) == 0 {
		return codes.New(codes.CompileError, "bundle failed")
	}

	first := msgs[0]
	file, line := "", 0
	if first.Location != nil {
		file = first.Location.File
		line = first.Location.Line
	}

	if m := unresolvedPattern.FindStringSubmatch(first.Text); m != nil {
		name, err := strconv.Unquote(m[1])
		if err != nil {
			name = strings.Trim(m[1], `"`)
		}

		return codes.Unresolved(name, file)
	}

	return codes.Compile(file, first.Text, line)
}

func formatMessage(m api.Message) string {
	if m.Location == nil {
		return m.Text
	}

	return fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
}
