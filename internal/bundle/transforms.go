package bundle

import (
	"maps"
	"slices"

	"github.com/evanw/esbuild/pkg/api"
)

// transformFunc adjusts the engine options before a build
type transformFunc func(opts *api.BuildOptions, mods *moduleTable)

var transforms = map[string]transformFunc{
	// Environment substitution always runs; the name is accepted so
	// configurations written for the older pipeline keep working.
	"envify": func(*api.BuildOptions, *moduleTable) {},

	"drop-console": func(opts *api.BuildOptions, _ *moduleTable) {
		opts.Drop |= api.DropConsole
	},

	"drop-debugger": func(opts *api.BuildOptions, _ *moduleTable) {
		opts.Drop |= api.DropDebugger
	},

	"jsx": func(opts *api.BuildOptions, mods *moduleTable) {
		if opts.Loader == nil {
			opts.Loader = map[string]api.Loader{}
		}
		opts.Loader[".js"] = api.LoaderJSX
		mods.jsLoader = api.LoaderJSX
	},

	"keep-names": func(opts *api.BuildOptions, _ *moduleTable) {
		opts.KeepNames = true
	},

	"legal-comments-none": func(opts *api.BuildOptions, _ *moduleTable) {
		opts.LegalComments = api.LegalCommentsNone
	},
}

// KnownTransform reports whether name is a registered transform
func KnownTransform(name string) bool {
	_, ok := transforms[name]
	return ok
}

// TransformNames returns the registered transform names, sorted
func TransformNames() []string {
	return slices.Sorted(maps.Keys(transforms))
}

func applyTransforms(names []string, opts *api.BuildOptions, mods *moduleTable) {
	for _, name := range names {
		if fn, ok := transforms[name]; ok {
			fn(opts, mods)
		}
	}
}
