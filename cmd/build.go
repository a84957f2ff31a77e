package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
	"github.com/Norgate-AV/jsbundle/internal/cache"
	"github.com/Norgate-AV/jsbundle/internal/codes"
	"github.com/Norgate-AV/jsbundle/internal/compiler"
	"github.com/Norgate-AV/jsbundle/internal/config"
	"github.com/Norgate-AV/jsbundle/internal/logging"
	"github.com/Norgate-AV/jsbundle/internal/utils"
)

var buildCmd = &cobra.Command{
	Use:          "build [files...]",
	Short:        "Bundle JavaScript files",
	Long:         `Bundle the given files and everything they require into one script plus source map.`,
	RunE:         runBuild,
	SilenceUsage: true,
}

func init() {
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("root", "", "Directory source paths are relative to (default: working directory)")
	flags.StringP("out-dir", "o", "", "Output directory for the bundle and map (default: <root>/dist)")
	flags.StringP("name", "n", "", "Bundle file name (default: bundle.js)")
	flags.StringArrayP("transform", "t", nil, "Transform to apply, repeatable ("+strings.Join(bundle.TransformNames(), ", ")+")")
	flags.StringArrayP("env", "e", nil, "process.env substitution KEY=VALUE, repeatable")
	flags.StringArrayP("alias", "a", nil, "Module alias name=target, repeatable")
	flags.Bool("minify", false, "Minify the bundle")
	flags.Bool("require-maps", false, "Fail when the source map cannot be extracted")
	flags.String("map-mode", "", "How the bundler hands over the map: inline or external")
	flags.String("global-name", "", "Expose the entry's exports as this global")
	flags.Duration("timeout", 0, "Abort a compile after this long")
	flags.Bool("no-cache", false, "Disable build cache")
	flags.String("cache-dir", "", "Cache directory (default: <root>/.jsbundle-cache)")
	flags.BoolP("verbose", "v", false, "Verbose output")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return codes.New(codes.InvalidRequest, "requires at least one file argument")
	}

	loader := config.NewLoader()
	cfg, err := loader.LoadForBuild(cmd, args)
	if err != nil {
		return codes.Wrap(codes.InvalidRequest, err, "invalid configuration")
	}

	logger, err := logging.New(cfg.Log, cfg.Verbose)
	if err != nil {
		return codes.Wrap(codes.InvalidRequest, err, "invalid configuration")
	}

	log := logger.WithFields(logging.BaseFields("build", strings.Join(loader.Files(), ",")))
	log.WithFields(logrus.Fields{
		"root":    cfg.Root,
		"out_dir": cfg.OutDir,
		"env":     utils.FormatPairs(cfg.Env),
		"aliases": utils.FormatPairs(cfg.Aliases),
		"cache":   cfg.Cache.Backend,
	}).Debug("Loaded configuration")

	files, err := readFiles(cfg.Root, args)
	if err != nil {
		return err
	}

	req, err := bundle.NewRequest(files, cfg.BundleOptions())
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.WithField(logging.FieldKind, codes.KindOf(err)).Warnf("%v, building without cache", err)
		store, closeStore = cache.Nop{}, func() {}
	}
	defer closeStore()

	c := compiler.New(
		compiler.WithStore(store),
		compiler.WithLogger(logger),
		compiler.WithTimeout(cfg.Timeout),
	)

	res, err := c.Compile(ctx, req)
	if err != nil {
		return err
	}

	written, err := compiler.WriteArtifact(cfg.OutDir, res.Artifact)
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), res, written)

	return nil
}

// readFiles reads the given files; paths under root are made relative to it
func readFiles(root string, args []string) ([]bundle.File, error) {
	files := make([]bundle.File, 0, len(args))

	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, codes.Wrap(codes.InvalidRequest, err, "failed to resolve absolute path for %s", arg)
		}

		src, err := os.ReadFile(abs)
		if err != nil {
			return nil, codes.Wrap(codes.InvalidRequest, err, "failed to read %s", arg)
		}

		path := abs
		if rel, err := filepath.Rel(root, abs); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			path = filepath.ToSlash(rel)
		}

		files = append(files, bundle.File{Path: path, Source: src})
	}

	return files, nil
}

// openStore opens the configured cache backend. Errors are CacheStoreError
// diagnostics; callers build without a cache rather than fail.
func openStore(ctx context.Context, cfg *config.Config) (cache.Store, func(), error) {
	noop := func() {}

	switch cfg.Cache.Backend {
	case config.BackendDisk:
		store, err := cache.NewDiskStore(cfg.Cache.Dir)
		if err != nil {
			return nil, noop, codes.Wrap(codes.CacheStoreError, err, "failed to open cache")
		}

		return store, func() { _ = store.Close() }, nil
	case config.BackendMemory:
		return cache.NewMemoryStore(), noop, nil
	case config.BackendS3:
		s3cfg := cfg.Cache.S3
		client, err := cache.NewS3Client(ctx, cache.S3Options{
			Bucket:   s3cfg.Bucket,
			Prefix:   s3cfg.Prefix,
			Region:   s3cfg.Region,
			Profile:  s3cfg.Profile,
			Endpoint: s3cfg.Endpoint,
		})
		if err != nil {
			return nil, noop, codes.Wrap(codes.CacheStoreError, err, "failed to open cache")
		}

		return cache.NewS3Store(client, s3cfg.Bucket, s3cfg.Prefix), noop, nil
	default:
		return cache.Nop{}, noop, nil
	}
}

func printSummary(w io.Writer, res *compiler.Result, written *compiler.Written) {
	status := "Built"
	if res.CacheHit {
		status = "Cached"
	}

	fmt.Fprintf(w, "%s %s (%s)\n", status, written.BundlePath, humanize.Bytes(uint64(len(res.Artifact.Bundle))))

	if written.MapPath != "" {
		mapJSON, _ := res.Artifact.MapJSON()
		fmt.Fprintf(w, "  map %s (%s, %d sources)\n", written.MapPath, humanize.Bytes(uint64(len(mapJSON))), len(res.Artifact.Map.Sources))
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
