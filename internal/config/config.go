package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"slices"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
	"github.com/Norgate-AV/jsbundle/internal/cache"
	"github.com/Norgate-AV/jsbundle/internal/utils"
)

// Default configuration values
const (
	DefaultOutDir        = "dist"
	DefaultBundleName    = bundle.DefaultBundleName
	DefaultSourceMapMode = string(bundle.SourceMapInline)
	DefaultTimeout       = 2 * time.Minute
	DefaultCacheBackend  = BackendDisk
	DefaultLogLevel      = "info"
	DefaultLogMaxSize    = 10
	DefaultLogMaxBackups = 3
	DefaultVerbose       = false
)

// Cache backends
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendS3     = "s3"
	BackendNone   = "none"
)

var backends = []string{BackendDisk, BackendMemory, BackendS3, BackendNone}

// Holds the configuration options for jsbundle
type Config struct {
	// Directory source paths are relative to
	Root string `mapstructure:"root"`

	// Directory the bundle and map are written to
	OutDir string `mapstructure:"out_dir"`

	// Bundle file name; the map is written next to it with ".map" appended
	BundleName string `mapstructure:"bundle_name"`

	// Named transforms, applied in order
	Transforms []string `mapstructure:"transforms"`

	// process.env substitutions, given as KEY=VALUE entries
	Env map[string]string `mapstructure:"env"`

	Minify bool `mapstructure:"minify"`

	// Fail the build when the source map cannot be extracted
	SourceMapsRequired bool `mapstructure:"source_maps_required"`

	// inline or external
	SourceMapMode string `mapstructure:"source_map_mode"`

	// Module aliases, given as name=target entries
	Aliases map[string]string `mapstructure:"aliases"`

	// Optional global exposing the entry's exports
	GlobalName string `mapstructure:"global_name"`

	// Upper bound on a single compile, 0 disables it
	Timeout time.Duration `mapstructure:"timeout"`

	// Enable verbose output
	Verbose bool `mapstructure:"verbose"`

	Cache CacheConfig `mapstructure:"cache"`
	Log   LogConfig   `mapstructure:"log"`
}

// CacheConfig selects where compiled bundles are kept
type CacheConfig struct {
	Backend string   `mapstructure:"backend"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

// S3Config configures the s3 cache backend
type S3Config struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Profile  string `mapstructure:"profile"`
	Endpoint string `mapstructure:"endpoint"`
}

// LogConfig configures the logger
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		PairsHookFunc(),
	)

	if err := viper.Unmarshal(cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Apply defaults if not set
	if cfg.BundleName == "" {
		cfg.BundleName = DefaultBundleName
	}

	if cfg.SourceMapMode == "" {
		cfg.SourceMapMode = DefaultSourceMapMode
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = DefaultCacheBackend
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Root == "" {
		c.Root = "."
	}

	abs, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("invalid root path: %v", err)
	}
	c.Root = abs

	// Resolve output directory
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}

	if !filepath.IsAbs(c.OutDir) {
		c.OutDir = filepath.Join(c.Root, c.OutDir)
	}

	if c.SourceMapMode != string(bundle.SourceMapInline) && c.SourceMapMode != string(bundle.SourceMapExternal) {
		return fmt.Errorf("invalid source map mode: %s", c.SourceMapMode)
	}

	for _, name := range c.Transforms {
		if !bundle.KnownTransform(name) {
			return fmt.Errorf("unknown transform: %s", name)
		}
	}

	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout: %s", c.Timeout)
	}

	// Validate cache
	if !slices.Contains(backends, c.Cache.Backend) {
		return fmt.Errorf("invalid cache backend: %s", c.Cache.Backend)
	}

	if c.Cache.Backend == BackendS3 && c.Cache.S3.Bucket == "" {
		return fmt.Errorf("cache backend s3 requires cache.s3.bucket")
	}

	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(c.Root, cache.DefaultCacheDir)
	} else if !filepath.IsAbs(c.Cache.Dir) {
		c.Cache.Dir = filepath.Join(c.Root, c.Cache.Dir)
	}

	return nil
}

// BundleOptions returns the compile options described by the configuration
func (c *Config) BundleOptions() bundle.Options {
	return bundle.Options{
		Transforms:         slices.Clone(c.Transforms),
		EnvOverrides:       c.Env,
		Minify:             c.Minify,
		SourceMapsRequired: c.SourceMapsRequired,
		ModuleAliases:      c.Aliases,
		Root:               c.Root,
		BundleName:         c.BundleName,
		SourceMapMode:      bundle.SourceMapMode(c.SourceMapMode),
		GlobalName:         c.GlobalName,
	}
}

// PairsHookFunc decodes KEY=VALUE lists into string maps. Viper lowercases
// map keys read from files and flags, so case-sensitive maps such as env
// names are written as lists.
func PairsHookFunc() mapstructure.DecodeHookFuncType {
	return func(_, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(map[string]string{}) {
			return data, nil
		}

		var pairs []string
		switch v := data.(type) {
		case string:
			if v == "" {
				return map[string]string{}, nil
			}
			pairs = []string{v}
		case []string:
			pairs = v
		case []any:
			for _, item := range v {
				pairs = append(pairs, fmt.Sprint(item))
			}
		default:
			return data, nil
		}

		m, err := utils.ParsePairs(pairs)
		if err != nil {
			return nil, err
		}

		if m == nil {
			m = map[string]string{}
		}

		return m, nil
	}
}
