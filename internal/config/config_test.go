package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Norgate-AV/jsbundle/internal/bundle"
)

func TestLoad(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name        string
		setupViper  func()
		check       func(t *testing.T, cfg *Config)
		wantErr     bool
		errContains string
	}{
		{
			name: "load with all defaults",
			setupViper: func() {
				viper.Reset()
				NewLoader().setupViperDefaults()
				viper.Set("root", root)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, root, cfg.Root)
				assert.Equal(t, filepath.Join(root, DefaultOutDir), cfg.OutDir)
				assert.Equal(t, DefaultBundleName, cfg.BundleName)
				assert.Equal(t, DefaultSourceMapMode, cfg.SourceMapMode)
				assert.Equal(t, DefaultTimeout, cfg.Timeout)
				assert.Equal(t, BackendDisk, cfg.Cache.Backend)
				assert.Equal(t, filepath.Join(root, ".jsbundle-cache"), cfg.Cache.Dir)
				assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
				assert.Equal(t, DefaultLogMaxSize, cfg.Log.MaxSize)
				assert.Empty(t, cfg.Env)
				assert.Empty(t, cfg.Transforms)
			},
		},
		{
			name: "load with custom values",
			setupViper: func() {
				viper.Reset()
				viper.Set("root", root)
				viper.Set("out_dir", "/tmp/out")
				viper.Set("bundle_name", "app.js")
				viper.Set("transforms", []string{"drop-console", "keep-names"})
				viper.Set("env", []string{"NODE_ENV=production", "API_URL=https://x.test/?a=b"})
				viper.Set("aliases", []any{"config=./config/prod.js", "react=preact/compat"})
				viper.Set("minify", true)
				viper.Set("source_maps_required", true)
				viper.Set("source_map_mode", "external")
				viper.Set("global_name", "app")
				viper.Set("timeout", "30s")
				viper.Set("verbose", true)
				viper.Set("cache.backend", "s3")
				viper.Set("cache.dir", "cache")
				viper.Set("cache.s3.bucket", "builds")
				viper.Set("cache.s3.endpoint", "http://localhost:9000")
				viper.Set("log.file", "/tmp/jsbundle.log")
				viper.Set("log.max_backups", 5)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/out", cfg.OutDir)
				assert.Equal(t, "app.js", cfg.BundleName)
				assert.Equal(t, []string{"drop-console", "keep-names"}, cfg.Transforms)
				assert.Equal(t, map[string]string{
					"NODE_ENV": "production",
					"API_URL":  "https://x.test/?a=b",
				}, cfg.Env)
				assert.Equal(t, map[string]string{
					"config": "./config/prod.js",
					"react":  "preact/compat",
				}, cfg.Aliases)
				assert.True(t, cfg.Minify)
				assert.True(t, cfg.SourceMapsRequired)
				assert.Equal(t, "external", cfg.SourceMapMode)
				assert.Equal(t, "app", cfg.GlobalName)
				assert.Equal(t, 30*time.Second, cfg.Timeout)
				assert.True(t, cfg.Verbose)
				assert.Equal(t, BackendS3, cfg.Cache.Backend)
				assert.Equal(t, filepath.Join(root, "cache"), cfg.Cache.Dir)
				assert.Equal(t, "builds", cfg.Cache.S3.Bucket)
				assert.Equal(t, "http://localhost:9000", cfg.Cache.S3.Endpoint)
				assert.Equal(t, "/tmp/jsbundle.log", cfg.Log.File)
				assert.Equal(t, 5, cfg.Log.MaxBackups)
			},
		},
		{
			name: "invalid source map mode",
			setupViper: func() {
				viper.Reset()
				viper.Set("source_map_mode", "hidden")
			},
			wantErr:     true,
			errContains: "invalid source map mode",
		},
		{
			name: "unknown transform",
			setupViper: func() {
				viper.Reset()
				viper.Set("transforms", []string{"uglify"})
			},
			wantErr:     true,
			errContains: "unknown transform: uglify",
		},
		{
			name: "malformed env pair",
			setupViper: func() {
				viper.Reset()
				viper.Set("env", []string{"NODE_ENV"})
			},
			wantErr:     true,
			errContains: "expected KEY=VALUE",
		},
		{
			name: "invalid timeout",
			setupViper: func() {
				viper.Reset()
				viper.Set("timeout", "soon")
			},
			wantErr:     true,
			errContains: "failed to decode configuration",
		},
		{
			name: "invalid cache backend",
			setupViper: func() {
				viper.Reset()
				viper.Set("cache.backend", "redis")
			},
			wantErr:     true,
			errContains: "invalid cache backend: redis",
		},
		{
			name: "s3 without bucket",
			setupViper: func() {
				viper.Reset()
				viper.Set("cache.backend", "s3")
			},
			wantErr:     true,
			errContains: "requires cache.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setupViper()
			t.Cleanup(viper.Reset)

			cfg, err := Load()

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}

				return
			}

			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("relative paths resolve against root", func(t *testing.T) {
		root := t.TempDir()
		cfg := &Config{
			Root:          root,
			OutDir:        "build",
			SourceMapMode: "inline",
			Cache:         CacheConfig{Backend: BackendMemory, Dir: ".cache"},
		}

		require.NoError(t, cfg.Validate())
		assert.Equal(t, filepath.Join(root, "build"), cfg.OutDir)
		assert.Equal(t, filepath.Join(root, ".cache"), cfg.Cache.Dir)
	})

	t.Run("empty root is the working directory", func(t *testing.T) {
		cfg := &Config{SourceMapMode: "inline", Cache: CacheConfig{Backend: BackendNone}}

		require.NoError(t, cfg.Validate())

		cwd, err := filepath.Abs(".")
		require.NoError(t, err)
		assert.Equal(t, cwd, cfg.Root)
	})

	t.Run("negative timeout", func(t *testing.T) {
		cfg := &Config{SourceMapMode: "inline", Timeout: -time.Second, Cache: CacheConfig{Backend: BackendNone}}

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid timeout")
	})
}

func TestConfig_BundleOptions(t *testing.T) {
	cfg := &Config{
		Root:               "/src",
		BundleName:         "app.js",
		Transforms:         []string{"jsx"},
		Env:                map[string]string{"NODE_ENV": "production"},
		Aliases:            map[string]string{"config": "./config/prod.js"},
		Minify:             true,
		SourceMapsRequired: true,
		SourceMapMode:      "external",
		GlobalName:         "app",
	}

	opts := cfg.BundleOptions()

	assert.Equal(t, bundle.Options{
		Transforms:         []string{"jsx"},
		EnvOverrides:       map[string]string{"NODE_ENV": "production"},
		Minify:             true,
		SourceMapsRequired: true,
		ModuleAliases:      map[string]string{"config": "./config/prod.js"},
		Root:               "/src",
		BundleName:         "app.js",
		SourceMapMode:      bundle.SourceMapExternal,
		GlobalName:         "app",
	}, opts)

	// The options do not share the transform slice
	opts.Transforms[0] = "keep-names"
	assert.Equal(t, "jsx", cfg.Transforms[0])
}

func TestPairsHookFunc(t *testing.T) {
	type target struct {
		Env map[string]string `mapstructure:"env"`
	}

	tests := []struct {
		name  string
		input any
		want  map[string]string
	}{
		{name: "string list", input: []string{"A=1"}, want: map[string]string{"A": "1"}},
		{name: "any list", input: []any{"A=1", "B=2"}, want: map[string]string{"A": "1", "B": "2"}},
		{name: "single string", input: "A=1", want: map[string]string{"A": "1"}},
		{name: "empty string", input: "", want: map[string]string{}},
		{name: "map passes through", input: map[string]any{"a": "1"}, want: map[string]string{"a": "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			t.Cleanup(viper.Reset)
			viper.Set("env", tt.input)

			var got target
			require.NoError(t, viper.Unmarshal(&got, viper.DecodeHook(PairsHookFunc())))
			assert.Equal(t, tt.want, got.Env)
		})
	}
}
