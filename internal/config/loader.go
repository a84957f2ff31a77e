package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables read as configuration,
// e.g. JSBUNDLE_CACHE_BACKEND for cache.backend
const EnvPrefix = "JSBUNDLE"

var configExts = []string{"yml", "yaml", "json", "toml"}

// flagKeys maps command flags onto configuration keys
var flagKeys = map[string]string{
	"root":         "root",
	"out-dir":      "out_dir",
	"name":         "bundle_name",
	"transform":    "transforms",
	"env":          "env",
	"alias":        "aliases",
	"minify":       "minify",
	"require-maps": "source_maps_required",
	"map-mode":     "source_map_mode",
	"global-name":  "global_name",
	"timeout":      "timeout",
	"cache-dir":    "cache.dir",
	"verbose":      "verbose",
}

// Loader handles configuration loading from various sources
type Loader struct {
	// userConfigDir locates the global configuration directory
	userConfigDir func() (string, error)

	// files lists the configuration files read, lowest precedence first
	files []string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{userConfigDir: os.UserConfigDir}
}

// Files returns the configuration files read by the last load
func (l *Loader) Files() []string {
	return l.files
}

// LoadForBuild loads configuration specifically for build operations
func (l *Loader) LoadForBuild(cmd *cobra.Command, args []string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(args)
	l.bindCommandFlags(cmd)

	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	// --no-cache wins over any configured backend
	if f := cmd.Flags().Lookup("no-cache"); f != nil && f.Changed && f.Value.String() == "true" {
		cfg.Cache.Backend = BackendNone
	}

	return cfg, nil
}

// LoadForCache loads configuration for the cache maintenance commands,
// looking for a local config from the working directory
func (l *Loader) LoadForCache(cmd *cobra.Command) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()

	if cwd, err := os.Getwd(); err == nil {
		l.mergeLocal(cwd)
	}

	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.files = nil

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("root", "")
	viper.SetDefault("out_dir", DefaultOutDir)
	viper.SetDefault("bundle_name", DefaultBundleName)
	viper.SetDefault("transforms", []string{})
	viper.SetDefault("env", []string{})
	viper.SetDefault("minify", false)
	viper.SetDefault("source_maps_required", false)
	viper.SetDefault("source_map_mode", DefaultSourceMapMode)
	viper.SetDefault("aliases", []string{})
	viper.SetDefault("global_name", "")
	viper.SetDefault("timeout", DefaultTimeout.String())
	viper.SetDefault("verbose", DefaultVerbose)

	viper.SetDefault("cache.backend", DefaultCacheBackend)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.s3.bucket", "")
	viper.SetDefault("cache.s3.prefix", "")
	viper.SetDefault("cache.s3.region", "")
	viper.SetDefault("cache.s3.profile", "")
	viper.SetDefault("cache.s3.endpoint", "")

	viper.SetDefault("log.level", DefaultLogLevel)
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size", DefaultLogMaxSize)
	viper.SetDefault("log.max_backups", DefaultLogMaxBackups)
	viper.SetDefault("log.compress", false)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	base, err := l.userConfigDir()
	if err != nil || base == "" {
		return
	}

	globalDir := filepath.Join(base, "jsbundle")

	for _, ext := range configExts {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.MergeInConfig(); err == nil {
				l.files = append(l.files, globalPath)
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from project directory
func (l *Loader) loadLocalConfig(args []string) {
	if len(args) > 0 {
		absFirstFile, err := filepath.Abs(args[0])
		if err != nil {
			return // silently ignore, config.Load() will handle validation
		}

		l.mergeLocal(filepath.Dir(absFirstFile))
	}
}

// mergeLocal merges the nearest local config over what is already loaded
func (l *Loader) mergeLocal(dir string) {
	localPath := FindLocalConfig(dir)
	if localPath == "" {
		return
	}

	viper.SetConfigFile(localPath)
	if err := viper.MergeInConfig(); err == nil {
		l.files = append(l.files, localPath)
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			_ = viper.BindPFlag(key, f)
		}
	}
}
