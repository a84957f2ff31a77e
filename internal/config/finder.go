package config

import (
	"os"
	"path/filepath"
)

// LocalConfigName is the base name of a project configuration file
const LocalConfigName = ".jsbundle"

// FindLocalConfig finds local config file by walking up directories
func FindLocalConfig(dir string) string {
	for {
		for _, ext := range configExts {
			path := filepath.Join(dir, LocalConfigName+"."+ext)

			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}

		dir = parent
	}

	return ""
}
