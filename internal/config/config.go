// Package config holds the viper-backed configuration singleton for the era
// CLI. Configuration precedence: environment variables (ERA_*) over the
// config file over defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	// Explicitly locate config.yaml with SetConfigFile.
	// Precedence: project .era/config.yaml > ~/.config/era/config.yaml > ~/.era/config.yaml
	configFileSet := false

	// 1. Walk up from CWD to find the project .era/config.yaml, so commands
	//    work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".era", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. User config directory (~/.config/era/config.yaml)
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "era", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 3. Home directory (~/.era/config.yaml)
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".era", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Automatic environment variable binding; env vars take precedence over
	// the config file. E.g. ERA_DB, ERA_JSON, ERA_LOG_FILE.
	v.SetEnvPrefix("ERA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("lock-timeout", "30s")

	// Logging defaults
	v.SetDefault("log.file", "")
	v.SetDefault("log.max-size-mb", 10)
	v.SetDefault("log.max-backups", 3)

	// Merge defaults
	v.SetDefault("merge.default-mode", "MERGE_ENTITY_UPSERT")

	// Explain (AI summaries) defaults
	v.SetDefault("explain.model", "")
	v.SetDefault("explain.api-key", "")

	// Watch mode defaults
	v.SetDefault("watch.debounce", "2s")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath resolves the database file path: --db flag value (already
// Set), config, then the nearest .era/era.db walking up from cwd, then
// ./.era/era.db.
func DatabasePath() string {
	if p := GetString("db"); p != "" {
		return p
	}
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			candidate := filepath.Join(dir, ".era", "era.db")
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return filepath.Join(".era", "era.db")
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set sets a configuration value (used for flag overrides)
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}
