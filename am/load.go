package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/jobpulse/errors"
)

// ProjectConfigName is the file searched for from the working directory upwards
const ProjectConfigName = "jobpulse.toml"

var (
	loadMu        sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper
	loadedFiles   []string
	explicitFile  string
)

// SetConfigFile makes Load merge path after the standard locations, as the
// highest-precedence file. Clears any cached configuration.
func SetConfigFile(path string) {
	loadMu.Lock()
	defer loadMu.Unlock()
	explicitFile = path
	globalConfig = nil
	viperInstance = nil
	loadedFiles = nil
}

// Load reads the jobpulse configuration using Viper.
// Precedence (lowest to highest): defaults < system < user < project < env vars.
func Load() (*Config, error) {
	loadMu.Lock()
	defer loadMu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	v := initViper()

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path, on top of defaults
// and environment variables.
func LoadFromFile(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		err = errors.Wrapf(err, "failed to read config file %s", configPath)
		return nil, errors.WithHint(err, "config files are TOML, see jobpulse.example.toml")
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.WithDetail(err, "Config file: "+configPath)
	}
	return config, nil
}

// LoadedFiles returns the config files merged by the last Load call
func LoadedFiles() []string {
	loadMu.Lock()
	defer loadMu.Unlock()
	return append([]string(nil), loadedFiles...)
}

// Reset clears the cached configuration (useful for testing and reloads)
func Reset() {
	loadMu.Lock()
	defer loadMu.Unlock()
	globalConfig = nil
	viperInstance = nil
	loadedFiles = nil
	explicitFile = ""
}

func newViper() *viper.Viper {
	v := viper.New()

	// Environment variables: JOBPULSE_PULSE_WORKERS overrides pulse.workers
	v.SetEnvPrefix("JOBPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

// initViper initializes Viper with configuration sources and defaults.
// REQUIRES: loadMu held.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := newViper()
	loadedFiles = mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig walks up from the working directory looking for jobpulse.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// mergeConfigFiles merges configuration files in precedence order and returns
// the ones that were read.
func mergeConfigFiles(v *viper.Viper) []string {
	configPaths := []string{"/etc/jobpulse/config.toml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		configPaths = append(configPaths, filepath.Join(homeDir, ".jobpulse", "config.toml"))
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		configPaths = append(configPaths, projectConfig)
	}
	if explicitFile != "" {
		configPaths = append(configPaths, explicitFile)
	}

	var merged []string
	for _, configPath := range configPaths {
		if _, err := os.Stat(configPath); err != nil {
			continue
		}
		fileViper := viper.New()
		fileViper.SetConfigFile(configPath)
		fileViper.SetConfigType("toml")
		if err := fileViper.ReadInConfig(); err != nil {
			continue
		}
		if err := v.MergeConfigMap(fileViper.AllSettings()); err == nil {
			merged = append(merged, configPath)
		}
	}
	return merged
}
