package am

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/aurum/errors"
)

var globalConfig *Config
var viperInstance *viper.Viper

// ConfigSources records which file supplied each key during the last load
var ConfigSources = map[string]SourceInfo{}

// Load reads the aurum configuration using Viper
func Load() (*Config, error) {
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

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.AsFatal(err, "failed to unmarshal config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path.
// Defaults apply underneath the file; environment variables do not.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.AsFatal(err, "failed to read config file "+configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix("AURUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)

	SetDefaults(v)

	// Merge config files in precedence order: user -> project; env vars stay on top
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// findProjectConfig searches for am.toml by walking up the directory tree.
// Returns the path to the first config file found, or empty string if none found
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		amPath := filepath.Join(dir, "am.toml")
		if _, err := os.Stat(amPath); err == nil {
			return amPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// UserConfigPath returns ~/.aurum/am.toml
func UserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aurum", "am.toml")
}

// mergeConfigFiles merges configuration files in precedence order.
// Precedence (lowest to highest): defaults < user < project < env vars
func mergeConfigFiles(v *viper.Viper) {
	type candidate struct {
		path   string
		source ConfigSource
	}

	var candidates []candidate
	if userConfig := UserConfigPath(); userConfig != "" {
		candidates = append(candidates, candidate{userConfig, SourceUser})
	}
	if projectConfig := findProjectConfig(); projectConfig != "" && projectConfig != UserConfigPath() {
		candidates = append(candidates, candidate{projectConfig, SourceProject})
	}

	for _, c := range candidates {
		if _, err := os.Stat(c.path); err != nil {
			continue
		}

		tempViper := viper.New()
		tempViper.SetConfigFile(c.path)
		tempViper.SetConfigType("toml")
		if err := tempViper.ReadInConfig(); err != nil {
			continue
		}

		settings := tempViper.AllSettings()
		if err := v.MergeConfigMap(settings); err != nil {
			continue
		}
		for _, key := range flattenKeys(settings, "") {
			ConfigSources[key] = SourceInfo{Source: c.source, Path: c.path}
		}
	}
}

func flattenKeys(settings map[string]interface{}, prefix string) []string {
	var keys []string
	for k, value := range settings {
		fullKey := k
		if prefix != "" {
			fullKey = prefix + "." + k
		}
		if nested, ok := value.(map[string]interface{}); ok {
			keys = append(keys, flattenKeys(nested, fullKey)...)
			continue
		}
		keys = append(keys, fullKey)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	v := initViper()
	return v.GetString(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	v := initViper()
	return v.GetInt(key)
}
