package am

import (
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceUser        ConfigSource = "user"        // ~/.aurum/am.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // AURUM_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource // The type of config source
	Path   string       // File path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key"`
	Value      interface{}  `json:"value"`
	Source     ConfigSource `json:"source"`
	SourcePath string       `json:"source_path,omitempty"`
}

// GetConfigIntrospection lists every effective setting of the global
// configuration with the source that supplied it.
func GetConfigIntrospection() []SettingInfo {
	return Introspect(GetViper(), ConfigSources)
}

// Introspect flattens the settings of v, tagging each with its source.
// Credentials embedded in database.dsn are redacted.
func Introspect(v *viper.Viper, sources map[string]SourceInfo) []SettingInfo {
	var settings []SettingInfo
	flattenSettingsWithSources(v.AllSettings(), "", &settings, sources)
	return settings
}

func flattenSettingsWithSources(settings map[string]interface{}, prefix string, out *[]SettingInfo, sourceMap map[string]SourceInfo) {
	// Sort keys for deterministic iteration
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := settings[key]
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}

		if nestedMap, ok := value.(map[string]interface{}); ok {
			flattenSettingsWithSources(nestedMap, fullKey, out, sourceMap)
			continue
		}

		sourceInfo := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sourceMap[fullKey]; ok {
			sourceInfo = si
		}

		envKey := "AURUM_" + strings.ToUpper(strings.ReplaceAll(fullKey, ".", "_"))
		if envValue := os.Getenv(envKey); envValue != "" {
			sourceInfo = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		if fullKey == "database.dsn" {
			if s, ok := value.(string); ok {
				value = RedactDSN(s)
			}
		}

		*out = append(*out, SettingInfo{
			Key:        fullKey,
			Value:      value,
			Source:     sourceInfo.Source,
			SourcePath: sourceInfo.Path,
		})
	}
}

var passwordParam = regexp.MustCompile(`(?i)(password=)[^\s&]*`)

// RedactDSN masks the password in URL-style and key=value connection strings
func RedactDSN(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		dsn = u.Redacted()
	}
	return passwordParam.ReplaceAllString(dsn, "${1}xxxxx")
}
