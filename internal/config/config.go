// Package config loads pii-sentinel settings from defaults, a YAML file and
// PII_SENTINEL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EnvPrefix is prepended to every environment override, e.g.
// PII_SENTINEL_SERVER_PORT.
const EnvPrefix = "PII_SENTINEL"

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setDefaults(v, GetDefaults()); err != nil {
		return nil, err
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/pii-sentinel/")
	v.AddConfigPath("$HOME/.pii-sentinel/")

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

// setDefaults registers every leaf of defaults with viper so that environment
// variables can override keys the config file does not mention.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, tree map[string]any) {
	for key, value := range tree {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			walkDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

func decode(v *viper.Viper) (*Config, error) {
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("invalid max body size: %d", config.Server.MaxBodyBytes)
	}

	if _, ok := privacy.Tokens(config.Privacy.Locale); !ok {
		return fmt.Errorf("invalid locale: %s (must be one of %s)",
			config.Privacy.Locale, strings.Join(privacy.Locales(), ", "))
	}

	if len(config.Privacy.EnabledRules) == 0 {
		return errors.New("privacy.enabled_rules must list rule ids or \"all\"")
	}

	sources := config.Sources
	if !sources.Local.Enabled && !sources.Remote.Enabled && !sources.Ollama.Enabled {
		return errors.New("at least one entity source must be enabled")
	}
	if sources.Remote.Enabled && sources.Remote.URL == "" {
		return errors.New("sources.remote.url is required when the remote source is enabled")
	}
	if sources.Ollama.Enabled {
		if sources.Ollama.URL == "" || sources.Ollama.Model == "" {
			return errors.New("sources.ollama.url and sources.ollama.model are required when ollama is enabled")
		}
		if sources.Ollama.Threshold < 0 || sources.Ollama.Threshold > 1 {
			return fmt.Errorf("invalid ollama threshold: %v (must be within 0..1)", sources.Ollama.Threshold)
		}
	}
	if sources.Fallback && !(sources.Remote.Enabled && sources.Ollama.Enabled) {
		return errors.New("sources.fallback requires both remote and ollama to be enabled")
	}

	for name, d := range map[string]int64{
		"analysis.timeout":       int64(config.Analysis.Timeout),
		"sources.remote.timeout": int64(sources.Remote.Timeout),
		"sources.ollama.timeout": int64(sources.Ollama.Timeout),
		"server.read_timeout":    int64(config.Server.ReadTimeout),
		"server.write_timeout":   int64(config.Server.WriteTimeout),
		"cache.default_ttl":      int64(config.Cache.DefaultTTL),
	} {
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", name)
		}
	}

	if config.Cache.Enabled && config.Cache.Backend != "memory" && config.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", config.Cache.Backend)
	}

	if config.Audit.Enabled && config.Audit.DatabaseURL == "" {
		return errors.New("audit.database_url is required when audit is enabled")
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerMinute <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: %d/min burst %d", config.RateLimit.RequestsPerMinute, config.RateLimit.Burst)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.WebSocket.Enabled {
		if !strings.HasPrefix(config.WebSocket.Path, "/") {
			return fmt.Errorf("invalid websocket path: %q", config.WebSocket.Path)
		}
		if config.WebSocket.Username != "" && config.WebSocket.Password == "" {
			return errors.New("websocket password is required when username is set")
		}
	}

	return nil
}

// Watch starts watching the configuration file loaded by the last Load call.
// callback receives every reloaded configuration that passes validation;
// onError, when set, receives the ones that do not.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return errors.New("config: Watch called before Load")
	}
	if v.ConfigFileUsed() == "" {
		return errors.New("config: no config file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		config, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}
		callback(config)
	})
	v.WatchConfig()

	return nil
}
