// Package config handles concierge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/voyagehq/concierge-agent/internal/mailer"
	"github.com/voyagehq/concierge-agent/internal/orchestrator"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/concierge/config.yaml,
// /etc/concierge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "concierge", "config.yaml"))
	}

	paths = append(paths, "/etc/concierge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all concierge configuration.
type Config struct {
	Listen       ListenConfig        `yaml:"listen"`
	LLM          LLMConfig           `yaml:"llm"`
	Agent        orchestrator.Config `yaml:"agent"`
	SMTP         mailer.SMTPConfig   `yaml:"smtp"`
	Stripe       StripeConfig        `yaml:"stripe"`
	MQTT         MQTTConfig          `yaml:"mqtt"`
	DataDir      string              `yaml:"data_dir"`
	SystemPrompt string              `yaml:"system_prompt"`
	LogLevel     string              `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// LLMConfig defines provider credentials and the default model. The
// default model is written "provider/model", e.g.
// "anthropic/claude-sonnet-4-20250514".
type LLMConfig struct {
	DefaultModel string         `yaml:"default_model"`
	Anthropic    ProviderConfig `yaml:"anthropic"`
	OpenAI       ProviderConfig `yaml:"openai"`
	Google       ProviderConfig `yaml:"google"`
}

// ProviderConfig holds one provider's credentials. BaseURL only applies
// to OpenAI-compatible endpoints.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// StripeConfig defines invoice-creation settings. With no key the
// invoice tool produces simulated drafts.
type StripeConfig struct {
	APIKey string `yaml:"api_key"`
}

// MQTTConfig defines the optional MQTT signal bridge.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // Default: "concierge"
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		LLM: LLMConfig{
			DefaultModel: "anthropic/claude-sonnet-4-20250514",
		},
		Agent: orchestrator.DefaultConfig(),
		MQTT: MQTTConfig{
			ClientID:    "concierged",
			TopicPrefix: "concierge",
		},
		DataDir:  "data",
		LogLevel: "info",
	}
}
