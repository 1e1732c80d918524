// Package config handles Hearth configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Assistant styles. The style selects the prompt register and the
// default output budget of a chat turn.
const (
	StyleConcise  = "concise"
	StyleDetailed = "detailed"
)

// Confirmation modes for mutating tools.
const (
	// ConfirmStrict only executes a mutating tool when the caller's latest
	// message affirms a confirmation request from the assistant.
	ConfirmStrict = "strict"
	// ConfirmPrompt relies on the system prompt alone.
	ConfirmPrompt = "prompt"
)

// DefaultModel is the completion model used when none is configured.
const DefaultModel = "claude-sonnet-4-20250514"

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first by FindConfig.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "hearth", "config.yaml"))
	}

	paths = append(paths, "/etc/hearth/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
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

// Config holds all Hearth configuration.
type Config struct {
	Listen        ListenConfig            `yaml:"listen"`
	HomeAssistant HomeAssistantConfig     `yaml:"homeassistant"`
	Anthropic     AnthropicConfig         `yaml:"anthropic"`
	Assistant     AssistantConfig         `yaml:"assistant"`
	MQTT          MQTTConfig              `yaml:"mqtt"`
	Pricing       map[string]PricingEntry `yaml:"pricing"`
	DataDir       string                  `yaml:"data_dir"`
	LogLevel      string                  `yaml:"log_level"`
	LogFormat     string                  `yaml:"log_format"` // text or json
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
	// CORSOrigins lists browser origins allowed to call the API. Empty
	// means same-origin only.
	CORSOrigins []string `yaml:"cors_origins"`
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// WebSocket enables the WebSocket client for registry lookups. When
	// false, areas are resolved through the template endpoint.
	WebSocket bool `yaml:"websocket"`
	// ActivityLookback bounds the logbook window used for recent activity.
	ActivityLookback time.Duration `yaml:"activity_lookback"`
	// IncludeEntities and ExcludeEntities are path.Match globs that
	// select which entities enter the home context. An empty include
	// list admits every entity.
	IncludeEntities []string `yaml:"include_entities"`
	ExcludeEntities []string `yaml:"exclude_entities"`
}

// Configured reports whether both URL and token are set.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// AnthropicConfig defines completion backend settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Configured reports whether an API key is set.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// AssistantConfig tunes the chat session engine.
type AssistantConfig struct {
	Style         string        `yaml:"style"`      // concise or detailed
	MaxTokens     int           `yaml:"max_tokens"` // 0 = style default
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	TurnTimeout   time.Duration `yaml:"turn_timeout"`
	// ToolsEnabled exposes create_automation and call_service. Nil means
	// enabled whenever Home Assistant is configured.
	ToolsEnabled  *bool  `yaml:"tools_enabled"`
	Confirmation  string `yaml:"confirmation"` // strict or prompt
	ActivityLimit int    `yaml:"activity_limit"`
	PersonaFile   string `yaml:"persona_file"`
}

// MQTTConfig defines the optional MQTT connection used to publish
// assistant sensors into Home Assistant via discovery.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// PricingEntry is the USD price per million tokens for one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies environment fallbacks and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration built from defaults and environment
// variables alone. Used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()
	return cfg
}

// applyEnv fills credentials from the environment variables the
// dashboard deployment has always used, without overriding the file.
func (c *Config) applyEnv(getenv func(string) string) {
	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = getenv("ANTHROPIC_API_KEY")
	}
	if c.HomeAssistant.URL == "" {
		c.HomeAssistant.URL = getenv("HA_URL")
	}
	if c.HomeAssistant.Token == "" {
		c.HomeAssistant.Token = getenv("HA_TOKEN")
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	c.HomeAssistant.URL = strings.TrimRight(c.HomeAssistant.URL, "/")
	if c.HomeAssistant.ActivityLookback == 0 {
		c.HomeAssistant.ActivityLookback = 24 * time.Hour
	}
	if c.Anthropic.Model == "" {
		c.Anthropic.Model = DefaultModel
	}
	if c.Assistant.Style == "" {
		c.Assistant.Style = StyleConcise
	}
	if c.Assistant.MaxTokens == 0 {
		c.Assistant.MaxTokens = DefaultMaxTokens(c.Assistant.Style)
	}
	if c.Assistant.MaxToolRounds == 0 {
		c.Assistant.MaxToolRounds = 5
	}
	if c.Assistant.TurnTimeout == 0 {
		c.Assistant.TurnTimeout = 90 * time.Second
	}
	if c.Assistant.Confirmation == "" {
		c.Assistant.Confirmation = ConfirmStrict
	}
	if c.Assistant.ActivityLimit == 0 {
		c.Assistant.ActivityLimit = 100
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "hearth"
	}
	if c.MQTT.PublishIntervalSec == 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.Pricing == nil {
		c.Pricing = map[string]PricingEntry{
			"claude-opus-4-20250514":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},
			"claude-sonnet-4-20250514": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
			"claude-3-5-haiku-latest":  {InputPerMillion: 0.8, OutputPerMillion: 4.0},
		}
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

// DefaultMaxTokens returns the output budget for an assistant style.
func DefaultMaxTokens(style string) int {
	if style == StyleDetailed {
		return 4096
	}
	return 1024
}

// ToolsEnabled reports whether the mutating tools should be offered.
func (c *Config) ToolsEnabled() bool {
	if c.Assistant.ToolsEnabled != nil {
		return *c.Assistant.ToolsEnabled && c.HomeAssistant.Configured()
	}
	return c.HomeAssistant.Configured()
}

// Validate checks values that cannot be defaulted. Missing credentials
// are not an error here: they are reported per request by
// RequireAnthropic and RequireHomeAssistant.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("log_format %q invalid (expected text or json)", c.LogFormat)
	}
	switch c.Assistant.Style {
	case StyleConcise, StyleDetailed:
	default:
		return fmt.Errorf("assistant.style %q invalid (expected %s or %s)", c.Assistant.Style, StyleConcise, StyleDetailed)
	}
	switch c.Assistant.Confirmation {
	case ConfirmStrict, ConfirmPrompt:
	default:
		return fmt.Errorf("assistant.confirmation %q invalid (expected %s or %s)", c.Assistant.Confirmation, ConfirmStrict, ConfirmPrompt)
	}
	if c.Assistant.MaxToolRounds < 0 {
		return fmt.Errorf("assistant.max_tool_rounds must not be negative")
	}
	if c.Assistant.MaxTokens < 0 {
		return fmt.Errorf("assistant.max_tokens must not be negative")
	}
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.HomeAssistant.ActivityLookback > 48*time.Hour {
		return fmt.Errorf("homeassistant.activity_lookback %s exceeds 48h", c.HomeAssistant.ActivityLookback)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
