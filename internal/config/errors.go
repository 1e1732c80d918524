package config

import (
	"strings"
)

// ConfigurationError reports required settings that are missing. It is
// raised before any network call is attempted.
type ConfigurationError struct {
	// Subject names what cannot run, e.g. "Anthropic API key".
	Subject string
	// Settings maps a diagnostic flag (hasApiKey, hasUrl, hasToken) to
	// whether the setting is present.
	Settings map[string]bool
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	var missing []string
	for _, flag := range e.flagOrder() {
		if !e.Settings[flag] {
			missing = append(missing, flag)
		}
	}
	return e.Subject + " not configured (" + strings.Join(missing, ", ") + ")"
}

func (e *ConfigurationError) flagOrder() []string {
	order := []string{"hasApiKey", "hasUrl", "hasToken"}
	var out []string
	for _, k := range order {
		if _, ok := e.Settings[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// RequireAnthropic returns a ConfigurationError when the completion
// backend cannot be called.
func (c *Config) RequireAnthropic() error {
	if c.Anthropic.Configured() {
		return nil
	}
	return &ConfigurationError{
		Subject:  "Anthropic API key",
		Settings: map[string]bool{"hasApiKey": false},
	}
}

// RequireHomeAssistant returns a ConfigurationError when Home Assistant
// cannot be reached.
func (c *Config) RequireHomeAssistant() error {
	if c.HomeAssistant.Configured() {
		return nil
	}
	return &ConfigurationError{
		Subject: "Home Assistant",
		Settings: map[string]bool{
			"hasUrl":   c.HomeAssistant.URL != "",
			"hasToken": c.HomeAssistant.Token != "",
		},
	}
}
