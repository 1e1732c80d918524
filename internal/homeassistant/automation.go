package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

// AutomationConfig is the stored definition of an automation as
// accepted by the config editor endpoint. Trigger, condition and action
// are passed through untouched.
type AutomationConfig struct {
	ID          string          `json:"id"`
	Alias       string          `json:"alias"`
	Description string          `json:"description,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	Trigger     json.RawMessage `json:"trigger,omitempty"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Action      json.RawMessage `json:"action,omitempty"`
}

// UnmarshalJSON accepts both the legacy trigger/action keys and the
// plural triggers/conditions/actions keys newer releases store.
func (a *AutomationConfig) UnmarshalJSON(data []byte) error {
	type plain AutomationConfig
	var aux struct {
		plain
		Triggers   json.RawMessage `json:"triggers"`
		Conditions json.RawMessage `json:"conditions"`
		Actions    json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*a = AutomationConfig(aux.plain)
	if len(a.Trigger) == 0 {
		a.Trigger = aux.Triggers
	}
	if len(a.Condition) == 0 {
		a.Condition = aux.Conditions
	}
	if len(a.Action) == 0 {
		a.Action = aux.Actions
	}
	return nil
}

// GetAutomationConfig fetches the stored config of the automation whose
// unique id is id.
func (c *Client) GetAutomationConfig(ctx context.Context, id string) (*AutomationConfig, error) {
	var cfg AutomationConfig
	if err := c.get(ctx, "/api/config/automation/config/"+url.PathEscape(id), &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveAutomationConfig creates or replaces the automation with unique
// id. The automation is not active until ReloadAutomations is called.
func (c *Client) SaveAutomationConfig(ctx context.Context, id string, cfg *AutomationConfig) error {
	if id == "" {
		return fmt.Errorf("automation id is required")
	}
	return c.post(ctx, "/api/config/automation/config/"+url.PathEscape(id), cfg, nil)
}

// ReloadAutomations asks Home Assistant to reload automations.yaml.
func (c *Client) ReloadAutomations(ctx context.Context) error {
	return c.post(ctx, "/api/services/automation/reload", nil, nil)
}
