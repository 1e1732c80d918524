// Package tools declares the actions the assistant may take in the home
// and executes them against Home Assistant.
package tools

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nugget/hearth/internal/llm"
)

// Kind identifies a tool. Dispatch switches on Kind, never on names.
type Kind int

const (
	KindCreateAutomation Kind = iota + 1
	KindCallService
)

// Tool names as declared to the model.
const (
	NameCreateAutomation = "create_automation"
	NameCallService      = "call_service"
)

func (k Kind) String() string {
	switch k {
	case KindCreateAutomation:
		return NameCreateAutomation
	case KindCallService:
		return NameCallService
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Automation modes accepted by create_automation.
var automationModes = []string{"single", "restart", "queued", "parallel"}

// safeID matches identifiers that are safe to embed in a URL path.
var safeID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// CreateAutomationArgs are the typed arguments of create_automation.
type CreateAutomationArgs struct {
	ID          string          `json:"id"`
	Alias       string          `json:"alias"`
	Description string          `json:"description,omitempty"`
	Trigger     json.RawMessage `json:"trigger"`
	Condition   json.RawMessage `json:"condition,omitempty"`
	Action      json.RawMessage `json:"action"`
	Mode        string          `json:"mode,omitempty"`
}

// CallServiceArgs are the typed arguments of call_service.
type CallServiceArgs struct {
	Domain   string         `json:"domain"`
	Service  string         `json:"service"`
	EntityID string         `json:"entity_id,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Payload merges the entity id and extra data into the service call
// body. Keys in Data take precedence.
func (a *CallServiceArgs) Payload() map[string]any {
	payload := make(map[string]any, len(a.Data)+1)
	if a.EntityID != "" {
		payload["entity_id"] = a.EntityID
	}
	for k, v := range a.Data {
		payload[k] = v
	}
	return payload
}

// Invocation is a validated tool call. Exactly one of the argument
// pointers is set, matching Kind.
type Invocation struct {
	ID               string
	Kind             Kind
	CreateAutomation *CreateAutomationArgs
	CallService      *CallServiceArgs
}

// Mutating reports whether executing the invocation changes the home.
// Both current kinds do.
func (inv *Invocation) Mutating() bool {
	return inv.Kind == KindCreateAutomation || inv.Kind == KindCallService
}

// Target returns a short human-readable description of what the
// invocation acts on, for logs and metrics.
func (inv *Invocation) Target() string {
	switch inv.Kind {
	case KindCreateAutomation:
		return "automation." + inv.CreateAutomation.ID
	case KindCallService:
		a := inv.CallService
		if a.EntityID != "" {
			return a.Domain + "." + a.Service + " " + a.EntityID
		}
		return a.Domain + "." + a.Service
	}
	return ""
}

// Fingerprint is a SHA-256 digest of the kind and canonical arguments.
// Two invocations asking for the same action share a fingerprint
// regardless of their ids or JSON key order. Arguments that cannot be
// encoded are keyed by the invocation itself so they never collide
// with another call.
func (inv *Invocation) Fingerprint() string {
	canonical, err := inv.canonicalArgs()
	if err != nil {
		key := inv.ID
		if key == "" {
			key = fmt.Sprintf("%p", inv)
		}
		canonical = []byte("unencodable\x00" + key)
	}
	sum := sha256.Sum256(append([]byte(inv.Kind.String()+"\x00"), canonical...))
	return hex.EncodeToString(sum[:])
}

func (inv *Invocation) canonicalArgs() ([]byte, error) {
	var args any
	switch inv.Kind {
	case KindCreateAutomation:
		args = inv.CreateAutomation
	case KindCallService:
		args = map[string]any{
			"domain":  inv.CallService.Domain,
			"service": inv.CallService.Service,
			"payload": inv.CallService.Payload(),
		}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s arguments: %w", inv.Kind, err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode %s arguments: %w", inv.Kind, err)
	}
	return json.Marshal(generic)
}

// Subjects lists what a confirmation request must name for the
// invocation to be approved, with each subject's acceptable spellings.
// A service call names every targeted entity, or the service itself
// when it targets none. An automation is named by its id or alias.
func (inv *Invocation) Subjects() [][]string {
	switch inv.Kind {
	case KindCreateAutomation:
		a := inv.CreateAutomation
		names := []string{a.ID}
		if a.Alias != "" {
			names = append(names, a.Alias)
		}
		return [][]string{names}
	case KindCallService:
		a := inv.CallService
		var out [][]string
		for _, id := range entityIDs(a.Payload()["entity_id"]) {
			out = append(out, []string{id})
		}
		if len(out) == 0 {
			out = append(out, []string{a.Domain + "." + a.Service})
		}
		return out
	}
	return nil
}

// entityIDs flattens an entity_id value, which Home Assistant accepts
// as a string, a comma-separated string or a list.
func entityIDs(v any) []string {
	var raw []string
	switch t := v.(type) {
	case string:
		raw = strings.Split(t, ",")
	case []string:
		raw = t
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	}
	var out []string
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

type definition struct {
	kind   Kind
	tool   llm.Tool
	schema *jsonschema.Schema
}

// Registry holds the tool declarations and their compiled schemas.
type Registry struct {
	defs  map[string]*definition
	order []string
}

// NewRegistry compiles the built-in tool declarations.
func NewRegistry() (*Registry, error) {
	r := &Registry{defs: make(map[string]*definition)}
	for _, d := range builtins() {
		if err := r.register(d.kind, d.tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(kind Kind, tool llm.Tool) error {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal %s schema: %w", tool.Name, err)
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := tool.Name + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("add %s schema: %w", tool.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", tool.Name, err)
	}

	r.defs[tool.Name] = &definition{kind: kind, tool: tool, schema: schema}
	r.order = append(r.order, tool.Name)
	return nil
}

// Definitions returns the tool declarations in registration order.
func (r *Registry) Definitions() []llm.Tool {
	out := make([]llm.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.defs[name].tool)
	}
	return out
}

// Resolve validates a model tool call against its schema and returns a
// typed Invocation. Unknown tools yield *ErrToolUnavailable; invalid
// arguments yield *ArgumentError.
func (r *Registry) Resolve(call llm.ToolCall) (*Invocation, error) {
	def, ok := r.defs[call.Name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: call.Name}
	}

	args := call.Arguments
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &ArgumentError{Tool: call.Name, Problems: []string{err.Error()}}
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, &ArgumentError{Tool: call.Name, Problems: []string{err.Error()}}
	}
	if err := def.schema.Validate(instance); err != nil {
		return nil, &ArgumentError{Tool: call.Name, Problems: validationProblems(err)}
	}

	inv := &Invocation{ID: call.ID, Kind: def.kind}
	switch def.kind {
	case KindCreateAutomation:
		var a CreateAutomationArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, &ArgumentError{Tool: call.Name, Problems: []string{err.Error()}}
		}
		if a.Mode == "" {
			a.Mode = "single"
		}
		inv.CreateAutomation = &a
	case KindCallService:
		var a CallServiceArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, &ArgumentError{Tool: call.Name, Problems: []string{err.Error()}}
		}
		inv.CallService = &a
	}
	return inv, nil
}

// validationProblems flattens a schema validation error into its leaf
// messages, each prefixed with the offending instance location.
func validationProblems(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}

func builtins() []definition {
	return []definition{
		{
			kind: KindCreateAutomation,
			tool: llm.Tool{
				Name: NameCreateAutomation,
				Description: "Create or replace a Home Assistant automation and reload automations so it is live immediately. " +
					"Only call this after the user has explicitly confirmed the exact automation.",
				InputSchema: map[string]any{
					"$schema": "https://json-schema.org/draft/2020-12/schema",
					"type":    "object",
					"properties": map[string]any{
						"id": map[string]any{
							"type":        "string",
							"description": "Unique automation id: letters, digits, underscore or dash (e.g. porch_lights_sunset)",
							"pattern":     safeID.String(),
							"minLength":   1,
							"maxLength":   128,
						},
						"alias": map[string]any{
							"type":        "string",
							"description": "Human-readable automation name",
							"minLength":   1,
						},
						"description": map[string]any{
							"type": "string",
						},
						"trigger": map[string]any{
							"type":        "array",
							"description": "Home Assistant trigger list",
							"items":       map[string]any{"type": "object"},
							"minItems":    1,
						},
						"condition": map[string]any{
							"type":        "array",
							"description": "Optional Home Assistant condition list",
							"items":       map[string]any{"type": "object"},
						},
						"action": map[string]any{
							"type":        "array",
							"description": "Home Assistant action list",
							"items":       map[string]any{"type": "object"},
							"minItems":    1,
						},
						"mode": map[string]any{
							"type":        "string",
							"description": "Run mode (default single)",
							"enum":        automationModes,
						},
					},
					"required":             []string{"id", "alias", "trigger", "action"},
					"additionalProperties": false,
				},
			},
		},
		{
			kind: KindCallService,
			tool: llm.Tool{
				Name: NameCallService,
				Description: "Call a Home Assistant service to control devices, e.g. turn on a light or set a thermostat. " +
					"Only call this after the user has explicitly confirmed the action.",
				InputSchema: map[string]any{
					"$schema": "https://json-schema.org/draft/2020-12/schema",
					"type":    "object",
					"properties": map[string]any{
						"domain": map[string]any{
							"type":        "string",
							"description": "The service domain (e.g. light, switch, climate)",
							"pattern":     "^[a-z0-9_]+$",
						},
						"service": map[string]any{
							"type":        "string",
							"description": "The service to call (e.g. turn_on, turn_off, set_temperature)",
							"pattern":     "^[a-z0-9_]+$",
						},
						"entity_id": map[string]any{
							"type":        "string",
							"description": "The target entity id (e.g. light.kitchen)",
						},
						"data": map[string]any{
							"type":        "object",
							"description": "Additional service data (e.g. brightness, temperature)",
						},
					},
					"required":             []string{"domain", "service"},
					"additionalProperties": false,
				},
			},
		},
	}
}
