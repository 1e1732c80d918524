package tools

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/nugget/hearth/internal/llm"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	return r
}

func TestRegistry_Definitions(t *testing.T) {
	defs := newTestRegistry(t).Definitions()
	if len(defs) != 2 {
		t.Fatalf("Definitions() = %d tools, want 2", len(defs))
	}
	if defs[0].Name != NameCreateAutomation || defs[1].Name != NameCallService {
		t.Errorf("names = %s, %s", defs[0].Name, defs[1].Name)
	}
	for _, d := range defs {
		if d.InputSchema["type"] != "object" {
			t.Errorf("%s schema type = %v", d.Name, d.InputSchema["type"])
		}
	}
}

func TestRegistry_ResolveCallService(t *testing.T) {
	r := newTestRegistry(t)
	inv, err := r.Resolve(llm.ToolCall{
		ID:   "toolu_1",
		Name: NameCallService,
		Arguments: map[string]any{
			"domain":    "light",
			"service":   "turn_on",
			"entity_id": "light.kitchen",
			"data":      map[string]any{"brightness": float64(128)},
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if inv.Kind != KindCallService || inv.ID != "toolu_1" || inv.CallService == nil {
		t.Fatalf("invocation = %+v", inv)
	}
	payload := inv.CallService.Payload()
	if payload["entity_id"] != "light.kitchen" || payload["brightness"] != float64(128) {
		t.Errorf("Payload() = %v", payload)
	}
	if got := inv.Target(); got != "light.turn_on light.kitchen" {
		t.Errorf("Target() = %q", got)
	}
}

func TestRegistry_ResolveCreateAutomation(t *testing.T) {
	r := newTestRegistry(t)
	inv, err := r.Resolve(llm.ToolCall{
		ID:   "toolu_2",
		Name: NameCreateAutomation,
		Arguments: map[string]any{
			"id":      "mister_hourly",
			"alias":   "Mister hourly",
			"trigger": []any{map[string]any{"platform": "time_pattern", "hours": "/1"}},
			"action":  []any{map[string]any{"service": "switch.turn_on", "target": map[string]any{"entity_id": "switch.mister"}}},
		},
	})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	a := inv.CreateAutomation
	if a == nil || a.ID != "mister_hourly" || a.Mode != "single" {
		t.Fatalf("args = %+v", a)
	}
	if string(a.Trigger) != `[{"hours":"/1","platform":"time_pattern"}]` {
		t.Errorf("Trigger = %s", a.Trigger)
	}
}

func TestRegistry_ResolveInvalid(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		call    llm.ToolCall
		wantErr string
	}{
		{
			name:    "missing required",
			call:    llm.ToolCall{Name: NameCallService, Arguments: map[string]any{"domain": "light"}},
			wantErr: "service",
		},
		{
			name:    "nil arguments",
			call:    llm.ToolCall{Name: NameCreateAutomation},
			wantErr: "missing properties",
		},
		{
			name: "unsafe automation id",
			call: llm.ToolCall{Name: NameCreateAutomation, Arguments: map[string]any{
				"id": "../../etc", "alias": "x",
				"trigger": []any{map[string]any{}}, "action": []any{map[string]any{}},
			}},
			wantErr: "/id",
		},
		{
			name: "bad mode",
			call: llm.ToolCall{Name: NameCreateAutomation, Arguments: map[string]any{
				"id": "ok", "alias": "x", "mode": "forever",
				"trigger": []any{map[string]any{}}, "action": []any{map[string]any{}},
			}},
			wantErr: "/mode",
		},
		{
			name: "trigger not array",
			call: llm.ToolCall{Name: NameCreateAutomation, Arguments: map[string]any{
				"id": "ok", "alias": "x", "trigger": "sunset", "action": []any{map[string]any{}},
			}},
			wantErr: "/trigger",
		},
		{
			name:    "unknown property",
			call:    llm.ToolCall{Name: NameCallService, Arguments: map[string]any{"domain": "light", "service": "turn_on", "entity": "x"}},
			wantErr: "entity",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.call)
			var argErr *ArgumentError
			if !errors.As(err, &argErr) {
				t.Fatalf("Resolve() error = %v, want *ArgumentError", err)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tc.wantErr)
			}
		})
	}
}

func TestRegistry_ResolveUnknownTool(t *testing.T) {
	_, err := newTestRegistry(t).Resolve(llm.ToolCall{Name: "unlock_front_door"})
	var target *ErrToolUnavailable
	if !errors.As(err, &target) || target.ToolName != "unlock_front_door" {
		t.Fatalf("Resolve() error = %v, want *ErrToolUnavailable", err)
	}
}

func TestInvocation_Fingerprint(t *testing.T) {
	r := newTestRegistry(t)
	resolve := func(id string, args map[string]any) *Invocation {
		t.Helper()
		inv, err := r.Resolve(llm.ToolCall{ID: id, Name: NameCallService, Arguments: args})
		if err != nil {
			t.Fatal(err)
		}
		return inv
	}

	a := resolve("toolu_a", map[string]any{"domain": "light", "service": "turn_on", "entity_id": "light.kitchen"})
	b := resolve("toolu_b", map[string]any{"entity_id": "light.kitchen", "service": "turn_on", "domain": "light"})
	c := resolve("toolu_c", map[string]any{"domain": "light", "service": "turn_off", "entity_id": "light.kitchen"})
	d := resolve("toolu_d", map[string]any{"domain": "light", "service": "turn_on", "data": map[string]any{"entity_id": "light.kitchen"}})

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("same action with different ids should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different services should not share a fingerprint")
	}
	if a.Fingerprint() != d.Fingerprint() {
		t.Error("entity_id in data should be equivalent to the entity_id argument")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a.Fingerprint()))
	}
}

func TestKindString(t *testing.T) {
	if KindCallService.String() != "call_service" || KindCreateAutomation.String() != "create_automation" {
		t.Error("kind names do not match tool names")
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unknown kind = %q", Kind(99).String())
	}
}

func TestErrToolUnavailable_Error(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "web_search"}
	want := `tool "web_search" is not available`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestInvocation_FingerprintUnencodable(t *testing.T) {
	nan := func(id string) *Invocation {
		return &Invocation{
			ID:   id,
			Kind: KindCallService,
			CallService: &CallServiceArgs{
				Domain: "light", Service: "turn_on", EntityID: "light.kitchen",
				Data: map[string]any{"brightness": math.NaN()},
			},
		}
	}

	a, b := nan("toolu_a"), nan("toolu_b")
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("unencodable invocations with different ids share a fingerprint")
	}
	if a.Fingerprint() != a.Fingerprint() {
		t.Error("fingerprint is not stable")
	}
	if x, y := nan(""), nan(""); x.Fingerprint() == y.Fingerprint() {
		t.Error("unencodable invocations without ids share a fingerprint")
	}

	plain := &Invocation{ID: "toolu_a", Kind: KindCallService, CallService: &CallServiceArgs{Domain: "light", Service: "turn_on"}}
	if plain.Fingerprint() == a.Fingerprint() {
		t.Error("unencodable invocation collides with an encodable one")
	}
}

func TestInvocation_Subjects(t *testing.T) {
	tests := []struct {
		name string
		inv  *Invocation
		want [][]string
	}{
		{
			name: "single entity",
			inv:  &Invocation{Kind: KindCallService, CallService: &CallServiceArgs{Domain: "light", Service: "turn_on", EntityID: "light.kitchen"}},
			want: [][]string{{"light.kitchen"}},
		},
		{
			name: "entity list in data",
			inv: &Invocation{Kind: KindCallService, CallService: &CallServiceArgs{
				Domain: "light", Service: "turn_off",
				Data: map[string]any{"entity_id": []any{"light.porch", " light.hall "}},
			}},
			want: [][]string{{"light.porch"}, {"light.hall"}},
		},
		{
			name: "comma separated",
			inv:  &Invocation{Kind: KindCallService, CallService: &CallServiceArgs{Domain: "switch", Service: "toggle", EntityID: "switch.a, switch.b"}},
			want: [][]string{{"switch.a"}, {"switch.b"}},
		},
		{
			name: "no entity",
			inv:  &Invocation{Kind: KindCallService, CallService: &CallServiceArgs{Domain: "homeassistant", Service: "restart"}},
			want: [][]string{{"homeassistant.restart"}},
		},
		{
			name: "automation",
			inv:  &Invocation{Kind: KindCreateAutomation, CreateAutomation: &CreateAutomationArgs{ID: "porch_dusk", Alias: "Porch light at dusk"}},
			want: [][]string{{"porch_dusk", "Porch light at dusk"}},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.inv.Subjects(); !reflect.DeepEqual(got, tc.want) {
				t.Errorf("Subjects() = %q, want %q", got, tc.want)
			}
		})
	}
}
