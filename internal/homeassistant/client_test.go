package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

// fakeHA is a scripted Home Assistant REST endpoint.
type fakeHA struct {
	mu       sync.Mutex
	requests []recordedRequest
	handlers map[string]http.HandlerFunc
}

func newFakeHA(t *testing.T, handlers map[string]http.HandlerFunc) (*fakeHA, *Client) {
	t.Helper()
	f := &fakeHA{handlers: handlers}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, NewClient(srv.URL+"/", "test-token", nil)
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	f.mu.Unlock()

	if h, ok := f.handlers[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	http.NotFound(w, r)
}

func (f *fakeHA) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func jsonHandler(v any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
}

func TestPing(t *testing.T) {
	f, c := newFakeHA(t, map[string]http.HandlerFunc{
		"GET /api/": jsonHandler(APIStatus{Message: "API running."}),
	})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	if got := f.calls()[0].Auth; got != "Bearer test-token" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestGetStates(t *testing.T) {
	_, c := newFakeHA(t, map[string]http.HandlerFunc{
		"GET /api/states": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[
				{"entity_id":"light.kitchen","state":"on","attributes":{"friendly_name":"Kitchen","brightness":255}},
				{"entity_id":"switch.fan","state":"off","attributes":{}}
			]`)
		},
	})
	states, err := c.GetStates(context.Background())
	if err != nil {
		t.Fatalf("GetStates() error: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("len(states) = %d, want 2", len(states))
	}
	if got := states[0].FriendlyName(); got != "Kitchen" {
		t.Errorf("FriendlyName() = %q, want Kitchen", got)
	}
	if got := states[1].FriendlyName(); got != "fan" {
		t.Errorf("FriendlyName() fallback = %q, want fan", got)
	}
}

func TestGetServices(t *testing.T) {
	_, c := newFakeHA(t, map[string]http.HandlerFunc{
		"GET /api/services": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"domain":"light","services":{"turn_on":{},"toggle":{},"turn_off":{}}}]`)
		},
	})
	domains, err := c.GetServices(context.Background())
	if err != nil {
		t.Fatalf("GetServices() error: %v", err)
	}
	want := []string{"toggle", "turn_off", "turn_on"}
	got := domains[0].Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestCallService(t *testing.T) {
	f, c := newFakeHA(t, map[string]http.HandlerFunc{
		"POST /api/services/light/turn_on": jsonHandler([]any{}),
	})
	err := c.CallService(context.Background(), "light", "turn_on", map[string]any{
		"entity_id":  "light.kitchen",
		"brightness": 128,
	})
	if err != nil {
		t.Fatalf("CallService() error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(f.calls()[0].Body), &body); err != nil {
		t.Fatal(err)
	}
	if body["entity_id"] != "light.kitchen" || body["brightness"] != float64(128) {
		t.Errorf("body = %v", body)
	}
}

func TestCallService_Rejected(t *testing.T) {
	_, c := newFakeHA(t, map[string]http.HandlerFunc{
		"POST /api/services/light/turn_on": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Entity not found: light.nope", http.StatusBadRequest)
		},
	})
	err := c.CallService(context.Background(), "light", "turn_on", map[string]any{"entity_id": "light.nope"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "Entity not found") {
		t.Errorf("Body = %q, want backend text", apiErr.Body)
	}
}

func TestAutomationConfig_SaveAndReload(t *testing.T) {
	f, c := newFakeHA(t, map[string]http.HandlerFunc{
		"POST /api/config/automation/config/porch_lights": jsonHandler(map[string]string{"result": "ok"}),
		"POST /api/services/automation/reload":            jsonHandler([]any{}),
	})
	ctx := context.Background()

	cfg := &AutomationConfig{
		ID:      "porch_lights",
		Alias:   "Porch lights at sunset",
		Mode:    "single",
		Trigger: json.RawMessage(`[{"platform":"sun","event":"sunset"}]`),
		Action:  json.RawMessage(`[{"service":"light.turn_on","target":{"entity_id":"light.porch"}}]`),
	}
	if err := c.SaveAutomationConfig(ctx, cfg.ID, cfg); err != nil {
		t.Fatalf("SaveAutomationConfig() error: %v", err)
	}
	if err := c.ReloadAutomations(ctx); err != nil {
		t.Fatalf("ReloadAutomations() error: %v", err)
	}

	calls := f.calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	var saved map[string]any
	if err := json.Unmarshal([]byte(calls[0].Body), &saved); err != nil {
		t.Fatal(err)
	}
	if saved["alias"] != "Porch lights at sunset" {
		t.Errorf("saved alias = %v", saved["alias"])
	}
	if _, ok := saved["condition"]; ok {
		t.Error("empty condition should be omitted")
	}
}

func TestGetAutomationConfig_PluralKeys(t *testing.T) {
	_, c := newFakeHA(t, map[string]http.HandlerFunc{
		"GET /api/config/automation/config/1700000000": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"id":"1700000000","alias":"Night","triggers":[{"trigger":"time","at":"23:00"}],"actions":[]}`)
		},
	})
	cfg, err := c.GetAutomationConfig(context.Background(), "1700000000")
	if err != nil {
		t.Fatalf("GetAutomationConfig() error: %v", err)
	}
	if string(cfg.Trigger) != `[{"trigger":"time","at":"23:00"}]` {
		t.Errorf("Trigger = %s", cfg.Trigger)
	}
	if string(cfg.Action) != `[]` {
		t.Errorf("Action = %s", cfg.Action)
	}
}

func TestGetAreaNames(t *testing.T) {
	f, c := newFakeHA(t, map[string]http.HandlerFunc{
		"POST /api/template": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `["kitchen", "living_room"]`+"\n")
		},
	})
	areas, err := c.GetAreaNames(context.Background())
	if err != nil {
		t.Fatalf("GetAreaNames() error: %v", err)
	}
	if len(areas) != 2 || areas[1] != "living_room" {
		t.Errorf("areas = %v", areas)
	}
	if !strings.Contains(f.calls()[0].Body, "areas()") {
		t.Errorf("template body = %q", f.calls()[0].Body)
	}
}

func TestGetLogbook(t *testing.T) {
	f, c := newFakeHA(t, map[string]http.HandlerFunc{
		"GET /api/logbook/2026-01-01T00:00:00Z": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `[{"when":"2026-01-01T06:00:00+00:00","name":"Kitchen","message":"turned on","entity_id":"light.kitchen","context_entity_id":"binary_sensor.motion","context_entity_id_name":"Motion"}]`)
		},
	})
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries, err := c.GetLogbook(context.Background(), start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("GetLogbook() error: %v", err)
	}
	if len(entries) != 1 || entries[0].ContextEntityIDName != "Motion" {
		t.Fatalf("entries = %+v", entries)
	}
	if q := f.calls()[0].Query; !strings.Contains(q, "end_time=2026-01-02T00%3A00%3A00Z") {
		t.Errorf("query = %q", q)
	}
}

func TestSplitEntityID(t *testing.T) {
	tests := []struct {
		in          string
		domain, obj string
		ok          bool
	}{
		{"light.kitchen", "light", "kitchen", true},
		{"sensor.a.b", "sensor", "a.b", true},
		{"nodot", "", "", false},
		{".x", "", "", false},
		{"x.", "", "", false},
	}
	for _, tc := range tests {
		d, o, ok := SplitEntityID(tc.in)
		if d != tc.domain || o != tc.obj || ok != tc.ok {
			t.Errorf("SplitEntityID(%q) = %q, %q, %v", tc.in, d, o, ok)
		}
	}
}

func TestEntityFilter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		include  []string
		exclude  []string
		entityID string
		want     bool
	}{
		{"empty filter allows all", nil, nil, "light.kitchen", true},
		{"include glob", []string{"light.*"}, nil, "light.kitchen", true},
		{"include glob no match", []string{"light.*"}, nil, "switch.fan", false},
		{"wildcard in middle", []string{"binary_sensor.*door*"}, nil, "binary_sensor.front_door", true},
		{"exclude wins", []string{"light.*"}, []string{"light.*_led"}, "light.desk_led", false},
		{"exclude only", nil, []string{"sensor.*_rssi"}, "sensor.hall_rssi", false},
		{"exclude only passthrough", nil, []string{"sensor.*_rssi"}, "sensor.hall_temp", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewEntityFilter(tt.include, tt.exclude, nil)
			if got := f.Allow(tt.entityID); got != tt.want {
				t.Errorf("Allow(%q) = %v, want %v", tt.entityID, got, tt.want)
			}
		})
	}

	var nilFilter *EntityFilter
	if !nilFilter.Allow("light.kitchen") {
		t.Error("nil filter should allow everything")
	}
}
