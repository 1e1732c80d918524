package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nugget/hearth/internal/homeassistant"
)

type fakeSource struct {
	states      []homeassistant.State
	statesErr   error
	services    []homeassistant.ServiceDomain
	configs     map[string]*homeassistant.AutomationConfig
	areaNames   []string
	logbook     []homeassistant.LogbookEntry
	logbookErr  error
	configErr   error
	mu          sync.Mutex
	logbookFrom time.Time
	logbookTo   time.Time
}

func (f *fakeSource) GetConfig(context.Context) (*homeassistant.Config, error) {
	if f.configErr != nil {
		return nil, f.configErr
	}
	cfg := &homeassistant.Config{LocationName: "Home", TimeZone: "UTC", Version: "2026.1.0"}
	cfg.UnitSystem.Temperature = "°C"
	return cfg, nil
}

func (f *fakeSource) GetStates(context.Context) ([]homeassistant.State, error) {
	return f.states, f.statesErr
}

func (f *fakeSource) GetServices(context.Context) ([]homeassistant.ServiceDomain, error) {
	return f.services, nil
}

func (f *fakeSource) GetAutomationConfig(_ context.Context, id string) (*homeassistant.AutomationConfig, error) {
	if cfg, ok := f.configs[id]; ok {
		return cfg, nil
	}
	return nil, &homeassistant.APIError{StatusCode: 404, Body: "not found"}
}

func (f *fakeSource) GetAreaNames(context.Context) ([]string, error) {
	return f.areaNames, nil
}

func (f *fakeSource) GetLogbook(_ context.Context, start, end time.Time) ([]homeassistant.LogbookEntry, error) {
	f.mu.Lock()
	f.logbookFrom, f.logbookTo = start, end
	f.mu.Unlock()
	return f.logbook, f.logbookErr
}

type fakeAreas struct {
	connected bool
	areas     []homeassistant.Area
}

func (f *fakeAreas) Connected() bool { return f.connected }

func (f *fakeAreas) GetAreaRegistry(context.Context) ([]homeassistant.Area, error) {
	return f.areas, nil
}

func state(id, st string, attrs map[string]any) homeassistant.State {
	return homeassistant.State{EntityID: id, State: st, Attributes: attrs}
}

func TestBuilder_Build(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		states: []homeassistant.State{
			state("light.kitchen", "on", map[string]any{"friendly_name": "Kitchen", "brightness": float64(255)}),
			state("light.porch", "off", map[string]any{"friendly_name": "Porch"}),
			state("switch.fan", "on", nil),
			state("sensor.hall_rssi", "-60", nil),
			state("automation.porch_at_sunset", "on", map[string]any{
				"friendly_name": "Porch at sunset", "id": "1700000000", "last_triggered": "2026-01-01T17:00:00+00:00",
			}),
			state("automation.yaml_only", "off", map[string]any{"friendly_name": "YAML only"}),
			state("script.bedtime", "off", map[string]any{"friendly_name": "Bedtime"}),
			state("scene.movie", "scening", map[string]any{"friendly_name": "Movie"}),
			state("malformed", "on", nil),
		},
		services: []homeassistant.ServiceDomain{
			{Domain: "light", Services: map[string]json.RawMessage{"turn_on": nil, "turn_off": nil}},
		},
		configs: map[string]*homeassistant.AutomationConfig{
			"1700000000": {
				ID:      "1700000000",
				Mode:    "restart",
				Trigger: json.RawMessage(`[{"platform":"sun","event":"sunset"}]`),
				Action:  json.RawMessage(`[{"service":"light.turn_on"}]`),
			},
		},
		areaNames: []string{"kitchen"},
		logbook: []homeassistant.LogbookEntry{
			{When: now.Add(-time.Hour), Name: "Porch", Message: "turned on", EntityID: "light.porch",
				ContextEntityID: "automation.porch_at_sunset", ContextEntityIDName: "Porch at sunset"},
			{When: now.Add(-30 * time.Minute), Name: "Hall RSSI", Message: "changed", EntityID: "sensor.hall_rssi"},
		},
	}

	b := NewBuilder(src, BuilderConfig{
		Lookback: 6 * time.Hour,
		Filter:   homeassistant.NewEntityFilter(nil, []string{"sensor.*_rssi"}, nil),
	}, nil)
	b.now = func() time.Time { return now }

	s, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	if _, ok := s.Entities["automation"]; ok {
		t.Error("automations should not be listed as entities")
	}
	if len(s.Entities["sensor"]) != 0 {
		t.Error("excluded sensor should be filtered")
	}
	if len(s.Entities["light"]) != 2 || s.Entities["light"][0].Name != "Kitchen" {
		t.Errorf("lights = %+v", s.Entities["light"])
	}
	if len(s.Automations) != 2 {
		t.Fatalf("automations = %d, want 2", len(s.Automations))
	}
	porch := s.Automations[0]
	if string(porch.Trigger) != `[{"platform":"sun","event":"sunset"}]` || porch.Mode != "restart" {
		t.Errorf("automation config not attached: %+v", porch)
	}
	if len(s.Automations[1].Trigger) != 0 {
		t.Error("automation without config id should keep empty bodies")
	}
	if len(s.Scripts) != 1 || len(s.Scenes) != 1 {
		t.Errorf("scripts=%d scenes=%d", len(s.Scripts), len(s.Scenes))
	}
	if got := s.Services["light"]; len(got) != 2 || got[0] != "turn_off" {
		t.Errorf("services = %v", got)
	}
	if s.Config.LocationName != "Home" || s.Config.UnitSystem.Temperature != "°C" {
		t.Errorf("config = %+v", s.Config)
	}
	if len(s.Areas) != 1 || s.Areas[0] != "kitchen" {
		t.Errorf("areas = %v", s.Areas)
	}
	if len(s.RecentActivity) != 1 || s.RecentActivity[0].CauseName != "Porch at sunset" {
		t.Errorf("activity = %+v", s.RecentActivity)
	}
	if !src.logbookFrom.Equal(now.Add(-6*time.Hour)) || !src.logbookTo.Equal(now) {
		t.Errorf("logbook window = %v..%v", src.logbookFrom, src.logbookTo)
	}

	want := Summary{
		TotalEntities: 3, LightsOn: 1, LightsTotal: 2, SwitchesOn: 1, SwitchesTotal: 1,
		AutomationsOn: 1, AutomationsTotal: 2, ScriptsTotal: 1, ScenesTotal: 1,
	}
	if s.Summary != want {
		t.Errorf("summary = %+v, want %+v", s.Summary, want)
	}
	if err := s.CheckSummary(); err != nil {
		t.Errorf("CheckSummary() = %v", err)
	}
}

func TestBuilder_StatesRequired(t *testing.T) {
	b := NewBuilder(&fakeSource{statesErr: errors.New("connection refused")}, BuilderConfig{}, nil)
	if _, err := b.Build(context.Background()); err == nil {
		t.Fatal("Build() should fail when states are unavailable")
	}
}

func TestBuilder_DegradesOptionalSections(t *testing.T) {
	src := &fakeSource{
		states:     []homeassistant.State{state("light.kitchen", "on", nil)},
		configErr:  errors.New("boom"),
		logbookErr: errors.New("boom"),
	}
	s, err := NewBuilder(src, BuilderConfig{}, nil).Build(context.Background())
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	if s.Config.LocationName != "" || len(s.RecentActivity) != 0 {
		t.Errorf("optional sections should be empty: %+v", s)
	}
	if s.Summary.LightsOn != 1 {
		t.Errorf("summary = %+v", s.Summary)
	}
}

func TestBuilder_AreasFromRegistry(t *testing.T) {
	src := &fakeSource{areaNames: []string{"from_template"}}
	reg := &fakeAreas{connected: true, areas: []homeassistant.Area{{AreaID: "office", Name: "Office"}}}

	s, err := NewBuilder(src, BuilderConfig{Areas: reg}, nil).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Areas) != 1 || s.Areas[0] != "office" {
		t.Errorf("areas = %v, want registry areas", s.Areas)
	}

	reg.connected = false
	s, err = NewBuilder(src, BuilderConfig{Areas: reg}, nil).Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Areas) != 1 || s.Areas[0] != "from_template" {
		t.Errorf("areas = %v, want template fallback", s.Areas)
	}
}

func TestBuilder_ActivityLimit(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	for i := range 150 {
		src.logbook = append(src.logbook, homeassistant.LogbookEntry{
			When: now.Add(-time.Duration(150-i) * time.Minute), EntityID: fmt.Sprintf("sensor.s%d", i),
		})
	}
	b := NewBuilder(src, BuilderConfig{}, nil)
	b.now = func() time.Time { return now }

	s, err := b.Build(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(s.RecentActivity) != DefaultActivityLimit {
		t.Fatalf("activity = %d, want %d", len(s.RecentActivity), DefaultActivityLimit)
	}
	if s.RecentActivity[0].EntityID != "sensor.s50" || s.RecentActivity[99].EntityID != "sensor.s149" {
		t.Errorf("window = %s..%s", s.RecentActivity[0].EntityID, s.RecentActivity[99].EntityID)
	}
}

func TestCheckSummary_Drift(t *testing.T) {
	s := &Snapshot{Entities: map[string][]Entity{"light": {{ID: "light.a", State: "on"}}}}
	s.Summary = ComputeSummary(s)
	if err := s.CheckSummary(); err != nil {
		t.Fatalf("consistent summary reported drift: %v", err)
	}
	s.Summary.LightsOn = 0
	if err := s.CheckSummary(); err == nil {
		t.Fatal("CheckSummary() should report drift")
	}
}
