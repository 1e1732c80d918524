// Package snapshot holds the point-in-time view of a home that the
// assistant reasons over, the builder that assembles it from Home
// Assistant, and the renderer that turns it into prompt context.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot is an immutable, per-request view of the home. It is either
// supplied by the dashboard (homeData) or built server-side.
type Snapshot struct {
	Entities       map[string][]Entity `json:"entities"`
	Automations    []Automation        `json:"automations"`
	Scripts        []Script            `json:"scripts"`
	Scenes         []Scene             `json:"scenes"`
	Areas          []string            `json:"areas"`
	Services       map[string][]string `json:"services"`
	Config         SystemConfig        `json:"config"`
	RecentActivity []ActivityEvent     `json:"recentActivity"`
	Summary        Summary             `json:"summary"`
}

// Entity is one addressable point in the home.
type Entity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Automation is a stored rule. Trigger, Condition and Action are kept
// as raw JSON and never interpreted.
type Automation struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	State         string          `json:"state"`
	LastTriggered string          `json:"lastTriggered,omitempty"`
	Mode          string          `json:"mode,omitempty"`
	Trigger       json.RawMessage `json:"trigger,omitempty"`
	Condition     json.RawMessage `json:"condition,omitempty"`
	Action        json.RawMessage `json:"action,omitempty"`
}

// Enabled reports whether the automation is switched on.
func (a Automation) Enabled() bool { return a.State == "on" }

// Script is a callable sequence of actions.
type Script struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	State         string `json:"state"`
	LastTriggered string `json:"lastTriggered,omitempty"`
}

// Scene is a stored set of entity states.
type Scene struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	State string `json:"state"`
}

// SystemConfig is display-only installation metadata.
type SystemConfig struct {
	LocationName string     `json:"locationName,omitempty"`
	TimeZone     string     `json:"timeZone,omitempty"`
	Version      string     `json:"version,omitempty"`
	UnitSystem   UnitSystem `json:"unitSystem"`
}

// UnitSystem names the installation's display units.
type UnitSystem struct {
	Temperature string `json:"temperature,omitempty"`
	Length      string `json:"length,omitempty"`
}

// ActivityEvent is one logbook entry, optionally attributed to the
// entity or automation that caused it.
type ActivityEvent struct {
	EntityID         string    `json:"entityId"`
	Name             string    `json:"name"`
	Message          string    `json:"message"`
	When             time.Time `json:"when"`
	CausedByEntityID string    `json:"causedByEntityId,omitempty"`
	CauseName        string    `json:"causeName,omitempty"`
}

// Summary holds aggregate counters derived from the snapshot.
type Summary struct {
	TotalEntities    int `json:"totalEntities"`
	LightsOn         int `json:"lightsOn"`
	LightsTotal      int `json:"lightsTotal"`
	SwitchesOn       int `json:"switchesOn"`
	SwitchesTotal    int `json:"switchesTotal"`
	AutomationsOn    int `json:"automationsOn"`
	AutomationsTotal int `json:"automationsTotal"`
	ScriptsTotal     int `json:"scriptsTotal"`
	ScenesTotal      int `json:"scenesTotal"`
}

// ComputeSummary derives the aggregate counters from s.
func ComputeSummary(s *Snapshot) Summary {
	if s == nil {
		return Summary{}
	}
	var sum Summary
	for _, list := range s.Entities {
		sum.TotalEntities += len(list)
	}
	sum.LightsTotal, sum.LightsOn = countOn(s.Entities["light"])
	sum.SwitchesTotal, sum.SwitchesOn = countOn(s.Entities["switch"])
	sum.AutomationsTotal = len(s.Automations)
	for _, a := range s.Automations {
		if a.Enabled() {
			sum.AutomationsOn++
		}
	}
	sum.ScriptsTotal = len(s.Scripts)
	sum.ScenesTotal = len(s.Scenes)
	return sum
}

func countOn(entities []Entity) (total, on int) {
	for _, e := range entities {
		if e.State == "on" {
			on++
		}
	}
	return len(entities), on
}

// CheckSummary reports whether the precomputed summary agrees with the
// entity and automation lists. The renderer never recomputes counters,
// so a drifting summary from a client is surfaced here instead.
func (s *Snapshot) CheckSummary() error {
	want := ComputeSummary(s)
	got := s.Summary
	if got == want {
		return nil
	}

	var diffs []string
	check := func(name string, g, w int) {
		if g != w {
			diffs = append(diffs, fmt.Sprintf("%s=%d (derived %d)", name, g, w))
		}
	}
	check("totalEntities", got.TotalEntities, want.TotalEntities)
	check("lightsOn", got.LightsOn, want.LightsOn)
	check("lightsTotal", got.LightsTotal, want.LightsTotal)
	check("switchesOn", got.SwitchesOn, want.SwitchesOn)
	check("switchesTotal", got.SwitchesTotal, want.SwitchesTotal)
	check("automationsOn", got.AutomationsOn, want.AutomationsOn)
	check("automationsTotal", got.AutomationsTotal, want.AutomationsTotal)
	check("scriptsTotal", got.ScriptsTotal, want.ScriptsTotal)
	check("scenesTotal", got.ScenesTotal, want.ScenesTotal)
	return fmt.Errorf("summary drift: %s", strings.Join(diffs, ", "))
}
