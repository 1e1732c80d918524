package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// DefaultActivityLimit is the number of recent activity events kept in
// the rendered context.
const DefaultActivityLimit = 100

// NoDataSentinel is rendered in place of a nil snapshot.
const NoDataSentinel = "No home data available."

const unknown = "Unknown"

// Renderer turns a Snapshot into the home context block embedded in the
// system prompt. The zero value uses DefaultActivityLimit.
type Renderer struct {
	// ActivityLimit caps Recent Activity to the most recent N events.
	ActivityLimit int
}

// Render renders s with the default renderer.
func Render(s *Snapshot) string {
	return Renderer{}.Render(s)
}

// Render returns the home context for s. Output depends only on s.
func (r Renderer) Render(s *Snapshot) string {
	if s == nil {
		return NoDataSentinel
	}

	var b strings.Builder
	loc := location(s.Config.TimeZone)

	r.writeSystem(&b, s)
	r.writeSummary(&b, s)
	r.writeEntities(&b, s)
	r.writeAutomations(&b, s)
	r.writeScripts(&b, s)
	r.writeScenes(&b, s)
	r.writeServices(&b, s)
	r.writeActivity(&b, s, loc)

	return strings.TrimRight(b.String(), "\n")
}

func (r Renderer) writeSystem(b *strings.Builder, s *Snapshot) {
	b.WriteString("## System\n")
	fmt.Fprintf(b, "Location: %s\n", orUnknown(s.Config.LocationName))
	fmt.Fprintf(b, "Time zone: %s\n", orUnknown(s.Config.TimeZone))
	fmt.Fprintf(b, "Version: %s\n", orUnknown(s.Config.Version))
	fmt.Fprintf(b, "Temperature unit: %s\n", orUnknown(s.Config.UnitSystem.Temperature))
	if len(s.Areas) > 0 {
		fmt.Fprintf(b, "Areas: %s\n", strings.Join(s.Areas, ", "))
	} else {
		b.WriteString("Areas: none\n")
	}
	b.WriteString("\n")
}

func (r Renderer) writeSummary(b *strings.Builder, s *Snapshot) {
	sum := s.Summary
	b.WriteString("## Summary\n")
	fmt.Fprintf(b, "Entities: %d\n", sum.TotalEntities)
	fmt.Fprintf(b, "Lights on: %d/%d\n", sum.LightsOn, sum.LightsTotal)
	fmt.Fprintf(b, "Switches on: %d/%d\n", sum.SwitchesOn, sum.SwitchesTotal)
	fmt.Fprintf(b, "Automations enabled: %d/%d\n", sum.AutomationsOn, sum.AutomationsTotal)
	fmt.Fprintf(b, "Scripts: %d\n", sum.ScriptsTotal)
	fmt.Fprintf(b, "Scenes: %d\n", sum.ScenesTotal)
	b.WriteString("\n")
}

func (r Renderer) writeEntities(b *strings.Builder, s *Snapshot) {
	b.WriteString("## Entities\n")
	for _, domain := range sortedKeys(s.Entities) {
		list := s.Entities[domain]
		fmt.Fprintf(b, "### %s (%d)\n", domain, len(list))
		for _, e := range list {
			fmt.Fprintf(b, "%s: %q = %s", e.ID, e.Name, orUnknown(e.State))
			if attrs := attributeSummary(domain, e.Attributes); attrs != "" {
				fmt.Fprintf(b, " (%s)", attrs)
			}
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
}

func (r Renderer) writeAutomations(b *strings.Builder, s *Snapshot) {
	fmt.Fprintf(b, "## Automations (%d)\n", len(s.Automations))
	for _, a := range s.Automations {
		fmt.Fprintf(b, "- %s: %q = %s, last triggered %s", a.ID, a.Name, orUnknown(a.State), orNever(a.LastTriggered))
		if a.Mode != "" {
			fmt.Fprintf(b, ", mode %s", a.Mode)
		}
		b.WriteString("\n")
		writeRaw(b, "trigger", a.Trigger)
		writeRaw(b, "condition", a.Condition)
		writeRaw(b, "action", a.Action)
	}
	b.WriteString("\n")
}

func (r Renderer) writeScripts(b *strings.Builder, s *Snapshot) {
	fmt.Fprintf(b, "## Scripts (%d)\n", len(s.Scripts))
	for _, sc := range s.Scripts {
		fmt.Fprintf(b, "- %s: %q = %s, last triggered %s\n", sc.ID, sc.Name, orUnknown(sc.State), orNever(sc.LastTriggered))
	}
	b.WriteString("\n")
}

func (r Renderer) writeScenes(b *strings.Builder, s *Snapshot) {
	fmt.Fprintf(b, "## Scenes (%d)\n", len(s.Scenes))
	for _, sc := range s.Scenes {
		fmt.Fprintf(b, "- %s: %q\n", sc.ID, sc.Name)
	}
	b.WriteString("\n")
}

func (r Renderer) writeServices(b *strings.Builder, s *Snapshot) {
	b.WriteString("## Services\n")
	for _, domain := range sortedKeys(s.Services) {
		fmt.Fprintf(b, "%s: %s\n", domain, strings.Join(s.Services[domain], ", "))
	}
	b.WriteString("\n")
}

func (r Renderer) writeActivity(b *strings.Builder, s *Snapshot, loc *time.Location) {
	events := RecentWindow(s.RecentActivity, r.activityLimit())
	fmt.Fprintf(b, "## Recent Activity (%d)\n", len(events))
	for _, ev := range events {
		name := ev.Name
		if name == "" {
			name = ev.EntityID
		}
		fmt.Fprintf(b, "%s %s %s", ev.When.In(loc).Format("2006-01-02 15:04:05"), name, ev.Message)
		if ev.EntityID != "" && ev.EntityID != name {
			fmt.Fprintf(b, " [%s]", ev.EntityID)
		}
		if ev.CausedByEntityID != "" || ev.CauseName != "" {
			fmt.Fprintf(b, " (caused by %s %q)", orUnknown(ev.CausedByEntityID), ev.CauseName)
		}
		b.WriteString("\n")
	}
}

func (r Renderer) activityLimit() int {
	if r.ActivityLimit > 0 {
		return r.ActivityLimit
	}
	return DefaultActivityLimit
}

// RecentWindow returns the most recent limit events in chronological
// order. The input is not modified.
func RecentWindow(events []ActivityEvent, limit int) []ActivityEvent {
	sorted := make([]ActivityEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].When.Before(sorted[j].When)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted
}

// attributeKeys is the per-domain allow-list of attributes worth
// spending context on. Domains not listed fall back to defaultKeys.
var attributeKeys = map[string][]string{
	"light":         {"brightness"},
	"climate":       {"hvac_action", "current_temperature", "temperature"},
	"water_heater":  {"current_temperature", "temperature"},
	"sensor":        {"device_class", "unit_of_measurement"},
	"binary_sensor": {"device_class"},
	"cover":         {"device_class"},
}

var defaultKeys = []string{"device_class", "unit_of_measurement"}

func attributeSummary(domain string, attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	keys, ok := attributeKeys[domain]
	if !ok {
		keys = defaultKeys
	}

	var parts []string
	for _, k := range keys {
		v, ok := attrs[k]
		if !ok || v == nil {
			continue
		}
		switch k {
		case "brightness":
			if f, ok := toFloat(v); ok {
				parts = append(parts, fmt.Sprintf("brightness: %d%%", int(math.Round(f/2.55))))
			}
		case "unit_of_measurement":
			parts = append(parts, fmt.Sprintf("unit: %v", v))
		case "current_temperature":
			parts = append(parts, fmt.Sprintf("current: %v", v))
		case "temperature":
			parts = append(parts, fmt.Sprintf("target: %v", v))
		default:
			parts = append(parts, fmt.Sprintf("%s: %v", k, v))
		}
	}
	return strings.Join(parts, ", ")
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func writeRaw(b *strings.Builder, label string, raw json.RawMessage) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		compact.Reset()
		compact.Write(trimmed)
	}
	fmt.Fprintf(b, "  %s: %s\n", label, compact.String())
}

func location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func orNever(s string) string {
	if s == "" {
		return "never"
	}
	return s
}
