package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/homeassistant"
)

// Source is the subset of the Home Assistant REST client the builder
// needs. *homeassistant.Client satisfies it.
type Source interface {
	GetConfig(ctx context.Context) (*homeassistant.Config, error)
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	GetServices(ctx context.Context) ([]homeassistant.ServiceDomain, error)
	GetAutomationConfig(ctx context.Context, id string) (*homeassistant.AutomationConfig, error)
	GetAreaNames(ctx context.Context) ([]string, error)
	GetLogbook(ctx context.Context, start, end time.Time) ([]homeassistant.LogbookEntry, error)
}

// AreaRegistry lists areas over the WebSocket API.
// *homeassistant.WSClient satisfies it.
type AreaRegistry interface {
	Connected() bool
	GetAreaRegistry(ctx context.Context) ([]homeassistant.Area, error)
}

// BuilderConfig tunes a Builder.
type BuilderConfig struct {
	// Lookback is the logbook window for recent activity.
	Lookback time.Duration
	// ActivityLimit caps recent activity to the most recent N events.
	ActivityLimit int
	// Filter selects entities. Nil admits all.
	Filter *homeassistant.EntityFilter
	// Areas is optional; when nil or disconnected, areas come from the
	// template endpoint.
	Areas AreaRegistry
}

// Builder assembles snapshots from Home Assistant.
type Builder struct {
	source Source
	cfg    BuilderConfig
	logger *slog.Logger
	now    func() time.Time
}

// automationFetchConcurrency bounds parallel automation config lookups.
const automationFetchConcurrency = 4

// NewBuilder creates a snapshot builder over src.
func NewBuilder(src Source, cfg BuilderConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.ActivityLimit <= 0 {
		cfg.ActivityLimit = DefaultActivityLimit
	}
	return &Builder{
		source: src,
		cfg:    cfg,
		logger: logger.With("component", "snapshot"),
		now:    time.Now,
	}
}

// Build queries Home Assistant and returns a new snapshot. Entity states
// are required; every other section degrades to empty with a warning.
func (b *Builder) Build(ctx context.Context) (*Snapshot, error) {
	start := b.now()

	states, err := b.source.GetStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("get states: %w", err)
	}

	s := &Snapshot{
		Entities: make(map[string][]Entity),
		Services: make(map[string][]string),
	}

	var automationIDs []string
	for _, st := range states {
		domain, _, ok := homeassistant.SplitEntityID(st.EntityID)
		if !ok {
			continue
		}
		switch domain {
		case "automation":
			s.Automations = append(s.Automations, Automation{
				ID:            st.EntityID,
				Name:          st.FriendlyName(),
				State:         st.State,
				LastTriggered: stringAttr(st.Attributes, "last_triggered"),
				Mode:          stringAttr(st.Attributes, "mode"),
			})
			automationIDs = append(automationIDs, stringAttr(st.Attributes, "id"))
		case "script":
			s.Scripts = append(s.Scripts, Script{
				ID:            st.EntityID,
				Name:          st.FriendlyName(),
				State:         st.State,
				LastTriggered: stringAttr(st.Attributes, "last_triggered"),
			})
		case "scene":
			s.Scenes = append(s.Scenes, Scene{
				ID:    st.EntityID,
				Name:  st.FriendlyName(),
				State: st.State,
			})
		default:
			if !b.cfg.Filter.Allow(st.EntityID) {
				continue
			}
			s.Entities[domain] = append(s.Entities[domain], Entity{
				ID:         st.EntityID,
				Name:       st.FriendlyName(),
				State:      st.State,
				Attributes: st.Attributes,
			})
		}
	}

	b.fillAutomationConfigs(ctx, s.Automations, automationIDs)

	if cfg, err := b.source.GetConfig(ctx); err != nil {
		b.logger.Warn("home assistant config unavailable", "error", err)
	} else {
		s.Config = SystemConfig{
			LocationName: cfg.LocationName,
			TimeZone:     cfg.TimeZone,
			Version:      cfg.Version,
			UnitSystem: UnitSystem{
				Temperature: cfg.UnitSystem.Temperature,
				Length:      cfg.UnitSystem.Length,
			},
		}
	}

	if domains, err := b.source.GetServices(ctx); err != nil {
		b.logger.Warn("home assistant services unavailable", "error", err)
	} else {
		for _, d := range domains {
			s.Services[d.Domain] = d.Names()
		}
	}

	s.Areas = b.areas(ctx)
	s.RecentActivity = b.activity(ctx)
	s.Summary = ComputeSummary(s)

	b.logger.Debug("snapshot built",
		"entities", s.Summary.TotalEntities,
		"automations", len(s.Automations),
		"activity", len(s.RecentActivity),
		"elapsed", b.now().Sub(start),
	)
	return s, nil
}

// fillAutomationConfigs attaches stored trigger/condition/action bodies.
// Automations defined in YAML packages have no editable config; they
// keep empty bodies.
func (b *Builder) fillAutomationConfigs(ctx context.Context, autos []Automation, ids []string) {
	sem := make(chan struct{}, automationFetchConcurrency)
	var wg sync.WaitGroup

	for i := range autos {
		if ids[i] == "" {
			continue
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			cfg, err := b.source.GetAutomationConfig(ctx, ids[i])
			if err != nil {
				b.logger.Debug("automation config unavailable", "automation", autos[i].ID, "error", err)
				return
			}
			autos[i].Trigger = cfg.Trigger
			autos[i].Condition = cfg.Condition
			autos[i].Action = cfg.Action
			if autos[i].Mode == "" {
				autos[i].Mode = cfg.Mode
			}
		}(i)
	}
	wg.Wait()
}

func (b *Builder) areas(ctx context.Context) []string {
	if reg := b.cfg.Areas; reg != nil && reg.Connected() {
		areas, err := reg.GetAreaRegistry(ctx)
		if err == nil {
			ids := make([]string, 0, len(areas))
			for _, a := range areas {
				ids = append(ids, a.AreaID)
			}
			return ids
		}
		b.logger.Debug("area registry unavailable, using template", "error", err)
	}

	ids, err := b.source.GetAreaNames(ctx)
	if err != nil {
		b.logger.Warn("areas unavailable", "error", err)
		return nil
	}
	return ids
}

func (b *Builder) activity(ctx context.Context) []ActivityEvent {
	end := b.now()
	entries, err := b.source.GetLogbook(ctx, end.Add(-b.cfg.Lookback), end)
	if err != nil {
		b.logger.Warn("logbook unavailable", "error", err)
		return nil
	}

	events := make([]ActivityEvent, 0, len(entries))
	for _, e := range entries {
		if e.EntityID != "" && !b.cfg.Filter.Allow(e.EntityID) {
			continue
		}
		events = append(events, ActivityEvent{
			EntityID:         e.EntityID,
			Name:             e.Name,
			Message:          e.Message,
			When:             e.When,
			CausedByEntityID: e.ContextEntityID,
			CauseName:        e.ContextEntityIDName,
		})
	}
	return RecentWindow(events, b.cfg.ActivityLimit)
}

func stringAttr(attrs map[string]any, key string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return ""
}
