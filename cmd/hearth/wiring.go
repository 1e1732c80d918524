package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/connwatch"
	"github.com/nugget/hearth/internal/homeassistant"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/session"
	"github.com/nugget/hearth/internal/snapshot"
	"github.com/nugget/hearth/internal/tools"
	"github.com/nugget/hearth/internal/usage"
)

// homeAssistant bundles the HA clients and the snapshot builder that
// reads through them.
type homeAssistant struct {
	client  *homeassistant.Client
	ws      *homeassistant.WSClient
	builder *snapshot.Builder
}

// Close releases the WebSocket connection, if any.
func (h *homeAssistant) Close() {
	if h == nil || h.ws == nil {
		return
	}
	if err := h.ws.Close(); err != nil {
		slog.Debug("websocket close failed", "error", err)
	}
}

// connectHomeAssistant returns nil when HA is not configured. A failed
// WebSocket connection is logged and areas fall back to the REST
// template endpoint.
func connectHomeAssistant(ctx context.Context, cfg *config.Config, logger *slog.Logger) *homeAssistant {
	if !cfg.HomeAssistant.Configured() {
		logger.Warn("home assistant not configured, snapshots and tools disabled")
		return nil
	}

	ha := &homeAssistant{
		client: homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger),
	}

	bcfg := snapshot.BuilderConfig{
		Lookback:      cfg.HomeAssistant.ActivityLookback,
		ActivityLimit: cfg.Assistant.ActivityLimit,
	}
	if len(cfg.HomeAssistant.IncludeEntities) > 0 || len(cfg.HomeAssistant.ExcludeEntities) > 0 {
		bcfg.Filter = homeassistant.NewEntityFilter(cfg.HomeAssistant.IncludeEntities, cfg.HomeAssistant.ExcludeEntities, logger)
	}

	if cfg.HomeAssistant.WebSocket {
		ha.ws = homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		bcfg.Areas = ha.ws
		if err := ha.connectWS(ctx); err != nil {
			logger.Warn("home assistant websocket unavailable, using template areas", "error", err)
		}
	}

	ha.builder = snapshot.NewBuilder(ha.client, bcfg, logger)
	logger.Info("home assistant configured", "url", cfg.HomeAssistant.URL, "websocket", ha.ws != nil && ha.ws.Connected())
	return ha
}

func (h *homeAssistant) connectWS(ctx context.Context) error {
	if h.ws == nil || h.ws.Connected() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return h.ws.Connect(ctx)
}

// watch starts a reachability watcher for Home Assistant. Each recovery
// reopens the WebSocket if it dropped during the outage.
func (h *homeAssistant) watch(ctx context.Context, logger *slog.Logger) *connwatch.Watcher {
	w := connwatch.New(connwatch.Config{
		Name:  "homeassistant",
		Probe: h.client.Ping,
		OnUp: func() {
			if err := h.connectWS(ctx); err != nil {
				logger.Warn("home assistant websocket reconnect failed", "error", err)
			}
		},
		Logger: logger,
	})
	go w.Run(ctx)
	return w
}

// newEngine creates the session engine. Tools are enabled only when
// withTools is set and Home Assistant is available to execute them.
func newEngine(cfg *config.Config, ha *homeAssistant, withTools bool, logger *slog.Logger) (*session.Engine, error) {
	persona, err := loadPersona(cfg.Assistant.PersonaFile)
	if err != nil {
		return nil, err
	}

	var opts []llm.AnthropicOption
	if cfg.Anthropic.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	client := llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger, opts...)

	engine := session.NewEngine(session.Config{
		Model:         cfg.Anthropic.Model,
		MaxTokens:     cfg.Assistant.MaxTokens,
		MaxToolRounds: cfg.Assistant.MaxToolRounds,
		TurnTimeout:   cfg.Assistant.TurnTimeout,
		Confirmation:  cfg.Assistant.Confirmation,
		Persona:       persona,
		Detailed:      cfg.Assistant.Style == config.StyleDetailed,
		ActivityLimit: cfg.Assistant.ActivityLimit,
	}, client, logger)

	if withTools && ha != nil {
		registry, err := tools.NewRegistry()
		if err != nil {
			return nil, fmt.Errorf("tool registry: %w", err)
		}
		engine.EnableTools(registry, tools.NewExecutor(ha.client, logger))
	}

	logger.Info("assistant ready",
		"model", cfg.Anthropic.Model,
		"style", cfg.Assistant.Style,
		"tools", engine.ToolsEnabled(),
		"confirmation", cfg.Assistant.Confirmation,
	)
	return engine, nil
}

// loadPersona reads the optional persona override.
func loadPersona(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return string(data), nil
}

// openUsage opens the usage ledger in the data directory.
func openUsage(cfg *config.Config) (*usage.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := usage.NewStore(filepath.Join(cfg.DataDir, "usage.db"))
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}
	return store, nil
}

// mqttStats bridges build info and config to the MQTT publisher's
// [mqtt.StatsSource] interface.
type mqttStats struct {
	model string
}

func (s mqttStats) Uptime() time.Duration { return buildinfo.Uptime() }
func (s mqttStats) Version() string       { return buildinfo.Version }
func (s mqttStats) Model() string         { return s.model }
