package api

import (
	"context"
	"net/http"
	"time"

	"github.com/nugget/hearth/internal/buildinfo"
	"github.com/nugget/hearth/internal/usage"
)

type healthComponent struct {
	Configured bool   `json:"configured"`
	Reachable  *bool  `json:"reachable,omitempty"`
	Error      string `json:"error,omitempty"`
}

type healthResponse struct {
	Status        string          `json:"status"`
	Version       string          `json:"version"`
	Uptime        string          `json:"uptime"`
	HomeAssistant healthComponent `json:"homeassistant"`
	Anthropic     healthComponent `json:"anthropic"`
	ToolsEnabled  bool            `json:"tools_enabled"`
}

// handleHealth reports configuration and Home Assistant reachability,
// from the watcher when one has probed and otherwise from a live ping.
// It always answers 200 so dashboards can show partial setups; status
// is "degraded" when something is missing or unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       buildinfo.Version,
		Uptime:        buildinfo.Uptime().Round(time.Second).String(),
		HomeAssistant: healthComponent{Configured: s.cfg.HomeAssistant.Configured()},
		Anthropic:     healthComponent{Configured: s.cfg.Anthropic.Configured()},
		ToolsEnabled:  s.cfg.ToolsEnabled(),
	}

	switch down, st := s.homeDown(); {
	case !resp.HomeAssistant.Configured:
	case !st.Checked.IsZero():
		reachable := !down
		resp.HomeAssistant.Reachable = &reachable
		resp.HomeAssistant.Error = st.Error
	case s.ha != nil:
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		err := s.ha.Ping(ctx)
		cancel()
		reachable := err == nil
		resp.HomeAssistant.Reachable = &reachable
		if err != nil {
			resp.HomeAssistant.Error = err.Error()
		}
	}

	if !resp.Anthropic.Configured || !resp.HomeAssistant.Configured ||
		(resp.HomeAssistant.Reachable != nil && !*resp.HomeAssistant.Reachable) {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, resp, s.logger)
}

// handleSnapshot returns a freshly built home snapshot as JSON.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.builder == nil || s.cfg.RequireHomeAssistant() != nil {
		s.errorResponse(w, http.StatusInternalServerError, homeAssistantUnconfigured(s))
		return
	}

	snap, err := s.builder.Build(r.Context())
	if err != nil {
		s.logger.Warn("snapshot build failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, errorBody{Error: "Failed to connect to Home Assistant", Details: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, snap, s.logger)
}

// handleContext returns the rendered home context the assistant would
// see, as plain text.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	if s.builder == nil || s.cfg.RequireHomeAssistant() != nil {
		s.errorResponse(w, http.StatusInternalServerError, homeAssistantUnconfigured(s))
		return
	}

	snap, err := s.builder.Build(r.Context())
	if err != nil {
		s.logger.Warn("snapshot build failed", "error", err)
		s.errorResponse(w, http.StatusBadGateway, errorBody{Error: "Failed to connect to Home Assistant", Details: err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := w.Write([]byte(s.renderer.Render(snap))); err != nil {
		s.logger.Debug("failed to write context", "error", err)
	}
}

type usageResponse struct {
	Hours    int                       `json:"hours"`
	Total    *usage.Summary            `json:"total"`
	ByModel  map[string]*usage.Summary `json:"by_model"`
	BySource map[string]*usage.Summary `json:"by_source"`
}

// handleUsage summarizes recorded token usage over the last ?hours=N
// hours (default 24).
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, errorBody{Error: "Usage tracking not enabled"})
		return
	}

	hours := parseIntParam(r, "hours", 24)
	if hours == 0 {
		hours = 24
	}
	end := time.Now()
	start := end.Add(-time.Duration(hours) * time.Hour)

	total, err := s.usage.Summary(r.Context(), start, end)
	if err != nil {
		s.usageFailed(w, err)
		return
	}
	byModel, err := s.usage.SummaryByModel(r.Context(), start, end)
	if err != nil {
		s.usageFailed(w, err)
		return
	}
	bySource, err := s.usage.SummaryBySource(r.Context(), start, end)
	if err != nil {
		s.usageFailed(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, usageResponse{Hours: hours, Total: total, ByModel: byModel, BySource: bySource}, s.logger)
}

func (s *Server) usageFailed(w http.ResponseWriter, err error) {
	s.logger.Error("usage query failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, errorBody{Error: "Failed to query usage", Details: err.Error()})
}
