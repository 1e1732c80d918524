package api

import (
	"encoding/json"
	"net/http"

	"github.com/nugget/hearth/internal/session"
	"github.com/nugget/hearth/internal/snapshot"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []session.Message `json:"messages"`
	// HomeData is a snapshot assembled by the dashboard. When absent the
	// server builds one from Home Assistant.
	HomeData *snapshot.Snapshot `json:"homeData,omitempty"`
	// Context is a pre-rendered home context from older dashboards.
	Context string `json:"context,omitempty"`
}

// ChatResponse is the body of a successful chat turn.
type ChatResponse struct {
	Message   string                `json:"message"`
	Tools     []session.ToolOutcome `json:"tools,omitempty"`
	RequestID string                `json:"requestId,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.RequireAnthropic(); err != nil {
		code, body := chatError(err)
		s.errorResponse(w, code, body)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, errorBody{Error: "Invalid request", Details: "invalid JSON body: " + err.Error()})
		return
	}

	requestID := RequestIDFrom(r.Context())
	log := s.logger.With("request_id", requestID)

	home := req.HomeData
	if home != nil {
		if err := home.CheckSummary(); err != nil {
			log.Debug("dashboard snapshot summary differs from entities", "error", err)
		}
	} else if req.Context == "" && s.builder != nil {
		if down, st := s.homeDown(); down {
			log.Warn("home assistant unreachable, answering without a snapshot", "error", st.Error)
		} else if built, err := s.builder.Build(r.Context()); err != nil {
			log.Warn("failed to build home snapshot, continuing without it", "error", err)
		} else {
			home = built
		}
	}

	resp, err := s.chat.Run(r.Context(), &session.Request{
		Messages:    req.Messages,
		Home:        home,
		HomeContext: req.Context,
		RequestID:   requestID,
	})
	if err != nil {
		code, body := chatError(err)
		log.Warn("chat turn failed", "status", code, "error", err)
		s.errorResponse(w, code, body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Message:   resp.Content,
		Tools:     resp.Tools,
		RequestID: requestID,
	}, s.logger)
}
