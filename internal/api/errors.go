package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nugget/hearth/internal/config"
	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/session"
)

// errorBody is the JSON error shape the dashboard expects.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	// Configuration flags, present only on configuration errors.
	HasAPIKey *bool `json:"hasApiKey,omitempty"`
	HasURL    *bool `json:"hasUrl,omitempty"`
	HasToken  *bool `json:"hasToken,omitempty"`
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, body, s.logger)
}

// configurationBody converts a ConfigurationError into its response
// body.
func configurationBody(ce *config.ConfigurationError) errorBody {
	body := errorBody{Error: ce.Subject + " not configured"}
	flag := func(name string) *bool {
		v, ok := ce.Settings[name]
		if !ok {
			return nil
		}
		return &v
	}
	body.HasAPIKey = flag("hasApiKey")
	body.HasURL = flag("hasUrl")
	body.HasToken = flag("hasToken")
	return body
}

// chatError maps a chat turn failure to a status code and body.
func chatError(err error) (int, errorBody) {
	var (
		ce       *config.ConfigurationError
		upstream *llm.UpstreamError
		loop     *session.ToolLoopExceededError
	)
	switch {
	case errors.As(err, &ce):
		return http.StatusInternalServerError, configurationBody(ce)
	case errors.Is(err, session.ErrMalformedInput):
		return http.StatusBadRequest, errorBody{Error: "Invalid request", Details: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "Failed to get response", Details: "the assistant took too long to answer"}
	case errors.As(err, &upstream):
		return http.StatusBadGateway, errorBody{Error: "Failed to get response", Details: upstream.Error()}
	case errors.As(err, &loop):
		return http.StatusInternalServerError, errorBody{Error: "Failed to get response", Details: "the assistant needed too many steps; try a simpler request"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "Failed to get response", Details: err.Error()}
	}
}
