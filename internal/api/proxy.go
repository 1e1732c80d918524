package api

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nugget/hearth/internal/httpkit"
)

// maxProxyResponse bounds the HA response body relayed by the proxy.
const maxProxyResponse = 32 << 20

// handleProxy forwards /api/ha/<path> (or /api/ha?path=<path>) to the
// Home Assistant REST API with the server's bearer token.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.RequireHomeAssistant(); err != nil || s.ha == nil {
		s.errorResponse(w, http.StatusInternalServerError, homeAssistantUnconfigured(s))
		return
	}

	apiPath := chi.URLParam(r, "*")
	if apiPath == "" {
		apiPath = r.URL.Query().Get("path")
	}
	apiPath = strings.TrimPrefix(apiPath, "/")
	if strings.Contains(apiPath, "..") {
		s.errorResponse(w, http.StatusBadRequest, errorBody{Error: "Invalid path"})
		return
	}

	target := "/api/" + apiPath
	if q := forwardQuery(r.URL.Query()); q != "" {
		target += "?" + q
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	resp, err := s.ha.Do(r.Context(), r.Method, target, contentType, body)
	if err != nil {
		s.logger.Warn("home assistant proxy failed", "method", r.Method, "path", target, "error", err)
		s.errorResponse(w, http.StatusBadGateway, errorBody{Error: "Failed to connect to Home Assistant", Details: err.Error()})
		return
	}
	defer httpkit.DrainAndClose(resp.Body, 64<<10)

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "text/plain"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxProxyResponse)); err != nil {
		s.logger.Debug("failed to relay home assistant response", "path", target, "error", err)
	}
}

// forwardQuery drops the legacy path parameter and re-encodes the rest.
func forwardQuery(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	out := url.Values{}
	for k, v := range q {
		if k == "path" {
			continue
		}
		out[k] = v
	}
	return out.Encode()
}

func homeAssistantUnconfigured(s *Server) errorBody {
	hasURL := s.cfg.HomeAssistant.URL != ""
	hasToken := s.cfg.HomeAssistant.Token != ""
	return errorBody{Error: "Home Assistant not configured", HasURL: &hasURL, HasToken: &hasToken}
}
