// Package metrics exposes Prometheus metrics for chat turns, completion
// calls, tool executions and HTTP requests.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nugget/hearth/internal/session"
)

const namespace = "hearth"

// Collector owns a private registry and implements session.Observer.
type Collector struct {
	registry *prometheus.Registry

	Turns        *prometheus.CounterVec
	TurnDuration prometheus.Histogram
	Completions  *prometheus.CounterVec
	Tokens       *prometheus.CounterVec
	Tools        *prometheus.CounterVec
	Requests     *prometheus.CounterVec
}

// New creates a collector with Go and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_turn_duration_seconds",
			Help:      "Wall time of completed chat turns.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Completion calls by model and result.",
		}, []string{"model", "result"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		Tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and result.",
		}, []string{"tool", "result"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.Turns, c.TurnDuration, c.Completions, c.Tokens, c.Tools, c.Requests,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveCompletion implements session.Observer.
func (c *Collector) ObserveCompletion(ev session.CompletionEvent) {
	result := "ok"
	if ev.Err != nil {
		result = "error"
	}
	c.Completions.WithLabelValues(ev.Model, result).Inc()
	c.Tokens.WithLabelValues(ev.Model, "input").Add(float64(ev.InputTokens))
	c.Tokens.WithLabelValues(ev.Model, "output").Add(float64(ev.OutputTokens))
}

// ObserveTool implements session.Observer.
func (c *Collector) ObserveTool(ev session.ToolEvent) {
	c.Tools.WithLabelValues(ev.Tool, toolResult(ev)).Inc()
}

// ObserveTurn implements session.Observer.
func (c *Collector) ObserveTurn(ev session.TurnEvent) {
	c.Turns.WithLabelValues(ev.Outcome).Inc()
	if ev.Outcome == session.OutcomeOK {
		c.TurnDuration.Observe(ev.Duration.Seconds())
	}
}

func toolResult(ev session.ToolEvent) string {
	switch {
	case ev.Gated:
		return "gated"
	case ev.Duplicate:
		return "duplicate"
	case ev.Success:
		return "success"
	default:
		return "error"
	}
}

// Middleware counts requests by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		c.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rw.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer when it supports flushing.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
