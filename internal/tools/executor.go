package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nugget/hearth/internal/homeassistant"
)

// Backend performs the Home Assistant mutations behind the tools.
// *homeassistant.Client satisfies it.
type Backend interface {
	SaveAutomationConfig(ctx context.Context, id string, cfg *homeassistant.AutomationConfig) error
	ReloadAutomations(ctx context.Context) error
	CallService(ctx context.Context, domain, service string, data map[string]any) error
}

// Result is the outcome of one invocation, sent back to the model as
// the tool_result content.
type Result struct {
	InvocationID string `json:"-"`
	Success      bool   `json:"success"`
	ID           string `json:"id,omitempty"`
	Error        string `json:"error,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
}

// ErrorResult builds a failed Result for an invocation id.
func ErrorResult(invocationID string, err error) Result {
	return Result{InvocationID: invocationID, Error: err.Error()}
}

// Content renders the result as the JSON payload the model sees.
func (r Result) Content() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(b)
}

// IsError reports whether the result should be flagged as an error.
func (r Result) IsError() bool { return !r.Success }

// Executor runs resolved invocations against the backend. A failure
// never escapes as an error or panic; it becomes an error Result.
type Executor struct {
	backend Backend
	logger  *slog.Logger
}

// NewExecutor creates an executor over backend.
func NewExecutor(backend Backend, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{backend: backend, logger: logger.With("component", "tools")}
}

// Execute performs inv and returns its result.
func (e *Executor) Execute(ctx context.Context, inv *Invocation) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panicked", "tool", inv.Kind, "invocation", inv.ID, "panic", p)
			res = ErrorResult(inv.ID, fmt.Errorf("tool %s failed: %v", inv.Kind, p))
		}
	}()

	if e.backend == nil {
		return ErrorResult(inv.ID, errors.New("home assistant is not configured"))
	}

	switch inv.Kind {
	case KindCreateAutomation:
		res = e.createAutomation(ctx, inv.CreateAutomation)
	case KindCallService:
		res = e.callService(ctx, inv.CallService)
	default:
		res = Result{Error: fmt.Sprintf("unsupported tool kind %s", inv.Kind)}
	}
	res.InvocationID = inv.ID

	attrs := []any{"tool", inv.Kind.String(), "target", inv.Target(), "success", res.Success}
	if res.Success {
		e.logger.Info("tool executed", attrs...)
	} else {
		e.logger.Warn("tool failed", append(attrs, "error", res.Error)...)
	}
	return res
}

func (e *Executor) createAutomation(ctx context.Context, a *CreateAutomationArgs) Result {
	if !safeID.MatchString(a.ID) {
		return Result{Error: fmt.Sprintf("invalid automation id %q: use letters, digits, underscore or dash", a.ID)}
	}

	cfg := &homeassistant.AutomationConfig{
		ID:          a.ID,
		Alias:       a.Alias,
		Description: a.Description,
		Mode:        a.Mode,
		Trigger:     a.Trigger,
		Condition:   a.Condition,
		Action:      a.Action,
	}
	if len(cfg.Condition) == 0 {
		cfg.Condition = json.RawMessage(`[]`)
	}

	if err := e.backend.SaveAutomationConfig(ctx, a.ID, cfg); err != nil {
		return Result{Error: backendMessage("save automation", err)}
	}
	if err := e.backend.ReloadAutomations(ctx); err != nil {
		return Result{ID: a.ID, Error: backendMessage("automation saved but reload failed", err)}
	}
	return Result{Success: true, ID: a.ID}
}

func (e *Executor) callService(ctx context.Context, a *CallServiceArgs) Result {
	if err := e.backend.CallService(ctx, a.Domain, a.Service, a.Payload()); err != nil {
		return Result{Error: backendMessage("call "+a.Domain+"."+a.Service, err)}
	}
	return Result{Success: true}
}

// backendMessage keeps the Home Assistant response text so the model
// can explain the rejection.
func backendMessage(op string, err error) string {
	var apiErr *homeassistant.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: Home Assistant returned %d: %s", op, apiErr.StatusCode, apiErr.Body)
	}
	return fmt.Sprintf("%s: %v", op, err)
}
