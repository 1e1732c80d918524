// Package session runs a chat turn: it renders the home context into the
// system prompt, calls the completion backend, executes requested tools
// and feeds their results back until the model produces a final answer.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/hearth/internal/llm"
	"github.com/nugget/hearth/internal/prompts"
	"github.com/nugget/hearth/internal/snapshot"
	"github.com/nugget/hearth/internal/tools"
)

// Conversation roles accepted from callers.
const (
	RoleUser      = llm.RoleUser
	RoleAssistant = llm.RoleAssistant
)

// Confirmation modes.
const (
	ConfirmStrict = "strict"
	ConfirmPrompt = "prompt"
)

// DefaultMaxToolRounds bounds tool rounds when Config leaves it unset.
const DefaultMaxToolRounds = 5

// Message is one caller-supplied conversation message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one chat turn.
type Request struct {
	// Messages is the full conversation, oldest first. The last message
	// must come from the user.
	Messages []Message
	// Home is the snapshot rendered into the system prompt.
	Home *snapshot.Snapshot
	// HomeContext is a pre-rendered context used when Home is nil.
	HomeContext string
	RequestID   string
}

// ToolOutcome summarises one executed invocation for the caller.
type ToolOutcome struct {
	Tool      string `json:"tool"`
	Target    string `json:"target,omitempty"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Response is the result of a completed turn.
type Response struct {
	Content      string        `json:"message"`
	Model        string        `json:"model"`
	Rounds       int           `json:"rounds"`
	Tools        []ToolOutcome `json:"tools,omitempty"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
}

// Config tunes the engine.
type Config struct {
	Model         string
	MaxTokens     int
	MaxToolRounds int
	// TurnTimeout bounds the whole turn across all rounds. Zero means no
	// deadline beyond the caller's context.
	TurnTimeout   time.Duration
	Confirmation  string
	Persona       string
	Detailed      bool
	ActivityLimit int
}

// Engine runs chat turns. It holds no per-conversation state and is
// safe for concurrent use.
type Engine struct {
	cfg       Config
	llm       llm.Completer
	registry  *tools.Registry
	executor  *tools.Executor
	observers observers
	logger    *slog.Logger
}

// NewEngine creates an engine. Tools are disabled until EnableTools is
// called.
func NewEngine(cfg Config, completer llm.Completer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Confirmation == "" {
		cfg.Confirmation = ConfirmStrict
	}
	logger = logger.With("component", "session")
	return &Engine{
		cfg:       cfg,
		llm:       completer,
		logger:    logger,
		observers: observers{logger: logger},
	}
}

// EnableTools offers the registry's tools to the model and executes
// them with exec.
func (e *Engine) EnableTools(registry *tools.Registry, exec *tools.Executor) {
	e.registry = registry
	e.executor = exec
}

// ToolsEnabled reports whether tools are offered to the model.
func (e *Engine) ToolsEnabled() bool {
	return e.registry != nil && e.executor != nil
}

// AddObserver registers an observer for engine events.
func (e *Engine) AddObserver(o Observer) {
	e.observers.list = append(e.observers.list, o)
}

// RenderContext returns the home context text for req.
func (e *Engine) RenderContext(req *Request) string {
	if req.Home == nil && strings.TrimSpace(req.HomeContext) != "" {
		return req.HomeContext
	}
	return snapshot.Renderer{ActivityLimit: e.cfg.ActivityLimit}.Render(req.Home)
}

// turnState is the mutable state of one turn.
type turnState struct {
	requestID string
	approval  approval
	// executed maps invocation ids to their results.
	executed map[string]tools.Result
	// actions maps fingerprints of successful actions to their results.
	actions  map[string]tools.Result
	outcomes []ToolOutcome
}

// Run executes one chat turn.
func (e *Engine) Run(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	turn := TurnEvent{RequestID: req.RequestID, Model: e.cfg.Model}
	finish := func(outcome string) {
		turn.Outcome = outcome
		turn.Duration = time.Since(start)
		e.observers.turn(turn)
	}

	if err := validate(req.Messages); err != nil {
		finish(OutcomeMalformed)
		return nil, err
	}

	if e.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.TurnTimeout)
		defer cancel()
	}

	log := e.logger.With("request_id", req.RequestID)

	system := prompts.SystemPrompt(prompts.SystemPromptParams{
		Persona:      e.cfg.Persona,
		Detailed:     e.cfg.Detailed,
		ToolsEnabled: e.ToolsEnabled(),
		Context:      e.RenderContext(req),
	})

	history := make([]llm.Message, 0, len(req.Messages)+2*e.cfg.MaxToolRounds)
	for _, m := range req.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	var toolDefs []llm.Tool
	if e.ToolsEnabled() {
		toolDefs = e.registry.Definitions()
	}

	state := &turnState{
		requestID: req.RequestID,
		approval:  newApproval(e.cfg.Confirmation, req.Messages),
		executed:  make(map[string]tools.Result),
		actions:   make(map[string]tools.Result),
	}

	log.Debug("turn started",
		"messages", len(req.Messages),
		"tools", len(toolDefs),
		"confirmed", state.approval.granted(),
		"system_len", len(system),
	)

	for round := 0; ; round++ {
		callStart := time.Now()
		resp, err := e.llm.Complete(ctx, &llm.Request{
			Model:     e.cfg.Model,
			MaxTokens: e.cfg.MaxTokens,
			System:    system,
			Messages:  history,
			Tools:     toolDefs,
		})
		if err == nil && resp == nil {
			err = errors.New("completion returned no response")
		}
		ev := CompletionEvent{
			RequestID: req.RequestID,
			Model:     e.cfg.Model,
			Round:     round,
			Duration:  time.Since(callStart),
			Err:       err,
		}
		if resp != nil {
			ev.InputTokens, ev.OutputTokens = resp.InputTokens, resp.OutputTokens
			if resp.Model != "" {
				ev.Model = resp.Model
			}
		}
		e.observers.completion(ev)

		if err != nil {
			log.Error("completion failed", "round", round, "error", err)
			finish(errorOutcome(err))
			return nil, err
		}

		turn.InputTokens += resp.InputTokens
		turn.OutputTokens += resp.OutputTokens
		if resp.Model != "" {
			turn.Model = resp.Model
		}

		if !resp.WantsTools() {
			content := resp.Message.Content
			if strings.TrimSpace(content) == "" {
				log.Warn("model returned empty response", "round", round, "stop_reason", resp.StopReason)
				content = prompts.EmptyResponseFallback
			}
			turn.Rounds = round
			finish(OutcomeOK)
			log.Info("turn complete",
				"rounds", round,
				"input_tokens", turn.InputTokens,
				"output_tokens", turn.OutputTokens,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return &Response{
				Content:      content,
				Model:        turn.Model,
				Rounds:       round,
				Tools:        state.outcomes,
				InputTokens:  turn.InputTokens,
				OutputTokens: turn.OutputTokens,
			}, nil
		}

		if round >= e.cfg.MaxToolRounds {
			turn.Rounds = round
			finish(OutcomeToolLoopExceeded)
			log.Warn("tool loop exceeded", "rounds", round, "pending_calls", len(resp.Message.ToolCalls))
			return nil, &ToolLoopExceededError{Rounds: round}
		}

		results := e.executeRound(ctx, state, resp.Message.ToolCalls)

		assistant := resp.Message
		assistant.Role = llm.RoleAssistant
		history = append(history, assistant, llm.Message{Role: llm.RoleUser, ToolResults: results})
	}
}

// pending is one tool call of a round awaiting its result.
type pending struct {
	call llm.ToolCall
	inv  *tools.Invocation
	// dupOf is the index of an earlier call in the round with the same
	// action or invocation id.
	dupOf  int
	result tools.Result
	gated  bool
	run    bool
}

// executeRound resolves every call, applies the dedupe and confirmation
// rules, runs the surviving invocations concurrently and returns one
// result per call in call order.
func (e *Engine) executeRound(ctx context.Context, state *turnState, calls []llm.ToolCall) []llm.ToolResult {
	items := make([]*pending, len(calls))
	inRound := make(map[string]int)
	seenID := make(map[string]int)

	for i, call := range calls {
		p := &pending{call: call, dupOf: -1}
		items[i] = p

		if prev, ok := state.executed[call.ID]; ok && call.ID != "" {
			prev.Duplicate = true
			p.result = prev
			continue
		}
		if call.ID != "" {
			if j, ok := seenID[call.ID]; ok {
				p.dupOf = j
				continue
			}
			seenID[call.ID] = i
		}

		if !e.ToolsEnabled() {
			p.result = tools.ErrorResult(call.ID, &tools.ErrToolUnavailable{ToolName: call.Name})
			continue
		}

		inv, err := e.registry.Resolve(call)
		if err != nil {
			p.result = tools.ErrorResult(call.ID, err)
			continue
		}
		p.inv = inv

		if inv.Mutating() && !state.approval.allows(inv) {
			p.gated = true
			p.result = tools.Result{InvocationID: call.ID, Error: prompts.ConfirmationRequired}
			continue
		}

		fp := inv.Fingerprint()
		if prev, ok := state.actions[fp]; ok {
			p.result = tools.Result{InvocationID: call.ID, Success: true, ID: prev.ID, Duplicate: true}
			continue
		}
		if j, ok := inRound[fp]; ok {
			p.dupOf = j
			continue
		}
		inRound[fp] = i
		p.run = true
	}

	var wg sync.WaitGroup
	for _, p := range items {
		if !p.run {
			continue
		}
		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			start := time.Now()
			p.result = e.executor.Execute(ctx, p.inv)
			e.observers.tool(ToolEvent{
				RequestID: state.requestID,
				Tool:      p.inv.Kind.String(),
				Target:    p.inv.Target(),
				Success:   p.result.Success,
				Duration:  time.Since(start),
			})
		}(p)
	}
	wg.Wait()

	results := make([]llm.ToolResult, len(items))
	for i, p := range items {
		if p.dupOf >= 0 {
			p.result = items[p.dupOf].result
			p.result.Duplicate = true
		}
		p.result.InvocationID = p.call.ID

		if p.run {
			if p.call.ID != "" {
				state.executed[p.call.ID] = p.result
			}
			if p.result.Success {
				state.actions[p.inv.Fingerprint()] = p.result
			}
		} else {
			e.observeSkipped(state, p)
		}
		if p.result.Duplicate {
			e.logger.Info(prompts.DuplicateAction, "request_id", state.requestID, "tool", p.call.Name, "invocation", p.call.ID)
		}

		state.outcomes = append(state.outcomes, outcome(p))
		results[i] = llm.ToolResult{
			ToolCallID: p.call.ID,
			Content:    p.result.Content(),
			IsError:    p.result.IsError(),
		}
	}
	return results
}

// observeSkipped reports calls that did not reach the executor.
func (e *Engine) observeSkipped(state *turnState, p *pending) {
	ev := ToolEvent{
		RequestID: state.requestID,
		Tool:      p.call.Name,
		Success:   p.result.Success,
		Duplicate: p.result.Duplicate,
		Gated:     p.gated,
	}
	if p.inv != nil {
		ev.Target = p.inv.Target()
	}
	if p.gated {
		e.logger.Warn("tool call refused pending confirmation", "request_id", state.requestID, "tool", p.call.Name, "target", ev.Target)
	} else if !p.result.Success {
		e.logger.Warn("tool call rejected", "request_id", state.requestID, "tool", p.call.Name, "error", p.result.Error)
	}
	e.observers.tool(ev)
}

func outcome(p *pending) ToolOutcome {
	o := ToolOutcome{
		Tool:      p.call.Name,
		Success:   p.result.Success,
		Error:     p.result.Error,
		Duplicate: p.result.Duplicate,
	}
	if p.inv != nil {
		o.Target = p.inv.Target()
	}
	return o
}

// validate checks the caller's conversation before any upstream call.
func validate(msgs []Message) error {
	if len(msgs) == 0 {
		return malformed("messages must not be empty")
	}
	for i, m := range msgs {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return malformed("message %d has invalid role %q", i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			return malformed("message %d has empty content", i)
		}
	}
	if last := msgs[len(msgs)-1]; last.Role != RoleUser {
		return malformed("last message must be from the user, got %q", last.Role)
	}
	return nil
}

func errorOutcome(err error) string {
	var upstream *llm.UpstreamError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.As(err, &upstream):
		return OutcomeUpstreamError
	default:
		return OutcomeError
	}
}
