// Package agent implements the bounded reasoning loop that interleaves
// LLM calls and tool executions for one run, emitting runFinished and
// emaReplyReceived events along the way.
package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/haasonsaas/ema/internal/events"
	"github.com/haasonsaas/ema/internal/llm"
	"github.com/haasonsaas/ema/pkg/models"
)

// ReplyToolName is the distinguished tool whose successful result carries
// the user-visible reply.
const ReplyToolName = "ema_reply"

// ToolContext identifies who a tool runs on behalf of. Tools hold their
// own backend dependencies; this carries only per-run identity.
type ToolContext struct {
	UserID         int64
	ActorID        int64
	ConversationID int64
	UserName       string
	ActorName      string
}

// Tool is a callable the model may invoke. Parameters is a JSON Schema
// document describing the arguments; when non-empty, arguments are
// validated against it before execution.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	Execute(ctx context.Context, args json.RawMessage, tc ToolContext) (models.ToolResult, error)
}

// Context is the per-run agent state: prompt, transcript, tool set, and
// tool context. Exactly one run owns a Context at a time; it survives a
// run only under the worker's resume rule.
type Context struct {
	SystemPrompt string
	Messages     []models.Message
	Tools        []Tool
	ToolContext  ToolContext
}

// Tool returns the named tool, or nil when the set does not contain it.
func (c *Context) Tool(name string) Tool {
	for _, t := range c.Tools {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// DropTrailingPendingToolCalls removes a trailing model message whose tool
// calls have no tool results yet. The worker applies this before resuming
// an aborted run so the transcript never ends mid tool exchange.
func (c *Context) DropTrailingPendingToolCalls() {
	if len(c.Messages) == 0 {
		return
	}
	last := c.Messages[len(c.Messages)-1]
	if last.Role == models.RoleModel && len(last.ToolCalls) > 0 {
		c.Messages = c.Messages[:len(c.Messages)-1]
	}
}

// Config bounds a run.
type Config struct {
	// MaxSteps limits the number of LLM calls per run.
	MaxSteps int
	// TokenLimit caps the tokens requested per LLM call.
	TokenLimit int
	// ReplyToolName overrides the reply tool sentinel. Defaults to
	// ReplyToolName.
	ReplyToolName string
	// AllowedExpressions and AllowedActions validate reply payloads.
	// Empty slices fall back to the built-in sets.
	AllowedExpressions []string
	AllowedActions     []string
}

func (c Config) replyTool() string {
	if c.ReplyToolName != "" {
		return c.ReplyToolName
	}
	return ReplyToolName
}

// Agent executes one run at a time over a Context. Listeners registered on
// Events before Run survive the run; there is no implicit cleanup.
type Agent struct {
	llm    llm.Client
	cfg    Config
	events *events.Emitter[models.AgentEvent]
	logger Logger

	mu      sync.Mutex
	aborted bool
	cancel  context.CancelFunc

	replyParser *replyParser
	schemas     *schemaCache
}

// Logger is the subset of slog used by the agent.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New builds an agent over the given LLM client.
func New(client llm.Client, cfg Config, logger Logger) *Agent {
	return &Agent{
		llm:         client,
		cfg:         cfg,
		events:      events.NewEmitter[models.AgentEvent]("agent"),
		logger:      logger,
		replyParser: newReplyParser(cfg.AllowedExpressions, cfg.AllowedActions),
		schemas:     newSchemaCache(),
	}
}

// Events exposes the agent event emitter for subscription.
func (a *Agent) Events() *events.Emitter[models.AgentEvent] {
	return a.events
}

// Abort requests cancellation of the in-flight run. It is idempotent and
// non-blocking; callers awaiting Run observe its natural completion.
func (a *Agent) Abort() {
	a.mu.Lock()
	a.aborted = true
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Aborted reports whether an abort has been requested.
func (a *Agent) Aborted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.aborted
}

func (a *Agent) armCancel(cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
}
