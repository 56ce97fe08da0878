// Package actor implements the per-conversation worker that serializes
// user inputs, drives agent runs one at a time, persists conversation
// turns in arrival order, and republishes agent events to subscribers.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/convo"
	"github.com/haasonsaas/ema/internal/events"
	"github.com/haasonsaas/ema/internal/llm"
	"github.com/haasonsaas/ema/internal/memstore"
	"github.com/haasonsaas/ema/pkg/models"
)

// Key identifies one worker instance. Two lookups with equal keys must
// observe the same worker.
type Key struct {
	UserID         int64
	ActorID        int64
	ConversationID int64
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d/%d", k.UserID, k.ActorID, k.ConversationID)
}

// Status is the worker state machine: idle → preparing → running → idle.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusPreparing Status = "preparing"
	StatusRunning   Status = "running"
)

// Config carries the identity and prompt settings of one worker.
type Config struct {
	Key       Key
	UserName  string
	ActorName string

	// SystemPromptTemplate may contain the {MEMORY_BUFFER} token, which
	// is substituted with recent conversation turns on each fresh run.
	SystemPromptTemplate string
	// MemoryWindow bounds how many recent turns feed the memory buffer.
	// Zero means the default of 10.
	MemoryWindow int

	Agent agent.Config
}

func (c Config) memoryWindow() int64 {
	if c.MemoryWindow > 0 {
		return int64(c.MemoryWindow)
	}
	return 10
}

// Stores groups the persistence backends a worker writes through. All of
// them are shared across workers and must be safe for concurrent use.
type Stores struct {
	Conversations *convo.Store
	ShortTerm     *memstore.Memories
	LongTerm      *memstore.Memories
	Searcher      memstore.Searcher
}

// Worker owns one conversation. At most one agent run is active per
// worker; new input during a run aborts it and the queue is drained by
// the processing loop afterwards. Workers live until process exit.
type Worker struct {
	cfg    Config
	llm    llm.Client
	stores Stores
	tools  []agent.Tool
	events *events.Emitter[models.ActorEvent]
	logger *slog.Logger
	now    func() time.Time

	mu                    sync.Mutex
	status                Status
	queue                 []models.BufferMessage
	processingQueue       bool
	agentState            *agent.Context
	current               *agent.Agent
	runDone               chan struct{}
	hasEmaReplyInRun      bool
	resumeStateAfterAbort bool

	writes    chan bufferWrite
	notes     chan string
	closeOnce sync.Once
	writeWG   sync.WaitGroup
}

// Option configures a Worker.
type Option func(*Worker)

// WithTools sets the tool set offered to every agent run.
func WithTools(tools []agent.Tool) Option {
	return func(w *Worker) { w.tools = tools }
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// New builds a worker for one conversation and starts its buffer-write
// pipeline.
func New(cfg Config, client llm.Client, stores Stores, opts ...Option) *Worker {
	w := &Worker{
		cfg:    cfg,
		llm:    client,
		stores: stores,
		events: events.NewEmitter[models.ActorEvent]("actor"),
		logger: slog.Default(),
		now:    time.Now,
		status: StatusIdle,
		writes: make(chan bufferWrite, writeQueueSize),
		notes:  make(chan string, noteQueueSize),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "actor", "key", cfg.Key.String())
	w.writeWG.Add(2)
	go w.consumeWrites()
	go w.consumeNotes()
	return w
}

// Events exposes the actor event emitter for subscription.
func (w *Worker) Events() *events.Emitter[models.ActorEvent] {
	return w.events
}

// Status returns the current worker status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// IsBusy reports whether a run is in flight or being prepared.
func (w *Worker) IsBusy() bool {
	return w.Status() != StatusIdle
}

// Work accepts a batch of user inputs. Validation failures are returned
// synchronously and leave the worker untouched. Accepted inputs are
// queued, their persistence is enqueued in arrival order, and either a
// new processing cycle starts or the current run is aborted so the next
// cycle can pick the batch up.
func (w *Worker) Work(ctx context.Context, inputs []models.Content) error {
	if len(inputs) == 0 {
		return &models.ValidationError{Field: "inputs", Reason: "empty input batch"}
	}
	for _, in := range inputs {
		if err := in.Validate(); err != nil {
			return err
		}
	}

	msg := models.BufferMessage{
		Kind:     models.BufferUser,
		Name:     w.cfg.UserName,
		Contents: inputs,
		Time:     w.now().UnixMilli(),
	}

	w.mu.Lock()
	w.queue = append(w.queue, msg)
	w.enqueueWriteLocked(msg)
	if w.status == StatusIdle {
		w.mu.Unlock()
		w.startProcessing()
		return nil
	}

	// Busy: abort the in-flight run (if any) and let the processing
	// loop drain the enlarged queue once the run completes. Resume the
	// aborted state only when it has produced no visible reply yet; a
	// reply arriving during the abort window clears the flag again.
	w.resumeStateAfterAbort = !w.hasEmaReplyInRun
	current, done := w.current, w.runDone
	w.mu.Unlock()

	if current != nil {
		current.Abort()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Search delegates to the long-term memory searcher.
func (w *Worker) Search(ctx context.Context, keywords []string) ([]models.MemoryItem, error) {
	return w.stores.Searcher.Search(ctx, w.cfg.Key.UserID, w.cfg.Key.ActorID, keywords)
}

// AddShortTermMemory stores one short-term memory item.
func (w *Worker) AddShortTermMemory(ctx context.Context, content string) (models.MemoryItem, error) {
	return w.stores.ShortTerm.Add(ctx, w.cfg.Key.UserID, w.cfg.Key.ActorID, content)
}

// AddLongTermMemory stores one long-term memory item.
func (w *Worker) AddLongTermMemory(ctx context.Context, content string) (models.MemoryItem, error) {
	return w.stores.LongTerm.Add(ctx, w.cfg.Key.UserID, w.cfg.Key.ActorID, content)
}

// Close stops the buffer-write and note pipelines after draining what
// is pending. The worker must not be handed new work after Close.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.writes)
		close(w.notes)
	})
	w.writeWG.Wait()
}

// startProcessing launches the queue drain loop unless one is active.
func (w *Worker) startProcessing() {
	w.mu.Lock()
	if w.processingQueue {
		w.mu.Unlock()
		return
	}
	w.processingQueue = true
	w.mu.Unlock()
	go w.processQueue()
}

// processQueue drains the input queue in batches, one agent run per
// batch. It is the only place runs are started, so the worker is a
// single logical serial context. The processingQueue flag is cleared in
// the same critical section that observes the queue empty, so a Work
// call never sees a live flag over a dead loop.
func (w *Worker) processQueue() {
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			w.setStatusLocked(StatusIdle)
			w.processingQueue = false
			w.mu.Unlock()
			return
		}
		w.setStatusLocked(StatusPreparing)
		batch := w.queue
		w.queue = nil
		resume := w.resumeStateAfterAbort && w.agentState != nil
		state := w.agentState
		w.mu.Unlock()

		if resume {
			state.DropTrailingPendingToolCalls()
			for _, b := range batch {
				state.Messages = append(state.Messages, models.UserMessage(b.Name, b.Contents...))
			}
		} else {
			state = w.buildState(batch)
		}

		a := agent.New(w.llm, w.cfg.Agent, w.logger)
		sub := a.Events().On(w.republish)
		done := make(chan struct{})

		w.mu.Lock()
		w.resumeStateAfterAbort = false
		w.hasEmaReplyInRun = false
		w.agentState = state
		w.current = a
		w.runDone = done
		w.setStatusLocked(StatusRunning)
		w.mu.Unlock()

		a.Run(context.Background(), state)
		a.Events().Off(sub)

		w.mu.Lock()
		w.current = nil
		w.runDone = nil
		if !w.resumeStateAfterAbort {
			w.agentState = nil
		}
		if len(w.queue) == 0 && !w.resumeStateAfterAbort {
			w.setStatusLocked(StatusIdle)
			w.processingQueue = false
			w.mu.Unlock()
			close(done)
			return
		}
		w.mu.Unlock()
		close(done)
	}
}

// buildState assembles a fresh run context from a drained batch.
func (w *Worker) buildState(batch []models.BufferMessage) *agent.Context {
	msgs := make([]models.Message, 0, len(batch))
	for _, b := range batch {
		msgs = append(msgs, models.UserMessage(b.Name, b.Contents...))
	}
	return &agent.Context{
		SystemPrompt: w.renderSystemPrompt(),
		Messages:     msgs,
		Tools:        w.tools,
		ToolContext: agent.ToolContext{
			UserID:         w.cfg.Key.UserID,
			ActorID:        w.cfg.Key.ActorID,
			ConversationID: w.cfg.Key.ConversationID,
			UserName:       w.cfg.UserName,
			ActorName:      w.cfg.ActorName,
		},
	}
}

// republish forwards agent events as actor events. A reply event first
// marks the run as having produced a visible reply and enqueues the
// durable actor turn, so that by the time subscribers see the reply it
// is already on the write pipeline.
func (w *Worker) republish(ev models.AgentEvent) {
	if ev.Name == models.AgentEventEmaReplyReceived && ev.Reply != nil {
		msg := models.BufferMessage{
			Kind:     models.BufferActor,
			Name:     w.cfg.ActorName,
			Contents: []models.Content{models.TextContent(ev.Reply.Reply.Response)},
			Time:     w.now().UnixMilli(),
		}
		w.mu.Lock()
		w.hasEmaReplyInRun = true
		w.resumeStateAfterAbort = false
		w.enqueueWriteLocked(msg)
		w.mu.Unlock()
	}
	w.events.Emit(models.ForwardedAgentEvent(ev))
}

// setStatusLocked transitions the status and publishes a status note.
// Callers hold w.mu; the note is handed to a dedicated goroutine so
// notes stay in transition order and subscribers never run under the
// lock.
func (w *Worker) setStatusLocked(status Status) {
	if w.status == status {
		return
	}
	w.status = status
	select {
	case w.notes <- fmt.Sprintf("Actor status: %s.", status):
	default:
		w.logger.Warn("status note dropped, subscriber too slow", "status", status)
	}
}

func (w *Worker) consumeNotes() {
	defer w.writeWG.Done()
	for note := range w.notes {
		w.events.Emit(models.StatusNote(note))
	}
}
