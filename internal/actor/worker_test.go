package actor

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/convo"
	"github.com/haasonsaas/ema/internal/llm"
	"github.com/haasonsaas/ema/internal/memstore"
	"github.com/haasonsaas/ema/internal/store"
	"github.com/haasonsaas/ema/pkg/models"
)

// stubLLM replays a script of generate functions and records every
// request with its message transcript snapshotted.
type stubLLM struct {
	mu     sync.Mutex
	script []func(ctx context.Context, req *llm.Request) (*llm.Response, error)
	reqs   []*llm.Request
	calls  int
}

func (s *stubLLM) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	snapshot := *req
	snapshot.Messages = append([]models.Message(nil), req.Messages...)
	s.reqs = append(s.reqs, &snapshot)
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.script) {
		return nil, errors.New("unscripted generate call")
	}
	return s.script[i](ctx, req)
}

func (s *stubLLM) requests() []*llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*llm.Request(nil), s.reqs...)
}

func finishText(text string) func(context.Context, *llm.Request) (*llm.Response, error) {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Message:      models.Message{Role: models.RoleModel, Contents: []models.Content{models.TextContent(text)}},
			FinishReason: "stop",
		}, nil
	}
}

func callReply(payload string) func(context.Context, *llm.Request) (*llm.Response, error) {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Message: models.Message{
				Role:      models.RoleModel,
				ToolCalls: []models.ToolCall{{ID: "r1", Name: agent.ReplyToolName, Args: json.RawMessage(payload)}},
			},
		}, nil
	}
}

// blockUntilCancel parks the generate call until the run is aborted,
// signalling entry on started.
func blockUntilCancel(started chan<- struct{}) func(context.Context, *llm.Request) (*llm.Response, error) {
	return func(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

// echoReplyTool returns its arguments verbatim as the reply payload.
type echoReplyTool struct{}

func (echoReplyTool) Name() string                { return agent.ReplyToolName }
func (echoReplyTool) Description() string         { return "deliver the reply" }
func (echoReplyTool) Parameters() json.RawMessage { return nil }
func (echoReplyTool) Execute(_ context.Context, args json.RawMessage, _ agent.ToolContext) (models.ToolResult, error) {
	return models.ToolResult{Success: true, Content: string(args)}, nil
}

func newTestWorker(t *testing.T, client llm.Client, template string) (*Worker, *convo.Store) {
	t.Helper()
	docs := store.NewMemoryStore()
	conversations := convo.NewStore(docs)
	longTerm := memstore.NewLongTerm(docs)
	stores := Stores{
		Conversations: conversations,
		ShortTerm:     memstore.NewShortTerm(docs),
		LongTerm:      longTerm,
		Searcher:      memstore.NewKeywordSearcher(longTerm),
	}
	cfg := Config{
		Key:                  Key{UserID: 1, ActorID: 2, ConversationID: 3},
		UserName:             "alice",
		ActorName:            "ema",
		SystemPromptTemplate: template,
		Agent:                agent.Config{MaxSteps: 5, TokenLimit: 512},
	}
	w := New(cfg, client, stores, WithTools([]agent.Tool{echoReplyTool{}}))
	t.Cleanup(w.Close)
	return w, conversations
}

func awaitActorEvent(t *testing.T, ch <-chan models.ActorEvent, pred func(models.ActorEvent) bool) models.ActorEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if pred(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for actor event")
		}
	}
}

func isRunFinished(ev models.ActorEvent) bool {
	return ev.Kind == models.ActorEventAgent && ev.Agent.Name == models.AgentEventRunFinished
}

func isReply(ev models.ActorEvent) bool {
	return ev.Kind == models.ActorEventAgent && ev.Agent.Name == models.AgentEventEmaReplyReceived
}

func TestWorkValidation(t *testing.T) {
	w, _ := newTestWorker(t, &stubLLM{}, "")

	var vErr *models.ValidationError
	if err := w.Work(context.Background(), nil); !errors.As(err, &vErr) {
		t.Fatalf("empty batch: err = %v, want ValidationError", err)
	}
	if err := w.Work(context.Background(), []models.Content{{Type: models.ContentImage}}); !errors.As(err, &vErr) {
		t.Fatalf("image content: err = %v, want ValidationError", err)
	}
	if w.IsBusy() {
		t.Fatal("rejected input must not start processing")
	}
}

func TestEchoFlow(t *testing.T) {
	client := &stubLLM{script: []func(context.Context, *llm.Request) (*llm.Response, error){
		callReply(`{"think":"t","expression":"普通","action":"无","response":"hello back"}`),
		finishText("done"),
	}}
	w, conversations := newTestWorker(t, client, "You are Ema.")
	ch, cancel := w.Events().Chan(64)
	defer cancel()

	if err := w.Work(context.Background(), []models.Content{models.TextContent("hello")}); err != nil {
		t.Fatal(err)
	}

	reply := awaitActorEvent(t, ch, isReply)
	if got := reply.Agent.Reply.Reply.Response; got != "hello back" {
		t.Fatalf("reply = %q", got)
	}
	finished := awaitActorEvent(t, ch, isRunFinished)
	if !finished.Agent.RunFinished.OK {
		t.Fatalf("runFinished = %+v", finished.Agent.RunFinished)
	}

	w.Close()
	msgs, err := conversations.ListAll(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(msgs))
	}
	if msgs[0].Kind != models.BufferUser || msgs[0].Text() != "hello" {
		t.Fatalf("first turn = %+v", msgs[0])
	}
	if msgs[1].Kind != models.BufferActor || msgs[1].Text() != "hello back" || msgs[1].Name != "ema" {
		t.Fatalf("second turn = %+v", msgs[1])
	}

	if w.IsBusy() {
		t.Fatal("worker should be idle after the run")
	}
}

func TestAbortResumesWhenNoReplyYet(t *testing.T) {
	started := make(chan struct{}, 1)
	client := &stubLLM{script: []func(context.Context, *llm.Request) (*llm.Response, error){
		blockUntilCancel(started),
		finishText("resumed answer"),
	}}
	w, _ := newTestWorker(t, client, "")
	ch, cancel := w.Events().Chan(64)
	defer cancel()

	if err := w.Work(context.Background(), []models.Content{models.TextContent("first")}); err != nil {
		t.Fatal(err)
	}
	<-started

	if err := w.Work(context.Background(), []models.Content{models.TextContent("second")}); err != nil {
		t.Fatal(err)
	}

	// Aborted run, then the resumed run completing.
	aborted := awaitActorEvent(t, ch, isRunFinished)
	if aborted.Agent.RunFinished.OK || aborted.Agent.RunFinished.Msg != "Aborted" {
		t.Fatalf("first runFinished = %+v", aborted.Agent.RunFinished)
	}
	done := awaitActorEvent(t, ch, isRunFinished)
	if !done.Agent.RunFinished.OK {
		t.Fatalf("second runFinished = %+v", done.Agent.RunFinished)
	}

	reqs := client.requests()
	if len(reqs) != 2 {
		t.Fatalf("generate calls = %d, want 2", len(reqs))
	}
	resumed := reqs[1].Messages
	if len(resumed) != 2 {
		t.Fatalf("resumed transcript = %d messages, want both inputs", len(resumed))
	}
	if resumed[0].Text() != "first" || resumed[1].Text() != "second" {
		t.Fatalf("resumed transcript = %q, %q", resumed[0].Text(), resumed[1].Text())
	}
}

func TestAbortDiscardsStateAfterReply(t *testing.T) {
	started := make(chan struct{}, 1)
	client := &stubLLM{script: []func(context.Context, *llm.Request) (*llm.Response, error){
		callReply(`{"response":"already answered"}`),
		blockUntilCancel(started),
		finishText("fresh answer"),
	}}
	w, _ := newTestWorker(t, client, "")
	ch, cancel := w.Events().Chan(64)
	defer cancel()

	if err := w.Work(context.Background(), []models.Content{models.TextContent("first")}); err != nil {
		t.Fatal(err)
	}
	awaitActorEvent(t, ch, isReply)
	<-started

	if err := w.Work(context.Background(), []models.Content{models.TextContent("second")}); err != nil {
		t.Fatal(err)
	}

	aborted := awaitActorEvent(t, ch, isRunFinished)
	if aborted.Agent.RunFinished.Msg != "Aborted" {
		t.Fatalf("first runFinished = %+v", aborted.Agent.RunFinished)
	}
	done := awaitActorEvent(t, ch, isRunFinished)
	if !done.Agent.RunFinished.OK {
		t.Fatalf("second runFinished = %+v", done.Agent.RunFinished)
	}

	reqs := client.requests()
	if len(reqs) != 3 {
		t.Fatalf("generate calls = %d, want 3", len(reqs))
	}
	fresh := reqs[2].Messages
	if len(fresh) != 1 || fresh[0].Text() != "second" {
		t.Fatalf("fresh transcript = %+v, want only the new input", fresh)
	}
}

func TestPersistedOrderMatchesArrival(t *testing.T) {
	client := &stubLLM{script: []func(context.Context, *llm.Request) (*llm.Response, error){
		finishText("one"), finishText("two"), finishText("three"),
	}}
	w, conversations := newTestWorker(t, client, "")
	ch, cancel := w.Events().Chan(64)
	defer cancel()

	texts := []string{"a", "b", "c"}
	for _, text := range texts {
		if err := w.Work(context.Background(), []models.Content{models.TextContent(text)}); err != nil {
			t.Fatal(err)
		}
		awaitActorEvent(t, ch, isRunFinished)
	}

	w.Close()
	msgs, err := conversations.ListAll(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != len(texts) {
		t.Fatalf("persisted turns = %d, want %d", len(msgs), len(texts))
	}
	for i, text := range texts {
		if msgs[i].Text() != text {
			t.Fatalf("turn %d = %q, want %q", i, msgs[i].Text(), text)
		}
	}
}

func TestStatusNotesFollowTransitions(t *testing.T) {
	client := &stubLLM{script: []func(context.Context, *llm.Request) (*llm.Response, error){
		finishText("ok"),
	}}
	w, _ := newTestWorker(t, client, "")
	ch, cancel := w.Events().Chan(64)
	defer cancel()

	if err := w.Work(context.Background(), []models.Content{models.TextContent("hi")}); err != nil {
		t.Fatal(err)
	}

	want := []string{"Actor status: preparing.", "Actor status: running.", "Actor status: idle."}
	var notes []string
	deadline := time.After(5 * time.Second)
	for len(notes) < len(want) {
		select {
		case ev := <-ch:
			if ev.Kind == models.ActorEventMessage {
				notes = append(notes, ev.Content)
			}
		case <-deadline:
			t.Fatalf("notes = %v, want %v", notes, want)
		}
	}
	for i := range want {
		if notes[i] != want[i] {
			t.Fatalf("note %d = %q, want %q", i, notes[i], want[i])
		}
	}
}

func TestMemoryDelegation(t *testing.T) {
	w, _ := newTestWorker(t, &stubLLM{}, "")
	ctx := context.Background()

	if _, err := w.AddShortTermMemory(ctx, "likes tea"); err != nil {
		t.Fatal(err)
	}
	if _, err := w.AddLongTermMemory(ctx, "birthday in May"); err != nil {
		t.Fatal(err)
	}
	items, err := w.Search(ctx, []string{"birthday"})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Content != "birthday in May" {
		t.Fatalf("search = %+v", items)
	}
}

func TestRenderSystemPrompt(t *testing.T) {
	w, conversations := newTestWorker(t, &stubLLM{}, "Recent:\n{MEMORY_BUFFER}\nEnd.")

	// Empty buffer substitutes the literal placeholder.
	if got := w.renderSystemPrompt(); got != "Recent:\nNone.\nEnd." {
		t.Fatalf("empty buffer prompt = %q", got)
	}

	at := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC).UnixMilli()
	for i, turn := range []struct {
		kind models.BufferKind
		name string
		text string
	}{
		{models.BufferUser, "alice", "hello"},
		{models.BufferActor, "ema", "hi alice"},
	} {
		msg := models.BufferMessage{
			Kind:     turn.kind,
			Name:     turn.name,
			Contents: []models.Content{models.TextContent(turn.text)},
			Time:     at + int64(i),
		}
		if err := conversations.Append(context.Background(), 3, &msg); err != nil {
			t.Fatal(err)
		}
	}

	got := w.renderSystemPrompt()
	if !strings.Contains(got, "alice: hello") || !strings.Contains(got, "ema: hi alice") {
		t.Fatalf("prompt = %q", got)
	}
	if strings.Index(got, "alice: hello") > strings.Index(got, "ema: hi alice") {
		t.Fatal("buffer must render in forward time order")
	}
	if strings.Contains(got, MemoryBufferToken) {
		t.Fatal("token must be substituted")
	}

	// A template without the token passes through untouched.
	w.cfg.SystemPromptTemplate = "static prompt"
	if got := w.renderSystemPrompt(); got != "static prompt" {
		t.Fatalf("prompt = %q", got)
	}
}
