package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/ema/internal/agenda"
	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/internal/memstore"
	"github.com/haasonsaas/ema/internal/store"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	docs := store.NewMemoryStore()
	longTerm := memstore.NewLongTerm(docs)
	return Deps{
		ShortTerm: memstore.NewShortTerm(docs),
		LongTerm:  longTerm,
		Searcher:  memstore.NewKeywordSearcher(longTerm),
		Scheduler: agenda.New(config.AgendaConfig{}, docs),
	}
}

var testToolContext = agent.ToolContext{
	UserID: 1, ActorID: 2, ConversationID: 3,
	UserName: "alice", ActorName: "ema",
}

func TestForConfigGating(t *testing.T) {
	deps := testDeps(t)

	all := ForConfig(config.ToolsConfig{
		RememberShortTerm: true,
		RememberLongTerm:  true,
		SearchMemory:      true,
		ScheduleTask:      true,
	}, agent.Config{}, deps)
	if len(all) != 5 {
		t.Fatalf("tools = %d, want 5", len(all))
	}
	if all[0].Name() != agent.ReplyToolName {
		t.Fatalf("first tool = %s, want the reply tool", all[0].Name())
	}

	none := ForConfig(config.ToolsConfig{}, agent.Config{}, deps)
	if len(none) != 1 || none[0].Name() != agent.ReplyToolName {
		t.Fatalf("gated-off set = %v", names(none))
	}
}

func names(set []agent.Tool) []string {
	out := make([]string, len(set))
	for i, tool := range set {
		out[i] = tool.Name()
	}
	return out
}

func TestReplyToolPassesArgsThrough(t *testing.T) {
	tool := NewReplyTool(agent.DefaultExpressions(), agent.DefaultActions())

	var schema map[string]any
	if err := json.Unmarshal(tool.Parameters(), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}

	payload := `{"think":"t","expression":"普通","action":"无","response":"hi"}`
	result, err := tool.Execute(context.Background(), json.RawMessage(payload), testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Content != payload {
		t.Fatalf("result = %+v", result)
	}

	result, err = tool.Execute(context.Background(), nil, testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("empty arguments must fail")
	}
}

func TestRememberAndSearch(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()

	remember := NewRememberLongTerm(deps.LongTerm)
	result, err := remember.Execute(ctx, json.RawMessage(`{"content":"alice likes jasmine tea"}`), testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	if result, err = remember.Execute(ctx, json.RawMessage(`{"content":"  "}`), testToolContext); err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("blank content must fail")
	}

	search := NewSearchMemory(deps.Searcher)
	result, err = search.Execute(ctx, json.RawMessage(`{"keywords":["jasmine"]}`), testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || !strings.Contains(result.Content, "jasmine tea") {
		t.Fatalf("result = %+v", result)
	}

	result, err = search.Execute(ctx, json.RawMessage(`{"keywords":["nothing"]}`), testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Content != "No matching memories." {
		t.Fatalf("result = %+v", result)
	}
}

func TestScheduleTask(t *testing.T) {
	deps := testDeps(t)
	ctx := context.Background()
	tool := NewScheduleTask(deps.Scheduler)
	tool.now = func() time.Time { return time.UnixMilli(1_000_000) }

	result, err := tool.Execute(ctx, json.RawMessage(`{"text":"drink water","delay_seconds":60}`), testToolContext)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}

	jobs, err := deps.Scheduler.ListJobs(ctx, store.Filter{"name": ActorMessageJob})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if jobs[0].RunAt != time.UnixMilli(1_000_000).Add(time.Minute).UnixMilli() {
		t.Fatalf("run_at = %d", jobs[0].RunAt)
	}
	var data ActorMessageData
	if err := json.Unmarshal(jobs[0].Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ConversationID != 3 || data.Text != "drink water" {
		t.Fatalf("data = %+v", data)
	}

	// Recurring with the same conversation and text collapses.
	recurring := `{"text":"stretch","delay_seconds":60,"interval":"1h"}`
	if result, err = tool.Execute(ctx, json.RawMessage(recurring), testToolContext); err != nil || !result.Success {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	if result, err = tool.Execute(ctx, json.RawMessage(recurring), testToolContext); err != nil || !result.Success {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
	jobs, err = deps.Scheduler.ListJobs(ctx, store.Filter{"name": ActorMessageJob})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want one one-shot and one recurring", len(jobs))
	}

	if result, err = tool.Execute(ctx, json.RawMessage(`{"text":"x","delay_seconds":0}`), testToolContext); err != nil {
		t.Fatal(err)
	}
	if result.Success {
		t.Fatal("zero delay must fail")
	}
}
