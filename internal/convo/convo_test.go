package convo

import (
	"context"
	"testing"

	"github.com/haasonsaas/ema/internal/store"
	"github.com/haasonsaas/ema/pkg/models"
)

func appendText(t *testing.T, s *Store, conversationID int64, kind models.BufferKind, name, text string, at int64) models.BufferMessage {
	t.Helper()
	msg := models.BufferMessage{
		Kind:     kind,
		Name:     name,
		Contents: []models.Content{models.TextContent(text)},
		Time:     at,
	}
	if err := s.Append(context.Background(), conversationID, &msg); err != nil {
		t.Fatalf("Append: %v", err)
	}
	return msg
}

func TestAppendAssignsIDs(t *testing.T) {
	s := NewStore(store.NewMemoryStore())
	first := appendText(t, s, 1, models.BufferUser, "alice", "hi", 100)
	second := appendText(t, s, 1, models.BufferActor, "ema", "hello", 101)
	if first.ID == 0 || second.ID == 0 {
		t.Fatal("ids must be assigned on append")
	}
	if second.ID <= first.ID {
		t.Fatalf("ids must increase: %d then %d", first.ID, second.ID)
	}
}

func TestListAllOrdering(t *testing.T) {
	s := NewStore(store.NewMemoryStore())
	appendText(t, s, 1, models.BufferUser, "alice", "one", 100)
	appendText(t, s, 1, models.BufferActor, "ema", "two", 200)
	// Same timestamp as the previous message; insertion order must hold.
	appendText(t, s, 1, models.BufferUser, "alice", "three", 200)
	// Another conversation must not leak in.
	appendText(t, s, 2, models.BufferUser, "bob", "other", 50)

	msgs, err := s.ListAll(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"one", "two", "three"}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d", len(msgs), len(want))
	}
	for i, text := range want {
		if msgs[i].Text() != text {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Text(), text)
		}
	}
}

func TestListRecentWindow(t *testing.T) {
	s := NewStore(store.NewMemoryStore())
	for i := int64(1); i <= 5; i++ {
		appendText(t, s, 1, models.BufferUser, "alice", string(rune('a'+i-1)), i*100)
	}

	msgs, err := s.ListRecent(context.Background(), 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	// The window is the newest three, returned oldest first.
	want := []string{"c", "d", "e"}
	for i, text := range want {
		if msgs[i].Text() != text {
			t.Fatalf("msgs[%d] = %q, want %q", i, msgs[i].Text(), text)
		}
	}
}

func TestRoundTripPreservesFields(t *testing.T) {
	s := NewStore(store.NewMemoryStore())
	in := appendText(t, s, 1, models.BufferActor, "ema", "你好", 1234)

	msgs, err := s.ListAll(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	got := msgs[0]
	if got.ID != in.ID || got.Kind != models.BufferActor || got.Name != "ema" || got.Time != 1234 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Text() != "你好" {
		t.Fatalf("text = %q", got.Text())
	}
}
