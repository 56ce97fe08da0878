package store

import (
	"context"
	"testing"
)

func TestInsertAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if _, err := s.Insert(ctx, CollUsers, Doc{"id": i, "name": "u"}); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := s.List(ctx, CollUsers, Filter{}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 3 {
		t.Fatalf("len = %d, want 3", len(docs))
	}

	docs, err = s.List(ctx, CollUsers, Filter{"id": map[string]any{"$gte": int64(2)}}, 0, []SortField{{Field: "id", Desc: true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("filtered len = %d, want 2", len(docs))
	}
	if got, _ := docs[0]["id"].(int64); got != 3 {
		t.Fatalf("descending sort first id = %v, want 3", docs[0]["id"])
	}
}

func TestListLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if _, err := s.Insert(ctx, CollConversationMessages, Doc{"time": i}); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.List(ctx, CollConversationMessages, Filter{}, 2, []SortField{{Field: "time", Desc: true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Fatalf("len = %d, want 2", len(docs))
	}
	if got, _ := docs[0]["time"].(int64); got != 5 {
		t.Fatalf("first time = %v, want 5", docs[0]["time"])
	}
}

func TestUpsertReplacesMatch(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Upsert(ctx, CollConversations, Filter{"id": int64(1)}, Doc{"id": int64(1), "user_id": int64(7)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Upsert(ctx, CollConversations, Filter{"id": int64(1)}, Doc{"id": int64(1), "user_id": int64(9)}); err != nil {
		t.Fatal(err)
	}

	docs, err := s.List(ctx, CollConversations, Filter{"id": int64(1)}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("upsert created duplicates: %d docs", len(docs))
	}
	if got, _ := docs[0]["user_id"].(int64); got != 9 {
		t.Fatalf("user_id = %v, want 9", docs[0]["user_id"])
	}
}

func TestUpdateOneAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, CollAgenda, Doc{"id": "a", "state": "idle"}); err != nil {
		t.Fatal(err)
	}

	ok, err := s.UpdateOne(ctx, CollAgenda, Filter{"id": "a"}, Doc{"$set": map[string]any{"state": "running"}})
	if err != nil || !ok {
		t.Fatalf("UpdateOne = %v, %v", ok, err)
	}
	ok, err = s.UpdateOne(ctx, CollAgenda, Filter{"id": "missing"}, Doc{"$set": map[string]any{"state": "x"}})
	if err != nil || ok {
		t.Fatalf("UpdateOne on missing = %v, %v; want false, nil", ok, err)
	}

	n, err := s.Delete(ctx, CollAgenda, Filter{"id": "a"})
	if err != nil || n != 1 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
}

func TestFindOneAndUpdatePicksSortedFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, CollAgenda, Doc{"id": "late", "run_at": int64(200)}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Insert(ctx, CollAgenda, Doc{"id": "early", "run_at": int64(100)}); err != nil {
		t.Fatal(err)
	}

	doc, ok, err := s.FindOneAndUpdate(ctx, CollAgenda,
		Filter{"run_at": map[string]any{"$lte": int64(300)}},
		Doc{"$set": map[string]any{"locked": true}},
		[]SortField{{Field: "run_at"}},
	)
	if err != nil || !ok {
		t.Fatalf("FindOneAndUpdate: %v, %v", ok, err)
	}
	if doc["id"] != "early" {
		t.Fatalf("picked %v, want early", doc["id"])
	}
	if doc["locked"] != true {
		t.Fatalf("update not applied: %v", doc)
	}

	_, ok, err = s.FindOneAndUpdate(ctx, CollAgenda, Filter{"id": "none"}, Doc{"$set": map[string]any{"x": 1}}, nil)
	if err != nil || ok {
		t.Fatalf("missing doc: ok=%v err=%v", ok, err)
	}
}

func TestFilterOperators(t *testing.T) {
	doc := Doc{"name": "test", "count": int64(5), "inner": map[string]any{"flag": true}}
	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"equality", Filter{"name": "test"}, true},
		{"equality mismatch", Filter{"name": "other"}, false},
		{"numeric cross-type equality", Filter{"count": 5}, true},
		{"lt", Filter{"count": map[string]any{"$lt": 6}}, true},
		{"lte boundary", Filter{"count": map[string]any{"$lte": int64(5)}}, true},
		{"gt fails", Filter{"count": map[string]any{"$gt": 5}}, false},
		{"in", Filter{"name": map[string]any{"$in": []any{"a", "test"}}}, true},
		{"ne", Filter{"name": map[string]any{"$ne": "other"}}, true},
		{"exists true", Filter{"count": map[string]any{"$exists": true}}, true},
		{"exists false on present", Filter{"count": map[string]any{"$exists": false}}, false},
		{"exists false on absent", Filter{"missing": map[string]any{"$exists": false}}, true},
		{"dotted path", Filter{"inner.flag": true}, true},
		{"or", Filter{"$or": []Filter{{"name": "x"}, {"count": 5}}}, true},
		{"or all fail", Filter{"$or": []Filter{{"name": "x"}, {"count": 9}}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchDoc(doc, tc.filter); got != tc.want {
				t.Fatalf("matchDoc = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextIDSequences(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := s.NextID(ctx, "users")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("NextID = %d, want %d", got, want)
		}
	}
	other, err := s.NextID(ctx, "actors")
	if err != nil {
		t.Fatal(err)
	}
	if other != 1 {
		t.Fatalf("independent sequence = %d, want 1", other)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, CollUsers, Doc{"id": int64(1), "name": "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.NextID(ctx, "users"); err != nil {
		t.Fatal(err)
	}

	snapshot, err := s.SnapshotAll(ctx, SnapshotCollections)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshot.Names) != len(SnapshotCollections) {
		t.Fatalf("snapshot names = %d, want %d", len(snapshot.Names), len(SnapshotCollections))
	}
	for i, name := range SnapshotCollections {
		if snapshot.Names[i] != name {
			t.Fatalf("snapshot order differs at %d: %s", i, snapshot.Names[i])
		}
	}

	restored := NewMemoryStore()
	if err := restored.RestoreAll(ctx, snapshot); err != nil {
		t.Fatal(err)
	}
	docs, err := restored.List(ctx, CollUsers, Filter{"name": "alice"}, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("restored users = %d, want 1", len(docs))
	}
	// The sequence carried over through util.
	next, err := restored.NextID(ctx, "users")
	if err != nil {
		t.Fatal(err)
	}
	if next != 2 {
		t.Fatalf("restored sequence next = %d, want 2", next)
	}
}

func TestListReturnsClones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if _, err := s.Insert(ctx, CollUsers, Doc{"id": int64(1), "name": "a"}); err != nil {
		t.Fatal(err)
	}
	docs, _ := s.List(ctx, CollUsers, Filter{}, 0, nil)
	docs[0]["name"] = "mutated"

	fresh, _ := s.List(ctx, CollUsers, Filter{}, 0, nil)
	if fresh[0]["name"] != "a" {
		t.Fatal("List must return defensive copies")
	}
}
