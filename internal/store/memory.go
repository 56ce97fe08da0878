package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps every collection in process memory. It backs tests and
// local runs where no MongoDB is available.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string][]Doc
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string][]Doc)}
}

// Insert adds a document.
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc Doc) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := cloneDoc(doc)
	s.collections[collection] = append(s.collections[collection], stored)
	return cloneDoc(stored), nil
}

// Upsert replaces the first match or inserts.
func (s *MemoryStore) Upsert(ctx context.Context, collection string, filter Filter, doc Doc) (Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	for i, existing := range docs {
		if matchDoc(existing, filter) {
			docs[i] = cloneDoc(doc)
			return cloneDoc(docs[i]), nil
		}
	}
	stored := cloneDoc(doc)
	s.collections[collection] = append(docs, stored)
	return cloneDoc(stored), nil
}

// UpdateOne applies an update document to the first match.
func (s *MemoryStore) UpdateOne(ctx context.Context, collection string, filter Filter, update Doc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections[collection] {
		if matchDoc(existing, filter) {
			return true, applyUpdate(existing, update)
		}
	}
	return false, nil
}

// FindOneAndUpdate atomically updates and returns the first match in sort
// order.
func (s *MemoryStore) FindOneAndUpdate(ctx context.Context, collection string, filter Filter, update Doc, sortBy []SortField) (Doc, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := s.matchingLocked(collection, filter)
	if len(candidates) == 0 {
		return nil, false, nil
	}
	sortDocs(candidates, sortBy)
	target := candidates[0]
	if err := applyUpdate(target, update); err != nil {
		return nil, false, err
	}
	return cloneDoc(target), true, nil
}

// Delete removes every match.
func (s *MemoryStore) Delete(ctx context.Context, collection string, filter Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	kept := docs[:0]
	var removed int64
	for _, existing := range docs {
		if matchDoc(existing, filter) {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	s.collections[collection] = kept
	return removed, nil
}

// List returns matching documents sorted and limited.
func (s *MemoryStore) List(ctx context.Context, collection string, filter Filter, limit int64, sortBy []SortField) ([]Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := s.matchingLocked(collection, filter)
	sortDocs(matched, sortBy)
	if limit > 0 && int64(len(matched)) > limit {
		matched = matched[:limit]
	}
	out := make([]Doc, len(matched))
	for i, doc := range matched {
		out[i] = cloneDoc(doc)
	}
	return out, nil
}

// CreateIndex is a no-op for the memory store; callers that need
// uniqueness serialize their own check-then-insert.
func (s *MemoryStore) CreateIndex(ctx context.Context, collection string, keys []SortField, unique bool) error {
	return nil
}

// NextID increments and returns the named sequence, persisted in util so
// snapshots carry counters along.
func (s *MemoryStore) NextID(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.collections[CollUtil] {
		if existing["seq"] == name {
			next, _ := asFloat(existing["value"])
			existing["value"] = int64(next) + 1
			return int64(next) + 1, nil
		}
	}
	s.collections[CollUtil] = append(s.collections[CollUtil], Doc{"seq": name, "value": int64(1)})
	return 1, nil
}

// SnapshotAll dumps the named collections in order.
func (s *MemoryStore) SnapshotAll(ctx context.Context, names []string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := &Snapshot{
		Names:       append([]string(nil), names...),
		Collections: make(map[string][]Doc, len(names)),
	}
	for _, name := range names {
		docs := s.collections[name]
		out := make([]Doc, len(docs))
		for i, doc := range docs {
			out[i] = cloneDoc(doc)
		}
		snapshot.Collections[name] = out
	}
	return snapshot, nil
}

// RestoreAll replaces the snapshot's collections.
func (s *MemoryStore) RestoreAll(ctx context.Context, snapshot *Snapshot) error {
	if snapshot == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range snapshot.Names {
		docs := snapshot.Collections[name]
		out := make([]Doc, len(docs))
		for i, doc := range docs {
			out[i] = cloneDoc(doc)
		}
		s.collections[name] = out
	}
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) matchingLocked(collection string, filter Filter) []Doc {
	var matched []Doc
	for _, existing := range s.collections[collection] {
		if matchDoc(existing, filter) {
			matched = append(matched, existing)
		}
	}
	return matched
}

func sortDocs(docs []Doc, sortBy []SortField) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range sortBy {
			a, _ := lookup(docs[i], field.Field)
			b, _ := lookup(docs[j], field.Field)
			cmp, ok := compare(a, b)
			if !ok || cmp == 0 {
				continue
			}
			if field.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
