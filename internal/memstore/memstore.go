// Package memstore persists per-(user, actor) short-term and long-term
// memories and provides recall over the long-term set. Semantic recall is
// pluggable; the built-in searcher does keyword matching so local runs
// work without a vector backend.
package memstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/ema/internal/store"
	"github.com/haasonsaas/ema/pkg/models"
)

// Memories is one memory collection (short-term or long-term).
type Memories struct {
	docs       store.Store
	collection string
}

// NewShortTerm returns the short-term memory store.
func NewShortTerm(docs store.Store) *Memories {
	return &Memories{docs: docs, collection: store.CollShortTermMemories}
}

// NewLongTerm returns the long-term memory store.
func NewLongTerm(docs store.Store) *Memories {
	return &Memories{docs: docs, collection: store.CollLongTermMemories}
}

// Add persists a memory item and returns it with its assigned id.
func (m *Memories) Add(ctx context.Context, userID, actorID int64, content string) (models.MemoryItem, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.MemoryItem{}, &models.ValidationError{Field: "content", Reason: "memory content is empty"}
	}
	id, err := m.docs.NextID(ctx, m.collection)
	if err != nil {
		return models.MemoryItem{}, fmt.Errorf("assign memory id: %w", err)
	}
	item := models.MemoryItem{
		ID:        id,
		UserID:    userID,
		ActorID:   actorID,
		Content:   content,
		CreatedAt: time.Now().UnixMilli(),
	}
	doc := store.Doc{
		"id":         item.ID,
		"user_id":    item.UserID,
		"actor_id":   item.ActorID,
		"content":    item.Content,
		"created_at": item.CreatedAt,
	}
	if _, err := m.docs.Insert(ctx, m.collection, doc); err != nil {
		return models.MemoryItem{}, fmt.Errorf("add memory: %w", err)
	}
	return item, nil
}

// List returns up to limit memories for the pair, newest first (0 = all).
func (m *Memories) List(ctx context.Context, userID, actorID, limit int64) ([]models.MemoryItem, error) {
	docs, err := m.docs.List(ctx, m.collection,
		store.Filter{"user_id": userID, "actor_id": actorID},
		limit,
		[]store.SortField{{Field: "created_at", Desc: true}, {Field: "id", Desc: true}},
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	return decodeItems(docs), nil
}

// Searcher recalls long-term memories for a keyword query. Vector-backed
// implementations satisfy this interface; KeywordSearcher is the built-in
// fallback.
type Searcher interface {
	Search(ctx context.Context, userID, actorID int64, keywords []string) ([]models.MemoryItem, error)
}

// KeywordSearcher matches memories whose content contains any keyword,
// case-insensitively.
type KeywordSearcher struct {
	memories *Memories
}

// NewKeywordSearcher builds a searcher over the given memory store.
func NewKeywordSearcher(memories *Memories) *KeywordSearcher {
	return &KeywordSearcher{memories: memories}
}

// Search returns matching memories, newest first.
func (s *KeywordSearcher) Search(ctx context.Context, userID, actorID int64, keywords []string) ([]models.MemoryItem, error) {
	items, err := s.memories.List(ctx, userID, actorID, 0)
	if err != nil {
		return nil, err
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return nil, &models.ValidationError{Field: "keywords", Reason: "at least one keyword is required"}
	}
	var matched []models.MemoryItem
	for _, item := range items {
		content := strings.ToLower(item.Content)
		for _, kw := range lowered {
			if strings.Contains(content, kw) {
				matched = append(matched, item)
				break
			}
		}
	}
	return matched, nil
}

func decodeItems(docs []store.Doc) []models.MemoryItem {
	out := make([]models.MemoryItem, 0, len(docs))
	for _, doc := range docs {
		out = append(out, models.MemoryItem{
			ID:        docInt(doc, "id"),
			UserID:    docInt(doc, "user_id"),
			ActorID:   docInt(doc, "actor_id"),
			Content:   docString(doc, "content"),
			CreatedAt: docInt(doc, "created_at"),
		})
	}
	return out
}

func docInt(doc store.Doc, key string) int64 {
	switch v := doc[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func docString(doc store.Doc, key string) string {
	s, _ := doc[key].(string)
	return s
}
