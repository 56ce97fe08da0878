// Package convo persists ordered conversation buffer messages on the
// shared document store.
package convo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/ema/internal/store"
	"github.com/haasonsaas/ema/pkg/models"
)

// Store appends and lists buffer messages for conversations. Ordering
// within a conversation follows (time, id): ids are monotonic per process,
// which keeps same-millisecond appends in insertion order.
type Store struct {
	docs store.Store
}

// NewStore wraps the document store.
func NewStore(docs store.Store) *Store {
	return &Store{docs: docs}
}

// Append persists one buffer message at the end of the conversation.
// The message id is assigned by the store and reflected back.
func (s *Store) Append(ctx context.Context, conversationID int64, msg *models.BufferMessage) error {
	id, err := s.docs.NextID(ctx, store.CollConversationMessages)
	if err != nil {
		return fmt.Errorf("assign message id: %w", err)
	}
	msg.ID = id

	doc, err := encodeMessage(conversationID, *msg)
	if err != nil {
		return err
	}
	if _, err := s.docs.Insert(ctx, store.CollConversationMessages, doc); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListRecent returns up to limit of the most recent messages, in forward
// time order (oldest of the window first).
func (s *Store) ListRecent(ctx context.Context, conversationID int64, limit int64) ([]models.BufferMessage, error) {
	docs, err := s.docs.List(ctx, store.CollConversationMessages,
		store.Filter{"conversation_id": conversationID},
		limit,
		[]store.SortField{{Field: "time", Desc: true}, {Field: "id", Desc: true}},
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]models.BufferMessage, 0, len(docs))
	for i := len(docs) - 1; i >= 0; i-- {
		msg, err := decodeMessage(docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

// ListAll returns the full conversation in forward time order.
func (s *Store) ListAll(ctx context.Context, conversationID int64) ([]models.BufferMessage, error) {
	docs, err := s.docs.List(ctx, store.CollConversationMessages,
		store.Filter{"conversation_id": conversationID},
		0,
		[]store.SortField{{Field: "time"}, {Field: "id"}},
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]models.BufferMessage, 0, len(docs))
	for _, doc := range docs {
		msg, err := decodeMessage(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func encodeMessage(conversationID int64, msg models.BufferMessage) (store.Doc, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var doc store.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	doc["conversation_id"] = conversationID
	doc["created_at"] = msg.Time
	// Keep the id field integral; json round-tripping turns it into a float.
	doc["id"] = msg.ID
	doc["time"] = msg.Time
	return doc, nil
}

func decodeMessage(doc store.Doc) (models.BufferMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return models.BufferMessage{}, fmt.Errorf("decode message: %w", err)
	}
	var msg models.BufferMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.BufferMessage{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}
