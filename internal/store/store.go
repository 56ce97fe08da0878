// Package store provides the shared document store behind conversations,
// memories, and scheduled jobs. Two implementations exist: an in-memory
// store for tests and local runs, and a MongoDB-backed store for remote
// deployments. Both understand the same small filter dialect.
package store

import (
	"context"
	"errors"
)

// Stable collection names used across the process. SnapshotCollections
// fixes both the set and the order snapshots are taken in.
const (
	CollRoles                = "roles"
	CollActors               = "actors"
	CollUsers                = "users"
	CollUserActorRelations   = "user_actor_relations"
	CollConversations        = "conversations"
	CollConversationMessages = "conversation_messages"
	CollShortTermMemories    = "short_term_memories"
	CollLongTermMemories     = "long_term_memories"
	CollAgenda               = "agenda"
	CollUtil                 = "util"
)

// SnapshotCollections lists every collection included in a snapshot, in
// the fixed order they are dumped and restored.
var SnapshotCollections = []string{
	CollRoles,
	CollActors,
	CollUsers,
	CollUserActorRelations,
	CollConversations,
	CollConversationMessages,
	CollShortTermMemories,
	CollLongTermMemories,
	CollAgenda,
	CollUtil,
}

// Doc is one stored document.
type Doc = map[string]any

// Filter selects documents. Keys are field names matched by equality, or
// the operators $or (list of filters) at the top level and $lt, $lte, $gt,
// $gte, $in, $ne, $exists nested under a field.
type Filter = map[string]any

// SortField orders query results.
type SortField struct {
	Field string
	Desc  bool
}

// Snapshot is a point-in-time dump of a fixed, ordered set of collections.
type Snapshot struct {
	Names       []string         `json:"names"`
	Collections map[string][]Doc `json:"collections"`
}

// ErrNotFound is returned by operations that require an existing document.
var ErrNotFound = errors.New("store: document not found")

// Store is the document store consumed by the runtime. Operations are
// independent and safe under concurrent invocation.
type Store interface {
	// Insert adds a document and returns it as stored.
	Insert(ctx context.Context, collection string, doc Doc) (Doc, error)
	// Upsert replaces the first document matching filter with doc, or
	// inserts doc when nothing matches. Returns the stored document.
	Upsert(ctx context.Context, collection string, filter Filter, doc Doc) (Doc, error)
	// UpdateOne applies a $set/$unset/$inc update document to the first
	// match. Returns false when nothing matched.
	UpdateOne(ctx context.Context, collection string, filter Filter, update Doc) (bool, error)
	// FindOneAndUpdate atomically applies update to the first match in
	// sort order and returns the updated document, or ok=false when
	// nothing matched.
	FindOneAndUpdate(ctx context.Context, collection string, filter Filter, update Doc, sort []SortField) (Doc, bool, error)
	// Delete removes every matching document and returns the count.
	Delete(ctx context.Context, collection string, filter Filter) (int64, error)
	// List returns matching documents, sorted, up to limit (0 = all).
	List(ctx context.Context, collection string, filter Filter, limit int64, sort []SortField) ([]Doc, error)
	// CreateIndex declares an index. The memory store records but does
	// not enforce non-unique indexes.
	CreateIndex(ctx context.Context, collection string, keys []SortField, unique bool) error
	// NextID returns the next value of the named integer sequence,
	// starting at 1. Sequences persist in the util collection.
	NextID(ctx context.Context, name string) (int64, error)
	// SnapshotAll dumps the named collections in order.
	SnapshotAll(ctx context.Context, names []string) (*Snapshot, error)
	// RestoreAll replaces the snapshot's collections with its contents.
	RestoreAll(ctx context.Context, snapshot *Snapshot) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}
