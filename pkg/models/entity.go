package models

// User is a human account known to the server.
type User struct {
	ID        int64  `json:"id" bson:"id"`
	Name      string `json:"name" bson:"name"`
	CreatedAt int64  `json:"created_at" bson:"created_at"`
}

// RoleCard is a reusable persona definition an actor can be created from.
type RoleCard struct {
	ID           int64  `json:"id" bson:"id"`
	Name         string `json:"name" bson:"name"`
	SystemPrompt string `json:"system_prompt" bson:"system_prompt"`
	CreatedAt    int64  `json:"created_at" bson:"created_at"`
}

// Actor is an AI persona instance.
type Actor struct {
	ID        int64  `json:"id" bson:"id"`
	RoleID    int64  `json:"role_id,omitempty" bson:"role_id,omitempty"`
	Name      string `json:"name" bson:"name"`
	CreatedAt int64  `json:"created_at" bson:"created_at"`
}

// UserActorRelation links a user to an actor they converse with.
type UserActorRelation struct {
	ID        int64 `json:"id" bson:"id"`
	UserID    int64 `json:"user_id" bson:"user_id"`
	ActorID   int64 `json:"actor_id" bson:"actor_id"`
	CreatedAt int64 `json:"created_at" bson:"created_at"`
}

// Conversation groups the buffer messages exchanged between one user and
// one actor.
type Conversation struct {
	ID        int64 `json:"id" bson:"id"`
	UserID    int64 `json:"user_id" bson:"user_id"`
	ActorID   int64 `json:"actor_id" bson:"actor_id"`
	CreatedAt int64 `json:"created_at" bson:"created_at"`
}

// MemoryItem is one short-term or long-term memory entry attached to a
// (user, actor) pair.
type MemoryItem struct {
	ID        int64  `json:"id" bson:"id"`
	UserID    int64  `json:"user_id" bson:"user_id"`
	ActorID   int64  `json:"actor_id" bson:"actor_id"`
	Content   string `json:"content" bson:"content"`
	CreatedAt int64  `json:"created_at" bson:"created_at"`
}
