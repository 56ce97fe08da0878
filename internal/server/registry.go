package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/ema/internal/actor"
	"github.com/haasonsaas/ema/internal/agenda"
	"github.com/haasonsaas/ema/internal/store"
	"github.com/haasonsaas/ema/internal/tools"
	"github.com/haasonsaas/ema/pkg/models"
)

// fallbackUserName is used when the user record is missing or unnamed.
const fallbackUserName = "User"

const fallbackActorName = "Ema"

// GetActor returns the worker for a key, constructing it at most once
// under concurrent lookup. A failed construction removes the in-flight
// marker so later calls retry from scratch.
func (s *Server) GetActor(ctx context.Context, userID, actorID, conversationID int64) (*actor.Worker, error) {
	key := actor.Key{UserID: userID, ActorID: actorID, ConversationID: conversationID}
	for {
		s.mu.Lock()
		if w, ok := s.actors[key]; ok {
			s.mu.Unlock()
			return w, nil
		}
		if pending, ok := s.inflight[key]; ok {
			s.mu.Unlock()
			select {
			case <-pending:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		pending := make(chan struct{})
		s.inflight[key] = pending
		s.mu.Unlock()

		w, err := s.createActor(ctx, key)
		s.mu.Lock()
		delete(s.inflight, key)
		if err == nil {
			s.actors[key] = w
		}
		s.mu.Unlock()
		close(pending)

		if err != nil {
			return nil, fmt.Errorf("create actor %s: %w", key, err)
		}
		return w, nil
	}
}

// createActor loads the participants, ensures the conversation record
// exists, and constructs the worker with its tool set.
func (s *Server) createActor(ctx context.Context, key actor.Key) (*actor.Worker, error) {
	userName, err := s.loadUserName(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	actorName, promptOverride, err := s.loadActorPersona(ctx, key.ActorID)
	if err != nil {
		return nil, err
	}

	// Only a brand-new conversation gets a created_at; re-creating the
	// worker for an existing one must not reset it.
	matched, err := s.docs.UpdateOne(ctx, store.CollConversations,
		store.Filter{"id": key.ConversationID},
		store.Doc{"$set": store.Doc{
			"user_id":  key.UserID,
			"actor_id": key.ActorID,
		}})
	if err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	if !matched {
		_, err = s.docs.Insert(ctx, store.CollConversations, store.Doc{
			"id":         key.ConversationID,
			"user_id":    key.UserID,
			"actor_id":   key.ActorID,
			"created_at": s.now().UnixMilli(),
		})
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
	}

	template := s.systemPrompt
	if promptOverride != "" {
		template = promptOverride
	}

	agentCfg := s.agentConfig()
	toolSet := tools.ForConfig(s.cfg.Tools, agentCfg, tools.Deps{
		ShortTerm: s.shortTerm,
		LongTerm:  s.longTerm,
		Searcher:  s.searcher,
		Scheduler: s.scheduler,
	})

	cfg := actor.Config{
		Key:                  key,
		UserName:             userName,
		ActorName:            actorName,
		SystemPromptTemplate: template,
		MemoryWindow:         s.cfg.Agent.MemoryWindow,
		Agent:                agentCfg,
	}
	stores := actor.Stores{
		Conversations: s.conversations,
		ShortTerm:     s.shortTerm,
		LongTerm:      s.longTerm,
		Searcher:      s.searcher,
	}
	return actor.New(cfg, s.llm, stores,
		actor.WithTools(toolSet),
		actor.WithLogger(s.logger),
		actor.WithNow(s.now),
	), nil
}

func (s *Server) loadUserName(ctx context.Context, userID int64) (string, error) {
	docs, err := s.docs.List(ctx, store.CollUsers, store.Filter{"id": userID}, 1, nil)
	if err != nil {
		return "", fmt.Errorf("load user %d: %w", userID, err)
	}
	if len(docs) == 0 {
		return fallbackUserName, nil
	}
	if name, ok := docs[0]["name"].(string); ok && name != "" {
		return name, nil
	}
	return fallbackUserName, nil
}

// loadActorPersona returns the actor's display name and, when the actor
// references a role card, the card's system prompt as the template.
func (s *Server) loadActorPersona(ctx context.Context, actorID int64) (name, prompt string, err error) {
	docs, err := s.docs.List(ctx, store.CollActors, store.Filter{"id": actorID}, 1, nil)
	if err != nil {
		return "", "", fmt.Errorf("load actor %d: %w", actorID, err)
	}
	if len(docs) == 0 {
		return fallbackActorName, "", nil
	}
	name = fallbackActorName
	if n, ok := docs[0]["name"].(string); ok && n != "" {
		name = n
	}
	roleID := docInt64(docs[0], "role_id")
	if roleID == 0 {
		return name, "", nil
	}
	roles, err := s.docs.List(ctx, store.CollRoles, store.Filter{"id": roleID}, 1, nil)
	if err != nil {
		return "", "", fmt.Errorf("load role %d: %w", roleID, err)
	}
	if len(roles) > 0 {
		if p, ok := roles[0]["system_prompt"].(string); ok {
			prompt = p
		}
	}
	return name, prompt, nil
}

// HandleActorMessage is the agenda handler that delivers a scheduled
// message to its actor as a fresh input, re-entering through GetActor.
func (s *Server) HandleActorMessage(ctx context.Context, job *agenda.Job) error {
	var data tools.ActorMessageData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return fmt.Errorf("decode actor_message data: %w", err)
	}
	if data.Text == "" {
		return fmt.Errorf("actor_message with empty text")
	}
	w, err := s.GetActor(ctx, data.UserID, data.ActorID, data.ConversationID)
	if err != nil {
		return err
	}
	return w.Work(ctx, []models.Content{models.TextContent(data.Text)})
}

func docInt64(doc store.Doc, key string) int64 {
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
