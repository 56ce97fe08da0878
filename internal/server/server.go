// Package server owns the process-wide runtime: the document store, the
// LLM client, the actor worker registry, the job scheduler, and the
// HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/ema/internal/actor"
	"github.com/haasonsaas/ema/internal/agenda"
	"github.com/haasonsaas/ema/internal/agent"
	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/internal/convo"
	"github.com/haasonsaas/ema/internal/llm"
	"github.com/haasonsaas/ema/internal/memstore"
	"github.com/haasonsaas/ema/internal/store"
)

// Server wires the runtime together and owns every actor worker in the
// process.
type Server struct {
	cfg    *config.Config
	docs   store.Store
	llm    llm.Client
	logger *slog.Logger
	now    func() time.Time

	conversations *convo.Store
	shortTerm     *memstore.Memories
	longTerm      *memstore.Memories
	searcher      memstore.Searcher
	scheduler     *agenda.Scheduler

	systemPrompt string

	mu       sync.Mutex
	actors   map[actor.Key]*actor.Worker
	inflight map[actor.Key]chan struct{}

	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithStore overrides the document store, for tests.
func WithStore(docs store.Store) Option {
	return func(s *Server) { s.docs = docs }
}

// WithLLM overrides the LLM client, for tests and the REPL.
func WithLLM(client llm.Client) Option {
	return func(s *Server) { s.llm = client }
}

// New builds a server from configuration: document store per
// mongo.kind, retry-wrapped LLM client, memory stores, scheduler, and
// the system prompt template.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		logger:   slog.Default(),
		now:      time.Now,
		actors:   make(map[actor.Key]*actor.Worker),
		inflight: make(map[actor.Key]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")

	if s.docs == nil {
		docs, err := openStore(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		s.docs = docs
	}
	if s.llm == nil {
		client, err := llm.New(cfg.LLM, cfg.System, s.logger)
		if err != nil {
			return nil, fmt.Errorf("llm client: %w", err)
		}
		s.llm = client
	}

	s.conversations = convo.NewStore(s.docs)
	s.shortTerm = memstore.NewShortTerm(s.docs)
	s.longTerm = memstore.NewLongTerm(s.docs)
	s.searcher = memstore.NewKeywordSearcher(s.longTerm)
	s.scheduler = agenda.New(cfg.Agenda, s.docs, agenda.WithLogger(s.logger))

	prompt, err := loadSystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	s.systemPrompt = prompt
	return s, nil
}

func openStore(ctx context.Context, cfg config.MongoConfig) (store.Store, error) {
	switch cfg.Kind {
	case config.MongoRemote:
		docs, err := store.NewMongoStore(ctx, cfg.URI, cfg.DBName)
		if err != nil {
			return nil, fmt.Errorf("mongo store: %w", err)
		}
		return docs, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func loadSystemPrompt(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("system prompt file: %w", err)
	}
	return strings.TrimRight(string(raw), "\n"), nil
}

// Scheduler exposes the job scheduler for CLI and tool wiring.
func (s *Server) Scheduler() *agenda.Scheduler {
	return s.scheduler
}

// Store exposes the document store for snapshot commands.
func (s *Server) Store() store.Store {
	return s.docs
}

// agentConfig translates the agent section of the configuration.
func (s *Server) agentConfig() agent.Config {
	return agent.Config{
		MaxSteps:   s.cfg.Agent.MaxSteps,
		TokenLimit: s.cfg.Agent.TokenLimit,
	}
}

// Close stops the scheduler, every worker's pipelines, the HTTP server,
// and the store, in that order.
func (s *Server) Close(ctx context.Context) error {
	s.scheduler.Stop()
	s.stopHTTP(ctx)

	s.mu.Lock()
	workers := make([]*actor.Worker, 0, len(s.actors))
	for _, w := range s.actors {
		workers = append(workers, w)
	}
	s.mu.Unlock()
	for _, w := range workers {
		w.Close()
	}
	return s.docs.Close(ctx)
}
