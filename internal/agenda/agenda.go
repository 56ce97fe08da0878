// Package agenda is a persistent job scheduler backed by the document
// store. Jobs survive restarts; dispatch is at-least-once with per-job
// lock documents and bounded concurrency.
package agenda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/ema/internal/config"
	"github.com/haasonsaas/ema/internal/store"
)

// State is the scheduler lifecycle: idle → running → stopping → idle.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Job is one persisted schedule entry. A job with an empty Interval is
// one-shot and deleted after a successful run; otherwise RunAt advances
// by the interval after every firing.
type Job struct {
	ID        string          `json:"id" bson:"id"`
	Name      string          `json:"name" bson:"name"`
	RunAt     int64           `json:"run_at" bson:"run_at"`
	Interval  string          `json:"interval,omitempty" bson:"interval,omitempty"`
	Data      json.RawMessage `json:"data,omitempty" bson:"data,omitempty"`
	Unique    json.RawMessage `json:"unique,omitempty" bson:"unique,omitempty"`
	UniqueKey string          `json:"unique_key" bson:"unique_key"`
	LockedAt  int64           `json:"locked_at,omitempty" bson:"locked_at,omitempty"`
	LastRunAt int64           `json:"last_run_at,omitempty" bson:"last_run_at,omitempty"`
	FailCount int64           `json:"fail_count,omitempty" bson:"fail_count,omitempty"`
	LastError string          `json:"last_error,omitempty" bson:"last_error,omitempty"`
	CreatedAt int64           `json:"created_at" bson:"created_at"`
}

// Spec describes a job to schedule. RunAt is the earliest fire time;
// Interval, when set, is either a Go duration string or a cron
// expression. Unique, when set on a recurring job, collapses schedules
// with the same name and key into one record.
type Spec struct {
	Name     string
	RunAt    time.Time
	Interval string
	Data     json.RawMessage
	Unique   json.RawMessage
}

// Handler executes one due job. A returned error marks the job failed
// but never corrupts scheduling state.
type Handler func(ctx context.Context, job *Job) error

// Scheduler persists and dispatches jobs. Public operations are safe
// for concurrent use; Schedule and friends work before Start.
type Scheduler struct {
	cfg    config.AgendaConfig
	docs   store.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	handlers map[string]Handler
	running  map[string]struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// uniqueMu serializes the find-then-insert in scheduleUnique so
	// concurrent schedules with the same key collapse onto one record.
	uniqueMu sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New builds a scheduler over the agenda collection.
func New(cfg config.AgendaConfig, docs store.Store, opts ...Option) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		docs:    docs,
		logger:  slog.Default(),
		now:     time.Now,
		state:   StateIdle,
		running: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "agenda")
	return s
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schedule persists a one-shot job and returns its id.
func (s *Scheduler) Schedule(ctx context.Context, spec Spec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("schedule: job name required")
	}
	id := uuid.NewString()
	job := Job{
		ID:        id,
		Name:      spec.Name,
		RunAt:     spec.RunAt.UnixMilli(),
		Data:      spec.Data,
		UniqueKey: id,
		CreatedAt: s.now().UnixMilli(),
	}
	if err := s.insert(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// ScheduleEvery persists a recurring job. The first firing is never
// immediate: a missing or past RunAt is replaced with the next interval
// occurrence. When Unique is set and a job with the same name and key
// exists, the existing id is returned and no record is created.
func (s *Scheduler) ScheduleEvery(ctx context.Context, spec Spec) (string, error) {
	if spec.Name == "" {
		return "", fmt.Errorf("scheduleEvery: job name required")
	}
	sched, err := parseInterval(spec.Interval)
	if err != nil {
		return "", fmt.Errorf("scheduleEvery: %w", err)
	}

	if len(spec.Unique) > 0 {
		return s.scheduleUnique(ctx, spec, sched)
	}

	id := uuid.NewString()
	job := s.recurringJob(id, spec, sched, id)
	if err := s.insert(ctx, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// scheduleUnique inserts a recurring job unless one with the same name
// and unique key already exists, in which case the existing id is
// returned. The check and the insert are atomic: uniqueMu serializes
// schedulers in this process, and the unique index on unique_key rejects
// a duplicate racing in from another process, in which case the winner's
// record is returned.
func (s *Scheduler) scheduleUnique(ctx context.Context, spec Spec, sched schedule) (string, error) {
	key, err := uniqueKey(spec.Name, spec.Unique)
	if err != nil {
		return "", err
	}

	s.uniqueMu.Lock()
	defer s.uniqueMu.Unlock()

	if id, err := s.findByUniqueKey(ctx, key); err != nil || id != "" {
		return id, err
	}
	job := s.recurringJob(uuid.NewString(), spec, sched, key)
	if err := s.insert(ctx, job); err != nil {
		if id, findErr := s.findByUniqueKey(ctx, key); findErr == nil && id != "" {
			return id, nil
		}
		return "", err
	}
	return job.ID, nil
}

func (s *Scheduler) recurringJob(id string, spec Spec, sched schedule, key string) Job {
	now := s.now()
	runAt := spec.RunAt
	if runAt.IsZero() || !runAt.After(now) {
		runAt = sched.next(now)
	}
	return Job{
		ID:        id,
		Name:      spec.Name,
		RunAt:     runAt.UnixMilli(),
		Interval:  spec.Interval,
		Data:      spec.Data,
		Unique:    spec.Unique,
		UniqueKey: key,
		CreatedAt: now.UnixMilli(),
	}
}

// Reschedule overwrites a one-shot job's name, data, and fire time. An
// empty spec.Data clears the payload. It returns false when the job does
// not exist or is currently running.
func (s *Scheduler) Reschedule(ctx context.Context, id string, spec Spec) (bool, error) {
	if s.isRunning(id) {
		return false, nil
	}
	update := store.Doc{
		"name":   spec.Name,
		"run_at": spec.RunAt.UnixMilli(),
		"data":   rawToAny(spec.Data),
	}
	return s.applyUpdate(ctx, id, update)
}

// RescheduleEvery is Reschedule for recurring jobs; it also updates the
// interval after validating it.
func (s *Scheduler) RescheduleEvery(ctx context.Context, id string, spec Spec) (bool, error) {
	if s.isRunning(id) {
		return false, nil
	}
	sched, err := parseInterval(spec.Interval)
	if err != nil {
		return false, fmt.Errorf("rescheduleEvery: %w", err)
	}
	runAt := spec.RunAt
	if runAt.IsZero() || !runAt.After(s.now()) {
		runAt = sched.next(s.now())
	}
	update := store.Doc{
		"name":     spec.Name,
		"run_at":   runAt.UnixMilli(),
		"interval": spec.Interval,
		"data":     rawToAny(spec.Data),
	}
	return s.applyUpdate(ctx, id, update)
}

// Cancel deletes a job. It returns false when the job does not exist or
// is currently running.
func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, error) {
	if s.isRunning(id) {
		return false, nil
	}
	deleted, err := s.docs.Delete(ctx, store.CollAgenda, store.Filter{"id": id})
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// GetJob returns the job with the given id, or store.ErrNotFound.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	docs, err := s.docs.List(ctx, store.CollAgenda, store.Filter{"id": id}, 1, nil)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeJob(docs[0])
}

// ListJobs returns jobs matching the filter, soonest first.
func (s *Scheduler) ListJobs(ctx context.Context, filter store.Filter) ([]*Job, error) {
	docs, err := s.docs.List(ctx, store.CollAgenda, filter, 0,
		[]store.SortField{{Field: "run_at"}})
	if err != nil {
		return nil, err
	}
	jobs := make([]*Job, 0, len(docs))
	for _, doc := range docs {
		job, err := decodeJob(doc)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Scheduler) isRunning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[id]
	return ok
}

func (s *Scheduler) insert(ctx context.Context, job Job) error {
	doc, err := encodeJob(job)
	if err != nil {
		return err
	}
	if _, err := s.docs.Insert(ctx, store.CollAgenda, doc); err != nil {
		return fmt.Errorf("persist job %s: %w", job.Name, err)
	}
	return nil
}

// applyUpdate sets the given fields on one job; nil values clear the
// field instead.
func (s *Scheduler) applyUpdate(ctx context.Context, id string, fields store.Doc) (bool, error) {
	set := store.Doc{}
	unset := store.Doc{}
	for field, value := range fields {
		if value == nil {
			unset[field] = ""
			continue
		}
		set[field] = value
	}
	update := store.Doc{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	matched, err := s.docs.UpdateOne(ctx, store.CollAgenda, store.Filter{"id": id}, update)
	if err != nil {
		return false, err
	}
	return matched, nil
}

// findByUniqueKey returns the id of the job carrying the given key, or
// "" when none exists.
func (s *Scheduler) findByUniqueKey(ctx context.Context, key string) (string, error) {
	docs, err := s.docs.List(ctx, store.CollAgenda, store.Filter{"unique_key": key}, 1, nil)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return "", nil
	}
	job, err := decodeJob(docs[0])
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// uniqueKey derives the persisted collapse key for a name and unique
// filter. Keys with the same fields compare equal regardless of source
// formatting. Jobs without a unique filter store their own id as the
// key, keeping the unique index total.
func uniqueKey(name string, unique json.RawMessage) (string, error) {
	canon, err := canonicalJSON(unique)
	if err != nil {
		return "", fmt.Errorf("unique key: %w", err)
	}
	return name + ":" + string(canon), nil
}

// encodeJob round-trips through JSON so the store only ever sees
// generic document types.
func encodeJob(job Job) (store.Doc, error) {
	raw, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	var doc store.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func decodeJob(doc store.Doc) (*Job, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func rawToAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// canonicalJSON re-marshals a JSON value so logically equal keys
// compare byte-equal regardless of source formatting.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
