package agenda

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/haasonsaas/ema/internal/store"
)

// Start registers handlers and begins dispatching due jobs. It is
// idempotent while running. Handlers must be registered up front; jobs
// whose name has no handler are left untouched.
func (s *Scheduler) Start(handlers map[string]Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateRunning:
		return nil
	case StateStopping:
		return fmt.Errorf("agenda: scheduler is stopping")
	}
	if len(handlers) == 0 {
		return fmt.Errorf("agenda: at least one handler required")
	}

	registered := make(map[string]Handler, len(handlers))
	names := make([]any, 0, len(handlers))
	for name, h := range handlers {
		if h == nil {
			return fmt.Errorf("agenda: nil handler for %q", name)
		}
		registered[name] = h
		names = append(names, name)
	}
	s.handlers = registered

	s.ensureUniqueIndex()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateRunning
	s.wg.Add(1)
	go s.dispatchLoop(ctx, names)
	s.logger.Info("scheduler started", "handlers", len(handlers))
	return nil
}

// Stop drains in-flight work and returns the scheduler to idle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

// ensureUniqueIndex declares the unique_key index backing the unique
// schedule collapse across processes. The memory store records it as a
// no-op; its collapse is serialized in-process instead.
func (s *Scheduler) ensureUniqueIndex() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.docs.CreateIndex(ctx, store.CollAgenda,
		[]store.SortField{{Field: "unique_key"}}, true)
	if err != nil {
		s.logger.Warn("create unique_key index failed", "error", err)
	}
}

func (s *Scheduler) processEvery() time.Duration {
	if s.cfg.ProcessEveryMs > 0 {
		return time.Duration(s.cfg.ProcessEveryMs) * time.Millisecond
	}
	return 5 * time.Second
}

func (s *Scheduler) lockLifetime() time.Duration {
	if s.cfg.LockLifetimeMs > 0 {
		return time.Duration(s.cfg.LockLifetimeMs) * time.Millisecond
	}
	return 10 * time.Minute
}

func (s *Scheduler) claimBatch() int {
	if s.cfg.DefaultConcurrency > 0 {
		return s.cfg.DefaultConcurrency
	}
	return 5
}

func (s *Scheduler) maxConcurrency() int {
	if s.cfg.MaxConcurrency > 0 {
		return s.cfg.MaxConcurrency
	}
	return 20
}

// dispatchLoop polls for due jobs every processEvery tick. Each tick
// claims at most claimBatch jobs; the semaphore bounds total in-flight
// executions at maxConcurrency.
func (s *Scheduler) dispatchLoop(ctx context.Context, names []any) {
	defer s.wg.Done()
	sem := make(chan struct{}, s.maxConcurrency())
	ticker := time.NewTicker(s.processEvery())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchDue(ctx, names, sem)
		}
	}
}

func (s *Scheduler) dispatchDue(ctx context.Context, names []any, sem chan struct{}) {
	for i := 0; i < s.claimBatch(); i++ {
		job, ok := s.claimOne(ctx, names)
		if !ok {
			return
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			s.unlock(job.ID)
			return
		}
		s.mu.Lock()
		s.running[job.ID] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func(job *Job) {
			defer s.wg.Done()
			defer func() { <-sem }()
			s.execute(ctx, job)
		}(job)
	}
}

// claimOne atomically locks the most overdue runnable job. A job is
// runnable when it is due and either unlocked or its lock has outlived
// lockLifetime (the previous owner is presumed dead; this is where
// at-least-once comes from).
func (s *Scheduler) claimOne(ctx context.Context, names []any) (*Job, bool) {
	now := s.now().UnixMilli()
	stale := now - s.lockLifetime().Milliseconds()
	filter := store.Filter{
		"name":   store.Doc{"$in": names},
		"run_at": store.Doc{"$lte": now},
		"$or": []store.Filter{
			{"locked_at": store.Doc{"$exists": false}},
			{"locked_at": int64(0)},
			{"locked_at": store.Doc{"$lt": stale}},
		},
	}
	doc, ok, err := s.docs.FindOneAndUpdate(ctx, store.CollAgenda, filter,
		store.Doc{"$set": store.Doc{"locked_at": now}},
		[]store.SortField{{Field: "run_at"}})
	if err != nil {
		s.logger.Error("claim failed", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	job, err := decodeJob(doc)
	if err != nil {
		s.logger.Error("claimed undecodable job", "error", err)
		return nil, false
	}
	return job, true
}

// execute runs one claimed job and settles its record: one-shot jobs
// are deleted after success, recurring jobs advance to the next fire
// time, failures are recorded without disturbing the schedule.
func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	s.mu.Lock()
	handler := s.handlers[job.Name]
	s.mu.Unlock()

	start := s.now()
	err := s.runHandler(ctx, handler, job)

	settleCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err != nil {
		s.logger.Error("job failed", "job", job.Name, "id", job.ID, "error", err)
		s.settleFailure(settleCtx, job, err)
		return
	}
	s.logger.Debug("job completed", "job", job.Name, "id", job.ID,
		"took", s.now().Sub(start))
	s.settleSuccess(settleCtx, job)
}

// runHandler invokes the handler with a recover guard so a panicking
// job takes the failure path instead of the process down.
func (s *Scheduler) runHandler(ctx context.Context, handler Handler, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "id", job.ID,
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (s *Scheduler) settleSuccess(ctx context.Context, job *Job) {
	if job.Interval == "" {
		if _, err := s.docs.Delete(ctx, store.CollAgenda, store.Filter{"id": job.ID}); err != nil {
			s.logger.Error("delete finished job failed", "id", job.ID, "error", err)
		}
		return
	}
	sched, err := parseInterval(job.Interval)
	if err != nil {
		// The interval was valid at schedule time; treat corruption as
		// a permanent failure rather than spinning on the job.
		s.logger.Error("recurring job has invalid interval", "id", job.ID, "error", err)
		s.settleFailure(ctx, job, err)
		return
	}
	now := s.now()
	set := store.Doc{
		"run_at":      sched.next(now).UnixMilli(),
		"locked_at":   int64(0),
		"last_run_at": now.UnixMilli(),
		"last_error":  "",
	}
	if _, err := s.applyUpdate(ctx, job.ID, set); err != nil {
		s.logger.Error("advance recurring job failed", "id", job.ID, "error", err)
	}
}

// settleFailure records the error. A recurring job is unlocked and
// advanced to its next occurrence; a failed one-shot job keeps its lock
// so it is retried only once the lock lifetime expires, instead of
// hammering every tick.
func (s *Scheduler) settleFailure(ctx context.Context, job *Job, cause error) {
	set := store.Doc{
		"last_run_at": s.now().UnixMilli(),
		"last_error":  cause.Error(),
	}
	if job.Interval != "" {
		set["locked_at"] = int64(0)
		if sched, err := parseInterval(job.Interval); err == nil {
			set["run_at"] = sched.next(s.now()).UnixMilli()
		}
	}
	update := store.Doc{
		"$set": set,
		"$inc": store.Doc{"fail_count": int64(1)},
	}
	if _, err := s.docs.UpdateOne(ctx, store.CollAgenda, store.Filter{"id": job.ID}, update); err != nil {
		s.logger.Error("record job failure failed", "id", job.ID, "error", err)
	}
}

func (s *Scheduler) unlock(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.applyUpdate(ctx, id, store.Doc{"locked_at": int64(0)}); err != nil {
		s.logger.Error("unlock job failed", "id", id, "error", err)
	}
}
