package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	schedulerPollInterval = 100 * time.Millisecond
	schedulerClaimLimit   = 16
)

// TaskFunc handles one deferred call.
type TaskFunc func(ctx context.Context, args json.RawMessage) error

// Scheduler dispatches tasks persisted via Tx.Schedule to registered
// handlers. Tasks not yet claimed survive a crash and are claimed on
// restart. ClaimDue removes a task from the store before its handler runs,
// so a task claimed but not yet handled when the process dies is not run.
type Scheduler struct {
	store    Store
	clock    func() int64
	handlers map[string]TaskFunc
}

// NewScheduler creates a scheduler over the given store. clock returns the
// current unix time in milliseconds.
func NewScheduler(s Store, clock func() int64) *Scheduler {
	return &Scheduler{
		store:    s,
		clock:    clock,
		handlers: make(map[string]TaskFunc),
	}
}

// Register binds a task name to its handler. Must be called before Run.
func (s *Scheduler) Register(name string, fn TaskFunc) {
	s.handlers[name] = fn
}

// Run polls for due tasks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(schedulerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drain(ctx)
		}
	}
}

func (s *Scheduler) drain(ctx context.Context) {
	for {
		due, err := s.store.ClaimDue(ctx, s.clock(), schedulerClaimLimit)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("claim due tasks", "error", err)
			}
			return
		}
		if len(due) == 0 {
			return
		}
		for _, task := range due {
			handler, ok := s.handlers[task.Fn]
			if !ok {
				slog.Error("no handler for task", "fn", task.Fn, "id", task.ID)
				continue
			}
			if err := handler(ctx, task.Args); err != nil {
				slog.Error("task failed", "fn", task.Fn, "id", task.ID, "error", err)
			}
		}
	}
}
