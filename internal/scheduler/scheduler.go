// Package scheduler triggers workflow stages on their cron cadence for
// every configured tenant.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/robfig/cron/v3"
)

// TaskRunner runs one task for one tenant. workflow.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, task workflow.Task, tenantID string) (*workflow.RunSummary, error)
}

type Scheduler struct {
	cron    *cron.Cron
	runner  TaskRunner
	tenants []string
	logger  *logger.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	entries map[string]cron.EntryID
}

// New builds a scheduler in the given location. A nil location means UTC.
func New(runner TaskRunner, tenants []string, loc *time.Location, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		runner:  runner,
		tenants: tenants,
		logger:  log,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]cron.EntryID),
	}
}

// Register schedules the task at its cadence. Registering the same stage
// twice is an error.
func (s *Scheduler) Register(task workflow.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[task.Name()]; exists {
		return fmt.Errorf("stage %s already registered", task.Name())
	}
	id, err := s.cron.AddFunc(task.Cadence(), func() { s.RunAll(task) })
	if err != nil {
		return fmt.Errorf("invalid cadence %q for stage %s: %w", task.Cadence(), task.Name(), err)
	}
	s.entries[task.Name()] = id

	s.logger.Info(context.Background(), "Stage scheduled", "stage", task.Name(), "cadence", task.Cadence())
	return nil
}

// RunAll runs the task for each tenant in turn. A busy or failing tenant
// does not stop the others.
func (s *Scheduler) RunAll(task workflow.Task) {
	for _, tenantID := range s.tenants {
		if s.ctx.Err() != nil {
			return
		}
		summary, err := s.runner.Run(s.ctx, task, tenantID)
		switch {
		case errors.Is(err, workflow.ErrRunInProgress):
			continue
		case err != nil:
			s.logger.Error(s.ctx, "Scheduled stage run failed",
				"stage", task.Name(),
				"tenant_id", tenantID,
				"error", err.Error(),
			)
		default:
			s.logger.Info(s.ctx, "Scheduled stage run completed",
				"stage", task.Name(),
				"tenant_id", tenantID,
				"errors", len(summary.Errors),
			)
		}
	}
}

// Next returns the next activation time of a registered stage.
func (s *Scheduler) Next(stage string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[stage]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info(context.Background(), "Scheduler started", "stages", len(s.entries), "tenants", len(s.tenants))
}

// Shutdown stops new activations, cancels running stages and waits for
// the activations cron already started to return, or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.cancel()

	select {
	case <-stopped.Done():
		s.logger.Info(ctx, "Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
