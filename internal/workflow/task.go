// Package workflow holds the scheduled stages that move dues through their
// lifecycle. Every stage re-derives what is already done from the store, so
// re-running a stage never repeats its effects.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/internal/lock"
	"github.com/grachmannico95/dues-ledger/internal/metrics"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
)

var ErrRunInProgress = errors.New("workflow run already in progress")

const (
	StageMonthlyDues = "monthly_dues"
	StageArrears     = "arrears"
	StagePayments    = "payments"
	StageStipends    = "stipends"
)

// Task is a stage that can be triggered on a schedule for one tenant.
type Task interface {
	Name() string
	// Cadence is a standard five-field cron expression.
	Cadence() string
	Run(ctx context.Context, tenantID string) (*RunSummary, error)
}

// TaskFunc runs a stage once with explicit parameters, so on-demand runs
// share the scheduled runs' lock.
type TaskFunc struct {
	Stage string
	Fn    func(ctx context.Context, tenantID string) (*RunSummary, error)
}

func (t TaskFunc) Name() string { return t.Stage }

func (t TaskFunc) Cadence() string { return "" }

func (t TaskFunc) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	return t.Fn(ctx, tenantID)
}

type EntityError struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Message    string `json:"message"`
}

// RunSummary reports what a stage run did. Per-entity failures are listed in
// Errors and never abort the run.
type RunSummary struct {
	Stage      string                 `json:"stage"`
	TenantID   string                 `json:"tenant_id"`
	RunID      string                 `json:"run_id,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
	Counts     map[string]int         `json:"counts"`
	Amounts    map[string]money.Money `json:"amounts,omitempty"`
	Errors     []EntityError          `json:"errors"`
	Warnings   []string               `json:"warnings"`
}

func newSummary(stage, tenantID string, now time.Time) *RunSummary {
	return &RunSummary{
		Stage:     stage,
		TenantID:  tenantID,
		StartedAt: now,
		Counts:    map[string]int{},
		Amounts:   map[string]money.Money{},
		Errors:    []EntityError{},
		Warnings:  []string{},
	}
}

func (s *RunSummary) OK() bool { return len(s.Errors) == 0 }

func (s *RunSummary) inc(key string) { s.Counts[key]++ }

func (s *RunSummary) add(key string, amount money.Money) {
	s.Amounts[key] = s.Amounts[key].Add(amount)
}

func (s *RunSummary) fail(entityType, entityID string, err error) {
	s.Errors = append(s.Errors, EntityError{EntityType: entityType, EntityID: entityID, Message: err.Error()})
}

func (s *RunSummary) warn(format string, args ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// merge folds another summary of the same stage into s.
func (s *RunSummary) merge(other *RunSummary) {
	if other == nil {
		return
	}
	for k, v := range other.Counts {
		s.Counts[k] += v
	}
	for k, v := range other.Amounts {
		s.add(k, v)
	}
	s.Errors = append(s.Errors, other.Errors...)
	s.Warnings = append(s.Warnings, other.Warnings...)
}

// publish sends an event when a publisher is configured. A dropped event is
// a warning on the run, not a failure.
func publish(ctx context.Context, pub eventbus.Publisher, event eventbus.Event, summary *RunSummary) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, event); err != nil {
		summary.warn("event %s not published: %v", event.ID, err)
		return
	}
	summary.inc("notifications")
}

// Runner executes tasks under a per tenant and stage lock.
type Runner struct {
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  *logger.Logger
	lockTTL time.Duration
}

func NewRunner(locker lock.Locker, m *metrics.Metrics, log *logger.Logger, lockTTL time.Duration) *Runner {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Runner{locker: locker, metrics: m, logger: log, lockTTL: lockTTL}
}

func LockKey(tenantID, stage string) string {
	return fmt.Sprintf("workflow:%s:%s", tenantID, stage)
}

// keepAlive refreshes the run lock every third of its TTL while the stage
// runs. Losing the lock cancels the run so a second holder never overlaps
// it for long.
func (r *Runner) keepAlive(ctx context.Context, cancel context.CancelFunc, l lock.Lock, stage string) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(r.lockTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := l.Refresh(ctx, r.lockTTL); err != nil {
					r.logger.Error(ctx, "Run lock lost, cancelling stage", "stage", stage, "error", err.Error())
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// Run returns ErrRunInProgress when another run of the same stage holds the
// tenant's lock.
func (r *Runner) Run(ctx context.Context, task Task, tenantID string) (*RunSummary, error) {
	runID := uuid.New().String()
	ctx = logger.WithRunID(logger.WithTenantID(ctx, tenantID), runID)
	start := time.Now()

	l, err := r.locker.Obtain(ctx, LockKey(tenantID, task.Name()), r.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		r.metrics.ObserveStageRun(task.Name(), "skipped", time.Since(start), nil)
		r.logger.Warn(ctx, "Stage run skipped, another run holds the lock", "stage", task.Name())
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, fmt.Errorf("failed to obtain run lock: %w", err)
	}
	defer func() {
		if err := l.Release(context.Background()); err != nil {
			r.logger.Warn(ctx, "Failed to release run lock", "stage", task.Name(), "error", err.Error())
		}
	}()

	r.logger.Info(ctx, "Stage run started", "stage", task.Name())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := r.keepAlive(runCtx, cancel, l, task.Name())
	summary, err := task.Run(runCtx, tenantID)
	stop()
	if err == nil && runCtx.Err() != nil && ctx.Err() == nil {
		summary.warn("run lock lost, stage cancelled before finishing")
	}
	if err != nil {
		r.metrics.ObserveStageRun(task.Name(), "error", time.Since(start), nil)
		r.logger.Error(ctx, "Stage run failed", "stage", task.Name(), "error", err.Error())
		return nil, err
	}
	summary.RunID = runID

	outcome := "success"
	if !summary.OK() {
		outcome = "partial"
	}
	r.metrics.ObserveStageRun(task.Name(), outcome, time.Since(start), summary.Counts)
	r.logger.Info(ctx, "Stage run finished",
		"stage", task.Name(),
		"outcome", outcome,
		"errors", len(summary.Errors),
		"warnings", len(summary.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return summary, nil
}
