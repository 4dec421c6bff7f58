package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/lock"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTask struct {
	calls int
	err   error
}

func (s *stubTask) Name() string { return "stub" }

func (s *stubTask) Cadence() string { return "@hourly" }

func (s *stubTask) Run(ctx context.Context, tenantID string) (*RunSummary, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	summary := newSummary("stub", tenantID, time.Now())
	summary.inc("done")
	return summary, nil
}

func TestRunner_SetsRunIDAndReleasesLock(t *testing.T) {
	locker := lock.NewMemoryLocker()
	runner := NewRunner(locker, nil, logger.NewNop(), time.Minute)
	task := &stubTask{}

	summary, err := runner.Run(context.Background(), task, "t1")
	require.NoError(t, err)
	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 1, summary.Counts["done"])

	_, err = runner.Run(context.Background(), task, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, task.calls)
}

func TestRunner_RejectsConcurrentRun(t *testing.T) {
	locker := lock.NewMemoryLocker()
	runner := NewRunner(locker, nil, logger.NewNop(), time.Minute)
	task := &stubTask{}

	held, err := locker.Obtain(context.Background(), LockKey("t1", "stub"), time.Minute)
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), task, "t1")
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 0, task.calls)

	_, err = runner.Run(context.Background(), task, "t2")
	assert.NoError(t, err)

	require.NoError(t, held.Release(context.Background()))
	_, err = runner.Run(context.Background(), task, "t1")
	assert.NoError(t, err)
}

func TestRunner_PropagatesTaskError(t *testing.T) {
	runner := NewRunner(lock.NewMemoryLocker(), nil, logger.NewNop(), 0)
	task := &stubTask{err: errors.New("store unavailable")}

	_, err := runner.Run(context.Background(), task, "t1")
	assert.EqualError(t, err, "store unavailable")

	task.err = nil
	_, err = runner.Run(context.Background(), task, "t1")
	assert.NoError(t, err)
}

func TestRunSummary_Merge(t *testing.T) {
	a := newSummary(StageStipends, "t1", time.Now())
	a.inc("created")
	a.add("stipends", money.FromInt(100))

	b := newSummary(StageStipends, "t1", time.Now())
	b.inc("created")
	b.add("stipends", money.FromInt(50))
	b.fail("member", "M1", errors.New("boom"))
	b.warn("fund %s low", "F1")

	a.merge(b)
	a.merge(nil)
	assert.Equal(t, 2, a.Counts["created"])
	assert.Equal(t, "150.00", a.Amounts["stipends"].String())
	assert.False(t, a.OK())
	assert.Equal(t, []string{"fund F1 low"}, a.Warnings)
}

func TestTaskFunc_SharesStageLock(t *testing.T) {
	locker := lock.NewMemoryLocker()
	runner := NewRunner(locker, nil, logger.NewNop(), time.Minute)
	ctx := context.Background()

	held, err := locker.Obtain(ctx, LockKey("t1", StageArrears), time.Minute)
	require.NoError(t, err)

	task := TaskFunc{Stage: StageArrears, Fn: func(ctx context.Context, tenantID string) (*RunSummary, error) {
		return newSummary(StageArrears, tenantID, time.Now()), nil
	}}
	_, err = runner.Run(ctx, task, "t1")
	assert.ErrorIs(t, err, ErrRunInProgress)

	require.NoError(t, held.Release(ctx))
	summary, err := runner.Run(ctx, task, "t1")
	require.NoError(t, err)
	assert.Equal(t, StageArrears, summary.Stage)
}

func TestRunner_RefreshesLockDuringLongRun(t *testing.T) {
	locker := lock.NewMemoryLocker()
	runner := NewRunner(locker, nil, logger.NewNop(), 30*time.Millisecond)

	var contended error
	task := TaskFunc{Stage: "slow", Fn: func(ctx context.Context, tenantID string) (*RunSummary, error) {
		time.Sleep(100 * time.Millisecond)
		_, contended = locker.Obtain(ctx, LockKey(tenantID, "slow"), time.Minute)
		return newSummary("slow", tenantID, time.Now()), ctx.Err()
	}}

	summary, err := runner.Run(context.Background(), task, "t1")
	require.NoError(t, err)
	assert.Empty(t, summary.Warnings)
	assert.ErrorIs(t, contended, lock.ErrNotObtained)

	again, err := locker.Obtain(context.Background(), LockKey("t1", "slow"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

type lostLock struct{}

func (lostLock) Refresh(context.Context, time.Duration) error { return lock.ErrNotObtained }

func (lostLock) Release(context.Context) error { return nil }

type lostLocker struct{}

func (lostLocker) Obtain(context.Context, string, time.Duration) (lock.Lock, error) {
	return lostLock{}, nil
}

func TestRunner_CancelsRunWhenLockIsLost(t *testing.T) {
	runner := NewRunner(lostLocker{}, nil, logger.NewNop(), 30*time.Millisecond)

	task := TaskFunc{Stage: "slow", Fn: func(ctx context.Context, tenantID string) (*RunSummary, error) {
		summary := newSummary("slow", tenantID, time.Now())
		select {
		case <-ctx.Done():
			summary.warn("run cancelled")
		case <-time.After(5 * time.Second):
		}
		return summary, nil
	}}

	start := time.Now()
	summary, err := runner.Run(context.Background(), task, "t1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, summary.Warnings, "run lock lost, stage cancelled before finishing")
}
