package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
	mu sync.Mutex
}

func (m *mockRunner) Run(ctx context.Context, task workflow.Task, tenantID string) (*workflow.RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	args := m.Called(task.Name(), tenantID)
	summary, _ := args.Get(0).(*workflow.RunSummary)
	return summary, args.Error(1)
}

type fakeTask struct {
	name    string
	cadence string
}

func (f fakeTask) Name() string { return f.name }

func (f fakeTask) Cadence() string { return f.cadence }

func (f fakeTask) Run(context.Context, string) (*workflow.RunSummary, error) {
	return &workflow.RunSummary{}, nil
}

func TestRegister(t *testing.T) {
	s := New(&mockRunner{}, []string{"t1"}, nil, logger.NewNop())

	require.NoError(t, s.Register(fakeTask{name: "arrears", cadence: "0 3 * * 1"}))
	assert.Error(t, s.Register(fakeTask{name: "arrears", cadence: "0 3 * * 1"}))
	assert.Error(t, s.Register(fakeTask{name: "broken", cadence: "every tuesday"}))

	s.Start()
	defer func() { require.NoError(t, s.Shutdown(context.Background())) }()

	next, ok := s.Next("arrears")
	require.True(t, ok)
	assert.Equal(t, time.Monday, next.Weekday())
	assert.Equal(t, 3, next.Hour())

	_, ok = s.Next("broken")
	assert.False(t, ok)
}

func TestRunAll_ContinuesPastFailures(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", "payments", "t1").Return(nil, errors.New("store down")).Once()
	runner.On("Run", "payments", "t2").Return(nil, workflow.ErrRunInProgress).Once()
	runner.On("Run", "payments", "t3").Return(&workflow.RunSummary{}, nil).Once()

	s := New(runner, []string{"t1", "t2", "t3"}, nil, logger.NewNop())
	s.RunAll(fakeTask{name: "payments", cadence: "0 4 * * *"})

	runner.AssertExpectations(t)
}

func TestShutdown_StopsFurtherTenants(t *testing.T) {
	runner := &mockRunner{}
	s := New(runner, []string{"t1", "t2"}, nil, logger.NewNop())
	require.NoError(t, s.Shutdown(context.Background()))

	s.RunAll(fakeTask{name: "payments", cadence: "0 4 * * *"})
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

// blockingRunner holds each run until its context is cancelled.
type blockingRunner struct {
	started  chan struct{}
	once     sync.Once
	finished atomic.Bool
}

func (r *blockingRunner) Run(ctx context.Context, task workflow.Task, tenantID string) (*workflow.RunSummary, error) {
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	time.Sleep(50 * time.Millisecond)
	r.finished.Store(true)
	return nil, ctx.Err()
}

func TestShutdown_WaitsForRunningActivation(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{})}
	s := New(runner, []string{"t1"}, nil, logger.NewNop())
	require.NoError(t, s.Register(fakeTask{name: "payments", cadence: "@every 1s"}))
	s.Start()

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("stage was never activated")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.True(t, runner.finished.Load())
}
