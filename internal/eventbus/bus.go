package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/metrics"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/retry"
)

var ErrChannelFull = errors.New("event channel full")

type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, consumer Consumer) error
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

type eventBus struct {
	channels      map[EventType]chan Event
	consumers     map[EventType][]Consumer
	mu            sync.RWMutex
	wg            sync.WaitGroup
	inflight      atomic.Int64
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *logger.Logger
	metrics       *metrics.Metrics
	channelBuffer int
	maxRetries    int
	retryDelay    time.Duration
	started       bool
}

type Config struct {
	ChannelBuffer int
	MaxRetries    int
	RetryDelay    time.Duration
	// Metrics is optional.
	Metrics *metrics.Metrics
}

func DefaultConfig() *Config {
	return &Config{
		ChannelBuffer: 1000,
		MaxRetries:    5,
		RetryDelay:    100 * time.Millisecond,
	}
}

func New(log *logger.Logger, cfg *Config) EventBus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 1000
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	return &eventBus{
		channels:      make(map[EventType]chan Event),
		consumers:     make(map[EventType][]Consumer),
		logger:        log,
		metrics:       cfg.Metrics,
		channelBuffer: cfg.ChannelBuffer,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}
}

func (eb *eventBus) Subscribe(eventType EventType, consumer Consumer) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return errors.New("cannot subscribe after the event bus has started")
	}

	if _, exists := eb.channels[eventType]; !exists {
		eb.channels[eventType] = make(chan Event, eb.channelBuffer)
	}

	eb.consumers[eventType] = append(eb.consumers[eventType], consumer)

	return nil
}

func (eb *eventBus) Start(ctx context.Context) error {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.started {
		return nil
	}

	eb.ctx, eb.cancel = context.WithCancel(ctx)

	for eventType, consumers := range eb.consumers {
		ch := eb.channels[eventType]

		for _, consumer := range consumers {
			workerCount := consumer.GetWorkerCount()
			if workerCount <= 0 {
				workerCount = 1
			}
			eb.logger.Info(eb.ctx, "Starting workers",
				"event_type", eventType,
				"worker_count", workerCount,
			)

			for i := 0; i < workerCount; i++ {
				eb.wg.Add(1)
				go eb.worker(eb.ctx, ch, consumer, i)
			}
		}
	}

	eb.started = true
	eb.logger.Info(eb.ctx, "Event bus started")

	return nil
}

func (eb *eventBus) worker(ctx context.Context, ch <-chan Event, consumer Consumer, workerID int) {
	defer eb.wg.Done()

	eb.logger.Debug(ctx, "Worker started", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			eb.logger.Debug(ctx, "Worker stopping", "worker_id", workerID)
			return
		case event, ok := <-ch:
			if !ok {
				eb.logger.Debug(ctx, "Channel closed, worker stopping", "worker_id", workerID)
				return
			}

			eb.processEvent(ctx, event, consumer, workerID)
			eb.inflight.Add(-1)
		}
	}
}

func (eb *eventBus) processEvent(ctx context.Context, event Event, consumer Consumer, workerID int) {
	eventCtx := ctx
	if event.ID != "" {
		eventCtx = logger.WithTraceID(ctx, event.ID)
	}
	if event.TenantID != "" {
		eventCtx = logger.WithTenantID(eventCtx, event.TenantID)
	}

	eb.logger.Debug(eventCtx, "Processing event",
		"event_id", event.ID,
		"event_type", event.Type,
		"worker_id", workerID,
	)

	attempt := 0
	err := retry.Do(eventCtx, func() error {
		event.Retries = attempt
		attempt++
		return consumer.Consume(eventCtx, event)
	}, retry.WithMaxAttempts(eb.maxRetries), retry.WithBaseDelay(eb.retryDelay))

	if err != nil {
		eb.metrics.ObserveEvent(string(event.Type), "failed")
		eb.logger.Error(eventCtx, "Failed to process event after retries",
			"event_id", event.ID,
			"event_type", event.Type,
			"worker_id", workerID,
			"error", err.Error(),
		)
		return
	}

	eb.metrics.ObserveEvent(string(event.Type), "processed")
	eb.logger.Debug(eventCtx, "Event processed successfully",
		"event_id", event.ID,
		"event_type", event.Type,
		"worker_id", workerID,
	)
}

// Publish never blocks. A full channel drops the event and returns
// ErrChannelFull so the caller can record it.
func (eb *eventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	ch, exists := eb.channels[event.Type]
	eb.mu.RUnlock()

	if !exists {
		eb.logger.Warn(ctx, "No channel for event type",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	eb.inflight.Add(1)
	select {
	case ch <- event:
		eb.metrics.ObserveEvent(string(event.Type), "published")
		eb.logger.Debug(ctx, "Event published",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		return nil
	case <-ctx.Done():
		eb.inflight.Add(-1)
		return ctx.Err()
	default:
		eb.inflight.Add(-1)
		eb.metrics.ObserveEvent(string(event.Type), "dropped")
		eb.logger.Warn(ctx, "Event channel full, event dropped",
			"event_type", event.Type,
			"event_id", event.ID,
		)
		return ErrChannelFull
	}
}

// Shutdown lets workers drain queued events until ctx expires, then stops
// them.
func (eb *eventBus) Shutdown(ctx context.Context) error {
	eb.logger.Info(ctx, "Shutting down event bus")

	eb.mu.RLock()
	started := eb.started
	eb.mu.RUnlock()

	if started {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
	drain:
		for eb.inflight.Load() > 0 {
			select {
			case <-ctx.Done():
				eb.logger.Warn(ctx, "Event bus drain timeout", "pending", eb.inflight.Load())
				break drain
			case <-ticker.C:
			}
		}
	}

	if eb.cancel != nil {
		eb.cancel()
	}

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.logger.Info(ctx, "Event bus shutdown complete")
		return nil
	case <-ctx.Done():
		eb.logger.Warn(ctx, "Event bus shutdown timeout")
		return ctx.Err()
	}
}
