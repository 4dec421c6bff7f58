// Package app assembles the engine's components from configuration. The
// HTTP server, the CLI and the integration tests all build through it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/grachmannico95/dues-ledger/internal/banking"
	"github.com/grachmannico95/dues-ledger/internal/config"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/dues"
	"github.com/grachmannico95/dues-ledger/internal/erp"
	"github.com/grachmannico95/dues-ledger/internal/eventbus"
	"github.com/grachmannico95/dues-ledger/internal/handler"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/lock"
	"github.com/grachmannico95/dues-ledger/internal/metrics"
	"github.com/grachmannico95/dues-ledger/internal/notify"
	"github.com/grachmannico95/dues-ledger/internal/payments"
	"github.com/grachmannico95/dues-ledger/internal/reconcile"
	"github.com/grachmannico95/dues-ledger/internal/remittance"
	"github.com/grachmannico95/dues-ledger/internal/scheduler"
	"github.com/grachmannico95/dues-ledger/internal/server"
	"github.com/grachmannico95/dues-ledger/internal/service"
	"github.com/grachmannico95/dues-ledger/internal/storage"
	"github.com/grachmannico95/dues-ledger/internal/storage/sqlite"
	"github.com/grachmannico95/dues-ledger/internal/workflow"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Store   domain.Repository
	Metrics *metrics.Metrics
	Bus     eventbus.EventBus
	Redis   *redis.Client

	Processor  *payments.SimulatedProcessor
	Ledger     *ledger.Service
	Calculator *dues.Calculator
	Parser     *remittance.Parser
	Importer   *banking.Importer
	Engine     *reconcile.Engine

	Runner    *workflow.Runner
	Dues      *workflow.DuesStage
	Arrears   *workflow.ArrearsStage
	Payments  *workflow.PaymentStage
	Stipends  *workflow.StipendStage
	Scheduler *scheduler.Scheduler

	Reconciliation service.ReconciliationService
	PaymentService service.PaymentService

	closers []func() error
}

// New wires every component but starts nothing. Call Start to run the event
// bus and, when enabled, the scheduler.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, Metrics: metrics.New()}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled() {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.Redis.Close)
	}

	if err := a.buildEventBus(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildLedger(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildParsers(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.buildWorkflow(); err != nil {
		a.Close()
		return nil, err
	}

	a.Reconciliation = service.NewReconciliationService(a.Store, a.Parser, a.Importer, a.Engine, a.Metrics, log)
	a.PaymentService = service.NewPaymentService(a.Store, a.Processor, log)

	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.Storage.Driver {
	case "sqlite":
		st, err := sqlite.New(a.Config.Storage.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = st
		a.closers = append(a.closers, st.Close)
	default:
		a.Store = storage.NewMemoryStore()
	}
	return nil
}

func (a *App) buildEventBus() error {
	a.Bus = eventbus.New(a.Logger, &eventbus.Config{
		ChannelBuffer: a.Config.EventBus.ChannelBufferSize,
		MaxRetries:    a.Config.Worker.MaxRetries,
		RetryDelay:    a.Config.EventBus.RetryDelay,
		Metrics:       a.Metrics,
	})

	var notifier domain.Notifier = notify.NewLogNotifier(a.Logger)
	if a.Redis != nil && a.Config.Redis.NotifyToRedis {
		notifier = notify.NewStreamNotifier(a.Redis, a.Config.Redis.NotifyStream, a.Config.Redis.StreamMaxLen)
	}

	notifications := eventbus.NewNotificationConsumer(a.Store, notifier, a.Logger, a.Config.Worker.PoolSize)
	if err := a.Bus.Subscribe(eventbus.EventTypeNotification, notifications); err != nil {
		return fmt.Errorf("failed to subscribe notification consumer: %w", err)
	}
	if err := a.Bus.Subscribe(eventbus.EventTypeAudit, eventbus.NewAuditConsumer(notify.NewAuditLog(a.Logger), 1)); err != nil {
		return fmt.Errorf("failed to subscribe audit consumer: %w", err)
	}
	return nil
}

func (a *App) buildLedger() error {
	var connector erp.Connector
	if dir := a.Config.Ledger.ERPExportDir; dir != "" {
		wb, err := erp.NewWorkbookConnector(dir, a.Config.Ledger.ChartOfAccounts, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create ERP connector: %w", err)
		}
		connector = wb
	}

	cfg := ledger.DefaultConfig()
	cfg.Currency = a.Config.Ledger.Currency
	cfg.StrictDates = a.Config.Ledger.StrictDates
	cfg.ExportRetries = a.Config.Ledger.ExportRetries
	a.Ledger = ledger.NewService(a.Store, connector, cfg, a.Logger)
	return nil
}

func (a *App) buildParsers() error {
	order, err := dates.ParseOrder(a.Config.Parser.DateOrder)
	if err != nil {
		return err
	}

	pcfg := remittance.DefaultConfig()
	pcfg.DateOrder = order
	pcfg.MaxBytes = a.Config.Parser.MaxBytes
	pcfg.MaxRows = a.Config.Parser.MaxRows
	pcfg.RequireEmployeeID = a.Config.Parser.RequireEmployeeID
	a.Parser = remittance.NewParser(pcfg, a.Logger)
	a.Importer = banking.NewImporter(order, a.Config.Parser.MaxBytes, a.Logger)

	rc := a.Config.Reconcile
	a.Engine = reconcile.NewEngine(reconcile.Config{
		AmountTolerance: money.New(rc.AmountTolerance),
		ExactDateWindow: rc.ExactDateWindow,
		FuzzyThreshold:  rc.FuzzyThreshold,
		MatchMemberRefs: rc.MatchMemberRefs,
	}, a.Logger)
	return nil
}

func (a *App) buildWorkflow() error {
	wf := a.Config.Workflow

	var locker lock.Locker = lock.NewMemoryLocker()
	if a.Redis != nil {
		locker = lock.NewRedisLocker(a.Redis, a.Config.Redis.LockPrefix)
	}
	a.Runner = workflow.NewRunner(locker, a.Metrics, a.Logger, a.Config.Scheduler.LockTTL)

	dcfg := dues.DefaultConfig()
	dcfg.DueDateOffsetDays = wf.DueDateOffsetDays
	a.Calculator = dues.NewCalculator(dcfg, a.Logger)
	a.Processor = payments.NewSimulatedProcessor(wf.WebhookSecret, a.Logger)

	acfg := workflow.DefaultArrearsConfig()
	acfg.LateFeeRate = wf.LateFeeRate

	scfg := workflow.DefaultStipendConfig()
	scfg.Currency = a.Config.Ledger.Currency
	scfg.PayoutRetries = wf.PayoutRetries
	scfg.Rules = workflow.StipendRules{
		DailyAmount:        money.New(wf.StipendDailyAmount),
		WeeklyMaxDays:      wf.StipendMaxDays,
		WeeklyMaxAmount:    money.New(wf.StipendMaxAmount),
		MinimumHoursPerDay: wf.StipendMinHours,
		AutoApproveUnder:   money.New(wf.StipendAutoApprove),
		RequireApproval:    wf.StipendRequireOK,
	}

	a.Dues = workflow.NewDuesStage(a.Store, a.Calculator, a.Logger)
	a.Arrears = workflow.NewArrearsStage(a.Store, a.Bus, acfg, a.Logger)
	a.Payments = workflow.NewPaymentStage(a.Store, a.Ledger, a.Bus, a.Logger)
	a.Stipends = workflow.NewStipendStage(a.Store, a.Processor, a.Ledger, a.Bus, scfg, a.Logger)

	loc := time.UTC
	if tz := a.Config.Scheduler.Timezone; tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("failed to load scheduler timezone: %w", err)
		}
		loc = l
	}
	a.Scheduler = scheduler.New(a.Runner, a.Config.Scheduler.Tenants, loc, a.Logger)
	for _, task := range a.Tasks() {
		if err := a.Scheduler.Register(task); err != nil {
			return err
		}
	}
	return nil
}

// Tasks lists the scheduled stages in lifecycle order.
func (a *App) Tasks() []workflow.Task {
	return []workflow.Task{a.Dues, a.Arrears, a.Payments, a.Stipends}
}

// Task returns the stage with the given name.
func (a *App) Task(name string) (workflow.Task, bool) {
	for _, t := range a.Tasks() {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

func (a *App) Start(ctx context.Context) error {
	if err := a.Bus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	if a.Config.Scheduler.Enabled {
		a.Scheduler.Start()
		a.Logger.Info(ctx, "Scheduler started", "tenants", len(a.Config.Scheduler.Tenants))
	}
	return nil
}

// Server builds the HTTP server over the app's components.
func (a *App) Server() *server.Server {
	checks := map[string]handler.Pinger{}
	if p, ok := a.Store.(handler.Pinger); ok {
		checks["storage"] = p
	}
	if a.Redis != nil {
		checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		})
	}

	return server.New(a.Config, a.Logger, server.Handlers{
		Health:         handler.NewHealthHandler(checks),
		Reconciliation: handler.NewReconciliationHandler(a.Reconciliation, a.Logger),
		Dues:           handler.NewDuesHandler(a.Calculator, a.Logger),
		Workflow:       handler.NewWorkflowHandler(a.Runner, a.Dues, a.Arrears, a.Payments, a.Stipends, a.Logger),
		Payment:        handler.NewPaymentHandler(a.PaymentService, a.Logger),
		Journal:        handler.NewJournalHandler(a.Ledger, a.Logger),
		Metrics:        a.Metrics.Handler(),
	})
}

// Shutdown stops the scheduler, drains the event bus and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	var first error
	if a.Config.Scheduler.Enabled {
		if err := a.Scheduler.Shutdown(ctx); err != nil {
			first = err
		}
	}
	if err := a.Bus.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	if err := a.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
