package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/grachmannico95/dues-ledger/internal/config"
	"github.com/grachmannico95/dues-ledger/internal/handler"
	"github.com/grachmannico95/dues-ledger/internal/middleware"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
)

// Handlers groups everything the routes dispatch to.
type Handlers struct {
	Health         *handler.HealthHandler
	Reconciliation *handler.ReconciliationHandler
	Dues           *handler.DuesHandler
	Workflow       *handler.WorkflowHandler
	Payment        *handler.PaymentHandler
	Journal        *handler.JournalHandler
	Metrics        http.Handler
}

type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	logger   *logger.Logger
	handlers Handlers
	ready    bool
}

func New(cfg *config.Config, log *logger.Logger, handlers Handlers) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	return &Server{
		echo:     e,
		cfg:      cfg,
		logger:   log,
		handlers: handlers,
	}
}

func (s *Server) Start() error {
	s.setup()

	addr := s.cfg.Address()
	s.logger.Info(context.Background(), "Starting HTTP server",
		"address", addr,
	)

	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) setup() {
	if s.ready {
		return
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.ready = true
}

func (s *Server) setupMiddleware() {
	s.echo.Use(echoMiddleware.Recover())
	s.echo.Use(echoMiddleware.CORS())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.Logging(s.logger))
	if s.cfg.Server.MaxUploadBytes > 0 {
		s.echo.Use(echoMiddleware.BodyLimit(strconv.FormatInt(s.cfg.Server.MaxUploadBytes, 10) + "B"))
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.echo.GET("/health", h.Health.Check)
	if h.Metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(h.Metrics))
	}
	s.echo.POST("/payments/webhook", h.Payment.Webhook)

	tenant := middleware.Tenant()

	s.echo.POST("/remittances/parse", h.Reconciliation.ParseRemittance, tenant)
	s.echo.POST("/reconciliations/remittance", h.Reconciliation.ReconcileRemittance, tenant)
	s.echo.POST("/reconciliations/bank", h.Reconciliation.ReconcileBankStatement, tenant)

	s.echo.POST("/dues/calculate", h.Dues.Calculate, tenant)

	s.echo.POST("/workflows/:stage/run", h.Workflow.RunStage, tenant)
	s.echo.POST("/stipends/:id/approve", h.Workflow.ApproveStipend, tenant)
	s.echo.POST("/stipends/disburse", h.Workflow.DisburseStipends, tenant)

	s.echo.POST("/payments", h.Payment.Record, tenant)

	s.echo.POST("/journal-entries", h.Journal.Create, tenant)
	s.echo.GET("/journal-entries/:id", h.Journal.Get, tenant)
	s.echo.POST("/journal-entries/:id/reverse", h.Journal.Reverse, tenant)
}

func (s *Server) Handler() *echo.Echo {
	s.setup()
	return s.echo
}
