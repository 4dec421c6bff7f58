package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/grachmannico95/dues-ledger/internal/banking"
	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/metrics"
	"github.com/grachmannico95/dues-ledger/internal/reconcile"
	"github.com/grachmannico95/dues-ledger/internal/remittance"
	"github.com/grachmannico95/dues-ledger/pkg/dates"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
)

// ReconciliationStore is what the reconciliation flows read and write.
type ReconciliationStore interface {
	domain.DuesStore
	domain.RemittanceStore
}

// RemittanceUpload is one employer remittance file. Format may be empty, in
// which case it is detected from FileName. DateOrder overrides the parser's
// configured order for this file only.
type RemittanceUpload struct {
	TenantID   string
	EmployerID string
	FileName   string
	Format     string
	DateOrder  string
	// Store keeps the valid records so later dues runs can use them as wage
	// context. Requires TenantID and EmployerID.
	Store  bool
	Reader io.Reader
}

type ParseOutcome struct {
	RemittanceID string              `json:"remittance_id,omitempty"`
	Format       string              `json:"format"`
	Result       *domain.ParseResult `json:"result"`
}

type ReconciliationOutcome struct {
	RemittanceID string              `json:"remittance_id,omitempty"`
	Parse        domain.ParseSummary `json:"parse"`
	ParseErrors  []domain.ParseError `json:"parse_errors"`
	Result       *reconcile.Result   `json:"result"`
	Report       string              `json:"report"`
}

type BankStatementUpload struct {
	TenantID  string
	Format    string
	DateOrder string
	Reader    io.Reader
}

type BankReconciliationOutcome struct {
	Format  banking.Format       `json:"format"`
	Skipped []banking.SkippedRow `json:"skipped"`
	Result  *reconcile.Result    `json:"result"`
	Report  string               `json:"report"`
}

type ReconciliationService interface {
	ParseRemittance(ctx context.Context, upload RemittanceUpload) (*ParseOutcome, error)
	ReconcileRemittance(ctx context.Context, upload RemittanceUpload) (*ReconciliationOutcome, error)
	ReconcileBankStatement(ctx context.Context, upload BankStatementUpload) (*BankReconciliationOutcome, error)
}

type reconciliationService struct {
	store    ReconciliationStore
	parser   *remittance.Parser
	importer *banking.Importer
	engine   *reconcile.Engine
	metrics  *metrics.Metrics
	logger   *logger.Logger
	now      func() time.Time
}

func NewReconciliationService(
	store ReconciliationStore,
	parser *remittance.Parser,
	importer *banking.Importer,
	engine *reconcile.Engine,
	m *metrics.Metrics,
	log *logger.Logger,
) ReconciliationService {
	return &reconciliationService{
		store:    store,
		parser:   parser,
		importer: importer,
		engine:   engine,
		metrics:  m,
		logger:   log,
		now:      time.Now,
	}
}

func (s *reconciliationService) ParseRemittance(ctx context.Context, upload RemittanceUpload) (*ParseOutcome, error) {
	if upload.TenantID != "" {
		ctx = logger.WithTenantID(ctx, upload.TenantID)
	}

	format, err := resolveFormat(upload)
	if err != nil {
		return nil, err
	}
	parser, err := s.parserFor(upload.DateOrder)
	if err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "Parsing remittance", "file_name", upload.FileName, "format", string(format))

	result, err := parser.Parse(ctx, format, upload.Reader)
	if err != nil {
		s.logger.Error(ctx, "Failed to parse remittance", "error", err.Error())
		return nil, err
	}
	s.metrics.ObserveParse(string(format), result.Summary.ValidRecords, result.Summary.InvalidRecords)

	outcome := &ParseOutcome{Format: string(format), Result: result}
	if upload.Store && len(result.Records) > 0 {
		rem, err := s.saveRemittance(ctx, upload, format, result)
		if err != nil {
			return nil, err
		}
		outcome.RemittanceID = rem.ID
	}

	s.logger.Info(ctx, "Remittance parsed",
		"valid", result.Summary.ValidRecords,
		"invalid", result.Summary.InvalidRecords,
		"remittance_id", outcome.RemittanceID,
	)
	return outcome, nil
}

func resolveFormat(upload RemittanceUpload) (remittance.Format, error) {
	if upload.Format != "" {
		return remittance.ParseFormat(upload.Format)
	}
	return remittance.DetectFormat(upload.FileName)
}

func (s *reconciliationService) parserFor(order string) (*remittance.Parser, error) {
	if order == "" {
		return s.parser, nil
	}
	o, err := dates.ParseOrder(order)
	if err != nil {
		return nil, err
	}
	cfg := s.parser.Config()
	cfg.DateOrder = o
	return remittance.NewParser(cfg, s.logger), nil
}

func (s *reconciliationService) saveRemittance(ctx context.Context, upload RemittanceUpload, format remittance.Format, result *domain.ParseResult) (*domain.Remittance, error) {
	if upload.TenantID == "" || upload.EmployerID == "" {
		return nil, errors.New("tenant id and employer id are required to store a remittance")
	}

	start, end := coveredPeriod(result.Records)

	rem := &domain.Remittance{
		ID:              uuid.New().String(),
		TenantID:        upload.TenantID,
		EmployerID:      upload.EmployerID,
		FileName:        upload.FileName,
		Format:          string(format),
		Status:          domain.RemittanceStatusUploaded,
		PeriodStart:     domain.DateOf(start),
		PeriodEnd:       domain.DateOf(end),
		TotalDuesAmount: result.Summary.TotalDuesAmount,
		Records:         result.Records,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.SaveRemittance(ctx, rem); err != nil {
		return nil, fmt.Errorf("failed to save remittance: %w", err)
	}
	return rem, nil
}

// coveredPeriod spans every billing period in records, which must not be
// empty.
func coveredPeriod(records []domain.RemittanceRecord) (time.Time, time.Time) {
	start, end := records[0].BillingPeriodStart, records[0].BillingPeriodEnd
	for _, rec := range records[1:] {
		if rec.BillingPeriodStart.Before(start) {
			start = rec.BillingPeriodStart
		}
		if rec.BillingPeriodEnd.After(end) {
			end = rec.BillingPeriodEnd
		}
	}
	return start, end
}

// ReconcileRemittance compares the parsed lines with the dues billed for
// the periods the file covers.
func (s *reconciliationService) ReconcileRemittance(ctx context.Context, upload RemittanceUpload) (*ReconciliationOutcome, error) {
	if upload.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	parsed, err := s.ParseRemittance(ctx, upload)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithTenantID(ctx, upload.TenantID)

	records := parsed.Result.Records
	var ledger []reconcile.LedgerTransaction
	if len(records) > 0 {
		start, end := coveredPeriod(records)
		txs, err := s.store.ListDuesTransactions(ctx, domain.TransactionFilter{
			TenantID:    upload.TenantID,
			PeriodStart: &start,
			PeriodEnd:   &end,
			Statuses: []domain.TransactionStatus{
				domain.TransactionStatusPending,
				domain.TransactionStatusOverdue,
				domain.TransactionStatusPaid,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list dues transactions: %w", err)
		}
		ledger = reconcile.FromDuesTransactions(txs, reconcile.ByPeriodEnd)
	}

	result := s.engine.Reconcile(ctx, reconcile.FromRemittance(records), ledger)
	s.observe(result)

	if parsed.RemittanceID != "" {
		s.markRemittance(ctx, upload.TenantID, parsed.RemittanceID, result)
	}

	return &ReconciliationOutcome{
		RemittanceID: parsed.RemittanceID,
		Parse:        parsed.Result.Summary,
		ParseErrors:  parsed.Result.Errors,
		Result:       result,
		Report:       reconcile.GenerateReport(result),
	}, nil
}

func (s *reconciliationService) markRemittance(ctx context.Context, tenantID, id string, result *reconcile.Result) {
	rem, err := s.store.GetRemittance(ctx, tenantID, id)
	if err != nil {
		s.logger.Warn(ctx, "Failed to load remittance for status update", "remittance_id", id, "error", err.Error())
		return
	}
	rem.Status = domain.RemittanceStatusMatched
	if len(result.Variances) > 0 {
		rem.Status = domain.RemittanceStatusDiscrepancy
	}
	if err := s.store.SaveRemittance(ctx, rem); err != nil {
		s.logger.Warn(ctx, "Failed to update remittance status", "remittance_id", id, "error", err.Error())
	}
}

// ReconcileBankStatement matches statement deposits with paid dues.
func (s *reconciliationService) ReconcileBankStatement(ctx context.Context, upload BankStatementUpload) (*BankReconciliationOutcome, error) {
	if upload.TenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	ctx = logger.WithTenantID(ctx, upload.TenantID)

	format, err := banking.ParseFormat(upload.Format)
	if err != nil {
		return nil, err
	}
	importer := s.importer
	if upload.DateOrder != "" {
		o, err := dates.ParseOrder(upload.DateOrder)
		if err != nil {
			return nil, err
		}
		importer = banking.NewImporter(o, s.parser.Config().MaxBytes, s.logger)
	}

	imported, err := importer.Import(ctx, format, upload.Reader)
	if err != nil {
		s.logger.Error(ctx, "Failed to import bank statement", "format", string(format), "error", err.Error())
		return nil, err
	}
	s.metrics.ObserveParse("bank_"+string(format), len(imported.Transactions), len(imported.Skipped))

	sources := reconcile.FromBankTransactions(imported.Transactions)
	var ledger []reconcile.LedgerTransaction
	if len(sources) > 0 {
		from, to := sources[0].Date, sources[0].Date
		for _, src := range sources[1:] {
			if src.Date.Before(from) {
				from = src.Date
			}
			if src.Date.After(to) {
				to = src.Date
			}
		}
		// Dues for earlier periods are often paid inside the statement window.
		from = from.AddDate(0, -3, 0)
		txs, err := s.store.ListDuesTransactions(ctx, domain.TransactionFilter{
			TenantID:    upload.TenantID,
			Statuses:    []domain.TransactionStatus{domain.TransactionStatusPaid},
			PeriodStart: &from,
			PeriodEnd:   &to,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list paid dues: %w", err)
		}
		ledger = reconcile.FromDuesTransactions(txs, reconcile.ByPaidDate)
	}

	result := s.engine.Reconcile(ctx, sources, ledger)
	s.observe(result)

	return &BankReconciliationOutcome{
		Format:  imported.Format,
		Skipped: imported.Skipped,
		Result:  result,
		Report:  reconcile.GenerateReport(result),
	}, nil
}

func (s *reconciliationService) observe(result *reconcile.Result) {
	sum := result.Summary
	s.metrics.ObserveReconciliation(sum.ExactMatches, sum.FuzzyMatches, sum.UnmatchedSourceCount, sum.UnmatchedLedgerCount)
}
