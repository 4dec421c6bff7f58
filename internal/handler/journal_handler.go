package handler

import (
	"net/http"

	"github.com/grachmannico95/dues-ledger/internal/domain"
	"github.com/grachmannico95/dues-ledger/internal/ledger"
	"github.com/grachmannico95/dues-ledger/internal/middleware"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
	"github.com/grachmannico95/dues-ledger/pkg/money"
	"github.com/labstack/echo/v4"
)

type journalLineRequest struct {
	AccountID    string      `json:"account_id" validate:"required,max=50"`
	Description  string      `json:"description" validate:"max=500"`
	DebitAmount  money.Money `json:"debit_amount"`
	CreditAmount money.Money `json:"credit_amount"`
}

type createJournalEntryRequest struct {
	EntryNumber string               `json:"entry_number" validate:"max=100"`
	EntryDate   string               `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Description string               `json:"description" validate:"max=500"`
	Reference   string               `json:"reference" validate:"max=100"`
	Currency    string               `json:"currency" validate:"omitempty,len=3"`
	Lines       []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

type reverseJournalEntryRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type JournalHandler struct {
	ledger *ledger.Service
	logger *logger.Logger
}

func NewJournalHandler(ledger *ledger.Service, log *logger.Logger) *JournalHandler {
	return &JournalHandler{
		ledger: ledger,
		logger: log,
	}
}

func (h *JournalHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req createJournalEntryRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	entry := &domain.JournalEntry{
		TenantID:    middleware.TenantID(c),
		EntryNumber: req.EntryNumber,
		EntryDate:   parseDay(req.EntryDate),
		Description: req.Description,
		Reference:   req.Reference,
		Currency:    req.Currency,
		Lines:       make([]domain.JournalLine, len(req.Lines)),
	}
	for i, line := range req.Lines {
		entry.Lines[i] = domain.JournalLine{
			AccountID:    line.AccountID,
			Description:  line.Description,
			DebitAmount:  line.DebitAmount,
			CreditAmount: line.CreditAmount,
		}
	}

	created, err := h.ledger.CreateJournalEntry(ctx, entry)
	if err != nil {
		h.logger.Warn(ctx, "Failed to create journal entry", "error", err.Error())
		return errorResponse(c, err, "failed to create journal entry")
	}

	return c.JSON(http.StatusCreated, created)
}

func (h *JournalHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	entry, err := h.ledger.GetJournalEntry(ctx, middleware.TenantID(c), id)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			h.logger.Error(ctx, "Failed to get journal entry",
				"entry_id", id,
				"error", err.Error(),
			)
		}
		return errorResponse(c, err, "failed to get journal entry")
	}

	return c.JSON(http.StatusOK, entry)
}

func (h *JournalHandler) Reverse(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	var req reverseJournalEntryRequest
	if ok, err := bindRequest(c, &req); !ok {
		return err
	}

	reversal, err := h.ledger.ReverseJournalEntry(ctx, middleware.TenantID(c), id, req.Reason)
	if err != nil {
		h.logger.Warn(ctx, "Failed to reverse journal entry",
			"entry_id", id,
			"error", err.Error(),
		)
		return errorResponse(c, err, "failed to reverse journal entry")
	}

	return c.JSON(http.StatusCreated, reversal)
}
