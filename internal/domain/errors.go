package domain

import "errors"

var (
	ErrRuleNotFound         = errors.New("dues rule not found")
	ErrAssignmentNotFound   = errors.New("dues assignment not found")
	ErrTransactionNotFound  = errors.New("dues transaction not found")
	ErrArrearsNotFound      = errors.New("arrears not found")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrFundNotFound         = errors.New("strike fund not found")
	ErrStipendNotFound      = errors.New("stipend disbursement not found")
	ErrJournalEntryNotFound = errors.New("journal entry not found")
	ErrRemittanceNotFound   = errors.New("remittance not found")

	ErrDuplicateTransaction  = errors.New("dues transaction already exists for member and period")
	ErrDuplicateArrears      = errors.New("member already has active arrears")
	ErrDuplicateStipend      = errors.New("stipend already exists for member, fund and week")
	ErrDuplicateJournalEntry = errors.New("journal entry number already exists")
	ErrDuplicatePayment      = errors.New("payment already exists")
	ErrDuplicateEvent        = errors.New("duplicate event")

	ErrStaleState              = errors.New("record changed since it was read")
	ErrPaymentAlreadyProcessed = errors.New("payment already processed")
	ErrInvalidStatus           = errors.New("invalid status")

	ErrFileTooLarge        = errors.New("file exceeds maximum upload size")
	ErrTooManyRows         = errors.New("file exceeds maximum row count")
	ErrUnsupportedFormat   = errors.New("unsupported file format")
	ErrInvalidJournalEntry = errors.New("invalid journal entry")
)
