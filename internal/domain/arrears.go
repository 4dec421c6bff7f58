package domain

import (
	"time"

	"github.com/grachmannico95/dues-ledger/pkg/money"
)

type ArrearsStatus string

const (
	ArrearsStatusActive   ArrearsStatus = "active"
	ArrearsStatusResolved ArrearsStatus = "resolved"
)

type NotificationStage string

const (
	StageReminder    NotificationStage = "reminder"
	StageWarning     NotificationStage = "warning"
	StageFinal       NotificationStage = "final"
	StageCollections NotificationStage = "collections"
)

// StageThreshold maps a minimum number of days overdue to a stage.
type StageThreshold struct {
	MinDaysOverdue int
	Stage          NotificationStage
}

// DefaultStageThresholds must stay sorted by MinDaysOverdue descending.
var DefaultStageThresholds = []StageThreshold{
	{MinDaysOverdue: 90, Stage: StageCollections},
	{MinDaysOverdue: 60, Stage: StageFinal},
	{MinDaysOverdue: 30, Stage: StageWarning},
	{MinDaysOverdue: 0, Stage: StageReminder},
}

// StageFor returns the first stage whose threshold daysOverdue reaches.
func StageFor(thresholds []StageThreshold, daysOverdue int) NotificationStage {
	for _, t := range thresholds {
		if daysOverdue >= t.MinDaysOverdue {
			return t.Stage
		}
	}
	return StageReminder
}

type Arrears struct {
	ID                string            `json:"id"`
	TenantID          string            `json:"tenant_id"`
	MemberID          string            `json:"member_id"`
	TotalOwed         money.Money       `json:"total_owed"`
	OldestDebtDate    time.Time         `json:"oldest_debt_date"`
	Status            ArrearsStatus     `json:"status"`
	NotificationStage NotificationStage `json:"notification_stage"`
	LastContactDate   *time.Time        `json:"last_contact_date,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}
