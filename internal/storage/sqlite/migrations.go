package sqlite

import "database/sql"

// Amounts are stored as TEXT decimals and dates as TEXT (YYYY-MM-DD or a
// fixed-width UTC timestamp) so ordering by column matches time order.
const schema = `
CREATE TABLE IF NOT EXISTS dues_rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    calculation_type TEXT NOT NULL,
    flat_amount TEXT NOT NULL,
    percentage_rate TEXT NOT NULL,
    base_field TEXT NOT NULL DEFAULT '',
    hourly_rate TEXT NOT NULL,
    overtime_rate TEXT,
    hours_per_period TEXT NOT NULL,
    tiers TEXT NOT NULL DEFAULT '[]',
    formula TEXT NOT NULL DEFAULT '',
    billing_frequency TEXT NOT NULL,
    effective_from TEXT NOT NULL,
    effective_to TEXT,
    is_active INTEGER NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dues_assignments (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    rule_id TEXT NOT NULL,
    effective_date TEXT NOT NULL,
    end_date TEXT,
    override_amount TEXT,
    is_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dues_transactions (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    rule_id TEXT NOT NULL DEFAULT '',
    calculation_type TEXT NOT NULL DEFAULT '',
    amount TEXT NOT NULL,
    late_fee TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    paid_amount TEXT NOT NULL,
    period_start TEXT NOT NULL,
    period_end TEXT NOT NULL,
    due_date TEXT NOT NULL,
    status TEXT NOT NULL,
    paid_date TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS arrears (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    total_owed TEXT NOT NULL,
    oldest_debt_date TEXT NOT NULL,
    status TEXT NOT NULL,
    notification_stage TEXT NOT NULL,
    last_contact_date TEXT,
    resolved_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS payments (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    method TEXT NOT NULL,
    reference TEXT NOT NULL DEFAULT '',
    received_at TEXT NOT NULL,
    status TEXT NOT NULL,
    applied_amount TEXT NOT NULL,
    unapplied_amount TEXT NOT NULL,
    processed_at TEXT,
    journal_entry_id TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (tenant_id, id)
);

CREATE TABLE IF NOT EXISTS payment_allocations (
    tenant_id TEXT NOT NULL,
    payment_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (tenant_id, payment_id, transaction_id),
    FOREIGN KEY (tenant_id, payment_id) REFERENCES payments(tenant_id, id) ON DELETE CASCADE,
    FOREIGN KEY (transaction_id) REFERENCES dues_transactions(id)
);

CREATE TABLE IF NOT EXISTS strike_funds (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    current_balance TEXT NOT NULL,
    minimum_attendance_hours TEXT NOT NULL,
    is_active INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS picket_attendance (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    fund_id TEXT NOT NULL,
    date TEXT NOT NULL,
    hours TEXT NOT NULL,
    approved INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stipend_disbursements (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    member_id TEXT NOT NULL,
    fund_id TEXT NOT NULL,
    week_start TEXT NOT NULL,
    week_end TEXT NOT NULL,
    days_worked INTEGER NOT NULL,
    calculated_amount TEXT NOT NULL,
    status TEXT NOT NULL,
    approved_by TEXT NOT NULL DEFAULT '',
    approved_at TEXT,
    payment_reference TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    disbursed_at TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    entry_number TEXT NOT NULL,
    entry_date TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    reference TEXT NOT NULL DEFAULT '',
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    total_debits TEXT NOT NULL,
    total_credits TEXT NOT NULL,
    reversal_entry_id TEXT NOT NULL DEFAULT '',
    reversed_by_id TEXT NOT NULL DEFAULT '',
    external_id TEXT NOT NULL DEFAULT '',
    sync_status TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_lines (
    entry_id TEXT NOT NULL,
    line_no INTEGER NOT NULL,
    account_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    debit_amount TEXT NOT NULL,
    credit_amount TEXT NOT NULL,
    PRIMARY KEY (entry_id, line_no),
    FOREIGN KEY (entry_id) REFERENCES journal_entries(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS remittances (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    employer_id TEXT NOT NULL DEFAULT '',
    file_name TEXT NOT NULL DEFAULT '',
    format TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    period_start TEXT,
    period_end TEXT,
    total_dues_amount TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS remittance_records (
    remittance_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    employee_id TEXT NOT NULL,
    employee_name TEXT NOT NULL DEFAULT '',
    member_number TEXT NOT NULL DEFAULT '',
    gross_wages TEXT NOT NULL,
    dues_amount TEXT NOT NULL,
    billing_period_start TEXT NOT NULL,
    billing_period_end TEXT NOT NULL,
    hours_worked TEXT,
    overtime_hours TEXT,
    raw_line_number INTEGER NOT NULL,
    PRIMARY KEY (remittance_id, position),
    FOREIGN KEY (remittance_id) REFERENCES remittances(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS processed_events (
    event_id TEXT PRIMARY KEY,
    processed_at TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dues_transactions_period
    ON dues_transactions(tenant_id, member_id, period_start, period_end);
CREATE INDEX IF NOT EXISTS idx_dues_transactions_status_due
    ON dues_transactions(tenant_id, status, due_date);
CREATE UNIQUE INDEX IF NOT EXISTS idx_arrears_active_member
    ON arrears(tenant_id, member_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_payments_status
    ON payments(tenant_id, status, received_at);
CREATE INDEX IF NOT EXISTS idx_assignments_tenant
    ON dues_assignments(tenant_id, member_id);
CREATE INDEX IF NOT EXISTS idx_attendance_fund_date
    ON picket_attendance(tenant_id, fund_id, date);
CREATE UNIQUE INDEX IF NOT EXISTS idx_stipends_member_week
    ON stipend_disbursements(tenant_id, member_id, fund_id, week_start);
CREATE UNIQUE INDEX IF NOT EXISTS idx_journal_entries_number
    ON journal_entries(tenant_id, entry_number);
CREATE INDEX IF NOT EXISTS idx_remittance_records_period
    ON remittance_records(billing_period_start, billing_period_end);
`

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
