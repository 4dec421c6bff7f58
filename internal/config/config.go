package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Logging   LoggingConfig
	EventBus  EventBusConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Parser    ParserConfig
	Ledger    LedgerConfig
	Workflow  WorkflowConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port            string `validate:"required,numeric"`
	Host            string `validate:"required"`
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64 `validate:"gt=0"`
}

type WorkerConfig struct {
	PoolSize   int `validate:"gte=1"`
	MaxRetries int `validate:"gte=1"`
}

type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

type EventBusConfig struct {
	ChannelBufferSize int `validate:"gte=1"`
	RetryDelay        time.Duration
}

type StorageConfig struct {
	Driver     string `validate:"oneof=memory sqlite"`
	SQLitePath string `validate:"required_if=Driver sqlite"`
}

// RedisConfig is optional. Without an address the run lock falls back to
// an in-process lock and notifications go to the log.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int `validate:"gte=0"`
	LockPrefix    string
	NotifyStream  string
	StreamMaxLen  int64 `validate:"gte=0"`
	NotifyToRedis bool
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type SchedulerConfig struct {
	Enabled  bool
	Tenants  []string `validate:"required_if=Enabled true,dive,required"`
	Timezone string
	LockTTL  time.Duration
}

type ParserConfig struct {
	DateOrder         string `validate:"oneof=month_first day_first"`
	MaxBytes          int64  `validate:"gt=0"`
	MaxRows           int    `validate:"gt=0"`
	RequireEmployeeID bool
}

type LedgerConfig struct {
	Currency      string `validate:"len=3"`
	StrictDates   bool
	ExportRetries int `validate:"gte=1"`
	// ERPExportDir enables the workbook connector when set.
	ERPExportDir    string
	ChartOfAccounts []string
}

type WorkflowConfig struct {
	DueDateOffsetDays  int `validate:"gte=0"`
	LateFeeRate        decimal.Decimal
	StipendDailyAmount decimal.Decimal
	StipendMaxDays     int `validate:"gte=1,lte=7"`
	StipendMaxAmount   decimal.Decimal
	StipendMinHours    decimal.Decimal
	StipendAutoApprove decimal.Decimal
	StipendRequireOK   bool
	PayoutRetries      int    `validate:"gte=1"`
	WebhookSecret      string `validate:"required"`
}

type ReconcileConfig struct {
	AmountTolerance decimal.Decimal
	ExactDateWindow int `validate:"gte=0"`
	FuzzyThreshold  int `validate:"gte=0,lte=100"`
	MatchMemberRefs bool
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using default values")
	}

	return &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxUploadBytes:  int64(getIntEnv("MAX_UPLOAD_BYTES", 10<<20)),
		},
		Worker: WorkerConfig{
			PoolSize:   getIntEnv("WORKER_POOL_SIZE", 10),
			MaxRetries: getIntEnv("MAX_RETRIES", 5),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		EventBus: EventBusConfig{
			ChannelBufferSize: getIntEnv("EVENT_CHANNEL_BUFFER_SIZE", 1000),
			RetryDelay:        getDurationEnv("EVENT_RETRY_DELAY", 100*time.Millisecond),
		},
		Storage: StorageConfig{
			Driver:     getEnv("STORAGE_DRIVER", "memory"),
			SQLitePath: getEnv("SQLITE_PATH", "dues-ledger.db"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", ""),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getIntEnv("REDIS_DB", 0),
			LockPrefix:    getEnv("REDIS_LOCK_PREFIX", "dues-ledger:lock:"),
			NotifyStream:  getEnv("REDIS_NOTIFY_STREAM", "dues-ledger:notifications:"),
			StreamMaxLen:  int64(getIntEnv("REDIS_STREAM_MAXLEN", 10000)),
			NotifyToRedis: getBoolEnv("REDIS_NOTIFICATIONS", false),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getBoolEnv("SCHEDULER_ENABLED", false),
			Tenants:  getListEnv("SCHEDULER_TENANTS"),
			Timezone: getEnv("SCHEDULER_TIMEZONE", "UTC"),
			LockTTL:  getDurationEnv("WORKFLOW_LOCK_TTL", 30*time.Minute),
		},
		Parser: ParserConfig{
			DateOrder:         getEnv("PARSER_DATE_ORDER", "month_first"),
			MaxBytes:          int64(getIntEnv("PARSER_MAX_BYTES", 10<<20)),
			MaxRows:           getIntEnv("PARSER_MAX_ROWS", 50000),
			RequireEmployeeID: getBoolEnv("PARSER_REQUIRE_EMPLOYEE_ID", true),
		},
		Ledger: LedgerConfig{
			Currency:        getEnv("LEDGER_CURRENCY", "CAD"),
			StrictDates:     getBoolEnv("LEDGER_STRICT_DATES", true),
			ExportRetries:   getIntEnv("LEDGER_EXPORT_RETRIES", 3),
			ERPExportDir:    getEnv("ERP_EXPORT_DIR", ""),
			ChartOfAccounts: getListEnv("ERP_CHART_OF_ACCOUNTS"),
		},
		Workflow: WorkflowConfig{
			DueDateOffsetDays:  getIntEnv("DUE_DATE_OFFSET_DAYS", 15),
			LateFeeRate:        getDecimalEnv("LATE_FEE_RATE", decimal.Zero),
			StipendDailyAmount: getDecimalEnv("STIPEND_DAILY_AMOUNT", decimal.NewFromInt(100)),
			StipendMaxDays:     getIntEnv("STIPEND_WEEKLY_MAX_DAYS", 5),
			StipendMaxAmount:   getDecimalEnv("STIPEND_WEEKLY_MAX_AMOUNT", decimal.NewFromInt(500)),
			StipendMinHours:    getDecimalEnv("STIPEND_MIN_HOURS_PER_DAY", decimal.NewFromInt(4)),
			StipendAutoApprove: getDecimalEnv("STIPEND_AUTO_APPROVE_UNDER", decimal.NewFromInt(100)),
			StipendRequireOK:   getBoolEnv("STIPEND_REQUIRE_APPROVAL", true),
			PayoutRetries:      getIntEnv("PAYOUT_RETRIES", 3),
			WebhookSecret:      getEnv("PAYMENT_WEBHOOK_SECRET", "dev-webhook-secret"),
		},
		Reconcile: ReconcileConfig{
			AmountTolerance: getDecimalEnv("RECONCILE_AMOUNT_TOLERANCE", decimal.RequireFromString("0.01")),
			ExactDateWindow: getIntEnv("RECONCILE_EXACT_DATE_WINDOW", 7),
			FuzzyThreshold:  getIntEnv("RECONCILE_FUZZY_THRESHOLD", 70),
			MatchMemberRefs: getBoolEnv("RECONCILE_MATCH_MEMBER_REFS", true),
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Workflow.LateFeeRate.IsNegative() || c.Workflow.LateFeeRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("invalid configuration: LATE_FEE_RATE must be between 0 and 1")
	}
	if c.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
			return fmt.Errorf("invalid configuration: SCHEDULER_TIMEZONE: %w", err)
		}
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getBoolEnv(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("Invalid boolean for %s: %s, using default: %t", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

func getDecimalEnv(key string, defaultValue decimal.Decimal) decimal.Decimal {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := decimal.NewFromString(strings.TrimSpace(valueStr))
	if err != nil {
		log.Printf("Invalid decimal for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}

	return value
}

// getListEnv splits a comma separated value, dropping empty items.
func getListEnv(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
