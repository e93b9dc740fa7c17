package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"journalsync/internal"
)

type Config struct {
	DBPath    string
	OutputDir string

	APIBaseURL       string
	APIToken         string
	APITimeoutMs     int
	APIRateLimitRPS  int
	APIMaxRetries    int
	APIRetryBaseMs   int
	AnalysisPageSize int
	SyncPageSize     int

	FetchConcurrency   int
	UpsertWorkers      int
	ByIDsBatchSize     int
	DeleteBatchSize    int
	PauseCheckInterval int

	JournalCategory string

	ListenerIntervalSec int
	ListenerPageSize    int

	LogLevel  string
	LogFormat string

	MetricsAddr string

	SMTPAddr     string
	SMTPUser     string
	SMTPPassword string
	ReportFrom   string
	ReportTo     string
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:    getEnv("DB_PATH", filepath.Join(cwd, "data", "journals.db")),
		OutputDir: getEnv("OUTPUT_DIR", filepath.Join(cwd, "out")),

		APIBaseURL:       getEnv("JOURNAL_API_BASE_URL", "https://journal.scholay.com/api/open"),
		APIToken:         getEnv("JOURNAL_API_TOKEN", ""),
		APITimeoutMs:     getEnvInt("JOURNAL_API_TIMEOUT_MS", 60000),
		APIRateLimitRPS:  getEnvInt("JOURNAL_API_RATE_LIMIT_RPS", 10),
		APIMaxRetries:    getEnvInt("JOURNAL_API_MAX_RETRIES", 3),
		APIRetryBaseMs:   getEnvInt("JOURNAL_API_RETRY_BASE_MS", 3000),
		AnalysisPageSize: getEnvInt("ANALYSIS_PAGE_SIZE", 1000),
		SyncPageSize:     getEnvInt("SYNC_PAGE_SIZE", 100),

		FetchConcurrency:   getEnvInt("FETCH_CONCURRENCY", 5),
		UpsertWorkers:      getEnvInt("UPSERT_WORKERS", 5),
		ByIDsBatchSize:     getEnvInt("BYIDS_BATCH_SIZE", 50),
		DeleteBatchSize:    getEnvInt("DELETE_BATCH_SIZE", 200),
		PauseCheckInterval: getEnvInt("PAUSE_CHECK_INTERVAL", 50),

		JournalCategory: getEnv("JOURNAL_CATEGORY", ""),

		ListenerIntervalSec: getEnvInt("SYNC_LISTENER_INTERVAL_SEC", 3600),
		ListenerPageSize:    getEnvInt("SYNC_LISTENER_PAGE_SIZE", 100),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),

		SMTPAddr:     getEnv("SMTP_ADDR", ""),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		ReportFrom:   getEnv("REPORT_FROM", ""),
		ReportTo:     getEnv("REPORT_TO", ""),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &internal.ConfigurationError{Setting: name}
	}
	return nil
}

// Partition returns the configured journal category or a ConfigurationError.
func (c Config) Partition() (string, error) {
	if err := c.Require("JOURNAL_CATEGORY", c.JournalCategory); err != nil {
		return "", err
	}
	return strings.TrimSpace(c.JournalCategory), nil
}

func (c Config) ReportingEnabled() bool {
	return strings.TrimSpace(c.SMTPAddr) != "" && strings.TrimSpace(c.ReportTo) != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
