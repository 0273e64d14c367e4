// Package config handles environment-based configuration loading.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Identity
	AppName    string
	AppVersion string
	OwnerID    int64
	AdminIDs   []int64

	// Datastore
	DBPath        string
	DBBusyTimeout time.Duration

	// Engine
	DefaultInterval     time.Duration
	MinInterval         time.Duration
	MaxInterval         time.Duration
	RequestTimeout      time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	MaxConcurrentProbes int
	BatchSize           int
	SweepInterval       time.Duration
	ExpectedStatusCodes []int

	// Alerts
	AlertCooldown    time.Duration
	MaxAlertsPerHour int
	AlertRetryCount  int
	AlertQueueCap    int

	// Retention
	LogRetentionDays int
	StatsHistoryDays int

	// Liveness
	Port             int
	SelfPingEnabled  bool
	SelfPingURL      string
	SelfPingInterval time.Duration
	SelfPingTimeout  time.Duration
	SelfPingRetries  int

	// TLS
	TLSExpiryWarningDays int

	// Sink
	SinkEnabled bool
	SinkToken   string
	SinkBaseURL string

	// Auth
	AdminToken string

	// Optional extras
	GeoIPDBPath string
	JobsFile    string
	DNSServer   string

	// Scheduler
	HeartbeatSchedule string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Identity ---
	cfg.AppName = envStr("VIGIL_APP_NAME", "vigil")
	cfg.AppVersion = envStr("VIGIL_APP_VERSION", "")
	cfg.OwnerID = envInt64("VIGIL_OWNER_ID", 0, &errs)
	cfg.AdminIDs = envInt64Slice("VIGIL_ADMIN_IDS", []int64{}, &errs)

	// --- Datastore ---
	cfg.DBPath = envStr("VIGIL_DB_PATH", "/var/lib/vigil/vigil.db")
	cfg.DBBusyTimeout = envDuration("VIGIL_DB_BUSY_TIMEOUT", 5*time.Second, &errs)

	// --- Engine ---
	cfg.DefaultInterval = envDuration("VIGIL_DEFAULT_INTERVAL", 5*time.Minute, &errs)
	cfg.MinInterval = envDuration("VIGIL_MIN_INTERVAL", 30*time.Second, &errs)
	cfg.MaxInterval = envDuration("VIGIL_MAX_INTERVAL", 24*time.Hour, &errs)
	cfg.RequestTimeout = envDuration("VIGIL_REQUEST_TIMEOUT", 30*time.Second, &errs)
	cfg.MaxRetries = envInt("VIGIL_MAX_RETRIES", 2, &errs)
	cfg.RetryDelay = envDuration("VIGIL_RETRY_DELAY", 2*time.Second, &errs)
	cfg.MaxConcurrentProbes = envInt("VIGIL_MAX_CONCURRENT_PROBES", 20, &errs)
	cfg.BatchSize = envInt("VIGIL_BATCH_SIZE", 50, &errs)
	cfg.SweepInterval = envDuration("VIGIL_SWEEP_INTERVAL", 5*time.Second, &errs)
	cfg.ExpectedStatusCodes = envIntSlice("VIGIL_EXPECTED_STATUS_CODES", []int{200}, &errs)

	// --- Alerts ---
	cfg.AlertCooldown = envDuration("VIGIL_ALERT_COOLDOWN", 5*time.Minute, &errs)
	cfg.MaxAlertsPerHour = envInt("VIGIL_MAX_ALERTS_PER_HOUR", 20, &errs)
	cfg.AlertRetryCount = envInt("VIGIL_ALERT_RETRY_COUNT", 3, &errs)
	cfg.AlertQueueCap = envInt("VIGIL_ALERT_QUEUE_CAP", 10000, &errs)

	// --- Retention ---
	cfg.LogRetentionDays = envInt("VIGIL_LOG_RETENTION_DAYS", 30, &errs)
	cfg.StatsHistoryDays = envInt("VIGIL_STATS_HISTORY_DAYS", 365, &errs)

	// --- Liveness ---
	cfg.Port = envInt("VIGIL_PORT", 8080, &errs)
	cfg.SelfPingEnabled = envBool("VIGIL_SELF_PING_ENABLED", true, &errs)
	cfg.SelfPingURL = strings.TrimSpace(envStr("VIGIL_SELF_PING_URL", ""))
	cfg.SelfPingInterval = envDuration("VIGIL_SELF_PING_INTERVAL", 5*time.Minute, &errs)
	cfg.SelfPingTimeout = envDuration("VIGIL_SELF_PING_TIMEOUT", 10*time.Second, &errs)
	cfg.SelfPingRetries = envInt("VIGIL_SELF_PING_RETRIES", 3, &errs)

	// --- TLS ---
	cfg.TLSExpiryWarningDays = envInt("VIGIL_TLS_EXPIRY_WARNING_DAYS", 30, &errs)

	// --- Sink ---
	cfg.SinkEnabled = envBool("VIGIL_SINK_ENABLED", true, &errs)
	cfg.SinkToken = os.Getenv("VIGIL_SINK_TOKEN")
	cfg.SinkBaseURL = envStr("VIGIL_SINK_BASE_URL", "https://api.telegram.org")

	// --- Auth (must be defined; empty means the stats endpoint is disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("VIGIL_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Optional extras ---
	cfg.GeoIPDBPath = envStr("VIGIL_GEOIP_DB", "")
	cfg.JobsFile = envStr("VIGIL_JOBS_FILE", "")
	cfg.DNSServer = strings.TrimSpace(envStr("VIGIL_DNS_SERVER", ""))

	// --- Scheduler ---
	cfg.HeartbeatSchedule = envStr("VIGIL_HEARTBEAT_SCHEDULE", "@every 10m")

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "VIGIL_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.SinkEnabled && cfg.SinkToken == "" {
		errs = append(errs, "VIGIL_SINK_TOKEN is required unless VIGIL_SINK_ENABLED=false")
	}
	if cfg.SinkToken != "" && strings.ContainsAny(cfg.SinkToken, " \t\n") {
		errs = append(errs, "VIGIL_SINK_TOKEN must not contain whitespace")
	}
	if u, err := url.Parse(cfg.SinkBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Sprintf("VIGIL_SINK_BASE_URL: invalid URL %q", cfg.SinkBaseURL))
	}
	if cfg.SelfPingURL != "" {
		if u, err := url.Parse(cfg.SelfPingURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Sprintf("VIGIL_SELF_PING_URL: invalid URL %q", cfg.SelfPingURL))
		}
	}

	validatePort("VIGIL_PORT", cfg.Port, &errs)

	validateDurPositive("VIGIL_DB_BUSY_TIMEOUT", cfg.DBBusyTimeout, &errs)
	validateDurPositive("VIGIL_DEFAULT_INTERVAL", cfg.DefaultInterval, &errs)
	validateDurPositive("VIGIL_MIN_INTERVAL", cfg.MinInterval, &errs)
	validateDurPositive("VIGIL_MAX_INTERVAL", cfg.MaxInterval, &errs)
	validateDurPositive("VIGIL_REQUEST_TIMEOUT", cfg.RequestTimeout, &errs)
	validateDurPositive("VIGIL_RETRY_DELAY", cfg.RetryDelay, &errs)
	validateDurPositive("VIGIL_SWEEP_INTERVAL", cfg.SweepInterval, &errs)
	validateDurPositive("VIGIL_ALERT_COOLDOWN", cfg.AlertCooldown, &errs)
	validateDurPositive("VIGIL_SELF_PING_INTERVAL", cfg.SelfPingInterval, &errs)
	validateDurPositive("VIGIL_SELF_PING_TIMEOUT", cfg.SelfPingTimeout, &errs)

	if cfg.MinInterval > cfg.MaxInterval {
		errs = append(errs, "VIGIL_MIN_INTERVAL must be less than or equal to VIGIL_MAX_INTERVAL")
	}
	if cfg.DefaultInterval < cfg.MinInterval || cfg.DefaultInterval > cfg.MaxInterval {
		errs = append(errs, "VIGIL_DEFAULT_INTERVAL must be within [VIGIL_MIN_INTERVAL, VIGIL_MAX_INTERVAL]")
	}

	if cfg.MaxRetries < 0 {
		errs = append(errs, fmt.Sprintf("VIGIL_MAX_RETRIES: must not be negative, got %d", cfg.MaxRetries))
	}
	if cfg.SelfPingRetries < 0 {
		errs = append(errs, fmt.Sprintf("VIGIL_SELF_PING_RETRIES: must not be negative, got %d", cfg.SelfPingRetries))
	}
	if cfg.AlertRetryCount < 0 {
		errs = append(errs, fmt.Sprintf("VIGIL_ALERT_RETRY_COUNT: must not be negative, got %d", cfg.AlertRetryCount))
	}
	validatePositive("VIGIL_MAX_CONCURRENT_PROBES", cfg.MaxConcurrentProbes, &errs)
	validatePositive("VIGIL_BATCH_SIZE", cfg.BatchSize, &errs)
	validatePositive("VIGIL_MAX_ALERTS_PER_HOUR", cfg.MaxAlertsPerHour, &errs)
	validatePositive("VIGIL_ALERT_QUEUE_CAP", cfg.AlertQueueCap, &errs)
	validatePositive("VIGIL_LOG_RETENTION_DAYS", cfg.LogRetentionDays, &errs)
	validatePositive("VIGIL_STATS_HISTORY_DAYS", cfg.StatsHistoryDays, &errs)
	validatePositive("VIGIL_TLS_EXPIRY_WARNING_DAYS", cfg.TLSExpiryWarningDays, &errs)

	for _, code := range cfg.ExpectedStatusCodes {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("VIGIL_EXPECTED_STATUS_CODES: invalid status code %d", code))
		}
	}
	if cfg.OwnerID < 0 {
		errs = append(errs, fmt.Sprintf("VIGIL_OWNER_ID: must not be negative, got %d", cfg.OwnerID))
	}
	for _, id := range cfg.AdminIDs {
		if id <= 0 {
			errs = append(errs, fmt.Sprintf("VIGIL_ADMIN_IDS: invalid id %d", id))
		}
	}
	if _, err := cron.ParseStandard(cfg.HeartbeatSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("VIGIL_HEARTBEAT_SCHEDULE: invalid cron expression %q: %v", cfg.HeartbeatSchedule, err))
	}
	if cfg.DNSServer != "" && !strings.Contains(cfg.DNSServer, ":") {
		cfg.DNSServer += ":53"
	}
	if cfg.JobsFile != "" {
		if _, err := os.Stat(cfg.JobsFile); err != nil {
			errs = append(errs, fmt.Sprintf("VIGIL_JOBS_FILE: %v", err))
		}
	}
	if cfg.GeoIPDBPath != "" {
		if _, err := os.Stat(cfg.GeoIPDBPath); err != nil {
			errs = append(errs, fmt.Sprintf("VIGIL_GEOIP_DB: %v", err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envInt64(key string, defaultVal int64, errs *[]string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envBool(key string, defaultVal bool, errs *[]string) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid boolean %q", key, v))
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envIntSlice(key string, defaultVal []int, errs *[]string) []int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []int
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON integer array %q", key, v))
		return defaultVal
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func envInt64Slice(key string, defaultVal []int64, errs *[]string) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []int64
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON integer array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []int64{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}

func validateDurPositive(name string, value time.Duration, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %v", name, value))
	}
}
