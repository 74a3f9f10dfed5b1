package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN builds the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig holds broker settings for the inbound event topic.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

// Config is the full service configuration, loaded from the environment.
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// Rules holds correlation-engine policy.
	Rules struct {
		CorrelationWindowSec int // generic find-or-merge window
		FireCooldownSec      int
		AnimalCooldownSec    int
		NightStart           string // "HH:MM", default night window when a site has no policy row
		NightEnd             string
		AnimalDaySeverity    string
		PolicyCacheTTLSec    int
	}

	// Gate holds the vehicle gate tracker and watchdog policy.
	Gate struct {
		QuietGapMinutes     int // direction inference: open session idle >= gap defaults to EXIT
		WatchdogIntervalSec int
		ReminderThresholds  []int // hours, sorted ascending by Load
		DispatchDeadlineHr  int
	}

	// Notify holds outbox and delivery worker policy.
	Notify struct {
		WorkerIntervalSec  int
		BatchSize          int
		MaxAttempts        int
		BackoffSec         []int // clamped to the last entry
		ClaimLeaseSec      int   // provisional next_retry_at while a row is in flight
		ChannelCooldownSec int   // per alert+channel enqueue cooldown
		AckBaseURL         string
		AckTTLMinutes      int
		Provider           string // "console" or "http"
		WhatsAppURL        string
		WhatsAppToken      string
		EmailURL           string
		CallURL            string
	}

	// Report holds daily summary generation settings.
	Report struct {
		Enabled  bool
		SpoolDir string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults suited
// for local development.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "pds_netra")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "pds-netra-core")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.Topic = getEnv("MQTT_EVENT_TOPIC", "pds/godown/+/events")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	cfg.Rules.CorrelationWindowSec = getEnvInt("RULES_CORRELATION_WINDOW_SEC", 600)
	cfg.Rules.FireCooldownSec = getEnvInt("RULES_FIRE_COOLDOWN_SEC", 600)
	cfg.Rules.AnimalCooldownSec = getEnvInt("RULES_ANIMAL_COOLDOWN_SEC", 300)
	cfg.Rules.NightStart = getEnv("RULES_NIGHT_START", "19:00")
	cfg.Rules.NightEnd = getEnv("RULES_NIGHT_END", "06:00")
	cfg.Rules.AnimalDaySeverity = getEnv("RULES_ANIMAL_DAY_SEVERITY", "warning")
	cfg.Rules.PolicyCacheTTLSec = getEnvInt("RULES_POLICY_CACHE_TTL_SEC", 300)

	cfg.Gate.QuietGapMinutes = getEnvInt("GATE_QUIET_GAP_MIN", 10)
	cfg.Gate.WatchdogIntervalSec = getEnvInt("GATE_WATCHDOG_INTERVAL_SEC", 180)
	thresholds, err := getEnvIntList("GATE_REMINDER_THRESHOLDS_HR", []int{3, 6, 9, 12, 24})
	if err != nil {
		return nil, fmt.Errorf("invalid GATE_REMINDER_THRESHOLDS_HR: %w", err)
	}
	sort.Ints(thresholds)
	cfg.Gate.ReminderThresholds = thresholds
	cfg.Gate.DispatchDeadlineHr = getEnvInt("GATE_DISPATCH_DEADLINE_HR", 24)

	cfg.Notify.WorkerIntervalSec = getEnvInt("NOTIFY_WORKER_INTERVAL_SEC", 10)
	cfg.Notify.BatchSize = getEnvInt("NOTIFY_BATCH_SIZE", 20)
	cfg.Notify.MaxAttempts = getEnvInt("NOTIFY_MAX_ATTEMPTS", 6)
	backoff, err := getEnvIntList("NOTIFY_BACKOFF_SEC", []int{60, 300, 900, 3600, 21600})
	if err != nil {
		return nil, fmt.Errorf("invalid NOTIFY_BACKOFF_SEC: %w", err)
	}
	cfg.Notify.BackoffSec = backoff
	cfg.Notify.ClaimLeaseSec = getEnvInt("NOTIFY_CLAIM_LEASE_SEC", 120)
	cfg.Notify.ChannelCooldownSec = getEnvInt("NOTIFY_CHANNEL_COOLDOWN_SEC", 300)
	cfg.Notify.AckBaseURL = getEnv("NOTIFY_ACK_BASE_URL", "https://netra.example.com")
	cfg.Notify.AckTTLMinutes = getEnvInt("NOTIFY_ACK_TTL_MIN", 1440)
	cfg.Notify.Provider = getEnv("NOTIFY_PROVIDER", "console")
	cfg.Notify.WhatsAppURL = getEnv("NOTIFY_WHATSAPP_URL", "")
	cfg.Notify.WhatsAppToken = getEnv("NOTIFY_WHATSAPP_TOKEN", "")
	cfg.Notify.EmailURL = getEnv("NOTIFY_EMAIL_URL", "")
	cfg.Notify.CallURL = getEnv("NOTIFY_CALL_URL", "")

	cfg.Report.Enabled = getEnv("REPORT_ENABLED", "false") == "true"
	cfg.Report.SpoolDir = getEnv("REPORT_SPOOL_DIR", "/var/spool/pds-netra")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvIntList parses a comma-separated integer list, e.g. "3,6,9,12,24".
func getEnvIntList(key string, defaultValue []int) ([]int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("bad list entry %q: %w", p, err)
		}
		out = append(out, n)
	}
	return out, nil
}
