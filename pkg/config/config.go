package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	AlertSinkLog   = "log"
	AlertSinkRedis = "redis"
	AlertSinkKafka = "kafka"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	StoreDriver string
	Database    DatabaseConfig
	Redis       RedisConfig
	CORS        CORSConfig
	Log         LogConfig
	Dashboard   DashboardConfig
	Lifecycle   LifecycleConfig
	Documents   DocumentsConfig
	Alerts      AlertsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	CacheTTL time.Duration
}

// LifecycleConfig tunes the periodic scheduler and the renewal workflow engine.
type LifecycleConfig struct {
	SchedulerEnabled  bool
	TickInterval      time.Duration
	TickLockTTL       time.Duration
	StageDuration     time.Duration
	RemediationBudget int
	Workers           int
	ExternalTimeout   time.Duration
	QualityThreshold  float64
	RenewalTerm       time.Duration
	RedisLocks        bool
}

// DocumentsConfig controls renewal artifact storage.
type DocumentsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	MaxSizeBytes    int64
}

// AlertsConfig selects the escalation sink and its delivery queue.
type AlertsConfig struct {
	Sink         string
	RedisChannel string
	KafkaBrokers []string
	KafkaTopic   string
	Workers      int
	MaxRetries   int
	RetryDelay   time.Duration

	// RedeliverInterval is how often the outbox is swept for undelivered alerts.
	RedeliverInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.StoreDriver = strings.ToLower(v.GetString("STORE_DRIVER"))

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_REDIS"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 5*time.Minute),
	}

	threshold := v.GetFloat64("LIFECYCLE_QUALITY_THRESHOLD")
	if threshold <= 0 || threshold > 1 {
		threshold = 0.95
	}
	cfg.Lifecycle = LifecycleConfig{
		SchedulerEnabled:  v.GetBool("ENABLE_SCHEDULER"),
		TickInterval:      parseDuration(v.GetString("LIFECYCLE_TICK_INTERVAL"), 4*time.Hour),
		TickLockTTL:       parseDuration(v.GetString("LIFECYCLE_TICK_LOCK_TTL"), 15*time.Minute),
		StageDuration:     parseDuration(v.GetString("LIFECYCLE_STAGE_DURATION"), 72*time.Hour),
		RemediationBudget: v.GetInt("LIFECYCLE_REMEDIATION_BUDGET"),
		Workers:           v.GetInt("LIFECYCLE_WORKERS"),
		ExternalTimeout:   parseDuration(v.GetString("LIFECYCLE_EXTERNAL_TIMEOUT"), 30*time.Second),
		QualityThreshold:  threshold,
		RenewalTerm:       parseDuration(v.GetString("LIFECYCLE_RENEWAL_TERM"), 365*24*time.Hour),
		RedisLocks:        v.GetBool("ENABLE_REDIS_LOCKS"),
	}

	maxDocSize := v.GetInt64("DOCUMENTS_MAX_SIZE")
	if maxDocSize <= 0 {
		maxDocSize = 5 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:      v.GetString("DOCUMENTS_STORAGE_DIR"),
		SignedURLSecret: v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 24*time.Hour),
		MaxSizeBytes:    maxDocSize,
	}

	cfg.Alerts = AlertsConfig{
		Sink:         strings.ToLower(v.GetString("ALERTS_SINK")),
		RedisChannel: v.GetString("ALERTS_REDIS_CHANNEL"),
		KafkaBrokers: splitAndTrim(v.GetString("ALERTS_KAFKA_BROKERS")),
		KafkaTopic:   v.GetString("ALERTS_KAFKA_TOPIC"),
		Workers:      v.GetInt("ALERTS_WORKERS"),
		MaxRetries:   v.GetInt("ALERTS_MAX_RETRIES"),
		RetryDelay:   parseDuration(v.GetString("ALERTS_RETRY_DELAY"), 5*time.Second),

		RedeliverInterval: parseDuration(v.GetString("ALERTS_REDELIVER_INTERVAL"), time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORE_DRIVER", StoreDriverPostgres)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "credential_lifecycle")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("DASHBOARD_CACHE_TTL", "5m")

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("LIFECYCLE_TICK_INTERVAL", "4h")
	v.SetDefault("LIFECYCLE_TICK_LOCK_TTL", "15m")
	v.SetDefault("LIFECYCLE_STAGE_DURATION", "72h")
	v.SetDefault("LIFECYCLE_REMEDIATION_BUDGET", 1)
	v.SetDefault("LIFECYCLE_WORKERS", 8)
	v.SetDefault("LIFECYCLE_EXTERNAL_TIMEOUT", "30s")
	v.SetDefault("LIFECYCLE_QUALITY_THRESHOLD", 0.95)
	v.SetDefault("LIFECYCLE_RENEWAL_TERM", "8760h")
	v.SetDefault("ENABLE_REDIS_LOCKS", false)

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("DOCUMENTS_MAX_SIZE", 5*1024*1024)

	v.SetDefault("ALERTS_SINK", AlertSinkLog)
	v.SetDefault("ALERTS_REDIS_CHANNEL", "credential-alerts")
	v.SetDefault("ALERTS_KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("ALERTS_KAFKA_TOPIC", "credential-alerts")
	v.SetDefault("ALERTS_WORKERS", 2)
	v.SetDefault("ALERTS_MAX_RETRIES", 5)
	v.SetDefault("ALERTS_RETRY_DELAY", "5s")
	v.SetDefault("ALERTS_REDELIVER_INTERVAL", "1m")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
