package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment constants
const (
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Worker     WorkerConfig
	Scan       ScanConfig
	Webhook    WebhookConfig
	Publisher  PublisherConfig
	Slack      SlackConfig
	Archive    ArchiveConfig
	Admin      AdminConfig
	Encryption EncryptionConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Name  string
	Env   string
	Debug bool
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLSEnabled   bool
	MaxRetries   int
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level             string
	Format            string
	SamplingEnabled   bool
	SamplingThreshold int
	SamplingRate      float64
	ErrorSamplingRate float64
	SkipHealthLogs    bool
}

// WorkerConfig sizes the background task pool. Concurrency bounds the number of
// scans running at once; further deliveries wait in the queue.
type WorkerConfig struct {
	Concurrency     int
	QueueCritical   int
	QueueDefault    int
	QueueLow        int
	ShutdownTimeout time.Duration
}

// ScanConfig holds detector and repository-scan settings.
type ScanConfig struct {
	WorkDir          string
	TrufflehogBinary string
	GitleaksBinary   string
	GrypeBinary      string
	RepoScanTimeout  time.Duration
	MaxRetries       int
	RetryBaseDelay   time.Duration
	SweepSchedule    string
	SweepBatchSize   int
	SweepLockTTL     time.Duration
	CloneDepth       int
}

// WebhookConfig holds inbound webhook settings.
type WebhookConfig struct {
	EnforceSignature bool
	MaxBodySize      int64
	RateLimitRPS     float64
	RateLimitBurst   int
}

// PublisherConfig holds provider status/comment settings.
type PublisherConfig struct {
	FrontendURL   string
	StatusContext string
	TargetURL     string
	Timeout       time.Duration
}

// SlackConfig holds notification settings.
type SlackConfig struct {
	Enabled    bool
	WebhookURL string
	Channel    string
	Timeout    time.Duration
}

// ArchiveConfig holds the optional S3 report archive settings.
type ArchiveConfig struct {
	Enabled    bool
	Bucket     string
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	// RoleARN, when set, assumes this role through STS instead of static keys.
	RoleARN    string
	ExternalID string
	Prefix     string
}

// AdminConfig holds admin API settings.
type AdminConfig struct {
	APIKey string
}

// EncryptionConfig holds the key used to seal VC tokens and webhook secrets at rest.
// Key is 32 bytes raw, 64 hex characters or base64. KeyFormat is "raw", "hex" or "base64".
type EncryptionConfig struct {
	Key       string
	KeyFormat string
}

// IsConfigured returns true if encryption is configured.
func (c *EncryptionConfig) IsConfigured() bool {
	return c.Key != ""
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name:  getEnv("APP_NAME", "scangate"),
			Env:   getEnv("APP_ENV", "development"),
			Debug: getEnvBool("APP_DEBUG", false),
		},
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			RequestTimeout:  getEnvDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "scangate"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "scangate"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:     getEnvBool("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			TLSEnabled:   getEnvBool("REDIS_TLS_ENABLED", false),
			MaxRetries:   getEnvInt("REDIS_MAX_RETRIES", 3),
		},
		Log: LogConfig{
			Level:             getEnv("LOG_LEVEL", "info"),
			Format:            getEnv("LOG_FORMAT", "json"),
			SamplingEnabled:   getEnvBool("LOG_SAMPLING_ENABLED", false),
			SamplingThreshold: getEnvInt("LOG_SAMPLING_THRESHOLD", 100),
			SamplingRate:      getEnvFloat("LOG_SAMPLING_RATE", 0.1),
			ErrorSamplingRate: getEnvFloat("LOG_ERROR_SAMPLING_RATE", 1.0),
			SkipHealthLogs:    getEnvBool("LOG_SKIP_HEALTH", true),
		},
		Worker: WorkerConfig{
			Concurrency:     getEnvInt("WORKER_CONCURRENCY", 8),
			QueueCritical:   getEnvInt("WORKER_QUEUE_CRITICAL", 6),
			QueueDefault:    getEnvInt("WORKER_QUEUE_DEFAULT", 3),
			QueueLow:        getEnvInt("WORKER_QUEUE_LOW", 1),
			ShutdownTimeout: getEnvDuration("WORKER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scan: ScanConfig{
			WorkDir:          getEnv("SCAN_WORK_DIR", os.TempDir()),
			TrufflehogBinary: getEnv("SCAN_TRUFFLEHOG_BIN", "trufflehog"),
			GitleaksBinary:   getEnv("SCAN_GITLEAKS_BIN", "gitleaks"),
			GrypeBinary:      getEnv("SCAN_GRYPE_BIN", "grype"),
			RepoScanTimeout:  getEnvDuration("SCAN_REPO_TIMEOUT", 15*time.Minute),
			MaxRetries:       getEnvInt("SCAN_MAX_RETRIES", 3),
			RetryBaseDelay:   getEnvDuration("SCAN_RETRY_BASE_DELAY", 10*time.Second),
			SweepSchedule:    getEnv("SCAN_SWEEP_SCHEDULE", "*/10 * * * *"),
			SweepBatchSize:   getEnvInt("SCAN_SWEEP_BATCH_SIZE", 250),
			SweepLockTTL:     getEnvDuration("SCAN_SWEEP_LOCK_TTL", 5*time.Minute),
			CloneDepth:       getEnvInt("SCAN_CLONE_DEPTH", 0),
		},
		Webhook: WebhookConfig{
			EnforceSignature: getEnvBool("WEBHOOK_ENFORCE_SIGNATURE", true),
			MaxBodySize:      getEnvInt64("WEBHOOK_MAX_BODY_SIZE", 25<<20),
			RateLimitRPS:     getEnvFloat("WEBHOOK_RATE_LIMIT_RPS", 20),
			RateLimitBurst:   getEnvInt("WEBHOOK_RATE_LIMIT_BURST", 50),
		},
		Publisher: PublisherConfig{
			FrontendURL:   getEnv("FRONTEND_URL", "https://secrets.thefirewall.org"),
			StatusContext: getEnv("PUBLISHER_STATUS_CONTEXT", "The Firewall"),
			TargetURL:     getEnv("PUBLISHER_TARGET_URL", "https://secrets.thefirewall.org"),
			Timeout:       getEnvDuration("PUBLISHER_TIMEOUT", 10*time.Second),
		},
		Slack: SlackConfig{
			Enabled:    getEnvBool("SLACK_ENABLED", false),
			WebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),
			Channel:    getEnv("SLACK_CHANNEL", ""),
			Timeout:    getEnvDuration("SLACK_TIMEOUT", 10*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:    getEnvBool("ARCHIVE_ENABLED", false),
			Bucket:     getEnv("ARCHIVE_BUCKET", ""),
			Region:     getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:   getEnv("ARCHIVE_ENDPOINT", ""),
			AccessKey:  getEnv("ARCHIVE_ACCESS_KEY", ""),
			SecretKey:  getEnv("ARCHIVE_SECRET_KEY", ""),
			RoleARN:    getEnv("ARCHIVE_ROLE_ARN", ""),
			ExternalID: getEnv("ARCHIVE_EXTERNAL_ID", ""),
			Prefix:     getEnv("ARCHIVE_PREFIX", "reports"),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
		Encryption: EncryptionConfig{
			Key:       getEnv("APP_ENCRYPTION_KEY", ""),
			KeyFormat: getEnv("APP_ENCRYPTION_KEY_FORMAT", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateBasic(); err != nil {
		return err
	}
	if c.App.Env == EnvProduction {
		return c.validateProduction()
	}
	return nil
}

func (c *Config) validateBasic() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s (must be json or text)", c.Log.Format)
	}
	if c.Log.SamplingRate < 0.0 || c.Log.SamplingRate > 1.0 {
		return fmt.Errorf("LOG_SAMPLING_RATE must be between 0.0 and 1.0, got %f", c.Log.SamplingRate)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Scan.MaxRetries < 0 {
		return fmt.Errorf("SCAN_MAX_RETRIES must be non-negative, got %d", c.Scan.MaxRetries)
	}
	if c.Scan.RepoScanTimeout <= 0 {
		return fmt.Errorf("SCAN_REPO_TIMEOUT must be positive")
	}
	if c.Scan.SweepBatchSize < 1 {
		return fmt.Errorf("SCAN_SWEEP_BATCH_SIZE must be at least 1, got %d", c.Scan.SweepBatchSize)
	}
	if c.Webhook.RateLimitRPS <= 0 || c.Webhook.RateLimitBurst < 1 {
		return fmt.Errorf("webhook rate limit must be positive")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("ARCHIVE_BUCKET is required when ARCHIVE_ENABLED=true")
	}
	if c.Slack.Enabled && c.Slack.WebhookURL == "" {
		return fmt.Errorf("SLACK_WEBHOOK_URL is required when SLACK_ENABLED=true")
	}
	return nil
}

func (c *Config) validateProduction() error {
	if c.Database.Password == "" {
		return fmt.Errorf("database password must be set in production")
	}
	if c.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production")
	}
	if len(c.Admin.APIKey) < 32 {
		return fmt.Errorf("ADMIN_API_KEY must be at least 32 characters in production")
	}
	if !c.Encryption.IsConfigured() {
		return fmt.Errorf("APP_ENCRYPTION_KEY must be set in production")
	}
	if !c.Webhook.EnforceSignature {
		return fmt.Errorf("WEBHOOK_ENFORCE_SIGNATURE cannot be disabled in production")
	}
	if c.App.Debug {
		return fmt.Errorf("debug mode must be disabled in production")
	}
	return nil
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr returns the Redis address.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Addr returns the HTTP server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if the application is in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the application is in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Env == EnvProduction
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
