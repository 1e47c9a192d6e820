package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"labreserve/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	Pricing    PricingConfig    `yaml:"pricing"`
	Auth       AuthConfig       `yaml:"auth"`
	API        APIConfig        `yaml:"api"`
	Payment    PaymentConfig    `yaml:"payment"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Seed       SeedConfig       `yaml:"seed"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path     string         `yaml:"path"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig is only used for cross-instance advisory locks.
type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
}

func (p PostgresConfig) Enabled() bool { return p.Host != "" }

// DSN builds a pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode, p.MaxConnections)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BookingConfig struct {
	MaxDuration   time.Duration `yaml:"max_duration"`
	MinLeadTime   time.Duration `yaml:"min_lead_time"`
	Timezone      string        `yaml:"timezone"`
	LockBackend   string        `yaml:"lock_backend"` // memory, redis, postgres
	LockWait      time.Duration `yaml:"lock_wait"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	SweepEnabled  bool          `yaml:"sweep_enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Location resolves Timezone, falling back to UTC.
func (b BookingConfig) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type PricingConfig struct {
	Currency          string           `yaml:"currency"`
	DefaultHourlyRate int64            `yaml:"default_hourly_rate"`
	LabRates          map[string]int64 `yaml:"lab_rates"`
}

type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	Issuer     string        `yaml:"issuer"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

type APIConfig struct {
	HTTP        APIHTTPConfig      `yaml:"http"`
	RateLimit   APIRateLimitConfig `yaml:"rate_limit"`
	Idempotency IdempotencyConfig  `yaml:"idempotency"`
}

type APIHTTPConfig struct {
	Port              int           `yaml:"port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type IdempotencyConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	Header string        `yaml:"header"`
}

type PaymentConfig struct {
	Provider string         `yaml:"provider"` // local, razorpay
	Razorpay RazorpayConfig `yaml:"razorpay"`
}

type RazorpayConfig struct {
	KeyID     string `yaml:"key_id"`
	KeySecret string `yaml:"key_secret"`
}

type DeliveryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	MaxRetries    int           `yaml:"max_retries"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	AMQP          AMQPConfig    `yaml:"amqp"`
}

type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type BackupConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Schedule      string   `yaml:"schedule"`
	RetentionDays int      `yaml:"retention_days"`
	StoragePath   string   `yaml:"storage_path"`
	S3            S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type SeedConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "CHANGE_ME" {
		return errors.New("auth jwt secret is required")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth jwt secret must be at least 16 characters")
	}
	if c.Booking.MaxDuration <= 0 {
		return errors.New("booking max duration must be positive")
	}
	if c.Booking.MinLeadTime < 0 {
		return errors.New("booking min lead time must not be negative")
	}
	if c.Booking.Timezone != "" {
		if _, err := time.LoadLocation(c.Booking.Timezone); err != nil {
			return fmt.Errorf("invalid booking timezone %q: %w", c.Booking.Timezone, err)
		}
	}
	switch c.Booking.LockBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unknown lock backend %q", c.Booking.LockBackend)
	}
	if c.Booking.LockBackend == "redis" && c.Redis.Address == "" {
		return errors.New("lock backend redis requires redis address")
	}
	if c.Booking.LockBackend == "postgres" && !c.Database.Postgres.Enabled() {
		return errors.New("lock backend postgres requires database.postgres settings")
	}

	if c.Pricing.DefaultHourlyRate <= 0 {
		return errors.New("pricing default hourly rate must be positive")
	}
	for labID, rate := range c.Pricing.LabRates {
		if rate <= 0 {
			return fmt.Errorf("pricing rate for lab %s must be positive", labID)
		}
	}

	switch c.Payment.Provider {
	case "local":
	case "razorpay":
		if c.Payment.Razorpay.KeyID == "" || c.Payment.Razorpay.KeySecret == "" {
			return errors.New("razorpay provider requires key_id and key_secret")
		}
	default:
		return fmt.Errorf("unknown payment provider %q", c.Payment.Provider)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "labreserve"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadHeaderTimeout == 0 {
		c.API.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.API.Idempotency.TTL == 0 {
		c.API.Idempotency.TTL = models.DefaultIdempotencyTTL
	}
	if c.API.Idempotency.Header == "" {
		c.API.Idempotency.Header = "Idempotency-Key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Booking.MaxDuration == 0 {
		c.Booking.MaxDuration = models.DefaultMaxDuration
	}
	if c.Booking.MinLeadTime == 0 {
		c.Booking.MinLeadTime = models.DefaultMinLeadTime
	}
	if c.Booking.LockBackend == "" {
		c.Booking.LockBackend = "memory"
	}
	c.Booking.LockBackend = strings.ToLower(c.Booking.LockBackend)
	if c.Booking.LockWait == 0 {
		c.Booking.LockWait = models.DefaultLockWait
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = 30 * time.Second
	}
	if c.Booking.SweepInterval == 0 {
		c.Booking.SweepInterval = models.DefaultSweepInterval
	}

	if c.Pricing.Currency == "" {
		c.Pricing.Currency = models.DefaultCurrency
	}
	if c.Pricing.DefaultHourlyRate == 0 {
		c.Pricing.DefaultHourlyRate = models.DefaultHourlyRate
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = models.DefaultTokenTTL
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.App.Name
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}

	if c.Payment.Provider == "" {
		c.Payment.Provider = "local"
	}
	c.Payment.Provider = strings.ToLower(c.Payment.Provider)

	if c.Delivery.PollInterval == 0 {
		c.Delivery.PollInterval = 2 * time.Second
	}
	if c.Delivery.AMQP.Exchange == "" {
		c.Delivery.AMQP.Exchange = "labreserve.notifications"
	}

	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}
	if c.Database.Postgres.Enabled() {
		if c.Database.Postgres.Port == 0 {
			c.Database.Postgres.Port = 5432
		}
		if c.Database.Postgres.SSLMode == "" {
			c.Database.Postgres.SSLMode = "disable"
		}
		if c.Database.Postgres.MaxConnections == 0 {
			c.Database.Postgres.MaxConnections = 10
		}
	}
}
