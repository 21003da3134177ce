package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/imgpipe/imgpipe/pkg/db"
	"github.com/spf13/viper"
)

// Blob backends.
const (
	BlobS3     = "s3"
	BlobMinIO  = "minio"
	BlobMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// Record store
	DBDriver   string `mapstructure:"db-driver"`
	SQLitePath string `mapstructure:"sqlite-path"`
	DBHost     string `mapstructure:"db-host"`
	DBPort     int    `mapstructure:"db-port"`
	DBName     string `mapstructure:"db-name"`
	DBUser     string `mapstructure:"db-user"`
	DBPassword string `mapstructure:"db-password"`
	DBSSLMode  string `mapstructure:"db-sslmode"`

	// Object storage
	BlobBackend        string        `mapstructure:"blob-backend"`
	BlobBucket         string        `mapstructure:"blob-bucket"`
	BlobEndpoint       string        `mapstructure:"blob-endpoint"`
	BlobRegion         string        `mapstructure:"blob-region"`
	BlobAccessKey      string        `mapstructure:"blob-access-key"`
	BlobSecretKey      string        `mapstructure:"blob-secret-key"`
	BlobPublicURL      string        `mapstructure:"blob-public-url"`
	BlobUseSSL         bool          `mapstructure:"blob-use-ssl"`
	BlobConnectTimeout time.Duration `mapstructure:"blob-connect-timeout"`
	BlobRequestTimeout time.Duration `mapstructure:"blob-request-timeout"`

	// HTTP
	ListenAddr    string `mapstructure:"listen-addr"`
	MaxUploadSize int64  `mapstructure:"max-upload-size"`

	// Reconciliation. An empty FSMDBPath runs reconciliations in-process.
	FSMDBPath         string        `mapstructure:"fsm-db-path"`
	ReconcileInterval time.Duration `mapstructure:"reconcile-interval"`
	ReconcileGrace    time.Duration `mapstructure:"reconcile-grace"`

	// Task notifications. No brokers disables publishing.
	KafkaBrokers []string `mapstructure:"kafka-brokers"`
	KafkaTopic   string   `mapstructure:"kafka-topic"`

	LogLevel string `mapstructure:"log-level"`
}

// Defaults are applied before env, config file and flags.
var Defaults = map[string]any{
	"db-driver":            "sqlite",
	"sqlite-path":          ".artifacts/images.db",
	"db-host":              "localhost",
	"db-port":              5432,
	"db-name":              "image_processor",
	"db-user":              "postgres",
	"db-password":          "password",
	"db-sslmode":           "disable",
	"blob-backend":         BlobMemory,
	"blob-bucket":          "images",
	"blob-endpoint":        "",
	"blob-region":          "auto",
	"blob-access-key":      "",
	"blob-secret-key":      "",
	"blob-public-url":      "http://localhost:8080/blobs",
	"blob-use-ssl":         true,
	"blob-connect-timeout": 5 * time.Second,
	"blob-request-timeout": 30 * time.Second,
	"listen-addr":          ":8080",
	"max-upload-size":      10 * 1024 * 1024,
	"fsm-db-path":          ".artifacts/fsm",
	"reconcile-interval":   time.Minute,
	"reconcile-grace":      5 * time.Minute,
	"kafka-brokers":        []string{},
	"kafka-topic":          "image-tasks",
	"log-level":            "info",
}

// Load reads configuration from environment, config file, and defaults
func Load() (*Config, error) {
	for k, v := range Defaults {
		viper.SetDefault(k, v)
	}

	// Environment variables (will be IMGPIPE_DB_DRIVER, etc.)
	viper.SetEnvPrefix("IMGPIPE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Config file (optional)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.imgpipe")

	// Read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Unmarshal into config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	driver, err := db.ParseDriver(c.DBDriver)
	if err != nil {
		return err
	}
	switch driver {
	case db.DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite-path cannot be empty")
		}
	case db.DriverPostgres:
		if c.DBHost == "" || c.DBName == "" || c.DBUser == "" {
			return fmt.Errorf("db-host, db-name and db-user are required for postgres")
		}
		if c.DBPort <= 0 || c.DBPort > 65535 {
			return fmt.Errorf("db-port must be between 1 and 65535")
		}
	}

	switch c.BlobBackend {
	case BlobMemory:
	case BlobS3, BlobMinIO:
		if c.BlobBucket == "" {
			return fmt.Errorf("blob-bucket cannot be empty")
		}
		if c.BlobBackend == BlobMinIO && c.BlobEndpoint == "" {
			return fmt.Errorf("blob-endpoint is required for minio")
		}
	default:
		return fmt.Errorf("unsupported blob-backend %q", c.BlobBackend)
	}
	if c.BlobConnectTimeout <= 0 || c.BlobRequestTimeout <= 0 {
		return fmt.Errorf("blob timeouts must be positive")
	}
	if c.BlobConnectTimeout > c.BlobRequestTimeout {
		return fmt.Errorf("blob-connect-timeout cannot exceed blob-request-timeout")
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max-upload-size must be positive")
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("reconcile-interval must be positive")
	}
	if err := c.CheckReconcileGrace(c.ReconcileGrace); err != nil {
		return err
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return fmt.Errorf("kafka-topic is required when kafka-brokers is set")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// CheckReconcileGrace rejects a grace window that could catch an upload
// whose blob write is still within its request timeout.
func (c *Config) CheckReconcileGrace(grace time.Duration) error {
	if grace <= c.BlobRequestTimeout {
		return fmt.Errorf("reconcile-grace (%s) must exceed blob-request-timeout (%s)", grace, c.BlobRequestTimeout)
	}
	return nil
}

// Database returns the driver and DSN for the record store.
func (c *Config) Database() (db.Driver, string, error) {
	driver, err := db.ParseDriver(c.DBDriver)
	if err != nil {
		return "", "", err
	}
	if driver == db.DriverPostgres {
		return driver, db.PostgresDSN(c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode), nil
	}
	return driver, db.SQLiteDSN(c.SQLitePath), nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", c.LogLevel)
	}
	return level, nil
}
