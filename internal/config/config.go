package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	RedisAddr string
	Database  DatabaseConfig
	Log       LogConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Verbose  bool // log every SQL statement

	// Embedded PostgreSQL is used when Host is localhost and no password is set
	EmbeddedDataPath string
	EmbeddedPort     int
}

// Embedded reports whether Connect should start its own PostgreSQL
func (c DatabaseConfig) Embedded() bool {
	return c.Host == "localhost" && c.Password == ""
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level      string
	File       string // empty = stdout only
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
}

// DeviceConfig holds configuration of the on-device agent
type DeviceConfig struct {
	DeviceID       string
	OrganizationID string
	DBPath         string
	Port           string
	Log            LogConfig
	Sync           *SyncConfig
}

// Load loads server configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	nodeEnv := getEnv("NODE_ENV", "development")

	return &Config{
		NodeEnv:   nodeEnv,
		Port:      getEnv("PORT", "3210"),
		JWTSecret: jwtSecret,
		RedisAddr: os.Getenv("REDIS_ADDR"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "posync"),
			Verbose:  getBoolEnv("DB_VERBOSE", false),

			EmbeddedDataPath: getEnv("PG_EMBEDDED_DATA", "./db_data"),
			EmbeddedPort:     getIntEnv("PG_EMBEDDED_PORT", 5433),
		},
		Log: loadLogConfig(nodeEnv),
	}, nil
}

// LoadDevice loads the device agent configuration from environment variables
func LoadDevice() (*DeviceConfig, error) {
	_ = godotenv.Load()

	orgID := os.Getenv("ORGANIZATION_ID")
	if orgID == "" {
		return nil, fmt.Errorf("ORGANIZATION_ID is required")
	}

	deviceID := os.Getenv("DEVICE_ID")
	if deviceID == "" {
		host, _ := os.Hostname()
		deviceID = "pos-" + host
	}

	return &DeviceConfig{
		DeviceID:       deviceID,
		OrganizationID: orgID,
		DBPath:         getEnv("DEVICE_DB_PATH", "./posync-device.db"),
		Port:           getEnv("DEVICE_PORT", "3211"),
		Log:            loadLogConfig(getEnv("NODE_ENV", "development")),
		Sync:           LoadSyncConfig(),
	}, nil
}

func loadLogConfig(nodeEnv string) LogConfig {
	return LogConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		File:       os.Getenv("LOG_FILE"),
		MaxSizeMB:  getIntEnv("LOG_MAX_SIZE_MB", 20),
		MaxBackups: getIntEnv("LOG_MAX_BACKUPS", 5),
		JSON:       nodeEnv == "production",
	}
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
