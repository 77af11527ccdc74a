package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// SyncConfig holds device-side synchronization configuration
type SyncConfig struct {
	// ============ ROUTES ============
	Routes []SyncRouteConfig `json:"routes"`

	// ============ AUTH ============
	DeviceToken string `json:"device_token"`

	// ============ SCHEDULING ============
	HealthCheckInterval int  `json:"health_check_interval"` // seconds
	SyncOnStartup       bool `json:"sync_on_startup"`

	// ============ LIMITS ============
	PushTimeout int `json:"push_timeout"` // seconds
	MaxAttempts int `json:"max_attempts"` // failed pushes before a record is dead-lettered
}

// SyncRouteConfig represents a sync route
type SyncRouteConfig struct {
	URL      string `json:"url"`
	Type     string `json:"type"`     // primary, fallback
	Timeout  int    `json:"timeout"`  // seconds
	Priority int    `json:"priority"` // lower = higher priority
}

// LoadSyncConfig loads sync configuration from environment or file
func LoadSyncConfig() *SyncConfig {
	// Try to load from file first
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadSyncConfigFromFile(configPath); err == nil {
			return cfg
		} else {
			GetLogger().WithError(err).WithField("path", configPath).Warn("Falling back to environment sync config")
		}
	}

	// Otherwise use defaults
	return getDefaultSyncConfig()
}

// loadSyncConfigFromFile loads sync config from JSON file
func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := getDefaultSyncConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid sync config %s: %w", path, err)
	}

	return cfg, nil
}

// getDefaultSyncConfig returns default sync configuration
func getDefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Routes:              getDefaultRoutes(),
		DeviceToken:         os.Getenv("SYNC_DEVICE_TOKEN"),
		HealthCheckInterval: getIntEnv("SYNC_HEALTH_INTERVAL", 15),
		SyncOnStartup:       getBoolEnv("SYNC_ON_STARTUP", true),
		PushTimeout:         getIntEnv("SYNC_PUSH_TIMEOUT", 120),
		MaxAttempts:         getIntEnv("SYNC_MAX_ATTEMPTS", 5),
	}
}

// getDefaultRoutes returns default sync routes
func getDefaultRoutes() []SyncRouteConfig {
	routes := []SyncRouteConfig{}
	timeout := getIntEnv("SYNC_ROUTE_TIMEOUT", 5)

	if serverURL := os.Getenv("SYNC_SERVER_URL"); serverURL != "" {
		routes = append(routes, SyncRouteConfig{
			URL:      serverURL,
			Type:     "primary",
			Timeout:  timeout,
			Priority: 1,
		})
	}

	if fallbackURL := os.Getenv("SYNC_FALLBACK_URL"); fallbackURL != "" {
		routes = append(routes, SyncRouteConfig{
			URL:      fallbackURL,
			Type:     "fallback",
			Timeout:  timeout * 2,
			Priority: 2,
		})
	}

	if len(routes) == 0 {
		GetLogger().Warn("No sync routes configured (SYNC_SERVER_URL and SYNC_FALLBACK_URL not set)")
	}

	return routes
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
