package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadSyncConfig_FromEnvironment(t *testing.T) {
	t.Setenv("SYNC_CONFIG_PATH", "")
	t.Setenv("SYNC_SERVER_URL", "https://pos.example.com")
	t.Setenv("SYNC_FALLBACK_URL", "http://10.0.0.2:3210")
	t.Setenv("SYNC_ROUTE_TIMEOUT", "4")
	t.Setenv("SYNC_MAX_ATTEMPTS", "3")
	t.Setenv("SYNC_ON_STARTUP", "false")

	cfg := LoadSyncConfig()

	if len(cfg.Routes) != 2 {
		t.Fatalf("Expected 2 routes, got %d", len(cfg.Routes))
	}
	if cfg.Routes[0].Type != "primary" || cfg.Routes[0].Timeout != 4 {
		t.Errorf("Unexpected primary route: %+v", cfg.Routes[0])
	}
	if cfg.Routes[1].Priority != 2 || cfg.Routes[1].Timeout != 8 {
		t.Errorf("Unexpected fallback route: %+v", cfg.Routes[1])
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("Expected 3 max attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.SyncOnStartup {
		t.Error("Expected sync on startup to be disabled")
	}
}

func TestLoadSyncConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	body := `{"routes":[{"url":"http://lan:3210","type":"primary","timeout":2,"priority":1}],"max_attempts":7}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("SYNC_CONFIG_PATH", path)
	t.Setenv("SYNC_PUSH_TIMEOUT", "45")

	cfg := LoadSyncConfig()

	if len(cfg.Routes) != 1 || cfg.Routes[0].URL != "http://lan:3210" {
		t.Errorf("Unexpected routes: %+v", cfg.Routes)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("Expected 7 max attempts from file, got %d", cfg.MaxAttempts)
	}
	if cfg.PushTimeout != 45 {
		t.Errorf("Expected push timeout from environment default, got %d", cfg.PushTimeout)
	}
}

func TestLoadSyncConfig_BadFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.json")
	os.WriteFile(path, []byte("{not json"), 0o600)
	t.Setenv("SYNC_CONFIG_PATH", path)
	t.Setenv("SYNC_SERVER_URL", "https://pos.example.com")
	t.Setenv("SYNC_FALLBACK_URL", "")

	cfg := LoadSyncConfig()
	if len(cfg.Routes) != 1 || cfg.Routes[0].URL != "https://pos.example.com" {
		t.Errorf("Expected environment routes, got %+v", cfg.Routes)
	}
}

func TestDatabaseConfig_Embedded(t *testing.T) {
	tests := []struct {
		host, password string
		want           bool
	}{
		{"localhost", "", true},
		{"localhost", "secret", false},
		{"db.internal", "", false},
	}
	for _, tt := range tests {
		cfg := DatabaseConfig{Host: tt.host, Password: tt.password}
		if got := cfg.Embedded(); got != tt.want {
			t.Errorf("Embedded(%q, %q) = %v, want %v", tt.host, tt.password, got, tt.want)
		}
	}
}
