package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/bdobrica/matterbridge/internal/matterbridge/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"CHIP_TOOL_PATH", "PAA_CERT_DIR_PATH", "COMMISSIONING_DIR",
		"DATABASE_PATH", "POLLING_INTERVAL", "MAX_CONCURRENT_DEVICES",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	clearEnv(t)
	if _, err := config.Load(); err == nil {
		t.Fatal("expected error when CHIP_TOOL_PATH/PAA_CERT_DIR_PATH are unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHIP_TOOL_PATH", "/usr/bin/chip-tool")
	t.Setenv("PAA_CERT_DIR_PATH", "/etc/matter/paa")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollingInterval != 5*time.Second {
		t.Errorf("PollingInterval: got %v, want 5s", cfg.PollingInterval)
	}
	if cfg.MaxConcurrentDevices != 5 {
		t.Errorf("MaxConcurrentDevices: got %d, want 5", cfg.MaxConcurrentDevices)
	}
	if !cfg.DeviceErrorStop {
		t.Error("DeviceErrorStop: want true by default")
	}
	if cfg.DatabasePath != "./matterbridge.db" {
		t.Errorf("DatabasePath: got %q", cfg.DatabasePath)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CHIP_TOOL_PATH", "/usr/bin/chip-tool")
	t.Setenv("PAA_CERT_DIR_PATH", "/etc/matter/paa")
	t.Setenv("MAX_CONCURRENT_DEVICES", "20")
	t.Setenv("POLLING_INTERVAL", "30s")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrentDevices != 20 {
		t.Errorf("MaxConcurrentDevices: got %d, want 20", cfg.MaxConcurrentDevices)
	}
	if cfg.PollingInterval != 30*time.Second {
		t.Errorf("PollingInterval: got %v, want 30s", cfg.PollingInterval)
	}
}
