package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadJSONFileWithComments(t *testing.T) {
	js := `{
        // pool station
        "sensor_type": "real",
        "bus": { "name": "serial:/dev/ttyUSB0", "family_code": 40, "sensors": 2 },
        "interval_ms": 1000,
        "read_retry": { "attempts": 5, "backoff_ms": 50 },
        "outputs": [
            {"type": "http", "http": {"address": "192.168.1.10:8080", "path": "/data"}},
            {"type": "console", "interval_ms": 5000}, /* trailing comment */
        ]
    }`
	path := filepath.Join(t.TempDir(), "cfg.json")
	if err := os.WriteFile(path, []byte(js), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bus.Name != "serial:/dev/ttyUSB0" {
		t.Fatalf("bus name: got %q", cfg.Bus.Name)
	}
	if cfg.ReadRetry.Attempts != 5 || cfg.ReadRetry.BackoffMs != 50 {
		t.Fatalf("read retry: %+v", cfg.ReadRetry)
	}
	if len(cfg.Outputs) != 2 || cfg.Outputs[0].Type != "http" {
		t.Fatalf("outputs: %+v", cfg.Outputs)
	}
	if cfg.Outputs[0].HTTP == nil || cfg.Outputs[0].HTTP.Address != "192.168.1.10:8080" {
		t.Fatalf("http output incorrect: %+v", cfg.Outputs[0].HTTP)
	}
	if cfg.Outputs[1].IntervalMs != 5000 {
		t.Fatalf("console interval: got %d", cfg.Outputs[1].IntervalMs)
	}
	// defaults survive for fields the file does not set
	if cfg.DiscoveryRetry.Attempts != 3 || cfg.ChannelCapacity != 4 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	cfg.fillOutputDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadFileErrors(t *testing.T) {
	cfg := DefaultConfig()
	if err := LoadFile(filepath.Join(t.TempDir(), "missing.json"), &cfg); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"interval_ms": "fast"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(path, &cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}
