package bridge

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBridgeConfigMissingFileYieldsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "bridge.yml")

	cfg, err := loadBridgeConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg != DefaultBridgeConfig() {
		t.Errorf("got %+v, want defaults", cfg)
	}
	// the file is seeded later by the config watcher, not here
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("loadBridgeConfig wrote %s: %v", path, err)
	}
}

func TestLoadBridgeConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yml")
	err := os.WriteFile(path, []byte("sendIntervalUs: 10000\nreport:\n  xyBits: 8\n"), 0644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := loadBridgeConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SendIntervalUs != 10000 {
		t.Errorf("sendIntervalUs = %d, want 10000", cfg.SendIntervalUs)
	}
	if cfg.Report.XYBits != 8 {
		t.Errorf("xyBits = %d, want 8", cfg.Report.XYBits)
	}
	// untouched fields keep their defaults
	if cfg.RingCapacity != DefaultBridgeConfig().RingCapacity {
		t.Errorf("ringCapacity = %d, want default", cfg.RingCapacity)
	}

	if _, err := loadBridgeConfig(filepath.Join(t.TempDir(), "bad.yml")); err != nil {
		t.Fatalf("missing file should yield defaults, got %v", err)
	}
}
