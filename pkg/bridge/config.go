package bridge

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// Config points at the bridge's on-disk locations. It is fixed for the
// lifetime of the process; BridgeConfig is the user-edited part.
type Config struct {
	DataDir      string `json:"dataDir"`
	BridgeConfig string `json:"bridgeConfig"`
}

// BridgeConfig is loaded from bridge.yml. Changes to it are detected while
// the bridge runs, but the radio link parameters only apply on restart.
type BridgeConfig struct {
	// SendIntervalUs is the radio report interval in microseconds.
	SendIntervalUs int `json:"sendIntervalUs"`
	// RingCapacity is the motion queue depth.
	RingCapacity int `json:"ringCapacity"`
	// Grab detaches bridged devices from the local input stack.
	Grab   bool         `json:"grab"`
	Report ReportConfig `json:"report"`
}

// ReportConfig shapes the outgoing mouse report.
type ReportConfig struct {
	XYBits    int `json:"xyBits"`
	WheelBits int `json:"wheelBits"`
	Buttons   int `json:"buttons"`
}

func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		SendIntervalUs: 7500,
		RingCapacity:   128,
		Grab:           true,
		Report: ReportConfig{
			XYBits:    16,
			WheelBits: 8,
			Buttons:   3,
		},
	}
}

// loadBridgeConfig reads bridge.yml, falling back to defaults when the file
// does not exist yet. Seeding the file is the config watcher's job, via
// configsvc.RegisterOrInit.
func loadBridgeConfig(path string) (BridgeConfig, error) {
	cfg := DefaultBridgeConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}
