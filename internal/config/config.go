// Package config loads the flashtsctl configuration file: the simulated
// device geometry and the advisory read_batch_rows / commit_interval_ms
// settings (§6, §9 Open Questions), in the style of
// sakateka-yanet2's coordinator cfg.go.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level flashtsctl configuration.
type Config struct {
	// Device describes the simulated flash backing store.
	Device DeviceConfig `yaml:"device"`
	// ReadBatchRows is advisory: the source treats it as a hint for
	// iterator batching size, never enforced by the core itself.
	ReadBatchRows int `yaml:"read_batch_rows"`
	// CommitIntervalMs is advisory: a hint for time-based flush policy
	// the CLI may apply, never enforced by the core itself.
	CommitIntervalMs uint64 `yaml:"commit_interval_ms"`
}

// DeviceConfig describes the simulated flash device.
type DeviceConfig struct {
	// Path is the backing file for a file-backed device. Empty selects
	// an in-memory device instead.
	Path string `yaml:"path"`
	// SizeBytes is the total addressable device size, a multiple of
	// 4096.
	SizeBytes uint32 `yaml:"size_bytes"`
	// MetaReservedBytes is the metadata region size reserved at the
	// start (lowest addresses) of the device. Defaults to 32768.
	MetaReservedBytes uint32 `yaml:"meta_reserved_bytes"`
}

// DefaultConfig returns the configuration flashtsctl uses when no file is
// supplied: a 1 MiB in-memory device with the default metadata region.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			SizeBytes:         1 << 20,
			MetaReservedBytes: 32768,
		},
		ReadBatchRows:    256,
		CommitIntervalMs: 2000,
	}
}

// Load reads and parses a YAML configuration file, starting from
// DefaultConfig so unset fields keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read file")
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if cfg.Device.MetaReservedBytes == 0 {
		cfg.Device.MetaReservedBytes = 32768
	}
	return cfg, nil
}
