package main

import (
	"github.com/pkg/errors"

	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/internal/config"
)

// openDriver opens the device named by cfg.Device.Path, creating it if
// absent, or an ephemeral in-memory device when no path is configured.
func openDriver(cfg *config.Config) (flashio.Driver, error) {
	if cfg.Device.Path == "" {
		d, err := flashio.NewMemDriver(cfg.Device.SizeBytes)
		if err != nil {
			return nil, errors.Wrap(err, "allocate in-memory device")
		}
		return d, nil
	}
	d, err := flashio.OpenFileDriver(cfg.Device.Path, cfg.Device.SizeBytes)
	if err != nil {
		return nil, errors.Wrapf(err, "open device file %q", cfg.Device.Path)
	}
	return d, nil
}

func closeDriver(d flashio.Driver) {
	if c, ok := d.(*flashio.FileDriver); ok {
		c.Close()
	}
}
