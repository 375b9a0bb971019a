package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a blank-filled simulated flash device file if absent (an existing file is opened unchanged)",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d, err := openDriver(cfg)
		if err != nil {
			return err
		}
		defer closeDriver(d)
		fmt.Printf("initialized device: %d bytes (%d byte metadata region)\n", d.SizeBytes(), cfg.Device.MetaReservedBytes)
		return nil
	},
}
