package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/flashtsdb"
)

var (
	writeSeries uint16
	writeTsMs   uint32
	writeValue  float64
)

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Append one (series, ts_ms, value) sample, flush, and save a snapshot",
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

		db, err := flashtsdb.Open(flashtsdb.Options{
			Driver:           d,
			Clock:            flashio.SystemClock{},
			Logger:           newLogger(),
			MetaReserved:     cfg.Device.MetaReservedBytes,
			ReadBatchRows:    cfg.ReadBatchRows,
			CommitIntervalMs: cfg.CommitIntervalMs,
		})
		if err != nil {
			return err
		}
		if err := db.Write(writeSeries, writeTsMs, writeValue); err != nil {
			return err
		}
		if err := db.Flush(); err != nil {
			return err
		}
		if err := db.SnapshotSave(); err != nil {
			return err
		}
		fmt.Printf("wrote series=%d ts_ms=%d value=%v\n", writeSeries, writeTsMs, writeValue)
		return nil
	},
}

func init() {
	writeCmd.Flags().Uint16Var(&writeSeries, "series", 0, "series identifier, 0-255")
	writeCmd.Flags().Uint32Var(&writeTsMs, "ts", 0, "timestamp in milliseconds")
	writeCmd.Flags().Float64Var(&writeValue, "value", 0, "sample value")
}
