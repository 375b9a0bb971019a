package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/flashtsdb"
)

var checkSeries uint16

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Iterate a series end to end and report any CRC errors surfaced along the way",
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
			Driver:       d,
			Clock:        flashio.SystemClock{},
			Logger:       newLogger(),
			MetaReserved: cfg.Device.MetaReservedBytes,
		})
		if err != nil {
			return err
		}

		before := db.Info().CRCErrors
		// Two halves, each safely under the wrap-around midpoint, so
		// together they cover the full u32 timestamp space without
		// hitting the ambiguous t0==t1+1 wrap edge.
		rows := 0
		for _, window := range [][2]uint32{{0, 0x7FFFFFFF}, {0x80000000, 0xFFFFFFFF}} {
			it := db.QueryBegin(checkSeries, window[0], window[1])
			for {
				if _, ok := it.Next(); !ok {
					break
				}
				rows++
			}
		}
		after := db.Info().CRCErrors

		fmt.Printf("series=%d rows=%d crc_errors=%d\n", checkSeries, rows, after-before)
		if after > before {
			return errors.Errorf("check: %d crc error(s) encountered for series %d", after-before, checkSeries)
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().Uint16Var(&checkSeries, "series", 0, "series identifier to check")
}
