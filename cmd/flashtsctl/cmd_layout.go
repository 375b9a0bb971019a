package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinkerator/flashts/flashio"
	"github.com/tinkerator/flashts/flashtsdb"
)

var layoutCmd = &cobra.Command{
	Use:   "layout",
	Short: "Display the per-segment zone map rebuilt by recovery at open",
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

		info := db.Info()
		fmt.Printf("head_seq=%d tail_seq=%d blocks_written=%d crc_errors=%d gc_warn=%d gc_busy=%d recovery_truncations=%d quant_saturations=%d epoch=%d\n",
			info.HeadSeq, info.TailSeq, info.BlocksWritten, info.CRCErrors, info.GCWarn, info.GCBusy,
			info.RecoveryTruncations, info.QuantSaturations, info.EpochID)

		fmt.Println("slot   addr_first  seg_seqno  valid  blocks   t_min      t_max")
		fmt.Println("----  ----------  ---------  -----  ------  ---------  ---------")
		for i, sum := range db.Summaries() {
			fmt.Printf("%4d  0x%08x  %9d  %5v  %6d  %9d  %9d\n",
				i, sum.AddrFirst, sum.SegSeqno, sum.Valid, sum.BlockCount, sum.TMin, sum.TMax)
		}
		return nil
	},
}
