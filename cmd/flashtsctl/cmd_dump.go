package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/tinkerator/flashts/flashio"
)

var (
	dumpAddr uint32
	dumpLen  uint32
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Hex-dump len bytes of the device starting at addr",
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

		if uint64(dumpAddr)+uint64(dumpLen) > uint64(d.SizeBytes()) {
			return errors.Errorf("dump: [0x%x,0x%x) exceeds device size 0x%x", dumpAddr, dumpAddr+dumpLen, d.SizeBytes())
		}
		buf := make([]byte, dumpLen)
		if err := d.Read(dumpAddr, buf); err != nil {
			return err
		}
		xxd.Print(int(dumpAddr), buf)
		return nil
	},
}

func init() {
	dumpCmd.Flags().Uint32Var(&dumpAddr, "addr", 0, "device byte offset to start the dump")
	dumpCmd.Flags().Uint32Var(&dumpLen, "len", uint32(flashio.PageSize), "number of bytes to dump")
}
