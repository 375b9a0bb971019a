package main

import (
	"bufio"
	"fmt"

	"github.com/pkg/errors"
	"github.com/pkg/term"
	"github.com/spf13/cobra"
	"zappem.net/pub/debug/xxd"

	"github.com/tinkerator/flashts/flashio"
)

var browseCmd = &cobra.Command{
	Use:   "browse",
	Short: "Interactively step through the device a segment at a time, hex-dumping each segment's first page: n/p to move, q to quit",
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

		tty, err := term.Open("/dev/tty", term.RawMode)
		if err != nil {
			return errors.Wrap(err, "browse: open controlling terminal in raw mode")
		}
		defer tty.Restore()
		defer tty.Close()
		r := bufio.NewReader(tty)

		const segmentSize = flashio.SectorSize
		segCount := d.SizeBytes() / segmentSize
		idx := uint32(0)

		showSegment := func(i uint32) error {
			buf := make([]byte, segmentSize)
			if err := d.Read(i*segmentSize, buf); err != nil {
				return err
			}
			fmt.Printf("\r\n-- segment %d/%d --\r\n", i, segCount-1)
			xxd.Print(int(i*segmentSize), buf[:256])
			fmt.Printf("\r\n[n]ext  [p]rev  [q]uit\r\n")
			return nil
		}

		if err := showSegment(idx); err != nil {
			return err
		}
		for {
			b, err := r.ReadByte()
			if err != nil {
				return errors.Wrap(err, "browse: read keypress")
			}
			switch b {
			case 'q', 'Q', 3: // 3 = Ctrl-C
				return nil
			case 'n', 'N':
				if idx+1 < segCount {
					idx++
				}
			case 'p', 'P':
				if idx > 0 {
					idx--
				}
			default:
				continue
			}
			if err := showSegment(idx); err != nil {
				return err
			}
		}
	},
}
