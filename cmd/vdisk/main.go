// Command vdisk runs the virtual drive server: a memory-mapped backing
// file exposed over the block protocol on a TCP port.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/diskfs/vdiskfs/drive"
	"github.com/diskfs/vdiskfs/drive/scheduler"
	"github.com/diskfs/vdiskfs/storage"
)

var (
	cylinders    uint64
	sectorsPerCy uint64
	bytesPerSec  uint64
	delayUs      uint64
	port         uint16
	schedKind    string
)

var diskCmd = &cobra.Command{
	Use:                   "disk FILE -c cylinders -s sectors_per_cylinder -p port",
	Short:                 "Serve a memory-mapped virtual drive over the block protocol",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port < 1000 {
			return errors.Errorf("port must be in range 1000..65535, got %d", port)
		}
		geometry := storage.Geometry{
			Cylinders:          cylinders,
			SectorsPerCylinder: sectorsPerCy,
			BytesPerSector:     bytesPerSec,
		}
		if err := geometry.Validate(); err != nil {
			return errors.Wrap(err, "invalid disk geometry")
		}

		srv, err := drive.Open(drive.Config{
			Geometry:      geometry,
			SimMoveCostUs: delayUs,
			Scheduler:     scheduler.Kind(schedKind),
			Path:          args[0],
		})
		if err != nil {
			return errors.Wrap(err, "failed to open virtual drive")
		}
		defer srv.Close()

		addr := fmt.Sprintf(":%d", port)
		if err := srv.ListenAndServe(addr); err != nil {
			return errors.Wrap(err, "virtual drive server exited")
		}
		return nil
	},
}

func init() {
	diskCmd.Flags().Uint64VarP(&cylinders, "cylinders", "c", 0, "number of cylinders")
	diskCmd.Flags().Uint64VarP(&sectorsPerCy, "sectors", "s", 0, "sectors per cylinder")
	diskCmd.Flags().Uint64VarP(&bytesPerSec, "bytes-per-sector", "b", 256, "bytes per sector")
	diskCmd.Flags().Uint64VarP(&delayUs, "delay", "d", 0, "simulated per-cylinder seek cost, in microseconds")
	diskCmd.Flags().Uint16VarP(&port, "port", "p", 0, "TCP port to listen on")
	diskCmd.Flags().StringVar(&schedKind, "scheduler", string(scheduler.SSTF), "head-scheduling policy: sstf, scan, cscan, look, clook")
	_ = diskCmd.MarkFlagRequired("cylinders")
	_ = diskCmd.MarkFlagRequired("sectors")
	_ = diskCmd.MarkFlagRequired("port")
}

func main() {
	if err := diskCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
