// Command vfsd serves the file-system shell protocol: with one port it
// mounts an in-memory disk, with two it mounts a remote virtual drive
// reached over the block protocol.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/diskfs/vdiskfs/diskview"
	"github.com/diskfs/vdiskfs/driveclient"
	"github.com/diskfs/vdiskfs/fsserver"
	"github.com/diskfs/vdiskfs/storage"
	"github.com/diskfs/vdiskfs/storage/ramstore"
	"github.com/diskfs/vdiskfs/vfs"
)

// defaultGeometry sizes the in-memory disk used when no remote drive port
// is given.
var defaultGeometry = storage.Geometry{
	Cylinders:          1024,
	SectorsPerCylinder: 64,
	BytesPerSector:     256,
}

var fsCmd = &cobra.Command{
	Use:                   "fs [disk_port] fs_port",
	Short:                 "Serve the file-system shell protocol",
	Args:                  cobra.RangeArgs(1, 2),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		fsPort := args[len(args)-1]

		var provider storage.Provider
		if len(args) == 2 {
			addr := fmt.Sprintf("127.0.0.1:%s", args[0])
			c, err := driveclient.Dial(addr, nil)
			if err != nil {
				return errors.Wrap(err, "failed to connect to remote drive")
			}
			provider = c
		} else {
			store, err := ramstore.New(defaultGeometry)
			if err != nil {
				return errors.Wrap(err, "failed to create in-memory disk")
			}
			provider = store
		}

		fs, err := vfs.Mount(diskview.New(provider))
		if err != nil {
			return errors.Wrap(err, "failed to mount file system")
		}
		if !fs.Formatted() {
			fmt.Fprintln(os.Stderr, "disk is unformatted; send FORMAT over the protocol to initialize it")
		}

		srv := fsserver.New(fs, nil)
		addr := fmt.Sprintf(":%s", fsPort)
		if err := srv.ListenAndServe(addr); err != nil {
			return errors.Wrap(err, "file-system server exited")
		}
		return nil
	},
}

func main() {
	if err := fsCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
