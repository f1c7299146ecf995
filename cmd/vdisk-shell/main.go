// Command vdisk-shell is a thin interactive client for a virtual drive
// server: it dials a drive.Server over the block protocol and relays
// simple line commands to it. It is deliberately minimal — command
// dispatch and terminal editing are out of scope for the core.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/diskfs/vdiskfs/driveclient"
)

var clientCmd = &cobra.Command{
	Use:                   "client PORT",
	Short:                 "Connect to a virtual drive and issue block-protocol commands",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("127.0.0.1:%s", args[0])
		c, err := driveclient.Dial(addr, nil)
		if err != nil {
			return errors.Wrap(err, "failed to connect to virtual drive")
		}
		defer c.Shutdown()

		g := c.Describe()
		fmt.Printf("connected: cylinders=%d sectors_per_cylinder=%d bytes_per_sector=%d\n",
			g.Cylinders, g.SectorsPerCylinder, g.BytesPerSector)

		return runREPL(c, g.BytesPerSector)
	},
}

func runREPL(c *driveclient.Client, bytesPerSector uint64) error {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "desc":
			g := c.Describe()
			fmt.Printf("cylinders=%d sectors_per_cylinder=%d bytes_per_sector=%d\n",
				g.Cylinders, g.SectorsPerCylinder, g.BytesPerSector)
		case "read":
			if len(fields) != 2 {
				fmt.Println("usage: read <sector_addr>")
				continue
			}
			addr, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println(err)
				continue
			}
			buf := make([]byte, bytesPerSector)
			if err := c.ReadSector(addr, buf); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Printf("%q\n", buf)
		case "write":
			if len(fields) < 2 {
				fmt.Println("usage: write <sector_addr> <text>")
				continue
			}
			addr, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				fmt.Println(err)
				continue
			}
			buf := make([]byte, bytesPerSector)
			copy(buf, strings.Join(fields[2:], " "))
			if err := c.WriteSector(addr, buf); err != nil {
				fmt.Println(err)
				continue
			}
			fmt.Println("ok")
		case "quit", "exit":
			return nil
		default:
			fmt.Println("commands: desc, read <addr>, write <addr> <text>, quit")
		}
	}
}

func main() {
	if err := clientCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
