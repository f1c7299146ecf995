// Command vfs-shell is a thin interactive client for the file-system
// protocol server: it dials fsserver.Server and relays line commands to
// it, printing replies. Command dispatch and terminal editing beyond this
// are out of scope for the core.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/diskfs/vdiskfs/wire/fsproto"
)

var shellCmd = &cobra.Command{
	Use:                   "vfs-shell PORT",
	Short:                 "Connect to a file-system server and issue shell commands",
	Args:                  cobra.ExactArgs(1),
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := fmt.Sprintf("127.0.0.1:%s", args[0])
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return errors.Wrap(err, "failed to connect to file-system server")
		}
		defer conn.Close()

		reply, err := fsproto.ReadConnectReply(conn)
		if err != nil {
			return errors.Wrap(err, "failed to read connect reply")
		}
		if reply == fsproto.ConnectedNoFormat {
			fmt.Println("disk is unformatted; send 'format' to initialize it")
		}

		return runREPL(conn)
	},
}

func runREPL(conn net.Conn) error {
	scanner := bufio.NewScanner(os.Stdin)
	path := "/"
	for {
		fmt.Printf("%s> ", path)
		if !scanner.Scan() {
			return nil
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var instr fsproto.Instr
		var extra []string
		switch fields[0] {
		case "cd":
			instr, extra = fsproto.InstrCD, fields[1:]
		case "ls":
			instr = fsproto.InstrLS
		case "mk":
			instr, extra = fsproto.InstrMK, fields[1:]
		case "rm":
			instr, extra = fsproto.InstrRM, fields[1:]
		case "mkdir":
			instr, extra = fsproto.InstrMkdir, fields[1:]
		case "rmdir":
			instr, extra = fsproto.InstrRmdir, fields[1:]
		case "cat":
			instr, extra = fsproto.InstrCat, fields[1:]
		case "write":
			instr, extra = fsproto.InstrWrite, fields[1:]
		case "format":
			instr = fsproto.InstrFormat
		case "quit", "exit":
			return nil
		default:
			fmt.Println("commands: cd, ls, mk, rm, mkdir, rmdir, cat, write, format, quit")
			continue
		}

		if err := fsproto.WriteInstr(conn, instr); err != nil {
			return errors.Wrap(err, "failed to send command")
		}
		if err := sendArgs(conn, instr, extra); err != nil {
			fmt.Println(err)
			continue
		}

		reply, err := fsproto.ReadReply(conn)
		if err != nil {
			return errors.Wrap(err, "failed to read reply")
		}
		if reply != fsproto.ReplyOK {
			fmt.Println(reply)
			continue
		}

		if err := handleOKReply(conn, instr, &path); err != nil {
			fmt.Println(err)
		}
	}
}

func sendArgs(conn net.Conn, instr fsproto.Instr, extra []string) error {
	switch instr {
	case fsproto.InstrCD, fsproto.InstrMK, fsproto.InstrRM, fsproto.InstrMkdir, fsproto.InstrRmdir, fsproto.InstrCat:
		if len(extra) != 1 {
			return errors.New("expected exactly one name argument")
		}
		return fsproto.WriteString(conn, extra[0])
	case fsproto.InstrWrite:
		if len(extra) < 1 {
			return errors.New("usage: write <name> <text>")
		}
		if err := fsproto.WriteString(conn, extra[0]); err != nil {
			return err
		}
		return fsproto.WriteString(conn, strings.Join(extra[1:], " "))
	case fsproto.InstrFormat:
		return nil
	default:
		return nil
	}
}

func handleOKReply(conn net.Conn, instr fsproto.Instr, path *string) error {
	switch instr {
	case fsproto.InstrCD:
		p, err := fsproto.ReadString(conn)
		if err != nil {
			return err
		}
		*path = p
	case fsproto.InstrLS:
		count, err := fsproto.ReadUint32(conn)
		if err != nil {
			return err
		}
		for i := uint32(0); i < count; i++ {
			name, err := fsproto.ReadString(conn)
			if err != nil {
				return err
			}
			fmt.Println(name)
		}
	case fsproto.InstrCat:
		data, err := fsproto.ReadString(conn)
		if err != nil {
			return err
		}
		fmt.Println(data)
	}
	return nil
}

func main() {
	if err := shellCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
