// Package fsproto implements the wire framing for the file-system shell
// protocol: a single command byte, length-prefixed strings, and fixed-width
// little-endian numeric fields, matching §4.8's framing rules.
package fsproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diskfs/vdiskfs/xerrors"
)

// Instr identifies the requested command.
type Instr uint8

const (
	InstrCD     Instr = 0
	InstrLS     Instr = 1
	InstrMK     Instr = 2
	InstrRM     Instr = 3
	InstrMkdir  Instr = 4
	InstrRmdir  Instr = 5
	InstrCat    Instr = 8
	InstrWrite  Instr = 9
	InstrInsert Instr = 10
	InstrDelete Instr = 11
	InstrFormat Instr = 15
)

func (i Instr) String() string {
	switch i {
	case InstrCD:
		return "CD"
	case InstrLS:
		return "LS"
	case InstrMK:
		return "MK"
	case InstrRM:
		return "RM"
	case InstrMkdir:
		return "MKDIR"
	case InstrRmdir:
		return "RMDIR"
	case InstrCat:
		return "CAT"
	case InstrWrite:
		return "WRITE"
	case InstrInsert:
		return "INSERT"
	case InstrDelete:
		return "DELETE"
	case InstrFormat:
		return "FORMAT"
	default:
		return fmt.Sprintf("Instr(%d)", uint8(i))
	}
}

// ConnectReply is the one-time reply a connection receives immediately
// after being accepted, before any request/reply exchange begins.
type ConnectReply uint8

const (
	ConnectedOK       ConnectReply = 0x40
	ConnectedNoFormat ConnectReply = 0x41
)

// Reply identifies the outcome of a single command.
type Reply uint8

const (
	ReplyOK               Reply = 0x20
	ReplyNotExist         Reply = 0x30
	ReplyAlreadyExist     Reply = 0x31
	ReplyNameTooLong      Reply = 0x32
	ReplyNameInvalid      Reply = 0x33
	ReplyBusyHandle       Reply = 0x34
	ReplyCapacityExceeded Reply = 0x35
	ReplyAccessDenied     Reply = 0x36
	// ReplyNotEmpty is a protocol extension beyond the original reply
	// table, needed to surface folder removal's Recursive/non-empty
	// distinction over the wire.
	ReplyNotEmpty Reply = 0x37
	ReplyUnknown  Reply = 0x3F
)

func (r Reply) String() string {
	switch r {
	case ReplyOK:
		return "OK"
	case ReplyNotExist:
		return "NOT_EXIST"
	case ReplyAlreadyExist:
		return "ALREADY_EXIST"
	case ReplyNameTooLong:
		return "NAME_TOO_LONG"
	case ReplyNameInvalid:
		return "NAME_INVALID"
	case ReplyBusyHandle:
		return "BUSY_HANDLE"
	case ReplyCapacityExceeded:
		return "CAPACITY_EXCEEDED"
	case ReplyAccessDenied:
		return "ACCESS_DENIED"
	case ReplyNotEmpty:
		return "NOT_EMPTY"
	default:
		return "UNKNOWN"
	}
}

// WriteConnectReply is sent exactly once, right after accept.
func WriteConnectReply(w io.Writer, r ConnectReply) error {
	_, err := w.Write([]byte{byte(r)})
	return err
}

// ReadConnectReply is used by the shell client immediately after dialing.
func ReadConnectReply(r io.Reader) (ConnectReply, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return ConnectReply(buf[0]), nil
}

// WriteInstr writes the one-byte command code that begins every request.
func WriteInstr(w io.Writer, instr Instr) error {
	_, err := w.Write([]byte{byte(instr)})
	return err
}

// ReadInstr reads the one-byte command code that begins every request.
func ReadInstr(r io.Reader) (Instr, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return Instr(buf[0]), nil
}

// WriteReply writes a one-byte reply code.
func WriteReply(w io.Writer, r Reply) error {
	_, err := w.Write([]byte{byte(r)})
	return err
}

// ReadReply reads a one-byte reply code.
func ReadReply(r io.Reader) (Reply, error) {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return Reply(buf[0]), nil
}

// WriteString writes a length-prefixed string: an 8-byte little-endian
// length followed by the raw bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a length-prefixed string written by WriteString.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteUint64 writes a fixed-width little-endian 64-bit field.
func WriteUint64(w io.Writer, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint64 reads a fixed-width little-endian 64-bit field.
func ReadUint64(r io.Reader) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteUint32 writes a fixed-width little-endian 32-bit field.
func WriteUint32(w io.Writer, v uint32) error {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	_, err := w.Write(buf)
	return err
}

// ReadUint32 reads a fixed-width little-endian 32-bit field.
func ReadUint32(r io.Reader) (uint32, error) {
	buf := make([]byte, 4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReplyForKind maps a semantic xerrors.Kind to the wire reply code the
// protocol defines for it, so a worker can turn a vfs error straight into
// a reply byte without a type switch at every call site.
func ReplyForKind(kind xerrors.Kind) Reply {
	switch kind {
	case xerrors.KindNameNotExist:
		return ReplyNotExist
	case xerrors.KindNameAlreadyExist:
		return ReplyAlreadyExist
	case xerrors.KindNameTooLong:
		return ReplyNameTooLong
	case xerrors.KindNameInvalid:
		return ReplyNameInvalid
	case xerrors.KindBusyHandle:
		return ReplyBusyHandle
	case xerrors.KindCapacityExceeded:
		return ReplyCapacityExceeded
	case xerrors.KindAccessDenied:
		return ReplyAccessDenied
	case xerrors.KindNotEmpty:
		return ReplyNotEmpty
	default:
		return ReplyUnknown
	}
}
