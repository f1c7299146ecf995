// Package blockproto implements the wire framing shared between the
// virtual drive server and the drive client: a transaction-oriented
// request/reply protocol over a single TCP connection. Every multi-byte
// field is little-endian on the wire; the original implementation this was
// ported from relied on matching native byte order between endpoints, which
// is fixed here deliberately (see design notes).
package blockproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diskfs/vdiskfs/storage"
)

// Instr identifies the operation a request/reply frame carries.
type Instr uint8

const (
	InstrGetDesc  Instr = 0
	InstrRead     Instr = 1
	InstrWrite    Instr = 2
	InstrShutdown Instr = 3
)

func (i Instr) String() string {
	switch i {
	case InstrGetDesc:
		return "GET_DESC"
	case InstrRead:
		return "READ"
	case InstrWrite:
		return "WRITE"
	case InstrShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("Instr(%d)", uint8(i))
	}
}

// header is the fixed prefix shared by every request and reply frame.
type header struct {
	Instr Instr
	Tid   uint32
}

func writeHeader(w io.Writer, h header) error {
	buf := make([]byte, 5)
	buf[0] = byte(h.Instr)
	binary.LittleEndian.PutUint32(buf[1:], h.Tid)
	_, err := w.Write(buf)
	return err
}

func readHeader(r io.Reader) (header, error) {
	buf := make([]byte, 5)
	if _, err := io.ReadFull(r, buf); err != nil {
		return header{}, err
	}
	return header{Instr: Instr(buf[0]), Tid: binary.LittleEndian.Uint32(buf[1:])}, nil
}

// WriteGetDescRequest writes a GET_DESC request frame (payload-less).
func WriteGetDescRequest(w io.Writer, tid uint32) error {
	return writeHeader(w, header{Instr: InstrGetDesc, Tid: tid})
}

// WriteReadRequest writes a READ request frame.
func WriteReadRequest(w io.Writer, tid uint32, sectorAddr uint64) error {
	if err := writeHeader(w, header{Instr: InstrRead, Tid: tid}); err != nil {
		return err
	}
	return writeUint64(w, sectorAddr)
}

// WriteWriteRequest writes a WRITE request frame, including the sector
// payload which must be exactly bytesPerSector bytes.
func WriteWriteRequest(w io.Writer, tid uint32, sectorAddr uint64, data []byte) error {
	if err := writeHeader(w, header{Instr: InstrWrite, Tid: tid}); err != nil {
		return err
	}
	if err := writeUint64(w, sectorAddr); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// WriteShutdownRequest writes a SHUTDOWN request frame (payload-less).
func WriteShutdownRequest(w io.Writer, tid uint32) error {
	return writeHeader(w, header{Instr: InstrShutdown, Tid: tid})
}

// Request is a decoded request frame read off the wire by the server side.
type Request struct {
	Instr      Instr
	Tid        uint32
	SectorAddr uint64 // valid for InstrRead, InstrWrite
	Data       []byte // valid for InstrWrite, length bytesPerSector
}

// ReadRequest reads and decodes one request frame. bytesPerSector is needed
// to know how many payload bytes follow a WRITE instruction.
func ReadRequest(r io.Reader, bytesPerSector uint64) (Request, error) {
	h, err := readHeader(r)
	if err != nil {
		return Request{}, err
	}
	req := Request{Instr: h.Instr, Tid: h.Tid}
	switch h.Instr {
	case InstrRead:
		addr, err := readUint64(r)
		if err != nil {
			return Request{}, err
		}
		req.SectorAddr = addr
	case InstrWrite:
		addr, err := readUint64(r)
		if err != nil {
			return Request{}, err
		}
		req.SectorAddr = addr
		buf := make([]byte, bytesPerSector)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Request{}, err
		}
		req.Data = buf
	case InstrGetDesc, InstrShutdown:
		// no payload
	default:
		return Request{}, fmt.Errorf("blockproto: unknown instruction %d", h.Instr)
	}
	return req, nil
}

// WriteGetDescReply writes a GET_DESC reply carrying the disk geometry.
func WriteGetDescReply(w io.Writer, tid uint32, g storage.Geometry) error {
	if err := writeHeader(w, header{Instr: InstrGetDesc, Tid: tid}); err != nil {
		return err
	}
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], g.Cylinders)
	binary.LittleEndian.PutUint64(buf[8:16], g.SectorsPerCylinder)
	binary.LittleEndian.PutUint64(buf[16:24], g.BytesPerSector)
	_, err := w.Write(buf)
	return err
}

// WriteReadReply writes a READ reply carrying the sector payload.
func WriteReadReply(w io.Writer, tid uint32, data []byte) error {
	if err := writeHeader(w, header{Instr: InstrRead, Tid: tid}); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// WriteWriteReply writes a WRITE reply (payload-less acknowledgement).
func WriteWriteReply(w io.Writer, tid uint32) error {
	return writeHeader(w, header{Instr: InstrWrite, Tid: tid})
}

// WriteShutdownReply writes a SHUTDOWN reply (payload-less acknowledgement).
func WriteShutdownReply(w io.Writer, tid uint32) error {
	return writeHeader(w, header{Instr: InstrShutdown, Tid: tid})
}

// Reply is a decoded reply frame read off the wire by the client side.
type Reply struct {
	Instr Instr
	Tid   uint32
	Desc  storage.Geometry // valid for InstrGetDesc
	Data  []byte           // valid for InstrRead, length bytesPerSector
}

// ReadReply reads and decodes one reply frame. bytesPerSector is needed to
// know how many payload bytes follow a READ reply; it may be zero before
// the client has learned the server's geometry (only used for GET_DESC).
func ReadReply(r io.Reader, bytesPerSector uint64) (Reply, error) {
	h, err := readHeader(r)
	if err != nil {
		return Reply{}, err
	}
	rep := Reply{Instr: h.Instr, Tid: h.Tid}
	switch h.Instr {
	case InstrGetDesc:
		buf := make([]byte, 24)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Reply{}, err
		}
		rep.Desc = storage.Geometry{
			Cylinders:          binary.LittleEndian.Uint64(buf[0:8]),
			SectorsPerCylinder: binary.LittleEndian.Uint64(buf[8:16]),
			BytesPerSector:     binary.LittleEndian.Uint64(buf[16:24]),
		}
	case InstrRead:
		buf := make([]byte, bytesPerSector)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Reply{}, err
		}
		rep.Data = buf
	case InstrWrite, InstrShutdown:
		// no payload
	default:
		return Reply{}, fmt.Errorf("blockproto: unknown instruction %d", h.Instr)
	}
	return rep, nil
}

func writeUint64(w io.Writer, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	_, err := w.Write(buf)
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	buf := make([]byte, 8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}
