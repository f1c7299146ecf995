package vfs

import (
	"encoding/binary"

	"github.com/diskfs/vdiskfs/xerrors"
)

const (
	magicFormatted = 0x0909

	// node layout offsets, all within one 256-byte sector
	offMagic      = 0x00
	offAttrib     = 0x02
	offChecksum   = 0x04
	offSizeBlocks = 0x08
	offSizeOffset = 0x0C
	offName       = 0x10
	offTimestamp  = 0x50
	offParentAddr = 0x58
	offExtHeader  = 0x70
	offTreeData   = 0x80

	nameFieldLen     = 0x40 // 64 bytes, holds up to 63 chars + NUL
	extHeaderLen     = 0x10
	treeDataLen      = 0x80 // 128 bytes
	recordSize       = 0x100
	nodeEntrySize    = 16 // extent entry / extent index entry; folder child pointers are 8 bytes each

	attribFolderBit = 0x01

	// MaxFolderChildren is how many child block indices a folder's
	// tree_data region can hold directly (128 / 8).
	MaxFolderChildren = treeDataLen / 8

	// MaxFileExtents is how many extent entries a file's tree_data
	// region can hold directly (128 / 16).
	MaxFileExtents = treeDataLen / nodeEntrySize

	// MaxNameLength is the longest name (excluding the NUL terminator)
	// that fits in the name field.
	MaxNameLength = nameFieldLen - 1
)

// fileExtent is one contiguous run of disk blocks belonging to a file,
// starting at fileBlockNo within the file.
type fileExtent struct {
	diskAddr    uint64
	fileBlockNo uint32
	length      uint32
}

// fsNode is the decoded form of one directory/file record.
type fsNode struct {
	addr uint64

	magic      uint16
	isFolder   bool
	sizeBlocks uint32
	sizeOffset uint32
	name       string
	timestamp  int64
	parentAddr uint64

	entries  uint16
	children []uint64     // folder: child block indices, in insertion order
	extents  []fileExtent // file: extent list, in file-block order
}

func defaultFolder(addr, parentAddr uint64, name string, timestamp int64) *fsNode {
	return &fsNode{
		addr:       addr,
		magic:      magicFormatted,
		isFolder:   true,
		name:       name,
		timestamp:  timestamp,
		parentAddr: parentAddr,
	}
}

func defaultFile(addr, parentAddr uint64, name string, timestamp int64) *fsNode {
	return &fsNode{
		addr:       addr,
		magic:      magicFormatted,
		isFolder:   false,
		name:       name,
		timestamp:  timestamp,
		parentAddr: parentAddr,
	}
}

func (n *fsNode) MarshalSector(bytesPerSector int) []byte {
	buf := make([]byte, bytesPerSector)

	binary.LittleEndian.PutUint16(buf[offMagic:], n.magic)
	var attrib byte
	if n.isFolder {
		attrib |= attribFolderBit
	}
	buf[offAttrib] = attrib
	binary.LittleEndian.PutUint32(buf[offSizeBlocks:], n.sizeBlocks)
	binary.LittleEndian.PutUint32(buf[offSizeOffset:], n.sizeOffset)

	nameBytes := []byte(n.name)
	copy(buf[offName:offName+nameFieldLen-1], nameBytes)

	binary.LittleEndian.PutUint64(buf[offTimestamp:], uint64(n.timestamp))
	binary.LittleEndian.PutUint64(buf[offParentAddr:], n.parentAddr)

	entries := len(n.children) + len(n.extents)
	binary.LittleEndian.PutUint16(buf[offExtHeader:], magicFormatted)
	binary.LittleEndian.PutUint16(buf[offExtHeader+2:], uint16(entries))
	nodeCapacity := MaxFolderChildren
	if !n.isFolder {
		nodeCapacity = MaxFileExtents
	}
	binary.LittleEndian.PutUint16(buf[offExtHeader+4:], uint16(nodeCapacity))
	binary.LittleEndian.PutUint16(buf[offExtHeader+6:], 0) // tree_depth: always a flat leaf

	off := offTreeData
	if n.isFolder {
		for _, addr := range n.children {
			binary.LittleEndian.PutUint64(buf[off:], addr)
			off += 8
		}
	} else {
		for _, e := range n.extents {
			binary.LittleEndian.PutUint64(buf[off:], e.diskAddr)
			binary.LittleEndian.PutUint32(buf[off+8:], e.fileBlockNo)
			binary.LittleEndian.PutUint32(buf[off+12:], e.length)
			off += nodeEntrySize
		}
	}
	return buf
}

func parseNode(addr uint64, buf []byte) (*fsNode, error) {
	n := &fsNode{addr: addr}
	n.magic = binary.LittleEndian.Uint16(buf[offMagic:])
	if n.magic != magicFormatted {
		return nil, xerrors.New(xerrors.KindDiskAddrInvalid, "node missing format magic")
	}
	n.isFolder = buf[offAttrib]&attribFolderBit != 0
	n.sizeBlocks = binary.LittleEndian.Uint32(buf[offSizeBlocks:])
	n.sizeOffset = binary.LittleEndian.Uint32(buf[offSizeOffset:])
	n.name = cString(buf[offName : offName+nameFieldLen])
	n.timestamp = int64(binary.LittleEndian.Uint64(buf[offTimestamp:]))
	n.parentAddr = binary.LittleEndian.Uint64(buf[offParentAddr:])

	entries := binary.LittleEndian.Uint16(buf[offExtHeader+2:])
	n.entries = entries

	off := offTreeData
	if n.isFolder {
		n.children = make([]uint64, entries)
		for i := range n.children {
			n.children[i] = binary.LittleEndian.Uint64(buf[off:])
			off += 8
		}
	} else {
		n.extents = make([]fileExtent, entries)
		for i := range n.extents {
			n.extents[i] = fileExtent{
				diskAddr:    binary.LittleEndian.Uint64(buf[off:]),
				fileBlockNo: binary.LittleEndian.Uint32(buf[off+8:]),
				length:      binary.LittleEndian.Uint32(buf[off+12:]),
			}
			off += nodeEntrySize
		}
	}
	return n, nil
}

func cString(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}

// validName checks the non-length parts of invariant I4: non-empty, not
// "." or "..", and no "/". Length is checked separately by Create so it
// can report NameTooLong instead of the generic NameInvalid.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return false
		}
	}
	return true
}
