package vfs

import (
	"github.com/diskfs/vdiskfs/allocator"
	"github.com/diskfs/vdiskfs/xerrors"
)

func extentToAllocator(e fileExtent) allocator.Extent {
	return allocator.Extent{Addr: e.diskAddr, Len: uint64(e.length)}
}

const blockSize = 256

// FileHandle is a live reference to a file node.
type FileHandle struct {
	Handle
}

// ReadAll returns the file's complete contents.
func (fh *FileHandle) ReadAll() ([]byte, error) {
	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()

	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return nil, err
	}
	if self.sizeBlocks == 0 {
		return []byte{}, nil
	}

	total := int(self.sizeBlocks-1)*blockSize + int(self.sizeOffset)
	out := make([]byte, 0, total)
	blockAddrs := expandExtents(self.extents)
	for i, addr := range blockAddrs {
		buf, err := fh.fs.disk.ReadRaw(addr)
		if err != nil {
			return nil, err
		}
		if i == len(blockAddrs)-1 {
			out = append(out, buf[:self.sizeOffset]...)
		} else {
			out = append(out, buf...)
		}
	}
	return out, nil
}

// WriteAll replaces the file's complete contents with data, growing or
// shrinking the extent list as needed and returning any now-surplus
// blocks to the allocator.
func (fh *FileHandle) WriteAll(data []byte) error {
	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()

	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return err
	}

	newBlocks := uint32((len(data) + blockSize - 1) / blockSize)
	var newOffset uint32
	if len(data) > 0 {
		newOffset = uint32((len(data)-1)%blockSize) + 1
	}

	blockAddrs := expandExtents(self.extents)
	current := uint32(len(blockAddrs))

	switch {
	case newBlocks > current:
		added := newBlocks - current
		for i := uint32(0); i < added; i++ {
			addr, err := fh.fs.alloc.NewBlock()
			if err != nil {
				return err
			}
			self.extents = appendBlock(self.extents, addr, current+i)
			if len(self.extents) > MaxFileExtents {
				_ = fh.fs.alloc.DeleteBlock(addr)
				return xerrors.New(xerrors.KindCapacityExceeded, "file has reached its extent capacity")
			}
			blockAddrs = append(blockAddrs, addr)
		}
	case newBlocks < current:
		surplus := blockAddrs[newBlocks:]
		blockAddrs = blockAddrs[:newBlocks]
		self.extents = truncateExtents(self.extents, newBlocks)
		for _, addr := range surplus {
			if err := fh.fs.alloc.DeleteBlock(addr); err != nil {
				return err
			}
		}
	}

	for i, addr := range blockAddrs {
		start := i * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		if err := fh.fs.disk.WriteRaw(addr, data[start:end]); err != nil {
			return err
		}
	}

	self.sizeBlocks = newBlocks
	self.sizeOffset = newOffset
	return fh.fs.disk.Put(fh.addr, self)
}

// Insert splices data into the file at byte offset pos, shifting
// everything after pos forward. It is implemented as a whole-file
// read-modify-write and is O(filesize).
func (fh *FileHandle) Insert(pos uint64, data []byte) error {
	existing, err := fh.ReadAll()
	if err != nil {
		return err
	}
	if pos > uint64(len(existing)) {
		pos = uint64(len(existing))
	}
	out := make([]byte, 0, len(existing)+len(data))
	out = append(out, existing[:pos]...)
	out = append(out, data...)
	out = append(out, existing[pos:]...)
	return fh.WriteAll(out)
}

// Erase removes length bytes starting at byte offset pos. It is
// implemented as a whole-file read-modify-write and is O(filesize).
func (fh *FileHandle) Erase(pos, length uint64) error {
	existing, err := fh.ReadAll()
	if err != nil {
		return err
	}
	if pos > uint64(len(existing)) {
		pos = uint64(len(existing))
	}
	end := pos + length
	if end > uint64(len(existing)) {
		end = uint64(len(existing))
	}
	out := make([]byte, 0, len(existing)-int(end-pos))
	out = append(out, existing[:pos]...)
	out = append(out, existing[end:]...)
	return fh.WriteAll(out)
}

// expandExtents flattens a file's extent list into one disk block address
// per file block, in file-block order.
func expandExtents(extents []fileExtent) []uint64 {
	var out []uint64
	for _, e := range extents {
		for i := uint32(0); i < e.length; i++ {
			out = append(out, e.diskAddr+uint64(i))
		}
	}
	return out
}

// appendBlock appends diskAddr (the file's new block fileBlockNo) to
// extents, extending the trailing entry in place when diskAddr happens to
// be contiguous with it.
func appendBlock(extents []fileExtent, diskAddr uint64, fileBlockNo uint32) []fileExtent {
	if n := len(extents); n > 0 {
		last := &extents[n-1]
		if last.diskAddr+uint64(last.length) == diskAddr {
			last.length++
			return extents
		}
	}
	return append(extents, fileExtent{diskAddr: diskAddr, fileBlockNo: fileBlockNo, length: 1})
}

// truncateExtents trims a file's extent list down to exactly newBlocks
// file blocks, shortening or dropping trailing entries as needed.
func truncateExtents(extents []fileExtent, newBlocks uint32) []fileExtent {
	var kept []fileExtent
	var seen uint32
	for _, e := range extents {
		if seen >= newBlocks {
			break
		}
		remaining := newBlocks - seen
		if e.length > remaining {
			e.length = remaining
		}
		kept = append(kept, e)
		seen += e.length
	}
	return kept
}

// freeFileExtents returns every block held by a file node to the
// allocator, used when the node itself is being removed.
func freeFileExtents(fs *FileSystem, n *fsNode) error {
	for _, e := range n.extents {
		if err := fs.alloc.DeleteExtent(extentToAllocator(e)); err != nil {
			return err
		}
	}
	return nil
}
