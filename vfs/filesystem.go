// Package vfs implements the on-disk hierarchical file system: directory
// and file nodes laid out as fixed 256-byte records, free space drawn from
// an allocator.Allocator, and reference-counted handles that serialize
// removal against live readers.
package vfs

import (
	"sync"
	"time"

	"github.com/diskfs/vdiskfs/allocator"
	"github.com/diskfs/vdiskfs/diskview"
	"github.com/diskfs/vdiskfs/xerrors"
)

const (
	rootAddr = 0
	// ReservedBlocks are never handed out by the allocator: 0 is the
	// root folder, 1 is the allocator root.
	ReservedBlocks = 2

	allocRootAddr = 1
)

// nowFunc is overridable in tests that need deterministic timestamps.
var nowFunc = func() int64 { return time.Now().Unix() }

// FileSystem is the mounted view of one disk: a directory tree rooted at
// block 0, backed by a free-space allocator rooted at block 1.
type FileSystem struct {
	disk  *diskview.View
	alloc *allocator.Allocator

	formatted bool

	dataMu sync.Mutex

	countMu sync.Mutex
	counts  map[uint64]uint32
}

// Mount opens the file system described by disk. If both the root folder
// (block 0) and the allocator root (block 1) carry the format magic, the
// returned FileSystem reports Formatted() == true; otherwise the caller
// must call Format() before using it.
func Mount(disk *diskview.View) (*FileSystem, error) {
	fs := &FileSystem{
		disk:   disk,
		counts: make(map[uint64]uint32),
	}

	rootFormatted, err := fs.blockFormatted(rootAddr)
	if err != nil {
		return nil, err
	}
	allocFormatted, err := fs.blockFormatted(allocRootAddr)
	if err != nil {
		return nil, err
	}

	fs.alloc = allocator.New(disk, allocRootAddr)
	fs.formatted = rootFormatted && allocFormatted
	return fs, nil
}

func (fs *FileSystem) blockFormatted(addr uint64) (bool, error) {
	var magicOK bool
	err := fs.disk.Get(addr, func(buf []byte) error {
		magicOK = buf[0] == 0x09 && buf[1] == 0x09
		return nil
	})
	if err != nil {
		return false, err
	}
	return magicOK, nil
}

// Formatted reports whether the disk currently holds a valid file system.
func (fs *FileSystem) Formatted() bool {
	fs.dataMu.Lock()
	defer fs.dataMu.Unlock()
	return fs.formatted
}

// Format destructively reinitializes the disk: a fresh empty root folder
// at block 0, and a fresh allocator root at block 1 covering every block
// from ReservedBlocks to the end of the disk. It always succeeds.
func (fs *FileSystem) Format() error {
	fs.dataMu.Lock()
	defer fs.dataMu.Unlock()

	root := defaultFolder(rootAddr, rootAddr, "", nowFunc())
	if err := fs.disk.Put(rootAddr, root); err != nil {
		return err
	}

	total := fs.disk.Geometry().TotalSectors()
	var firstFree, count uint64
	if total > ReservedBlocks {
		firstFree = ReservedBlocks
		count = total - ReservedBlocks
	}
	alloc, err := allocator.Format(fs.disk, allocRootAddr, firstFree, count)
	if err != nil {
		return err
	}
	fs.alloc = alloc
	fs.formatted = true
	return nil
}

// RootFolder returns a handle to the root folder (block 0). On an
// unformatted disk the handle is returned without reading block 0, and
// operations through it fail until Format has run.
func (fs *FileSystem) RootFolder() (*FolderHandle, error) {
	if !fs.Formatted() {
		h := fs.newHandle(rootAddr)
		return &FolderHandle{Handle: h}, nil
	}
	return fs.openFolderHandle(rootAddr)
}

// --- handle refcounting -----------------------------------------------

// Handle is a lifetime-bounded reference to a directory or file node: for
// as long as one is open, the file system refuses to remove that node.
type Handle struct {
	fs        *FileSystem
	addr      uint64
	abandoned bool
}

func (fs *FileSystem) retain(addr uint64) {
	fs.countMu.Lock()
	defer fs.countMu.Unlock()
	fs.counts[addr]++
}

func (fs *FileSystem) release(addr uint64) {
	fs.countMu.Lock()
	defer fs.countMu.Unlock()
	if fs.counts[addr] == 0 {
		return
	}
	fs.counts[addr]--
	if fs.counts[addr] == 0 {
		delete(fs.counts, addr)
	}
}

func (fs *FileSystem) instanceCount(addr uint64) uint32 {
	fs.countMu.Lock()
	defer fs.countMu.Unlock()
	return fs.counts[addr]
}

// Close releases this handle's hold on its node. Closing an already-closed
// (abandoned) handle is a no-op.
func (h *Handle) Close() {
	if h.abandoned {
		return
	}
	h.fs.release(h.addr)
	h.abandoned = true
}

// Addr is the node's block index.
func (h *Handle) Addr() uint64 { return h.addr }

func (fs *FileSystem) newHandle(addr uint64) Handle {
	fs.retain(addr)
	return Handle{fs: fs, addr: addr}
}

func (fs *FileSystem) fetchNode(addr uint64) (*fsNode, error) {
	var n *fsNode
	err := fs.disk.Get(addr, func(buf []byte) error {
		var perr error
		n, perr = parseNode(addr, buf)
		return perr
	})
	return n, err
}

func (fs *FileSystem) openFolderHandle(addr uint64) (*FolderHandle, error) {
	n, err := fs.fetchNode(addr)
	if err != nil {
		return nil, err
	}
	if !n.isFolder {
		return nil, xerrors.New(xerrors.KindNameNotExist, "block is not a folder")
	}
	h := fs.newHandle(addr)
	return &FolderHandle{Handle: h}, nil
}

func (fs *FileSystem) openFileHandle(addr uint64) (*FileHandle, error) {
	n, err := fs.fetchNode(addr)
	if err != nil {
		return nil, err
	}
	if n.isFolder {
		return nil, xerrors.New(xerrors.KindNameNotExist, "block is not a file")
	}
	h := fs.newHandle(addr)
	return &FileHandle{Handle: h}, nil
}
