package vfs

import (
	"github.com/diskfs/vdiskfs/xerrors"
)

// FolderHandle is a live reference to a folder node.
type FolderHandle struct {
	Handle
}

// RemoveOptions configures Remove's handling of non-empty folders.
type RemoveOptions struct {
	Recursive bool
}

// RemoveOption mutates a RemoveOptions.
type RemoveOption func(*RemoveOptions)

// Recursive makes Remove delete a non-empty folder's contents first,
// instead of failing with ErrNotEmpty.
func Recursive(on bool) RemoveOption {
	return func(o *RemoveOptions) { o.Recursive = on }
}

// Open returns a handle to the file named name directly inside this
// folder, or ErrNameNotExist if no such file exists (folders are not
// returned by Open; use OpenFolder).
func (fh *FolderHandle) Open(name string) (*FileHandle, error) {
	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()

	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return nil, err
	}
	for _, childAddr := range self.children {
		child, err := fh.fs.fetchNode(childAddr)
		if err != nil {
			return nil, err
		}
		if !child.isFolder && child.name == name {
			h := fh.fs.newHandle(childAddr)
			return &FileHandle{Handle: h}, nil
		}
	}
	return nil, xerrors.New(xerrors.KindNameNotExist, "file not found: "+name)
}

// OpenFolder returns a handle to the named child folder. "." returns a new
// handle to this same folder; ".." returns a handle to the parent (or a
// new handle to this folder, if this is the root).
func (fh *FolderHandle) OpenFolder(name string) (*FolderHandle, error) {
	if name == "." {
		return fh.fs.openFolderHandle(fh.addr)
	}
	if name == ".." {
		fh.fs.dataMu.Lock()
		self, err := fh.fs.fetchNode(fh.addr)
		fh.fs.dataMu.Unlock()
		if err != nil {
			return nil, err
		}
		target := self.parentAddr
		if fh.addr == rootAddr {
			target = rootAddr
		}
		return fh.fs.openFolderHandle(target)
	}

	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()
	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return nil, err
	}
	for _, childAddr := range self.children {
		child, err := fh.fs.fetchNode(childAddr)
		if err != nil {
			return nil, err
		}
		if child.isFolder && child.name == name {
			h := fh.fs.newHandle(childAddr)
			return &FolderHandle{Handle: h}, nil
		}
	}
	return nil, xerrors.New(xerrors.KindNameNotExist, "folder not found: "+name)
}

// Create allocates a new child node (folder if isFolder, else a file)
// named name directly inside this folder.
func (fh *FolderHandle) Create(name string, isFolder bool) error {
	if len(name) > MaxNameLength {
		return xerrors.New(xerrors.KindNameTooLong, "name too long: "+name)
	}
	if !validName(name) {
		return xerrors.New(xerrors.KindNameInvalid, "invalid name: "+name)
	}

	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()

	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return err
	}
	if len(self.children) >= MaxFolderChildren {
		return xerrors.New(xerrors.KindCapacityExceeded, "folder has reached its child capacity")
	}
	for _, childAddr := range self.children {
		child, err := fh.fs.fetchNode(childAddr)
		if err != nil {
			return err
		}
		if child.name == name {
			return xerrors.New(xerrors.KindNameAlreadyExist, "already exists: "+name)
		}
	}

	newAddr, err := fh.fs.alloc.NewBlock()
	if err != nil {
		return err
	}

	var child *fsNode
	if isFolder {
		child = defaultFolder(newAddr, fh.addr, name, nowFunc())
	} else {
		child = defaultFile(newAddr, fh.addr, name, nowFunc())
	}
	if err := fh.fs.disk.Put(newAddr, child); err != nil {
		return err
	}

	self.children = append(self.children, newAddr)
	return fh.fs.disk.Put(fh.addr, self)
}

// Remove deletes the named child. It fails with ErrBusyHandle if a live
// handle to that node exists, or with ErrNotEmpty if the target is a
// non-empty folder and Recursive(true) was not passed.
func (fh *FolderHandle) Remove(name string, isFolder bool, opts ...RemoveOption) error {
	var o RemoveOptions
	for _, opt := range opts {
		opt(&o)
	}

	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()
	return fh.removeLocked(name, isFolder, o)
}

func (fh *FolderHandle) removeLocked(name string, isFolder bool, o RemoveOptions) error {
	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return err
	}

	idx := -1
	var childAddr uint64
	for i, addr := range self.children {
		child, err := fh.fs.fetchNode(addr)
		if err != nil {
			return err
		}
		if child.isFolder == isFolder && child.name == name {
			idx = i
			childAddr = addr
			break
		}
	}
	if idx == -1 {
		return xerrors.New(xerrors.KindNameNotExist, "not found: "+name)
	}
	if fh.fs.instanceCount(childAddr) > 0 {
		return xerrors.New(xerrors.KindBusyHandle, "handle in use: "+name)
	}

	child, err := fh.fs.fetchNode(childAddr)
	if err != nil {
		return err
	}

	if isFolder && len(child.children) > 0 {
		if !o.Recursive {
			return xerrors.New(xerrors.KindNotEmpty, "folder not empty: "+name)
		}
		inner := &FolderHandle{Handle: Handle{fs: fh.fs, addr: childAddr}}
		// snapshot names before mutating the child list during removal
		names := make([]struct {
			name     string
			isFolder bool
		}, 0, len(child.children))
		for _, grandAddr := range child.children {
			grand, err := fh.fs.fetchNode(grandAddr)
			if err != nil {
				return err
			}
			names = append(names, struct {
				name     string
				isFolder bool
			}{grand.name, grand.isFolder})
		}
		for _, n := range names {
			if err := inner.removeLocked(n.name, n.isFolder, RemoveOptions{Recursive: true}); err != nil {
				return err
			}
		}
	}

	if !isFolder {
		if err := freeFileExtents(fh.fs, child); err != nil {
			return err
		}
	}

	self.children = append(self.children[:idx], self.children[idx+1:]...)
	if err := fh.fs.disk.Put(fh.addr, self); err != nil {
		return err
	}
	return fh.fs.alloc.DeleteBlock(childAddr)
}

// List returns the names of this folder's direct children, each suffixed
// with "/" if it is itself a folder.
func (fh *FolderHandle) List() ([]string, error) {
	fh.fs.dataMu.Lock()
	defer fh.fs.dataMu.Unlock()

	self, err := fh.fs.fetchNode(fh.addr)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(self.children))
	for _, addr := range self.children {
		child, err := fh.fs.fetchNode(addr)
		if err != nil {
			return nil, err
		}
		if child.isFolder {
			names = append(names, child.name+"/")
		} else {
			names = append(names, child.name)
		}
	}
	return names, nil
}
