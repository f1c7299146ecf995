// Package fsserver exposes a vfs.FileSystem over the file-system shell
// protocol (wire/fsproto): one worker goroutine per accepted connection,
// each tracking its own current folder and display path.
package fsserver

import (
	"errors"
	"io"
	"net"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/diskfs/vdiskfs/vfs"
	"github.com/diskfs/vdiskfs/wire/fsproto"
	"github.com/diskfs/vdiskfs/xerrors"
)

// Server accepts connections and runs one Worker per connection against a
// shared vfs.FileSystem.
type Server struct {
	fs       *vfs.FileSystem
	logger   *logrus.Logger
	listener net.Listener
	term     atomic.Bool
}

// New wraps fs for serving over the network.
func New(fs *vfs.FileSystem, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{fs: fs, logger: logger}
}

// ListenAndServe binds addr and serves connections until Close is called.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSocketCreate, "failed to bind file-system listener", err)
	}
	return s.ServeOn(l)
}

// ServeOn accepts connections from an already-bound listener, spawning one
// worker goroutine per connection, until the listener closes.
func (s *Server) ServeOn(l net.Listener) error {
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return xerrors.Wrap(xerrors.KindSocketConnect, "accept failed", err)
		}
		w, err := newWorker(s, conn)
		if err != nil {
			s.logger.WithError(err).Warn("failed to start file-system worker")
			conn.Close()
			continue
		}
		go w.run()
	}
}

// Close stops accepting new connections; in-flight workers observe the
// terminate signal at their next command boundary and exit.
func (s *Server) Close() error {
	s.term.Store(true)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Worker serves one accepted connection: a current-folder handle, the
// canonical display path for that folder, and the command loop.
type Worker struct {
	server *Server
	conn   net.Conn
	folder *vfs.FolderHandle
	path   string
}

func newWorker(s *Server, conn net.Conn) (*Worker, error) {
	root, err := s.fs.RootFolder()
	if err != nil {
		return nil, err
	}
	return &Worker{server: s, conn: conn, folder: root, path: "/"}, nil
}

func (w *Worker) run() {
	defer w.conn.Close()
	defer func() { w.folder.Close() }()

	reply := fsproto.ConnectedOK
	if !w.server.fs.Formatted() {
		reply = fsproto.ConnectedNoFormat
	}
	if err := fsproto.WriteConnectReply(w.conn, reply); err != nil {
		return
	}

	for !w.server.term.Load() {
		instr, err := fsproto.ReadInstr(w.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.server.logger.WithError(err).Debug("file-system worker connection closed")
			}
			return
		}
		if err := w.dispatch(instr); err != nil {
			w.server.logger.WithError(err).WithField("instr", instr).Warn("file-system worker terminating")
			return
		}
	}
}

func (w *Worker) dispatch(instr fsproto.Instr) error {
	switch instr {
	case fsproto.InstrCD:
		return w.handleCD()
	case fsproto.InstrLS:
		return w.handleLS()
	case fsproto.InstrMK:
		return w.handleCreate(false)
	case fsproto.InstrMkdir:
		return w.handleCreate(true)
	case fsproto.InstrRM:
		return w.handleRemove(false)
	case fsproto.InstrRmdir:
		return w.handleRemove(true)
	case fsproto.InstrCat:
		return w.handleCat()
	case fsproto.InstrWrite:
		return w.handleWrite()
	case fsproto.InstrInsert:
		return w.handleInsert()
	case fsproto.InstrDelete:
		return w.handleDelete()
	case fsproto.InstrFormat:
		return w.handleFormat()
	default:
		return fsproto.WriteReply(w.conn, fsproto.ReplyUnknown)
	}
}

func (w *Worker) handleCD() error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	folder, err := w.folder.OpenFolder(name)
	if err != nil {
		return w.sendSemanticError(err)
	}
	w.folder.Close()
	w.folder = folder
	updatePath(&w.path, name)

	if err := fsproto.WriteReply(w.conn, fsproto.ReplyOK); err != nil {
		return err
	}
	return fsproto.WriteString(w.conn, w.path)
}

// updatePath applies the CD bookkeeping rule from §4.8: "." leaves the
// path unchanged, ".." pops the last component, anything else appends
// name + "/".
func updatePath(path *string, name string) {
	switch name {
	case ".":
		return
	case "..":
		if *path == "/" {
			return
		}
		trimmed := (*path)[:len(*path)-1]
		idx := 0
		for i := len(trimmed) - 1; i >= 0; i-- {
			if trimmed[i] == '/' {
				idx = i + 1
				break
			}
		}
		*path = trimmed[:idx]
	default:
		*path += name + "/"
	}
}

func (w *Worker) handleLS() error {
	names, err := w.folder.List()
	if err != nil {
		return w.sendSemanticError(err)
	}
	if err := fsproto.WriteReply(w.conn, fsproto.ReplyOK); err != nil {
		return err
	}
	if err := fsproto.WriteUint32(w.conn, uint32(len(names))); err != nil {
		return err
	}
	for _, n := range names {
		if err := fsproto.WriteString(w.conn, n); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleCreate(isFolder bool) error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	if err := w.folder.Create(name, isFolder); err != nil {
		return w.sendSemanticError(err)
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

func (w *Worker) handleRemove(isFolder bool) error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	if err := w.folder.Remove(name, isFolder); err != nil {
		return w.sendSemanticError(err)
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

func (w *Worker) handleCat() error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	file, err := w.folder.Open(name)
	if err != nil {
		return w.sendSemanticError(err)
	}
	defer file.Close()

	data, err := file.ReadAll()
	if err != nil {
		return w.sendSemanticError(err)
	}
	if err := fsproto.WriteReply(w.conn, fsproto.ReplyOK); err != nil {
		return err
	}
	return fsproto.WriteString(w.conn, string(data))
}

func (w *Worker) handleWrite() error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	data, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	file, err := w.folder.Open(name)
	if err != nil {
		return w.sendSemanticError(err)
	}
	defer file.Close()

	if err := file.WriteAll([]byte(data)); err != nil {
		return w.sendSemanticError(err)
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

func (w *Worker) handleInsert() error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	pos, err := fsproto.ReadUint64(w.conn)
	if err != nil {
		return err
	}
	data, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	file, err := w.folder.Open(name)
	if err != nil {
		return w.sendSemanticError(err)
	}
	defer file.Close()

	if err := file.Insert(pos, []byte(data)); err != nil {
		return w.sendSemanticError(err)
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

func (w *Worker) handleDelete() error {
	name, err := fsproto.ReadString(w.conn)
	if err != nil {
		return err
	}
	pos, err := fsproto.ReadUint64(w.conn)
	if err != nil {
		return err
	}
	length, err := fsproto.ReadUint64(w.conn)
	if err != nil {
		return err
	}
	file, err := w.folder.Open(name)
	if err != nil {
		return w.sendSemanticError(err)
	}
	defer file.Close()

	if err := file.Erase(pos, length); err != nil {
		return w.sendSemanticError(err)
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

func (w *Worker) handleFormat() error {
	if err := w.server.fs.Format(); err != nil {
		return err
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyOK)
}

// sendSemanticError maps a vfs error to its wire reply code and sends it;
// per §7, semantic errors do not close the connection. An error that does
// not carry a recognized xerrors.Kind is treated as unexpected and
// propagates to terminate the worker.
func (w *Worker) sendSemanticError(err error) error {
	kind := xerrors.KindOf(err)
	if kind == xerrors.KindUnknown {
		return err
	}
	return fsproto.WriteReply(w.conn, fsproto.ReplyForKind(kind))
}
