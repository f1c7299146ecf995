// Package drive implements the virtual drive server: it owns a backing
// file memory-mapped as the disk's raw bytes, accepts a single TCP client
// connection at a time, and serves block-protocol requests while
// simulating seek latency between cylinders under a pluggable scheduling
// policy.
package drive

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/diskfs/vdiskfs/drive/scheduler"
	"github.com/diskfs/vdiskfs/storage"
	"github.com/diskfs/vdiskfs/wire/blockproto"
	"github.com/diskfs/vdiskfs/xerrors"
)

// Config configures a Server.
type Config struct {
	Geometry      storage.Geometry
	SimMoveCostUs uint64
	Scheduler     scheduler.Kind
	Path          string // backing file path
	Logger        *logrus.Logger
}

// Server is the virtual drive: a memory-mapped backing file fronted by a
// TCP block protocol.
type Server struct {
	geometry storage.Geometry
	costUs   uint64
	policy   scheduler.Policy

	file    *os.File
	mapping []byte

	listener net.Listener
	logger   *logrus.Logger
}

// Open creates the backing file for cfg.Path if it does not exist, sets its
// size to Geometry.Size() (existing contents within that size are kept),
// and maps it into memory read-write/shared.
func Open(cfg Config) (*Server, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindDriveFileCreate, "failed to create virtual drive file", err)
	}

	size := int64(cfg.Geometry.Size())
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, xerrors.Wrap(xerrors.KindDriveFileCreate, "failed to size virtual drive file", err)
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, xerrors.Wrap(xerrors.KindDriveMmap, "failed to map virtual drive file to memory", err)
	}

	return &Server{
		geometry: cfg.Geometry,
		costUs:   cfg.SimMoveCostUs,
		policy:   scheduler.ForKind(cfg.Scheduler),
		file:     f,
		mapping:  mapping,
		logger:   logger,
	}, nil
}

// Close unmaps the backing file and closes the listener, if any.
func (s *Server) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	if err := unix.Munmap(s.mapping); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// ListenAndServe binds addr and serves client connections one at a time
// until the listener is closed or a SHUTDOWN instruction is received.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Wrap(xerrors.KindSocketCreate, "failed to bind virtual drive listener", err)
	}
	s.logger.WithField("addr", addr).Info("virtual drive listening")
	return s.ServeOn(l)
}

// ServeOn accepts client connections from an already-bound listener,
// serving them one at a time until the listener is closed or a client
// sends SHUTDOWN. Closing l does not end a connection in progress; ServeOn
// returns only once that client has disconnected. The caller retains
// ownership of l.
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
		s.logger.WithField("remote", conn.RemoteAddr()).Info("drive client connected")
		shutdown := s.serveConnection(conn)
		if shutdown {
			l.Close()
			return nil
		}
	}
}

type pendingRequest struct {
	tid        uint32
	sectorAddr uint64
	data       []byte // present for write
}

// serveConnection runs the receiver and scheduler loops for a single client
// connection. It returns true if the client asked the drive to shut down.
func (s *Server) serveConnection(conn net.Conn) bool {
	defer conn.Close()

	var writeMu sync.Mutex
	var mu sync.Mutex
	cond := sync.NewCond(&mu)
	pending := make(map[int][]pendingRequest)
	done := false
	shutdownRequested := false
	head := 0
	dir := scheduler.Up

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		for {
			mu.Lock()
			for len(pending) == 0 && !done {
				cond.Wait()
			}
			if done && len(pending) == 0 {
				mu.Unlock()
				return
			}
			cyl, newDir, cost := s.policy.Next(head, dir, toPendingSet(pending), int(s.geometry.Cylinders))
			batch := pending[cyl]
			delete(pending, cyl)
			head = cyl
			dir = newDir
			mu.Unlock()

			if cost > 0 && s.costUs > 0 {
				time.Sleep(time.Duration(uint64(cost)*s.costUs) * time.Microsecond)
			}

			for _, req := range batch {
				s.serviceOne(conn, &writeMu, cyl, req)
			}
		}
	}()

	bps := s.geometry.BytesPerSector
	for {
		req, err := blockproto.ReadRequest(conn, bps)
		if err != nil {
			mu.Lock()
			done = true
			pending = make(map[int][]pendingRequest)
			mu.Unlock()
			cond.Broadcast()
			break
		}

		switch req.Instr {
		case blockproto.InstrGetDesc:
			writeMu.Lock()
			_ = blockproto.WriteGetDescReply(conn, req.Tid, s.geometry)
			writeMu.Unlock()
		case blockproto.InstrShutdown:
			writeMu.Lock()
			_ = blockproto.WriteShutdownReply(conn, req.Tid)
			writeMu.Unlock()
			mu.Lock()
			done = true
			mu.Unlock()
			cond.Broadcast()
			shutdownRequested = true
		case blockproto.InstrRead, blockproto.InstrWrite:
			addr := req.SectorAddr
			cyl := int(s.geometry.CylinderOf(addr))
			mu.Lock()
			pending[cyl] = append(pending[cyl], pendingRequest{tid: req.Tid, sectorAddr: addr, data: req.Data})
			mu.Unlock()
			cond.Broadcast()
		}

		if shutdownRequested {
			break
		}
	}

	<-schedulerDone
	return shutdownRequested
}

func (s *Server) serviceOne(conn net.Conn, writeMu *sync.Mutex, cyl int, req pendingRequest) {
	bps := s.geometry.BytesPerSector
	offset := req.sectorAddr * bps
	writeMu.Lock()
	defer writeMu.Unlock()
	if req.data != nil {
		copy(s.mapping[offset:offset+bps], req.data)
		_ = blockproto.WriteWriteReply(conn, req.tid)
		return
	}
	_ = blockproto.WriteReadReply(conn, req.tid, s.mapping[offset:offset+bps])
}

func toPendingSet(pending map[int][]pendingRequest) map[int]bool {
	out := make(map[int]bool, len(pending))
	for c := range pending {
		out[c] = true
	}
	return out
}
