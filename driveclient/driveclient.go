// Package driveclient implements storage.Provider by speaking the block
// protocol to a remote drive.Server over a single persistent TCP
// connection. Callers may issue concurrent reads and writes; a background
// goroutine demultiplexes replies to the right caller by transaction id.
package driveclient

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/diskfs/vdiskfs/storage"
	"github.com/diskfs/vdiskfs/wire/blockproto"
	"github.com/diskfs/vdiskfs/xerrors"
)

// transaction is a one-shot handoff between the caller that issued a
// request and the receiver goroutine that will deliver its reply.
type transaction struct {
	done       chan struct{}
	writeback  []byte // non-nil for reads: filled in by the receiver
	err        error
}

// Client is a storage.Provider backed by a network connection to a
// drive.Server.
type Client struct {
	conn   net.Conn
	logger *logrus.Logger

	geometry storage.Geometry

	tidCounter uint32 // atomic

	listMu  sync.Mutex
	waiting map[uint32]*transaction

	writeMu sync.Mutex

	closed           atomic.Bool
	initiativeClosed atomic.Bool

	recvDone chan struct{}
}

var _ storage.Provider = (*Client)(nil)

// Dial connects to addr, performs the initial GET_DESC handshake (tid 0),
// and starts the background reply-dispatch goroutine.
func Dial(addr string, logger *logrus.Logger) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindSocketConnect, "failed to connect to virtual drive", err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	c := &Client{
		conn:     conn,
		logger:   logger,
		waiting:  make(map[uint32]*transaction),
		recvDone: make(chan struct{}),
	}

	if err := blockproto.WriteGetDescRequest(conn, 0); err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.KindSocketSend, "failed to send GET_DESC", err)
	}
	atomic.AddUint32(&c.tidCounter, 1)
	rep, err := blockproto.ReadReply(conn, 0)
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.KindSocketRecv, "failed to read GET_DESC reply", err)
	}
	c.geometry = rep.Desc

	go c.receiveLoop()
	return c, nil
}

func (c *Client) nextTid() uint32 {
	return atomic.AddUint32(&c.tidCounter, 1) - 1
}

func (c *Client) addWaiting(tid uint32, t *transaction) {
	c.listMu.Lock()
	defer c.listMu.Unlock()
	c.waiting[tid] = t
}

func (c *Client) ReadSector(addr uint64, out []byte) error {
	if c.closed.Load() {
		return xerrors.New(xerrors.KindSocketClosedByRemote, "drive client connection closed")
	}
	tid := c.nextTid()
	t := &transaction{done: make(chan struct{}), writeback: out}
	c.addWaiting(tid, t)

	c.writeMu.Lock()
	err := blockproto.WriteReadRequest(c.conn, tid, addr)
	c.writeMu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.KindSocketSend, "failed to send READ", err)
	}

	<-t.done
	return t.err
}

func (c *Client) WriteSector(addr uint64, in []byte) error {
	if c.closed.Load() {
		return xerrors.New(xerrors.KindSocketClosedByRemote, "drive client connection closed")
	}
	tid := c.nextTid()
	t := &transaction{done: make(chan struct{})}
	c.addWaiting(tid, t)

	c.writeMu.Lock()
	err := blockproto.WriteWriteRequest(c.conn, tid, addr, in)
	c.writeMu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.KindSocketSend, "failed to send WRITE", err)
	}

	<-t.done
	return t.err
}

func (c *Client) Describe() storage.Geometry { return c.geometry }

// Shutdown asks the remote drive server to terminate, then waits for the
// connection to close.
func (c *Client) Shutdown() error {
	if c.closed.Load() {
		return nil
	}
	tid := c.nextTid()
	t := &transaction{done: make(chan struct{})}
	c.addWaiting(tid, t)

	c.initiativeClosed.Store(true)
	c.writeMu.Lock()
	err := blockproto.WriteShutdownRequest(c.conn, tid)
	c.writeMu.Unlock()
	if err != nil {
		return xerrors.Wrap(xerrors.KindSocketSend, "failed to send SHUTDOWN", err)
	}

	<-t.done
	<-c.recvDone
	return nil
}

// receiveLoop reads reply frames and dispatches them to the waiting
// transaction by tid until the connection fails, at which point every
// outstanding transaction is failed with KindSocketClosedByRemote.
func (c *Client) receiveLoop() {
	defer close(c.recvDone)
	for {
		rep, err := blockproto.ReadReply(c.conn, c.geometry.BytesPerSector)
		if err != nil {
			c.failAll(err)
			return
		}

		c.listMu.Lock()
		t, ok := c.waiting[rep.Tid]
		if ok {
			delete(c.waiting, rep.Tid)
		}
		c.listMu.Unlock()

		if !ok {
			continue
		}
		if rep.Instr == blockproto.InstrRead && t.writeback != nil {
			copy(t.writeback, rep.Data)
		}
		close(t.done)
	}
}

// failAll marks the client closed and wakes every outstanding transaction
// with a closed-connection error, per the fix to the original's "broken
// connection unblocks nothing automatically" defect.
func (c *Client) failAll(cause error) {
	c.closed.Store(true)

	if c.initiativeClosed.Load() && (errors.Is(cause, io.EOF) || isNetClosed(cause)) {
		c.logger.Debug("drive client connection closed after self-initiated shutdown")
	} else {
		c.logger.WithError(cause).Warn("drive client connection lost")
	}

	c.listMu.Lock()
	defer c.listMu.Unlock()
	for tid, t := range c.waiting {
		t.err = xerrors.Wrap(xerrors.KindSocketClosedByRemote, "connection closed while transaction was outstanding", cause)
		close(t.done)
		delete(c.waiting, tid)
	}
}

func isNetClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
