package drive

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/diskfs/vdiskfs/storage"
	"github.com/diskfs/vdiskfs/wire/blockproto"
)

func testConfig(t *testing.T) (Config, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drive.img")
	return Config{
		Geometry:      storage.Geometry{Cylinders: 4, SectorsPerCylinder: 8, BytesPerSector: 256},
		SimMoveCostUs: 0,
		Path:          path,
	}, path
}

func startServer(t *testing.T, cfg Config) (addr string, stop func()) {
	t.Helper()
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	s.listener = l
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			if s.serveConnection(conn) {
				return
			}
		}
	}()
	return l.Addr().String(), func() {
		l.Close()
		<-done
		s.Close()
	}
}

func TestGetDescReadWrite(t *testing.T) {
	cfg, _ := testConfig(t)
	addr, stop := startServer(t, cfg)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := blockproto.WriteGetDescRequest(conn, 0); err != nil {
		t.Fatalf("WriteGetDescRequest() error = %v", err)
	}
	rep, err := blockproto.ReadReply(conn, 0)
	if err != nil {
		t.Fatalf("ReadReply(GET_DESC) error = %v", err)
	}
	if rep.Desc != cfg.Geometry {
		t.Fatalf("got geometry %+v, want %+v", rep.Desc, cfg.Geometry)
	}

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i)
	}
	if err := blockproto.WriteWriteRequest(conn, 1, 5, payload); err != nil {
		t.Fatalf("WriteWriteRequest() error = %v", err)
	}
	rep, err = blockproto.ReadReply(conn, 256)
	if err != nil {
		t.Fatalf("ReadReply(WRITE) error = %v", err)
	}
	if rep.Tid != 1 {
		t.Fatalf("write reply tid = %d, want 1", rep.Tid)
	}

	if err := blockproto.WriteReadRequest(conn, 2, 5); err != nil {
		t.Fatalf("WriteReadRequest() error = %v", err)
	}
	rep, err = blockproto.ReadReply(conn, 256)
	if err != nil {
		t.Fatalf("ReadReply(READ) error = %v", err)
	}
	for i := range payload {
		if rep.Data[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, rep.Data[i], payload[i])
		}
	}
}

func TestShutdownClosesConnection(t *testing.T) {
	cfg, _ := testConfig(t)
	addr, stop := startServer(t, cfg)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := blockproto.WriteShutdownRequest(conn, 7); err != nil {
		t.Fatalf("WriteShutdownRequest() error = %v", err)
	}
	rep, err := blockproto.ReadReply(conn, 0)
	if err != nil {
		t.Fatalf("ReadReply(SHUTDOWN) error = %v", err)
	}
	if rep.Tid != 7 {
		t.Fatalf("shutdown reply tid = %d, want 7", rep.Tid)
	}
	if _, err := blockproto.ReadReply(conn, 0); err == nil {
		t.Fatal("ReadReply() after SHUTDOWN expected the connection to be closed, got a frame")
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	cfg, path := testConfig(t)
	s, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	payload := make([]byte, 256)
	payload[0] = 0x42
	copy(s.mapping[5*256:6*256], payload)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file missing: %v", err)
	}

	s2, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen Open() error = %v", err)
	}
	defer s2.Close()
	if s2.mapping[5*256] != 0x42 {
		t.Fatalf("byte not persisted across reopen")
	}
}
