package driveclient

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/diskfs/vdiskfs/drive"
	"github.com/diskfs/vdiskfs/storage"
)

func startTestDrive(t *testing.T) (addr string, stop func()) {
	t.Helper()
	cfg := drive.Config{
		Geometry: storage.Geometry{Cylinders: 8, SectorsPerCylinder: 8, BytesPerSector: 256},
		Path:     filepath.Join(t.TempDir(), "drive.img"),
	}
	s, err := drive.Open(cfg)
	if err != nil {
		t.Fatalf("drive.Open() error = %v", err)
	}
	errCh := make(chan error, 1)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	go func() {
		errCh <- s.ServeOn(l)
	}()
	return l.Addr().String(), func() {
		l.Close()
		<-errCh
		s.Close()
	}
}

func TestClientReadWriteRoundTrip(t *testing.T) {
	addr, stop := startTestDrive(t)
	defer stop()

	c, err := Dial(addr, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Shutdown()

	payload := make([]byte, 256)
	for i := range payload {
		payload[i] = byte(i % 256)
	}
	if err := c.WriteSector(3, payload); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}
	out := make([]byte, 256)
	if err := c.ReadSector(3, out); err != nil {
		t.Fatalf("ReadSector() error = %v", err)
	}
	for i := range payload {
		if out[i] != payload[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], payload[i])
		}
	}
}

// TestConcurrentTransactionsMatchTid exercises P8: concurrent callers each
// get back exactly the bytes for their own sector, never another caller's.
func TestConcurrentTransactionsMatchTid(t *testing.T) {
	addr, stop := startTestDrive(t)
	defer stop()

	c, err := Dial(addr, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Shutdown()

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			payload := []byte(fmt.Sprintf("sector-%02d-payload-", i))
			buf := make([]byte, 256)
			copy(buf, payload)
			if err := c.WriteSector(uint64(i), buf); err != nil {
				t.Errorf("WriteSector(%d) error = %v", i, err)
				return
			}
			out := make([]byte, 256)
			if err := c.ReadSector(uint64(i), out); err != nil {
				t.Errorf("ReadSector(%d) error = %v", i, err)
				return
			}
			if string(out[:len(payload)]) != string(payload) {
				t.Errorf("sector %d got %q, want prefix %q", i, out[:len(payload)], payload)
			}
		}()
	}
	wg.Wait()
}

func TestShutdownClosesClient(t *testing.T) {
	addr, stop := startTestDrive(t)
	defer stop()

	c, err := Dial(addr, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if err := c.Shutdown(); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	buf := make([]byte, 256)
	if err := c.ReadSector(0, buf); err == nil {
		t.Fatal("ReadSector() after Shutdown() expected error, got nil")
	}
}
