package ramstore

import (
	"testing"

	"github.com/diskfs/vdiskfs/storage"
)

func testGeometry() storage.Geometry {
	return storage.Geometry{Cylinders: 4, SectorsPerCylinder: 8, BytesPerSector: 256}
}

func TestReadWriteRoundTrip(t *testing.T) {
	s, err := New(testGeometry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	in := make([]byte, 256)
	for i := range in {
		in[i] = byte(i)
	}
	if err := s.WriteSector(5, in); err != nil {
		t.Fatalf("WriteSector() error = %v", err)
	}
	out := make([]byte, 256)
	if err := s.ReadSector(5, out); err != nil {
		t.Fatalf("ReadSector() error = %v", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("byte %d = %d, want %d", i, out[i], in[i])
		}
	}
}

func TestReadWriteOutOfRange(t *testing.T) {
	s, err := New(testGeometry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	buf := make([]byte, 256)
	if err := s.ReadSector(32, buf); err == nil {
		t.Fatal("ReadSector(32) expected error, got nil")
	}
	if err := s.WriteSector(1000, buf); err == nil {
		t.Fatal("WriteSector(1000) expected error, got nil")
	}
}
