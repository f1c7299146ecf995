// Package diskview provides a thin, non-caching, sector-addressed
// projection over a storage.Provider: every access is a full-sector disk
// I/O, translating between raw sector bytes and the typed fixed records
// the file system defines.
package diskview

import (
	"github.com/diskfs/vdiskfs/storage"
)

// Record is anything that can be serialized to and parsed from exactly one
// sector's worth of bytes. It is the Go analogue of the C++ storage_proxy's
// implicit reinterpret-cast: there is no implicit cast in Go, so callers
// pass a codec explicitly instead.
type Record interface {
	// MarshalSector encodes the record into a BytesPerSector-length slice.
	MarshalSector(bytesPerSector int) []byte
}

// View wraps a storage.Provider with typed Get/Put accessors over whole
// sectors, plus raw accessors for sub-sector payloads (used for the tail
// byte range of a file's last block).
type View struct {
	provider storage.Provider
	geometry storage.Geometry
}

// New wraps provider in a View.
func New(provider storage.Provider) *View {
	return &View{provider: provider, geometry: provider.Describe()}
}

// Geometry returns the wrapped provider's geometry.
func (v *View) Geometry() storage.Geometry { return v.geometry }

// Get reads the sector at addr and decodes it with parse, which must
// consume exactly BytesPerSector bytes.
func (v *View) Get(addr uint64, parse func([]byte) error) error {
	buf := make([]byte, v.geometry.BytesPerSector)
	if err := v.provider.ReadSector(addr, buf); err != nil {
		return err
	}
	return parse(buf)
}

// Put encodes rec and writes it to the sector at addr.
func (v *View) Put(addr uint64, rec Record) error {
	buf := rec.MarshalSector(int(v.geometry.BytesPerSector))
	return v.provider.WriteSector(addr, buf)
}

// ReadRaw reads the whole sector at addr into a freshly allocated buffer,
// for variable-length payloads smaller than a sector (e.g. a file's tail
// block, which is read in full and then trimmed by the caller to
// size_offset bytes).
func (v *View) ReadRaw(addr uint64) ([]byte, error) {
	buf := make([]byte, v.geometry.BytesPerSector)
	if err := v.provider.ReadSector(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRaw pads data with zeroes to a full sector and writes it to addr.
// A payload longer than one sector is a caller bug and panics; it is never
// truncated.
func (v *View) WriteRaw(addr uint64, data []byte) error {
	bps := int(v.geometry.BytesPerSector)
	if len(data) > bps {
		panic("diskview: payload longer than one sector")
	}
	buf := make([]byte, bps)
	copy(buf, data)
	return v.provider.WriteSector(addr, buf)
}
