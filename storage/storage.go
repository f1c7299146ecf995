// Package storage defines the abstract contract every backing store for the
// disk stack must satisfy: fixed-size sector reads and writes, a geometry
// query, and shutdown. It is implemented by storage/ramstore for in-process
// use and by driveclient for the networked virtual drive.
package storage

import (
	"fmt"
	"math/bits"

	"github.com/diskfs/vdiskfs/xerrors"
)

// Geometry describes the shape of a disk: how many cylinders it has, how
// many sectors make up one cylinder, and how many bytes make up one sector.
type Geometry struct {
	Cylinders          uint64
	SectorsPerCylinder uint64
	BytesPerSector     uint64
}

// TotalSectors is Cylinders * SectorsPerCylinder.
func (g Geometry) TotalSectors() uint64 {
	return g.Cylinders * g.SectorsPerCylinder
}

// Size is the total size of the disk in bytes.
func (g Geometry) Size() uint64 {
	return g.TotalSectors() * g.BytesPerSector
}

// CylinderOf returns the cylinder number addr falls in.
func (g Geometry) CylinderOf(addr uint64) uint64 {
	return addr >> g.sectorAddrBits()
}

// SectorInCylinder returns the sector offset within a cylinder for addr.
func (g Geometry) SectorInCylinder(addr uint64) uint64 {
	return addr & (g.SectorsPerCylinder - 1)
}

func (g Geometry) sectorAddrBits() uint {
	return uint(bits.TrailingZeros64(g.SectorsPerCylinder))
}

// Validate checks the power-of-two and overflow constraints from the data
// model: SectorsPerCylinder and BytesPerSector must be powers of two, and
// Cylinders*SectorsPerCylinder*BytesPerSector must not overflow 64 bits.
func (g Geometry) Validate() error {
	if !isPowerOfTwo(g.BytesPerSector) {
		return xerrors.New(xerrors.KindDriveInvalidArgs, "bytes per sector must be a power of two")
	}
	if !isPowerOfTwo(g.SectorsPerCylinder) {
		return xerrors.New(xerrors.KindDriveInvalidArgs, "sectors per cylinder must be a power of two")
	}
	size := g.BytesPerSector * g.SectorsPerCylinder * g.Cylinders
	if g.Cylinders != 0 && (size/g.BytesPerSector/g.SectorsPerCylinder != g.Cylinders) {
		return xerrors.New(xerrors.KindDriveInvalidArgs, fmt.Sprintf("disk size overflows 64 bits for geometry %+v", g))
	}
	return nil
}

func isPowerOfTwo(n uint64) bool {
	return n > 0 && n&(n-1) == 0
}

// Provider is the abstract contract for a sector-addressable backing store.
// Reads and writes are sector-atomic from the caller's perspective and the
// implementation must be safe for concurrent use by distinct callers.
type Provider interface {
	// ReadSector fills out with BytesPerSector bytes read from addr.
	ReadSector(addr uint64, out []byte) error
	// WriteSector persists BytesPerSector bytes from in to addr.
	WriteSector(addr uint64, in []byte) error
	// Describe returns the provider's geometry.
	Describe() Geometry
	// Shutdown releases the provider. For a networked provider this also
	// instructs the remote server to terminate.
	Shutdown() error
}

// CheckAddr is a shared helper for Provider implementations to validate a
// sector address against a geometry before touching their backing storage.
func CheckAddr(g Geometry, addr uint64) error {
	if addr >= g.TotalSectors() {
		return xerrors.New(xerrors.KindDiskAddrInvalid, fmt.Sprintf("sector address %d out of range [0,%d)", addr, g.TotalSectors()))
	}
	return nil
}
