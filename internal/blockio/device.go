// Package blockio is the block device abstraction the fat driver is built
// on. It corresponds to the spec's "out of scope" block device collaborator:
// everything above this package only ever reads or writes whole sectors (or,
// via RWByteRange, a byte range within a single sector).
package blockio

import "github.com/tinyfat/fatfs/fserr"

// SectorSize is the only sector size this driver accepts, per spec §4.2.
const SectorSize = 512

// Device is the external block device interface consumed by a Volume. It
// mirrors the spec's read_sector/write_sector/get_capacity/is_ready
// collaborators (§1, §6) almost one for one.
//
// Implementations are free to represent a LUN however they like; this
// package only ever talks to one LUN at a time through a bound Device.
type Device interface {
	// IsReady reports whether the backing medium is present and responsive.
	IsReady() bool

	// Capacity returns the total number of sectors and the size of one
	// sector in bytes. The driver requires SectorBytes == SectorSize.
	Capacity() (sectorCount uint64, sectorBytes uint32)

	// ReadSectors fills buf (which must be an exact multiple of the sector
	// size) starting at the given absolute sector number.
	ReadSectors(sector uint64, buf []byte) error

	// WriteSectors writes buf (an exact multiple of the sector size) to the
	// device starting at the given absolute sector number.
	WriteSectors(sector uint64, buf []byte) error
}

// Validate checks that the device reports a ready, correctly-sized medium.
func Validate(dev Device) error {
	if !dev.IsReady() {
		return fserr.DiskAccessError.WithMessage("device is not ready")
	}
	_, sectorBytes := dev.Capacity()
	if sectorBytes != SectorSize {
		return fserr.InvalidArgument.WithMessage(
			"device sector size must be 512 bytes")
	}
	return nil
}

// RWByteRange performs a byte-granular read or write of a single sector,
// handling the partial-sector read-modify-write case transparently (spec
// §4.1). `sector` is an absolute sector number on the device (the caller is
// responsible for adding any volume start-sector offset). `offset` and
// `len(data)` must together fit within one sector.
//
// When write is true, data is copied into the sector at offset and the
// whole sector is rewritten; aligned full-sector writes (offset == 0 and
// len(data) == SectorSize) skip the pre-read entirely, since nothing needs
// to be preserved.
func RWByteRange(dev Device, scratch []byte, sector uint64, offset int, data []byte, write bool) error {
	if offset < 0 || offset+len(data) > SectorSize {
		return fserr.InvalidArgument.WithMessage("byte range exceeds one sector")
	}
	if len(scratch) != SectorSize {
		return fserr.InternalError.WithMessage("scratch buffer must be one sector")
	}

	if write && offset == 0 && len(data) == SectorSize {
		return dev.WriteSectors(sector, data)
	}

	if err := dev.ReadSectors(sector, scratch); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}

	if !write {
		copy(data, scratch[offset:offset+len(data)])
		return nil
	}

	copy(scratch[offset:offset+len(data)], data)
	return dev.WriteSectors(sector, scratch)
}
