package blockio

import (
	"io"

	"github.com/tinyfat/fatfs/fserr"
)

// SeekerDevice adapts any io.ReadWriteSeeker (a file, an in-memory buffer
// from bytesextra, ...) into a Device. Capacity is derived once at
// construction from the seeker's current length; the device does not grow
// or shrink afterward.
//
// Grounded on testing/images.go's use of bytesextra.NewReadWriteSeeker as
// the backing store for golden-image tests, generalized so the same adapter
// also backs a real os.File for the command-line tool.
type SeekerDevice struct {
	rws         io.ReadWriteSeeker
	sectorCount uint64
}

// NewSeekerDevice wraps rws, whose total length must be an exact multiple
// of SectorSize.
func NewSeekerDevice(rws io.ReadWriteSeeker) (*SeekerDevice, error) {
	size, err := rws.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fserr.DiskAccessError.Wrap(err)
	}
	if size%SectorSize != 0 {
		return nil, fserr.InvalidArgument.WithMessage("image size is not a multiple of the sector size")
	}
	return &SeekerDevice{rws: rws, sectorCount: uint64(size) / SectorSize}, nil
}

func (d *SeekerDevice) IsReady() bool { return true }

func (d *SeekerDevice) Capacity() (sectorCount uint64, sectorBytes uint32) {
	return d.sectorCount, SectorSize
}

func (d *SeekerDevice) ReadSectors(sector uint64, buf []byte) error {
	if _, err := d.rws.Seek(int64(sector)*SectorSize, io.SeekStart); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	if _, err := io.ReadFull(d.rws, buf); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	return nil
}

func (d *SeekerDevice) WriteSectors(sector uint64, buf []byte) error {
	if _, err := d.rws.Seek(int64(sector)*SectorSize, io.SeekStart); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	if _, err := d.rws.Write(buf); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	return nil
}
