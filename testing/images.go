// Package testing holds shared helpers for fat package tests: golden-image
// loading and in-memory device construction. It is a regular (non-internal)
// package, grounded on the teacher's testing/images.go, so that fat's
// _test.go files and any out-of-tree consumer can both use it.
package testing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyfat/fatfs/internal/blockio"
	"github.com/tinyfat/fatfs/utilities/compression"
	"github.com/xaionaro-go/bytesextra"
)

// LoadDiskImage takes a compressed golden disk image (RLE8 + gzip, per
// utilities/compression) and returns a block device ready to pass to
// fat.Attach. Writes to the returned device do not affect
// compressedImageBytes; the device's size is fixed.
func LoadDiskImage(t *testing.T, compressedImageBytes []byte, totalSectors uint) blockio.Device {
	t.Helper()
	require.Greater(t, len(compressedImageBytes), 0, "compressed image is empty")

	imageBytes, err := compression.DecompressImageToBytes(bytes.NewReader(compressedImageBytes))
	require.NoError(t, err)
	require.Equal(t, totalSectors*blockio.SectorSize, uint(len(imageBytes)), "uncompressed image is wrong size")

	dev, err := blockio.NewSeekerDevice(bytesextra.NewReadWriteSeeker(imageBytes))
	require.NoError(t, err)
	return dev
}

// NewBlankImage builds a zero-filled in-memory block device of totalSectors
// sectors, suitable for Format followed by Attach.
func NewBlankImage(t *testing.T, totalSectors uint) blockio.Device {
	t.Helper()
	buf := make([]byte, totalSectors*blockio.SectorSize)
	dev, err := blockio.NewSeekerDevice(bytesextra.NewReadWriteSeeker(buf))
	require.NoError(t, err)
	return dev
}
