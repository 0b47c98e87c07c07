package fat

import (
	"encoding/binary"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// FormatOptions configures Format (spec §4.7). Zero values mean "pick a
// sensible default": SectorsPerCluster of 0 consults the geometry preset
// table (geometry_presets.go), and a zero RootEntryCount defaults to 512
// (FAT12/16) or is ignored (FAT32, which has no fixed-size root directory).
type FormatOptions struct {
	RequestedType     Type // 0 lets Format classify by cluster count, like Attach does
	SectorsPerCluster uint8
	RootEntryCount    uint16
	NumFATs           uint8
	VolumeLabel       string
	MediaDescriptor   byte
}

const defaultRootEntryCount = 512

// Format lays down a fresh BIOS Parameter Block, FAT(s), and root directory
// on dev, sized for totalSectors. Implements spec §4.7's format operation;
// geometry decisions (cluster size, FAT width) follow the same derivation
// Attach uses in reverse, so a freshly formatted volume round-trips through
// Attach unchanged.
func Format(dev blockio.Device, totalSectors uint32, opts FormatOptions) error {
	if err := blockio.Validate(dev); err != nil {
		return err
	}

	numFATs := opts.NumFATs
	if numFATs == 0 {
		numFATs = 2
	}
	media := opts.MediaDescriptor
	if media == 0 {
		media = 0xF8
	}

	// Geometry is derived for a provisional type: the requested one, or
	// FAT16 when none was requested. If no type was requested and the
	// resulting cluster count classifies as another type, Format runs once
	// more with that type requested; a second disagreement returns
	// fserr.InvalidArgument.
	fatType := opts.RequestedType
	if fatType == 0 {
		fatType = FAT16
	}

	spc := opts.SectorsPerCluster
	if spc == 0 {
		spc = defaultSectorsPerCluster(totalSectors, fatType)
	}

	rootEntryCount := opts.RootEntryCount
	if rootEntryCount == 0 {
		rootEntryCount = defaultRootEntryCount
	}
	rootDirSectors := uint32(rootEntryCount*32+blockio.SectorSize-1) / blockio.SectorSize
	if fatType == FAT32 {
		rootDirSectors = 0
		rootEntryCount = 0
	}

	reserved := uint32(1)
	if fatType == FAT32 {
		reserved = 32
	}

	entryBits := 16
	if fatType == FAT12 {
		entryBits = 12
	} else if fatType == FAT32 {
		entryBits = 32
	}

	sectorsPerFAT := computeSectorsPerFAT(totalSectors, reserved, uint32(numFATs), rootDirSectors, uint32(spc), entryBits)

	dataSectors := totalSectors - reserved - uint32(numFATs)*sectorsPerFAT - rootDirSectors
	totalClusters := dataSectors / uint32(spc)
	resolvedType := ClassifyByClusterCount(totalClusters)
	if opts.RequestedType == 0 && resolvedType != fatType {
		refined := opts
		refined.RequestedType = resolvedType
		return Format(dev, totalSectors, refined)
	}
	if opts.RequestedType != 0 && resolvedType != opts.RequestedType {
		return fserr.InvalidArgument.WithMessage(
			"requested FAT type does not match the cluster count this geometry produces")
	}

	if err := writeBootSector(dev, resolvedType, totalSectors, uint32(reserved), numFATs, spc, rootEntryCount, sectorsPerFAT, media); err != nil {
		return err
	}

	if resolvedType == FAT32 {
		if err := writeFSInfo(dev, reserved, totalClusters); err != nil {
			return err
		}
		if err := writeBackupBootSector(dev, resolvedType, totalSectors, reserved, numFATs, spc, rootEntryCount, sectorsPerFAT, media); err != nil {
			return err
		}
	}

	if err := zeroFATs(dev, reserved, numFATs, sectorsPerFAT, resolvedType, media); err != nil {
		return err
	}

	firstFAT := SectorID(reserved)
	rootStart := firstFAT + SectorID(uint64(numFATs)*uint64(sectorsPerFAT))
	if resolvedType == FAT32 {
		firstDataSector := rootStart
		rootCluster := ClusterID(2)
		if err := zeroRootDirFAT32(dev, firstDataSector, rootCluster, spc); err != nil {
			return err
		}
		if err := writeInitialFATEntries(dev, reserved, sectorsPerFAT, numFATs, resolvedType, media, rootCluster); err != nil {
			return err
		}
	} else {
		if err := zeroSectors(dev, rootStart, rootDirSectors); err != nil {
			return err
		}
		if err := writeInitialFATEntries(dev, reserved, sectorsPerFAT, numFATs, resolvedType, media, 0); err != nil {
			return err
		}
	}

	if opts.VolumeLabel != "" {
		v, err := Attach(0, dev)
		if err != nil {
			return err
		}
		return SetVolumeLabel(v, opts.VolumeLabel)
	}
	return nil
}

// computeSectorsPerFAT solves for the FAT size in sectors, accounting for
// the fact that a larger FAT shrinks the data region (and so the cluster
// count), which in turn could change how many bits each entry needs. The
// spec doesn't require an exact iterative solver; this mirrors the widely
// used Microsoft reference formula closely enough to produce a self
// consistent, valid BPB.
func computeSectorsPerFAT(totalSectors, reserved, numFATs, rootDirSectors, spc uint32, entryBits int) uint32 {
	tmpVal1 := totalSectors - (reserved + rootDirSectors)
	tmpVal2 := uint32(256*uint32(spc)) + numFATs
	if entryBits == 32 {
		tmpVal2 /= 2
	}
	sectorsPerFAT := (tmpVal1 + (tmpVal2 - 1)) / tmpVal2
	if sectorsPerFAT == 0 {
		sectorsPerFAT = 1
	}
	return sectorsPerFAT
}

func writeBootSector(dev blockio.Device, fatType Type, totalSectors, reserved uint32, numFATs uint8, spc uint8, rootEntryCount uint16, sectorsPerFAT uint32, media byte) error {
	buf := make([]byte, blockio.SectorSize)
	buf[13] = spc
	binary.LittleEndian.PutUint16(buf[11:13], blockio.SectorSize)
	binary.LittleEndian.PutUint16(buf[14:16], uint16(reserved))
	buf[16] = numFATs
	binary.LittleEndian.PutUint16(buf[17:19], rootEntryCount)
	if totalSectors <= 0xFFFF {
		binary.LittleEndian.PutUint16(buf[19:21], uint16(totalSectors))
	}
	buf[21] = media
	binary.LittleEndian.PutUint16(buf[24:26], 63)
	binary.LittleEndian.PutUint16(buf[26:28], 255)
	binary.LittleEndian.PutUint32(buf[32:36], totalSectors)

	if fatType == FAT32 {
		binary.LittleEndian.PutUint32(buf[36:40], sectorsPerFAT)
		binary.LittleEndian.PutUint32(buf[44:48], 2)
		binary.LittleEndian.PutUint16(buf[48:50], 1)
		binary.LittleEndian.PutUint16(buf[50:52], 6)
		buf[66] = 0x29
		binary.LittleEndian.PutUint32(buf[67:71], 0x12345678)
		copy(buf[71:82], []byte("NO NAME    "))
		copy(buf[82:90], []byte("FAT32   "))
	} else {
		binary.LittleEndian.PutUint16(buf[22:24], uint16(sectorsPerFAT))
		buf[38] = 0x29
		binary.LittleEndian.PutUint32(buf[39:43], 0x12345678)
		copy(buf[43:54], []byte("NO NAME    "))
		if fatType == FAT12 {
			copy(buf[54:62], []byte("FAT12   "))
		} else {
			copy(buf[54:62], []byte("FAT16   "))
		}
	}

	buf[510] = 0x55
	buf[511] = 0xAA
	return dev.WriteSectors(0, buf)
}

func writeBackupBootSector(dev blockio.Device, fatType Type, totalSectors, reserved uint32, numFATs uint8, spc uint8, rootEntryCount uint16, sectorsPerFAT uint32, media byte) error {
	if err := writeBootSector(dev, fatType, totalSectors, reserved, numFATs, spc, rootEntryCount, sectorsPerFAT, media); err != nil {
		return err
	}
	buf := make([]byte, blockio.SectorSize)
	if err := dev.ReadSectors(0, buf); err != nil {
		return err
	}
	return dev.WriteSectors(6, buf)
}

func writeFSInfo(dev blockio.Device, reserved uint32, totalClusters uint32) error {
	buf := make([]byte, blockio.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(buf[0x1E4:0x1E8], 0x61417272)
	binary.LittleEndian.PutUint32(buf[0x1E8:0x1EC], totalClusters-1) // 1 cluster used by root
	binary.LittleEndian.PutUint32(buf[0x1EC:0x1F0], 3)
	binary.LittleEndian.PutUint16(buf[0x1FE:0x200], 0xAA55)
	return dev.WriteSectors(1, buf)
}

func zeroFATs(dev blockio.Device, reserved uint32, numFATs uint8, sectorsPerFAT uint32, fatType Type, media byte) error {
	zero := make([]byte, blockio.SectorSize)
	for f := uint8(0); f < numFATs; f++ {
		start := SectorID(reserved) + SectorID(uint32(f)*sectorsPerFAT)
		for s := uint32(0); s < sectorsPerFAT; s++ {
			if err := dev.WriteSectors(uint64(start+SectorID(s)), zero); err != nil {
				return fserr.DiskAccessError.Wrap(err)
			}
		}
	}
	return nil
}

// writeInitialFATEntries reserves FAT entries 0 and 1 (media descriptor and
// EOF marker, per the FAT spec) and, for FAT32, marks the root directory's
// single cluster as allocated and EOF.
func writeInitialFATEntries(dev blockio.Device, reserved uint32, sectorsPerFAT uint32, numFATs uint8, fatType Type, media byte, rootCluster ClusterID) error {
	buf := make([]byte, blockio.SectorSize)
	if err := dev.ReadSectors(uint64(reserved), buf); err != nil {
		return err
	}

	switch fatType {
	case FAT12:
		buf[0] = media
		buf[1] = 0xFF
		buf[2] = 0xFF
	case FAT16:
		binary.LittleEndian.PutUint16(buf[0:2], uint16(media)|0xFF00)
		binary.LittleEndian.PutUint16(buf[2:4], 0xFFFF)
	case FAT32:
		binary.LittleEndian.PutUint32(buf[0:4], 0x0FFFFF00|uint32(media))
		binary.LittleEndian.PutUint32(buf[4:8], 0x0FFFFFFF)
		binary.LittleEndian.PutUint32(buf[8:12], 0x0FFFFFFF) // cluster 2: root dir, EOF
	}

	if err := dev.WriteSectors(uint64(reserved), buf); err != nil {
		return err
	}
	if numFATs >= 2 {
		if err := dev.WriteSectors(uint64(reserved)+uint64(sectorsPerFAT), buf); err != nil {
			return err
		}
	}
	return nil
}

func zeroSectors(dev blockio.Device, start SectorID, count uint32) error {
	zero := make([]byte, blockio.SectorSize)
	for i := uint32(0); i < count; i++ {
		if err := dev.WriteSectors(uint64(start)+uint64(i), zero); err != nil {
			return fserr.DiskAccessError.Wrap(err)
		}
	}
	return nil
}

func zeroRootDirFAT32(dev blockio.Device, firstDataSector SectorID, rootCluster ClusterID, spc uint8) error {
	return zeroSectors(dev, firstDataSector, uint32(spc))
}
