package fat

import (
	"encoding/binary"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// Type identifies which FAT flavor a volume is formatted as. Per spec §4.2,
// this is derived from the cluster count, never trusted from a label.
type Type int

const (
	FAT12 Type = 12
	FAT16 Type = 16
	FAT32 Type = 32
)

func (t Type) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "FAT(unknown)"
	}
}

// ClassifyByClusterCount implements spec §4.2's classification rule: "≤4084
// -> FAT12; ≤65524 -> FAT16; else FAT32." Grounded on
// drivers/fat/common.go's DetermineFATVersion, whose thresholds come from
// Microsoft's FAT spec v1.03 p.14.
func ClassifyByClusterCount(totalClusters uint32) Type {
	if totalClusters <= 4084 {
		return FAT12
	}
	if totalClusters <= 65524 {
		return FAT16
	}
	return FAT32
}

// bpb is the parsed BIOS Parameter Block, laid out by byte offset rather
// than relying on Go struct packing (spec §9: "Packed on-disk structures").
// Field offsets are relative to the start of the BPB sector.
type bpb struct {
	BytesPerSector    uint16 // offset 11
	SectorsPerCluster uint8  // offset 13
	ReservedSectors   uint16 // offset 14
	NumFATs           uint8  // offset 16
	RootEntryCount    uint16 // offset 17
	totalSectors16    uint16 // offset 19
	Media             uint8  // offset 21
	sectorsPerFAT16   uint16 // offset 22
	SectorsPerTrack   uint16 // offset 24
	NumHeads          uint16 // offset 26
	HiddenSectors     uint32 // offset 28
	totalSectors32    uint32 // offset 32

	// FAT32-only fields.
	sectorsPerFAT32 uint32 // offset 36
	ExtFlags        uint16 // offset 40
	FSVersion       uint16 // offset 42
	RootCluster     uint32 // offset 44
	FSInfoSector    uint16 // offset 48
	BackupBootSector uint16 // offset 50
	BootSignature   uint8  // FAT32: offset 66, FAT12/16: offset 38
	VolumeSerial    uint32
	VolumeLabel     [11]byte
	FileSystemType  [8]byte
}

const bpbMinSize = 90

// parseBPB decodes a 512-byte sector as a BIOS Parameter Block. It returns an
// error describing every structural violation found (aggregated, per
// SPEC_FULL's AMBIENT STACK note on multierror) rather than stopping at the
// first one.
func parseBPB(sector []byte) (*bpb, error) {
	if len(sector) < bpbMinSize {
		return nil, fserr.FATBroken.WithMessage("boot sector too short")
	}

	b := &bpb{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		NumFATs:           sector[16],
		RootEntryCount:    binary.LittleEndian.Uint16(sector[17:19]),
		totalSectors16:    binary.LittleEndian.Uint16(sector[19:21]),
		Media:             sector[21],
		sectorsPerFAT16:   binary.LittleEndian.Uint16(sector[22:24]),
		SectorsPerTrack:   binary.LittleEndian.Uint16(sector[24:26]),
		NumHeads:          binary.LittleEndian.Uint16(sector[26:28]),
		HiddenSectors:     binary.LittleEndian.Uint32(sector[28:32]),
		totalSectors32:    binary.LittleEndian.Uint32(sector[32:36]),
		sectorsPerFAT32:   binary.LittleEndian.Uint32(sector[36:40]),
		ExtFlags:          binary.LittleEndian.Uint16(sector[40:42]),
		FSVersion:         binary.LittleEndian.Uint16(sector[42:44]),
		RootCluster:       binary.LittleEndian.Uint32(sector[44:48]),
		FSInfoSector:      binary.LittleEndian.Uint16(sector[48:50]),
		BackupBootSector:  binary.LittleEndian.Uint16(sector[50:52]),
	}

	var merr *multiErrorBuilder
	if b.BytesPerSector != blockio.SectorSize {
		merr = merr.add(fserr.InvalidArgument.WithMessage("BytesPerSector must be 512"))
	}
	switch b.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		merr = merr.add(fserr.FATBroken.WithMessage(
			"SectorsPerCluster must be a power of two in [1, 128]"))
	}
	if b.NumFATs == 0 {
		merr = merr.add(fserr.FATBroken.WithMessage("NumFATs must be nonzero"))
	}
	if err := merr.err(); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *bpb) sectorsPerFAT() uint32 {
	if b.sectorsPerFAT16 != 0 {
		return uint32(b.sectorsPerFAT16)
	}
	return b.sectorsPerFAT32
}

func (b *bpb) totalSectors() uint32 {
	if b.totalSectors16 != 0 {
		return uint32(b.totalSectors16)
	}
	return b.totalSectors32
}

func (b *bpb) rootDirSectors() uint32 {
	return (uint32(b.RootEntryCount)*32 + uint32(b.BytesPerSector) - 1) / uint32(b.BytesPerSector)
}
