package fat

import (
	"encoding/binary"
	"sync"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// Volume is the disk control block described in spec §3: one per attached
// LUN, holding geometry, the single-sector FAT write-back cache, the
// free-cluster hint, and the per-volume lock that makes every public
// operation on it atomic with respect to every other (spec §5).
type Volume struct {
	mu sync.Mutex

	Type Type
	LUN  int

	device blockio.Device

	totalSectors uint64

	bytesPerSector    uint32
	sectorsPerCluster uint32
	bytesPerCluster   uint32

	volumeStart     SectorID
	firstFATStart   SectorID
	secondFATStart  SectorID // 0 if there is no mirror
	numFATs         uint8
	sectorsPerFAT   uint32
	rootDirStart    SectorID
	rootDirSectors  uint32 // FAT12/16 only; 0 for FAT32
	rootDirEntries  uint16
	rootClusterNo   ClusterID // FAT32 only
	firstDataSector SectorID
	totalClusters   uint32

	fsInfoSector       SectorID // FAT32 only, 0 if unavailable
	bpbFreeClusterHint uint32   // from FSInfo, math.MaxUint32 if unknown

	lastFreeCluster ClusterID // allocator hint; 0 means "unknown"

	// FAT cache: a single sector, shared by both FAT copies through
	// flushFATCache (spec §3 invariant: dirty cache must reach both copies
	// before eviction or detach).
	cachedFATSector SectorID
	fatCacheDirty   bool
	fatCache        [blockio.SectorSize]byte

	// scratch is reused by directory/file I/O to avoid an allocation per
	// operation. Only the lock holder may touch it.
	scratch [blockio.SectorSize]byte
}

// Lock acquires the volume's binary semaphore. Every exported Manager
// operation calls this before touching volume state and defers Unlock,
// implementing spec §5's "cooperative single-thread-at-a-time per volume".
func (v *Volume) Lock()   { v.mu.Lock() }
func (v *Volume) Unlock() { v.mu.Unlock() }

// BytesPerCluster returns the number of data bytes held by one cluster.
func (v *Volume) BytesPerCluster() uint32 { return v.bytesPerCluster }

// ClusterToSector converts a cluster number to its first absolute sector on
// the device (spec §4.2's cluster_to_sector).
func (v *Volume) ClusterToSector(c ClusterID) SectorID {
	return SectorID(uint64(c-2)*uint64(v.sectorsPerCluster)) + v.firstDataSector
}

// Attach opens a volume on dev, reading its boot sector (and, if it's
// FAT32, its FSInfo sector) and deriving geometry per spec §4.2.
func Attach(lun int, dev blockio.Device) (*Volume, error) {
	if err := blockio.Validate(dev); err != nil {
		return nil, err
	}
	sectorCount, _ := dev.Capacity()

	sector0 := make([]byte, blockio.SectorSize)
	if err := dev.ReadSectors(0, sector0); err != nil {
		return nil, fserr.DiskAccessError.Wrap(err)
	}

	var volumeStart SectorID
	bpbSector := sector0
	if !looksLikeFATBootSector(sector0) {
		// Not a BPB: treat sector 0 as an MBR and read the first partition
		// entry's LBA start field (spec §4.2).
		lba := binary.LittleEndian.Uint32(sector0[0x1C6:0x1CA])
		volumeStart = SectorID(lba)

		bpbSector = make([]byte, blockio.SectorSize)
		if err := dev.ReadSectors(uint64(volumeStart), bpbSector); err != nil {
			return nil, fserr.DiskAccessError.Wrap(err)
		}
	}

	parsed, err := parseBPB(bpbSector)
	if err != nil {
		return nil, err
	}

	reserved := uint32(parsed.ReservedSectors)
	sectorsPerFAT := parsed.sectorsPerFAT()
	totalSectorsField := parsed.totalSectors()
	rootDirSectors := parsed.rootDirSectors()

	firstFAT := volumeStart + SectorID(reserved)
	rootDirStart := firstFAT + SectorID(uint64(parsed.NumFATs)*uint64(sectorsPerFAT))
	var secondFAT SectorID
	if parsed.NumFATs >= 2 {
		secondFAT = firstFAT + SectorID(sectorsPerFAT)
	}

	dataSectors := totalSectorsField - reserved - uint32(parsed.NumFATs)*sectorsPerFAT - rootDirSectors
	if parsed.SectorsPerCluster == 0 {
		return nil, fserr.FATBroken.WithMessage("SectorsPerCluster is zero")
	}
	totalClusters := dataSectors / uint32(parsed.SectorsPerCluster)

	fatType := ClassifyByClusterCount(totalClusters)

	firstDataSector := rootDirStart + SectorID(rootDirSectors)

	var rootClusterNo ClusterID
	if fatType == FAT32 {
		var merr *multiErrorBuilder
		if rootDirSectors != 0 {
			merr = merr.add(fserr.FATBroken.WithMessage(
				"RootDirSectors must be zero on a FAT32 volume"))
		}
		if err := merr.err(); err != nil {
			return nil, err
		}
		rootClusterNo = ClusterID(parsed.RootCluster)
		rootDirStart = firstDataSector + SectorID(uint64(rootClusterNo-2)*uint64(parsed.SectorsPerCluster))
	}

	v := &Volume{
		Type:               fatType,
		LUN:                lun,
		device:             dev,
		totalSectors:       sectorCount,
		bytesPerSector:     blockio.SectorSize,
		sectorsPerCluster:  uint32(parsed.SectorsPerCluster),
		bytesPerCluster:    blockio.SectorSize * uint32(parsed.SectorsPerCluster),
		volumeStart:        volumeStart,
		firstFATStart:      firstFAT,
		secondFATStart:     secondFAT,
		numFATs:            parsed.NumFATs,
		sectorsPerFAT:      sectorsPerFAT,
		rootDirStart:       rootDirStart,
		rootDirSectors:     rootDirSectors,
		rootDirEntries:     parsed.RootEntryCount,
		rootClusterNo:      rootClusterNo,
		firstDataSector:    firstDataSector,
		totalClusters:      totalClusters,
		cachedFATSector:    noCachedSector,
		bpbFreeClusterHint: 0xFFFFFFFF,
	}

	if fatType == FAT32 {
		v.loadFSInfo(parsed.FSInfoSector, volumeStart)
	}

	return v, nil
}

// looksLikeFATBootSector implements the "boot signature matches and the
// volume sign is FAT-family" heuristic from spec §4.2: a valid boot sector
// signature plus a plausible BytesPerSector/SectorsPerCluster/NumFATs.
func looksLikeFATBootSector(sector []byte) bool {
	if sector[510] != 0x55 || sector[511] != 0xAA {
		return false
	}
	bytesPerSector := binary.LittleEndian.Uint16(sector[11:13])
	if bytesPerSector != blockio.SectorSize {
		return false
	}
	switch sector[13] {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return false
	}
	numFATs := sector[16]
	return numFATs == 1 || numFATs == 2
}

// loadFSInfo reads the FAT32 FSInfo sector and, if its signatures check out,
// records the free-cluster-count hint (spec §4.2, §6).
func (v *Volume) loadFSInfo(fsInfoSectorField uint16, volumeStart SectorID) {
	sectorNum := volumeStart + SectorID(fsInfoSectorField)
	if fsInfoSectorField == 0 {
		sectorNum = volumeStart + 1
	}

	buf := make([]byte, blockio.SectorSize)
	if err := v.device.ReadSectors(uint64(sectorNum), buf); err != nil {
		return
	}

	leadSig := binary.LittleEndian.Uint32(buf[0:4])
	structSig := binary.LittleEndian.Uint32(buf[0x1E4:0x1E8])
	bootSig := binary.LittleEndian.Uint16(buf[0x1FE:0x200])

	if leadSig != 0x41615252 || structSig != 0x61417272 || bootSig != 0xAA55 {
		return
	}

	v.fsInfoSector = sectorNum
	v.bpbFreeClusterHint = binary.LittleEndian.Uint32(buf[0x1E8:0x1EC])
}

// updateFSInfoFreeCount writes a new free-cluster count/hint back to the
// FSInfo sector if the volume has one and the value actually changed (spec
// §4.5 close(): "on FAT32, update the FSInfo free-cluster hint if it
// differs").
func (v *Volume) updateFSInfoFreeCount(freeCount, nextFree uint32) error {
	if v.Type != FAT32 || v.fsInfoSector == 0 {
		return nil
	}

	buf := make([]byte, blockio.SectorSize)
	if err := v.device.ReadSectors(uint64(v.fsInfoSector), buf); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}

	currentFree := binary.LittleEndian.Uint32(buf[0x1E8:0x1EC])
	currentNext := binary.LittleEndian.Uint32(buf[0x1EC:0x1F0])
	if currentFree == freeCount && currentNext == nextFree {
		return nil
	}

	binary.LittleEndian.PutUint32(buf[0x1E8:0x1EC], freeCount)
	binary.LittleEndian.PutUint32(buf[0x1EC:0x1F0], nextFree)
	if err := v.device.WriteSectors(uint64(v.fsInfoSector), buf); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	v.bpbFreeClusterHint = freeCount
	return nil
}
