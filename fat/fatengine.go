package fat

import (
	"encoding/binary"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// sectorOffsetForEntry returns the absolute sector containing cluster's FAT
// entry and the byte offset within that sector, for FAT16/FAT32 (spec
// §4.3). FAT12 has its own straddling logic in fat12EntryBytes.
func (v *Volume) sectorOffsetForEntry(cluster ClusterID, entryWidth uint32) (SectorID, int) {
	byteOffset := uint64(cluster) * uint64(entryWidth)
	sector := v.firstFATStart + SectorID(byteOffset/blockio.SectorSize)
	return sector, int(byteOffset % blockio.SectorSize)
}

// ensureFATSectorLoaded makes sector the currently cached FAT sector,
// flushing whatever was cached before if it was dirty (spec §4.3: "Reading
// a different sector flushes first").
func (v *Volume) ensureFATSectorLoaded(sector SectorID) error {
	if v.cachedFATSector == sector {
		return nil
	}
	if err := v.flushFATCache(); err != nil {
		return err
	}
	if err := v.device.ReadSectors(uint64(sector), v.fatCache[:]); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}
	v.cachedFATSector = sector
	v.fatCacheDirty = false
	return nil
}

// flushFATCache writes the cached FAT sector to both FAT copies, if it's
// dirty. A failed write leaves the cache dirty so a later retry can pick it
// back up (spec §7(a): "A FAT write failure leaves the cache dirty").
func (v *Volume) flushFATCache() error {
	if !v.fatCacheDirty || v.cachedFATSector == noCachedSector {
		return nil
	}

	if err := v.device.WriteSectors(uint64(v.cachedFATSector), v.fatCache[:]); err != nil {
		return fserr.DiskAccessError.Wrap(err)
	}

	if v.secondFATStart != 0 {
		mirrorOffset := v.cachedFATSector - v.firstFATStart
		mirrorSector := v.secondFATStart + mirrorOffset
		if err := v.device.WriteSectors(uint64(mirrorSector), v.fatCache[:]); err != nil {
			return fserr.DiskAccessError.Wrap(err)
		}
	}

	v.fatCacheDirty = false
	return nil
}

// Flush forces the FAT cache out to disk. Called at file-handle close, by
// Manager.DeleteFile and Manager.CreateDirectory before they return, and by
// Manager.Detach and Manager.Init (spec §5).
func (v *Volume) Flush() error {
	return v.flushFATCache()
}

// fat12EntryBytes returns the two raw bytes backing a FAT12 entry,
// transparently flushing and loading the following sector if the entry
// straddles a sector boundary (spec §4.3).
func (v *Volume) fat12EntryBytes(cluster ClusterID) (byte, byte, error) {
	byteOffset := uint64(cluster) * 3 / 2
	sector := v.firstFATStart + SectorID(byteOffset/blockio.SectorSize)
	within := int(byteOffset % blockio.SectorSize)

	if err := v.ensureFATSectorLoaded(sector); err != nil {
		return 0, 0, err
	}
	b0 := v.fatCache[within]

	if within+1 < blockio.SectorSize {
		return b0, v.fatCache[within+1], nil
	}

	// The second byte lives in the next sector.
	if err := v.ensureFATSectorLoaded(sector + 1); err != nil {
		return 0, 0, err
	}
	return b0, v.fatCache[0], nil
}

// readEntry decodes the raw FAT entry for cluster, without the FAT32
// "cluster 0 means root" substitution NextCluster applies.
func (v *Volume) readEntry(cluster ClusterID) (ClusterID, error) {
	switch v.Type {
	case FAT16:
		sector, off := v.sectorOffsetForEntry(cluster, 2)
		if err := v.ensureFATSectorLoaded(sector); err != nil {
			return 0, err
		}
		return ClusterID(binary.LittleEndian.Uint16(v.fatCache[off : off+2])), nil

	case FAT32:
		sector, off := v.sectorOffsetForEntry(cluster, 4)
		if err := v.ensureFATSectorLoaded(sector); err != nil {
			return 0, err
		}
		raw := binary.LittleEndian.Uint32(v.fatCache[off : off+4])
		return ClusterID(raw) & fat32ClusterMask, nil

	default: // FAT12
		b0, b1, err := v.fat12EntryBytes(cluster)
		if err != nil {
			return 0, err
		}
		combined := uint16(b0) | uint16(b1)<<8
		if cluster%2 == 1 {
			combined >>= 4
		} else {
			combined &= 0x0FFF
		}
		return ClusterID(combined), nil
	}
}

// isEOFValue reports whether a raw FAT entry value denotes end-of-chain for
// this volume's FAT type (spec §3 "Cluster numbering").
func (v *Volume) isEOFValue(value ClusterID) bool {
	switch v.Type {
	case FAT16:
		return value >= eofMin16
	case FAT32:
		return value >= eofMin32
	default:
		return value >= eofMin12
	}
}

// NextCluster implements spec §4.3's next_cluster: given the current
// cluster in a chain, returns the next one and whether current is the last
// cluster (EOF). Substitutes the FAT32 root directory's cluster for a
// current value of 0, letting the directory engine walk the root exactly
// like any other chain on FAT32.
func (v *Volume) NextCluster(current ClusterID) (next ClusterID, isEOF bool, err error) {
	if v.Type == FAT32 && current == 0 {
		current = v.rootClusterNo
	}
	value, err := v.readEntry(current)
	if err != nil {
		return 0, false, err
	}
	return value, v.isEOFValue(value), nil
}

// writeEntryRaw stores newValue into cluster's FAT slot. Only defined for
// FAT16/FAT32; FAT12 write support is a stated non-goal (spec §1).
func (v *Volume) writeEntryRaw(cluster ClusterID, newValue ClusterID) (previous ClusterID, err error) {
	switch v.Type {
	case FAT16:
		sector, off := v.sectorOffsetForEntry(cluster, 2)
		if err := v.ensureFATSectorLoaded(sector); err != nil {
			return 0, err
		}
		previous = ClusterID(binary.LittleEndian.Uint16(v.fatCache[off : off+2]))
		binary.LittleEndian.PutUint16(v.fatCache[off:off+2], uint16(newValue))
		v.fatCacheDirty = true
		return previous, nil

	case FAT32:
		sector, off := v.sectorOffsetForEntry(cluster, 4)
		if err := v.ensureFATSectorLoaded(sector); err != nil {
			return 0, err
		}
		existing := binary.LittleEndian.Uint32(v.fatCache[off : off+4])
		previous = ClusterID(existing) & fat32ClusterMask
		newRaw := (existing & ^uint32(fat32ClusterMask)) | (uint32(newValue) & uint32(fat32ClusterMask))
		binary.LittleEndian.PutUint32(v.fatCache[off:off+4], newRaw)
		v.fatCacheDirty = true
		return previous, nil

	default:
		return 0, fserr.NotSupported.WithMessage("FAT12 does not support writes")
	}
}

// SetEntry implements spec §4.3's set_entry: writes newValue into cluster's
// FAT slot and reports the previous value plus whether it had denoted EOF.
func (v *Volume) SetEntry(cluster ClusterID, newValue ClusterID) (previous ClusterID, wasEOF bool, err error) {
	previous, err = v.writeEntryRaw(cluster, newValue)
	if err != nil {
		return 0, false, err
	}
	return previous, v.isEOFValue(previous), nil
}

// eofMarkerForType returns the EOF value to write when terminating a chain,
// sized/masked appropriately for this volume's FAT type.
func (v *Volume) eofMarkerForType() ClusterID {
	switch v.Type {
	case FAT16:
		return ClusterID(0xFFFF)
	case FAT32:
		return eofMark & fat32ClusterMask
	default:
		return ClusterID(0xFFF)
	}
}

// AllocOne implements spec §4.3's alloc_one: a linear scan starting from the
// last-known-free hint (or the BPB hint, or cluster 2) that wraps once. It
// returns fserr.DiskFull if no free cluster exists.
func (v *Volume) AllocOne() (ClusterID, error) {
	start := v.lastFreeCluster
	if start == 0 {
		if v.bpbFreeClusterHint != 0xFFFFFFFF && v.bpbFreeClusterHint != 0 {
			start = ClusterID(v.bpbFreeClusterHint)
		} else {
			start = 2
		}
	}

	limit := ClusterID(v.totalClusters) + 2
	idx := start
	for i := uint32(0); i < v.totalClusters; i++ {
		if idx >= limit {
			idx = 2
		}
		val, err := v.readEntry(idx)
		if err != nil {
			return 0, err
		}
		if val == freeCluster {
			v.lastFreeCluster = idx + 1
			return idx, nil
		}
		idx++
	}
	return 0, fserr.DiskFull
}

// AllocChain implements spec §4.3's alloc_chain: allocates clusters one at a
// time, linking each to the last, until the chain holds at least sizeBytes.
// The final cluster is marked EOF. If allocation fails partway through, the
// partial chain is left terminated with EOF at the last cluster actually
// allocated (spec: "On mid-allocation failure the partial chain is still
// written and terminated").
func (v *Volume) AllocChain(sizeBytes uint64) (first ClusterID, err error) {
	if sizeBytes == 0 {
		c, err := v.AllocOne()
		if err != nil {
			return 0, err
		}
		if _, err := v.writeEntryRaw(c, v.eofMarkerForType()); err != nil {
			return 0, err
		}
		return c, nil
	}

	clustersNeeded := (sizeBytes + uint64(v.bytesPerCluster) - 1) / uint64(v.bytesPerCluster)

	var prev ClusterID
	for allocated := uint64(0); allocated < clustersNeeded; allocated++ {
		c, allocErr := v.AllocOne()
		if allocErr != nil {
			if prev != 0 {
				v.writeEntryRaw(prev, v.eofMarkerForType())
			}
			return first, allocErr
		}
		if _, err := v.writeEntryRaw(c, v.eofMarkerForType()); err != nil {
			return first, err
		}
		if prev == 0 {
			first = c
		} else {
			if _, err := v.writeEntryRaw(prev, c); err != nil {
				return first, err
			}
		}
		prev = c
	}
	return first, nil
}

// FreeChain walks the chain starting at first and marks every cluster in it
// free. Used by delete_file (spec §4.5 create/delete via the directory
// engine). fileSize is the entry's recorded size, needed to tell a
// legitimate short chain apart from a broken one: per spec §9's resolution
// of the "NextEntry==0" ambiguity (mirrored from clusterAtOffset's read-side
// check in file.go), hitting a 0 FAT entry mid-walk is fserr.FATBroken only
// if fewer than fileSize bytes' worth of clusters were freed first.
func (v *Volume) FreeChain(first ClusterID, fileSize uint32) error {
	current := first
	var freed uint64
	for current != 0 && !v.isEOFValue(current) {
		next, err := v.readEntry(current)
		if err != nil {
			return err
		}
		if _, err := v.writeEntryRaw(current, freeCluster); err != nil {
			return err
		}
		if current < v.lastFreeCluster || v.lastFreeCluster == 0 {
			v.lastFreeCluster = current
		}
		freed += uint64(v.bytesPerCluster)
		current = next
	}
	if current == 0 && freed < uint64(fileSize) {
		return fserr.FATBroken.WithMessage("chain ended before the file's recorded size was freed")
	}
	return nil
}

// CountFreeClusters implements spec §4.3's count_free_clusters: a full scan
// that also refreshes the allocator hint. Per spec §9's resolution of the
// "PrevFatEntry!=0" ambiguity, the hint is updated at every used→free
// transition, so after the scan it holds the last free cluster that
// immediately follows a used one.
func (v *Volume) CountFreeClusters() (uint32, error) {
	var free uint32
	prevUsed := true // treat "before cluster 2" as used, matching §9.

	for c := ClusterID(2); c < ClusterID(v.totalClusters)+2; c++ {
		val, err := v.readEntry(c)
		if err != nil {
			return 0, err
		}
		if val == freeCluster {
			free++
			if prevUsed {
				v.lastFreeCluster = c
			}
			prevUsed = false
		} else {
			prevUsed = true
		}
	}
	return free, nil
}
