package fat

import (
	"io"
	"time"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// fileHandle is the state behind one open file descriptor (spec §3 "File
// handle", §4.5). The handle table in internal/handletab stores these by
// value-ish index; Manager looks one up, locks its Volume, and mutates it in
// place for every Read/Write/Seek/Close call.
type fileHandle struct {
	v     *Volume
	flags IOFlags

	firstCluster ClusterID
	offset       uint64
	size         uint64

	dirSlot  dirSlot
	dirDirty bool
}

// clusterAtOffset walks the chain starting at first and returns the cluster
// holding byte position pos. Re-walking from the start on every call trades
// throughput for simplicity (spec places no performance requirement on
// random-access seeks, only that they be correct).
func clusterAtOffset(v *Volume, first ClusterID, pos uint64) (ClusterID, error) {
	clusterIdx := pos / uint64(v.bytesPerCluster)
	cur := first
	for i := uint64(0); i < clusterIdx; i++ {
		next, isEOF, err := v.NextCluster(cur)
		if err != nil {
			return 0, err
		}
		if isEOF {
			return 0, fserr.FATBroken.WithMessage("chain ended before requested offset")
		}
		cur = next
	}
	return cur, nil
}

// openFile implements spec §4.5's open(): locates path, validates the
// requested flags against the entry's attributes, and (with IOFlagCreate)
// creates a zero-length file if it doesn't already exist.
func openFile(v *Volume, path string, flags IOFlags) (*fileHandle, error) {
	entry, err := findPath(v, path)
	switch {
	case err == nil:
		if entry.Short.IsDir() {
			return nil, fserr.IsADirectory
		}
		if flags.CanWrite() && entry.Short.Attr&AttrReadOnly != 0 {
			return nil, fserr.ReadOnlyFileSystem.WithMessage("file is marked read-only")
		}
		h := &fileHandle{
			v:            v,
			flags:        flags,
			firstCluster: entry.Short.Cluster(),
			size:         uint64(entry.Short.FileSize),
			dirSlot:      entry.ShortSlot,
		}
		if flags.CanTruncate() {
			if err := h.truncateToZero(); err != nil {
				return nil, err
			}
		}
		if flags.CanAppend() {
			h.offset = h.size
		}
		return h, nil

	case err == fserr.FileNotFound && flags.CanCreate():
		return createFile(v, path, flags)

	default:
		return nil, err
	}
}

// createFile implements the create-new-file half of spec §4.5's open()/
// create(): splits path into parent directory + leaf, generates a short
// name (and LFN run, if needed), reserves a directory slot, and writes a
// zero-length entry with no allocated clusters (clusters are only allocated
// on the first Write, per alloc_chain's laziness).
func createFile(v *Volume, path string, flags IOFlags) (*fileHandle, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fserr.InvalidArgument.WithMessage("cannot create the root directory as a file")
	}
	leaf := parts[len(parts)-1]
	if !is83Filename(leaf) {
		if err := validateLFNLength(leaf); err != nil {
			return nil, err
		}
	}

	parentCluster, isFAT32Root, err := resolveParentDir(v, parts[:len(parts)-1])
	if err != nil {
		return nil, err
	}

	if _, err := findPathInParent(v, parentCluster, isFAT32Root, leaf); err == nil {
		return nil, fserr.AlreadyExists
	} else if err != fserr.FileNotFound {
		return nil, err
	}

	slots, shortName, err := reserveDirSlot(v, parentCluster, isFAT32Root, leaf)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	date, clock, tenths := toDOSDateTime(now)
	rec := direntRecord{
		ShortName:   shortName,
		Attr:        AttrArchive,
		CreateTenth: tenths,
		CreateTime:  clock,
		CreateDate:  date,
		AccessDate:  date,
		ModifyTime:  clock,
		ModifyDate:  date,
	}

	var lfnSlots [][32]byte
	if !is83Filename(leaf) {
		lfnSlots = buildLFNSlots(leaf, shortNameChecksum(shortName))
	}
	if err := writeSlots(v, slots, lfnSlots, rec); err != nil {
		return nil, err
	}

	shortSlot := slots[len(slots)-1]
	return &fileHandle{v: v, flags: flags, dirSlot: shortSlot}, nil
}

// resolveParentDir walks dirParts from the root and returns the first
// cluster of the final directory named, or the root itself if dirParts is
// empty.
func resolveParentDir(v *Volume, dirParts []string) (cluster ClusterID, isFAT32Root bool, err error) {
	if len(dirParts) == 0 {
		if v.Type == FAT32 {
			return v.rootClusterNo, true, nil
		}
		return 0, false, nil
	}

	cursor := newRootCursor(v)
	var entry *dirEntry
	for i, part := range dirParts {
		entry, err = findInDirectory(v, cursor, part)
		if err != nil {
			return 0, false, err
		}
		if !entry.Short.IsDir() {
			return 0, false, fserr.NotADirectory
		}
		if i < len(dirParts)-1 {
			cursor = newSubdirCursor(v, entry.Short.Cluster())
		}
	}
	return entry.Short.Cluster(), false, nil
}

func findPathInParent(v *Volume, parentCluster ClusterID, isFAT32Root bool, leaf string) (*dirEntry, error) {
	var cursor *dirCursor
	if isFAT32Root || (parentCluster == 0 && v.Type != FAT32) {
		cursor = newRootCursor(v)
	} else {
		cursor = newSubdirCursor(v, parentCluster)
	}
	return findInDirectory(v, cursor, leaf)
}

func reserveDirSlot(v *Volume, parentCluster ClusterID, isFAT32Root bool, leaf string) ([]dirSlot, [11]byte, error) {
	if is83Filename(leaf) {
		name := to83Bytes(leaf)
		slots, err := findFreeSlots(v, parentCluster, isFAT32Root, 1)
		return slots, name, err
	}

	name, err := generateShortName(v, parentCluster, isFAT32Root, leaf)
	if err != nil {
		return nil, name, err
	}
	lfnSlotCount := len(buildLFNSlots(leaf, shortNameChecksum(name)))
	slots, err := findFreeSlots(v, parentCluster, isFAT32Root, lfnSlotCount+1)
	return slots, name, err
}

// Read implements spec §4.5's read(): copies up to len(p) bytes starting at
// the handle's current offset, advancing it, and returns io.EOF once the
// file's recorded size is reached.
func (h *fileHandle) Read(p []byte) (int, error) {
	if !h.flags.CanRead() {
		return 0, fserr.InvalidArgument.WithMessage("handle not opened for reading")
	}
	if h.offset >= h.size {
		return 0, io.EOF
	}

	n := 0
	scratch := make([]byte, blockio.SectorSize)
	for n < len(p) && h.offset < h.size {
		cluster, err := clusterAtOffset(h.v, h.firstCluster, h.offset)
		if err != nil {
			return n, err
		}
		withinCluster := h.offset % uint64(h.v.bytesPerCluster)
		sectorInCluster := withinCluster / blockio.SectorSize
		sectorOffset := int(withinCluster % blockio.SectorSize)
		sector := h.v.ClusterToSector(cluster) + SectorID(sectorInCluster)

		want := len(p) - n
		if remain := blockio.SectorSize - sectorOffset; want > remain {
			want = remain
		}
		if remain := h.size - h.offset; uint64(want) > remain {
			want = int(remain)
		}

		if err := h.v.device.ReadSectors(uint64(sector), scratch); err != nil {
			return n, fserr.DiskAccessError.Wrap(err)
		}
		copy(p[n:n+want], scratch[sectorOffset:sectorOffset+want])

		n += want
		h.offset += uint64(want)
	}
	return n, nil
}

// Write implements spec §4.5's write(): extends the file's cluster chain as
// needed (allocating lazily, one cluster at a time) and writes p starting at
// the handle's current offset.
func (h *fileHandle) Write(p []byte) (int, error) {
	if !h.flags.CanWrite() {
		return 0, fserr.InvalidArgument.WithMessage("handle not opened for writing")
	}
	if len(p) == 0 {
		return 0, nil
	}

	if h.firstCluster == 0 {
		c, err := h.v.AllocOne()
		if err != nil {
			return 0, err
		}
		if _, err := h.v.writeEntryRaw(c, h.v.eofMarkerForType()); err != nil {
			return 0, err
		}
		h.firstCluster = c
		h.dirDirty = true
	}

	n := 0
	scratch := make([]byte, blockio.SectorSize)
	for n < len(p) {
		if err := h.ensureCapacity(h.offset + 1); err != nil {
			return n, err
		}

		cluster, err := clusterAtOffset(h.v, h.firstCluster, h.offset)
		if err != nil {
			return n, err
		}
		withinCluster := h.offset % uint64(h.v.bytesPerCluster)
		sectorInCluster := withinCluster / blockio.SectorSize
		sectorOffset := int(withinCluster % blockio.SectorSize)
		sector := h.v.ClusterToSector(cluster) + SectorID(sectorInCluster)

		want := len(p) - n
		if remain := blockio.SectorSize - sectorOffset; want > remain {
			want = remain
		}

		if err := blockio.RWByteRange(
			h.v.device, scratch, uint64(sector), sectorOffset, p[n:n+want], true,
		); err != nil {
			return n, err
		}

		n += want
		h.offset += uint64(want)
		if h.offset > h.size {
			h.size = h.offset
			h.dirDirty = true
		}
	}
	return n, nil
}

// ensureCapacity grows the file's cluster chain, if needed, so that byte
// position upto-1 is backed by an allocated cluster.
func (h *fileHandle) ensureCapacity(upto uint64) error {
	neededClusters := (upto + uint64(h.v.bytesPerCluster) - 1) / uint64(h.v.bytesPerCluster)

	have := uint64(0)
	cur := h.firstCluster
	for {
		have++
		if have >= neededClusters {
			return nil
		}
		next, isEOF, err := h.v.NextCluster(cur)
		if err != nil {
			return err
		}
		if !isEOF {
			cur = next
			continue
		}
		newCluster, err := h.v.AllocOne()
		if err != nil {
			return err
		}
		if _, err := h.v.writeEntryRaw(newCluster, h.v.eofMarkerForType()); err != nil {
			return err
		}
		if _, err := h.v.writeEntryRaw(cur, newCluster); err != nil {
			return err
		}
		cur = newCluster
	}
}

// Seek implements spec §4.5's seek(), with the same whence semantics as
// io.Seeker.
func (h *fileHandle) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(h.offset)
	case io.SeekEnd:
		base = int64(h.size)
	default:
		return 0, fserr.InvalidArgument.WithMessage("invalid whence")
	}

	newPos := base + offset
	if newPos < 0 {
		return 0, fserr.InvalidArgument.WithMessage("negative seek position")
	}
	if uint64(newPos) > h.size {
		return 0, fserr.InvalidArgument.WithMessage("seek past end of file is not supported")
	}
	h.offset = uint64(newPos)
	return newPos, nil
}

// truncateToZero frees the handle's entire cluster chain and resets size to
// 0, used by IOFlagTruncate.
func (h *fileHandle) truncateToZero() error {
	if h.firstCluster != 0 {
		if err := h.v.FreeChain(h.firstCluster, uint32(h.size)); err != nil {
			return err
		}
	}
	h.firstCluster = 0
	h.size = 0
	h.offset = 0
	h.dirDirty = true
	return nil
}

// Close implements spec §4.5's close(): writes back FileSize/FirstCluster/
// ModifyTime to the directory entry if they changed, and flushes the FAT
// cache so a crash after Close never loses a write (spec §5).
func (h *fileHandle) Close() error {
	if h.dirDirty {
		buf := make([]byte, direntSize)
		if err := blockio.RWByteRange(
			h.v.device, h.v.scratch[:], uint64(h.dirSlot.Sector), h.dirSlot.Offset, buf, false,
		); err != nil {
			return err
		}
		rec := decodeDirent(buf)
		rec.SetCluster(h.firstCluster)
		rec.FileSize = uint32(h.size)
		rec.Attr |= AttrArchive
		now := time.Now()
		date, clock, _ := toDOSDateTime(now)
		rec.ModifyDate = date
		rec.ModifyTime = clock
		rec.encode(buf)
		if err := blockio.RWByteRange(
			h.v.device, h.v.scratch[:], uint64(h.dirSlot.Sector), h.dirSlot.Offset, buf, true,
		); err != nil {
			return err
		}
	}
	return h.v.Flush()
}
