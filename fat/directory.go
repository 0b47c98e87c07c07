package fat

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/noxer/bytewriter"
	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// dirSlot locates one 32-byte directory entry on disk.
type dirSlot struct {
	Sector SectorID
	Offset int
}

// dirEntry is a fully resolved directory entry: its short-name record plus
// (if it has one) the long name that was assembled from the LFN slots
// immediately preceding it, and the on-disk locations of every slot it
// occupies, tail (short entry) last. Grounded on drivers/fat/dirent.go's
// RawDirent/Dirent split, generalized to carry the LFN half the teacher never
// implemented.
type dirEntry struct {
	Short     direntRecord
	LongName  string // "" if the entry has no LFN
	ShortSlot dirSlot
	LFNSlots  []dirSlot // disk order (tail of name first), may be empty
}

// Name returns the display name for the entry: the long name if present,
// otherwise the 8.3 short name.
func (e *dirEntry) Name() string {
	if e.LongName != "" {
		return e.LongName
	}
	return short83ToDisplay(e.Short.ShortName)
}

// dirCursor walks the sectors of a directory in order, whether it's the
// fixed-size FAT12/16 root directory or a cluster chain (any subdirectory, or
// the FAT32 root). Grounded on fatengine.go's chain-walking primitives.
type dirCursor struct {
	v *Volume

	fixedRoot        bool
	fixedSector      SectorID
	fixedSectorsLeft uint32

	chainCluster    ClusterID
	sectorInCluster uint32
	started         bool
}

func newRootCursor(v *Volume) *dirCursor {
	if v.Type == FAT32 {
		return &dirCursor{v: v, chainCluster: v.rootClusterNo}
	}
	return &dirCursor{v: v, fixedRoot: true, fixedSector: v.rootDirStart, fixedSectorsLeft: v.rootDirSectors}
}

func newSubdirCursor(v *Volume, firstCluster ClusterID) *dirCursor {
	return &dirCursor{v: v, chainCluster: firstCluster}
}

// nextSector returns the next sector to scan, or ok=false when the directory
// is exhausted (end of the fixed root region, or end of the cluster chain).
func (c *dirCursor) nextSector() (sector SectorID, ok bool, err error) {
	if c.fixedRoot {
		if c.fixedSectorsLeft == 0 {
			return 0, false, nil
		}
		s := c.fixedSector
		c.fixedSector++
		c.fixedSectorsLeft--
		return s, true, nil
	}

	if c.chainCluster == 0 {
		return 0, false, nil
	}

	sector = c.v.ClusterToSector(c.chainCluster) + SectorID(c.sectorInCluster)
	c.sectorInCluster++
	if c.sectorInCluster >= c.v.sectorsPerCluster {
		c.sectorInCluster = 0
		next, isEOF, nextErr := c.v.NextCluster(c.chainCluster)
		if nextErr != nil {
			return 0, false, nextErr
		}
		if isEOF {
			c.chainCluster = 0
		} else {
			c.chainCluster = next
		}
	}
	return sector, true, nil
}

// dirEntriesPerSector is fixed by the 512-byte sector / 32-byte entry ratio.
const dirEntriesPerSector = blockio.SectorSize / direntSize

// walkDirectory scans every entry of the directory rooted at cursor,
// resolving LFN runs as it goes, and calls visit for each live (non-free,
// non-erased) short entry. Returning stop=true from visit ends the walk
// early. Implements spec §4.4's walk_directory.
func walkDirectory(v *Volume, cursor *dirCursor, visit func(entry *dirEntry) (stop bool, err error)) error {
	acc := newLFNAccumulator()
	var lfnSlots []dirSlot

	buf := make([]byte, blockio.SectorSize)
	for {
		sector, ok, err := cursor.nextSector()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := v.device.ReadSectors(uint64(sector), buf); err != nil {
			return fserr.DiskAccessError.Wrap(err)
		}

		for i := 0; i < dirEntriesPerSector; i++ {
			off := i * direntSize
			raw := buf[off : off+direntSize]

			switch raw[direntOffName] {
			case direntFirstByteFree:
				return nil
			case direntFirstByteErased:
				acc.reset()
				lfnSlots = nil
				continue
			}

			attr := raw[direntOffAttr]
			if attr == AttrLongName {
				acc.add(raw)
				lfnSlots = append(lfnSlots, dirSlot{Sector: sector, Offset: off})
				continue
			}

			rec := decodeDirent(raw)
			if rec.IsLabel() {
				acc.reset()
				lfnSlots = nil
				continue
			}

			longName, _ := acc.finish(shortNameChecksum(rec.ShortName))
			entry := &dirEntry{
				Short:     rec,
				LongName:  longName,
				ShortSlot: dirSlot{Sector: sector, Offset: off},
				LFNSlots:  lfnSlots,
			}
			acc.reset()
			lfnSlots = nil

			stop, err := visit(entry)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
	}
}

// findInDirectory returns the entry named leaf (case-insensitively) within
// the directory rooted at cursor, or fserr.FileNotFound.
func findInDirectory(v *Volume, cursor *dirCursor, leaf string) (*dirEntry, error) {
	var found *dirEntry
	err := walkDirectory(v, cursor, func(entry *dirEntry) (bool, error) {
		if strings.EqualFold(entry.Name(), leaf) {
			found = entry
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fserr.FileNotFound
	}
	return found, nil
}

// findPath implements spec §4.4's find: walks each path component from the
// volume's root, returning the final component's entry. An empty or "/"
// path returns a synthetic root entry (FirstCluster is the root's).
func findPath(v *Volume, path string) (*dirEntry, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return rootSyntheticEntry(v), nil
	}

	cursor := newRootCursor(v)
	var entry *dirEntry
	for i, part := range parts {
		var err error
		entry, err = findInDirectory(v, cursor, part)
		if err != nil {
			return nil, err
		}
		if i == len(parts)-1 {
			break
		}
		if !entry.Short.IsDir() {
			return nil, fserr.NotADirectory
		}
		cursor = newSubdirCursor(v, entry.Short.Cluster())
	}
	return entry, nil
}

func rootSyntheticEntry(v *Volume) *dirEntry {
	var rec direntRecord
	rec.Attr = AttrDirectory
	rec.SetCluster(v.rootClusterNo)
	return &dirEntry{Short: rec}
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/\\")
	if path == "" {
		return nil
	}
	raw := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	return raw
}

// findFreeSlots locates n contiguous free/erased directory entry slots
// within the directory rooted at cursor, extending the directory by one
// cluster if it's a chain (not the fixed FAT12/16 root, which can't grow).
// Implements spec §4.4's find_free_slots / write_slots preparation.
func findFreeSlots(v *Volume, dirFirstCluster ClusterID, isFAT32Root bool, n int) ([]dirSlot, error) {
	var cursor *dirCursor
	if isFAT32Root || (dirFirstCluster == 0 && v.Type != FAT32) {
		cursor = newRootCursor(v)
	} else {
		cursor = newSubdirCursor(v, dirFirstCluster)
	}

	var run []dirSlot
	buf := make([]byte, blockio.SectorSize)

	flushRun := func() {
		run = nil
	}

	for {
		sector, ok, err := cursor.nextSector()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := v.device.ReadSectors(uint64(sector), buf); err != nil {
			return nil, fserr.DiskAccessError.Wrap(err)
		}
		for i := 0; i < dirEntriesPerSector; i++ {
			off := i * direntSize
			first := buf[off]
			if first == direntFirstByteFree || first == direntFirstByteErased {
				run = append(run, dirSlot{Sector: sector, Offset: off})
				if len(run) == n {
					return run, nil
				}
			} else {
				flushRun()
			}
		}
	}

	// Ran off the end without finding enough room.
	if v.Type != FAT32 && dirFirstCluster == 0 {
		// Fixed root directory: no room to grow.
		return nil, fserr.DirentryFull
	}

	// Grow the chain by one cluster and retry entirely within the new
	// cluster (simplification: a request is never split across the old tail
	// and the newly appended cluster).
	growFrom := dirFirstCluster
	if isFAT32Root {
		growFrom = v.rootClusterNo
	}
	newCluster, err := appendClusterToChain(v, growFrom)
	if err != nil {
		return nil, err
	}

	clusterBuf := make([]byte, v.bytesPerCluster)
	if err := zeroCluster(v, newCluster, clusterBuf); err != nil {
		return nil, err
	}

	slots := make([]dirSlot, 0, n)
	base := v.ClusterToSector(newCluster)
	for i := 0; i < n; i++ {
		slots = append(slots, dirSlot{
			Sector: base + SectorID(i*direntSize/blockio.SectorSize),
			Offset: (i * direntSize) % blockio.SectorSize,
		})
	}
	return slots, nil
}

// appendClusterToChain walks to the end of the chain starting at first and
// links a freshly allocated cluster onto it, returning the new cluster.
func appendClusterToChain(v *Volume, first ClusterID) (ClusterID, error) {
	last := first
	for {
		next, isEOF, err := v.NextCluster(last)
		if err != nil {
			return 0, err
		}
		if isEOF {
			break
		}
		last = next
	}

	newCluster, err := v.AllocOne()
	if err != nil {
		return 0, err
	}
	if _, err := v.writeEntryRaw(newCluster, v.eofMarkerForType()); err != nil {
		return 0, err
	}
	if _, err := v.writeEntryRaw(last, newCluster); err != nil {
		return 0, err
	}
	return newCluster, nil
}

func zeroCluster(v *Volume, cluster ClusterID, scratch []byte) error {
	for i := range scratch {
		scratch[i] = 0
	}
	base := v.ClusterToSector(cluster)
	for s := uint32(0); s < v.sectorsPerCluster; s++ {
		sectorBuf := scratch[s*blockio.SectorSize : (s+1)*blockio.SectorSize]
		if err := v.device.WriteSectors(uint64(base+SectorID(s)), sectorBuf); err != nil {
			return fserr.DiskAccessError.Wrap(err)
		}
	}
	return nil
}

// writeSlots assembles the LFN run (if any) plus the short entry into one
// contiguous buffer with a bytewriter, then writes each 32-byte piece to its
// assigned slot. Implements spec §4.4's write_slots.
func writeSlots(v *Volume, slots []dirSlot, lfn [][32]byte, short direntRecord) error {
	if len(slots) != len(lfn)+1 {
		return fserr.InternalError.WithMessage("slot count does not match entry count")
	}

	block := make([]byte, len(slots)*direntSize)
	w := bytewriter.New(block)
	for _, s := range lfn {
		if _, err := w.Write(s[:]); err != nil {
			return fserr.InternalError.Wrap(err)
		}
	}
	shortBuf := make([]byte, direntSize)
	short.encode(shortBuf)
	if _, err := w.Write(shortBuf); err != nil {
		return fserr.InternalError.Wrap(err)
	}

	for i, slot := range slots {
		piece := block[i*direntSize : (i+1)*direntSize]
		if err := blockio.RWByteRange(v.device, v.scratch[:], uint64(slot.Sector), slot.Offset, piece, true); err != nil {
			return err
		}
	}
	return nil
}

// eraseChain marks every slot backing entry (its LFN run plus its short
// entry) as erased (spec §4.4's erase_chain). Per spec's stated limit, an
// entry with more LFN slots than lfnMaxSlots allows is rejected rather than
// partially erased.
func eraseChain(v *Volume, entry *dirEntry) error {
	if len(entry.LFNSlots) > lfnMaxSlots {
		return fserr.LFNTooLong
	}

	erase := func(slot dirSlot) error {
		return blockio.RWByteRange(
			v.device, v.scratch[:], uint64(slot.Sector), slot.Offset, []byte{direntFirstByteErased}, true)
	}

	for _, slot := range entry.LFNSlots {
		if err := erase(slot); err != nil {
			return err
		}
	}
	return erase(entry.ShortSlot)
}

// generateShortName implements spec §4.4's short-name generation. The long
// name's base is discarded entirely: JFAT.C's JFAT_MakeLfn (original_source,
// :1690-1693) scans the target directory for existing short names of the
// form "~N.EXT" sharing the new file's extension (SearchFileName, :755-758),
// tracks the maximum N in use, and emits "~<N+1>" zero-padded to 7 digits as
// the entire 8-character base (:803's "~%07d.%s"), scoped to the directory
// being searched rather than the whole volume.
func generateShortName(v *Volume, dirFirstCluster ClusterID, isFAT32Root bool, longName string) ([11]byte, error) {
	_, ext, _ := strings.Cut(longName, ".")
	ext = sanitizeShortComponent(ext, 3)

	cursor := func() *dirCursor {
		if isFAT32Root || (dirFirstCluster == 0 && v.Type != FAT32) {
			return newRootCursor(v)
		}
		return newSubdirCursor(v, dirFirstCluster)
	}

	maxID := 0
	err := walkDirectory(v, cursor(), func(e *dirEntry) (bool, error) {
		name := e.Short.ShortName
		if name[0] != '~' {
			return false, nil
		}
		existingExt := strings.TrimRight(string(name[8:11]), " ")
		if !strings.EqualFold(existingExt, ext) {
			return false, nil
		}
		if n, ok := leadingDigits(strings.TrimRight(string(name[1:8]), " ")); ok && n > maxID {
			maxID = n
		}
		return false, nil
	})
	if err != nil {
		return [11]byte{}, err
	}

	id := maxID + 1
	if id > 9999999 {
		return [11]byte{}, fserr.InternalError.WithMessage("could not generate a unique short name")
	}

	candidateLeaf := fmt.Sprintf("~%07d", id)
	if ext != "" {
		candidateLeaf += "." + ext
	}
	return to83Bytes(candidateLeaf), nil
}

// leadingDigits parses the run of decimal digits at the start of s, matching
// JFAT.C's AtoN (decimal, stopping at the first non-digit rather than
// rejecting the whole string).
func leadingDigits(s string) (int, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, false
	}
	return n, true
}

func sanitizeShortComponent(s string, maxLen int) string {
	s = strings.ToUpper(s)
	var b strings.Builder
	const allowed = "~!@#$%^&()-_'0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	for _, r := range s {
		if r == ' ' || r == '.' {
			continue
		}
		if strings.ContainsRune(allowed, r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
		if b.Len() >= maxLen {
			break
		}
	}
	out := b.String()
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
