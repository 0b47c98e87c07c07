package fat

import (
	"log/slog"
	"time"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
	"github.com/tinyfat/fatfs/internal/handletab"
)

// Manager is the top-level entry point described in spec §5/§6: it owns
// every attached Volume (by LUN) plus the fixed-size open-file and
// find-enumeration handle tables, and serializes access to each volume
// through its lock before any operation touches it.
type Manager struct {
	volumes map[int]*Volume
	files   *handletab.Table[*fileHandle]
	finds   *handletab.Table[*findEntry]

	maxOpenFiles   int
	maxFindHandles int

	// Logger is optional and nil-safe. No code in this package writes to it,
	// so setting it has no effect on control flow or output.
	Logger *slog.Logger
}

type findEntry struct {
	lun int
	h   *FindHandle
}

// NewManager creates a Manager with room for maxOpenFiles simultaneously
// open file handles and maxFindHandles simultaneous directory enumerations.
func NewManager(maxOpenFiles, maxFindHandles int) *Manager {
	return &Manager{
		volumes:        make(map[int]*Volume),
		files:          handletab.New[*fileHandle](maxOpenFiles),
		finds:          handletab.New[*findEntry](maxFindHandles),
		maxOpenFiles:   maxOpenFiles,
		maxFindHandles: maxFindHandles,
	}
}

// Init resets the manager to its just-constructed state: every open file
// and find handle is closed and every volume detached. It mirrors spec §6's
// init(), the entry point a caller uses to reinitialize the whole driver.
func (m *Manager) Init() error {
	for lun := range m.volumes {
		if v := m.volumes[lun]; v != nil {
			v.Lock()
			_ = v.Flush()
			v.Unlock()
		}
	}
	m.volumes = make(map[int]*Volume)
	m.files = handletab.New[*fileHandle](m.maxOpenFiles)
	m.finds = handletab.New[*findEntry](m.maxFindHandles)
	return nil
}

func (m *Manager) volume(lun int) (*Volume, error) {
	v, ok := m.volumes[lun]
	if !ok {
		return nil, fserr.VolumeNotAttached
	}
	return v, nil
}

// Attach opens the volume on dev and registers it under lun, per spec §6.
func (m *Manager) Attach(lun int, dev blockio.Device) error {
	v, err := Attach(lun, dev)
	if err != nil {
		return err
	}
	m.volumes[lun] = v
	return nil
}

// Detach flushes and forgets the volume at lun.
func (m *Manager) Detach(lun int) error {
	v, err := m.volume(lun)
	if err != nil {
		return err
	}
	v.Lock()
	err = v.Flush()
	v.Unlock()
	delete(m.volumes, lun)
	return err
}

// Format lays down a fresh filesystem on dev; it does not require the
// volume to already be attached (spec §4.7's format operates on a raw LUN).
func (m *Manager) Format(dev blockio.Device, totalSectors uint32, opts FormatOptions) error {
	return Format(dev, totalSectors, opts)
}

// GetVolumeInfo implements spec §6's get_volume_info.
func (m *Manager) GetVolumeInfo(lun int) (VolumeInfo, error) {
	v, err := m.volume(lun)
	if err != nil {
		return VolumeInfo{}, err
	}
	v.Lock()
	defer v.Unlock()
	return GetVolumeInfo(v)
}

// Open implements spec §6's open(lun, path, flags).
func (m *Manager) Open(lun int, path string, flags IOFlags) (handletab.Handle, error) {
	v, err := m.volume(lun)
	if err != nil {
		return -1, err
	}
	v.Lock()
	defer v.Unlock()

	fh, err := openFile(v, path, flags)
	if err != nil {
		return -1, err
	}
	return m.files.Alloc(fh)
}

// Create implements spec §6's create(lun, path); equivalent to Open with
// IOFlagCreate|IOFlagWrite|IOFlagRead.
func (m *Manager) Create(lun int, path string) (handletab.Handle, error) {
	return m.Open(lun, path, IOFlagCreate|IOFlagWrite|IOFlagRead)
}

func (m *Manager) withFile(h handletab.Handle, fn func(*fileHandle) error) error {
	fh, err := m.files.Get(h)
	if err != nil {
		return err
	}
	fh.v.Lock()
	defer fh.v.Unlock()
	return fn(fh)
}

// Read implements spec §6's read(handle, buf).
func (m *Manager) Read(h handletab.Handle, buf []byte) (int, error) {
	fh, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	fh.v.Lock()
	defer fh.v.Unlock()
	return fh.Read(buf)
}

// Write implements spec §6's write(handle, buf).
func (m *Manager) Write(h handletab.Handle, buf []byte) (int, error) {
	fh, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	fh.v.Lock()
	defer fh.v.Unlock()
	return fh.Write(buf)
}

// Seek implements spec §6's seek(handle, offset, whence).
func (m *Manager) Seek(h handletab.Handle, offset int64, whence int) (int64, error) {
	fh, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	fh.v.Lock()
	defer fh.v.Unlock()
	return fh.Seek(offset, whence)
}

// Close implements spec §6's close(handle): writes back dirty metadata,
// flushes the FAT cache, and frees the handle slot regardless of whether
// the flush succeeded (a failed flush is reported, but the slot is never
// leaked).
func (m *Manager) Close(h handletab.Handle) error {
	fh, err := m.files.Get(h)
	if err != nil {
		return err
	}
	fh.v.Lock()
	closeErr := fh.Close()
	fh.v.Unlock()

	if freeErr := m.files.Free(h); freeErr != nil && closeErr == nil {
		return freeErr
	}
	return closeErr
}

// GetFileSize implements spec §6's get_file_size(handle).
func (m *Manager) GetFileSize(h handletab.Handle) (uint64, error) {
	fh, err := m.files.Get(h)
	if err != nil {
		return 0, err
	}
	return fh.size, nil
}

// SetFileTime implements spec §6's set_file_time(handle, t): writes t as
// the directory entry's modify date/time immediately, rather than waiting
// for Close.
func (m *Manager) SetFileTime(h handletab.Handle, t time.Time) error {
	return m.withFile(h, func(fh *fileHandle) error {
		buf := make([]byte, direntSize)
		if err := blockio.RWByteRange(
			fh.v.device, fh.v.scratch[:], uint64(fh.dirSlot.Sector), fh.dirSlot.Offset, buf, false,
		); err != nil {
			return err
		}
		rec := decodeDirent(buf)
		date, clock, _ := toDOSDateTime(t)
		rec.ModifyDate = date
		rec.ModifyTime = clock
		rec.encode(buf)
		return blockio.RWByteRange(
			fh.v.device, fh.v.scratch[:], uint64(fh.dirSlot.Sector), fh.dirSlot.Offset, buf, true)
	})
}

// GetFileAttributes implements spec §6's get_file_attributes(lun, path).
func (m *Manager) GetFileAttributes(lun int, path string) (uint8, error) {
	v, err := m.volume(lun)
	if err != nil {
		return 0, err
	}
	v.Lock()
	defer v.Unlock()

	entry, err := findPath(v, path)
	if err != nil {
		return 0, err
	}
	return entry.Short.Attr, nil
}

// FileExists implements spec §6's file_exists(lun, path).
func (m *Manager) FileExists(lun int, path string) (bool, error) {
	_, err := m.GetFileAttributes(lun, path)
	if err == nil {
		return true, nil
	}
	if err == fserr.FileNotFound || err == fserr.PathNotFound {
		return false, nil
	}
	return false, err
}

// DeleteFile implements spec §6's delete_file(lun, path): frees the
// cluster chain and erases the directory entry (and its LFN run, if any). A
// directory cannot be removed through this call (spec non-goal: use
// RemoveDirectory semantics are out of scope beyond what's implemented
// here).
func (m *Manager) DeleteFile(lun int, path string) error {
	v, err := m.volume(lun)
	if err != nil {
		return err
	}
	v.Lock()
	defer v.Unlock()

	entry, err := findPath(v, path)
	if err != nil {
		return err
	}
	if entry.Short.IsDir() {
		return fserr.IsADirectory
	}

	if entry.Short.Cluster() != 0 {
		if err := v.FreeChain(entry.Short.Cluster(), entry.Short.FileSize); err != nil {
			return err
		}
	}
	if err := eraseChain(v, entry); err != nil {
		return err
	}
	return v.Flush()
}

// CreateDirectory implements spec §6's create_directory(lun, path):
// allocates one cluster, writes "." and ".." entries into it, and links a
// new directory entry into the parent.
func (m *Manager) CreateDirectory(lun int, path string) error {
	v, err := m.volume(lun)
	if err != nil {
		return err
	}
	v.Lock()
	defer v.Unlock()

	parts := splitPath(path)
	if len(parts) == 0 {
		return fserr.AlreadyExists
	}
	leaf := parts[len(parts)-1]
	if !is83Filename(leaf) {
		if err := validateLFNLength(leaf); err != nil {
			return err
		}
	}

	parentCluster, isFAT32Root, err := resolveParentDir(v, parts[:len(parts)-1])
	if err != nil {
		return err
	}

	if _, err := findPathInParent(v, parentCluster, isFAT32Root, leaf); err == nil {
		return fserr.AlreadyExists
	} else if err != fserr.FileNotFound {
		return err
	}

	newCluster, err := v.AllocOne()
	if err != nil {
		return err
	}
	if _, err := v.writeEntryRaw(newCluster, v.eofMarkerForType()); err != nil {
		return err
	}

	clusterBuf := make([]byte, v.bytesPerCluster)
	if err := zeroCluster(v, newCluster, clusterBuf); err != nil {
		return err
	}
	if err := writeDotEntries(v, newCluster, parentCluster, isFAT32Root); err != nil {
		return err
	}

	slots, shortName, err := reserveDirSlot(v, parentCluster, isFAT32Root, leaf)
	if err != nil {
		return err
	}

	now := time.Now()
	date, clock, tenths := toDOSDateTime(now)
	rec := direntRecord{
		ShortName:   shortName,
		Attr:        AttrDirectory,
		CreateTenth: tenths,
		CreateTime:  clock,
		CreateDate:  date,
		AccessDate:  date,
		ModifyTime:  clock,
		ModifyDate:  date,
	}
	rec.SetCluster(newCluster)

	var lfnSlots [][32]byte
	if !is83Filename(leaf) {
		lfnSlots = buildLFNSlots(leaf, shortNameChecksum(shortName))
	}
	if err := writeSlots(v, slots, lfnSlots, rec); err != nil {
		return err
	}
	return v.Flush()
}

// writeDotEntries writes the "." and ".." entries that every non-root
// directory on FAT needs as its first two slots.
func writeDotEntries(v *Volume, selfCluster, parentCluster ClusterID, parentIsFAT32Root bool) error {
	sector := v.ClusterToSector(selfCluster)

	var dot, dotdot direntRecord
	for i := range dot.ShortName {
		dot.ShortName[i] = ' '
		dotdot.ShortName[i] = ' '
	}
	dot.ShortName[0] = '.'
	dotdot.ShortName[0] = '.'
	dotdot.ShortName[1] = '.'
	dot.Attr = AttrDirectory
	dotdot.Attr = AttrDirectory
	dot.SetCluster(selfCluster)

	// ".." points at the parent's first cluster, or 0 if the parent is the
	// root directory (the universal FAT convention, including FAT32, where
	// cluster 0 in ".." means "the root" even though the root's own first
	// cluster is really 2).
	if parentIsFAT32Root {
		dotdot.SetCluster(0)
	} else {
		dotdot.SetCluster(parentCluster)
	}

	buf := make([]byte, blockio.SectorSize)
	dotBuf := buf[0:direntSize]
	dotdotBuf := buf[direntSize : 2*direntSize]
	dot.encode(dotBuf)
	dotdot.encode(dotdotBuf)
	return v.device.WriteSectors(uint64(sector), buf)
}

// FindFirst implements spec §6's find_first(lun, dirPath, pattern).
func (m *Manager) FindFirst(lun int, dirPath, pattern string) (handletab.Handle, *FileInfo, error) {
	v, err := m.volume(lun)
	if err != nil {
		return -1, nil, err
	}
	v.Lock()
	fh, info, err := FindFirst(v, dirPath, pattern)
	v.Unlock()
	if err != nil && fh == nil {
		return -1, nil, err
	}

	handle, allocErr := m.finds.Alloc(&findEntry{lun: lun, h: fh})
	if allocErr != nil {
		return -1, nil, allocErr
	}
	return handle, info, err
}

// FindNext implements spec §6's find_next(handle).
func (m *Manager) FindNext(h handletab.Handle) (*FileInfo, error) {
	entry, err := m.finds.Get(h)
	if err != nil {
		return nil, err
	}
	v, err := m.volume(entry.lun)
	if err != nil {
		return nil, err
	}
	v.Lock()
	defer v.Unlock()
	return entry.h.FindNext()
}

// CloseFind implements spec §6's close_find(handle).
func (m *Manager) CloseFind(h handletab.Handle) error {
	return m.finds.Free(h)
}
