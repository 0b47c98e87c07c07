package fat

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/tinyfat/fatfs/fserr"
)

// FileInfo is the listing information returned by FindFirst/FindNext (spec
// §6's get_file_info-shaped directory listing).
type FileInfo struct {
	Name       string
	Attributes uint8
	Size       uint32
	Cluster    ClusterID
	CreateTime time.Time
	ModifyTime time.Time
}

func (fi *FileInfo) IsDir() bool { return fi.Attributes&AttrDirectory != 0 }

// FindHandle is the state behind one FindFirst/FindNext enumeration (spec
// §4.6). Results are materialized up front: directories in this driver's
// target use case are small enough that this is simpler and safer than
// re-walking disk state between calls.
type FindHandle struct {
	pattern string
	entries []FileInfo
	pos     int
}

// listDirectory lists every live entry of the directory rooted at cursor,
// except the volume label, without pattern filtering; FindFirst uses it to
// materialize the listing it then filters.
func listDirectory(v *Volume, cursor *dirCursor) ([]FileInfo, error) {
	var out []FileInfo
	err := walkDirectory(v, cursor, func(e *dirEntry) (bool, error) {
		if e.Short.Attr&AttrVolumeID != 0 && e.Short.Attr != AttrLongName {
			return false, nil
		}
		out = append(out, FileInfo{
			Name:       e.Name(),
			Attributes: e.Short.Attr,
			Size:       e.Short.FileSize,
			Cluster:    e.Short.Cluster(),
			CreateTime: fromDOSDateTime(e.Short.CreateDate, e.Short.CreateTime, e.Short.CreateTenth),
			ModifyTime: fromDOSDateTime(e.Short.ModifyDate, e.Short.ModifyTime, 0),
		})
		return false, nil
	})
	return out, err
}

// FindFirst implements spec §4.6's find_first: opens dirPath and returns an
// enumeration handle plus the first entry matching pattern (a DOS-style
// "*"/"?" wildcard, matched case-insensitively), or fserr.FileNotFound if
// nothing in the directory matches.
func FindFirst(v *Volume, dirPath string, pattern string) (*FindHandle, *FileInfo, error) {
	var cursor *dirCursor
	if dirPath == "" || dirPath == "/" || dirPath == "\\" {
		cursor = newRootCursor(v)
	} else {
		entry, err := findPath(v, dirPath)
		if err != nil {
			return nil, nil, err
		}
		if !entry.Short.IsDir() {
			return nil, nil, fserr.NotADirectory
		}
		cursor = newSubdirCursor(v, entry.Short.Cluster())
	}

	all, err := listDirectory(v, cursor)
	if err != nil {
		return nil, nil, err
	}

	h := &FindHandle{pattern: strings.ToUpper(pattern), entries: all}
	info, ok := h.findNextMatch()
	if !ok {
		return h, nil, fserr.FileNotFound
	}
	return h, info, nil
}

// FindNext advances the enumeration and returns the next matching entry, or
// fserr.FileNotFound once the directory is exhausted.
func (h *FindHandle) FindNext() (*FileInfo, error) {
	info, ok := h.findNextMatch()
	if !ok {
		return nil, fserr.FileNotFound
	}
	return info, nil
}

func (h *FindHandle) findNextMatch() (*FileInfo, bool) {
	for h.pos < len(h.entries) {
		candidate := h.entries[h.pos]
		h.pos++
		matched, err := filepath.Match(h.pattern, strings.ToUpper(candidate.Name))
		if err == nil && matched {
			out := candidate
			return &out, true
		}
	}
	return nil, false
}

// Close releases the enumeration handle. It never fails; it exists so
// callers have a symmetric CloseFind to pair with FindFirst (spec §6).
func (h *FindHandle) Close() error { return nil }
