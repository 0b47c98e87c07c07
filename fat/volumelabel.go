package fat

import (
	"strings"

	"github.com/tinyfat/fatfs/fserr"
	"github.com/tinyfat/fatfs/internal/blockio"
)

// GetVolumeLabel implements the volume-label read supplemented from
// original_source/JFAT.C: the label is stored as an 11-byte name on a root
// directory entry flagged AttrVolumeID (and not AttrLongName), rather than
// anywhere in the BPB.
func GetVolumeLabel(v *Volume) (string, error) {
	label := ""
	err := walkRawRootEntries(v, func(rec direntRecord) bool {
		if rec.Attr&AttrVolumeID != 0 && rec.Attr != AttrLongName {
			label = strings.TrimRight(string(rec.ShortName[:]), " ")
			return true
		}
		return false
	})
	return label, err
}

// SetVolumeLabel writes label (truncated/padded to 11 bytes, uppercased) to
// the root directory's volume-label entry, creating one if none exists yet.
func SetVolumeLabel(v *Volume, label string) error {
	label = strings.ToUpper(label)
	if len(label) > 11 {
		label = label[:11]
	}
	var raw [11]byte
	for i := range raw {
		raw[i] = ' '
	}
	copy(raw[:], label)

	slot, found, err := findRawRootLabelSlot(v)
	if err != nil {
		return err
	}

	if !found {
		slots, err := findFreeSlots(v, 0, v.Type == FAT32, 1)
		if err != nil {
			return err
		}
		slot = slots[0]
	}

	rec := direntRecord{ShortName: raw, Attr: AttrVolumeID}
	buf := make([]byte, direntSize)
	rec.encode(buf)
	return blockio.RWByteRange(v.device, v.scratch[:], uint64(slot.Sector), slot.Offset, buf, true)
}

func findRawRootLabelSlot(v *Volume) (dirSlot, bool, error) {
	var found dirSlot
	var ok bool
	err := walkDirectory(v, newRootCursor(v), func(e *dirEntry) (bool, error) {
		if e.Short.Attr&AttrVolumeID != 0 && e.Short.Attr != AttrLongName {
			found = e.ShortSlot
			ok = true
			return true, nil
		}
		return false, nil
	})
	return found, ok, err
}

func walkRawRootEntries(v *Volume, visit func(direntRecord) bool) error {
	return walkDirectory(v, newRootCursor(v), func(e *dirEntry) (bool, error) {
		return visit(e.Short), nil
	})
}

// VolumeInfo is the result of GetVolumeInfo (spec §6:
// get_volume_info(lun) -> (fat_type, total_sectors, free_sectors)).
type VolumeInfo struct {
	Type         Type
	TotalSectors uint64
	FreeSectors  uint64
	Label        string
}

// GetVolumeInfo computes free space lazily (never cached), exactly as
// JFAT.C's get_volume_info does: free_sectors = count_free_clusters() *
// sectors_per_cluster.
func GetVolumeInfo(v *Volume) (VolumeInfo, error) {
	freeClusters, err := v.CountFreeClusters()
	if err != nil {
		return VolumeInfo{}, fserr.DiskAccessError.Wrap(err)
	}
	label, err := GetVolumeLabel(v)
	if err != nil {
		return VolumeInfo{}, err
	}
	return VolumeInfo{
		Type:         v.Type,
		TotalSectors: v.totalSectors,
		FreeSectors:  uint64(freeClusters) * uint64(v.sectorsPerCluster),
		Label:        label,
	}, nil
}
