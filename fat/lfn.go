package fat

import (
	"unicode/utf16"

	"github.com/tinyfat/fatfs/fserr"
)

// lfnSlotFill is the pad value written into unused character slots after a
// long name's NUL terminator (spec §3 "LFN slot": "unused characters are
// padded with 0xFFFF").
const lfnSlotFill = 0xFFFF

// lfnMaxChars is spec §4.4's build_lfn limit, taken from JFAT.C's
// JFAT_MakeLfn (original_source, around line 1678): the name's UCS-2 unit
// count plus a trailing NUL must not exceed 195, i.e. the name itself may
// not exceed 194 characters.
const lfnMaxChars = 194

// validateLFNLength reports fserr.LFNTooLong if name is too long for
// build_lfn to encode.
func validateLFNLength(name string) error {
	if len(utf16.Encode([]rune(name))) > lfnMaxChars {
		return fserr.LFNTooLong
	}
	return nil
}

// decodeLFNSlotChars extracts the 13 UCS-2 code units packed into one LFN
// slot, in the order they appear in the name (not disk byte order).
func decodeLFNSlotChars(buf []byte) [lfnCharsPerSlot]uint16 {
	var chars [lfnCharsPerSlot]uint16
	for i, off := range lfnCharOffsets {
		chars[i] = uint16(buf[off]) | uint16(buf[off+1])<<8
	}
	return chars
}

func encodeLFNSlotChars(buf []byte, chars [lfnCharsPerSlot]uint16) {
	for i, off := range lfnCharOffsets {
		buf[off] = byte(chars[i])
		buf[off+1] = byte(chars[i] >> 8)
	}
}

// buildLFNSlots splits a long name into the 32-byte LFN directory entries
// needed to store it, ordered the way they must appear on disk: the slot
// holding the tail of the name comes first, flagged with lfnSeqFirstFlag, and
// sequence numbers count down to 1 immediately before the 8.3 entry (spec §3,
// §4.4). checksum is the short name's checksum, copied into every slot so a
// reader can tell the LFN belongs to the 8.3 entry that follows it.
func buildLFNSlots(name string, checksum byte) [][32]byte {
	units := utf16.Encode([]rune(name))

	numSlots := (len(units) + lfnCharsPerSlot) / lfnCharsPerSlot
	if numSlots == 0 {
		numSlots = 1
	}

	slots := make([][32]byte, numSlots)
	for slotIdx := 0; slotIdx < numSlots; slotIdx++ {
		var chars [lfnCharsPerSlot]uint16
		base := slotIdx * lfnCharsPerSlot
		terminated := false
		for i := 0; i < lfnCharsPerSlot; i++ {
			srcIdx := base + i
			switch {
			case srcIdx < len(units):
				chars[i] = units[srcIdx]
			case srcIdx == len(units) && !terminated:
				chars[i] = 0x0000
				terminated = true
			default:
				chars[i] = lfnSlotFill
			}
		}

		var buf [32]byte
		seq := byte(slotIdx + 1)
		if slotIdx == numSlots-1 {
			seq |= lfnSeqFirstFlag
		}
		buf[lfnOffSeq] = seq
		buf[lfnOffAttr] = AttrLongName
		buf[lfnOffType] = 0
		buf[lfnOffChecksum] = checksum
		encodeLFNSlotChars(buf[:], chars)
		// lfnOffClusterLo stays zero.

		// Slots are returned in disk order: index 0 is the first slot as it
		// must appear on disk, i.e. the one carrying the tail of the name.
		slots[numSlots-1-slotIdx] = buf
	}
	return slots
}

// lfnAccumulator reassembles a long name from LFN slots encountered while
// walking a directory in on-disk order (tail first). Slots are fed in as
// they're read; once the short entry bearing the matching checksum is
// reached, finish() returns the assembled name.
type lfnAccumulator struct {
	pending map[int][lfnCharsPerSlot]uint16
	seen    int
	checksum byte
	valid    bool
}

func newLFNAccumulator() *lfnAccumulator {
	return &lfnAccumulator{pending: make(map[int][lfnCharsPerSlot]uint16)}
}

// add records one LFN slot's contents. It resets the accumulator if the
// sequence numbering doesn't form a well-formed descending run, matching the
// "an orphaned LFN slot is ignored" behavior described in spec §4.4.
func (a *lfnAccumulator) add(buf []byte) {
	seq := buf[lfnOffSeq]
	isFirst := seq&lfnSeqFirstFlag != 0
	ordinal := int(seq & lfnSeqMask)
	checksum := buf[lfnOffChecksum]

	if isFirst {
		a.pending = make(map[int][lfnCharsPerSlot]uint16)
		a.seen = ordinal
		a.checksum = checksum
		a.valid = ordinal > 0
	} else if !a.valid || checksum != a.checksum || ordinal != a.seen-1 {
		a.valid = false
		return
	} else {
		a.seen = ordinal
	}

	a.pending[ordinal] = decodeLFNSlotChars(buf)
}

// reset clears accumulated state, e.g. after a short entry is consumed.
func (a *lfnAccumulator) reset() {
	a.pending = make(map[int][lfnCharsPerSlot]uint16)
	a.seen = 0
	a.valid = false
}

// finish returns the assembled long name if a complete, checksum-matching run
// of slots immediately preceded the short entry whose checksum is sfnChecksum.
func (a *lfnAccumulator) finish(sfnChecksum byte) (string, bool) {
	if !a.valid || len(a.pending) == 0 || a.checksum != sfnChecksum || a.seen != 1 {
		return "", false
	}

	numSlots := len(a.pending)
	units := make([]uint16, 0, numSlots*lfnCharsPerSlot)
	for i := 1; i <= numSlots; i++ {
		chars, ok := a.pending[i]
		if !ok {
			return "", false
		}
		units = append(units, chars[:]...)
	}

	// Trim at the NUL terminator, if present.
	for i, u := range units {
		if u == 0x0000 {
			units = units[:i]
			break
		}
	}
	return string(utf16.Decode(units)), true
}
