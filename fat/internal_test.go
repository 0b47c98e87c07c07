package fat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShortNameChecksum(t *testing.T) {
	var name [11]byte
	copy(name[:], "HELLO   TXT")
	sum1 := shortNameChecksum(name)
	sum2 := shortNameChecksum(name)
	assert.Equal(t, sum1, sum2, "checksum must be deterministic")

	var other [11]byte
	copy(other[:], "WORLD   TXT")
	assert.NotEqual(t, sum1, shortNameChecksum(other))
}

func TestBuildLFNSlotsRoundTrip(t *testing.T) {
	name := "a very long filename that needs LFN.txt"
	var shortName [11]byte
	copy(shortName[:], "VERYLO~1TXT")
	checksum := shortNameChecksum(shortName)

	slots := buildLFNSlots(name, checksum)
	require.NotEmpty(t, slots)

	// Slots come back in disk order: index 0 holds the tail of the name and
	// carries the first-entry flag; the slot immediately before the 8.3 entry
	// has sequence number 1 with no flag.
	first := slots[0]
	assert.Equal(t, byte(len(slots))|lfnSeqFirstFlag, first[lfnOffSeq])
	assert.Equal(t, uint8(AttrLongName), first[lfnOffAttr])

	last := slots[len(slots)-1]
	assert.Equal(t, byte(1), last[lfnOffSeq])

	acc := newLFNAccumulator()
	for _, slot := range slots {
		acc.add(slot[:])
	}
	got, ok := acc.finish(checksum)
	require.True(t, ok)
	assert.Equal(t, name, got)
}

func TestBuildLFNSlotsShortName(t *testing.T) {
	var shortName [11]byte
	copy(shortName[:], "AB         ")
	checksum := shortNameChecksum(shortName)

	slots := buildLFNSlots("ab", checksum)
	require.Len(t, slots, 1)

	acc := newLFNAccumulator()
	acc.add(slots[0][:])
	got, ok := acc.finish(checksum)
	require.True(t, ok)
	assert.Equal(t, "ab", got)
}

func TestLFNAccumulatorRejectsOrphanSlot(t *testing.T) {
	acc := newLFNAccumulator()

	// A continuation slot (no first-entry flag) with nothing preceding it is
	// an orphan and must not assemble into a name.
	var orphan [32]byte
	orphan[lfnOffSeq] = 2
	orphan[lfnOffChecksum] = 0x42
	acc.add(orphan[:])

	_, ok := acc.finish(0x42)
	assert.False(t, ok)
}

func TestLFNAccumulatorRejectsChecksumMismatch(t *testing.T) {
	var shortName [11]byte
	copy(shortName[:], "FOO     TXT")
	checksum := shortNameChecksum(shortName)

	slots := buildLFNSlots("foo long name.txt", checksum)
	acc := newLFNAccumulator()
	for _, slot := range slots {
		acc.add(slot[:])
	}

	_, ok := acc.finish(checksum + 1)
	assert.False(t, ok)
}

func TestIs83Filename(t *testing.T) {
	cases := map[string]bool{
		"HELLO.TXT":   true,
		"HELLO":       true,
		"A.B":         true,
		"":            false,
		".":           false,
		"..":          false,
		"hello.txt":   false, // lowercase forces LFN
		"TOOLONGNAME": false,
		"A.TOOLONG":   false,
		"A.B.C":       false,
	}
	for leaf, want := range cases {
		assert.Equal(t, want, is83Filename(leaf), "leaf=%q", leaf)
	}
}

func TestTo83BytesAndDisplayRoundTrip(t *testing.T) {
	raw := to83Bytes("HELLO.TXT")
	assert.Equal(t, "HELLO.TXT", short83ToDisplay(raw))

	raw2 := to83Bytes("A.B")
	assert.Equal(t, "A.B", short83ToDisplay(raw2))

	raw3 := to83Bytes("NOEXT")
	assert.Equal(t, "NOEXT", short83ToDisplay(raw3))
}

func TestShort83ToDisplayEscapesE5(t *testing.T) {
	var raw [11]byte
	copy(raw[:], "          ")
	raw[0] = direntFirstByteEscE5
	copy(raw[1:8], "BC")
	copy(raw[8:11], "TXT")
	assert.Equal(t, "\xE5BC.TXT", short83ToDisplay(raw))
}

func TestDOSDateTimeRoundTrip(t *testing.T) {
	in := time.Date(2023, time.June, 15, 13, 42, 30, 0, time.UTC)
	date, clock, tenths := toDOSDateTime(in)
	out := fromDOSDateTime(date, clock, tenths)

	assert.Equal(t, in.Year(), out.Year())
	assert.Equal(t, in.Month(), out.Month())
	assert.Equal(t, in.Day(), out.Day())
	assert.Equal(t, in.Hour(), out.Hour())
	assert.Equal(t, in.Minute(), out.Minute())
	// DOS time stores seconds with 2-second resolution.
	assert.InDelta(t, in.Second(), out.Second(), 1)
}

func TestDOSDateBefore1980ClampsToEpoch(t *testing.T) {
	in := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
	date, _, _ := toDOSDateTime(in)
	out := fromDOSDate(date)
	assert.Equal(t, 1980, out.Year())
}

func TestDirentEncodeDecodeRoundTrip(t *testing.T) {
	var d direntRecord
	copy(d.ShortName[:], "HELLO   TXT")
	d.Attr = AttrArchive
	d.FileSize = 12345
	d.SetCluster(ClusterID(0x00123456))

	buf := make([]byte, 32)
	d.encode(buf)

	got := decodeDirent(buf)
	assert.Equal(t, d.ShortName, got.ShortName)
	assert.Equal(t, d.Attr, got.Attr)
	assert.Equal(t, d.FileSize, got.FileSize)
	assert.Equal(t, ClusterID(0x00123456), got.Cluster())
}

func TestClassifyByClusterCount(t *testing.T) {
	assert.Equal(t, FAT12, ClassifyByClusterCount(0))
	assert.Equal(t, FAT12, ClassifyByClusterCount(4084))
	assert.Equal(t, FAT16, ClassifyByClusterCount(4085))
	assert.Equal(t, FAT16, ClassifyByClusterCount(65524))
	assert.Equal(t, FAT32, ClassifyByClusterCount(65525))
}
