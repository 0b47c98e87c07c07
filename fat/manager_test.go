package fat_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyfat/fatfs/fat"
	"github.com/tinyfat/fatfs/fserr"
	fattesting "github.com/tinyfat/fatfs/testing"
)

const testLUN = 0

// newFAT16Volume formats and attaches a small FAT16 volume (1-sector
// clusters, 512 bytes each) and returns a ready-to-use Manager.
func newFAT16Volume(t *testing.T) *fat.Manager {
	t.Helper()
	dev := fattesting.NewBlankImage(t, 65536)
	require.NoError(t, fat.Format(dev, 65536, fat.FormatOptions{
		RequestedType:     fat.FAT16,
		SectorsPerCluster: 1,
		NumFATs:           2,
	}))

	m := fat.NewManager(16, 4)
	require.NoError(t, m.Attach(testLUN, dev))
	return m
}

// newFAT32Volume formats and attaches a larger FAT32 volume with 4 KiB
// clusters, matching spec §8 scenario 5's geometry.
func newFAT32Volume(t *testing.T) *fat.Manager {
	t.Helper()
	dev := fattesting.NewBlankImage(t, 1048576)
	require.NoError(t, fat.Format(dev, 1048576, fat.FormatOptions{
		RequestedType:     fat.FAT32,
		SectorsPerCluster: 8,
		NumFATs:           2,
	}))

	m := fat.NewManager(16, 4)
	require.NoError(t, m.Attach(testLUN, dev))
	return m
}

// TestHelloWorld implements spec §8 end-to-end scenario 1.
func TestHelloWorld(t *testing.T) {
	m := newFAT16Volume(t)

	h, err := m.Create(testLUN, "/hello.txt")
	require.NoError(t, err)

	content := []byte("Hello, world!\n")
	n, err := m.Write(h, content)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, m.Close(h))

	attrs, err := m.GetFileAttributes(testLUN, "/hello.txt")
	require.NoError(t, err)
	require.Equal(t, uint8(fat.AttrArchive), attrs&fat.AttrArchive)

	h2, err := m.Open(testLUN, "/hello.txt", fat.IOFlagRead)
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err = m.Read(h2, buf)
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.Equal(t, content, buf[:n])
	require.NoError(t, m.Close(h2))
}

// TestRoundTripSizes implements spec §8's round-trip invariant across the
// listed boundary sizes (cluster_bytes == 512 on this volume).
func TestRoundTripSizes(t *testing.T) {
	sizes := []int{0, 1, 511, 512, 513, 1023, 1024, 1025, 10*512 + 7}

	for i, size := range sizes {
		m := newFAT16Volume(t)
		path := "/roundtrip.bin"

		data := bytes.Repeat([]byte{0xA5, 0x3C}, size/2+1)[:size]

		h, err := m.Create(testLUN, path)
		require.NoError(t, err)
		n, err := m.Write(h, data)
		require.NoError(t, err)
		require.Equal(t, size, n)
		require.NoError(t, m.Close(h))

		h2, err := m.Open(testLUN, path, fat.IOFlagRead)
		require.NoError(t, err, "case %d size %d", i, size)
		got := make([]byte, size)
		total := 0
		for total < size {
			nn, rerr := m.Read(h2, got[total:])
			total += nn
			if rerr != nil {
				require.ErrorIs(t, rerr, io.EOF)
				break
			}
		}
		require.Equal(t, size, total, "case %d size %d", i, size)
		require.Equal(t, data, got, "case %d size %d", i, size)
		require.NoError(t, m.Close(h2))
	}
}

// TestSeekToEndEqualsSize implements spec §8's "seek(h, 0, END) equals file
// size for all open files".
func TestSeekToEndEqualsSize(t *testing.T) {
	m := newFAT16Volume(t)

	h, err := m.Create(testLUN, "/sized.bin")
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0x11}, 5000)
	_, err = m.Write(h, data)
	require.NoError(t, err)

	pos, err := m.Seek(h, 0, io.SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, len(data), pos)
	require.NoError(t, m.Close(h))
}

// TestSeekAndRead implements spec §8 end-to-end scenario 4.
func TestSeekAndRead(t *testing.T) {
	m := newFAT16Volume(t)

	data := make([]byte, 100*1024)
	for i := range data {
		data[i] = byte(i)
	}

	h, err := m.Create(testLUN, "/big.bin")
	require.NoError(t, err)
	_, err = m.Write(h, data)
	require.NoError(t, err)
	require.NoError(t, m.Close(h))

	h2, err := m.Open(testLUN, "/big.bin", fat.IOFlagRead)
	require.NoError(t, err)
	pos, err := m.Seek(h2, 50000, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 50000, pos)

	buf := make([]byte, 4096)
	n, err := m.Read(h2, buf)
	require.NoError(t, err)
	require.Equal(t, 4096, n)
	require.Equal(t, data[50000:54096], buf)
	require.NoError(t, m.Close(h2))
}

// TestSeekPastEndFails covers the spec's "seek-past-end not supported"
// invariant.
func TestSeekPastEndFails(t *testing.T) {
	m := newFAT16Volume(t)
	h, err := m.Create(testLUN, "/x.bin")
	require.NoError(t, err)
	_, err = m.Write(h, []byte("12345"))
	require.NoError(t, err)

	_, err = m.Seek(h, 6, io.SeekStart)
	require.Error(t, err)
	require.NoError(t, m.Close(h))
}

// TestLargeFAT32Write implements spec §8 end-to-end scenario 5.
func TestLargeFAT32Write(t *testing.T) {
	m := newFAT32Volume(t)

	info0, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)

	size := 1572864 // 1.5 MiB
	data := bytes.Repeat([]byte{0x42}, size)

	h, err := m.Create(testLUN, "/large.bin")
	require.NoError(t, err)
	n, err := m.Write(h, data)
	require.NoError(t, err)
	require.Equal(t, size, n)
	require.NoError(t, m.Close(h))

	info1, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)

	clusterBytes := uint64(4096)
	expectedClusters := (uint64(size) + clusterBytes - 1) / clusterBytes
	require.EqualValues(t, 384, expectedClusters)

	usedSectors := info0.FreeSectors - info1.FreeSectors
	require.EqualValues(t, expectedClusters*8, usedSectors)

	h2, err := m.Open(testLUN, "/large.bin", fat.IOFlagRead)
	require.NoError(t, err)
	got := make([]byte, size)
	total := 0
	for total < size {
		nn, rerr := m.Read(h2, got[total:])
		total += nn
		if rerr != nil {
			break
		}
	}
	require.Equal(t, data, got)
	require.NoError(t, m.Close(h2))
}

// TestDeleteFileRemovesListing implements spec §8's delete + relist
// invariant, including the "no dangling LFN slots" check via round-tripping
// the directory enumeration.
func TestDeleteFileRemovesListing(t *testing.T) {
	m := newFAT16Volume(t)

	const total = 20
	for i := 0; i < total; i++ {
		path := fileName(i)
		h, err := m.Create(testLUN, path)
		require.NoError(t, err)
		_, err = m.Write(h, bytes.Repeat([]byte{byte(i)}, 1024))
		require.NoError(t, err)
		require.NoError(t, m.Close(h))
	}

	require.Equal(t, total, countMatches(t, m, "*.bin"))

	for i := 0; i < total; i += 2 {
		require.NoError(t, m.DeleteFile(testLUN, fileName(i)))
	}

	names := listNames(t, m, "*.bin")
	require.Len(t, names, total/2)
	for i := 0; i < total; i += 2 {
		require.NotContains(t, names, fileNameLeaf(i))
	}
}

func fileName(i int) string { return "/" + fileNameLeaf(i) }

func fileNameLeaf(i int) string {
	digits := []byte{byte('0' + i/100), byte('0' + (i/10)%10), byte('0' + i%10)}
	return "f" + string(digits) + ".bin"
}

func countMatches(t *testing.T, m *fat.Manager, pattern string) int {
	t.Helper()
	return len(listNames(t, m, pattern))
}

func listNames(t *testing.T, m *fat.Manager, pattern string) []string {
	t.Helper()
	var names []string
	h, info, err := m.FindFirst(testLUN, "/", pattern)
	if err == fserr.FileNotFound {
		return nil
	}
	require.NoError(t, err)
	defer m.CloseFind(h)

	for info != nil {
		names = append(names, info.Name)
		info, err = m.FindNext(h)
		if err != nil {
			require.ErrorIs(t, err, fserr.FileNotFound)
			break
		}
	}
	return names
}

// TestCreateDirectoryAndDotEntries exercises create_directory and verifies
// "." and ".." resolve sensibly.
func TestCreateDirectoryAndDotEntries(t *testing.T) {
	m := newFAT16Volume(t)

	require.NoError(t, m.CreateDirectory(testLUN, "/sub"))
	attrs, err := m.GetFileAttributes(testLUN, "/sub")
	require.NoError(t, err)
	require.NotZero(t, attrs&fat.AttrDirectory)

	h, err := m.Create(testLUN, "/sub/inner.txt")
	require.NoError(t, err)
	_, err = m.Write(h, []byte("nested"))
	require.NoError(t, err)
	require.NoError(t, m.Close(h))

	h2, err := m.Open(testLUN, "/sub/inner.txt", fat.IOFlagRead)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := m.Read(h2, buf)
	require.NoError(t, err)
	require.Equal(t, "nested", string(buf[:n]))
	require.NoError(t, m.Close(h2))
}

// TestFormatIdempotence implements spec §8's "format followed by listing
// the root yields an empty directory".
func TestFormatIdempotence(t *testing.T) {
	m := newFAT16Volume(t)
	names := listNames(t, m, "*")
	require.Empty(t, names)
}

// TestFreeClusterCountLaw implements spec §8's free-count law across a
// series of creates and deletes.
func TestFreeClusterCountLaw(t *testing.T) {
	m := newFAT16Volume(t)

	before, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)

	sizes := []int{100, 1024, 4097, 0}
	var paths []string
	for i, size := range sizes {
		path := fileName(i)
		paths = append(paths, path)
		h, err := m.Create(testLUN, path)
		require.NoError(t, err)
		if size > 0 {
			_, err = m.Write(h, bytes.Repeat([]byte{1}, size))
			require.NoError(t, err)
		}
		require.NoError(t, m.Close(h))
	}

	after, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)

	var usedSectors uint64
	for _, size := range sizes {
		clusters := (uint64(size) + 511) / 512
		usedSectors += clusters // 1 sector per cluster on this volume
	}
	require.Equal(t, before.FreeSectors-usedSectors, after.FreeSectors)

	for _, p := range paths {
		require.NoError(t, m.DeleteFile(testLUN, p))
	}

	final, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)
	require.Equal(t, before.FreeSectors, final.FreeSectors)
}

// TestFileExistsAndNotFound covers file_exists' true/false/error contract.
func TestFileExistsAndNotFound(t *testing.T) {
	m := newFAT16Volume(t)

	ok, err := m.FileExists(testLUN, "/nope.txt")
	require.NoError(t, err)
	require.False(t, ok)

	h, err := m.Create(testLUN, "/yep.txt")
	require.NoError(t, err)
	require.NoError(t, m.Close(h))

	ok, err = m.FileExists(testLUN, "/yep.txt")
	require.NoError(t, err)
	require.True(t, ok)
}

// TestFAT12IsReadOnly implements the spec's Non-goal: FAT12 write support is
// absent.
func TestFAT12IsReadOnly(t *testing.T) {
	dev := fattesting.NewBlankImage(t, 2880)
	require.NoError(t, fat.Format(dev, 2880, fat.FormatOptions{
		RequestedType:     fat.FAT12,
		SectorsPerCluster: 1,
		NumFATs:           2,
		RootEntryCount:    224,
	}))

	m := fat.NewManager(8, 2)
	require.NoError(t, m.Attach(testLUN, dev))

	info, err := m.GetVolumeInfo(testLUN)
	require.NoError(t, err)
	require.Equal(t, fat.FAT12, info.Type)

	h, err := m.Create(testLUN, "/a.txt")
	require.NoError(t, err)
	_, err = m.Write(h, []byte("x"))
	require.ErrorIs(t, err, fserr.NotSupported)
	require.NoError(t, m.Close(h))
}
