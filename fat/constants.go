package fat

// ClusterID identifies a cluster. Clusters 0 and 1 are reserved; valid data
// clusters are in [2, totalClusters+2) (spec §3 "Cluster numbering").
type ClusterID uint32

// SectorID is an absolute sector number, relative to the start of the
// device (not the volume).
type SectorID uint64

const (
	// freeCluster marks an entry as unused.
	freeCluster = ClusterID(0)

	eofMin12 = ClusterID(0xFF8)
	eofMin16 = ClusterID(0xFFF8)
	eofMin32 = ClusterID(0x0FFFFFF8)

	bad12 = ClusterID(0xFF7)
	bad16 = ClusterID(0xFFF7)
	bad32 = ClusterID(0x0FFFFFF7)

	fat32ClusterMask = ClusterID(0x0FFFFFFF)

	// eofMark is written when terminating a chain; FAT type determines which
	// width it's masked/truncated to on disk.
	eofMark = ClusterID(0x0FFFFFFF)

	// noCachedSector is the sentinel value for Volume.cachedFATSector
	// meaning "no sector is currently cached" (spec §3).
	noCachedSector = SectorID(^uint64(0))
)

// Directory entry byte-offset layout (spec §3 "Directory entry"). All
// multi-byte fields are little-endian.
const (
	direntSize = 32

	direntOffName           = 0
	direntOffExt            = 8
	direntOffAttr           = 11
	direntOffNTReserved     = 12
	direntOffCreateTimeTenth = 13
	direntOffCreateTime     = 14
	direntOffCreateDate     = 16
	direntOffAccessDate     = 18
	direntOffClusterHigh    = 20
	direntOffModifyTime     = 22
	direntOffModifyDate     = 24
	direntOffClusterLow     = 26
	direntOffFileSize       = 28

	direntFirstByteFree    = 0x00
	direntFirstByteErased  = 0xE5
	direntFirstByteEscE5   = 0x05
)

// Attribute flags (spec §3).
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20
	AttrLongName  = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID // 0x0F
)

// LFN slot byte-offset layout (spec §3 "LFN slot").
const (
	lfnOffSeq       = 0
	lfnOffChars1    = 1  // 5 UCS-2 units, offsets 1,3,5,7,9
	lfnOffAttr      = 11
	lfnOffType      = 12
	lfnOffChecksum  = 13
	lfnOffChars2    = 14 // 6 UCS-2 units, offsets 14,16,18,20,22,24
	lfnOffClusterLo = 26 // always 0
	lfnOffChars3    = 28 // 2 UCS-2 units, offsets 28,30

	lfnSeqFirstFlag = 0x40
	lfnSeqMask      = 0x1F
	lfnCharsPerSlot = 13
	lfnMaxSlots     = 20 // 15 per spec's stated deletion limit, +headroom for build
)

// lfnCharOffsets lists, in order, the 13 byte offsets of the UCS-2 code
// units within one LFN slot (spec §3).
var lfnCharOffsets = [lfnCharsPerSlot]int{1, 3, 5, 7, 9, 14, 16, 18, 20, 22, 24, 28, 30}
