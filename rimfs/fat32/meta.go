package fat32

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// defaultBytesPerSector matches every teacher-supported medium and is
// the only sector size rimgen's formatter emits.
const defaultBytesPerSector = 512

// Meta is the FAT32 addressing geometry: sector/cluster sizes, region
// offsets, and root location. It implements rimfs.ClusterMeta so the
// shared cursor, tracker and chain helpers work unmodified against a
// FAT32 volume.
type Meta struct {
	bytesPerSector    uint32
	sectorsPerCluster uint32
	reservedSectors   uint32
	sectorsPerFAT     uint32
	numFatsVal        uint8
	totalSectors      uint32
	rootClusterVal    uint32
	label             string
}

var _ rimfs.ClusterMeta = Meta{}

// sectorsPerClusterFor mirrors the classic Microsoft FAT32 sizing
// table (fatgen103), picking the smallest cluster that keeps the
// volume under roughly 2^28 clusters for its size class.
func sectorsPerClusterFor(sizeBytes uint64) uint32 {
	mb := sizeBytes / (1 << 20)
	switch {
	case mb < 260:
		return 1
	case mb < 8<<10:
		return 8
	case mb < 16<<10:
		return 16
	case mb < 32<<10:
		return 32
	default:
		return 64
	}
}

// NewMeta computes FAT32 geometry for a volume of sizeBytes, the way
// the formatter needs it before a single sector is written.
func NewMeta(sizeBytes uint64, label string) Meta {
	bps := uint32(defaultBytesPerSector)
	spc := sectorsPerClusterFor(sizeBytes)
	reserved := uint32(32)

	totalSectors := uint32(sizeBytes / uint64(bps))
	dataSectors := totalSectors - reserved

	// Solve sectorsPerFAT so that reserved + 2*fatSectors + clusterCount*spc
	// fits within totalSectors; iterate once from an optimistic estimate
	// then correct, since cluster count depends on fatSectors itself.
	fatSectors := uint32(1)
	for i := 0; i < 8; i++ {
		usable := dataSectors - 2*fatSectors
		clusters := usable / spc
		need := (clusters+2)*EntrySize + bps - 1
		need /= bps
		if need == fatSectors {
			break
		}
		fatSectors = need
	}

	return Meta{
		bytesPerSector:    bps,
		sectorsPerCluster: spc,
		reservedSectors:   reserved,
		sectorsPerFAT:     fatSectors,
		numFatsVal:        numFats,
		totalSectors:      totalSectors,
		rootClusterVal:    FirstCluster,
		label:             label,
	}
}

func metaFromVBR(v vbr, label string) Meta {
	return Meta{
		bytesPerSector:    uint32(v.bytesPerSector),
		sectorsPerCluster: uint32(v.sectorsPerCluster),
		reservedSectors:   uint32(v.reservedSectors),
		sectorsPerFAT:     v.sectorsPerFAT32,
		numFatsVal:        v.numFats,
		totalSectors:      v.totalSectors32,
		rootClusterVal:    v.rootCluster,
		label:             label,
	}
}

func (m Meta) fatRegionOffset() uint64 {
	return uint64(m.reservedSectors) * uint64(m.bytesPerSector)
}

func (m Meta) fatRegionSize() uint64 {
	return uint64(m.sectorsPerFAT) * uint64(m.bytesPerSector)
}

func (m Meta) dataRegionOffset() uint64 {
	return m.fatRegionOffset() + uint64(m.numFatsVal)*m.fatRegionSize()
}

func (m Meta) clusterCount() uint32 {
	dataSectors := m.totalSectors - m.reservedSectors - uint32(m.numFatsVal)*m.sectorsPerFAT
	return dataSectors / m.sectorsPerCluster
}

// UnitSize returns the cluster size in bytes.
func (m Meta) UnitSize() uint32 { return m.sectorsPerCluster * m.bytesPerSector }

// UnitOffset returns the absolute byte offset of cluster u.
func (m Meta) UnitOffset(u uint32) uint64 {
	return m.dataRegionOffset() + uint64(u-FirstCluster)*uint64(m.UnitSize())
}

func (m Meta) RootUnit() uint32      { return m.rootClusterVal }
func (m Meta) FirstDataUnit() uint32 { return FirstCluster }
func (m Meta) LastDataUnit() uint32  { return FirstCluster + m.clusterCount() - 1 }
func (m Meta) TotalUnits() uint32    { return m.clusterCount() }
func (m Meta) SizeBytes() uint64     { return uint64(m.totalSectors) * uint64(m.bytesPerSector) }
func (m Meta) Label() string         { return m.label }

func (m Meta) EOC() uint32          { return EOC }
func (m Meta) FirstCluster() uint32 { return FirstCluster }
func (m Meta) EntrySize() int       { return EntrySize }
func (m Meta) EntryMask() uint32    { return EntryMask }
func (m Meta) NumFats() uint8       { return m.numFatsVal }

func (m Meta) FatEntryOffset(cluster uint32, fatIndex uint8) uint64 {
	return m.fatRegionOffset() + uint64(fatIndex)*m.fatRegionSize() + uint64(cluster)*EntrySize
}

func (m Meta) IsEOC(cluster uint32) bool {
	return cluster&EntryMask >= EOCMin
}

// LoadMeta reads the boot sector of an already-formatted volume and
// reconstructs its geometry, the way the resolver and checker need it
// before they can address a single cluster.
func LoadMeta(rio rimio.RimIO, label string) (Meta, error) {
	buf := make([]byte, vbrSize)
	if err := rio.ReadAt(vbrSector*defaultBytesPerSector, buf); err != nil {
		return Meta{}, wrap("load_meta", err)
	}
	v, err := decodeVBR(buf)
	if err != nil {
		return Meta{}, wrap("load_meta", err)
	}
	return metaFromVBR(v, label), nil
}
