package exfat

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Meta is the exFAT addressing geometry: sector/cluster sizes, FAT and
// cluster heap offsets, and the cluster numbers of the three mandatory
// system objects (allocation bitmap, up-case table, root directory).
// It implements rimfs.ClusterMeta so the shared cursor, tracker and
// chain helpers work unmodified against an exFAT volume.
type Meta struct {
	bytesPerSector      uint32
	bytesPerSectorShift uint8
	sectorsPerCluster   uint32
	spcShift            uint8
	fatOffsetSectors    uint32
	fatLengthSectors    uint32
	clusterHeapOffset   uint32
	clusterCount        uint32
	volumeLength         uint64
	volumeSerial        uint32

	bitmapCluster  uint32
	bitmapClusters uint32
	upcaseCluster  uint32
	upcaseClusters uint32
	rootCluster    uint32

	label string
}

var _ rimfs.ClusterMeta = Meta{}

// clusterShiftFor mirrors the classic exFAT size class table: small
// volumes use a 4 KiB cluster, mid-size volumes 32 KiB, large volumes
// 128 KiB, expressed as a shift on top of the 512-byte sector.
func clusterShiftFor(sizeBytes uint64) uint8 {
	mb := sizeBytes / (1 << 20)
	switch {
	case mb < 256:
		return 3 // 4 KiB
	case mb < 32<<10:
		return 6 // 32 KiB
	default:
		return 8 // 128 KiB
	}
}

func ceilDivU64(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// NewMeta computes exFAT geometry for a volume of sizeBytes, solving
// the FAT size iteratively (it depends on the cluster count, which
// depends on the FAT size) the same way fat32.NewMeta does, then
// laying the three system objects out back-to-back from the first
// heap cluster: bitmap, up-case table, root directory.
func NewMeta(sizeBytes uint64, label string) Meta {
	bps := defaultBytesPerSector
	spcShift := clusterShiftFor(sizeBytes)
	spc := uint32(1) << spcShift

	reservedSectors := uint32(2 * bootRegionSectors)
	totalSectors := uint32(sizeBytes / uint64(bps))
	dataSectors := totalSectors - reservedSectors

	fatSectors := uint32(1)
	for i := 0; i < 8; i++ {
		usable := dataSectors - fatSectors
		clusters := usable / spc
		need := uint32(ceilDivU64(uint64(clusters+2)*EntrySize, uint64(bps)))
		if need == fatSectors {
			break
		}
		fatSectors = need
	}

	clusterHeapOffsetSectors := reservedSectors + fatSectors
	clusterCount := (totalSectors - clusterHeapOffsetSectors) / spc

	clusterBytes := uint64(spc) * uint64(bps)
	bitmapBytes := ceilDivU64(uint64(clusterCount), 8)
	bitmapClusters := uint32(ceilDivU64(bitmapBytes, clusterBytes))
	if bitmapClusters == 0 {
		bitmapClusters = 1
	}
	upcaseClusters := uint32(ceilDivU64(upcaseTableLength, clusterBytes))
	if upcaseClusters == 0 {
		upcaseClusters = 1
	}

	bitmapCluster := FirstCluster
	upcaseCluster := bitmapCluster + bitmapClusters
	rootCluster := upcaseCluster + upcaseClusters

	return Meta{
		bytesPerSector:      bps,
		bytesPerSectorShift: bytesPerSectorShift,
		sectorsPerCluster:   spc,
		spcShift:            spcShift,
		fatOffsetSectors:    reservedSectors,
		fatLengthSectors:    fatSectors,
		clusterHeapOffset:   clusterHeapOffsetSectors,
		clusterCount:        clusterCount,
		volumeLength:        uint64(totalSectors),
		volumeSerial:        0x12345678,
		bitmapCluster:       bitmapCluster,
		bitmapClusters:      bitmapClusters,
		upcaseCluster:       upcaseCluster,
		upcaseClusters:      upcaseClusters,
		rootCluster:         rootCluster,
		label:               label,
	}
}

func metaFromVBR(v rawVBR, bitmapCluster, upcaseCluster, rootCluster, bitmapClusters, upcaseClusters uint32, label string) Meta {
	return Meta{
		bytesPerSector:      uint32(1) << v.BytesPerSectorShift,
		bytesPerSectorShift: v.BytesPerSectorShift,
		sectorsPerCluster:   uint32(1) << v.SectorsPerClusterShift,
		spcShift:            v.SectorsPerClusterShift,
		fatOffsetSectors:    v.FatOffset,
		fatLengthSectors:    v.FatLength,
		clusterHeapOffset:   v.ClusterHeapOffset,
		clusterCount:        v.ClusterCount,
		volumeLength:        v.VolumeLength,
		volumeSerial:        v.VolumeSerialNumber,
		bitmapCluster:       bitmapCluster,
		bitmapClusters:      bitmapClusters,
		upcaseCluster:       upcaseCluster,
		upcaseClusters:      upcaseClusters,
		rootCluster:         rootCluster,
		label:               label,
	}
}

func (m Meta) fatRegionOffset() uint64 { return uint64(m.fatOffsetSectors) * uint64(m.bytesPerSector) }
func (m Meta) clusterHeapOffsetBytes() uint64 {
	return uint64(m.clusterHeapOffset) * uint64(m.bytesPerSector)
}

// UnitSize returns the cluster size in bytes.
func (m Meta) UnitSize() uint32 { return m.sectorsPerCluster * m.bytesPerSector }

// UnitOffset returns the absolute byte offset of cluster u.
func (m Meta) UnitOffset(u uint32) uint64 {
	return m.clusterHeapOffsetBytes() + uint64(u-FirstCluster)*uint64(m.UnitSize())
}

func (m Meta) RootUnit() uint32 { return m.rootCluster }

// FirstDataUnit is the first cluster available to user files and
// directories, past the three mandatory system objects. Unlike the
// original's fixed system-cluster constants, this package derives
// bitmap/up-case/root sizes from the volume's actual geometry, so
// FirstDataUnit is computed rather than hardcoded.
func (m Meta) FirstDataUnit() uint32 { return m.rootCluster + 1 }
func (m Meta) LastDataUnit() uint32  { return FirstCluster + m.clusterCount - 1 }
func (m Meta) TotalUnits() uint32    { return m.clusterCount }
func (m Meta) SizeBytes() uint64     { return m.volumeLength * uint64(m.bytesPerSector) }
func (m Meta) Label() string         { return m.label }

func (m Meta) EOC() uint32          { return EOC }
func (m Meta) FirstCluster() uint32 { return FirstCluster }
func (m Meta) EntrySize() int       { return EntrySize }
func (m Meta) EntryMask() uint32    { return EntryMask }
func (m Meta) NumFats() uint8       { return NumFats }

func (m Meta) FatEntryOffset(cluster uint32, fatIndex uint8) uint64 {
	return m.fatRegionOffset() + uint64(fatIndex)*uint64(m.fatLengthSectors)*uint64(m.bytesPerSector) + uint64(cluster)*EntrySize
}

func (m Meta) IsEOC(cluster uint32) bool { return cluster >= 0xFFFFFFF8 }

// BitmapCluster/BitmapClusters/UpcaseCluster/UpcaseClusters
// expose the system objects' layout to the formatter, injector and
// checker without forcing every caller to re-derive it.
func (m Meta) BitmapCluster() uint32  { return m.bitmapCluster }
func (m Meta) BitmapClusters() uint32 { return m.bitmapClusters }
func (m Meta) UpcaseCluster() uint32  { return m.upcaseCluster }
func (m Meta) UpcaseClusters() uint32 { return m.upcaseClusters }

// BitmapBitOffset returns the absolute byte offset of the byte holding
// cluster's bit in the on-disk allocation bitmap.
func (m Meta) BitmapBitOffset(cluster uint32) (byteOffset uint64, bit uint8) {
	idx := cluster - FirstCluster
	return m.UnitOffset(m.bitmapCluster) + uint64(idx/8), uint8(idx % 8)
}

// BitmapSizeBytes is the number of bytes the allocation bitmap needs
// to cover every cluster in the heap.
func (m Meta) BitmapSizeBytes() uint64 {
	return ceilDivU64(uint64(m.clusterCount), 8)
}

// LoadMeta reads the main VBR of an already-formatted volume, then
// scans the root directory's first cluster for the Bitmap/Upcase
// system entries to recover their cluster locations — the exFAT
// analogue of fat32.LoadMeta, since exFAT's root location is itself
// carried in the VBR but the other two system objects are not.
func LoadMeta(rio rimio.RimIO, label string) (Meta, error) {
	buf := make([]byte, vbrSize)
	if err := rio.ReadAt(vbrSector*uint64(defaultBytesPerSector), buf); err != nil {
		return Meta{}, wrap("load_meta", err)
	}
	raw, err := decodeVBR(buf)
	if err != nil {
		return Meta{}, wrap("load_meta", err)
	}

	partial := metaFromVBR(raw, 0, 0, raw.FirstClusterOfRootDirectory, 0, 0, label)
	bitmapCluster, upcaseCluster, bitmapLen, upcaseLen, err := scanRootForSystemObjects(rio, partial)
	if err != nil {
		return Meta{}, wrap("load_meta", err)
	}
	clusterBytes := uint64(partial.UnitSize())
	bitmapClusters := uint32(ceilDivU64(bitmapLen, clusterBytes))
	upcaseClusters := uint32(ceilDivU64(upcaseLen, clusterBytes))

	return metaFromVBR(raw, bitmapCluster, upcaseCluster, raw.FirstClusterOfRootDirectory, bitmapClusters, upcaseClusters, label), nil
}

// scanRootForSystemObjects linearly scans the root directory's first
// cluster for the Bitmap (0x81) and Upcase (0x82) entries, returning
// their cluster numbers and declared byte lengths.
func scanRootForSystemObjects(rio rimio.RimIO, m Meta) (bitmapCluster, upcaseCluster uint32, bitmapLen, upcaseLen uint64, err error) {
	buf := make([]byte, m.UnitSize())
	if readErr := rio.ReadAt(m.UnitOffset(m.RootUnit()), buf); readErr != nil {
		return 0, 0, 0, 0, readErr
	}
	for off := 0; off+sizeDirEntry <= len(buf); off += sizeDirEntry {
		raw := buf[off : off+sizeDirEntry]
		switch raw[0] {
		case entryBitmap:
			var e rawBitmapEntry
			unpackEntry(raw, &e)
			bitmapCluster, bitmapLen = e.FirstCluster, e.DataLength
		case entryUpcase:
			var e rawUpcaseEntry
			unpackEntry(raw, &e)
			upcaseCluster, upcaseLen = e.FirstCluster, e.DataLength
		case entryEOD:
			return
		}
	}
	return
}
