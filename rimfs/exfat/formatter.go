package exfat

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Formatter lays down a fresh exFAT volume: the 12-sector boot region
// (VBR, 8 extended boot sectors, OEM/reserved sectors, checksum
// sector) plus its backup copy, the FAT, the allocation bitmap, the
// up-case table, and a root directory holding the two mandatory
// system entries (Bitmap, Up-case) plus an optional volume label. Grounded on the
// teacher's fat32 Formatter sequencing, generalized to exFAT's richer
// boot region and explicit bitmap.
type Formatter struct {
	rio   rimio.RimIO
	meta  Meta
	label string
}

func NewFormatter(rio rimio.RimIO, meta Meta, label string) *Formatter {
	return &Formatter{rio: rio, meta: meta, label: label}
}

func (f *Formatter) buildMainVBR() rawVBR {
	return rawVBR{
		JumpBoot:                    exfatJumpBoot,
		FSName:                      exfatFSName,
		VolumeLength:                f.meta.volumeLength,
		FatOffset:                   f.meta.fatOffsetSectors,
		FatLength:                   f.meta.fatLengthSectors,
		ClusterHeapOffset:           f.meta.clusterHeapOffset,
		ClusterCount:                f.meta.clusterCount,
		FirstClusterOfRootDirectory: f.meta.rootCluster,
		VolumeSerialNumber:          f.meta.volumeSerial,
		FileSystemRevision:          0x0100,
		BytesPerSectorShift:         f.meta.bytesPerSectorShift,
		SectorsPerClusterShift:      f.meta.spcShift,
		NumberOfFats:                NumFats,
		DriveSelect:                 0x80,
		Signature:                   bootSignature,
	}
}

// writeBootRegion assembles the 12-sector boot region, stamps its
// checksum sector, and writes it twice: once at sector 0 and once at
// the backup offset.
func (f *Formatter) writeBootRegion() error {
	main := f.buildMainVBR()
	mainBuf := packVBR(&main)

	ex := rawExBootSector{Signature: bootSignature}
	exBuf := make([]byte, vbrSize)
	packEntryFull(&ex, exBuf)

	oemBuf := make([]byte, vbrSize)   // OEM parameters: no signature, per spec.
	reservedBuf := make([]byte, vbrSize)

	sectors := make([][]byte, 0, int(bootRegionSectors))
	sectors = append(sectors, mainBuf)
	for i := 0; i < 8; i++ {
		sectors = append(sectors, exBuf)
	}
	sectors = append(sectors, oemBuf, reservedBuf)

	var chk uint32
	for i, s := range sectors {
		chk = accumulateVBRChecksum(chk, s, i == 0)
	}
	chkBuf := make([]byte, vbrSize)
	for i := 0; i < vbrSize; i += 4 {
		chkBuf[i] = byte(chk)
		chkBuf[i+1] = byte(chk >> 8)
		chkBuf[i+2] = byte(chk >> 16)
		chkBuf[i+3] = byte(chk >> 24)
	}
	sectors = append(sectors, chkBuf)

	bps := uint64(f.meta.bytesPerSector)
	for i, s := range sectors {
		if err := f.rio.WriteAt(uint64(i)*bps, s); err != nil {
			return wrap("write_boot_region", err)
		}
		if err := f.rio.WriteAt((vbrBackupSector+uint64(i))*bps, s); err != nil {
			return wrap("write_boot_region_backup", err)
		}
	}
	return nil
}

// writeFATRegion seeds FAT[0]/FAT[1] with the media descriptor/EOC
// pair and zero-fills the rest; per-cluster entries for the system
// objects and later allocations are written by allocateSystemRange /
// the Allocator as they claim clusters.
func (f *Formatter) writeFATRegion() error {
	base := f.meta.fatRegionOffset()
	size := int(f.meta.fatLengthSectors) * int(f.meta.bytesPerSector)
	if err := rimio.ZeroFill(f.rio, base, size); err != nil {
		return wrap("write_fat_region", err)
	}
	if err := rimio.WriteU32At(f.rio, base+0, uint32(MediaDescriptor)|0xFFFFFF00); err != nil {
		return wrap("write_fat_region", err)
	}
	if err := rimio.WriteU32At(f.rio, base+EntrySize, EOC); err != nil {
		return wrap("write_fat_region", err)
	}
	return nil
}

func (f *Formatter) zeroBitmap() error {
	return rimio.ZeroFill(f.rio, f.meta.UnitOffset(f.meta.bitmapCluster), int(f.meta.bitmapClusters)*int(f.meta.UnitSize()))
}

// allocateSystemRange writes a sequential FAT chain over
// [start, start+count) and marks each cluster used in the bitmap — the
// formatter-time equivalent of Allocator.AllocateChain for the three
// mandatory objects, which live below FirstDataUnit and so are never
// handed out by the Allocator itself.
func allocateSystemRange(rio rimio.RimIO, meta Meta, start, count uint32) error {
	for i := uint32(0); i < count; i++ {
		cl := start + i
		off, bit := meta.BitmapBitOffset(cl)
		var b [1]byte
		if err := rio.ReadAt(off, b[:]); err != nil {
			return err
		}
		b[0] |= 1 << bit
		if err := rio.WriteAt(off, b[:]); err != nil {
			return err
		}
		next := meta.EOC()
		if i < count-1 {
			next = cl + 1
		}
		if err := rimfs.WriteFatEntry(rio, meta, cl, next); err != nil {
			return err
		}
	}
	return nil
}

func (f *Formatter) writeUpcaseTable() error {
	table := buildUpcaseTable()
	cur := rimfs.NewClusterCursor(f.meta, f.meta.upcaseCluster)
	var written int
	unitSize := int(f.meta.UnitSize())
	return cur.ForEachRun(f.rio, func(rio rimio.RimIO, start, length uint32) error {
		runBytes := int(length) * unitSize
		chunk := make([]byte, runBytes)
		if written < len(table) {
			n := copy(chunk, table[written:])
			written += n
		}
		return rio.WriteAt(f.meta.UnitOffset(start), chunk)
	})
}

// writeRootDir writes the root directory's mandatory Bitmap and Upcase
// entries, an optional VolumeLabel entry, then the EOD marker, into
// the root directory's first cluster.
func (f *Formatter) writeRootDir() error {
	buf := make([]byte, f.meta.UnitSize())
	off := 0

	bitmapEnt := rawBitmapEntry{
		EntryType:    entryBitmap,
		FirstCluster: f.meta.bitmapCluster,
		DataLength:   f.meta.BitmapSizeBytes(),
	}
	packEntry(&bitmapEnt, buf[off:off+sizeDirEntry])
	off += sizeDirEntry

	upcaseEnt := rawUpcaseEntry{
		EntryType:     entryUpcase,
		TableChecksum: upcaseTableChecksum(buildUpcaseTable()),
		FirstCluster:  f.meta.upcaseCluster,
		DataLength:    upcaseTableLength,
	}
	packEntry(&upcaseEnt, buf[off:off+sizeDirEntry])
	off += sizeDirEntry

	if f.label != "" {
		labelEnt := volumeLabelEntry(f.label)
		packEntry(&labelEnt, buf[off:off+sizeDirEntry])
		off += sizeDirEntry
	}
	// Remaining bytes of the buffer are already zero, which doubles as
	// the EOD (0x00) marker.

	return f.rio.WriteAt(f.meta.UnitOffset(f.meta.rootCluster), buf)
}

// zeroClusterHeap overwrites every data cluster beyond the root with
// zeros; only done on a full format.
func (f *Formatter) zeroClusterHeap() error {
	start := f.meta.FirstDataUnit()
	last := f.meta.LastDataUnit()
	if start > last {
		return nil
	}
	off := f.meta.UnitOffset(start)
	size := int(last-start+1) * int(f.meta.UnitSize())
	return rimio.ZeroFill(f.rio, off, size)
}

// Format writes a complete fresh exFAT volume. fullFormat additionally
// zeros the entire cluster heap beyond the three system objects.
func Format(rio rimio.RimIO, meta Meta, label string, fullFormat bool) error {
	f := NewFormatter(rio, meta, label)

	if err := f.writeBootRegion(); err != nil {
		return err
	}
	if err := f.writeFATRegion(); err != nil {
		return err
	}
	if err := f.zeroBitmap(); err != nil {
		return wrap("format", err)
	}
	if err := allocateSystemRange(rio, meta, meta.bitmapCluster, meta.bitmapClusters); err != nil {
		return wrap("format", err)
	}
	if err := allocateSystemRange(rio, meta, meta.upcaseCluster, meta.upcaseClusters); err != nil {
		return wrap("format", err)
	}
	if err := allocateSystemRange(rio, meta, meta.rootCluster, 1); err != nil {
		return wrap("format", err)
	}
	if err := f.writeUpcaseTable(); err != nil {
		return err
	}
	if fullFormat {
		if err := f.zeroClusterHeap(); err != nil {
			return err
		}
	}
	if err := f.writeRootDir(); err != nil {
		return err
	}
	return rio.Flush()
}
