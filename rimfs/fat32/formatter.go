package fat32

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Formatter lays down a fresh FAT32 volume: VBR + backup, FSINFO +
// backup, both FAT copies, and a root directory holding only the
// volume label and an end marker. Grounded on the teacher's
// write_vbr/write_fsinfo/write_fat_region/write_root_dir_cluster
// sequence.
type Formatter struct {
	rio   rimio.RimIO
	meta  Meta
	label string
}

func NewFormatter(rio rimio.RimIO, meta Meta, label string) *Formatter {
	return &Formatter{rio: rio, meta: meta, label: label}
}

func labelBytes(label string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	copy(out[:], label)
	return out
}

func (f *Formatter) writeVBR() error {
	v := vbr{
		bytesPerSector:    uint16(f.meta.bytesPerSector),
		sectorsPerCluster: uint8(f.meta.sectorsPerCluster),
		reservedSectors:   uint16(f.meta.reservedSectors),
		numFats:           f.meta.numFatsVal,
		mediaDescriptor:   MediaDescriptor,
		sectorsPerFAT32:   f.meta.sectorsPerFAT,
		rootCluster:       f.meta.rootClusterVal,
		fsInfoSector:      uint16(fsInfoSector),
		backupBootSector:  uint16(vbrBackupSector),
		totalSectors32:    f.meta.totalSectors,
		volumeID:          0x12345678,
		volumeLabel:       labelBytes(f.label),
		fsType:            fsTypeLabel,
	}
	buf := make([]byte, vbrSize)
	v.encode(buf)
	if err := f.rio.WriteAt(vbrSector*uint64(f.meta.bytesPerSector), buf); err != nil {
		return wrap("write_vbr", err)
	}
	if err := f.rio.WriteAt(vbrBackupSector*uint64(f.meta.bytesPerSector), buf); err != nil {
		return wrap("write_vbr_backup", err)
	}
	return nil
}

func (f *Formatter) writeFSInfo() error {
	info := fsInfo{
		freeCount: f.meta.clusterCount() - 1,
		nextFree:  FirstCluster + 1,
	}
	buf := make([]byte, fsInfoSize)
	info.encode(buf)
	sector := uint64(f.meta.bytesPerSector)
	if err := f.rio.WriteAt(fsInfoSector*sector, buf); err != nil {
		return wrap("write_fsinfo", err)
	}
	if err := f.rio.WriteAt(fsInfoBackupSector*sector, buf); err != nil {
		return wrap("write_fsinfo_backup", err)
	}
	return nil
}

// writeFATRegion seeds FAT[0]/FAT[1] with the media descriptor/EOC
// pair, reserves the root cluster as EOC, and zero-fills the rest of
// every mirrored FAT copy.
func (f *Formatter) writeFATRegion() error {
	for fatIdx := uint8(0); fatIdx < f.meta.numFatsVal; fatIdx++ {
		base := f.meta.fatRegionOffset() + uint64(fatIdx)*f.meta.fatRegionSize()
		if err := rimio.ZeroFill(f.rio, base, int(f.meta.fatRegionSize())); err != nil {
			return wrap("write_fat_region", err)
		}

		entry0 := uint32(MediaDescriptor) | 0x0FFFFF00
		if err := rimio.WriteU32At(f.rio, base+0, entry0); err != nil {
			return wrap("write_fat_region", err)
		}
		if err := rimio.WriteU32At(f.rio, base+EntrySize, EOC); err != nil {
			return wrap("write_fat_region", err)
		}
	}
	return rimfs.WriteFatEntry(f.rio, f.meta, f.meta.rootClusterVal, EOC)
}

// writeRootDirCluster writes the volume label entry followed by the
// EOD marker into the root directory's first (and only, at format
// time) cluster.
func (f *Formatter) writeRootDirCluster() error {
	off := f.meta.UnitOffset(f.meta.rootClusterVal)
	buf := make([]byte, f.meta.UnitSize())

	if f.label != "" {
		vol := volumeLabelEntry(labelBytes(f.label))
		vol.encodeInto(buf[0:sizeDirEntry])
	}
	return f.rio.WriteAt(off, buf)
}

// zeroClusterHeap overwrites every data cluster beyond the root with
// zeros; only done on a full format, since a quick format leaves
// stale data in place under an empty FAT the way real tools do.
func (f *Formatter) zeroClusterHeap() error {
	start := f.meta.rootClusterVal + 1
	last := f.meta.LastDataUnit()
	if start > last {
		return nil
	}
	off := f.meta.UnitOffset(start)
	size := int(last-start+1) * int(f.meta.UnitSize())
	return rimio.ZeroFill(f.rio, off, size)
}

// Format writes a complete fresh FAT32 volume. fullFormat additionally
// zeros the entire cluster heap beyond the root directory.
func Format(rio rimio.RimIO, meta Meta, label string, fullFormat bool) error {
	f := NewFormatter(rio, meta, label)

	if err := f.writeVBR(); err != nil {
		return err
	}
	if err := f.writeFSInfo(); err != nil {
		return err
	}
	if err := f.writeFATRegion(); err != nil {
		return err
	}
	if fullFormat {
		if err := f.zeroClusterHeap(); err != nil {
			return err
		}
	}
	if err := f.writeRootDirCluster(); err != nil {
		return err
	}
	return rio.Flush()
}
