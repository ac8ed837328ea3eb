package exfat

import (
	"bytes"
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// CheckOptions tunes how thoroughly Checker inspects a volume. The
// defaults favor a fast, shallow pass; a full audit opts into the
// deep/reachability passes explicitly.
type CheckOptions struct {
	FailFast bool

	FATSampleSize int
	DeepFATWalk   bool

	WalkReachability  bool
	MaxDirs           int
	MaxEntriesPerDir  int
	OrphanSampleLimit int
}

// DefaultCheckOptions matches the teacher's fast_check posture: boot
// plus a light FAT sample, no deep walk.
func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		FailFast:          true,
		FATSampleSize:     64,
		OrphanSampleLimit: 32,
		MaxDirs:           4096,
		MaxEntriesPerDir:  8192,
	}
}

// Checker inspects a formatted exFAT volume without mutating it.
type Checker struct {
	rio  rimio.RimIO
	meta Meta
	opts CheckOptions
}

func NewChecker(rio rimio.RimIO, meta Meta, opts CheckOptions) *Checker {
	return &Checker{rio: rio, meta: meta, opts: opts}
}

// CheckBoot validates the main VBR's signature/FSName, BPB geometry
// sanity, the 12-sector boot region checksum, and that the backup boot
// region (sector 12 onward) is byte-identical to the main one besides
// the volatile VolumeFlags/PercentInUse fields.
func (c *Checker) CheckBoot(rep *rimfs.Report) error {
	bps := uint64(c.meta.bytesPerSector)

	mainBuf := make([]byte, vbrSize)
	if err := c.rio.ReadAt(vbrSector*bps, mainBuf); err != nil {
		return wrap("check_boot", err)
	}
	v, err := decodeVBR(mainBuf)
	if err != nil {
		rep.Error("BOOT", err.Error())
		return nil
	}
	if v.NumberOfFats == 0 {
		rep.Error("BOOT", "number of FATs is zero")
	}
	if v.ClusterCount == 0 {
		rep.Error("BOOT", "cluster count is zero")
	}
	if v.FatLength == 0 {
		rep.Error("BOOT", "FAT length is zero")
	}
	if v.ClusterHeapOffset <= v.FatOffset+v.FatLength {
		rep.Error("BOOT", "cluster heap offset does not fall after the FAT region")
	}
	if v.VolumeLength*uint64(1<<v.BytesPerSectorShift) < c.meta.SizeBytes() {
		rep.Warn("BOOT", "VBR volume length does not cover the reported volume size")
	}

	var chk uint32
	sectors := make([][]byte, 0, int(bootRegionSectors))
	sectors = append(sectors, mainBuf)
	for i := uint64(1); i < bootRegionSectors-1; i++ {
		buf := make([]byte, vbrSize)
		if err := c.rio.ReadAt(i*bps, buf); err != nil {
			return wrap("check_boot", err)
		}
		sectors = append(sectors, buf)
	}
	for i, s := range sectors {
		chk = accumulateVBRChecksum(chk, s, i == 0)
	}
	chkBuf := make([]byte, vbrSize)
	if err := c.rio.ReadAt((bootRegionSectors-1)*bps, chkBuf); err != nil {
		return wrap("check_boot", err)
	}
	storedChk := uint32(chkBuf[0]) | uint32(chkBuf[1])<<8 | uint32(chkBuf[2])<<16 | uint32(chkBuf[3])<<24
	if storedChk != chk {
		rep.Error("BOOT", "boot region checksum does not match its stored value")
	}

	backupMain := make([]byte, vbrSize)
	if err := c.rio.ReadAt(vbrBackupSector*bps, backupMain); err != nil {
		return wrap("check_boot", err)
	}
	if _, err := decodeVBR(backupMain); err != nil {
		rep.Warn("BOOT", "backup boot sector failed validation")
	} else {
		for i := range mainBuf {
			if i == 106 || i == 107 || i == 112 {
				continue
			}
			if mainBuf[i] != backupMain[i] {
				rep.Warn("BOOT", "backup boot sector diverges from the main boot sector")
				break
			}
		}
	}
	for i := uint64(1); i < bootRegionSectors; i++ {
		want := chkBuf
		if i < bootRegionSectors-1 {
			want = sectors[i]
		}
		buf := make([]byte, vbrSize)
		if err := c.rio.ReadAt((vbrBackupSector+i)*bps, buf); err != nil {
			return wrap("check_boot", err)
		}
		if !bytes.Equal(buf, want) {
			rep.Warn("BOOT", fmt.Sprintf("backup boot region sector %d diverges from the main boot region", i))
			break
		}
	}

	rep.Info("BOOT", "boot region checksum and backup copy verified")
	return nil
}

// CheckChain samples FAT entries for obvious out-of-range pointers.
func (c *Checker) CheckChain(rep *rimfs.Report) error {
	last := c.meta.LastDataUnit()
	limit := c.opts.FATSampleSize
	if limit <= 0 || c.opts.DeepFATWalk {
		limit = int(c.meta.TotalUnits())
	}

	checked := 0
	for cl := c.meta.FirstCluster(); cl <= last && checked < limit; cl, checked = cl+1, checked+1 {
		v, err := rimio.ReadU32At(c.rio, c.meta.FatEntryOffset(cl, 0))
		if err != nil {
			return wrap("check_chain", err)
		}
		v &= c.meta.EntryMask()
		if v != 0 && v != BadCluster && !c.meta.IsEOC(v) && (v < c.meta.FirstCluster() || v > last) {
			rep.Error("CHAIN", fmt.Sprintf("cluster %d's FAT entry points outside the volume (%#x)", cl, v))
			if c.opts.FailFast {
				return nil
			}
		}
	}

	rep.Info("CHAIN", fmt.Sprintf("sampled %d FAT entries", checked))
	return nil
}

// CheckRoot scans the root directory's first cluster for the
// mandatory Bitmap/Upcase entries, verifies the up-case table's stored
// checksum against its actual on-disk contents, and optionally walks
// the reachable tree.
func (c *Checker) CheckRoot(rep *rimfs.Report) error {
	buf := make([]byte, c.meta.UnitSize())
	if err := c.rio.ReadAt(c.meta.UnitOffset(c.meta.RootUnit()), buf); err != nil {
		rep.Error("ROOT", "root directory is not readable")
		return nil
	}

	var sawBitmap, sawUpcase bool
	var upcaseChk uint32
	for off := 0; off+sizeDirEntry <= len(buf); off += sizeDirEntry {
		raw := buf[off : off+sizeDirEntry]
		switch raw[0] {
		case entryBitmap:
			sawBitmap = true
		case entryUpcase:
			var e rawUpcaseEntry
			unpackEntry(raw, &e)
			sawUpcase = true
			upcaseChk = e.TableChecksum
		case entryEOD:
			off = len(buf)
		}
	}
	if !sawBitmap {
		rep.Error("ROOT", "root directory is missing its mandatory Bitmap entry")
	}
	if !sawUpcase {
		rep.Error("ROOT", "root directory is missing its mandatory Upcase entry")
	} else {
		table, err := c.readUpcaseTable()
		if err != nil {
			return wrap("check_root", err)
		}
		if upcaseTableChecksum(table) != upcaseChk {
			rep.Error("ROOT", "up-case table does not match its stored checksum")
		}
	}

	if c.opts.WalkReachability {
		w := NewWalker(c.rio, c.meta, c.opts.MaxDirs, c.opts.MaxEntriesPerDir)
		if err := w.WalkFromRoot(rep); err != nil {
			return wrap("check_root", err)
		}
		if err := w.ReportOrphans(rep, c.opts.OrphanSampleLimit); err != nil {
			return wrap("check_root", err)
		}
	}

	rep.Info("ROOT", "root directory verified")
	return nil
}

func (c *Checker) readUpcaseTable() ([]byte, error) {
	cur := rimfs.NewClusterCursor(c.meta, c.meta.upcaseCluster)
	out := make([]byte, 0, upcaseTableLength)
	err := cur.ForEachRun(c.rio, func(rio rimio.RimIO, start, length uint32) error {
		n := int(length) * int(c.meta.UnitSize())
		buf := make([]byte, n)
		if err := rio.ReadAt(c.meta.UnitOffset(start), buf); err != nil {
			return err
		}
		out = append(out, buf...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uint64(len(out)) > upcaseTableLength {
		out = out[:upcaseTableLength]
	}
	return out, nil
}

// CheckCrossReference walks the reachable tree and compares it against
// the on-disk allocation bitmap — a real consistency check, unlike
// FAT32, which has no independent bitmap to cross-reference.
func (c *Checker) CheckCrossReference(rep *rimfs.Report) error {
	w := NewWalker(c.rio, c.meta, c.opts.MaxDirs, c.opts.MaxEntriesPerDir)
	if err := w.WalkFromRoot(rep); err != nil {
		return wrap("check_cross_reference", err)
	}

	onDisk := make([]byte, c.meta.BitmapSizeBytes())
	if err := c.rio.ReadAt(c.meta.UnitOffset(c.meta.bitmapCluster), onDisk); err != nil {
		return wrap("check_cross_reference", err)
	}

	orphans := w.tracker.CountOrphans(onDisk)
	if orphans > 0 {
		rep.Warn("CROSSREF", fmt.Sprintf("%d cluster(s) are allocated in the bitmap but unreachable from root", orphans))
		w.tracker.ForEachOrphan(onDisk, c.opts.OrphanSampleLimit, func(unit uint32) {
			rep.Warn("CROSSREF", fmt.Sprintf("orphan cluster %d", unit))
		})
	}
	return nil
}

// FastCheck runs Boot, Chain, Root, and CrossReference in sequence,
// stopping at the first phase that adds an Err finding when FailFast
// is set.
func (c *Checker) FastCheck() (*rimfs.Report, error) {
	rep := &rimfs.Report{}
	phases := []func(*rimfs.Report) error{c.CheckBoot, c.CheckChain, c.CheckRoot, c.CheckCrossReference}
	for _, phase := range phases {
		if err := phase(rep); err != nil {
			return rep, err
		}
		if c.opts.FailFast && rep.HasError() {
			return rep, nil
		}
	}
	return rep, nil
}
