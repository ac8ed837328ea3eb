package fat32

import (
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// CheckOptions tunes how thoroughly Checker inspects a volume. The
// defaults favor a fast, shallow pass; a full audit opts into the
// deep/sampled/reachability passes explicitly.
type CheckOptions struct {
	FailFast bool

	// FATSampleSize bounds how many entries CheckChain scans and compares
	// across FAT copies; DeepFATWalk (or a value <= 0) lifts the bound.
	FATSampleSize int
	DeepFATWalk   bool
	CompareFATCopies bool
	CheckFSInfoConsistency bool
	FSInfoTolerancePercent int

	CheckLFNSets     bool
	WalkReachability bool
	MaxDirs          int
	MaxEntriesPerDir int
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

// Checker inspects a formatted FAT32 volume without mutating it.
type Checker struct {
	rio  rimio.RimIO
	meta Meta
	opts CheckOptions
}

func NewChecker(rio rimio.RimIO, meta Meta, opts CheckOptions) *Checker {
	return &Checker{rio: rio, meta: meta, opts: opts}
}

// CheckBoot validates the VBR's signature, FS type label, geometry
// sanity, and both FSINFO sectors' signatures.
func (c *Checker) CheckBoot(rep *rimfs.Report) error {
	buf := make([]byte, vbrSize)
	if err := c.rio.ReadAt(vbrSector*uint64(c.meta.bytesPerSector), buf); err != nil {
		return wrap("check_boot", err)
	}
	v, err := decodeVBR(buf)
	if err != nil {
		rep.Error("BOOT", err.Error())
		return nil
	}
	if v.sectorsPerCluster == 0 || (v.sectorsPerCluster&(v.sectorsPerCluster-1)) != 0 {
		rep.Error("BOOT", "sectors-per-cluster is not a power of two")
	}
	if v.numFats == 0 {
		rep.Error("BOOT", "number of FATs is zero")
	}
	if v.totalSectors32 == 0 {
		rep.Error("BOOT", "total sector count is zero")
	}
	if uint64(v.totalSectors32)*uint64(v.bytesPerSector) != c.meta.SizeBytes() {
		rep.Warn("BOOT", "VBR total sector count does not match the reported volume size")
	}

	infoBuf := make([]byte, fsInfoSize)
	if err := c.rio.ReadAt(fsInfoSector*uint64(c.meta.bytesPerSector), infoBuf); err != nil {
		return wrap("check_boot", err)
	}
	if _, err := decodeFSInfo(infoBuf); err != nil {
		rep.Error("BOOT", err.Error())
	}

	backupInfoBuf := make([]byte, fsInfoSize)
	if err := c.rio.ReadAt(fsInfoBackupSector*uint64(c.meta.bytesPerSector), backupInfoBuf); err != nil {
		return wrap("check_boot", err)
	}
	if _, err := decodeFSInfo(backupInfoBuf); err != nil {
		rep.Warn("BOOT", "backup FSInfo sector failed validation")
	}

	backupBuf := make([]byte, vbrSize)
	if err := c.rio.ReadAt(vbrBackupSector*uint64(c.meta.bytesPerSector), backupBuf); err != nil {
		return wrap("check_boot", err)
	}
	if _, err := decodeVBR(backupBuf); err != nil {
		rep.Warn("BOOT", "backup boot sector failed validation")
	}

	rep.Info("BOOT", "boot sector and FSInfo signatures verified")
	return nil
}

// CheckChain scans FAT entries in cluster order from the first cluster
// for obvious corruption (values pointing past the volume): the first
// FATSampleSize entries, or every entry when DeepFATWalk is set. Chains
// are not followed, so a loop made of in-range entries is not reported.
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

	if c.opts.CompareFATCopies && c.meta.NumFats() > 1 {
		if err := c.compareFATCopies(rep, limit); err != nil {
			return err
		}
	}

	if c.opts.CheckFSInfoConsistency {
		if err := c.checkFSInfoConsistency(rep); err != nil {
			return err
		}
	}

	rep.Info("CHAIN", fmt.Sprintf("sampled %d FAT entries", checked))
	return nil
}

func (c *Checker) compareFATCopies(rep *rimfs.Report, limit int) error {
	last := c.meta.LastDataUnit()
	checked := 0
	for cl := c.meta.FirstCluster(); cl <= last && checked < limit; cl, checked = cl+1, checked+1 {
		var prev uint32
		for fatIdx := uint8(0); fatIdx < c.meta.NumFats(); fatIdx++ {
			v, err := rimio.ReadU32At(c.rio, c.meta.FatEntryOffset(cl, fatIdx))
			if err != nil {
				return wrap("compare_fat_copies", err)
			}
			v &= c.meta.EntryMask()
			if fatIdx > 0 && v != prev {
				rep.Error("CHAIN", fmt.Sprintf("FAT copies disagree on cluster %d", cl))
				if c.opts.FailFast {
					return nil
				}
			}
			prev = v
		}
	}
	return nil
}

func (c *Checker) checkFSInfoConsistency(rep *rimfs.Report) error {
	buf := make([]byte, fsInfoSize)
	if err := c.rio.ReadAt(fsInfoSector*uint64(c.meta.bytesPerSector), buf); err != nil {
		return wrap("check_fsinfo_consistency", err)
	}
	info, err := decodeFSInfo(buf)
	if err != nil {
		rep.Error("CHAIN", "FSInfo sector failed validation")
		return nil
	}

	free := uint32(0)
	for cl := c.meta.FirstCluster(); cl <= c.meta.LastDataUnit(); cl++ {
		v, err := rimio.ReadU32At(c.rio, c.meta.FatEntryOffset(cl, 0))
		if err != nil {
			return wrap("check_fsinfo_consistency", err)
		}
		if v&c.meta.EntryMask() == 0 {
			free++
		}
	}

	tolerance := c.opts.FSInfoTolerancePercent
	total := c.meta.TotalUnits()
	var diffPercent uint64
	if total > 0 {
		diff := int64(info.freeCount) - int64(free)
		if diff < 0 {
			diff = -diff
		}
		diffPercent = uint64(diff) * 100 / uint64(total)
	}
	if diffPercent > uint64(tolerance) {
		rep.Warn("CHAIN", fmt.Sprintf("FSInfo free-cluster count (%d) diverges from actual (%d)", info.freeCount, free))
	}
	return nil
}

// CheckRoot verifies the root directory's cluster is allocated and
// readable, and optionally walks the whole reachable tree to validate
// LFN sets and report orphaned clusters.
func (c *Checker) CheckRoot(rep *rimfs.Report) error {
	v, err := rimio.ReadU32At(c.rio, c.meta.FatEntryOffset(c.meta.RootUnit(), 0))
	if err != nil {
		return wrap("check_root", err)
	}
	if v&c.meta.EntryMask() == 0 {
		rep.Error("ROOT", "root directory's cluster is marked free in the FAT")
		if c.opts.FailFast {
			return nil
		}
	}

	if _, err := c.readRootHead(); err != nil {
		rep.Error("ROOT", "root directory is not readable")
		return nil
	}

	if c.opts.WalkReachability {
		w := NewWalker(c.rio, c.meta, c.opts.MaxDirs, c.opts.MaxEntriesPerDir, c.opts.CheckLFNSets)
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

func (c *Checker) readRootHead() ([]byte, error) {
	buf := make([]byte, c.meta.UnitSize())
	if err := c.rio.ReadAt(c.meta.UnitOffset(c.meta.RootUnit()), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// CheckCrossReference is a no-op for FAT32: there is no separate
// allocation bitmap to cross-reference the FAT against, unlike exFAT.
// Orphan detection happens inline in CheckRoot's reachability walk.
func (c *Checker) CheckCrossReference(rep *rimfs.Report) error {
	rep.Info("CROSSREF", "FAT32 has no allocation bitmap to cross-reference")
	return nil
}

// FastCheck runs Boot, Chain, and Root in sequence, stopping at the
// first phase that adds an Err finding when FailFast is set.
func (c *Checker) FastCheck() (*rimfs.Report, error) {
	rep := &rimfs.Report{}
	phases := []func(*rimfs.Report) error{c.CheckBoot, c.CheckChain, c.CheckRoot}
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
