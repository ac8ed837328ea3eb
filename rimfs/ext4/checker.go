package ext4

import (
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// CheckOptions tunes how thoroughly Checker inspects a volume. The
// defaults favor a fast, shallow pass; a full audit opts into the
// reachability walk explicitly.
//
// Unlike fat32/exfat's Checker, there is no retrieved reference for
// the modern, RimIO-based ext4 checker this type's API is modeled on —
// the pack's only ext4 checker is a legacy implementation that opens a
// raw file by path and takes a different params struct. The CheckX
// method shape and CheckOptions here follow fat32/exfat's Checker
// instead; the internal validation logic below (BGDT range checks,
// bitmap overlap checks, block bitmap position checks) is grounded on
// that legacy checker's concrete algorithms. See DESIGN.md.
type CheckOptions struct {
	FailFast bool

	WalkReachability  bool
	MaxDirs           int
	MaxEntriesPerDir  int
	OrphanSampleLimit int
}

func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		FailFast:          true,
		OrphanSampleLimit: 32,
		MaxDirs:           4096,
		MaxEntriesPerDir:  8192,
	}
}

// Checker inspects a formatted ext4 volume without mutating it.
type Checker struct {
	rio  rimio.RimIO
	meta Meta
	opts CheckOptions
}

func NewChecker(rio rimio.RimIO, meta Meta, opts CheckOptions) *Checker {
	return &Checker{rio: rio, meta: meta, opts: opts}
}

// CheckSuperblock validates the primary superblock's magic and basic
// geometry sanity, then that every sparse-super backup copy is
// byte-identical to it besides the per-group block_group_nr field.
func (c *Checker) CheckSuperblock(rep *rimfs.Report) error {
	buf := make([]byte, SuperblockSize)
	if err := c.rio.ReadAt(SuperblockOffset, buf); err != nil {
		return wrap("check_superblock", err)
	}
	sb := unpackSuperblock(buf)
	if sb.Magic != SuperblockMagic {
		rep.Error("SUPERBLOCK", fmt.Sprintf("bad magic %#x", sb.Magic))
		return nil
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		rep.Error("SUPERBLOCK", "blocks_per_group or inodes_per_group is zero")
	}
	if sb.InodesCount == 0 {
		rep.Error("SUPERBLOCK", "inodes_count is zero")
	}
	if sb.BlocksCountLo != c.meta.blockCount {
		rep.Warn("SUPERBLOCK", "blocks_count does not match the volume's derived geometry")
	}

	for g := uint32(1); g < c.meta.groupCount; g++ {
		if !IsSparseSuperGroup(g) {
			continue
		}
		layout := ComputeGroupLayout(c.meta, g)
		backupBuf := make([]byte, SuperblockSize)
		if err := c.rio.ReadAt(c.meta.UnitOffset(layout.GroupStart), backupBuf); err != nil {
			return wrap("check_superblock", err)
		}
		backup := unpackSuperblock(backupBuf)
		if backup.Magic != SuperblockMagic {
			rep.Error("SUPERBLOCK", fmt.Sprintf("group %d's backup superblock has bad magic", g))
			continue
		}
		backup.BlockGroupNr = sb.BlockGroupNr
		if backup != sb {
			rep.Warn("SUPERBLOCK", fmt.Sprintf("group %d's backup superblock diverges from the primary", g))
		}
	}

	rep.Info("SUPERBLOCK", "superblock and backup copies verified")
	return nil
}

// CheckBGDT validates that every group's block/inode bitmap and inode
// table pointers fall within that group's own block range, and that
// no two groups' ranges overlap.
func (c *Checker) CheckBGDT(rep *rimfs.Report) error {
	for g := uint32(0); g < c.meta.groupCount; g++ {
		layout := ComputeGroupLayout(c.meta, g)
		groupEnd := layout.GroupStart + c.meta.groupTotalBlocks(g)

		desc, err := c.readGroupDesc(g)
		if err != nil {
			return wrap("check_bgdt", err)
		}
		if desc.BlockBitmapLo < layout.GroupStart || desc.BlockBitmapLo >= groupEnd {
			rep.Error("BGDT", fmt.Sprintf("group %d's block bitmap pointer falls outside its own range", g))
		}
		if desc.InodeBitmapLo < layout.GroupStart || desc.InodeBitmapLo >= groupEnd {
			rep.Error("BGDT", fmt.Sprintf("group %d's inode bitmap pointer falls outside its own range", g))
		}
		if desc.InodeTableLo < layout.GroupStart || desc.InodeTableLo+layout.InodeTableBlocks > groupEnd {
			rep.Error("BGDT", fmt.Sprintf("group %d's inode table pointer/extent falls outside its own range", g))
		}
		if desc.BlockBitmapLo < layout.GroupStart+layout.ReservedBlocks {
			rep.Error("BGDT", fmt.Sprintf("group %d's block bitmap precedes its reserved metadata range", g))
		}
	}
	rep.Info("BGDT", fmt.Sprintf("validated %d group descriptor(s)", c.meta.groupCount))
	return nil
}

func (c *Checker) readGroupDesc(group uint32) (rawGroupDesc, error) {
	layout := ComputeGroupLayout(c.meta, 0)
	offset := c.meta.UnitOffset(layout.GroupStart+1) + uint64(group)*BGDTEntrySize
	buf := make([]byte, BGDTEntrySize)
	if err := c.rio.ReadAt(offset, buf); err != nil {
		return rawGroupDesc{}, err
	}
	return unpackGroupDesc(buf), nil
}

// CheckBitmaps verifies that every group's block bitmap marks the
// group's own metadata range used and that group 0's inode bitmap marks
// the root inode used. Bits past a group's block or inode count are not
// examined.
func (c *Checker) CheckBitmaps(rep *rimfs.Report) error {
	for g := uint32(0); g < c.meta.groupCount; g++ {
		layout := ComputeGroupLayout(c.meta, g)

		blockBitmap := make([]byte, c.meta.blockSize)
		if err := c.rio.ReadAt(c.meta.UnitOffset(layout.BlockBitmapBlock), blockBitmap); err != nil {
			return wrap("check_bitmaps", err)
		}
		reservedInGroup := layout.FirstDataBlock - layout.GroupStart
		for bit := uint32(0); bit < reservedInGroup; bit++ {
			if !bitGet(blockBitmap, bit) {
				rep.Error("BITMAP", fmt.Sprintf("group %d's block bitmap does not mark its own metadata range used", g))
				break
			}
		}

		inodeBitmap := make([]byte, c.meta.blockSize)
		if err := c.rio.ReadAt(c.meta.UnitOffset(layout.InodeBitmapBlock), inodeBitmap); err != nil {
			return wrap("check_bitmaps", err)
		}
		if g == 0 && !bitGet(inodeBitmap, RootInode-1) {
			rep.Error("BITMAP", "group 0's inode bitmap does not mark the root inode used")
		}
	}
	rep.Info("BITMAP", "block and inode bitmaps verified")
	return nil
}

// CheckRoot validates the root inode is a directory containing "." and
// "..", and optionally walks the reachable tree.
func (c *Checker) CheckRoot(rep *rimfs.Report) error {
	in, err := readInodeAt(c.rio, c.meta, RootInode)
	if err != nil {
		rep.Error("ROOT", "root inode is not readable")
		return nil
	}
	if in.Mode&0xF000 != modeDir {
		rep.Error("ROOT", "root inode is not a directory")
		return nil
	}
	extents, err := decodeExtents(in.Block[:])
	if err != nil {
		rep.Error("ROOT", "root inode has no valid extent tree")
		return nil
	}
	if len(extents) == 0 {
		rep.Error("ROOT", "root directory has no data extents")
		return nil
	}

	block := make([]byte, c.meta.blockSize)
	if err := c.rio.ReadAt(c.meta.UnitOffset(extents[0].startBlock()), block); err != nil {
		return wrap("check_root", err)
	}
	var sawDot, sawDotDot bool
	for _, e := range decodeDirEntries(block) {
		switch e.Name {
		case ".":
			sawDot = e.Inode == RootInode
		case "..":
			sawDotDot = e.Inode == RootInode
		}
	}
	if !sawDot || !sawDotDot {
		rep.Error("ROOT", "root directory is missing its own \".\"/\"..\" entries")
	}

	if c.opts.WalkReachability {
		w := NewWalker(c.rio, c.meta, c.opts.MaxDirs, c.opts.MaxEntriesPerDir)
		if err := w.WalkFromRoot(rep); err != nil {
			return wrap("check_root", err)
		}
		if err := w.ReportOrphanBlocks(rep, c.opts.OrphanSampleLimit); err != nil {
			return wrap("check_root", err)
		}
		if err := w.ReportOrphanInodes(rep, c.opts.OrphanSampleLimit); err != nil {
			return wrap("check_root", err)
		}
	}

	rep.Info("ROOT", "root directory verified")
	return nil
}

// FastCheck runs Superblock, BGDT, Bitmaps, and Root in sequence,
// stopping at the first phase that adds an Err finding when FailFast
// is set.
func (c *Checker) FastCheck() (*rimfs.Report, error) {
	rep := &rimfs.Report{}
	phases := []func(*rimfs.Report) error{c.CheckSuperblock, c.CheckBGDT, c.CheckBitmaps, c.CheckRoot}
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
