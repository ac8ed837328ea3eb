package ext4

import (
	"github.com/mkidv/rimgo/rimio"
)

// Formatter lays down a fresh ext4 volume: the superblock and its
// sparse-super backup copies, the block group descriptor table and
// its backups, every group's block/inode bitmaps and inode table, and
// a root directory holding "." and "..". Grounded on the teacher's
// fat32/exfat Formatter sequencing (write metadata regions, then the
// root object), generalized to ext4's per-group layout.
type Formatter struct {
	rio   rimio.RimIO
	meta  Meta
	label string
}

func NewFormatter(rio rimio.RimIO, meta Meta, label string) *Formatter {
	return &Formatter{rio: rio, meta: meta, label: label}
}

func (f *Formatter) usedBlocksAndInodes() (usedBlocks, usedInodes uint32) {
	for g := uint32(0); g < f.meta.groupCount; g++ {
		layout := ComputeGroupLayout(f.meta, g)
		usedBlocks += layout.ReservedBlocks + 2 + layout.InodeTableBlocks // +2: block bitmap, inode bitmap
	}
	usedBlocks++  // root directory's data block, in group 0
	usedInodes = FirstInode - 1 // reserved inodes 1..FirstInode-1, root included; lost+found is created lazily by the injector
	return
}

func (f *Formatter) buildSuperblock(usedBlocks, usedInodes uint32) rawSuperblock {
	m := f.meta
	var label [16]byte
	copy(label[:], m.label)
	var uuid [16]byte
	uuid = m.volumeID

	logBlockSize := uint32(0)
	for size := uint32(1024); size < m.blockSize; size <<= 1 {
		logBlockSize++
	}

	return rawSuperblock{
		InodesCount:       m.inodeCount,
		BlocksCountLo:     m.blockCount,
		RBlocksCountLo:    m.blockCount / 20, // 5% reserved for root, standard mke2fs default
		FreeBlocksCountLo: m.blockCount - usedBlocks,
		FreeInodesCount:   m.inodeCount - usedInodes,
		FirstDataBlock:    m.firstDataBlock,
		LogBlockSize:      logBlockSize,
		LogClusterSize:    logBlockSize,
		BlocksPerGroup:    m.blocksPerGroup,
		ClustersPerGroup:  m.blocksPerGroup,
		InodesPerGroup:    m.inodesPerGroup,
		MaxMntCount:       0xFFFF, // -1: mount-count checking disabled
		Magic:             SuperblockMagic,
		State:             1, // EXT4_VALID_FS
		Errors:            1, // EXT4_ERRORS_CONTINUE
		RevLevel:          1, // EXT4_DYNAMIC_REV: variable inode size, required for InodeSize != 128
		FirstIno:          FirstInode,
		InodeSize:         m.inodeSize,
		FeatureCompat:     FeatureCompatExtAttr | FeatureCompatDirIndex,
		FeatureIncompat:   FeatureIncompatFiletype | FeatureIncompatExtents | FeatureIncompat64Bit,
		FeatureROCompat:   FeatureRoCompatSparseSuper | FeatureRoCompatLargeFile | FeatureRoCompatDirNlink | FeatureRoCompatExtraIsize,
		UUID:              uuid,
		VolumeName:        label,
		DescSize:          BGDTEntrySize,
	}
}

// writeSuperblockAndBGDT writes the superblock and the block group
// descriptor table at group's reserved range, for every group (the
// primary copy in group 0, backups in every other sparse-super group).
func (f *Formatter) writeSuperblockAndBGDT(sb rawSuperblock, descs []rawGroupDesc) error {
	var bgdtBuf []byte
	for _, d := range descs {
		bgdtBuf = append(bgdtBuf, packGroupDesc(d)...)
	}

	for g := uint32(0); g < f.meta.groupCount; g++ {
		if !IsSparseSuperGroup(g) {
			continue
		}
		layout := ComputeGroupLayout(f.meta, g)
		groupSB := sb
		groupSB.BlockGroupNr = uint16(g)
		buf := packSuperblock(groupSB)

		// The superblock always occupies the first SuperblockSize bytes
		// of the group's reserved range's leading block; the BGDT
		// follows immediately at the next block, regardless of group 0's
		// special 1024-byte fixed offset.
		var sbOffset uint64
		if g == 0 {
			sbOffset = SuperblockOffset
		} else {
			sbOffset = f.meta.UnitOffset(layout.GroupStart)
		}
		if err := f.rio.WriteAt(sbOffset, buf); err != nil {
			return wrap("write_superblock", err)
		}

		bgdtOffset := f.meta.UnitOffset(layout.GroupStart + 1)
		if err := f.rio.WriteAt(bgdtOffset, bgdtBuf); err != nil {
			return wrap("write_bgdt", err)
		}
	}
	return nil
}

// writeBitmapsAndInodeTables zeroes and seeds every group's block
// bitmap (marking its own reserved/metadata/root-data blocks used),
// inode bitmap (marking reserved inodes 1..FirstInode-1 used, plus
// inode 2 in group 0), and zeroes the inode table.
func (f *Formatter) writeBitmapsAndInodeTables() error {
	for g := uint32(0); g < f.meta.groupCount; g++ {
		layout := ComputeGroupLayout(f.meta, g)

		blockBitmap := make([]byte, f.meta.blockSize)
		usedInGroup := layout.FirstDataBlock - layout.GroupStart
		if g == 0 {
			usedInGroup++ // root directory's data block
		}
		for bit := uint32(0); bit < usedInGroup; bit++ {
			bitSet(blockBitmap, bit, true)
		}
		if err := f.rio.WriteAt(f.meta.UnitOffset(layout.BlockBitmapBlock), blockBitmap); err != nil {
			return wrap("write_block_bitmap", err)
		}

		inodeBitmap := make([]byte, f.meta.blockSize)
		if g == 0 {
			// Inodes 1..FirstInode-1 are reserved (bad-blocks, root,
			// quota, journal, ...); bit index is 0-based so this marks
			// bits 0..FirstInode-2, which covers inode 2 (root) too.
			for bit := uint32(0); bit < FirstInode-1; bit++ {
				bitSet(inodeBitmap, bit, true)
			}
		}
		if err := f.rio.WriteAt(f.meta.UnitOffset(layout.InodeBitmapBlock), inodeBitmap); err != nil {
			return wrap("write_inode_bitmap", err)
		}

		tableSize := int(layout.InodeTableBlocks) * int(f.meta.blockSize)
		if err := rimio.ZeroFill(f.rio, f.meta.UnitOffset(layout.InodeTableBlock), tableSize); err != nil {
			return wrap("write_inode_table", err)
		}
	}
	return nil
}

// writeRootDir writes "." and ".." into group 0's first data block and
// patches inode 2 with a single-extent, single-block directory.
func (f *Formatter) writeRootDir() error {
	layout := ComputeGroupLayout(f.meta, 0)
	rootBlock := layout.FirstDataBlock

	buf := make([]byte, 0, f.meta.blockSize)
	buf = appendDirEntry(buf, dotEntry(RootInode), encodedRecLen("."))
	remaining := uint16(f.meta.blockSize) - uint16(len(buf)) - encodedRecLen("..")
	buf = appendDirEntry(buf, dotdotEntry(RootInode), encodedRecLen("..")+remaining)
	if err := f.rio.WriteAt(f.meta.UnitOffset(rootBlock), buf); err != nil {
		return wrap("write_root_dir", err)
	}

	block := make([]byte, 60)
	extent := newExtent(0, rootBlock, 1)
	encodeExtents(block, []rawExtent{extent})

	in := rawInode{
		Mode:       modeDir | dirPermBits,
		LinksCount: RootDirLinks,
		SizeLo:     f.meta.blockSize,
		BlocksLo:   f.meta.blockSize / 512,
		Flags:      InodeFlagExtents,
	}
	copy(in.Block[:], block)

	return writeInodeAt(f.rio, f.meta, RootInode, in)
}

// zeroDataRegion overwrites every data block beyond the root directory
// with zeros; only done on a full format.
func (f *Formatter) zeroDataRegion() error {
	for g := uint32(0); g < f.meta.groupCount; g++ {
		layout := ComputeGroupLayout(f.meta, g)
		start := layout.FirstDataBlock
		if g == 0 {
			start++ // skip root's own block, already written
		}
		total := f.meta.groupTotalBlocks(g)
		end := layout.GroupStart + total
		if start >= end {
			continue
		}
		size := int(end-start) * int(f.meta.blockSize)
		if err := rimio.ZeroFill(f.rio, f.meta.UnitOffset(start), size); err != nil {
			return wrap("zero_data_region", err)
		}
	}
	return nil
}

// buildGroupDescs produces one rawGroupDesc per group, pointing at its
// bitmaps/inode table and recording its free-space counters as they
// stand right after format (before any file/directory is injected).
func (f *Formatter) buildGroupDescs() []rawGroupDesc {
	descs := make([]rawGroupDesc, f.meta.groupCount)
	for g := uint32(0); g < f.meta.groupCount; g++ {
		layout := ComputeGroupLayout(f.meta, g)
		total := f.meta.groupTotalBlocks(g)
		usedInGroup := layout.FirstDataBlock - layout.GroupStart
		if g == 0 {
			usedInGroup++
		}
		freeBlocks := total - usedInGroup

		totalInodes := f.meta.groupTotalInodes(g)
		usedDirs := uint16(0)
		usedInodesInGroup := uint32(0)
		if g == 0 {
			usedInodesInGroup = FirstInode - 1 // reserved inodes 1..FirstInode-1, root included
			usedDirs = 1                   // root
		}
		freeInodes := totalInodes - usedInodesInGroup

		descs[g] = rawGroupDesc{
			BlockBitmapLo:     layout.BlockBitmapBlock,
			InodeBitmapLo:     layout.InodeBitmapBlock,
			InodeTableLo:      layout.InodeTableBlock,
			FreeBlocksCountLo: uint16(freeBlocks),
			FreeInodesCountLo: uint16(freeInodes),
			UsedDirsCountLo:   usedDirs,
		}
	}
	return descs
}

// Format writes a complete fresh ext4 volume. fullFormat additionally
// zeros every data block beyond the root directory.
func Format(rio rimio.RimIO, meta Meta, label string, fullFormat bool) error {
	f := NewFormatter(rio, meta, label)

	if err := f.writeBitmapsAndInodeTables(); err != nil {
		return err
	}
	if err := f.writeRootDir(); err != nil {
		return err
	}
	if fullFormat {
		if err := f.zeroDataRegion(); err != nil {
			return err
		}
	}

	usedBlocks, usedInodes := f.usedBlocksAndInodes()
	sb := f.buildSuperblock(usedBlocks, usedInodes)
	descs := f.buildGroupDescs()
	if err := f.writeSuperblockAndBGDT(sb, descs); err != nil {
		return err
	}

	return rio.Flush()
}
