package ext4

import (
	"github.com/mkidv/rimgo/rimio"
)

// Allocator hands out free blocks and inodes by scanning the on-disk
// per-group bitmaps the formatter already laid out. Unlike exfat's
// single flat bitmap, ext4 splits free space per block group, so
// every scan is bounded to one group's bitmap block at a time.
type Allocator struct {
	meta       Meta
	nextBlock  uint32
	nextInode  uint32
	allocBlock map[uint32]uint32 // group -> count of blocks handed out this session
	allocInode map[uint32]uint32 // group -> count of inodes handed out this session
}

func NewAllocator(meta Meta) *Allocator {
	return &Allocator{
		meta:       meta,
		nextBlock:  ComputeGroupLayout(meta, 0).FirstDataBlock + 1, // +1: block 0 of group 0 is the root dir
		nextInode:  FirstInode,                                     // inode 2 (root) is pre-allocated by the formatter; 11 is conventionally lost+found
		allocBlock: map[uint32]uint32{},
		allocInode: map[uint32]uint32{},
	}
}

func bitSet(buf []byte, bit uint32, value bool) {
	byteIdx := bit / 8
	mask := byte(1) << (bit % 8)
	if value {
		buf[byteIdx] |= mask
	} else {
		buf[byteIdx] &^= mask
	}
}

func bitGet(buf []byte, bit uint32) bool {
	return buf[bit/8]&(1<<(bit%8)) != 0
}

func (a *Allocator) readBlockBitmap(rio rimio.RimIO, group uint32) ([]byte, GroupLayout, error) {
	layout := ComputeGroupLayout(a.meta, group)
	buf := make([]byte, a.meta.blockSize)
	if err := rio.ReadAt(a.meta.UnitOffset(layout.BlockBitmapBlock), buf); err != nil {
		return nil, layout, wrap("read_block_bitmap", err)
	}
	return buf, layout, nil
}

func (a *Allocator) readInodeBitmap(rio rimio.RimIO, group uint32) ([]byte, GroupLayout, error) {
	layout := ComputeGroupLayout(a.meta, group)
	buf := make([]byte, a.meta.blockSize)
	if err := rio.ReadAt(a.meta.UnitOffset(layout.InodeBitmapBlock), buf); err != nil {
		return nil, layout, wrap("read_inode_bitmap", err)
	}
	return buf, layout, nil
}

// AllocateBlocks returns count block numbers in ascending order, each
// marked used in its group's on-disk block bitmap. Blocks are filled
// group by group starting from the allocator's cursor; the caller
// (the injector) is responsible for folding any contiguous runs in
// the result into extents.
func (a *Allocator) AllocateBlocks(rio rimio.RimIO, count int) ([]uint32, error) {
	out := make([]uint32, 0, count)
	block := a.nextBlock

	for len(out) < count {
		group, _ := a.meta.groupOfBlock(block)
		if group >= a.meta.groupCount {
			return nil, wrap("allocate_blocks", ErrAllocExhausted)
		}
		bitmap, layout, err := a.readBlockBitmap(rio, group)
		if err != nil {
			return nil, err
		}
		groupEnd := layout.GroupStart + a.meta.groupTotalBlocks(group)
		dirty := false
		before := len(out)
		for ; block < groupEnd && len(out) < count; block++ {
			bit := block - layout.GroupStart
			if !bitGet(bitmap, bit) {
				bitSet(bitmap, bit, true)
				out = append(out, block)
				dirty = true
			}
		}
		if dirty {
			if err := rio.WriteAt(a.meta.UnitOffset(layout.BlockBitmapBlock), bitmap); err != nil {
				return nil, wrap("allocate_blocks", err)
			}
			a.allocBlock[group] += uint32(len(out) - before)
		}
		if block >= groupEnd {
			block = layout.GroupStart + a.meta.blocksPerGroup
		}
	}

	a.nextBlock = block
	return out, nil
}

// AllocateInode returns the next free inode number (1-based), marking
// it used in its group's on-disk inode bitmap.
func (a *Allocator) AllocateInode(rio rimio.RimIO) (uint32, error) {
	inode := a.nextInode
	for {
		group, idxInGroup := a.meta.groupOfInode(inode)
		if group >= a.meta.groupCount {
			return 0, wrap("allocate_inode", ErrAllocExhausted)
		}
		bitmap, layout, err := a.readInodeBitmap(rio, group)
		if err != nil {
			return 0, err
		}
		groupInodes := a.meta.groupTotalInodes(group)
		for ; idxInGroup < groupInodes; idxInGroup++ {
			if !bitGet(bitmap, idxInGroup) {
				bitSet(bitmap, idxInGroup, true)
				if err := rio.WriteAt(a.meta.UnitOffset(layout.InodeBitmapBlock), bitmap); err != nil {
					return 0, wrap("allocate_inode", err)
				}
				a.allocInode[group]++
				a.nextInode = group*a.meta.inodesPerGroup + idxInGroup + 2
				return group*a.meta.inodesPerGroup + idxInGroup + 1, nil
			}
		}
		inode = (group+1)*a.meta.inodesPerGroup + 1
	}
}

// AllocatedBlocksInGroup/AllocatedInodesInGroup report how many units
// this allocator instance has handed out in group since it was
// constructed — enough for the injector to rebuild the BGDT's
// free-space counters without re-scanning every bitmap.
func (a *Allocator) AllocatedBlocksInGroup(group uint32) uint32 { return a.allocBlock[group] }
func (a *Allocator) AllocatedInodesInGroup(group uint32) uint32 { return a.allocInode[group] }

// BlocksNeeded returns how many blocks a file of sizeBytes occupies.
func BlocksNeeded(sizeBytes uint64, blockSize uint32) int {
	if sizeBytes == 0 {
		return 0
	}
	n := (sizeBytes + uint64(blockSize) - 1) / uint64(blockSize)
	return int(n)
}

// buildExtents folds an ascending, possibly-discontiguous block list
// into the fewest contiguous runs, one rawExtent per run — mirroring
// the run-detection loop the teacher's write_file performs inline.
func buildExtents(blocks []uint32) []rawExtent {
	if len(blocks) == 0 {
		return nil
	}
	var extents []rawExtent
	start := blocks[0]
	length := uint16(1)
	logical := uint32(0)

	for i := 1; i < len(blocks); i++ {
		if blocks[i] == start+uint32(length) {
			length++
			continue
		}
		extents = append(extents, newExtent(logical, start, length))
		logical += uint32(length)
		start = blocks[i]
		length = 1
	}
	extents = append(extents, newExtent(logical, start, length))
	return extents
}
