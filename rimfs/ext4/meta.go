package ext4

import (
	"strings"

	"github.com/mkidv/rimgo/rimfs"
)

// Meta carries ext4's geometry: block size, per-group counts, and the
// derived group/inode totals. Unlike FAT32/exFAT's ClusterMeta, there
// is no FAT chain or EOC sentinel to track — a file's extent tree
// lives entirely inside its own inode, so Meta only needs to satisfy
// the plain rimfs.FsMeta[uint32] contract (block-addressed units).
type Meta struct {
	blockSize      uint32
	blockCount     uint32
	blocksPerGroup uint32
	inodesPerGroup uint32
	inodeSize      uint16
	groupCount     uint32
	inodeCount     uint32
	firstDataBlock uint32
	volumeID       [16]byte
	label          string
	sizeBytes      uint64
}

var _ rimfs.FsMeta[uint32] = Meta{}

func ceilDivU32(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// NewMeta derives ext4 geometry for a volume of sizeBytes using the
// default block size and per-group ratios. volumeID is left zero; a
// caller that wants a stable UUID sets it via WithVolumeID.
func NewMeta(sizeBytes uint64, label string) Meta {
	blockSize := DefaultBlockSize
	blockCount := uint32(sizeBytes / uint64(blockSize))
	blocksPerGroup := DefaultBlocksPerGroup
	inodesPerGroup := DefaultInodesPerGroup

	groupCount := ceilDivU32(blockCount, blocksPerGroup)
	if groupCount == 0 {
		groupCount = 1
	}
	inodeCount := groupCount * inodesPerGroup

	firstDataBlock := uint32(0)
	if blockSize == 1024 {
		firstDataBlock = 1
	}

	var labelBytes [16]byte
	copy(labelBytes[:], label)

	return Meta{
		blockSize:      blockSize,
		blockCount:     blockCount,
		blocksPerGroup: blocksPerGroup,
		inodesPerGroup: inodesPerGroup,
		inodeSize:      DefaultInodeSize,
		groupCount:     groupCount,
		inodeCount:     inodeCount,
		firstDataBlock: firstDataBlock,
		label:          label,
		sizeBytes:      sizeBytes,
	}
}

// WithVolumeID returns a copy of m carrying the given 16-byte volume
// identifier, for a caller (rimgen's orchestrator) that generates one
// up front via google/uuid.
func (m Meta) WithVolumeID(id [16]byte) Meta {
	m.volumeID = id
	return m
}

func (m Meta) BlockSize() uint32      { return m.blockSize }
func (m Meta) BlockCount() uint32     { return m.blockCount }
func (m Meta) BlocksPerGroup() uint32 { return m.blocksPerGroup }
func (m Meta) InodesPerGroup() uint32 { return m.inodesPerGroup }
func (m Meta) InodeSize() uint16      { return m.inodeSize }
func (m Meta) GroupCount() uint32     { return m.groupCount }
func (m Meta) InodeCount() uint32     { return m.inodeCount }
func (m Meta) FirstDataBlock() uint32 { return m.firstDataBlock }
func (m Meta) VolumeID() [16]byte     { return m.volumeID }

// FsMeta[uint32] conformance. RootUnit returns the root directory's
// data block — deterministic from layout, not read off disk, since
// the root directory always occupies group 0's first data block.
func (m Meta) UnitSize() uint32        { return m.blockSize }
func (m Meta) UnitOffset(u uint32) uint64 { return uint64(u) * uint64(m.blockSize) }
func (m Meta) RootUnit() uint32        { return ComputeGroupLayout(m, 0).FirstDataBlock }
func (m Meta) FirstDataUnit() uint32   { return m.firstDataBlock }
func (m Meta) LastDataUnit() uint32 {
	if m.blockCount == 0 {
		return 0
	}
	return m.blockCount - 1
}
func (m Meta) TotalUnits() uint32 { return m.blockCount }
func (m Meta) SizeBytes() uint64  { return m.sizeBytes }
func (m Meta) Label() string      { return strings.TrimRight(m.label, "\x00") }

// IsSparseSuperGroup reports whether group carries a backup
// superblock/BGDT copy: group 0 and 1 always do, and otherwise any
// group whose index is a power of 3, 5, or 7 (the sparse_super
// layout every mke2fs-produced volume uses).
func IsSparseSuperGroup(group uint32) bool {
	if group == 0 || group == 1 {
		return true
	}
	for _, base := range [3]uint32{3, 5, 7} {
		n := base
		for n < group {
			n *= base
		}
		if n == group {
			return true
		}
	}
	return false
}

// GroupLayout is the per-group block map: where its bitmaps, inode
// table, and (for group 0) root directory block live. It's always
// recomputed from Meta rather than stored, since it's a pure function
// of geometry.
type GroupLayout struct {
	GroupStart       uint32
	ReservedBlocks   uint32
	BlockBitmapBlock uint32
	InodeBitmapBlock uint32
	InodeTableBlock  uint32
	InodeTableBlocks uint32
	// FirstDataBlock is the first block available for file/directory
	// data in this group — for group 0, this is also the root
	// directory's block.
	FirstDataBlock uint32
}

// ComputeGroupLayout lays a group out as: [reserved: superblock +
// BGDT copy, only on sparse-super groups][block bitmap][inode
// bitmap][inode table][data]. This mirrors the canonical ext2/3/4
// group layout (no flex_bg, no per-group metadata checksums).
func ComputeGroupLayout(m Meta, group uint32) GroupLayout {
	groupStart := m.firstDataBlock + group*m.blocksPerGroup

	var reserved uint32
	if IsSparseSuperGroup(group) {
		bgdtBytes := m.groupCount * BGDTEntrySize
		bgdtBlocks := ceilDivU32(bgdtBytes, m.blockSize)
		reserved = 1 + bgdtBlocks // 1 superblock block + BGDT blocks
	}

	blockBitmapBlock := groupStart + reserved
	inodeBitmapBlock := blockBitmapBlock + 1
	inodeTableBlock := inodeBitmapBlock + 1
	inodeTableBlocks := ceilDivU32(m.inodesPerGroup*uint32(m.inodeSize), m.blockSize)
	firstDataBlock := inodeTableBlock + inodeTableBlocks

	return GroupLayout{
		GroupStart:       groupStart,
		ReservedBlocks:   reserved,
		BlockBitmapBlock: blockBitmapBlock,
		InodeBitmapBlock: inodeBitmapBlock,
		InodeTableBlock:  inodeTableBlock,
		InodeTableBlocks: inodeTableBlocks,
		FirstDataBlock:   firstDataBlock,
	}
}

// groupOfInode splits a 1-based inode number into its group index and
// 0-based index within that group's inode table.
func (m Meta) groupOfInode(inode uint32) (group, indexInGroup uint32) {
	idx := inode - 1
	return idx / m.inodesPerGroup, idx % m.inodesPerGroup
}

// groupOfBlock splits an absolute block number into its group index
// and offset from that group's start.
func (m Meta) groupOfBlock(block uint32) (group, offsetInGroup uint32) {
	rel := block - m.firstDataBlock
	return rel / m.blocksPerGroup, rel % m.blocksPerGroup
}

// groupTotalBlocks is the number of blocks belonging to group
// (the last group may be short if blockCount isn't an exact
// multiple of blocksPerGroup).
func (m Meta) groupTotalBlocks(group uint32) uint32 {
	if group < m.groupCount-1 {
		return m.blocksPerGroup
	}
	return m.blockCount - group*m.blocksPerGroup
}

func (m Meta) groupTotalInodes(group uint32) uint32 {
	if group < m.groupCount-1 {
		return m.inodesPerGroup
	}
	return m.inodeCount - group*m.inodesPerGroup
}
