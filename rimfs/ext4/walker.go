package ext4

import (
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Walker tracks which inodes and blocks a tree walk from root actually
// reaches. Unlike FAT32/exFAT, where a single chain identifies a file,
// ext4 needs two independent trackers: one over inode numbers (to spot
// orphaned inodes the inode bitmap marks used) and one over blocks (to
// spot orphaned data/metadata the block bitmap marks used).
type Walker struct {
	rio              rimio.RimIO
	meta             Meta
	inodeTracker     *rimfs.ReachabilityTracker
	blockTracker     *rimfs.ReachabilityTracker
	maxDirs          int
	maxEntriesPerDir int
}

func NewWalker(rio rimio.RimIO, meta Meta, maxDirs, maxEntriesPerDir int) *Walker {
	return &Walker{
		rio:              rio,
		meta:             meta,
		inodeTracker:     rimfs.NewReachabilityTracker(1, int(meta.inodeCount)),
		blockTracker:     rimfs.NewReachabilityTracker(0, int(meta.blockCount)),
		maxDirs:          maxDirs,
		maxEntriesPerDir: maxEntriesPerDir,
	}
}

func (w *Walker) markExtents(extents []rawExtent) {
	for _, e := range extents {
		w.blockTracker.MarkRange(e.startBlock(), uint32(e.Len))
	}
}

// markSystemBlocks marks every group's reserved/bitmap/inode-table
// range reachable — metadata blocks never appear in any extent tree.
func (w *Walker) markSystemBlocks() {
	for g := uint32(0); g < w.meta.groupCount; g++ {
		layout := ComputeGroupLayout(w.meta, g)
		w.blockTracker.MarkRange(layout.GroupStart, layout.FirstDataBlock-layout.GroupStart)
	}
}

// markSystemInodes marks the reserved inode range (1..FirstInode-1,
// minus root itself, which the walk marks when it visits root) as
// reachable — they never appear as a directory entry anywhere, the
// same reasoning exfat's walker applies to its bitmap/up-case table
// clusters.
func (w *Walker) markSystemInodes() {
	w.inodeTracker.Mark(1)
	w.inodeTracker.MarkRange(RootInode+1, FirstInode-RootInode-1)
}

const walkMaxDepth = 256

type walkFrame struct {
	inode uint32
	depth int
}

// WalkFromRoot performs a depth-bounded explicit-stack traversal from
// the root inode, marking every reachable inode and the blocks its
// extents cover, flagging directory inodes visited more than once as
// loops.
func (w *Walker) WalkFromRoot(rep *rimfs.Report) error {
	w.markSystemBlocks()
	w.markSystemInodes()

	stack := []walkFrame{{inode: RootInode, depth: 0}}
	dirsVisited := 0

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.depth > walkMaxDepth {
			rep.Warn("ROOT", "directory tree exceeds max depth, stopping that branch")
			continue
		}
		if w.maxDirs > 0 && dirsVisited >= w.maxDirs {
			rep.Warn("ROOT", "directory count exceeds configured max, stopping walk")
			break
		}
		if w.inodeTracker.IsMarked(top.inode) {
			rep.Error("ROOT", fmt.Sprintf("loop detected: directory inode %d visited twice", top.inode))
			continue
		}
		dirsVisited++
		w.inodeTracker.Mark(top.inode)

		in, err := readInodeAt(w.rio, w.meta, top.inode)
		if err != nil {
			return wrap("walk_from_root", err)
		}
		extents, err := decodeExtents(in.Block[:])
		if err != nil {
			return wrap("walk_from_root", err)
		}
		w.markExtents(extents)

		var entries []rawDirEntry
		for _, e := range extents {
			for i := uint16(0); i < e.Len; i++ {
				block := make([]byte, w.meta.blockSize)
				if err := w.rio.ReadAt(w.meta.UnitOffset(e.startBlock()+uint32(i)), block); err != nil {
					return wrap("walk_from_root", err)
				}
				entries = append(entries, decodeDirEntries(block)...)
			}
		}

		entriesVisited := 0
		for _, entry := range entries {
			if entry.Name == "." || entry.Name == ".." {
				continue
			}
			entriesVisited++
			if w.maxEntriesPerDir > 0 && entriesVisited > w.maxEntriesPerDir {
				rep.Warn("ROOT", "directory entry count exceeds configured max, stopping scan")
				break
			}
			if entry.FileType == FTDir {
				stack = append(stack, walkFrame{inode: entry.Inode, depth: top.depth + 1})
				continue
			}
			w.inodeTracker.Mark(entry.Inode)
			fin, err := readInodeAt(w.rio, w.meta, entry.Inode)
			if err != nil {
				return wrap("walk_from_root", err)
			}
			if fextents, err := decodeExtents(fin.Block[:]); err == nil {
				w.markExtents(fextents)
			}
		}
	}
	return nil
}

// ReportOrphanBlocks cross-references the block tracker built by
// WalkFromRoot against every group's on-disk block bitmap: any block
// the bitmap marks used but the walk never reached is a true orphan.
func (w *Walker) ReportOrphanBlocks(rep *rimfs.Report, sampleLimit int) error {
	found := 0
	for g := uint32(0); g < w.meta.groupCount; g++ {
		layout := ComputeGroupLayout(w.meta, g)
		bitmap := make([]byte, w.meta.blockSize)
		if err := w.rio.ReadAt(w.meta.UnitOffset(layout.BlockBitmapBlock), bitmap); err != nil {
			return wrap("report_orphan_blocks", err)
		}
		total := w.meta.groupTotalBlocks(g)
		for i := uint32(0); i < total; i++ {
			if sampleLimit > 0 && found >= sampleLimit {
				rep.Warn("ROOT", "orphan block report truncated at sample limit")
				return nil
			}
			block := layout.GroupStart + i
			if bitGet(bitmap, i) && !w.blockTracker.IsMarked(block) {
				rep.Warn("ROOT", fmt.Sprintf("block %d is allocated in group %d but unreachable from root", block, g))
				found++
			}
		}
	}
	return nil
}

// ReportOrphanInodes is ReportOrphanBlocks' inode-bitmap counterpart.
func (w *Walker) ReportOrphanInodes(rep *rimfs.Report, sampleLimit int) error {
	found := 0
	for g := uint32(0); g < w.meta.groupCount; g++ {
		layout := ComputeGroupLayout(w.meta, g)
		bitmap := make([]byte, w.meta.blockSize)
		if err := w.rio.ReadAt(w.meta.UnitOffset(layout.InodeBitmapBlock), bitmap); err != nil {
			return wrap("report_orphan_inodes", err)
		}
		total := w.meta.groupTotalInodes(g)
		for i := uint32(0); i < total; i++ {
			if sampleLimit > 0 && found >= sampleLimit {
				rep.Warn("ROOT", "orphan inode report truncated at sample limit")
				return nil
			}
			inode := g*w.meta.inodesPerGroup + i + 1
			if bitGet(bitmap, i) && !w.inodeTracker.IsMarked(inode) {
				rep.Warn("ROOT", fmt.Sprintf("inode %d is allocated in group %d but unreachable from root", inode, g))
				found++
			}
		}
	}
	return nil
}
