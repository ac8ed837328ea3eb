package exfat

import (
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Walker tracks which clusters a tree walk from root actually reaches.
// Unlike FAT32 (no separate bitmap, "used" only exists on the FAT),
// exFAT's allocation bitmap is independent ground truth, so the walker
// also marks the two system objects reachable before the checker
// cross-references the tracker against the on-disk bitmap.
type Walker struct {
	rio              rimio.RimIO
	meta             Meta
	tracker          *rimfs.ReachabilityTracker
	maxDirs          int
	maxEntriesPerDir int
}

func NewWalker(rio rimio.RimIO, meta Meta, maxDirs, maxEntriesPerDir int) *Walker {
	return &Walker{
		rio:              rio,
		meta:             meta,
		tracker:          rimfs.NewReachabilityTracker(meta.FirstCluster(), int(meta.TotalUnits())),
		maxDirs:          maxDirs,
		maxEntriesPerDir: maxEntriesPerDir,
	}
}

func (w *Walker) markChain(first uint32, contiguous bool, sizeBytes uint64) error {
	if contiguous {
		cur := rimfs.NewLinearCursorFromLenSafe(w.meta, first, sizeBytes)
		return cur.ForEachRun(w.rio, func(rio rimio.RimIO, start, length uint32) error {
			w.tracker.MarkRange(start, length)
			return nil
		})
	}
	cur := rimfs.NewClusterCursor(w.meta, first)
	return cur.ForEachRun(w.rio, func(rio rimio.RimIO, start, length uint32) error {
		w.tracker.MarkRange(start, length)
		return nil
	})
}

// markSystemObjects marks the bitmap and up-case table clusters
// reachable. The root directory is marked as part of the regular tree
// walk, but these two never appear as directory entries anywhere.
func (w *Walker) markSystemObjects() {
	w.tracker.MarkRange(w.meta.bitmapCluster, w.meta.bitmapClusters)
	w.tracker.MarkRange(w.meta.upcaseCluster, w.meta.upcaseClusters)
}

const walkMaxDepth = 256

type walkFrame struct {
	cluster uint32
	depth   int
}

// WalkFromRoot performs a depth-bounded explicit-stack traversal from
// the root directory, marking every reachable file/directory chain and
// the two system objects, flagging directory clusters visited more
// than once as loops.
func (w *Walker) WalkFromRoot(rep *rimfs.Report) error {
	w.markSystemObjects()

	stack := []walkFrame{{cluster: w.meta.RootUnit(), depth: 0}}
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

		if w.tracker.IsMarked(top.cluster) {
			rep.Error("ROOT", fmt.Sprintf("loop detected: directory cluster %d visited twice", top.cluster))
			continue
		}
		dirsVisited++
		if err := w.markChain(top.cluster, false, 0); err != nil {
			return wrap("walk_from_root", err)
		}

		entriesVisited := 0
		err := scanDirectory(w.rio, w.meta, top.cluster, func(set entrySet) (bool, error) {
			entriesVisited++
			if w.maxEntriesPerDir > 0 && entriesVisited > w.maxEntriesPerDir {
				rep.Warn("ROOT", "directory entry count exceeds configured max, stopping scan")
				return true, nil
			}
			if set.isDir() {
				stack = append(stack, walkFrame{cluster: set.firstCluster(), depth: top.depth + 1})
			} else if set.size() > 0 {
				if err := w.markChain(set.firstCluster(), set.isContiguous(), set.size()); err != nil {
					return true, err
				}
			}
			return false, nil
		})
		if err != nil {
			return wrap("walk_from_root", err)
		}
	}
	return nil
}

// ReportOrphans cross-references the tracker built by WalkFromRoot
// against the on-disk allocation bitmap: any cluster the bitmap marks
// used but the walk never reached is a true orphan, the check FAT32
// cannot make since it has no independent bitmap to consult.
func (w *Walker) ReportOrphans(rep *rimfs.Report, sampleLimit int) error {
	last := w.meta.LastDataUnit()
	found := 0
	alloc := NewAllocator(w.meta)
	for c := w.meta.FirstCluster(); c <= last; c++ {
		if sampleLimit > 0 && found >= sampleLimit {
			rep.Warn("ROOT", "orphan report truncated at sample limit")
			break
		}
		free, err := alloc.bitIsFree(w.rio, c)
		if err != nil {
			return wrap("report_orphans", err)
		}
		if !free && !w.tracker.IsMarked(c) {
			rep.Warn("ROOT", fmt.Sprintf("cluster %d is allocated in the bitmap but unreachable from root", c))
			found++
		}
	}
	return nil
}
