package fat32

import (
	"fmt"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Walker tracks which clusters a tree walk from root actually reaches,
// so the checker can flag loops (a directory cluster claimed twice)
// and orphans (allocated clusters no directory entry points to).
type Walker struct {
	rio              rimio.RimIO
	meta             Meta
	tracker          *rimfs.ReachabilityTracker
	maxDirs          int
	maxEntriesPerDir int
	checkLFN         bool
}

func NewWalker(rio rimio.RimIO, meta Meta, maxDirs, maxEntriesPerDir int, checkLFN bool) *Walker {
	return &Walker{
		rio:              rio,
		meta:             meta,
		tracker:          rimfs.NewReachabilityTracker(meta.FirstCluster(), int(meta.TotalUnits())),
		maxDirs:          maxDirs,
		maxEntriesPerDir: maxEntriesPerDir,
		checkLFN:         checkLFN,
	}
}

func (w *Walker) markChain(first uint32) error {
	cur := rimfs.NewClusterCursorSafe(w.meta, first)
	return cur.ForEachRun(w.rio, func(rio rimio.RimIO, start, length uint32) error {
		w.tracker.MarkRange(start, length)
		return nil
	})
}

const walkMaxDepth = 256

type walkFrame struct {
	cluster uint32
	depth   int
}

// WalkFromRoot performs a depth-bounded explicit-stack traversal from
// the root directory, marking every reachable file and directory
// cluster and flagging directory clusters visited more than once as
// loops.
func (w *Walker) WalkFromRoot(rep *rimfs.Report) error {
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
		if err := w.markChain(top.cluster); err != nil {
			return wrap("walk_from_root", err)
		}

		entriesVisited := 0
		err := scanDirectory(w.rio, w.meta, top.cluster, func(ent entries) (bool, error) {
			if isDotOrDotDot(ent) || ent.entry.attr.IsVolumeID() {
				return false, nil
			}
			entriesVisited++
			if w.maxEntriesPerDir > 0 && entriesVisited > w.maxEntriesPerDir {
				rep.Warn("ROOT", "directory entry count exceeds configured max, stopping scan")
				return true, nil
			}
			if w.checkLFN && len(ent.lfn) > 0 {
				validateLFNSet(rep, ent)
			}
			if ent.isDir() {
				stack = append(stack, walkFrame{cluster: ent.firstCluster(), depth: top.depth + 1})
			} else if ent.size() > 0 {
				if err := w.markChain(ent.firstCluster()); err != nil {
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

// ReportOrphans does a linear scan of FAT copy 0 from the first usable
// cluster, flagging any cluster that's allocated (not free, not bad)
// but was never marked reachable by WalkFromRoot. FAT32 has no
// separate allocation bitmap to cross-reference against, unlike
// exFAT, so "used" is read directly off the FAT.
func (w *Walker) ReportOrphans(rep *rimfs.Report, sampleLimit int) error {
	last := w.meta.LastDataUnit()
	found := 0
	for c := w.meta.FirstCluster(); c <= last; c++ {
		if sampleLimit > 0 && found >= sampleLimit {
			rep.Warn("ROOT", "orphan report truncated at sample limit")
			break
		}
		off := w.meta.FatEntryOffset(c, 0)
		v, err := rimio.ReadU32At(w.rio, off)
		if err != nil {
			return wrap("report_orphans", err)
		}
		v &= w.meta.EntryMask()
		used := v != 0 && v != BadCluster
		if used && !w.tracker.IsMarked(c) {
			rep.Warn("ROOT", fmt.Sprintf("cluster %d is allocated but unreachable from root", c))
			found++
		}
	}
	return nil
}

// validateLFNSet checks that an entry's LFN pieces form a consistent
// sequence: contiguous descending ordinals ending at 1, exactly one
// piece carrying the last-piece flag, and every piece's checksum
// matching the trailing SFN.
func validateLFNSet(rep *rimfs.Report, ent entries) {
	if len(ent.lfn) == 0 {
		return
	}
	chk := lfnChecksum(ent.entry.name)
	lastSeen := false
	for i, p := range ent.lfn {
		wantOrder := byte(len(ent.lfn) - i)
		order := p.order &^ lfnLastFlag
		if order != wantOrder {
			rep.Error("ROOT", "LFN ordinal sequence is broken for an entry")
			return
		}
		if p.order&lfnLastFlag != 0 {
			if lastSeen {
				rep.Error("ROOT", "LFN set carries more than one last-piece flag")
				return
			}
			lastSeen = true
		}
		if p.checksum != chk {
			rep.Error("ROOT", "LFN checksum does not match its short name")
			return
		}
	}
	if !lastSeen {
		rep.Error("ROOT", "LFN set never carries a last-piece flag")
	}
}
