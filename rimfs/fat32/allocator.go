package fat32

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Allocator hands out free clusters with a linear first-fit scan of
// FAT copy 0, remembering where the last scan stopped so a build that
// injects many small files doesn't re-scan already-claimed clusters
// from the start every time.
type Allocator struct {
	meta rimfs.ClusterMeta
	next uint32
}

func NewAllocator(meta rimfs.ClusterMeta) *Allocator {
	return &Allocator{meta: meta, next: meta.FirstCluster()}
}

func (a *Allocator) isFree(rio rimio.RimIO, cluster uint32) (bool, error) {
	off := a.meta.FatEntryOffset(cluster, 0)
	v, err := rimio.ReadU32At(rio, off)
	if err != nil {
		return false, wrap("allocator_is_free", err)
	}
	return v&a.meta.EntryMask() == 0, nil
}

// AllocateOne finds and reserves (marks EOC) a single free cluster.
func (a *Allocator) AllocateOne(rio rimio.RimIO) (uint32, error) {
	last := a.meta.FirstCluster() + a.meta.TotalUnits()
	for c := a.next; c < last; c++ {
		free, err := a.isFree(rio, c)
		if err != nil {
			return 0, err
		}
		if free {
			if err := rimfs.WriteFatEntry(rio, a.meta, c, a.meta.EOC()); err != nil {
				return 0, wrap("allocator_allocate_one", err)
			}
			a.next = c + 1
			return c, nil
		}
	}
	return 0, wrap("allocator_allocate_one", rimfs.ErrOutOfBlocks)
}

// AllocateChain reserves count clusters and links them into one
// chain, returning the first cluster. Clusters need not be contiguous
// on disk; WriteFatEntry links each one to the next as it's claimed.
func (a *Allocator) AllocateChain(rio rimio.RimIO, count int) (uint32, error) {
	if count <= 0 {
		return 0, wrap("allocator_allocate_chain", rimfs.ErrOutOfBlocks)
	}
	first, err := a.AllocateOne(rio)
	if err != nil {
		return 0, err
	}
	prev := first
	for i := 1; i < count; i++ {
		next, err := a.AllocateOne(rio)
		if err != nil {
			return 0, err
		}
		if err := rimfs.WriteFatEntry(rio, a.meta, prev, next); err != nil {
			return 0, wrap("allocator_allocate_chain", err)
		}
		prev = next
	}
	return first, nil
}

// ClustersNeeded returns how many whole clusters sizeBytes needs under
// unitSize, with a minimum of 1 so a zero-length file still gets a
// cluster to hold its (empty) content.
func ClustersNeeded(sizeBytes uint64, unitSize uint32) int {
	if sizeBytes == 0 {
		return 1
	}
	n := (sizeBytes + uint64(unitSize) - 1) / uint64(unitSize)
	return int(n)
}
