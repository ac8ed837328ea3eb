package exfat

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Allocator hands out free clusters by consulting the allocation
// bitmap — exFAT's source of truth for "used", unlike FAT32 which only
// has the FAT — and keeps the FAT chain in lockstep on every
// allocation so the checker's bitmap/FAT consistency pass always
// holds, regardless of whether a chain ends up contiguous.
type Allocator struct {
	meta Meta
	next uint32
}

func NewAllocator(meta Meta) *Allocator {
	return &Allocator{meta: meta, next: meta.FirstDataUnit()}
}

func (a *Allocator) bitIsFree(rio rimio.RimIO, cluster uint32) (bool, error) {
	off, bit := a.meta.BitmapBitOffset(cluster)
	var b [1]byte
	if err := rio.ReadAt(off, b[:]); err != nil {
		return false, wrap("bit_is_free", err)
	}
	return b[0]&(1<<bit) == 0, nil
}

func (a *Allocator) setBit(rio rimio.RimIO, cluster uint32, used bool) error {
	off, bit := a.meta.BitmapBitOffset(cluster)
	var b [1]byte
	if err := rio.ReadAt(off, b[:]); err != nil {
		return wrap("set_bit", err)
	}
	if used {
		b[0] |= 1 << bit
	} else {
		b[0] &^= 1 << bit
	}
	return wrap("set_bit", rio.WriteAt(off, b[:]))
}

// AllocateOne finds and reserves (bitmap bit set, FAT entry EOC) a
// single free cluster.
func (a *Allocator) AllocateOne(rio rimio.RimIO) (uint32, error) {
	last := a.meta.LastDataUnit()
	for c := a.next; c <= last; c++ {
		free, err := a.bitIsFree(rio, c)
		if err != nil {
			return 0, err
		}
		if free {
			if err := a.setBit(rio, c, true); err != nil {
				return 0, wrap("allocate_one", err)
			}
			if err := rimfs.WriteFatEntry(rio, a.meta, c, a.meta.EOC()); err != nil {
				return 0, wrap("allocate_one", err)
			}
			a.next = c + 1
			return c, nil
		}
	}
	return 0, wrap("allocate_one", rimfs.ErrOutOfBlocks)
}

// AllocateChain reserves count possibly-noncontiguous clusters and
// links them via the FAT, returning the first cluster.
func (a *Allocator) AllocateChain(rio rimio.RimIO, count int) (uint32, error) {
	if count <= 0 {
		return 0, wrap("allocate_chain", rimfs.ErrOutOfBlocks)
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
			return 0, wrap("allocate_chain", err)
		}
		prev = next
	}
	return first, nil
}

// AllocateContiguous reserves count consecutive free clusters as one
// run, so the caller may set the stream entry's NoFatChain flag and
// let the resolver skip the FAT on read. The FAT is still written
// (sequential pointers, EOC on the tail) purely so the bitmap/FAT
// consistency check holds — exFAT readers honoring NoFatChain never
// consult it.
func (a *Allocator) AllocateContiguous(rio rimio.RimIO, count int) (uint32, bool, error) {
	if count <= 0 {
		count = 1
	}
	last := a.meta.LastDataUnit()
	for start := a.next; start+uint32(count)-1 <= last; start++ {
		ok := true
		for i := 0; i < count; i++ {
			free, err := a.bitIsFree(rio, start+uint32(i))
			if err != nil {
				return 0, false, err
			}
			if !free {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		for i := 0; i < count; i++ {
			cl := start + uint32(i)
			if err := a.setBit(rio, cl, true); err != nil {
				return 0, false, wrap("allocate_contiguous", err)
			}
			next := a.meta.EOC()
			if i < count-1 {
				next = cl + 1
			}
			if err := rimfs.WriteFatEntry(rio, a.meta, cl, next); err != nil {
				return 0, false, wrap("allocate_contiguous", err)
			}
		}
		a.next = start + uint32(count)
		return start, true, nil
	}
	// Fragmented: fall back to a regular, possibly-noncontiguous chain.
	first, err := a.AllocateChain(rio, count)
	return first, false, err
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
