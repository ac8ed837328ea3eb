package rimfs

import (
	"github.com/mkidv/rimgo/rimio"
)

// readFatEntry fetches and masks the FAT entry for cluster in the
// given FAT copy. The masking rule (top reserved bits on FAT32, none
// on exFAT) comes from the meta's EntryMask.
func readFatEntry(rio rimio.RimIO, m ClusterMeta, cluster uint32, fatIndex uint8) (uint32, error) {
	off := m.FatEntryOffset(cluster, fatIndex)
	v, err := rimio.ReadU32At(rio, off)
	if err != nil {
		return 0, wrap("read_fat_entry", err)
	}
	return v & m.EntryMask(), nil
}

// WriteFatEntry writes value into cluster's FAT entry across every
// mirrored FAT copy meta declares (num_fats), preserving any reserved
// high bits already present in each copy.
func WriteFatEntry(rio rimio.RimIO, m ClusterMeta, cluster uint32, value uint32) error {
	mask := m.EntryMask()
	for fatIdx := uint8(0); fatIdx < m.NumFats(); fatIdx++ {
		off := m.FatEntryOffset(cluster, fatIdx)
		cur, err := rimio.ReadU32At(rio, off)
		if err != nil {
			return wrap("write_fat_entry", err)
		}
		next := (cur &^ mask) | (value & mask)
		if err := rimio.WriteU32At(rio, off, next); err != nil {
			return wrap("write_fat_entry", err)
		}
	}
	return nil
}

// ClusterCursor walks a FAT chain cluster by cluster, detecting loops
// via a per-cursor step bound and surfacing out-of-range indices as
// InvalidClusterError. It never allocates: every iteration shape
// (single cluster, coalesced run) is a plain callback loop over Next.
type ClusterCursor struct {
	meta         ClusterMeta
	current      uint32
	done         bool
	seen         uint64
	allowSystem  bool
}

// NewClusterCursorSafe restricts traversal to the data-unit range —
// the right default for file/directory content chains.
func NewClusterCursorSafe(meta ClusterMeta, start uint32) *ClusterCursor {
	return &ClusterCursor{meta: meta, current: start}
}

// NewClusterCursor allows system units (e.g. the root directory
// chain, which lives below first_data_unit on FAT32/exFAT).
func NewClusterCursor(meta ClusterMeta, start uint32) *ClusterCursor {
	return &ClusterCursor{meta: meta, current: start, allowSystem: true}
}

func (c *ClusterCursor) inBounds(cluster uint32) bool {
	min := c.meta.FirstDataUnit()
	if c.allowSystem {
		min = c.meta.FirstCluster()
	}
	max := c.meta.LastDataUnit()
	return cluster >= min && cluster <= max
}

// Next advances the cursor one cluster. more is false once the chain
// is exhausted (err is nil) or broken (err is non-nil); callers stop
// iterating on the first !more regardless of err.
func (c *ClusterCursor) Next(rio rimio.RimIO) (cluster uint32, more bool, err error) {
	if c.done {
		return 0, false, nil
	}
	cur := c.current
	c.seen++
	if c.seen > uint64(c.meta.TotalUnits()) {
		c.done = true
		return 0, false, ErrLoopDetected
	}

	if !c.inBounds(cur) {
		c.done = true
		return 0, false, &InvalidClusterError{Cluster: cur}
	}

	next, err := readFatEntry(rio, c.meta, cur, 0)
	if err != nil {
		c.done = true
		return 0, false, err
	}

	if c.meta.IsEOC(next) {
		c.done = true
	} else {
		if !c.inBounds(next) {
			c.done = true
			return 0, false, &InvalidClusterError{Cluster: next}
		}
		c.current = next
	}
	return cur, true, nil
}

// ForEachCluster visits every cluster in the chain individually.
func (c *ClusterCursor) ForEachCluster(rio rimio.RimIO, f func(rio rimio.RimIO, cluster uint32) error) error {
	for {
		cl, more, err := c.Next(rio)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
		if err := f(rio, cl); err != nil {
			return err
		}
	}
}

// ForEachRun coalesces consecutive clusters into (start, len) runs and
// invokes f once per run, flushing whenever the next cluster isn't
// prev+1. This is the hot path for both injection and traversal: a
// fragmented or contiguous chain becomes the smallest possible set of
// backend operations without ever materializing the cluster list.
func (c *ClusterCursor) ForEachRun(rio rimio.RimIO, f func(rio rimio.RimIO, start, length uint32) error) error {
	var start, prev uint32
	var length uint32
	haveRun := false

	flush := func() error {
		if haveRun && length > 0 {
			return f(rio, start, length)
		}
		return nil
	}

	for {
		cl, more, err := c.Next(rio)
		if err != nil {
			return err
		}
		if !more {
			break
		}
		switch {
		case haveRun && cl == prev+1:
			length++
		case haveRun:
			if err := flush(); err != nil {
				return err
			}
			start, length = cl, 1
		default:
			start, length = cl, 1
			haveRun = true
		}
		prev = cl
	}
	return flush()
}

// LinearCursor walks a pre-known-length range without consulting the
// FAT at all — exFAT NoFatChain streams, EXT4 extents, and the
// upcase/bitmap system objects all iterate this way.
type LinearCursor struct {
	meta        ClusterMeta
	next        uint32
	endExcl     uint32
	allowSystem bool
}

func NewLinearCursorSafe(meta ClusterMeta, start, clusters uint32) *LinearCursor {
	return &LinearCursor{meta: meta, next: start, endExcl: saturatingAdd(start, clusters)}
}

func NewLinearCursorFromLenSafe(meta ClusterMeta, start uint32, lenBytes uint64) *LinearCursor {
	clusters := uint32(ceilDiv(lenBytes, uint64(meta.UnitSize())))
	return NewLinearCursorSafe(meta, start, clusters)
}

func NewLinearCursor(meta ClusterMeta, start, clusters uint32) *LinearCursor {
	return &LinearCursor{meta: meta, next: start, endExcl: saturatingAdd(start, clusters), allowSystem: true}
}

func NewLinearCursorFromLen(meta ClusterMeta, start uint32, lenBytes uint64) *LinearCursor {
	clusters := uint32(ceilDiv(lenBytes, uint64(meta.UnitSize())))
	return NewLinearCursor(meta, start, clusters)
}

func (c *LinearCursor) inBounds(cluster uint32) bool {
	min := c.meta.FirstDataUnit()
	if c.allowSystem {
		min = c.meta.FirstCluster()
	}
	max := c.meta.LastDataUnit()
	return cluster >= min && cluster <= max
}

// ForEachRun delivers the whole range as a single run, since a linear
// cursor has no chain breaks by construction.
func (c *LinearCursor) ForEachRun(rio rimio.RimIO, f func(rio rimio.RimIO, start, length uint32) error) error {
	if c.next >= c.endExcl {
		return nil
	}
	start := c.next
	if !c.inBounds(start) {
		return &InvalidClusterError{Cluster: start}
	}
	length := c.endExcl - c.next
	last := saturatingAdd(start, length-1)
	if !c.inBounds(last) {
		return &InvalidClusterError{Cluster: last}
	}
	c.next = c.endExcl
	return f(rio, start, length)
}

// ReadInto reads totalLen logical bytes into dst, batching the
// underlying I/O by run.
func (c *LinearCursor) ReadInto(rio rimio.RimIO, totalLen uint64, dst []byte) error {
	if uint64(len(dst)) < totalLen {
		panic("rimfs: LinearCursor.ReadInto: dst shorter than totalLen")
	}
	unitSize := uint64(c.meta.UnitSize())
	var written uint64

	err := c.ForEachRun(rio, func(rio rimio.RimIO, start, length uint32) error {
		if written >= totalLen {
			return nil
		}
		runBytes := uint64(length) * unitSize
		toCopy := runBytes
		if remaining := totalLen - written; toCopy > remaining {
			toCopy = remaining
		}
		if toCopy > 0 {
			off := c.meta.UnitOffset(start)
			if err := rio.ReadAt(off, dst[written:written+toCopy]); err != nil {
				return err
			}
			written += toCopy
		}
		return nil
	})
	if err != nil {
		return err
	}
	if written < totalLen {
		return wrap("linear_read_into", ErrParsingCorrupted)
	}
	return nil
}

func saturatingAdd(a, b uint32) uint32 {
	sum := uint64(a) + uint64(b)
	if sum > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(sum)
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
