package fat32

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// dirContext accumulates one directory's raw entry bytes before its
// first cluster and everything that follows is known, so a child's
// directory entry can be appended to its parent's buffer immediately
// instead of deferring the whole tree to a second pass.
type dirContext struct {
	cluster uint32
	buf     []byte
	ordinal int
}

// Injector builds a FAT32 tree top-down over an explicit directory
// context stack, mirroring the teacher's single-pass streaming writer
// rather than materializing the whole image in memory first.
type Injector struct {
	rio   rimio.RimIO
	meta  Meta
	alloc *Allocator
	stack []*dirContext
}

func NewInjector(rio rimio.RimIO, meta Meta, alloc *Allocator) *Injector {
	return &Injector{rio: rio, meta: meta, alloc: alloc}
}

func (in *Injector) current() *dirContext {
	if len(in.stack) == 0 {
		return nil
	}
	return in.stack[len(in.stack)-1]
}

// SetRootContext loads the already-formatted root directory's content
// (the volume label entry written by Format), truncating at its EOD
// marker so subsequent writes append after it instead of overwriting.
func (in *Injector) SetRootContext() error {
	root := in.meta.RootUnit()
	raw, err := in.readChain(root)
	if err != nil {
		return wrap("set_root_context", err)
	}
	end := len(raw)
	for i := 0; i+sizeDirEntry <= len(raw); i += sizeDirEntry {
		if raw[i] == entryEOD {
			end = i
			break
		}
	}
	in.stack = []*dirContext{{cluster: root, buf: append([]byte(nil), raw[:end]...), ordinal: 1}}
	return nil
}

func (in *Injector) readChain(first uint32) ([]byte, error) {
	cur := rimfs.NewClusterCursor(in.meta, first)
	var out []byte
	err := cur.ForEachRun(in.rio, func(rio rimio.RimIO, start, length uint32) error {
		n := int(length) * int(in.meta.UnitSize())
		buf := make([]byte, n)
		if err := rio.ReadAt(in.meta.UnitOffset(start), buf); err != nil {
			return err
		}
		out = append(out, buf...)
		return nil
	})
	return out, err
}

// WriteDir allocates a fresh directory, appends its entry to the
// current directory's buffer, writes its "."/".." head, and pushes it
// as the new current context.
func (in *Injector) WriteDir(name string, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_dir", rimfs.ErrStackUnderflow)
	}

	childCluster, err := in.alloc.AllocateOne(in.rio)
	if err != nil {
		return wrap("write_dir", err)
	}

	ent := newDirEntries(name, true, childCluster, 0, fa, parent.ordinal)
	parent.ordinal++
	entBuf := make([]byte, ent.sizeInBytes())
	ent.encodeInto(entBuf)
	parent.buf = append(parent.buf, entBuf...)

	dotdotCluster := parent.cluster
	if dotdotCluster == in.meta.RootUnit() {
		dotdotCluster = 0
	}
	head := make([]byte, 2*sizeDirEntry)
	dotEntry(childCluster).encodeInto(head[0:sizeDirEntry])
	dotDotEntry(dotdotCluster).encodeInto(head[sizeDirEntry : 2*sizeDirEntry])

	in.stack = append(in.stack, &dirContext{cluster: childCluster, buf: head, ordinal: 1})
	return nil
}

// WriteFile allocates a content chain, streams content into it, and
// appends the file's entry to the current directory's buffer.
func (in *Injector) WriteFile(name string, content rimfs.ContentSource, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_file", rimfs.ErrStackUnderflow)
	}

	size := content.Len()
	count := ClustersNeeded(size, in.meta.UnitSize())
	first, err := in.alloc.AllocateChain(in.rio, count)
	if err != nil {
		return wrap("write_file", err)
	}
	if err := in.streamContent(first, content); err != nil {
		return wrap("write_file", err)
	}

	ent := newDirEntries(name, false, first, uint32(size), fa, parent.ordinal)
	parent.ordinal++
	buf := make([]byte, ent.sizeInBytes())
	ent.encodeInto(buf)
	parent.buf = append(parent.buf, buf...)
	return nil
}

func (in *Injector) streamContent(first uint32, content rimfs.ContentSource) error {
	cur := rimfs.NewClusterCursorSafe(in.meta, first)
	var written uint64
	total := content.Len()
	return cur.ForEachRun(in.rio, func(rio rimio.RimIO, start, length uint32) error {
		runBytes := uint64(length) * uint64(in.meta.UnitSize())
		toCopy := runBytes
		if remaining := total - written; toCopy > remaining {
			toCopy = remaining
		}
		buf := make([]byte, runBytes)
		if toCopy > 0 {
			if err := content.ReadAt(written, buf[:toCopy]); err != nil {
				return err
			}
			written += toCopy
		}
		return rio.WriteAt(in.meta.UnitOffset(start), buf)
	})
}

// FlushCurrent appends the EOD marker to the current directory's
// buffer, ensures its chain is long enough to hold it, writes it, and
// pops the context.
func (in *Injector) FlushCurrent() error {
	ctx := in.current()
	if ctx == nil {
		return wrap("flush_current", rimfs.ErrStackUnderflow)
	}
	in.stack = in.stack[:len(in.stack)-1]

	buf := append(ctx.buf, make([]byte, sizeDirEntry)...) // zeroed EOD entry
	if err := in.ensureChainCapacity(ctx.cluster, len(buf)); err != nil {
		return wrap("flush_current", err)
	}
	return wrap("flush_current", in.writeChainBuffer(ctx.cluster, buf))
}

// Flush drains the remaining context stack bottom to top.
func (in *Injector) Flush() error {
	for len(in.stack) > 0 {
		if err := in.FlushCurrent(); err != nil {
			return err
		}
	}
	return nil
}

// ensureChainCapacity extends first's chain with freshly allocated
// clusters until it can hold sizeBytes.
func (in *Injector) ensureChainCapacity(first uint32, sizeBytes int) error {
	needed := ClustersNeeded(uint64(sizeBytes), in.meta.UnitSize())

	have := 0
	last := first
	cur := rimfs.NewClusterCursor(in.meta, first)
	err := cur.ForEachCluster(in.rio, func(rio rimio.RimIO, cluster uint32) error {
		have++
		last = cluster
		return nil
	})
	if err != nil {
		return err
	}

	for have < needed {
		next, err := in.alloc.AllocateOne(in.rio)
		if err != nil {
			return err
		}
		if err := rimfs.WriteFatEntry(in.rio, in.meta, last, next); err != nil {
			return err
		}
		last = next
		have++
	}
	return nil
}

// writeChainBuffer writes buf across first's cluster chain, batching
// each contiguous run into one backend call and zero-padding the final
// partial cluster.
func (in *Injector) writeChainBuffer(first uint32, buf []byte) error {
	cur := rimfs.NewClusterCursorSafe(in.meta, first)
	unitSize := int(in.meta.UnitSize())
	var written int

	return cur.ForEachRun(in.rio, func(rio rimio.RimIO, start, length uint32) error {
		runBytes := int(length) * unitSize
		chunk := make([]byte, runBytes)
		if written < len(buf) {
			n := copy(chunk, buf[written:])
			written += n
		}
		return rio.WriteAt(in.meta.UnitOffset(start), chunk)
	})
}

// InjectTree walks root's children in order, writing every file and
// recursing into every directory, then flushing the whole stack.
// root itself must already be the pushed context (via SetRootContext)
// when node is the tree root, or the just-pushed child when called
// recursively from WriteDir.
func (in *Injector) InjectTree(node *rimfs.FsNode) error {
	for _, child := range node.Children {
		switch {
		case child.IsFile():
			if err := in.WriteFile(child.Name, child.Content, child.Attr); err != nil {
				return err
			}
		case child.IsDir():
			if err := in.WriteDir(child.Name, child.Attr); err != nil {
				return err
			}
			if err := in.InjectTree(child); err != nil {
				return err
			}
			if err := in.FlushCurrent(); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildTree formats freshly (via the caller) then injects root into
// the existing root context and flushes the root directory itself.
func (in *Injector) BuildTree(root *rimfs.FsNode) error {
	if err := in.SetRootContext(); err != nil {
		return err
	}
	if err := in.InjectTree(root); err != nil {
		return err
	}
	return in.Flush()
}
