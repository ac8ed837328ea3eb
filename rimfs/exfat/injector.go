package exfat

import (
	"time"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// dirContext accumulates one directory's raw entry-set bytes before
// its first cluster and everything that follows is known, the same
// streaming-writer shape fat32.Injector uses.
type dirContext struct {
	cluster uint32
	buf     []byte
}

// Injector builds an exFAT tree top-down over an explicit directory
// context stack. Files are allocated contiguously when free space
// allows (setting the stream entry's NoFatChain bit for the
// resolver's fast read path); directories grow one cluster at a time
// via ensureChainCapacity, same as fat32.
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
// (the system entries written by Format), truncating at its EOD
// marker so subsequent writes append after it.
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
	in.stack = []*dirContext{{cluster: root, buf: append([]byte(nil), raw[:end]...)}}
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

// WriteDir allocates a fresh directory cluster, appends its entry set
// to the current directory's buffer, and pushes it as the new current
// context. exFAT directories carry no "."/".." entries: the parent
// link lives only in the tree the injector itself is walking.
func (in *Injector) WriteDir(name string, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_dir", rimfs.ErrStackUnderflow)
	}

	childCluster, err := in.alloc.AllocateOne(in.rio)
	if err != nil {
		return wrap("write_dir", err)
	}

	set, err := newEntrySet(name, true, childCluster, 0, fa, false, time.Now().UTC())
	if err != nil {
		return wrap("write_dir", err)
	}
	entBuf := make([]byte, set.sizeInBytes())
	set.encodeInto(entBuf)
	parent.buf = append(parent.buf, entBuf...)

	in.stack = append(in.stack, &dirContext{cluster: childCluster})
	return nil
}

// WriteFile allocates the file's content chain — contiguous when the
// heap has room, a linked chain otherwise — streams the content in,
// and appends the file's entry set to the current directory's buffer.
func (in *Injector) WriteFile(name string, content rimfs.ContentSource, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_file", rimfs.ErrStackUnderflow)
	}

	size := content.Len()
	count := ClustersNeeded(size, in.meta.UnitSize())
	first, contiguous, err := in.alloc.AllocateContiguous(in.rio, count)
	if err != nil {
		return wrap("write_file", err)
	}
	if err := in.streamContent(first, contiguous, content); err != nil {
		return wrap("write_file", err)
	}

	set, err := newEntrySet(name, false, first, size, fa, contiguous, time.Now().UTC())
	if err != nil {
		return wrap("write_file", err)
	}
	buf := make([]byte, set.sizeInBytes())
	set.encodeInto(buf)
	parent.buf = append(parent.buf, buf...)
	return nil
}

func (in *Injector) streamContent(first uint32, contiguous bool, content rimfs.ContentSource) error {
	var cur interface {
		ForEachRun(rimio.RimIO, func(rimio.RimIO, uint32, uint32) error) error
	}
	if contiguous {
		cur = rimfs.NewLinearCursorFromLenSafe(in.meta, first, content.Len())
	} else {
		cur = rimfs.NewClusterCursorSafe(in.meta, first)
	}

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
// buffer, grows its chain if needed, writes it, and pops the context.
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

func (in *Injector) writeChainBuffer(first uint32, buf []byte) error {
	cur := rimfs.NewClusterCursor(in.meta, first)
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
