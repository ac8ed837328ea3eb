package ext4

import (
	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// dirContext accumulates one directory's entries (not raw bytes: ext4
// directory blocks each independently pad their final entry's rec_len
// to the block boundary, so entries must be (re)packed into blocks as
// a whole rather than streamed, unlike exfat's append-only buffer).
type dirContext struct {
	inode    uint32
	blocks   []uint32
	entries  []rawDirEntry
	childDir int // number of direct child directories, for the link count
	attr     rimfs.FileAttributes
}

// Injector builds an ext4 tree top-down over an explicit directory
// context stack, the same shape fat32/exfat use. It additionally keeps
// an in-memory copy of the superblock and BGDT free-space counters,
// updated as blocks/inodes are handed out, and flushed back to every
// sparse-super group's metadata copy at the end.
type Injector struct {
	rio   rimio.RimIO
	meta  Meta
	alloc *Allocator
	stack []*dirContext

	sb    rawSuperblock
	descs []rawGroupDesc
}

func NewInjector(rio rimio.RimIO, meta Meta, alloc *Allocator) (*Injector, error) {
	sbBuf := make([]byte, SuperblockSize)
	if err := rio.ReadAt(SuperblockOffset, sbBuf); err != nil {
		return nil, wrap("new_injector", err)
	}
	sb := unpackSuperblock(sbBuf)
	if sb.Magic != SuperblockMagic {
		return nil, wrap("new_injector", ErrBadMagic)
	}

	bgdtOffset := meta.UnitOffset(ComputeGroupLayout(meta, 0).GroupStart + 1)
	descs := make([]rawGroupDesc, meta.groupCount)
	for g := range descs {
		buf := make([]byte, BGDTEntrySize)
		if err := rio.ReadAt(bgdtOffset+uint64(g)*BGDTEntrySize, buf); err != nil {
			return nil, wrap("new_injector", err)
		}
		descs[g] = unpackGroupDesc(buf)
	}

	return &Injector{rio: rio, meta: meta, alloc: alloc, sb: sb, descs: descs}, nil
}

func (in *Injector) current() *dirContext {
	if len(in.stack) == 0 {
		return nil
	}
	return in.stack[len(in.stack)-1]
}

func (in *Injector) accountBlocks(blocks []uint32) {
	for _, b := range blocks {
		group, _ := in.meta.groupOfBlock(b)
		in.descs[group].FreeBlocksCountLo--
		in.sb.FreeBlocksCountLo--
	}
}

func (in *Injector) accountInode(inode uint32) {
	group, _ := in.meta.groupOfInode(inode)
	in.descs[group].FreeInodesCountLo--
	in.sb.FreeInodesCount--
}

func (in *Injector) accountDir(inode uint32) {
	group, _ := in.meta.groupOfInode(inode)
	in.descs[group].UsedDirsCountLo++
}

// SetRootContext loads the already-formatted root directory's content
// (the "." and ".." entries Format wrote), then creates lost+found if
// it isn't already present — the first time root is touched, same as
// the teacher's approach of pushing and immediately flushing a child.
func (in *Injector) SetRootContext() error {
	rootBlock := in.meta.RootUnit()
	buf := make([]byte, in.meta.blockSize)
	if err := in.rio.ReadAt(in.meta.UnitOffset(rootBlock), buf); err != nil {
		return wrap("set_root_context", err)
	}
	entries := decodeDirEntries(buf)

	childDir := 0
	hasLostFound := false
	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}
		if e.FileType == FTDir {
			childDir++
		}
		if e.Name == "lost+found" {
			hasLostFound = true
		}
	}

	in.stack = []*dirContext{{
		inode:    RootInode,
		blocks:   []uint32{rootBlock},
		entries:  entries,
		childDir: childDir,
		attr:     rimfs.DefaultDirAttributes(),
	}}

	if !hasLostFound {
		if err := in.WriteDir("lost+found", rimfs.DefaultDirAttributes()); err != nil {
			return wrap("set_root_context", err)
		}
		if err := in.FlushCurrent(); err != nil {
			return wrap("set_root_context", err)
		}
	}
	return nil
}

// WriteDir allocates a fresh directory inode and block, appends its
// entry to the current directory, and pushes it as the new current
// context.
func (in *Injector) WriteDir(name string, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_dir", rimfs.ErrStackUnderflow)
	}

	childInode, err := in.alloc.AllocateInode(in.rio)
	if err != nil {
		return wrap("write_dir", err)
	}
	in.accountInode(childInode)

	blocks, err := in.alloc.AllocateBlocks(in.rio, 1)
	if err != nil {
		return wrap("write_dir", err)
	}
	in.accountBlocks(blocks)

	parent.entries = append(parent.entries, rawDirEntry{Inode: childInode, Name: name, FileType: FTDir})
	parent.childDir++

	in.stack = append(in.stack, &dirContext{
		inode:  childInode,
		blocks: blocks,
		entries: []rawDirEntry{
			dotEntry(childInode),
			dotdotEntry(parent.inode),
		},
		attr: fa,
	})
	return nil
}

// WriteFile allocates the file's data blocks, streams its content in,
// writes its inode with an extent tree built from the allocated
// blocks, and appends its entry to the current directory.
func (in *Injector) WriteFile(name string, content rimfs.ContentSource, fa rimfs.FileAttributes) error {
	parent := in.current()
	if parent == nil {
		return wrap("write_file", rimfs.ErrStackUnderflow)
	}

	size := content.Len()
	count := BlocksNeeded(size, in.meta.blockSize)
	var blocks []uint32
	if count > 0 {
		var err error
		blocks, err = in.alloc.AllocateBlocks(in.rio, count)
		if err != nil {
			return wrap("write_file", err)
		}
		in.accountBlocks(blocks)
		if err := in.streamContent(blocks, content); err != nil {
			return wrap("write_file", err)
		}
	}

	fileInode, err := in.alloc.AllocateInode(in.rio)
	if err != nil {
		return wrap("write_file", err)
	}
	in.accountInode(fileInode)

	raw := rawInode{
		Mode:       modeFor(false, fa),
		LinksCount: 1,
		SizeLo:     uint32(size),
		SizeHigh:   uint32(size >> 32),
		BlocksLo:   uint32(len(blocks)) * (in.meta.blockSize / 512),
	}
	applyTimestamps(&raw, fa)
	if len(blocks) > 0 {
		extents := buildExtents(blocks)
		if len(extents) > ExtentsPerInode {
			return wrap("write_file", ErrExtentTreeDeep)
		}
		raw.Flags = InodeFlagExtents
		encodeExtents(raw.Block[:], extents)
	}
	if err := writeInodeAt(in.rio, in.meta, fileInode, raw); err != nil {
		return wrap("write_file", err)
	}

	parent.entries = append(parent.entries, rawDirEntry{Inode: fileInode, Name: name, FileType: FTRegFile})
	return nil
}

func (in *Injector) streamContent(blocks []uint32, content rimfs.ContentSource) error {
	var written uint64
	total := content.Len()
	for _, block := range blocks {
		buf := make([]byte, in.meta.blockSize)
		toCopy := uint64(in.meta.blockSize)
		if remaining := total - written; toCopy > remaining {
			toCopy = remaining
		}
		if toCopy > 0 {
			if err := content.ReadAt(written, buf[:toCopy]); err != nil {
				return err
			}
			written += toCopy
		}
		if err := in.rio.WriteAt(in.meta.UnitOffset(block), buf); err != nil {
			return err
		}
	}
	return nil
}

// packEntriesIntoBlocks lays entries out into one or more block-sized
// buffers, stretching each block's last entry's rec_len to reach
// exactly the block boundary — the layout e2fsck expects of every
// linear directory block.
func packEntriesIntoBlocks(entries []rawDirEntry, blockSize uint32) [][]byte {
	var blocks [][]byte
	var cur []byte
	var used uint32

	for _, e := range entries {
		recLen := encodedRecLen(e.Name)
		if cur != nil && used+uint32(recLen) > blockSize {
			blocks = append(blocks, stretchLastEntry(cur, blockSize))
			cur = nil
			used = 0
		}
		if cur == nil {
			cur = make([]byte, 0, blockSize)
		}
		cur = appendDirEntry(cur, e, recLen)
		used += uint32(recLen)
	}
	if cur != nil {
		blocks = append(blocks, stretchLastEntry(cur, blockSize))
	}
	return blocks
}

// stretchLastEntry widens buf's final entry's rec_len so it reaches
// blockSize, then pads buf with zeros out to that length.
func stretchLastEntry(buf []byte, blockSize uint32) []byte {
	off := 0
	for off+dirEntryHeaderSize <= len(buf) {
		rl := int(buf[off+4]) | int(buf[off+5])<<8
		if off+rl >= len(buf) {
			break
		}
		off += rl
	}
	newRecLen := int(blockSize) - off
	buf[off+4] = byte(newRecLen)
	buf[off+5] = byte(newRecLen >> 8)
	if grow := int(blockSize) - len(buf); grow > 0 {
		buf = append(buf, make([]byte, grow)...)
	}
	return buf
}

// FlushCurrent packs the current directory's entries into blocks
// (growing its block allocation if needed), writes them, patches its
// inode with the resulting link count and extent tree, and pops it.
func (in *Injector) FlushCurrent() error {
	ctx := in.current()
	if ctx == nil {
		return wrap("flush_current", rimfs.ErrStackUnderflow)
	}
	in.stack = in.stack[:len(in.stack)-1]

	packed := packEntriesIntoBlocks(ctx.entries, in.meta.blockSize)
	for len(ctx.blocks) < len(packed) {
		more, err := in.alloc.AllocateBlocks(in.rio, len(packed)-len(ctx.blocks))
		if err != nil {
			return wrap("flush_current", err)
		}
		in.accountBlocks(more)
		ctx.blocks = append(ctx.blocks, more...)
	}

	for i, block := range packed {
		if err := in.rio.WriteAt(in.meta.UnitOffset(ctx.blocks[i]), block); err != nil {
			return wrap("flush_current", err)
		}
	}
	if ctx.inode != RootInode {
		// Root's used-dir count was already seeded by the formatter;
		// every other directory here is newly allocated.
		in.accountDir(ctx.inode)
	}

	raw := rawInode{
		Mode:       modeFor(true, ctx.attr),
		LinksCount: RootDirLinks + uint16(ctx.childDir),
		SizeLo:     uint32(len(ctx.blocks)) * in.meta.blockSize,
		BlocksLo:   uint32(len(ctx.blocks)) * (in.meta.blockSize / 512),
		Flags:      InodeFlagExtents,
	}
	applyTimestamps(&raw, ctx.attr)
	encodeExtents(raw.Block[:], buildExtents(ctx.blocks))

	return wrap("flush_current", writeInodeAt(in.rio, in.meta, ctx.inode, raw))
}

// Flush drains the remaining context stack bottom to top, then writes
// the updated superblock and BGDT free-space counters back to every
// sparse-super group's metadata copy.
func (in *Injector) Flush() error {
	for len(in.stack) > 0 {
		if err := in.FlushCurrent(); err != nil {
			return err
		}
	}
	return in.flushMetadata()
}

func (in *Injector) flushMetadata() error {
	var bgdtBuf []byte
	for _, d := range in.descs {
		bgdtBuf = append(bgdtBuf, packGroupDesc(d)...)
	}

	for g := uint32(0); g < in.meta.groupCount; g++ {
		if !IsSparseSuperGroup(g) {
			continue
		}
		layout := ComputeGroupLayout(in.meta, g)
		sb := in.sb
		sb.BlockGroupNr = uint16(g)

		var sbOffset uint64
		if g == 0 {
			sbOffset = SuperblockOffset
		} else {
			sbOffset = in.meta.UnitOffset(layout.GroupStart)
		}
		if err := in.rio.WriteAt(sbOffset, packSuperblock(sb)); err != nil {
			return wrap("flush_metadata", err)
		}
		bgdtOffset := in.meta.UnitOffset(layout.GroupStart + 1)
		if err := in.rio.WriteAt(bgdtOffset, bgdtBuf); err != nil {
			return wrap("flush_metadata", err)
		}
	}
	return nil
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

// BuildTree sets up the root context (creating lost+found if needed),
// injects root's children, and flushes the whole stack plus metadata.
func (in *Injector) BuildTree(root *rimfs.FsNode) error {
	if err := in.SetRootContext(); err != nil {
		return err
	}
	if err := in.InjectTree(root); err != nil {
		return err
	}
	return in.Flush()
}
