package ext4

import (
	"strings"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// Resolver reads a formatted ext4 volume back: inode lookups, linear
// directory scans, extent-based content reads, and path resolution.
// Unlike FAT32/exFAT's chain-walking resolver, every read here starts
// from an inode number and follows its own extent tree.
type Resolver struct {
	rio  rimio.RimIO
	meta Meta
}

func NewResolver(rio rimio.RimIO, meta Meta) *Resolver {
	return &Resolver{rio: rio, meta: meta}
}

func (r *Resolver) readInode(inode uint32) (rawInode, error) {
	in, err := readInodeAt(r.rio, r.meta, inode)
	if err != nil {
		return rawInode{}, wrap("read_inode", err)
	}
	return in, nil
}

func (r *Resolver) readExtents(in rawInode) ([]rawExtent, error) {
	if in.Flags&InodeFlagExtents == 0 {
		return nil, wrap("read_extents", ErrNoExtents)
	}
	return decodeExtents(in.Block[:])
}

// readContent reassembles a file's bytes from its extent tree.
func (r *Resolver) readContent(in rawInode) ([]byte, error) {
	size := uint64(in.SizeLo) | uint64(in.SizeHigh)<<32
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}

	extents, err := r.readExtents(in)
	if err != nil {
		return nil, err
	}
	for _, e := range extents {
		logicalOff := uint64(e.Block) * uint64(r.meta.blockSize)
		if logicalOff >= size {
			continue
		}
		runBytes := uint64(e.Len) * uint64(r.meta.blockSize)
		toCopy := runBytes
		if remaining := size - logicalOff; toCopy > remaining {
			toCopy = remaining
		}
		if err := r.rio.ReadAt(r.meta.UnitOffset(e.startBlock()), out[logicalOff:logicalOff+toCopy]); err != nil {
			return nil, wrap("read_content", err)
		}
	}
	return out, nil
}

// readDirEntries reads and decodes every linear directory block an
// inode's extents cover, skipping "." and "..".
func (r *Resolver) readDirEntries(in rawInode) ([]rawDirEntry, error) {
	if in.Mode&0xF000 != modeDir {
		return nil, wrap("read_dir_entries", ErrNotDirectory)
	}
	extents, err := r.readExtents(in)
	if err != nil {
		return nil, err
	}

	var out []rawDirEntry
	for _, e := range extents {
		for i := uint16(0); i < e.Len; i++ {
			block := make([]byte, r.meta.blockSize)
			if err := r.rio.ReadAt(r.meta.UnitOffset(e.startBlock()+uint32(i)), block); err != nil {
				return nil, wrap("read_dir_entries", err)
			}
			for _, ent := range decodeDirEntries(block) {
				if ent.Name == "." || ent.Name == ".." {
					continue
				}
				out = append(out, ent)
			}
		}
	}
	return out, nil
}

// ReadDir lists inode's children.
func (r *Resolver) ReadDir(inode uint32) ([]rawDirEntry, error) {
	in, err := r.readInode(inode)
	if err != nil {
		return nil, err
	}
	return r.readDirEntries(in)
}

func (r *Resolver) findInDir(inode uint32, name string) (rawDirEntry, bool, error) {
	entries, err := r.ReadDir(inode)
	if err != nil {
		return rawDirEntry{}, false, err
	}
	for _, e := range entries {
		if strings.EqualFold(e.Name, name) {
			return e, true, nil
		}
	}
	return rawDirEntry{}, false, nil
}

// ResolvePath walks a "/"-separated path from the root inode. An empty
// path resolves to the root directory entry itself.
func (r *Resolver) ResolvePath(path string) (rawDirEntry, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return rawDirEntry{Inode: RootInode, Name: "", FileType: FTDir}, nil
	}

	inode := uint32(RootInode)
	parts := strings.Split(path, "/")
	var current rawDirEntry
	for i, part := range parts {
		entry, ok, err := r.findInDir(inode, part)
		if err != nil {
			return rawDirEntry{}, err
		}
		if !ok {
			return rawDirEntry{}, wrap("resolve_path", rimfs.ErrNotFound)
		}
		current = entry
		if i < len(parts)-1 {
			if entry.FileType != FTDir {
				return rawDirEntry{}, wrap("resolve_path", rimfs.ErrNotFound)
			}
			inode = entry.Inode
		}
	}
	return current, nil
}

// ReadAttributes returns the FileAttributes of the entry at path.
func (r *Resolver) ReadAttributes(path string) (rimfs.FileAttributes, error) {
	entry, err := r.ResolvePath(path)
	if err != nil {
		return rimfs.FileAttributes{}, err
	}
	in, err := r.readInode(entry.Inode)
	if err != nil {
		return rimfs.FileAttributes{}, err
	}
	return parseAttributes(in), nil
}

func parseAttributes(in rawInode) rimfs.FileAttributes {
	fa := toFileAttributes(in.Mode)
	created := int64(in.CTime)
	modified := int64(in.MTime)
	accessed := int64(in.ATime)
	fa.Created = &created
	fa.Modified = &modified
	fa.Accessed = &accessed
	return fa
}

// ReadFile returns the full content of the file at path.
func (r *Resolver) ReadFile(path string) ([]byte, error) {
	entry, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if entry.FileType == FTDir {
		return nil, wrap("read_file", rimfs.ErrResolverUnsupported)
	}
	in, err := r.readInode(entry.Inode)
	if err != nil {
		return nil, err
	}
	return r.readContent(in)
}
