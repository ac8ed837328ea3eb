package fat32

import (
	"errors"
	"strings"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// errStopScan is a private sentinel used to break out of
// ClusterCursor.ForEachRun early once a callback has what it needs —
// the same "found" early-exit trick the teacher's cursor plumbing
// uses, just surfaced as a local error instead of a special Other
// variant.
var errStopScan = errors.New("fat32: directory scan stopped early")

// Resolver reads a formatted FAT32 volume back into entries: directory
// listings, path lookups, and file content, all streamed through the
// shared cluster cursor rather than loading a whole chain up front
// except where the caller explicitly wants bytes back.
type Resolver struct {
	rio  rimio.RimIO
	meta Meta
}

func NewResolver(rio rimio.RimIO, meta Meta) *Resolver {
	return &Resolver{rio: rio, meta: meta}
}

// scanDirectory walks dirCluster's chain, reassembling LFN pieces with
// their trailing SFN entry and invoking cb for each. cb returns stop
// to end the scan early (e.g. once a name match is found).
func scanDirectory(rio rimio.RimIO, meta Meta, dirCluster uint32, cb func(ent entries) (stop bool, err error)) error {
	var lfnStack []lfnEntry
	var cbErr error

	cur := rimfs.NewClusterCursorSafe(meta, dirCluster)
	err := cur.ForEachRun(rio, func(rio rimio.RimIO, start, length uint32) error {
		n := int(length) * int(meta.UnitSize())
		buf := make([]byte, n)
		if err := rio.ReadAt(meta.UnitOffset(start), buf); err != nil {
			return err
		}
		for off := 0; off+sizeDirEntry <= len(buf); off += sizeDirEntry {
			raw := buf[off : off+sizeDirEntry]
			switch raw[0] {
			case entryEOD:
				return errStopScan
			case entryDeleted:
				lfnStack = lfnStack[:0]
				continue
			}

			a := attr(raw[11])
			if a.IsLongName() {
				lfnStack = append(lfnStack, decodeLFNEntry(raw))
				continue
			}

			ent := entries{lfn: lfnStack, entry: decodeDirEntry(raw)}
			lfnStack = nil

			stop, err := cb(ent)
			if err != nil {
				cbErr = err
				return errStopScan
			}
			if stop {
				return errStopScan
			}
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return err
	}
	return cbErr
}

func isDotOrDotDot(ent entries) bool {
	return ent.entry.name == dotName || ent.entry.name == dotDotName
}

// ReadDir lists dirCluster's children, excluding ".", "..", and any
// volume label entry (which only ever appears in the root).
func (r *Resolver) ReadDir(dirCluster uint32) ([]entries, error) {
	var out []entries
	err := scanDirectory(r.rio, r.meta, dirCluster, func(ent entries) (bool, error) {
		if isDotOrDotDot(ent) || ent.entry.attr.IsVolumeID() {
			return false, nil
		}
		out = append(out, ent)
		return false, nil
	})
	if err != nil {
		return nil, wrap("read_dir", err)
	}
	return out, nil
}

// findInDir looks up name (case-insensitive) among dirCluster's
// children, stopping the scan as soon as a match is found.
func findInDir(rio rimio.RimIO, meta Meta, dirCluster uint32, name string) (entries, bool, error) {
	var found entries
	ok := false
	err := scanDirectory(rio, meta, dirCluster, func(ent entries) (bool, error) {
		if isDotOrDotDot(ent) || ent.entry.attr.IsVolumeID() {
			return false, nil
		}
		if strings.EqualFold(ent.name(), name) {
			found = ent
			ok = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return entries{}, false, wrap("find_in_dir", err)
	}
	return found, ok, nil
}

// ResolvePath walks a "/"-separated path from the root, returning the
// matching entry. An empty path resolves to the root directory itself
// as a synthetic directory entry.
func (r *Resolver) ResolvePath(path string) (entries, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return dotEntry(r.meta.RootUnit()), nil
	}

	cluster := r.meta.RootUnit()
	parts := strings.Split(path, "/")
	var current entries
	for i, part := range parts {
		ent, ok, err := findInDir(r.rio, r.meta, cluster, part)
		if err != nil {
			return entries{}, err
		}
		if !ok {
			return entries{}, wrap("resolve_path", rimfs.ErrNotFound)
		}
		current = ent
		if i < len(parts)-1 {
			if !ent.isDir() {
				return entries{}, wrap("resolve_path", rimfs.ErrNotFound)
			}
			cluster = ent.firstCluster()
		}
	}
	return current, nil
}

// ReadAttributes returns the FileAttributes of the entry at path.
func (r *Resolver) ReadAttributes(path string) (rimfs.FileAttributes, error) {
	ent, err := r.ResolvePath(path)
	if err != nil {
		return rimfs.FileAttributes{}, err
	}
	return ent.attributes(), nil
}

// ReadFile returns the full content of the file at path.
func (r *Resolver) ReadFile(path string) ([]byte, error) {
	ent, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if ent.isDir() {
		return nil, wrap("read_file", rimfs.ErrResolverUnsupported)
	}
	return r.readClusterData(ent.firstCluster(), uint64(ent.size()))
}

// readClusterData follows first's FAT chain to collect size bytes.
// Clusters in an injected chain are not assumed contiguous, so this
// always consults the FAT rather than reading a linear run.
func (r *Resolver) readClusterData(first uint32, size uint64) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	var written uint64
	fatCur := rimfs.NewClusterCursorSafe(r.meta, first)
	err := fatCur.ForEachRun(r.rio, func(rio rimio.RimIO, start, length uint32) error {
		if written >= size {
			return nil
		}
		runBytes := uint64(length) * uint64(r.meta.UnitSize())
		toCopy := runBytes
		if remaining := size - written; toCopy > remaining {
			toCopy = remaining
		}
		if toCopy > 0 {
			if err := rio.ReadAt(r.meta.UnitOffset(start), out[written:written+toCopy]); err != nil {
				return err
			}
			written += toCopy
		}
		return nil
	})
	if err != nil {
		return nil, wrap("read_file", err)
	}
	return out, nil
}
