package exfat

import (
	"errors"
	"strings"
	"time"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

// errStopScan breaks out of a directory scan's ForEachRun early, the
// same early-exit trick the fat32 resolver uses.
var errStopScan = errors.New("exfat: directory scan stopped early")

// Resolver reads a formatted exFAT volume back into entry sets:
// directory listings, path lookups, and file content, taking the
// linear fast path for NoFatChain streams and falling back to the FAT
// chain cursor otherwise.
type Resolver struct {
	rio  rimio.RimIO
	meta Meta
}

func NewResolver(rio rimio.RimIO, meta Meta) *Resolver {
	return &Resolver{rio: rio, meta: meta}
}

// scanDirectory walks dirCluster's chain, reassembling PRIMARY/STREAM/
// NAME entry triples and invoking cb for each complete set. cb returns
// stop to end the scan early.
func scanDirectory(rio rimio.RimIO, meta Meta, dirCluster uint32, cb func(set entrySet) (stop bool, err error)) error {
	var primaryRaw, streamRaw []byte
	var nameRaw [][]byte
	var wantNames int
	var cbErr error

	flushPending := func() {
		primaryRaw, streamRaw, nameRaw, wantNames = nil, nil, nil, 0
	}

	cur := rimfs.NewClusterCursor(meta, dirCluster)
	err := cur.ForEachRun(rio, func(rio rimio.RimIO, start, length uint32) error {
		n := int(length) * int(meta.UnitSize())
		buf := make([]byte, n)
		if err := rio.ReadAt(meta.UnitOffset(start), buf); err != nil {
			return err
		}
		for off := 0; off+sizeDirEntry <= len(buf); off += sizeDirEntry {
			raw := append([]byte(nil), buf[off:off+sizeDirEntry]...)
			switch {
			case raw[0] == entryEOD:
				return errStopScan
			case raw[0] == entryPrimary:
				flushPending()
				primaryRaw = raw
				wantNames = int(raw[1]) - 1
			case raw[0] == entryStream && primaryRaw != nil && streamRaw == nil:
				streamRaw = raw
			case raw[0] == entryName && primaryRaw != nil && streamRaw != nil && len(nameRaw) < wantNames:
				nameRaw = append(nameRaw, raw)
				if len(nameRaw) == wantNames {
					set, err := decodeEntrySet(primaryRaw, streamRaw, nameRaw)
					flushPending()
					if err != nil {
						cbErr = err
						return errStopScan
					}
					stop, err := cb(set)
					if err != nil {
						cbErr = err
						return errStopScan
					}
					if stop {
						return errStopScan
					}
				}
			default:
				flushPending()
			}
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return err
	}
	return cbErr
}

// ReadDir lists dirCluster's children as entry sets.
func (r *Resolver) ReadDir(dirCluster uint32) ([]entrySet, error) {
	var out []entrySet
	err := scanDirectory(r.rio, r.meta, dirCluster, func(set entrySet) (bool, error) {
		out = append(out, set)
		return false, nil
	})
	if err != nil {
		return nil, wrap("read_dir", err)
	}
	return out, nil
}

// findInDir looks up name (case-insensitive, upcase-table semantics
// approximated with strings.EqualFold) among dirCluster's children.
func findInDir(rio rimio.RimIO, meta Meta, dirCluster uint32, name string) (entrySet, bool, error) {
	var found entrySet
	ok := false
	err := scanDirectory(rio, meta, dirCluster, func(set entrySet) (bool, error) {
		if strings.EqualFold(set.name, name) {
			found = set
			ok = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return entrySet{}, false, wrap("find_in_dir", err)
	}
	return found, ok, nil
}

// ResolvePath walks a "/"-separated path from the root. An empty path
// resolves to a synthetic entry set pointing at the root directory.
func (r *Resolver) ResolvePath(path string) (entrySet, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		set, err := newEntrySet("", true, r.meta.RootUnit(), 0, rimfs.DefaultDirAttributes(), false, time.Now().UTC())
		return set, err
	}

	cluster := r.meta.RootUnit()
	parts := strings.Split(path, "/")
	var current entrySet
	for i, part := range parts {
		set, ok, err := findInDir(r.rio, r.meta, cluster, part)
		if err != nil {
			return entrySet{}, err
		}
		if !ok {
			return entrySet{}, wrap("resolve_path", rimfs.ErrNotFound)
		}
		current = set
		if i < len(parts)-1 {
			if !set.isDir() {
				return entrySet{}, wrap("resolve_path", rimfs.ErrNotFound)
			}
			cluster = set.firstCluster()
		}
	}
	return current, nil
}

// ReadAttributes returns the FileAttributes of the entry at path.
func (r *Resolver) ReadAttributes(path string) (rimfs.FileAttributes, error) {
	set, err := r.ResolvePath(path)
	if err != nil {
		return rimfs.FileAttributes{}, err
	}
	return set.attributes(), nil
}

// ReadFile returns the full content of the file at path, taking the
// linear fast path when its stream entry carries NoFatChain.
func (r *Resolver) ReadFile(path string) ([]byte, error) {
	set, err := r.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	if set.isDir() {
		return nil, wrap("read_file", rimfs.ErrResolverUnsupported)
	}
	return r.readContent(set.firstCluster(), set.size(), set.isContiguous())
}

func (r *Resolver) readContent(first uint32, size uint64, contiguous bool) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}

	if contiguous {
		cur := rimfs.NewLinearCursorFromLenSafe(r.meta, first, size)
		if err := cur.ReadInto(r.rio, size, out); err != nil {
			return nil, wrap("read_file", err)
		}
		return out, nil
	}

	var written uint64
	cur := rimfs.NewClusterCursorSafe(r.meta, first)
	err := cur.ForEachRun(r.rio, func(rio rimio.RimIO, start, length uint32) error {
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
