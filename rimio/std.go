package rimio

import "os"

// StdRimIO backs a RimIO with a positioned OS file, using ReadAt/WriteAt
// (pread/pwrite semantics — no shared file-position state, safe to call
// concurrently across distinct offsets, though the engines themselves
// never do so: spec §5 gives each engine exclusive ownership of the
// backend for its run).
type StdRimIO struct {
	f      *os.File
	offset uint64
}

// NewStdRimIO wraps an already-open file.
func NewStdRimIO(f *os.File) *StdRimIO {
	return &StdRimIO{f: f}
}

// CreateStdRimIO creates (or truncates) path and preallocates it to size
// bytes via Truncate, returning a ready-to-format backend. The caller
// owns closing the returned file via Close.
func CreateStdRimIO(path string, size uint64) (*StdRimIO, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, wrap("std.create", err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, wrap("std.truncate", err)
	}
	return &StdRimIO{f: f}, nil
}

func (s *StdRimIO) ReadAt(offset uint64, buf []byte) error {
	n, err := s.f.ReadAt(buf, int64(offset+s.offset))
	if err != nil {
		return wrap("std.read_at", err)
	}
	if n != len(buf) {
		return wrap("std.read_at", ErrShortRead)
	}
	return nil
}

func (s *StdRimIO) WriteAt(offset uint64, data []byte) error {
	n, err := s.f.WriteAt(data, int64(offset+s.offset))
	if err != nil {
		return wrap("std.write_at", err)
	}
	if n != len(data) {
		return wrap("std.write_at", ErrShortWrite)
	}
	return nil
}

func (s *StdRimIO) Flush() error {
	return wrap("std.flush", s.f.Sync())
}

func (s *StdRimIO) SetOffset(partitionOffset uint64) uint64 {
	prev := s.offset
	s.offset = partitionOffset
	return prev
}

func (s *StdRimIO) PartitionOffset() uint64 { return s.offset }

func (s *StdRimIO) SetLen(length uint64) error {
	return wrap("std.set_len", s.f.Truncate(int64(length)))
}

// Close closes the underlying file. Callers that abort mid-build (spec
// §5 "Cancellation") are expected to unlink the partial output
// afterward.
func (s *StdRimIO) Close() error { return s.f.Close() }

// File exposes the underlying *os.File for callers that need to unlink
// or stat it.
func (s *StdRimIO) File() *os.File { return s.f }

var (
	_ RimIO     = (*StdRimIO)(nil)
	_ SetLenner = (*StdRimIO)(nil)
)
