package rimio

// MemRimIO backs a RimIO with an in-memory byte slice. Used by the
// orchestrator for dry runs and by every engine's unit/round-trip tests:
// an image can be built and checked entirely in RAM without touching a
// file or device.
type MemRimIO struct {
	buf    []byte
	offset uint64
}

// NewMemRimIO wraps buf directly (no copy); writes mutate the caller's
// slice.
func NewMemRimIO(buf []byte) *MemRimIO {
	return &MemRimIO{buf: buf}
}

// NewMemRimIOSize allocates a fresh zeroed buffer of size bytes.
func NewMemRimIOSize(size uint64) *MemRimIO {
	return &MemRimIO{buf: make([]byte, size)}
}

func (m *MemRimIO) bounds(offset uint64, n int) (int, int, error) {
	abs := offset + m.offset
	if abs > uint64(len(m.buf)) || abs+uint64(n) > uint64(len(m.buf)) {
		return 0, 0, ErrOutOfBounds
	}
	return int(abs), int(abs) + n, nil
}

func (m *MemRimIO) ReadAt(offset uint64, buf []byte) error {
	start, end, err := m.bounds(offset, len(buf))
	if err != nil {
		return wrap("mem.read_at", err)
	}
	copy(buf, m.buf[start:end])
	return nil
}

func (m *MemRimIO) WriteAt(offset uint64, data []byte) error {
	start, end, err := m.bounds(offset, len(data))
	if err != nil {
		return wrap("mem.write_at", err)
	}
	copy(m.buf[start:end], data)
	return nil
}

func (m *MemRimIO) Flush() error { return nil }

func (m *MemRimIO) SetOffset(partitionOffset uint64) uint64 {
	prev := m.offset
	m.offset = partitionOffset
	return prev
}

func (m *MemRimIO) PartitionOffset() uint64 { return m.offset }

// CopyFrom overrides the default double-copy: when src is also a
// MemRimIO this is a single slice copy.
func (m *MemRimIO) CopyFrom(src RimIO, srcOffset, destOffset, length uint64) error {
	if sm, ok := src.(*MemRimIO); ok {
		sStart, sEnd, err := sm.bounds(srcOffset, int(length))
		if err != nil {
			return wrap("mem.copy_from.src", err)
		}
		dStart, dEnd, err := m.bounds(destOffset, int(length))
		if err != nil {
			return wrap("mem.copy_from.dst", err)
		}
		copy(m.buf[dStart:dEnd], sm.buf[sStart:sEnd])
		return nil
	}
	return CopyFrom(m, src, srcOffset, destOffset, length)
}

func (m *MemRimIO) SetLen(length uint64) error {
	if uint64(len(m.buf)) >= length {
		m.buf = m.buf[:length]
		return nil
	}
	grown := make([]byte, length)
	copy(grown, m.buf)
	m.buf = grown
	return nil
}

// Bytes returns the backing slice (post partition-offset is not applied;
// this is the raw whole-backend view, used by tests and the orchestrator
// when writing the final image to disk).
func (m *MemRimIO) Bytes() []byte { return m.buf }

var (
	_ RimIO     = (*MemRimIO)(nil)
	_ Copier    = (*MemRimIO)(nil)
	_ SetLenner = (*MemRimIO)(nil)
)
