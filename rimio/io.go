package rimio

// BlockBufSize is the scratch buffer size used by the chunked/streamed
// extension helpers. 4 KiB matches a typical page/sector/cluster size and
// keeps a single scratch allocation usable across every backend.
const BlockBufSize = 4096

// RimIO is the positioned block I/O contract every backend implements.
// All offsets are absolute byte offsets within the backend's address
// space after SetOffset has rebased it onto a partition. Reads and
// writes may span arbitrary byte ranges; backends that require
// block-sized I/O are responsible for their own internal
// read-modify-write on unaligned heads and tails.
type RimIO interface {
	// WriteAt writes data at offset (absolute, post partition-offset).
	WriteAt(offset uint64, data []byte) error
	// ReadAt reads len(buf) bytes into buf from offset (absolute).
	ReadAt(offset uint64, buf []byte) error
	// Flush commits any buffered data. May be a no-op.
	Flush() error
	// SetOffset rebases all subsequent operations by partitionOffset and
	// returns the previous base.
	SetOffset(partitionOffset uint64) uint64
	// PartitionOffset returns the current base offset.
	PartitionOffset() uint64
}

// Copier is an optional fast-path for copy_from: backends that can avoid
// the default double-copy through a scratch buffer (e.g. MemRimIO, which
// can issue a single slice copy) implement it.
type Copier interface {
	CopyFrom(src RimIO, srcOffset, destOffset, length uint64) error
}

// SetLenner is implemented by backends that can resize their storage
// (file-backed and RAM-backed; UEFI block devices cannot).
type SetLenner interface {
	SetLen(length uint64) error
}

// CopyFrom copies length bytes from src at srcOffset into dst at
// destOffset. If dst implements Copier, its fast path is used;
// otherwise a generic 64 KiB scratch buffer drives a double copy.
func CopyFrom(dst RimIO, src RimIO, srcOffset, destOffset, length uint64) error {
	if c, ok := dst.(Copier); ok {
		return c.CopyFrom(src, srcOffset, destOffset, length)
	}
	const chunkSize = 64 * 1024
	buf := make([]byte, chunkSize)
	sOff, dOff := srcOffset, destOffset
	for length > 0 {
		n := uint64(chunkSize)
		if length < n {
			n = length
		}
		if err := src.ReadAt(sOff, buf[:n]); err != nil {
			return wrap("copy_from.read", err)
		}
		if err := dst.WriteAt(dOff, buf[:n]); err != nil {
			return wrap("copy_from.write", err)
		}
		length -= n
		sOff += n
		dOff += n
	}
	return nil
}
