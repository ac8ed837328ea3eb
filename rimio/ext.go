package rimio

import "encoding/binary"

// ReadInChunks reads len(buf) bytes from offset in chunkSize-or-less
// pieces. Used by backends/callers that want to cap a single I/O call's
// size regardless of the backend's own limits.
func ReadInChunks(rio RimIO, offset uint64, buf []byte, chunkSize int) error {
	remaining := len(buf)
	off := offset
	pos := 0
	for remaining > 0 {
		n := remaining
		if n > chunkSize {
			n = chunkSize
		}
		if err := rio.ReadAt(off, buf[pos:pos+n]); err != nil {
			return wrap("read_in_chunks", err)
		}
		off += uint64(n)
		pos += n
		remaining -= n
	}
	return nil
}

// WriteInChunks writes len(buf) bytes at offset in chunkSize-or-less
// pieces.
func WriteInChunks(rio RimIO, offset uint64, buf []byte, chunkSize int) error {
	remaining := len(buf)
	off := offset
	pos := 0
	for remaining > 0 {
		n := remaining
		if n > chunkSize {
			n = chunkSize
		}
		if err := rio.WriteAt(off, buf[pos:pos+n]); err != nil {
			return wrap("write_in_chunks", err)
		}
		off += uint64(n)
		pos += n
		remaining -= n
	}
	return nil
}

// ReadBlockBestEffort takes the fast path (a single ReadAt) when offset
// and len(buf) are both multiples of blockSize; otherwise it falls back
// to ReadInChunks.
func ReadBlockBestEffort(rio RimIO, offset uint64, buf []byte, blockSize int) error {
	if offset%uint64(blockSize) == 0 && len(buf)%blockSize == 0 {
		return rio.ReadAt(offset, buf)
	}
	return ReadInChunks(rio, offset, buf, BlockBufSize)
}

// WriteBlockBestEffort is the write-side counterpart of
// ReadBlockBestEffort.
func WriteBlockBestEffort(rio RimIO, offset uint64, buf []byte, blockSize int) error {
	if offset%uint64(blockSize) == 0 && len(buf)%blockSize == 0 {
		return rio.WriteAt(offset, buf)
	}
	return WriteInChunks(rio, offset, buf, BlockBufSize)
}

// ReadMultiAt reads len(offsets) fixed-size units into buf, coalescing
// adjacent offsets (offsets[i+1] == offsets[i]+unitSize) into a single
// backend call per contiguous run.
func ReadMultiAt(rio RimIO, offsets []uint64, unitSize int, buf []byte) error {
	if len(buf) != len(offsets)*unitSize {
		return wrap("read_multi_at", ErrInvalidInput)
	}
	if len(offsets) == 0 {
		return nil
	}
	runStart := 0
	runLen := 1
	flush := func(start, l int) error {
		runBytes := l * unitSize
		bufStart := start * unitSize
		return rio.ReadAt(offsets[start], buf[bufStart:bufStart+runBytes])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] == offsets[i-1]+uint64(unitSize) {
			runLen++
			continue
		}
		if err := flush(runStart, runLen); err != nil {
			return wrap("read_multi_at", err)
		}
		runStart = i
		runLen = 1
	}
	if err := flush(runStart, runLen); err != nil {
		return wrap("read_multi_at", err)
	}
	return nil
}

// WriteMultiAt is the write-side counterpart of ReadMultiAt.
func WriteMultiAt(rio RimIO, offsets []uint64, unitSize int, buf []byte) error {
	if len(buf) != len(offsets)*unitSize {
		return wrap("write_multi_at", ErrInvalidInput)
	}
	if len(offsets) == 0 {
		return nil
	}
	runStart := 0
	runLen := 1
	flush := func(start, l int) error {
		runBytes := l * unitSize
		bufStart := start * unitSize
		return rio.WriteAt(offsets[start], buf[bufStart:bufStart+runBytes])
	}
	for i := 1; i < len(offsets); i++ {
		if offsets[i] == offsets[i-1]+uint64(unitSize) {
			runLen++
			continue
		}
		if err := flush(runStart, runLen); err != nil {
			return wrap("write_multi_at", err)
		}
		runStart = i
		runLen = 1
	}
	if err := flush(runStart, runLen); err != nil {
		return wrap("write_multi_at", err)
	}
	return nil
}

// ZeroFill writes len zero bytes starting at offset, in BlockBufSize
// chunks.
func ZeroFill(rio RimIO, offset uint64, length int) error {
	var zero [BlockBufSize]byte
	remaining := length
	off := offset
	for remaining > 0 {
		n := remaining
		if n > len(zero) {
			n = len(zero)
		}
		if err := rio.WriteAt(off, zero[:n]); err != nil {
			return wrap("zero_fill", err)
		}
		off += uint64(n)
		remaining -= n
	}
	return nil
}

// ReadU16At / ReadU32At / ReadU64At / WriteU16At / WriteU32At / WriteU64At
// are little-endian primitive accessors layered on ReadAt/WriteAt.

func ReadU16At(rio RimIO, offset uint64) (uint16, error) {
	var b [2]byte
	if err := rio.ReadAt(offset, b[:]); err != nil {
		return 0, wrap("read_u16_at", err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func WriteU16At(rio RimIO, offset uint64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return wrap("write_u16_at", rio.WriteAt(offset, b[:]))
}

func ReadU32At(rio RimIO, offset uint64) (uint32, error) {
	var b [4]byte
	if err := rio.ReadAt(offset, b[:]); err != nil {
		return 0, wrap("read_u32_at", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func WriteU32At(rio RimIO, offset uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return wrap("write_u32_at", rio.WriteAt(offset, b[:]))
}

func ReadU64At(rio RimIO, offset uint64) (uint64, error) {
	var b [8]byte
	if err := rio.ReadAt(offset, b[:]); err != nil {
		return 0, wrap("read_u64_at", err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func WriteU64At(rio RimIO, offset uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return wrap("write_u64_at", rio.WriteAt(offset, b[:]))
}

// ReadChunksStreamed issues bulk reads of up to chunk*elemSize bytes at a
// time and invokes f once per elemSize-byte element, avoiding
// materializing the whole [count]elemSize region at once. This is the
// hot path for FAT/bitmap/upcase-table scans.
func ReadChunksStreamed(rio RimIO, offset uint64, count, elemSize, chunk int, f func(i int, elem []byte)) error {
	buf := make([]byte, chunk*elemSize)
	remaining := count
	cur := offset
	index := 0
	for remaining > 0 {
		toRead := remaining
		if toRead > chunk {
			toRead = chunk
		}
		nbytes := toRead * elemSize
		if err := ReadInChunks(rio, cur, buf[:nbytes], BlockBufSize); err != nil {
			return wrap("read_chunks_streamed", err)
		}
		for i := 0; i < toRead; i++ {
			f(index, buf[i*elemSize:(i+1)*elemSize])
			index++
		}
		cur += uint64(nbytes)
		remaining -= toRead
	}
	return nil
}

// WriteChunksStreamed is the write-side counterpart of
// ReadChunksStreamed: f generates each element's bytes on demand.
func WriteChunksStreamed(rio RimIO, offset uint64, count, elemSize, chunk int, f func(i int, dst []byte)) error {
	buf := make([]byte, chunk*elemSize)
	remaining := count
	cur := offset
	index := 0
	for remaining > 0 {
		toWrite := remaining
		if toWrite > chunk {
			toWrite = chunk
		}
		for i := 0; i < toWrite; i++ {
			f(index, buf[i*elemSize:(i+1)*elemSize])
			index++
		}
		nbytes := toWrite * elemSize
		if err := WriteInChunks(rio, cur, buf[:nbytes], BlockBufSize); err != nil {
			return wrap("write_chunks_streamed", err)
		}
		cur += uint64(nbytes)
		remaining -= toWrite
	}
	return nil
}
