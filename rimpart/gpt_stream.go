package rimpart

import (
	"hash/crc32"

	"github.com/mkidv/rimgo/rimio"
)

// GptStreamReader walks a GPT entry table one sector at a time through a
// small reusable buffer instead of materializing the whole table, for
// callers that only need to visit entries rather than hold them all at
// once.
type GptStreamReader struct {
	rio        rimio.RimIO
	header     GptHeader
	sectorSize uint64
	entrySize  int
	sectorBuf  []byte
	cachedLBA  uint64
	haveCached bool
}

// NewGptStreamReader reads and validates the primary header, then
// prepares to stream its entry table.
func NewGptStreamReader(rio rimio.RimIO, sectorSize uint64) (*GptStreamReader, error) {
	h, err := readGptHeaderAt(rio, GptPrimaryHeaderLBA, sectorSize)
	if err != nil {
		return nil, wrap("gpt_stream_reader.new", err)
	}
	if err := h.ValidateHeader(); err != nil {
		return nil, err
	}
	return &GptStreamReader{
		rio:        rio,
		header:     h,
		sectorSize: sectorSize,
		entrySize:  int(h.EntrySize),
		sectorBuf:  make([]byte, sectorSize),
	}, nil
}

func (r *GptStreamReader) Header() GptHeader { return r.header }
func (r *GptStreamReader) Slots() int        { return int(r.header.NumEntries) }

func (r *GptStreamReader) readAt(index int) (GptEntry, error) {
	off := uint64(index) * uint64(r.entrySize)
	baseLBA := r.header.EntriesLBA + off/r.sectorSize
	inSector := int(off % r.sectorSize)
	ss := int(r.sectorSize)

	entryBuf := make([]byte, r.entrySize)

	if inSector+r.entrySize <= ss {
		if !r.haveCached || r.cachedLBA != baseLBA {
			if err := r.rio.ReadAt(baseLBA*r.sectorSize, r.sectorBuf[:ss]); err != nil {
				return GptEntry{}, wrap("gpt_stream_reader.read_at", err)
			}
			r.cachedLBA, r.haveCached = baseLBA, true
		}
		copy(entryBuf, r.sectorBuf[inSector:inSector+r.entrySize])
	} else {
		if !r.haveCached || r.cachedLBA != baseLBA {
			if err := r.rio.ReadAt(baseLBA*r.sectorSize, r.sectorBuf[:ss]); err != nil {
				return GptEntry{}, wrap("gpt_stream_reader.read_at", err)
			}
			r.cachedLBA, r.haveCached = baseLBA, true
		}
		first := ss - inSector
		copy(entryBuf[:first], r.sectorBuf[inSector:ss])

		nextLBA := baseLBA + 1
		if err := r.rio.ReadAt(nextLBA*r.sectorSize, r.sectorBuf[:ss]); err != nil {
			return GptEntry{}, wrap("gpt_stream_reader.read_at", err)
		}
		r.cachedLBA, r.haveCached = nextLBA, true
		copy(entryBuf[first:], r.sectorBuf[:r.entrySize-first])
	}

	return unpackGptEntry(entryBuf[:gptEntryBaseSize]), nil
}

// ForEachEntry calls f for every non-empty entry in slot order.
func (r *GptStreamReader) ForEachEntry(f func(index int, e GptEntry) error) error {
	for i := 0; i < r.Slots(); i++ {
		e, err := r.readAt(i)
		if err != nil {
			return err
		}
		if e.IsEmpty() {
			continue
		}
		if err := f(i, e); err != nil {
			return err
		}
	}
	return nil
}

// FindFirst returns the first non-empty entry matching pred.
func (r *GptStreamReader) FindFirst(pred func(GptEntry) bool) (int, GptEntry, bool, error) {
	for i := 0; i < r.Slots(); i++ {
		e, err := r.readAt(i)
		if err != nil {
			return 0, GptEntry{}, false, err
		}
		if !e.IsEmpty() && pred(e) {
			return i, e, true, nil
		}
	}
	return 0, GptEntry{}, false, nil
}

// ValidateBounds checks every non-empty entry against the header's
// usable range and alignment, without materializing the table.
func (r *GptStreamReader) ValidateBounds() error {
	for i := 0; i < r.Slots(); i++ {
		e, err := r.readAt(i)
		if err != nil {
			return err
		}
		if e.IsEmpty() {
			continue
		}
		if err := r.header.ValidateEntry(e, r.sectorSize); err != nil {
			return err
		}
	}
	return nil
}

// ValidateOverlaps runs the O(n^2) overlap check streamed, re-reading
// entries rather than buffering them.
func (r *GptStreamReader) ValidateOverlaps() error {
	n := r.Slots()
	for i := 0; i < n; i++ {
		ei, err := r.readAt(i)
		if err != nil {
			return err
		}
		if ei.IsEmpty() {
			continue
		}
		for j := i + 1; j < n; j++ {
			ej, err := r.readAt(j)
			if err != nil {
				return err
			}
			if ej.IsEmpty() {
				continue
			}
			if overlapsInclusive(ei.StartLBA, ei.EndLBA, ej.StartLBA, ej.EndLBA) {
				return wrap("gpt_stream_reader.validate_overlaps", ErrOverlap)
			}
		}
	}
	return nil
}

// ValidateCRC recomputes entries_crc32 sector by sector.
func (r *GptStreamReader) ValidateCRC() error {
	ss := int(r.sectorSize)
	totalBytes := int(r.header.NumEntries) * r.entrySize
	remaining := totalBytes
	lba := r.header.EntriesLBA
	hasher := crc32.NewIEEE()

	for remaining > 0 {
		if err := r.rio.ReadAt(lba*r.sectorSize, r.sectorBuf[:ss]); err != nil {
			return wrap("gpt_stream_reader.validate_crc", err)
		}
		take := remaining
		if take > ss {
			take = ss
		}
		hasher.Write(r.sectorBuf[:take])
		remaining -= take
		lba++
	}
	if calc := hasher.Sum32(); calc != r.header.EntriesCRC32 {
		return wrap("gpt_stream_reader.validate_crc", ErrCrcEntriesMismatch)
	}
	return nil
}

// CollectInto fills out with every non-empty entry, returning how many
// were written; fails if out is too small.
func (r *GptStreamReader) CollectInto(out []GptEntry) (int, error) {
	written := 0
	for i := 0; i < r.Slots(); i++ {
		e, err := r.readAt(i)
		if err != nil {
			return written, err
		}
		if e.IsEmpty() {
			continue
		}
		if written == len(out) {
			return written, wrap("gpt_stream_reader.collect_into", ErrNotEnoughSlots)
		}
		out[written] = e
		written++
	}
	return written, nil
}

// GptStreamWriter writes a GPT entry table and both headers one sector
// at a time, accumulating the entries CRC as it goes rather than
// buffering the whole table.
type GptStreamWriter struct {
	rio        rimio.RimIO
	sectorSize uint64
	header     GptHeader
	es         int
	perSector  int
	idx        int
	crc        uint32
	crcTable   *crc32.Table
}

// NewGptStreamWriter builds a default header for totalSectors and
// prepares a streamed writer.
func NewGptStreamWriter(rio rimio.RimIO, sectorSize, totalSectors uint64, diskGUID [16]byte) (*GptStreamWriter, error) {
	h, err := NewGptHeader(sectorSize, totalSectors, diskGUID)
	if err != nil {
		return nil, err
	}
	return NewGptStreamWriterFromHeader(rio, sectorSize, h)
}

// NewGptStreamWriterFromHeader prepares a streamed writer around a
// caller-supplied header.
func NewGptStreamWriterFromHeader(rio rimio.RimIO, sectorSize uint64, h GptHeader) (*GptStreamWriter, error) {
	es := int(h.EntrySize)
	if es%8 != 0 {
		return nil, wrap("gpt_stream_writer.new", ErrEntrySizeInvalid)
	}
	perSector := int(sectorSize) / es
	if perSector == 0 {
		return nil, wrap("gpt_stream_writer.new", ErrEntrySizeExceedsSector)
	}
	return &GptStreamWriter{
		rio:        rio,
		sectorSize: sectorSize,
		header:     h,
		es:         es,
		perSector:  perSector,
		crcTable:   crc32.IEEETable,
	}, nil
}

// WriteEntries writes entries followed by zeroed slots up to
// header.NumEntries, updating the running entries CRC.
func (w *GptStreamWriter) WriteEntries(entries []GptEntry) error {
	total := int(w.header.NumEntries)
	lba := w.header.EntriesLBA
	ss := int(w.sectorSize)
	sector := make([]byte, ss)
	hasher := crc32.New(w.crcTable)

	left := total
	for left > 0 {
		for i := range sector {
			sector[i] = 0
		}
		take := w.perSector
		if left < take {
			take = left
		}
		for s := 0; s < take; s++ {
			slot := make([]byte, w.es)
			if w.idx < len(entries) {
				head := entryHeadBytes(entries[w.idx])
				copy(slot[:gptEntryBaseSize], head[:])
			}
			hasher.Write(slot)
			copy(sector[s*w.es:(s+1)*w.es], slot)
			w.idx++
		}
		if err := w.rio.WriteAt(lba*w.sectorSize, sector); err != nil {
			return wrap("gpt_stream_writer.write_entries", err)
		}
		lba++
		left -= take
	}
	w.crc = hasher.Sum32()
	return nil
}

// Finalize writes entries_crc32, the primary header, the backup table
// (copied sector by sector from the primary), and the backup header,
// then flushes the backend.
func (w *GptStreamWriter) Finalize() error {
	w.header.EntriesCRC32 = w.crc
	w.header.HeaderCRC32 = 0
	w.header.HeaderCRC32 = computeHeaderCRC32(w.header)

	if err := writeGptHeaderAt(w.rio, w.header.CurrentLBA, w.sectorSize, w.header); err != nil {
		return wrap("gpt_stream_writer.finalize.primary_header", err)
	}

	backup := w.header.ToBackup(w.sectorSize)
	backup.EntriesCRC32 = w.header.EntriesCRC32
	backup.HeaderCRC32 = 0
	backup.HeaderCRC32 = computeHeaderCRC32(backup)

	ss := int(w.sectorSize)
	remaining := int(w.header.NumEntries) * w.es
	srcLBA := w.header.EntriesLBA
	dstLBA := backup.EntriesLBA
	buf := make([]byte, ss)

	for remaining > 0 {
		if err := w.rio.ReadAt(srcLBA*w.sectorSize, buf); err != nil {
			return wrap("gpt_stream_writer.finalize.mirror_read", err)
		}
		if err := w.rio.WriteAt(dstLBA*w.sectorSize, buf); err != nil {
			return wrap("gpt_stream_writer.finalize.mirror_write", err)
		}
		srcLBA++
		dstLBA++
		if remaining < ss {
			remaining = 0
		} else {
			remaining -= ss
		}
	}

	if err := writeGptHeaderAt(w.rio, backup.CurrentLBA, w.sectorSize, backup); err != nil {
		return wrap("gpt_stream_writer.finalize.backup_header", err)
	}
	return wrap("gpt_stream_writer.finalize.flush", w.rio.Flush())
}
