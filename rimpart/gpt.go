package rimpart

import (
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"

	"github.com/go-restruct/restruct"
	"github.com/mkidv/rimgo/rimio"
)

const (
	GptDefaultEntrySize  uint32 = 128
	GptDefaultHeaderSize uint32 = 92
	GptDefaultNumEntries uint32 = 128

	GptPrimaryEntriesLBA uint64 = 2
	GptPrimaryHeaderLBA  uint64 = 1

	gptMaxEntrySize  uint32 = 512
	gptMaxNumEntries uint32 = 16384

	gptHeaderStructSize = 512 // sizeof(GptHeader), including reserved padding
	gptEntryBaseSize    = 128 // sizeof(GptEntry): the CRC'd/compared head
)

var gptSignature = [8]byte{'E', 'F', 'I', ' ', 'P', 'A', 'R', 'T'}

const gptRevision uint32 = 0x00010000

// AlignUp rounds v up to the next multiple of a (a assumed nonzero).
func AlignUp(v, a uint64) uint64 {
	if v%a == 0 {
		return v
	}
	return v + (a - v%a)
}

// AlignDown rounds v down to a multiple of a.
func AlignDown(v, a uint64) uint64 { return v - v%a }

// AlignLBA1M returns the number of sectors covering 1 MiB, the default
// GPT partition alignment (minimum 1 sector).
func AlignLBA1M(sectorSize uint64) uint64 {
	v := (uint64(1) << 20) / sectorSize
	if v < 1 {
		return 1
	}
	return v
}

// EncodeGptName packs name as UTF-16 into the fixed 36-code-unit GPT
// partition name field, truncating if it overflows.
func EncodeGptName(name string) [36]uint16 {
	var out [36]uint16
	units := utf16.Encode([]rune(name))
	n := len(units)
	if n > 36 {
		n = 36
	}
	copy(out[:n], units[:n])
	return out
}

// DecodeGptName unpacks a GPT partition name field back to a string,
// stopping at the first NUL code unit.
func DecodeGptName(name [36]uint16) string {
	end := len(name)
	for i, u := range name {
		if u == 0 {
			end = i
			break
		}
	}
	return string(utf16.Decode(name[:end]))
}

// GptEntry is one 128-byte GPT partition table entry.
type GptEntry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       [36]uint16
}

// NewGptEntry builds an entry, encoding name into the fixed-width field.
func NewGptEntry(typeGUID, uniqueGUID [16]byte, startLBA, endLBA, attributes uint64, name string) GptEntry {
	return GptEntry{
		TypeGUID:   typeGUID,
		UniqueGUID: uniqueGUID,
		StartLBA:   startLBA,
		EndLBA:     endLBA,
		Attributes: attributes,
		Name:       EncodeGptName(name),
	}
}

func (e GptEntry) Kind() GptPartitionKind { return GptKindFromGUID(e.TypeGUID) }

func (e GptEntry) IsEmpty() bool {
	if e.StartLBA != 0 || e.EndLBA != 0 || e.Attributes != 0 {
		return false
	}
	for _, b := range e.TypeGUID {
		if b != 0 {
			return false
		}
	}
	for _, b := range e.UniqueGUID {
		if b != 0 {
			return false
		}
	}
	for _, u := range e.Name {
		if u != 0 {
			return false
		}
	}
	return true
}

func (e GptEntry) Validate() error {
	if e.IsEmpty() {
		return nil
	}
	if e.StartLBA > e.EndLBA {
		return wrap("gpt_entry.validate", ErrEntryOutOfBounds)
	}
	return nil
}

// entryHeadBytes packs the 128-byte on-disk representation of an entry
// (the part covered by entries_crc32, independent of entry_size).
func entryHeadBytes(e GptEntry) [gptEntryBaseSize]byte {
	var buf [gptEntryBaseSize]byte
	packed, err := restruct.Pack(binary.LittleEndian, &e)
	if err != nil {
		panic(err) // GptEntry's layout is fixed and always packable
	}
	copy(buf[:], packed)
	return buf
}

// GptHeader is the 92-byte (plus reserved padding, to fill one sector)
// GPT header.
type GptHeader struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC32    uint32
	Reserved       uint32
	CurrentLBA     uint64
	BackupLBA      uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       [16]byte
	EntriesLBA     uint64
	NumEntries     uint32
	EntrySize      uint32
	EntriesCRC32   uint32
	Reserved2      [420]byte
}

func computeUsableBounds(sectorSize, totalSectors uint64, numEntries, entrySize uint32) (first, last uint64, err error) {
	entriesSectors := (uint64(numEntries)*uint64(entrySize) + sectorSize - 1) / sectorSize
	align := AlignLBA1M(sectorSize)

	entriesLBA := GptPrimaryEntriesLBA
	rawFirst := entriesLBA + entriesSectors
	tail := 1 + entriesSectors

	if totalSectors < 1+tail {
		return 0, 0, ErrDiskTooSmall
	}
	rawLast := totalSectors - 1 - tail

	first = AlignUp(rawFirst, align)
	last = AlignDown(rawLast, align)
	if first > last {
		return 0, 0, ErrDiskTooSmall
	}
	return first, last, nil
}

// NewGptHeader builds a primary header with the default entry table
// size (128 entries x 128 bytes).
func NewGptHeader(sectorSize, totalSectors uint64, diskGUID [16]byte) (GptHeader, error) {
	return NewGptHeaderWithTable(sectorSize, totalSectors, diskGUID, GptDefaultNumEntries, GptDefaultEntrySize)
}

// NewGptHeaderWithTable builds a primary header with a caller-chosen
// entry table shape.
func NewGptHeaderWithTable(sectorSize, totalSectors uint64, diskGUID [16]byte, numEntries, entrySize uint32) (GptHeader, error) {
	if entrySize < gptEntryBaseSize || entrySize%8 != 0 {
		return GptHeader{}, wrap("gpt_header.new", ErrEntrySizeInvalid)
	}
	if entrySize > gptMaxEntrySize {
		return GptHeader{}, wrap("gpt_header.new", ErrEntrySizeTooLarge)
	}
	if numEntries == 0 || numEntries > gptMaxNumEntries {
		return GptHeader{}, wrap("gpt_header.new", ErrNumEntriesOutOfRange)
	}

	first, last, err := computeUsableBounds(sectorSize, totalSectors, numEntries, entrySize)
	if err != nil {
		return GptHeader{}, wrap("gpt_header.new", err)
	}

	return GptHeader{
		Signature:      gptSignature,
		Revision:       gptRevision,
		HeaderSize:     GptDefaultHeaderSize,
		CurrentLBA:     GptPrimaryHeaderLBA,
		BackupLBA:      totalSectors - 1,
		FirstUsableLBA: first,
		LastUsableLBA:  last,
		DiskGUID:       diskGUID,
		EntriesLBA:     GptPrimaryEntriesLBA,
		NumEntries:     numEntries,
		EntrySize:      entrySize,
	}, nil
}

func (h GptHeader) TotalSectors() uint64 { return h.BackupLBA + 1 }

// ToBackup derives the backup header: current/backup LBAs swapped,
// entries table relocated just before the backup header, header CRC
// recomputed (entries CRC is left for the caller to copy over).
func (h GptHeader) ToBackup(sectorSize uint64) GptHeader {
	b := h
	b.CurrentLBA = h.BackupLBA
	b.BackupLBA = GptPrimaryHeaderLBA

	entriesSectors := (uint64(h.NumEntries)*uint64(h.EntrySize) + sectorSize - 1) / sectorSize
	b.EntriesLBA = b.CurrentLBA - entriesSectors
	b.HeaderCRC32 = computeHeaderCRC32(b)
	return b
}

func computeHeaderCRC32(h GptHeader) uint32 {
	h.HeaderCRC32 = 0
	buf, err := restruct.Pack(binary.LittleEndian, &h)
	if err != nil {
		panic(err) // GptHeader's layout is fixed and always packable
	}
	n := h.HeaderSize
	if n > gptHeaderStructSize {
		n = gptHeaderStructSize
	}
	return crc32.ChecksumIEEE(buf[:n])
}

// ComputeCRC32 fills in entries_crc32 and header_crc32 from the given
// entry set, in that order (the header CRC covers entries_crc32, so it
// must be computed last).
func (h *GptHeader) ComputeCRC32(entries []GptEntry) {
	h.EntriesCRC32 = computeEntriesCRC32(entries, h.NumEntries, h.EntrySize)
	h.HeaderCRC32 = computeHeaderCRC32(*h)
}

func computeEntriesCRC32(entries []GptEntry, numEntries, entrySize uint32) uint32 {
	hasher := crc32.NewIEEE()
	slot := make([]byte, entrySize)
	for i := uint32(0); i < numEntries; i++ {
		for j := range slot {
			slot[j] = 0
		}
		if int(i) < len(entries) {
			head := entryHeadBytes(entries[i])
			copy(slot[:gptEntryBaseSize], head[:])
		}
		hasher.Write(slot)
	}
	return hasher.Sum32()
}

func (h GptHeader) ValidateHeader() error {
	if h.Signature != gptSignature {
		return wrap("gpt_header.validate", ErrInvalidSignature)
	}
	if h.Revision != gptRevision {
		return wrap("gpt_header.validate", ErrInvalidRevision)
	}
	if h.HeaderSize < GptDefaultHeaderSize {
		return wrap("gpt_header.validate", ErrHeaderSizeTooSmall)
	}
	if h.HeaderSize > gptHeaderStructSize {
		return wrap("gpt_header.validate", ErrHeaderSizeTooLarge)
	}
	if h.EntrySize > gptMaxEntrySize {
		return wrap("gpt_header.validate", ErrEntrySizeTooLarge)
	}
	if h.NumEntries == 0 || h.NumEntries > gptMaxNumEntries {
		return wrap("gpt_header.validate", ErrNumEntriesOutOfRange)
	}
	if h.EntrySize < gptEntryBaseSize || h.EntrySize%8 != 0 {
		return wrap("gpt_header.validate", ErrEntrySizeInvalid)
	}
	if calc := computeHeaderCRC32(h); calc != h.HeaderCRC32 {
		return wrap("gpt_header.validate", ErrCrcHeaderMismatch)
	}
	return nil
}

func (h GptHeader) ValidateEntry(e GptEntry, sectorSize uint64) error {
	if err := e.Validate(); err != nil {
		return err
	}
	align := AlignLBA1M(sectorSize)
	if e.StartLBA < h.FirstUsableLBA || e.EndLBA > h.LastUsableLBA {
		return wrap("gpt_header.validate_entry", ErrEntryOutOfBounds)
	}
	if e.StartLBA%align != 0 {
		return wrap("gpt_header.validate_entry", ErrEntryUnaligned)
	}
	return nil
}

func overlapsInclusive(aStart, aEnd, bStart, bEnd uint64) bool {
	return aStart <= bEnd && bStart <= aEnd
}

// CheckOverlaps reports the first pair of non-empty entries whose
// [start,end] ranges intersect.
func CheckOverlaps(entries []GptEntry) error {
	type seg struct{ start, end uint64 }
	var segs []seg
	for _, e := range entries {
		if !e.IsEmpty() {
			segs = append(segs, seg{e.StartLBA, e.EndLBA})
		}
	}
	for i := 0; i < len(segs); i++ {
		for j := i + 1; j < len(segs); j++ {
			if overlapsInclusive(segs[i].start, segs[i].end, segs[j].start, segs[j].end) {
				return wrap("check_overlaps", ErrOverlap)
			}
		}
	}
	return nil
}

func (h GptHeader) ValidateEntries(entries []GptEntry, sectorSize uint64) error {
	if calc := computeEntriesCRC32(entries, h.NumEntries, h.EntrySize); calc != h.EntriesCRC32 {
		return wrap("gpt_header.validate_entries", ErrCrcEntriesMismatch)
	}
	for _, e := range entries {
		if err := h.ValidateEntry(e, sectorSize); err != nil {
			return err
		}
	}
	return CheckOverlaps(entries)
}

// readGptHeaderAt/writeGptHeaderAt adapt rimio.ReadStruct/WriteStruct
// (which take byte offsets) to LBA addressing.
func readGptHeaderAt(rio rimio.RimIO, lba, sectorSize uint64) (GptHeader, error) {
	var h GptHeader
	if err := rimio.ReadStruct(rio, lba*sectorSize, &h); err != nil {
		return h, err
	}
	return h, nil
}

func writeGptHeaderAt(rio rimio.RimIO, lba, sectorSize uint64, h GptHeader) error {
	return rimio.WriteStruct(rio, lba*sectorSize, &h)
}

func unpackGptEntry(buf []byte) GptEntry {
	var e GptEntry
	if err := restruct.Unpack(buf, binary.LittleEndian, &e); err != nil {
		panic(err) // caller always passes exactly gptEntryBaseSize bytes
	}
	return e
}

func writeEntries(rio rimio.RimIO, entries []GptEntry, h GptHeader, sectorSize uint64) error {
	entrySize := int(h.EntrySize)
	perSector := int(sectorSize) / entrySize
	if perSector == 0 {
		return wrap("write_entries", ErrEntrySizeExceedsSector)
	}
	sector := make([]byte, sectorSize)
	idx := 0
	lba := h.EntriesLBA
	numEntries := int(h.NumEntries)
	for idx < numEntries {
		for i := range sector {
			sector[i] = 0
		}
		take := perSector
		if numEntries-idx < take {
			take = numEntries - idx
		}
		for s := 0; s < take; s++ {
			dst := sector[s*entrySize : (s+1)*entrySize]
			if idx+s < len(entries) {
				head := entryHeadBytes(entries[idx+s])
				copy(dst[:gptEntryBaseSize], head[:])
			}
		}
		if err := rio.WriteAt(lba*sectorSize, sector); err != nil {
			return wrap("write_entries", err)
		}
		lba++
		idx += take
	}
	return nil
}

// WriteGptWithHeader writes entries, the primary header, and a mirrored
// backup header+table, computing both CRCs along the way.
func WriteGptWithHeader(rio rimio.RimIO, h GptHeader, entries []GptEntry, sectorSize uint64) error {
	if h.EntrySize < gptEntryBaseSize || h.EntrySize%8 != 0 {
		return wrap("write_gpt", ErrEntrySizeInvalid)
	}
	if sectorSize < uint64(h.EntrySize) {
		return wrap("write_gpt", ErrEntrySizeExceedsSector)
	}
	if len(entries) > int(h.NumEntries) {
		return wrap("write_gpt", ErrNotEnoughSlots)
	}

	h.ComputeCRC32(entries)

	if err := writeEntries(rio, entries, h, sectorSize); err != nil {
		return err
	}
	if err := writeGptHeaderAt(rio, h.CurrentLBA, sectorSize, h); err != nil {
		return wrap("write_gpt.primary_header", err)
	}

	backup := h.ToBackup(sectorSize)
	backup.EntriesCRC32 = h.EntriesCRC32

	if err := writeEntries(rio, entries, backup, sectorSize); err != nil {
		return err
	}
	if err := writeGptHeaderAt(rio, backup.CurrentLBA, sectorSize, backup); err != nil {
		return wrap("write_gpt.backup_header", err)
	}
	return wrap("write_gpt.flush", rio.Flush())
}

// WriteGptFromEntriesWithSector builds a default header and writes it +
// entries (primary and backup).
func WriteGptFromEntriesWithSector(rio rimio.RimIO, entries []GptEntry, sectorSize, totalSectors uint64, diskGUID [16]byte) error {
	h, err := NewGptHeader(sectorSize, totalSectors, diskGUID)
	if err != nil {
		return err
	}
	return WriteGptWithHeader(rio, h, entries, sectorSize)
}

// WriteGptFromEntries is WriteGptFromEntriesWithSector at the 512-byte
// default sector size.
func WriteGptFromEntries(rio rimio.RimIO, entries []GptEntry, totalSectors uint64, diskGUID [16]byte) error {
	return WriteGptFromEntriesWithSector(rio, entries, mbrSectorSize, totalSectors, diskGUID)
}

func parseEntriesFromRegion(region []byte, entrySize int) ([]GptEntry, error) {
	if entrySize < gptEntryBaseSize || entrySize%8 != 0 {
		return nil, ErrEntrySizeInvalid
	}
	count := len(region) / entrySize
	out := make([]GptEntry, 0, count)
	for i := 0; i < count; i++ {
		slot := region[i*entrySize : (i+1)*entrySize]
		e := unpackGptEntry(slot[:gptEntryBaseSize])
		if !e.IsEmpty() {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadGptHeader reads and validates the primary header only.
func ReadGptHeader(rio rimio.RimIO, sectorSize uint64) (GptHeader, error) {
	h, err := readGptHeaderAt(rio, GptPrimaryHeaderLBA, sectorSize)
	if err != nil {
		return h, wrap("read_gpt_header", err)
	}
	if err := h.ValidateHeader(); err != nil {
		return h, err
	}
	return h, nil
}

// ReadGptEntries reads and CRC-validates the full entry table named by
// an already-read header.
func ReadGptEntries(rio rimio.RimIO, h GptHeader, sectorSize uint64) ([]GptEntry, error) {
	entrySize := int(h.EntrySize)
	numEntries := int(h.NumEntries)
	region := make([]byte, numEntries*entrySize)
	if err := rio.ReadAt(h.EntriesLBA*sectorSize, region); err != nil {
		return nil, wrap("read_gpt_entries", err)
	}

	hasher := crc32.NewIEEE()
	slot := make([]byte, entrySize)
	for i := 0; i < numEntries; i++ {
		for j := range slot {
			slot[j] = 0
		}
		copy(slot[:gptEntryBaseSize], region[i*entrySize:i*entrySize+gptEntryBaseSize])
		hasher.Write(slot)
	}
	if calc := hasher.Sum32(); calc != h.EntriesCRC32 {
		return nil, wrap("read_gpt_entries", ErrCrcEntriesMismatch)
	}

	return parseEntriesFromRegion(region, entrySize)
}

func readGptAtLBA(rio rimio.RimIO, headerLBA, sectorSize uint64) (GptHeader, []GptEntry, error) {
	h, err := readGptHeaderAt(rio, headerLBA, sectorSize)
	if err != nil {
		return h, nil, wrap("read_gpt_at_lba", err)
	}
	if err := h.ValidateHeader(); err != nil {
		return h, nil, err
	}
	entries, err := ReadGptEntries(rio, h, sectorSize)
	if err != nil {
		return h, nil, err
	}
	if err := h.ValidateEntries(entries, sectorSize); err != nil {
		return h, nil, err
	}
	return h, entries, nil
}

// ReadGptWithSector reads the primary GPT, falling back to the backup
// (located via the primary header's backup_lba field, read without
// validation) if the primary fails validation.
func ReadGptWithSector(rio rimio.RimIO, sectorSize uint64) (GptHeader, []GptEntry, error) {
	h, entries, err := readGptAtLBA(rio, GptPrimaryHeaderLBA, sectorSize)
	if err == nil {
		return h, entries, nil
	}
	rawPrimary, rerr := readGptHeaderAt(rio, GptPrimaryHeaderLBA, sectorSize)
	if rerr != nil {
		return GptHeader{}, nil, wrap("read_gpt", rerr)
	}
	return readGptAtLBA(rio, rawPrimary.BackupLBA, sectorSize)
}

// ReadGpt reads at the 512-byte default sector size.
func ReadGpt(rio rimio.RimIO) (GptHeader, []GptEntry, error) {
	return ReadGptWithSector(rio, mbrSectorSize)
}

// PartitionRequest describes an unplaced partition for
// MakeAlignedEntriesFit.
type PartitionRequest struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	LenSectors uint64
	Attributes uint64
	Name       string
}

// MakeAlignedEntriesFit greedily places requests back to back, each
// aligned up to the 1 MiB boundary, stopping (without error) once a
// request no longer fits in the header's usable range or entry table.
// Already-placed entries are returned as-is: this is a best-effort
// layout helper, not a validator.
func MakeAlignedEntriesFit(h GptHeader, sectorSize uint64, reqs []PartitionRequest) []GptEntry {
	align := AlignLBA1M(sectorSize)
	cur := AlignUp(h.FirstUsableLBA, align)

	var out []GptEntry
	maxSlots := int(h.NumEntries)

	for _, r := range reqs {
		if len(out) >= maxSlots {
			break
		}
		if r.LenSectors == 0 {
			continue
		}
		if cur%align != 0 {
			cur = AlignUp(cur, align)
		}
		if cur > h.LastUsableLBA {
			break
		}
		end := cur + r.LenSectors - 1
		if end < cur {
			break // overflow
		}
		if end > h.LastUsableLBA {
			break
		}
		out = append(out, NewGptEntry(r.TypeGUID, r.UniqueGUID, cur, end, r.Attributes, r.Name))
		cur = end + 1
	}
	return out
}
