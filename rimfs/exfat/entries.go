package exfat

import (
	"encoding/binary"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/go-restruct/restruct"

	"github.com/mkidv/rimgo/rimfs"
)

// rotr16/rotr32 are the rotate-right-by-one primitives every exFAT
// checksum (entry set, up-case table, boot region) is built from.
func rotr16(x uint16) uint16 { return (x >> 1) | (x << 15) }
func rotr32(x uint32) uint32 { return (x >> 1) | (x << 31) }

// rawFileEntry is the 32-byte primary entry of a file/directory entry
// set (type 0x85). Field order matches the exFAT spec's File
// Directory Entry layout byte-for-byte, restruct-packed with no tags
// needed since every field is fixed-width with no padding.
type rawFileEntry struct {
	EntryType       byte
	SecondaryCount  byte
	SetChecksum     uint16
	FileAttributes  uint16
	Reserved1       uint16
	CreateTimestamp uint32
	ModifyTimestamp uint32
	AccessTimestamp uint32
	Create10ms      byte
	Modify10ms      byte
	CreateUTCOffset byte
	ModifyUTCOffset byte
	AccessUTCOffset byte
	Reserved2       [7]byte
}

// rawStreamEntry is the 32-byte stream extension entry (type 0xC0)
// that always immediately follows a file entry: name length/hash and
// the first cluster/size of the associated content.
type rawStreamEntry struct {
	EntryType             byte
	GeneralSecondaryFlags byte
	Reserved1             byte
	NameLength            byte
	NameHash              uint16
	Reserved2             uint16
	ValidDataLength       uint64
	Reserved3             uint32
	FirstCluster          uint32
	DataLength            uint64
}

// rawNameEntry is one 32-byte file-name piece (type 0xC1), holding up
// to 15 UTF-16 code units.
type rawNameEntry struct {
	EntryType byte
	Reserved  byte
	NameChars [nameEntryChars]uint16
}

// rawBitmapEntry (type 0x81) and rawUpcaseEntry (type 0x82) are the
// root directory's two mandatory system entries, pointing at the
// allocation bitmap and up-case table respectively.
type rawBitmapEntry struct {
	EntryType    byte
	BitmapFlags  byte
	Reserved     [18]byte
	FirstCluster uint32
	DataLength   uint64
}

type rawUpcaseEntry struct {
	EntryType     byte
	Reserved1     [3]byte
	TableChecksum uint32
	Reserved2     [12]byte
	FirstCluster  uint32
	DataLength    uint64
}

// rawLabelEntry (type 0x83) carries the volume label inline — unlike
// FAT32, exFAT stores it as UTF-16 rather than an 8.3-style field.
type rawLabelEntry struct {
	EntryType      byte
	CharacterCount byte
	VolumeLabel    [11]uint16
	Reserved       [8]byte
}

func packEntry(v interface{}, buf []byte) {
	packed, err := restruct.Pack(binary.LittleEndian, v)
	if err != nil {
		panic(wrap("pack_entry", err))
	}
	copy(buf[:sizeDirEntry], packed)
}

func unpackEntry(buf []byte, v interface{}) {
	if err := restruct.Unpack(buf[:sizeDirEntry], binary.LittleEndian, v); err != nil {
		panic(wrap("unpack_entry", err))
	}
}

// entrySetChecksum folds the primary entry (skipping its own checksum
// field at byte offsets 2-3), the stream entry, and every name entry
// into a single 16-bit rolling checksum — the value stored in the
// primary entry's SetChecksum field.
func entrySetChecksum(primary, stream []byte, names [][]byte) uint16 {
	var chk uint16
	for i, b := range primary {
		if i == 2 || i == 3 {
			continue
		}
		chk = rotr16(chk) + uint16(b)
	}
	for _, b := range stream {
		chk = rotr16(chk) + uint16(b)
	}
	for _, n := range names {
		for _, b := range n {
			chk = rotr16(chk) + uint16(b)
		}
	}
	return chk
}

// computeNameHash folds the upcased UTF-16 units of a name into the
// 16-bit hash stored in the stream entry, byte by byte as the spec
// requires (low byte, then high byte, of each folded code unit).
func computeNameHash(units []uint16) uint16 {
	var hash uint16
	for _, u := range units {
		uu := upcaseUnit(u)
		hash = rotr16(hash) + uint16(byte(uu))
		hash = rotr16(hash) + uint16(byte(uu>>8))
	}
	return hash
}

// entrySet bundles a primary/stream/name entry triple — the unit the
// injector appends and the resolver/walker reconstruct, mirroring the
// teacher's fat32 entries wrapper one layer up.
type entrySet struct {
	primary rawFileEntry
	stream  rawStreamEntry
	names   []rawNameEntry
	name    string
}

func nameEntryCount(units []uint16) int {
	n := (len(units) + nameEntryChars - 1) / nameEntryChars
	if n == 0 {
		n = 1
	}
	return n
}

func buildNameEntries(units []uint16) []rawNameEntry {
	pieces := nameEntryCount(units)
	out := make([]rawNameEntry, pieces)
	for p := 0; p < pieces; p++ {
		start := p * nameEntryChars
		var chunk [nameEntryChars]uint16
		for i := 0; start+i < len(units) && i < nameEntryChars; i++ {
			chunk[i] = units[start+i]
		}
		out[p] = rawNameEntry{EntryType: entryName, NameChars: chunk}
	}
	return out
}

func decodeName(units []uint16, nameLength int) string {
	if nameLength < len(units) {
		units = units[:nameLength]
	}
	return string(utf16.Decode(units))
}

// newEntrySet builds a complete file/directory entry set for name,
// pointing at firstCluster and covering sizeBytes of content.
// contiguous marks the stream's NoFatChain bit, valid only when the
// caller has actually allocated firstCluster..firstCluster+clusters-1
// as one contiguous run.
func newEntrySet(name string, isDir bool, firstCluster uint32, sizeBytes uint64, fa rimfs.FileAttributes, contiguous bool, now time.Time) (entrySet, error) {
	units := utf16.Encode([]rune(name))
	if len(units) > 255 {
		return entrySet{}, ErrNameTooLong
	}

	ts, tenMS := packTimestamp(now)
	primary := rawFileEntry{
		EntryType:       entryPrimary,
		FileAttributes:  fileAttrFor(isDir, fa),
		CreateTimestamp: ts,
		ModifyTimestamp: ts,
		AccessTimestamp: ts,
		Create10ms:      tenMS,
		Modify10ms:      tenMS,
	}

	flags := flagAllocationPossible
	if contiguous {
		flags |= flagNoFatChain
	}
	stream := rawStreamEntry{
		EntryType:             entryStream,
		GeneralSecondaryFlags: flags,
		NameLength:            byte(len(units)),
		NameHash:              computeNameHash(units),
		ValidDataLength:       sizeBytes,
		FirstCluster:          firstCluster,
		DataLength:            sizeBytes,
	}

	names := buildNameEntries(units)
	primary.SecondaryCount = byte(1 + len(names))

	return entrySet{primary: primary, stream: stream, names: names, name: name}, nil
}

func (e entrySet) sizeInBytes() int { return (2 + len(e.names)) * sizeDirEntry }

func (e *entrySet) encodeInto(buf []byte) {
	primaryBuf := make([]byte, sizeDirEntry)
	streamBuf := make([]byte, sizeDirEntry)
	nameBufs := make([][]byte, len(e.names))
	for i := range e.names {
		nameBufs[i] = make([]byte, sizeDirEntry)
		packEntry(&e.names[i], nameBufs[i])
	}

	e.primary.SetChecksum = 0
	packEntry(&e.primary, primaryBuf)
	packEntry(&e.stream, streamBuf)
	e.primary.SetChecksum = entrySetChecksum(primaryBuf, streamBuf, nameBufs)
	packEntry(&e.primary, primaryBuf)

	off := 0
	copy(buf[off:off+sizeDirEntry], primaryBuf)
	off += sizeDirEntry
	copy(buf[off:off+sizeDirEntry], streamBuf)
	off += sizeDirEntry
	for _, nb := range nameBufs {
		copy(buf[off:off+sizeDirEntry], nb)
		off += sizeDirEntry
	}
}

func (e entrySet) isDir() bool           { return isDirAttr(e.primary.FileAttributes) }
func (e entrySet) firstCluster() uint32  { return e.stream.FirstCluster }
func (e entrySet) size() uint64          { return e.stream.DataLength }
func (e entrySet) isContiguous() bool    { return e.stream.GeneralSecondaryFlags&flagNoFatChain != 0 }
func (e entrySet) attributes() rimfs.FileAttributes {
	return toFileAttributes(e.primary.FileAttributes)
}
func (e entrySet) modTime() time.Time { return unpackTimestamp(e.primary.ModifyTimestamp) }

// decodeEntrySet reconstructs an entrySet from raw 32-byte primary,
// stream and name-entry buffers collected by a directory scan.
func decodeEntrySet(primaryRaw, streamRaw []byte, nameRaw [][]byte) (entrySet, error) {
	if len(primaryRaw) != sizeDirEntry || len(streamRaw) != sizeDirEntry {
		return entrySet{}, wrap("decode_entry_set", ErrBadEntrySet)
	}
	var primary rawFileEntry
	var stream rawStreamEntry
	unpackEntry(primaryRaw, &primary)
	unpackEntry(streamRaw, &stream)

	var units []uint16
	names := make([]rawNameEntry, len(nameRaw))
	for i, nr := range nameRaw {
		unpackEntry(nr, &names[i])
		units = append(units, names[i].NameChars[:]...)
	}
	name := decodeName(units, int(stream.NameLength))

	return entrySet{primary: primary, stream: stream, names: names, name: name}, nil
}

func volumeLabelEntry(label string) rawLabelEntry {
	units := utf16.Encode([]rune(label))
	var out [11]uint16
	n := copy(out[:], units)
	return rawLabelEntry{EntryType: entryLabel, CharacterCount: byte(n), VolumeLabel: out}
}

func decodeVolumeLabel(e rawLabelEntry) string {
	n := int(e.CharacterCount)
	if n > len(e.VolumeLabel) {
		n = len(e.VolumeLabel)
	}
	return strings.TrimRight(string(utf16.Decode(e.VolumeLabel[:n])), "\x00")
}
