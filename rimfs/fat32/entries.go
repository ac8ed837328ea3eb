package fat32

import (
	"encoding/binary"
	"time"

	"github.com/go-restruct/restruct"

	"github.com/mkidv/rimgo/rimfs"
)

// dirEntry is the raw 32-byte short-name directory entry. Field order
// and widths are ported from the teacher's dirSector accessors and
// match the Rust Fat32Entry layout byte-for-byte.
type dirEntry struct {
	name            [11]byte
	attr            attr
	ntReserved      byte
	creationTenths  byte
	creationTime    packedTime
	creationDate    packedDate
	accessDate      packedDate
	firstClusterHi  uint16
	writeTime       packedTime
	writeDate       packedDate
	firstClusterLo  uint16
	fileSize        uint32
}

func newDirEntry(name [11]byte, a attr, cluster uint32, size uint32, t time.Time) dirEntry {
	date, clock, tenths := newPackedDateTime(t)
	return dirEntry{
		name:           name,
		attr:           a,
		creationTenths: tenths,
		creationTime:   clock,
		creationDate:   date,
		accessDate:     date,
		firstClusterHi: uint16(cluster >> 16),
		writeTime:      clock,
		writeDate:      date,
		firstClusterLo: uint16(cluster),
		fileSize:       size,
	}
}

func (e dirEntry) firstCluster() uint32 {
	return uint32(e.firstClusterHi)<<16 | uint32(e.firstClusterLo)
}

func (e dirEntry) encode(buf []byte) {
	_ = buf[31]
	packed, err := restruct.Pack(binary.LittleEndian, &e)
	if err != nil {
		panic(wrap("encode_dir_entry", err))
	}
	copy(buf[:sizeDirEntry], packed)
}

func decodeDirEntry(buf []byte) dirEntry {
	_ = buf[31]
	var e dirEntry
	if err := restruct.Unpack(buf[:sizeDirEntry], binary.LittleEndian, &e); err != nil {
		panic(wrap("decode_dir_entry", err))
	}
	return e
}

// lfnEntry is one 32-byte long-filename piece.
type lfnEntry struct {
	order    byte
	name1    [5]uint16
	attr     attr
	typeByte byte
	checksum byte
	name2    [6]uint16
	zero     uint16
	name3    [2]uint16
}

const lfnLastFlag = 0x40

func newLFNEntry(order byte, isLast bool, chunk [13]uint16, checksum byte) lfnEntry {
	e := lfnEntry{order: order, attr: attrLongName, checksum: checksum}
	if isLast {
		e.order |= lfnLastFlag
	}
	copy(e.name1[:], chunk[0:5])
	copy(e.name2[:], chunk[5:11])
	copy(e.name3[:], chunk[11:13])
	return e
}

func (e lfnEntry) extractUTF16() [13]uint16 {
	var out [13]uint16
	copy(out[0:5], e.name1[:])
	copy(out[5:11], e.name2[:])
	copy(out[11:13], e.name3[:])
	return out
}

func (e lfnEntry) encode(buf []byte) {
	_ = buf[31]
	packed, err := restruct.Pack(binary.LittleEndian, &e)
	if err != nil {
		panic(wrap("encode_lfn_entry", err))
	}
	copy(buf[:sizeDirEntry], packed)
}

func decodeLFNEntry(buf []byte) lfnEntry {
	_ = buf[31]
	var e lfnEntry
	if err := restruct.Unpack(buf[:sizeDirEntry], binary.LittleEndian, &e); err != nil {
		panic(wrap("decode_lfn_entry", err))
	}
	return e
}

// entries bundles an optional LFN piece set with its trailing SFN
// entry — the unit the injector appends and the resolver reconstructs,
// mirroring the Rust Fat32Entries wrapper.
type entries struct {
	lfn   []lfnEntry
	entry dirEntry
}

func newDirEntries(name string, isDir bool, cluster uint32, size uint32, fa rimfs.FileAttributes, ordinal int) entries {
	sfn, isLFN := toShortName(name, ordinal)
	var lfn []lfnEntry
	if isLFN {
		lfn = buildLFNEntries(name, sfn)
	}
	t := timeOf(fa, isDir)
	return entries{lfn: lfn, entry: newDirEntry(sfn, dirAttrFor(isDir, fa), cluster, size, t)}
}

func timeOf(fa rimfs.FileAttributes, isDir bool) time.Time {
	if fa.Modified != nil {
		return time.Unix(*fa.Modified, 0).UTC()
	}
	return time.Now().UTC()
}

func volumeLabelEntry(label [11]byte) entries {
	return entries{entry: newDirEntry(label, attrVolumeID, 0, 0, time.Now().UTC())}
}

func dotEntry(currentCluster uint32) entries {
	return entries{entry: newDirEntry(dotName, attrDir, currentCluster, 0, time.Now().UTC())}
}

func dotDotEntry(parentCluster uint32) entries {
	return entries{entry: newDirEntry(dotDotName, attrDir, parentCluster, 0, time.Now().UTC())}
}

func (e entries) sizeInBytes() int { return (len(e.lfn) + 1) * sizeDirEntry }

func (e entries) encodeInto(buf []byte) {
	off := 0
	for _, l := range e.lfn {
		l.encode(buf[off : off+sizeDirEntry])
		off += sizeDirEntry
	}
	e.entry.encode(buf[off : off+sizeDirEntry])
}

func (e entries) name() string {
	if len(e.lfn) == 0 {
		return decodeSFN(e.entry.name)
	}
	return decodeLFN(e.lfn)
}

func (e entries) isDir() bool          { return e.entry.attr.IsDir() }
func (e entries) firstCluster() uint32 { return e.entry.firstCluster() }
func (e entries) size() int            { return int(e.entry.fileSize) }
func (e entries) attributes() rimfs.FileAttributes {
	return toFileAttributes(e.entry.attr)
}

func decodeEntries(lfnRaw [][]byte, raw []byte) (entries, error) {
	if len(raw) != sizeDirEntry {
		return entries{}, wrap("decode_entries", rimfs.ErrParsingCorrupted)
	}
	lfn := make([]lfnEntry, len(lfnRaw))
	for i, r := range lfnRaw {
		lfn[i] = decodeLFNEntry(r)
	}
	return entries{lfn: lfn, entry: decodeDirEntry(raw)}, nil
}
