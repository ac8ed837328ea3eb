package ext4

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// rawSuperblock mirrors the first 0x100 bytes of the 1024-byte ext4
// superblock, up to and including s_desc_size; the fields in that range
// this formatter does not populate (journal UUID, lazy-init hints, etc.)
// sit in Padding1, and the rest of the superblock (checksum seed, etc.)
// is left zeroed and is not modeled as fields here. Field order/widths follow the
// standard ext4 on-disk superblock layout.
type rawSuperblock struct {
	InodesCount       uint32
	BlocksCountLo     uint32
	RBlocksCountLo    uint32
	FreeBlocksCountLo uint32
	FreeInodesCount   uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	LogClusterSize    uint32
	BlocksPerGroup    uint32
	ClustersPerGroup  uint32
	InodesPerGroup    uint32
	MTime             uint32
	WTime             uint32
	MntCount          uint16
	MaxMntCount       uint16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	LastCheck         uint32
	CheckInterval     uint32
	CreatorOS         uint32
	RevLevel          uint32
	DefResUID         uint16
	DefResGID         uint16
	FirstIno          uint32
	InodeSize         uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureROCompat   uint32
	UUID              [16]byte
	VolumeName        [16]byte
	LastMounted       [64]byte
	AlgorithmUsageBmp uint32
	Padding1          [50]byte
	DescSize          uint16
}

func packSuperblock(sb rawSuperblock) []byte {
	buf, err := restruct.Pack(binary.LittleEndian, sb)
	if err != nil {
		panic(err)
	}
	out := make([]byte, SuperblockSize)
	copy(out, buf)
	return out
}

func unpackSuperblock(buf []byte) rawSuperblock {
	var sb rawSuperblock
	restruct.Unpack(buf, binary.LittleEndian, &sb)
	return sb
}

// rawGroupDesc is the 64-byte (desc_size=64, 64BIT incompat feature)
// block group descriptor. Only the lo/low-32 fields this formatter
// populates are modeled; the _hi counterparts and checksum fields are
// left zeroed, which is valid since metadata_csum is never enabled.
type rawGroupDesc struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	Flags             uint16
	ExcludeBitmapLo   uint32
	BlockBitmapCsumLo uint16
	InodeBitmapCsumLo uint16
	ItableUnusedLo    uint16
	Checksum          uint16
	Reserved          [32]byte
}

func packGroupDesc(gd rawGroupDesc) []byte {
	buf, err := restruct.Pack(binary.LittleEndian, gd)
	if err != nil {
		panic(err)
	}
	out := make([]byte, BGDTEntrySize)
	copy(out, buf)
	return out
}

func unpackGroupDesc(buf []byte) rawGroupDesc {
	var gd rawGroupDesc
	restruct.Unpack(buf, binary.LittleEndian, &gd)
	return gd
}

// rawExtentHeader is the 12-byte header at the start of an
// extent-using inode's i_block array (or of an interior extent-tree
// node, never produced by this formatter: the injector rejects a file
// whose blocks need more than the 4 extents of the inline root).
type rawExtentHeader struct {
	Magic      uint16
	Entries    uint16
	Max        uint16
	Depth      uint16
	Generation uint32
}

// rawExtent is one 12-byte leaf extent: a contiguous run of physical
// blocks backing a logical block range. Physical block numbers never
// approach 2^32 at the sizes this formatter targets, so StartHi is
// always written as zero; it's still modeled so a decoder reading a
// foreign image doesn't silently truncate a large device's extents.
type rawExtent struct {
	Block   uint32 // first logical block this extent covers
	Len     uint16 // number of blocks (high bit would mark "unwritten", unused here)
	StartHi uint16 // physical block number, high 16 bits
	StartLo uint32 // physical block number, low 32 bits
}

func newExtent(logicalBlock, physBlock uint32, length uint16) rawExtent {
	return rawExtent{
		Block:   logicalBlock,
		Len:     length,
		StartHi: uint16(uint64(physBlock) >> 32),
		StartLo: physBlock,
	}
}

func (e rawExtent) startBlock() uint32 { return e.StartLo }

// rawInode is the fixed 256-byte (DefaultInodeSize) on-disk inode.
// i_block is kept as a raw 60-byte array rather than modeled fields,
// since its interpretation (extent header + up to 4 leaf extents)
// depends on i_flags.
type rawInode struct {
	Mode        uint16
	UID         uint16
	SizeLo      uint32
	ATime       uint32
	CTime       uint32
	MTime       uint32
	DTime       uint32
	GID         uint16
	LinksCount  uint16
	BlocksLo    uint32
	Flags       uint32
	Osd1        uint32
	Block       [60]byte
	Generation  uint32
	FileACLLo   uint32
	SizeHigh    uint32
	ObsoFaddr   uint32
	Osd2        [12]byte
	ExtraISize  uint16
	ChecksumHi  uint16
	CTimeExtra  uint32
	MTimeExtra  uint32
	ATimeExtra  uint32
	CRTime      uint32
	CRTimeExtra uint32
	VersionHi   uint32
	Projid      uint32
}

// rawInodeEncodedSize is restruct's packed size of the fields above;
// the remainder up to DefaultInodeSize is padding reserved for a
// future on-disk revision and stays zeroed.
const rawInodeEncodedSize = 160

func packInode(in rawInode) []byte {
	buf, err := restruct.Pack(binary.LittleEndian, in)
	if err != nil {
		panic(err)
	}
	out := make([]byte, DefaultInodeSize)
	copy(out, buf)
	return out
}

func unpackInode(buf []byte) rawInode {
	var in rawInode
	restruct.Unpack(buf[:rawInodeEncodedSize], binary.LittleEndian, &in)
	return in
}

func packExtentHeader(h rawExtentHeader) []byte {
	buf, _ := restruct.Pack(binary.LittleEndian, h)
	return buf
}

func packExtent(e rawExtent) []byte {
	buf, _ := restruct.Pack(binary.LittleEndian, e)
	return buf
}

func unpackExtentHeader(buf []byte) rawExtentHeader {
	var h rawExtentHeader
	restruct.Unpack(buf, binary.LittleEndian, &h)
	return h
}

func unpackExtent(buf []byte) rawExtent {
	var e rawExtent
	restruct.Unpack(buf, binary.LittleEndian, &e)
	return e
}

// encodeExtents packs one inline extent header followed by up to
// ExtentsPerInode leaf extents into dst[0:60] (the inode's i_block).
func encodeExtents(dst []byte, extents []rawExtent) {
	h := rawExtentHeader{
		Magic:   ExtentHeaderMagic,
		Entries: uint16(len(extents)),
		Max:     ExtentsPerInode,
		Depth:   0,
	}
	copy(dst[0:12], packExtentHeader(h))
	for i, e := range extents {
		if i >= ExtentsPerInode {
			break
		}
		copy(dst[12+i*12:12+i*12+12], packExtent(e))
	}
}

// decodeExtents reads the inline extent header and its leaf entries
// back out of an inode's i_block.
func decodeExtents(block []byte) ([]rawExtent, error) {
	h := unpackExtentHeader(block[0:12])
	if h.Magic != ExtentHeaderMagic {
		return nil, ErrNoExtents
	}
	if h.Depth != 0 {
		return nil, ErrExtentTreeDeep
	}
	n := int(h.Entries)
	if n > ExtentsPerInode {
		n = ExtentsPerInode
	}
	out := make([]rawExtent, 0, n)
	for i := 0; i < n; i++ {
		off := 12 + i*12
		out = append(out, unpackExtent(block[off:off+12]))
	}
	return out, nil
}

// rawDirEntry is one variable-length linear directory entry: a fixed
// 8-byte header (inode, rec_len, name_len, file_type) followed by the
// name, unpadded in memory — on-disk padding to rec_len is the
// caller's job since rec_len also encodes "rest of block" for the
// final entry.
type rawDirEntry struct {
	Inode    uint32
	Name     string
	FileType uint8
}

// encodedRecLen returns the minimum 4-byte-aligned record length for
// an entry with this name.
func encodedRecLen(name string) uint16 {
	n := dirEntryHeaderSize + len(name)
	if rem := n % 4; rem != 0 {
		n += 4 - rem
	}
	return uint16(n)
}

// appendDirEntry appends entry to buf, using recLen as its on-disk
// rec_len (which may be wider than encodedRecLen(entry.Name) when the
// caller is stretching the final entry in a block to fill it).
func appendDirEntry(buf []byte, entry rawDirEntry, recLen uint16) []byte {
	header := make([]byte, dirEntryHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], entry.Inode)
	binary.LittleEndian.PutUint16(header[4:6], recLen)
	header[6] = byte(len(entry.Name))
	header[7] = entry.FileType
	buf = append(buf, header...)
	buf = append(buf, entry.Name...)
	pad := int(recLen) - dirEntryHeaderSize - len(entry.Name)
	for i := 0; i < pad; i++ {
		buf = append(buf, 0)
	}
	return buf
}

// decodeDirEntries walks one directory block's linear entries, skipping
// any with inode == 0 (a deleted/hole entry) and stopping at the
// block's end — rec_len on the last entry always reaches exactly that
// far, so there's no separate end marker to look for.
func decodeDirEntries(block []byte) []rawDirEntry {
	var out []rawDirEntry
	off := 0
	for off+dirEntryHeaderSize <= len(block) {
		inode := binary.LittleEndian.Uint32(block[off : off+4])
		recLen := binary.LittleEndian.Uint16(block[off+4 : off+6])
		nameLen := int(block[off+6])
		fileType := block[off+7]
		if recLen == 0 {
			break
		}
		if inode != 0 && off+dirEntryHeaderSize+nameLen <= len(block) {
			name := string(block[off+dirEntryHeaderSize : off+dirEntryHeaderSize+nameLen])
			out = append(out, rawDirEntry{Inode: inode, Name: name, FileType: fileType})
		}
		off += int(recLen)
	}
	return out
}

func dotEntry(inode uint32) rawDirEntry {
	return rawDirEntry{Inode: inode, Name: ".", FileType: FTDir}
}

func dotdotEntry(inode uint32) rawDirEntry {
	return rawDirEntry{Inode: inode, Name: "..", FileType: FTDir}
}
