package fat32

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// rawVBR is the on-disk FAT32 Volume Boot Record laid out field-for-field
// as restruct.Pack/Unpack expect it: every reserved byte range gets its
// own placeholder field so the struct's size matches the 512-byte sector
// exactly, the Go analogue of the Rust Fat32Vbr #[repr(C, packed)] type.
type rawVBR struct {
	JumpBoot         [3]byte
	OEMName          [8]byte
	BytesPerSector   uint16
	SectorsPerCluster uint8
	ReservedSectors  uint16
	NumFATs          uint8
	RootEntryCount   uint16
	TotalSectors16   uint16
	Media            uint8
	FATSize16        uint16
	SectorsPerTrack  uint16
	NumHeads         uint16
	HiddenSectors    uint32
	TotalSectors32   uint32
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
	DriveNumber      uint8
	Reserved1        uint8
	BootSignature    uint8
	VolumeID         uint32
	VolumeLabel      [11]byte
	FSType           [8]byte
	BootCode         [420]byte
	Signature        uint16
}

const vbrSize = 512

// vbr is the subset of rawVBR the formatter/resolver/checker actually
// address; it is mapped to/from rawVBR at the encode/decode boundary.
type vbr struct {
	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFats           uint8
	mediaDescriptor   byte
	sectorsPerFAT32   uint32
	rootCluster       uint32
	fsInfoSector      uint16
	backupBootSector  uint16
	totalSectors32    uint32
	volumeID          uint32
	volumeLabel       [11]byte
	fsType            [8]byte
}

func (v vbr) encode(buf []byte) {
	_ = buf[vbrSize-1]
	raw := rawVBR{
		JumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    v.bytesPerSector,
		SectorsPerCluster: v.sectorsPerCluster,
		ReservedSectors:   v.reservedSectors,
		NumFATs:           v.numFats,
		Media:             v.mediaDescriptor,
		TotalSectors32:    v.totalSectors32,
		FATSize32:         v.sectorsPerFAT32,
		RootCluster:       v.rootCluster,
		FSInfoSector:      v.fsInfoSector,
		BackupBootSector:  v.backupBootSector,
		BootSignature:     0x29,
		VolumeID:          v.volumeID,
		VolumeLabel:       v.volumeLabel,
		FSType:            v.fsType,
		Signature:         bootSignature,
	}
	copy(raw.OEMName[:], "RIMGENFS")

	packed, err := restruct.Pack(binary.LittleEndian, &raw)
	if err != nil {
		panic(wrap("encode_vbr", err))
	}
	copy(buf[:vbrSize], packed)
}

func decodeVBR(buf []byte) (vbr, error) {
	if len(buf) < vbrSize {
		return vbr{}, wrap("decode_vbr", ErrBadBootSignature)
	}
	var raw rawVBR
	if err := restruct.Unpack(buf[:vbrSize], binary.LittleEndian, &raw); err != nil {
		return vbr{}, wrap("decode_vbr", err)
	}
	if raw.Signature != bootSignature {
		return vbr{}, wrap("decode_vbr", ErrBadBootSignature)
	}
	if string(raw.FSType[:5]) != "FAT32" {
		return vbr{}, wrap("decode_vbr", ErrBadFSType)
	}
	return vbr{
		bytesPerSector:    raw.BytesPerSector,
		sectorsPerCluster: raw.SectorsPerCluster,
		reservedSectors:   raw.ReservedSectors,
		numFats:           raw.NumFATs,
		mediaDescriptor:   raw.Media,
		sectorsPerFAT32:   raw.FATSize32,
		rootCluster:       raw.RootCluster,
		fsInfoSector:      raw.FSInfoSector,
		backupBootSector:  raw.BackupBootSector,
		totalSectors32:    raw.TotalSectors32,
		volumeID:          raw.VolumeID,
		volumeLabel:       raw.VolumeLabel,
		fsType:            raw.FSType,
	}, nil
}

// rawFSInfo mirrors the on-disk FSINFO sector field-for-field; the gaps
// between the lead signature, struct signature and the two advisory
// counters are reserved bytes FAT32 implementations must preserve.
type rawFSInfo struct {
	LeadSignature   uint32
	Reserved1       [480]byte
	StructSignature uint32
	FreeCount       uint32
	NextFree        uint32
	Reserved2       [12]byte
	TrailSignature  uint32
}

const fsInfoSize = 512

// fsInfo is the on-disk FSINFO sector: free cluster count and the
// allocator's next-free hint, both advisory per the FAT spec.
type fsInfo struct {
	freeCount uint32
	nextFree  uint32
}

func (f fsInfo) encode(buf []byte) {
	_ = buf[fsInfoSize-1]
	raw := rawFSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       f.freeCount,
		NextFree:        f.nextFree,
		TrailSignature:  fsInfoTrailSignature,
	}
	packed, err := restruct.Pack(binary.LittleEndian, &raw)
	if err != nil {
		panic(wrap("encode_fsinfo", err))
	}
	copy(buf[:fsInfoSize], packed)
}

func decodeFSInfo(buf []byte) (fsInfo, error) {
	if len(buf) < fsInfoSize {
		return fsInfo{}, wrap("decode_fsinfo", ErrBadFSInfoSignature)
	}
	var raw rawFSInfo
	if err := restruct.Unpack(buf[:fsInfoSize], binary.LittleEndian, &raw); err != nil {
		return fsInfo{}, wrap("decode_fsinfo", err)
	}
	if raw.LeadSignature != fsInfoLeadSignature ||
		raw.StructSignature != fsInfoStructSignature ||
		raw.TrailSignature != fsInfoTrailSignature {
		return fsInfo{}, wrap("decode_fsinfo", ErrBadFSInfoSignature)
	}
	return fsInfo{freeCount: raw.FreeCount, nextFree: raw.NextFree}, nil
}
