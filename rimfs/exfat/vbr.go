package exfat

import (
	"encoding/binary"

	"github.com/go-restruct/restruct"
)

// rawVBR is the on-disk exFAT main boot sector, laid out field-for-
// field as restruct.Pack/Unpack expect it — the Go analogue of the
// Rust ExFatBootSector #[repr(C, packed)] type, every reserved region
// modeled as its own placeholder field so the struct's size matches
// the 512-byte sector exactly.
type rawVBR struct {
	JumpBoot                    [3]byte
	FSName                      [8]byte
	MustBeZero                  [53]byte
	PartitionOffset             uint64
	VolumeLength                uint64
	FatOffset                   uint32
	FatLength                   uint32
	ClusterHeapOffset           uint32
	ClusterCount                uint32
	FirstClusterOfRootDirectory uint32
	VolumeSerialNumber          uint32
	FileSystemRevision          uint16
	VolumeFlags                 uint16
	BytesPerSectorShift         uint8
	SectorsPerClusterShift      uint8
	NumberOfFats                uint8
	DriveSelect                 uint8
	PercentInUse                uint8
	Reserved                    [7]byte
	BootCode                    [390]byte
	Signature                   uint16
}

const vbrSize = 512

// rawExBootSector is one of the 8 identical Extended Boot Sectors
// that follow the main VBR; rimgen doesn't populate OEM parameters,
// so the whole body besides the trailing signature stays reserved.
type rawExBootSector struct {
	Reserved  [510]byte
	Signature uint16
}

func packVBR(v *rawVBR) []byte {
	buf := make([]byte, vbrSize)
	packEntryFull(v, buf)
	return buf
}

// packEntryFull packs v (a restruct-taggable struct of any size) into
// dst, which must be at least as large as the packed result.
func packEntryFull(v interface{}, dst []byte) {
	packed, err := restruct.Pack(binary.LittleEndian, v)
	if err != nil {
		panic(wrap("pack_entry_full", err))
	}
	copy(dst, packed)
}

func decodeVBR(buf []byte) (rawVBR, error) {
	if len(buf) < vbrSize {
		return rawVBR{}, wrap("decode_vbr", ErrBadSignature)
	}
	var raw rawVBR
	if err := restruct.Unpack(buf[:vbrSize], binary.LittleEndian, &raw); err != nil {
		return rawVBR{}, wrap("decode_vbr", err)
	}
	if raw.Signature != bootSignature {
		return rawVBR{}, wrap("decode_vbr", ErrBadSignature)
	}
	if raw.FSName != exfatFSName {
		return rawVBR{}, wrap("decode_vbr", ErrBadFSName)
	}
	return raw, nil
}

// accumulateVBRChecksum folds sector into chk using the same
// rotate-right(1)+wrapping-add rule entries use, 32-bit wide. On the
// main VBR sector (isMainVBR), the volatile VolumeFlags (offsets
// 106-107) and PercentInUse (offset 112) bytes are excluded since they
// change after format without invalidating the checksum.
func accumulateVBRChecksum(chk uint32, sector []byte, isMainVBR bool) uint32 {
	for i, b := range sector {
		if isMainVBR && (i == 106 || i == 107 || i == 112) {
			continue
		}
		chk = rotr32(chk) + uint32(b)
	}
	return chk
}
