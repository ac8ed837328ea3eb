package rimpart

import "github.com/mkidv/rimgo/rimio"

const (
	mbrSignature  uint16 = 0xAA55
	protectiveGPT uint8  = 0xEE
	mbrSectorSize        = 512
)

// ProtectiveMBREntry is one of the four legacy partition table entries.
type ProtectiveMBREntry struct {
	BootIndicator uint8
	StartingCHS   [3]byte
	PartitionType uint8
	EndingCHS     [3]byte
	StartingLBA   uint32
	SizeInLBA     uint32
}

// ProtectiveMBR is the first sector of a GPT-partitioned disk: 446 bytes
// of (unused) bootstrap code, four 16-byte partition entries, and the
// 0xAA55 boot signature.
type ProtectiveMBR struct {
	BootstrapCode [446]byte
	Entries       [4]ProtectiveMBREntry
	Signature     [2]byte
}

// chsFill returns the maxed-out CHS triple GPT tools conventionally write
// for the protective entry: start 0x000200 and end 0xFFFFFF, even for a
// disk small enough to represent exactly — a distinction modern readers
// ignore.
func chsFill(startingLBA, sizeInLBA uint32) ([3]byte, [3]byte) {
	return [3]byte{0x00, 0x02, 0x00}, [3]byte{0xFF, 0xFF, 0xFF}
}

// NewProtectiveMBR builds the single-entry protective MBR covering the
// whole disk (entry 0, type 0xEE, spanning min(totalSectors-1, 0xFFFFFFFF)
// sectors starting at LBA 1).
func NewProtectiveMBR(totalSectors uint64) ProtectiveMBR {
	size := totalSectors - 1
	var sizeInLBA uint32
	if size > 0xFFFFFFFF {
		sizeInLBA = 0xFFFFFFFF
	} else {
		sizeInLBA = uint32(size)
	}
	startCHS, endCHS := chsFill(1, sizeInLBA)
	var mbr ProtectiveMBR
	mbr.Entries[0] = ProtectiveMBREntry{
		BootIndicator: 0,
		StartingCHS:   startCHS,
		PartitionType: protectiveGPT,
		EndingCHS:     endCHS,
		StartingLBA:   1,
		SizeInLBA:     sizeInLBA,
	}
	mbr.Signature = [2]byte{0x55, 0xAA}
	return mbr
}

// WriteMBRProtective writes a protective MBR covering totalSectors at
// LBA 0.
func WriteMBRProtective(rio rimio.RimIO, totalSectors uint64) error {
	mbr := NewProtectiveMBR(totalSectors)
	return wrap("mbr.write_protective", rimio.WriteStruct(rio, 0, &mbr))
}

// MbrKind classifies the boot sector found at LBA 0.
type MbrKind int

const (
	MbrEmpty MbrKind = iota
	MbrProtective
	MbrLegacy
)

func (k MbrKind) String() string {
	switch k {
	case MbrProtective:
		return "protective"
	case MbrLegacy:
		return "legacy"
	default:
		return "empty"
	}
}

// ReadMBR reads and classifies the boot sector at LBA 0 without
// requiring it to be a valid protective MBR (used by the scanner, which
// must tolerate legacy and empty disks).
func ReadMBR(rio rimio.RimIO) (ProtectiveMBR, MbrKind, error) {
	var mbr ProtectiveMBR
	if err := rimio.ReadStruct(rio, 0, &mbr); err != nil {
		return mbr, MbrEmpty, wrap("mbr.read", err)
	}
	sig := uint16(mbr.Signature[0]) | uint16(mbr.Signature[1])<<8
	if sig != mbrSignature {
		return mbr, MbrEmpty, nil
	}
	for _, e := range mbr.Entries {
		if e.PartitionType == protectiveGPT {
			return mbr, MbrProtective, nil
		}
	}
	for _, e := range mbr.Entries {
		if e.PartitionType != 0 {
			return mbr, MbrLegacy, nil
		}
	}
	return mbr, MbrEmpty, nil
}
