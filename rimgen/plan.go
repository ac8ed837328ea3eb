// Package rimgen orchestrates disk-image synthesis: it plans aligned
// partition placement, writes the protective MBR and primary/backup GPT,
// then dispatches each partition to its file-system engine (fat32, exfat,
// ext4) or leaves it raw. A Plan is the programmatic configuration surface
// — there is no YAML/TOML front-end here, that lives upstream.
package rimgen

import (
	"github.com/mkidv/rimgo/rimfs"
)

// EngineKind selects which file-system engine formats and populates a
// partition. EngineRaw writes nothing into the partition, except a
// zero-fill of its whole range when FullFormat is set.
type EngineKind uint8

const (
	EngineRaw EngineKind = iota
	EngineFAT32
	EngineExFAT
	EngineEXT4
)

func (k EngineKind) String() string {
	switch k {
	case EngineFAT32:
		return "fat32"
	case EngineExFAT:
		return "exfat"
	case EngineEXT4:
		return "ext4"
	default:
		return "raw"
	}
}

// PartitionSpec describes one partition's placement and payload. SizeBytes
// of 0 asks the orchestrator to auto-size the partition to fit Source
// snugly (only meaningful for engines that can report their own minimum
// footprint; for EngineRaw a nonzero SizeBytes is required).
type PartitionSpec struct {
	Name       string
	TypeGUID   [16]byte
	UniqueGUID [16]byte // zero value requests a freshly minted GUID
	SizeBytes  uint64
	Attributes uint64

	Engine EngineKind
	Label  string
	Source *rimfs.FsNode // nil is equivalent to an empty container

	FullFormat bool // zero-fill the data region during format, not just metadata
}

// Plan is the full input to Build: sector geometry, alignment, and the
// ordered partition list.
type Plan struct {
	SectorSize uint64 // 0 defaults to 512
	DiskGUID   [16]byte

	// TotalBytes is the backend's total capacity the partition table is
	// laid out against. When Truncate is set this is only an upper
	// bound used for placement; the backend is shrunk to the actual
	// footprint afterward.
	TotalBytes uint64

	Partitions []PartitionSpec

	// Truncate shrinks the backend to the last byte actually written by
	// any partition plus the backup GPT footprint, dropping trailing
	// empty sectors. Only meaningful for backends implementing
	// rimio.SetLenner.
	Truncate bool
}

func (p Plan) sectorSize() uint64 {
	if p.SectorSize == 0 {
		return 512
	}
	return p.SectorSize
}
