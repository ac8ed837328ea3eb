// Package fat32 implements the FAT32 engine: meta/geometry, on-disk
// directory entries, formatter, allocator, injector, resolver and
// checker, all driven through rimfs' shared cluster cursor and
// reachability tracker.
package fat32

const (
	// FirstCluster is the lowest valid cluster number; 0 and 1 are
	// reserved (media descriptor / EOC placeholder in FAT[0]/FAT[1]).
	FirstCluster uint32 = 2

	// EntrySize is the width in bytes of one FAT32 FAT entry.
	EntrySize = 4
	// EntryMask keeps the low 28 bits; the top nibble is reserved and
	// must be preserved across writes.
	EntryMask uint32 = 0x0FFFFFFF

	// EOC is the end-of-chain sentinel written by the formatter and
	// injector. Anything >= EOCMin on read is treated as end-of-chain.
	EOC    uint32 = 0x0FFFFFFF
	EOCMin uint32 = 0x0FFFFFF8
	// BadCluster marks a cluster the allocator must never hand out.
	BadCluster uint32 = 0x0FFFFFF7
	// MediaDescriptor is written into the low byte of FAT[0].
	MediaDescriptor byte = 0xF8

	vbrSector       uint64 = 0
	vbrBackupSector uint64 = 6
	fsInfoSector    uint64 = 1
	fsInfoBackupSector uint64 = 7

	fsInfoLeadSignature  uint32 = 0x41615252
	fsInfoStructSignature uint32 = 0x61417272
	fsInfoTrailSignature uint32 = 0xAA550000

	bootSignature uint16 = 0xAA55

	sizeDirEntry = 32

	entryEOD     byte = 0x00
	entryDeleted byte = 0xE5

	numFats uint8 = 2
)

var fsTypeLabel = [8]byte{'F', 'A', 'T', '3', '2', ' ', ' ', ' '}

var dotName = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
var dotDotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
