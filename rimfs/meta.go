package rimfs

// Unit is the constraint on an FsMeta unit-index type. All three
// engines use a plain 32-bit cluster/block index, but the interface
// stays generic so a future engine with a wider address space isn't
// forced to duplicate it.
type Unit interface {
	~uint32
}

// FsMeta describes the addressing geometry of a formatted volume: how
// big a unit is, where it lives, and the handful of well-known units
// (root, first/last data unit) every engine needs regardless of its
// on-disk layout.
type FsMeta[U Unit] interface {
	UnitSize() uint32
	UnitOffset(u U) uint64
	RootUnit() U
	FirstDataUnit() U
	LastDataUnit() U
	TotalUnits() U
	SizeBytes() uint64
	Label() string
}

// ClusterMeta extends FsMeta[uint32] with the FAT-chain specifics FAT32
// and exFAT share but EXT4 doesn't: an end-of-chain sentinel, the
// first usable cluster number, entry width/mask, and how many mirrored
// FAT copies exist.
type ClusterMeta interface {
	FsMeta[uint32]

	EOC() uint32
	FirstCluster() uint32
	EntrySize() int
	EntryMask() uint32
	NumFats() uint8

	// FatEntryOffset returns the absolute byte offset of cluster's FAT
	// entry within fat copy fatIndex (0-based).
	FatEntryOffset(cluster uint32, fatIndex uint8) uint64

	IsEOC(cluster uint32) bool
}
