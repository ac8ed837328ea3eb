package ext4

import "testing"

func TestSuperblockPackRoundtrip(t *testing.T) {
	sb := rawSuperblock{
		InodesCount:    1024,
		BlocksCountLo:  16384,
		Magic:          SuperblockMagic,
		BlocksPerGroup: DefaultBlocksPerGroup,
		InodesPerGroup: DefaultInodesPerGroup,
		InodeSize:      DefaultInodeSize,
	}
	copy(sb.VolumeName[:], "TESTVOL")

	buf := packSuperblock(sb)
	if len(buf) != SuperblockSize {
		t.Fatalf("packed superblock size = %d, want %d", len(buf), SuperblockSize)
	}

	got := unpackSuperblock(buf)
	if got.Magic != SuperblockMagic {
		t.Fatalf("magic roundtrip mismatch: got %#x", got.Magic)
	}
	if got.InodesCount != sb.InodesCount || got.BlocksCountLo != sb.BlocksCountLo {
		t.Fatalf("field roundtrip mismatch: got %+v", got)
	}
}

func TestExtentEncodeDecodeRoundtrip(t *testing.T) {
	extents := []rawExtent{
		newExtent(0, 100, 8),
		newExtent(8, 200, 4),
	}
	var block [60]byte
	encodeExtents(block[:], extents)

	got, err := decodeExtents(block[:])
	if err != nil {
		t.Fatalf("decodeExtents: %v", err)
	}
	if len(got) != len(extents) {
		t.Fatalf("extent count mismatch: got %d want %d", len(got), len(extents))
	}
	for i, e := range extents {
		if got[i].Block != e.Block || got[i].Len != e.Len || got[i].startBlock() != e.startBlock() {
			t.Fatalf("extent %d mismatch: got %+v want %+v", i, got[i], e)
		}
	}
}

func TestDecodeExtentsRejectsBadMagic(t *testing.T) {
	var block [60]byte
	if _, err := decodeExtents(block[:]); err != ErrNoExtents {
		t.Fatalf("expected ErrNoExtents for a zeroed block, got %v", err)
	}
}

func TestDecodeExtentsRejectsDeepTree(t *testing.T) {
	var block [60]byte
	encodeExtents(block[:], nil)
	block[6] = 1 // eh_depth low byte, after magic(2)+entries(2)+max(2)
	if _, err := decodeExtents(block[:]); err != ErrExtentTreeDeep {
		t.Fatalf("expected ErrExtentTreeDeep, got %v", err)
	}
}

func TestDirEntryAppendAndDecode(t *testing.T) {
	var buf []byte
	buf = appendDirEntry(buf, rawDirEntry{Inode: 12, Name: "hello.txt", FileType: FTRegFile}, encodedRecLen("hello.txt"))
	buf = appendDirEntry(buf, rawDirEntry{Inode: 13, Name: "docs", FileType: FTDir}, 4096-uint16(len(buf)))

	got := decodeDirEntries(buf)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(got), got)
	}
	if got[0].Name != "hello.txt" || got[0].Inode != 12 || got[0].FileType != FTRegFile {
		t.Fatalf("entry 0 mismatch: %+v", got[0])
	}
	if got[1].Name != "docs" || got[1].Inode != 13 || got[1].FileType != FTDir {
		t.Fatalf("entry 1 mismatch: %+v", got[1])
	}
}

func TestIsSparseSuperGroup(t *testing.T) {
	want := map[uint32]bool{
		0: true, 1: true, 2: false, 3: true, 4: false,
		5: true, 6: false, 7: true, 8: false, 9: true,
		10: false, 25: true, 49: true,
	}
	for g, expect := range want {
		if got := IsSparseSuperGroup(g); got != expect {
			t.Fatalf("IsSparseSuperGroup(%d) = %v, want %v", g, got, expect)
		}
	}
}

func TestComputeGroupLayoutOrdering(t *testing.T) {
	meta := NewMeta(64*1024*1024, "TEST")
	layout := ComputeGroupLayout(meta, 0)

	if layout.BlockBitmapBlock <= layout.GroupStart {
		t.Fatalf("block bitmap must follow the group's reserved range")
	}
	if layout.InodeBitmapBlock != layout.BlockBitmapBlock+1 {
		t.Fatalf("inode bitmap must immediately follow the block bitmap")
	}
	if layout.InodeTableBlock != layout.InodeBitmapBlock+1 {
		t.Fatalf("inode table must immediately follow the inode bitmap")
	}
	if layout.FirstDataBlock != layout.InodeTableBlock+layout.InodeTableBlocks {
		t.Fatalf("first data block must immediately follow the inode table")
	}
}

func TestBlocksNeeded(t *testing.T) {
	cases := []struct {
		size uint64
		want int
	}{
		{0, 0},
		{1, 1},
		{4096, 1},
		{4097, 2},
		{8192, 2},
	}
	for _, c := range cases {
		if got := BlocksNeeded(c.size, 4096); got != c.want {
			t.Fatalf("BlocksNeeded(%d) = %d, want %d", c.size, got, c.want)
		}
	}
}

func TestBuildExtentsCoalescesContiguousRuns(t *testing.T) {
	extents := buildExtents([]uint32{10, 11, 12, 20, 21})
	if len(extents) != 2 {
		t.Fatalf("expected 2 coalesced extents, got %d: %+v", len(extents), extents)
	}
	if extents[0].startBlock() != 10 || extents[0].Len != 3 {
		t.Fatalf("first extent mismatch: %+v", extents[0])
	}
	if extents[1].startBlock() != 20 || extents[1].Len != 2 {
		t.Fatalf("second extent mismatch: %+v", extents[1])
	}
	if extents[1].Block != 3 {
		t.Fatalf("second extent's logical block should continue after the first's length: got %d", extents[1].Block)
	}
}
