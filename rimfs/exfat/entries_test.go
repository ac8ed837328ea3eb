package exfat

import (
	"testing"
	"time"

	"github.com/mkidv/rimgo/rimfs"
)

func TestEntrySetShortNameRoundtrip(t *testing.T) {
	set, err := newEntrySet("readme.txt", false, 5, 128, rimfs.DefaultFileAttributes(), false, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	buf := make([]byte, set.sizeInBytes())
	set.encodeInto(buf)

	primaryRaw := buf[0:sizeDirEntry]
	streamRaw := buf[sizeDirEntry : 2*sizeDirEntry]
	var nameRaw [][]byte
	for off := 2 * sizeDirEntry; off < len(buf); off += sizeDirEntry {
		nameRaw = append(nameRaw, buf[off:off+sizeDirEntry])
	}

	got, err := decodeEntrySet(primaryRaw, streamRaw, nameRaw)
	if err != nil {
		t.Fatalf("decodeEntrySet: %v", err)
	}
	if got.name != "readme.txt" {
		t.Fatalf("name roundtrip: got %q", got.name)
	}
	if got.firstCluster() != 5 || got.size() != 128 {
		t.Fatalf("cluster/size roundtrip: cluster=%d size=%d", got.firstCluster(), got.size())
	}
	if got.isContiguous() {
		t.Fatalf("non-contiguous allocation must not set NoFatChain")
	}
}

func TestEntrySetLongNameMultiPiece(t *testing.T) {
	name := ""
	for i := 0; i < 40; i++ {
		name += "a"
	}
	set, err := newEntrySet(name, false, 1, 0, rimfs.DefaultFileAttributes(), false, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	if len(set.names) != 3 {
		t.Fatalf("expected 3 name entries for a 40-char name (15 chars each), got %d", len(set.names))
	}

	buf := make([]byte, set.sizeInBytes())
	set.encodeInto(buf)
	primaryRaw := buf[0:sizeDirEntry]
	streamRaw := buf[sizeDirEntry : 2*sizeDirEntry]
	var nameRaw [][]byte
	for off := 2 * sizeDirEntry; off < len(buf); off += sizeDirEntry {
		nameRaw = append(nameRaw, buf[off:off+sizeDirEntry])
	}

	got, err := decodeEntrySet(primaryRaw, streamRaw, nameRaw)
	if err != nil {
		t.Fatalf("decodeEntrySet: %v", err)
	}
	if got.name != name {
		t.Fatalf("long name roundtrip: got %q want %q", got.name, name)
	}
}

func TestEntrySetContiguousSetsNoFatChain(t *testing.T) {
	set, err := newEntrySet("big.bin", false, 10, 4096, rimfs.DefaultFileAttributes(), true, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	if !set.isContiguous() {
		t.Fatalf("contiguous allocation must set NoFatChain")
	}
}

func TestEntrySetChecksumDetectsCorruption(t *testing.T) {
	set, err := newEntrySet("a.txt", false, 3, 10, rimfs.DefaultFileAttributes(), false, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	buf := make([]byte, set.sizeInBytes())
	set.encodeInto(buf)

	primaryRaw := append([]byte(nil), buf[0:sizeDirEntry]...)
	streamRaw := buf[sizeDirEntry : 2*sizeDirEntry]
	primaryRaw[4] ^= 0xFF // corrupt FileAttributes byte

	var primary rawFileEntry
	unpackEntry(primaryRaw, &primary)
	nameRaw := [][]byte{buf[2*sizeDirEntry : 3*sizeDirEntry]}
	want := entrySetChecksum(primaryRaw, streamRaw, nameRaw)
	if want == primary.SetChecksum {
		t.Fatalf("expected corrupted entry to fail its checksum")
	}
}

func TestNameHashUpcasesBeforeHashing(t *testing.T) {
	lower, err := newEntrySet("hello.txt", false, 1, 0, rimfs.DefaultFileAttributes(), false, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	upper, err := newEntrySet("HELLO.TXT", false, 1, 0, rimfs.DefaultFileAttributes(), false, time.Now().UTC())
	if err != nil {
		t.Fatalf("newEntrySet: %v", err)
	}
	if lower.stream.NameHash != upper.stream.NameHash {
		t.Fatalf("name hash must be case-insensitive: %#x != %#x", lower.stream.NameHash, upper.stream.NameHash)
	}
}

func TestFileAttrForDirectoryAndReadOnly(t *testing.T) {
	if !isDirAttr(fileAttrFor(true, rimfs.DefaultDirAttributes())) {
		t.Fatalf("directory entries must set the directory attribute")
	}

	ro := rimfs.DefaultFileAttributes()
	ro.Mode &^= 0o200
	if fileAttrFor(false, ro)&attrReadOnly == 0 {
		t.Fatalf("a mode with no owner-write bit must map to read-only")
	}
}

func TestVolumeLabelRoundtrip(t *testing.T) {
	ent := volumeLabelEntry("RIMGENVOL")
	if decodeVolumeLabel(ent) != "RIMGENVOL" {
		t.Fatalf("volume label roundtrip: got %q", decodeVolumeLabel(ent))
	}
}
