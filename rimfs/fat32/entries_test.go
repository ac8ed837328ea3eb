package fat32

import (
	"testing"

	"github.com/mkidv/rimgo/rimfs"
)

func TestShortNameOnlyRoundtrip(t *testing.T) {
	ent := newDirEntries("README.TXT", false, 5, 128, rimfs.DefaultFileAttributes(), 1)
	if len(ent.lfn) != 0 {
		t.Fatalf("expected no LFN pieces for a plain 8.3 name, got %d", len(ent.lfn))
	}

	buf := make([]byte, ent.sizeInBytes())
	ent.encodeInto(buf)

	got, err := decodeEntries(nil, buf)
	if err != nil {
		t.Fatalf("decodeEntries: %v", err)
	}
	if got.name() != "readme.txt" {
		t.Fatalf("name roundtrip: got %q", got.name())
	}
	if got.firstCluster() != 5 || got.size() != 128 {
		t.Fatalf("cluster/size roundtrip: cluster=%d size=%d", got.firstCluster(), got.size())
	}
}

func TestLongNameRoundtrip(t *testing.T) {
	name := "Crème brûlée café.txt"
	ent := newDirEntries(name, false, 9, 42, rimfs.DefaultFileAttributes(), 1)
	if len(ent.lfn) == 0 {
		t.Fatalf("expected LFN pieces for a non-8.3 name")
	}

	buf := make([]byte, ent.sizeInBytes())
	ent.encodeInto(buf)

	lfnRaw := make([][]byte, len(ent.lfn))
	for i := range lfnRaw {
		lfnRaw[i] = buf[i*sizeDirEntry : (i+1)*sizeDirEntry]
	}
	sfnRaw := buf[len(ent.lfn)*sizeDirEntry:]

	got, err := decodeEntries(lfnRaw, sfnRaw)
	if err != nil {
		t.Fatalf("decodeEntries: %v", err)
	}
	if got.name() != name {
		t.Fatalf("long name roundtrip: got %q want %q", got.name(), name)
	}
}

func TestLongNameMultiPiece(t *testing.T) {
	name := ""
	for i := 0; i < 40; i++ {
		name += "a"
	}
	ent := newDirEntries(name, false, 1, 0, rimfs.DefaultFileAttributes(), 1)
	if len(ent.lfn) != 4 {
		t.Fatalf("expected 4 LFN pieces for a 40-char name, got %d", len(ent.lfn))
	}
	if ent.lfn[0].order&lfnLastFlag == 0 {
		t.Fatalf("first on-disk piece must carry the LAST flag")
	}
	for _, p := range ent.lfn {
		if p.checksum != lfnChecksum(ent.entry.name) {
			t.Fatalf("every LFN piece must carry the SFN checksum")
		}
	}
}

func TestDotAndDotDotEntries(t *testing.T) {
	dot := dotEntry(7)
	dotdot := dotDotEntry(2)

	if dot.entry.name != dotName || dotdot.entry.name != dotDotName {
		t.Fatalf("dot/dotdot must use the reserved padded names")
	}
	if dot.firstCluster() != 7 || dotdot.firstCluster() != 2 {
		t.Fatalf("dot/dotdot must point at the given clusters")
	}
	if dot.size() != 0 || dotdot.size() != 0 {
		t.Fatalf("dot/dotdot entries are always zero-size")
	}
	if len(dot.lfn) != 0 || len(dotdot.lfn) != 0 {
		t.Fatalf("dot/dotdot never carry an LFN set")
	}
}

func TestVolumeLabelNeverLFN(t *testing.T) {
	var label [11]byte
	copy(label[:], "MYVOLUME   ")
	vol := volumeLabelEntry(label)
	if len(vol.lfn) != 0 {
		t.Fatalf("volume label entries never carry an LFN set")
	}
	if !vol.entry.attr.IsVolumeID() {
		t.Fatalf("volume label entry must set the volume ID attribute")
	}
}

func TestDirAttrFor(t *testing.T) {
	dirAttr := dirAttrFor(true, rimfs.DefaultDirAttributes())
	if !dirAttr.IsDir() {
		t.Fatalf("directory entries must set the directory attribute")
	}

	ro := rimfs.DefaultFileAttributes()
	ro.Mode &^= 0o200
	fileAttr := dirAttrFor(false, ro)
	if fileAttr&attrReadOnly == 0 {
		t.Fatalf("a mode with no owner-write bit must map to read-only")
	}
}
