package fat32

import (
	"testing"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
)

const testVolumeSize = 64 * 1024 * 1024

func buildTestVolume(t *testing.T, root *rimfs.FsNode) (*rimio.MemRimIO, Meta) {
	t.Helper()
	rio := rimio.NewMemRimIOSize(testVolumeSize)
	meta := NewMeta(testVolumeSize, "RIMGENVOL")

	if err := Format(rio, meta, meta.Label(), true); err != nil {
		t.Fatalf("Format: %v", err)
	}

	alloc := NewAllocator(meta)
	inj := NewInjector(rio, meta, alloc)
	if err := inj.BuildTree(root); err != nil {
		t.Fatalf("BuildTree: %v", err)
	}
	if err := rio.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return rio, meta
}

func TestFormatProducesValidBootSector(t *testing.T) {
	rio := rimio.NewMemRimIOSize(testVolumeSize)
	meta := NewMeta(testVolumeSize, "RIMGENVOL")
	if err := Format(rio, meta, meta.Label(), false); err != nil {
		t.Fatalf("Format: %v", err)
	}

	checker := NewChecker(rio, meta, DefaultCheckOptions())
	rep, err := checker.FastCheck()
	if err != nil {
		t.Fatalf("FastCheck: %v", err)
	}
	if rep.HasError() {
		t.Fatalf("unexpected errors on a freshly formatted volume: %+v", rep.Findings)
	}
}

func TestInjectAndResolveRoundtrip(t *testing.T) {
	hello := rimfs.NewFile("hello.txt", rimfs.BytesContent("hello, fat32"), rimfs.DefaultFileAttributes())
	longNamed := rimfs.NewFile("a very long descriptive name.md", rimfs.BytesContent("# notes"), rimfs.DefaultFileAttributes())
	sub := rimfs.NewDir("docs", []*rimfs.FsNode{longNamed}, rimfs.DefaultDirAttributes())
	root := rimfs.NewContainer([]*rimfs.FsNode{hello, sub}, rimfs.DefaultDirAttributes())

	rio, meta := buildTestVolume(t, root)
	resolver := NewResolver(rio, meta)

	got, err := resolver.ReadFile("hello.txt")
	if err != nil {
		t.Fatalf("ReadFile(hello.txt): %v", err)
	}
	if string(got) != "hello, fat32" {
		t.Fatalf("content mismatch: got %q", got)
	}

	got, err = resolver.ReadFile("docs/a very long descriptive name.md")
	if err != nil {
		t.Fatalf("ReadFile(docs/...): %v", err)
	}
	if string(got) != "# notes" {
		t.Fatalf("nested content mismatch: got %q", got)
	}

	children, err := resolver.ReadDir(meta.RootUnit())
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	names := map[string]bool{}
	for _, c := range children {
		names[c.name()] = true
	}
	if !names["hello.txt"] || !names["docs"] {
		t.Fatalf("root listing missing expected entries: %v", names)
	}
}

func TestCheckerFindsWellFormedTree(t *testing.T) {
	f1 := rimfs.NewFile("a.bin", rimfs.BytesContent(make([]byte, 300000)), rimfs.DefaultFileAttributes())
	f2 := rimfs.NewFile("b.bin", rimfs.BytesContent([]byte("small")), rimfs.DefaultFileAttributes())
	sub := rimfs.NewDir("data", []*rimfs.FsNode{f2}, rimfs.DefaultDirAttributes())
	root := rimfs.NewContainer([]*rimfs.FsNode{f1, sub}, rimfs.DefaultDirAttributes())

	rio, meta := buildTestVolume(t, root)

	opts := DefaultCheckOptions()
	opts.WalkReachability = true
	opts.CheckLFNSets = true
	opts.DeepFATWalk = true
	opts.CompareFATCopies = true

	checker := NewChecker(rio, meta, opts)
	rep, err := checker.FastCheck()
	if err != nil {
		t.Fatalf("FastCheck: %v", err)
	}
	if rep.HasError() {
		t.Fatalf("unexpected errors in a well-formed tree: %+v", rep.Findings)
	}
}

func TestResolvePathMissingReturnsNotFound(t *testing.T) {
	root := rimfs.NewContainer(nil, rimfs.DefaultDirAttributes())
	rio, meta := buildTestVolume(t, root)
	resolver := NewResolver(rio, meta)

	if _, err := resolver.ReadFile("nope.txt"); err == nil {
		t.Fatalf("expected an error resolving a missing path")
	}
}
