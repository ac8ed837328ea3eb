package rimgen_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimgen"
	"github.com/mkidv/rimgo/rimio"
	"github.com/mkidv/rimgo/rimpart"
)

const testImageSize = 128 * 1024 * 1024

func TestBuildSinglePartitionFAT32(t *testing.T) {
	rio := rimio.NewMemRimIOSize(testImageSize)
	hello := rimfs.NewFile("hello.txt", rimfs.BytesContent("hi"), rimfs.DefaultFileAttributes())
	root := rimfs.NewContainer([]*rimfs.FsNode{hello}, rimfs.DefaultDirAttributes())

	plan := rimgen.Plan{
		TotalBytes: testImageSize,
		Partitions: []rimgen.PartitionSpec{
			{
				Name:      "DATA",
				TypeGUID:  rimpart.GptPartitionTypeMSBasicData,
				SizeBytes: 64 * 1024 * 1024,
				Engine:    rimgen.EngineFAT32,
				Label:     "DATA",
				Source:    root,
			},
		},
	}

	report, err := rimgen.Build(rio, plan)
	require.NoError(t, err)
	require.Len(t, report.Partitions, 1)
	require.NotNil(t, report.Partitions[0].Findings)
	require.False(t, report.Partitions[0].Findings.HasError())
	require.False(t, report.HasError())

	info, err := rimpart.Scan(rio)
	require.NoError(t, err)
	require.Len(t, info.Partitions, 1)
	require.Equal(t, "DATA", info.Partitions[0].Name)
}

func TestBuildMultiPartitionMixedEngines(t *testing.T) {
	rio := rimio.NewMemRimIOSize(testImageSize)
	esp := rimfs.NewContainer(nil, rimfs.DefaultDirAttributes())
	linuxRoot := rimfs.NewContainer([]*rimfs.FsNode{
		rimfs.NewFile("init", rimfs.BytesContent("#!/bin/sh"), rimfs.DefaultFileAttributes()),
	}, rimfs.DefaultDirAttributes())

	plan := rimgen.Plan{
		TotalBytes: testImageSize,
		Partitions: []rimgen.PartitionSpec{
			{
				Name:      "ESP",
				TypeGUID:  rimpart.GptPartitionTypeESP,
				SizeBytes: 16 * 1024 * 1024,
				Engine:    rimgen.EngineExFAT,
				Label:     "ESP",
				Source:    esp,
			},
			{
				Name:      "ROOT",
				TypeGUID:  rimpart.GptPartitionTypeLinuxFS,
				SizeBytes: 64 * 1024 * 1024,
				Engine:    rimgen.EngineEXT4,
				Label:     "ROOT",
				Source:    linuxRoot,
			},
		},
	}

	report, err := rimgen.Build(rio, plan)
	require.NoError(t, err)
	require.Len(t, report.Partitions, 2)
	require.False(t, report.HasError())

	info, err := rimpart.Scan(rio)
	require.NoError(t, err)
	require.Len(t, info.Partitions, 2)
	require.NoError(t, rimpart.CheckOverlaps(mustEntries(t, rio)))

	wantNames := []string{"ESP", "ROOT"}
	gotNames := make([]string, len(info.Partitions))
	for i, p := range info.Partitions {
		gotNames[i] = p.Name
	}
	if diff := cmp.Diff(wantNames, gotNames, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("scanned partition names mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRawPartitionRequiresExplicitSize(t *testing.T) {
	rio := rimio.NewMemRimIOSize(testImageSize)
	plan := rimgen.Plan{
		TotalBytes: testImageSize,
		Partitions: []rimgen.PartitionSpec{
			{Name: "SWAP", TypeGUID: rimpart.GptPartitionTypeLinuxSwap, Engine: rimgen.EngineRaw},
		},
	}

	_, err := rimgen.Build(rio, plan)
	require.ErrorIs(t, err, rimgen.ErrAutoSizeNotSupported)
}

func TestBuildTruncateShrinksImage(t *testing.T) {
	rio := rimio.NewMemRimIOSize(testImageSize)
	plan := rimgen.Plan{
		TotalBytes: testImageSize,
		Truncate:   true,
		Partitions: []rimgen.PartitionSpec{
			{
				Name:      "DATA",
				TypeGUID:  rimpart.GptPartitionTypeMSBasicData,
				SizeBytes: 16 * 1024 * 1024,
				Engine:    rimgen.EngineExFAT,
				Label:     "DATA",
			},
		},
	}

	report, err := rimgen.Build(rio, plan)
	require.NoError(t, err)
	require.Less(t, report.TotalBytes, uint64(testImageSize))

	_, err = rimpart.Scan(rio)
	require.NoError(t, err)
}

func mustEntries(t *testing.T, rio rimio.RimIO) []rimpart.GptEntry {
	t.Helper()
	_, entries, err := rimpart.ReadGpt(rio)
	require.NoError(t, err)
	return entries
}
