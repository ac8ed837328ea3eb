package rimpart_test

import (
	"testing"

	"github.com/mkidv/rimgo/rimio"
	"github.com/mkidv/rimgo/rimpart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndParseGpt(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	part := rimpart.NewGptEntry([16]byte{1: 1}, [16]byte{2: 1}, 2048, 4095, 0, "test")

	require.NoError(t, rimpart.WriteGptFromEntries(io, []rimpart.GptEntry{part}, 20_000, [16]byte{0xAB}))

	h, parts, err := rimpart.ReadGpt(io)
	require.NoError(t, err)
	assert.Len(t, parts, 1)
	assert.EqualValues(t, 2048, parts[0].StartLBA)
	assert.EqualValues(t, [16]byte{0xAB}, h.DiskGUID)
}

func TestGptOverlapDetectedOnRead(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	p1 := rimpart.NewGptEntry([16]byte{1: 1}, [16]byte{2: 1}, 2048, 6143, 0, "1")
	p2 := rimpart.NewGptEntry([16]byte{3: 1}, [16]byte{4: 1}, 4096, 8191, 0, "2")

	require.NoError(t, rimpart.WriteGptFromEntries(io, []rimpart.GptEntry{p1, p2}, 20_000, [16]byte{0xAB}))

	_, _, err := rimpart.ReadGpt(io)
	assert.Error(t, err)
}

func TestGptEntrySizeExceedsSectorRejected(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	h, err := rimpart.NewGptHeader(512, 20_000, [16]byte{})
	require.NoError(t, err)
	h.EntrySize = 1024

	err = rimpart.WriteGptWithHeader(io, h, nil, 512)
	assert.ErrorIs(t, err, rimpart.ErrEntrySizeExceedsSector)
}

func TestGptStreamReaderIterAndFindESP(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	require.NoError(t, rimpart.WriteMBRProtective(io, 20_000))

	p1 := rimpart.NewGptEntry(rimpart.GptPartitionTypeESP, [16]byte{1: 1}, 2048, 4095, 0, "ESP")
	p2 := rimpart.NewGptEntry(rimpart.GptPartitionTypeLinuxFS, [16]byte{2: 1}, 4096, 10_000, 0, "rootfs")
	require.NoError(t, rimpart.WriteGptFromEntries(io, []rimpart.GptEntry{p1, p2}, 20_000, [16]byte{0xAB}))

	reader, err := rimpart.NewGptStreamReader(io, 512)
	require.NoError(t, err)

	var seen []rimpart.GptEntry
	require.NoError(t, reader.ForEachEntry(func(_ int, e rimpart.GptEntry) error {
		seen = append(seen, e)
		return nil
	}))
	require.Len(t, seen, 2)
	assert.EqualValues(t, 2048, seen[0].StartLBA)
	assert.EqualValues(t, 4096, seen[1].StartLBA)

	idx, esp, found, err := reader.FindFirst(func(e rimpart.GptEntry) bool {
		return e.Kind().IsKnown() && e.Kind().String() == "EFI System Partition"
	})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 0, idx)
	assert.EqualValues(t, 4095, esp.EndLBA)

	require.NoError(t, reader.ValidateBounds())
	require.NoError(t, reader.ValidateOverlaps())
}

func TestGptStreamReaderDetectsOverlap(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	require.NoError(t, rimpart.WriteMBRProtective(io, 20_000))

	p1 := rimpart.NewGptEntry(rimpart.GptPartitionTypeMSBasicData, [16]byte{3: 1}, 2048, 6000, 0, "A")
	p2 := rimpart.NewGptEntry(rimpart.GptPartitionTypeMSBasicData, [16]byte{4: 1}, 4096, 7000, 0, "B")

	// write_gpt* CRC-validates overlap only via ValidateEntries at read
	// time, so writing directly via the header path lets us craft the
	// overlapping pair and observe the streaming detector.
	hdr, err := rimpart.NewGptHeader(512, 20_000, [16]byte{0xCD})
	require.NoError(t, err)
	require.NoError(t, rimpart.WriteGptWithHeader(io, hdr, []rimpart.GptEntry{p1, p2}, 512))

	reader, err := rimpart.NewGptStreamReader(io, 512)
	require.NoError(t, err)

	require.NoError(t, reader.ValidateBounds())
	assert.Error(t, reader.ValidateOverlaps())
}

func TestGptStreamWriterRoundtripCRC(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	require.NoError(t, rimpart.WriteMBRProtective(io, 20_000))

	p1 := rimpart.NewGptEntry(rimpart.GptPartitionTypeESP, [16]byte{1: 1}, 2048, 4095, 0, "ESP")
	p2 := rimpart.NewGptEntry(rimpart.GptPartitionTypeLinuxFS, [16]byte{2: 1}, 4096, 9999, 0, "root")

	w, err := rimpart.NewGptStreamWriter(io, 512, 20_000, [16]byte{0xAB})
	require.NoError(t, err)
	require.NoError(t, w.WriteEntries([]rimpart.GptEntry{p1, p2}))
	require.NoError(t, w.Finalize())

	reader, err := rimpart.NewGptStreamReader(io, 512)
	require.NoError(t, err)

	var got []rimpart.GptEntry
	require.NoError(t, reader.ForEachEntry(func(_ int, e rimpart.GptEntry) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 2)
	assert.EqualValues(t, 2048, got[0].StartLBA)
	assert.EqualValues(t, 9999, got[1].EndLBA)

	require.NoError(t, reader.ValidateBounds())
	require.NoError(t, reader.ValidateOverlaps())
	require.NoError(t, reader.ValidateCRC())
}

func TestGptStreamWriterMirrorsBackup(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 32_768)
	require.NoError(t, rimpart.WriteMBRProtective(io, 32_768))

	parts := []rimpart.GptEntry{
		rimpart.NewGptEntry(rimpart.GptPartitionTypeMSBasicData, [16]byte{9: 1}, 2048, 4095, 0, "A"),
		rimpart.NewGptEntry(rimpart.GptPartitionTypeMSBasicData, [16]byte{8: 1}, 8192, 9999, 0, "B"),
	}

	w, err := rimpart.NewGptStreamWriter(io, 512, 32_768, [16]byte{0xCD})
	require.NoError(t, err)
	require.NoError(t, w.WriteEntries(parts))
	require.NoError(t, w.Finalize())

	primaryHdr, err := rimpart.ReadGptHeader(io, 512)
	require.NoError(t, err)

	var backupHdr rimpart.GptHeader
	require.NoError(t, rimio.ReadStruct(io, primaryHdr.BackupLBA*512, &backupHdr))
	assert.Equal(t, primaryHdr.EntriesCRC32, backupHdr.EntriesCRC32)

	tableBytes := int(primaryHdr.NumEntries) * int(primaryHdr.EntrySize)
	sectorsForTable := (tableBytes + 511) / 512
	a := make([]byte, 512)
	b := make([]byte, 512)
	for i := 0; i < sectorsForTable; i++ {
		require.NoError(t, io.ReadAt((primaryHdr.EntriesLBA+uint64(i))*512, a))
		require.NoError(t, io.ReadAt((backupHdr.EntriesLBA+uint64(i))*512, b))
		assert.Equal(t, a, b, "entries sector %d differs", i)
	}
}

func TestScanProtectiveGpt(t *testing.T) {
	io := rimio.NewMemRimIOSize(512 * 20_000)
	require.NoError(t, rimpart.WriteMBRProtective(io, 20_000))

	p1 := rimpart.NewGptEntry(rimpart.GptPartitionTypeESP, [16]byte{1: 1}, 2048, 4095, 0, "EFI-SYSTEM")
	p2 := rimpart.NewGptEntry(rimpart.GptPartitionTypeLinuxFS, [16]byte{2: 1}, 4096, 10_000, 0, "rootfs")
	require.NoError(t, rimpart.WriteGptFromEntries(io, []rimpart.GptEntry{p1, p2}, 20_000, [16]byte{0xAB}))

	info, err := rimpart.Scan(io)
	require.NoError(t, err)

	assert.Equal(t, rimpart.MbrProtective, info.MbrKind)
	require.Len(t, info.Partitions, 2)
	assert.Equal(t, "EFI-SYSTEM", info.Partitions[0].Name)
	assert.Equal(t, "EFI System Partition", info.Partitions[0].Kind.String())
	assert.EqualValues(t, 2048, info.Partitions[0].StartLBA)
	assert.Equal(t, "rootfs", info.Partitions[1].Name)
}
