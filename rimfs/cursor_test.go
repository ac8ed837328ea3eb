package rimfs_test

import (
	"testing"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/mkidv/rimgo/rimio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClusterMeta is a minimal FAT32-shaped geometry just large enough
// to exercise ClusterCursor/LinearCursor without a real engine.
type fakeClusterMeta struct {
	fatBase  uint64
	dataBase uint64
	unit     uint32
	last     uint32
}

func (m *fakeClusterMeta) UnitSize() uint32            { return m.unit }
func (m *fakeClusterMeta) UnitOffset(u uint32) uint64   { return m.dataBase + uint64(u-2)*uint64(m.unit) }
func (m *fakeClusterMeta) RootUnit() uint32             { return 2 }
func (m *fakeClusterMeta) FirstDataUnit() uint32        { return 2 }
func (m *fakeClusterMeta) LastDataUnit() uint32         { return m.last }
func (m *fakeClusterMeta) TotalUnits() uint32           { return m.last - 1 }
func (m *fakeClusterMeta) SizeBytes() uint64            { return uint64(m.last) * uint64(m.unit) }
func (m *fakeClusterMeta) Label() string                { return "TEST" }
func (m *fakeClusterMeta) EOC() uint32                  { return 0x0FFFFFF8 }
func (m *fakeClusterMeta) FirstCluster() uint32         { return 2 }
func (m *fakeClusterMeta) EntrySize() int               { return 4 }
func (m *fakeClusterMeta) EntryMask() uint32            { return 0x0FFFFFFF }
func (m *fakeClusterMeta) NumFats() uint8               { return 1 }
func (m *fakeClusterMeta) IsEOC(c uint32) bool          { return c >= m.EOC() }
func (m *fakeClusterMeta) FatEntryOffset(c uint32, fatIdx uint8) uint64 {
	return m.fatBase + uint64(c)*4
}

func newFakeIO(t *testing.T) (rimio.RimIO, *fakeClusterMeta) {
	t.Helper()
	meta := &fakeClusterMeta{fatBase: 0, dataBase: 4096, unit: 512, last: 1000}
	rio := rimio.NewMemRimIOSize(4096 + 1000*512)
	return rio, meta
}

func writeChain(t *testing.T, rio rimio.RimIO, meta *fakeClusterMeta, chain []uint32) {
	t.Helper()
	for i, c := range chain {
		var next uint32
		if i == len(chain)-1 {
			next = meta.EOC()
		} else {
			next = chain[i+1]
		}
		require.NoError(t, rimio.WriteU32At(rio, meta.FatEntryOffset(c, 0), next))
	}
}

func TestClusterCursorForEachCluster(t *testing.T) {
	rio, meta := newFakeIO(t)
	writeChain(t, rio, meta, []uint32{5, 6, 7, 10})

	cur := rimfs.NewClusterCursorSafe(meta, 5)
	var visited []uint32
	require.NoError(t, cur.ForEachCluster(rio, func(_ rimio.RimIO, c uint32) error {
		visited = append(visited, c)
		return nil
	}))
	assert.Equal(t, []uint32{5, 6, 7, 10}, visited)
}

func TestClusterCursorForEachRunCoalesces(t *testing.T) {
	rio, meta := newFakeIO(t)
	writeChain(t, rio, meta, []uint32{5, 6, 7, 20, 21})

	cur := rimfs.NewClusterCursorSafe(meta, 5)
	type run struct{ start, length uint32 }
	var runs []run
	require.NoError(t, cur.ForEachRun(rio, func(_ rimio.RimIO, start, length uint32) error {
		runs = append(runs, run{start, length})
		return nil
	}))
	assert.Equal(t, []run{{5, 3}, {20, 2}}, runs)
}

func TestClusterCursorDetectsLoop(t *testing.T) {
	rio, meta := newFakeIO(t)
	require.NoError(t, rimio.WriteU32At(rio, meta.FatEntryOffset(5, 0), 6))
	require.NoError(t, rimio.WriteU32At(rio, meta.FatEntryOffset(6, 0), 5))

	cur := rimfs.NewClusterCursorSafe(meta, 5)
	err := cur.ForEachCluster(rio, func(_ rimio.RimIO, _ uint32) error { return nil })
	assert.ErrorIs(t, err, rimfs.ErrLoopDetected)
}

func TestClusterCursorInvalidCluster(t *testing.T) {
	rio, meta := newFakeIO(t)
	require.NoError(t, rimio.WriteU32At(rio, meta.FatEntryOffset(5, 0), 99999))

	cur := rimfs.NewClusterCursorSafe(meta, 5)
	err := cur.ForEachCluster(rio, func(_ rimio.RimIO, _ uint32) error { return nil })
	var invalid *rimfs.InvalidClusterError
	assert.ErrorAs(t, err, &invalid)
	assert.EqualValues(t, 99999, invalid.Cluster)
}

func TestLinearCursorReadInto(t *testing.T) {
	rio, meta := newFakeIO(t)
	payload := make([]byte, 512*3)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, rio.WriteAt(meta.UnitOffset(2), payload))

	lc := rimfs.NewLinearCursorFromLenSafe(meta, 2, uint64(len(payload)))
	out := make([]byte, len(payload))
	require.NoError(t, lc.ReadInto(rio, uint64(len(payload)), out))
	assert.Equal(t, payload, out)
}
