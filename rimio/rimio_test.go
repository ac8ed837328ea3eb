package rimio_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mkidv/rimgo/rimio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemRimIORoundTrip(t *testing.T) {
	m := rimio.NewMemRimIOSize(64)
	data := []byte("hello, rimio")
	require.NoError(t, m.WriteAt(8, data))

	got := make([]byte, len(data))
	require.NoError(t, m.ReadAt(8, got))
	assert.Equal(t, data, got)
}

func TestMemRimIOOutOfBounds(t *testing.T) {
	m := rimio.NewMemRimIOSize(16)
	err := m.ReadAt(10, make([]byte, 16))
	assert.ErrorIs(t, err, rimio.ErrOutOfBounds)
}

func TestMemRimIOPartitionOffset(t *testing.T) {
	m := rimio.NewMemRimIOSize(64)
	require.NoError(t, m.WriteAt(0, []byte{1, 2, 3, 4}))

	prev := m.SetOffset(2)
	assert.EqualValues(t, 0, prev)

	got := make([]byte, 2)
	require.NoError(t, m.ReadAt(0, got))
	assert.Equal(t, []byte{3, 4}, got)
}

func TestCopyFromMemToMem(t *testing.T) {
	src := rimio.NewMemRimIO([]byte("abcdefgh"))
	dst := rimio.NewMemRimIOSize(8)
	require.NoError(t, rimio.CopyFrom(dst, src, 2, 0, 4))
	assert.Equal(t, []byte("cdef\x00\x00\x00\x00"), dst.Bytes())
}

type fakeBackend struct {
	buf []byte
}

func (f *fakeBackend) ReadAt(offset uint64, buf []byte) error {
	copy(buf, f.buf[offset:offset+uint64(len(buf))])
	return nil
}
func (f *fakeBackend) WriteAt(offset uint64, data []byte) error {
	copy(f.buf[offset:offset+uint64(len(data))], data)
	return nil
}
func (f *fakeBackend) Flush() error                          { return nil }
func (f *fakeBackend) SetOffset(partitionOffset uint64) uint64 { return 0 }
func (f *fakeBackend) PartitionOffset() uint64                { return 0 }

func TestCopyFromDefaultDoubleCopy(t *testing.T) {
	src := rimio.NewMemRimIO([]byte("0123456789"))
	dst := &fakeBackend{buf: make([]byte, 10)}
	require.NoError(t, rimio.CopyFrom(dst, src, 0, 0, 10))
	assert.Equal(t, []byte("0123456789"), dst.buf)
}

func TestReadWriteInChunks(t *testing.T) {
	m := rimio.NewMemRimIOSize(100)
	data := make([]byte, 37)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, rimio.WriteInChunks(m, 3, data, 8))

	got := make([]byte, 37)
	require.NoError(t, rimio.ReadInChunks(m, 3, got, 8))
	assert.Equal(t, data, got)
}

func TestReadWriteMultiAtCoalescesContiguousRuns(t *testing.T) {
	m := rimio.NewMemRimIOSize(64)
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	offsets := []uint64{0, 1, 2, 3, 10, 11, 12, 13}
	require.NoError(t, rimio.WriteMultiAt(m, offsets, 1, data))

	got := make([]byte, 8)
	require.NoError(t, rimio.ReadMultiAt(m, offsets, 1, got))
	assert.Equal(t, data, got)
}

func TestZeroFill(t *testing.T) {
	m := rimio.NewMemRimIO(make([]byte, 16))
	require.NoError(t, m.WriteAt(0, []byte("deadbeefdeadbeef")))
	require.NoError(t, rimio.ZeroFill(m, 0, 16))
	assert.Equal(t, make([]byte, 16), m.Bytes())
}

func TestPrimitiveAccessors(t *testing.T) {
	m := rimio.NewMemRimIOSize(16)
	require.NoError(t, rimio.WriteU32At(m, 0, 0xDEADBEEF))
	v, err := rimio.ReadU32At(m, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0xDEADBEEF, v)

	require.NoError(t, rimio.WriteU16At(m, 4, 0xBEEF))
	v16, err := rimio.ReadU16At(m, 4)
	require.NoError(t, err)
	assert.EqualValues(t, 0xBEEF, v16)

	require.NoError(t, rimio.WriteU64At(m, 8, 0x0102030405060708))
	v64, err := rimio.ReadU64At(m, 8)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0102030405060708, v64)
}

type packedHeader struct {
	Magic   uint32
	Version uint16
	Flags   uint16
}

func TestReadWriteStruct(t *testing.T) {
	m := rimio.NewMemRimIOSize(16)
	in := packedHeader{Magic: 0x1234ABCD, Version: 2, Flags: 7}
	require.NoError(t, rimio.WriteStruct(m, 0, &in))

	var out packedHeader
	require.NoError(t, rimio.ReadStruct(m, 0, &out))
	assert.Equal(t, in, out)
}

func TestStdRimIORoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.bin")
	f, err := rimio.CreateStdRimIO(path, 4096)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, f.WriteAt(100, []byte("on-disk")))
	got := make([]byte, 7)
	require.NoError(t, f.ReadAt(100, got))
	assert.Equal(t, "on-disk", string(got))

	require.NoError(t, f.Flush())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, info.Size())
}

func TestStatsIOTracksCounters(t *testing.T) {
	inner := rimio.NewMemRimIOSize(64)
	s := rimio.NewStatsIO(inner)

	require.NoError(t, s.WriteAt(0, []byte("12345678")))
	require.NoError(t, s.ReadAt(0, make([]byte, 4)))
	require.NoError(t, s.Flush())

	assert.EqualValues(t, 1, s.Stats.Writes)
	assert.EqualValues(t, 8, s.Stats.WriteBytes)
	assert.EqualValues(t, 1, s.Stats.Reads)
	assert.EqualValues(t, 4, s.Stats.ReadBytes)
	assert.EqualValues(t, 1, s.Stats.Flushes)
	assert.False(t, s.Stats.IsEmpty())

	s.ResetStats()
	assert.True(t, s.Stats.IsEmpty())
}

type fakeBlockDevice struct {
	blocks   []byte
	blockLen int64
}

func (d *fakeBlockDevice) BlockSize() int64 { return d.blockLen }
func (d *fakeBlockDevice) ReadBlocks(dst []byte, startBlock int64) (int, error) {
	off := startBlock * d.blockLen
	copy(dst, d.blocks[off:off+int64(len(dst))])
	return len(dst), nil
}
func (d *fakeBlockDevice) WriteBlocks(data []byte, startBlock int64) (int, error) {
	off := startBlock * d.blockLen
	copy(d.blocks[off:off+int64(len(data))], data)
	return len(data), nil
}

func TestUefiRimIOUnalignedReadWrite(t *testing.T) {
	dev := &fakeBlockDevice{blocks: make([]byte, 512*4), blockLen: 512}
	u := rimio.NewUefiRimIO(dev)

	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	require.NoError(t, u.WriteAt(500, payload)) // spans blocks 0..1

	got := make([]byte, 20)
	require.NoError(t, u.ReadAt(500, got))
	assert.Equal(t, payload, got)
}
