package rimfs_test

import (
	"testing"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/stretchr/testify/assert"
)

func TestReachabilityTrackerMark(t *testing.T) {
	tr := rimfs.NewReachabilityTracker(2, 100)
	tr.Mark(5)
	assert.True(t, tr.IsMarked(5))
	assert.False(t, tr.IsMarked(4))
	assert.False(t, tr.IsMarked(6))
}

func TestReachabilityTrackerMarkRange(t *testing.T) {
	tr := rimfs.NewReachabilityTracker(2, 100)
	tr.MarkRange(10, 5)
	for c := uint32(10); c < 15; c++ {
		assert.True(t, tr.IsMarked(c))
	}
	assert.False(t, tr.IsMarked(9))
	assert.False(t, tr.IsMarked(15))
}

func TestReachabilityTrackerOutOfRange(t *testing.T) {
	tr := rimfs.NewReachabilityTracker(2, 10)
	tr.Mark(100)
	assert.False(t, tr.IsMarked(100))
	tr.Mark(0)
	assert.False(t, tr.IsMarked(0))
}

func TestReachabilityTrackerCountOrphans(t *testing.T) {
	tr := rimfs.NewReachabilityTracker(0, 16)
	tr.MarkRange(0, 4)

	onDisk := []byte{0b00111111, 0b00000000}
	assert.Equal(t, 2, tr.CountOrphans(onDisk))
}

func TestReachabilityTrackerForEachOrphan(t *testing.T) {
	tr := rimfs.NewReachabilityTracker(2, 16)
	tr.MarkRange(2, 3)

	onDisk := []byte{0b00011111, 0b00000000}
	var orphans []uint32
	tr.ForEachOrphan(onDisk, 10, func(u uint32) { orphans = append(orphans, u) })

	assert.Equal(t, []uint32{5, 6}, orphans)
}
