package rimfs_test

import (
	"testing"

	"github.com/mkidv/rimgo/rimfs"
	"github.com/stretchr/testify/assert"
)

func TestNodeCounts(t *testing.T) {
	tree := rimfs.NewContainer([]*rimfs.FsNode{
		rimfs.NewFile("a.txt", rimfs.BytesContent("hello"), rimfs.DefaultFileAttributes()),
		rimfs.NewDir("sub", []*rimfs.FsNode{
			rimfs.NewFile("b.txt", rimfs.BytesContent("world!"), rimfs.DefaultFileAttributes()),
		}, rimfs.DefaultDirAttributes()),
	}, rimfs.DefaultDirAttributes())

	counts := tree.Counts()
	assert.Equal(t, 1, counts.Dirs)
	assert.Equal(t, 2, counts.Files)
	assert.EqualValues(t, 11, counts.Bytes)
}

func TestNodeSortChildrenRecursively(t *testing.T) {
	tree := rimfs.NewContainer([]*rimfs.FsNode{
		rimfs.NewFile("zeta.txt", rimfs.BytesContent(nil), rimfs.DefaultFileAttributes()),
		rimfs.NewDir("Beta", nil, rimfs.DefaultDirAttributes()),
		rimfs.NewFile("alpha.txt", rimfs.BytesContent(nil), rimfs.DefaultFileAttributes()),
		rimfs.NewDir("alpha-dir", nil, rimfs.DefaultDirAttributes()),
	}, rimfs.DefaultDirAttributes())

	tree.SortChildrenRecursively()

	var names []string
	for _, c := range tree.Children {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"alpha-dir", "Beta", "alpha.txt", "zeta.txt"}, names)
}

func TestBytesContentReadAt(t *testing.T) {
	c := rimfs.BytesContent("0123456789")
	buf := make([]byte, 4)
	assert.NoError(t, c.ReadAt(3, buf))
	assert.Equal(t, []byte("3456"), buf)
	assert.EqualValues(t, 10, c.Len())

	assert.Error(t, c.ReadAt(8, make([]byte, 10)))
}
