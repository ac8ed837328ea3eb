package rimpart_test

import (
	"testing"

	"github.com/mkidv/rimgo/rimio"
	"github.com/mkidv/rimgo/rimpart"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMBREmptyDisk(t *testing.T) {
	m := rimio.NewMemRimIOSize(512)
	_, kind, err := rimpart.ReadMBR(m)
	require.NoError(t, err)
	assert.Equal(t, rimpart.MbrEmpty, kind)
}

func TestReadMBRProtective(t *testing.T) {
	m := rimio.NewMemRimIOSize(512 * 100)
	require.NoError(t, rimpart.WriteMBRProtective(m, 100))

	_, kind, err := rimpart.ReadMBR(m)
	require.NoError(t, err)
	assert.Equal(t, rimpart.MbrProtective, kind)
}
