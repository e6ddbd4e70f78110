package coredump

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSegments_FillKeepsExistingBytes(t *testing.T) {
	var ss dataSegments
	require.NoError(t, ss.fill(0x1004, []byte("core")))
	require.NoError(t, ss.fill(0x1000, []byte("exe-bytes-here")))

	buf := make([]byte, 14)
	require.True(t, ss.copyOut(0x1000, buf))
	assert.Equal(t, "exe-cores-here", string(buf))
	assert.Len(t, ss, 3)
}

func TestDataSegments_FillGaps(t *testing.T) {
	var ss dataSegments
	require.NoError(t, ss.fill(0x10, []byte{1, 1}))
	require.NoError(t, ss.fill(0x20, []byte{2, 2}))
	require.NoError(t, ss.fill(0x0e, make([]byte, 0x18)))

	buf := make([]byte, 0x18)
	require.True(t, ss.copyOut(0x0e, buf))
	assert.Equal(t, byte(1), buf[0x10-0x0e])
	assert.Equal(t, byte(2), buf[0x21-0x0e])
	assert.Equal(t, byte(0), buf[0x15-0x0e])

	for i := 1; i < len(ss); i++ {
		assert.LessOrEqual(t, ss[i-1].end(), ss[i].addr, "segments overlap: %v %v", ss[i-1], ss[i])
	}
}

func TestDataSegments_CopyOut(t *testing.T) {
	var ss dataSegments
	require.NoError(t, ss.fill(0x1000, []byte("abcd")))
	require.NoError(t, ss.fill(0x1004, []byte("efgh")))
	require.NoError(t, ss.fill(0x2000, []byte("zz")))

	buf := make([]byte, 6)
	assert.True(t, ss.copyOut(0x1001, buf))
	assert.Equal(t, "bcdefg", string(buf))

	assert.False(t, ss.copyOut(0x1006, make([]byte, 4)), "range runs into a hole")
	assert.False(t, ss.copyOut(0x0fff, make([]byte, 1)))
	assert.True(t, ss.copyOut(0x2000, nil))
}

func TestDataSegments_FillWraps(t *testing.T) {
	var ss dataSegments
	assert.Error(t, ss.fill(^uint64(0)-1, make([]byte, 4)))
}
