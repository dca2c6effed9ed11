package core

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendField_KeepsFullLength(t *testing.T) {
	long := strings.Repeat("k", 300)
	short := long[:44] // 300 and 44 share their low byte

	a := appendField(nil, long)
	b := appendField(nil, short)

	require.Len(t, a, 8+300)
	assert.Equal(t, uint64(300), binary.LittleEndian.Uint64(a[:8]))
	assert.NotEqual(t, a[:8], b[:8])
	assert.Equal(t, long, string(a[8:]))
}

func TestAppendField_BoundariesAreUnambiguous(t *testing.T) {
	ab := appendField(appendField(nil, "ab"), "c")
	a := appendField(appendField(nil, "a"), "bc")
	assert.NotEqual(t, ab, a)
}
