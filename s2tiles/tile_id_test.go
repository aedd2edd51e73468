package s2tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZxyToID(t *testing.T) {
	assert.Equal(t, uint64(0), zxyToID(0, 0, 0))
	assert.Equal(t, uint64(1), zxyToID(1, 0, 0))
	assert.Equal(t, uint64(2), zxyToID(1, 0, 1))
	assert.Equal(t, uint64(3), zxyToID(1, 1, 1))
	assert.Equal(t, uint64(4), zxyToID(1, 1, 0))
	assert.Equal(t, uint64(5), zxyToID(2, 0, 0))
}

func TestIDToZxy(t *testing.T) {
	z, x, y := idToZxy(0)
	assert.Equal(t, uint8(0), z)
	assert.Equal(t, uint32(0), x)
	assert.Equal(t, uint32(0), y)
	z, x, y = idToZxy(19078479)
	assert.Equal(t, uint8(12), z)
	assert.Equal(t, uint32(3423), x)
	assert.Equal(t, uint32(1763), y)
}

func TestManyTileIDs(t *testing.T) {
	var z uint8
	var x uint32
	var y uint32
	for z = 0; z < 10; z++ {
		for x = 0; x < (1 << z); x++ {
			for y = 0; y < (1 << z); y++ {
				id := zxyToID(z, x, y)
				rz, rx, ry := idToZxy(id)
				if !(z == rz && x == rx && y == ry) {
					t.Fatalf(`fail on %d %d %d`, z, x, y)
				}
			}
		}
	}
}

func TestParentID(t *testing.T) {
	assert.Equal(t, zxyToID(0, 0, 0), parentID(zxyToID(1, 1, 0)))
	assert.Equal(t, zxyToID(6, 10, 15), parentID(zxyToID(7, 21, 31)))
}
