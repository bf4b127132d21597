package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func merged(a, b Vector) Vector {
	ret := a.Clone()
	ret.Merge(b)
	return ret
}

func TestMergeSemilattice(t *testing.T) {
	a := Vector{"/alice": 5, "/bob": 2}
	b := Vector{"/bob": 7, "/carol": 1}
	c := Vector{"/alice": 3, "/carol": 4}

	assert.Equal(t, merged(a, b), merged(b, a))
	assert.Equal(t, merged(merged(a, b), c), merged(a, merged(b, c)))
	assert.Equal(t, a, merged(a, a))
}

func TestPutIsMonotone(t *testing.T) {
	v := Vector{"/alice": 5}
	assert.False(t, v.Put("/alice", 3))
	assert.False(t, v.Put("/alice", 5))
	assert.Equal(t, uint64(5), v.Get("/alice"))
	assert.True(t, v.Put("/alice", 6))
	assert.Equal(t, uint64(6), v.Get("/alice"))
}

func TestOlderThan(t *testing.T) {
	mine := Vector{"/alice": 2, "/bob": 7}
	theirs := Vector{"/alice": 5, "/bob": 3, "/carol": 1}

	assert.Equal(t, []Range{
		{ID: "/alice", Lo: 3, Hi: 5},
		{ID: "/carol", Lo: 1, Hi: 1},
	}, mine.OlderThan(theirs))

	assert.Equal(t, []Range{
		{ID: "/bob", Lo: 4, Hi: 7},
	}, theirs.OlderThan(mine))

	assert.Empty(t, mine.OlderThan(mine))
}

func TestSeen(t *testing.T) {
	v := Vector{"/alice": 5, "/bob": 3}
	assert.True(t, v.Seen(Vector{"/alice": 5}))
	assert.True(t, v.Seen(Vector{}))
	assert.False(t, v.Seen(Vector{"/alice": 6}))
	assert.False(t, v.Seen(Vector{"/carol": 1}))
}

func TestTLVRoundTrip(t *testing.T) {
	v := Vector{"/alice": 5, "/bob": 300, "/c/deep/name": 1 << 40}
	back, err := FromTLV(v.TLV())
	assert.NoError(t, err)
	assert.Equal(t, v, back)

	empty, err := FromTLV(Vector{}.TLV())
	assert.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTLVDeterministic(t *testing.T) {
	a := Vector{"/x": 1, "/y": 2, "/z": 3}
	b := Vector{}
	b.Put("/z", 3)
	b.Put("/x", 1)
	b.Put("/y", 2)
	assert.Equal(t, a.TLV(), b.TLV())
}

func TestBadTLV(t *testing.T) {
	_, err := FromTLV([]byte{0xff, 0x01, 0x02})
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	v := Vector{"/bob": 3, "/alice": 12}
	assert.Equal(t, "/alice:12,/bob:3", v.String())
}

func TestZipUint64(t *testing.T) {
	for _, n := range []uint64{0, 1, 255, 256, 1 << 20, 1<<53 + 7, ^uint64(0)} {
		assert.Equal(t, n, UnzipUint64(ZipUint64(n)))
	}
	assert.Empty(t, ZipUint64(0))
}
