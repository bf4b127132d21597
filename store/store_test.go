package store

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/utils"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), utils.NewDefaultLogger(slog.LevelError))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func data(name names.Name, payload string) *protocol.Data {
	return &protocol.Data{Name: name, FinalSeg: protocol.NoFinalSeg, Payload: []byte(payload)}
}

func TestPutGet(t *testing.T) {
	s := testStore(t)
	n := names.Parse("/pub/grp").Append(names.Seq(1))
	require.NoError(t, s.Put(data(n, "one")))

	d, err := s.Get(n)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), d.Payload)
	assert.True(t, d.Name.Equal(n))

	_, err = s.Get(names.Parse("/pub/grp").Append(names.Seq(2)))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPrefix(t *testing.T) {
	s := testStore(t)
	base := names.Parse("/pub/grp").Append(names.Seq(5))
	seg0 := base.Append(names.Ver(1), names.Seg(0))
	require.NoError(t, s.Put(data(seg0, "chunk")))

	// a sibling that shares the byte prefix but not the name prefix
	sibling := names.Parse("/pub/grp").Append(names.Seq(5) + "0")
	require.NoError(t, s.Put(data(sibling, "decoy")))

	d, err := s.GetPrefix(base)
	require.NoError(t, err)
	assert.Equal(t, []byte("chunk"), d.Payload)

	_, err = s.GetPrefix(names.Parse("/pub/grp").Append(names.Seq(6)))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestVersion(t *testing.T) {
	s := testStore(t)
	base := names.Parse("/pub/grp").Append(names.Seq(9))
	require.NoError(t, s.Put(data(base.Append(names.Ver(1), names.Seg(0)), "old")))
	require.NoError(t, s.Put(data(base.Append(names.Ver(4), names.Seg(0)), "new")))

	vn, err := s.LatestVersion(base)
	require.NoError(t, err)
	assert.True(t, vn.Equal(base.Append(names.Ver(4))))

	_, err = s.LatestVersion(names.Parse("/pub/grp").Append(names.Seq(10)))
	assert.ErrorIs(t, err, ErrNotFound)
}
