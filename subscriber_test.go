package svsync

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/utils"
)

// mappingServer is a hand-rolled producer side: it serves mapping
// ranges and single-envelope payloads for every sequence number it
// knows, recording what was asked of it.
type mappingServer struct {
	t      *testing.T
	prefix names.Name
	topics map[uint64]names.Name
	meta   map[uint64][]byte
	broken map[uint64]bool // mapping row exists, data retrieval fails

	mu          sync.Mutex
	mapRanges   [][2]uint64
	dataFetches []uint64
}

func newMappingServer(t *testing.T, sw *protocol.Switch, pub, group names.Name) *mappingServer {
	srv := &mappingServer{
		t:      t,
		prefix: pub.Join(group),
		topics: make(map[uint64]names.Name),
		meta:   make(map[uint64][]byte),
		broken: make(map[uint64]bool),
	}
	ep := sw.NewEndpoint()
	require.NoError(t, ep.RegisterHandler(srv.prefix, srv.handle))
	return srv
}

func (srv *mappingServer) publish(seq uint64, topic names.Name, meta []byte) {
	srv.topics[seq] = topic
	srv.meta[seq] = meta
}

func (srv *mappingServer) handle(_ context.Context, req *protocol.Request) (*protocol.Data, error) {
	rest := req.Name[len(srv.prefix):]
	if len(rest) == 0 {
		return nil, nil
	}
	if rest[0] == mappingComp {
		lo, _ := names.ParseSeq(rest[1])
		hi, _ := names.ParseSeq(rest[2])
		srv.mu.Lock()
		srv.mapRanges = append(srv.mapRanges, [2]uint64{lo, hi})
		srv.mu.Unlock()
		var entries []MappingEntry
		for seq := lo; seq <= hi; seq++ {
			if topic, ok := srv.topics[seq]; ok {
				entries = append(entries, MappingEntry{Seq: seq, Name: topic, Meta: srv.meta[seq]})
			}
		}
		return &protocol.Data{Name: req.Name, FinalSeg: protocol.NoFinalSeg, Payload: EncodeMapping(entries)}, nil
	}

	n, found := req.Name.SeqNum()
	if !found {
		return nil, nil
	}
	topic, ok := srv.topics[n]
	if !ok || srv.broken[n] {
		return nil, nil
	}
	srv.mu.Lock()
	srv.dataFetches = append(srv.dataFetches, n)
	srv.mu.Unlock()

	inner := &protocol.Data{Name: topic, FinalSeg: protocol.NoFinalSeg, Payload: []byte("payload")}
	outer := &protocol.Data{Name: req.Name, FinalSeg: protocol.NoFinalSeg, Payload: inner.TLV()}
	return outer, nil
}

func testSubscriber(t *testing.T, sw *protocol.Switch, table *Table) (*Subscriber, *Engine) {
	t.Helper()
	e, _, _ := testEngine(t)
	sub, err := NewSubscriber(e, sw.NewEndpoint(), table)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sub.Close() })
	return sub, e
}

func newTestSwitch(t *testing.T) *protocol.Switch {
	sw := protocol.NewSwitch(utils.NewDefaultLogger(slog.LevelError))
	t.Cleanup(func() { _ = sw.Close() })
	return sw
}

func TestMappingBatches(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	for seq := uint64(1); seq <= 25; seq++ {
		srv.publish(seq, names.Parse("/news/item"), nil)
	}

	table := NewTable()
	var mu sync.Mutex
	var got []uint64
	table.SubscribePrefix(names.Parse("/news"), nil, func(p Publication) {
		mu.Lock()
		got = append(got, p.SeqNum)
		mu.Unlock()
	})

	sub, _ := testSubscriber(t, sw, table)
	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 25})

	srv.mu.Lock()
	assert.ElementsMatch(t, [][2]uint64{{1, 10}, {11, 20}, {21, 25}}, srv.mapRanges)
	srv.mu.Unlock()
	mu.Lock()
	assert.Len(t, got, 25)
	mu.Unlock()
}

func TestRejectedFilterSkipsRetrieval(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/news/item"), nil)

	table := NewTable()
	delivered := 0
	table.SubscribePrefix(names.Parse("/news"), func(MappingEntry) bool { return false }, func(Publication) {
		delivered++
	})

	sub, _ := testSubscriber(t, sw, table)
	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 1})

	assert.Zero(t, delivered)
	srv.mu.Lock()
	assert.Empty(t, srv.dataFetches, "rejected entries must never be fetched")
	srv.mu.Unlock()
}

func TestUnmatchedPrefixSkipsRetrieval(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/sports/item"), nil)

	table := NewTable()
	table.SubscribePrefix(names.Parse("/news"), nil, func(Publication) {
		t.Error("delivered outside the subscribed prefix")
	})

	sub, _ := testSubscriber(t, sw, table)
	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 1})

	srv.mu.Lock()
	assert.Empty(t, srv.dataFetches)
	srv.mu.Unlock()
}

func TestNoSubscriptionsFetchesNothing(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/news/item"), nil)

	sub, _ := testSubscriber(t, sw, NewTable())
	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 1})

	srv.mu.Lock()
	assert.Empty(t, srv.mapRanges)
	assert.Empty(t, srv.dataFetches)
	srv.mu.Unlock()
}

func TestRetrievalErrorsAreIsolated(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/news/one"), nil)
	srv.publish(2, names.Parse("/news/two"), nil)
	srv.broken[2] = true
	srv.publish(3, names.Parse("/news/three"), nil)

	table := NewTable()
	var mu sync.Mutex
	var got []uint64
	table.SubscribePrefix(names.Parse("/news"), nil, func(p Publication) {
		mu.Lock()
		got = append(got, p.SeqNum)
		mu.Unlock()
	})

	sub, e := testSubscriber(t, sw, table)
	var errs []SyncError
	e.Hub().OnError(func(se SyncError) {
		mu.Lock()
		errs = append(errs, se)
		mu.Unlock()
	})

	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 3})

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []uint64{1, 3}, got)
	require.Len(t, errs, 1)
	assert.Equal(t, "/A", errs[0].Publisher)
	assert.Equal(t, uint64(2), errs[0].Seq)
}

func TestAbsentMappingRowIsSkippedSilently(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/news/one"), nil)
	// seq 2 has no mapping row at all: nothing to match on, no fetch

	table := NewTable()
	var mu sync.Mutex
	var got []uint64
	table.SubscribePrefix(names.Parse("/news"), nil, func(p Publication) {
		mu.Lock()
		got = append(got, p.SeqNum)
		mu.Unlock()
	})

	sub, e := testSubscriber(t, sw, table)
	errCount := 0
	e.Hub().OnError(func(SyncError) {
		mu.Lock()
		errCount++
		mu.Unlock()
	})

	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 2})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1}, got)
	assert.Zero(t, errCount)
}

func TestFilterSeesMetadata(t *testing.T) {
	sw := newTestSwitch(t)
	srv := newMappingServer(t, sw, names.Parse("/A"), names.Parse("/grp"))
	srv.publish(1, names.Parse("/news/big"), []byte("big"))
	srv.publish(2, names.Parse("/news/small"), []byte("small"))

	table := NewTable()
	var mu sync.Mutex
	var got []string
	table.SubscribePrefix(names.Parse("/news"), func(en MappingEntry) bool {
		return string(en.Meta) == "big"
	}, func(p Publication) {
		mu.Lock()
		got = append(got, p.Name.String())
		mu.Unlock()
	})

	sub, _ := testSubscriber(t, sw, table)
	sub.processUpdate(SyncUpdate{ID: "/A", Lo: 1, Hi: 2})

	mu.Lock()
	assert.Equal(t, []string{"/news/big"}, got)
	mu.Unlock()
}

func TestAssembleSegments(t *testing.T) {
	parts := make([][]byte, 3)
	// arrival order 2, 0, 1
	parts[2] = []byte("cc")
	parts[0] = []byte("aa")
	parts[1] = []byte("bb")
	assert.Equal(t, []byte("aabbcc"), assembleSegments(parts))
}
