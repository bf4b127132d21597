package svsync

import (
	"sync"

	"github.com/drpcorg/svsync/names"
)

// MappingEntry is one row of a publisher's sequence-number index: the
// topic name published at that sequence number plus opaque metadata.
type MappingEntry struct {
	Seq  uint64
	Name names.Name
	Meta []byte
}

// Filter decides, from mapping metadata, whether a prefix subscription
// wants an entry. Evaluated only when a mapping entry is available.
type Filter func(MappingEntry) bool

// Publication is one fetched, verified, reassembled payload.
type Publication struct {
	Publisher names.Name
	SeqNum    uint64
	Name      names.Name
	Payload   []byte
}

type Callback func(Publication)

// Subscription is a registration in a Table; cancel by Cancel. The
// filter lives on the record itself, owned by the table.
type Subscription struct {
	table     *Table
	publisher string     // exact publisher scope, "" for prefix scope
	prefix    names.Name // nil for publisher scope
	filter    Filter
	cb        Callback
}

// Table indexes subscriptions by exact publisher id and by name prefix,
// and fans delivered publications out to matching subscribers.
type Table struct {
	mu          sync.RWMutex
	byPublisher map[string][]*Subscription
	byPrefix    *names.PrefixTable[[]*Subscription]
	prefixSubs  int
}

func NewTable() *Table {
	return &Table{
		byPublisher: make(map[string][]*Subscription),
		byPrefix:    names.NewPrefixTable[[]*Subscription](),
	}
}

// SubscribePublisher registers for every publication of one publisher.
func (t *Table) SubscribePublisher(id names.Name, cb Callback) *Subscription {
	s := &Subscription{table: t, publisher: id.String(), cb: cb}
	t.mu.Lock()
	t.byPublisher[s.publisher] = append(t.byPublisher[s.publisher], s)
	t.mu.Unlock()
	return s
}

// SubscribePrefix registers for publications whose topic name sits under
// the prefix. A nil filter accepts everything.
func (t *Table) SubscribePrefix(prefix names.Name, filter Filter, cb Callback) *Subscription {
	s := &Subscription{table: t, prefix: prefix.Clone(), filter: filter, cb: cb}
	t.mu.Lock()
	subs, _ := t.byPrefix.Get(s.prefix)
	t.byPrefix.Put(s.prefix, append(subs, s))
	t.prefixSubs++
	t.mu.Unlock()
	return s
}

func (s *Subscription) Cancel() {
	t := s.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.prefix == nil {
		t.byPublisher[s.publisher] = drop(t.byPublisher[s.publisher], s)
		if len(t.byPublisher[s.publisher]) == 0 {
			delete(t.byPublisher, s.publisher)
		}
		return
	}
	subs, _ := t.byPrefix.Get(s.prefix)
	subs = drop(subs, s)
	if len(subs) == 0 {
		t.byPrefix.Delete(s.prefix)
	} else {
		t.byPrefix.Put(s.prefix, subs)
	}
	t.prefixSubs--
}

func drop(subs []*Subscription, s *Subscription) []*Subscription {
	for i, x := range subs {
		if x == s {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// ListPublisher returns the subscriptions scoped to exactly this
// publisher id.
func (t *Table) ListPublisher(id string) []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	subs := t.byPublisher[id]
	ret := make([]*Subscription, len(subs))
	copy(ret, subs)
	return ret
}

// MatchPrefix returns the union of subscriptions at every prefix level
// covering the name.
func (t *Table) MatchPrefix(n names.Name) (ret []*Subscription) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, subs := range t.byPrefix.Match(n) {
		ret = append(ret, subs...)
	}
	return ret
}

// HasPrefixSubs reports whether any prefix subscription exists at all.
func (t *Table) HasPrefixSubs() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prefixSubs > 0
}

// Update delivers the publication to every handle exactly once, however
// many scopes matched it.
func (t *Table) Update(subs []*Subscription, p Publication) {
	seen := make(map[*Subscription]struct{}, len(subs))
	for _, s := range subs {
		if s == nil {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		s.cb(p)
	}
}
