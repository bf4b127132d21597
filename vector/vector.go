// Package vector implements the state vector: per-publisher sequence
// counters with a max-join merge, range diffing and a deterministic TLV
// wire form.
package vector

import (
	"errors"
	"slices"

	"github.com/learn-decentralized-systems/toytlv"
)

// Vector maps a publisher id (canonical name string) to the highest
// sequence number known for it. Merge is a pointwise max, so a Vector is
// a join semilattice: merge is commutative, associative and idempotent.
type Vector map[string]uint64

var ErrBadRecord = errors.New("svsync: bad vector record")

func (v Vector) Get(id string) uint64 {
	return v[id]
}

// Set assigns the counter directly. Only the owning sync node uses this;
// merging goes through Put.
func (v Vector) Set(id string, seq uint64) {
	v[id] = seq
}

// Put joins the id-seq pair into the vector, returns whether it made any
// difference.
func (v Vector) Put(id string, seq uint64) bool {
	pre, ok := v[id]
	if ok && pre >= seq {
		return false
	}
	v[id] = seq
	return true
}

// Merge joins every entry of b into v, returns whether v changed.
func (v Vector) Merge(b Vector) (changed bool) {
	for id, seq := range b {
		if v.Put(id, seq) {
			changed = true
		}
	}
	return
}

// Range is a contiguous, inclusive span of sequence numbers for one
// publisher.
type Range struct {
	ID string
	Lo uint64
	Hi uint64
}

// OlderThan lists, for every id where v lags b, the span of sequence
// numbers v is missing. Sorted by id so callers see a stable order.
func (v Vector) OlderThan(b Vector) (ranges []Range) {
	for id, seq := range b {
		pre := v[id]
		if pre < seq {
			ranges = append(ranges, Range{ID: id, Lo: pre + 1, Hi: seq})
		}
	}
	slices.SortFunc(ranges, func(a, b Range) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return
}

// Seen reports whether v already covers every entry of b.
func (v Vector) Seen(b Vector) bool {
	for id, seq := range b {
		if v[id] < seq {
			return false
		}
	}
	return true
}

func (v Vector) Equal(b Vector) bool {
	return v.Seen(b) && b.Seen(v)
}

func (v Vector) Clone() Vector {
	ret := make(Vector, len(v))
	for id, seq := range v {
		ret[id] = seq
	}
	return ret
}

func (v Vector) IDs() []string {
	ids := make([]string, 0, len(v))
	for id := range v {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// TLV is the wire form: one V record per entry, iterated in sorted id
// order so equal vectors always encode identically.
func (v Vector) TLV() (ret []byte) {
	for _, id := range v.IDs() {
		ret = toytlv.Append(ret, 'V',
			toytlv.Record('I', []byte(id)),
			toytlv.Record('S', ZipUint64(v[id])),
		)
	}
	return
}

// PutTLV joins a wire-form vector into v.
func (v Vector) PutTLV(tlv []byte) error {
	rest := tlv
	for len(rest) > 0 {
		body, r, err := toytlv.TakeWary('V', rest)
		if err != nil {
			return ErrBadRecord
		}
		rest = r
		id, body, err := toytlv.TakeWary('I', body)
		if err != nil {
			return ErrBadRecord
		}
		seq, _, err := toytlv.TakeWary('S', body)
		if err != nil {
			return ErrBadRecord
		}
		v.Put(string(id), UnzipUint64(seq))
	}
	return nil
}

func FromTLV(tlv []byte) (Vector, error) {
	v := make(Vector)
	if err := v.PutTLV(tlv); err != nil {
		return nil, err
	}
	return v, nil
}

func (v Vector) String() string {
	ret := make([]byte, 0, len(v)*24)
	for i, id := range v.IDs() {
		if i > 0 {
			ret = append(ret, ',')
		}
		ret = append(ret, id...)
		ret = append(ret, ':')
		ret = appendUint(ret, v[id])
	}
	return string(ret)
}

func appendUint(b []byte, v uint64) []byte {
	if v >= 10 {
		b = appendUint(b, v/10)
	}
	return append(b, byte('0'+v%10))
}
