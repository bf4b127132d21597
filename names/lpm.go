package names

// PrefixTable is a name-prefix trie holding one value per registered
// prefix. Not safe for concurrent use; callers lock.
type PrefixTable[V any] struct {
	root pnode[V]
	size int
}

type pnode[V any] struct {
	children map[string]*pnode[V]
	val      V
	set      bool
}

func NewPrefixTable[V any]() *PrefixTable[V] {
	return &PrefixTable[V]{}
}

func (t *PrefixTable[V]) Len() int { return t.size }

func (t *PrefixTable[V]) node(n Name, create bool) *pnode[V] {
	cur := &t.root
	for _, comp := range n {
		next, ok := cur.children[comp]
		if !ok {
			if !create {
				return nil
			}
			if cur.children == nil {
				cur.children = make(map[string]*pnode[V])
			}
			next = &pnode[V]{}
			cur.children[comp] = next
		}
		cur = next
	}
	return cur
}

func (t *PrefixTable[V]) Put(n Name, v V) {
	nd := t.node(n, true)
	if !nd.set {
		t.size++
	}
	nd.val, nd.set = v, true
}

func (t *PrefixTable[V]) Get(n Name) (v V, ok bool) {
	nd := t.node(n, false)
	if nd == nil || !nd.set {
		return v, false
	}
	return nd.val, true
}

// Delete unregisters the exact prefix. Empty branches are left in place;
// tables are small and churn is rare.
func (t *PrefixTable[V]) Delete(n Name) {
	nd := t.node(n, false)
	if nd != nil && nd.set {
		var zero V
		nd.val, nd.set = zero, false
		t.size--
	}
}

// Match returns the values at every registered prefix that is an ancestor
// of, or equal to, n, shortest first. This is the longest-prefix-match
// walk with all intermediate hits kept.
func (t *PrefixTable[V]) Match(n Name) (vals []V) {
	cur := &t.root
	if cur.set {
		vals = append(vals, cur.val)
	}
	for _, comp := range n {
		next, ok := cur.children[comp]
		if !ok {
			break
		}
		cur = next
		if cur.set {
			vals = append(vals, cur.val)
		}
	}
	return vals
}

// MatchLongest returns the value at the most specific matching prefix.
func (t *PrefixTable[V]) MatchLongest(n Name) (v V, ok bool) {
	for _, hit := range t.Match(n) {
		v, ok = hit, true
	}
	return v, ok
}
