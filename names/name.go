// Package names implements hierarchical, slash-separated names used to
// address publishers, topics and packets, plus the marker components the
// sync protocol stamps onto them (sequence number, version, segment index).
package names

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is a sequence of components. The zero value is the root name "/".
// Names are value-like; mutating helpers always return a fresh slice.
type Name []string

func Parse(s string) Name {
	s = strings.Trim(s, "/")
	if s == "" {
		return Name{}
	}
	return Name(strings.Split(s, "/"))
}

func (n Name) String() string {
	if len(n) == 0 {
		return "/"
	}
	return "/" + strings.Join(n, "/")
}

// Bytes is the canonical wire and signing form of the name.
func (n Name) Bytes() []byte {
	return []byte(n.String())
}

func (n Name) Append(comps ...string) Name {
	ret := make(Name, 0, len(n)+len(comps))
	ret = append(ret, n...)
	return append(ret, comps...)
}

// Join appends another name's components.
func (n Name) Join(o Name) Name {
	return n.Append(o...)
}

func (n Name) Equal(o Name) bool {
	if len(n) != len(o) {
		return false
	}
	for i := range n {
		if n[i] != o[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether p is an ancestor of (or equal to) n.
func (n Name) HasPrefix(p Name) bool {
	if len(p) > len(n) {
		return false
	}
	return n[:len(p)].Equal(p)
}

func (n Name) Clone() Name {
	ret := make(Name, len(n))
	copy(ret, n)
	return ret
}

// Marker component prefixes. A marker is a component of the form
// "<kind>=<decimal>"; Discover is the one non-numeric marker.
const (
	seqPrefix = "seq="
	verPrefix = "v="
	segPrefix = "seg="

	// Discover marks a latest-version discovery request.
	Discover = "v=*"
)

func Seq(n uint64) string { return seqPrefix + strconv.FormatUint(n, 10) }
func Ver(n uint64) string { return verPrefix + strconv.FormatUint(n, 10) }
func Seg(n uint64) string { return segPrefix + strconv.FormatUint(n, 10) }

func parseMarker(comp, prefix string) (uint64, bool) {
	if !strings.HasPrefix(comp, prefix) || comp == Discover {
		return 0, false
	}
	v, err := strconv.ParseUint(comp[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func ParseSeq(comp string) (uint64, bool) { return parseMarker(comp, seqPrefix) }
func ParseVer(comp string) (uint64, bool) { return parseMarker(comp, verPrefix) }
func ParseSeg(comp string) (uint64, bool) { return parseMarker(comp, segPrefix) }

// SeqNum finds the rightmost sequence marker in the name.
func (n Name) SeqNum() (uint64, bool) {
	for i := len(n) - 1; i >= 0; i-- {
		if v, ok := ParseSeq(n[i]); ok {
			return v, true
		}
	}
	return 0, false
}

// SegNum finds the trailing segment marker, if any.
func (n Name) SegNum() (uint64, bool) {
	if len(n) == 0 {
		return 0, false
	}
	return ParseSeg(n[len(n)-1])
}

// TrimMarkers drops trailing version and segment markers, yielding the
// effective topic name of a (possibly segmented, versioned) publication.
func (n Name) TrimMarkers() Name {
	end := len(n)
	for end > 0 {
		c := n[end-1]
		if _, ok := ParseSeg(c); ok {
			end--
			continue
		}
		if _, ok := ParseVer(c); ok {
			end--
			continue
		}
		break
	}
	return n[:end].Clone()
}

func (n Name) GoString() string {
	return fmt.Sprintf("names.Parse(%q)", n.String())
}
