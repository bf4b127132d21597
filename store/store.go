// Package store keeps published envelopes in a pebble database keyed by
// canonical name, so the publisher side can answer data, mapping and
// version-discovery requests long after the payloads were produced.
package store

import (
	"bytes"
	"errors"

	"github.com/cespare/xxhash"
	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toytlv"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/utils"
	"github.com/drpcorg/svsync/vector"
)

var (
	ErrNotFound = errors.New("svsync: no such publication")
	ErrCorrupt  = errors.New("svsync: stored envelope failed checksum")
)

type Store struct {
	db  *pebble.DB
	log utils.Logger
	dir string
}

func Open(dir string, log utils.Logger) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, log: log, dir: dir}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores the envelope under its own name. The value carries an
// xxhash checksum checked on every read.
func (s *Store) Put(d *protocol.Data) error {
	wire := d.TLV()
	val := toytlv.Record('X', vector.ZipUint64(xxhash.Sum64(wire)))
	val = toytlv.Append(val, 'D', wire)
	return s.db.Set(d.Name.Bytes(), val, pebble.Sync)
}

func decodeValue(val []byte) (*protocol.Data, error) {
	sum, rest, err := toytlv.TakeWary('X', val)
	if err != nil {
		return nil, ErrCorrupt
	}
	wire, _, err := toytlv.TakeWary('D', rest)
	if err != nil {
		return nil, ErrCorrupt
	}
	if vector.UnzipUint64(sum) != xxhash.Sum64(wire) {
		return nil, ErrCorrupt
	}
	return protocol.DataFromTLV(wire)
}

// Get returns the envelope stored under exactly this name.
func (s *Store) Get(n names.Name) (*protocol.Data, error) {
	val, closer, err := s.db.Get(n.Bytes())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return decodeValue(val)
}

// GetPrefix returns the first envelope whose name equals the prefix or
// sits under it, in key order.
func (s *Store) GetPrefix(prefix names.Name) (*protocol.Data, error) {
	lo := prefix.Bytes()
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, lo) {
			break
		}
		if len(key) > len(lo) && key[len(lo)] != '/' {
			continue
		}
		return decodeValue(it.Value())
	}
	return nil, ErrNotFound
}

// LatestVersion finds the highest version marker directly under the
// prefix and returns the versioned name.
func (s *Store) LatestVersion(prefix names.Name) (names.Name, error) {
	lo := prefix.Bytes()
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var best uint64
	found := false
	for it.First(); it.Valid(); it.Next() {
		key := it.Key()
		if !bytes.HasPrefix(key, lo) {
			break
		}
		n := names.Parse(string(key))
		if len(n) <= len(prefix) || !n.HasPrefix(prefix) {
			continue
		}
		if v, ok := names.ParseVer(n[len(prefix)]); ok && (!found || v > best) {
			best, found = v, true
		}
	}
	if !found {
		return nil, ErrNotFound
	}
	return prefix.Append(names.Ver(best)), nil
}
