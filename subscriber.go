package svsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/svsync_errors"
	"github.com/drpcorg/svsync/utils"
)

const mapCacheSize = 4096

// Subscriber turns an engine's SyncUpdates into fetched, verified,
// reassembled publications delivered through a Table. Retrieval runs
// with unbounded fan-out; each sequence number fails independently.
type Subscriber struct {
	e     *Engine
	opts  Options
	log   utils.Logger
	ep    protocol.Endpoint
	table *Table

	lstn   *Listener
	q      *utils.EventQueue[SyncUpdate]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mapCache *lru.Cache[string, MappingEntry]
}

func NewSubscriber(e *Engine, ep protocol.Endpoint, table *Table) (*Subscriber, error) {
	cache, err := lru.New[string, MappingEntry](mapCacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		e:        e,
		opts:     e.opts,
		log:      e.opts.Logger,
		ep:       ep,
		table:    table,
		q:        utils.NewEventQueue[SyncUpdate](DefaultUpdateQueueLen),
		ctx:      ctx,
		cancel:   cancel,
		mapCache: cache,
	}
	s.lstn = e.Hub().OnUpdate(func(u SyncUpdate) {
		if err := s.q.Push(u); err != nil {
			s.e.reportError(SyncError{Publisher: u.ID, Seq: u.Lo, Err: err})
		}
	})
	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Close stops accepting updates and cancels all in-flight retrievals.
// Already-dispatched publications stay delivered.
func (s *Subscriber) Close() error {
	s.lstn.Close()
	s.cancel()
	s.q.Close()
	s.wg.Wait()
	return nil
}

func (s *Subscriber) run() {
	defer s.wg.Done()
	for {
		u, err := s.q.Pop(s.ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.processUpdate(u)
		}()
	}
}

// reportErr surfaces one isolated failure unless it was caused by
// shutdown, in which case it is swallowed.
func (s *Subscriber) reportErr(pub string, seq uint64, err error) {
	if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		s.log.Debug("retrieval aborted by close", "publisher", pub, "seq", seq)
		return
	}
	s.e.reportError(SyncError{Publisher: pub, Seq: seq, Err: err})
}

func (s *Subscriber) processUpdate(u SyncUpdate) {
	pub := names.Parse(u.ID)
	pubSubs := s.table.ListPublisher(u.ID)

	needMapping := len(pubSubs) == 0 || s.opts.MustFilterByMapping
	var entries map[uint64]MappingEntry
	if needMapping {
		if len(pubSubs) == 0 && !s.table.HasPrefixSubs() {
			return
		}
		entries = s.fetchMapping(pub, u.Lo, u.Hi)
	}

	var wg sync.WaitGroup
	for seq := u.Lo; seq <= u.Hi; seq++ {
		var entry *MappingEntry
		if en, ok := entries[seq]; ok {
			entry = &en
		} else if en, ok := s.mapCache.Get(mapCacheKey(u.ID, seq)); ok {
			entry = &en
		}
		seq := seq
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.fetchOne(pub, seq, pubSubs, entry)
		}()
	}
	wg.Wait()
}

func mapCacheKey(pub string, seq uint64) string {
	return fmt.Sprintf("%s|%d", pub, seq)
}

// fetchMapping retrieves the seq→name index for [lo,hi] in independent
// concurrent batches. A failed batch is reported and leaves a hole; it
// never blocks sibling batches.
func (s *Subscriber) fetchMapping(pub names.Name, lo, hi uint64) map[uint64]MappingEntry {
	out := make(map[uint64]MappingEntry)
	var mu sync.Mutex
	batch := uint64(s.opts.MappingBatch)

	g, ctx := errgroup.WithContext(s.ctx)
	for b := lo; b <= hi; b += batch {
		blo := b
		bhi := blo + batch - 1
		if bhi > hi {
			bhi = hi
		}
		g.Go(func() error {
			resp, err := s.ep.SendRequest(ctx, mappingName(pub, s.opts.Group, blo, bhi), nil, protocol.RequestOptions{
				Lifetime: s.opts.RetrievalLifetime,
				Retries:  s.opts.RetrievalRetries,
				Verifier: s.opts.MappingVerifier,
			})
			if err != nil {
				s.reportErr(pub.String(), blo, fmt.Errorf("mapping batch [%d,%d]: %w", blo, bhi, err))
				return nil
			}
			entries, err := DecodeMapping(resp.Payload)
			if err != nil {
				s.reportErr(pub.String(), blo, fmt.Errorf("mapping batch [%d,%d]: %w", blo, bhi, err))
				return nil
			}
			mu.Lock()
			for _, en := range entries {
				out[en.Seq] = en
				s.mapCache.Add(mapCacheKey(pub.String(), en.Seq), en)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// prefixTargets lists the prefix subscriptions matching the name, minus
// those whose filter rejects the mapping entry. Filters only run when an
// entry is actually available.
func (s *Subscriber) prefixTargets(n names.Name, entry *MappingEntry) []*Subscription {
	matches := s.table.MatchPrefix(n)
	ret := matches[:0]
	for _, sub := range matches {
		if sub.filter != nil && entry != nil && !sub.filter(*entry) {
			continue
		}
		ret = append(ret, sub)
	}
	return ret
}

// fetchOne retrieves, decapsulates and dispatches one sequence number.
// Every failure is caught here and reported; siblings are unaffected.
func (s *Subscriber) fetchOne(pub names.Name, seq uint64, pubSubs []*Subscription, entry *MappingEntry) {
	if len(pubSubs) == 0 {
		// never fetch payloads nobody wants
		if entry == nil {
			return
		}
		if len(s.prefixTargets(entry.Name, entry)) == 0 {
			return
		}
	}

	reqName := pub.Join(s.opts.Group).Append(names.Seq(seq))
	outer, err := s.ep.SendRequest(s.ctx, reqName, nil, protocol.RequestOptions{
		Lifetime: s.opts.RetrievalLifetime,
		Retries:  s.opts.RetrievalRetries,
		Verifier: s.opts.OuterVerifier,
	})
	if err != nil {
		s.reportErr(pub.String(), seq, err)
		return
	}

	payload, effName, err := s.decapsulate(reqName, outer)
	if err != nil {
		s.reportErr(pub.String(), seq, err)
		return
	}

	p := Publication{
		Publisher: pub.Clone(),
		SeqNum:    seq,
		Name:      effName,
		Payload:   payload,
	}
	targets := make([]*Subscription, 0, len(pubSubs)+4)
	targets = append(targets, pubSubs...)
	targets = append(targets, s.prefixTargets(effName, entry)...)
	s.table.Update(targets, p)
}

// openInner peels the application layer out of an outer envelope.
func (s *Subscriber) openInner(outer *protocol.Data) (*protocol.Data, error) {
	inner, err := protocol.DataFromTLV(outer.Payload)
	if err != nil {
		return nil, svsync_errors.ErrBadEnvelope
	}
	if err := protocol.VerifyData(inner, s.opts.InnerVerifier); err != nil {
		return nil, err
	}
	if !s.opts.acceptsContentType(inner.ContentType) {
		return nil, svsync_errors.ErrContentType
	}
	return inner, nil
}

// decapsulate handles both the single-envelope and the segmented case,
// returning the assembled payload and the effective topic name.
func (s *Subscriber) decapsulate(reqName names.Name, outer *protocol.Data) ([]byte, names.Name, error) {
	inner, err := s.openInner(outer)
	if err != nil {
		return nil, nil, err
	}
	if outer.Name.Equal(reqName) {
		return inner.Payload, inner.Name.TrimMarkers(), nil
	}
	// the payload was too large for one envelope: a versioned,
	// segmented object sits under the requested name
	return s.fetchSegments(reqName, outer, inner)
}

func (s *Subscriber) fetchSegments(reqName names.Name, first *protocol.Data, firstInner *protocol.Data) ([]byte, names.Name, error) {
	verName, err := s.ep.DiscoverLatestVersion(s.ctx, reqName, protocol.RequestOptions{
		Lifetime: s.opts.RetrievalLifetime,
		Retries:  s.opts.RetrievalRetries,
		Verifier: s.opts.OuterVerifier,
	})
	if err != nil {
		return nil, nil, err
	}
	if first.FinalSeg < 0 {
		return nil, nil, svsync_errors.ErrNoFinalSeg
	}
	final := uint64(first.FinalSeg)

	parts := make([][]byte, final+1)
	firstIdx, ok := first.Name.SegNum()
	if !ok || firstIdx > final {
		return nil, nil, svsync_errors.ErrNoSegMarker
	}
	parts[firstIdx] = firstInner.Payload
	effName := firstInner.Name.TrimMarkers()

	g, ctx := errgroup.WithContext(s.ctx)
	for i := uint64(0); i <= final; i++ {
		if i == firstIdx {
			continue
		}
		i := i
		g.Go(func() error {
			segName := verName.Append(names.Seg(i))
			outer, err := s.ep.SendRequest(ctx, segName, nil, protocol.RequestOptions{
				Lifetime: s.opts.RetrievalLifetime,
				Retries:  s.opts.RetrievalRetries,
				Verifier: s.opts.OuterVerifier,
			})
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if got, ok := outer.Name.SegNum(); !ok || got != i {
				return svsync_errors.ErrNoSegMarker
			}
			inner, err := s.openInner(outer)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			parts[i] = inner.Payload
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return assembleSegments(parts), effName, nil
}

// assembleSegments concatenates buffered segment contents in index
// order, whatever order they arrived in.
func assembleSegments(parts [][]byte) []byte {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	ret := make([]byte, 0, total)
	for _, p := range parts {
		ret = append(ret, p...)
	}
	return ret
}
