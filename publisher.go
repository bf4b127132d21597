package svsync

import (
	"context"
	"sync"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/store"
	"github.com/drpcorg/svsync/svsync_errors"
	"github.com/drpcorg/svsync/utils"
)

// Publisher is the producer path: it signs and stores publications,
// answers data, mapping and version-discovery requests under its own
// prefix, and bumps its sync node so the engine gossips the new state.
type Publisher struct {
	e    *Engine
	node *Node
	ep   protocol.Endpoint
	st   *store.Store
	opts Options
	log  utils.Logger

	id     names.Name
	prefix names.Name // id + group, everything we serve lives under it

	mu sync.Mutex // serializes Publish, one seq at a time
}

func NewPublisher(e *Engine, ep protocol.Endpoint, st *store.Store, id names.Name) (*Publisher, error) {
	p := &Publisher{
		e:      e,
		node:   e.NewNode(id),
		ep:     ep,
		st:     st,
		opts:   e.opts,
		log:    e.opts.Logger,
		id:     id.Clone(),
		prefix: id.Join(e.opts.Group),
	}
	if err := ep.RegisterHandler(p.prefix, p.handleRequest); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) Node() *Node { return p.node }

func (p *Publisher) Close() error {
	p.ep.UnregisterHandler(p.prefix)
	return nil
}

// Publish signs and stores one payload under the topic name, assigns it
// the next sequence number and announces it. Payloads over the segment
// size become a versioned, segmented object.
func (p *Publisher) Publish(ctx context.Context, topic names.Name, payload []byte) (uint64, error) {
	if len(payload) == 0 {
		return 0, svsync_errors.ErrEmptyPayload
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	seq := p.node.SeqNum() + 1
	baseName := p.prefix.Append(names.Seq(seq))

	if len(payload) <= p.opts.SegmentSize {
		inner := &protocol.Data{Name: topic.Clone(), FinalSeg: protocol.NoFinalSeg, Payload: payload}
		if err := protocol.SealData(inner, p.opts.InnerSigner); err != nil {
			return 0, err
		}
		outer := &protocol.Data{Name: baseName, FinalSeg: protocol.NoFinalSeg, Payload: inner.TLV()}
		if err := protocol.SealData(outer, p.opts.OuterSigner); err != nil {
			return 0, err
		}
		if err := p.st.Put(outer); err != nil {
			return 0, err
		}
	} else if err := p.publishSegmented(baseName, topic, payload); err != nil {
		return 0, err
	}

	if err := p.putMapping(MappingEntry{Seq: seq, Name: topic.Clone()}); err != nil {
		return 0, err
	}

	p.node.SetSeqNum(seq)
	p.log.DebugCtx(ctx, "published", "topic", topic.String(), "seq", seq)
	return seq, nil
}

func (p *Publisher) publishSegmented(baseName, topic names.Name, payload []byte) error {
	const version = uint64(1)
	size := p.opts.SegmentSize
	count := (len(payload) + size - 1) / size
	final := int64(count - 1)
	verName := baseName.Append(names.Ver(version))

	for i := 0; i < count; i++ {
		chunk := payload[i*size : min(len(payload), (i+1)*size)]
		inner := &protocol.Data{
			Name:     topic.Append(names.Ver(version), names.Seg(uint64(i))),
			FinalSeg: final,
			Payload:  chunk,
		}
		if err := protocol.SealData(inner, p.opts.InnerSigner); err != nil {
			return err
		}
		outer := &protocol.Data{
			Name:     verName.Append(names.Seg(uint64(i))),
			FinalSeg: final,
			Payload:  inner.TLV(),
		}
		if err := protocol.SealData(outer, p.opts.OuterSigner); err != nil {
			return err
		}
		if err := p.st.Put(outer); err != nil {
			return err
		}
	}
	return nil
}

// mapping rows live in the store unsigned; responses are aggregated and
// sealed per request.
func (p *Publisher) putMapping(en MappingEntry) error {
	return p.st.Put(&protocol.Data{
		Name:     p.prefix.Append(mappingComp, names.Seq(en.Seq)),
		FinalSeg: protocol.NoFinalSeg,
		Payload:  EncodeMapping([]MappingEntry{en}),
	})
}

func (p *Publisher) handleRequest(ctx context.Context, req *protocol.Request) (*protocol.Data, error) {
	if !req.Name.HasPrefix(p.prefix) || len(req.Name) <= len(p.prefix) {
		return nil, nil
	}
	rest := req.Name[len(p.prefix):]

	if rest[0] == mappingComp {
		return p.serveMapping(req.Name, rest)
	}
	if rest[len(rest)-1] == names.Discover {
		base := req.Name[:len(req.Name)-1]
		verName, err := p.st.LatestVersion(base)
		if err != nil {
			return nil, nil
		}
		resp := &protocol.Data{Name: verName, FinalSeg: protocol.NoFinalSeg}
		if err := protocol.SealData(resp, p.opts.OuterSigner); err != nil {
			return nil, nil
		}
		return resp, nil
	}

	// data request; exact first, then prefix match (the stored name may
	// carry version and segment markers the requester cannot know)
	if d, err := p.st.Get(req.Name); err == nil {
		return d, nil
	}
	d, err := p.st.GetPrefix(req.Name)
	if err != nil {
		return nil, nil
	}
	return d, nil
}

func (p *Publisher) serveMapping(reqName names.Name, rest names.Name) (*protocol.Data, error) {
	if len(rest) != 3 {
		return nil, nil
	}
	lo, okLo := names.ParseSeq(rest[1])
	hi, okHi := names.ParseSeq(rest[2])
	if !okLo || !okHi || lo > hi {
		return nil, nil
	}
	var entries []MappingEntry
	for seq := lo; seq <= hi; seq++ {
		d, err := p.st.Get(p.prefix.Append(mappingComp, names.Seq(seq)))
		if err != nil {
			continue
		}
		row, err := DecodeMapping(d.Payload)
		if err != nil {
			continue
		}
		entries = append(entries, row...)
	}
	resp := &protocol.Data{Name: reqName, FinalSeg: protocol.NoFinalSeg, Payload: EncodeMapping(entries)}
	if err := protocol.SealData(resp, p.opts.MappingSigner); err != nil {
		return nil, nil
	}
	return resp, nil
}
