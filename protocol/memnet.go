package protocol

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/sign"
	"github.com/drpcorg/svsync/utils"
)

const defaultLifetime = time.Second

// Switch is an in-process request/response fabric. Every request is
// delivered to each endpoint whose registered prefix covers the request
// name, except the origin endpoint; the first response that passes the
// caller's verifier wins. Good enough for tests and for single-process
// sync groups.
type Switch struct {
	log    utils.Logger
	closed atomic.Bool
	wg     sync.WaitGroup

	mu     sync.RWMutex
	routes *names.PrefixTable[map[*MemEndpoint]Handler]

	eps *xsync.MapOf[string, *MemEndpoint]
}

func NewSwitch(log utils.Logger) *Switch {
	return &Switch{
		log:    log,
		routes: names.NewPrefixTable[map[*MemEndpoint]Handler](),
		eps:    xsync.NewMapOf[string, *MemEndpoint](),
	}
}

func (sw *Switch) NewEndpoint() *MemEndpoint {
	ep := &MemEndpoint{sw: sw, id: uuid.NewString()}
	sw.eps.Store(ep.id, ep)
	return ep
}

func (sw *Switch) Close() error {
	sw.closed.Store(true)
	sw.eps.Range(func(_ string, ep *MemEndpoint) bool {
		_ = ep.Close()
		return true
	})
	sw.eps.Clear()
	sw.wg.Wait()
	return nil
}

// MemEndpoint is one participant's attachment to a Switch.
type MemEndpoint struct {
	sw     *Switch
	id     string
	closed atomic.Bool

	mu       sync.Mutex
	prefixes []names.Name
}

func (ep *MemEndpoint) RegisterHandler(prefix names.Name, h Handler) error {
	if ep.closed.Load() || ep.sw.closed.Load() {
		return ErrClosed
	}
	sw := ep.sw
	sw.mu.Lock()
	defer sw.mu.Unlock()
	set, ok := sw.routes.Get(prefix)
	if !ok {
		set = make(map[*MemEndpoint]Handler)
		sw.routes.Put(prefix, set)
	}
	if _, dup := set[ep]; dup {
		return ErrDuplicated
	}
	set[ep] = h

	ep.mu.Lock()
	ep.prefixes = append(ep.prefixes, prefix.Clone())
	ep.mu.Unlock()
	return nil
}

func (ep *MemEndpoint) UnregisterHandler(prefix names.Name) {
	sw := ep.sw
	sw.mu.Lock()
	if set, ok := sw.routes.Get(prefix); ok {
		delete(set, ep)
		if len(set) == 0 {
			sw.routes.Delete(prefix)
		}
	}
	sw.mu.Unlock()

	ep.mu.Lock()
	for i, p := range ep.prefixes {
		if p.Equal(prefix) {
			ep.prefixes = append(ep.prefixes[:i], ep.prefixes[i+1:]...)
			break
		}
	}
	ep.mu.Unlock()
}

func (ep *MemEndpoint) Close() error {
	if ep.closed.Swap(true) {
		return nil
	}
	ep.mu.Lock()
	prefixes := ep.prefixes
	ep.prefixes = nil
	ep.mu.Unlock()
	for _, p := range prefixes {
		sw := ep.sw
		sw.mu.Lock()
		if set, ok := sw.routes.Get(p); ok {
			delete(set, ep)
			if len(set) == 0 {
				sw.routes.Delete(p)
			}
		}
		sw.mu.Unlock()
	}
	ep.sw.eps.Delete(ep.id)
	return nil
}

func (ep *MemEndpoint) SendRequest(ctx context.Context, name names.Name, params []byte, opts RequestOptions) (*Data, error) {
	if ep.closed.Load() || ep.sw.closed.Load() {
		return nil, ErrClosed
	}
	req := &Request{Name: name, Params: params}
	if opts.Signer != nil {
		if err := SealRequest(req, opts.Signer); err != nil {
			return nil, err
		}
	}
	wire := req.TLV()
	lifetime := opts.Lifetime
	if lifetime <= 0 {
		lifetime = defaultLifetime
	}
	trace := uuid.NewString()

	var err error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		var d *Data
		d, err = ep.sw.dispatch(ctx, ep, wire, lifetime, opts.Verifier)
		if err == nil {
			return d, nil
		}
		if err != ErrTimeout || ctx.Err() != nil {
			break
		}
		ep.sw.log.Debug("request retry", "trace", trace, "name", name.String(), "attempt", attempt+1)
	}
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return nil, err
}

func (ep *MemEndpoint) DiscoverLatestVersion(ctx context.Context, name names.Name, opts RequestOptions) (names.Name, error) {
	d, err := ep.SendRequest(ctx, name.Append(names.Discover), nil, opts)
	if err != nil {
		return nil, err
	}
	return d.Name, nil
}

// dispatch runs one transmission: decode per receiver, fan to every
// matching handler but the origin, collect the first verified response.
func (sw *Switch) dispatch(ctx context.Context, origin *MemEndpoint, wire []byte, lifetime time.Duration, verifier sign.Verifier) (*Data, error) {
	req, err := RequestFromTLV(wire)
	if err != nil {
		return nil, err
	}

	sw.mu.RLock()
	var handlers []Handler
	for _, set := range sw.routes.Match(req.Name) {
		for ep, h := range set {
			if ep != origin && !ep.closed.Load() {
				handlers = append(handlers, h)
			}
		}
	}
	sw.mu.RUnlock()
	if len(handlers) == 0 {
		return nil, ErrNoRoute
	}

	cctx, cancel := context.WithTimeout(ctx, lifetime)
	defer cancel()

	resps := make(chan *Data, len(handlers))
	var pending sync.WaitGroup
	for _, h := range handlers {
		h := h
		pending.Add(1)
		sw.wg.Add(1)
		go func() {
			defer sw.wg.Done()
			defer pending.Done()
			rq, err := RequestFromTLV(wire)
			if err != nil {
				return
			}
			d, err := h(cctx, rq)
			if err != nil || d == nil {
				return
			}
			resps <- d
		}()
	}
	settled := make(chan struct{})
	go func() {
		pending.Wait()
		close(settled)
	}()

	accept := func(d *Data) bool {
		if verifier == nil {
			return true
		}
		if err := VerifyData(d, verifier); err != nil {
			sw.log.Debug("dropping unverifiable response", "name", d.Name.String())
			return false
		}
		return true
	}

	for {
		select {
		case d := <-resps:
			if accept(d) {
				return d, nil
			}
		case <-settled:
			// handlers are done and every send has landed in the buffer
			for {
				select {
				case d := <-resps:
					if accept(d) {
						return d, nil
					}
				default:
					return nil, ErrTimeout
				}
			}
		case <-cctx.Done():
			return nil, ErrTimeout
		}
	}
}
