// Package svsync keeps per-publisher sequence vectors eventually
// consistent across a name-addressed request/response network and layers
// topic-based publish/subscribe on top of the vector deltas.
package svsync

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/protocol"
	"github.com/drpcorg/svsync/svsync_errors"
	"github.com/drpcorg/svsync/utils"
	"github.com/drpcorg/svsync/vector"
)

type engineState int

const (
	stateSteady engineState = iota
	stateSuppression
)

type engineStats struct {
	gossipReceived       atomic.Uint64
	gossipRejected       atomic.Uint64
	broadcastsSent       atomic.Uint64
	broadcastsSuppressed atomic.Uint64
	updatesEmitted       atomic.Uint64
	retrievalErrors      atomic.Uint64
}

// Engine is one sync protocol participant. It owns a state vector, runs
// the steady/suppression timer machine, merges inbound gossip and emits
// SyncUpdates for newly learned sequence ranges.
//
// All state mutation happens under one lock, event by event, so the
// diff-then-merge step is atomic with respect to concurrent gossip.
type Engine struct {
	opts  Options
	log   utils.Logger
	clock clockwork.Clock
	ep    protocol.Endpoint
	hub   *Hub

	mu         sync.Mutex
	emitMu     sync.Mutex
	own        vector.Vector
	aggregated vector.Vector
	state      engineState
	timer      clockwork.Timer
	rng        *rand.Rand
	closed     bool

	stats engineStats
}

func NewEngine(ep protocol.Endpoint, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	e := &Engine{
		opts:  opts,
		log:   opts.Logger,
		clock: opts.Clock,
		ep:    ep,
		hub:   newHub(),
		own:   make(vector.Vector),
		state: stateSteady,
		rng:   rand.New(rand.NewSource(opts.Clock.Now().UnixNano())),
	}
	if err := ep.RegisterHandler(opts.Group, e.handleGossip); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.armTimer(e.steadyDelay())
	e.mu.Unlock()
	return e, nil
}

// Hub exposes the engine's event hub for update/error/debug listeners.
func (e *Engine) Hub() *Hub { return e.hub }

// Own returns a snapshot of the engine's own state vector.
func (e *Engine) Own() vector.Vector {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.own.Clone()
}

// SeqNum reads the current counter for one publisher id.
func (e *Engine) SeqNum(id names.Name) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.own.Get(id.String())
}

// Close cancels the timer and deregisters the gossip handler. No further
// gossip is sent or accepted.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return svsync_errors.ErrClosed
	}
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()
	e.ep.UnregisterHandler(e.opts.Group)
	return nil
}

// jittered picks a delay in [median*(1-j), median*(1+j)].
func (e *Engine) jittered(median time.Duration, j float64) time.Duration {
	spread := float64(median) * j
	return time.Duration(float64(median) - spread + e.rng.Float64()*2*spread)
}

func (e *Engine) steadyDelay() time.Duration {
	return e.jittered(e.opts.SteadyInterval, e.opts.SteadyJitter)
}

func (e *Engine) suppressionDelay() time.Duration {
	return e.jittered(e.opts.SuppressionInterval, e.opts.SuppressionJitter)
}

// armTimer replaces the pending timer. Caller holds e.mu.
func (e *Engine) armTimer(d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = e.clock.AfterFunc(d, e.onTimer)
}

// localPublish is called by a sync node after it bumped its counter:
// whatever the state, the next firing happens now. Caller holds e.mu.
func (e *Engine) localPublish() {
	e.armTimer(0)
}

func (e *Engine) onTimer() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	switch e.state {
	case stateSuppression:
		// someone else's broadcast may have caught the laggards up
		// already; ours is only needed if we still know more
		if len(e.aggregated.OlderThan(e.own)) > 0 {
			e.broadcastLocked()
		} else {
			e.stats.broadcastsSuppressed.Add(1)
		}
		e.aggregated = nil
		e.state = stateSteady
	case stateSteady:
		e.broadcastLocked()
	}
	e.armTimer(e.steadyDelay())
	e.mu.Unlock()
}

// broadcastLocked snapshots the own vector and fires it at the group.
// The network call happens off the lock; any response is discarded.
func (e *Engine) broadcastLocked() {
	params := e.own.TLV()
	e.stats.broadcastsSent.Add(1)
	go e.sendGossip(params)
}

func (e *Engine) sendGossip(params []byte) {
	name := e.opts.Group.Append(protocol.ParamsDigest(params))
	_, err := e.ep.SendRequest(context.Background(), name, params, protocol.RequestOptions{
		Lifetime: e.opts.GossipLifetime,
		Signer:   e.opts.GossipSigner,
	})
	if err != nil {
		// best-effort fire; unanswered broadcasts are the normal case
		e.log.Debug("gossip broadcast unanswered", "err", err)
	}
}

// handleGossip merges one inbound remote vector, emits updates for the
// ranges we were behind on, and drives the steady/suppression machine.
func (e *Engine) handleGossip(ctx context.Context, req *protocol.Request) (*protocol.Data, error) {
	if err := protocol.VerifyRequest(req, e.opts.GossipVerifier); err != nil {
		e.stats.gossipRejected.Add(1)
		e.hub.emitDebug("rejected unverifiable gossip: " + req.Name.String())
		return nil, nil
	}
	remote, err := vector.FromTLV(req.Params)
	if err != nil {
		e.stats.gossipRejected.Add(1)
		e.hub.emitDebug("rejected malformed gossip: " + req.Name.String())
		return nil, nil
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, nil
	}
	e.stats.gossipReceived.Add(1)

	behind := e.own.OlderThan(remote)
	ahead := remote.OlderThan(e.own)
	e.own.Merge(remote)

	if e.state == stateSuppression {
		// aggregate without touching the suppression deadline
		e.aggregated.Merge(remote)
	} else if len(ahead) > 0 {
		e.state = stateSuppression
		e.aggregated = remote.Clone()
		e.armTimer(e.suppressionDelay())
	} else {
		// learned nothing, taught nothing: push the next broadcast out
		e.armTimer(e.steadyDelay())
	}

	updates := make([]SyncUpdate, 0, len(behind))
	for _, rg := range behind {
		updates = append(updates, SyncUpdate{ID: rg.ID, Lo: rg.Lo, Hi: rg.Hi})
	}
	e.stats.updatesEmitted.Add(uint64(len(updates)))
	// taking emitMu before dropping mu keeps emission in merge order,
	// so per-publisher hi sequence numbers never go backwards
	e.emitMu.Lock()
	e.mu.Unlock()

	for _, u := range updates {
		e.hub.emitUpdate(u)
	}
	e.emitMu.Unlock()
	return nil, nil
}

func (e *Engine) reportError(se SyncError) {
	e.stats.retrievalErrors.Add(1)
	e.hub.emitError(se)
}
