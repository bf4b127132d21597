package svsync

import "github.com/drpcorg/svsync/names"

// Node is the capability handle through which local code publishes under
// one publisher id. Bumping its sequence number is the only way the own
// vector grows locally.
type Node struct {
	e  *Engine
	id string
}

func (e *Engine) NewNode(id names.Name) *Node {
	return &Node{e: e, id: id.String()}
}

func (n *Node) ID() string { return n.id }

func (n *Node) SeqNum() uint64 {
	n.e.mu.Lock()
	defer n.e.mu.Unlock()
	return n.e.own.Get(n.id)
}

// SetSeqNum publishes up to seq. Values at or below the current counter
// are silently ignored; local publication only ever moves forward.
func (n *Node) SetSeqNum(seq uint64) {
	e := n.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || seq <= e.own.Get(n.id) {
		return
	}
	e.own.Set(n.id, seq)
	e.localPublish()
}

// Bump publishes the next sequence number and returns it.
func (n *Node) Bump() uint64 {
	e := n.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return e.own.Get(n.id)
	}
	next := e.own.Get(n.id) + 1
	e.own.Set(n.id, next)
	e.localPublish()
	return next
}
