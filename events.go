package svsync

import "sync"

// SyncUpdate describes a contiguous, inclusive range of sequence numbers
// newly known for one publisher.
type SyncUpdate struct {
	ID string // canonical publisher name
	Lo uint64
	Hi uint64
}

// SyncError reports one isolated retrieval or verification failure.
type SyncError struct {
	Publisher string
	Seq       uint64
	Err       error
}

type eventKind int

const (
	kindUpdate eventKind = iota
	kindError
	kindDebug
)

// Hub fans typed events out to registered listeners: updates, errors and
// debug lines, each with a fixed payload type. Listeners are called
// synchronously and must not block or call back into the engine.
type Hub struct {
	mu      sync.Mutex
	next    uint64
	updates map[uint64]func(SyncUpdate)
	errors  map[uint64]func(SyncError)
	debugs  map[uint64]func(string)
}

func newHub() *Hub {
	return &Hub{
		updates: make(map[uint64]func(SyncUpdate)),
		errors:  make(map[uint64]func(SyncError)),
		debugs:  make(map[uint64]func(string)),
	}
}

// Listener is a subscription handle for one event kind.
type Listener struct {
	hub  *Hub
	kind eventKind
	id   uint64
}

func (h *Hub) OnUpdate(f func(SyncUpdate)) *Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.updates[h.next] = f
	return &Listener{hub: h, kind: kindUpdate, id: h.next}
}

func (h *Hub) OnError(f func(SyncError)) *Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.errors[h.next] = f
	return &Listener{hub: h, kind: kindError, id: h.next}
}

func (h *Hub) OnDebug(f func(string)) *Listener {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	h.debugs[h.next] = f
	return &Listener{hub: h, kind: kindDebug, id: h.next}
}

func (l *Listener) Close() {
	l.hub.mu.Lock()
	defer l.hub.mu.Unlock()
	switch l.kind {
	case kindUpdate:
		delete(l.hub.updates, l.id)
	case kindError:
		delete(l.hub.errors, l.id)
	case kindDebug:
		delete(l.hub.debugs, l.id)
	}
}

// emit helpers copy the listener set before calling out, so a listener
// may subscribe or unsubscribe from within its own callback.

func (h *Hub) emitUpdate(u SyncUpdate) {
	h.mu.Lock()
	fs := make([]func(SyncUpdate), 0, len(h.updates))
	for _, f := range h.updates {
		fs = append(fs, f)
	}
	h.mu.Unlock()
	for _, f := range fs {
		f(u)
	}
}

func (h *Hub) emitError(e SyncError) {
	h.mu.Lock()
	fs := make([]func(SyncError), 0, len(h.errors))
	for _, f := range h.errors {
		fs = append(fs, f)
	}
	h.mu.Unlock()
	for _, f := range fs {
		f(e)
	}
}

func (h *Hub) emitDebug(msg string) {
	h.mu.Lock()
	fs := make([]func(string), 0, len(h.debugs))
	for _, f := range h.debugs {
		fs = append(fs, f)
	}
	h.mu.Unlock()
	for _, f := range fs {
		f(msg)
	}
}
