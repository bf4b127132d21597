package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/sign"
)

var (
	ErrTimeout    = errors.New("svsync: request expired unanswered")
	ErrNoRoute    = errors.New("svsync: no handler for request name")
	ErrClosed     = errors.New("svsync: endpoint is closed")
	ErrDuplicated = errors.New("svsync: prefix already registered")
)

// Handler serves one inbound request. Returning (nil, nil) drops the
// request silently; any error is treated the same way by the switch.
type Handler func(ctx context.Context, req *Request) (*Data, error)

// RequestOptions tune one outgoing request.
type RequestOptions struct {
	// Lifetime bounds one transmission; an unanswered request expires.
	Lifetime time.Duration
	// Retries is the number of retransmissions after the first try.
	Retries int
	// Signer, when set, seals the outgoing request.
	Signer sign.Signer
	// Verifier, when set, checks the response envelope; a response that
	// fails it counts as no response at all.
	Verifier sign.Verifier
}

// Endpoint is the capability set the sync layer consumes from the
// network. One endpoint per protocol participant.
type Endpoint interface {
	RegisterHandler(prefix names.Name, h Handler) error
	UnregisterHandler(prefix names.Name)
	// SendRequest expresses one request and waits for a matching
	// response, honoring lifetime and retransmission options.
	SendRequest(ctx context.Context, name names.Name, params []byte, opts RequestOptions) (*Data, error)
	// DiscoverLatestVersion resolves a name prefix to its latest
	// versioned name. Used only by segmented retrieval.
	DiscoverLatestVersion(ctx context.Context, name names.Name, opts RequestOptions) (names.Name, error)
	Close() error
}
