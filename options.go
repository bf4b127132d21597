package svsync

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/sign"
	"github.com/drpcorg/svsync/utils"
)

const (
	DefaultGossipLifetime      = time.Second
	DefaultSteadyInterval      = 30 * time.Second
	DefaultSteadyJitter        = 0.1
	DefaultSuppressionInterval = 200 * time.Millisecond
	DefaultSuppressionJitter   = 0.5
	DefaultRetrievalRetries    = 2
	DefaultRetrievalLifetime   = time.Second
	DefaultMappingBatch        = 10
	DefaultSegmentSize         = 8 << 10
	DefaultUpdateQueueLen      = 1 << 12
)

// Options configure an engine/subscriber/publisher group. The zero value
// is usable once Group is set; everything else has a default.
type Options struct {
	// Group is the sync group prefix all gossip goes under.
	Group names.Name

	GossipLifetime      time.Duration
	SteadyInterval      time.Duration
	SteadyJitter        float64
	SuppressionInterval time.Duration
	SuppressionJitter   float64

	RetrievalRetries  int
	RetrievalLifetime time.Duration
	MappingBatch      int

	// MustFilterByMapping forces mapping retrieval even when a
	// publisher-scoped subscription exists.
	MustFilterByMapping bool

	// AcceptedContentTypes restricts inner payloads; empty accepts any.
	AcceptedContentTypes []uint64

	// SegmentSize is the publisher-side payload split threshold.
	SegmentSize int

	// Four independent trust boundaries. Nil means sign.Noop.
	GossipSigner    sign.Signer
	GossipVerifier  sign.Verifier
	OuterSigner     sign.Signer
	OuterVerifier   sign.Verifier
	MappingSigner   sign.Signer
	MappingVerifier sign.Verifier
	InnerSigner     sign.Signer
	InnerVerifier   sign.Verifier

	Logger utils.Logger
	Clock  clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.GossipLifetime <= 0 {
		o.GossipLifetime = DefaultGossipLifetime
	}
	if o.SteadyInterval <= 0 {
		o.SteadyInterval = DefaultSteadyInterval
	}
	if o.SteadyJitter <= 0 {
		o.SteadyJitter = DefaultSteadyJitter
	}
	if o.SuppressionInterval <= 0 {
		o.SuppressionInterval = DefaultSuppressionInterval
	}
	if o.SuppressionJitter <= 0 {
		o.SuppressionJitter = DefaultSuppressionJitter
	}
	if o.RetrievalRetries <= 0 {
		o.RetrievalRetries = DefaultRetrievalRetries
	}
	if o.RetrievalLifetime <= 0 {
		o.RetrievalLifetime = DefaultRetrievalLifetime
	}
	if o.MappingBatch <= 0 {
		o.MappingBatch = DefaultMappingBatch
	}
	if o.SegmentSize <= 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.GossipSigner == nil {
		o.GossipSigner = sign.Noop{}
	}
	if o.GossipVerifier == nil {
		o.GossipVerifier = sign.Noop{}
	}
	if o.OuterSigner == nil {
		o.OuterSigner = sign.Noop{}
	}
	if o.OuterVerifier == nil {
		o.OuterVerifier = sign.Noop{}
	}
	if o.MappingSigner == nil {
		o.MappingSigner = sign.Noop{}
	}
	if o.MappingVerifier == nil {
		o.MappingVerifier = sign.Noop{}
	}
	if o.InnerSigner == nil {
		o.InnerSigner = sign.Noop{}
	}
	if o.InnerVerifier == nil {
		o.InnerVerifier = sign.Noop{}
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

func (o Options) acceptsContentType(ct uint64) bool {
	if len(o.AcceptedContentTypes) == 0 {
		return true
	}
	for _, a := range o.AcceptedContentTypes {
		if a == ct {
			return true
		}
	}
	return false
}
