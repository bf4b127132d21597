// Provides common svsync errors definitions.
package svsync_errors

import "errors"

var (
	ErrClosed       = errors.New("svsync: instance is closed")
	ErrBadGossip    = errors.New("svsync: malformed gossip request")
	ErrBadEnvelope  = errors.New("svsync: malformed data envelope")
	ErrBadMapping   = errors.New("svsync: malformed mapping payload")
	ErrContentType  = errors.New("svsync: unacceptable content type")
	ErrNoSegMarker  = errors.New("svsync: segment name lacks expected segment marker")
	ErrNoFinalSeg   = errors.New("svsync: segmented object does not announce its final segment")
	ErrEmptyPayload = errors.New("svsync: nothing to publish")
)
