// Package sign defines the signer/verifier seams used at the protocol's
// four trust boundaries (gossip requests, outer envelopes, mapping
// responses, inner payloads), plus ed25519 and no-op implementations.
package sign

import (
	"crypto/rand"
	"errors"

	"github.com/oasisprotocol/curve25519-voi/primitives/ed25519"
)

var (
	ErrBadSignature = errors.New("svsync: signature verification failed")
	ErrShortKey     = errors.New("svsync: bad key length")
)

type Signer interface {
	Sign(msg []byte) ([]byte, error)
}

type Verifier interface {
	Verify(msg, sig []byte) error
}

// Noop signs nothing and accepts everything. The default at every
// boundary; real deployments plug in ed25519 pairs.
type Noop struct{}

func (Noop) Sign(msg []byte) ([]byte, error) { return nil, nil }
func (Noop) Verify(msg, sig []byte) error    { return nil }

type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

type Ed25519Verifier struct {
	pub ed25519.PublicKey
}

func NewEd25519Signer(priv ed25519.PrivateKey) (*Ed25519Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrShortKey
	}
	return &Ed25519Signer{priv: priv}, nil
}

func NewEd25519Verifier(pub ed25519.PublicKey) (*Ed25519Verifier, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, ErrShortKey
	}
	return &Ed25519Verifier{pub: pub}, nil
}

// GenerateEd25519 makes a fresh signer/verifier pair.
func GenerateEd25519() (*Ed25519Signer, *Ed25519Verifier, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return &Ed25519Signer{priv: priv}, &Ed25519Verifier{pub: pub}, nil
}

func (s *Ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func (v *Ed25519Verifier) Verify(msg, sig []byte) error {
	if !ed25519.Verify(v.pub, msg, sig) {
		return ErrBadSignature
	}
	return nil
}
