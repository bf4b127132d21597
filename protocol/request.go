package protocol

import (
	"fmt"

	"github.com/cespare/xxhash"
	"github.com/learn-decentralized-systems/toytlv"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/sign"
)

// Request is one named request. Params carry application parameters
// (the gossip vector travels there); the name then includes a digest
// component so distinct parameter sets never collide on one name.
type Request struct {
	Name   names.Name
	Params []byte
	Sig    []byte
}

func (r *Request) signedPortion() (ret []byte) {
	ret = toytlv.Append(ret, 'N', r.Name.Bytes())
	ret = toytlv.Append(ret, 'A', r.Params)
	return
}

func (r *Request) TLV() []byte {
	ret := r.signedPortion()
	return toytlv.Append(ret, 'G', r.Sig)
}

func RequestFromTLV(tlv []byte) (*Request, error) {
	r := &Request{}
	name, rest, err := toytlv.TakeWary('N', tlv)
	if err != nil {
		return nil, ErrBadRequest
	}
	r.Name = names.Parse(string(name))
	r.Params, rest, err = toytlv.TakeWary('A', rest)
	if err != nil {
		return nil, ErrBadRequest
	}
	r.Sig, _, err = toytlv.TakeWary('G', rest)
	if err != nil {
		return nil, ErrBadRequest
	}
	if len(r.Params) == 0 {
		r.Params = nil
	}
	if len(r.Sig) == 0 {
		r.Sig = nil
	}
	return r, nil
}

func SealRequest(r *Request, s sign.Signer) error {
	sig, err := s.Sign(r.signedPortion())
	if err != nil {
		return err
	}
	r.Sig = sig
	return nil
}

func VerifyRequest(r *Request, v sign.Verifier) error {
	return v.Verify(r.signedPortion(), r.Sig)
}

// ParamsDigest makes the name component binding a request name to its
// parameters.
func ParamsDigest(params []byte) string {
	return fmt.Sprintf("p=%016x", xxhash.Sum64(params))
}
