// Package protocol defines the request/response collaborator surface the
// sync layer is written against: signed request and data-envelope codecs,
// the Endpoint capability set, and an in-process switch wiring endpoints
// together. TLV all the way down.
package protocol

import (
	"errors"

	"github.com/learn-decentralized-systems/toytlv"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/sign"
	"github.com/drpcorg/svsync/vector"
)

var (
	ErrBadData    = errors.New("svsync: malformed data envelope")
	ErrBadRequest = errors.New("svsync: malformed request")
)

// NoFinalSeg marks a Data that is not part of a segmented object.
const NoFinalSeg = int64(-1)

// Data is one signed envelope. Outer envelopes carry transport and
// segmentation concerns, inner envelopes carry the application payload;
// both use this one shape.
type Data struct {
	Name        names.Name
	ContentType uint64
	FinalSeg    int64
	Payload     []byte
	Sig         []byte
}

// signedPortion is everything the signature covers.
func (d *Data) signedPortion() (ret []byte) {
	ret = toytlv.Append(ret, 'N', d.Name.Bytes())
	ret = toytlv.Append(ret, 'C', vector.ZipUint64(d.ContentType))
	if d.FinalSeg >= 0 {
		ret = toytlv.Append(ret, 'F', vector.ZipUint64(uint64(d.FinalSeg)))
	}
	ret = toytlv.Append(ret, 'P', d.Payload)
	return
}

func (d *Data) TLV() []byte {
	ret := d.signedPortion()
	return toytlv.Append(ret, 'G', d.Sig)
}

func DataFromTLV(tlv []byte) (*Data, error) {
	d := &Data{FinalSeg: NoFinalSeg}
	name, rest, err := toytlv.TakeWary('N', tlv)
	if err != nil {
		return nil, ErrBadData
	}
	d.Name = names.Parse(string(name))
	ct, rest, err := toytlv.TakeWary('C', rest)
	if err != nil {
		return nil, ErrBadData
	}
	d.ContentType = vector.UnzipUint64(ct)
	if fin, r := toytlv.Take('F', rest); fin != nil {
		d.FinalSeg = int64(vector.UnzipUint64(fin))
		rest = r
	}
	d.Payload, rest, err = toytlv.TakeWary('P', rest)
	if err != nil {
		return nil, ErrBadData
	}
	d.Sig, _, err = toytlv.TakeWary('G', rest)
	if err != nil {
		return nil, ErrBadData
	}
	if len(d.Payload) == 0 {
		d.Payload = nil
	}
	if len(d.Sig) == 0 {
		d.Sig = nil
	}
	return d, nil
}

// SealData signs the envelope in place.
func SealData(d *Data, s sign.Signer) error {
	sig, err := s.Sign(d.signedPortion())
	if err != nil {
		return err
	}
	d.Sig = sig
	return nil
}

func VerifyData(d *Data, v sign.Verifier) error {
	return v.Verify(d.signedPortion(), d.Sig)
}
