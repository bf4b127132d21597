package svsync

import (
	"github.com/learn-decentralized-systems/toytlv"

	"github.com/drpcorg/svsync/names"
	"github.com/drpcorg/svsync/svsync_errors"
	"github.com/drpcorg/svsync/vector"
)

// mappingComp marks mapping requests under a publisher's prefix; the
// range bounds follow as two sequence markers.
const mappingComp = "mapping"

func mappingName(pub names.Name, group names.Name, lo, hi uint64) names.Name {
	return pub.Join(group).Append(mappingComp, names.Seq(lo), names.Seq(hi))
}

// EncodeMapping is the wire form of a mapping response payload: one M
// record per entry, in ascending sequence order.
func EncodeMapping(entries []MappingEntry) (ret []byte) {
	for _, en := range entries {
		ret = toytlv.Append(ret, 'M',
			toytlv.Record('S', vector.ZipUint64(en.Seq)),
			toytlv.Record('N', en.Name.Bytes()),
			toytlv.Record('D', en.Meta),
		)
	}
	return
}

func DecodeMapping(tlv []byte) (entries []MappingEntry, err error) {
	rest := tlv
	for len(rest) > 0 {
		var body []byte
		body, rest, err = toytlv.TakeWary('M', rest)
		if err != nil {
			return nil, svsync_errors.ErrBadMapping
		}
		seq, body, err := toytlv.TakeWary('S', body)
		if err != nil {
			return nil, svsync_errors.ErrBadMapping
		}
		name, body, err := toytlv.TakeWary('N', body)
		if err != nil {
			return nil, svsync_errors.ErrBadMapping
		}
		meta, _, err := toytlv.TakeWary('D', body)
		if err != nil {
			return nil, svsync_errors.ErrBadMapping
		}
		if len(meta) == 0 {
			meta = nil
		}
		entries = append(entries, MappingEntry{
			Seq:  vector.UnzipUint64(seq),
			Name: names.Parse(string(name)),
			Meta: meta,
		})
	}
	return entries, nil
}
