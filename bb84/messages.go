package bb84

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/photon"
)

// A message is a classical-channel message with a protobuf wire encoding.
type message interface {
	marshal() []byte
	unmarshal(b []byte) error
}

// basisAnnouncement publishes one party's basis choices. Bit values are
// never announced.
//
//	message BasisAnnouncement {
//	  bytes bases = 1; // packed, 0 = rectilinear, 1 = diagonal
//	  int32 len   = 2;
//	}
type basisAnnouncement struct {
	bases photon.Bases
}

const (
	basesField protowire.Number = 1
	lenField   protowire.Number = 2

	maxAnnouncedBases = 1 << 24
)

func (m *basisAnnouncement) marshal() []byte {
	packed, err := m.bases.Bitmap()
	if err != nil {
		// Bases are validated before they are announced.
		panic(fmt.Sprintf("announcing invalid bases: %v", err))
	}
	var b []byte
	b = protowire.AppendTag(b, basesField, protowire.BytesType)
	b = protowire.AppendBytes(b, packed.Data())
	b = protowire.AppendTag(b, lenField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(len(m.bases)))
	return b
}

func (m *basisAnnouncement) unmarshal(b []byte) error {
	var (
		packed []byte
		n      uint64
	)
	for len(b) > 0 {
		num, typ, l := protowire.ConsumeTag(b)
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]
		switch {
		case num == basesField && typ == protowire.BytesType:
			packed, l = protowire.ConsumeBytes(b)
		case num == lenField && typ == protowire.VarintType:
			n, l = protowire.ConsumeVarint(b)
		default:
			l = protowire.ConsumeFieldValue(num, typ, b)
		}
		if l < 0 {
			return protowire.ParseError(l)
		}
		b = b[l:]
	}
	if n > maxAnnouncedBases {
		return fmt.Errorf("basis announcement of %d bases exceeds limit %d", n, maxAnnouncedBases)
	}
	if len(packed) != bitmap.BytesFor(int(n)) {
		return fmt.Errorf("basis announcement of %d bases carries %d bytes", n, len(packed))
	}
	m.bases = photon.BasesFromBitmap(bitmap.NewDense(append([]byte(nil), packed...), int(n)))
	return nil
}
