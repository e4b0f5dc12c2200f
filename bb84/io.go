package bb84

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
)

// A protoFramer carries protowire-encoded messages over the classical channel.
// Each frame is: int32 length (little endian) | message | mac
//
// The mac is a Toeplitz hash of the message masked with a one-time pad, both
// drawn from the pre-shared secret (https://arxiv.org/abs/1603.08387).
type protoFramer struct {
	rw     io.ReadWriter
	secret io.Reader
	t      toeplitz
	// maxLen bounds the size of an incoming frame.
	maxLen int
}

func (p *protoFramer) Write(m message, s *Stats) error {
	marshalled := m.marshal()
	if err := binary.Write(p.rw, binary.LittleEndian, int32(len(marshalled))); err != nil {
		return err
	}
	if _, err := p.rw.Write(marshalled); err != nil {
		return err
	}
	mac, err := p.buildMAC(marshalled)
	if err != nil {
		return err
	}
	if _, err := p.rw.Write(mac); err != nil {
		return err
	}
	if s != nil {
		s.MessagesSent++
		s.BytesSent += 4 + len(marshalled) + len(mac)
	}
	return nil
}

func (p *protoFramer) Read(m message, s *Stats) error {
	var mLen int32
	if err := binary.Read(p.rw, binary.LittleEndian, &mLen); err != nil {
		return err
	}
	if mLen < 0 || (p.maxLen > 0 && int(mLen) > p.maxLen) {
		return fmt.Errorf("frame of %d bytes exceeds limit %d", mLen, p.maxLen)
	}
	marshalled := make([]byte, mLen)
	if _, err := io.ReadFull(p.rw, marshalled); err != nil {
		return err
	}
	mac := make([]byte, bitmap.BytesFor(p.t.m))
	if _, err := io.ReadFull(p.rw, mac); err != nil {
		return err
	}
	emac, err := p.buildMAC(marshalled)
	if err != nil {
		return err
	}
	if !bytes.Equal(mac, emac) {
		return errors.New("invalid mac")
	}
	if s != nil {
		s.MessagesReceived++
		s.BytesRead += 4 + len(marshalled) + len(mac)
	}
	return m.unmarshal(marshalled)
}

func (p *protoFramer) buildMAC(msg []byte) ([]byte, error) {
	hash, err := p.t.Mul(bitmap.NewDense(msg, -1))
	if err != nil {
		return nil, err
	}
	otp := make([]byte, hash.SizeBytes())
	if _, err := io.ReadFull(p.secret, otp); err != nil {
		return nil, fmt.Errorf("exhausted authentication secret: %w", err)
	}
	mac := bitmap.XOr(hash, bitmap.NewDense(otp, hash.Size()))
	return mac.Data(), nil
}
