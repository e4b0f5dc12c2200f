package photon

import (
	"context"
	"fmt"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
)

// A Sender transmits qubits prepared as (bit, basis) pairs.
type Sender interface {
	Send(ctx context.Context, bits bitmap.Dense, bases Bases) error
}

// A Receiver measures the next batch of qubits in the given bases.
type Receiver interface {
	Receive(ctx context.Context, bases Bases) (bitmap.Dense, error)
}

type pulse struct {
	bits  bitmap.Dense
	bases Bases
}

// NewSimulatedChannel creates a pair of (Sender, Receiver) structs simulating a
// quantum channel. It is expected that each call to Send() will be mirrored by
// a call to Receive(). Calls to Send() block once more than bufSize of them
// are outstanding. The receiver draws mismatched-basis outcomes from src.
func NewSimulatedChannel(src entropy.Source, bufSize int) (*SimulatedSender, *SimulatedReceiver) {
	ch := make(chan pulse, bufSize)
	return &SimulatedSender{pulses: ch}, &SimulatedReceiver{pulses: ch, src: src}
}

type SimulatedSender struct {
	pulses chan<- pulse
}

type SimulatedReceiver struct {
	pulses <-chan pulse
	src    entropy.Source
}

func (ss *SimulatedSender) Send(ctx context.Context, bits bitmap.Dense, bases Bases) error {
	if bits.Size() != len(bases) {
		return fmt.Errorf("bit and basis length must agree: %d != %d", bits.Size(), len(bases))
	}
	select {
	case ss.pulses <- pulse{bits: bits.Clone(), bases: append(Bases(nil), bases...)}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sr *SimulatedReceiver) Receive(ctx context.Context, bases Bases) (bitmap.Dense, error) {
	var p pulse
	select {
	case p = <-sr.pulses:
	case <-ctx.Done():
		return bitmap.Empty(), ctx.Err()
	}
	return Measure(sr.src, p.bits, p.bases, bases)
}
