package bb84

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	"github.com/alan-christopher/bb84chat/bb84/photon"
)

var (
	DefaultLength  = 1024
	DefaultEpsilon = 1e-12
)

// A Peer represents one of the two legitimate participants in a BB84 key
// exchange.
type Peer interface {
	// NegotiateKey performs one round of BB84 key exchange and returns a
	// session in StateReady, whose key may be used for a single message.
	NegotiateKey(ctx context.Context) (*Session, Stats, error)
}

// A PeerOpts packages together the arguments necessary to construct a new Peer. Many of the fields
// of a PeerOpts do *not* have reasonable defaults, and leaving those fields to zero-initialize will
// result in NewPeer returning an error.
type PeerOpts struct {
	// Sender/Receiver is responsible sending/receiving photons. Exactly one must be non-nil.
	Sender   photon.Sender
	Receiver photon.Receiver

	// ClassicalChannel provides a channel for classical communications. Must be
	// non-nil.
	ClassicalChannel io.ReadWriter

	// Rand provides a source of randomness for bits and bases. Use
	// entropy.Secure unless the exchange is an experiment. Must be non-nil.
	Rand entropy.Source

	// Secret provides a bootstrap secret shared between the peers for
	// authenticating the classical channel. Must be non-nil.
	Secret io.Reader

	// Length specifies the number of qubits to exchange per call to
	// NegotiateKey. Defaults to DefaultLength.
	Length int

	// EpsilonAuth specifies the probability that we are willing to accept that
	// an eavesdropper can forge a message. Each classical message exchanged
	// spends log_2(1/EpsilonAuth) bits of Secret, rounded up to the nearest
	// byte. Must lie in (0, 1).
	//
	// Defaults to DefaultEpsilon.
	EpsilonAuth float64
}

// NewPeer returns a new Peer, configured in accordance with opts, or an error
// if the options are nonsensical.
func NewPeer(opts PeerOpts) (Peer, error) {
	if (opts.Sender == nil) == (opts.Receiver == nil) {
		return nil, errors.New("exactly one of {Sender, Receiver} must be specified")
	}
	if opts.ClassicalChannel == nil {
		return nil, errors.New("must provide ClassicalChannel")
	}
	if opts.Rand == nil {
		return nil, errors.New("must provide Rand")
	}
	if opts.Secret == nil {
		return nil, errors.New("must provide Secret")
	}
	length, epsAuth, err := peerParams(opts.Length, opts.EpsilonAuth)
	if err != nil {
		return nil, err
	}

	m := macBits(epsAuth)
	maxFrame := maxFrameBytes(length)
	diags := make([]byte, bitmap.BytesFor(m)+maxFrame)
	if _, err := io.ReadFull(opts.Secret, diags); err != nil {
		return nil, fmt.Errorf("reading toeplitz diagonals: %w", err)
	}
	pf := &protoFramer{
		rw:     opts.ClassicalChannel,
		secret: opts.Secret,
		t: toeplitz{
			diags: bitmap.NewDense(diags, -1),
			m:     m,
		},
		maxLen: maxFrame,
	}

	if opts.Sender != nil {
		return &alice{
			sender:      opts.Sender,
			sideChannel: pf,
			rand:        opts.Rand,
			length:      length,
		}, nil
	}
	return &bob{
		receiver:    opts.Receiver,
		sideChannel: pf,
		rand:        opts.Rand,
		length:      length,
	}, nil
}

// An alice represents the sending BB84 participant.
type alice struct {
	sender      photon.Sender
	sideChannel *protoFramer
	rand        entropy.Source
	length      int
}

// A bob represents the receiving BB84 participant.
type bob struct {
	receiver    photon.Receiver
	sideChannel *protoFramer
	rand        entropy.Source
	length      int
}

// NegotiateKey implements the Peer interface.
func (a *alice) NegotiateKey(ctx context.Context) (sess *Session, stats Stats, err error) {
	sess, err = NewSession(a.length, RoleSender)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if err != nil {
			sess.Abort()
			sess = nil
		}
	}()
	bits, bases, err := photon.Prepare(a.rand, a.length)
	if err != nil {
		return sess, stats, err
	}
	if err = a.sender.Send(ctx, bits, bases); err != nil {
		return sess, stats, fmt.Errorf("sending qubits: %w", err)
	}
	bba := new(basisAnnouncement)
	if err = a.sideChannel.Read(bba, &stats); err != nil {
		return sess, stats, fmt.Errorf("receiving basis announcement: %w", err)
	}
	if err = a.sideChannel.Write(&basisAnnouncement{bases: bases}, &stats); err != nil {
		return sess, stats, fmt.Errorf("announcing bases: %w", err)
	}
	if err = sess.PublishBases(bits, bases, bba.bases); err != nil {
		return sess, stats, err
	}
	if err = sess.Reconcile(); err != nil {
		return sess, stats, err
	}
	return sess, mergeStats(sess.Stats(), stats), nil
}

// NegotiateKey implements the Peer interface.
func (b *bob) NegotiateKey(ctx context.Context) (sess *Session, stats Stats, err error) {
	sess, err = NewSession(b.length, RoleReceiver)
	if err != nil {
		return nil, stats, err
	}
	defer func() {
		if err != nil {
			sess.Abort()
			sess = nil
		}
	}()
	bases, err := photon.ChooseBases(b.rand, b.length)
	if err != nil {
		return sess, stats, err
	}
	outcomes, err := b.receiver.Receive(ctx, bases)
	if err != nil {
		return sess, stats, fmt.Errorf("receiving qubits: %w", err)
	}
	if err = b.sideChannel.Write(&basisAnnouncement{bases: bases}, &stats); err != nil {
		return sess, stats, fmt.Errorf("sending basis announcement: %w", err)
	}
	aba := new(basisAnnouncement)
	if err = b.sideChannel.Read(aba, &stats); err != nil {
		return sess, stats, fmt.Errorf("receiving bases: %w", err)
	}
	if err = sess.PublishBases(outcomes, aba.bases, bases); err != nil {
		return sess, stats, err
	}
	if err = sess.Reconcile(); err != nil {
		return sess, stats, err
	}
	return sess, mergeStats(sess.Stats(), stats), nil
}

// SecretBytes returns how much bootstrap secret one call to NewPeer followed
// by one NegotiateKey consumes for the given Length and EpsilonAuth. Zero
// values take the same defaults as PeerOpts, and values NewPeer would reject
// are rejected here too.
func SecretBytes(length int, epsAuth float64) (int, error) {
	length, epsAuth, err := peerParams(length, epsAuth)
	if err != nil {
		return 0, err
	}
	macBytes := bitmap.BytesFor(macBits(epsAuth))
	// Toeplitz diagonals, then one pad per basis announcement.
	return macBytes + maxFrameBytes(length) + 2*macBytes, nil
}

// peerParams applies defaults to a requested length and EpsilonAuth and
// validates the result.
func peerParams(length int, epsAuth float64) (int, float64, error) {
	if length == 0 {
		length = DefaultLength
	}
	if length < 0 || length > MaxLength {
		return 0, 0, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidLength, length, MaxLength)
	}
	if epsAuth == 0 {
		epsAuth = DefaultEpsilon
	}
	// Written so that NaN fails too.
	if !(epsAuth > 0 && epsAuth < 1) {
		return 0, 0, fmt.Errorf("EpsilonAuth must be in (0, 1), got %v", epsAuth)
	}
	return length, epsAuth, nil
}

// macBits is the Toeplitz hash height for epsAuth, at least one bit for any
// epsAuth in (0, 1).
func macBits(epsAuth float64) int {
	m := int(math.Ceil(math.Log2(1 / epsAuth)))
	if m < 1 {
		m = 1
	}
	return m
}

// maxFrameBytes bounds the marshalled size of a basis announcement.
func maxFrameBytes(length int) int {
	return bitmap.BytesFor(length) + 16
}

func mergeStats(protocol, traffic Stats) Stats {
	protocol.MessagesSent = traffic.MessagesSent
	protocol.MessagesReceived = traffic.MessagesReceived
	protocol.BytesSent = traffic.BytesSent
	protocol.BytesRead = traffic.BytesRead
	return protocol
}
