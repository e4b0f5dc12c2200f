// Package bb84 derives a shared secret between two parties using the BB84
// protocol, then uses that secret as a repeating XOR keystream to protect a
// single message.
//
// The pipeline runs one way: the photon package prepares and measures
// qubits, Sift keeps the positions where both parties happened to choose the
// same basis, Amplify folds the sifted key in half, and Encrypt/Decrypt apply
// the result. A Session sequences these stages for one round and refuses to
// use its key more than once.
package bb84

import (
	"github.com/alan-christopher/bb84chat/bb84/photon"
	qerrors "github.com/alan-christopher/bb84chat/internal/errors"
)

// MaxLength is the largest exchange, in qubits, a Session or Peer accepts.
const MaxLength = photon.MaxLength

// Errors returned by this package. They are shared with the photon package
// and the exchange manager, so errors.Is matches regardless of which layer
// reported the failure.
var (
	ErrInvalidLength      = qerrors.ErrInvalidLength
	ErrInvalidBasisSymbol = qerrors.ErrInvalidBasisSymbol
	ErrMismatchedLengths  = qerrors.ErrMismatchedLengths
	ErrInvalidMessage     = qerrors.ErrInvalidMessage
	ErrEmptyKey           = qerrors.ErrEmptyKey
	ErrStaleSession       = qerrors.ErrStaleSession
	ErrInvalidTransition  = qerrors.ErrInvalidTransition
)

// Stats packages together a collection of potentially interesting metrics
// pertaining to a BB84 key negotiation.
type Stats struct {
	// Protocol metrics
	Length     int
	SiftedBits int
	KeyBits    int
	SiftRatio  float64
	KeyBias    float64

	// Classical channel metrics, populated by Peer.NegotiateKey.
	MessagesSent     int
	MessagesReceived int
	BytesRead        int
	BytesSent        int
}

// A Role identifies which party's bit values a Session sifts.
type Role int

const (
	// RoleSender sifts the bits it prepared.
	RoleSender Role = iota
	// RoleReceiver sifts the outcomes it measured.
	RoleReceiver
)

func (r Role) String() string {
	switch r {
	case RoleSender:
		return "sender"
	case RoleReceiver:
		return "receiver"
	default:
		return "unknown"
	}
}
