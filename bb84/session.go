package bb84

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/photon"
	qerrors "github.com/alan-christopher/bb84chat/internal/errors"
)

// State is the position of a Session in the key-exchange lifecycle.
type State int

const (
	// StateInitialized: the target length is fixed, nothing else is known.
	StateInitialized State = iota
	// StateBasesPublished: local bits and both basis sequences are recorded.
	StateBasesPublished
	// StateSifted: the sifted key is populated.
	StateSifted
	// StateAmplified: the final key is populated.
	StateAmplified
	// StateReady: the final key may be used for exactly one cipher operation.
	StateReady
	// StateConsumed: the key has been used and is gone.
	StateConsumed
	// StateAborted: the session was cancelled or timed out and holds no key.
	StateAborted
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateBasesPublished:
		return "BasesPublished"
	case StateSifted:
		return "Sifted"
	case StateAmplified:
		return "Amplified"
	case StateReady:
		return "Ready"
	case StateConsumed:
		return "Consumed"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateConsumed || s == StateAborted
}

// A Session holds the state of one party for one round of key exchange. Each
// stage method moves it forward by exactly one state; calling a stage out of
// order fails with ErrInvalidTransition and leaves the session untouched. Any
// other failure aborts the session, so no partial key survives it.
//
// A Session is safe for concurrent use, but its stages are inherently
// sequential.
type Session struct {
	mu sync.Mutex

	role   Role
	length int
	state  State

	// bits holds the local bit values: prepared bits for the sender,
	// measured outcomes for the receiver.
	bits          bitmap.Dense
	senderBases   photon.Bases
	receiverBases photon.Bases
	siftedKey     bitmap.Dense
	finalKey      bitmap.Dense

	// Retained after the arrays are released.
	siftedBits int
	keyBits    int
	keyBias    float64
}

// NewSession returns a session in StateInitialized for an exchange of length
// qubits, which must be in [1, MaxLength].
func NewSession(length int, role Role) (*Session, error) {
	if err := photon.CheckLength(length); err != nil {
		return nil, err
	}
	return &Session{role: role, length: length}, nil
}

// Role returns the party this session belongs to.
func (s *Session) Role() Role {
	return s.role
}

// Length returns the number of qubits exchanged.
func (s *Session) Length() int {
	return s.length
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PublishBases records the local bit values and both parties' basis
// sequences. All three must have exactly Length() entries.
func (s *Session) PublishBases(bits bitmap.Dense, senderBases, receiverBases photon.Bases) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateInitialized, "publish bases"); err != nil {
		return err
	}
	if bits.Size() != s.length || len(senderBases) != s.length || len(receiverBases) != s.length {
		return s.fail("publish bases", fmt.Errorf("%w: want %d, got bits %d, sender bases %d, receiver bases %d",
			ErrMismatchedLengths, s.length, bits.Size(), len(senderBases), len(receiverBases)))
	}
	for _, bs := range []photon.Bases{senderBases, receiverBases} {
		if _, err := bs.Bitmap(); err != nil {
			return s.fail("publish bases", err)
		}
	}
	s.bits = bits.Clone()
	s.senderBases = append(photon.Bases(nil), senderBases...)
	s.receiverBases = append(photon.Bases(nil), receiverBases...)
	s.state = StateBasesPublished
	return nil
}

// Sift reconciles bases, populating the sifted key.
func (s *Session) Sift() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sift()
}

// Amplify runs privacy amplification over the sifted key. An empty sifted key
// aborts the session with ErrEmptyKey.
func (s *Session) Amplify() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.amplify()
}

// Finalize marks the final key ready for its single use.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalize()
}

// Reconcile runs Sift, Amplify and Finalize in order, without letting any
// other call observe the intermediate states.
func (s *Session) Reconcile() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconcile()
}

// ReconcileKey is Reconcile, additionally returning a copy of the final key
// taken before any other call can consume it.
func (s *Session) ReconcileKey() (bitmap.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.reconcile(); err != nil {
		return bitmap.Empty(), err
	}
	return s.finalKey.Clone(), nil
}

func (s *Session) reconcile() error {
	for _, stage := range []func() error{s.sift, s.amplify, s.finalize} {
		if err := stage(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sift() error {
	if err := s.expect(StateBasesPublished, "sift"); err != nil {
		return err
	}
	sifted, err := Sift(s.senderBases, s.receiverBases, s.bits)
	if err != nil {
		return s.fail("sift", err)
	}
	s.siftedKey = sifted
	s.siftedBits = sifted.Size()
	s.state = StateSifted
	return nil
}

func (s *Session) amplify() error {
	if err := s.expect(StateSifted, "amplify"); err != nil {
		return err
	}
	if s.siftedKey.Size() == 0 {
		return s.fail("amplify", ErrEmptyKey)
	}
	s.finalKey = Amplify(s.siftedKey)
	s.keyBits = s.finalKey.Size()
	s.keyBias = bias(s.finalKey)
	s.state = StateAmplified
	return nil
}

func (s *Session) finalize() error {
	if err := s.expect(StateAmplified, "finalize"); err != nil {
		return err
	}
	if s.finalKey.Size() == 0 {
		return s.fail("finalize", ErrEmptyKey)
	}
	s.state = StateReady
	return nil
}

// FinalKey returns a copy of the final key. It is only available in
// StateReady and does not consume the session.
func (s *Session) FinalKey() (bitmap.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateReady, "final key"); err != nil {
		return bitmap.Empty(), err
	}
	return s.finalKey.Clone(), nil
}

// Encrypt applies the final key to plain and consumes the session.
func (s *Session) Encrypt(plain bitmap.Dense) (bitmap.Dense, error) {
	return s.useKey("encrypt", plain)
}

// Decrypt applies the final key to cipher and consumes the session.
func (s *Session) Decrypt(cipher bitmap.Dense) (bitmap.Dense, error) {
	return s.useKey("decrypt", cipher)
}

func (s *Session) useKey(op string, in bitmap.Dense) (bitmap.Dense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return bitmap.Empty(), qerrors.NewStageError(op, fmt.Errorf("%w: session is %v", ErrStaleSession, s.state))
	}
	if err := s.expect(StateReady, op); err != nil {
		return bitmap.Empty(), err
	}
	out, err := Encrypt(s.finalKey, in)
	if err != nil {
		return bitmap.Empty(), s.fail(op, err)
	}
	s.release()
	s.state = StateConsumed
	return out, nil
}

// Abort moves a non-terminal session to StateAborted and releases its arrays.
// Aborting a terminal session is a no-op. It reports whether the session was
// aborted by this call.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.release()
	s.state = StateAborted
	return true
}

// Stats reports what the session has derived so far. Key material is never
// included.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Length:     s.length,
		SiftedBits: s.siftedBits,
		KeyBits:    s.keyBits,
		KeyBias:    s.keyBias,
	}
	if s.length > 0 {
		st.SiftRatio = float64(s.siftedBits) / float64(s.length)
	}
	return st
}

func (s *Session) expect(want State, stage string) error {
	if s.state != want {
		return qerrors.NewStageError(stage, fmt.Errorf("%w: in state %v, want %v", ErrInvalidTransition, s.state, want))
	}
	return nil
}

func (s *Session) fail(stage string, err error) error {
	s.release()
	s.state = StateAborted
	return qerrors.NewStageError(stage, err)
}

func (s *Session) release() {
	s.bits.Zero()
	s.siftedKey.Zero()
	s.finalKey.Zero()
	s.senderBases = nil
	s.receiverBases = nil
}

// bias is the mean bit value of key; 0.5 for a balanced key.
func bias(key bitmap.Dense) float64 {
	if key.Size() == 0 {
		return 0
	}
	xs := make([]float64, key.Size())
	for i := range xs {
		if key.Get(i) {
			xs[i] = 1
		}
	}
	return stat.Mean(xs, nil)
}
