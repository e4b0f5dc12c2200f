// Package exchange serves many independent BB84 key exchanges at once. Each
// exchange owns its own bb84.Session, keyed by a random identifier, and lives
// only until its key has been used or its deadline passes.
package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	"github.com/alan-christopher/bb84chat/bb84/photon"
	qerrors "github.com/alan-christopher/bb84chat/internal/errors"
)

// Errors returned by the manager in addition to those of package bb84.
var (
	ErrSessionNotFound       = qerrors.ErrSessionNotFound
	ErrFreshExchangeRequired = qerrors.ErrFreshExchangeRequired
)

const (
	DefaultSessionTTL   = 2 * time.Minute
	DefaultReapInterval = 15 * time.Second
	DefaultMaxLength    = 1 << 20
)

// Options configures a Manager. The zero value is usable.
type Options struct {
	// SessionTTL bounds how long an exchange may sit idle before it is
	// aborted. The clock restarts once the key is ready, and a ready key left
	// unused for a further SessionTTL is discarded too. Defaults to
	// DefaultSessionTTL.
	SessionTTL time.Duration

	// MaxLength caps the qubit count InitiateExchange accepts. Defaults to
	// DefaultMaxLength and never exceeds bb84.MaxLength.
	MaxLength int

	// ReapInterval is how often Run sweeps expired exchanges. Defaults to
	// DefaultReapInterval.
	ReapInterval time.Duration

	// ExposeKey returns the final key from ReconcileAndFinalize. Only useful
	// for demonstrations, since anyone who sees the response learns the key.
	ExposeKey bool

	// Rand supplies the receiver's bases. Defaults to entropy.Secure.
	Rand entropy.Source

	Logger *logrus.Entry
	Tracer trace.Tracer

	// now is replaced by tests.
	now func() time.Time
}

// Initiated is the result of InitiateExchange.
type Initiated struct {
	SessionID     uuid.UUID
	ReceiverBases photon.Bases
}

// Finalized is the result of ReconcileAndFinalize. FinalKey is empty unless
// the manager was configured with ExposeKey.
type Finalized struct {
	FinalKeyLength int
	FinalKey       bitmap.Dense
	Stats          bb84.Stats
}

type managedSession struct {
	sess          *bb84.Session
	receiverBases photon.Bases
	deadline      time.Time
}

// Manager holds the live exchanges. It is safe for concurrent use; calls on
// different exchanges never contend beyond the map lookup.
type Manager struct {
	opts   Options
	log    *logrus.Entry
	tracer trace.Tracer

	mu       sync.RWMutex
	sessions map[uuid.UUID]*managedSession
}

// NewManager returns a Manager configured by opts.
func NewManager(opts Options) *Manager {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = DefaultReapInterval
	}
	if opts.MaxLength <= 0 {
		opts.MaxLength = DefaultMaxLength
	}
	if opts.MaxLength > bb84.MaxLength {
		opts.MaxLength = bb84.MaxLength
	}
	if opts.Rand == nil {
		opts.Rand = entropy.Secure
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = defaultTracer()
	}
	return &Manager{
		opts:     opts,
		log:      log.WithField("component", "exchange"),
		tracer:   tracer,
		sessions: make(map[uuid.UUID]*managedSession),
	}
}

// InitiateExchange opens a new exchange of length qubits and returns the
// receiver's basis choices.
func (m *Manager) InitiateExchange(ctx context.Context, length int) (res Initiated, err error) {
	_, span, end := startSpan(ctx, m.tracer, "exchange.initiate", attribute.Int("bb84.length", length))
	defer func() { end(err) }()

	if length > m.opts.MaxLength {
		return Initiated{}, fmt.Errorf("%w: %d exceeds limit of %d", bb84.ErrInvalidLength, length, m.opts.MaxLength)
	}
	sess, err := bb84.NewSession(length, bb84.RoleSender)
	if err != nil {
		return Initiated{}, err
	}
	bases, err := photon.ChooseBases(m.opts.Rand, length)
	if err != nil {
		return Initiated{}, fmt.Errorf("choosing receiver bases: %w", err)
	}
	id := uuid.New()
	m.mu.Lock()
	m.sessions[id] = &managedSession{
		sess:          sess,
		receiverBases: bases,
		deadline:      m.opts.now().Add(m.opts.SessionTTL),
	}
	m.mu.Unlock()

	span.SetAttributes(attribute.String("bb84.session", id.String()))
	m.log.WithFields(logrus.Fields{"session": id, "length": length}).Info("exchange initiated")
	return Initiated{SessionID: id, ReceiverBases: append(photon.Bases(nil), bases...)}, nil
}

// ReconcileAndFinalize records the sender's bits and bases, then sifts,
// amplifies and finalizes the key. Any failure aborts the exchange.
func (m *Manager) ReconcileAndFinalize(ctx context.Context, id uuid.UUID, senderBits bitmap.Dense, senderBases photon.Bases) (res Finalized, err error) {
	_, span, end := startSpan(ctx, m.tracer, "exchange.reconcile", attribute.String("bb84.session", id.String()))
	defer func() { end(err) }()

	ms, err := m.lookup(id)
	if err != nil {
		return Finalized{}, err
	}
	log := m.log.WithField("session", id)
	if err := ms.sess.PublishBases(senderBits, senderBases, ms.receiverBases); err != nil {
		log.WithError(err).Warn("publishing bases failed")
		return Finalized{}, err
	}
	if m.opts.ExposeKey {
		res.FinalKey, err = ms.sess.ReconcileKey()
	} else {
		err = ms.sess.Reconcile()
	}
	if err != nil {
		log.WithError(err).Warn("reconciliation failed")
		return Finalized{}, err
	}
	m.mu.Lock()
	ms.deadline = m.opts.now().Add(m.opts.SessionTTL)
	m.mu.Unlock()

	st := ms.sess.Stats()
	res.FinalKeyLength, res.Stats = st.KeyBits, st
	span.SetAttributes(
		attribute.Int("bb84.sifted_bits", st.SiftedBits),
		attribute.Int("bb84.key_bits", st.KeyBits))
	log.WithFields(logrus.Fields{
		"sifted_bits": st.SiftedBits,
		"key_bits":    st.KeyBits,
		"key_bias":    st.KeyBias,
	}).Info("exchange ready")
	return res, nil
}

// EncryptMessage encrypts plaintext under the exchange's key, consuming it.
func (m *Manager) EncryptMessage(ctx context.Context, id uuid.UUID, plaintext string) (cipher bitmap.Dense, err error) {
	_, span, end := startSpan(ctx, m.tracer, "exchange.encrypt", attribute.String("bb84.session", id.String()))
	defer func() { end(err) }()

	plain, err := bb84.PackText(plaintext)
	if err != nil {
		return bitmap.Empty(), err
	}
	cipher, err = m.useKey(id, "encrypt", plain, (*bb84.Session).Encrypt)
	if err != nil {
		return bitmap.Empty(), err
	}
	span.SetAttributes(attribute.Int("bb84.message_bits", cipher.Size()))
	return cipher, nil
}

// ReceiveMessage decrypts cipherBits under the exchange's key, consuming it.
func (m *Manager) ReceiveMessage(ctx context.Context, id uuid.UUID, cipherBits bitmap.Dense) (plaintext string, err error) {
	_, _, end := startSpan(ctx, m.tracer, "exchange.receive",
		attribute.String("bb84.session", id.String()),
		attribute.Int("bb84.message_bits", cipherBits.Size()))
	defer func() { end(err) }()

	plain, err := m.useKey(id, "decrypt", cipherBits, (*bb84.Session).Decrypt)
	if err != nil {
		return "", err
	}
	return bb84.UnpackText(plain), nil
}

// DecryptMessage decrypts cipherBits with a key the caller already holds. It
// touches no exchange state.
func DecryptMessage(finalKey, cipherBits bitmap.Dense) (string, error) {
	plain, err := bb84.Decrypt(finalKey, cipherBits)
	if err != nil {
		return "", err
	}
	return bb84.UnpackText(plain), nil
}

// Abort cancels an exchange. Aborting a finished exchange is a no-op.
func (m *Manager) Abort(ctx context.Context, id uuid.UUID) (err error) {
	_, _, end := startSpan(ctx, m.tracer, "exchange.abort", attribute.String("bb84.session", id.String()))
	defer func() { end(err) }()

	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrSessionNotFound, id)
	}
	if ms.sess.Abort() {
		m.log.WithField("session", id).Info("exchange aborted")
	}
	return nil
}

// Len returns the number of exchanges held, including finished ones that have
// not been reaped yet.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Run reaps expired exchanges every ReapInterval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Reap aborts live exchanges whose deadline has passed, including ready ones
// whose key went unused, and forgets finished ones that have outlived a
// further SessionTTL. It returns the number of
// exchanges aborted.
func (m *Manager) Reap() int {
	now := m.opts.now()
	aborted, removed := 0, 0
	m.mu.Lock()
	for id, ms := range m.sessions {
		if now.Before(ms.deadline) {
			continue
		}
		if ms.sess.State().Terminal() {
			delete(m.sessions, id)
			removed++
			continue
		}
		if ms.sess.Abort() {
			aborted++
		}
		// Keep the tombstone so late callers learn to start over.
		ms.deadline = now.Add(m.opts.SessionTTL)
	}
	m.mu.Unlock()
	if aborted > 0 || removed > 0 {
		m.log.WithFields(logrus.Fields{"aborted": aborted, "removed": removed}).Debug("reaped exchanges")
	}
	return aborted
}

// lookup returns a live exchange, aborting it first if its deadline passed.
func (m *Manager) lookup(id uuid.UUID) (*managedSession, error) {
	m.mu.RLock()
	ms, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotFound, id)
	}
	if m.expired(ms) && ms.sess.Abort() {
		m.log.WithField("session", id).Info("exchange timed out")
	}
	if ms.sess.State() == bb84.StateAborted {
		return nil, ErrFreshExchangeRequired
	}
	return ms, nil
}

func (m *Manager) expired(ms *managedSession) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.opts.now().Before(ms.deadline)
}

func (m *Manager) useKey(id uuid.UUID, op string, in bitmap.Dense, use func(*bb84.Session, bitmap.Dense) (bitmap.Dense, error)) (bitmap.Dense, error) {
	ms, err := m.lookup(id)
	if err != nil {
		return bitmap.Empty(), err
	}
	out, err := use(ms.sess, in)
	if err != nil {
		if ms.sess.State() == bb84.StateAborted {
			return bitmap.Empty(), fmt.Errorf("%w: %v", ErrFreshExchangeRequired, err)
		}
		return bitmap.Empty(), err
	}
	m.mu.Lock()
	ms.deadline = m.opts.now().Add(m.opts.SessionTTL)
	m.mu.Unlock()
	m.log.WithFields(logrus.Fields{"session": id, "op": op, "bits": out.Size()}).Info("key consumed")
	return out, nil
}
