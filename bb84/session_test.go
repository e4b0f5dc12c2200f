package bb84

import (
	"errors"
	"sync"
	"testing"

	"github.com/kr/pretty"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	qerrors "github.com/alan-christopher/bb84chat/internal/errors"
)

func workedSession(t *testing.T) *Session {
	s, err := NewSession(4, RoleSender)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	err = s.PublishBases(mustBits(t, "1011"),
		mustBases(t, "+", "x", "+", "x"),
		mustBases(t, "+", "+", "+", "x"))
	if err != nil {
		t.Fatalf("PublishBases: %v", err)
	}
	return s
}

func TestNewSessionRejectsLength(t *testing.T) {
	for _, n := range []int{0, -3, MaxLength + 1} {
		if _, err := NewSession(n, RoleSender); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("NewSession(%d) error == %v, want ErrInvalidLength", n, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := workedSession(t)
	steps := []struct {
		name  string
		stage func() error
		state State
	}{
		{"sift", s.Sift, StateSifted},
		{"amplify", s.Amplify, StateAmplified},
		{"finalize", s.Finalize, StateReady},
	}
	for _, st := range steps {
		if err := st.stage(); err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if got := s.State(); got != st.state {
			t.Fatalf("after %s state == %v, want %v", st.name, got, st.state)
		}
	}

	key, err := s.FinalKey()
	if err != nil {
		t.Fatalf("FinalKey: %v", err)
	}
	if want := mustBits(t, "0"); !bitmap.Equal(key, want) {
		t.Errorf("FinalKey == %v, want %v", key, want)
	}

	want := Stats{Length: 4, SiftedBits: 3, KeyBits: 1, SiftRatio: 0.75, KeyBias: 0}
	if got := s.Stats(); got != want {
		t.Errorf("Stats mismatch: %v", pretty.Diff(got, want))
	}

	plain, err := PackText("A")
	if err != nil {
		t.Fatalf("PackText: %v", err)
	}
	cipher, err := s.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !bitmap.Equal(cipher, plain) {
		t.Errorf("Encrypt with an all-zero key == %v, want %v", cipher, plain)
	}
	if got := s.State(); got != StateConsumed {
		t.Errorf("state after Encrypt == %v, want Consumed", got)
	}
	if got := s.Stats(); got != want {
		t.Errorf("Stats changed after consumption: %v", pretty.Diff(got, want))
	}
}

func TestSessionSingleUse(t *testing.T) {
	s := workedSession(t)
	if err := s.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if _, err := s.Encrypt(mustBits(t, "1010")); err != nil {
		t.Fatalf("first Encrypt: %v", err)
	}
	_, err := s.Decrypt(mustBits(t, "1010"))
	if !errors.Is(err, ErrStaleSession) {
		t.Errorf("second use error == %v, want ErrStaleSession", err)
	}
	if _, err := s.FinalKey(); err == nil {
		t.Errorf("FinalKey on a consumed session succeeded")
	}
}

func TestSessionReconcileKeySurvivesConsumption(t *testing.T) {
	s := workedSession(t)
	plain := mustBits(t, "0110")
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			s.Encrypt(plain)
		}()
	}
	close(start)
	key, err := s.ReconcileKey()
	wg.Wait()
	if err != nil {
		t.Fatalf("ReconcileKey: %v", err)
	}
	if want := mustBits(t, "0"); !bitmap.Equal(key, want) {
		t.Errorf("ReconcileKey == %v, want %v", key, want)
	}
	if st := s.State(); st != StateReady && st != StateConsumed {
		t.Errorf("state after ReconcileKey == %v, want Ready or Consumed", st)
	}
}

func TestSessionOutOfOrder(t *testing.T) {
	tcs := []struct {
		name  string
		setup func(*Session) error
		stage func(*Session) error
	}{
		{"sift before publish", nil, (*Session).Sift},
		{"amplify before sift", nil, (*Session).Amplify},
		{"finalize before amplify", (*Session).Sift, (*Session).Finalize},
		{"sift twice", (*Session).Sift, (*Session).Sift},
		{"encrypt before ready", (*Session).Sift, func(s *Session) error {
			_, err := s.Encrypt(bitmap.Empty())
			return err
		}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			var s *Session
			if tc.setup == nil {
				var err error
				if s, err = NewSession(4, RoleReceiver); err != nil {
					t.Fatalf("NewSession: %v", err)
				}
			} else {
				s = workedSession(t)
				if err := tc.setup(s); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}
			before := s.State()
			err := tc.stage(s)
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("error == %v, want ErrInvalidTransition", err)
			}
			var se *qerrors.StageError
			if !errors.As(err, &se) {
				t.Errorf("error %v is not a StageError", err)
			}
			if after := s.State(); after != before {
				t.Errorf("state moved from %v to %v", before, after)
			}
		})
	}
}

func TestSessionPublishMismatchAborts(t *testing.T) {
	s, err := NewSession(4, RoleSender)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	err = s.PublishBases(mustBits(t, "101"),
		mustBases(t, "+", "x", "+", "x"),
		mustBases(t, "+", "+", "+", "x"))
	if !errors.Is(err, ErrMismatchedLengths) {
		t.Errorf("PublishBases error == %v, want ErrMismatchedLengths", err)
	}
	if got := s.State(); got != StateAborted {
		t.Errorf("state == %v, want Aborted", got)
	}
}

func TestSessionEmptySiftAborts(t *testing.T) {
	s, err := NewSession(2, RoleReceiver)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	err = s.PublishBases(mustBits(t, "10"), mustBases(t, "+", "+"), mustBases(t, "x", "x"))
	if err != nil {
		t.Fatalf("PublishBases: %v", err)
	}
	if err := s.Reconcile(); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("Reconcile error == %v, want ErrEmptyKey", err)
	}
	if got := s.State(); got != StateAborted {
		t.Errorf("state == %v, want Aborted", got)
	}
}

func TestSessionAbort(t *testing.T) {
	s := workedSession(t)
	if err := s.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !s.Abort() {
		t.Fatalf("Abort on a ready session returned false")
	}
	if s.Abort() {
		t.Errorf("second Abort returned true")
	}
	if _, err := s.Encrypt(mustBits(t, "1")); !errors.Is(err, ErrStaleSession) {
		t.Errorf("Encrypt after Abort error == %v, want ErrStaleSession", err)
	}
}

func TestSessionConcurrentUseConsumesOnce(t *testing.T) {
	s := workedSession(t)
	if err := s.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Encrypt(mustBits(t, "1100"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else if errors.Is(err, ErrStaleSession) {
				errs++
			}
		}()
	}
	wg.Wait()
	if oks != 1 || errs != 15 {
		t.Errorf("got %d successes and %d stale errors, want 1 and 15", oks, errs)
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[State]string{
		StateInitialized:    "Initialized",
		StateBasesPublished: "BasesPublished",
		StateReady:          "Ready",
		StateAborted:        "Aborted",
		State(42):           "Unknown",
	} {
		if got := st.String(); got != want {
			t.Errorf("State(%d).String() == %q, want %q", int(st), got, want)
		}
	}
}
