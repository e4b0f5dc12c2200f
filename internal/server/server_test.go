package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	"github.com/alan-christopher/bb84chat/internal/exchange"
	"github.com/alan-christopher/bb84chat/internal/store"
)

type fixture struct {
	srv   *httptest.Server
	store *store.MemoryStore
}

func newFixture(t *testing.T, opts exchange.Options) *fixture {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)
	opts.Logger = log
	st := store.NewMemoryStore()
	srv := httptest.NewServer(New(exchange.NewManager(opts), st, log))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("bugged test setup: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := f.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestWorkedExampleOverHTTP(t *testing.T) {
	f := newFixture(t, exchange.Options{
		Rand:      entropy.FromReader(bytes.NewReader([]byte{0x08})),
		ExposeKey: true,
	})

	var started initiateResponse
	if code := f.do(t, "POST", "/v1/exchanges", initiateRequest{Length: 4}, &started); code != http.StatusCreated {
		t.Fatalf("initiate status %d", code)
	}
	if want := []string{"+", "+", "+", "x"}; strings.Join(started.ReceiverBases, "") != strings.Join(want, "") {
		t.Fatalf("receiver bases %v, want %v", started.ReceiverBases, want)
	}
	base := "/v1/exchanges/" + started.SessionID.String()

	var rec reconcileResponse
	code := f.do(t, "POST", base+"/reconcile", reconcileRequest{
		SenderBits:  []int{1, 0, 1, 1},
		SenderBases: []string{"+", "x", "+", "x"},
	}, &rec)
	if code != http.StatusOK {
		t.Fatalf("reconcile status %d", code)
	}
	want := reconcileResponse{Status: "success", FinalKeyLength: 1, SiftRatio: 0.75, FinalKey: []int{0}}
	if diff := pretty.Diff(rec, want); len(diff) > 0 {
		t.Errorf("reconcile response mismatch: %v", diff)
	}

	// "A" under the all-zero key is "A" itself.
	cipher := bitmap.FromBytesMSB([]byte("A")).Ints()
	var msg messageResponse
	if code := f.do(t, "POST", base+"/messages", messageRequest{CipherBits: cipher, Sender: "alice"}, &msg); code != http.StatusCreated {
		t.Fatalf("message status %d", code)
	}
	msgs, err := f.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "A" || msgs[0].ID != msg.MessageID || msgs[0].SessionID != started.SessionID {
		t.Errorf("stored messages %# v", pretty.Formatter(msgs))
	}

	if code := f.do(t, "POST", base+"/messages", messageRequest{CipherBits: cipher}, nil); code != http.StatusConflict {
		t.Errorf("second message status %d, want %d", code, http.StatusConflict)
	}

	var listed []store.Message
	if code := f.do(t, "GET", "/v1/messages", nil, &listed); code != http.StatusOK || len(listed) != 1 {
		t.Errorf("list status %d with %d messages", code, len(listed))
	}
}

func TestEncryptOverHTTP(t *testing.T) {
	f := newFixture(t, exchange.Options{Rand: entropy.NewPseudo(1), ExposeKey: true})
	var started initiateResponse
	if code := f.do(t, "POST", "/v1/exchanges", initiateRequest{Length: 64}, &started); code != http.StatusCreated {
		t.Fatalf("initiate status %d", code)
	}
	bits := make([]int, 64)
	for i := range bits {
		bits[i] = i % 3 % 2
	}
	base := "/v1/exchanges/" + started.SessionID.String()
	var rec reconcileResponse
	if code := f.do(t, "POST", base+"/reconcile", reconcileRequest{SenderBits: bits, SenderBases: started.ReceiverBases}, &rec); code != http.StatusOK {
		t.Fatalf("reconcile status %d", code)
	}
	var enc encryptResponse
	if code := f.do(t, "POST", base+"/encrypt", encryptRequest{Plaintext: "hi there"}, &enc); code != http.StatusOK {
		t.Fatalf("encrypt status %d", code)
	}
	key, err := bitmap.FromBits(rec.FinalKey)
	if err != nil {
		t.Fatalf("FromBits(key): %v", err)
	}
	cipher, err := bitmap.FromBits(enc.CipherBits)
	if err != nil {
		t.Fatalf("FromBits(cipher): %v", err)
	}
	got, err := exchange.DecryptMessage(key, cipher)
	if err != nil {
		t.Fatalf("DecryptMessage: %v", err)
	}
	if got != "hi there" {
		t.Errorf("decrypted %q", got)
	}
	if code := f.do(t, "POST", base+"/encrypt", encryptRequest{Plaintext: "again"}, nil); code != http.StatusConflict {
		t.Errorf("second encrypt status %d, want %d", code, http.StatusConflict)
	}
}

func TestStatusCodes(t *testing.T) {
	f := newFixture(t, exchange.Options{Rand: entropy.NewPseudo(2)})
	var started initiateResponse
	if code := f.do(t, "POST", "/v1/exchanges", initiateRequest{Length: 4}, &started); code != http.StatusCreated {
		t.Fatalf("initiate status %d", code)
	}
	live := "/v1/exchanges/" + started.SessionID.String()
	unknown := "/v1/exchanges/" + uuid.New().String()

	tcs := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"zero length", "POST", "/v1/exchanges", initiateRequest{Length: 0}, http.StatusBadRequest},
		{"length above limit", "POST", "/v1/exchanges", initiateRequest{Length: 10000000000}, http.StatusBadRequest},
		{"length near int max", "POST", "/v1/exchanges", initiateRequest{Length: 1 << 62}, http.StatusBadRequest},
		{"malformed body", "POST", "/v1/exchanges", "not an object", http.StatusBadRequest},
		{"unknown session", "POST", unknown + "/reconcile", reconcileRequest{SenderBits: []int{1}, SenderBases: []string{"+"}}, http.StatusNotFound},
		{"bad session id", "POST", "/v1/exchanges/xyz/encrypt", encryptRequest{Plaintext: "x"}, http.StatusNotFound},
		{"bad bit", "POST", live + "/reconcile", reconcileRequest{SenderBits: []int{1, 2, 0, 1}, SenderBases: []string{"+", "+", "+", "+"}}, http.StatusBadRequest},
		{"bad basis", "POST", live + "/reconcile", reconcileRequest{SenderBits: []int{1, 0, 0, 1}, SenderBases: []string{"+", "o", "+", "+"}}, http.StatusBadRequest},
		{"encrypt before ready", "POST", live + "/encrypt", encryptRequest{Plaintext: "x"}, http.StatusConflict},
		{"mismatched lengths", "POST", live + "/reconcile", reconcileRequest{SenderBits: []int{1}, SenderBases: []string{"+"}}, http.StatusBadRequest},
		{"aborted by failure", "POST", live + "/encrypt", encryptRequest{Plaintext: "x"}, http.StatusConflict},
		{"abort", "DELETE", live, nil, http.StatusNoContent},
		{"abort unknown", "DELETE", unknown, nil, http.StatusNotFound},
		{"wrong method", "GET", "/v1/exchanges", nil, http.StatusMethodNotAllowed},
		{"unknown path", "GET", "/nope", nil, http.StatusNotFound},
	}
	// Cases run in order against the same exchange.
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if code := f.do(t, tc.method, tc.path, tc.body, nil); code != tc.status {
				t.Errorf("%s %s status %d, want %d", tc.method, tc.path, code, tc.status)
			}
		})
	}
}

type failingStore struct{ store.MemoryStore }

func (failingStore) Save(context.Context, store.Message) error { return errors.New("disk full") }

func TestStoreFailureIs500(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	log := logrus.NewEntry(logger)
	mgr := exchange.NewManager(exchange.Options{Logger: log, Rand: entropy.NewPseudo(4)})
	srv := httptest.NewServer(New(mgr, &failingStore{}, log))
	defer srv.Close()

	ctx := context.Background()
	ex, err := mgr.InitiateExchange(ctx, 16)
	if err != nil {
		t.Fatalf("InitiateExchange: %v", err)
	}
	if _, err := mgr.ReconcileAndFinalize(ctx, ex.SessionID, bitmap.NewDense(nil, 16), ex.ReceiverBases); err != nil {
		t.Fatalf("ReconcileAndFinalize: %v", err)
	}
	body, _ := json.Marshal(messageRequest{CipherBits: bitmap.FromBytesMSB([]byte("x")).Ints()})
	resp, err := srv.Client().Post(srv.URL+"/v1/exchanges/"+ex.SessionID.String()+"/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status %d, want 500", resp.StatusCode)
	}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		t.Fatalf("decoding error: %v", err)
	}
	if strings.Contains(er.Error, "disk full") {
		t.Errorf("internal error detail leaked to client: %q", er.Error)
	}
}

func TestStatusFor(t *testing.T) {
	tcs := []struct {
		err  error
		want int
	}{
		{exchange.ErrFreshExchangeRequired, http.StatusConflict},
		{bb84.ErrStaleSession, http.StatusConflict},
		{bb84.ErrEmptyKey, http.StatusBadRequest},
		{bb84.ErrInvalidMessage, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tcs {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) == %d, want %d", tc.err, got, tc.want)
		}
	}
}
