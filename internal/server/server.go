// Package server exposes the exchange manager over HTTP with JSON bodies.
//
// Bit arrays travel as JSON arrays of 0/1 integers and bases as arrays of
// "+"/"x" strings.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/alan-christopher/bb84chat/bb84"
	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/photon"
	"github.com/alan-christopher/bb84chat/internal/exchange"
	"github.com/alan-christopher/bb84chat/internal/store"
)

const maxBodyBytes = 8 << 20

// Manager is the subset of *exchange.Manager the server drives.
type Manager interface {
	InitiateExchange(ctx context.Context, length int) (exchange.Initiated, error)
	ReconcileAndFinalize(ctx context.Context, id uuid.UUID, senderBits bitmap.Dense, senderBases photon.Bases) (exchange.Finalized, error)
	EncryptMessage(ctx context.Context, id uuid.UUID, plaintext string) (bitmap.Dense, error)
	ReceiveMessage(ctx context.Context, id uuid.UUID, cipherBits bitmap.Dense) (string, error)
	Abort(ctx context.Context, id uuid.UUID) error
}

// Server routes HTTP requests to a Manager.
type Server struct {
	mgr   Manager
	store store.MessageStore
	log   *logrus.Entry
	now   func() time.Time
	mux   *http.ServeMux
}

// New returns a Server. Received messages are saved to st.
func New(mgr Manager, st store.MessageStore, log *logrus.Entry) *Server {
	s := &Server{
		mgr:   mgr,
		store: st,
		log:   log.WithField("component", "server"),
		now:   time.Now,
		mux:   http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.handleHome)
	s.mux.HandleFunc("POST /v1/exchanges", s.handleInitiate)
	s.mux.HandleFunc("POST /v1/exchanges/{id}/reconcile", s.handleReconcile)
	s.mux.HandleFunc("POST /v1/exchanges/{id}/encrypt", s.handleEncrypt)
	s.mux.HandleFunc("POST /v1/exchanges/{id}/messages", s.handleMessage)
	s.mux.HandleFunc("DELETE /v1/exchanges/{id}", s.handleAbort)
	s.mux.HandleFunc("GET /v1/messages", s.handleListMessages)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rw, r)
	s.log.WithFields(logrus.Fields{
		"method":  r.Method,
		"path":    r.URL.Path,
		"status":  rw.status,
		"elapsed": s.now().Sub(start),
	}).Debug("request")
}

type initiateRequest struct {
	Length int `json:"length"`
}

type initiateResponse struct {
	SessionID     uuid.UUID `json:"session_id"`
	ReceiverBases []string  `json:"receiver_bases"`
}

type reconcileRequest struct {
	SenderBits  []int    `json:"sender_bits"`
	SenderBases []string `json:"sender_bases"`
}

type reconcileResponse struct {
	Status         string  `json:"status"`
	FinalKeyLength int     `json:"final_key_length"`
	SiftRatio      float64 `json:"sift_ratio"`
	FinalKey       []int   `json:"final_key,omitempty"`
}

type encryptRequest struct {
	Plaintext string `json:"plaintext"`
}

type encryptResponse struct {
	CipherBits []int `json:"cipher_bits"`
}

type messageRequest struct {
	CipherBits []int  `json:"cipher_bits"`
	Sender     string `json:"sender,omitempty"`
	Receiver   string `json:"receiver,omitempty"`
}

type messageResponse struct {
	Status    string    `json:"status"`
	MessageID uuid.UUID `json:"message_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "BB84 key exchange server")
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.mgr.InitiateExchange(r.Context(), req.Length)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, initiateResponse{
		SessionID:     res.SessionID,
		ReceiverBases: res.ReceiverBases.Strings(),
	})
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if !s.decode(w, r, &req) {
		return
	}
	bits, err := bitmap.FromBits(req.SenderBits)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	bases, err := photon.ParseBases(req.SenderBases)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := s.mgr.ReconcileAndFinalize(r.Context(), id, bits, bases)
	if err != nil {
		s.fail(w, err)
		return
	}
	resp := reconcileResponse{
		Status:         "success",
		FinalKeyLength: res.FinalKeyLength,
		SiftRatio:      res.Stats.SiftRatio,
	}
	if res.FinalKey.Size() > 0 {
		resp.FinalKey = res.FinalKey.Ints()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req encryptRequest
	if !s.decode(w, r, &req) {
		return
	}
	cipher, err := s.mgr.EncryptMessage(r.Context(), id, req.Plaintext)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, encryptResponse{CipherBits: cipher.Ints()})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if !s.decode(w, r, &req) {
		return
	}
	cipher, err := bitmap.FromBits(req.CipherBits)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	text, err := s.mgr.ReceiveMessage(r.Context(), id, cipher)
	if err != nil {
		s.fail(w, err)
		return
	}
	msg := store.Message{
		ID:         uuid.New(),
		SessionID:  id,
		Sender:     req.Sender,
		Receiver:   req.Receiver,
		Text:       text,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.store.Save(r.Context(), msg); err != nil {
		s.log.WithError(err).WithField("session", id).Error("saving message")
		s.writeError(w, http.StatusInternalServerError, errors.New("could not store message"))
		return
	}
	s.writeJSON(w, http.StatusCreated, messageResponse{Status: "success", MessageID: msg.ID})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if err := s.mgr.Abort(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.store.List(r.Context())
	if err != nil {
		s.log.WithError(err).Error("listing messages")
		s.writeError(w, http.StatusInternalServerError, errors.New("could not list messages"))
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %q", exchange.ErrSessionNotFound, r.PathValue("id")))
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return false
	}
	return true
}

// fail maps err onto an HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	s.writeError(w, statusFor(err), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, bb84.ErrStaleSession),
		errors.Is(err, bb84.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, bb84.ErrInvalidLength),
		errors.Is(err, bb84.ErrInvalidBasisSymbol),
		errors.Is(err, bb84.ErrMismatchedLengths),
		errors.Is(err, bb84.ErrInvalidMessage),
		errors.Is(err, bb84.ErrEmptyKey),
		errors.Is(err, bitmap.ErrInvalidBit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.WithError(err).Error("internal error")
		msg = http.StatusText(status)
	}
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("writing response")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
