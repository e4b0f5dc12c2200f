// Package store persists messages received over a completed key exchange.
// Only decrypted plaintext is kept; keys and ciphertext never reach it.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is one decrypted message.
type Message struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Sender     string    `json:"sender,omitempty"`
	Receiver   string    `json:"receiver,omitempty"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageStore saves and lists messages.
type MessageStore interface {
	Save(ctx context.Context, m Message) error
	// List returns every saved message, oldest first.
	List(ctx context.Context) ([]Message, error)
}
