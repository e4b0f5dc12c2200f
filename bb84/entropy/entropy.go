// Package entropy provides the randomness sources consumed by a BB84 exchange:
// the sender's bits and bases, the receiver's bases, and the outcomes of
// measurements made in a mismatched basis.
//
// The protocol logic only ever sees a Source, so a cryptographically secure
// generator can be swapped for a reproducible one (or vice versa) without
// touching it. For anything other than experiments and tests, use Secure.
package entropy

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
)

// A Source supplies independent, uniformly distributed bits.
type Source interface {
	// Bits returns n fresh random bits. n must be non-negative.
	Bits(n int) (bitmap.Dense, error)
}

// Secure draws bits from the operating system's CSPRNG.
var Secure Source = FromReader(rand.Reader)

// FromReader returns a Source which packs bytes read from r into bits. The
// returned Source serialises calls to r.
func FromReader(r io.Reader) Source {
	return &readerSource{r: r}
}

type readerSource struct {
	mu sync.Mutex
	r  io.Reader
}

func (s *readerSource) Bits(n int) (bitmap.Dense, error) {
	if n < 0 {
		return bitmap.Empty(), fmt.Errorf("requesting %d random bits", n)
	}
	buf := make([]byte, bitmap.BytesFor(n))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.ReadFull(s.r, buf); err != nil {
		return bitmap.Empty(), fmt.Errorf("reading randomness: %w", err)
	}
	return bitmap.NewDense(buf, n), nil
}
