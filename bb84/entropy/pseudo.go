package entropy

import (
	"fmt"
	"sync"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// A Pseudo draws each bit from a fair Bernoulli distribution over a seeded,
// non-cryptographic generator. It mirrors the ordinary PRNG of the reference
// deployment and must not be used where the derived key protects anything.
type Pseudo struct {
	mu   sync.Mutex
	coin distuv.Bernoulli
}

// NewPseudo returns a Pseudo seeded with seed.
func NewPseudo(seed uint64) *Pseudo {
	return &Pseudo{
		coin: distuv.Bernoulli{P: 0.5, Src: rand.NewSource(seed)},
	}
}

// Bits implements Source.
func (p *Pseudo) Bits(n int) (bitmap.Dense, error) {
	if n < 0 {
		return bitmap.Empty(), fmt.Errorf("requesting %d random bits", n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d := bitmap.NewDense(nil, n)
	for i := 0; i < n; i++ {
		if p.coin.Rand() == 1 {
			d.Set(i, true)
		}
	}
	return d, nil
}
