package bb84

import (
	"fmt"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
)

// A toeplitz represents an m-row matrix over F_2 whose diagonals are all
// constant. Toeplitz matrices form a universal hash family, which the classical
// channel uses to authenticate its messages.
type toeplitz struct {
	// The diagonal constants, starting from the bottom left and ending with
	// the top right. An m x n product needs at least m+n-1 of them.
	diags bitmap.Dense

	m int
}

// TODO: surely there are ways to take advantage of the structure of a toeplitz
//   matrix to achieve vector mul in better than O(mn) time.
// Mul computes the product Av, where A is the m x len(v) toeplitz matrix drawn
// from t's diagonals.
func (t toeplitz) Mul(vec bitmap.Dense) (bitmap.Dense, error) {
	n := vec.Size()
	if t.diags.Size() < t.m+n-1 {
		return bitmap.Empty(), fmt.Errorf("improper toeplitz construction, has %d diagonals, needs %d", t.diags.Size(), t.m+n-1)
	}

	r := bitmap.Dense{}
	for off := t.m - 1; off >= 0; off-- {
		row, err := bitmap.Slice(t.diags, off, off+n)
		if err != nil {
			return bitmap.Empty(), err
		}
		r.AppendBit(bitmap.Dot(row, vec))
	}
	return r, nil
}
