package bb84

import (
	"fmt"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/photon"
)

// Sift returns, in order, the bits[i] for which basesA[i] == basesB[i].
//
// Each party calls Sift with its own bit values (the sender's prepared bits,
// or the receiver's measured outcomes) and the other party's announced bases.
// No attempt is made to check that the two parties' results agree.
func Sift(basesA, basesB photon.Bases, bits bitmap.Dense) (bitmap.Dense, error) {
	if len(basesA) != len(basesB) || len(basesA) != bits.Size() {
		return bitmap.Empty(), fmt.Errorf("%w: bases %d and %d, bits %d",
			ErrMismatchedLengths, len(basesA), len(basesB), bits.Size())
	}
	a, err := basesA.Bitmap()
	if err != nil {
		return bitmap.Empty(), err
	}
	b, err := basesB.Bitmap()
	if err != nil {
		return bitmap.Empty(), err
	}
	return bitmap.Select(bits, bitmap.XNor(a, b)), nil
}
