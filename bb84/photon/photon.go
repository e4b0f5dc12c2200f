// Package photon simulates the quantum half of a BB84 exchange: preparing
// qubits as (bit, basis) pairs and measuring them in a chosen basis.
//
// Only the classical measurement rule is modelled. A qubit measured in the
// basis it was prepared in yields the prepared bit; measured in the other
// basis it yields a uniformly random bit.
package photon

import (
	"fmt"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
	"github.com/alan-christopher/bb84chat/bb84/entropy"
	qerrors "github.com/alan-christopher/bb84chat/internal/errors"
)

// A Basis is the frame in which a qubit is encoded or measured.
type Basis byte

const (
	// Rectilinear is the '+' basis.
	Rectilinear Basis = '+'
	// Diagonal is the 'x' basis.
	Diagonal Basis = 'x'
)

// MaxLength is the largest number of qubits a single exchange may carry.
const MaxLength = 1 << 24

// ParseBasis validates a basis symbol.
func ParseBasis(s string) (Basis, error) {
	switch s {
	case "+":
		return Rectilinear, nil
	case "x":
		return Diagonal, nil
	default:
		return 0, fmt.Errorf("%w: %q", qerrors.ErrInvalidBasisSymbol, s)
	}
}

// Valid reports whether b is one of the two bases.
func (b Basis) Valid() bool {
	return b == Rectilinear || b == Diagonal
}

func (b Basis) String() string {
	return string(b)
}

// Bases is an ordered sequence of bases, one per qubit.
type Bases []Basis

// ParseBases validates a sequence of basis symbols.
func ParseBases(syms []string) (Bases, error) {
	bs := make(Bases, len(syms))
	for i, s := range syms {
		b, err := ParseBasis(s)
		if err != nil {
			return nil, fmt.Errorf("basis %d: %w", i, err)
		}
		bs[i] = b
	}
	return bs, nil
}

// BasesFromBitmap maps 0 to Rectilinear and 1 to Diagonal.
func BasesFromBitmap(d bitmap.Dense) Bases {
	bs := make(Bases, d.Size())
	for i := range bs {
		bs[i] = Rectilinear
		if d.Get(i) {
			bs[i] = Diagonal
		}
	}
	return bs
}

// Bitmap is the inverse of BasesFromBitmap. It fails on an invalid basis.
func (bs Bases) Bitmap() (bitmap.Dense, error) {
	d := bitmap.NewDense(nil, len(bs))
	for i, b := range bs {
		switch b {
		case Rectilinear:
		case Diagonal:
			d.Set(i, true)
		default:
			return bitmap.Empty(), fmt.Errorf("%w: %q at index %d", qerrors.ErrInvalidBasisSymbol, byte(b), i)
		}
	}
	return d, nil
}

// Strings renders bs as the "+"/"x" symbols used on the wire.
func (bs Bases) Strings() []string {
	out := make([]string, len(bs))
	for i, b := range bs {
		out[i] = b.String()
	}
	return out
}

// CheckLength fails with ErrInvalidLength unless 0 < length <= MaxLength.
func CheckLength(length int) error {
	if length <= 0 || length > MaxLength {
		return fmt.Errorf("%w: %d not in [1, %d]", qerrors.ErrInvalidLength, length, MaxLength)
	}
	return nil
}

// Prepare draws length random bits and, independently, length random bases
// for the sender.
func Prepare(src entropy.Source, length int) (bits bitmap.Dense, bases Bases, err error) {
	if err := CheckLength(length); err != nil {
		return bitmap.Empty(), nil, err
	}
	bits, err = src.Bits(length)
	if err != nil {
		return bitmap.Empty(), nil, err
	}
	bases, err = ChooseBases(src, length)
	if err != nil {
		return bitmap.Empty(), nil, err
	}
	return bits, bases, nil
}

// ChooseBases draws length random bases, independent of any other draw.
func ChooseBases(src entropy.Source, length int) (Bases, error) {
	if err := CheckLength(length); err != nil {
		return nil, err
	}
	raw, err := src.Bits(length)
	if err != nil {
		return nil, err
	}
	return BasesFromBitmap(raw), nil
}

// Measure returns the receiver's outcomes for qubits prepared as
// (bits, sendBases) and measured in recvBases.
func Measure(src entropy.Source, bits bitmap.Dense, sendBases, recvBases Bases) (bitmap.Dense, error) {
	if bits.Size() != len(sendBases) || len(sendBases) != len(recvBases) {
		return bitmap.Empty(), fmt.Errorf("%w: bits %d, send bases %d, receive bases %d",
			qerrors.ErrMismatchedLengths, bits.Size(), len(sendBases), len(recvBases))
	}
	sb, err := sendBases.Bitmap()
	if err != nil {
		return bitmap.Empty(), err
	}
	rb, err := recvBases.Bitmap()
	if err != nil {
		return bitmap.Empty(), err
	}
	noise, err := src.Bits(bits.Size())
	if err != nil {
		return bitmap.Empty(), err
	}
	// Where the bases disagree, the outcome is the noise bit itself.
	mismatch := bitmap.XOr(sb, rb)
	keep := bitmap.And(bits, bitmap.Not(mismatch))
	replace := bitmap.And(noise, mismatch)
	return bitmap.Or(keep, replace), nil
}
