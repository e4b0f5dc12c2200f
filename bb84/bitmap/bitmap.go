// Package bitmap provides utilities for operating on densely-packed arrays of
// bits, as exchanged and derived during a BB84 key negotiation.
package bitmap

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// TODO: this could be more efficient on many architectures if we used larger
//   blocks than 8-bit bytes.
const byteSize = 8

// ErrInvalidBit is returned when a bit value outside of {0, 1} is supplied.
var ErrInvalidBit = errors.New("bitmap: bit value must be 0 or 1")

// Select selects a subset of bits from data, according to which bits are set in
// mask. Relative order is preserved.
func Select(data, mask Dense) Dense {
	var d Dense
	for i := 0; i < data.Size(); i++ {
		if !mask.Get(i) {
			continue
		}
		d.AppendBit(data.Get(i))
	}
	return d
}

// Empty returns an empty, dense bit array.
func Empty() Dense {
	return Dense{}
}

// FromString converts a string of '1's and '0's to a Dense. Spaces are
// ignored, so the grouped form produced by Dense.String round-trips.
func FromString(s string) (Dense, error) {
	d := Dense{}
	for _, c := range s {
		switch c {
		case '1':
			d.AppendBit(true)
		case '0':
			d.AppendBit(false)
		case ' ':
			continue
		default:
			return Dense{}, fmt.Errorf("invalid bitmap string rep: %s", s)
		}
	}
	return d, nil
}

// FromBits converts a slice of 0/1 integers, as found on the wire, to a Dense.
func FromBits(vals []int) (Dense, error) {
	d := Dense{bits: make([]byte, 0, BytesFor(len(vals)))}
	for i, v := range vals {
		switch v {
		case 0:
			d.AppendBit(false)
		case 1:
			d.AppendBit(true)
		default:
			return Dense{}, fmt.Errorf("%w: got %d at index %d", ErrInvalidBit, v, i)
		}
	}
	return d, nil
}

// FromBytesMSB unpacks data into bits, most significant bit of each byte
// first, bytes in order.
func FromBytesMSB(data []byte) Dense {
	d := Dense{bits: make([]byte, 0, len(data))}
	for _, b := range data {
		for k := byteSize - 1; k >= 0; k-- {
			d.AppendBit(b>>k&1 == 1)
		}
	}
	return d
}

// ToBytesMSB is the inverse of FromBytesMSB. A trailing group shorter than a
// full byte is discarded.
func ToBytesMSB(d Dense) []byte {
	out := make([]byte, 0, d.len/byteSize)
	for i := 0; i+byteSize <= d.len; i += byteSize {
		var b byte
		for k := 0; k < byteSize; k++ {
			b <<= 1
			if d.Get(i + k) {
				b |= 1
			}
		}
		out = append(out, b)
	}
	return out
}

// Repeat returns a bitmap of length n built by cycling through the bits of d,
// i.e. r[i] == d[i mod d.Size()]. Repeat panics if d is empty and n > 0.
func Repeat(d Dense, n int) Dense {
	if n > 0 && d.len == 0 {
		panic("bitmap: repeating an empty bitmap")
	}
	r := Dense{bits: make([]byte, 0, BytesFor(n))}
	for i := 0; i < n; i++ {
		r.AppendBit(d.Get(i % d.len))
	}
	return r
}

// Dot computes the inner product (x^T * y) of x and y, treating them as
// vectors mod 2.
func Dot(x, y Dense) bool {
	return Parity(And(x, y))
}

// Parity returns the overall parity of d, with true corresponding to 1 and
// false to 0.
func Parity(d Dense) bool {
	var sum byte
	for i := 0; i < d.SizeBytes(); i++ {
		sum ^= d.byteAt(i)
	}
	return bits.OnesCount8(sum)%2 == 1
}

// CountOnes returns the total number of bits set in d.
func CountOnes(d Dense) int {
	var sum int
	for i := 0; i < d.SizeBytes(); i++ {
		sum += bits.OnesCount8(d.byteAt(i))
	}
	return sum
}

// Equal returns true iff a and b have the same length and contain the same
// bits.
func Equal(a, b Dense) bool {
	return a.len == b.len && CountOnes(XOr(a, b)) == 0
}

// BytesFor returns the number of bytes necessary to hold the provided number of
// bits.
func BytesFor(bits int) int {
	return (bits + byteSize - 1) / byteSize
}

func groupString(d Dense) string {
	var b strings.Builder
	for i := 0; i < d.len; i++ {
		if i > 0 && i%byteSize == 0 {
			b.WriteByte(' ')
		}
		if d.Get(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
