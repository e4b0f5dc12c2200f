package bitmap

import "fmt"

// And returns the bitwise AND of two bitmaps. The result is as long as the
// shorter of the two.
func And(a, b Dense) Dense {
	n := a.len
	if b.len < n {
		n = b.len
	}
	return combine(a, b, n, func(x, y byte) byte { return x & y })
}

// Or returns the bitwise OR of two bitmaps. The shorter operand is treated as
// if padded with trailing zeros.
func Or(a, b Dense) Dense {
	return combine(a, b, longest(a, b), func(x, y byte) byte { return x | y })
}

// XOr returns the bitwise XOR of two bitmaps. The shorter operand is treated as
// if padded with trailing zeros.
func XOr(a, b Dense) Dense {
	return combine(a, b, longest(a, b), func(x, y byte) byte { return x ^ y })
}

// XNor returns the bitwise equality of two bitmaps. The shorter operand is
// treated as if padded with trailing zeros.
func XNor(a, b Dense) Dense {
	return combine(a, b, longest(a, b), func(x, y byte) byte { return ^(x ^ y) })
}

// Not returns the bitwise negation of a bitmap.
func Not(d Dense) Dense {
	return combine(d, Dense{}, d.len, func(x, _ byte) byte { return ^x })
}

// Slice copies bits [start, end) of d into a new bitmap.
func Slice(d Dense, start, end int) (Dense, error) {
	if end > d.len {
		return Dense{}, fmt.Errorf("slicing bitmap of len %d up to %d", d.len, end)
	}
	if start < 0 {
		return Dense{}, fmt.Errorf("slicing bitmap with negative start: %d", start)
	}
	if end < start {
		return Dense{}, fmt.Errorf("slicing bitmap to negative length: %d", end-start)
	}

	r := Dense{bits: make([]byte, 0, BytesFor(end-start))}
	for ; start%byteSize != 0 && start < end; start++ {
		r.AppendBit(d.Get(start))
	}
	if start == end {
		return r, nil
	}
	j := start / byteSize
	tmp := Dense{bits: d.bits[j : j+BytesFor(end-start)], len: end - start}
	r.Append(tmp.Clone())
	return r, nil
}

func combine(a, b Dense, n int, f func(x, y byte) byte) Dense {
	r := Dense{
		bits: make([]byte, BytesFor(n)),
		len:  n,
	}
	for i := range r.bits {
		r.bits[i] = f(a.byteAt(i), b.byteAt(i))
	}
	if rem := n % byteSize; rem != 0 {
		r.bits[len(r.bits)-1] &= byte(1<<rem) - 1
	}
	return r
}

func longest(a, b Dense) int {
	if a.len > b.len {
		return a.len
	}
	return b.len
}
