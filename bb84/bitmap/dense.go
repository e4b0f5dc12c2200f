package bitmap

// A Dense is a bitmap where every bit is explicitly represented. Bit i lives
// in byte i/8 at position i%8, least significant position first.
type Dense struct {
	bits []byte
	len  int
}

// NewDense returns a new dense bitmap whose contents are a view of data, and
// whose length is bitLen. If bitLen is longer than data, then trailing zeros
// are added. If bitLen is negative, then it is inferred from data.
func NewDense(data []byte, bitLen int) Dense {
	if bitLen < 0 {
		bitLen = len(data) * byteSize
	}
	r := Dense{
		bits: data,
		len:  bitLen,
	}
	r.allocSpace()
	return r
}

// Get returns the i-th bit in this bitmap. Bits past the end read as zero.
func (d Dense) Get(i int) bool {
	if i < 0 || i >= d.len {
		return false
	}
	j, pos := i/byteSize, i%byteSize
	if j >= len(d.bits) {
		return false
	}
	return 0 < d.bits[j]&(1<<pos)
}

// Set assigns the i-th bit. It panics if i is out of range.
func (d Dense) Set(i int, bit bool) {
	if i < 0 || i >= d.len || i/byteSize >= len(d.bits) {
		panic("bitmap: Set index out of range")
	}
	j, pos := i/byteSize, i%byteSize
	if bit {
		d.bits[j] |= 1 << pos
	} else {
		d.bits[j] &= ^(1 << pos)
	}
}

// Flip inverts the i-th bit. It panics if i is out of range.
func (d Dense) Flip(i int) {
	if i < 0 || i >= d.len || i/byteSize >= len(d.bits) {
		panic("bitmap: Flip index out of range")
	}
	j, pos := i/byteSize, i%byteSize
	d.bits[j] ^= 1 << pos
}

// Size returns the number of bits in this bitmap, excluding implicit trailing
// zeros.
func (d Dense) Size() int {
	return d.len
}

// SizeBytes returns the number of bytes in this bitmap, excluding implicit
// trailing zeros.
func (d Dense) SizeBytes() int {
	return BytesFor(d.len)
}

// Data returns a view of the bytes underlying this bitmap. Modifying the
// returned slice modifies this bitmap.
func (d Dense) Data() []byte {
	return d.bits
}

// Ints returns the bits of d as a slice of 0/1 integers.
func (d Dense) Ints() []int {
	out := make([]int, d.len)
	for i := range out {
		if d.Get(i) {
			out[i] = 1
		}
	}
	return out
}

// Clone returns a copy of d that shares no memory with it.
func (d Dense) Clone() Dense {
	bits := make([]byte, d.SizeBytes())
	for i := range bits {
		bits[i] = d.byteAt(i)
	}
	return Dense{bits: bits, len: d.len}
}

// String renders d as '0'/'1' characters in groups of eight.
func (d Dense) String() string {
	return groupString(d)
}

// Zero overwrites the bytes underlying d and truncates it to zero length.
func (d *Dense) Zero() {
	for i := range d.bits {
		d.bits[i] = 0
	}
	d.bits = nil
	d.len = 0
}

// AppendBit adds a single bit to the end of d.
func (d *Dense) AppendBit(bit bool) {
	i, pos := d.len/byteSize, d.len%byteSize
	d.len += 1
	for i >= len(d.bits) {
		d.bits = append(d.bits, 0)
	}
	if bit {
		d.bits[i] |= 1 << pos
	} else {
		d.bits[i] &= ^(1 << pos)
	}
}

// Append adds the contents of d2 to the end of d.
func (d *Dense) Append(d2 Dense) {
	d.allocSpace()
	if d.len%byteSize == 0 {
		d.bits = append(d.bits[:d.SizeBytes()], d2.Clone().bits...)
		d.len += d2.len
		return
	}
	for i := 0; i < d2.len; i++ {
		d.AppendBit(d2.Get(i))
	}
}

// byteAt returns the i-th byte of d with any bits past d.len cleared.
func (d Dense) byteAt(i int) byte {
	if i >= len(d.bits) || i >= d.SizeBytes() {
		return 0
	}
	b := d.bits[i]
	if rem := d.len - i*byteSize; rem < byteSize {
		b &= byte(1<<rem) - 1
	}
	return b
}

func (d *Dense) allocSpace() {
	for len(d.bits) < d.SizeBytes() {
		d.bits = append(d.bits, 0)
	}
}
