package bb84

import (
	"fmt"

	"github.com/alan-christopher/bb84chat/bb84/bitmap"
)

// Encrypt XORs plain with key repeated to plain's length. Because XOR is its
// own inverse, Encrypt and Decrypt are the same operation.
func Encrypt(key, plain bitmap.Dense) (bitmap.Dense, error) {
	if key.Size() == 0 {
		return bitmap.Empty(), ErrEmptyKey
	}
	return bitmap.XOr(plain, bitmap.Repeat(key, plain.Size())), nil
}

// Decrypt recovers the bits that Encrypt(key, ·) produced cipher from.
func Decrypt(key, cipher bitmap.Dense) (bitmap.Dense, error) {
	return Encrypt(key, cipher)
}

// PackText converts msg to bits, eight per character, most significant bit
// first. Characters must be single-byte code points (<= 0xFF).
func PackText(msg string) (bitmap.Dense, error) {
	codes := make([]byte, 0, len(msg))
	for i, r := range msg {
		if r > 0xFF {
			return bitmap.Empty(), fmt.Errorf("%w: %q at byte %d", ErrInvalidMessage, r, i)
		}
		codes = append(codes, byte(r))
	}
	return bitmap.FromBytesMSB(codes), nil
}

// UnpackText is the inverse of PackText. A trailing group of fewer than eight
// bits is silently discarded.
func UnpackText(bits bitmap.Dense) string {
	codes := bitmap.ToBytesMSB(bits)
	rs := make([]rune, len(codes))
	for i, c := range codes {
		rs[i] = rune(c)
	}
	return string(rs)
}
