package bb84

import "github.com/alan-christopher/bb84chat/bb84/bitmap"

// Amplify compresses a sifted key by XOR-ing consecutive, non-overlapping
// pairs of bits: out[j] = k[2j] ^ k[2j+1]. A trailing unpaired bit is dropped.
// Keys shorter than two bits are returned unchanged.
//
// This is a deliberately simple, unkeyed compression. It halves the key but is
// not a randomness extractor and makes no claim about an eavesdropper's
// residual information.
func Amplify(sifted bitmap.Dense) bitmap.Dense {
	if sifted.Size() < 2 {
		return sifted.Clone()
	}
	out := bitmap.NewDense(nil, sifted.Size()/2)
	for j := 0; j < out.Size(); j++ {
		if sifted.Get(2*j) != sifted.Get(2*j+1) {
			out.Set(j, true)
		}
	}
	return out
}
