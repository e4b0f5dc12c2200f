package bitmap

import (
	"bytes"
	"errors"
	"testing"
)

func mustDense(t *testing.T, s string) Dense {
	d, err := FromString(s)
	if err != nil {
		t.Fatalf("bugged test setup: %v", err)
	}
	return d
}

func TestSelect(t *testing.T) {
	tcs := []struct {
		name             string
		data, mask, want string
	}{
		{"matching bases", "0110 1001", "1011 0010", "0100"},
		{"mask shorter than data", "1101", "01", "1"},
		{"spans bytes", "11110000 1010", "00001111 1111", "0000 1010"},
		{"empty mask", "111", "", ""},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			data, mask := mustDense(t, tc.data), mustDense(t, tc.mask)
			out := Select(data, mask)
			if want := mustDense(t, tc.want); !Equal(out, want) {
				t.Errorf("Select(%v, %v) == %v, want %v", data, mask, out, want)
			}
		})
	}
}

func TestCountOnesAndParity(t *testing.T) {
	tcs := []struct {
		name   string
		data   Dense
		ones   int
		parity bool
	}{
		{"empty", Empty(), 0, false},
		{"single", mustDense(t, "1"), 1, true},
		{"nibble", mustDense(t, "0110"), 2, false},
		{"trailing bit", mustDense(t, "1110 0000 1"), 4, false},
		{"two full bytes", mustDense(t, "1111 1111 1111 1111 0"), 16, false},
		{"sparse", mustDense(t, "0000 0001 0000 0001 1"), 3, true},
		{"mixed", mustDense(t, "1011 0111 0101"), 8, false},
		{"bits past len", NewDense([]byte{0xF0}, 4), 0, false},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			if got := CountOnes(tc.data); got != tc.ones {
				t.Errorf("CountOnes(%v) == %d, want %d", tc.data, got, tc.ones)
			}
			if got := Parity(tc.data); got != tc.parity {
				t.Errorf("Parity(%v) == %v, want %v", tc.data, got, tc.parity)
			}
		})
	}
}

func TestFromBits(t *testing.T) {
	d, err := FromBits([]int{1, 0, 1, 1})
	if err != nil {
		t.Fatalf("FromBits: %v", err)
	}
	if want := mustDense(t, "1011"); !Equal(d, want) {
		t.Errorf("FromBits == %v, want %v", d, want)
	}
	if _, err := FromBits([]int{0, 2}); !errors.Is(err, ErrInvalidBit) {
		t.Errorf("FromBits([0 2]) error == %v, want ErrInvalidBit", err)
	}
}

func TestBytesMSB(t *testing.T) {
	tcs := []struct {
		name string
		data []byte
		eout Dense
	}{
		{"empty", nil, mustDense(t, "")},
		{"A", []byte("A"), mustDense(t, "01000001")},
		{"Hi", []byte("Hi"), mustDense(t, "01001000 01101001")},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			out := FromBytesMSB(tc.data)
			if !Equal(out, tc.eout) {
				t.Errorf("FromBytesMSB(%q) == %v, want %v", tc.data, out, tc.eout)
			}
			if back := ToBytesMSB(out); !bytes.Equal(back, tc.data) && len(tc.data) > 0 {
				t.Errorf("ToBytesMSB == %q, want %q", back, tc.data)
			}
		})
	}
}

func TestToBytesMSBDropsPartialByte(t *testing.T) {
	d := mustDense(t, "01000001 0110")
	if got := ToBytesMSB(d); !bytes.Equal(got, []byte("A")) {
		t.Errorf("ToBytesMSB == %q, want %q", got, "A")
	}
}

func TestRepeat(t *testing.T) {
	key := mustDense(t, "101")
	got := Repeat(key, 8)
	if want := mustDense(t, "10110110"); !Equal(got, want) {
		t.Errorf("Repeat(%v, 8) == %v, want %v", key, got, want)
	}
	if got := Repeat(key, 0); got.Size() != 0 {
		t.Errorf("Repeat(%v, 0) has size %d, want 0", key, got.Size())
	}
}

func TestEqualChecksLength(t *testing.T) {
	if Equal(mustDense(t, "10"), mustDense(t, "100")) {
		t.Errorf("Equal(10, 100) == true, want false")
	}
}
