package bitfield

import (
	"testing"
)

func TestReadUnsigned(t *testing.T) {
	tests := []struct {
		buf      []byte
		offset   int
		width    int
		expected uint32
	}{
		{[]byte{0xff}, 0, 8, 0xff},
		{[]byte{0b10110100}, 2, 3, 0b101},
		{[]byte{0x00, 0xff}, 4, 8, 0xf0},
		{[]byte{0x34, 0x12}, 0, 16, 0x1234},
		{[]byte{0x00, 0x80}, 15, 1, 1},
		// reads past the end of the buffer return zero bits
		{[]byte{0xff}, 4, 8, 0x0f},
		{[]byte{}, 0, 8, 0},
		{[]byte{0xff}, 0, 0, 0},
		{[]byte{0xff}, 0, 33, 0},
	}
	for i, test := range tests {
		got := ReadUnsigned(test.buf, test.offset, test.width)
		if got != test.expected {
			t.Errorf("%d: ReadUnsigned = %#x, expected %#x", i, got, test.expected)
		}
	}
}

func TestReadSigned(t *testing.T) {
	tests := []struct {
		buf      []byte
		offset   int
		width    int
		expected int32
	}{
		{[]byte{0xff}, 0, 8, -1},
		{[]byte{0x7f}, 0, 8, 127},
		{[]byte{0x80}, 0, 8, -128},
		{[]byte{0xfe, 0xff}, 0, 16, -2},
		{[]byte{0b00000110}, 1, 2, -1},
		{[]byte{0xff, 0xff, 0xff, 0xff}, 0, 32, -1},
	}
	for i, test := range tests {
		got := ReadSigned(test.buf, test.offset, test.width)
		if got != test.expected {
			t.Errorf("%d: ReadSigned = %d, expected %d", i, got, test.expected)
		}
	}
}

// Every representable signed value survives a write/read round-trip at an
// arbitrary bit offset, for each width 1..16.
func TestSignedRoundTrip(t *testing.T) {
	for width := 1; width <= 16; width++ {
		min := -(int32(1) << (width - 1))
		max := int32(1)<<(width-1) - 1
		for _, offset := range []int{0, 3, 7, 11} {
			for v := min; ; v++ {
				buf := make([]byte, 5)
				Write(buf, offset, width, uint32(v))
				got := ReadSigned(buf, offset, width)
				if got != v {
					t.Fatalf("width=%d offset=%d: round-trip %d -> %d", width, offset, v, got)
				}
				if v == max {
					break
				}
			}
		}
	}
}

func TestWriteDoesNotDisturbNeighbors(t *testing.T) {
	buf := []byte{0xff, 0xff}
	Write(buf, 4, 4, 0)
	if buf[0] != 0x0f || buf[1] != 0xff {
		t.Errorf("Write disturbed neighboring bits: % x", buf)
	}
}
