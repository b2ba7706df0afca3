// Package bitfield reads and writes bit-addressed fields in raw HID report
// buffers. Bit order is little-endian within each byte: bit 0 of byte N is
// the least significant bit. Multi-byte fields span bytes in ascending order.
package bitfield

// ReadUnsigned extracts bitWidth bits starting at bitOffset. Bits past the
// end of buf read as zero; callers are expected to have validated the overall
// buffer length against the report size.
func ReadUnsigned(buf []byte, bitOffset, bitWidth int) uint32 {
	if bitWidth <= 0 || bitWidth > 32 {
		return 0
	}
	var value uint32
	for i := 0; i < bitWidth; i++ {
		bitIndex := bitOffset + i
		byteIndex := bitIndex / 8
		if byteIndex >= len(buf) {
			break
		}
		bit := (buf[byteIndex] >> (bitIndex % 8)) & 0x1
		value |= uint32(bit) << i
	}
	return value
}

// ReadSigned extracts bitWidth bits starting at bitOffset and sign-extends
// from the field's own most significant bit.
func ReadSigned(buf []byte, bitOffset, bitWidth int) int32 {
	if bitWidth <= 0 || bitWidth > 32 {
		return 0
	}
	u := ReadUnsigned(buf, bitOffset, bitWidth)
	if bitWidth == 32 {
		return int32(u)
	}
	if u&(1<<(bitWidth-1)) != 0 {
		u |= ^uint32(0) << bitWidth
	}
	return int32(u)
}

// Write stores the low bitWidth bits of value at bitOffset. Bits falling past
// the end of buf are dropped.
func Write(buf []byte, bitOffset, bitWidth int, value uint32) {
	if bitWidth <= 0 || bitWidth > 32 {
		return
	}
	for i := 0; i < bitWidth; i++ {
		bitIndex := bitOffset + i
		byteIndex := bitIndex / 8
		if byteIndex >= len(buf) {
			return
		}
		mask := byte(1) << (bitIndex % 8)
		if value&(1<<i) != 0 {
			buf[byteIndex] |= mask
		} else {
			buf[byteIndex] &^= mask
		}
	}
}
