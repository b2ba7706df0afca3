package hidlayout

import (
	"github.com/hidbridge/hidbridge/pkg/bitfield"
)

// Motion is one decoded pointer report. DX and DY are relative deltas in the
// device's native resolution.
type Motion struct {
	DX      int16
	DY      int16
	Wheel   int8
	Buttons uint8
}

// Decoder extracts pointer motion from raw input reports using the layouts
// of the originating device. It caches the last matched layout, since
// devices overwhelmingly stream a single report ID.
//
// Decoder is not safe for concurrent use; each device read loop owns one.
type Decoder struct {
	layouts Layouts
	cached  *ReportLayout
}

func NewDecoder(layouts Layouts) *Decoder {
	return &Decoder{layouts: layouts}
}

// Decode returns the motion carried by one report. The second return is
// false when the report is too short, belongs to a report ID the decoder
// has no pointer layout for, or is shorter than its layout requires.
//
// Three-byte reports are treated as boot-protocol mouse packets regardless
// of layouts, matching devices that fall back to the boot interface.
func (d *Decoder) Decode(data []byte) (Motion, bool) {
	if len(data) < 3 {
		return Motion{}, false
	}
	if len(data) == 3 {
		return Motion{
			Buttons: data[0] & 0x07,
			DX:      int16(int8(data[1])),
			DY:      int16(int8(data[2])),
		}, true
	}
	if d.hasLayouts() {
		l := d.lookup(data[0])
		if l == nil {
			return Motion{}, false
		}
		return decodeWith(l, data)
	}
	return decodeFixed(data)
}

func (d *Decoder) hasLayouts() bool {
	for i := range d.layouts {
		if d.layouts[i].HasFields() {
			return true
		}
	}
	return false
}

// lookup finds the pointer layout for a report. A layout with report ID 0
// claims every report, since such descriptors carry no ID byte at all.
func (d *Decoder) lookup(firstByte uint8) *ReportLayout {
	if c := d.cached; c != nil && (c.ReportID == 0 || c.ReportID == firstByte) {
		return c
	}
	for i := range d.layouts {
		l := &d.layouts[i]
		if !l.HasFields() {
			continue
		}
		if l.ReportID == 0 || l.ReportID == firstByte {
			d.cached = l
			return l
		}
	}
	return nil
}

func decodeWith(l *ReportLayout, data []byte) (Motion, bool) {
	if len(data)*8 < l.ReportSizeBits {
		return Motion{}, false
	}
	// Published offsets are relative to the data area; reports carrying a
	// report ID prepend one byte before it.
	adjust := 0
	if l.ReportID != 0 {
		adjust = 8
	}

	var m Motion
	if l.ButtonsCount > 0 {
		width := l.ButtonsCount
		if width > 8 {
			width = 8
		}
		m.Buttons = uint8(bitfield.ReadUnsigned(data, adjust+l.ButtonsBitOffset, width))
	}
	if w := l.XSize; w > 0 && w <= 32 {
		m.DX = clampInt16(bitfield.ReadSigned(data, adjust+l.XBitOffset, w))
	}
	if w := l.YSize; w > 0 && w <= 32 {
		m.DY = clampInt16(bitfield.ReadSigned(data, adjust+l.YBitOffset, w))
	}
	if w := l.WheelSize; w > 0 && w <= 32 {
		m.Wheel = clampInt8(bitfield.ReadSigned(data, adjust+l.WheelBitOffset, w))
	}
	return m, true
}

// decodeFixed handles devices whose descriptor could not be read at all.
// Reports whose first byte looks like a report ID are assumed to follow the
// common [id, buttons, dx, dy, wheel] shape; everything else the ID-less
// [buttons, dx, dy, wheel] shape.
func decodeFixed(data []byte) (Motion, bool) {
	if data[0] >= 0x01 && data[0] <= 0x0F && len(data) >= 5 {
		return Motion{
			Buttons: data[1],
			DX:      int16(int8(data[2])),
			DY:      int16(int8(data[3])),
			Wheel:   int8(data[4]),
		}, true
	}
	return Motion{
		Buttons: data[0],
		DX:      int16(int8(data[1])),
		DY:      int16(int8(data[2])),
		Wheel:   int8(data[3]),
	}, true
}

func clampInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

func clampInt8(v int32) int8 {
	if v > 127 {
		return 127
	}
	if v < -128 {
		return -128
	}
	return int8(v)
}
