package hidlayout

import "testing"

func TestDecodeBootProtocol(t *testing.T) {
	d := NewDecoder(nil)
	m, ok := d.Decode([]byte{0x05, 0xFF, 0x02})
	if !ok {
		t.Fatal("boot packet rejected")
	}
	if m.Buttons != 0x05 || m.DX != -1 || m.DY != 2 || m.Wheel != 0 {
		t.Errorf("got %+v", m)
	}
}

func TestDecodeWithLayout(t *testing.T) {
	layouts := Extract(multiReportDesc)
	d := NewDecoder(layouts)

	// report ID 2: 5 button bits + 3 pad, 16-bit X/Y, 8-bit wheel, 8-bit pan
	report := []byte{
		0x02,       // report ID
		0x03,       // buttons 1+2
		0x10, 0x00, // dx = 16
		0xF0, 0xFF, // dy = -16
		0xFE,       // wheel = -2
		0x01,       // pan, not decoded
	}
	m, ok := d.Decode(report)
	if !ok {
		t.Fatal("report rejected")
	}
	if m.Buttons != 0x03 || m.DX != 16 || m.DY != -16 || m.Wheel != -2 {
		t.Errorf("got %+v", m)
	}

	// cache must not leak across report IDs: the keyboard report carries
	// no pointer layout and is dropped
	if _, ok := d.Decode([]byte{0x01, 0, 0, 0, 0, 0, 0, 0, 0}); ok {
		t.Error("keyboard report decoded as motion")
	}

	// and the cached mouse layout still works afterwards
	m, ok = d.Decode(report)
	if !ok || m.DX != 16 {
		t.Errorf("cached decode failed: ok=%v m=%+v", ok, m)
	}
}

func TestDecodeNoReportID(t *testing.T) {
	layouts := Extract(bootMouseDesc)
	d := NewDecoder(layouts)

	// [buttons+pad, dx, dy] plus a trailing byte the layout ignores
	m, ok := d.Decode([]byte{0x01, 0x7F, 0x80, 0x00})
	if !ok {
		t.Fatal("report rejected")
	}
	if m.Buttons != 0x01 || m.DX != 127 || m.DY != -128 {
		t.Errorf("got %+v", m)
	}
}

func TestDecodeShortReport(t *testing.T) {
	layouts := Extract(multiReportDesc)
	d := NewDecoder(layouts)
	if _, ok := d.Decode([]byte{0x02, 0x00, 0x01}); ok {
		// three bytes decode as boot protocol by design
		return
	}
	t.Error("3-byte packet should decode as boot protocol")
}

func TestDecodeTooShortForLayout(t *testing.T) {
	layouts := Extract(multiReportDesc)
	d := NewDecoder(layouts)
	// report ID 2 needs 8 bytes; give it 4
	if _, ok := d.Decode([]byte{0x02, 0x00, 0x01, 0x02}); ok {
		t.Error("undersized report accepted")
	}
	if _, ok := d.Decode([]byte{0x02}); ok {
		t.Error("1-byte report accepted")
	}
}

func TestDecodeFixedFallback(t *testing.T) {
	d := NewDecoder(nil)

	// first byte in report-ID range: [id, buttons, dx, dy, wheel]
	m, ok := d.Decode([]byte{0x01, 0x04, 0x05, 0xFB, 0x01})
	if !ok {
		t.Fatal("fallback report rejected")
	}
	if m.Buttons != 0x04 || m.DX != 5 || m.DY != -5 || m.Wheel != 1 {
		t.Errorf("got %+v", m)
	}

	// first byte outside the range: [buttons, dx, dy, wheel]
	m, ok = d.Decode([]byte{0x00, 0x0A, 0x00, 0xFF})
	if !ok {
		t.Fatal("fallback report rejected")
	}
	if m.Buttons != 0x00 || m.DX != 10 || m.DY != 0 || m.Wheel != -1 {
		t.Errorf("got %+v", m)
	}
}
