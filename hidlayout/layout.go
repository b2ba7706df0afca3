// Package hidlayout reconstructs the bit-level field layout of pointer
// reports from a raw HID report descriptor. It does not build a descriptor
// object tree; it tracks a bit cursor across Input main items and records
// exact offsets and widths for the button, X, Y, wheel and AC-Pan fields of
// every report ID it encounters.
package hidlayout

import "errors"

var (
	// ErrNoLayouts is returned when the descriptor yields no report layout
	// at all (parse failed outright or the descriptor was empty).
	ErrNoLayouts = errors.New("hidlayout: no report layouts found")
	// ErrNoQualifyingLayout is returned when layouts exist but none carries
	// buttons, X and Y together. Callers typically fall back to a
	// fixed-offset heuristic in that case.
	ErrNoQualifyingLayout = errors.New("hidlayout: no layout with buttons, X and Y")
)

// ReportLayout describes where the pointer-relevant fields live within one
// report. Field offsets are bit positions counted from the start of the
// report's data area, excluding the report-ID byte; when ReportID is
// non-zero the wire report carries a leading ID byte and readers must add 8
// bits. ReportSizeBits is the total wire size including that byte.
type ReportLayout struct {
	ReportID       uint8 `json:"reportId"`
	ReportSizeBits int   `json:"reportSizeBits"`

	ButtonsBitOffset int `json:"buttonsBitOffset"`
	ButtonsCount     int `json:"buttonsCount"`

	XBitOffset int `json:"xBitOffset"`
	XSize      int `json:"xSize"`

	YBitOffset int `json:"yBitOffset"`
	YSize      int `json:"ySize"`

	WheelBitOffset int `json:"wheelBitOffset"`
	WheelSize      int `json:"wheelSize"`

	PanBitOffset int `json:"panBitOffset"`
	PanSize      int `json:"panSize"`
}

// Qualifies reports whether the layout looks like a usable mouse report:
// buttons plus both axes.
func (l ReportLayout) Qualifies() bool {
	return l.ButtonsCount > 0 && l.XSize > 0 && l.YSize > 0
}

// HasFields reports whether any pointer field was found at all.
func (l ReportLayout) HasFields() bool {
	return l.ButtonsCount > 0 || l.XSize > 0 || l.YSize > 0 || l.WheelSize > 0 || l.PanSize > 0
}

// Layouts is the set of report layouts extracted from one descriptor, in
// the order their report IDs first appeared in the descriptor byte stream.
type Layouts []ReportLayout

// Find returns the layout for the given report ID.
func (ls Layouts) Find(reportID uint8) (ReportLayout, bool) {
	for _, l := range ls {
		if l.ReportID == reportID {
			return l, true
		}
	}
	return ReportLayout{}, false
}

// Primary selects the layout the bridge should decode with: the first
// qualifying layout in descriptor order. When none qualifies it returns the
// first layout with any populated field together with ErrNoQualifyingLayout,
// and ErrNoLayouts when the set is empty.
func (ls Layouts) Primary() (ReportLayout, error) {
	for _, l := range ls {
		if l.Qualifies() {
			return l, nil
		}
	}
	for _, l := range ls {
		if l.HasFields() {
			return l, ErrNoQualifyingLayout
		}
	}
	return ReportLayout{}, ErrNoLayouts
}
