package usbsvc

import "github.com/hidbridge/hidbridge/hidlayout"

type DeviceClass uint8

const (
	ClassUnknown DeviceClass = iota
	ClassMouse
	ClassKeyboard
)

func (c DeviceClass) String() string {
	switch c {
	case ClassMouse:
		return "mouse"
	case ClassKeyboard:
		return "keyboard"
	default:
		return "unknown"
	}
}

// DetectClass classifies a device by its descriptor. A combo device with
// both pointer and keyboard collections counts as a mouse: motion is what
// the bridge rate-matches, and its keyboard half usually sits on a separate
// interface anyway.
func DetectClass(desc []byte, layouts hidlayout.Layouts) DeviceClass {
	for _, l := range layouts {
		if l.Qualifies() {
			return ClassMouse
		}
	}
	if hidlayout.HasKeyboardCollection(desc) {
		return ClassKeyboard
	}
	// partial pointer devices (wheel-only, trackpoint halves) still carry
	// motion worth bridging
	for _, l := range layouts {
		if l.HasFields() {
			return ClassMouse
		}
	}
	return ClassUnknown
}
