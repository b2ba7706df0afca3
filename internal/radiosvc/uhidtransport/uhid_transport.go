// Package uhidtransport implements the radio transport against the kernel's
// uhid interface, exposing the bridge's outgoing reports as local virtual
// HID devices. It is the loopback companion to a real radio link: the same
// report shapes, delivered to the host the bridge runs on.
package uhidtransport

import (
	"context"
	"fmt"

	"github.com/psanford/uhid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/ratematch"
)

// The IDs the virtual devices present to the kernel. Exported so device
// enumeration can exclude the bridge's own output from its input scan.
const (
	VendorID  uint16 = 0x1915
	ProductID uint16 = 0x520C
)

type Transport struct {
	log      *zap.Logger
	mouse    *uhid.Device
	keyboard *uhid.Device
	cancel   context.CancelFunc
	ready    atomic.Bool
}

// New creates one virtual mouse and one virtual keyboard. The mouse
// descriptor is generated from the report format so the kernel parses the
// bridge's aggregated reports exactly as they are built.
func New(log *zap.Logger, format ratematch.ReportFormat) (*Transport, error) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		log:    log,
		cancel: cancel,
	}

	mouse, err := openDevice(ctx, t, "hidbridge-mouse", MouseDescriptor(format))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create virtual mouse: %w", err)
	}
	t.mouse = mouse

	keyboard, err := openDevice(ctx, t, "hidbridge-keyboard", KeyboardDescriptor())
	if err != nil {
		mouse.Close()
		cancel()
		return nil, fmt.Errorf("failed to create virtual keyboard: %w", err)
	}
	t.keyboard = keyboard

	t.ready.Store(true)
	return t, nil
}

func openDevice(ctx context.Context, t *Transport, name string, descriptor []byte) (*uhid.Device, error) {
	dev, err := uhid.NewDevice(name, descriptor)
	if err != nil {
		return nil, err
	}
	dev.Data.Bus = 0x03
	dev.Data.VendorID = uint32(VendorID)
	dev.Data.ProductID = uint32(ProductID)

	events, err := dev.Open(ctx)
	if err != nil {
		return nil, err
	}
	// kernel-originated events (LED output reports and the like) have no
	// consumer here; the channel still has to be drained
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Type == uhid.Output {
					t.log.Debug("Ignoring uhid output event", zap.String("device", name))
				}
			}
		}
	}()
	return dev, nil
}

func (t *Transport) Ready() bool {
	return t.ready.Load()
}

func (t *Transport) SendMotion(report []byte) error {
	if !t.ready.Load() {
		return ratematch.ErrNotReady
	}
	return t.mouse.InjectEvent(report)
}

func (t *Transport) SendKeyboard(report []byte) error {
	if !t.ready.Load() {
		return ratematch.ErrNotReady
	}
	return t.keyboard.InjectEvent(report)
}

func (t *Transport) Close() error {
	t.ready.Store(false)
	t.cancel()
	merr := t.mouse.Close()
	kerr := t.keyboard.Close()
	if merr != nil {
		return merr
	}
	return kerr
}

// MouseDescriptor builds a report descriptor matching the outgoing mouse
// report: one button byte, X and Y at the configured width, one wheel byte,
// no report ID.
func MouseDescriptor(f ratematch.ReportFormat) []byte {
	d := []byte{
		0x05, 0x01, // Usage Page (Generic Desktop)
		0x09, 0x02, // Usage (Mouse)
		0xA1, 0x01, // Collection (Application)
		0x09, 0x01, //   Usage (Pointer)
		0xA1, 0x00, //   Collection (Physical)
		0x05, 0x09, //     Usage Page (Button)
		0x19, 0x01, //     Usage Minimum (1)
		0x29, byte(f.ButtonCount), // Usage Maximum
		0x15, 0x00, //     Logical Minimum (0)
		0x25, 0x01, //     Logical Maximum (1)
		0x95, byte(f.ButtonCount), // Report Count
		0x75, 0x01, //     Report Size (1)
		0x81, 0x02, //     Input (Data,Var,Abs)
	}
	if pad := 8 - f.ButtonCount; pad > 0 {
		d = append(d,
			0x95, 0x01, // Report Count (1)
			0x75, byte(pad), // Report Size
			0x81, 0x01, // Input (Const)
		)
	}
	d = append(d,
		0x05, 0x01, //     Usage Page (Generic Desktop)
		0x09, 0x30, //     Usage (X)
		0x09, 0x31, //     Usage (Y)
	)
	if f.XYBits == 16 {
		d = append(d,
			0x16, 0x00, 0x80, // Logical Minimum (-32768)
			0x26, 0xFF, 0x7F, // Logical Maximum (32767)
			0x75, 0x10, //       Report Size (16)
		)
	} else {
		d = append(d,
			0x15, 0x80, // Logical Minimum (-128)
			0x25, 0x7F, // Logical Maximum (127)
			0x75, 0x08, // Report Size (8)
		)
	}
	d = append(d,
		0x95, 0x02, //     Report Count (2)
		0x81, 0x06, //     Input (Data,Var,Rel)
		0x09, 0x38, //     Usage (Wheel)
		0x15, 0x80, //     Logical Minimum (-128)
		0x25, 0x7F, //     Logical Maximum (127)
		0x75, 0x08, //     Report Size (8)
		0x95, 0x01, //     Report Count (1)
		0x81, 0x06, //     Input (Data,Var,Rel)
		0xC0, //   End Collection
		0xC0, // End Collection
	)
	return d
}

// KeyboardDescriptor is the standard boot keyboard layout: 8 modifier bits,
// one reserved byte, 6 key codes.
func KeyboardDescriptor() []byte {
	return []byte{
		0x05, 0x01, // Usage Page (Generic Desktop)
		0x09, 0x06, // Usage (Keyboard)
		0xA1, 0x01, // Collection (Application)
		0x05, 0x07, //   Usage Page (Keyboard)
		0x19, 0xE0, //   Usage Minimum (LeftControl)
		0x29, 0xE7, //   Usage Maximum (Right GUI)
		0x15, 0x00, //   Logical Minimum (0)
		0x25, 0x01, //   Logical Maximum (1)
		0x75, 0x01, //   Report Size (1)
		0x95, 0x08, //   Report Count (8)
		0x81, 0x02, //   Input (Data,Var,Abs)
		0x95, 0x01, //   Report Count (1)
		0x75, 0x08, //   Report Size (8)
		0x81, 0x01, //   Input (Const)
		0x95, 0x06, //   Report Count (6)
		0x75, 0x08, //   Report Size (8)
		0x15, 0x00, //   Logical Minimum (0)
		0x26, 0xFF, 0x00, //   Logical Maximum (255)
		0x05, 0x07, //   Usage Page (Keyboard)
		0x19, 0x00, //   Usage Minimum (0)
		0x2A, 0xFF, 0x00, //   Usage Maximum (255)
		0x81, 0x00, //   Input (Data,Array)
		0xC0, // End Collection
	}
}
