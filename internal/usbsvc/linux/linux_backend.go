// Package linux implements the usbsvc backend for the Linux kernel, using
// hidapi for enumeration and raw report access and udev to detach bridged
// devices from the local input stack.
package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sstallion/go-hid"
	"go.uber.org/zap"
	"golang.org/x/net/context"

	"github.com/hidbridge/hidbridge/internal/usbsvc"
)

var defaultBackendOptions = backendOptions{
	pollInterval: 1 * time.Second,
}

type backendOptions struct {
	pollInterval time.Duration
	grab         bool
	excluded     []HidAddressKey
}

type Option func(*backendOptions)

func WithPollInterval(d time.Duration) Option {
	return func(o *backendOptions) {
		o.pollInterval = d
	}
}

// WithGrab detaches bridged devices from the local input stack while they
// are open, so motion is not delivered twice.
func WithGrab(grab bool) Option {
	return func(o *backendOptions) {
		o.grab = grab
	}
}

// WithExclude skips devices with the given IDs during enumeration. The
// bridge excludes its own virtual devices this way.
func WithExclude(vendorID, productID uint16) Option {
	return func(o *backendOptions) {
		o.excluded = append(o.excluded, HidAddressKey{VendorID: vendorID, ProductID: productID})
	}
}

type HidAddressKey struct {
	VendorID  uint16
	ProductID uint16
}

type HidAddress struct {
	VendorID  uint16
	ProductID uint16
	Interface int
}

func (a HidAddress) String() string {
	return fmt.Sprintf("%04x:%04x:%d", a.VendorID, a.ProductID, a.Interface)
}

func ParseHidAddress(s string) (HidAddress, error) {
	var addr HidAddress
	_, err := fmt.Sscanf(s, "%04x:%04x:%d", &addr.VendorID, &addr.ProductID, &addr.Interface)
	if err != nil {
		return HidAddress{}, err
	}
	return addr, nil
}

// Backend polls hidapi for attached HID interfaces and publishes the diff
// as connect/disconnect events.
type Backend struct {
	log     *zap.Logger
	options backendOptions

	hidDevices *xsync.MapOf[HidAddress, hid.DeviceInfo]
	udev       *udev.Udev
	ready      chan struct{}
	publisher  usbsvc.BackendPublisher
}

func NewBackend(log *zap.Logger, opts ...Option) *Backend {
	options := defaultBackendOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Backend{
		log:        log,
		options:    options,
		ready:      make(chan struct{}),
		hidDevices: xsync.NewMapOf[HidAddress, hid.DeviceInfo](),
	}
}

func (b *Backend) Ready() <-chan struct{} {
	return b.ready
}

func (b *Backend) Start(ctx context.Context, publisher usbsvc.BackendPublisher) error {
	hid.Init()
	b.udev = &udev.Udev{}
	b.publisher = publisher

	b.log.Info("Starting Linux HID backend")
	if err := b.refreshHidDevices(ctx); err != nil {
		return fmt.Errorf("failed to refresh HID devices: %w", err)
	}
	close(b.ready)
	b.log.Info("Linux HID backend started")

	pollTicker := time.NewTicker(b.options.pollInterval)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			if err := b.refreshHidDevices(ctx); err != nil {
				b.log.Error("failed to refresh HID devices", zap.Error(err))
			}
		}
	}
}

func (b *Backend) refreshHidDevices(ctx context.Context) error {
	newDevices, err := b.enumerateHidDevices()
	if err != nil {
		return err
	}
	var disconnected []string
	var connected []usbsvc.BackendDevice
	b.hidDevices.Range(func(addr HidAddress, dev hid.DeviceInfo) bool {
		if _, ok := newDevices[addr]; !ok {
			disconnected = append(disconnected, addr.String())
			b.hidDevices.Delete(addr)
			return true
		}
		delete(newDevices, addr)
		return true
	})
	for addr, device := range newDevices {
		b.hidDevices.Store(addr, device)
		connected = append(connected, usbsvc.BackendDevice{
			ID:        addr.String(),
			Name:      generateName(device),
			VendorID:  device.VendorID,
			ProductID: device.ProductID,
		})
	}
	if len(connected) > 0 || len(disconnected) > 0 {
		b.publisher(ctx, usbsvc.BackendEvent{
			Connected:    connected,
			Disconnected: disconnected,
		})
	}
	return nil
}

func generateName(device hid.DeviceInfo) string {
	var parts []string
	if device.MfrStr != "" {
		parts = append(parts, device.MfrStr)
	}
	if device.ProductStr != "" {
		parts = append(parts, device.ProductStr)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%04x:%04x", device.VendorID, device.ProductID)
	}
	return strings.Join(parts, " ")
}

func (b *Backend) enumerateHidDevices() (map[HidAddress]hid.DeviceInfo, error) {
	devices := make(map[HidAddress]hid.DeviceInfo)
	err := hid.Enumerate(hid.VendorIDAny, hid.ProductIDAny, func(device *hid.DeviceInfo) error {
		if b.isExcluded(device) {
			return nil
		}
		addr := HidAddress{
			VendorID:  device.VendorID,
			ProductID: device.ProductID,
			Interface: device.InterfaceNbr,
		}
		devices[addr] = *device
		return nil
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

func (b *Backend) isExcluded(device *hid.DeviceInfo) bool {
	for _, key := range b.options.excluded {
		if device.VendorID == key.VendorID && device.ProductID == key.ProductID {
			return true
		}
	}
	return false
}

func (b *Backend) OpenDevice(id string) (usbsvc.InputDevice, error) {
	addr, err := ParseHidAddress(id)
	if err != nil {
		return nil, err
	}
	info, ok := b.hidDevices.Load(addr)
	if !ok {
		return nil, fmt.Errorf("device not found: %s", id)
	}
	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, err
	}
	handle := &hidapiDevice{
		b:    b,
		log:  b.log,
		info: info,
		dev:  dev,
	}
	if b.options.grab {
		release, err := handle.detachInputs()
		if err != nil {
			b.log.Warn("failed to detach device from input stack", zap.String("device", id), zap.Error(err))
		} else {
			handle.release = release
		}
	}
	return handle, nil
}

type hidapiDevice struct {
	b       *Backend
	log     *zap.Logger
	info    hid.DeviceInfo
	dev     *hid.Device
	release func()
}

// detachInputs removes the kernel's event nodes for this device so the
// bridged pointer does not also move the local cursor. The returned
// function reattaches them.
func (h *hidapiDevice) detachInputs() (func(), error) {
	hidrawDev := h.b.udev.NewDeviceFromSubsystemSysname("hidraw", filepath.Base(h.info.Path))
	if hidrawDev == nil {
		return nil, fmt.Errorf("hidraw device %s not found in udev", h.info.Path)
	}
	hidDev := hidrawDev.Parent()
	e := h.b.udev.NewEnumerate()
	e.AddMatchSubsystem("input")
	e.AddMatchParent(hidDev)
	inputs, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input devices: %w", err)
	}
	var detached []string
	for _, inputDev := range inputs {
		syspath := inputDev.Syspath()
		if !strings.HasPrefix(filepath.Base(syspath), "event") {
			continue
		}
		if err := os.WriteFile(syspath+"/uevent", []byte("remove"), 0644); err != nil {
			h.log.Error("failed to detach the input", zap.Error(err))
			continue
		}
		detached = append(detached, syspath)
	}
	return func() {
		for _, input := range detached {
			if err := os.WriteFile(input+"/uevent", []byte("add"), 0644); err != nil {
				h.log.Error("failed to attach the input", zap.Error(err))
			}
		}
	}, nil
}

func (h *hidapiDevice) Read(buf []byte) (int, error) {
	return h.dev.Read(buf)
}

func (h *hidapiDevice) GetReportDescriptor() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := h.dev.GetReportDescriptor(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *hidapiDevice) Close() error {
	if h.release != nil {
		h.release()
		h.release = nil
	}
	return h.dev.Close()
}
