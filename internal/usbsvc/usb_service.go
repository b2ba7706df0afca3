// Package usbsvc owns the incoming side of the bridge: it tracks attached
// USB HID devices, classifies them, and runs one bridge loop per device
// that feeds decoded traffic into the radio side.
package usbsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/hidlayout"
	"github.com/hidbridge/hidbridge/pkg/bus"
)

type Service struct {
	log     *zap.Logger
	db      *badger.DB
	options serviceOptions
	now     func() time.Time
	ready   chan struct{}
	sink    Sink

	backendBus *BackendBus
	deviceBus  *DeviceBus
	connected  *xsync.MapOf[Address, DeviceClass]
	loops      *xsync.MapOf[Address, context.CancelFunc]
}

type (
	BackendBus       = bus.Bus[string, BackendEvent]
	BackendPublisher = bus.Publisher[BackendEvent]

	DeviceEventType uint8
	DeviceBusKey    struct {
		Type DeviceEventType
		Addr Address
	}
	DeviceBus   = bus.Bus[DeviceBusKey, DeviceEvent]
	DeviceEvent struct {
		Class DeviceClass
	}
)

const (
	DeviceConnected DeviceEventType = iota
	DeviceDisconnected
)

// Sink receives bridged traffic; the radio service implements it.
type Sink interface {
	AddMotion(dx, dy int16, wheel int8, buttons uint8)
	ForwardKeyboard(report []byte) error
}

var defaultOptions = serviceOptions{
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	backends       map[string]Backend
	backoffTimeout time.Duration
}

type Option func(*serviceOptions)

func WithBackend(name string, backend Backend) Option {
	return func(o *serviceOptions) {
		o.backends[name] = backend
	}
}

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

func New(db *badger.DB, log *zap.Logger, sink Sink, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	options.backends = make(map[string]Backend)
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:        log,
		db:         db,
		options:    options,
		now:        now,
		ready:      make(chan struct{}),
		sink:       sink,
		backendBus: bus.New[string, BackendEvent](log),
		deviceBus:  bus.New[DeviceBusKey, DeviceEvent](log),
		connected:  xsync.NewMapOf[Address, DeviceClass](),
		loops:      xsync.NewMapOf[Address, context.CancelFunc](),
	}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.backendBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start backend bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.backendBus.Ready():
	}

	if err := s.deviceBus.Start(ctx); err != nil {
		return fmt.Errorf("failed to start device bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.deviceBus.Ready():
	}

	// Subscribe before any backend starts: the initial enumeration is
	// published exactly once, and the bus drops messages nobody listens to.
	backendEvents := s.backendBus.Subscribe(ctx)
	go s.consumeBackendEvents(ctx, backendEvents)

	for backendID := range s.options.backends {
		go s.runBackend(ctx, backendID)
	}
	for _, backend := range s.options.backends {
		select {
		case <-ctx.Done():
			return nil
		case <-backend.Ready():
		}
	}
	close(s.ready)
	s.log.Info("USB service started")
	<-ctx.Done()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) consumeBackendEvents(ctx context.Context, ch <-chan bus.Message[string, BackendEvent]) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			s.handleBackendEvent(ctx, msg.Key, msg.Message)
		}
	}
}

func (s *Service) runBackend(ctx context.Context, backendID string) {
	backend := s.options.backends[backendID]
	for {
		err := backend.Start(ctx, s.backendBus.CreatePublisher(backendID))
		if err != nil {
			s.log.Error("failed to start the backend", zap.String("backend", backendID), zap.Error(err))
		}
		t := time.NewTimer(s.options.backoffTimeout)
		// retry after backoff
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
		}
	}
}

func (s *Service) handleBackendEvent(ctx context.Context, backendID string, event BackendEvent) {
	for _, id := range event.Disconnected {
		s.onDeviceDisconnected(ctx, backendID, id)
	}
	for _, dev := range event.Connected {
		s.onDeviceConnected(ctx, backendID, dev)
	}
}

func (s *Service) onDeviceDisconnected(ctx context.Context, backendID, id string) {
	addr := Address{Backend: backendID, ID: id}
	if cancel, ok := s.loops.LoadAndDelete(addr); ok {
		cancel()
	}
	class, ok := s.connected.LoadAndDelete(addr)
	if !ok {
		return
	}
	s.log.Debug("device disconnected", zap.String("device", addr.String()))
	s.deviceBus.Publish(ctx, DeviceBusKey{Type: DeviceDisconnected, Addr: addr}, DeviceEvent{Class: class})
}

func (s *Service) onDeviceConnected(ctx context.Context, backendID string, bdev BackendDevice) {
	addr := Address{Backend: backendID, ID: bdev.ID}
	rec, err := s.recordDevice(addr, bdev)
	if err != nil {
		s.log.Error("failed to record device", zap.String("device", addr.String()), zap.Error(err))
	}

	dev, err := s.options.backends[backendID].OpenDevice(bdev.ID)
	if err != nil {
		s.log.Error("failed to open device", zap.String("device", addr.String()), zap.Error(err))
		return
	}

	desc, err := dev.GetReportDescriptor()
	if err != nil {
		// devices without a readable descriptor are still bridged,
		// using fixed-offset decoding
		s.log.Warn("failed to read report descriptor", zap.String("device", addr.String()), zap.Error(err))
		desc = nil
	}
	layouts := hidlayout.Extract(desc)
	class := DetectClass(desc, layouts)
	if desc == nil {
		class = ClassMouse
	}

	s.log.Info("device connected",
		zap.String("device", addr.String()),
		zap.String("name", rec.Name),
		zap.Stringer("class", class),
		zap.Time("firstSeenAt", rec.FirstSeenAt))

	s.connected.Store(addr, class)
	if class == ClassUnknown {
		dev.Close()
	} else {
		loopCtx, cancel := context.WithCancel(ctx)
		s.loops.Store(addr, cancel)
		go s.runBridge(loopCtx, addr, dev, layouts, class)
	}
	s.deviceBus.Publish(ctx, DeviceBusKey{Type: DeviceConnected, Addr: addr}, DeviceEvent{Class: class})
}

// SubscribeDevices exposes connect/disconnect events, primarily for the CLI
// and tests.
func (s *Service) SubscribeDevices(ctx context.Context, keys ...DeviceBusKey) <-chan bus.Message[DeviceBusKey, DeviceEvent] {
	return s.deviceBus.Subscribe(ctx, keys...)
}

func (s *Service) IsConnected(addr Address) bool {
	_, ok := s.connected.Load(addr)
	return ok
}

// Device is a registry record: identity plus when the bridge first and most
// recently saw the device.
type Device struct {
	Address     Address   `json:"address"`
	Name        string    `json:"name"`
	VendorID    uint16    `json:"vendorId"`
	ProductID   uint16    `json:"productId"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

func deviceKey(addr Address) []byte {
	return []byte(fmt.Sprintf("usb/devices/%s/%s", addr.Backend, addr.ID))
}

func (s *Service) recordDevice(addr Address, bdev BackendDevice) (Device, error) {
	var dev Device
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(addr)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device: %w", err)
			}
		}
		dev.Address = addr
		dev.Name = bdev.Name
		dev.VendorID = bdev.VendorID
		dev.ProductID = bdev.ProductID
		if dev.FirstSeenAt.IsZero() {
			dev.FirstSeenAt = now
		}
		dev.LastSeenAt = now
		b, err := json.Marshal(dev)
		if err != nil {
			return fmt.Errorf("failed to marshal device: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return Device{}, fmt.Errorf("failed to record device: %w", err)
	}
	return dev, nil
}

// ListDevices returns every device the bridge has ever recorded, connected
// or not.
func (s *Service) ListDevices() ([]Device, error) {
	var devices []Device
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("usb/devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var dev Device
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &dev)
			})
			if err != nil {
				return err
			}
			devices = append(devices, dev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return devices, nil
}

var ErrDeviceNotFound = errors.New("device not found")

func (s *Service) GetDevice(addr Address) (Device, error) {
	var dev Device
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(deviceKey(addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &dev)
		})
	})
	if err != nil {
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return dev, nil
}

type BackendEvent struct {
	Connected    []BackendDevice
	Disconnected []string
}

type BackendDevice struct {
	ID        string
	Name      string
	VendorID  uint16
	ProductID uint16
}

// Backend enumerates devices for one transport (hidraw via hidapi, in
// practice) and opens them for reading.
type Backend interface {
	Start(ctx context.Context, pub BackendPublisher) error
	Ready() <-chan struct{}
	OpenDevice(id string) (InputDevice, error)
}

// InputDevice is an open handle to one HID interface.
type InputDevice interface {
	io.ReadCloser
	GetReportDescriptor() ([]byte, error)
}

type Address struct {
	Backend string `json:"backend"`
	ID      string `json:"id"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%s", a.Backend, a.ID)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return Address{Backend: parts[0], ID: parts[1]}, nil
}
