package usbsvc

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/hidlayout"
	"github.com/hidbridge/hidbridge/internal/ratematch"
)

const readBufferSize = 64

// runBridge is the per-device loop: read raw reports, decode or forward,
// until the device disappears or the context is canceled.
func (s *Service) runBridge(ctx context.Context, addr Address, dev InputDevice, layouts hidlayout.Layouts, class DeviceClass) {
	log := s.log.Named("bridge").With(zap.String("device", addr.String()), zap.Stringer("class", class))
	defer dev.Close()
	// Read has no context; closing the handle is what unblocks it
	go func() {
		<-ctx.Done()
		dev.Close()
	}()

	decoder := hidlayout.NewDecoder(layouts)
	buf := make([]byte, readBufferSize)
	for {
		n, err := dev.Read(buf)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		if n == 0 {
			continue
		}
		switch class {
		case ClassMouse:
			if m, ok := decoder.Decode(buf[:n]); ok {
				s.sink.AddMotion(m.DX, m.DY, m.Wheel, m.Buttons)
			}
		case ClassKeyboard:
			report := make([]byte, n)
			copy(report, buf[:n])
			if err := s.sink.ForwardKeyboard(report); err != nil && !errors.Is(err, ratematch.ErrNotReady) {
				log.Warn("keyboard forward failed", zap.Error(err))
			}
		}
	}
}
