// Package ratematch aggregates decoded pointer events arriving at the
// device's native report rate into outgoing reports paced by the radio
// link. Deltas accumulate losslessly between sends; whatever does not fit
// into one outgoing report is carried over as a residual and flushed on
// later ticks.
package ratematch

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DefaultCapacity is the event queue depth. At a 1 kHz device rate it
// covers 128 ms of backlog before the oldest events are dropped.
const DefaultCapacity = 128

// ErrNotReady is returned by transports that currently have no link to
// send on. It is an expected steady-state condition, not a fault.
var ErrNotReady = errors.New("transport not ready")

// Transport is the outgoing side of the bridge. Send blocks at most for
// one report's transmission; implementations return ErrNotReady while no
// session is established.
type Transport interface {
	Ready() bool
	Send(report []byte) error
}

// ReportFormat describes the shape of the outgoing mouse report:
// one button byte, X and Y at XYBits each (little-endian), then a wheel
// field of WheelBits. ButtonCount masks the button byte.
type ReportFormat struct {
	XYBits      int
	WheelBits   int
	ButtonCount int
}

// DefaultFormat is the 6-byte wide-delta report.
var DefaultFormat = ReportFormat{XYBits: 16, WheelBits: 8, ButtonCount: 3}

func (f ReportFormat) size() int {
	return 1 + 2*(f.XYBits/8) + f.WheelBits/8
}

func (f ReportFormat) buttonMask() uint8 {
	return uint8(1<<f.ButtonCount) - 1
}

// Engine owns the event queue and the residuals for one pointer stream.
// Producers call Add from the device read loop; the radio tick calls
// TrySend. Send happens outside the lock, so a slow transport never stalls
// the producer.
type Engine struct {
	transport Transport
	format    ReportFormat
	log       *zap.Logger
	now       func() time.Time

	mu            sync.Mutex
	ring          ring
	residualX     int32
	residualY     int32
	residualWheel int32
	lastSent      uint8 // button state as last transmitted
	lastQueued    uint8 // button state as last queued, for edge detection

	pushed       atomic.Uint64
	popped       atomic.Uint64
	sent         atomic.Uint64
	sendFailures atomic.Uint64
	overflow     atomic.Uint64
}

type Option func(*Engine)

func WithCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.ring = newRing(n)
		}
	}
}

func WithFormat(f ReportFormat) Option {
	return func(e *Engine) { e.format = f }
}

// WithNow overrides the clock, for tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(log *zap.Logger, transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		format:    DefaultFormat,
		log:       log,
		now:       time.Now,
		ring:      newRing(DefaultCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Add queues one decoded event. When the queue is full the oldest event is
// dropped and the overflow counter incremented; deltas of dropped events
// are lost, which under sustained overload biases toward fresh motion.
func (e *Engine) Add(dx, dy int16, wheel int8, buttons uint8) {
	e.mu.Lock()
	ev := Event{
		Timestamp:     e.now(),
		DX:            dx,
		DY:            dy,
		Wheel:         wheel,
		Buttons:       buttons,
		ButtonChanged: buttons != e.lastQueued,
	}
	e.lastQueued = buttons
	evicted := e.ring.push(ev)
	e.mu.Unlock()

	e.pushed.Inc()
	if evicted {
		e.overflow.Inc()
	}
}

// TrySend aggregates everything queued up to now into one outgoing report
// and transmits it. Queued events are only removed after the transport
// accepts the report; on failure they stay queued, residuals stay intact,
// and the next tick retries with the same data plus whatever arrived since.
//
// A tick with nothing to say (no motion, no button edge, no residual) sends
// nothing. An unready transport is not an error.
func (e *Engine) TrySend() error {
	if !e.transport.Ready() {
		return nil
	}
	now := e.now()

	e.mu.Lock()
	sumX := e.residualX
	sumY := e.residualY
	sumWheel := e.residualWheel
	hadResidual := sumX != 0 || sumY != 0 || sumWheel != 0

	buttons := e.lastSent
	scanned := 0
	motion := false
	buttonEdge := false
	for scanned < e.ring.len() {
		ev := e.ring.at(scanned)
		if ev.Timestamp.After(now) {
			break
		}
		sumX += int32(ev.DX)
		sumY += int32(ev.DY)
		sumWheel += int32(ev.Wheel)
		if ev.DX != 0 || ev.DY != 0 || ev.Wheel != 0 {
			motion = true
		}
		if ev.ButtonChanged {
			buttonEdge = true
		}
		buttons = ev.Buttons
		scanned++
	}
	if scanned == 0 && !hadResidual {
		e.mu.Unlock()
		return nil
	}
	if !motion && !buttonEdge && !hadResidual {
		// all-zero events with steady buttons carry no information
		e.ring.popN(scanned)
		e.popped.Add(uint64(scanned))
		e.mu.Unlock()
		return nil
	}
	startSeq := e.ring.seq
	e.mu.Unlock()

	dx, resX := clampSplit(sumX, e.format.XYBits)
	dy, resY := clampSplit(sumY, e.format.XYBits)
	wheel, resWheel := clampSplit(sumWheel, e.format.WheelBits)
	report := e.buildReport(buttons, dx, dy, wheel)

	if err := e.transport.Send(report); err != nil {
		e.sendFailures.Inc()
		if !errors.Is(err, ErrNotReady) {
			e.log.Warn("send failed", zap.Error(err))
		}
		return err
	}

	e.mu.Lock()
	// Overflow may have evicted some of the scanned events while the lock
	// was released; seq tells how many, so only the survivors are popped.
	if remaining := scanned - int(e.ring.seq-startSeq); remaining > 0 {
		e.ring.popN(remaining)
		e.popped.Add(uint64(remaining))
	}
	e.residualX = resX
	e.residualY = resY
	e.residualWheel = resWheel
	e.lastSent = buttons
	e.mu.Unlock()

	e.sent.Inc()
	return nil
}

// Clear drops all queued events and residuals, typically on session teardown
// so a stale backlog never replays into a fresh session. Counters other than
// the queue length are preserved.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.ring.clear()
	e.residualX = 0
	e.residualY = 0
	e.residualWheel = 0
	e.lastSent = 0
	e.lastQueued = 0
	e.mu.Unlock()
}

type Stats struct {
	Pushed       uint64
	Popped       uint64
	Sent         uint64
	SendFailures uint64
	Overflow     uint64
	Queued       int
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	queued := e.ring.len()
	e.mu.Unlock()
	return Stats{
		Pushed:       e.pushed.Load(),
		Popped:       e.popped.Load(),
		Sent:         e.sent.Load(),
		SendFailures: e.sendFailures.Load(),
		Overflow:     e.overflow.Load(),
		Queued:       queued,
	}
}

// clampSplit saturates v to a signed field of the given width and returns
// the clamped value plus the leftover carried into the next report. The
// bound is symmetric: a 16-bit field clamps to -32767..32767.
func clampSplit(v int32, bits int) (int32, int32) {
	max := int32(1)<<(bits-1) - 1
	min := -max
	switch {
	case v > max:
		return max, v - max
	case v < min:
		return min, v - min
	default:
		return v, 0
	}
}

func (e *Engine) buildReport(buttons uint8, dx, dy, wheel int32) []byte {
	buf := make([]byte, 0, e.format.size())
	buf = append(buf, buttons&e.format.buttonMask())
	buf = appendLE(buf, dx, e.format.XYBits/8)
	buf = appendLE(buf, dy, e.format.XYBits/8)
	buf = appendLE(buf, wheel, e.format.WheelBits/8)
	return buf
}

func appendLE(buf []byte, v int32, bytes int) []byte {
	for i := 0; i < bytes; i++ {
		buf = append(buf, byte(uint32(v)>>(8*i)))
	}
	return buf
}
