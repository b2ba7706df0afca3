// Package radiosvc owns the outgoing side of the bridge: it paces the
// rate-matching engine at the radio link's report interval and forwards
// keyboard traffic straight through.
package radiosvc

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hidbridge/hidbridge/internal/ratematch"
)

// DefaultSendInterval matches the 7.5 ms connection interval of the
// radio link.
const DefaultSendInterval = 7500 * time.Microsecond

// ErrNotReady is returned while no radio session is established.
var ErrNotReady = ratematch.ErrNotReady

// Transport is one radio (or virtual) link. Implementations return
// ErrNotReady from the send methods while Ready reports false.
type Transport interface {
	Ready() bool
	SendMotion(report []byte) error
	SendKeyboard(report []byte) error
	Close() error
}

// motionSender adapts Transport to the rate-matching engine.
type motionSender struct {
	t Transport
}

func (m motionSender) Ready() bool         { return m.t.Ready() }
func (m motionSender) Send(b []byte) error { return m.t.SendMotion(b) }

type Service struct {
	log       *zap.Logger
	transport Transport
	engine    *ratematch.Engine
	interval  time.Duration
	ready     chan struct{}
}

type Option func(*Service)

func WithSendInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithEngineOptions passes options through to the rate-matching engine.
func WithEngineOptions(opts ...ratematch.Option) Option {
	return func(s *Service) {
		s.engine = ratematch.New(s.log.Named("ratematch"), motionSender{s.transport}, opts...)
	}
}

func New(log *zap.Logger, transport Transport, opts ...Option) *Service {
	s := &Service{
		log:       log,
		transport: transport,
		interval:  DefaultSendInterval,
		ready:     make(chan struct{}),
	}
	s.engine = ratematch.New(log.Named("ratematch"), motionSender{transport})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the send loop until ctx is done. Each tick transmits at most
// one aggregated mouse report; a session drop clears the backlog so stale
// motion never replays into the next session.
func (s *Service) Start(ctx context.Context) error {
	defer s.transport.Close()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	close(s.ready)
	s.log.Info("Radio service started", zap.Duration("interval", s.interval))

	up := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !s.transport.Ready() {
				if up {
					s.log.Info("Radio session lost")
					up = false
				}
				// motion arriving while no session exists is
				// discarded rather than replayed on reconnect
				s.engine.Clear()
				continue
			}
			if !up {
				s.log.Info("Radio session established")
				up = true
			}
			// failures are counted and logged by the engine; the
			// loop keeps ticking
			_ = s.engine.TrySend()
		}
	}
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// AddMotion queues one decoded pointer event for the next send tick.
func (s *Service) AddMotion(dx, dy int16, wheel int8, buttons uint8) {
	s.engine.Add(dx, dy, wheel, buttons)
}

// ForwardKeyboard sends a keyboard report immediately; key events are not
// rate-matched, only dropped while no session exists.
func (s *Service) ForwardKeyboard(report []byte) error {
	if !s.transport.Ready() {
		return ErrNotReady
	}
	return s.transport.SendKeyboard(report)
}

func (s *Service) Stats() ratematch.Stats {
	return s.engine.Stats()
}
