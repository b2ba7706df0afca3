// Package bus provides a small typed publish/subscribe fan-out used to
// decouple the device side of the bridge from the radio side.
package bus

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Message pairs a routing key with a payload.
type Message[K comparable, M any] struct {
	Key     K
	Message M
}

// Publisher is a pre-bound publish function for one key.
type Publisher[M any] func(ctx context.Context, msg M)

// Bus delivers messages to all global subscribers and to subscribers of the
// message's key. Delivery is sequential in one worker goroutine, so
// subscribers observe messages in publish order.
type Bus[K comparable, M any] struct {
	log   *zap.Logger
	ready chan struct{}

	ch         chan Message[K, M]
	keySubs    *xsync.MapOf[K, map[*subscriber[K, M]]struct{}]
	globalSubs *xsync.MapOf[*subscriber[K, M], struct{}]
}

// subscriber pairs the delivery channel with a done signal so the worker can
// skip a subscriber that unsubscribed after the current dispatch snapshot
// was taken.
type subscriber[K comparable, M any] struct {
	ch   chan Message[K, M]
	done chan struct{}
}

func New[K comparable, M any](logger *zap.Logger) *Bus[K, M] {
	return &Bus[K, M]{
		log:        logger,
		ready:      make(chan struct{}),
		ch:         make(chan Message[K, M]),
		keySubs:    xsync.NewMapOf[K, map[*subscriber[K, M]]struct{}](),
		globalSubs: xsync.NewMapOf[*subscriber[K, M], struct{}](),
	}
}

func (b *Bus[K, M]) Start(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-b.ch:
				b.dispatch(ctx, msg)
			}
		}
	}()
	close(b.ready)
	return nil
}

func (b *Bus[K, M]) Ready() <-chan struct{} {
	return b.ready
}

// Publish blocks until the worker accepts the message or ctx is done.
func (b *Bus[K, M]) Publish(ctx context.Context, key K, msg M) {
	select {
	case <-ctx.Done():
	case b.ch <- Message[K, M]{Key: key, Message: msg}:
	}
}

func (b *Bus[K, M]) CreatePublisher(key K) Publisher[M] {
	return func(ctx context.Context, msg M) {
		b.Publish(ctx, key, msg)
	}
}

func (b *Bus[K, M]) dispatch(ctx context.Context, msg Message[K, M]) {
	b.globalSubs.Range(func(sub *subscriber[K, M], _ struct{}) bool {
		b.deliver(ctx, sub, msg)
		return true
	})
	subs, ok := b.keySubs.Load(msg.Key)
	if !ok {
		return
	}
	for sub := range subs {
		b.deliver(ctx, sub, msg)
	}
}

func (b *Bus[K, M]) deliver(ctx context.Context, sub *subscriber[K, M], msg Message[K, M]) {
	select {
	case <-ctx.Done():
	case <-sub.done:
	case sub.ch <- msg:
	}
}

// Subscribe returns a channel receiving every message published to any of
// the given keys, or every message when called without keys. The channel is
// never closed; receivers should select on their own ctx alongside it.
func (b *Bus[K, M]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, M] {
	sub := &subscriber[K, M]{
		ch:   make(chan Message[K, M]),
		done: make(chan struct{}),
	}
	if len(keys) == 0 {
		b.globalSubs.Store(sub, struct{}{})
		go func() {
			<-ctx.Done()
			b.globalSubs.Delete(sub)
			close(sub.done)
		}()
		return sub.ch
	}
	for _, k := range keys {
		b.keySubs.Compute(k, func(val map[*subscriber[K, M]]struct{}, _ bool) (map[*subscriber[K, M]]struct{}, bool) {
			// copy on write: dispatch ranges over the stored map unlocked
			next := make(map[*subscriber[K, M]]struct{}, len(val)+1)
			for s := range val {
				next[s] = struct{}{}
			}
			next[sub] = struct{}{}
			return next, false
		})
	}
	go func() {
		<-ctx.Done()
		for _, k := range keys {
			b.keySubs.Compute(k, func(val map[*subscriber[K, M]]struct{}, ok bool) (map[*subscriber[K, M]]struct{}, bool) {
				if !ok {
					return nil, true
				}
				next := make(map[*subscriber[K, M]]struct{}, len(val))
				for s := range val {
					if s != sub {
						next[s] = struct{}{}
					}
				}
				return next, len(next) == 0
			})
		}
		close(sub.done)
	}()
	return sub.ch
}
