package bus

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestKeyAndGlobalDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, int](zap.NewNop())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-b.Ready()

	keyed := b.Subscribe(ctx, "a")
	global := b.Subscribe(ctx)

	go b.Publish(ctx, "a", 1)
	go b.Publish(ctx, "b", 2)

	gotKeyed := map[int]bool{}
	gotGlobal := map[int]bool{}
	timeout := time.After(2 * time.Second)
	for len(gotGlobal) < 2 || len(gotKeyed) < 1 {
		select {
		case msg := <-keyed:
			if msg.Key != "a" {
				t.Errorf("keyed subscriber got key %q", msg.Key)
			}
			gotKeyed[msg.Message] = true
		case msg := <-global:
			gotGlobal[msg.Message] = true
		case <-timeout:
			t.Fatalf("timed out: keyed=%v global=%v", gotKeyed, gotGlobal)
		}
	}
	if !gotKeyed[1] || gotKeyed[2] {
		t.Errorf("keyed subscriber got %v, want only message 1", gotKeyed)
	}
}

// Exercises dispatch racing against subscriber churn on the same key; run
// with -race to catch unsynchronized access to the subscriber set.
func TestSubscriberChurnDuringDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, int](zap.NewNop())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-b.Ready()

	const n = 100
	sub := b.Subscribe(ctx, "k")

	churnDone := make(chan struct{})
	go func() {
		defer close(churnDone)
		for i := 0; i < n; i++ {
			churnCtx, churnCancel := context.WithCancel(ctx)
			churn := b.Subscribe(churnCtx, "k")
			go func() {
				for {
					select {
					case <-churnCtx.Done():
						return
					case <-churn:
					}
				}
			}()
			churnCancel()
		}
	}()

	go func() {
		for i := 0; i < n; i++ {
			b.Publish(ctx, "k", i)
		}
	}()

	for i := 0; i < n; i++ {
		select {
		case msg := <-sub:
			if msg.Message != i {
				t.Fatalf("got message %d, want %d", msg.Message, i)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never delivered", i)
		}
	}
	<-churnDone
}

func TestPublisherBinding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New[string, string](zap.NewNop())
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-b.Ready()

	sub := b.Subscribe(ctx, "dev1")
	pub := b.CreatePublisher("dev1")
	go pub(ctx, "hello")

	select {
	case msg := <-sub:
		if msg.Message != "hello" {
			t.Errorf("got %q", msg.Message)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message never delivered")
	}
}
