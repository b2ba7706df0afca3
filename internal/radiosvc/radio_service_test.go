package radiosvc

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeLink struct {
	mu       sync.Mutex
	ready    bool
	motion   [][]byte
	keyboard [][]byte
}

func (f *fakeLink) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *fakeLink) setReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	f.mu.Unlock()
}

func (f *fakeLink) SendMotion(report []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return ErrNotReady
	}
	f.motion = append(f.motion, append([]byte(nil), report...))
	return nil
}

func (f *fakeLink) SendKeyboard(report []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ready {
		return ErrNotReady
	}
	f.keyboard = append(f.keyboard, append([]byte(nil), report...))
	return nil
}

func (f *fakeLink) Close() error { return nil }

func (f *fakeLink) motionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.motion)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServiceSendsQueuedMotion(t *testing.T) {
	link := &fakeLink{ready: true}
	svc := New(zap.NewNop(), link, WithSendInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	<-svc.Ready()

	svc.AddMotion(5, -3, 0, 0x01)
	waitFor(t, func() bool { return link.motionCount() > 0 }, "motion never transmitted")

	link.mu.Lock()
	report := link.motion[0]
	link.mu.Unlock()
	if report[0] != 0x01 {
		t.Errorf("buttons byte = %#x, want 0x01", report[0])
	}
}

func TestServiceClearsBacklogOnSessionLoss(t *testing.T) {
	link := &fakeLink{ready: false}
	svc := New(zap.NewNop(), link, WithSendInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)
	<-svc.Ready()

	// establish a session so the drop below is a transition
	link.setReady(true)
	svc.AddMotion(1, 0, 0, 0)
	waitFor(t, func() bool { return link.motionCount() > 0 }, "motion never transmitted")

	link.setReady(false)
	svc.AddMotion(100, 100, 0, 0)
	waitFor(t, func() bool { return svc.Stats().Queued == 0 }, "backlog not cleared on session loss")

	// a fresh session must not replay the stale motion
	before := link.motionCount()
	link.setReady(true)
	time.Sleep(20 * time.Millisecond)
	if link.motionCount() != before {
		t.Errorf("stale motion transmitted after session loss")
	}
}

func TestForwardKeyboard(t *testing.T) {
	link := &fakeLink{}
	svc := New(zap.NewNop(), link)

	if err := svc.ForwardKeyboard([]byte{0, 0, 0x04, 0, 0, 0, 0, 0}); err != ErrNotReady {
		t.Errorf("got %v, want ErrNotReady while link is down", err)
	}

	link.setReady(true)
	if err := svc.ForwardKeyboard([]byte{0, 0, 0x04, 0, 0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if len(link.keyboard) != 1 {
		t.Errorf("keyboard reports = %d, want 1", len(link.keyboard))
	}
}
