package ratematch

import "time"

// Event is one decoded input report queued for aggregation. ButtonChanged
// is stamped by the producer by comparing against the previously queued
// button state, so button edges survive aggregation even when the report
// carries no motion.
type Event struct {
	Timestamp     time.Time
	DX            int16
	DY            int16
	Wheel         int8
	Buttons       uint8
	ButtonChanged bool
}

// ring is a fixed-capacity queue that drops the oldest entry when full.
// seq counts every entry ever removed from the tail, by pop or by
// eviction, so a consumer that scanned the queue and released the lock can
// later tell how many of its scanned entries are still present.
type ring struct {
	buf   []Event
	head  int
	count int
	seq   uint64
}

func newRing(capacity int) ring {
	return ring{buf: make([]Event, capacity)}
}

// push appends an event, evicting the oldest one when the ring is full.
// It reports whether an eviction happened.
func (r *ring) push(ev Event) bool {
	evicted := false
	if r.count == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.count--
		r.seq++
		evicted = true
	}
	r.buf[(r.head+r.count)%len(r.buf)] = ev
	r.count++
	return evicted
}

// at returns the i-th event counted from the tail (oldest first). The
// caller must ensure i < len().
func (r *ring) at(i int) Event {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) len() int {
	return r.count
}

// popN removes up to n events from the tail.
func (r *ring) popN(n int) {
	if n > r.count {
		n = r.count
	}
	r.head = (r.head + n) % len(r.buf)
	r.count -= n
	r.seq += uint64(n)
}

// clear empties the ring. The removed entries still advance seq, so a
// commit that raced with the clear will find nothing left to pop.
func (r *ring) clear() {
	r.seq += uint64(r.count)
	r.head = 0
	r.count = 0
}
