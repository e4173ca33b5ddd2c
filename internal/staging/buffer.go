// Package staging implements the bounded buffer that sits between the
// socket reader and the codec stage of a relay pipeline.
//
// One goroutine fills (Reserve/Commit/Complete) and one goroutine
// drains (Peek/Release).  The buffer never grows: a full buffer parks
// the filler and an empty one parks the drainer, which is the only
// backpressure between a fast sender and a slow receiver.  Unreleased
// bytes stay at the front and are offered again by the next Peek, and
// the readable bytes are always one contiguous slice.
package staging

import (
	"context"
	"sync"
)

// Buffer is a fixed-capacity single-producer, single-consumer byte
// queue.
type Buffer struct {
	mu       sync.Mutex
	buf      []byte
	r, w     int  // readable region is buf[r:w]
	reserved bool // filler holds buf[w:...]
	held     bool // drainer holds buf[r:w]
	done     bool // write side complete
	changed  chan struct{}
}

// New returns an empty buffer holding at most capacity bytes.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		buf:     make([]byte, capacity),
		changed: make(chan struct{}),
	}
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.buf) }

// Len returns the number of unreleased bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.w - b.r
}

// Reserve blocks until there is free space and returns a writable
// region of at most size bytes.  The caller fills a prefix of it and
// reports the length with Commit before calling Reserve again.
func (b *Buffer) Reserve(ctx context.Context, size int) ([]byte, error) {
	if size < 1 {
		size = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if !b.held && b.r > 0 && (b.r == b.w || len(b.buf)-b.w < size) {
			b.compactLocked()
		}
		if free := len(b.buf) - b.w; free > 0 {
			b.reserved = true
			return b.buf[b.w : b.w+min(size, free)], nil
		}
		if err := b.waitLocked(ctx); err != nil {
			return nil, err
		}
	}
}

// Commit publishes n bytes written into the region returned by the
// last Reserve.
func (b *Buffer) Commit(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.w += n
	b.reserved = false
	b.notifyLocked()
}

// Complete marks the write side finished.  Peek reports it once the
// remaining bytes are all that is left.
func (b *Buffer) Complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
	b.reserved = false
	b.notifyLocked()
}

// Peek blocks until at least atLeast bytes are readable or the write
// side is complete, then returns every unreleased byte.  done reports
// that no more bytes will arrive.  The slice stays valid until the
// next Release.
func (b *Buffer) Peek(ctx context.Context, atLeast int) (data []byte, done bool, err error) {
	if atLeast < 1 {
		atLeast = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	// A request larger than the buffer can only be met by the end of
	// input; cap it so a full buffer still wakes the caller.
	atLeast = min(atLeast, len(b.buf))

	for b.w-b.r < atLeast && !b.done {
		if err := b.waitLocked(ctx); err != nil {
			return nil, false, err
		}
	}
	b.held = true
	return b.buf[b.r:b.w], b.done, nil
}

// Release discards n bytes from the front, ending the hold taken by
// Peek.  The rest will be offered again.
func (b *Buffer) Release(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.w-b.r {
		panic("staging: release beyond readable data")
	}
	b.r += n
	b.held = false
	if b.r == b.w && !b.reserved {
		b.r, b.w = 0, 0
	}
	b.notifyLocked()
}

// compactLocked moves the readable bytes to the front.  Only legal
// while neither side holds a slice into the buffer.
func (b *Buffer) compactLocked() {
	n := copy(b.buf, b.buf[b.r:b.w])
	b.r, b.w = 0, n
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// waitLocked releases the lock until the next state change or ctx
// expiry.
func (b *Buffer) waitLocked(ctx context.Context) error {
	ch := b.changed
	b.mu.Unlock()
	defer b.mu.Lock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
