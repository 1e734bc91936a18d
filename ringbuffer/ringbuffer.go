// Package ringbuffer keeps the most recent frames of a stream so a clip
// spanning the moments before and after an event can be produced.
package ringbuffer

import "math"

// Capacity returns the number of frames covering preSeconds+postSeconds at fps, never less than 1
func Capacity(preSeconds, postSeconds, fps float64) int {
	capacity := int(math.Round((preSeconds + postSeconds) * fps))
	if capacity < 1 {
		return 1
	}
	return capacity
}

// Option configures Buffer
type Option[F any] func(*Buffer[F])

// WithClone makes Snapshot hand out copies produced by clone instead of the stored values.
// Needed when frames are references to mutable or reclaimable memory.
func WithClone[F any](clone func(F) F) Option[F] {
	return func(b *Buffer[F]) {
		b.clone = clone
	}
}

// WithRelease registers a callback invoked for every frame the buffer drops (eviction and Reset)
func WithRelease[F any](release func(F)) Option[F] {
	return func(b *Buffer[F]) {
		b.release = release
	}
}

// Buffer is a fixed-capacity FIFO of frames. It is not safe for concurrent use:
// a single pipeline worker owns it.
type Buffer[F any] struct {
	frames []F
	// Index of the oldest frame
	head int
	size int
	// Capacity has been reached at least once since creation or Reset
	full    bool
	clone   func(F) F
	release func(F)
}

// New creates buffer holding at most capacity frames. Capacity below 1 is raised to 1.
func New[F any](capacity int, opts ...Option[F]) *Buffer[F] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[F]{
		frames: make([]F, capacity),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends frame, evicting the oldest one once at capacity
func (b *Buffer[F]) Push(frame F) {
	capacity := len(b.frames)
	if b.size < capacity {
		b.frames[(b.head+b.size)%capacity] = frame
		b.size++
		if b.size == capacity {
			b.full = true
		}
		return
	}
	evicted := b.frames[b.head]
	b.frames[b.head] = frame
	b.head = (b.head + 1) % capacity
	if b.release != nil {
		b.release(evicted)
	}
}

// IsFull reports whether capacity has been reached since creation or the last Reset
func (b *Buffer[F]) IsFull() bool {
	return b.full
}

// Len returns number of held frames
func (b *Buffer[F]) Len() int {
	return b.size
}

// Cap returns buffer capacity
func (b *Buffer[F]) Cap() int {
	return len(b.frames)
}

// Snapshot returns held frames oldest first. The returned slice is independent of the buffer.
func (b *Buffer[F]) Snapshot() []F {
	out := make([]F, b.size)
	capacity := len(b.frames)
	for i := 0; i < b.size; i++ {
		frame := b.frames[(b.head+i)%capacity]
		if b.clone != nil {
			frame = b.clone(frame)
		}
		out[i] = frame
	}
	return out
}

// Reset drops every held frame
func (b *Buffer[F]) Reset() {
	var zero F
	capacity := len(b.frames)
	for i := 0; i < b.size; i++ {
		idx := (b.head + i) % capacity
		if b.release != nil {
			b.release(b.frames[idx])
		}
		b.frames[idx] = zero
	}
	b.head = 0
	b.size = 0
	b.full = false
}
