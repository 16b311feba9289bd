// Package streambuf provides the single-producer/single-consumer block queue
// that connects the acquisition, decoding and output stages.
package streambuf

import "sync"

// Buffer is a concurrent-safe FIFO of sample blocks with an end-of-stream
// marker. It is unbounded: Push never blocks.
type Buffer[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	blocks [][]T
	queued int
	end    bool
}

// New creates an empty Buffer.
func New[T any]() *Buffer[T] {
	b := &Buffer[T]{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends a block to the tail of the buffer and wakes any waiting
// consumer. Empty blocks are ignored.
func (b *Buffer[T]) Push(block []T) {
	if len(block) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.end {
		// Pushing after PushEnd is a programming error.
		panic("push to ended stream buffer")
	}
	b.blocks = append(b.blocks, block)
	b.queued += len(block)
	b.cond.Broadcast()
}

// PushEnd marks that no further blocks will be pushed and wakes all waiters.
// It may be called more than once.
func (b *Buffer[T]) PushEnd() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.end = true
	b.cond.Broadcast()
}

// Pull removes and returns the oldest block, blocking until one is available.
// It returns nil only once the end of the stream is reached.
func (b *Buffer[T]) Pull() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.blocks) == 0 && !b.end {
		b.cond.Wait()
	}
	if len(b.blocks) == 0 {
		return nil
	}

	block := b.blocks[0]
	b.blocks[0] = nil
	b.blocks = b.blocks[1:]
	b.queued -= len(block)
	b.cond.Broadcast()
	return block
}

// WaitForFill blocks until at least n samples are queued or the end of the
// stream is set. It does not consume anything.
func (b *Buffer[T]) WaitForFill(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.queued < n && !b.end {
		b.cond.Wait()
	}
}

// QueuedSamples returns the number of samples waiting in the buffer. Use it
// for flow control only.
func (b *Buffer[T]) QueuedSamples() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.queued
}

// EndReached reports whether the end of the stream was pushed and every block
// has been pulled.
func (b *Buffer[T]) EndReached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end && len(b.blocks) == 0
}
