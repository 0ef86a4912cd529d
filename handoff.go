package yozora

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// BufferSink accepts imported buffers. BufferChannel is the production
// implementation; tests substitute their own.
type BufferSink interface {
	Send(buf *Dmabuf) error
}

// BufferChannel is an unbounded multi-producer multi-consumer FIFO of
// imported dmabufs. It is the only state shared between the protocol
// goroutine and the rendering goroutine. Create one at startup and hand it
// to both sides.
type BufferChannel struct {
	mu     sync.Mutex
	queue  []*Dmabuf
	head   int
	ready  chan struct{} // closed and replaced on every Send
	closed bool
}

// NewBufferChannel creates an empty channel
func NewBufferChannel() *BufferChannel {
	return &BufferChannel{
		ready: make(chan struct{}),
	}
}

// Send enqueues buf. It never blocks and never drops; it fails only once
// the channel has been closed, in which case the caller keeps ownership
// of buf.
func (ch *BufferChannel) Send(buf *Dmabuf) error {
	if buf == nil {
		return errors.New("send nil buffer")
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrChannelClosed
	}
	ch.queue = append(ch.queue, buf)
	close(ch.ready)
	ch.ready = make(chan struct{})
	return nil
}

// Receive waits for the next buffer. Each buffer is delivered to exactly
// one receiver, in the order it was sent. It returns ctx.Err() when ctx is
// done and ErrChannelClosed once the channel is closed.
func (ch *BufferChannel) Receive(ctx context.Context) (*Dmabuf, error) {
	for {
		ch.mu.Lock()
		if buf, ok := ch.popLocked(); ok {
			ch.mu.Unlock()
			return buf, nil
		}
		if ch.closed {
			ch.mu.Unlock()
			return nil, ErrChannelClosed
		}
		ready := ch.ready
		ch.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive returns the next buffer without waiting
func (ch *BufferChannel) TryReceive() (*Dmabuf, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.popLocked()
}

// Len returns the number of queued buffers
func (ch *BufferChannel) Len() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.queue) - ch.head
}

// Close stops the channel. Queued buffers are closed so their file
// descriptors do not leak, and waiting receivers return ErrChannelClosed.
func (ch *BufferChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	pending := ch.queue[ch.head:]
	ch.queue = nil
	ch.head = 0
	close(ch.ready)
	ch.mu.Unlock()

	for _, buf := range pending {
		_ = buf.Close()
	}
	return nil
}

func (ch *BufferChannel) popLocked() (*Dmabuf, bool) {
	if ch.head >= len(ch.queue) {
		return nil, false
	}
	buf := ch.queue[ch.head]
	ch.queue[ch.head] = nil
	ch.head++
	if ch.head == len(ch.queue) {
		ch.queue = ch.queue[:0]
		ch.head = 0
	}
	return buf, true
}
