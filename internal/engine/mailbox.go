package engine

import (
	"context"
	"sync"
)

// Mailbox buffers values for one consumer according to a Handler: Fifo
// blocks the producer while full, Ring evicts the oldest value. The channel
// returned by C is closed by Close.
type Mailbox[T any] struct {
	kind HandlerKind
	ch   chan T

	// Producers hold mu for reading; Close takes it for writing so ch is
	// never closed under a sender.
	mu     sync.RWMutex
	ringMu sync.Mutex
	done   chan struct{}
	once   sync.Once
}

// NewMailbox builds a mailbox for h, which must be valid.
func NewMailbox[T any](h Handler) *Mailbox[T] {
	return &Mailbox[T]{
		kind: h.Kind,
		ch:   make(chan T, h.Capacity),
		done: make(chan struct{}),
	}
}

func (m *Mailbox[T]) C() <-chan T {
	return m.ch
}

// Len reports how many values are buffered.
func (m *Mailbox[T]) Len() int {
	return len(m.ch)
}

// Deliver reports whether v was queued.
func (m *Mailbox[T]) Deliver(ctx context.Context, v T) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	select {
	case <-m.done:
		return false
	default:
	}
	if m.kind == HandlerRing {
		m.ringMu.Lock()
		defer m.ringMu.Unlock()
		for {
			select {
			case m.ch <- v:
				return true
			default:
			}
			select {
			case <-m.ch:
			default:
			}
		}
	}
	select {
	case m.ch <- v:
		return true
	case <-ctx.Done():
		return false
	case <-m.done:
		return false
	}
}

func (m *Mailbox[T]) Close() {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		close(m.ch)
		m.mu.Unlock()
	})
}

func (m *Mailbox[T]) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
