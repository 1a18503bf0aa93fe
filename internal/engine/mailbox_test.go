package engine

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/zremote/internal/testutil/testlog"
)

func TestHandlerValidate(t *testing.T) {
	testlog.Start(t)
	for _, h := range []Handler{{HandlerFifo, 1}, {HandlerRing, 64}} {
		if err := h.Validate(); err != nil {
			t.Fatalf("%+v: %v", h, err)
		}
	}
	for _, h := range []Handler{{}, {HandlerFifo, 0}, {HandlerRing, -1}, {HandlerKind(9), 4}} {
		if err := h.Validate(); err == nil {
			t.Fatalf("%+v: expected invalid", h)
		}
	}
	if HandlerFifo.String() != "Fifo" || HandlerRing.String() != "Ring" {
		t.Fatalf("unexpected handler names")
	}
}

func TestRingMailboxEvictsOldest(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox[int](Handler{Kind: HandlerRing, Capacity: 2})
	for i := 0; i < 4; i++ {
		if !m.Deliver(context.Background(), i) {
			t.Fatalf("deliver %d failed", i)
		}
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 buffered, got %d", m.Len())
	}
	if a, b := <-m.C(), <-m.C(); a != 2 || b != 3 {
		t.Fatalf("expected 2 3, got %d %d", a, b)
	}
}

func TestFifoMailboxBlocksUntilContextDone(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox[int](Handler{Kind: HandlerFifo, Capacity: 1})
	if !m.Deliver(context.Background(), 1) {
		t.Fatalf("first deliver failed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if m.Deliver(ctx, 2) {
		t.Fatalf("expected full fifo to block until timeout")
	}
}

func TestMailboxCloseUnblocksProducer(t *testing.T) {
	testlog.Start(t)
	m := NewMailbox[int](Handler{Kind: HandlerFifo, Capacity: 1})
	m.Deliver(context.Background(), 1)
	result := make(chan bool, 1)
	go func() { result <- m.Deliver(context.Background(), 2) }()
	time.Sleep(10 * time.Millisecond)
	m.Close()
	select {
	case ok := <-result:
		if ok {
			t.Fatalf("expected deliver after close to fail")
		}
	case <-time.After(time.Second):
		t.Fatalf("producer stayed blocked")
	}
	if !m.Closed() {
		t.Fatalf("expected closed")
	}
	if v, ok := <-m.C(); !ok || v != 1 {
		t.Fatalf("expected buffered value before close, got %d %v", v, ok)
	}
	if _, ok := <-m.C(); ok {
		t.Fatalf("expected channel closed")
	}
	m.Close()
}
