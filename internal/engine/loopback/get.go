package loopback

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/zremote/internal/engine"
	"github.com/danmuck/zremote/internal/protocol"
	"github.com/danmuck/zremote/internal/protocol/keyexpr"
)

// getOp collects the replies of one get. Latest and Auto keep the newest
// reply per key and release them when the get finishes; None forwards
// replies as they arrive; Monotonic forwards a reply only if it is newer
// than the last one forwarded for its key.
type getOp struct {
	ctx  context.Context
	box  *engine.Mailbox[engine.Reply]
	mode protocol.ConsolidationMode

	mu       sync.Mutex
	pending  int
	finished bool
	timer    *time.Timer
	stopCtx  func() bool
	order    []string
	latest   map[string]engine.Reply
	newest   map[string]uint64
}

func newGetOp(ctx context.Context, h engine.Handler, mode protocol.ConsolidationMode, pending int) *getOp {
	op := &getOp{
		ctx:     ctx,
		box:     engine.NewMailbox[engine.Reply](h),
		mode:    mode,
		pending: pending,
		latest:  make(map[string]engine.Reply),
		newest:  make(map[string]uint64),
	}
	return op
}

func (op *getOp) armTimeout(d time.Duration) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.finished {
		return
	}
	op.timer = time.AfterFunc(d, op.finalize)
	op.stopCtx = context.AfterFunc(op.ctx, op.finalize)
}

// emit routes one reply according to the consolidation mode. It returns
// engine.ErrQueryExpired once the get has finished.
func (op *getOp) emit(ctx context.Context, r engine.Reply) error {
	op.mu.Lock()
	if op.finished {
		op.mu.Unlock()
		return engine.ErrQueryExpired
	}
	if r.Sample != nil && op.mode != protocol.ConsolidationNone {
		key := r.Sample.KeyExpr.String()
		stamp := stampOf(r.Sample.Timestamp)
		if op.mode == protocol.ConsolidationMonotonic {
			last, seen := op.newest[key]
			if seen && stamp <= last {
				op.mu.Unlock()
				return nil
			}
			op.newest[key] = stamp
		} else {
			prev, seen := op.latest[key]
			if !seen {
				op.order = append(op.order, key)
			}
			if !seen || stampOf(prev.Sample.Timestamp) <= stamp {
				op.latest[key] = r
			}
			op.mu.Unlock()
			return nil
		}
	}
	op.mu.Unlock()
	if !op.box.Deliver(ctx, r) && op.box.Closed() {
		return engine.ErrQueryExpired
	}
	return nil
}

func (op *getOp) done() {
	op.mu.Lock()
	op.pending--
	last := op.pending <= 0
	op.mu.Unlock()
	if last {
		op.finalize()
	}
}

// finalize releases buffered replies and closes the reply channel. Only the
// first call has an effect.
func (op *getOp) finalize() {
	op.mu.Lock()
	if op.finished {
		op.mu.Unlock()
		return
	}
	op.finished = true
	if op.timer != nil {
		op.timer.Stop()
	}
	if op.stopCtx != nil {
		op.stopCtx()
	}
	buffered := make([]engine.Reply, 0, len(op.order))
	for _, key := range op.order {
		buffered = append(buffered, op.latest[key])
	}
	op.order = nil
	clear(op.latest)
	op.mu.Unlock()

	for _, r := range buffered {
		op.box.Deliver(context.WithoutCancel(op.ctx), r)
	}
	op.box.Close()
}

func stampOf(ts string) uint64 {
	head, _, _ := strings.Cut(ts, "/")
	v, _ := strconv.ParseUint(head, 10, 64)
	return v
}

const (
	queryOpen int32 = iota
	queryResolved
)

// query is one get as seen by one queryable.
type query struct {
	op         *getOp
	engine     *Engine
	key        keyexpr.KeyExpr
	parameters string
	encoding   *string
	payload    []byte
	attachment []byte

	state atomic.Int32
}

var _ engine.Query = (*query)(nil)

func (q *query) KeyExpr() keyexpr.KeyExpr { return q.key }
func (q *query) Parameters() string       { return q.parameters }

func (q *query) Encoding() (string, bool) {
	if q.encoding == nil {
		return "", false
	}
	return *q.encoding, true
}

func (q *query) Payload() ([]byte, bool) {
	return q.payload, q.payload != nil
}

func (q *query) Attachment() ([]byte, bool) {
	return q.attachment, q.attachment != nil
}

func (q *query) Reply(ctx context.Context, key keyexpr.KeyExpr, payload []byte) error {
	if !key.Intersects(q.key) {
		return engine.ErrReplyOutOfScope
	}
	return q.resolve(ctx, engine.Reply{Sample: q.sample(key, payload, protocol.SampleKindPut)})
}

func (q *query) ReplyErr(ctx context.Context, payload []byte) error {
	return q.resolve(ctx, engine.Reply{Err: &engine.ReplyError{Payload: payload, Encoding: DefaultEncoding}})
}

func (q *query) ReplyDelete(ctx context.Context, key keyexpr.KeyExpr) error {
	if !key.Intersects(q.key) {
		return engine.ErrReplyOutOfScope
	}
	return q.resolve(ctx, engine.Reply{Sample: q.sample(key, []byte{}, protocol.SampleKindDelete)})
}

func (q *query) Finish() {
	if q.state.CompareAndSwap(queryOpen, queryResolved) {
		q.op.done()
	}
}

func (q *query) resolve(ctx context.Context, r engine.Reply) error {
	if !q.state.CompareAndSwap(queryOpen, queryResolved) {
		return engine.ErrAlreadyReplied
	}
	defer q.op.done()
	return q.op.emit(ctx, r)
}

func (q *query) sample(key keyexpr.KeyExpr, payload []byte, kind protocol.SampleKind) *engine.Sample {
	return &engine.Sample{
		KeyExpr:           key,
		Payload:           payload,
		Kind:              kind,
		Encoding:          DefaultEncoding,
		Timestamp:         q.engine.timestamp(),
		CongestionControl: protocol.DefaultCongestionControl,
		Priority:          protocol.DefaultPriority,
	}
}
