package pluginbus

import (
	"sync"
	"time"
)

// PushEnvelope is one fast-mode message-push item queued into the batcher.
type PushEnvelope struct {
	Seq     uint64
	Payload map[string]interface{}
}

// BatchSink receives a flushed, seq-ordered batch for one plugin context.
// The host implements this to accept the batch on the datagram socket.
type BatchSink interface {
	AcceptBatch(pluginId string, batch []PushEnvelope)
}

// PushBatcher coalesces fast-mode pushes into batches of up to BatchSize
// items or FlushInterval, whichever comes first. Attachment to a context
// is lazy — it starts only on the first fast-mode push (spec §4.1 item 1)
// — and Stop flushes whatever remains within a bounded window.
type PushBatcher struct {
	pluginId      string
	sink          BatchSink
	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending []PushEnvelope
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewPushBatcher constructs a batcher; it does not start its flush loop
// until Start is called (lazy attachment per spec §9).
func NewPushBatcher(pluginId string, sink BatchSink, batchSize int, flushInterval time.Duration) *PushBatcher {
	return &PushBatcher{
		pluginId:      pluginId,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Start launches the flush loop. Safe to call multiple times; only the
// first call has an effect.
func (b *PushBatcher) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	b.mu.Unlock()

	go b.run()
}

// Enqueue adds an envelope to the pending batch, flushing immediately if
// it reaches BatchSize. Caller must already hold the context's push_lock
// so that seq allocation and enqueue stay atomic (spec §4.1 item 1).
func (b *PushBatcher) Enqueue(env PushEnvelope) {
	b.mu.Lock()
	b.pending = append(b.pending, env)
	full := len(b.pending) >= b.batchSize
	var batch []PushEnvelope
	if full {
		batch = b.pending
		b.pending = nil
	}
	b.mu.Unlock()

	if full {
		b.sink.AcceptBatch(b.pluginId, batch)
	}
}

func (b *PushBatcher) run() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stopCh:
			b.flush()
			return
		}
	}
}

func (b *PushBatcher) flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	b.sink.AcceptBatch(b.pluginId, batch)
}

// Stop halts the flush loop and flushes any remaining items, waiting at
// most 2s for the loop to settle (spec §4.1 item 1). Safe to call on a
// batcher that was never started, and idempotent.
func (b *PushBatcher) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	started := b.started
	b.started = false
	stopCh := b.stopCh
	doneCh := b.doneCh
	b.mu.Unlock()

	if !started {
		return
	}

	close(stopCh)
	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
	}
}
