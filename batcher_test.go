package pluginbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]PushEnvelope
}

func (s *recordingSink) AcceptBatch(pluginId string, batch []PushEnvelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]PushEnvelope{}, batch...)
	s.batches = append(s.batches, cp)
}

func (s *recordingSink) flat() []PushEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PushEnvelope
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func TestPushBatcherFlushesOnBatchSize(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 4, time.Hour)
	b.Start()
	defer b.Stop()

	for i := uint64(1); i <= 4; i++ {
		b.Enqueue(PushEnvelope{Seq: i})
	}

	require.Eventually(t, func() bool { return len(sink.flat()) == 4 }, time.Second, 5*time.Millisecond)
}

func TestPushBatcherFlushesOnInterval(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 1000, 20*time.Millisecond)
	b.Start()
	defer b.Stop()

	b.Enqueue(PushEnvelope{Seq: 1})

	require.Eventually(t, func() bool { return len(sink.flat()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPushBatcherStopFlushesRemainder(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 1000, time.Hour)
	b.Start()
	b.Enqueue(PushEnvelope{Seq: 1})
	b.Enqueue(PushEnvelope{Seq: 2})
	b.Stop()

	assert.Len(t, sink.flat(), 2)
}

func TestPushBatcherStopIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 10, time.Hour)
	b.Start()
	b.Stop()
	b.Stop()
}

func TestPushBatcherStopWithoutStartIsNoop(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 10, time.Hour)
	b.Stop()
}

// S3: ten goroutines each pushing 100 times under the context's push_lock
// must produce seq values {1,...,1000} with no gaps or duplicates.
func TestPushSeqStrictlyMonotonicUnderContention(t *testing.T) {
	sink := &recordingSink{}
	b := NewPushBatcher("p1", sink, 1000000, time.Hour)
	b.Start()
	defer b.Stop()

	var pushLock sync.Mutex
	var seq uint64

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				pushLock.Lock()
				seq++
				s := seq
				b.Enqueue(PushEnvelope{Seq: s})
				pushLock.Unlock()
			}
		}()
	}
	wg.Wait()
	b.Stop()

	got := sink.flat()
	seen := make(map[uint64]bool, len(got))
	for _, env := range got {
		assert.False(t, seen[env.Seq], "duplicate seq %d", env.Seq)
		seen[env.Seq] = true
	}
	assert.Len(t, got, 1000)
	for i := uint64(1); i <= 1000; i++ {
		assert.True(t, seen[i], "missing seq %d", i)
	}
}
