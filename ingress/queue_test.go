package ingress

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// S6: capacity 3, items [e1,e2,e3,e4] -> queue holds {e2,e3,e4} and one
// "dropping oldest" log entry exists.
func TestQueueDropsOldestWhenFull(t *testing.T) {
	logger, hook := test.NewNullLogger()
	q := NewQueue(3, logrus.NewEntry(logger))

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		q.Put(Envelope{Type: EventMessages, Payload: map[string]interface{}{"id": id}, ReceivedAt: time.Now()})
	}

	require.Equal(t, 3, q.Len())
	items := q.Inspect(10)
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Payload["id"].(string)
	}
	assert.Equal(t, []string{"e2", "e3", "e4"}, ids)

	dropLogs := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == "Event queue full, dropping oldest then enqueue" {
			dropLogs++
		}
	}
	assert.Equal(t, 1, dropLogs)
}

func TestQueueDefaultCapacityAppliedWhenNonPositive(t *testing.T) {
	q := NewQueue(0, nil)
	assert.Equal(t, DefaultCapacity, q.capacity)
}

func TestQueueDrainConsumesInFIFOOrder(t *testing.T) {
	q := NewQueue(10, nil)
	q.Put(Envelope{Type: EventToolCall, Payload: map[string]interface{}{"id": "a"}})
	q.Put(Envelope{Type: EventToolCall, Payload: map[string]interface{}{"id": "b"}})

	drained := q.Drain(1)
	require.Len(t, drained, 1)
	assert.Equal(t, "a", drained[0].Payload["id"])
	assert.Equal(t, 1, q.Len())
}

func TestQueueInspectIsNonDestructive(t *testing.T) {
	q := NewQueue(10, nil)
	q.Put(Envelope{Type: EventPluginInvoke, Payload: map[string]interface{}{"id": "a"}})

	first := q.Inspect(10)
	second := q.Inspect(10)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, q.Len())
}

func TestQueueInspectBoundedByCapacity(t *testing.T) {
	q := NewQueue(2, nil)
	q.Put(Envelope{Type: EventMessages, Payload: map[string]interface{}{"id": "a"}})
	q.Put(Envelope{Type: EventMessages, Payload: map[string]interface{}{"id": "b"}})

	items := q.Inspect(100)
	assert.Len(t, items, 2)
}
