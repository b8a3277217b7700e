package pluginbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDatagramClient struct {
	reply map[string]interface{}
	err   error
}

func (f *fakeDatagramClient) SendRequest(ctx context.Context, req map[string]interface{}, attemptTimeout time.Duration) (map[string]interface{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	resp := map[string]interface{}{"request_id": req["request_id"]}
	for k, v := range f.reply {
		resp[k] = v
	}
	return resp, nil
}

func (f *fakeDatagramClient) SendBatch(pluginId string, batch []PushEnvelope) error { return nil }

// S1: memory get happy path over the fast no-fallback route.
func TestMemoryClientGetHappyPath(t *testing.T) {
	fast := &fakeDatagramClient{reply: map[string]interface{}{
		"result": map[string]interface{}{
			"history": []interface{}{
				map[string]interface{}{"_ts": 1700000000.0, "type": "MSG", "content": "hi", "plugin_id": "p1"},
			},
		},
	}}
	ctx := NewPluginContext("plugin.test", "", testLogger(), fast, NewStateRegistry())
	client := NewMemoryClient(ctx)

	list, err := client.Get(context.Background(), "u1", 5, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())

	item := list.Items[0]
	assert.Equal(t, "u1", item.BucketId)
	require.NotNil(t, item.Content)
	assert.Equal(t, "hi", *item.Content)
	require.NotNil(t, item.Timestamp)
	assert.Equal(t, 1700000000.0, *item.Timestamp)
}

func TestMemoryClientRequiresBucketId(t *testing.T) {
	fast := &fakeDatagramClient{reply: map[string]interface{}{"result": map[string]interface{}{"history": []interface{}{}}}}
	ctx := NewPluginContext("plugin.test", "", testLogger(), fast, NewStateRegistry())
	client := NewMemoryClient(ctx)

	_, err := client.Get(context.Background(), "", 5, time.Second)
	require.Error(t, err)
	busErr, ok := err.(*BusError)
	require.True(t, ok)
	assert.Equal(t, ErrUsage, busErr.Type)
}

// Per spec §9/§4.2: when a fast client is configured, its failures surface
// as timeouts rather than falling back to the reliable queue.
func TestMemoryClientNoFallbackOnFastPathFailure(t *testing.T) {
	fast := &fakeDatagramClient{err: assert.AnError}
	ctx := NewPluginContext("plugin.test", "", testLogger(), fast, NewStateRegistry())
	client := NewMemoryClient(ctx)

	_, err := client.Get(context.Background(), "u1", 5, 60*time.Millisecond)
	require.Error(t, err)
	busErr, ok := err.(*BusError)
	require.True(t, ok)
	assert.Equal(t, ErrTimeout, busErr.Type)
}

// Per spec §4.2/§4.4 item 3: empty plugin_id is normalized to omitted/None
// so the router resolves it to the caller's own id, not the "*" wildcard.
func TestMessagesClientGetNormalizesEmptyPluginIdToNone(t *testing.T) {
	ctx := newTestContext(t)
	client := NewMessagesClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		_, hasPluginId := env["plugin_id"]
		assert.False(t, hasPluginId)
		ctx.Deliver(map[string]interface{}{"request_id": reqId, "result": map[string]interface{}{"records": []interface{}{
			map[string]interface{}{"message_id": "m1", "message_type": "text"},
		}}})
	}()

	list, err := client.Get(context.Background(), "", 50, nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	assert.Equal(t, "m1", list.Items[0].MessageId)
	assert.Equal(t, "MESSAGE_GET", list.Plan().Op)
}

// The "*" wildcard is the explicit all-plugins request and is preserved
// verbatim rather than normalized away.
func TestMessagesClientGetPreservesWildcardPluginId(t *testing.T) {
	ctx := newTestContext(t)
	client := NewMessagesClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		assert.Equal(t, "*", env["plugin_id"])
		ctx.Deliver(map[string]interface{}{"request_id": reqId, "result": map[string]interface{}{"records": []interface{}{}}})
	}()

	list, err := client.Get(context.Background(), "*", 50, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "*", list.PluginId)
}

// priority_min must reach the request envelope when supplied.
func TestMessagesClientGetPlumbsPriorityMin(t *testing.T) {
	ctx := newTestContext(t)
	client := NewMessagesClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		assert.Equal(t, 5, env["priority_min"])
		ctx.Deliver(map[string]interface{}{"request_id": reqId, "result": map[string]interface{}{"records": []interface{}{}}})
	}()

	priorityMin := 5
	_, err := client.Get(context.Background(), "", 50, &priorityMin, time.Second)
	require.NoError(t, err)
}

func TestMessagesClientDelete(t *testing.T) {
	ctx := newTestContext(t)
	client := NewMessagesClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		ctx.Deliver(map[string]interface{}{"request_id": reqId, "result": map[string]interface{}{"deleted": true}})
	}()

	deleted, err := client.Delete(context.Background(), "m1", time.Second)
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestEventsClientGetParsesEntryId(t *testing.T) {
	ctx := newTestContext(t)
	client := NewEventsClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		ctx.Deliver(map[string]interface{}{"request_id": reqId, "result": []interface{}{
			map[string]interface{}{"trace_id": "trace-1", "event_id": "e1"},
		}})
	}()

	list, err := client.Get(context.Background(), nil, 50, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	assert.Equal(t, "trace-1", list.Items[0].EntryId)
}

func TestLifecycleClientGetBlocksOnRegistry(t *testing.T) {
	ctx := newTestContext(t)
	client := NewLifecycleClient(ctx)

	go func() {
		env := <-ctx.CommOut()
		reqId, _ := env["request_id"].(string)
		time.Sleep(10 * time.Millisecond)
		ctx.registry.Put(reqId, map[string]interface{}{"request_id": reqId, "result": map[string]interface{}{"records": []interface{}{
			map[string]interface{}{"lifecycle_id": "l1"},
		}}})
	}()

	list, err := client.Get(context.Background(), nil, 50, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	assert.Equal(t, "l1", list.Items[0].LifecycleId)
}

func TestLifecycleClientGetTimesOut(t *testing.T) {
	ctx := newTestContext(t)
	client := NewLifecycleClient(ctx)
	go func() { <-ctx.CommOut() }()

	_, err := client.Get(context.Background(), nil, 50, 30*time.Millisecond)
	require.Error(t, err)
	busErr, ok := err.(*BusError)
	require.True(t, ok)
	assert.Equal(t, ErrTimeout, busErr.Type)
}
