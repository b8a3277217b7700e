package pluginbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatagramRouter(t *testing.T) (*Router, string) {
	t.Helper()
	router := NewRouter(t.TempDir(), testLogger())
	go router.Run()
	ln, err := router.ListenDatagram("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(router.Shutdown)
	return router, ln.Addr().String()
}

// A PUSH_SYNC request round-trips through the real TCP listener exactly like
// a queued MESSAGE_PUSH, landing in the router's message store.
func TestTCPDatagramClientSendRequestRoundTrip(t *testing.T) {
	_, addr := newTestDatagramRouter(t)
	client := NewTCPDatagramClient(addr)

	resp, err := client.SendRequest(context.Background(), map[string]interface{}{
		"type":         "MESSAGE_PUSH",
		"from_plugin":  "plugin.fast",
		"request_id":   "req-1",
		"message_type": "text",
		"description":  "fast push",
	}, time.Second)
	require.NoError(t, err)
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])
}

// An unknown plugin config lookup surfaces as an ERR frame, decoded back as
// an error rather than a response.
func TestTCPDatagramClientSendRequestSurfacesRemoteError(t *testing.T) {
	_, addr := newTestDatagramRouter(t)
	client := NewTCPDatagramClient(addr)

	_, err := client.SendRequest(context.Background(), map[string]interface{}{
		"type":        "PLUGIN_CONFIG_GET",
		"from_plugin": "plugin.nobody",
		"request_id":  "req-2",
	}, time.Second)
	require.Error(t, err)
}

// SendBatch stores each batch item as a message record without expecting a
// reply (fire-and-forget).
func TestTCPDatagramClientSendBatchStoresMessages(t *testing.T) {
	router, addr := newTestDatagramRouter(t)
	client := NewTCPDatagramClient(addr)

	err := client.SendBatch("plugin.fast", []PushEnvelope{
		{Seq: 1, Payload: map[string]interface{}{"message_type": "text", "description": "one"}},
		{Seq: 2, Payload: map[string]interface{}{"message_type": "text", "description": "two"}},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		router.storeMu.Lock()
		defer router.storeMu.Unlock()
		return len(router.messages) == 2
	}, time.Second, 10*time.Millisecond)
}

// Memory's fast no-fallback path exercises the same TCP transport end to
// end: PluginContext -> TCPDatagramClient -> Router.ListenDatagram.
func TestPluginContextFastPathOverRealTCPTransport(t *testing.T) {
	router, addr := newTestDatagramRouter(t)
	router.storeMu.Lock()
	router.memory["bucket.1"] = []map[string]interface{}{
		{"_ts": 1700000000.0, "content": "hi", "plugin_id": "plugin.fast"},
	}
	router.storeMu.Unlock()

	client := NewTCPDatagramClient(addr)
	ctx := NewPluginContext("plugin.fast", "", testLogger(), client, NewStateRegistry())

	memClient := NewMemoryClient(ctx)
	list, err := memClient.Get(context.Background(), "bucket.1", 10, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, list.Len())
	assert.True(t, list.FastMode)
}
