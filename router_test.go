package pluginbus

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attachTestWorker(t *testing.T, router *Router, pluginId string) (*PluginContext, *Worker) {
	t.Helper()

	routerConn, workerConn := net.Pipe()
	t.Cleanup(func() { routerConn.Close(); workerConn.Close() })

	attachErr := make(chan error, 1)
	go func() { attachErr <- router.AttachWorker(pluginId, routerConn, routerConn) }()

	ctx := NewPluginContext(pluginId, "", testLogger(), nil, NewStateRegistry())
	worker := NewWorker(ctx, workerConn, workerConn, testLogger())

	manifest, err := BuildManifest(pluginId, "0.1.0", "test plugin", []string{"bus:events:ping"})
	require.NoError(t, err)
	require.NoError(t, worker.Handshake(manifest))
	require.NoError(t, <-attachErr)

	go worker.Run()
	return ctx, worker
}

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r := NewRouter(t.TempDir(), testLogger())
	go r.Run()
	t.Cleanup(r.Shutdown)
	return r
}

func TestRouterMessagePushThenGetRoundTrip(t *testing.T) {
	router := newTestRouter(t)
	ctx, _ := attachTestWorker(t, router, "plugin.pusher")

	require.NoError(t, ctx.PushMessage(context.Background(), PushMessageArgs{
		Source: "plugin.pusher", MessageType: "text", Description: "hello", Timeout: time.Second,
	}))

	client := NewMessagesClient(ctx)
	require.Eventually(t, func() bool {
		list, err := client.Get(context.Background(), "", 50, nil, time.Second)
		return err == nil && list.Len() == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRouterPluginToPluginDispatch(t *testing.T) {
	router := newTestRouter(t)
	callerCtx, _ := attachTestWorker(t, router, "plugin.caller")
	_, callee := attachTestWorker(t, router, "plugin.callee")

	require.NoError(t, callee.RegisterHandler("bus:events:ping", func(goCtx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"pong": args["ping"]}, nil
	}))

	result, err := callerCtx.TriggerPluginEvent(context.Background(), "plugin.callee", "bus:events:ping", "evt-1",
		map[string]interface{}{"ping": "hi"}, 2*time.Second)
	require.NoError(t, err)

	resMap, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hi", resMap["pong"])
}

func TestRouterPluginToPluginUnknownTargetFails(t *testing.T) {
	router := newTestRouter(t)
	callerCtx, _ := attachTestWorker(t, router, "plugin.lonely")

	_, err := callerCtx.TriggerPluginEvent(context.Background(), "plugin.nobody", "bus:events:ping", "evt-1", nil, 500*time.Millisecond)
	require.Error(t, err)
}

func TestRouterConfigGetReturnsDefaults(t *testing.T) {
	router := newTestRouter(t)
	ctx, _ := attachTestWorker(t, router, "plugin.cfg")

	result, err := ctx.GetOwnConfig(context.Background())
	require.NoError(t, err)
	cfgMap, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "warn", cfgMap["sync_call_in_handler"])
}

func TestRouterQueryPluginsListsAttachedWorkers(t *testing.T) {
	router := newTestRouter(t)
	ctx, _ := attachTestWorker(t, router, "plugin.a")
	attachTestWorker(t, router, "plugin.b")

	result, err := ctx.QueryPlugins(context.Background(), nil)
	require.NoError(t, err)
	resMap, ok := result.(map[string]interface{})
	require.True(t, ok)
	plugins, ok := resMap["plugins"].([]interface{})
	require.True(t, ok)
	assert.Len(t, plugins, 2)
}
