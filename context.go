package pluginbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wislap/neko-plugin-bus/config"
)

// DatagramClient is the low-latency socket endpoint (spec §4.4 item 4):
// request/response round trips with a per-attempt cap, plus fire-and-forget
// batch delivery for fast-mode pushes.
type DatagramClient interface {
	// SendRequest issues one request/response round trip, bounded by
	// attemptTimeout. A transport failure or a non-map reply is reported
	// as an error so the caller's backoff loop can retry.
	SendRequest(ctx context.Context, req map[string]interface{}, attemptTimeout time.Duration) (map[string]interface{}, error)
	// SendBatch delivers one flushed batch for pluginId.
	SendBatch(pluginId string, batch []PushEnvelope) error
}

const defaultOpTimeout = 5 * time.Second

// PluginContext is the object handed to each plugin worker: it owns the
// worker's logger, its outbound/inbound queues, transport selection,
// handler-scope tracking, sync-call policy enforcement, and the per-context
// push batcher (spec §4.1).
type PluginContext struct {
	PluginId string
	logger   *logrus.Entry
	cfg      *config.Loader

	commOut       chan map[string]interface{} // plugin_comm_queue
	responseQueue chan map[string]interface{} // response_queue
	messageQueue  chan map[string]interface{} // reliable fallback sink, no datagram client configured
	statusQueue   chan map[string]interface{}

	fast DatagramClient // optional; nil if no low-latency transport configured

	pushSeq  uint64
	pushLock sync.Mutex
	batcher  *PushBatcher

	pendingMu sync.Mutex
	pending   map[string]map[string]interface{}

	registry *StateRegistry

	closeOnce sync.Once
	closed    int32
}

// NewPluginContext constructs a context for one plugin worker process.
// fast may be nil (no low-latency client configured); registry is the
// shared host-side rendezvous used as the response_queue's fallback.
func NewPluginContext(pluginId, configPath string, logger *logrus.Entry, fast DatagramClient, registry *StateRegistry) *PluginContext {
	return &PluginContext{
		PluginId:      pluginId,
		logger:        logger.WithField("plugin_id", pluginId),
		cfg:           config.NewLoader(configPath),
		commOut:       make(chan map[string]interface{}, 256),
		responseQueue: make(chan map[string]interface{}, 256),
		messageQueue:  make(chan map[string]interface{}, 256),
		statusQueue:   make(chan map[string]interface{}, 256),
		fast:          fast,
		pending:       make(map[string]map[string]interface{}),
		registry:      registry,
	}
}

// CommOut exposes the outbound request channel for the Worker's writer
// loop to drain.
func (ctx *PluginContext) CommOut() <-chan map[string]interface{} { return ctx.commOut }

// StatusQueue exposes the fire-and-forget status queue for the Worker's
// writer loop to drain.
func (ctx *PluginContext) StatusQueue() <-chan map[string]interface{} { return ctx.statusQueue }

// MessageQueue exposes the reliable-fallback push queue for the Worker's
// writer loop to drain.
func (ctx *PluginContext) MessageQueue() <-chan map[string]interface{} { return ctx.messageQueue }

// Deliver hands an inbound response envelope to the context, called by the
// Worker's reader loop whenever a RES frame decodes into one. Non-blocking:
// if the response_queue is saturated, the response is deposited directly
// into the shared state registry instead.
func (ctx *PluginContext) Deliver(resp map[string]interface{}) {
	select {
	case ctx.responseQueue <- resp:
	default:
		if reqId, ok := resp["request_id"].(string); ok {
			ctx.registry.Put(reqId, resp)
		}
	}
}

// attachBatcherLocked wires a lazily-started push batcher using sink for
// fast-mode pushes. Called once, on first fast-mode push.
func (ctx *PluginContext) attachBatcherLocked(sink BatchSink, batchSize int, flushInterval time.Duration) {
	if ctx.batcher == nil {
		ctx.batcher = NewPushBatcher(ctx.PluginId, sink, batchSize, flushInterval)
		ctx.batcher.Start()
	}
}

// Close stops the batcher (best-effort, bounded window) and is idempotent.
func (ctx *PluginContext) Close() {
	ctx.closeOnce.Do(func() {
		atomic.StoreInt32(&ctx.closed, 1)
		ctx.pushLock.Lock()
		b := ctx.batcher
		ctx.pushLock.Unlock()
		if b != nil {
			b.Stop()
		}
	})
}

func (ctx *PluginContext) nextRequestId() string {
	return uuid.NewString()
}

// checkCallPolicy enforces the handler-scope safety policy (spec §4.1).
// Under reject, a sync call attempted inside a handler's dynamic extent
// fails immediately; under warn, it logs and proceeds.
func (ctx *PluginContext) checkCallPolicy(goCtx context.Context, method string) error {
	token, inHandler := InHandlerScope(goCtx)
	if !inHandler {
		return nil
	}
	policy := ctx.cfg.SyncCallPolicy()
	if policy == config.PolicyReject {
		return newPolicyError(fmt.Sprintf("sync call to %s attempted inside handler %q", method, token.handlerName))
	}
	ctx.logger.WithFields(logrus.Fields{"method": method, "handler": token.handlerName}).
		Warn("sync bus call made from inside a plugin event handler")
	return nil
}

// UpdateStatus enqueues a STATUS_UPDATE envelope non-blockingly
// (fire-and-forget); queue-full errors are logged and swallowed.
func (ctx *PluginContext) UpdateStatus(status map[string]interface{}) {
	env := map[string]interface{}{
		"type":      "STATUS_UPDATE",
		"plugin_id": ctx.PluginId,
		"data":      status,
		"time":      time.Now().UTC().Format(time.RFC3339),
	}
	select {
	case ctx.statusQueue <- env:
	default:
		ctx.logger.Warn("status queue full, dropping status update")
	}
}

// sendRequestAndWait implements the shared round-trip algorithm (spec §4.1
// _send_request_and_wait): enforce policy, dispatch via commOut, then
// drain the response_queue (falling back to the shared registry), with
// orphan cleanup on timeout.
func (ctx *PluginContext) sendRequestAndWait(goCtx context.Context, reqType string, timeout time.Duration, data map[string]interface{}) (interface{}, error) {
	if err := ctx.checkCallPolicy(goCtx, reqType); err != nil {
		return nil, err
	}

	reqId := ctx.nextRequestId()
	env := map[string]interface{}{
		"type":        reqType,
		"from_plugin": ctx.PluginId,
		"request_id":  reqId,
		"timeout":     timeout.Seconds(),
	}
	for k, v := range data {
		env[k] = v
	}

	deadline := time.Now().Add(timeout)

	select {
	case ctx.commOut <- env:
	case <-time.After(time.Until(deadline)):
		return nil, newTimeoutError(fmt.Sprintf("queue put for %s timed out", reqType))
	}

	// Step 4: a pre-arrived response may already be in the pending map.
	ctx.pendingMu.Lock()
	if resp, ok := ctx.pending[reqId]; ok {
		delete(ctx.pending, reqId)
		ctx.pendingMu.Unlock()
		return ctx.finishResponse(resp)
	}
	ctx.pendingMu.Unlock()

	const drainTick = 50 * time.Millisecond
	const pollTick = 10 * time.Millisecond

	for {
		// Another waiter may have parked our response in the pending map.
		ctx.pendingMu.Lock()
		if resp, ok := ctx.pending[reqId]; ok {
			delete(ctx.pending, reqId)
			ctx.pendingMu.Unlock()
			return ctx.finishResponse(resp)
		}
		ctx.pendingMu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := drainTick
		if remaining < wait {
			wait = remaining
		}

		select {
		case resp := <-ctx.responseQueue:
			id, _ := resp["request_id"].(string)
			if id == reqId {
				return ctx.finishResponse(resp)
			}
			ctx.pendingMu.Lock()
			ctx.pending[id] = resp
			ctx.pendingMu.Unlock()
		case <-time.After(wait):
			if resp, ok := ctx.registry.Get(reqId); ok {
				return ctx.finishResponse(resp)
			}
			_ = pollTick
		}
	}

	// Step 7: timeout reached — one last peek for a just-arrived response.
	if resp, ok := ctx.registry.Get(reqId); ok {
		ctx.logger.WithField("request_id", reqId).
			Warn("Timeout reached, but response was found (likely delayed). Cleaned up orphan response")
		_, _ = ctx.finishResponse(resp)
	}
	ctx.pendingMu.Lock()
	delete(ctx.pending, reqId)
	ctx.pendingMu.Unlock()
	ctx.registry.Discard(reqId)

	return nil, newTimeoutError(fmt.Sprintf("%s timed out after %s", reqType, timeout))
}

func (ctx *PluginContext) finishResponse(resp map[string]interface{}) (interface{}, error) {
	if errMsg, ok := resp["error"]; ok {
		return nil, newRemoteError(fmt.Sprintf("%v", errMsg))
	}
	result, ok := resp["result"]
	if !ok {
		return map[string]interface{}{"result": nil}, nil
	}
	if _, isMap := result.(map[string]interface{}); isMap {
		return result, nil
	}
	return result, nil
}

// TriggerPluginEvent sends a PLUGIN_TO_PLUGIN event to target and waits
// for its reply (default timeout 10s per spec §4.1).
func (ctx *PluginContext) TriggerPluginEvent(goCtx context.Context, target, eventType, eventId string, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return ctx.sendRequestAndWait(goCtx, "PLUGIN_TO_PLUGIN", timeout, map[string]interface{}{
		"target": target, "event_type": eventType, "event_id": eventId, "args": args,
	})
}

// QueryPlugins lists known plugin descriptors matching filters.
func (ctx *PluginContext) QueryPlugins(goCtx context.Context, filters map[string]interface{}) (interface{}, error) {
	return ctx.sendRequestAndWait(goCtx, "PLUGIN_QUERY", defaultOpTimeout, map[string]interface{}{"filters": filters})
}

// GetOwnConfig fetches this plugin's own configuration from the host.
func (ctx *PluginContext) GetOwnConfig(goCtx context.Context) (interface{}, error) {
	return ctx.sendRequestAndWait(goCtx, "PLUGIN_CONFIG_GET", defaultOpTimeout, nil)
}

// GetSystemConfig fetches the host-wide system configuration.
func (ctx *PluginContext) GetSystemConfig(goCtx context.Context) (interface{}, error) {
	return ctx.sendRequestAndWait(goCtx, "PLUGIN_SYSTEM_CONFIG_GET", defaultOpTimeout, nil)
}

// UpdateOwnConfig pushes updates to this plugin's config (default
// timeout 10s per spec §4.1).
func (ctx *PluginContext) UpdateOwnConfig(goCtx context.Context, updates map[string]interface{}, timeout time.Duration) (interface{}, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return ctx.sendRequestAndWait(goCtx, "PLUGIN_CONFIG_UPDATE", timeout, map[string]interface{}{"updates": updates})
}

// QueryMemory queries the memory store for lanlanName.
func (ctx *PluginContext) QueryMemory(goCtx context.Context, lanlanName string, query map[string]interface{}) (interface{}, error) {
	return ctx.sendRequestAndWait(goCtx, "MEMORY_QUERY", defaultOpTimeout, map[string]interface{}{
		"lanlan_name": lanlanName, "query": query,
	})
}

// sendViaFastNoFallback issues a request through the datagram client only,
// with the same per-attempt-cap/backoff shape as the reliable path, but
// never falls through to the queue path on failure — a configured fast
// client's errors surface as timeouts, never silently downgrade (spec §9,
// "no fallback on fast path").
func (ctx *PluginContext) sendViaFastNoFallback(goCtx context.Context, reqType string, timeout time.Duration, data map[string]interface{}) (interface{}, error) {
	if err := ctx.checkCallPolicy(goCtx, reqType); err != nil {
		return nil, err
	}
	if ctx.fast == nil {
		return nil, newTransportError("no low-latency client configured")
	}

	reqId := ctx.nextRequestId()
	env := map[string]interface{}{
		"type":        reqType,
		"from_plugin": ctx.PluginId,
		"request_id":  reqId,
		"timeout":     timeout.Seconds(),
	}
	for k, v := range data {
		env[k] = v
	}

	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond
	const maxBackoff = time.Second
	const attemptCap = time.Second

	var lastErr error
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		attemptTimeout := attemptCap
		if remaining < attemptTimeout {
			attemptTimeout = remaining
		}

		resp, err := ctx.fast.SendRequest(goCtx, env, attemptTimeout)
		if err == nil && resp != nil {
			return ctx.finishResponse(resp)
		}
		lastErr = err
		if lastErr == nil {
			lastErr = newTransportError("non-map reply from datagram client")
		}

		remaining = time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if lastErr != nil {
		return nil, newTimeoutError(fmt.Sprintf("%s timed out: last error: %v", reqType, lastErr))
	}
	return nil, newTimeoutError(fmt.Sprintf("%s timed out", reqType))
}

// PushMessageArgs bundles push_message's many optional fields (spec §4.1/§6.2).
type PushMessageArgs struct {
	Source      string
	MessageType string
	Description string
	Priority    int
	Content     *string
	BinaryData  []byte
	BinaryURL   *string
	Metadata    map[string]interface{}
	FastMode    bool
	Timeout     time.Duration
}

// PushMessage implements the two-route push_message hard path (spec §4.1).
func (ctx *PluginContext) PushMessage(goCtx context.Context, args PushMessageArgs) error {
	if err := ctx.checkCallPolicy(goCtx, "push_message"); err != nil {
		return err
	}
	if args.Timeout <= 0 {
		args.Timeout = defaultOpTimeout
	}

	payload := map[string]interface{}{
		"source":       args.Source,
		"message_type": args.MessageType,
		"description":  args.Description,
		"priority":     args.Priority,
		"metadata":     args.Metadata,
	}
	if args.Content != nil {
		payload["content"] = *args.Content
	}
	if args.BinaryData != nil {
		payload["binary_data"] = args.BinaryData
	}
	if args.BinaryURL != nil {
		payload["binary_url"] = *args.BinaryURL
	}

	if args.FastMode && ctx.fast != nil {
		cfg := ctx.cfg.Get().FastPush
		batchSize := cfg.BatchSize
		if batchSize <= 0 {
			batchSize = 32
		}
		flush := time.Duration(cfg.FlushIntervalMs) * time.Millisecond
		if flush <= 0 {
			flush = 50 * time.Millisecond
		}

		ctx.pushLock.Lock()
		ctx.attachBatcherLocked(fastSink{ctx.fast}, batchSize, flush)
		ctx.pushSeq++
		seq := ctx.pushSeq
		payload["seq"] = seq
		ctx.batcher.Enqueue(PushEnvelope{Seq: seq, Payload: payload})
		ctx.pushLock.Unlock()
		return nil
	}

	if ctx.fast != nil {
		return ctx.pushReliable(goCtx, payload, args.Timeout)
	}

	// No datagram client at all: plain queue path, non-blocking.
	ctx.pushLock.Lock()
	ctx.pushSeq++
	payload["seq"] = ctx.pushSeq
	ctx.pushLock.Unlock()

	env := map[string]interface{}{
		"type":        "MESSAGE_PUSH",
		"from_plugin": ctx.PluginId,
		"request_id":  ctx.nextRequestId(),
		"timeout":     args.Timeout.Seconds(),
	}
	for k, v := range payload {
		env[k] = v
	}
	select {
	case ctx.messageQueue <- env:
		return nil
	default:
		ctx.logger.Warn("message queue full, dropping push")
		return nil
	}
}

// pushReliable is the reliable-route retry loop: per-attempt cap 1s,
// exponential backoff 50ms->1s, bounded by the overall deadline (spec §4.1).
func (ctx *PluginContext) pushReliable(goCtx context.Context, payload map[string]interface{}, timeout time.Duration) error {
	ctx.pushLock.Lock()
	ctx.pushSeq++
	payload["seq"] = ctx.pushSeq
	ctx.pushLock.Unlock()

	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond
	const maxBackoff = time.Second
	const attemptCap = time.Second

	env := map[string]interface{}{
		"type":        "MESSAGE_PUSH",
		"from_plugin": ctx.PluginId,
		"request_id":  ctx.nextRequestId(),
	}
	for k, v := range payload {
		env[k] = v
	}

	var lastErr error
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		attemptTimeout := attemptCap
		if remaining < attemptTimeout {
			attemptTimeout = remaining
		}

		resp, err := ctx.fast.SendRequest(goCtx, env, attemptTimeout)
		if err == nil && resp != nil {
			if errMsg, hasErr := resp["error"]; hasErr {
				lastErr = fmt.Errorf("%v", errMsg)
			} else {
				return nil
			}
		} else {
			lastErr = err
		}

		remaining = time.Until(deadline)
		if remaining <= 0 {
			break
		}
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		time.Sleep(sleep)
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	if lastErr != nil {
		return newTimeoutError(fmt.Sprintf("push_message timed out: last error: %v", lastErr))
	}
	return newTimeoutError("push_message timed out")
}

// fastSink adapts a DatagramClient to BatchSink for the push batcher.
type fastSink struct {
	client DatagramClient
}

func (s fastSink) AcceptBatch(pluginId string, batch []PushEnvelope) {
	_ = s.client.SendBatch(pluginId, batch)
}
