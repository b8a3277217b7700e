package pluginbus

import (
	"context"
	"time"
)

// MemoryClient wraps query_memory / USER_CONTEXT_GET, the one route that
// goes out over the fast path with no fallback (spec §4.2, §9): when a
// datagram client is configured, a failure there surfaces as a timeout
// rather than silently retrying over the reliable queue.
type MemoryClient struct {
	ctx *PluginContext
}

// NewMemoryClient wraps ctx for memory queries.
func NewMemoryClient(ctx *PluginContext) *MemoryClient { return &MemoryClient{ctx: ctx} }

// Get fetches up to limit memory records for bucketId.
func (c *MemoryClient) Get(goCtx context.Context, bucketId string, limit int, timeout time.Duration) (*BusList[MemoryRecord], error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	if bucketId == "" {
		return nil, newUsageError("bucket_id is required")
	}
	data := map[string]interface{}{"bucket_id": bucketId, "limit": limit}

	var result interface{}
	var err error
	if c.ctx.fast != nil {
		result, err = c.ctx.sendViaFastNoFallback(goCtx, "USER_CONTEXT_GET", timeout, data)
	} else {
		result, err = c.ctx.sendRequestAndWait(goCtx, "USER_CONTEXT_GET", timeout, data)
	}
	if err != nil {
		return nil, err
	}

	raws := extractRecords(result)
	records := make([]MemoryRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, NewMemoryRecord(raw, bucketId))
	}
	list := NewBusList(records, c.ctx.PluginId, func(r MemoryRecord) BusRecord { return r.BusRecord })
	list.FastMode = c.ctx.fast != nil
	return list.WithPlan("USER_CONTEXT_GET", data), nil
}

// MessagesClient wraps MESSAGE_GET / MESSAGE_DEL.
type MessagesClient struct {
	ctx *PluginContext
}

// NewMessagesClient wraps ctx for message-queue access.
func NewMessagesClient(ctx *PluginContext) *MessagesClient { return &MessagesClient{ctx: ctx} }

// Get fetches up to limit messages addressed to pluginId. An empty
// pluginId is normalized to omitted/None so the router resolves it to the
// caller's own id; "*" is the explicit all-plugins wildcard and is
// preserved verbatim (spec §4.2, §4.4 item 3).
func (c *MessagesClient) Get(goCtx context.Context, pluginId string, limit int, priorityMin *int, timeout time.Duration) (*BusList[MessageRecord], error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	data := map[string]interface{}{"limit": limit}
	if pluginId != "" {
		data["plugin_id"] = pluginId
	}
	if priorityMin != nil {
		data["priority_min"] = *priorityMin
	}

	result, err := c.ctx.sendRequestAndWait(goCtx, "MESSAGE_GET", timeout, data)
	if err != nil {
		return nil, err
	}
	raws := extractRecords(result)
	records := make([]MessageRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, NewMessageRecord(raw))
	}
	resolvedPluginId := pluginId
	if resolvedPluginId == "" {
		resolvedPluginId = c.ctx.PluginId
	}
	list := NewBusList(records, resolvedPluginId, func(r MessageRecord) BusRecord { return r.BusRecord })
	return list.WithPlan("MESSAGE_GET", data), nil
}

// Delete removes a message by id, returning whether it existed.
func (c *MessagesClient) Delete(goCtx context.Context, messageId string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	result, err := c.ctx.sendRequestAndWait(goCtx, "MESSAGE_DEL", timeout, map[string]interface{}{"message_id": messageId})
	if err != nil {
		return false, err
	}
	return resultBool(result), nil
}

// EventsClient wraps EVENT_GET / EVENT_DEL.
type EventsClient struct {
	ctx *PluginContext
}

// NewEventsClient wraps ctx for event-log access.
func NewEventsClient(ctx *PluginContext) *EventsClient { return &EventsClient{ctx: ctx} }

// Get fetches up to limit events matching filters.
func (c *EventsClient) Get(goCtx context.Context, filters map[string]interface{}, limit int, timeout time.Duration) (*BusList[EventRecord], error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	data := map[string]interface{}{"filters": filters, "limit": limit}

	result, err := c.ctx.sendRequestAndWait(goCtx, "EVENT_GET", timeout, data)
	if err != nil {
		return nil, err
	}
	raws := extractRecords(result)
	records := make([]EventRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, NewEventRecord(raw))
	}
	list := NewBusList(records, c.ctx.PluginId, func(r EventRecord) BusRecord { return r.BusRecord })
	return list.WithPlan("EVENT_GET", data), nil
}

// Delete removes an event by entry id.
func (c *EventsClient) Delete(goCtx context.Context, entryId string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	result, err := c.ctx.sendRequestAndWait(goCtx, "EVENT_DEL", timeout, map[string]interface{}{"entry_id": entryId})
	if err != nil {
		return false, err
	}
	return resultBool(result), nil
}

// LifecycleClient wraps LIFECYCLE_GET / LIFECYCLE_DEL. Get blocks via the
// shared state registry rather than the usual queue-drain path, since
// lifecycle waits are typically issued outside any handler's dynamic
// extent and can afford to block the calling goroutine directly.
type LifecycleClient struct {
	ctx *PluginContext
}

// NewLifecycleClient wraps ctx for lifecycle-record access.
func NewLifecycleClient(ctx *PluginContext) *LifecycleClient { return &LifecycleClient{ctx: ctx} }

// Get fetches up to limit lifecycle records matching filters, blocking on
// the shared state registry until a response is posted or timeout elapses.
func (c *LifecycleClient) Get(goCtx context.Context, filters map[string]interface{}, limit int, timeout time.Duration) (*BusList[LifecycleRecord], error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	if err := c.ctx.checkCallPolicy(goCtx, "LIFECYCLE_GET"); err != nil {
		return nil, err
	}

	data := map[string]interface{}{"filters": filters, "limit": limit}

	reqId := c.ctx.nextRequestId()
	env := map[string]interface{}{
		"type":        "LIFECYCLE_GET",
		"from_plugin": c.ctx.PluginId,
		"request_id":  reqId,
		"timeout":     timeout.Seconds(),
	}
	for k, v := range data {
		env[k] = v
	}

	select {
	case c.ctx.commOut <- env:
	case <-time.After(timeout):
		return nil, newTimeoutError("queue put for LIFECYCLE_GET timed out")
	}

	resp, ok := c.ctx.registry.Wait(reqId, timeout)
	if !ok {
		return nil, newTimeoutError("LIFECYCLE_GET timed out")
	}
	result, err := c.ctx.finishResponse(resp)
	if err != nil {
		return nil, err
	}

	raws := extractRecords(result)
	records := make([]LifecycleRecord, 0, len(raws))
	for _, raw := range raws {
		records = append(records, NewLifecycleRecord(raw))
	}
	list := NewBusList(records, c.ctx.PluginId, func(r LifecycleRecord) BusRecord { return r.BusRecord })
	return list.WithPlan("LIFECYCLE_GET", data), nil
}

// Delete removes a lifecycle record by id.
func (c *LifecycleClient) Delete(goCtx context.Context, lifecycleId string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	result, err := c.ctx.sendRequestAndWait(goCtx, "LIFECYCLE_DEL", timeout, map[string]interface{}{"lifecycle_id": lifecycleId})
	if err != nil {
		return false, err
	}
	return resultBool(result), nil
}

// extractRecords normalizes a response's "records"/"result" list shape into
// a slice of raw maps, tolerating both {"records": [...]} and a bare list.
func extractRecords(result interface{}) []map[string]interface{} {
	var list []interface{}
	switch v := result.(type) {
	case map[string]interface{}:
		if recs, ok := v["history"].([]interface{}); ok {
			list = recs
		} else if recs, ok := v["records"].([]interface{}); ok {
			list = recs
		} else if recs, ok := v["result"].([]interface{}); ok {
			list = recs
		}
	case []interface{}:
		list = v
	}

	out := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, m)
		}
	}
	return out
}

func resultBool(result interface{}) bool {
	switch v := result.(type) {
	case bool:
		return v
	case map[string]interface{}:
		if b, ok := v["deleted"].(bool); ok {
			return b
		}
		if b, ok := v["result"].(bool); ok {
			return b
		}
	}
	return false
}
