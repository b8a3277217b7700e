package pluginbus

import "time"

// RecordKind discriminates the four bus record subtypes.
type RecordKind string

const (
	KindMemory    RecordKind = "memory"
	KindMessage   RecordKind = "message"
	KindEvent     RecordKind = "event"
	KindLifecycle RecordKind = "lifecycle"
)

// BusRecord holds the fields common to every record subtype. Records are
// immutable after construction; parsing a raw payload into one always
// succeeds, falling back to documented defaults for missing or ill-typed
// fields.
type BusRecord struct {
	Kind      RecordKind
	Type      string
	Timestamp *float64
	PluginId  string
	Source    string
	Priority  int
	Content   *string
	Metadata  map[string]interface{}
	Raw       map[string]interface{}
}

func newBusRecord(kind RecordKind, raw map[string]interface{}, typeSentinel string) BusRecord {
	r := BusRecord{Kind: kind, Raw: raw, Type: typeSentinel, Metadata: map[string]interface{}{}}
	if raw == nil {
		return r
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		r.Type = v
	}
	if v, ok := toFloat64(raw["_ts"]); ok {
		r.Timestamp = &v
	} else if v, ok := toFloat64(raw["timestamp"]); ok {
		r.Timestamp = &v
	}
	if v, ok := raw["plugin_id"].(string); ok {
		r.PluginId = v
	}
	if v, ok := raw["source"].(string); ok {
		r.Source = v
	}
	if v, ok := toFloat64(raw["priority"]); ok {
		r.Priority = int(v)
	}
	if v, ok := raw["content"].(string); ok {
		r.Content = &v
	}
	if v, ok := raw["metadata"].(map[string]interface{}); ok {
		r.Metadata = v
	}
	return r
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MemoryRecord is a slice of the memory store for a bucket (typically a
// per-user context window).
type MemoryRecord struct {
	BusRecord
	BucketId string
}

// NewMemoryRecord parses a raw memory-history entry. bucketId is supplied
// by the caller (the bucket being queried), not the payload.
func NewMemoryRecord(raw map[string]interface{}, bucketId string) MemoryRecord {
	return MemoryRecord{BusRecord: newBusRecord(KindMemory, raw, "MEMORY"), BucketId: bucketId}
}

// MessageRecord is a single pushed message.
type MessageRecord struct {
	BusRecord
	MessageId   string
	MessageType string
	Description string
}

// NewMessageRecord parses a raw message payload. type is normalized to
// message_type when present.
func NewMessageRecord(raw map[string]interface{}) MessageRecord {
	r := newBusRecord(KindMessage, raw, "MESSAGE")
	m := MessageRecord{BusRecord: r}
	if raw != nil {
		if v, ok := raw["message_id"].(string); ok {
			m.MessageId = v
		}
		if v, ok := raw["message_type"].(string); ok {
			m.MessageType = v
			m.Type = v
		}
		if v, ok := raw["description"].(string); ok {
			m.Description = v
		}
	}
	return m
}

// EventRecord is a single inter-plugin or tool-call event.
type EventRecord struct {
	BusRecord
	EventId string
	EntryId string
	Args    map[string]interface{}
}

// NewEventRecord parses a raw event payload. entry_id accepts either
// "entry_id" or "trace_id"; content falls back to entry_id when absent.
func NewEventRecord(raw map[string]interface{}) EventRecord {
	e := EventRecord{BusRecord: newBusRecord(KindEvent, raw, "EVENT")}
	if raw != nil {
		if v, ok := raw["event_id"].(string); ok {
			e.EventId = v
		}
		if v, ok := raw["entry_id"].(string); ok {
			e.EntryId = v
		} else if v, ok := raw["trace_id"].(string); ok {
			e.EntryId = v
		}
		if v, ok := raw["args"].(map[string]interface{}); ok {
			e.Args = v
		}
		if e.Content == nil && e.EntryId != "" {
			e.Content = &e.EntryId
		}
	}
	return e
}

// LifecycleRecord tracks a plugin lifecycle transition.
type LifecycleRecord struct {
	BusRecord
	LifecycleId string
	Detail      map[string]interface{}
}

// NewLifecycleRecord parses a raw lifecycle payload.
func NewLifecycleRecord(raw map[string]interface{}) LifecycleRecord {
	l := LifecycleRecord{BusRecord: newBusRecord(KindLifecycle, raw, "LIFECYCLE")}
	if raw != nil {
		if v, ok := raw["lifecycle_id"].(string); ok {
			l.LifecycleId = v
		}
		if v, ok := raw["detail"].(map[string]interface{}); ok {
			l.Detail = v
		}
	}
	return l
}

// BusOp records one filter/get operation applied while building a BusList,
// for trace purposes.
type BusOp struct {
	Name   string
	Params map[string]interface{}
	At     time.Time
}

// GetNode is the single-node plan attached to a BusList returned by a
// client's get() call.
type GetNode struct {
	Op     string
	Params map[string]interface{}
	At     time.Time
}

// Filter is a conjunctive predicate over BusRecord fields. A zero-valued
// (nil) field never constrains the match.
type Filter struct {
	Kind        *RecordKind
	Type        *string
	PluginId    *string
	Source      *string
	PriorityMin *int
	SinceTs     *float64
	UntilTs     *float64
}

func (f Filter) matches(r BusRecord) bool {
	if f.Kind != nil && r.Kind != *f.Kind {
		return false
	}
	if f.Type != nil && r.Type != *f.Type {
		return false
	}
	if f.PluginId != nil && r.PluginId != *f.PluginId {
		return false
	}
	if f.Source != nil && r.Source != *f.Source {
		return false
	}
	if f.PriorityMin != nil && r.Priority < *f.PriorityMin {
		return false
	}
	if f.SinceTs != nil || f.UntilTs != nil {
		if r.Timestamp == nil {
			return false
		}
		if f.SinceTs != nil && *r.Timestamp < *f.SinceTs {
			return false
		}
		if f.UntilTs != nil && *r.Timestamp > *f.UntilTs {
			return false
		}
	}
	return true
}

// BusList is a homogeneous, ordered list of records of a single subtype,
// carrying trace/plan metadata accumulated by the clients that build it.
type BusList[T any] struct {
	Items    []T
	PluginId string
	FastMode bool
	trace    []BusOp
	plan     *GetNode
	toRecord func(T) BusRecord
}

// NewBusList wraps items with the accessor used to view each item as a
// BusRecord for filtering.
func NewBusList[T any](items []T, pluginId string, toRecord func(T) BusRecord) *BusList[T] {
	return &BusList[T]{Items: items, PluginId: pluginId, toRecord: toRecord}
}

// Filter returns a new list containing only items matching f, recording a
// trace entry for the operation.
func (l *BusList[T]) Filter(f Filter) *BusList[T] {
	out := make([]T, 0, len(l.Items))
	for _, item := range l.Items {
		if f.matches(l.toRecord(item)) {
			out = append(out, item)
		}
	}
	next := &BusList[T]{Items: out, PluginId: l.PluginId, FastMode: l.FastMode, toRecord: l.toRecord,
		trace: append(append([]BusOp{}, l.trace...), BusOp{Name: "filter", At: opNow()}), plan: l.plan}
	return next
}

// Where returns a new list containing only items for which predicate
// returns true.
func (l *BusList[T]) Where(predicate func(T) bool) *BusList[T] {
	out := make([]T, 0, len(l.Items))
	for _, item := range l.Items {
		if predicate(item) {
			out = append(out, item)
		}
	}
	next := &BusList[T]{Items: out, PluginId: l.PluginId, FastMode: l.FastMode, toRecord: l.toRecord,
		trace: append(append([]BusOp{}, l.trace...), BusOp{Name: "where", At: opNow()}), plan: l.plan}
	return next
}

// Limit returns the first n items. n<=0 yields an empty list.
func (l *BusList[T]) Limit(n int) *BusList[T] {
	if n <= 0 {
		return &BusList[T]{PluginId: l.PluginId, toRecord: l.toRecord,
			trace: append(append([]BusOp{}, l.trace...), BusOp{Name: "limit", Params: map[string]interface{}{"n": n}, At: opNow()}), plan: l.plan}
	}
	if n > len(l.Items) {
		n = len(l.Items)
	}
	out := make([]T, n)
	copy(out, l.Items[:n])
	return &BusList[T]{Items: out, PluginId: l.PluginId, FastMode: l.FastMode, toRecord: l.toRecord,
		trace: append(append([]BusOp{}, l.trace...), BusOp{Name: "limit", Params: map[string]interface{}{"n": n}, At: opNow()}), plan: l.plan}
}

// Merge concatenates other onto l. The merged plugin_id is l's when both
// sides agree, else the wildcard "*".
func (l *BusList[T]) Merge(other *BusList[T]) *BusList[T] {
	pid := l.PluginId
	if pid != other.PluginId {
		pid = "*"
	}
	out := make([]T, 0, len(l.Items)+len(other.Items))
	out = append(out, l.Items...)
	out = append(out, other.Items...)
	return &BusList[T]{Items: out, PluginId: pid, FastMode: l.FastMode || other.FastMode, toRecord: l.toRecord, trace: l.trace, plan: l.plan}
}

// Len returns the number of items.
func (l *BusList[T]) Len() int { return len(l.Items) }

// Trace returns the chain of operations applied to produce this list.
func (l *BusList[T]) Trace() []BusOp { return l.trace }

// Plan returns the get-node plan attached by the client that built this
// list, if any.
func (l *BusList[T]) Plan() *GetNode { return l.plan }

// WithPlan attaches a plan node, used by clients right after a get() call.
func (l *BusList[T]) WithPlan(op string, params map[string]interface{}) *BusList[T] {
	l.plan = &GetNode{Op: op, Params: params, At: opNow()}
	l.trace = append(l.trace, BusOp{Name: op, Params: params, At: opNow()})
	return l
}

// opNow exists so trace timestamps go through one seam; callers that need
// determinism in tests can't override time.Now directly, but every path
// that depends on ordering uses this single source.
func opNow() time.Time { return time.Now() }

// PluginDescriptor is the shape returned by query_plugins: one entry per
// registered plugin, Endpoint and InputSchema populated when the plugin's
// manifest carries them.
type PluginDescriptor struct {
	Id          string
	Name        string
	Description string
	Endpoint    string
	InputSchema map[string]interface{}
}

// ToMap renders the descriptor for wire transport, omitting Endpoint when
// the plugin never advertised one and rendering a missing InputSchema as
// an empty object.
func (d PluginDescriptor) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"id":          d.Id,
		"name":        d.Name,
		"description": d.Description,
	}
	if d.Endpoint != "" {
		m["endpoint"] = d.Endpoint
	}
	if d.InputSchema != nil {
		m["input_schema"] = d.InputSchema
	} else {
		m["input_schema"] = map[string]interface{}{}
	}
	return m
}

// PluginDescriptorTestPlugin is the built-in descriptor exposed by
// query_plugins when no real plugin has attached, used as a minimal local
// smoke-test target.
var PluginDescriptorTestPlugin = PluginDescriptor{
	Id:          "testPlugin",
	Name:        "Test Plugin",
	Description: "minimal plugin used for local testing — responds with an ERROR-level notice when called",
	InputSchema: map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"message": map[string]interface{}{"type": "string"}},
	},
}
