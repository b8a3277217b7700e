package pluginbus

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wislap/neko-plugin-bus/cbor"
	"github.com/wislap/neko-plugin-bus/config"
	"github.com/wislap/neko-plugin-bus/ingress"
	"github.com/wislap/neko-plugin-bus/kvstore"
	"github.com/wislap/neko-plugin-bus/opid"
)

// workerEvent is an internal event raised by a worker's reader goroutine.
type workerEvent struct {
	pluginId string
	frame    *cbor.Frame
	isDeath  bool
}

// registeredOperation associates an operation pattern with the plugin that
// registered it, used to route trigger_plugin_event dispatches (spec §4.4).
type registeredOperation struct {
	id       *opid.OperationId
	pluginId string
}

// managedWorker tracks one plugin worker process or attached connection.
type managedWorker struct {
	id          string
	path        string
	cmd         *exec.Cmd
	writerCh    chan *cbor.Frame
	manifest    []byte
	limits      cbor.Limits
	operations  []*opid.OperationId
	running     bool
	helloFailed bool

	cfg *config.Loader
	kv  *kvstore.Store
}

// dispatchWaiter is the rendezvous used when the Router itself issues a REQ
// to a worker (a trigger_plugin_event dispatch) and blocks for its RES/ERR.
type dispatchWaiter chan map[string]interface{}

// Router is the host side of the bus (spec §4.4): it manages plugin worker
// processes, dispatches PLUGIN_TO_PLUGIN events by matching the target
// against each worker's registered opid.OperationId set, and implements the
// rest of the operation catalog (status, messages, events, lifecycle,
// memory, config) as in-process state shared by every connected worker.
type Router struct {
	mu      sync.Mutex
	workers map[string]*managedWorker
	opTable []registeredOperation

	dispatchMu sync.Mutex
	dispatch   map[string]dispatchWaiter

	eventCh chan workerEvent
	logger  *logrus.Entry

	storeMu      sync.Mutex
	messages     []map[string]interface{}
	events       []map[string]interface{}
	lifecycle    []map[string]interface{}
	memory       map[string][]map[string]interface{}
	systemConfig map[string]interface{}

	ingress   *ingress.Queue
	validator *config.Validator
	dataDir   string

	datagramListener net.Listener
}

// NewRouter creates a Router persisting per-plugin config/kv files under
// dataDir (one subdirectory per plugin id).
func NewRouter(dataDir string, logger *logrus.Entry) *Router {
	return &Router{
		workers:      make(map[string]*managedWorker),
		dispatch:     make(map[string]dispatchWaiter),
		eventCh:      make(chan workerEvent, 256),
		logger:       logger,
		memory:       make(map[string][]map[string]interface{}),
		systemConfig: make(map[string]interface{}),
		ingress:      ingress.NewQueue(ingress.DefaultCapacity, logger),
		validator:    config.NewValidator(),
		dataDir:      dataDir,
	}
}

func (h *Router) workerDir(pluginId string) string {
	return filepath.Join(h.dataDir, pluginId)
}

// RegisterWorker registers a plugin binary for on-demand spawning; it is
// not started until the first request needs it.
func (h *Router) RegisterWorker(pluginId, path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.workers[pluginId] = &managedWorker{
		id:     pluginId,
		path:   path,
		limits: cbor.DefaultLimits(),
		cfg:    config.NewLoader(filepath.Join(h.workerDir(pluginId), "config.toml")),
	}
}

// AttachWorker attaches an already-running plugin connection and performs
// the HELLO handshake immediately.
func (h *Router) AttachWorker(pluginId string, r io.Reader, w io.Writer) error {
	reader := cbor.NewFrameReader(r)
	writer := cbor.NewFrameWriter(w)

	manifest, limits, err := cbor.HandshakeInitiate(reader, writer)
	if err != nil {
		return fmt.Errorf("handshake with %s failed: %w", pluginId, err)
	}
	reader.SetLimits(limits)
	writer.SetLimits(limits)

	ops, err := parseOperationsFromManifest(manifest)
	if err != nil {
		return fmt.Errorf("parse manifest from %s: %w", pluginId, err)
	}

	h.mu.Lock()
	worker := &managedWorker{
		id:         pluginId,
		writerCh:   make(chan *cbor.Frame, 64),
		manifest:   manifest,
		limits:     limits,
		operations: ops,
		running:    true,
		cfg:        config.NewLoader(filepath.Join(h.workerDir(pluginId), "config.toml")),
	}
	h.workers[pluginId] = worker
	h.rebuildOpTableLocked()
	h.mu.Unlock()

	if err := h.openKVLocked(worker); err != nil {
		h.logger.WithError(err).WithField("plugin_id", pluginId).Warn("failed to open kv store")
	}

	go h.writerLoop(worker.writerCh, writer)
	go h.readerLoop(pluginId, reader)
	return nil
}

func (h *Router) openKVLocked(worker *managedWorker) error {
	if err := os.MkdirAll(h.workerDir(worker.id), 0755); err != nil {
		return err
	}
	kv, err := kvstore.Open(filepath.Join(h.workerDir(worker.id), "kv.db"), worker.cfg.Get().KVStoreEnabled, h.logger.WithField("plugin_id", worker.id))
	if err != nil {
		return err
	}
	worker.kv = kv
	return nil
}

// Run is the Router's main event loop. It blocks until eventCh is closed,
// which this type never does: Shutdown and worker deaths do not end it.
func (h *Router) Run() {
	for event := range h.eventCh {
		if event.isDeath {
			h.handleWorkerDeath(event.pluginId)
			continue
		}
		if event.frame != nil {
			h.handleWorkerFrame(event.pluginId, event.frame)
		}
	}
}

// ListenDatagram accepts the low-latency path spec §6.3 describes: a
// TCPDatagramClient dials in per call and writes one REQ frame carrying
// PUSH_SYNC (request/response, routed through handleBusOperation exactly
// like a queued request) or PUSH_BATCH (a flushed push-batch, stored
// fire-and-forget). It runs until the listener is closed by Shutdown.
func (h *Router) ListenDatagram(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen datagram %s: %w", addr, err)
	}
	h.mu.Lock()
	h.datagramListener = ln
	h.mu.Unlock()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go h.serveDatagramConn(conn)
		}
	}()
	return ln, nil
}

func (h *Router) serveDatagramConn(conn net.Conn) {
	defer conn.Close()

	frame, err := cbor.NewFrameReader(conn).ReadFrame()
	if err != nil {
		return
	}
	if frame.FrameType != cbor.FrameTypeReq {
		return
	}

	env, err := decodeEnvelope(frame.Payload)
	if err != nil {
		cbor.NewFrameWriter(conn).WriteFrame(cbor.NewErr(frame.Id, "BAD_ENVELOPE", err.Error()))
		return
	}

	capUrn := ""
	if frame.Cap != nil {
		capUrn = *frame.Cap
	}

	switch capUrn {
	case "PUSH_BATCH":
		h.handleDatagramBatch(env)
		// Fire-and-forget: no reply expected (spec §5/§9).

	default:
		pluginId, _ := env["from_plugin"].(string)
		result, err := h.handleBusOperation(pluginId, env)
		writer := cbor.NewFrameWriter(conn)
		if err != nil {
			writer.WriteFrame(cbor.NewErr(frame.Id, "OP_FAILED", err.Error()))
			return
		}
		payload, err := encodeEnvelope(resultEnvelope(result))
		if err != nil {
			writer.WriteFrame(cbor.NewErr(frame.Id, "ENCODE_FAILED", err.Error()))
			return
		}
		writer.WriteFrame(cbor.NewRes(frame.Id, payload, envelopeContentType))
	}
}

// handleDatagramBatch appends each item of a flushed push batch as a message
// record, stamping plugin_id/_ts the same way MESSAGE_PUSH does.
func (h *Router) handleDatagramBatch(env map[string]interface{}) {
	pluginId, _ := env["plugin_id"].(string)
	batch, _ := env["batch"].([]interface{})

	h.storeMu.Lock()
	defer h.storeMu.Unlock()
	for _, item := range batch {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		payload, _ := entry["payload"].(map[string]interface{})
		rec := cloneMap(payload)
		rec["plugin_id"] = pluginId
		rec["_ts"] = float64(time.Now().UnixNano()) / 1e9
		h.messages = append(h.messages, rec)
	}
}

// SpawnIfNeeded spawns a registered-but-not-yet-running worker.
func (h *Router) SpawnIfNeeded(pluginId string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	worker, ok := h.workers[pluginId]
	if !ok {
		return fmt.Errorf("no worker registered for %s", pluginId)
	}
	if worker.running {
		return nil
	}
	if worker.helloFailed {
		return fmt.Errorf("worker %s previously failed to start", pluginId)
	}
	return h.spawnLocked(worker)
}

func (h *Router) spawnLocked(worker *managedWorker) error {
	if worker.path == "" {
		worker.helloFailed = true
		return fmt.Errorf("worker %s has no executable path", worker.id)
	}

	cmd := exec.Command(worker.path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		worker.helloFailed = true
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		worker.helloFailed = true
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		worker.helloFailed = true
		return fmt.Errorf("start worker: %w", err)
	}
	worker.cmd = cmd

	reader := cbor.NewFrameReader(stdout)
	writer := cbor.NewFrameWriter(stdin)

	manifest, limits, err := cbor.HandshakeInitiate(reader, writer)
	if err != nil {
		worker.helloFailed = true
		cmd.Process.Kill()
		return fmt.Errorf("handshake: %w", err)
	}
	reader.SetLimits(limits)
	writer.SetLimits(limits)

	ops, err := parseOperationsFromManifest(manifest)
	if err != nil {
		worker.helloFailed = true
		cmd.Process.Kill()
		return fmt.Errorf("parse manifest: %w", err)
	}

	worker.manifest = manifest
	worker.limits = limits
	worker.operations = ops
	worker.running = true
	worker.writerCh = make(chan *cbor.Frame, 64)

	if worker.kv == nil {
		if err := h.openKVLocked(worker); err != nil {
			h.logger.WithError(err).WithField("plugin_id", worker.id).Warn("failed to open kv store")
		}
	}

	h.rebuildOpTableLocked()

	go h.writerLoop(worker.writerCh, writer)
	go h.readerLoop(worker.id, reader)
	return nil
}

func (h *Router) rebuildOpTableLocked() {
	h.opTable = nil
	for id, worker := range h.workers {
		if !worker.running {
			continue
		}
		for _, op := range worker.operations {
			h.opTable = append(h.opTable, registeredOperation{id: op, pluginId: id})
		}
	}
}

func (h *Router) writerLoop(ch chan *cbor.Frame, writer *cbor.FrameWriter) {
	for frame := range ch {
		if err := writer.WriteFrame(frame); err != nil {
			return
		}
	}
}

func (h *Router) readerLoop(pluginId string, reader *cbor.FrameReader) {
	for {
		frame, err := reader.ReadFrame()
		if err != nil {
			h.eventCh <- workerEvent{pluginId: pluginId, isDeath: true}
			return
		}
		h.eventCh <- workerEvent{pluginId: pluginId, frame: frame}
	}
}

func (h *Router) sendToWorker(pluginId string, frame *cbor.Frame) {
	h.mu.Lock()
	worker, ok := h.workers[pluginId]
	h.mu.Unlock()
	if !ok || worker.writerCh == nil {
		return
	}
	select {
	case worker.writerCh <- frame:
	default:
		h.logger.WithField("plugin_id", pluginId).Warn("worker write channel full, dropping frame")
	}
}

// handleWorkerFrame dispatches one inbound frame from a worker connection.
func (h *Router) handleWorkerFrame(pluginId string, frame *cbor.Frame) {
	switch frame.FrameType {
	case cbor.FrameTypeReq:
		// Answered off the event loop: a PLUGIN_TO_PLUGIN dispatch waits for
		// the target's RES, which only this loop can deliver.
		go h.handleWorkerRequest(pluginId, frame)

	case cbor.FrameTypeRes:
		env, err := decodeEnvelope(frame.Payload)
		if err != nil {
			h.logger.WithError(err).Warn("failed to decode RES payload")
			return
		}
		h.deliverDispatchResult(frame.Id.ToString(), env)

	case cbor.FrameTypeErr:
		h.deliverDispatchResult(frame.Id.ToString(), map[string]interface{}{"error": frame.ErrorMessage(), "code": frame.ErrorCode()})

	case cbor.FrameTypeLog:
		h.logWorkerMessage(pluginId, frame)

	case cbor.FrameTypeHeartbeat:
		h.sendToWorker(pluginId, cbor.NewHeartbeat(frame.Id))

	case cbor.FrameTypeHello:
		// Protocol violation post-handshake; ignore.

	default:
		// CHUNK/END reassembly isn't wired: every bus envelope is a small
		// control-plane map, never bulk data, so this implementation has no
		// producer for multi-frame payloads (see DESIGN.md).
	}
}

func (h *Router) logWorkerMessage(pluginId string, frame *cbor.Frame) {
	entry := h.logger.WithField("plugin_id", pluginId)
	switch frame.LogLevel() {
	case "error":
		entry.Error(frame.LogMessage())
	case "warn", "warning":
		entry.Warn(frame.LogMessage())
	case "debug":
		entry.Debug(frame.LogMessage())
	default:
		entry.Info(frame.LogMessage())
	}
}

func (h *Router) deliverDispatchResult(idKey string, result map[string]interface{}) {
	h.dispatchMu.Lock()
	waiter, ok := h.dispatch[idKey]
	if ok {
		delete(h.dispatch, idKey)
	}
	h.dispatchMu.Unlock()
	if ok {
		select {
		case waiter <- result:
		default:
		}
	}
}

// handleWorkerRequest decodes a worker-originated REQ envelope and answers
// it immediately with the central bus-operation implementation (spec §6.1).
func (h *Router) handleWorkerRequest(pluginId string, frame *cbor.Frame) {
	env, err := decodeEnvelope(frame.Payload)
	if err != nil {
		h.sendToWorker(pluginId, cbor.NewErr(frame.Id, "BAD_ENVELOPE", err.Error()))
		return
	}

	result, opErr := h.handleBusOperation(pluginId, env)
	if opErr != nil {
		code := "ERROR"
		if be, ok := opErr.(*BusError); ok {
			code = be.Type.String()
		}
		h.sendToWorker(pluginId, cbor.NewErr(frame.Id, code, opErr.Error()))
		return
	}

	payload, err := encodeEnvelope(map[string]interface{}{"request_id": env["request_id"], "result": result})
	if err != nil {
		h.sendToWorker(pluginId, cbor.NewErr(frame.Id, "ENCODE_FAILED", err.Error()))
		return
	}
	h.sendToWorker(pluginId, cbor.NewRes(frame.Id, payload, envelopeContentType))
}

// handleBusOperation implements the bus operation catalog (spec §6.1),
// dispatched by the envelope's "type" field.
func (h *Router) handleBusOperation(pluginId string, env map[string]interface{}) (map[string]interface{}, error) {
	reqType, _ := env["type"].(string)

	switch reqType {
	case "STATUS_UPDATE":
		return map[string]interface{}{"ok": true}, nil

	case "MESSAGE_PUSH":
		h.storeMu.Lock()
		rec := cloneMap(env)
		rec["plugin_id"] = pluginId
		rec["_ts"] = float64(time.Now().UnixNano()) / 1e9
		h.messages = append(h.messages, rec)
		h.storeMu.Unlock()
		return map[string]interface{}{"ok": true}, nil

	case "MESSAGE_GET":
		return map[string]interface{}{"records": h.filterRecords(h.messages, env, pluginId)}, nil

	case "MESSAGE_DEL":
		return map[string]interface{}{"deleted": h.deleteRecord(&h.messages, "message_id", env["message_id"])}, nil

	case "EVENT_GET":
		return map[string]interface{}{"records": h.filterRecords(h.events, env, pluginId)}, nil

	case "EVENT_DEL":
		return map[string]interface{}{"deleted": h.deleteRecord(&h.events, "entry_id", env["entry_id"])}, nil

	case "LIFECYCLE_GET":
		return map[string]interface{}{"records": h.filterRecords(h.lifecycle, env, pluginId)}, nil

	case "LIFECYCLE_DEL":
		return map[string]interface{}{"deleted": h.deleteRecord(&h.lifecycle, "lifecycle_id", env["lifecycle_id"])}, nil

	case "USER_CONTEXT_GET", "MEMORY_QUERY":
		bucketId, _ := env["bucket_id"].(string)
		if bucketId == "" {
			bucketId, _ = env["lanlan_name"].(string)
		}
		limit := intFromEnv(env["limit"])
		h.storeMu.Lock()
		records := append([]map[string]interface{}{}, h.memory[bucketId]...)
		h.storeMu.Unlock()
		if limit > 0 && len(records) > limit {
			records = records[len(records)-limit:]
		}
		return map[string]interface{}{"records": records}, nil

	case "PLUGIN_TO_PLUGIN":
		return h.dispatchPluginEvent(pluginId, env)

	case "PLUGIN_QUERY":
		return map[string]interface{}{"plugins": h.describeWorkers(env)}, nil

	case "PLUGIN_CONFIG_GET":
		h.mu.Lock()
		worker, ok := h.workers[pluginId]
		h.mu.Unlock()
		if !ok {
			return nil, newUsageError("unknown plugin")
		}
		return configToMap(worker.cfg.Get()), nil

	case "PLUGIN_SYSTEM_CONFIG_GET":
		h.storeMu.Lock()
		defer h.storeMu.Unlock()
		return cloneMap(h.systemConfig), nil

	case "PLUGIN_CONFIG_UPDATE":
		return h.updateWorkerConfig(pluginId, env)

	default:
		return nil, newUsageError(fmt.Sprintf("unknown request type %q", reqType))
	}
}

// dispatchPluginEvent routes a PLUGIN_TO_PLUGIN envelope to its target,
// matching target against each worker's registered operations when it
// isn't a literal plugin id (spec §4.4's opid-based routing).
func (h *Router) dispatchPluginEvent(fromPluginId string, env map[string]interface{}) (map[string]interface{}, error) {
	target, _ := env["target"].(string)
	eventType, _ := env["event_type"].(string)

	targetPlugin := h.resolveTarget(target, eventType)
	if targetPlugin == "" {
		return nil, newUsageError(fmt.Sprintf("no plugin registered for target %q", target))
	}

	h.mu.Lock()
	worker, ok := h.workers[targetPlugin]
	h.mu.Unlock()
	if !ok || !worker.running {
		return nil, newTransportError(fmt.Sprintf("target plugin %q is not running", targetPlugin))
	}

	reqId := uuid.NewString()
	frameId, err := frameIdFromRequestId(reqId)
	if err != nil {
		return nil, newTransportError(err.Error())
	}

	dispatchEnv := cloneMap(env)
	dispatchEnv["request_id"] = reqId
	dispatchEnv["from_plugin"] = fromPluginId
	payload, err := encodeEnvelope(dispatchEnv)
	if err != nil {
		return nil, newTransportError(err.Error())
	}

	waiter := make(dispatchWaiter, 1)
	h.dispatchMu.Lock()
	h.dispatch[frameId.ToString()] = waiter
	h.dispatchMu.Unlock()

	h.sendToWorker(targetPlugin, cbor.NewReq(frameId, eventType, payload, envelopeContentType))

	timeout := durationFromEnv(env["timeout"], 10*time.Second)
	select {
	case result := <-waiter:
		if errMsg, hasErr := result["error"]; hasErr {
			return nil, newRemoteError(fmt.Sprintf("%v", errMsg))
		}
		// The target wraps its handler's reply as {"result": ...}.
		inner, _ := result["result"].(map[string]interface{})
		return inner, nil
	case <-time.After(timeout):
		h.dispatchMu.Lock()
		delete(h.dispatch, frameId.ToString())
		h.dispatchMu.Unlock()
		return nil, newTimeoutError(fmt.Sprintf("PLUGIN_TO_PLUGIN to %s timed out", targetPlugin))
	}
}

func (h *Router) resolveTarget(target, eventType string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.workers[target]; ok {
		return target
	}
	reqOp, err := opid.NewOperationIdFromString(eventType)
	if err != nil {
		return ""
	}
	for _, entry := range h.opTable {
		if entry.id.CanHandle(reqOp) {
			return entry.pluginId
		}
	}
	return ""
}

// describeWorkers returns one PluginDescriptor per registered plugin
// (attached or registered for spawning), enriched with its running state
// and registered operations. When no plugin is registered at all, it
// falls back to PluginDescriptorTestPlugin so a
// caller always has something to exercise (spec [SUPPLEMENT] item 3).
func (h *Router) describeWorkers(filters map[string]interface{}) []map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.workers) == 0 {
		m := PluginDescriptorTestPlugin.ToMap()
		m["running"] = false
		m["operations"] = []string{}
		return []map[string]interface{}{m}
	}

	ids := make([]string, 0, len(h.workers))
	for id := range h.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		worker := h.workers[id]
		ops := make([]string, 0, len(worker.operations))
		for _, op := range worker.operations {
			ops = append(ops, op.ToString())
		}

		meta := parseManifestMeta(worker.manifest)
		desc := PluginDescriptor{Id: id, Name: meta.Name, Description: meta.Description, Endpoint: meta.Endpoint, InputSchema: meta.InputSchema}
		if desc.Name == "" {
			desc.Name = id
		}
		m := desc.ToMap()
		m["running"] = worker.running
		m["operations"] = ops
		out = append(out, m)
	}
	return out
}

func (h *Router) updateWorkerConfig(pluginId string, env map[string]interface{}) (map[string]interface{}, error) {
	updates, _ := env["updates"].(map[string]interface{})
	if schema, ok := env["schema"].(map[string]interface{}); ok {
		if err := h.validator.ValidateConfigUpdate(updates, schema); err != nil {
			return nil, newUsageError(err.Error())
		}
	}

	h.mu.Lock()
	worker, ok := h.workers[pluginId]
	h.mu.Unlock()
	if !ok {
		return nil, newUsageError("unknown plugin")
	}

	current := worker.cfg.Get()
	merged := mergeConfigUpdates(current, updates)

	path := filepath.Join(h.workerDir(pluginId), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, newTransportError(err.Error())
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, newTransportError(err.Error())
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(merged); err != nil {
		return nil, newTransportError(err.Error())
	}

	return map[string]interface{}{"ok": true}, nil
}

// handleWorkerDeath marks a worker dead, fails any in-flight dispatches
// routed to it, and rebuilds the operation table.
func (h *Router) handleWorkerDeath(pluginId string) {
	h.mu.Lock()
	worker, ok := h.workers[pluginId]
	if ok {
		worker.running = false
		if worker.writerCh != nil {
			close(worker.writerCh)
			worker.writerCh = nil
		}
		if worker.cmd != nil && worker.cmd.Process != nil {
			worker.cmd.Process.Kill()
			worker.cmd = nil
		}
		if worker.kv != nil {
			worker.kv.Close()
		}
		h.rebuildOpTableLocked()
	}
	h.mu.Unlock()

	h.dispatchMu.Lock()
	for idKey, waiter := range h.dispatch {
		select {
		case waiter <- map[string]interface{}{"error": fmt.Sprintf("plugin %s died", pluginId)}:
		default:
		}
		delete(h.dispatch, idKey)
	}
	h.dispatchMu.Unlock()

	h.logger.WithField("plugin_id", pluginId).Warn("plugin worker disconnected")
}

// Shutdown stops every worker process and closes its resources.
func (h *Router) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.datagramListener != nil {
		h.datagramListener.Close()
		h.datagramListener = nil
	}
	for _, worker := range h.workers {
		if worker.writerCh != nil {
			close(worker.writerCh)
			worker.writerCh = nil
		}
		if worker.cmd != nil && worker.cmd.Process != nil {
			worker.cmd.Process.Kill()
		}
		if worker.kv != nil {
			worker.kv.Close()
		}
		worker.running = false
	}
}

// filterRecords applies the router's conjunctive filter contract (spec §3,
// §4.2, §4.4) to a stored record set: plugin_id=None resolves to the
// caller's own id, plugin_id="*" is preserved verbatim (no filter), and
// since_ts/until_ts/priority_min constrain further. Flat fields (messages,
// lifecycle) and a nested "filters" map (events, lifecycle) are both
// honored, with the nested map taking precedence when both are present.
func (h *Router) filterRecords(store []map[string]interface{}, env map[string]interface{}, callerPluginId string) []map[string]interface{} {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()

	params := cloneMap(env)
	if filters, ok := env["filters"].(map[string]interface{}); ok {
		for k, v := range filters {
			params[k] = v
		}
	}

	pluginIdFilter := ""
	if v, ok := params["plugin_id"]; ok {
		if s, ok := v.(string); ok {
			pluginIdFilter = s
		}
	}
	if pluginIdFilter == "" {
		pluginIdFilter = callerPluginId
	}

	sinceTs, hasSince := toFloat64(params["since_ts"])
	untilTs, hasUntil := toFloat64(params["until_ts"])
	priorityMin, hasPriorityMin := toFloat64(params["priority_min"])

	out := make([]map[string]interface{}, 0, len(store))
	for _, rec := range store {
		if pluginIdFilter != "*" {
			if pid, _ := rec["plugin_id"].(string); pid != pluginIdFilter {
				continue
			}
		}
		if hasSince || hasUntil {
			ts, hasTs := toFloat64(rec["_ts"])
			if !hasTs {
				continue
			}
			if hasSince && ts < sinceTs {
				continue
			}
			if hasUntil && ts > untilTs {
				continue
			}
		}
		if hasPriorityMin {
			priority, _ := toFloat64(rec["priority"])
			if priority < priorityMin {
				continue
			}
		}
		out = append(out, rec)
	}

	limit := intFromEnv(env["limit"])
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (h *Router) deleteRecord(store *[]map[string]interface{}, idField string, idValue interface{}) bool {
	h.storeMu.Lock()
	defer h.storeMu.Unlock()

	target, ok := idValue.(string)
	if !ok || target == "" {
		return false
	}
	for i, rec := range *store {
		if v, _ := rec[idField].(string); v == target {
			*store = append((*store)[:i], (*store)[i+1:]...)
			return true
		}
	}
	return false
}

// parseOperationsFromManifest parses the operation-pattern strings a
// plugin's --manifest output declares: {"operations": ["bus:events:*", ...]}.
func parseOperationsFromManifest(manifest []byte) ([]*opid.OperationId, error) {
	if len(manifest) == 0 {
		return nil, nil
	}
	var parsed struct {
		Operations []string `json:"operations"`
	}
	if err := json.Unmarshal(manifest, &parsed); err != nil {
		return nil, fmt.Errorf("parse manifest JSON: %w", err)
	}
	ops := make([]*opid.OperationId, 0, len(parsed.Operations))
	for _, s := range parsed.Operations {
		id, err := opid.NewOperationIdFromString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid operation id %q: %w", s, err)
		}
		ops = append(ops, id)
	}
	return ops, nil
}

// manifestMeta mirrors the descriptor-relevant fields a plugin's --manifest
// output may carry, beyond the bare operation pattern list.
type manifestMeta struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Endpoint    string                 `json:"endpoint,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

func parseManifestMeta(manifest []byte) manifestMeta {
	var m manifestMeta
	if len(manifest) == 0 {
		return m
	}
	json.Unmarshal(manifest, &m)
	return m
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func intFromEnv(v interface{}) int {
	n, ok := toFloat64(v)
	if !ok {
		return 0
	}
	return int(n)
}

func durationFromEnv(v interface{}, def time.Duration) time.Duration {
	n, ok := toFloat64(v)
	if !ok || n <= 0 {
		return def
	}
	return time.Duration(n * float64(time.Second))
}

func configToMap(cfg config.PluginConfig) map[string]interface{} {
	return map[string]interface{}{
		"sync_call_in_handler": cfg.SyncCallInHandler,
		"kvstore_enabled":      cfg.KVStoreEnabled,
		"fast_push": map[string]interface{}{
			"batch_size":           cfg.FastPush.BatchSize,
			"flush_interval_ms":    cfg.FastPush.FlushIntervalMs,
			"sync_timeout_seconds": cfg.FastPush.SyncTimeoutSeconds,
			"endpoint":             cfg.FastPush.Endpoint,
		},
	}
}

func mergeConfigUpdates(current config.PluginConfig, updates map[string]interface{}) config.PluginConfig {
	merged := current
	if v, ok := updates["sync_call_in_handler"].(string); ok {
		merged.SyncCallInHandler = v
	}
	if v, ok := updates["kvstore_enabled"].(bool); ok {
		merged.KVStoreEnabled = v
	}
	if fp, ok := updates["fast_push"].(map[string]interface{}); ok {
		if v, ok := fp["batch_size"].(float64); ok {
			merged.FastPush.BatchSize = int(v)
		}
		if v, ok := fp["flush_interval_ms"].(float64); ok {
			merged.FastPush.FlushIntervalMs = int(v)
		}
		if v, ok := fp["sync_timeout_seconds"].(float64); ok {
			merged.FastPush.SyncTimeoutSeconds = int(v)
		}
		if v, ok := fp["endpoint"].(string); ok {
			merged.FastPush.Endpoint = v
		}
	}
	return merged
}
