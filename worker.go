package pluginbus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/wislap/neko-plugin-bus/cbor"
	"github.com/wislap/neko-plugin-bus/opid"
)

// OperationHandler answers one dispatched event, returning the response
// payload to send back or an error to report as an ERR frame.
type OperationHandler func(goCtx context.Context, args map[string]interface{}) (map[string]interface{}, error)

type registeredHandler struct {
	id      *opid.OperationId
	handler OperationHandler
}

// Worker is the plugin side of the bus (spec §4.1/§4.4): it owns a
// PluginContext, drains its outbound queues onto the wire, and dispatches
// inbound REQ frames (trigger_plugin_event invocations from the Router) to
// whichever registered handler's opid.OperationId can handle the request.
type Worker struct {
	Ctx *PluginContext

	reader *cbor.FrameReader
	writer *cbor.FrameWriter

	mu       sync.Mutex
	handlers []registeredHandler

	logger *logrus.Entry
}

// NewWorker wires a PluginContext to a framed stdio connection to the
// Router (conn's reader/writer are typically os.Stdin/os.Stdout).
func NewWorker(ctx *PluginContext, r io.Reader, w io.Writer, logger *logrus.Entry) *Worker {
	return &Worker{
		Ctx:    ctx,
		reader: cbor.NewFrameReader(r),
		writer: cbor.NewFrameWriter(w),
		logger: logger,
	}
}

// Handshake performs the plugin-side HELLO exchange, advertising manifest
// (the JSON {"operations": [...]} blob describing registered handlers).
func (w *Worker) Handshake(manifest []byte) error {
	limits, err := cbor.HandshakeAccept(w.reader, w.writer, manifest)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	w.reader.SetLimits(limits)
	w.writer.SetLimits(limits)
	return nil
}

// RegisterHandler attaches handler for every request whose type matches
// pattern (an opid.OperationId string, wildcard-capable).
func (w *Worker) RegisterHandler(pattern string, handler OperationHandler) error {
	id, err := opid.NewOperationIdFromString(pattern)
	if err != nil {
		return fmt.Errorf("invalid operation pattern %q: %w", pattern, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, registeredHandler{id: id, handler: handler})
	return nil
}

func (w *Worker) findHandlerLocked(requestType string) (OperationHandler, bool) {
	reqOp, err := opid.NewOperationIdFromString(requestType)
	if err != nil {
		return nil, false
	}
	var best OperationHandler
	bestSpecificity := -1
	for _, rh := range w.handlers {
		if rh.id.CanHandle(reqOp) {
			if spec := rh.id.SpecificityLevel(); spec > bestSpecificity {
				best = rh.handler
				bestSpecificity = spec
			}
		}
	}
	return best, bestSpecificity >= 0
}

// Run drives the worker: a writer goroutine drains the context's outbound
// queues onto the wire, while the calling goroutine reads inbound frames
// until the connection closes.
func (w *Worker) Run() error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.writeLoop()
	}()

	err := w.readLoop()
	w.Ctx.Close()
	<-done
	return err
}

func (w *Worker) writeLoop() {
	for {
		select {
		case env, ok := <-w.Ctx.CommOut():
			if !ok {
				return
			}
			w.writeEnvelope(env)
		case env, ok := <-w.Ctx.StatusQueue():
			if !ok {
				return
			}
			w.writeFireAndForget(env)
		case env, ok := <-w.Ctx.MessageQueue():
			if !ok {
				return
			}
			w.writeEnvelope(env)
		}
	}
}

func (w *Worker) writeEnvelope(env map[string]interface{}) {
	reqId, _ := env["request_id"].(string)
	frameId, err := frameIdFromRequestId(reqId)
	if err != nil {
		frameId = cbor.NewMessageIdRandom()
	}
	reqType, _ := env["type"].(string)

	payload, err := encodeEnvelope(env)
	if err != nil {
		w.logger.WithError(err).Warn("failed to encode outbound envelope")
		return
	}
	if err := w.writer.WriteFrame(cbor.NewReq(frameId, reqType, payload, envelopeContentType)); err != nil {
		w.logger.WithError(err).Warn("failed to write outbound request frame")
	}
}

// writeFireAndForget sends a status-update-style envelope with no reply
// expected; the request_id is still used for correlation symmetry but no
// caller waits on it.
func (w *Worker) writeFireAndForget(env map[string]interface{}) {
	w.writeEnvelope(env)
}

func (w *Worker) readLoop() error {
	for {
		frame, err := w.reader.ReadFrame()
		if err != nil {
			return err
		}

		switch frame.FrameType {
		case cbor.FrameTypeRes:
			env, err := decodeEnvelope(frame.Payload)
			if err != nil {
				w.logger.WithError(err).Warn("failed to decode RES payload")
				continue
			}
			w.Ctx.Deliver(env)

		case cbor.FrameTypeErr:
			w.Ctx.Deliver(map[string]interface{}{"error": frame.ErrorMessage(), "code": frame.ErrorCode()})

		case cbor.FrameTypeReq:
			w.handleDispatchedRequest(frame)

		case cbor.FrameTypeHeartbeat:
			if err := w.writer.WriteFrame(cbor.NewHeartbeat(frame.Id)); err != nil {
				return err
			}

		case cbor.FrameTypeHello:
			// Protocol violation post-handshake; ignore.

		default:
			// No CHUNK/END producer on this side either (see router.go).
		}
	}
}

// handleDispatchedRequest answers a trigger_plugin_event invocation routed
// to this worker by the Router, running the registered handler whose
// pattern matches the request's declared event_type.
func (w *Worker) handleDispatchedRequest(frame *cbor.Frame) {
	env, err := decodeEnvelope(frame.Payload)
	if err != nil {
		w.writer.WriteFrame(cbor.NewErr(frame.Id, "BAD_ENVELOPE", err.Error()))
		return
	}

	eventType, _ := env["event_type"].(string)
	w.mu.Lock()
	handler, found := w.findHandlerLocked(eventType)
	w.mu.Unlock()
	if !found {
		w.writer.WriteFrame(cbor.NewErr(frame.Id, "NO_HANDLER", fmt.Sprintf("no handler registered for %q", eventType)))
		return
	}

	args, _ := env["args"].(map[string]interface{})
	goCtx, _ := w.Ctx.EnterHandler(context.Background(), eventType)

	result, err := handler(goCtx, args)
	if err != nil {
		w.writer.WriteFrame(cbor.NewErr(frame.Id, "HANDLER_ERROR", err.Error()))
		return
	}

	payload, err := encodeEnvelope(resultEnvelope(result))
	if err != nil {
		w.writer.WriteFrame(cbor.NewErr(frame.Id, "ENCODE_FAILED", err.Error()))
		return
	}
	w.writer.WriteFrame(cbor.NewRes(frame.Id, payload, envelopeContentType))
}

func resultEnvelope(result map[string]interface{}) map[string]interface{} {
	if result == nil {
		result = map[string]interface{}{}
	}
	return map[string]interface{}{"result": result}
}

// pluginManifest is the --manifest CLI output shape (spec §6.3): the set
// of operation patterns this plugin has registered handlers for, plus the
// optional endpoint/input_schema a query_plugins descriptor can surface.
type pluginManifest struct {
	Name        string                 `json:"name"`
	Version     string                 `json:"version"`
	Description string                 `json:"description"`
	Operations  []string               `json:"operations"`
	Endpoint    string                 `json:"endpoint,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// BuildManifest serializes a plugin's declared operation patterns into the
// JSON blob sent as the HELLO response's manifest field.
func BuildManifest(name, version, description string, operations []string) ([]byte, error) {
	return json.Marshal(pluginManifest{Name: name, Version: version, Description: description, Operations: operations})
}

// BuildManifestWithSchema is BuildManifest plus the endpoint/input_schema
// fields query_plugins surfaces in a plugin's PluginDescriptor.
func BuildManifestWithSchema(name, version, description string, operations []string, endpoint string, inputSchema map[string]interface{}) ([]byte, error) {
	return json.Marshal(pluginManifest{
		Name: name, Version: version, Description: description, Operations: operations,
		Endpoint: endpoint, InputSchema: inputSchema,
	})
}

// RunPlugin is the standard plugin process entry point (spec §6.3): when
// invoked as `<binary> manifest`, it prints the manifest JSON to stdout and
// exits; otherwise it performs the CBOR handshake over stdin/stdout and
// runs the worker loop, handing the constructed *Worker to register for
// the caller to register handlers on before serving requests.
func RunPlugin(name, version, description string, operations []string, ctx *PluginContext, logger *logrus.Entry, register func(*Worker)) error {
	manifest, err := BuildManifest(name, version, description, operations)
	if err != nil {
		return fmt.Errorf("build manifest: %w", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "manifest" {
		fmt.Fprintln(os.Stdout, string(manifest))
		return nil
	}

	worker := NewWorker(ctx, os.Stdin, os.Stdout, logger)
	if err := worker.Handshake(manifest); err != nil {
		return err
	}
	register(worker)
	return worker.Run()
}
