package pluginbus

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/wislap/neko-plugin-bus/cbor"
)

// TCPDatagramClient is the low-latency socket endpoint spec §6.3 describes:
// a configurable endpoint (default TCP loopback) carrying length-delimited
// self-describing envelopes, reusing the same cbor.FrameReader/FrameWriter
// framing the router<->worker pipe transport uses. A fresh connection is
// dialed per call — this path already retries under its own backoff loop
// (context.go's pushReliable, or the caller's no-fallback timeout), so there
// is no long-lived connection state to reconnect.
type TCPDatagramClient struct {
	endpoint string
	dialer   net.Dialer
}

// NewTCPDatagramClient builds a client dialing endpoint ("host:port") for
// every request/batch.
func NewTCPDatagramClient(endpoint string) *TCPDatagramClient {
	return &TCPDatagramClient{endpoint: endpoint}
}

// SendRequest performs one request/response round trip, bounded by
// attemptTimeout: dial, write a REQ frame carrying the CBOR-encoded
// envelope, and read back the RES/ERR frame carrying the same request_id.
func (c *TCPDatagramClient) SendRequest(ctx context.Context, req map[string]interface{}, attemptTimeout time.Duration) (map[string]interface{}, error) {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(attemptTimeout))

	reqId, _ := req["request_id"].(string)
	frameId, err := frameIdFromRequestId(reqId)
	if err != nil {
		frameId = cbor.NewMessageIdRandom()
	}

	payload, err := encodeEnvelope(req)
	if err != nil {
		return nil, fmt.Errorf("encode request envelope: %w", err)
	}
	if err := cbor.NewFrameWriter(conn).WriteFrame(cbor.NewReq(frameId, "PUSH_SYNC", payload, envelopeContentType)); err != nil {
		return nil, fmt.Errorf("write request frame: %w", err)
	}

	frame, err := cbor.NewFrameReader(conn).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read reply frame: %w", err)
	}
	if frame.FrameType == cbor.FrameTypeErr {
		return nil, fmt.Errorf("remote error: %s", frame.ErrorMessage())
	}

	resp, err := decodeEnvelope(frame.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode reply envelope: %w", err)
	}
	return resp, nil
}

// SendBatch delivers one flushed, seq-ordered batch as a single REQ frame;
// fire-and-forget, since the batcher has already reordered by seq and the
// caller (fastSink) treats delivery failure as best-effort (spec §5/§9).
func (c *TCPDatagramClient) SendBatch(pluginId string, batch []PushEnvelope) error {
	conn, err := net.DialTimeout("tcp", c.endpoint, time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(time.Second))

	items := make([]interface{}, 0, len(batch))
	for _, env := range batch {
		items = append(items, map[string]interface{}{"seq": env.Seq, "payload": env.Payload})
	}
	payload, err := encodeEnvelope(map[string]interface{}{"plugin_id": pluginId, "batch": items})
	if err != nil {
		return fmt.Errorf("encode batch envelope: %w", err)
	}

	return cbor.NewFrameWriter(conn).WriteFrame(cbor.NewReq(cbor.NewMessageIdRandom(), "PUSH_BATCH", payload, envelopeContentType))
}
