package pluginbus

import (
	"fmt"
	"reflect"

	cbor2 "github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/wislap/neko-plugin-bus/cbor"
)

// envelopeContentType marks the payload of every Router<->Worker frame as a
// CBOR-encoded bus envelope (the map shape spec §4.1 describes as JSON —
// CBOR is this bus's wire encoding of that same envelope).
const envelopeContentType = "application/cbor"

// envelopeDecMode decodes nested maps (metadata, filters, result, ...)
// inside a bus envelope as map[string]interface{} rather than the cbor
// library's default map[interface{}]interface{} — every type assertion in
// this module against a nested envelope field expects string keys.
var envelopeDecMode = func() cbor2.DecMode {
	m, err := cbor2.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// encodeEnvelope serializes a bus envelope map to CBOR bytes.
func encodeEnvelope(env map[string]interface{}) ([]byte, error) {
	return cbor2.Marshal(env)
}

// decodeEnvelope parses CBOR bytes back into a bus envelope map.
func decodeEnvelope(data []byte) (map[string]interface{}, error) {
	var env map[string]interface{}
	if err := envelopeDecMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

// frameIdFromRequestId converts a request_id (a UUID string minted by
// PluginContext.nextRequestId) into the wire MessageId used to correlate
// the REQ/RES/ERR frame pair.
func frameIdFromRequestId(requestId string) (cbor.MessageId, error) {
	parsed, err := uuid.Parse(requestId)
	if err != nil {
		return cbor.MessageId{}, fmt.Errorf("parse request_id as uuid: %w", err)
	}
	b, err := parsed.MarshalBinary()
	if err != nil {
		return cbor.MessageId{}, err
	}
	return cbor.NewMessageIdFromUuid(b)
}
