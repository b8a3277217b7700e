package cbor

import (
	"errors"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// decMode decodes CBOR maps found inside an interface{} value (e.g. a
// frame's Meta map) as map[string]interface{} rather than the library's
// default map[interface{}]interface{} — every meta/payload map this wire
// format carries uses text keys, and callers throughout this module type
// assert on map[string]interface{}.
var decMode = func() cbor.DecMode {
	m, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]interface{}{})}.DecMode()
	if err != nil {
		panic(err)
	}
	return m
}()

// EncodeFrame encodes a Frame to its CBOR wire representation: a single
// map keyed by frame_type/id plus whatever fields that frame type carries.
func EncodeFrame(frame *Frame) ([]byte, error) {
	m := make(map[string]interface{})

	m["frame_type"] = uint8(frame.FrameType)

	if frame.Id.IsUuid() {
		m["id"] = frame.Id.uuidBytes
	} else {
		m["id"] = *frame.Id.uintValue
	}

	switch frame.FrameType {
	case FrameTypeReq:
		if frame.Cap != nil {
			m["cap"] = *frame.Cap
		}
		if frame.Payload != nil {
			m["payload"] = frame.Payload
		}
		if frame.ContentType != nil {
			m["content_type"] = *frame.ContentType
		}

	case FrameTypeRes, FrameTypeEnd, FrameTypeHello:
		if frame.Payload != nil {
			m["payload"] = frame.Payload
		}
		if frame.ContentType != nil {
			m["content_type"] = *frame.ContentType
		}
		if frame.Eof != nil {
			m["eof"] = *frame.Eof
		}
		if frame.Meta != nil {
			m["meta"] = frame.Meta
		}

	case FrameTypeChunk:
		m["seq"] = frame.Seq
		if frame.Payload != nil {
			m["payload"] = frame.Payload
		}
		if frame.Len != nil {
			m["len"] = *frame.Len
		}
		if frame.Offset != nil {
			m["offset"] = *frame.Offset
		}

	case FrameTypeErr, FrameTypeLog:
		if frame.Meta != nil {
			m["meta"] = frame.Meta
		}

	case FrameTypeHeartbeat:
		// no additional fields
	}

	return cbor.Marshal(m)
}

// DecodeFrame parses the CBOR wire representation produced by EncodeFrame
// back into a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[string]interface{}
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	frame := &Frame{Version: ProtocolVersion}

	ftVal, ok := m["frame_type"]
	if !ok {
		return nil, errors.New("missing frame_type")
	}
	ft, ok := toUint64(ftVal)
	if !ok {
		return nil, errors.New("frame_type must be an integer")
	}
	frame.FrameType = FrameType(ft)

	idVal, ok := m["id"]
	if !ok {
		return nil, errors.New("missing id")
	}
	switch v := idVal.(type) {
	case []byte:
		if len(v) != 16 {
			return nil, errors.New("UUID id must be 16 bytes")
		}
		frame.Id = MessageId{uuidBytes: v}
	default:
		n, ok := toUint64(v)
		if !ok {
			return nil, errors.New("id must be bytes or uint")
		}
		frame.Id = NewMessageIdFromUint(n)
	}

	if capVal, ok := m["cap"]; ok {
		if s, ok := capVal.(string); ok {
			frame.Cap = &s
		}
	}
	if payload, ok := m["payload"].([]byte); ok {
		frame.Payload = payload
	}
	if ct, ok := m["content_type"].(string); ok {
		frame.ContentType = &ct
	}
	if metaVal, ok := m["meta"]; ok {
		if meta, ok := metaVal.(map[string]interface{}); ok {
			frame.Meta = meta
		}
	}
	if seqVal, ok := m["seq"]; ok {
		if n, ok := toUint64(seqVal); ok {
			frame.Seq = n
		}
	}
	if lenVal, ok := m["len"]; ok {
		if n, ok := toUint64(lenVal); ok {
			frame.Len = &n
		}
	}
	if offVal, ok := m["offset"]; ok {
		if n, ok := toUint64(offVal); ok {
			frame.Offset = &n
		}
	}
	if eofVal, ok := m["eof"]; ok {
		if b, ok := eofVal.(bool); ok {
			frame.Eof = &b
		}
	}

	switch frame.FrameType {
	case FrameTypeReq:
		if frame.Cap == nil {
			return nil, errors.New("REQ frame requires cap")
		}
	case FrameTypeChunk:
		if _, ok := m["seq"]; !ok {
			return nil, errors.New("CHUNK frame requires seq")
		}
	}

	return frame, nil
}

func toUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case int:
		return uint64(n), true
	default:
		return 0, false
	}
}
