package channel

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/petems/soundstream/internal/config"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns channel messages into websocket frames and back.
type Codec interface {
	Name() string
	// FrameType is websocket.TextMessage or websocket.BinaryMessage.
	FrameType() int
	Marshal(v any) ([]byte, error)
	UnmarshalCall(data []byte) (Call, error)
}

// NewCodec returns the codec registered under name.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", config.CodecJSON:
		return jsonCodec{}, nil
	case config.CodecMsgpack:
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// jsonCodec sends text frames. Byte payloads are base64 encoded.
type jsonCodec struct{}

func (jsonCodec) Name() string   { return config.CodecJSON }
func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) UnmarshalCall(data []byte) (Call, error) {
	var c Call
	if err := json.Unmarshal(data, &c); err != nil {
		return Call{}, fmt.Errorf("failed to decode call: %w", err)
	}
	return c, nil
}

// msgpackCodec sends binary frames. Byte payloads travel as msgpack bin.
type msgpackCodec struct{}

func (msgpackCodec) Name() string   { return config.CodecMsgpack }
func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) UnmarshalCall(data []byte) (Call, error) {
	var c Call
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return Call{}, fmt.Errorf("failed to decode call: %w", err)
	}
	return c, nil
}
