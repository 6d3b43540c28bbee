package channel

import (
	"encoding/json"
	"fmt"

	"github.com/kbirk/ipclink/pkg/link"
)

// Codec converts envelopes to and from the bytes carried by a Connection.
// The UI side encodes messages and decodes responses, the host side the
// reverse.
type Codec interface {
	EncodeMessage(msg *link.Message) ([]byte, error)
	DecodeMessage(data []byte) (*link.Message, error)
	EncodeResponse(resp *link.Response) ([]byte, error)
	DecodeResponse(data []byte) (*link.Response, error)
}

func CodecByName(name string) (Codec, error) {
	switch name {
	case "json", "":
		return JSONCodec{}, nil
	case "binary":
		return BinaryCodec{}, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// JSONCodec writes envelopes as the JSON objects described by the protocol.
type JSONCodec struct{}

func (JSONCodec) EncodeMessage(msg *link.Message) ([]byte, error) {
	return json.Marshal(msg)
}

type wireOperation struct {
	ID      link.ID            `json:"id"`
	Type    link.OperationType `json:"type"`
	Path    string             `json:"path,omitempty"`
	Input   json.RawMessage    `json:"input"`
	Context map[string]any     `json:"context,omitempty"`
}

type wireMessage struct {
	ID        *link.ID       `json:"id,omitempty"`
	Method    link.Method    `json:"method"`
	Operation *wireOperation `json:"operation,omitempty"`
}

// DecodeMessage keeps the operation input as a json.RawMessage.
func (JSONCodec) DecodeMessage(data []byte) (*link.Message, error) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		return nil, fmt.Errorf("unable to decode message: %w", err)
	}
	msg := &link.Message{
		ID:     wm.ID,
		Method: wm.Method,
	}
	if wm.Operation != nil {
		msg.Operation = &link.Operation{
			ID:      wm.Operation.ID,
			Type:    wm.Operation.Type,
			Path:    wm.Operation.Path,
			Input:   wm.Operation.Input,
			Context: wm.Operation.Context,
		}
	}
	return msg, nil
}

func (JSONCodec) EncodeResponse(resp *link.Response) ([]byte, error) {
	return json.Marshal(resp)
}

func (JSONCodec) DecodeResponse(data []byte) (*link.Response, error) {
	var resp link.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unable to decode response: %w", err)
	}
	return &resp, nil
}
