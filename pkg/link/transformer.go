package link

import (
	"encoding/json"
	"fmt"
)

// Transformer converts operation inputs to wire form and validates payloads
// received from the host.
type Transformer interface {
	Serialize(input any) (json.RawMessage, error)
	Deserialize(data json.RawMessage) (json.RawMessage, error)
}

// JSONTransformer passes values through encoding/json unchanged.
type JSONTransformer struct{}

func (JSONTransformer) Serialize(input any) (json.RawMessage, error) {
	switch v := input.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("input is not valid json")
		}
		return v, nil
	case nil:
		return json.RawMessage("null"), nil
	}
	return json.Marshal(input)
}

func (JSONTransformer) Deserialize(data json.RawMessage) (json.RawMessage, error) {
	if len(data) == 0 {
		return json.RawMessage("null"), nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid json")
	}
	return data, nil
}

// transformResult decodes an inbound envelope. stopped is set for the
// subscription terminal marker, in which case value is nil.
func transformResult(resp *Response, t Transformer) (value json.RawMessage, stopped bool, err error) {
	if len(resp.Error) > 0 {
		payload, err := t.Deserialize(resp.Error)
		if err != nil {
			return nil, false, newClientError(fmt.Errorf("unable to decode error payload: %w", err))
		}
		return nil, false, newClientErrorFromPayload(payload)
	}
	if resp.Result == nil {
		return nil, false, newClientError(fmt.Errorf("%w: missing result", ErrInvalidResponse))
	}
	switch resp.Result.Type {
	case ResultStopped:
		return nil, true, nil
	case ResultData, "":
	default:
		return nil, false, newClientError(fmt.Errorf("%w: unknown result type %q", ErrInvalidResponse, resp.Result.Type))
	}
	value, err = t.Deserialize(resp.Result.Data)
	if err != nil {
		return nil, false, newClientError(fmt.Errorf("unable to decode result: %w", err))
	}
	return value, false, nil
}
