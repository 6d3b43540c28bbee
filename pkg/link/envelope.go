package link

import (
	"encoding/json"
)

type Method string

const (
	MethodRequest          Method = "request"
	MethodSubscriptionStop Method = "subscription.stop"
)

// Message is an outbound envelope, UI to host.
type Message struct {
	ID        *ID        `json:"id,omitempty"`
	Method    Method     `json:"method"`
	Operation *Operation `json:"operation,omitempty"`
}

func newRequestMessage(op Operation) *Message {
	return &Message{
		Method:    MethodRequest,
		Operation: &op,
	}
}

func newStopMessage(id ID) *Message {
	return &Message{
		ID:     &id,
		Method: MethodSubscriptionStop,
	}
}

type ResultType string

const (
	ResultData    ResultType = "data"
	ResultStopped ResultType = "stopped"
)

type Result struct {
	Type ResultType      `json:"type,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is an inbound envelope, host to UI. Responses without an id are
// host signals not correlated to any operation.
type Response struct {
	ID     *ID             `json:"id,omitempty"`
	Result *Result         `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

func (r *Response) isStopped() bool {
	return r.Result != nil && r.Result.Type == ResultStopped
}

// endsStream reports whether the host has terminated the stream on its side.
func (r *Response) endsStream() bool {
	return r.isStopped() || len(r.Error) > 0
}

func NewDataResponse(id ID, data json.RawMessage) *Response {
	return &Response{
		ID:     &id,
		Result: &Result{Type: ResultData, Data: data},
	}
}

func NewStoppedResponse(id ID) *Response {
	return &Response{
		ID:     &id,
		Result: &Result{Type: ResultStopped},
	}
}

func NewErrorResponse(id ID, payload ErrorPayload) *Response {
	bs, err := json.Marshal(payload)
	if err != nil {
		bs, _ = json.Marshal(ErrorPayload{Message: payload.Message})
	}
	return &Response{
		ID:    &id,
		Error: bs,
	}
}

// ErrorPayload is the error shape reported by the host.
type ErrorPayload struct {
	Message string          `json:"message"`
	Code    int             `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}
