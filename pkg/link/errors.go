package link

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoChannel          = errors.New("link: no channel provided")
	ErrDuplicateOperation = errors.New("link: operation id already in flight")
	ErrPrematureEnd       = errors.New("Operation ended prematurely")
	ErrInvalidResponse    = errors.New("link: invalid response")
)

// ClientError is the error delivered to observers for every failed operation.
// It carries either the host's error payload or a locally synthesized cause.
type ClientError struct {
	Message string
	Code    int
	Data    json.RawMessage
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// UnmarshalData decodes the host supplied error data into v.
func (e *ClientError) UnmarshalData(v any) error {
	if len(e.Data) == 0 {
		return errors.New("error carries no data")
	}
	return json.Unmarshal(e.Data, v)
}

func newClientError(err error) *ClientError {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce
	}
	return &ClientError{
		Message: err.Error(),
		Cause:   err,
	}
}

func newClientErrorFromPayload(raw json.RawMessage) *ClientError {
	var payload ErrorPayload
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return &ClientError{
			Message: payload.Message,
			Code:    payload.Code,
			Data:    payload.Data,
		}
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil {
		return &ClientError{Message: msg}
	}
	return &ClientError{
		Message: string(raw),
		Data:    raw,
	}
}

// AsClientError reports whether err is, or wraps, a *ClientError.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	ok := errors.As(err, &ce)
	return ce, ok
}
