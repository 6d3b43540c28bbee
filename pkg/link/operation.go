package link

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

type OperationType string

const (
	OperationQuery        OperationType = "query"
	OperationMutation     OperationType = "mutation"
	OperationSubscription OperationType = "subscription"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationQuery, OperationMutation, OperationSubscription:
		return true
	}
	return false
}

// ID identifies an operation among those in flight on one link. It is either
// a number or a string on the wire; the two never compare equal.
type ID struct {
	value   string
	numeric bool
}

func IntID(n int64) ID {
	return ID{value: strconv.FormatInt(n, 10), numeric: true}
}

func StringID(s string) ID {
	return ID{value: s}
}

func (id ID) String() string {
	return id.value
}

func (id ID) IsNumeric() bool {
	return id.numeric
}

func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.numeric {
		return []byte(id.value), nil
	}
	return json.Marshal(id.value)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid operation id %s: %w", data, err)
	}
	*id = numericID(n)
	return nil
}

// numericID keys a number by its value rather than its spelling, so 7, 7.0
// and 7e0 name the same operation.
func numericID(n json.Number) ID {
	if i, err := n.Int64(); err == nil {
		return IntID(i)
	}
	f, err := n.Float64()
	if err != nil {
		return ID{value: n.String(), numeric: true}
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return IntID(int64(f))
	}
	return ID{value: strconv.FormatFloat(f, 'g', -1, 64), numeric: true}
}

// Operation describes one logical call. Input holds the caller's value until
// the link serializes it, after which it holds a json.RawMessage.
type Operation struct {
	ID      ID             `json:"id"`
	Type    OperationType  `json:"type"`
	Path    string         `json:"path,omitempty"`
	Input   any            `json:"input"`
	Context map[string]any `json:"context,omitempty"`
}

func (op Operation) withContext(ctx map[string]any) Operation {
	if len(ctx) == 0 {
		return op
	}
	merged := make(map[string]any, len(op.Context)+len(ctx))
	for k, v := range op.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	op.Context = merged
	return op
}
