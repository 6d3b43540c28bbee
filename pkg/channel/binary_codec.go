package channel

import (
	"encoding/json"
	"fmt"

	"github.com/kbirk/ipclink/pkg/link"
	"github.com/kbirk/ipclink/pkg/serialize"
)

var (
	MessagePrefix  = [4]byte{0x69, 0x70, 0x63, 0x6D}
	ResponsePrefix = [4]byte{0x69, 0x70, 0x63, 0x72}
)

const (
	methodRequest = uint8(0x01)
	methodStop    = uint8(0x02)

	responseNone    = uint8(0x00)
	responseData    = uint8(0x01)
	responseStopped = uint8(0x02)
	responseError   = uint8(0x03)
)

// BinaryCodec frames envelopes with the serialize package. Ids, inputs,
// contexts and payloads remain JSON inside the frame.
type BinaryCodec struct{}

func deserializePrefix(expected [4]byte, reader *serialize.Reader) error {
	bs, err := reader.Read(4)
	if err != nil {
		return err
	}
	var prefix [4]byte
	copy(prefix[:], bs)
	if prefix != expected {
		return fmt.Errorf("unexpected prefix: %v", prefix)
	}
	return nil
}

func encodeID(id *link.ID) ([]byte, error) {
	if id == nil {
		return nil, nil
	}
	return json.Marshal(id)
}

func decodeID(bs []byte) (*link.ID, error) {
	if len(bs) == 0 {
		return nil, nil
	}
	var id link.ID
	if err := json.Unmarshal(bs, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

func encodeInput(input any) ([]byte, error) {
	switch v := input.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return v, nil
	}
	return json.Marshal(input)
}

func (BinaryCodec) EncodeMessage(msg *link.Message) ([]byte, error) {
	id, err := encodeID(msg.ID)
	if err != nil {
		return nil, err
	}

	var method uint8
	switch msg.Method {
	case link.MethodRequest:
		method = methodRequest
	case link.MethodSubscriptionStop:
		method = methodStop
	default:
		return nil, fmt.Errorf("unknown method %q", msg.Method)
	}

	size := 4 + serialize.ByteSizeUInt8(method) + serialize.ByteSizeBytes(id) + serialize.ByteSizeBool(msg.Operation != nil)

	var opID, input, ctx []byte
	if msg.Operation != nil {
		op := msg.Operation
		if opID, err = encodeID(&op.ID); err != nil {
			return nil, err
		}
		if input, err = encodeInput(op.Input); err != nil {
			return nil, err
		}
		if len(op.Context) > 0 {
			if ctx, err = json.Marshal(op.Context); err != nil {
				return nil, err
			}
		}
		size += serialize.ByteSizeBytes(opID) +
			serialize.ByteSizeString(string(op.Type)) +
			serialize.ByteSizeString(op.Path) +
			serialize.ByteSizeBytes(input) +
			serialize.ByteSizeBytes(ctx)
	}

	writer := serialize.NewFrameWriter(size)
	writer.PutPrefix(MessagePrefix)
	serialize.SerializeUInt8(writer, method)
	serialize.SerializeBytes(writer, id)
	serialize.SerializeBool(writer, msg.Operation != nil)
	if msg.Operation != nil {
		serialize.SerializeBytes(writer, opID)
		serialize.SerializeString(writer, string(msg.Operation.Type))
		serialize.SerializeString(writer, msg.Operation.Path)
		serialize.SerializeBytes(writer, input)
		serialize.SerializeBytes(writer, ctx)
	}
	return writer.Frame()
}

func (BinaryCodec) DecodeMessage(data []byte) (*link.Message, error) {
	reader := serialize.NewReader(data)

	if err := deserializePrefix(MessagePrefix, reader); err != nil {
		return nil, err
	}

	var method uint8
	if err := serialize.DeserializeUInt8(&method, reader); err != nil {
		return nil, err
	}

	msg := &link.Message{}
	switch method {
	case methodRequest:
		msg.Method = link.MethodRequest
	case methodStop:
		msg.Method = link.MethodSubscriptionStop
	default:
		return nil, fmt.Errorf("unknown method code: %d", method)
	}

	var idBytes []byte
	if err := serialize.DeserializeBytes(&idBytes, reader); err != nil {
		return nil, err
	}
	id, err := decodeID(idBytes)
	if err != nil {
		return nil, err
	}
	msg.ID = id

	var hasOp bool
	if err := serialize.DeserializeBool(&hasOp, reader); err != nil {
		return nil, err
	}
	if !hasOp {
		return msg, nil
	}

	var opID, input, ctx []byte
	var typ, path string
	if err := serialize.DeserializeBytes(&opID, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeString(&typ, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeString(&path, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeBytes(&input, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeBytes(&ctx, reader); err != nil {
		return nil, err
	}

	op := &link.Operation{
		Type:  link.OperationType(typ),
		Path:  path,
		Input: json.RawMessage(input),
	}
	decoded, err := decodeID(opID)
	if err != nil {
		return nil, err
	}
	if decoded != nil {
		op.ID = *decoded
	}
	if len(ctx) > 0 {
		if err := json.Unmarshal(ctx, &op.Context); err != nil {
			return nil, fmt.Errorf("unable to decode operation context: %w", err)
		}
	}
	msg.Operation = op
	return msg, nil
}

func (BinaryCodec) EncodeResponse(resp *link.Response) ([]byte, error) {
	id, err := encodeID(resp.ID)
	if err != nil {
		return nil, err
	}

	kind := responseNone
	var payload []byte
	switch {
	case len(resp.Error) > 0:
		kind = responseError
		payload = resp.Error
	case resp.Result != nil && resp.Result.Type == link.ResultStopped:
		kind = responseStopped
	case resp.Result != nil:
		kind = responseData
		payload = resp.Result.Data
	}

	writer := serialize.NewFrameWriter(
		4 +
			serialize.ByteSizeBytes(id) +
			serialize.ByteSizeUInt8(kind) +
			serialize.ByteSizeBytes(payload))

	writer.PutPrefix(ResponsePrefix)
	serialize.SerializeBytes(writer, id)
	serialize.SerializeUInt8(writer, kind)
	serialize.SerializeBytes(writer, payload)
	return writer.Frame()
}

func (BinaryCodec) DecodeResponse(data []byte) (*link.Response, error) {
	reader := serialize.NewReader(data)

	if err := deserializePrefix(ResponsePrefix, reader); err != nil {
		return nil, err
	}

	var idBytes, payload []byte
	var kind uint8
	if err := serialize.DeserializeBytes(&idBytes, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeUInt8(&kind, reader); err != nil {
		return nil, err
	}
	if err := serialize.DeserializeBytes(&payload, reader); err != nil {
		return nil, err
	}

	id, err := decodeID(idBytes)
	if err != nil {
		return nil, err
	}

	resp := &link.Response{ID: id}
	switch kind {
	case responseNone:
	case responseData:
		resp.Result = &link.Result{Type: link.ResultData, Data: payload}
	case responseStopped:
		resp.Result = &link.Result{Type: link.ResultStopped}
	case responseError:
		resp.Error = payload
	default:
		return nil, fmt.Errorf("unknown response code: %d", kind)
	}
	return resp, nil
}
