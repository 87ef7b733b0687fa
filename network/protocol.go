package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wfunc/joysync/state"
)

const (
	MsgTypeRegister  = "register"
	MsgTypeAction    = "action"
	MsgTypeReadState = "readstate"
	MsgTypeState     = "state"
)

const (
	RolePlayer = "player"
	RoleViewer = "viewer"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrMissingType       = errors.New("envelope has no type")
)

// Envelope 双向通用的消息外壳，data 由 type 决定如何解析
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// RegisterData is the payload of a register envelope.
type RegisterData struct {
	Role string `json:"role"`
}

type stateEnvelope struct {
	Type string         `json:"type"`
	Data state.Snapshot `json:"data"`
}

// DecodeEnvelope parses an inbound text frame. The payload is left raw.
// Keys are matched exactly: {"TYPE":...} has no type.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	rawType, exists := fields["type"]
	if !exists {
		return nil, ErrMissingType
	}

	var env Envelope
	if err := json.Unmarshal(rawType, &env.Type); err != nil {
		return nil, fmt.Errorf("%w: type: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}
	env.Data = fields["data"]
	return &env, nil
}

// DecodeRegister parses the payload of a register envelope.
func DecodeRegister(data json.RawMessage) (*RegisterData, error) {
	fields, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	rawRole, exists := fields["role"]
	if !exists {
		return nil, fmt.Errorf("%w: role is required", ErrMalformedEnvelope)
	}

	var reg RegisterData
	if err := json.Unmarshal(rawRole, &reg.Role); err != nil {
		return nil, fmt.Errorf("%w: role: %v", ErrMalformedEnvelope, err)
	}
	return &reg, nil
}

// encoding/json 按字段名匹配结构体时忽略大小写，这里先解成 map 再按原样取 key
func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedEnvelope)
	}
	return fields, nil
}

// EncodeState serializes a full snapshot as a state envelope.
func EncodeState(snap state.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = state.Snapshot{}
	}
	return json.Marshal(stateEnvelope{Type: MsgTypeState, Data: snap})
}

// EncodeEnvelope builds an outbound envelope with an arbitrary payload.
// The CLI client uses it for register/action/readstate.
func EncodeEnvelope(msgType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Data: raw})
}
