package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	AxisMin = -1.0
	AxisMax = 1.0
)

// ErrMalformedAction is returned when an action payload is not PlayerState-shaped.
var ErrMalformedAction = errors.New("malformed action payload")

// Vector2 摇杆的两个轴
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Buttons struct {
	A bool `json:"a"`
	B bool `json:"b"`
	X bool `json:"x"`
	Y bool `json:"y"`
}

// PlayerState 单个玩家的输入状态，每条 action 消息整体覆盖
type PlayerState struct {
	Joystick Vector2 `json:"joystick"`
	Buttons  Buttons `json:"buttons"`
}

// NewPlayerState returns the zeroed state given to a freshly registered player.
func NewPlayerState() PlayerState {
	return PlayerState{}
}

// Clamp forces both joystick axes into [AxisMin, AxisMax].
func (p *PlayerState) Clamp() {
	p.Joystick.X = clampAxis(p.Joystick.X)
	p.Joystick.Y = clampAxis(p.Joystick.Y)
}

func clampAxis(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(AxisMin, math.Min(AxisMax, v))
}

// ParseAction decodes an action payload. Every joystick axis and button must
// be present under its exact lower-case key; partial payloads are rejected
// rather than merged.
func ParseAction(data []byte) (PlayerState, error) {
	root, err := decodeObject(data, "action")
	if err != nil {
		return PlayerState{}, err
	}

	var rawJoystick, rawButtons json.RawMessage
	if err := decodeField(root, "joystick", &rawJoystick); err != nil {
		return PlayerState{}, err
	}
	if err := decodeField(root, "buttons", &rawButtons); err != nil {
		return PlayerState{}, err
	}
	joystick, err := decodeObject(rawJoystick, "joystick")
	if err != nil {
		return PlayerState{}, err
	}
	buttons, err := decodeObject(rawButtons, "buttons")
	if err != nil {
		return PlayerState{}, err
	}

	var p PlayerState
	fields := []struct {
		obj map[string]json.RawMessage
		key string
		dst interface{}
	}{
		{joystick, "x", &p.Joystick.X},
		{joystick, "y", &p.Joystick.Y},
		{buttons, "a", &p.Buttons.A},
		{buttons, "b", &p.Buttons.B},
		{buttons, "x", &p.Buttons.X},
		{buttons, "y", &p.Buttons.Y},
	}
	for _, f := range fields {
		if err := decodeField(f.obj, f.key, f.dst); err != nil {
			return PlayerState{}, err
		}
	}
	return p, nil
}

// decodeObject unmarshals into a map so keys keep their exact case;
// struct decoding in encoding/json would accept "X" for "x".
func decodeObject(raw []byte, name string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedAction, name, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s must be an object", ErrMalformedAction, name)
	}
	return obj, nil
}

func decodeField(obj map[string]json.RawMessage, key string, dst interface{}) error {
	raw, exists := obj[key]
	if !exists || string(raw) == "null" {
		return fmt.Errorf("%w: %s is required", ErrMalformedAction, key)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedAction, key, err)
	}
	return nil
}
