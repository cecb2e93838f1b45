package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dgnsrekt/crowdpointer/internal/registry"
)

// Message types as they appear in the "type" field.
const (
	TypeParams      = "params"
	TypeCountUpdate = "count_update"
)

// ActionUpdatePosition is the only action accepted from producers.
const ActionUpdatePosition = "update_position"

var (
	ErrUnknownAction  = errors.New("unknown action")
	ErrUnknownType    = errors.New("unknown message type")
	ErrMalformedFrame = errors.New("malformed frame")
)

// Message is a payload published on an outbound topic.
type Message interface {
	Type() string
}

// ParamsMessage carries one sampled snapshot for the display feed.
type ParamsMessage struct {
	Params []registry.Position
}

func (ParamsMessage) Type() string { return TypeParams }

type paramsWire struct {
	Type   string       `json:"type"`
	Params [][2]float64 `json:"params"`
}

// MarshalJSON encodes {"type":"params","params":[[x,y],...]}.
// An empty snapshot encodes as an empty array, never null.
func (m ParamsMessage) MarshalJSON() ([]byte, error) {
	pairs := make([][2]float64, len(m.Params))
	for i, p := range m.Params {
		pairs[i] = [2]float64{p.X, p.Y}
	}
	return json.Marshal(paramsWire{Type: TypeParams, Params: pairs})
}

// CountUpdateMessage carries the live producer count.
type CountUpdateMessage struct {
	Count int
}

func (CountUpdateMessage) Type() string { return TypeCountUpdate }

type countWire struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

func (m CountUpdateMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(countWire{Type: TypeCountUpdate, Count: m.Count})
}

// DecodeJSON parses an outbound JSON message back into its typed form.
func DecodeJSON(data []byte) (Message, error) {
	var head struct {
		Type   string       `json:"type"`
		Params [][2]float64 `json:"params"`
		Count  int          `json:"count"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}

	switch head.Type {
	case TypeParams:
		params := make([]registry.Position, len(head.Params))
		for i, p := range head.Params {
			params[i] = registry.Position{X: p[0], Y: p[1]}
		}
		return ParamsMessage{Params: params}, nil
	case TypeCountUpdate:
		return CountUpdateMessage{Count: head.Count}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}
}

// UpdatePosition is a decoded producer frame. Values are not clamped yet.
type UpdatePosition struct {
	X float64
	Y float64
}

// ParseUpdatePosition decodes {"x":..,"y":..}, optionally tagged with
// "action":"update_position". Coordinates that are not numeric are coerced:
// numeric strings are parsed, anything else (missing, null, bool, object,
// garbage string) becomes 0.
func ParseUpdatePosition(data []byte) (UpdatePosition, error) {
	var raw struct {
		Action string          `json:"action"`
		X      json.RawMessage `json:"x"`
		Y      json.RawMessage `json:"y"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return UpdatePosition{}, fmt.Errorf("unmarshal update_position: %w", err)
	}
	if raw.Action != "" && raw.Action != ActionUpdatePosition {
		return UpdatePosition{}, fmt.Errorf("%w: %q", ErrUnknownAction, raw.Action)
	}

	return UpdatePosition{X: coerce(raw.X), Y: coerce(raw.Y)}, nil
}

// coerce turns a raw JSON value into a float64 following the zero policy.
// Out-of-range numbers keep their sign as an infinity so clamping pins them
// to the boundary.
func coerce(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	s := string(raw)
	if raw[0] == '"' {
		var unquoted string
		if err := json.Unmarshal(raw, &unquoted); err != nil {
			return 0
		}
		s = strings.TrimSpace(unquoted)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return v
		}
		return 0
	}
	return v
}
