package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed message")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

type frame struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// required lists the keys that must be present in each object payload.
var required = map[Type][]string{
	TypeConnectionConfirmed: {"gameId", "assignedColor", "opponentPeerId"},
	TypeInitialGameSetup:    {"startingFen", "playerWhiteId", "playerBlackId"},
	TypeMove:                {"from", "to"},
	TypeGameStateUpdate:     {"fen", "turn", "gameStatus"},
	TypeSyncGameState:       {"fen", "turn", "gameStatus", "moveHistory", "playerWhiteId", "playerBlackId", "isHostInitiated"},
	TypeResign:              {"resigningColor", "timestamp"},
	TypeError:               {"message"},
}

func hasPayload(t Type) bool {
	_, ok := required[t]
	return ok
}

// Encode serialises m as {"type":...,"payload":...}. Invalid messages are refused.
func Encode(m Message) ([]byte, error) {
	if !m.Type.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	if !hasPayload(m.Type) {
		if m.Payload != nil {
			return nil, malformed("%s carries no payload", m.Type)
		}
		return json.Marshal(frame{Type: m.Type, Payload: json.RawMessage("null")})
	}
	if m.Payload == nil {
		return nil, malformed("%s requires a payload", m.Type)
	}
	if m.Payload.MessageType() != m.Type {
		return nil, malformed("payload %s under type %s", m.Payload.MessageType(), m.Type)
	}
	if err := m.Payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return json.Marshal(frame{Type: m.Type, Payload: raw})
}

// Decode parses and shape-checks one frame.
func Decode(data []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Message{}, malformed("frame: %v", err)
	}
	if f.Type == "" {
		return Message{}, malformed("frame: missing type")
	}
	if !f.Type.Known() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}
	isNull := len(bytes.TrimSpace(f.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(f.Payload), []byte("null"))
	if !hasPayload(f.Type) {
		if !isNull {
			return Message{}, malformed("%s carries no payload", f.Type)
		}
		return Message{Type: f.Type}, nil
	}
	if isNull {
		return Message{}, malformed("%s requires a payload", f.Type)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(f.Payload, &keys); err != nil {
		return Message{}, malformed("%s payload: %v", f.Type, err)
	}
	for _, k := range required[f.Type] {
		v, ok := keys[k]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return Message{}, malformed("%s payload: missing %s", f.Type, k)
		}
	}

	var (
		p   Payload
		err error
	)
	switch f.Type {
	case TypeConnectionConfirmed:
		p, err = decodeAs[ConnectionConfirmed](f.Payload)
	case TypeInitialGameSetup:
		p, err = decodeAs[InitialGameSetup](f.Payload)
	case TypeMove:
		var mv Move
		mv, err = decodeAs[Move](f.Payload)
		p = MovePayload{Move: mv}
	case TypeGameStateUpdate:
		p, err = decodeAs[GameStateUpdate](f.Payload)
	case TypeSyncGameState:
		p, err = decodeAs[SyncGameState](f.Payload)
	case TypeResign:
		p, err = decodeAs[Resign](f.Payload)
	case TypeError:
		p, err = decodeAs[ErrorPayload](f.Payload)
	}
	if err != nil {
		return Message{}, err
	}
	if err := p.Validate(); err != nil {
		return Message{}, err
	}
	return Message{Type: f.Type, Payload: p}, nil
}

func decodeAs[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, malformed("payload: %v", err)
	}
	return v, nil
}
