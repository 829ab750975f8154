package transport

import (
	"encoding/json"
	"fmt"
)

// Kind tags presence and data frames on networked transports.
type Kind string

const (
	KindHello     Kind = "hello"
	KindWelcome   Kind = "welcome"
	KindHeartbeat Kind = "heartbeat"
	KindBye       Kind = "bye"
	KindData      Kind = "data"
)

// Envelope is what networked transports publish on a room topic.
type Envelope struct {
	Kind   Kind     `json:"kind"`
	From   string   `json:"from"`
	To     []string `json:"to,omitempty"`
	Action string   `json:"action,omitempty"`
	Data   []byte   `json:"data,omitempty"`
}

func (e Envelope) addressedTo(id string) bool {
	if len(e.To) == 0 {
		return true
	}
	for _, t := range e.To {
		if t == id {
			return true
		}
	}
	return false
}

func MarshalEnvelope(e Envelope) ([]byte, error) { return json.Marshal(e) }

func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch e.Kind {
	case KindHello, KindWelcome, KindHeartbeat, KindBye, KindData:
	default:
		return Envelope{}, fmt.Errorf("decode envelope: unknown kind %q", e.Kind)
	}
	if e.From == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing sender")
	}
	return e, nil
}
