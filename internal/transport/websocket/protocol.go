package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/iamasit07/geo-tracking/backend/internal/domain"
)

// Protocol selects the wire shape of a connection's frames.
type Protocol string

const (
	// ProtocolEnvelope frames are {"event": name, "data": payload}.
	ProtocolEnvelope Protocol = "envelope"
	// ProtocolTuple frames are ["name", payload].
	ProtocolTuple Protocol = "tuple"
)

// ParseProtocol maps the ?protocol= query value; unknown values fall back
// to the envelope encoding.
func ParseProtocol(s string) Protocol {
	if Protocol(s) == ProtocolTuple {
		return ProtocolTuple
	}
	return ProtocolEnvelope
}

type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

func (p Protocol) Encode(ev domain.ServerEvent) ([]byte, error) {
	if p == ProtocolTuple {
		return json.Marshal([]interface{}{ev.Name, ev.Data})
	}
	return json.Marshal(envelope{Event: ev.Name, Data: ev.Data})
}

// DecodeMessage accepts either frame shape regardless of the connection's
// protocol.
func DecodeMessage(data []byte) (domain.ClientMessage, error) {
	var msg domain.ClientMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var parts []json.RawMessage
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return msg, err
		}
		if len(parts) == 0 || len(parts) > 2 {
			return msg, fmt.Errorf("tuple frame must have 1 or 2 elements, got %d", len(parts))
		}
		if err := json.Unmarshal(parts[0], &msg.Event); err != nil {
			return msg, fmt.Errorf("tuple event name: %w", err)
		}
		if len(parts) == 2 {
			msg.Data = parts[1]
		}
		return msg, nil
	}

	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return msg, err
	}
	if msg.Event == "" {
		return msg, fmt.Errorf("missing event name")
	}
	return msg, nil
}
