package transport

import (
	"bytes"
	"encoding/json"
)

// Message types on the wire.
const (
	TypeMSE       = "mse"
	TypeCommand   = "command"
	TypeHeartbeat = "heartBit"
	TypeError     = "error"
)

// Message is the envelope of every non-batch text message.
type Message struct {
	Type      string `json:"type"`
	Value     string `json:"value,omitempty"`
	ID        string `json:"id,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// capabilityMessage announces media source playback support. The empty value
// must be sent, so it is encoded without omitempty.
type capabilityMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// isBatch reports whether a text payload is a metadata batch (JSON array).
func isBatch(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '['
}

func decodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
