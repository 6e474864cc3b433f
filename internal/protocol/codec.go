package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Message is the outbound wire envelope. Timestamp is seconds since the Unix
// epoch; Seq is assigned by the connectionless transport only and omitted
// elsewhere.
type Message struct {
	Type      Type    `json:"type"`
	Data      any     `json:"data"`
	Timestamp float64 `json:"timestamp,omitempty"`
	Seq       uint64  `json:"seq,omitempty"`
}

// Encode marshals the envelope without any frame delimiter; the
// connection-oriented transport appends the newline itself.
func (m Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

// Timestamp converts a wall-clock instant to the envelope's epoch-seconds
// representation.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Inbound is a decoded client message whose payload is deferred until the
// handler knows which struct to unmarshal it into.
type Inbound struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one complete message. The payload may be absent entirely
// (start_game and get_status carry no data).
func Decode(b []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(b, &in); err != nil {
		return Inbound{}, fmt.Errorf("decode message: %w", err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("decode message: missing type")
	}
	return in, nil
}

// Payload unmarshals the deferred payload into v, tolerating a missing or
// null data field.
func (in Inbound) Payload(v any) error {
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(in.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", in.Type, err)
	}
	return nil
}
