// Package protocol defines the broadcast RPC wire format.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message operations.
const (
	OpExecute  = "execute"
	OpCallback = "callback"
)

// Functions served by the host over the broadcast channel.
const (
	FuncGetFlatListing = "getFlatListing"
	FuncGetFileText    = "getFileText"
)

// Message is a single broadcast RPC message.
//
//	request:  {operation:"execute", name, payload?, correlationId}
//	response: {operation:"callback", payload?, success, correlationId, broadcaster?}
type Message struct {
	Operation     string  `json:"operation"`
	Name          string  `json:"name,omitempty"`
	Payload       *string `json:"payload,omitempty"`
	Success       *bool   `json:"success,omitempty"`
	CorrelationID string  `json:"correlationId"`
	Broadcaster   string  `json:"broadcaster,omitempty"`
}

// ErrMalformed is returned by Decode for messages that cannot be routed.
var ErrMalformed = errors.New("malformed broadcast message")

// NewExecute builds a request message.
func NewExecute(name, payload, correlationID string) Message {
	return Message{
		Operation:     OpExecute,
		Name:          name,
		Payload:       &payload,
		CorrelationID: correlationID,
	}
}

// NewCallback builds a response message.
func NewCallback(correlationID, broadcaster string, success bool, payload string) Message {
	return Message{
		Operation:     OpCallback,
		Payload:       &payload,
		Success:       &success,
		CorrelationID: correlationID,
		Broadcaster:   broadcaster,
	}
}

// PayloadString returns the payload or "" when absent.
func (m Message) PayloadString() string {
	if m.Payload == nil {
		return ""
	}
	return *m.Payload
}

// Succeeded reports the callback's success flag; absent means failure.
func (m Message) Succeeded() bool {
	return m.Success != nil && *m.Success
}

// Encode serializes a message to JSON.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses and checks a raw message. Empty input, invalid JSON, an
// unknown operation, a missing correlation id or an execute without a name
// all yield ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if len(data) == 0 {
		return m, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.CorrelationID == "" {
		return m, fmt.Errorf("%w: missing correlationId", ErrMalformed)
	}
	switch m.Operation {
	case OpExecute:
		if m.Name == "" {
			return m, fmt.Errorf("%w: execute without name", ErrMalformed)
		}
	case OpCallback:
	default:
		return m, fmt.Errorf("%w: unknown operation %q", ErrMalformed, m.Operation)
	}
	return m, nil
}
