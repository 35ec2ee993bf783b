package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aquamarinepk/relaybus/buserr"
)

// wireMessage is the self-describing JSON-on-the-wire shape of a
// Message, named so the encoding is stable across the boundary between
// processes.
type wireMessage struct {
	ID            string            `json:"id"`
	Topic         string            `json:"topic"`
	Type          Type              `json:"type"`
	Priority      Priority          `json:"priority"`
	Source        string            `json:"source,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Payload       []byte            `json:"payload,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Encode serializes m to a self-describing byte stream. Decode is its
// inverse.
func (m Message) Encode() ([]byte, error) {
	w := wireMessage{
		ID:            m.id,
		Topic:         m.topic,
		Type:          m.msgType,
		Priority:      m.priority,
		Source:        m.source,
		CorrelationID: m.correlationID,
		Timestamp:     m.timestamp,
		Payload:       m.payload.Bytes(),
		Headers:       m.headers,
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, buserr.New("message.encode", buserr.InvalidArgument, err)
	}
	return b, nil
}

// Decode reconstructs a Message from bytes produced by Encode. It does
// not re-run builder validation: a peer is trusted to have sent a
// message that was valid when it was built.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, buserr.New("message.decode", buserr.InvalidArgument, fmt.Errorf("decode message: %w", err))
	}
	return Message{
		id:            w.ID,
		topic:         w.Topic,
		msgType:       w.Type,
		priority:      w.Priority,
		source:        w.Source,
		correlationID: w.CorrelationID,
		timestamp:     w.Timestamp,
		payload:       NewPayload(w.Payload),
		headers:       w.Headers,
	}, nil
}
