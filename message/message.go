// Package message defines the immutable unit of traffic carried by the
// bus: identity, routing metadata, and an opaque payload.
package message

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aquamarinepk/relaybus/buserr"
	"github.com/aquamarinepk/relaybus/validation"
)

// Type is the closed sum of message variants.
type Type int

const (
	Event Type = iota
	Command
	Query
	Reply
)

func (t Type) String() string {
	switch t {
	case Event:
		return "event"
	case Command:
		return "command"
	case Query:
		return "query"
	case Reply:
		return "reply"
	default:
		return "unknown"
	}
}

// Priority is ordered so Critical dequeues before Lowest in a priority
// queue; the zero value is Lowest, not the default (Normal) — the
// Builder assigns Normal explicitly when unset.
type Priority int

const (
	Lowest Priority = iota
	Low
	Normal
	High
	Critical
)

func (p Priority) String() string {
	switch p {
	case Lowest:
		return "lowest"
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Payload is an opaque byte holder around a plain slice, with no
// reference counting. A single subscription delivery copies no bytes;
// fan-out to multiple subscriptions shares the same underlying slice.
type Payload struct {
	bytes []byte
}

// NewPayload wraps b without copying. Callers must not mutate b after
// handing it to NewPayload.
func NewPayload(b []byte) Payload {
	return Payload{bytes: b}
}

// Bytes returns the underlying byte slice. Callers must treat it as
// read-only: it may be shared across concurrent fan-out deliveries.
func (p Payload) Bytes() []byte { return p.bytes }

func (p Payload) Len() int { return len(p.bytes) }

// Message is immutable once built.
type Message struct {
	id            string
	topic         string
	msgType       Type
	priority      Priority
	source        string
	correlationID string
	timestamp     time.Time
	payload       Payload
	headers       map[string]string
}

func (m Message) ID() string                   { return m.id }
func (m Message) Topic() string                 { return m.topic }
func (m Message) Type() Type                    { return m.msgType }
func (m Message) Priority() Priority            { return m.priority }
func (m Message) Source() string                { return m.source }
func (m Message) CorrelationID() string         { return m.correlationID }
func (m Message) Timestamp() time.Time          { return m.timestamp }
func (m Message) Payload() Payload              { return m.payload }
func (m Message) Header(key string) (string, bool) {
	v, ok := m.headers[key]
	return v, ok
}
func (m Message) Headers() map[string]string {
	out := make(map[string]string, len(m.headers))
	for k, v := range m.headers {
		out[k] = v
	}
	return out
}

var idCounter uint64
var idSeed = processSeed()

func processSeed() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "0"
	}
	return fmt.Sprintf("%x", buf)
}

// NewID returns a string unique within the process's lifetime: a
// monotonic counter combined with a per-process random seed.
func NewID() string {
	n := atomic.AddUint64(&idCounter, 1)
	return idSeed + "-" + strconv.FormatUint(n, 36)
}

// Builder accumulates Message fields and validates them on Build.
type Builder struct {
	topic         string
	topicSet      bool
	msgType       Type
	typeSet       bool
	priority      Priority
	prioritySet   bool
	source        string
	correlationID string
	payload       Payload
	headers       map[string]string
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Topic(topic string) *Builder {
	b.topic = topic
	b.topicSet = true
	return b
}

func (b *Builder) Type(t Type) *Builder {
	b.msgType = t
	b.typeSet = true
	return b
}

func (b *Builder) Priority(p Priority) *Builder {
	b.priority = p
	b.prioritySet = true
	return b
}

func (b *Builder) Source(source string) *Builder {
	b.source = source
	return b
}

func (b *Builder) CorrelationID(id string) *Builder {
	b.correlationID = id
	return b
}

func (b *Builder) Payload(p []byte) *Builder {
	b.payload = NewPayload(p)
	return b
}

func (b *Builder) Header(key, value string) *Builder {
	if b.headers == nil {
		b.headers = make(map[string]string)
	}
	b.headers[key] = value
	return b
}

// Build validates required fields and returns the finished Message, or
// an invalid_argument error describing what is missing or malformed.
func (b *Builder) Build() (Message, error) {
	if !b.topicSet || strings.TrimSpace(b.topic) == "" {
		return Message{}, buserr.New("message.build", buserr.InvalidArgument, fmt.Errorf("topic is required"))
	}
	if err := validation.ValidateTopic(b.topic); err != nil {
		return Message{}, buserr.New("message.build", buserr.InvalidArgument, err)
	}

	msgType := Event
	if b.typeSet {
		msgType = b.msgType
	}

	priority := Normal
	if b.prioritySet {
		priority = b.priority
	}

	return Message{
		id:            NewID(),
		topic:         b.topic,
		msgType:       msgType,
		priority:      priority,
		source:        b.source,
		correlationID: b.correlationID,
		timestamp:     time.Now(),
		payload:       b.payload,
		headers:       b.headers,
	}, nil
}
