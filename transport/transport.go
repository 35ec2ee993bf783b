// Package transport implements framed bidirectional byte transfer over
// TCP with a pluggable compress/encrypt pipeline, for bridging a bus to
// a remote peer.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/aquamarinepk/relaybus/buserr"
)

const (
	// DefaultMaxFrameBytes bounds an incoming frame; larger frames close
	// the connection with a protocol_violation.
	DefaultMaxFrameBytes = 64 * 1024 * 1024

	flagCompressed byte = 1 << 0
	flagEncrypted  byte = 1 << 1

	headerLen = 5 // 4-byte length + 1-byte flags
)

// State is a connection's position in its lifecycle.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Pipeline is the pluggable byte transformation applied before/after the
// wire. The default is identity for every stage.
type Pipeline struct {
	Compress   func([]byte) ([]byte, error)
	Decompress func([]byte) ([]byte, error)
	Encrypt    func([]byte) ([]byte, error)
	Decrypt    func([]byte) ([]byte, error)
}

func identity(b []byte) ([]byte, error) { return b, nil }

// DefaultPipeline returns a Pipeline whose every stage is identity.
func DefaultPipeline() Pipeline {
	return Pipeline{Compress: identity, Decompress: identity, Encrypt: identity, Decrypt: identity}
}

func (p Pipeline) withDefaults() Pipeline {
	if p.Compress == nil {
		p.Compress = identity
	}
	if p.Decompress == nil {
		p.Decompress = identity
	}
	if p.Encrypt == nil {
		p.Encrypt = identity
	}
	if p.Decrypt == nil {
		p.Decrypt = identity
	}
	return p
}

// WithDefaults fills in identity stages for any nil field. Exported so
// alternative Transport implementations (e.g. transport/nats) outside
// this package can normalize a caller-supplied Pipeline the same way
// TCP does.
func (p Pipeline) WithDefaults() Pipeline {
	return p.withDefaults()
}

// Stats are per-connection counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// MessageHandler is invoked with the decoded body of an inbound frame.
// A handler error is discarded: it is not counted in Stats and never
// closes the connection.
type MessageHandler func(body []byte) error

// StateChangeHandler is invoked on every state transition. diagnostic is
// non-empty only when newState is Error.
type StateChangeHandler func(oldState, newState State, diagnostic string)

// Transport is the narrow public surface; package transport/nats offers
// an alternative implementation of the same contract.
type Transport interface {
	Connect(ctx context.Context, addr string) error
	Disconnect() error
	Send(ctx context.Context, body []byte) error
	OnMessage(h MessageHandler)
	OnStateChange(h StateChangeHandler)
	Stats() Stats
	State() State
}

// TCP implements Transport with a fixed frame format: a 4-byte
// big-endian length, a 1-byte flags byte, and the body.
type TCP struct {
	Pipeline       Pipeline
	MaxFrameBytes  int
	EnableCompress bool
	EnableEncrypt  bool

	mu           sync.Mutex
	conn         net.Conn
	state        State
	onMessage    MessageHandler
	onStateCh    StateChangeHandler
	sendMu       sync.Mutex
	stats        Stats
	readLoopDone chan struct{}
}

// NewTCP returns a TCP transport using pipeline (identity stages filled
// in where nil) and maxFrameBytes (DefaultMaxFrameBytes if <= 0).
// enableCompress/enableEncrypt set the flags bits this transport writes
// on send; the corresponding Pipeline stages still run unconditionally
// on receive, gated by the flags the peer actually sent.
func NewTCP(pipeline Pipeline, maxFrameBytes int, enableCompress, enableEncrypt bool) *TCP {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &TCP{
		Pipeline:       pipeline.withDefaults(),
		MaxFrameBytes:  maxFrameBytes,
		EnableCompress: enableCompress,
		EnableEncrypt:  enableEncrypt,
		state:          Disconnected,
	}
}

func (t *TCP) OnMessage(h MessageHandler)         { t.mu.Lock(); t.onMessage = h; t.mu.Unlock() }
func (t *TCP) OnStateChange(h StateChangeHandler) { t.mu.Lock(); t.onStateCh = h; t.mu.Unlock() }

func (t *TCP) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *TCP) setState(s State, diagnostic string) {
	t.mu.Lock()
	old := t.state
	t.state = s
	handler := t.onStateCh
	t.mu.Unlock()

	if handler != nil && old != s {
		handler(old, s, diagnostic)
	}
}

// Connect dials addr and starts the read loop. ctx governs only the
// dial; the resulting connection is not bound to ctx's lifetime.
func (t *TCP) Connect(ctx context.Context, addr string) error {
	t.setState(Connecting, "")

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		t.setState(Error, err.Error())
		return buserr.New("transport.connect", buserr.NetworkError, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.readLoopDone = make(chan struct{})
	t.mu.Unlock()

	t.setState(Connected, "")
	go t.readLoop()

	return nil
}

// Bind wraps an already-established connection (e.g. one accepted by a
// listener) as this transport's active connection and starts its read
// loop.
func (t *TCP) Bind(conn net.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.readLoopDone = make(chan struct{})
	t.mu.Unlock()

	t.setState(Connected, "")
	go t.readLoop()
}

// Disconnect closes the connection. A send in flight either completes or
// fails with a network_error; it is never silently dropped.
func (t *TCP) Disconnect() error {
	t.setState(Disconnecting, "")

	t.mu.Lock()
	conn := t.conn
	done := t.readLoopDone
	t.mu.Unlock()

	if conn == nil {
		t.setState(Disconnected, "")
		return nil
	}

	err := conn.Close()
	if done != nil {
		<-done
	}
	t.setState(Disconnected, "")
	if err != nil {
		return buserr.New("transport.disconnect", buserr.NetworkError, err)
	}
	return nil
}

// Send applies compression then encryption (outermost), frames, and
// writes the frame. Sends are serialized per connection.
func (t *TCP) Send(ctx context.Context, body []byte) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if conn == nil || state != Connected {
		return buserr.New("transport.send", buserr.NetworkError, fmt.Errorf("not connected"))
	}

	var flags byte
	out := body

	if t.EnableCompress {
		compressed, err := t.Pipeline.Compress(out)
		if err != nil {
			return buserr.New("transport.send", buserr.ResourceError, err)
		}
		out = compressed
		flags |= flagCompressed
	}

	if t.EnableEncrypt {
		encrypted, err := t.Pipeline.Encrypt(out)
		if err != nil {
			return buserr.New("transport.send", buserr.ResourceError, err)
		}
		out = encrypted
		flags |= flagEncrypted
	}

	frame := make([]byte, headerLen+len(out))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(out)+1))
	frame[4] = flags
	copy(frame[5:], out)

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	n, err := conn.Write(frame)
	if err != nil {
		return buserr.New("transport.send", buserr.NetworkError, err)
	}

	atomic.AddUint64(&t.stats.MessagesSent, 1)
	atomic.AddUint64(&t.stats.BytesSent, uint64(n))
	return nil
}

func (t *TCP) readLoop() {
	t.mu.Lock()
	conn := t.conn
	done := t.readLoopDone
	t.mu.Unlock()

	defer close(done)

	header := make([]byte, headerLen)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			if t.State() != Disconnecting {
				t.setState(Error, err.Error())
			}
			return
		}

		length := binary.BigEndian.Uint32(header[0:4])
		flags := header[4]

		if int(length) > t.MaxFrameBytes {
			t.setState(Error, "frame exceeds max_frame_bytes")
			conn.Close()
			return
		}
		if length == 0 {
			t.setState(Error, "frame length must include the flags byte")
			conn.Close()
			return
		}

		body := make([]byte, length-1)
		if len(body) > 0 {
			if _, err := io.ReadFull(conn, body); err != nil {
				t.setState(Error, err.Error())
				return
			}
		}

		atomic.AddUint64(&t.stats.MessagesReceived, 1)
		atomic.AddUint64(&t.stats.BytesReceived, uint64(headerLen+len(body)))

		decoded, err := t.decode(body, flags)
		if err != nil {
			t.setState(Error, err.Error())
			conn.Close()
			return
		}

		t.mu.Lock()
		handler := t.onMessage
		t.mu.Unlock()

		if handler != nil {
			// Handler failures are discarded, not counted; they never
			// close the connection.
			_ = handler(decoded)
		}
	}
}

func (t *TCP) decode(body []byte, flags byte) ([]byte, error) {
	out := body
	var err error

	if flags&flagEncrypted != 0 {
		out, err = t.Pipeline.Decrypt(out)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
	}
	if flags&flagCompressed != 0 {
		out, err = t.Pipeline.Decompress(out)
		if err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	return out, nil
}

func (t *TCP) Stats() Stats {
	return Stats{
		MessagesSent:     atomic.LoadUint64(&t.stats.MessagesSent),
		MessagesReceived: atomic.LoadUint64(&t.stats.MessagesReceived),
		BytesSent:        atomic.LoadUint64(&t.stats.BytesSent),
		BytesReceived:    atomic.LoadUint64(&t.stats.BytesReceived),
	}
}
