// Package nats adapts a NATS subject into the transport.Transport
// contract, as an alternative to transport.TCP for bridging a bus across
// processes through a shared broker instead of a direct socket.
package nats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/aquamarinepk/relaybus/buserr"
	"github.com/aquamarinepk/relaybus/transport"
)

var errNotConnected = errors.New("not connected")

// Config mirrors pubsub/nats.Config: the connection parameters handed to
// nats.Connect.
type Config struct {
	Subject        string
	MaxReconnect   int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible NATS connection defaults.
func DefaultConfig(subject string) Config {
	return Config{
		Subject:        subject,
		MaxReconnect:   60,
		ReconnectWait:  time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// Transport implements transport.Transport over a single NATS subject: a
// publish is a Send, and every message on the subject is delivered to
// the registered MessageHandler. Pipeline transforms (compress/encrypt)
// still apply, matching transport.TCP's semantics, but there is no frame
// header — NATS already delimits messages.
type Transport struct {
	cfg      Config
	pipeline transport.Pipeline

	mu        sync.Mutex
	conn      *natsgo.Conn
	sub       *natsgo.Subscription
	state     transport.State
	onMessage transport.MessageHandler
	onStateCh transport.StateChangeHandler
	stats     transport.Stats
}

// New returns a NATS-backed transport publishing/subscribing on
// cfg.Subject, applying pipeline (identity stages filled in where nil)
// around every message.
func New(cfg Config, pipeline transport.Pipeline) *Transport {
	return &Transport{
		cfg:      cfg,
		pipeline: pipeline.WithDefaults(),
		state:    transport.Disconnected,
	}
}

func (t *Transport) OnMessage(h transport.MessageHandler)         { t.mu.Lock(); t.onMessage = h; t.mu.Unlock() }
func (t *Transport) OnStateChange(h transport.StateChangeHandler) { t.mu.Lock(); t.onStateCh = h; t.mu.Unlock() }

func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) setState(s transport.State, diagnostic string) {
	t.mu.Lock()
	old := t.state
	t.state = s
	handler := t.onStateCh
	t.mu.Unlock()

	if handler != nil && old != s {
		handler(old, s, diagnostic)
	}
}

// Connect dials addr as the NATS server URL and subscribes to
// cfg.Subject.
func (t *Transport) Connect(ctx context.Context, addr string) error {
	t.setState(transport.Connecting, "")

	conn, err := natsgo.Connect(addr,
		natsgo.MaxReconnects(t.cfg.MaxReconnect),
		natsgo.ReconnectWait(t.cfg.ReconnectWait),
		natsgo.Timeout(t.cfg.ConnectTimeout),
		natsgo.ClosedHandler(func(*natsgo.Conn) {
			t.setState(transport.Disconnected, "")
		}),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, disconnErr error) {
			if disconnErr != nil {
				t.setState(transport.Error, disconnErr.Error())
			}
		}),
	)
	if err != nil {
		t.setState(transport.Error, err.Error())
		return buserr.New("transport.connect", buserr.NetworkError, err)
	}

	sub, err := conn.Subscribe(t.cfg.Subject, t.handleMsg)
	if err != nil {
		conn.Close()
		t.setState(transport.Error, err.Error())
		return buserr.New("transport.connect", buserr.NetworkError, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.sub = sub
	t.mu.Unlock()

	t.setState(transport.Connected, "")
	return nil
}

func (t *Transport) handleMsg(msg *natsgo.Msg) {
	decoded, err := t.decode(msg.Data)
	if err != nil {
		t.setState(transport.Error, err.Error())
		return
	}

	atomic.AddUint64(&t.stats.MessagesReceived, 1)
	atomic.AddUint64(&t.stats.BytesReceived, uint64(len(msg.Data)))

	t.mu.Lock()
	handler := t.onMessage
	t.mu.Unlock()

	if handler != nil {
		_ = handler(decoded)
	}
}

func (t *Transport) decode(body []byte) ([]byte, error) {
	out, err := t.pipeline.Decrypt(body)
	if err != nil {
		return nil, err
	}
	return t.pipeline.Decompress(out)
}

// Disconnect unsubscribes and closes the NATS connection.
func (t *Transport) Disconnect() error {
	t.setState(transport.Disconnecting, "")

	t.mu.Lock()
	sub := t.sub
	conn := t.conn
	t.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if conn != nil {
		conn.Close()
	}

	t.setState(transport.Disconnected, "")
	return nil
}

// Send publishes body (after compression/encryption) to cfg.Subject.
func (t *Transport) Send(ctx context.Context, body []byte) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()

	if conn == nil || state != transport.Connected {
		return buserr.New("transport.send", buserr.NetworkError, errNotConnected)
	}

	out, err := t.pipeline.Compress(body)
	if err != nil {
		return buserr.New("transport.send", buserr.ResourceError, err)
	}
	out, err = t.pipeline.Encrypt(out)
	if err != nil {
		return buserr.New("transport.send", buserr.ResourceError, err)
	}

	if err := conn.Publish(t.cfg.Subject, out); err != nil {
		return buserr.New("transport.send", buserr.NetworkError, err)
	}

	atomic.AddUint64(&t.stats.MessagesSent, 1)
	atomic.AddUint64(&t.stats.BytesSent, uint64(len(out)))
	return nil
}

func (t *Transport) Stats() transport.Stats {
	return transport.Stats{
		MessagesSent:     atomic.LoadUint64(&t.stats.MessagesSent),
		MessagesReceived: atomic.LoadUint64(&t.stats.MessagesReceived),
		BytesSent:        atomic.LoadUint64(&t.stats.BytesSent),
		BytesReceived:    atomic.LoadUint64(&t.stats.BytesReceived),
	}
}
