// Package bus implements the message bus orchestrator: publish,
// subscribe, unsubscribe, statistics, and request/reply built atop
// pub/sub.
package bus

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aquamarinepk/relaybus/audit"
	"github.com/aquamarinepk/relaybus/backend"
	"github.com/aquamarinepk/relaybus/buserr"
	"github.com/aquamarinepk/relaybus/message"
	"github.com/aquamarinepk/relaybus/queue"
	"github.com/aquamarinepk/relaybus/router"
)

// Mode selects where published messages are delivered.
type Mode int

const (
	LocalOnly Mode = iota
	RemoteOnly
	Hybrid
)

// Transport is the narrow surface the bus needs from a transport to
// forward outbound messages in RemoteOnly/Hybrid mode. The full
// transport contract lives in package transport; HandleRemote is the
// matching narrow surface a transport's MessageHandler should call back
// into (e.g. t.OnMessage(bus.HandleRemote)) to deliver a peer's publish
// locally.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// Filter inspects a message and decides whether the subscriber should
// be invoked.
type Filter func(message.Message) bool

// Callback handles a delivered message. An error is counted as a
// failure but never propagated to the publisher or other subscribers.
type Callback func(message.Message) error

// Config configures a Bus at construction time.
type Config struct {
	QueueCapacity       int
	WorkerThreads       int
	EnablePriorityQueue bool
	OverflowPolicy      queue.OverflowPolicy
	Mode                Mode
	Transport           Transport
	ShutdownTimeout     time.Duration
	AuditSink           audit.Sink
}

// Stats is a snapshot of the bus's monotonic counters.
type Stats struct {
	MessagesPublished   uint64
	MessagesProcessed   uint64
	MessagesFailed      uint64
	SubscriptionsActive uint64
	QueueDepthCurrent   uint64
	QueueDepthPeak      uint64
	DroppedOverflow     uint64
}

type state int32

const (
	stateCreated state = iota
	stateRunning
	stateStopped
)

type subscription struct {
	id       router.Subscription
	callback Callback
	filter   Filter

	// pendingMu guards pending/draining, which together implement a
	// single-flight executor keyed by this subscription: deliveries are
	// appended in dispatch order and drained by at most one backend task
	// at a time, so per-subscription FIFO holds even though the backend
	// runs many callbacks concurrently across different subscriptions.
	pendingMu sync.Mutex
	pending   []message.Message
	draining  bool
}

// fanout is the payload carried by each queue entry: a message plus the
// set of subscription ids resolved at publish time.
type fanout struct {
	msg  message.Message
	subs []any
}

// Bus is the pub/sub orchestrator. Safe for concurrent use once running.
type Bus struct {
	cfg     Config
	router  *router.Router
	queue   queue.Queue
	backend backend.Backend

	mu       sync.RWMutex
	subs     map[uint64]*subscription
	state    atomic.Int32
	subSeq   atomic.Uint64

	stats      Stats
	wg         sync.WaitGroup
	dispatchWG sync.WaitGroup
}

// New constructs a Bus. backend is shared and not owned by the Bus;
// Stop never shuts it down.
func New(cfg Config, be backend.Backend) *Bus {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.AuditSink == nil {
		cfg.AuditSink = audit.NoopSink{}
	}

	var q queue.Queue
	if cfg.EnablePriorityQueue {
		q = queue.NewPriority(cfg.QueueCapacity, cfg.OverflowPolicy)
	} else {
		q = queue.NewFIFO(cfg.QueueCapacity, cfg.OverflowPolicy)
	}

	b := &Bus{
		cfg:     cfg,
		router:  router.New(),
		queue:   q,
		backend: be,
		subs:    make(map[uint64]*subscription),
	}
	return b
}

// Start transitions the bus to running, initializes the backend if
// necessary, and spawns the dispatcher loop.
func (b *Bus) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(stateCreated), int32(stateRunning)) {
		return buserr.New("bus.start", buserr.InvalidArgument, fmt.Errorf("bus already started"))
	}

	if !b.backend.IsReady() {
		if err := b.backend.Initialize(); err != nil {
			return buserr.New("bus.start", buserr.ResourceError, err)
		}
	}

	b.dispatchWG.Add(1)
	if err := b.backend.Submit(b.dispatchLoop); err != nil {
		b.dispatchWG.Done()
		b.state.Store(int32(stateCreated))
		return buserr.New("bus.start", buserr.ResourceError, err)
	}

	return nil
}

// Stop transitions the bus to stopped: refuses new publishes, stops the
// queue, and waits (bounded by ShutdownTimeout if set) for in-flight
// deliveries to finish. The backend is shared and outlives Stop.
func (b *Bus) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(stateRunning), int32(stateStopped)) {
		return nil
	}

	b.queue.Stop()

	done := make(chan struct{})
	go func() {
		b.dispatchWG.Wait()
		b.wg.Wait()
		close(done)
	}()

	if b.cfg.ShutdownTimeout <= 0 {
		<-done
		return nil
	}

	select {
	case <-done:
		return nil
	case <-time.After(b.cfg.ShutdownTimeout):
		return buserr.New("bus.stop", buserr.Timeout, fmt.Errorf("in-flight deliveries did not finish within %s", b.cfg.ShutdownTimeout))
	}
}

func (b *Bus) running() bool {
	return state(b.state.Load()) == stateRunning
}

// dispatchLoop is the single dispatcher task submitted to the backend at
// Start. It never blocks on a slow subscriber: per-delivery work is
// itself submitted to the backend.
func (b *Bus) dispatchLoop() {
	defer b.dispatchWG.Done()

	for {
		entry, err := b.queue.Dequeue(context.Background())
		if err != nil {
			return
		}

		fo, ok := entry.Value.(fanout)
		if !ok {
			continue
		}

		for _, id := range fo.subs {
			subID, ok := id.(uint64)
			if !ok {
				continue
			}
			b.mu.RLock()
			sub, ok := b.subs[subID]
			b.mu.RUnlock()
			if !ok {
				continue
			}

			b.wg.Add(1)
			b.enqueueOrdered(sub, fo.msg)
		}
	}
}

// enqueueOrdered appends msg to sub's pending queue, preserving the order
// dispatchLoop resolved it in. If no drain is currently running for sub,
// it submits one to the backend; otherwise the already-running drain will
// pick msg up on its next iteration. This keeps at most one goroutine
// invoking sub's callback at a time, so per-subscription FIFO holds
// regardless of how many workers the backend has.
func (b *Bus) enqueueOrdered(sub *subscription, msg message.Message) {
	sub.pendingMu.Lock()
	sub.pending = append(sub.pending, msg)
	if sub.draining {
		sub.pendingMu.Unlock()
		return
	}
	sub.draining = true
	sub.pendingMu.Unlock()

	if err := b.backend.Submit(func() { b.drainSubscription(sub) }); err != nil {
		// Backend can't schedule (shut down); drain synchronously rather
		// than dropping the message silently.
		b.drainSubscription(sub)
	}
}

// drainSubscription delivers sub's pending messages in order, one at a
// time, until the queue is empty, then releases the single-flight slot.
func (b *Bus) drainSubscription(sub *subscription) {
	for {
		sub.pendingMu.Lock()
		if len(sub.pending) == 0 {
			sub.draining = false
			sub.pendingMu.Unlock()
			return
		}
		msg := sub.pending[0]
		sub.pending = sub.pending[1:]
		sub.pendingMu.Unlock()

		b.deliver(sub, msg)
		b.wg.Done()
	}
}

func (b *Bus) deliver(sub *subscription, msg message.Message) {
	if sub.filter != nil && !sub.filter(msg) {
		atomic.AddUint64(&b.stats.MessagesProcessed, 1)
		return
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("subscriber panic: %v", r)
			}
		}()
		return sub.callback(msg)
	}()

	if err != nil {
		atomic.AddUint64(&b.stats.MessagesFailed, 1)
		return
	}

	atomic.AddUint64(&b.stats.MessagesProcessed, 1)
	b.cfg.AuditSink.Record(context.Background(), msg)
}

// Publish resolves subscriptions via the router and enqueues one
// delivery entry, then — in remote_only/hybrid mode — hands the encoded
// message to the transport without waiting for network completion. In
// local_only mode with no matching subscriptions, the message is
// counted as processed and Publish succeeds without enqueuing anything.
func (b *Bus) Publish(ctx context.Context, msg message.Message) error {
	if err := b.publishLocal(ctx, msg); err != nil {
		return err
	}

	if b.cfg.Mode == RemoteOnly || b.cfg.Mode == Hybrid {
		if b.cfg.Transport != nil {
			encoded, err := msg.Encode()
			if err == nil {
				go b.cfg.Transport.Send(ctx, encoded)
			}
		}
	}

	return nil
}

// HandleRemote decodes a message received from a peer (typically wired
// as a transport's MessageHandler, e.g. t.OnMessage(bus.HandleRemote))
// and delivers it to local subscribers exactly as a local Publish would,
// without re-forwarding it back out over the transport.
func (b *Bus) HandleRemote(body []byte) error {
	msg, err := message.Decode(body)
	if err != nil {
		return err
	}
	return b.publishLocal(context.Background(), msg)
}

func (b *Bus) publishLocal(ctx context.Context, msg message.Message) error {
	if !b.running() {
		return buserr.New("bus.publish", buserr.Shutdown, fmt.Errorf("bus is not running"))
	}

	subs := b.router.Match(msg.Topic())

	if len(subs) == 0 && b.cfg.Mode == LocalOnly {
		atomic.AddUint64(&b.stats.MessagesPublished, 1)
		atomic.AddUint64(&b.stats.MessagesProcessed, 1)
		return nil
	}

	if len(subs) > 0 {
		err := b.queue.Enqueue(ctx, queue.Entry{
			Value:    fanout{msg: msg, subs: subs},
			Priority: int(msg.Priority()),
		})
		if err != nil {
			return err
		}
	}

	atomic.AddUint64(&b.stats.MessagesPublished, 1)
	return nil
}

// Subscribe registers pattern with callback and optional filter,
// returning an opaque subscription id.
func (b *Bus) Subscribe(pattern string, callback Callback, filter Filter) (string, error) {
	if !b.running() && state(b.state.Load()) != stateCreated {
		return "", buserr.New("bus.subscribe", buserr.Shutdown, fmt.Errorf("bus is not running"))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subID := b.subSeq.Add(1)

	routerSub, err := b.router.Subscribe(pattern, subID)
	if err != nil {
		return "", err
	}

	b.subs[subID] = &subscription{id: routerSub, callback: callback, filter: filter}
	atomic.AddUint64(&b.stats.SubscriptionsActive, 1)

	return fmt.Sprintf("%d", subID), nil
}

// Unsubscribe removes subID from the router. In-flight callbacks already
// submitted to the backend are allowed to complete.
func (b *Bus) Unsubscribe(subID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var n uint64
	if _, err := fmt.Sscanf(subID, "%d", &n); err != nil {
		return buserr.New("bus.unsubscribe", buserr.NotFound, err)
	}

	sub, ok := b.subs[n]
	if !ok {
		return buserr.New("bus.unsubscribe", buserr.NotFound, fmt.Errorf("subscription %s not found", subID))
	}

	if err := b.router.Unsubscribe(sub.id); err != nil {
		return err
	}
	delete(b.subs, n)
	atomic.AddUint64(&b.stats.SubscriptionsActive, ^uint64(0))
	return nil
}

// GetStatistics returns a snapshot of the bus's counters. QueueDepthCurrent,
// QueueDepthPeak, and DroppedOverflow are read straight from the queue
// rather than tracked independently, so they stay correct under every
// overflow policy — drop_oldest evicts without the bus ever dequeuing the
// evicted entry, so a publish-side counter would drift from the queue's
// actual size and drop count.
func (b *Bus) GetStatistics() Stats {
	return Stats{
		MessagesPublished:   atomic.LoadUint64(&b.stats.MessagesPublished),
		MessagesProcessed:   atomic.LoadUint64(&b.stats.MessagesProcessed),
		MessagesFailed:      atomic.LoadUint64(&b.stats.MessagesFailed),
		SubscriptionsActive: atomic.LoadUint64(&b.stats.SubscriptionsActive),
		QueueDepthCurrent:   uint64(b.queue.Len()),
		QueueDepthPeak:      uint64(b.queue.Peak()),
		DroppedOverflow:     b.queue.Dropped(),
	}
}

func newCorrelationID() string {
	buf := make([]byte, 16)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// Request publishes msg on topic with a freshly generated correlation
// id, subscribes a one-shot reply handler on replyTopic filtered by that
// id, and waits for either a reply or ctx's deadline. Timeout is the
// caller's responsibility via ctx, not a bus primitive.
func (b *Bus) Request(ctx context.Context, topic, replyTopic string, payload []byte) (message.Message, error) {
	corrID := newCorrelationID()

	replyCh := make(chan message.Message, 1)
	subID, err := b.Subscribe(replyTopic, func(m message.Message) error {
		if m.CorrelationID() != corrID {
			return nil
		}
		select {
		case replyCh <- m:
		default:
		}
		return nil
	}, nil)
	if err != nil {
		return message.Message{}, err
	}
	defer b.Unsubscribe(subID)

	msg, err := message.NewBuilder().
		Topic(topic).
		Type(message.Query).
		CorrelationID(corrID).
		Payload(payload).
		Build()
	if err != nil {
		return message.Message{}, err
	}

	if err := b.Publish(ctx, msg); err != nil {
		return message.Message{}, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return message.Message{}, buserr.New("bus.request", buserr.Timeout, ctx.Err())
	}
}
