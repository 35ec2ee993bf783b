package bus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aquamarinepk/relaybus/backend"
	"github.com/aquamarinepk/relaybus/bus"
	"github.com/aquamarinepk/relaybus/message"
	"github.com/aquamarinepk/relaybus/testhelper"
	"github.com/aquamarinepk/relaybus/transport"
	transportnats "github.com/aquamarinepk/relaybus/transport/nats"
)

// TestTransportBridgeNATS repeats TestTransportBridge over a shared NATS
// subject instead of a direct TCP socket.
func TestTransportBridgeNATS(t *testing.T) {
	url, cleanup := testhelper.SetupTestNATS(t)
	defer cleanup()

	cfg := transportnats.DefaultConfig("relaybus.bridge.test")

	serverT := transportnats.New(cfg, transport.DefaultPipeline())
	clientT := transportnats.New(cfg, transport.DefaultPipeline())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := serverT.Connect(ctx, url); err != nil {
		t.Fatalf("serverT.Connect() error = %v", err)
	}
	defer serverT.Disconnect()
	if err := clientT.Connect(ctx, url); err != nil {
		t.Fatalf("clientT.Connect() error = %v", err)
	}
	defer clientT.Disconnect()

	beA := backend.NewStandalone(2)
	beB := backend.NewStandalone(2)
	defer beA.Shutdown()
	defer beB.Shutdown()

	busA := bus.New(bus.Config{QueueCapacity: 16, Mode: bus.Hybrid, Transport: serverT}, beA)
	busB := bus.New(bus.Config{QueueCapacity: 16, Mode: bus.Hybrid, Transport: clientT}, beB)

	serverT.OnMessage(busA.HandleRemote)
	clientT.OnMessage(busB.HandleRemote)

	if err := busA.Start(ctx); err != nil {
		t.Fatalf("busA.Start() error = %v", err)
	}
	if err := busB.Start(ctx); err != nil {
		t.Fatalf("busB.Start() error = %v", err)
	}
	defer busA.Stop(ctx)
	defer busB.Stop(ctx)

	var mu sync.Mutex
	var received message.Message
	done := make(chan struct{})
	_, err := busA.Subscribe("x.y", func(m message.Message) error {
		mu.Lock()
		received = m
		mu.Unlock()
		close(done)
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg, err := message.NewBuilder().Topic("x.y").Payload([]byte("bridged-nats")).Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := busB.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber on busA was not invoked within timeout")
	}

	mu.Lock()
	payload := string(received.Payload().Bytes())
	mu.Unlock()
	if payload != "bridged-nats" {
		t.Errorf("received payload = %q, want %q", payload, "bridged-nats")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if clientT.Stats().MessagesSent >= 1 && serverT.Stats().MessagesReceived >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := clientT.Stats().MessagesSent; got < 1 {
		t.Errorf("clientT.Stats().MessagesSent = %d, want >= 1", got)
	}
	if got := serverT.Stats().MessagesReceived; got < 1 {
		t.Errorf("serverT.Stats().MessagesReceived = %d, want >= 1", got)
	}
}
