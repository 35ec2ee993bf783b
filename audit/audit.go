// Package audit provides an optional, after-the-fact observability hook
// for dispatched messages. It has no bearing on delivery guarantees: a
// failing or absent sink never affects publish/dispatch outcomes.
package audit

import (
	"context"

	"github.com/aquamarinepk/relaybus/message"
)

// Sink records a message that the bus has successfully dispatched.
// Implementations must not block the caller for long; Record runs
// fire-and-forget from the delivery path.
type Sink interface {
	Record(ctx context.Context, msg message.Message) error
}

// NoopSink discards everything. It is the bus.Config default.
type NoopSink struct{}

func (NoopSink) Record(ctx context.Context, msg message.Message) error { return nil }
