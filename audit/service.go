package audit

import (
	"context"

	"github.com/aquamarinepk/relaybus/message"
)

// Subscriber is the narrow slice of *bus.Bus that Service depends on.
// Accepting the interface here (rather than importing package bus)
// avoids a cyclic dependency, since bus.Config references audit.Sink.
type Subscriber interface {
	Subscribe(pattern string, callback func(message.Message) error, filter func(message.Message) bool) (string, error)
	Unsubscribe(subID string) error
}

// Service subscribes to every topic on a bus and forwards each delivered
// message to a Sink.
type Service struct {
	sink   Sink
	subID  string
}

// NewService subscribes to bus on pattern (use "#" for every topic) and
// forwards deliveries to sink.
func NewService(bus Subscriber, sink Sink, pattern string) (*Service, error) {
	s := &Service{sink: sink}

	subID, err := bus.Subscribe(pattern, func(msg message.Message) error {
		return sink.Record(context.Background(), msg)
	}, nil)
	if err != nil {
		return nil, err
	}
	s.subID = subID

	return s, nil
}

// Close unsubscribes the service from bus.
func (s *Service) Close(bus Subscriber) error {
	return bus.Unsubscribe(s.subID)
}
