package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aquamarinepk/relaybus/log"
)

// Startable components are started once during Start, in the order they
// were passed to Setup.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable components are stopped during Shutdown, in reverse order.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// RouteRegistrar components contribute HTTP routes once every Startable
// has started successfully.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// Setup inspects each component for the lifecycle interfaces it implements
// and returns the start funcs, stop funcs, and route registrars to drive
// through Start and Shutdown. It does not invoke anything itself.
func Setup(ctx context.Context, router chi.Router, components ...any) (starts []func(context.Context) error, stops []func(context.Context) error, registrars []RouteRegistrar) {
	for _, c := range components {
		if s, ok := c.(Startable); ok {
			starts = append(starts, s.Start)
		}
		if s, ok := c.(Stoppable); ok {
			stops = append(stops, s.Stop)
		}
		if r, ok := c.(RouteRegistrar); ok {
			registrars = append(registrars, r)
		}
	}
	return starts, stops, registrars
}

// Start runs each start func in order. If one fails, every previously
// started component is stopped (in reverse order) before the error is
// returned; the failed component's own stop func is not invoked. On full
// success, every registrar is given a chance to register its routes.
func Start(ctx context.Context, logger log.Logger, starts []func(context.Context) error, stops []func(context.Context) error, registrars []RouteRegistrar, router chi.Router) error {
	started := 0
	for i, start := range starts {
		if err := start(ctx); err != nil {
			for j := started - 1; j >= 0; j-- {
				if j < len(stops) {
					if stopErr := stops[j](ctx); stopErr != nil {
						logger.Errorf("rollback stop failed: %v", stopErr)
					}
				}
			}
			return err
		}
		started = i + 1
	}

	for _, r := range registrars {
		r.RegisterRoutes(router)
	}

	return nil
}

// Shutdown gracefully stops the HTTP server, then stops components in
// reverse order of the stops slice, logging but not aborting on
// individual failures so every component gets a chance to release its
// resources.
func Shutdown(srv *http.Server, logger log.Logger, stops []func(context.Context) error) {
	ctx := context.Background()

	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Errorf("http server shutdown failed: %v", err)
		}
	}

	for i := len(stops) - 1; i >= 0; i-- {
		if err := stops[i](ctx); err != nil {
			logger.Errorf("shutdown stop failed: %v", err)
		}
	}
}
