package telemetry

import (
	"context"
	"time"
)

// Metrics models a minimal counter/measure emission interface with HTTP-specific observations.
type Metrics interface {
	Counter(ctx context.Context, name string, value float64, labels map[string]string)
	ObserveHTTPRequest(path, method string, status int, duration time.Duration)
}

// NoopMetrics is a no-op implementation of Metrics.
type NoopMetrics struct{}

func (NoopMetrics) Counter(context.Context, string, float64, map[string]string) {}
func (NoopMetrics) ObserveHTTPRequest(string, string, int, time.Duration)       {}
