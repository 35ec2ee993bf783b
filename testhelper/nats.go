package testhelper

import (
	"context"
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/nats"
)

// SetupTestNATS returns a reachable NATS server URL for tests. In CI
// (when NATS_URL is set) it points at the shared instance; locally it
// spins up a testcontainer.
func SetupTestNATS(t *testing.T) (string, func()) {
	t.Helper()
	ctx := context.Background()

	if url := os.Getenv("NATS_URL"); url != "" {
		return url, func() {}
	}

	container, err := nats.Run(ctx, "nats:2.10-alpine")
	if err != nil {
		t.Fatalf("cannot start NATS container: %v", err)
	}

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("cannot get connection string: %v", err)
	}

	cleanup := func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("cannot terminate container: %v", err)
		}
	}

	return url, cleanup
}
