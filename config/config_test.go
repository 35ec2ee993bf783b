package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aquamarinepk/relaybus/log"
)

func TestNewWithDefaults(t *testing.T) {
	logger := log.NewLogger("info")
	cfg, err := New(logger)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"log level", cfg.Log.Level, "info"},
		{"server port", cfg.Server.Port, ":8080"},
		{"bus queue capacity", cfg.Bus.QueueCapacity, 1024},
		{"bus worker threads", cfg.Bus.WorkerThreads, 0},
		{"bus overflow policy", cfg.Bus.OverflowPolicy, "drop_newest"},
		{"bus mode", cfg.Bus.Mode, "local_only"},
		{"bus shutdown timeout", cfg.Bus.ShutdownTimeout, "5s"},
		{"transport kind", cfg.Transport.Kind, "tcp"},
		{"transport max frame bytes", cfg.Transport.MaxFrameBytes, 64 * 1024 * 1024},
		{"nats url", cfg.NATS.URL, "nats://localhost:4222"},
		{"nats maxreconnect", cfg.NATS.MaxReconnect, 10},
		{"database driver", cfg.Database.Driver, "postgres"},
		{"audit enabled", cfg.Audit.Enabled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestNewWithCustomDefaults(t *testing.T) {
	logger := log.NewLogger("info")

	customDefaults := map[string]interface{}{
		"server.port": ":3000",
		"bus.mode":    "hybrid",
	}

	cfg, err := New(logger, WithDefaults(customDefaults))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"custom server port", cfg.Server.Port, ":3000"},
		{"baseline log level", cfg.Log.Level, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if cfg.Bus.Mode != "hybrid" {
		t.Fatalf("expected bus.mode=hybrid, got %q", cfg.Bus.Mode)
	}
	if cfg.Transport.Kind != "tcp" {
		t.Errorf("expected transport.kind to fall back to default tcp, got %q", cfg.Transport.Kind)
	}
}

func TestNewWithFile(t *testing.T) {
	logger := log.NewLogger("info")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("bus:\n  mode: hybrid\ntransport:\n  kind: nats\n  connect_addr: nats://peer:4222\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := New(logger, WithFile(path))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if cfg.Bus.Mode != "hybrid" {
		t.Errorf("bus.mode = %q, want hybrid", cfg.Bus.Mode)
	}
	if cfg.Transport.Kind != "nats" {
		t.Errorf("transport.kind = %q, want nats", cfg.Transport.Kind)
	}
	if cfg.Transport.ConnectAddr != "nats://peer:4222" {
		t.Errorf("transport.connect_addr = %q, want nats://peer:4222", cfg.Transport.ConnectAddr)
	}
}

func TestNewWithMissingFile(t *testing.T) {
	logger := log.NewLogger("info")

	cfg, err := New(logger, WithFile("/does/not/exist.yaml"))
	if err != nil {
		t.Fatalf("New() should fall back to defaults on missing file, got err: %v", err)
	}
	if cfg.Bus.Mode != "local_only" {
		t.Errorf("expected default bus.mode, got %q", cfg.Bus.Mode)
	}
}

func TestNewWithEnv(t *testing.T) {
	logger := log.NewLogger("info")

	t.Setenv("RELAYBUS_BUS_MODE", "remote_only")
	t.Setenv("RELAYBUS_TRANSPORT_KIND", "nats")

	cfg, err := New(logger, WithPrefix("RELAYBUS_"))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if cfg.Bus.Mode != "remote_only" {
		t.Errorf("bus.mode = %q, want remote_only", cfg.Bus.Mode)
	}
	if cfg.Transport.Kind != "nats" {
		t.Errorf("transport.kind = %q, want nats", cfg.Transport.Kind)
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	logger := log.NewLogger("error")

	_, err := New(logger, WithDefaults(map[string]interface{}{"bus.mode": "bogus"}))
	if err == nil {
		t.Fatal("expected validation error for bad bus.mode")
	}
}

func TestValidateRejectsBadOverflowPolicy(t *testing.T) {
	logger := log.NewLogger("error")

	_, err := New(logger, WithDefaults(map[string]interface{}{"bus.overflow_policy": "bogus"}))
	if err == nil {
		t.Fatal("expected validation error for bad bus.overflow_policy")
	}
}

func TestValidateRequiresTransportKindUnlessLocalOnly(t *testing.T) {
	logger := log.NewLogger("error")

	_, err := New(logger, WithDefaults(map[string]interface{}{
		"bus.mode":       "hybrid",
		"transport.kind": "bogus",
	}))
	if err == nil {
		t.Fatal("expected validation error for bad transport.kind in hybrid mode")
	}
}

func TestValidateRequiresDatabaseHostWhenAuditEnabled(t *testing.T) {
	logger := log.NewLogger("error")

	_, err := New(logger, WithDefaults(map[string]interface{}{
		"audit.enabled": true,
		"database.host": "",
	}))
	if err == nil {
		t.Fatal("expected validation error when audit enabled without database host")
	}
}

func TestConnectionString(t *testing.T) {
	d := DatabaseConfig{
		Host:     "db.internal",
		Port:     5432,
		User:     "relaybus",
		Password: "secret",
		Database: "relaybus",
		Schema:   "relaybus",
		SSLMode:  "disable",
	}

	got := d.ConnectionString()
	want := "host=db.internal port=5432 user=relaybus password=secret dbname=relaybus sslmode=disable search_path=relaybus"
	if got != want {
		t.Errorf("ConnectionString() = %q, want %q", got, want)
	}
}
