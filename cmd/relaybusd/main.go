package main

import (
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aquamarinepk/relaybus/app"
	"github.com/aquamarinepk/relaybus/audit"
	"github.com/aquamarinepk/relaybus/backend"
	"github.com/aquamarinepk/relaybus/bus"
	"github.com/aquamarinepk/relaybus/compress"
	"github.com/aquamarinepk/relaybus/config"
	"github.com/aquamarinepk/relaybus/crypto"
	database "github.com/aquamarinepk/relaybus/db"
	"github.com/aquamarinepk/relaybus/log"
	"github.com/aquamarinepk/relaybus/preflight"
	"github.com/aquamarinepk/relaybus/queue"
	"github.com/aquamarinepk/relaybus/telemetry"
	"github.com/aquamarinepk/relaybus/transport"
	transportnats "github.com/aquamarinepk/relaybus/transport/nats"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	name    = "relaybusd"
	version = "0.1.0"
)

func main() {
	logger := log.NewLogger("info")

	cfg, err := config.New(logger,
		config.WithPrefix("RELAYBUS_"),
		config.WithFile("config.yaml"),
	)
	if err != nil {
		logger.Errorf("Cannot load config: %v", err)
		os.Exit(1)
	}
	if cfg, err = config.LoadFlags(cfg, os.Args); err != nil {
		logger.Errorf("Cannot load flags: %v", err)
		os.Exit(1)
	}
	logger = log.NewLogger(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Bus.Mode != "local_only" {
		if err := runPreflight(ctx, logger, cfg); err != nil {
			logger.Errorf("Preflight checks failed: %v", err)
			os.Exit(1)
		}
	}

	busTransport, err := buildTransport(cfg)
	if err != nil {
		logger.Errorf("Cannot build transport: %v", err)
		os.Exit(1)
	}

	var auditSink audit.Sink = audit.NoopSink{}
	if cfg.Audit.Enabled {
		sink, err := setupAudit(ctx, cfg, logger)
		if err != nil {
			logger.Errorf("Cannot set up audit sink: %v", err)
			os.Exit(1)
		}
		defer sink.Close()
		auditSink = sink
	}

	busCfg, err := toBusConfig(cfg, busTransport, auditSink)
	if err != nil {
		logger.Errorf("Invalid bus configuration: %v", err)
		os.Exit(1)
	}

	be := backend.NewStandalone(cfg.Bus.WorkerThreads)
	msgBus := bus.New(busCfg, be)

	if busTransport != nil {
		busTransport.OnMessage(msgBus.HandleRemote)
	}

	router := app.NewRouter(logger)
	app.ApplyRouterOptions(router,
		app.WithDefaultInternalMiddlewares(),
		app.WithTelemetry(telemetry.NoopMetrics{}),
		app.WithPing(),
		app.WithDebugRoutes(),
		app.WithHealthChecks(name, version),
		app.WithStats(func() any { return msgBus.GetStatistics() }),
	)

	starts, stops, registrars := app.Setup(ctx, router, msgBus)

	if err := app.Start(ctx, logger, starts, stops, registrars, router); err != nil {
		logger.Errorf("Cannot start %s(%s): %v", name, version, err)
		os.Exit(1)
	}

	logger.Infof("%s(%s) started successfully", name, version)

	srv := &http.Server{Addr: cfg.Server.Port, Handler: router}
	go func() {
		logger.Infof("Control-plane server listening on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stop

	logger.Infof("Shutting down %s(%s)...", name, version)
	cancel()
	app.Shutdown(srv, logger, stops)

	fmt.Println("Goodbye!")
}

func runPreflight(ctx context.Context, logger log.Logger, cfg *config.Config) error {
	checker := preflight.New(logger)
	switch cfg.Transport.Kind {
	case "tcp":
		if cfg.Transport.ConnectAddr != "" {
			checker.Add(preflight.TCPCheck("transport-peer", cfg.Transport.ConnectAddr))
		}
	case "nats":
		if host := natsHostPort(cfg.NATS.URL); host != "" {
			checker.Add(preflight.TCPCheck("nats", host))
		}
	}
	return checker.RunAll(ctx)
}

func natsHostPort(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Host
}

func buildTransport(cfg *config.Config) (transport.Transport, error) {
	if cfg.Bus.Mode == "local_only" {
		return nil, nil
	}

	pipeline, err := buildPipeline(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport.Kind {
	case "tcp":
		t := transport.NewTCP(pipeline, cfg.Transport.MaxFrameBytes, cfg.Transport.Compress, cfg.Transport.Encrypt)
		if cfg.Transport.ConnectAddr != "" {
			if err := t.Connect(context.Background(), cfg.Transport.ConnectAddr); err != nil {
				return nil, fmt.Errorf("cannot connect transport: %w", err)
			}
		}
		return t, nil
	case "nats":
		natsCfg := transportnats.Config{
			Subject:        "relaybus.bridge",
			MaxReconnect:   cfg.NATS.MaxReconnect,
			ReconnectWait:  time.Duration(cfg.NATS.ReconnectWaitS) * time.Second,
			ConnectTimeout: time.Duration(cfg.NATS.ConnectTimeoutS) * time.Second,
		}
		t := transportnats.New(natsCfg, pipeline)
		if err := t.Connect(context.Background(), cfg.NATS.URL); err != nil {
			return nil, fmt.Errorf("cannot connect transport: %w", err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport.kind %q", cfg.Transport.Kind)
	}
}

func buildPipeline(cfg *config.Config) (transport.Pipeline, error) {
	pipeline := transport.DefaultPipeline()

	if cfg.Transport.Compress {
		c, err := compress.ZstdCompress(0)
		if err != nil {
			return pipeline, err
		}
		d, err := compress.ZstdDecompress()
		if err != nil {
			return pipeline, err
		}
		pipeline.Compress = func(b []byte) ([]byte, error) { return c(b) }
		pipeline.Decompress = func(b []byte) ([]byte, error) { return d(b) }
	}

	if cfg.Transport.Encrypt {
		key, err := hex.DecodeString(cfg.Transport.CipherKeyHex)
		if err != nil {
			return pipeline, fmt.Errorf("invalid transport.cipher_key_hex: %w", err)
		}
		enc, err := crypto.AESGCMEncrypt(key)
		if err != nil {
			return pipeline, err
		}
		dec, err := crypto.AESGCMDecrypt(key)
		if err != nil {
			return pipeline, err
		}
		pipeline.Encrypt = func(b []byte) ([]byte, error) { return enc(b) }
		pipeline.Decrypt = func(b []byte) ([]byte, error) { return dec(b) }
	}

	return pipeline, nil
}

// setupAudit prepares the audit_log schema via db.Database's pgx-backed
// lifecycle (ensureSchema + migrate.Migrator), then hands back a
// PostgresSink on its own lib/pq connection — a sink commonly outlives
// the process that ran its migrations, so it does not borrow the pgx pool.
func setupAudit(ctx context.Context, cfg *config.Config, logger log.Logger) (*audit.PostgresSink, error) {
	dbase := database.New(migrationsFS, cfg.Database.Driver, cfg, logger)
	dbase.SetMigrationPath("migrations")
	if err := dbase.Start(ctx); err != nil {
		return nil, fmt.Errorf("cannot prepare audit schema: %w", err)
	}
	defer dbase.Stop(ctx)

	sink, err := audit.NewPostgresSink(cfg.Database.ConnectionString())
	if err != nil {
		return nil, err
	}

	return sink, nil
}

func toBusConfig(cfg *config.Config, t transport.Transport, sink audit.Sink) (bus.Config, error) {
	policy, err := toOverflowPolicy(cfg.Bus.OverflowPolicy)
	if err != nil {
		return bus.Config{}, err
	}
	mode, err := toMode(cfg.Bus.Mode)
	if err != nil {
		return bus.Config{}, err
	}
	shutdownTimeout, err := time.ParseDuration(cfg.Bus.ShutdownTimeout)
	if err != nil {
		return bus.Config{}, fmt.Errorf("invalid bus.shutdown_timeout: %w", err)
	}

	return bus.Config{
		QueueCapacity:       cfg.Bus.QueueCapacity,
		WorkerThreads:       cfg.Bus.WorkerThreads,
		EnablePriorityQueue: cfg.Bus.EnablePriorityQueue,
		OverflowPolicy:      policy,
		Mode:                mode,
		Transport:           t,
		ShutdownTimeout:     shutdownTimeout,
		AuditSink:           sink,
	}, nil
}

func toOverflowPolicy(s string) (queue.OverflowPolicy, error) {
	switch s {
	case "drop_newest":
		return queue.DropNewest, nil
	case "drop_oldest":
		return queue.DropOldest, nil
	case "block":
		return queue.Block, nil
	default:
		return 0, fmt.Errorf("unknown overflow_policy %q", s)
	}
}

func toMode(s string) (bus.Mode, error) {
	switch s {
	case "local_only":
		return bus.LocalOnly, nil
	case "remote_only":
		return bus.RemoteOnly, nil
	case "hybrid":
		return bus.Hybrid, nil
	default:
		return 0, fmt.Errorf("unknown bus.mode %q", s)
	}
}
