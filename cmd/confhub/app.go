package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/confhub/internal/cache"
	"github.com/alfredjeanlab/confhub/internal/config"
	"github.com/alfredjeanlab/confhub/internal/configsvc"
	"github.com/alfredjeanlab/confhub/internal/encryption"
	"github.com/alfredjeanlab/confhub/internal/events"
	"github.com/alfredjeanlab/confhub/internal/metrics"
	"github.com/alfredjeanlab/confhub/internal/namespace"
	"github.com/alfredjeanlab/confhub/internal/schema"
	"github.com/alfredjeanlab/confhub/internal/server"
	"github.com/alfredjeanlab/confhub/internal/store"
	"github.com/alfredjeanlab/confhub/internal/store/memory"
	"github.com/alfredjeanlab/confhub/internal/store/postgres"
	confsync "github.com/alfredjeanlab/confhub/internal/sync"
	"github.com/alfredjeanlab/confhub/internal/versions"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// closer is a named shutdown step.
type closer struct {
	name string
	fn   func() error
}

// app is a fully wired server process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	server     *server.Server
	httpServer *http.Server
	grpcServer *grpc.Server
	httpLis    net.Listener
	grpcLis    net.Listener
	scheduler  *confsync.Scheduler
	relay      *events.Relay

	relayCancel context.CancelFunc
	relayDone   chan struct{}
	closers     []closer // run in reverse order
}

func (a *app) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// newApp wires every component described by cfg. On error everything opened
// so far is closed.
func newApp(ctx context.Context, cfg *config.Config, embeddedNATSDir string, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.close()
		}
	}()

	metrics.InitMetrics()

	if embeddedNATSDir != "" {
		url, err := a.startEmbeddedNATS(embeddedNATSDir)
		if err != nil {
			return nil, err
		}
		cfg.NATSURL = url
	}
	if cfg.CacheBackend == config.CacheBackendNATS && cfg.NATSURL == "" {
		return nil, fmt.Errorf("cache backend %q requires CONFHUB_NATS_URL or --embedded-nats", cfg.CacheBackend)
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.onClose("store", st.Close)

	enc, err := encryption.New(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	if !enc.IsAvailable() {
		logger.Warn("encryption disabled (CONFHUB_ENCRYPTION_KEY not set); encrypted items are rejected")
	}

	layer, err := a.openCache(cfg)
	if err != nil {
		return nil, err
	}
	a.onClose("cache", layer.Close)

	hub := events.NewHub()
	notifier := events.NewNotifier(logger)
	if err := a.attachEvents(ctx, cfg, hub, notifier); err != nil {
		return nil, err
	}

	reg := namespace.NewRegistry(st, layer, logger)
	svc := configsvc.New(st, reg, versions.New(st, schema.New(), enc), layer, notifier, logger)
	a.server = server.New(reg, svc, hub, logger)

	a.grpcServer = a.server.NewGRPCServer(cfg.AuthToken)
	a.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.server.NewHTTPHandler(cfg.AuthToken),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if a.grpcLis, err = net.Listen("tcp", cfg.GRPCAddr); err != nil {
		return nil, fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}
	if a.httpLis, err = net.Listen("tcp", cfg.HTTPAddr); err != nil {
		_ = a.grpcLis.Close()
		return nil, fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}

	a.scheduler = a.newScheduler(ctx, cfg, st)
	return a, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.InMemory() {
		return memory.New(), nil
	}
	st, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return st, nil
}

func (a *app) openCache(cfg *config.Config) (*cache.Layer, error) {
	var backend cache.Backend
	switch cfg.CacheBackend {
	case config.CacheBackendNATS:
		// Entries never outlive twice the base TTL even if an expiry is lost.
		b, err := cache.NewNATSBackend(cfg.NATSURL, cfg.CacheBucket, 2*cfg.CacheTTL)
		if err != nil {
			return nil, err
		}
		backend = b
		a.logger.Info("cache backend: NATS KV", "bucket", cfg.CacheBucket)
	default:
		backend = cache.NewMemoryBackend(cfg.CacheCapacity)
		a.logger.Info("cache backend: memory", "capacity", cfg.CacheCapacity)
	}
	return cache.New(backend, cache.Options{
		TTL:            cfg.CacheTTL,
		LockTTL:        cfg.LockTTL,
		LockRetries:    cfg.LockRetries,
		LockRetryDelay: cfg.LockRetryDelay,
	}, a.logger), nil
}

// attachEvents connects the notifier to NATS, relaying every process's
// changes into the local hub, or straight to the hub when NATS is absent.
func (a *app) attachEvents(ctx context.Context, cfg *config.Config, hub *events.Hub, notifier *events.Notifier) error {
	if cfg.NATSURL == "" {
		notifier.Attach(&events.HubPublisher{Hub: hub})
		a.logger.Info("events: in-process only (CONFHUB_NATS_URL not set)")
		return nil
	}

	pub, err := events.NewNATSPublisher(cfg.NATSURL)
	if err != nil {
		return err
	}
	a.onClose("event publisher", pub.Close)

	sub, err := events.NewNATSSubscriber(cfg.NATSURL)
	if err != nil {
		return err
	}
	a.onClose("event subscriber", sub.Close)

	a.relay = events.NewRelay(sub, hub, a.logger)
	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.relayCancel = cancel
	a.relayDone = make(chan struct{})
	go func() {
		defer close(a.relayDone)
		if err := a.relay.Run(relayCtx); err != nil {
			a.logger.Error("event relay stopped", "error", err)
		}
	}()

	notifier.Attach(pub)
	a.logger.Info("events: NATS", "nats_url", cfg.NATSURL)
	return nil
}

func (a *app) newScheduler(ctx context.Context, cfg *config.Config, st store.Store) *confsync.Scheduler {
	if cfg.SyncInterval <= 0 || cfg.SyncS3Bucket == "" {
		return nil
	}
	dest, err := confsync.NewS3Destination(ctx, cfg.SyncS3Bucket, cfg.SyncS3Key, cfg.SyncS3Region, cfg.SyncS3Endpoint)
	if err != nil {
		a.logger.Error("failed to create S3 sync destination", "error", err)
		return nil
	}
	a.logger.Info("sync S3 destination enabled", "bucket", cfg.SyncS3Bucket, "key", cfg.SyncS3Key)
	return confsync.NewScheduler(st, []confsync.Destination{dest}, cfg.SyncInterval, a.logger)
}

func (a *app) startEmbeddedNATS(dir string) (string, error) {
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host:      "127.0.0.1",
		Port:      natsserver.RANDOM_PORT,
		JetStream: true,
		StoreDir:  filepath.Clean(dir),
		NoSigs:    true,
	})
	if err != nil {
		return "", fmt.Errorf("embedded NATS: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return "", errors.New("embedded NATS: not ready after 10s")
	}
	a.onClose("embedded NATS", func() error {
		ns.Shutdown()
		ns.WaitForShutdown()
		return nil
	})
	a.logger.Info("embedded NATS started", "url", ns.ClientURL(), "store_dir", dir)
	return ns.ClientURL(), nil
}

// start begins serving. Serve errors are logged.
func (a *app) start() {
	go func() {
		a.logger.Info("gRPC server listening", "addr", a.grpcLis.Addr().String())
		if err := a.grpcServer.Serve(a.grpcLis); err != nil {
			a.logger.Error("gRPC server error", "error", err)
		}
	}()
	go func() {
		a.logger.Info("HTTP server listening", "addr", a.httpLis.Addr().String())
		if err := a.httpServer.Serve(a.httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server error", "error", err)
		}
	}()
	if a.scheduler != nil {
		a.scheduler.Start()
		a.logger.Info("sync scheduler started", "interval", a.cfg.SyncInterval)
	}
	a.server.Health().SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
}

// shutdown stops serving and releases every resource, returning all close
// errors together.
func (a *app) shutdown() error {
	if a.server != nil {
		a.server.Health().Shutdown()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
		a.logger.Info("sync scheduler stopped")
	}

	var errs *multierror.Error
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
		a.logger.Info("gRPC server stopped")
	}
	if a.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.httpServer.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("HTTP server: %w", err))
		}
		a.logger.Info("HTTP server stopped")
	}
	if err := a.close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

// close stops the relay and runs the registered closers newest first.
func (a *app) close() error {
	if a.relayCancel != nil {
		a.relayCancel()
		<-a.relayDone
		a.relayCancel = nil
	}
	var errs *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errs.ErrorOrNil()
}
