// Package control wires the request layer, offline queue and network monitor
// into one application and manages their lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vietddude/resilient/internal/api"
	"github.com/vietddude/resilient/internal/core/config"
	"github.com/vietddude/resilient/internal/health"
	"github.com/vietddude/resilient/internal/infra/kv"
	"github.com/vietddude/resilient/internal/infra/request"
	"github.com/vietddude/resilient/internal/infra/request/retry"
	"github.com/vietddude/resilient/internal/infra/request/transport"
	"github.com/vietddude/resilient/internal/network"
	"github.com/vietddude/resilient/internal/notify"
	"github.com/vietddude/resilient/internal/offline"
)

// App is the main application struct that owns every component.
type App struct {
	cfg *config.AppConfig

	Store      kv.Store
	Transport  *transport.HTTPTransport
	Dispatcher *request.Dispatcher
	Monitor    *network.Monitor
	Queue      *offline.Queue
	Client     *api.Client

	prober       network.Prober
	healthServer *health.Server
	notifier     notify.Notifier

	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *slog.Logger
}

// Option configures an App.
type Option func(*options)

type options struct {
	notifier     notify.Notifier
	store        kv.Store
	noHealthHTTP bool
}

// WithNotifier overrides the log notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithStore uses store instead of opening the configured driver.
func WithStore(store kv.Store) Option {
	return func(o *options) { o.store = store }
}

// WithoutHealthServer skips the health/metrics HTTP server.
func WithoutHealthServer() Option {
	return func(o *options) { o.noHealthHTTP = true }
}

// New creates an App with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := slog.Default().With("component", "app")
	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(nil)
	}

	// 1. Persistent store
	store := o.store
	if store == nil {
		var err error
		store, err = kv.Open(ctx, kv.Config{
			Driver:        cfg.Storage.Driver,
			Dir:           cfg.Storage.Dir,
			RedisURL:      cfg.Redis.URL,
			RedisPassword: cfg.Redis.Password,
			RedisPrefix:   cfg.Redis.Prefix,
			DatabaseURL:   cfg.Database.URL,
			MaxConns:      cfg.Database.MaxConns,
			MinConns:      cfg.Database.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Driver, err)
		}
		log.Info("Using persistent store", "driver", cfg.Storage.Driver)
	}

	// 2. Request layer
	tr := transport.NewHTTPTransport(cfg.API.BaseURL, cfg.API.Timeout)
	dispatcher := request.NewDispatcher(tr,
		request.WithNotifier(notifier),
		request.WithRetryPolicy(retry.Policy{
			Enabled:     cfg.Retry.IsEnabled(),
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		}),
		request.WithCacheTTL(cfg.Cache.TTL),
		request.WithDefaultHeaders(cfg.API.Headers),
		request.WithHeaderFunc(api.TokenHeader(store)),
	)

	// 3. Network monitor
	prober, err := newProber(cfg.Network)
	if err != nil {
		_ = kv.Close(store)
		return nil, err
	}
	monitorOpts := []network.Option{
		network.WithInterval(cfg.Network.ProbeInterval),
		network.WithInitialState(!cfg.Network.StartOffline),
	}
	if prober != nil {
		monitorOpts = append(monitorOpts, network.WithProber(prober))
	}
	monitor := network.NewMonitor(monitorOpts...)

	// 4. Offline queue
	queue, err := offline.NewQueue(ctx, store, dispatcher, monitor, offline.WithNotifier(notifier))
	if err != nil {
		closeProber(prober)
		_ = kv.Close(store)
		return nil, err
	}

	app := &App{
		cfg:        cfg,
		Store:      store,
		Transport:  tr,
		Dispatcher: dispatcher,
		Monitor:    monitor,
		Queue:      queue,
		Client:     api.NewClient(dispatcher, queue, monitor, notifier),
		prober:     prober,
		notifier:   notifier,
		log:        log,
	}

	// 5. Health server
	if !o.noHealthHTTP {
		app.healthServer = health.NewServer(
			health.NewMonitor(monitor, queue, dispatcher, tr.Health),
			cfg.Server.Port,
		)
	}

	return app, nil
}

func newProber(cfg config.NetworkConfig) (network.Prober, error) {
	switch {
	case cfg.HealthURL != "":
		return network.NewHTTPProber(cfg.HealthURL, cfg.ProbeTimeout), nil
	case cfg.GRPCTarget != "":
		p, err := network.NewGRPCProber(cfg.GRPCTarget, cfg.GRPCService, cfg.ProbeTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create grpc prober: %w", err)
		}
		return p, nil
	}
	return nil, nil
}

func closeProber(p network.Prober) {
	if c, ok := p.(io.Closer); ok {
		_ = c.Close()
	}
}

// Start starts background components: health server, network probing and
// queue auto-sync. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if a.healthServer != nil {
		a.log.Info("Starting health server", "port", a.cfg.Server.Port)
		a.goRun(func() {
			if err := a.healthServer.Start(); err != nil {
				a.log.Error("Health server failed", "error", err)
			}
		})
	}

	a.goRun(func() { a.Monitor.Run(ctx) })

	if a.cfg.Offline.AutoSync() {
		a.goRun(func() { a.Queue.WatchNetwork(ctx, a.Monitor) })

		// Replay whatever survived the last run.
		if a.Queue.Len() > 0 {
			a.goRun(func() {
				_, err := a.Queue.Sync(ctx)
				if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, offline.ErrClosed) {
					a.log.Error("Initial offline sync failed", "error", err)
				}
			})
		}
	}

	return nil
}

func (a *App) goRun(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Stop cancels in-flight requests, stops background components and releases
// connections.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping app...")

	a.Dispatcher.CancelAll()
	if a.cancel != nil {
		a.cancel()
	}
	a.Queue.Close()

	var errs []error
	if a.healthServer != nil {
		if err := a.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop health server: %w", err))
		}
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for background tasks: %w", ctx.Err()))
	}

	closeProber(a.prober)
	if err := a.Transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close transport: %w", err))
	}
	if err := kv.Close(a.Store); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}
