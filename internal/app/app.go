package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiretask-server/internal/auth"
	"github.com/vovakirdan/wiretask-server/internal/config"
	"github.com/vovakirdan/wiretask-server/internal/core"
	"github.com/vovakirdan/wiretask-server/internal/files"
	"github.com/vovakirdan/wiretask-server/internal/metrics"
	"github.com/vovakirdan/wiretask-server/internal/relay"
	"github.com/vovakirdan/wiretask-server/internal/service/tasks"
	"github.com/vovakirdan/wiretask-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiretask-server/internal/transport/http"
)

// App wires together storage, services, the hub and the HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	relay           *relay.Relay
	store           *sqlite.SQLiteStore
	log             *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	if cfg.Seed {
		if err := Seed(ctx, st, logger); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	blobs, err := newBlobs(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWT.Secret),
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})
	taskService := tasks.New(st, blobs, tasks.Limits{
		MaxFileSize:      cfg.Upload.MaxFileSize,
		AllowedMimeTypes: cfg.Upload.AllowedMimeTypes,
	}, logger)

	hubOpts := core.HubOptions{
		Heartbeat: cfg.WS.HeartbeatInterval,
		Logger:    logger,
		Metrics:   m,
	}
	var rl *relay.Relay
	if cfg.Redis.Addr != "" {
		rl, err = relay.New(ctx, relay.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		}, logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init relay: %w", err)
		}
		hubOpts.Relay = rl
		logger.Info().Str("redis", cfg.Redis.Addr).Str("node", rl.Node()).Msg("push relay enabled")
	}

	hub := core.NewHub(hubOpts)
	dispatcher := core.NewDispatcher(hub, taskService, authService, core.DispatcherOptions{
		RateLimit:  cfg.WS.RateLimit,
		RateWindow: cfg.WS.RateWindow,
		Logger:     logger,
		Metrics:    m,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:        hub,
		Dispatcher: dispatcher,
		Auth:       authService,
		Tasks:      taskService,
		Metrics:    m,
		Gatherer:   reg,
		Config:     cfg,
		Logger:     logger,
	})

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		relay:           rl,
		store:           st,
		log:             logger,
	}, nil
}

func newBlobs(cfg *config.Config, logger *zerolog.Logger) (files.Blobs, error) {
	if cfg.S3.Bucket != "" {
		blobs, err := files.NewS3(files.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("init s3 storage: %w", err)
		}
		logger.Info().Str("bucket", cfg.S3.Bucket).Msg("attachments stored in s3")
		return blobs, nil
	}

	blobs, err := files.NewLocal(cfg.Upload.Dir)
	if err != nil {
		return nil, fmt.Errorf("init upload dir: %w", err)
	}
	logger.Info().Str("dir", cfg.Upload.Dir).Msg("attachments stored on disk")
	return blobs, nil
}

// Listen binds the server address. Run calls it when needed; calling it first
// lets callers learn the bound address, e.g. for ":0".
func (a *App) Listen() (net.Addr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		ln, err := net.Listen("tcp", a.server.Addr)
		if err != nil {
			return nil, fmt.Errorf("listen %s: %w", a.server.Addr, err)
		}
		a.listener = ln
	}
	return a.listener.Addr(), nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.Listen(); err != nil {
		a.cleanup()
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	if a.relay != nil {
		go func() {
			if err := a.relay.Run(hubCtx, a.hub); err != nil {
				a.log.Error().Err(err).Msg("push relay stopped")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.listener.Addr().String()).Msg("http server listening")
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		stopHub()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked WebSocket connections are not tracked by Shutdown; stopping
		// the hub closes them.
		stopHub()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
