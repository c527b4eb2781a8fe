/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/relaydesk/internal/api"
	"github.com/friendsincode/relaydesk/internal/cache"
	"github.com/friendsincode/relaydesk/internal/config"
	"github.com/friendsincode/relaydesk/internal/db"
	"github.com/friendsincode/relaydesk/internal/eventbus"
	"github.com/friendsincode/relaydesk/internal/events"
	"github.com/friendsincode/relaydesk/internal/logbuffer"
	"github.com/friendsincode/relaydesk/internal/portpool"
	"github.com/friendsincode/relaydesk/internal/quota"
	"github.com/friendsincode/relaydesk/internal/retention"
	"github.com/friendsincode/relaydesk/internal/session"
	"github.com/friendsincode/relaydesk/internal/sessioncode"
	"github.com/friendsincode/relaydesk/internal/signaling"
	"github.com/friendsincode/relaydesk/internal/storage"
	"github.com/friendsincode/relaydesk/internal/telemetry"
)

// retentionInterval is how often the archiver runs when retention is on.
const retentionInterval = time.Hour

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db         *gorm.DB
	store      session.Store
	pool       *portpool.Pool
	quotas     quota.Source
	quotaCache *quota.Cached
	sessions   *session.Manager
	signaling  *signaling.Handler
	bus        *events.Bus
	api        *api.API
	archiver   *retention.Archiver
	logBuffer  *logbuffer.Buffer
	nats       *nats.Conn

	// connCtx parents every request context. It is cancelled when the
	// HTTP server shuts down so hijacked signaling connections end.
	connCtx    context.Context
	connCancel context.CancelFunc

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("relaydesk-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Signaling channels are long-lived; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	connCtx, connCancel := context.WithCancel(context.Background())
	srv := &Server{
		cfg:        cfg,
		logger:     logger,
		router:     router,
		bus:        events.NewBus(),
		logBuffer:  logBuf,
		connCtx:    connCtx,
		connCancel: connCancel,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for signaling channels; the middleware
		// timeout covers plain requests.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return srv.connCtx },
	}
	srv.httpServer.RegisterOnShutdown(srv.connCancel)

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	s.db = database

	if s.cfg.DBBackend == config.DatabaseMemory {
		s.store = session.NewMemoryStore()
		s.logger.Warn().Msg("memory database backend: sessions are lost on restart")
	} else {
		s.store = session.NewGormStore(database)
	}

	s.pool, err = portpool.New(s.cfg.UDPPortStart, s.cfg.UDPPortEnd, portpool.WithStrategy(portpool.Strategy(s.cfg.PortStrategy)))
	if err != nil {
		return fmt.Errorf("create port pool: %w", err)
	}

	if err := s.initQuotas(); err != nil {
		return err
	}

	s.sessions = session.NewManager(s.store, s.pool, s.quotas, s.bus, s.logger,
		session.WithCodeGenerator(sessioncode.New(s.cfg.SessionCodeLength)),
		session.WithCodeMaxAttempts(s.cfg.CodeMaxAttempts),
	)

	// The pool starts empty; live sessions from a previous run keep their ports.
	reconcileCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.sessions.ReconcilePorts(reconcileCtx); err != nil {
		return fmt.Errorf("reconcile ports: %w", err)
	}

	s.signaling = signaling.NewHandler(s.sessions, s.logger,
		signaling.WithFrameLimit(s.cfg.SignalingFrameRate, s.cfg.SignalingFrameBurst),
	)

	s.api = api.New(database, []byte(s.cfg.JWTSigningKey), s.sessions, s.signaling, s.bus, s.logBuffer, s.logger)

	if retentionWindow := s.cfg.Retention(); retentionWindow > 0 {
		archiveStore, ok := s.store.(retention.Store)
		if !ok {
			return errors.New("session store does not support retention")
		}
		objects, err := NewArchiveTarget(context.Background(), s.cfg)
		if err != nil {
			return err
		}
		s.archiver = retention.NewArchiver(archiveStore, objects, retentionWindow, s.logger)
		s.logger.Info().Int("days", s.cfg.RetentionDays).Msg("session retention enabled")
	}

	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		nc, err := eventbus.Connect(natsCfg, s.logger)
		if err != nil {
			return err
		}
		s.nats = nc
		s.DeferClose(func() error { return nc.Drain() })
		s.logger.Info().Str("url", s.cfg.NATSURL).Msg("forwarding session events to NATS")
	}

	return nil
}

// initQuotas builds the resolution chain: technician row, then the
// overrides file, then the configured default. Redis fronts the chain
// when configured.
func (s *Server) initQuotas() error {
	sources := []quota.Source{quota.NewTechnicianSource(s.db)}
	if s.cfg.QuotaFile != "" {
		static, err := quota.LoadFile(s.cfg.QuotaFile)
		if err != nil {
			return fmt.Errorf("load quota file: %w", err)
		}
		sources = append(sources, static)
		s.logger.Info().Str("path", s.cfg.QuotaFile).Int("technicians", len(static.Technicians)).Msg("quota overrides loaded")
	}
	chain := quota.NewChain(s.cfg.DefaultSessionQuota, sources...)

	if s.cfg.RedisAddr == "" {
		s.quotas = chain
		return nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	quotaCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		s.quotas = chain
		return nil
	}
	s.DeferClose(quotaCache.Close)

	s.quotaCache = quota.NewCached(chain, quotaCache, s.logger)
	s.quotas = s.quotaCache
	return nil
}

// NewArchiveTarget returns the object store archived sessions are written
// to: S3 when a bucket is configured, the archive directory otherwise.
func NewArchiveTarget(ctx context.Context, cfg *config.Config) (storage.ObjectStore, error) {
	if cfg.S3Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			Prefix:          cfg.S3Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 archive: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewFSStore(cfg.ArchiveDir)
	if err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	return store, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the prometheus listener, nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// LogBuffer returns the in-memory log buffer, nil when not configured.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Router returns the HTTP handler tree.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.connCancel()
	if s.signaling != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.signaling.Wait(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("signaling teardown did not finish")
		}
		cancel()
	}
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Database metrics updater
	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	if s.archiver != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.archiver.Run(ctx, retentionInterval)
		}()
	}

	if s.nats != nil {
		forwarder := eventbus.NewNATSForwarder(s.nats, s.bus, eventbus.DefaultNATSConfig().SubjectPrefix, s.logger)
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			forwarder.Run(ctx)
		}()
	}

	if s.quotaCache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener drops cached quotas when a technician changes.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	updated := s.bus.Subscribe(events.EventTechnicianUpdated)
	defer s.bus.Unsubscribe(events.EventTechnicianUpdated, updated)

	s.logger.Info().Msg("cache invalidation listener started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-updated:
			if technicianID, ok := payload["technician_id"].(string); ok && technicianID != "" {
				s.logger.Debug().Str("technician_id", technicianID).Msg("invalidating quota cache (technician updated)")
				s.quotaCache.Invalidate(ctx, technicianID)
			}
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","ports_in_use":%d,"ports_total":%d}`, s.pool.InUse(), s.pool.Size())
	})

	s.api.Routes(s.router)
}
