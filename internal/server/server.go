/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/analytics"
	"github.com/friendsincode/heimdall_signage/internal/analyzer"
	"github.com/friendsincode/heimdall_signage/internal/api"
	"github.com/friendsincode/heimdall_signage/internal/audit"
	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/db"
	"github.com/friendsincode/heimdall_signage/internal/engine"
	"github.com/friendsincode/heimdall_signage/internal/eventbus"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/integrity"
	"github.com/friendsincode/heimdall_signage/internal/leadership"
	"github.com/friendsincode/heimdall_signage/internal/livestream"
	"github.com/friendsincode/heimdall_signage/internal/logbuffer"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/scheduler"
	schedulerstate "github.com/friendsincode/heimdall_signage/internal/scheduler/state"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
	"github.com/friendsincode/heimdall_signage/internal/web"
	"github.com/friendsincode/heimdall_signage/internal/webhooks"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	closers    []func() error

	db                   *gorm.DB
	cache                *cache.Cache
	logBuffer            *logbuffer.Buffer
	bus                  events.PubSub
	api                  *api.API
	webHandler           *web.Handler
	players              *player.Manager
	streams              *livestream.Service
	scheduler            *scheduler.Service
	leaderAwareScheduler *scheduler.LeaderAware
	analyzer             *analyzer.Service
	auditSvc             *audit.Service
	webhooks             *webhooks.Service
	migrationSvc         *migration.Service
	proofOfPlay          *analytics.ProofOfPlayService
	uptimeSampler        *analytics.UptimeSampler

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("heimdall-signage-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for connections that legitimately outlive it.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Player event sockets stay open for the life of the screen.
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			// Large media and import uploads can exceed the middleware timeout.
			if r.URL.Path == "/dashboard/media/upload" || r.URL.Path == "/dashboard/imports/upload" {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}
	srv.bus = srv.selectBus()

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Keep header deadline to protect against slowloris, but do not enforce a full-body
		// read deadline so large uploads are not terminated mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		// WriteTimeout set to 0 for the player event sockets - handlers manage their own deadlines.
		// The middleware timeout (60s) covers ordinary routes.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		frameAncestors := "'none'"
		xFrameOptions := "DENY"
		if isPlayerShellPath(r.URL.Path) {
			// The dashboard screen preview embeds the player shell in a
			// same-origin iframe.
			frameAncestors = "'self'"
			xFrameOptions = "SAMEORIGIN"
		}
		w.Header().Set("X-Frame-Options", xFrameOptions)
		w.Header().Set("Content-Security-Policy", "default-src 'self' 'unsafe-inline' 'unsafe-eval' data: blob: https: http:; frame-ancestors "+frameAncestors+"; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func isPlayerShellPath(path string) bool {
	return path == "/player" || strings.HasPrefix(path, "/player/")
}

// selectBus picks the event transport: NATS when configured, Redis
// pub/sub as the lighter cluster option, in-process otherwise. Bridge
// failures fall back to the in-process bus so a broker outage at boot
// never blocks playback.
func (s *Server) selectBus() events.PubSub {
	if s.cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		bus, err := eventbus.NewNATSBus(natsCfg, s.cfg.InstanceID, s.logger)
		if err == nil {
			s.DeferClose(bus.Close)
			return bus
		}
		s.logger.Warn().Err(err).Msg("NATS event bus unavailable, falling back to in-process bus")
	}

	if s.cfg.RedisEventBus {
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		bus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err == nil {
			s.DeferClose(bus.Close)
			return bus
		}
		s.logger.Warn().Err(err).Msg("Redis event bus unavailable, falling back to in-process bus")
	}

	return events.NewBus()
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Ensure media directory exists
	if err := os.MkdirAll(s.cfg.MediaRoot, 0755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	// Redis cache for hot playback lookups; self-disables when Redis is absent
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
		entityCache = cache.NewDisabled(s.logger)
	}
	s.cache = entityCache
	s.DeferClose(func() error { return s.cache.Close() })

	mediaSvc, err := media.NewService(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize media service: %w", err)
	}

	// Stream health monitoring for livestream content
	s.streams = livestream.NewService(
		livestream.NewHTTPProbe(s.cfg.StreamProbeTimeout),
		livestream.Config{
			FastRetries:  s.cfg.StreamFastRetries,
			PollInterval: s.cfg.StreamPollInterval,
			ProbeTimeout: s.cfg.StreamProbeTimeout,
		},
		clockwork.NewRealClock(),
		s.logger,
	)
	s.DeferClose(func() error { return s.streams.Shutdown() })

	// Playback engines, one per loaded screen
	s.players = player.NewManager(database, s.cache, s.bus, s.streams, mediaSvc, engine.Options{
		TickInterval:     s.cfg.EngineTickInterval,
		ImageDuration:    s.cfg.ImageDuration,
		WebDuration:      s.cfg.WebDuration,
		VideoPlaceholder: s.cfg.VideoPlaceholder,
	}, s.logger)
	s.DeferClose(func() error { s.players.Shutdown(); return nil })

	s.scheduler = scheduler.New(database, s.players, s.bus, schedulerstate.NewStore(), clockwork.NewRealClock(), s.cfg.ScheduleLookahead, s.logger)
	s.scheduler.SetTickInterval(s.cfg.ScheduleTickInterval)

	// Leader election: in multi-node deployments only the lease holder
	// evaluates schedules, so screens never receive duelling commands.
	if s.cfg.LeaderElectionEnabled {
		electionCfg := leadership.DefaultConfig()
		electionCfg.RedisAddr = s.cfg.RedisAddr
		electionCfg.RedisPassword = s.cfg.RedisPassword
		electionCfg.RedisDB = s.cfg.RedisDB
		electionCfg.InstanceID = s.cfg.InstanceID

		election, err := leadership.NewElection(electionCfg, s.logger)
		if err != nil {
			return fmt.Errorf("create leader election: %w", err)
		}

		s.leaderAwareScheduler = scheduler.NewLeaderAware(s.scheduler, election, s.logger)
		s.DeferClose(func() error { return s.leaderAwareScheduler.Stop() })

		s.logger.Info().
			Str("redis_addr", s.cfg.RedisAddr).
			Str("instance_id", electionCfg.InstanceID).
			Msg("leader election enabled for scheduler")
	}

	// Probe worker feeds detected durations straight into live sessions
	s.analyzer = analyzer.New(database, mediaSvc, s.cache, s.bus, s.players, "", s.logger)

	// Audit service for security logging
	s.auditSvc = audit.NewService(database, s.bus, s.logger)

	// Fleet alert delivery to operator webhooks
	s.webhooks = webhooks.NewService(database, s.bus, s.logger)

	// Catalog consistency scans and repairs
	integritySvc := integrity.NewService(database, mediaSvc, s.logger)

	// Legacy CMS importers
	s.migrationSvc = migration.NewService(database, s.bus, s.logger)
	orphans := media.NewOrphanScanner(database, s.cfg.MediaRoot, s.logger)
	s.migrationSvc.RegisterImporter(migration.SourceTypeXibo, migration.NewXiboImporter(database, mediaSvc, orphans, s.logger))
	s.migrationSvc.RegisterImporter(migration.SourceTypeScreenly, migration.NewScreenlyImporter(database, mediaSvc, s.logger))
	if err := s.migrationSvc.RecoverStaleJobs(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("stale import job recovery failed")
	}

	// Proof-of-play reporting and screen uptime sampling
	s.proofOfPlay = analytics.NewProofOfPlayService(database, s.logger)
	if s.cfg.PlayLogRetentionDays > 0 {
		s.proofOfPlay.SetLogRetention(time.Duration(s.cfg.PlayLogRetentionDays) * 24 * time.Hour)
	}
	s.uptimeSampler = analytics.NewUptimeSampler(database, s.players, s.logger)

	scheduleExport := scheduler.NewExportService(database, s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.scheduler, scheduleExport, s.analyzer, mediaSvc, s.players, s.auditSvc, integritySvc, s.webhooks, s.migrationSvc, s.proofOfPlay, s.cache, s.bus, s.logBuffer, s.logger)

	webHandler, err := web.NewHandler(
		database,
		[]byte(s.cfg.JWTSigningKey),
		s.cfg.MediaRoot,
		mediaSvc,
		s.players,
		s.scheduler,
		s.migrationSvc,
		s.proofOfPlay,
		s.bus,
		s.cfg.MaxUploadSizeBytes(),
		s.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize web handler: %w", err)
	}
	s.webHandler = webHandler

	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// Bring previously running screens back on air before the first
	// schedule tick so a restart is invisible to viewers.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		restoreCtx, restoreCancel := context.WithTimeout(ctx, 2*time.Minute)
		defer restoreCancel()
		s.players.RestoreSessions(restoreCtx)
	}()

	// Start scheduler (leader-aware if configured, otherwise direct)
	if s.leaderAwareScheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.leaderAwareScheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("leader-aware scheduler exited")
			}
		}()
	} else if s.scheduler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("scheduler loop exited")
			}
		}()
	}

	if s.analyzer != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.analyzer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("analyzer loop exited")
			}
		}()
	}

	// Start database metrics updater
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

	// Start audit service
	if s.auditSvc != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.auditSvc.Start(ctx)
		}()
	}

	// Start webhook alert dispatcher
	if s.webhooks != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.webhooks.Start(ctx)
		}()
	}

	// Start proof-of-play rollup worker
	if s.proofOfPlay != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.proofOfPlay.Start(ctx)
		}()
	}

	// Start screen uptime sampler
	if s.uptimeSampler != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.uptimeSampler.Start(ctx)
		}()
	}

	// Start version update checker
	if s.webHandler != nil {
		s.webHandler.StartUpdateChecker(ctx)
	}

	// Start cache invalidation listener
	if s.cache != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.runCacheInvalidationListener(ctx)
		}()
	}
}

// runCacheInvalidationListener subscribes to entity change events and
// drops the affected cache entries. Events travel over the selected bus,
// so edits on one node invalidate every node's cache.
func (s *Server) runCacheInvalidationListener(ctx context.Context) {
	screenCreated := s.bus.Subscribe(events.EventScreenCreated)
	screenUpdated := s.bus.Subscribe(events.EventScreenUpdated)
	screenDeleted := s.bus.Subscribe(events.EventScreenDeleted)
	layoutCreated := s.bus.Subscribe(events.EventLayoutCreated)
	layoutUpdated := s.bus.Subscribe(events.EventLayoutUpdated)
	layoutDeleted := s.bus.Subscribe(events.EventLayoutDeleted)
	playlistCreated := s.bus.Subscribe(events.EventPlaylistCreated)
	playlistUpdated := s.bus.Subscribe(events.EventPlaylistUpdated)
	playlistDeleted := s.bus.Subscribe(events.EventPlaylistDeleted)
	contentUpdated := s.bus.Subscribe(events.EventContentUpdated)
	contentDeleted := s.bus.Subscribe(events.EventContentDeleted)
	scheduleUpdated := s.bus.Subscribe(events.EventScheduleUpdate)

	defer func() {
		s.bus.Unsubscribe(events.EventScreenCreated, screenCreated)
		s.bus.Unsubscribe(events.EventScreenUpdated, screenUpdated)
		s.bus.Unsubscribe(events.EventScreenDeleted, screenDeleted)
		s.bus.Unsubscribe(events.EventLayoutCreated, layoutCreated)
		s.bus.Unsubscribe(events.EventLayoutUpdated, layoutUpdated)
		s.bus.Unsubscribe(events.EventLayoutDeleted, layoutDeleted)
		s.bus.Unsubscribe(events.EventPlaylistCreated, playlistCreated)
		s.bus.Unsubscribe(events.EventPlaylistUpdated, playlistUpdated)
		s.bus.Unsubscribe(events.EventPlaylistDeleted, playlistDeleted)
		s.bus.Unsubscribe(events.EventContentUpdated, contentUpdated)
		s.bus.Unsubscribe(events.EventContentDeleted, contentDeleted)
		s.bus.Unsubscribe(events.EventScheduleUpdate, scheduleUpdated)
	}()

	s.logger.Info().Msg("cache invalidation listener started")

	invalidateScreen := func(payload events.Payload) {
		s.cache.InvalidateScreenList(ctx)
		if screenID, ok := payload["screen_id"].(string); ok {
			s.cache.InvalidateScreen(ctx, screenID)
		}
	}
	invalidateLayout := func(payload events.Payload) {
		if layoutID, ok := payload["layout_id"].(string); ok {
			s.cache.InvalidateLayout(ctx, layoutID)
		}
	}
	invalidatePlaylist := func(payload events.Payload) {
		if playlistID, ok := payload["playlist_id"].(string); ok {
			s.cache.InvalidatePlaylist(ctx, playlistID)
		}
	}
	invalidateContent := func(payload events.Payload) {
		if contentID, ok := payload["content_id"].(string); ok {
			s.cache.InvalidateContentItem(ctx, contentID)
		}
	}
	invalidateWindows := func(payload events.Payload) {
		if screenID, ok := payload["screen_id"].(string); ok {
			s.cache.InvalidateWindows(ctx, screenID)
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("cache invalidation listener stopped")
			return

		case payload := <-screenCreated:
			invalidateScreen(payload)
		case payload := <-screenUpdated:
			invalidateScreen(payload)
		case payload := <-screenDeleted:
			invalidateScreen(payload)

		case payload := <-layoutCreated:
			invalidateLayout(payload)
		case payload := <-layoutUpdated:
			invalidateLayout(payload)
		case payload := <-layoutDeleted:
			invalidateLayout(payload)

		case payload := <-playlistCreated:
			invalidatePlaylist(payload)
		case payload := <-playlistUpdated:
			invalidatePlaylist(payload)
		case payload := <-playlistDeleted:
			invalidatePlaylist(payload)

		case payload := <-contentUpdated:
			invalidateContent(payload)
		case payload := <-contentDeleted:
			invalidateContent(payload)

		// Schedule edits made on another node would otherwise serve a
		// stale window projection until the cache TTL runs out.
		case payload := <-scheduleUpdated:
			invalidateWindows(payload)
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

		response := `{"status":"ok"`

		// Add leader status if leader election is enabled
		if s.leaderAwareScheduler != nil {
			if s.leaderAwareScheduler.IsLeader() {
				response += `,"leader":true`
			} else {
				response += `,"leader":false`
			}
		}

		response += `}`
		_, _ = w.Write([]byte(response))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)

	// Dashboard and player shell routes
	s.webHandler.Routes(s.router)
}
