/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/analytics"
	"github.com/friendsincode/heimdall_signage/internal/analyzer"
	"github.com/friendsincode/heimdall_signage/internal/audit"
	"github.com/friendsincode/heimdall_signage/internal/auth"
	"github.com/friendsincode/heimdall_signage/internal/cache"
	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/integrity"
	"github.com/friendsincode/heimdall_signage/internal/logbuffer"
	"github.com/friendsincode/heimdall_signage/internal/media"
	"github.com/friendsincode/heimdall_signage/internal/migration"
	"github.com/friendsincode/heimdall_signage/internal/models"
	"github.com/friendsincode/heimdall_signage/internal/player"
	"github.com/friendsincode/heimdall_signage/internal/scheduler"
	"github.com/friendsincode/heimdall_signage/internal/telemetry"
	"github.com/friendsincode/heimdall_signage/internal/webhooks"
	ws "nhooyr.io/websocket"
)

// API exposes HTTP handlers.
type API struct {
	db           *gorm.DB
	jwtSecret    []byte
	scheduler    *scheduler.Service
	schedExport  *scheduler.ExportService
	analyzer     *analyzer.Service
	media        *media.Service
	players      *player.Manager
	auditSvc     *audit.Service
	integritySvc *integrity.Service
	webhooks     *webhooks.Service
	migration    *migration.Service
	analytics    *analytics.ProofOfPlayService
	cache        *cache.Cache
	bus          events.PubSub
	logBuffer    *logbuffer.Buffer
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, sched *scheduler.Service, schedExport *scheduler.ExportService, analyzerSvc *analyzer.Service, mediaSvc *media.Service, players *player.Manager, auditSvc *audit.Service, integritySvc *integrity.Service, webhookSvc *webhooks.Service, migrationSvc *migration.Service, analyticsSvc *analytics.ProofOfPlayService, c *cache.Cache, bus events.PubSub, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:           db,
		jwtSecret:    jwtSecret,
		scheduler:    sched,
		schedExport:  schedExport,
		analyzer:     analyzerSvc,
		media:        mediaSvc,
		players:      players,
		auditSvc:     auditSvc,
		integritySvc: integritySvc,
		webhooks:     webhookSvc,
		migration:    migrationSvc,
		analytics:    analyticsSvc,
		cache:        c,
		bus:          bus,
		logBuffer:    logBuf,
		logger:       logger,
	}
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			a.AddScreenRoutes(pr)
			a.AddLayoutRoutes(pr)
			a.AddContentRoutes(pr)
			a.AddPlaylistRoutes(pr)
			a.AddScheduleRoutes(pr)
			a.AddPlayerRoutes(pr)
			a.AddUserRoutes(pr)
			a.AddSystemRoutes(pr)
			a.AddImportRoutes(pr)
			a.AddAnalyticsRoutes(pr)
			a.AddWebhookRoutes(pr)
			a.AddIntegrityRoutes(pr)

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{
			events.EventPlayerStatus,
			events.EventPlayerContentChange,
			events.EventPlayerCycleComplete,
			events.EventPlayerError,
			events.EventScheduleApplied,
			events.EventScreenOnline,
			events.EventScreenOffline,
		}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

// requireScreenClaim enforces the screen binding on device tokens. A
// token without a binding (a regular user token) passes; a bound token
// only reaches its own screen. Returns false after writing the error.
func (a *API) requireScreenClaim(w http.ResponseWriter, r *http.Request, screenID string) bool {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	if claims.ScreenID != "" && claims.ScreenID != screenID {
		writeError(w, http.StatusForbidden, "screen_token_mismatch")
		return false
	}
	return true
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
