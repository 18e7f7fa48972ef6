/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.PubSub
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus events.PubSub, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to relevant events and logs them as audit entries.
func (s *Service) Start(ctx context.Context) {
	apiKeyCreate := s.bus.Subscribe(events.EventAuditAPIKeyCreate)
	apiKeyRevoke := s.bus.Subscribe(events.EventAuditAPIKeyRevoke)
	screenCreate := s.bus.Subscribe(events.EventAuditScreenCreate)
	screenUpdate := s.bus.Subscribe(events.EventAuditScreenUpdate)
	screenDelete := s.bus.Subscribe(events.EventAuditScreenDelete)
	contentDelete := s.bus.Subscribe(events.EventAuditContentDelete)
	playerControl := s.bus.Subscribe(events.EventAuditPlayerControl)
	importRun := s.bus.Subscribe(events.EventAuditImport)
	scheduleUpdate := s.bus.Subscribe(events.EventScheduleUpdate)

	defer func() {
		s.bus.Unsubscribe(events.EventAuditAPIKeyCreate, apiKeyCreate)
		s.bus.Unsubscribe(events.EventAuditAPIKeyRevoke, apiKeyRevoke)
		s.bus.Unsubscribe(events.EventAuditScreenCreate, screenCreate)
		s.bus.Unsubscribe(events.EventAuditScreenUpdate, screenUpdate)
		s.bus.Unsubscribe(events.EventAuditScreenDelete, screenDelete)
		s.bus.Unsubscribe(events.EventAuditContentDelete, contentDelete)
		s.bus.Unsubscribe(events.EventAuditPlayerControl, playerControl)
		s.bus.Unsubscribe(events.EventAuditImport, importRun)
		s.bus.Unsubscribe(events.EventScheduleUpdate, scheduleUpdate)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-apiKeyCreate:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyCreate, payload)

		case payload := <-apiKeyRevoke:
			s.logAuditEntry(ctx, models.AuditActionAPIKeyRevoke, payload)

		case payload := <-screenCreate:
			s.logAuditEntry(ctx, models.AuditActionScreenCreate, payload)

		case payload := <-screenUpdate:
			s.logAuditEntry(ctx, models.AuditActionScreenUpdate, payload)

		case payload := <-screenDelete:
			s.logAuditEntry(ctx, models.AuditActionScreenDelete, payload)

		case payload := <-contentDelete:
			s.logAuditEntry(ctx, models.AuditActionContentDelete, payload)

		case payload := <-playerControl:
			s.logAuditEntry(ctx, models.AuditActionPlayerControl, payload)

		case payload := <-importRun:
			s.logAuditEntry(ctx, models.AuditActionImportRun, payload)

		case payload := <-scheduleUpdate:
			s.logAuditEntry(ctx, models.AuditActionScheduleChange, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Action:    action,
		Details:   make(map[string]any),
		CreatedAt: time.Now(),
	}

	if userID, ok := payload["user_id"].(string); ok && userID != "" {
		entry.UserID = &userID
	}
	if userEmail, ok := payload["user_email"].(string); ok {
		entry.UserEmail = userEmail
	}
	if screenID, ok := payload["screen_id"].(string); ok && screenID != "" {
		entry.ScreenID = &screenID
	}
	if resourceType, ok := payload["resource_type"].(string); ok {
		entry.ResourceType = resourceType
	}
	if resourceID, ok := payload["resource_id"].(string); ok {
		entry.ResourceID = resourceID
	}
	if ipAddress, ok := payload["ip_address"].(string); ok {
		entry.IPAddress = ipAddress
	}
	if userAgent, ok := payload["user_agent"].(string); ok {
		entry.UserAgent = userAgent
	}

	// Everything else rides along in details.
	for k, v := range payload {
		switch k {
		case "user_id", "user_email", "screen_id", "resource_type", "resource_id", "ip_address", "user_agent":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	UserID    *string
	ScreenID  *string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.UserID != nil {
		query = query.Where("user_id = ?", *filters.UserID)
	}
	if filters.ScreenID != nil {
		query = query.Where("screen_id = ?", *filters.ScreenID)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100)
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
