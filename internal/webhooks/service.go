/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers fleet alerts to operator-registered HTTP
// endpoints. Screens dropping offline, player faults, and stream
// failovers all surface here so paging and chat integrations do not
// need to poll the API.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/heimdall_signage/internal/events"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

// Service fans alertable bus events out to webhook targets.
type Service struct {
	db     *gorm.DB
	bus    events.PubSub
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a webhook delivery service.
func NewService(db *gorm.DB, bus events.PubSub, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// AlertPayload is the body POSTed to webhook targets.
type AlertPayload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	ScreenID  string         `json:"screen_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Start listens for alertable events until the context is cancelled.
func (s *Service) Start(ctx context.Context) {
	screenOnline := s.bus.Subscribe(events.EventScreenOnline)
	screenOffline := s.bus.Subscribe(events.EventScreenOffline)
	playerError := s.bus.Subscribe(events.EventPlayerError)
	streamState := s.bus.Subscribe(events.EventStreamStateChange)
	scheduleApplied := s.bus.Subscribe(events.EventScheduleApplied)

	defer func() {
		s.bus.Unsubscribe(events.EventScreenOnline, screenOnline)
		s.bus.Unsubscribe(events.EventScreenOffline, screenOffline)
		s.bus.Unsubscribe(events.EventPlayerError, playerError)
		s.bus.Unsubscribe(events.EventStreamStateChange, streamState)
		s.bus.Unsubscribe(events.EventScheduleApplied, scheduleApplied)
	}()

	s.logger.Info().Msg("webhook service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook service stopping")
			return

		case payload := <-screenOnline:
			s.dispatch(ctx, events.EventScreenOnline, payload)

		case payload := <-screenOffline:
			s.dispatch(ctx, events.EventScreenOffline, payload)

		case payload := <-playerError:
			s.dispatch(ctx, events.EventPlayerError, payload)

		case payload := <-streamState:
			s.dispatch(ctx, events.EventStreamStateChange, payload)

		case payload := <-scheduleApplied:
			s.dispatch(ctx, events.EventScheduleApplied, payload)
		}
	}
}

// dispatch fans one event out to every active matching target.
func (s *Service) dispatch(ctx context.Context, event events.EventType, payload events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Str("event", string(event)).Msg("failed to load webhook targets")
		return
	}
	if len(targets) == 0 {
		return
	}

	screenID, _ := payload["screen_id"].(string)
	alert := AlertPayload{
		Event:     string(event),
		Timestamp: time.Now().UTC(),
		ScreenID:  screenID,
		Data:      payload,
	}

	for _, target := range targets {
		if !targetHandlesEvent(target, string(event)) {
			continue
		}
		// A scoped target only hears about its own screen. Events
		// without a screen_id are fleet-wide and pass through.
		if target.ScreenID != "" && screenID != "" && target.ScreenID != screenID {
			continue
		}
		go s.deliver(ctx, target, alert)
	}
}

// deliver sends one alert and records the attempt.
func (s *Service) deliver(ctx context.Context, target models.WebhookTarget, alert AlertPayload) {
	body, err := json.Marshal(alert)
	if err != nil {
		s.logger.Error().Err(err).Str("webhook", target.ID).Msg("failed to marshal webhook payload")
		return
	}

	started := time.Now()
	statusCode, err := s.post(ctx, target, alert.Event, body)
	entry := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      alert.Event,
		Payload:    string(body),
		StatusCode: statusCode,
		DurationMS: int(time.Since(started).Milliseconds()),
	}

	switch {
	case err != nil:
		entry.Error = err.Error()
		s.logger.Warn().Err(err).
			Str("webhook", target.ID).
			Str("url", target.URL).
			Msg("webhook delivery failed")
	case statusCode < 200 || statusCode >= 300:
		entry.Error = fmt.Sprintf("status %d", statusCode)
		s.logger.Warn().
			Str("webhook", target.ID).
			Str("event", alert.Event).
			Int("status", statusCode).
			Msg("webhook returned error status")
	default:
		s.logger.Debug().
			Str("webhook", target.ID).
			Str("event", alert.Event).
			Int("status", statusCode).
			Msg("webhook delivered")
	}

	if err := s.db.Create(entry).Error; err != nil {
		s.logger.Error().Err(err).Msg("failed to record webhook delivery")
	}
}

// post sends one signed request and returns the response status. A
// zero status means the request never completed.
func (s *Service) post(ctx context.Context, target models.WebhookTarget, event string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Heimdall-Signage-Webhook/1.0")
	req.Header.Set("X-Heimdall-Event", event)
	req.Header.Set("X-Heimdall-Timestamp", strconv.FormatInt(time.Now().Unix(), 10))
	if target.Secret != "" {
		req.Header.Set("X-Heimdall-Signature", signPayload(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// TestWebhook synchronously sends a sample payload so operators can
// verify an endpoint before real alerts depend on it.
func (s *Service) TestWebhook(ctx context.Context, target *models.WebhookTarget) error {
	alert := AlertPayload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		ScreenID:  target.ScreenID,
		Data:      map[string]any{"message": "test delivery"},
	}
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	status, err := s.post(ctx, *target, alert.Event, body)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("webhook returned status %d", status)
	}
	return nil
}

// targetHandlesEvent reports whether the target subscribed to an
// event. An empty subscription list means every alert.
func targetHandlesEvent(target models.WebhookTarget, event string) bool {
	if target.Events == "" {
		return true
	}
	for _, e := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(e) == event {
			return true
		}
	}
	return false
}

// signPayload creates the sha256= HMAC header value.
func signPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
