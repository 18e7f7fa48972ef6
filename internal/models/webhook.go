/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookTarget is an outbound HTTP endpoint that receives fleet
// alerts. Events holds a comma-separated list of bus event names
// (screen.online, screen.offline, player.error, ...); empty subscribes
// to every alert. A non-empty ScreenID narrows delivery to one screen.
type WebhookTarget struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(255);not null" json:"name"`
	URL      string `gorm:"type:varchar(512);not null" json:"url"`
	Events   string `gorm:"type:varchar(255)" json:"events"`
	ScreenID string `gorm:"type:uuid;index" json:"screen_id,omitempty"`
	Secret   string `gorm:"type:varchar(255)" json:"-"` // HMAC signing key
	Active   bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// NewWebhookTarget creates a webhook target with a random secret.
func NewWebhookTarget(name, url, events string) *WebhookTarget {
	return &WebhookTarget{
		ID:     uuid.NewString(),
		Name:   name,
		URL:    url,
		Events: events,
		Secret: uuid.NewString(),
		Active: true,
	}
}

// WebhookLog records one delivery attempt.
type WebhookLog struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID   string    `gorm:"type:uuid;index;not null" json:"target_id"`
	Event      string    `gorm:"type:varchar(64);not null" json:"event"`
	Payload    string    `gorm:"type:text" json:"payload"`
	StatusCode int       `json:"status_code"` // zero when the request never completed
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int       `gorm:"column:duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
