/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import (
	"sync"

	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// EventType enumerates event categories.
type EventType string

const (
	// Player engine events, one stream per screen
	EventPlayerStatus        EventType = "player.status_change"
	EventPlayerContentChange EventType = "player.content_change"
	EventPlayerCycleComplete EventType = "player.cycle_complete"
	EventPlayerTimeUpdate    EventType = "player.time_update"
	EventPlayerError         EventType = "player.error"

	// Stream resilience events (transport health, not playback)
	EventStreamStateChange EventType = "stream.state_change"
	EventStreamRecovered   EventType = "stream.recovered"

	// Scheduling events
	EventScheduleApplied EventType = "schedule.applied"
	EventScheduleUpdate  EventType = "schedule_update"

	// Screen lifecycle events
	EventScreenOnline  EventType = "screen.online"
	EventScreenOffline EventType = "screen.offline"
	EventMigration     EventType = "migration"

	// Cache invalidation events
	EventScreenUpdated   EventType = "cache.screen_updated"
	EventScreenCreated   EventType = "cache.screen_created"
	EventScreenDeleted   EventType = "cache.screen_deleted"
	EventLayoutUpdated   EventType = "cache.layout_updated"
	EventLayoutCreated   EventType = "cache.layout_created"
	EventLayoutDeleted   EventType = "cache.layout_deleted"
	EventPlaylistCreated EventType = "cache.playlist_created"
	EventPlaylistUpdated EventType = "cache.playlist_updated"
	EventPlaylistDeleted EventType = "cache.playlist_deleted"
	EventContentUpdated  EventType = "cache.content_updated"
	EventContentDeleted  EventType = "cache.content_deleted"

	// Audit events (for operations that need explicit audit logging)
	EventAuditAPIKeyCreate  EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke  EventType = "audit.apikey.revoke"
	EventAuditScreenCreate  EventType = "audit.screen.create"
	EventAuditScreenUpdate  EventType = "audit.screen.update"
	EventAuditScreenDelete  EventType = "audit.screen.delete"
	EventAuditContentDelete EventType = "audit.content.delete"
	EventAuditPlayerControl EventType = "audit.player.control"
	EventAuditImport        EventType = "audit.import"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// PubSub is the bus surface components depend on. The in-process Bus
// satisfies it, as do the Redis and NATS bridges that fan events out
// across nodes.
type PubSub interface {
	Publish(eventType EventType, payload Payload)
	Subscribe(eventType EventType) Subscriber
	Unsubscribe(eventType EventType, sub Subscriber)
	Close() error
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	telemetry.EventsPublishedTotal.WithLabelValues(string(eventType)).Inc()
	b.Deliver(eventType, payload)
}

// Deliver fans payload out to local subscribers without counting it as
// a publish. The cluster bridges use it to relay events that another
// node already published.
func (b *Bus) Deliver(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes its channel. Unknown
// subscribers are ignored so an unsubscribe racing Close stays safe.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close drops every subscriber. Publish after Close is a no-op.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for _, sub := range subs {
			close(sub)
		}
		delete(b.subs, eventType)
	}
	return nil
}
