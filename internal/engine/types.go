/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ContentKind enumerates the content types the engine schedules.
type ContentKind string

const (
	KindImage      ContentKind = "image"
	KindVideo      ContentKind = "video"
	KindWeb        ContentKind = "web"
	KindText       ContentKind = "text"
	KindLivestream ContentKind = "livestream"
)

// Item is the engine's read-only view of one content item. It is built
// once per session during Load and never mutated afterwards, except for
// Detected which is refined when a player reports a real duration.
type Item struct {
	ID          string
	Name        string
	Kind        ContentKind
	URI         string
	FallbackURI string // Still image shown while a livestream is down

	// Detected is the native media duration once discovered; zero means
	// unknown. Only meaningful for video.
	Detected time.Duration

	Live bool
}

// Region is the engine's view of one layout slot.
type Region struct {
	ID     string
	Name   string
	X      int
	Y      int
	Width  int
	Height int
	ZIndex int
}

// Layout is the immutable region arrangement for a playback session.
type Layout struct {
	ID         string
	Name       string
	Width      int
	Height     int
	Background string
	Regions    []Region
}

// Assignment binds an ordered content list to one region, with optional
// explicit per-content duration overrides.
type Assignment struct {
	RegionID   string
	ContentIDs []string
	Overrides  map[string]time.Duration
}

// Playlist is the full set of assignments for a session.
type Playlist struct {
	ID          string
	Name        string
	Assignments []Assignment
}

// ContentLoader resolves content IDs into items during Load. Returning
// (nil, nil) marks the ID as missing: missing items are logged and
// skipped, while a non-nil error aborts the whole load.
type ContentLoader interface {
	Resolve(ctx context.Context, contentID string) (*Item, error)
}

// Options tunes an engine instance.
type Options struct {
	// TickInterval is how often region timers are evaluated. The tick
	// only samples the playback clock, so a coarse interval trades
	// advance latency for wakeups without affecting elapsed time.
	TickInterval time.Duration

	// Default on-screen durations, by kind. Video is special-cased: a
	// detected native duration wins, otherwise VideoPlaceholder arms a
	// safety timer and the item is expected to finish via its end event.
	ImageDuration    time.Duration
	WebDuration      time.Duration
	VideoPlaceholder time.Duration

	// NoLoop stops the engine when a cycle completes instead of
	// re-seeding all regions. Looping is the default.
	NoLoop bool

	// Clock is the time source for both the playback clock and the tick
	// loop. Nil falls back to the real clock.
	Clock clockwork.Clock

	Logger zerolog.Logger
}

const (
	defaultTickInterval     = 250 * time.Millisecond
	defaultImageDuration    = 10 * time.Second
	defaultWebDuration      = 60 * time.Second
	defaultVideoPlaceholder = time.Hour
)

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = defaultTickInterval
	}
	if o.ImageDuration <= 0 {
		o.ImageDuration = defaultImageDuration
	}
	if o.WebDuration <= 0 {
		o.WebDuration = defaultWebDuration
	}
	if o.VideoPlaceholder <= 0 {
		o.VideoPlaceholder = defaultVideoPlaceholder
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}
