/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package livestream

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/telemetry"
)

// State is where a monitored stream sits in its reconnect cycle.
type State string

const (
	// StateConnecting covers the initial connect and the fast retry
	// window after a drop. The stream URI stays on screen.
	StateConnecting State = "connecting"
	// StateLive means the endpoint is serving and the shell should be
	// attached to the stream.
	StateLive State = "live"
	// StateEnded is the moment a live stream stops, before the first
	// reconnect attempt.
	StateEnded State = "stream-ended"
	// StateWaiting means fast retries ran out: the fallback image goes
	// on screen while the monitor polls slowly for the stream's return.
	StateWaiting State = "waiting"
)

// Change describes a state transition and what the region should
// render from now on. Recovered marks a return to live after a drop,
// as opposed to the first successful connect.
type Change struct {
	ContentID string
	State     State
	RenderURI string
	Attempt   int
	Recovered bool
}

// Config tunes the reconnect cycle.
type Config struct {
	FastRetries    int           // reconnect attempts before giving the screen to the fallback
	FastRetryDelay time.Duration // spacing between those attempts
	PollInterval   time.Duration // probe cadence while live or waiting
	ProbeTimeout   time.Duration // per-probe budget
}

func (c Config) withDefaults() Config {
	if c.FastRetries <= 0 {
		c.FastRetries = 3
	}
	if c.FastRetryDelay <= 0 {
		c.FastRetryDelay = 500 * time.Millisecond
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	return c
}

// Monitor watches one live content item. It owns nothing but the
// render decision: the playback engine keeps scheduling the item on its
// normal timer whether the stream is up or not, so a dead stream never
// stalls the playlist and a recovered one slots straight back in.
type Monitor struct {
	contentID string
	uri       string
	fallback  string
	prober    Prober
	clock     clockwork.Clock
	logger    zerolog.Logger
	cfg       Config
	onChange  func(Change)

	mu       sync.Mutex
	state    State
	attempts int

	kick   chan struct{}
	stopCh chan struct{}
}

// NewMonitor creates a monitor for one stream. onChange fires on every
// state transition, after the internal lock is released.
func NewMonitor(contentID, uri, fallback string, prober Prober, cfg Config, clock clockwork.Clock, logger zerolog.Logger, onChange func(Change)) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Monitor{
		contentID: contentID,
		uri:       uri,
		fallback:  fallback,
		prober:    prober,
		clock:     clock,
		logger:    logger.With().Str("component", "livestream").Str("content_id", contentID).Logger(),
		cfg:       cfg.withDefaults(),
		onChange:  onChange,
		state:     StateConnecting,
		kick:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

// Run probes until the context is done or Stop is called. The first
// probe happens immediately.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Debug().Str("uri", m.uri).Msg("stream monitor started")
	m.emit(Change{ContentID: m.contentID, State: StateConnecting, RenderURI: m.uri})

	for {
		wait := m.step(ctx)
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("stream monitor stopped (context)")
			return
		case <-m.stopCh:
			m.logger.Debug().Msg("stream monitor stopped")
			return
		case <-m.kick:
		case <-m.clock.After(wait):
		}
	}
}

// Stop terminates Run.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

// State returns the current reconnect state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NotifyStreamEnded is the shell's signal that its player hit the end
// of the stream or an unrecoverable playback error. The monitor records
// the drop and probes again right away instead of waiting out the poll
// interval. It deliberately does not touch the playback engine: the
// region's slot keeps its timer and the playlist never advances early
// because a stream died.
func (m *Monitor) NotifyStreamEnded() {
	m.mu.Lock()
	var chg *Change
	if m.state == StateLive {
		m.state = StateEnded
		m.attempts = 0
		chg = &Change{ContentID: m.contentID, State: StateEnded, RenderURI: m.uri}
	}
	m.mu.Unlock()

	if chg != nil {
		m.emit(*chg)
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// step performs one probe and returns how long to wait before the
// next. Transitions emitted here:
//
//	connecting/ended/waiting --probe ok--> live
//	live --probe fails--> stream-ended
//	connecting --retries exhausted--> waiting (fallback on screen)
func (m *Monitor) step(ctx context.Context) time.Duration {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.prober.Probe(probeCtx, m.uri)
	cancel()

	m.mu.Lock()
	var chg *Change
	var wait time.Duration

	if err == nil {
		telemetry.StreamProbesTotal.WithLabelValues(m.contentID, "success").Inc()
		if m.state != StateLive {
			recovered := m.state == StateWaiting || m.state == StateEnded || m.attempts > 0
			m.state = StateLive
			m.attempts = 0
			chg = &Change{ContentID: m.contentID, State: StateLive, RenderURI: m.uri, Recovered: recovered}
			if recovered {
				telemetry.StreamReconnectsTotal.WithLabelValues(m.contentID).Inc()
			}
		}
		wait = m.cfg.PollInterval
	} else {
		telemetry.StreamProbesTotal.WithLabelValues(m.contentID, "failed").Inc()
		switch m.state {
		case StateLive:
			m.state = StateEnded
			m.attempts = 0
			chg = &Change{ContentID: m.contentID, State: StateEnded, RenderURI: m.uri}
			wait = m.cfg.FastRetryDelay
		case StateWaiting:
			wait = m.cfg.PollInterval
		default: // connecting or just ended
			m.attempts++
			if m.attempts <= m.cfg.FastRetries {
				if m.state != StateConnecting {
					m.state = StateConnecting
					chg = &Change{ContentID: m.contentID, State: StateConnecting, RenderURI: m.uri, Attempt: m.attempts}
				}
				wait = m.cfg.FastRetryDelay
			} else {
				m.state = StateWaiting
				chg = &Change{ContentID: m.contentID, State: StateWaiting, RenderURI: m.fallback}
				wait = m.cfg.PollInterval
			}
		}
	}
	state := m.state
	attempts := m.attempts
	m.mu.Unlock()

	telemetry.StreamStatus.WithLabelValues(m.contentID).Set(stateValue(state))

	if chg != nil {
		if err != nil {
			m.logger.Warn().Err(err).Str("state", string(state)).Int("attempt", attempts).Msg("stream probe failed")
		} else {
			m.logger.Info().Str("state", string(state)).Msg("stream is live")
		}
		m.emit(*chg)
	}
	return wait
}

func (m *Monitor) emit(chg Change) {
	if m.onChange != nil {
		m.onChange(chg)
	}
}

// 2=live, 1=connecting or just ended, 0=waiting on the fallback
func stateValue(s State) float64 {
	switch s {
	case StateLive:
		return 2
	case StateWaiting:
		return 0
	default:
		return 1
	}
}

// Service runs one monitor per live content item currently on screen.
type Service struct {
	prober Prober
	clock  clockwork.Clock
	logger zerolog.Logger
	cfg    Config

	mu       sync.Mutex
	monitors map[string]*Monitor // content_id -> monitor
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewService creates a monitor pool.
func NewService(prober Prober, cfg Config, clock clockwork.Clock, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{
		prober:   prober,
		clock:    clock,
		logger:   logger.With().Str("component", "livestream").Logger(),
		cfg:      cfg.withDefaults(),
		monitors: make(map[string]*Monitor),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Watch starts monitoring a stream if it is not watched already.
func (s *Service) Watch(contentID, uri, fallback string, onChange func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.monitors[contentID]; exists {
		return
	}

	mon := NewMonitor(contentID, uri, fallback, s.prober, s.cfg, s.clock, s.logger, onChange)
	s.monitors[contentID] = mon

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		mon.Run(s.ctx)
	}()

	s.logger.Debug().Str("content_id", contentID).Msg("started stream monitor")
}

// Unwatch stops the monitor for a stream.
func (s *Service) Unwatch(contentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unwatchLocked(contentID)
}

func (s *Service) unwatchLocked(contentID string) {
	if mon, exists := s.monitors[contentID]; exists {
		mon.Stop()
		delete(s.monitors, contentID)
		s.logger.Debug().Str("content_id", contentID).Msg("stopped stream monitor")
	}
}

// NotifyStreamEnded forwards the shell's end signal to the right
// monitor. Unknown IDs are ignored.
func (s *Service) NotifyStreamEnded(contentID string) {
	s.mu.Lock()
	mon := s.monitors[contentID]
	s.mu.Unlock()
	if mon != nil {
		mon.NotifyStreamEnded()
	}
}

// States reports the current state of every watched stream.
func (s *Service) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]State, len(s.monitors))
	for id, mon := range s.monitors {
		out[id] = mon.State()
	}
	return out
}

// Shutdown stops every monitor and waits for their loops to exit.
func (s *Service) Shutdown() error {
	s.logger.Info().Msg("shutting down stream monitors")

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	for id := range s.monitors {
		delete(s.monitors, id)
	}
	s.mu.Unlock()

	return nil
}
