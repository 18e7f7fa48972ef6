/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package livestream keeps live stream content renderable: it probes
// stream endpoints, walks a reconnect state machine when a stream
// drops, and tells the presentation layer whether to render the stream
// or its fallback image. It never drives playlist advancement; region
// timing stays with the playback engine.
package livestream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/heimdall_signage/internal/version"
)

// ErrStreamEnded indicates the endpoint answered but the stream is
// over: an HLS playlist carrying EXT-X-ENDLIST.
var ErrStreamEnded = errors.New("stream ended")

// Playlists larger than this are rejected rather than parsed.
const maxPlaylistBytes = 1 << 20

// Prober checks whether a stream endpoint currently serves live
// content. A nil return means live; ErrStreamEnded means the endpoint
// is up but the stream finished; any other error means unreachable.
type Prober interface {
	Probe(ctx context.Context, uri string) error
}

// HTTPProbe probes streams over HTTP. HLS playlists are fetched and
// parsed so a finished stream is distinguished from a dead endpoint;
// anything else passes on a 2xx/3xx response alone.
type HTTPProbe struct {
	client *http.Client
}

// NewHTTPProbe builds a probe with a traced transport.
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProbe{
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Allow up to 3 redirects
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

// Probe implements Prober.
func (p *HTTPProbe) Probe(ctx context.Context, uri string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	if !looksLikeHLS(uri, resp.Header.Get("Content-Type")) {
		return nil
	}

	playlist, listType, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, maxPlaylistBytes), false)
	if err != nil {
		return fmt.Errorf("parse playlist: %w", err)
	}
	if listType == m3u8.MEDIA {
		if media, ok := playlist.(*m3u8.MediaPlaylist); ok && media.Closed {
			return ErrStreamEnded
		}
	}
	// Master playlists and open media playlists are both live.
	return nil
}

func looksLikeHLS(uri, contentType string) bool {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
			return true
		}
	}
	path := uri
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".m3u")
}
