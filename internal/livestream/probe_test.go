package livestream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Eyevinn/hls-m3u8/m3u8"
)

func mediaPlaylistBody(t *testing.T, ended bool) string {
	t.Helper()
	pl, err := m3u8.NewMediaPlaylist(0, 16)
	if err != nil {
		t.Fatalf("create playlist: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := pl.Append(fmt.Sprintf("seg-%d.ts", i), 4.0, ""); err != nil {
			t.Fatalf("append segment: %v", err)
		}
	}
	if ended {
		pl.Close()
	}
	return pl.Encode().String()
}

func servePlaylist(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeOpenPlaylistIsLive(t *testing.T) {
	srv := servePlaylist(t, mediaPlaylistBody(t, false))
	probe := NewHTTPProbe(2 * time.Second)

	if err := probe.Probe(context.Background(), srv.URL+"/live.m3u8"); err != nil {
		t.Fatalf("open playlist should be live: %v", err)
	}
}

func TestProbeEndedPlaylistReportsStreamEnded(t *testing.T) {
	srv := servePlaylist(t, mediaPlaylistBody(t, true))
	probe := NewHTTPProbe(2 * time.Second)

	err := probe.Probe(context.Background(), srv.URL+"/live.m3u8")
	if !errors.Is(err, ErrStreamEnded) {
		t.Fatalf("ENDLIST playlist: got %v want %v", err, ErrStreamEnded)
	}
}

func TestProbeMasterPlaylistIsLive(t *testing.T) {
	master := "#EXTM3U\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720\n" +
		"720p/index.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2560000,RESOLUTION=1920x1080\n" +
		"1080p/index.m3u8\n"
	srv := servePlaylist(t, master)
	probe := NewHTTPProbe(2 * time.Second)

	if err := probe.Probe(context.Background(), srv.URL+"/master.m3u8"); err != nil {
		t.Fatalf("master playlist should be live: %v", err)
	}
}

func TestProbeHTTPErrorIsNotStreamEnded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	probe := NewHTTPProbe(2 * time.Second)

	err := probe.Probe(context.Background(), srv.URL+"/live.m3u8")
	if err == nil {
		t.Fatal("404 should fail the probe")
	}
	if errors.Is(err, ErrStreamEnded) {
		t.Fatal("an unreachable endpoint is not a finished stream")
	}
}

func TestProbeUnreachableHostFails(t *testing.T) {
	probe := NewHTTPProbe(500 * time.Millisecond)

	err := probe.Probe(context.Background(), "http://127.0.0.1:1/live.m3u8")
	if err == nil {
		t.Fatal("probe against a closed port should fail")
	}
}

func TestProbeNonHLSStreamChecksReachabilityOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	probe := NewHTTPProbe(2 * time.Second)

	if err := probe.Probe(context.Background(), srv.URL+"/promo.mp4"); err != nil {
		t.Fatalf("reachable non-HLS stream should pass: %v", err)
	}
}

func TestLooksLikeHLS(t *testing.T) {
	cases := []struct {
		uri         string
		contentType string
		want        bool
	}{
		{"https://cdn.example.com/live.m3u8", "", true},
		{"https://cdn.example.com/live.m3u8?token=abc", "", true},
		{"https://cdn.example.com/live", "application/vnd.apple.mpegurl", true},
		{"https://cdn.example.com/live", "application/x-mpegURL; charset=utf-8", true},
		{"https://cdn.example.com/promo.mp4", "video/mp4", false},
		{"https://cdn.example.com/feed", "text/html", false},
	}
	for _, c := range cases {
		if got := looksLikeHLS(c.uri, c.contentType); got != c.want {
			t.Errorf("looksLikeHLS(%q, %q): got %v want %v", c.uri, c.contentType, got, c.want)
		}
	}
}
