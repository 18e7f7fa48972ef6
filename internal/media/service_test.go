package media

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_signage/internal/config"
	"github.com/friendsincode/heimdall_signage/internal/models"
)

func TestNewServiceSelectsStorageBackend(t *testing.T) {
	logger := zerolog.Nop()

	t.Run("filesystem storage when no bucket", func(t *testing.T) {
		cfg := &config.Config{MediaRoot: t.TempDir()}

		svc, err := NewService(cfg, logger)
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if _, ok := svc.storage.(*FilesystemStorage); !ok {
			t.Errorf("storage type = %T, want *FilesystemStorage", svc.storage)
		}
	})

	t.Run("s3 storage when bucket configured", func(t *testing.T) {
		cfg := &config.Config{
			MediaRoot:         t.TempDir(),
			S3Bucket:          "heimdall-assets",
			S3Region:          "us-east-1",
			S3AccessKeyID:     "test",
			S3SecretAccessKey: "test",
		}

		svc, err := NewService(cfg, logger)
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
		if _, ok := svc.storage.(*S3Storage); !ok {
			t.Errorf("storage type = %T, want *S3Storage", svc.storage)
		}
	})
}

func TestBuildContentKey(t *testing.T) {
	tests := []struct {
		name      string
		contentID string
		extension string
		expected  string
	}{
		{
			name:      "standard key",
			contentID: "abcd1234efgh5678",
			extension: ".mp4",
			expected:  "content/ab/cd/abcd1234efgh5678.mp4",
		},
		{
			name:      "short contentID",
			contentID: "abc",
			extension: ".png",
			expected:  "content/abc.png",
		},
		{
			name:      "exactly 4 chars",
			contentID: "abcd",
			extension: ".jpg",
			expected:  "content/ab/cd/abcd.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := buildContentKey(tt.contentID, tt.extension)
			if result != tt.expected {
				t.Errorf("buildContentKey() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestKindForFilename(t *testing.T) {
	tests := []struct {
		filename string
		kind     models.ContentType
		wantErr  bool
	}{
		{"lobby.jpg", models.ContentImage, false},
		{"Promo.PNG", models.ContentImage, false},
		{"intro.mp4", models.ContentVideo, false},
		{"clip.webm", models.ContentVideo, false},
		{"notes.txt", "", true},
		{"noextension", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			kind, err := KindForFilename(tt.filename)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.filename)
				}
				return
			}
			if err != nil {
				t.Fatalf("KindForFilename(%q): %v", tt.filename, err)
			}
			if kind != tt.kind {
				t.Errorf("kind = %v, want %v", kind, tt.kind)
			}
		})
	}
}

func TestFilesystemStorageRoundTrip(t *testing.T) {
	logger := zerolog.Nop()
	fs := NewFilesystemStorage(t.TempDir(), logger)
	ctx := context.Background()

	key := "content/ab/cd/abcd.png"
	if err := fs.Store(ctx, key, "image/png", strings.NewReader("fake png bytes")); err != nil {
		t.Fatalf("Store: %v", err)
	}

	rc, err := fs.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "fake png bytes" {
		t.Errorf("read back %q", data)
	}

	url, err := fs.URL(ctx, key)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "/media/"+key {
		t.Errorf("URL = %q", url)
	}

	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := fs.Open(ctx, key); err == nil {
		t.Fatalf("expected open after delete to fail")
	}

	// Deleting a missing key is not an error
	if err := fs.Delete(ctx, key); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}

func TestFilesystemStorageRejectsTraversal(t *testing.T) {
	logger := zerolog.Nop()
	fs := NewFilesystemStorage(t.TempDir(), logger)
	ctx := context.Background()

	for _, key := range []string{"../outside.txt", "a/../../b", "/etc/passwd"} {
		if err := fs.Store(ctx, key, "text/plain", strings.NewReader("x")); err == nil {
			t.Errorf("expected store of %q to fail", key)
		}
	}
}

func TestServiceUploadInfersKindAndSize(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &config.Config{MediaRoot: t.TempDir()}
	svc, err := NewService(cfg, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	res, err := svc.Upload(context.Background(), "abcd1234", "lobby-loop.mp4", strings.NewReader("0123456789"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Kind != models.ContentVideo {
		t.Errorf("kind = %v, want video", res.Kind)
	}
	if res.SizeBytes != 10 {
		t.Errorf("size = %d, want 10", res.SizeBytes)
	}
	if res.Key != "content/ab/cd/abcd1234.mp4" {
		t.Errorf("key = %q", res.Key)
	}

	rc, err := svc.Open(context.Background(), res.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "0123456789" {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestServiceUploadRejectsUnsupportedExtension(t *testing.T) {
	logger := zerolog.Nop()
	cfg := &config.Config{MediaRoot: t.TempDir()}
	svc, err := NewService(cfg, logger)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.Upload(context.Background(), "abcd1234", "malware.exe", strings.NewReader("x")); err == nil {
		t.Fatalf("expected unsupported extension error")
	}
}
