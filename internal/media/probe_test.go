package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"
)

func box(name string, payload []byte) []byte {
	b := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(8+len(payload)))
	copy(b[4:8], name)
	copy(b[8:], payload)
	return b
}

func mvhdV0(timescale, duration uint32) []byte {
	// version+flags, creation, modification, timescale, duration,
	// then rate through next_track_id zeroed.
	p := make([]byte, 100)
	binary.BigEndian.PutUint32(p[12:16], timescale)
	binary.BigEndian.PutUint32(p[16:20], duration)
	return box("mvhd", p)
}

func mvhdV1(timescale uint32, duration uint64) []byte {
	p := make([]byte, 112)
	p[0] = 1
	binary.BigEndian.PutUint32(p[20:24], timescale)
	binary.BigEndian.PutUint64(p[24:32], duration)
	return box("mvhd", p)
}

func TestProbeVideoDurationV0(t *testing.T) {
	var file bytes.Buffer
	file.Write(box("ftyp", []byte("isomisomiso2avc1")))
	file.Write(box("moov", mvhdV0(1000, 83500)))

	d, err := ProbeVideoDuration(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("ProbeVideoDuration: %v", err)
	}
	if d != 83500*time.Millisecond {
		t.Errorf("duration = %v, want 1m23.5s", d)
	}
}

func TestProbeVideoDurationV1(t *testing.T) {
	var file bytes.Buffer
	file.Write(box("ftyp", []byte("isomisomiso2avc1")))
	file.Write(box("moov", mvhdV1(90000, 90000*42)))

	d, err := ProbeVideoDuration(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("ProbeVideoDuration: %v", err)
	}
	if d != 42*time.Second {
		t.Errorf("duration = %v, want 42s", d)
	}
}

func TestProbeVideoDurationMoovAfterMdat(t *testing.T) {
	var file bytes.Buffer
	file.Write(box("ftyp", []byte("isomisomiso2avc1")))
	file.Write(box("mdat", make([]byte, 4096)))
	file.Write(box("moov", mvhdV0(600, 600*7)))

	d, err := ProbeVideoDuration(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("ProbeVideoDuration: %v", err)
	}
	if d != 7*time.Second {
		t.Errorf("duration = %v, want 7s", d)
	}
}

func TestProbeVideoDurationSkipsEarlierMoovChildren(t *testing.T) {
	var moov bytes.Buffer
	moov.Write(box("iods", make([]byte, 12)))
	moov.Write(mvhdV0(1000, 5000))

	var file bytes.Buffer
	file.Write(box("ftyp", []byte("isomisomiso2avc1")))
	file.Write(box("moov", moov.Bytes()))

	d, err := ProbeVideoDuration(bytes.NewReader(file.Bytes()))
	if err != nil {
		t.Fatalf("ProbeVideoDuration: %v", err)
	}
	if d != 5*time.Second {
		t.Errorf("duration = %v, want 5s", d)
	}
}

func TestProbeVideoDurationUnknown(t *testing.T) {
	cases := []struct {
		name string
		file []byte
	}{
		{"no moov", box("ftyp", []byte("isomisomiso2avc1"))},
		{"unset duration", append(box("ftyp", []byte("isom")), box("moov", mvhdV0(1000, 0xFFFFFFFF))...)},
		{"zero timescale", append(box("ftyp", []byte("isom")), box("moov", mvhdV0(0, 100))...)},
		{"not an mp4", []byte("GIF89a not a movie at all, just bytes")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ProbeVideoDuration(bytes.NewReader(tc.file))
			if !errors.Is(err, ErrDurationUnknown) {
				t.Fatalf("expected ErrDurationUnknown, got %v", err)
			}
		})
	}
}

func TestProbeImageSize(t *testing.T) {
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 640, 360))
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	w, h, err := ProbeImageSize(&buf)
	if err != nil {
		t.Fatalf("ProbeImageSize: %v", err)
	}
	if w != 640 || h != 360 {
		t.Errorf("size = %dx%d, want 640x360", w, h)
	}
}

func TestProbeImageSizeRejectsGarbage(t *testing.T) {
	if _, _, err := ProbeImageSize(bytes.NewReader([]byte("definitely not an image"))); err == nil {
		t.Fatalf("expected decode error")
	}
}
