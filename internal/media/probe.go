/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrDurationUnknown is returned when a file carries no readable duration.
var ErrDurationUnknown = errors.New("media duration not found")

// ProbeVideoDuration extracts the native duration of an MP4/M4V/MOV file
// by walking the ISO-BMFF box tree to the movie header. Containers
// without that structure (WebM, MKV) are not parsed here; their
// durations arrive later from player reports.
func ProbeVideoDuration(r io.ReadSeeker) (time.Duration, error) {
	moovPayload, err := findBox(r, "moov", -1)
	if err != nil {
		return 0, err
	}

	mvhdPayload, err := findBox(r, "mvhd", moovPayload)
	if err != nil {
		return 0, err
	}

	return parseMvhd(r, mvhdPayload)
}

// findBox scans sibling boxes from the current offset until it enters
// the named box, returning the payload length. A negative limit scans
// to end of input; otherwise scanning stops when limit bytes of sibling
// boxes have been consumed.
func findBox(r io.ReadSeeker, name string, limit int64) (int64, error) {
	var header [8]byte
	remaining := limit

	for {
		if remaining >= 0 && remaining < int64(len(header)) {
			return 0, ErrDurationUnknown
		}

		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return 0, ErrDurationUnknown
			}
			return 0, err
		}

		size := int64(binary.BigEndian.Uint32(header[0:4]))
		boxType := string(header[4:8])
		headerLen := int64(8)

		switch size {
		case 0:
			// Box extends to end of input. Valid only for the last
			// top-level box.
			if boxType == name {
				return -1, nil
			}
			return 0, ErrDurationUnknown
		case 1:
			var large [8]byte
			if _, err := io.ReadFull(r, large[:]); err != nil {
				return 0, fmt.Errorf("read largesize of %q: %w", boxType, err)
			}
			size = int64(binary.BigEndian.Uint64(large[:]))
			headerLen = 16
		}

		if size < headerLen {
			return 0, fmt.Errorf("malformed box %q: size %d", boxType, size)
		}

		payload := size - headerLen
		if boxType == name {
			return payload, nil
		}

		if _, err := r.Seek(payload, io.SeekCurrent); err != nil {
			return 0, fmt.Errorf("skip box %q: %w", boxType, err)
		}

		if remaining >= 0 {
			remaining -= size
		}
	}
}

// parseMvhd reads timescale and duration out of a movie header payload.
func parseMvhd(r io.Reader, payload int64) (time.Duration, error) {
	var versionFlags [4]byte
	if _, err := io.ReadFull(r, versionFlags[:]); err != nil {
		return 0, fmt.Errorf("read mvhd version: %w", err)
	}

	var timescale uint32
	var duration uint64

	switch version := versionFlags[0]; version {
	case 0:
		if payload >= 0 && payload < 4+16 {
			return 0, ErrDurationUnknown
		}
		var buf [16]byte // creation(4) modification(4) timescale(4) duration(4)
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("read mvhd v0: %w", err)
		}
		timescale = binary.BigEndian.Uint32(buf[8:12])
		d := binary.BigEndian.Uint32(buf[12:16])
		if d == 0xFFFFFFFF {
			return 0, ErrDurationUnknown
		}
		duration = uint64(d)
	case 1:
		if payload >= 0 && payload < 4+28 {
			return 0, ErrDurationUnknown
		}
		var buf [28]byte // creation(8) modification(8) timescale(4) duration(8)
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("read mvhd v1: %w", err)
		}
		timescale = binary.BigEndian.Uint32(buf[16:20])
		duration = binary.BigEndian.Uint64(buf[20:28])
		if duration == ^uint64(0) {
			return 0, ErrDurationUnknown
		}
	default:
		return 0, fmt.Errorf("unsupported mvhd version %d", version)
	}

	if timescale == 0 || duration == 0 {
		return 0, ErrDurationUnknown
	}

	secs := float64(duration) / float64(timescale)
	return time.Duration(secs * float64(time.Second)), nil
}

// ProbeImageSize reads the pixel dimensions of a PNG, JPEG or GIF
// without decoding the full image.
func ProbeImageSize(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
