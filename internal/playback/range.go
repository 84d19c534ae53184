package playback

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRange  = errors.New("invalid range format")
	ErrUnsatisfiable = errors.New("range not satisfiable")
)

// ByteRange is an inclusive byte interval of a media file.
type ByteRange struct {
	Start int64
	End   int64
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses the first interval of a Range header against a file of
// size bytes. An empty header yields (nil, nil); browsers seeking inside a
// video send "bytes=N-" or "bytes=N-M".
func ParseRange(header string, size int64) (*ByteRange, error) {
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, ErrInvalidRange
	}
	if first, _, multi := strings.Cut(spec, ","); multi {
		spec = strings.TrimSpace(first)
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || strings.Contains(endStr, "-") {
		return nil, ErrInvalidRange
	}

	var r ByteRange
	switch {
	case startStr == "":
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return nil, ErrInvalidRange
		}
		r.Start = max(size-suffix, 0)
		r.End = size - 1
	default:
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 {
			return nil, ErrInvalidRange
		}
		r.Start = start
		r.End = size - 1
		if endStr != "" {
			end, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return nil, ErrInvalidRange
			}
			r.End = end
		}
	}

	if r.Start > r.End || r.Start >= size {
		return nil, ErrUnsatisfiable
	}
	if r.End >= size {
		r.End = size - 1
	}
	return &r, nil
}
