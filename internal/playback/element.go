package playback

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDetached is returned when no page currently drives the element.
	ErrDetached = errors.New("media element is not attached")
	// ErrSendBufferFull is returned when the page stops draining commands.
	ErrSendBufferFull = errors.New("media element command buffer is full")
)

// PlayError reports that the media element refused to start playback,
// typically because of the browser autoplay policy.
type PlayError struct {
	VideoKey string
	Reason   string
}

func (e *PlayError) Error() string {
	return fmt.Sprintf("play rejected on %s: %s", e.VideoKey, e.Reason)
}

// Element is the capability set of one media element. Positions and
// durations are seconds.
type Element interface {
	Seek(t float64) error
	// Play starts playback and may block until the element settles.
	Play(ctx context.Context) error
	Pause() error
	Position() float64
	Duration() float64
	Paused() bool
	OnMetadata(fn func(duration float64))
	OnPosition(fn func(position float64))
}
