// Package preview plays the selected segments of a media element back to
// back, one boundary-limited range at a time.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/metrics"
	"github.com/heimdex/heimdex-annotator/internal/playback"
)

type State int

const (
	Idle State = iota
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = Idle
	case "playing":
		*s = Playing
	default:
		return fmt.Errorf("unknown preview state %q", b)
	}
	return nil
}

// Reason tells a presenter why a preview ended.
type Reason string

const (
	ReasonCompleted Reason = "completed"
	ReasonStopped   Reason = "stopped"
)

// Presenter reflects sequencer progress in the user interface. Calls are
// made while the sequencer holds its lock, so implementations must not call
// back into the sequencer.
type Presenter interface {
	PreviewStarted(videoKey string, queue []catalog.Segment)
	PreviewStopped(videoKey string, reason Reason)
	Highlight(videoKey, segmentID string)
	ClearHighlight(videoKey string)
}

// Source provides the selected segments of one media element in playback order.
type Source interface {
	Snapshot(videoKey string) []catalog.Segment
}

type Config struct {
	PollInterval time.Duration
	SegmentGap   time.Duration
	PlayTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 100 * time.Millisecond,
		SegmentGap:   500 * time.Millisecond,
		PlayTimeout:  5 * time.Second,
	}
}

// Status is a point-in-time view of a sequencer.
type Status struct {
	VideoKey  string `json:"video_key"`
	State     State  `json:"state"`
	Index     int    `json:"index"`
	QueueLen  int    `json:"queue_length"`
	SegmentID string `json:"segment_id,omitempty"`
}

// Sequencer drives one media element through a preview queue.
//
// Every armed callback captures the token current when it was armed. Any
// transition bumps the token, so a callback that fires after a stop or a
// restart finds a stale token and does nothing.
type Sequencer struct {
	key    string
	el     playback.Element
	src    Source
	pres   Presenter
	sched  Scheduler
	cfg    Config
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	queue      []catalog.Segment
	index      int
	token      uint64
	stopToken  uint64
	watch      Timer
	delay      Timer
	cancelPlay context.CancelFunc
}

func NewSequencer(key string, el playback.Element, src Source, pres Presenter, sched Scheduler, cfg Config, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		key:    key,
		el:     el,
		src:    src,
		pres:   pres,
		sched:  sched,
		cfg:    cfg,
		logger: logger.With("video", key),
	}
}

func (s *Sequencer) Key() string {
	return s.key
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		VideoKey: s.key,
		State:    s.state,
		Index:    s.index,
		QueueLen: len(s.queue),
	}
	if s.state == Playing && s.index < len(s.queue) {
		st.SegmentID = s.queue[s.index].ID
	}
	return st
}

// Start snapshots the selection and plays it from the first segment. It
// returns false when nothing is selected, touching neither the element nor
// the presenter unless a running preview has to end. Starting while playing
// restarts from a fresh snapshot.
func (s *Sequencer) Start() bool {
	queue := s.src.Snapshot(s.key)

	s.mu.Lock()
	if len(queue) == 0 {
		if s.state == Playing {
			s.stopLocked(ReasonStopped)
		}
		s.mu.Unlock()
		return false
	}
	s.invalidateLocked()
	s.state = Playing
	s.queue = queue
	s.index = 0
	s.pres.PreviewStarted(s.key, queue)
	s.logger.Info("preview started", "segments", len(queue))
	play := s.enterLocked()
	s.mu.Unlock()

	play()
	return true
}

// Stop ends a running preview. It is a no-op while idle.
func (s *Sequencer) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return false
	}
	s.stopLocked(ReasonStopped)
	return true
}

// PreviewSegment plays a single segment and pauses at its end. A running
// preview is stopped first.
func (s *Sequencer) PreviewSegment(seg catalog.Segment) {
	s.mu.Lock()
	tok := s.interruptLocked()
	s.seekLocked(seg.Start)
	s.watch = s.sched.Every(s.cfg.PollInterval, func() { s.checkClip(tok, seg.End) })
	play := s.playLater(tok)
	s.mu.Unlock()

	play()
}

// Jump seeks to the start of seg and plays on from there without a boundary.
func (s *Sequencer) Jump(seg catalog.Segment) {
	s.mu.Lock()
	tok := s.interruptLocked()
	s.seekLocked(seg.Start)
	play := s.playLater(tok)
	s.mu.Unlock()

	play()
}

// enterLocked moves the highlight to the current segment, seeks to its start
// and arms the boundary watch. The returned func dispatches the play request
// and must be called after the lock is released.
func (s *Sequencer) enterLocked() func() {
	seg := s.queue[s.index]
	tok := s.token

	s.pres.ClearHighlight(s.key)
	s.pres.Highlight(s.key, seg.ID)
	s.seekLocked(seg.Start)
	metrics.PreviewSegmentsPlayed.WithLabelValues(s.key).Inc()
	s.logger.Debug("preview segment", "segment_id", seg.ID, "index", s.index, "start", seg.Start, "end", seg.End)

	s.watch = s.sched.Every(s.cfg.PollInterval, func() { s.checkBoundary(tok, seg.End) })
	return s.playLater(tok)
}

// checkBoundary runs on every poll while a segment plays. A paused element
// counts as finished, so pausing skips to the next queued segment.
func (s *Sequencer) checkBoundary(tok uint64, end float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.token || s.state != Playing {
		return
	}
	if s.el.Position() < end && !s.el.Paused() {
		return
	}

	stopTimer(&s.watch)
	s.index++
	next := s.nextTokenLocked()
	s.delay = s.sched.AfterFunc(s.cfg.SegmentGap, func() { s.advance(next) })
}

func (s *Sequencer) advance(tok uint64) {
	s.mu.Lock()
	if tok != s.token || s.state != Playing {
		s.mu.Unlock()
		return
	}
	s.delay = nil
	if s.index >= len(s.queue) {
		s.stopLocked(ReasonCompleted)
		s.mu.Unlock()
		return
	}
	play := s.enterLocked()
	s.mu.Unlock()

	play()
}

func (s *Sequencer) checkClip(tok uint64, end float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok != s.token {
		return
	}
	if s.el.Paused() {
		stopTimer(&s.watch)
		return
	}
	if s.el.Position() >= end {
		stopTimer(&s.watch)
		s.nextTokenLocked()
		s.pauseLocked()
	}
}

func (s *Sequencer) stopLocked(reason Reason) {
	s.invalidateLocked()
	s.stopToken = s.token
	s.state = Idle
	s.queue = nil
	s.index = 0

	s.pauseLocked()
	s.pres.ClearHighlight(s.key)
	s.pres.PreviewStopped(s.key, reason)
	metrics.PreviewRunsTotal.WithLabelValues(s.key, string(reason)).Inc()
	s.logger.Info("preview ended", "reason", reason)
}

// interruptLocked stops a running preview and invalidates any pending
// callback, returning the token for the caller's new work.
func (s *Sequencer) interruptLocked() uint64 {
	if s.state == Playing {
		s.stopLocked(ReasonStopped)
	}
	return s.invalidateLocked()
}

func (s *Sequencer) invalidateLocked() uint64 {
	stopTimer(&s.watch)
	stopTimer(&s.delay)
	return s.nextTokenLocked()
}

func (s *Sequencer) nextTokenLocked() uint64 {
	s.token++
	if s.cancelPlay != nil {
		s.cancelPlay()
		s.cancelPlay = nil
	}
	return s.token
}

func (s *Sequencer) seekLocked(t float64) {
	if err := s.el.Seek(t); err != nil {
		s.logger.Warn("seek failed", "position", t, "error", err)
	}
}

func (s *Sequencer) pauseLocked() {
	if err := s.el.Pause(); err != nil && !errors.Is(err, playback.ErrDetached) {
		s.logger.Warn("pause failed", "error", err)
	}
}

func (s *Sequencer) playLater(tok uint64) func() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PlayTimeout)
	s.cancelPlay = cancel
	return func() {
		s.sched.Go(func() { s.play(ctx, cancel, tok) })
	}
}

// play issues the asynchronous play request. Failures are logged and counted;
// the boundary watch keeps governing progress either way.
func (s *Sequencer) play(ctx context.Context, cancel context.CancelFunc, tok uint64) {
	defer cancel()
	if ctx.Err() != nil {
		return
	}

	err := s.el.Play(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("play failed", "error", err)
		metrics.IncPlayFailure(s.key)
	}
	// A stop that landed while the request was in flight must win.
	if tok != s.token && s.token == s.stopToken {
		s.pauseLocked()
	}
}

func stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
