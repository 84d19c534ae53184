// Package session holds the state of one annotation session and exposes the
// operations the HTTP API, the tray and the host page drive it with.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-annotator/internal/assets"
	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/export"
	"github.com/heimdex/heimdex-annotator/internal/metrics"
	"github.com/heimdex/heimdex-annotator/internal/playback"
	"github.com/heimdex/heimdex-annotator/internal/preview"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/result"
	"github.com/heimdex/heimdex-annotator/internal/selection"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

var (
	ErrUnknownVideo    = errors.New("unknown video")
	ErrUnknownSegment  = errors.New("unknown segment")
	// ErrInvalidFraction is returned by Seek for a fraction outside [0, 1].
	ErrInvalidFraction = errors.New("seek fraction must be between 0 and 1")
	// ErrDurationUnknown means the element has not reported its metadata yet.
	ErrDurationUnknown = errors.New("video duration not known yet")
)

// NoSegmentMessage is the notice shown when include-current misses every segment.
const NoSegmentMessage = "No segment found at current playback position"

// Publisher sends a message to connected clients of a role.
type Publisher interface {
	Publish(role realtime.Role, v any) error
}

type Options struct {
	// ID defaults to a random uuid.
	ID       string
	Metadata result.Metadata
	Mode     submit.Mode
	Bounds   result.Bounds
	Preview  preview.Config
	// Scheduler defaults to the system clock.
	Scheduler preview.Scheduler
	Sink      submit.Sink
	// Repo records submissions. May be nil.
	Repo submit.Repository
	// Resolver builds video URLs. May be nil.
	Resolver assets.Resolver
	Now      func() time.Time
}

// Session is the explicit context of one annotator's work: the catalog, the
// selection, one preview sequencer per media element and the submission path.
type Session struct {
	id       string
	meta     result.Metadata
	cat      *catalog.Catalog
	store    *selection.Store
	elements map[string]playback.Element
	previews *preview.Manager
	submit   *submit.Service
	hub      Publisher
	resolver assets.Resolver
	logger   *slog.Logger
}

func New(cat *catalog.Catalog, elements map[string]playback.Element, hub Publisher, opts Options, logger *slog.Logger) *Session {
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Scheduler == nil {
		opts.Scheduler = preview.SystemScheduler{}
	}
	if opts.Bounds == (result.Bounds{}) {
		opts.Bounds = result.DefaultBounds()
	}
	logger = logger.With("session_id", opts.ID)

	s := &Session{
		id:       opts.ID,
		meta:     opts.Metadata,
		cat:      cat,
		store:    selection.NewStore(cat),
		elements: elements,
		hub:      hub,
		resolver: opts.Resolver,
		logger:   logger,
	}

	pres := newPresenter(hub, cat, s.store.CountFor, logger.With("component", "presenter"))
	s.previews = preview.NewManager(elements, s.store, pres, opts.Scheduler, opts.Preview, logger.With("component", "preview"))
	s.submit = submit.NewService(cat, s.store, opts.Sink, submit.Options{
		SessionID: opts.ID,
		Mode:      opts.Mode,
		Metadata:  opts.Metadata,
		Bounds:    opts.Bounds,
		Host:      hub,
		Repo:      opts.Repo,
		Now:       opts.Now,
	}, logger.With("component", "submit"))

	s.store.Subscribe(s.selectionChanged)
	for _, key := range cat.VideoKeys() {
		if el, ok := elements[key]; ok {
			s.watchElement(key, el)
		}
	}
	return s
}

// watchElement forwards element metadata and position reports to the pages.
func (s *Session) watchElement(key string, el playback.Element) {
	el.OnMetadata(func(duration float64) {
		s.publish(Event{Type: EventMetadata, VideoKey: key, Duration: &duration})
	})
	el.OnPosition(func(position float64) {
		s.publish(Event{Type: EventPosition, VideoKey: key, Position: &position})
	})
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Catalog() *catalog.Catalog {
	return s.cat
}

func (s *Session) Metadata() result.Metadata {
	return s.meta
}

func (s *Session) selectionChanged(c selection.Change) {
	action := "deselect"
	if c.Selected {
		action = "select"
	}
	metrics.ObserveToggle(action, c.Percentage)

	playing := false
	if seq, ok := s.previews.Get(c.VideoKey); ok {
		playing = seq.State() == preview.Playing
	}
	change := c
	s.publish(Event{
		Type:      EventSelectionChanged,
		VideoKey:  c.VideoKey,
		SegmentID: c.SegmentID,
		Selection: &change,
		Controls:  controls(c.VideoCount, playing),
	})
}

func (s *Session) publish(ev Event) {
	if err := s.hub.Publish(realtime.RoleUI, ev); err != nil {
		s.logger.Warn("failed to publish ui event", "type", ev.Type, "error", err)
	}
}

// Toggle flips the selection of one segment and reports its new state.
func (s *Session) Toggle(segmentID string) (bool, error) {
	selected, ok := s.store.Toggle(segmentID)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownSegment, segmentID)
	}
	return selected, nil
}

// IncludeCurrent selects the segment under the element's playback position.
func (s *Session) IncludeCurrent(videoKey string) (catalog.Segment, bool, error) {
	el, ok := s.elements[videoKey]
	if !ok {
		return catalog.Segment{}, false, fmt.Errorf("%w: %s", ErrUnknownVideo, videoKey)
	}
	return s.IncludeAt(videoKey, el.Position())
}

// IncludeAt selects the segment of videoKey containing t. When t lies in no
// segment the pages are told so and selection.ErrNoSegmentAtPosition returned.
func (s *Session) IncludeAt(videoKey string, t float64) (catalog.Segment, bool, error) {
	if _, ok := s.cat.Video(videoKey); !ok {
		return catalog.Segment{}, false, fmt.Errorf("%w: %s", ErrUnknownVideo, videoKey)
	}
	seg, added, err := s.store.IncludeAtTime(videoKey, t)
	if errors.Is(err, selection.ErrNoSegmentAtPosition) {
		s.publish(Event{Type: EventNotice, VideoKey: videoKey, Message: NoSegmentMessage})
	}
	return seg, added, err
}

// Seek moves the element of videoKey to fraction of its duration, the way a
// click on the progress bar does.
func (s *Session) Seek(videoKey string, fraction float64) error {
	el, ok := s.elements[videoKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownVideo, videoKey)
	}
	if math.IsNaN(fraction) || fraction < 0 || fraction > 1 {
		return fmt.Errorf("%w: %g", ErrInvalidFraction, fraction)
	}
	duration := el.Duration()
	if duration <= 0 {
		return fmt.Errorf("%w: %s", ErrDurationUnknown, videoKey)
	}
	if err := el.Seek(fraction * duration); err != nil {
		return fmt.Errorf("seek %s: %w", videoKey, err)
	}
	return nil
}

func (s *Session) sequencer(videoKey string) (*preview.Sequencer, error) {
	seq, ok := s.previews.Get(videoKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, videoKey)
	}
	return seq, nil
}

// StartPreview plays the selected segments of videoKey. It reports false when
// nothing is selected there.
func (s *Session) StartPreview(videoKey string) (bool, error) {
	seq, err := s.sequencer(videoKey)
	if err != nil {
		return false, err
	}
	return seq.Start(), nil
}

func (s *Session) StopPreview(videoKey string) (bool, error) {
	seq, err := s.sequencer(videoKey)
	if err != nil {
		return false, err
	}
	return seq.Stop(), nil
}

// StopAll stops every running preview.
func (s *Session) StopAll() int {
	return s.previews.StopAll()
}

func (s *Session) segment(segmentID string) (catalog.Segment, *preview.Sequencer, error) {
	seg, ok := s.cat.Segment(segmentID)
	if !ok {
		return catalog.Segment{}, nil, fmt.Errorf("%w: %s", ErrUnknownSegment, segmentID)
	}
	seq, err := s.sequencer(seg.VideoKey)
	if err != nil {
		return catalog.Segment{}, nil, err
	}
	return seg, seq, nil
}

// Jump seeks the segment's element to its start and plays on.
func (s *Session) Jump(segmentID string) error {
	seg, seq, err := s.segment(segmentID)
	if err != nil {
		return err
	}
	seq.Jump(seg)
	return nil
}

// PreviewSegment plays one segment and pauses at its end.
func (s *Session) PreviewSegment(segmentID string) error {
	seg, seq, err := s.segment(segmentID)
	if err != nil {
		return err
	}
	seq.PreviewSegment(seg)
	return nil
}

// Submit validates and delivers the selection.
func (s *Session) Submit(ctx context.Context) (*submit.Submission, error) {
	return s.submit.Submit(ctx)
}

// HandleMessage serves inbound hub messages. Host save requests submit.
func (s *Session) HandleMessage(msg realtime.Inbound) {
	if msg.Type != submit.MsgSaveRequest {
		s.logger.Debug("ignoring realtime message", "type", msg.Type, "role", msg.Role)
		return
	}
	if _, err := s.Submit(context.Background()); err != nil {
		var verr *result.ValidationError
		if !errors.As(err, &verr) {
			s.logger.Error("host save request failed", "client_id", msg.ClientID, "error", err)
		}
	}
}

type VideoStatus struct {
	Key      string         `json:"key"`
	SourceID string         `json:"source_id"`
	Segments int            `json:"segments"`
	Selected int            `json:"selected"`
	Attached bool           `json:"attached"`
	Controls Controls       `json:"controls"`
	Preview  preview.Status `json:"preview"`
}

type Status struct {
	ID               string          `json:"id"`
	Layout           catalog.Layout  `json:"layout"`
	Mode             submit.Mode     `json:"mode"`
	Metadata         result.Metadata `json:"metadata"`
	TotalSegments    int             `json:"total_segments"`
	TotalDuration    float64         `json:"total_duration"`
	SelectedSegments int             `json:"selected_segments"`
	SelectedDuration float64         `json:"selected_duration"`
	Percentage       float64         `json:"percentage"`
	Bounds           result.Bounds   `json:"bounds"`
	WithinBounds     bool            `json:"within_bounds"`
	Previewing       bool            `json:"previewing"`
	Videos           []VideoStatus   `json:"videos"`
}

func (s *Session) Status() Status {
	pct := s.store.Percentage()
	bounds := s.submit.Bounds()
	st := Status{
		ID:               s.id,
		Layout:           s.cat.Layout(),
		Mode:             s.submit.Mode(),
		Metadata:         s.meta,
		TotalSegments:    s.cat.Len(),
		TotalDuration:    s.cat.TotalDuration(),
		SelectedSegments: s.store.Count(),
		SelectedDuration: s.store.Duration(),
		Percentage:       pct,
		Bounds:           bounds,
		WithinBounds:     bounds.Contains(pct),
		Previewing:       s.previews.Playing(),
	}
	previews := make(map[string]preview.Status)
	for _, ps := range s.previews.Statuses() {
		previews[ps.VideoKey] = ps
	}
	for _, v := range s.cat.Videos() {
		vs := VideoStatus{
			Key:      v.Key,
			SourceID: v.SourceID,
			Segments: len(v.Segments),
			Selected: s.store.CountFor(v.Key),
		}
		if a, ok := s.elements[v.Key].(interface{ Attached() bool }); ok {
			vs.Attached = a.Attached()
		}
		vs.Preview = previews[v.Key]
		vs.Controls = *controls(vs.Selected, vs.Preview.State == preview.Playing)
		st.Videos = append(st.Videos, vs)
	}
	return st
}

// Video describes one media element for the page.
type Video struct {
	Key      string `json:"key"`
	SourceID string `json:"source_id"`
	URL      string `json:"url,omitempty"`
	Segments int    `json:"segments"`
	Color    string `json:"color,omitempty"`
}

// Videos lists the media elements with their video URLs.
func (s *Session) Videos(ctx context.Context) ([]Video, error) {
	var colors map[string]string
	if s.cat.Layout() == catalog.LayoutConcatenated {
		colors = catalog.Palette(s.cat)
	}
	out := make([]Video, 0, len(s.cat.Videos()))
	for _, v := range s.cat.Videos() {
		video := Video{Key: v.Key, SourceID: v.SourceID, Segments: len(v.Segments), Color: colors[v.SourceID]}
		if s.resolver != nil {
			url, err := s.resolver.VideoURL(ctx, s.meta.Area, s.meta.Place, v.SourceID)
			if err != nil {
				return nil, fmt.Errorf("resolve video %s: %w", v.Key, err)
			}
			video.URL = url
		}
		out = append(out, video)
	}
	return out, nil
}

// SegmentView is a catalog segment with its selection state.
type SegmentView struct {
	catalog.Segment
	Selected bool   `json:"selected"`
	Color    string `json:"color,omitempty"`
}

// Segments lists every segment in timeline order, optionally for one video.
func (s *Session) Segments(videoKey string) ([]SegmentView, error) {
	videos := s.cat.Videos()
	if videoKey != "" {
		v, ok := s.cat.Video(videoKey)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownVideo, videoKey)
		}
		videos = []*catalog.Video{v}
	}
	var colors map[string]string
	if s.cat.Layout() == catalog.LayoutConcatenated {
		colors = catalog.Palette(s.cat)
	}

	var out []SegmentView
	for _, v := range videos {
		for _, seg := range v.Segments {
			out = append(out, SegmentView{
				Segment:  seg,
				Selected: s.store.IsSelected(seg.ID),
				Color:    colors[seg.SourceVideoID],
			})
		}
	}
	return out, nil
}

// Selection lists the selected segments.
func (s *Session) Selection() []selection.Entry {
	return s.store.Entries()
}

// EDL renders the selection as an edit decision list, one event per selected
// segment in preview order.
func (s *Session) EDL(title string, frameRate float64) string {
	if title == "" {
		title = s.meta.City
	}
	var clips []export.Clip
	for _, key := range s.cat.VideoKeys() {
		clips = append(clips, export.ClipsFromSegments(s.store.Snapshot(key), s.mediaPath)...)
	}
	return export.EDL{Title: title, FrameRate: frameRate, Clips: clips}.String()
}

func (s *Session) mediaPath(seg catalog.Segment) string {
	v, ok := s.cat.Video(seg.VideoKey)
	if !ok {
		return seg.SourceVideoID + ".mp4"
	}
	key, err := assets.ObjectKey(s.meta.Area, s.meta.Place, v.SourceID)
	if err != nil {
		return v.SourceID + ".mp4"
	}
	return key
}
