// Package catalog builds the immutable segment catalog of an annotation
// session from fetched segment metadata.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

var (
	ErrEmptyCatalog = errors.New("no segments found for the requested videos")
	ErrNoVideos     = errors.New("no videos requested")
)

// Document is the fetched metadata: video id -> ordered segment records.
// Records stay raw so one malformed entry cannot fail the whole document.
type Document map[string][]json.RawMessage

type record struct {
	SegmentNumber         *int     `json:"segment_number"`
	Start                 *float64 `json:"start"`
	End                   *float64 `json:"end"`
	Duration              *float64 `json:"duration"`
	OriginalVideo         string   `json:"original_video,omitempty"`
	OriginalSegmentNumber *int     `json:"original_segment_number,omitempty"`
}

func (r record) complete() bool {
	return r.SegmentNumber != nil && r.Start != nil && r.End != nil && r.Duration != nil && *r.Duration > 0
}

// ParseDocument decodes a metadata document. Only a malformed top level is an error.
func ParseDocument(r io.Reader) (Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode segment metadata: %w", err)
	}
	return doc, nil
}

// Catalog is the read-only segment list of a session.
type Catalog struct {
	layout      Layout
	videos      []*Video
	byKey       map[string]*Video
	byID        map[string]Segment
	totalMicros int64
	skipped     int
}

// New builds a catalog for the requested video ids. Entries that cannot be
// decoded are dropped and counted in Skipped.
func New(doc Document, videoIDs []string, layout Layout) (*Catalog, error) {
	if len(videoIDs) == 0 {
		return nil, ErrNoVideos
	}

	c := &Catalog{
		layout: layout,
		byKey:  make(map[string]*Video),
		byID:   make(map[string]Segment),
	}

	switch layout {
	case LayoutConcatenated:
		timeline := videoIDs[0]
		if raw, ok := doc[timeline]; ok {
			c.addVideo(ConcatVideoKey, timeline, raw)
		}
	default:
		for i, id := range videoIDs {
			raw, ok := doc[id]
			if !ok {
				continue
			}
			c.addVideo(VideoKey(i), id, raw)
		}
	}

	if len(c.byID) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c, nil
}

func (c *Catalog) addVideo(key, sourceID string, raw []json.RawMessage) {
	v := &Video{Key: key, SourceID: sourceID}
	seen := make(map[int]bool, len(raw))

	for _, msg := range raw {
		var rec record
		if err := json.Unmarshal(msg, &rec); err != nil || !rec.complete() {
			c.skipped++
			continue
		}
		n := *rec.SegmentNumber
		if seen[n] {
			c.skipped++
			continue
		}
		seen[n] = true

		seg := Segment{
			ID:                    SegmentID(key, n),
			VideoKey:              key,
			SourceVideoID:         sourceID,
			SegmentNumber:         n,
			OriginalSegmentNumber: n,
			Start:                 *rec.Start,
			End:                   *rec.End,
			Duration:              *rec.Duration,
		}
		if c.layout == LayoutConcatenated {
			if rec.OriginalVideo != "" {
				seg.SourceVideoID = rec.OriginalVideo
			}
			if rec.OriginalSegmentNumber != nil {
				seg.OriginalSegmentNumber = *rec.OriginalSegmentNumber
			}
		}
		v.Segments = append(v.Segments, seg)
	}

	if len(v.Segments) == 0 {
		return
	}

	sort.SliceStable(v.Segments, func(i, j int) bool {
		return v.Segments[i].SegmentNumber < v.Segments[j].SegmentNumber
	})
	for _, seg := range v.Segments {
		c.byID[seg.ID] = seg
		c.totalMicros += seg.DurationMicros()
	}
	c.videos = append(c.videos, v)
	c.byKey[key] = v
}

func (c *Catalog) Layout() Layout {
	return c.layout
}

// Segment resolves a segment by id.
func (c *Catalog) Segment(id string) (Segment, bool) {
	seg, ok := c.byID[id]
	return seg, ok
}

func (c *Catalog) Video(key string) (*Video, bool) {
	v, ok := c.byKey[key]
	return v, ok
}

// Videos returns the videos in request order.
func (c *Catalog) Videos() []*Video {
	return c.videos
}

// VideoKeys returns the media element keys in request order.
func (c *Catalog) VideoKeys() []string {
	keys := make([]string, len(c.videos))
	for i, v := range c.videos {
		keys[i] = v.Key
	}
	return keys
}

// Len is the number of segments across all videos.
func (c *Catalog) Len() int {
	return len(c.byID)
}

// Skipped is the number of metadata entries dropped while building.
func (c *Catalog) Skipped() int {
	return c.skipped
}

// TotalDuration is the summed duration of every segment, in seconds.
func (c *Catalog) TotalDuration() float64 {
	return Seconds(c.totalMicros)
}

// TotalMicros is TotalDuration in microseconds.
func (c *Catalog) TotalMicros() int64 {
	return c.totalMicros
}

// SourceVideoIDs lists original video ids in order of first appearance.
func (c *Catalog) SourceVideoIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, v := range c.videos {
		for _, seg := range v.Segments {
			if !seen[seg.SourceVideoID] {
				seen[seg.SourceVideoID] = true
				ids = append(ids, seg.SourceVideoID)
			}
		}
	}
	return ids
}

// SegmentAt finds the first segment of videoKey, in segment order, whose
// closed range [start, end] contains t. A time equal to one segment's end and
// the next one's start therefore resolves to the earlier segment.
func (c *Catalog) SegmentAt(videoKey string, t float64) (Segment, bool) {
	v, ok := c.byKey[videoKey]
	if !ok {
		return Segment{}, false
	}
	for _, seg := range v.Segments {
		if seg.Contains(t) {
			return seg, true
		}
	}
	return Segment{}, false
}
