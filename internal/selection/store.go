// Package selection tracks which catalog segments an annotator has included
// and keeps the derived aggregates in step with every mutation.
package selection

import (
	"errors"
	"sort"
	"sync"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
)

// ErrNoSegmentAtPosition is reported when a time lies outside every segment.
var ErrNoSegmentAtPosition = errors.New("no segment found at current playback position")

// Entry is what the store remembers about a selected segment.
type Entry struct {
	SegmentID             string  `json:"segment_id"`
	VideoKey              string  `json:"video_key"`
	SourceVideoID         string  `json:"source_video_id"`
	SegmentNumber         int     `json:"segment_number"`
	OriginalSegmentNumber int     `json:"original_segment_number"`
	Duration              float64 `json:"duration"`
}

// Change is delivered to subscribers after each mutation.
type Change struct {
	SegmentID  string  `json:"segment_id"`
	VideoKey   string  `json:"video_key"`
	Selected   bool    `json:"selected"`
	Count      int     `json:"selected_segments"`
	VideoCount int     `json:"video_selected_segments"`
	Duration   float64 `json:"selected_duration"`
	Percentage float64 `json:"percentage"`
}

// Store is the mutable selection of one session.
type Store struct {
	cat *catalog.Catalog

	mu             sync.RWMutex
	entries        map[string]Entry
	perVideo       map[string]int
	selectedMicros int64

	subMu       sync.Mutex
	subscribers []func(Change)
}

func NewStore(cat *catalog.Catalog) *Store {
	return &Store{
		cat:      cat,
		entries:  make(map[string]Entry),
		perVideo: make(map[string]int),
	}
}

// Subscribe registers fn to be called after every mutation, outside the store lock.
func (s *Store) Subscribe(fn func(Change)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// Toggle flips the selection state of id. Unknown ids are ignored and
// reported through ok.
func (s *Store) Toggle(id string) (selected, ok bool) {
	seg, found := s.cat.Segment(id)
	if !found {
		return false, false
	}

	s.mu.Lock()
	if _, exists := s.entries[id]; exists {
		s.remove(seg)
	} else {
		s.add(seg)
		selected = true
	}
	change := s.changeLocked(seg, selected)
	s.mu.Unlock()

	s.notify(change)
	return selected, true
}

// IncludeAtTime selects the segment of videoKey containing t, if it is not
// selected already. added is false when the segment was already included.
func (s *Store) IncludeAtTime(videoKey string, t float64) (seg catalog.Segment, added bool, err error) {
	seg, found := s.cat.SegmentAt(videoKey, t)
	if !found {
		return catalog.Segment{}, false, ErrNoSegmentAtPosition
	}

	s.mu.Lock()
	if _, exists := s.entries[seg.ID]; exists {
		s.mu.Unlock()
		return seg, false, nil
	}
	s.add(seg)
	change := s.changeLocked(seg, true)
	s.mu.Unlock()

	s.notify(change)
	return seg, true, nil
}

func (s *Store) add(seg catalog.Segment) {
	s.entries[seg.ID] = Entry{
		SegmentID:             seg.ID,
		VideoKey:              seg.VideoKey,
		SourceVideoID:         seg.SourceVideoID,
		SegmentNumber:         seg.SegmentNumber,
		OriginalSegmentNumber: seg.OriginalSegmentNumber,
		Duration:              seg.Duration,
	}
	s.perVideo[seg.VideoKey]++
	s.selectedMicros += seg.DurationMicros()
}

func (s *Store) remove(seg catalog.Segment) {
	delete(s.entries, seg.ID)
	s.perVideo[seg.VideoKey]--
	s.selectedMicros -= seg.DurationMicros()
}

func (s *Store) changeLocked(seg catalog.Segment, selected bool) Change {
	return Change{
		SegmentID:  seg.ID,
		VideoKey:   seg.VideoKey,
		Selected:   selected,
		Count:      len(s.entries),
		VideoCount: s.perVideo[seg.VideoKey],
		Duration:   catalog.Seconds(s.selectedMicros),
		Percentage: s.percentageLocked(),
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	subs := make([]func(Change), len(s.subscribers))
	copy(subs, s.subscribers)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(c)
	}
}

func (s *Store) IsSelected(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Count is the number of selected segments.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// CountFor is the number of selected segments on one media element.
func (s *Store) CountFor(videoKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.perVideo[videoKey]
}

// Duration is the summed duration of the selection, in seconds.
func (s *Store) Duration() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return catalog.Seconds(s.selectedMicros)
}

// Percentage is Duration relative to the catalog total, 0 for an empty catalog.
func (s *Store) Percentage() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.percentageLocked()
}

func (s *Store) percentageLocked() float64 {
	total := s.cat.TotalMicros()
	if total == 0 {
		return 0
	}
	return float64(s.selectedMicros) * 100 / float64(total)
}

// Frozen is a copy of the selection taken under a single lock, so its ids,
// count and duration always agree.
type Frozen struct {
	IDs        map[string]struct{}
	Count      int
	Micros     int64
	Percentage float64
}

func (f Frozen) Has(id string) bool {
	_, ok := f.IDs[id]
	return ok
}

// Freeze returns a consistent copy of the selection.
func (s *Store) Freeze() Frozen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make(map[string]struct{}, len(s.entries))
	for id := range s.entries {
		ids[id] = struct{}{}
	}
	return Frozen{
		IDs:        ids,
		Count:      len(s.entries),
		Micros:     s.selectedMicros,
		Percentage: s.percentageLocked(),
	}
}

// Entries returns a copy of the selection records.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].VideoKey != out[j].VideoKey {
			return out[i].VideoKey < out[j].VideoKey
		}
		return out[i].SegmentNumber < out[j].SegmentNumber
	})
	return out
}

// Snapshot returns the selected segments of videoKey ordered by segment
// number. The slice is detached from the store.
func (s *Store) Snapshot(videoKey string) []catalog.Segment {
	v, ok := s.cat.Video(videoKey)
	if !ok {
		return nil
	}

	s.mu.RLock()
	var out []catalog.Segment
	for _, seg := range v.Segments {
		if _, selected := s.entries[seg.ID]; selected {
			out = append(out, seg)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SegmentNumber < out[j].SegmentNumber
	})
	return out
}
