// Package result projects a session's selection into the submitted document.
package result

import (
	"fmt"
	"time"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/export"
	"github.com/heimdex/heimdex-annotator/internal/selection"
)

// TimestampLayout matches JavaScript's Date.toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Metadata identifies the annotated place. It comes from the hosting page.
type Metadata struct {
	City  string `json:"city" yaml:"city"`
	Area  string `json:"area" yaml:"area"`
	Place string `json:"place" yaml:"place"`
}

// Bounds is the inclusive percentage window a submission must fall in.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func DefaultBounds() Bounds {
	return Bounds{Min: 5, Max: 15}
}

func (b Bounds) Contains(pct float64) bool {
	return pct >= b.Min && pct <= b.Max
}

// ValidationError blocks a submission whose percentage is out of bounds.
type ValidationError struct {
	Percentage float64
	Min        float64
	Max        float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Please select between %g%% and %g%% of segments.\nCurrent: %.1f%%", e.Min, e.Max, e.Percentage)
}

// Selection is the read side of the selection store.
type Selection interface {
	Freeze() selection.Frozen
}

// Result is the submitted document.
type Result struct {
	City             string                    `json:"city"`
	Area             string                    `json:"area"`
	Place            string                    `json:"place"`
	Selections       map[string]map[string]int `json:"selections"`
	TotalSegments    int                       `json:"total_segments"`
	SelectedSegments int                       `json:"selected_segments"`
	Percentage       float64                   `json:"percentage"`
	Timestamp        string                    `json:"timestamp"`
	ConcatenatedView *bool                     `json:"concatenated_view,omitempty"`
}

// SegmentKey is the per-segment key inside a selections entry.
func SegmentKey(n int) string {
	return fmt.Sprintf("segment_%d", n)
}

// Format validates the selection against bounds and builds the result.
// Every catalog segment appears exactly once under its original video, keyed
// by its original segment number, valued 1 when selected and 0 otherwise.
func Format(cat *catalog.Catalog, sel Selection, meta Metadata, bounds Bounds, now time.Time) (*Result, error) {
	frozen := sel.Freeze()
	pct := frozen.Percentage
	if !bounds.Contains(pct) {
		return nil, &ValidationError{Percentage: pct, Min: bounds.Min, Max: bounds.Max}
	}

	selections := make(map[string]map[string]int)
	for _, v := range cat.Videos() {
		for _, seg := range v.Segments {
			byVideo, ok := selections[seg.SourceVideoID]
			if !ok {
				byVideo = make(map[string]int)
				selections[seg.SourceVideoID] = byVideo
			}
			key := SegmentKey(seg.OriginalSegmentNumber)
			if frozen.Has(seg.ID) {
				byVideo[key] = 1
			} else if _, seen := byVideo[key]; !seen {
				byVideo[key] = 0
			}
		}
	}

	r := &Result{
		City:             meta.City,
		Area:             meta.Area,
		Place:            meta.Place,
		Selections:       selections,
		TotalSegments:    cat.Len(),
		SelectedSegments: frozen.Count,
		Percentage:       pct,
		Timestamp:        now.UTC().Format(TimestampLayout),
	}
	if cat.Layout() == catalog.LayoutConcatenated {
		concatenated := true
		r.ConcatenatedView = &concatenated
	}
	return r, nil
}

// Filename is the download name of a standalone result.
func Filename(city string, now time.Time) string {
	name := export.SanitizeName(city, 64)
	if name == "" {
		name = "annotation"
	}
	return fmt.Sprintf("%s_results_%d.json", name, now.UnixMilli())
}
