package session

import (
	"log/slog"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/preview"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/selection"
)

// UI event types published to annotation pages.
const (
	EventSelectionChanged = "selection-changed"
	EventPreviewStarted   = "preview-started"
	EventPreviewStopped   = "preview-stopped"
	EventSegmentHighlight = "segment-highlight"
	EventHighlightCleared = "highlight-cleared"
	EventNotice           = "notice"
	EventMetadata         = "metadata"
	EventPosition         = "position"
)

// Event is one UI notification. Only the fields relevant to Type are set.
type Event struct {
	Type          string            `json:"type"`
	VideoKey      string            `json:"video_key,omitempty"`
	SegmentID     string            `json:"segment_id,omitempty"`
	SourceVideoID string            `json:"source_video_id,omitempty"`
	Color         string            `json:"color,omitempty"`
	Queue         []string          `json:"queue,omitempty"`
	Reason        preview.Reason    `json:"reason,omitempty"`
	Message       string            `json:"message,omitempty"`
	Duration      *float64          `json:"duration,omitempty"`
	Position      *float64          `json:"position,omitempty"`
	Selection     *selection.Change `json:"selection,omitempty"`
	Controls      *Controls         `json:"controls,omitempty"`
}

// Controls is the state of one element's preview buttons.
type Controls struct {
	PreviewEnabled bool `json:"preview_enabled"`
	PreviewVisible bool `json:"preview_visible"`
	StopVisible    bool `json:"stop_visible"`
}

func controls(selected int, playing bool) *Controls {
	return &Controls{
		PreviewEnabled: selected > 0,
		PreviewVisible: !playing,
		StopVisible:    playing,
	}
}

// presenter turns sequencer progress into UI events. In the concatenated
// layout highlights also carry the source video and its palette colour.
type presenter struct {
	pub    Publisher
	cat    *catalog.Catalog
	counts func(videoKey string) int
	colors map[string]string
	logger *slog.Logger
}

func newPresenter(pub Publisher, cat *catalog.Catalog, counts func(string) int, logger *slog.Logger) *presenter {
	p := &presenter{pub: pub, cat: cat, counts: counts, logger: logger}
	if cat.Layout() == catalog.LayoutConcatenated {
		p.colors = catalog.Palette(cat)
	}
	return p
}

func (p *presenter) PreviewStarted(videoKey string, queue []catalog.Segment) {
	ids := make([]string, len(queue))
	for i, seg := range queue {
		ids[i] = seg.ID
	}
	p.publish(Event{
		Type:     EventPreviewStarted,
		VideoKey: videoKey,
		Queue:    ids,
		Controls: controls(len(queue), true),
	})
}

func (p *presenter) PreviewStopped(videoKey string, reason preview.Reason) {
	p.publish(Event{
		Type:     EventPreviewStopped,
		VideoKey: videoKey,
		Reason:   reason,
		Controls: controls(p.counts(videoKey), false),
	})
}

func (p *presenter) Highlight(videoKey, segmentID string) {
	ev := Event{Type: EventSegmentHighlight, VideoKey: videoKey, SegmentID: segmentID}
	if seg, ok := p.cat.Segment(segmentID); ok {
		ev.SourceVideoID = seg.SourceVideoID
		if p.colors != nil {
			ev.Color = p.colors[seg.SourceVideoID]
		}
	}
	p.publish(ev)
}

func (p *presenter) ClearHighlight(videoKey string) {
	p.publish(Event{Type: EventHighlightCleared, VideoKey: videoKey})
}

func (p *presenter) publish(ev Event) {
	if err := p.pub.Publish(realtime.RoleUI, ev); err != nil {
		p.logger.Warn("failed to publish ui event", "type", ev.Type, "error", err)
	}
}
