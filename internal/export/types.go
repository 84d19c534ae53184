package export

import (
	"math"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
)

// Clip is one event of a cut list: a source range laid end to end with the
// clips before it.
type Clip struct {
	Name      string
	MediaPath string
	SegmentID string
	StartMs   int
	EndMs     int
}

// ClipsFromSegments turns preview-ordered segments into cut list clips.
// mediaPath names the file each segment is cut from.
func ClipsFromSegments(segs []catalog.Segment, mediaPath func(catalog.Segment) string) []Clip {
	clips := make([]Clip, 0, len(segs))
	for _, seg := range segs {
		clips = append(clips, Clip{
			Name:      SanitizeName(seg.SourceVideoID+" "+seg.ID, 160),
			MediaPath: mediaPath(seg),
			SegmentID: seg.ID,
			StartMs:   int(math.Round(seg.Start * 1000)),
			EndMs:     int(math.Round(seg.End * 1000)),
		})
	}
	return clips
}
