package catalog

import (
	"fmt"
	"math"
)

// Layout selects how requested videos map onto media elements.
type Layout string

const (
	// LayoutMulti gives every requested video its own media element.
	LayoutMulti Layout = "multi"
	// LayoutConcatenated merges segments of several source videos into one timeline.
	LayoutConcatenated Layout = "concatenated"

	// ConcatVideoKey is the element key of the single concatenated timeline.
	ConcatVideoKey = "concat"
)

// ParseLayout accepts the config spelling of a layout.
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "", "multi":
		return LayoutMulti, nil
	case "concatenated", "concat":
		return LayoutConcatenated, nil
	default:
		return "", fmt.Errorf("unknown layout %q", s)
	}
}

// Segment is one fixed time range within a video. Times are seconds.
type Segment struct {
	ID                    string  `json:"id"`
	VideoKey              string  `json:"video_key"`
	SourceVideoID         string  `json:"source_video_id"`
	SegmentNumber         int     `json:"segment_number"`
	OriginalSegmentNumber int     `json:"original_segment_number"`
	Start                 float64 `json:"start"`
	End                   float64 `json:"end"`
	Duration              float64 `json:"duration"`
}

// Contains reports whether t lies in [Start, End], both ends inclusive.
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t <= s.End
}

// DurationMicros is the segment duration in whole microseconds.
func (s Segment) DurationMicros() int64 {
	return Micros(s.Duration)
}

// Video is the ordered segment list behind one media element.
type Video struct {
	Key      string    `json:"key"`
	SourceID string    `json:"source_id"`
	Segments []Segment `json:"segments"`
}

// SegmentID builds the catalog identifier of a segment.
func SegmentID(videoKey string, segmentNumber int) string {
	return fmt.Sprintf("%s_s%d", videoKey, segmentNumber)
}

// VideoKey returns the element key of the n-th (0-based) requested video.
func VideoKey(index int) string {
	return fmt.Sprintf("video%d", index+1)
}

// Micros converts seconds to whole microseconds. Durations are summed in
// this unit so totals stay exact under repeated add/subtract.
func Micros(seconds float64) int64 {
	return int64(math.Round(seconds * 1e6))
}

// Seconds converts microseconds back to seconds.
func Seconds(micros int64) float64 {
	return float64(micros) / 1e6
}
