package api

import (
	"time"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/selection"
	"github.com/heimdex/heimdex-annotator/internal/session"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	UptimeS    int64  `json:"uptime_s"`
	InstanceID string `json:"instance_id"`
}

type VideosResponse struct {
	Videos []session.Video `json:"videos"`
}

type SegmentsResponse struct {
	Segments []session.SegmentView `json:"segments"`
}

type SelectionResponse struct {
	Segments         []selection.Entry `json:"segments"`
	SelectedSegments int               `json:"selected_segments"`
	SelectedDuration float64           `json:"selected_duration"`
	Percentage       float64           `json:"percentage"`
}

type ToggleRequest struct {
	SegmentID string `json:"segment_id"`
}

type ToggleResponse struct {
	SegmentID string `json:"segment_id"`
	Selected  bool   `json:"selected"`
}

type IncludeRequest struct {
	Time *float64 `json:"time"`
}

type IncludeResponse struct {
	Segment catalog.Segment `json:"segment"`
	Added   bool            `json:"added"`
}

// SeekRequest moves a video to a fraction of its duration.
type SeekRequest struct {
	Fraction *float64 `json:"fraction"`
}

type PreviewResponse struct {
	VideoKey string `json:"video_key"`
	Started  bool   `json:"started"`
}

type StopResponse struct {
	Stopped int `json:"stopped"`
}

type SubmissionResponse struct {
	ID               string  `json:"id"`
	SessionID        string  `json:"session_id"`
	Mode             string  `json:"mode"`
	Layout           string  `json:"layout"`
	City             string  `json:"city"`
	Area             string  `json:"area"`
	Place            string  `json:"place"`
	TotalSegments    int     `json:"total_segments"`
	SelectedSegments int     `json:"selected_segments"`
	Percentage       float64 `json:"percentage"`
	DeliveredTo      string  `json:"delivered_to"`
	CreatedAt        string  `json:"created_at"`
}

type SubmissionDetailResponse struct {
	SubmissionResponse
	Document any `json:"document"`
}

type SubmissionsResponse struct {
	Submissions []SubmissionResponse `json:"submissions"`
}

// ValidationErrorResponse is returned when a submission's percentage is out
// of bounds.
type ValidationErrorResponse struct {
	Error      string  `json:"error"`
	Code       string  `json:"code"`
	Percentage float64 `json:"percentage"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func SubmissionToResponse(s *submit.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:               s.ID,
		SessionID:        s.SessionID,
		Mode:             string(s.Mode),
		Layout:           s.Layout,
		City:             s.City,
		Area:             s.Area,
		Place:            s.Place,
		TotalSegments:    s.TotalSegments,
		SelectedSegments: s.SelectedSegments,
		Percentage:       s.Percentage,
		DeliveredTo:      s.DeliveredTo,
		CreatedAt:        s.CreatedAt.UTC().Format(time.RFC3339),
	}
}
