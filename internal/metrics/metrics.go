// Package metrics exposes the annotator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SelectionTogglesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_selection_toggles_total",
		Help: "Total number of segment selection changes",
	}, []string{"action"}) // action=select|deselect

	SelectedPercentage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_selected_percentage",
		Help: "Share of the catalog duration currently selected",
	})

	PreviewRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_preview_runs_total",
		Help: "Preview runs by how they ended",
	}, []string{"video", "outcome"}) // outcome=completed|stopped

	PreviewSegmentsPlayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_preview_segments_played_total",
		Help: "Segments entered by a preview sequencer",
	}, []string{"video"})

	PlayFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_play_failures_total",
		Help: "Play requests rejected or abandoned by a media element",
	}, []string{"video"})

	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_submissions_total",
		Help: "Submission attempts by delivery mode and outcome",
	}, []string{"mode", "outcome"}) // outcome=success|invalid|error

	HubClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_hub_clients",
		Help: "Connected UI and host websocket clients",
	})

	HubDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "annotator_hub_dropped_total",
		Help: "Messages dropped for slow websocket clients",
	})

	ElementsAttached = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "annotator_elements_attached",
		Help: "Whether a page currently drives each media element",
	}, []string{"video"})
)

// ObserveToggle records a selection change and the resulting percentage.
func ObserveToggle(action string, percentage float64) {
	if action == "" {
		action = "unknown"
	}
	SelectionTogglesTotal.WithLabelValues(action).Inc()
	SelectedPercentage.Set(percentage)
}

// IncPlayFailure records a failed play request for a media element.
func IncPlayFailure(video string) {
	PlayFailuresTotal.WithLabelValues(video).Inc()
}

// IncSubmission records one submission attempt.
func IncSubmission(mode, outcome string) {
	SubmissionsTotal.WithLabelValues(mode, outcome).Inc()
}

// SetAttached flips the attachment gauge of a media element.
func SetAttached(video string, attached bool) {
	v := 0.0
	if attached {
		v = 1
	}
	ElementsAttached.WithLabelValues(video).Set(v)
}
