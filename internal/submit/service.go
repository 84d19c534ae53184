package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/metrics"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/result"
)

type Options struct {
	SessionID string
	Mode      Mode
	Metadata  result.Metadata
	Bounds    result.Bounds
	// Host receives save-error notices in amt mode. May be nil.
	Host Publisher
	// Repo records delivered results. May be nil.
	Repo Repository
	Now  func() time.Time
}

// Service turns the current selection into a delivered result.
type Service struct {
	cat    *catalog.Catalog
	sel    result.Selection
	sink   Sink
	opts   Options
	logger *slog.Logger
}

func NewService(cat *catalog.Catalog, sel result.Selection, sink Sink, opts Options, logger *slog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{cat: cat, sel: sel, sink: sink, opts: opts, logger: logger}
}

func (s *Service) Mode() Mode {
	return s.opts.Mode
}

func (s *Service) Bounds() result.Bounds {
	return s.opts.Bounds
}

// Submit validates and delivers the selection. A *result.ValidationError
// leaves the session untouched; in amt mode the host is told why.
func (s *Service) Submit(ctx context.Context) (*Submission, error) {
	now := s.opts.Now()
	mode := string(s.opts.Mode)

	res, err := result.Format(s.cat, s.sel, s.opts.Metadata, s.opts.Bounds, now)
	if err != nil {
		var verr *result.ValidationError
		if errors.As(err, &verr) {
			metrics.IncSubmission(mode, "invalid")
			s.logger.Info("submission rejected", "percentage", verr.Percentage, "min", verr.Min, "max", verr.Max)
			s.notifyHostError(verr)
		} else {
			metrics.IncSubmission(mode, "error")
		}
		return nil, err
	}

	delivery, err := s.sink.Deliver(ctx, res, now)
	if err != nil {
		metrics.IncSubmission(mode, "error")
		return nil, fmt.Errorf("deliver result: %w", err)
	}

	doc, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	sub := &Submission{
		ID:               uuid.NewString(),
		SessionID:        s.opts.SessionID,
		Mode:             s.opts.Mode,
		Layout:           string(s.cat.Layout()),
		City:             res.City,
		Area:             res.Area,
		Place:            res.Place,
		TotalSegments:    res.TotalSegments,
		SelectedSegments: res.SelectedSegments,
		Percentage:       res.Percentage,
		DeliveredTo:      delivery.Location,
		Document:         doc,
		CreatedAt:        now,
	}
	if s.opts.Repo != nil {
		// The result is already delivered; a ledger failure must not report
		// the submission as failed.
		if err := s.opts.Repo.CreateSubmission(ctx, sub); err != nil {
			s.logger.Warn("failed to record submission", "submission_id", sub.ID, "error", err)
		}
	}

	metrics.IncSubmission(mode, "success")
	s.logger.Info("submission delivered",
		"submission_id", sub.ID,
		"channel", delivery.Channel,
		"selected", res.SelectedSegments,
		"total", res.TotalSegments,
		"percentage", res.Percentage,
	)
	return sub, nil
}

func (s *Service) notifyHostError(verr *result.ValidationError) {
	if s.opts.Mode != ModeAMT || s.opts.Host == nil {
		return
	}
	msg := SaveError{Type: MsgSaveError, Message: verr.Error(), Percentage: verr.Percentage}
	if err := s.opts.Host.Publish(realtime.RoleHost, msg); err != nil {
		s.logger.Warn("failed to notify host of save error", "error", err)
	}
}

// NewSink picks the delivery channel for mode.
func NewSink(mode Mode, resultsDir string, host Publisher, logger *slog.Logger) Sink {
	if mode == ModeAMT {
		return NewHostSink(host)
	}
	return NewFileSink(resultsDir, logger)
}
