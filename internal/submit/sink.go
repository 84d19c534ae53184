package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/result"
)

// Host message types exchanged with the embedding crowdsourcing page.
const (
	MsgSaveRequest  = "save-request"
	MsgResultsSaved = "results-saved"
	MsgSaveError    = "save-error"
)

type ResultsSaved struct {
	Type    string         `json:"type"`
	Results *result.Result `json:"results"`
}

type SaveError struct {
	Type       string  `json:"type"`
	Message    string  `json:"message"`
	Percentage float64 `json:"percentage"`
}

// Publisher sends a message to connected clients of a role.
type Publisher interface {
	Publish(role realtime.Role, v any) error
}

// Delivery describes where a result went.
type Delivery struct {
	Channel  string `json:"channel"`
	Location string `json:"location"`
}

// Sink delivers a validated result.
type Sink interface {
	Deliver(ctx context.Context, res *result.Result, now time.Time) (Delivery, error)
}

// FileSink writes results as indented JSON files, the standalone download.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	return &FileSink{dir: dir, logger: logger}
}

func (f *FileSink) Deliver(ctx context.Context, res *result.Result, now time.Time) (Delivery, error) {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return Delivery{}, fmt.Errorf("create results directory: %w", err)
	}

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return Delivery{}, fmt.Errorf("encode result: %w", err)
	}

	path := filepath.Join(f.dir, result.Filename(res.City, now))
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return Delivery{}, fmt.Errorf("create pending result file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			f.logger.Debug("cleanup pending result file", "error", err)
		}
	}()

	if _, err := pending.Write(data); err != nil {
		return Delivery{}, fmt.Errorf("write result: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return Delivery{}, fmt.Errorf("atomically replace result file: %w", err)
	}

	f.logger.Info("result written", "path", path)
	return Delivery{Channel: "file", Location: path}, nil
}

// ErrHostNotConnected is returned when results are ready but no host page
// is there to receive them.
var ErrHostNotConnected = errors.New("no host page connected")

// HostSink hands results to the embedding host page.
type HostSink struct {
	pub Publisher
}

func NewHostSink(pub Publisher) *HostSink {
	return &HostSink{pub: pub}
}

// Deliver publishes the result to host clients. When the publisher can count
// its clients, a delivery with no host connected fails instead of vanishing.
func (h *HostSink) Deliver(ctx context.Context, res *result.Result, now time.Time) (Delivery, error) {
	if c, ok := h.pub.(interface{ Connected(realtime.Role) int }); ok && c.Connected(realtime.RoleHost) == 0 {
		return Delivery{}, ErrHostNotConnected
	}
	if err := h.pub.Publish(realtime.RoleHost, ResultsSaved{Type: MsgResultsSaved, Results: res}); err != nil {
		return Delivery{}, fmt.Errorf("notify host: %w", err)
	}
	return Delivery{Channel: "host", Location: MsgResultsSaved}, nil
}
