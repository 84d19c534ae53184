package ui

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/heimdex-annotator/internal/result"
	"github.com/heimdex/heimdex-annotator/internal/session"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

//go:embed icon.png
var iconBytes []byte

const refreshInterval = time.Second

// Controller is the part of a session the tray drives.
type Controller interface {
	Status() session.Status
	Submit(ctx context.Context) (*submit.Submission, error)
	StopAll() int
}

type Tray struct {
	ctrl   Controller
	logger *slog.Logger

	statusItem    *systray.MenuItem
	selectionItem *systray.MenuItem
	saveItem      *systray.MenuItem
	stopItem      *systray.MenuItem

	mu sync.Mutex

	onQuit func()
	done   chan struct{}
}

type TrayConfig struct {
	Session Controller
	Logger  *slog.Logger
	OnQuit  func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		ctrl:   cfg.Session,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
		done:   make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Heimdex")
	systray.SetTooltip("Heimdex Annotator")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current session status")
	t.statusItem.Disable()

	t.selectionItem = systray.AddMenuItem("Selected: 0.0%", "Selected share of the total duration")
	t.selectionItem.Disable()

	systray.AddSeparator()

	t.saveItem = systray.AddMenuItem("Save Results", "Validate and deliver the selection")
	t.stopItem = systray.AddMenuItem("Stop Previews", "Stop every running preview")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Annotator")

	t.Refresh()

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Refresh()
			case <-t.saveItem.ClickedCh:
				t.handleSave()
			case <-t.stopItem.ClickedCh:
				n := t.ctrl.StopAll()
				t.logger.Info("previews stopped from tray", "stopped", n)
				t.Refresh()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.done:
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) handleSave() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub, err := t.ctrl.Submit(ctx)
	var verr *result.ValidationError
	switch {
	case errors.As(err, &verr):
		t.UpdateStatus(fmt.Sprintf("Select %g%%-%g%%", verr.Min, verr.Max))
		return
	case err != nil:
		t.logger.Error("failed to save results", "error", err)
		t.UpdateStatus("Save failed")
		return
	}
	t.logger.Info("results saved from tray", "submission_id", sub.ID, "delivered_to", sub.DeliveredTo)
	t.UpdateStatus("Saved")
}

// Refresh re-reads the session and updates the menu.
func (t *Tray) Refresh() {
	st := t.ctrl.Status()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.selectionItem == nil {
		return
	}
	t.selectionItem.SetTitle(selectionLabel(st))
	if st.Previewing {
		t.stopItem.Enable()
	} else {
		t.stopItem.Disable()
	}
	if st.SelectedSegments > 0 {
		t.saveItem.Enable()
	} else {
		t.saveItem.Disable()
	}
}

func (t *Tray) UpdateStatus(status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + status)
}

func (t *Tray) Quit() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	systray.Quit()
}

func selectionLabel(st session.Status) string {
	label := fmt.Sprintf("Selected: %.1f%% (%d/%d)", st.Percentage, st.SelectedSegments, st.TotalSegments)
	if st.SelectedSegments > 0 && !st.WithinBounds {
		label += fmt.Sprintf(", need %g%%-%g%%", st.Bounds.Min, st.Bounds.Max)
	}
	return label
}
