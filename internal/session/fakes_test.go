package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/playback"
	"github.com/heimdex/heimdex-annotator/internal/preview"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// bus records everything published, by role.
type bus struct {
	mu   sync.Mutex
	ui   []Event
	host []any
}

func (b *bus) Publish(role realtime.Role, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch role {
	case realtime.RoleUI:
		ev, ok := v.(Event)
		if !ok {
			return fmt.Errorf("unexpected ui message %T", v)
		}
		b.ui = append(b.ui, ev)
	case realtime.RoleHost:
		b.host = append(b.host, v)
	default:
		return fmt.Errorf("unexpected role %q", role)
	}
	return nil
}

func (b *bus) events(typ string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Event
	for _, ev := range b.ui {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (b *bus) hostMessages() []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]any(nil), b.host...)
}

// idleScheduler never fires timers; Go runs inline.
type idleScheduler struct{}

type idleTimer struct{}

func (idleTimer) Stop() bool { return true }

func (idleScheduler) AfterFunc(time.Duration, func()) preview.Timer { return idleTimer{} }
func (idleScheduler) Every(time.Duration, func()) preview.Timer     { return idleTimer{} }
func (idleScheduler) Go(f func())                                   { f() }

type fakeElement struct {
	mu         sync.Mutex
	position   float64
	duration   float64
	paused     bool
	seeks      []float64
	plays      int
	onMetadata []func(float64)
	onPosition []func(float64)
}

func (e *fakeElement) Seek(t float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = t
	e.seeks = append(e.seeks, t)
	return nil
}

func (e *fakeElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays++
	e.paused = false
	return nil
}

func (e *fakeElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

func (e *fakeElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *fakeElement) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *fakeElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeElement) OnMetadata(fn func(float64)) {
	e.mu.Lock()
	e.onMetadata = append(e.onMetadata, fn)
	e.mu.Unlock()
}

func (e *fakeElement) OnPosition(fn func(float64)) {
	e.mu.Lock()
	e.onPosition = append(e.onPosition, fn)
	e.mu.Unlock()
}

// reportMetadata sets the duration and runs the metadata hooks, as a page
// does once the video has loaded.
func (e *fakeElement) reportMetadata(duration float64) {
	e.mu.Lock()
	e.duration = duration
	hooks := append(([]func(float64))(nil), e.onMetadata...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(duration)
	}
}

func (e *fakeElement) reportPosition(t float64) {
	e.mu.Lock()
	e.position = t
	hooks := append(([]func(float64))(nil), e.onPosition...)
	e.mu.Unlock()
	for _, fn := range hooks {
		fn(t)
	}
}

func (e *fakeElement) Attached() bool { return true }

func (e *fakeElement) setPosition(t float64) {
	e.mu.Lock()
	e.position = t
	e.mu.Unlock()
}

func (e *fakeElement) seekLog() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.seeks...)
}

// multiCatalog builds n back-to-back 10 second segments for each video id.
func multiCatalog(t *testing.T, ids []string, n int) *catalog.Catalog {
	t.Helper()
	doc := catalog.Document{}
	for _, id := range ids {
		for i := 0; i < n; i++ {
			start := float64(i) * 10
			doc[id] = append(doc[id], json.RawMessage(fmt.Sprintf(
				`{"segment_number":%d,"start":%g,"end":%g,"duration":10}`, i, start, start+10)))
		}
	}
	cat, err := catalog.New(doc, ids, catalog.LayoutMulti)
	require.NoError(t, err)
	return cat
}

func elementsFor(cat *catalog.Catalog) (map[string]playback.Element, map[string]*fakeElement) {
	els := make(map[string]playback.Element)
	fakes := make(map[string]*fakeElement)
	for _, key := range cat.VideoKeys() {
		el := &fakeElement{paused: true}
		els[key] = el
		fakes[key] = el
	}
	return els, fakes
}
