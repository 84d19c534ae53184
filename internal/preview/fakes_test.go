package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
)

// fakeClock is a manual Scheduler. Callbacks only run inside Advance, in
// deadline order, and Go runs its function inline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*fakeTimer

	// deferGo queues Go calls until RunQueued.
	deferGo bool
	queued  []func()
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Duration
	period  time.Duration
	seq     int
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

func (c *fakeClock) add(d, period time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &fakeTimer{clock: c, when: c.now + d, period: period, seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, 0, f)
}

func (c *fakeClock) Every(d time.Duration, f func()) Timer {
	return c.add(d, d, f)
}

func (c *fakeClock) Go(f func()) {
	c.mu.Lock()
	if c.deferGo {
		c.queued = append(c.queued, f)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	f()
}

func (c *fakeClock) RunQueued() {
	c.mu.Lock()
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()
	for _, f := range queued {
		f()
	}
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now + d
	c.mu.Unlock()

	for {
		c.mu.Lock()
		live := c.timers[:0]
		for _, t := range c.timers {
			if !t.stopped {
				live = append(live, t)
			}
		}
		c.timers = live
		sort.Slice(c.timers, func(i, j int) bool {
			if c.timers[i].when != c.timers[j].when {
				return c.timers[i].when < c.timers[j].when
			}
			return c.timers[i].seq < c.timers[j].seq
		})

		if len(c.timers) == 0 || c.timers[0].when > target {
			c.now = target
			c.mu.Unlock()
			return
		}
		next := c.timers[0]
		c.now = next.when
		if next.period > 0 {
			next.when += next.period
		} else {
			next.stopped = true
		}
		f := next.f
		c.mu.Unlock()

		f()
	}
}

// Pending counts armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fakeElement mirrors a media element without any real playback. Tests move
// the position explicitly.
type fakeElement struct {
	mu       sync.Mutex
	position float64
	paused   bool
	seeks    []float64
	plays    int
	pauses   int
	playErr  error
}

func newFakeElement() *fakeElement {
	return &fakeElement{paused: true}
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
	if e.playErr != nil {
		e.paused = true
		return e.playErr
	}
	e.paused = false
	return nil
}

func (e *fakeElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.pauses++
	return nil
}

func (e *fakeElement) Position() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

func (e *fakeElement) Duration() float64 { return 0 }

func (e *fakeElement) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeElement) OnMetadata(func(float64)) {}
func (e *fakeElement) OnPosition(func(float64)) {}

func (e *fakeElement) setPosition(t float64) {
	e.mu.Lock()
	e.position = t
	e.mu.Unlock()
}

func (e *fakeElement) userPause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
}

func (e *fakeElement) counts() (seeks []float64, plays, pauses int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.seeks...), e.plays, e.pauses
}

// recorder collects presenter calls as short strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.mu.Unlock()
}

func (r *recorder) PreviewStarted(videoKey string, queue []catalog.Segment) {
	r.add("started %s %d", videoKey, len(queue))
}

func (r *recorder) PreviewStopped(videoKey string, reason Reason) {
	r.add("stopped %s %s", videoKey, reason)
}

func (r *recorder) Highlight(videoKey, segmentID string) {
	r.add("highlight %s", segmentID)
}

func (r *recorder) ClearHighlight(videoKey string) {
	r.add("clear %s", videoKey)
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Highlights returns the highlighted segment ids in order.
func (r *recorder) Highlights() []string {
	var out []string
	for _, e := range r.Events() {
		var id string
		if _, err := fmt.Sscanf(e, "highlight %s", &id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// uniformCatalog builds n back-to-back segments of dur seconds per video,
// numbered from zero.
func uniformCatalog(t *testing.T, videos []string, n int, dur float64) *catalog.Catalog {
	t.Helper()
	doc := catalog.Document{}
	for _, v := range videos {
		for i := 0; i < n; i++ {
			start := float64(i) * dur
			doc[v] = append(doc[v], json.RawMessage(fmt.Sprintf(
				`{"segment_number":%d,"start":%g,"end":%g,"duration":%g}`, i, start, start+dur, dur)))
		}
	}
	cat, err := catalog.New(doc, videos, catalog.LayoutMulti)
	require.NoError(t, err)
	return cat
}
