package preview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/playback"
	"github.com/heimdex/heimdex-annotator/internal/selection"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	poll = 100 * time.Millisecond
	gap  = 500 * time.Millisecond
)

type harness struct {
	cat   *catalog.Catalog
	store *selection.Store
	el    *fakeElement
	rec   *recorder
	clock *fakeClock
	seq   *Sequencer
}

func newHarness(t *testing.T, selected ...string) *harness {
	t.Helper()
	cat := uniformCatalog(t, []string{"yt_a"}, 10, 10)
	h := &harness{
		cat:   cat,
		store: selection.NewStore(cat),
		el:    newFakeElement(),
		rec:   &recorder{},
		clock: &fakeClock{},
	}
	for _, id := range selected {
		_, ok := h.store.Toggle(id)
		require.True(t, ok, id)
	}
	h.seq = NewSequencer("video1", h.el, h.store, h.rec, h.clock, DefaultConfig(), testLogger())
	return h
}

// finishSegment plays the current segment to its end and waits out the gap.
func (h *harness) finishSegment(end float64) {
	h.el.setPosition(end)
	h.clock.Advance(poll)
	h.clock.Advance(gap)
}

func TestSequencer_StartWithEmptySelectionIsNoop(t *testing.T) {
	h := newHarness(t)

	assert.False(t, h.seq.Start())
	assert.Equal(t, Idle, h.seq.State())
	assert.Empty(t, h.rec.Events())
	seeks, plays, pauses := h.el.counts()
	assert.Empty(t, seeks)
	assert.Zero(t, plays)
	assert.Zero(t, pauses)
	assert.Zero(t, h.clock.Pending())
}

func TestSequencer_PlaysInSegmentOrder(t *testing.T) {
	h := newHarness(t, "video1_s5", "video1_s2", "video1_s8")

	require.True(t, h.seq.Start())
	st := h.seq.Status()
	assert.Equal(t, Playing, st.State)
	assert.Equal(t, 3, st.QueueLen)
	assert.Equal(t, "video1_s2", st.SegmentID)
	assert.False(t, h.el.Paused())

	h.clock.Advance(poll)
	assert.Equal(t, "video1_s2", h.seq.Status().SegmentID, "still inside the segment")

	h.finishSegment(30)
	assert.Equal(t, "video1_s5", h.seq.Status().SegmentID)
	h.finishSegment(60)
	assert.Equal(t, "video1_s8", h.seq.Status().SegmentID)
	h.finishSegment(90)

	assert.Equal(t, Idle, h.seq.State())
	assert.Equal(t, []string{"video1_s2", "video1_s5", "video1_s8"}, h.rec.Highlights())

	seeks, plays, pauses := h.el.counts()
	assert.Equal(t, []float64{20, 50, 80}, seeks)
	assert.Equal(t, 3, plays)
	assert.Equal(t, 1, pauses)

	events := h.rec.Events()
	assert.Equal(t, "started video1 3", events[0])
	assert.Equal(t, "stopped video1 completed", events[len(events)-1])
	assert.Zero(t, h.clock.Pending())
}

func TestSequencer_WaitsGapBeforeNextSegment(t *testing.T) {
	h := newHarness(t, "video1_s0", "video1_s1")
	h.seq.Start()

	h.el.setPosition(10)
	h.clock.Advance(poll)
	assert.Equal(t, 1, h.seq.Status().Index)
	assert.Equal(t, []string{"video1_s0"}, h.rec.Highlights())

	h.clock.Advance(gap - time.Millisecond)
	assert.Equal(t, []string{"video1_s0"}, h.rec.Highlights())

	h.clock.Advance(time.Millisecond)
	assert.Equal(t, []string{"video1_s0", "video1_s1"}, h.rec.Highlights())
}

func TestSequencer_PauseAdvancesQueue(t *testing.T) {
	h := newHarness(t, "video1_s0", "video1_s1")
	h.seq.Start()

	h.el.userPause()
	h.clock.Advance(poll)
	h.clock.Advance(gap)

	assert.Equal(t, Playing, h.seq.State())
	assert.Equal(t, "video1_s1", h.seq.Status().SegmentID)
	_, plays, _ := h.el.counts()
	assert.Equal(t, 2, plays)
	assert.False(t, h.el.Paused())
}

func TestSequencer_PlayFailureDoesNotHaltQueue(t *testing.T) {
	h := newHarness(t, "video1_s0", "video1_s1")
	h.el.playErr = &playback.PlayError{VideoKey: "video1", Reason: "NotAllowedError"}

	require.True(t, h.seq.Start())
	assert.Equal(t, Playing, h.seq.State())

	h.clock.Advance(poll)
	h.clock.Advance(gap)
	assert.Equal(t, "video1_s1", h.seq.Status().SegmentID)

	h.clock.Advance(poll)
	h.clock.Advance(gap)
	assert.Equal(t, Idle, h.seq.State())
}

func TestSequencer_StopCancelsPendingCallbacks(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"during boundary watch", func(h *harness) {
			h.clock.Advance(poll)
		}},
		{"during segment gap", func(h *harness) {
			h.el.setPosition(20)
			h.clock.Advance(poll)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "video1_s1", "video1_s2")
			require.True(t, h.seq.Start())
			tt.setup(h)

			require.True(t, h.seq.Stop())
			assert.Equal(t, Idle, h.seq.State())
			assert.True(t, h.el.Paused())
			assert.Zero(t, h.clock.Pending())

			events := h.rec.Events()
			assert.Equal(t, "clear video1", events[len(events)-2])
			assert.Equal(t, "stopped video1 stopped", events[len(events)-1])
			seeks, plays, pauses := h.el.counts()

			h.el.setPosition(100)
			h.clock.Advance(10 * time.Second)

			assert.Equal(t, Idle, h.seq.State())
			assert.Equal(t, events, h.rec.Events())
			seeks2, plays2, pauses2 := h.el.counts()
			assert.Equal(t, seeks, seeks2)
			assert.Equal(t, plays, plays2)
			assert.Equal(t, pauses, pauses2)
		})
	}
}

func TestSequencer_StopWhileIdleIsNoop(t *testing.T) {
	h := newHarness(t, "video1_s1")

	assert.False(t, h.seq.Stop())
	assert.Empty(t, h.rec.Events())
	_, _, pauses := h.el.counts()
	assert.Zero(t, pauses)
}

func TestSequencer_StartWhilePlayingRestarts(t *testing.T) {
	h := newHarness(t, "video1_s4")
	require.True(t, h.seq.Start())
	h.clock.Advance(poll / 2)

	h.store.Toggle("video1_s1")
	require.True(t, h.seq.Start())

	st := h.seq.Status()
	assert.Equal(t, 2, st.QueueLen)
	assert.Equal(t, "video1_s1", st.SegmentID)
	assert.Equal(t, 1, h.clock.Pending(), "only the new boundary watch is armed")
	assert.NotContains(t, h.rec.Events(), "stopped video1 stopped")
	assert.Equal(t, []string{"video1_s4", "video1_s1"}, h.rec.Highlights())
}

func TestSequencer_RestartWithEmptySelectionStops(t *testing.T) {
	h := newHarness(t, "video1_s1")
	require.True(t, h.seq.Start())
	h.clock.Advance(poll / 2)

	h.store.Toggle("video1_s1")
	assert.False(t, h.seq.Start())

	st := h.seq.Status()
	assert.Equal(t, Idle, st.State)
	assert.Zero(t, st.QueueLen)
	assert.Zero(t, h.clock.Pending())
	assert.Contains(t, h.rec.Events(), "stopped video1 stopped")
	assert.True(t, h.el.Paused())
}

func TestSequencer_StopBeforePlayDispatched(t *testing.T) {
	h := newHarness(t, "video1_s1")
	h.clock.deferGo = true

	require.True(t, h.seq.Start())
	require.True(t, h.seq.Stop())
	h.clock.RunQueued()

	_, plays, _ := h.el.counts()
	assert.Zero(t, plays)
	assert.True(t, h.el.Paused())
}

func TestSequencer_PreviewSegment(t *testing.T) {
	h := newHarness(t)
	seg, ok := h.cat.Segment("video1_s3")
	require.True(t, ok)

	h.seq.PreviewSegment(seg)
	assert.Equal(t, Idle, h.seq.State())
	assert.False(t, h.el.Paused())

	h.clock.Advance(poll)
	assert.False(t, h.el.Paused())

	h.el.setPosition(40.05)
	h.clock.Advance(poll)
	assert.True(t, h.el.Paused())
	assert.Zero(t, h.clock.Pending())
	assert.Empty(t, h.rec.Events())

	seeks, plays, _ := h.el.counts()
	assert.Equal(t, []float64{30}, seeks)
	assert.Equal(t, 1, plays)
}

func TestSequencer_PreviewSegmentInterruptsPreview(t *testing.T) {
	h := newHarness(t, "video1_s1", "video1_s2")
	h.seq.Start()

	seg, _ := h.cat.Segment("video1_s4")
	h.seq.PreviewSegment(seg)

	assert.Equal(t, Idle, h.seq.State())
	assert.Contains(t, h.rec.Events(), "stopped video1 stopped")
	assert.Equal(t, 1, h.clock.Pending(), "only the clip watch is armed")
	assert.False(t, h.el.Paused())
}

func TestSequencer_JumpInterruptsPreview(t *testing.T) {
	h := newHarness(t, "video1_s1")
	h.seq.Start()

	seg, _ := h.cat.Segment("video1_s6")
	h.seq.Jump(seg)

	assert.Equal(t, Idle, h.seq.State())
	assert.Zero(t, h.clock.Pending())
	assert.False(t, h.el.Paused(), "jump keeps playing past the segment end")

	seeks, plays, _ := h.el.counts()
	assert.Equal(t, []float64{10, 60}, seeks)
	assert.Equal(t, 2, plays)

	h.el.setPosition(75)
	h.clock.Advance(time.Second)
	assert.False(t, h.el.Paused())
}

func TestSequencer_SystemScheduler(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a"}, 4, 10)
	store := selection.NewStore(cat)
	store.Toggle("video1_s0")
	store.Toggle("video1_s2")

	el := newFakeElement()
	el.playErr = &playback.PlayError{VideoKey: "video1", Reason: "blocked"}
	rec := &recorder{}
	cfg := Config{PollInterval: time.Millisecond, SegmentGap: time.Millisecond, PlayTimeout: time.Second}
	seq := NewSequencer("video1", el, store, rec, SystemScheduler{}, cfg, testLogger())

	require.True(t, seq.Start())
	require.Eventually(t, func() bool {
		events := rec.Events()
		return len(events) > 0 && events[len(events)-1] == "stopped video1 completed"
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, Idle, seq.State())
	assert.Equal(t, []string{"video1_s0", "video1_s2"}, rec.Highlights())
}

func TestManager_IsolatesSequencers(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a", "yt_b"}, 5, 10)
	store := selection.NewStore(cat)
	store.Toggle("video1_s1")
	store.Toggle("video2_s3")

	el1, el2 := newFakeElement(), newFakeElement()
	rec := &recorder{}
	clock := &fakeClock{}
	m := NewManager(map[string]playback.Element{"video1": el1, "video2": el2}, store, rec, clock, DefaultConfig(), testLogger())

	assert.Equal(t, []string{"video1", "video2"}, m.Keys())

	s1, ok := m.Get("video1")
	require.True(t, ok)
	require.True(t, s1.Start())

	assert.True(t, m.Playing())
	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, Playing, statuses[0].State)
	assert.Equal(t, Idle, statuses[1].State)

	seeks, _, _ := el2.counts()
	assert.Empty(t, seeks)

	assert.Equal(t, 1, m.StopAll())
	assert.False(t, m.Playing())
	assert.Equal(t, 0, m.StopAll())

	_, ok = m.Get("video3")
	assert.False(t, ok)
}

func TestState_Text(t *testing.T) {
	for _, s := range []State{Idle, Playing} {
		b, err := s.MarshalText()
		require.NoError(t, err)
		var got State
		require.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}
	var s State
	assert.Error(t, s.UnmarshalText([]byte("paused")))
}
