package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/heimdex/heimdex-annotator/internal/assets"
	"github.com/heimdex/heimdex-annotator/internal/catalog"
	"github.com/heimdex/heimdex-annotator/internal/preview"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/result"
	"github.com/heimdex/heimdex-annotator/internal/selection"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var fixedNow = time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)

type harness struct {
	s    *Session
	bus  *bus
	els  map[string]*fakeElement
	cat  *catalog.Catalog
	dir  string
	mode submit.Mode
}

func newHarness(t *testing.T, mode submit.Mode) *harness {
	t.Helper()
	cat := multiCatalog(t, []string{"yt_a", "yt_b"}, 10)
	return newHarnessFor(t, cat, mode)
}

func newHarnessFor(t *testing.T, cat *catalog.Catalog, mode submit.Mode) *harness {
	t.Helper()
	h := &harness{bus: &bus{}, cat: cat, dir: filepath.Join(t.TempDir(), "results"), mode: mode}
	elements, fakes := elementsFor(cat)
	h.els = fakes
	h.s = New(cat, elements, h.bus, Options{
		ID:        "session-1",
		Metadata:  result.Metadata{City: "Tokyo", Area: "asia", Place: "tokyo"},
		Mode:      mode,
		Bounds:    result.DefaultBounds(),
		Preview:   preview.DefaultConfig(),
		Scheduler: idleScheduler{},
		Sink:      submit.NewSink(mode, h.dir, h.bus, testLogger()),
		Resolver:  assets.PublicResolver{Base: "https://cdn.example/videos"},
		Now:       func() time.Time { return fixedNow },
	}, testLogger())
	return h
}

func TestToggle_PublishesSelectionChanged(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	selected, err := h.s.Toggle("video1_s3")
	require.NoError(t, err)
	assert.True(t, selected)

	selected, err = h.s.Toggle("video1_s3")
	require.NoError(t, err)
	assert.False(t, selected)

	events := h.bus.events(EventSelectionChanged)
	require.Len(t, events, 2)

	first := events[0]
	assert.Equal(t, "video1", first.VideoKey)
	assert.Equal(t, "video1_s3", first.SegmentID)
	require.NotNil(t, first.Selection)
	assert.Equal(t, 1, first.Selection.Count)
	assert.InDelta(t, 5.0, first.Selection.Percentage, 1e-9)
	assert.Equal(t, &Controls{PreviewEnabled: true, PreviewVisible: true}, first.Controls)

	second := events[1]
	assert.Equal(t, 0, second.Selection.Count)
	assert.False(t, second.Controls.PreviewEnabled)

	_, err = h.s.Toggle("video9_s0")
	assert.ErrorIs(t, err, ErrUnknownSegment)
}

func TestIncludeCurrent(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	h.els["video2"].setPosition(15)
	seg, added, err := h.s.IncludeCurrent("video2")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "video2_s1", seg.ID)

	_, added, err = h.s.IncludeCurrent("video2")
	require.NoError(t, err)
	assert.False(t, added, "already selected segment is not added twice")
	assert.Len(t, h.s.Selection(), 1)

	h.els["video2"].setPosition(250)
	_, _, err = h.s.IncludeCurrent("video2")
	assert.ErrorIs(t, err, selection.ErrNoSegmentAtPosition)

	notices := h.bus.events(EventNotice)
	require.Len(t, notices, 1)
	assert.Equal(t, NoSegmentMessage, notices[0].Message)
	assert.Equal(t, "video2", notices[0].VideoKey)

	_, _, err = h.s.IncludeCurrent("video7")
	assert.ErrorIs(t, err, ErrUnknownVideo)
	_, _, err = h.s.IncludeAt("video7", 1)
	assert.ErrorIs(t, err, ErrUnknownVideo)
}

func TestIncludeAt_SharedBoundaryPicksEarlierSegment(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	seg, added, err := h.s.IncludeAt("video1", 20)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "video1_s1", seg.ID)
}

func TestPreview_EventsAndControls(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	started, err := h.s.StartPreview("video1")
	require.NoError(t, err)
	assert.False(t, started, "nothing selected")
	assert.Empty(t, h.bus.events(EventPreviewStarted))

	for _, id := range []string{"video1_s4", "video1_s2"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}

	started, err = h.s.StartPreview("video1")
	require.NoError(t, err)
	assert.True(t, started)

	ps := h.bus.events(EventPreviewStarted)
	require.Len(t, ps, 1)
	assert.Equal(t, []string{"video1_s2", "video1_s4"}, ps[0].Queue)
	assert.Equal(t, &Controls{PreviewEnabled: true, StopVisible: true}, ps[0].Controls)

	hl := h.bus.events(EventSegmentHighlight)
	require.Len(t, hl, 1)
	assert.Equal(t, "video1_s2", hl[0].SegmentID)
	assert.Equal(t, "yt_a", hl[0].SourceVideoID)
	assert.Empty(t, hl[0].Color, "multi layout carries no colour")
	assert.Equal(t, []float64{20}, h.els["video1"].seekLog())

	st := h.s.Status()
	assert.Equal(t, preview.Playing, st.Videos[0].Preview.State)
	assert.Equal(t, "video1_s2", st.Videos[0].Preview.SegmentID)
	assert.True(t, st.Videos[0].Controls.StopVisible)
	assert.Equal(t, preview.Idle, st.Videos[1].Preview.State)

	// Toggling while the preview runs keeps the stop control visible.
	_, err = h.s.Toggle("video1_s7")
	require.NoError(t, err)
	changes := h.bus.events(EventSelectionChanged)
	assert.True(t, changes[len(changes)-1].Controls.StopVisible)

	stopped, err := h.s.StopPreview("video1")
	require.NoError(t, err)
	assert.True(t, stopped)

	stops := h.bus.events(EventPreviewStopped)
	require.Len(t, stops, 1)
	assert.Equal(t, preview.ReasonStopped, stops[0].Reason)
	assert.Equal(t, &Controls{PreviewEnabled: true, PreviewVisible: true}, stops[0].Controls)
	assert.NotEmpty(t, h.bus.events(EventHighlightCleared))

	stopped, err = h.s.StopPreview("video1")
	require.NoError(t, err)
	assert.False(t, stopped, "stop while idle is a no-op")

	_, err = h.s.StartPreview("video9")
	assert.ErrorIs(t, err, ErrUnknownVideo)
	_, err = h.s.StopPreview("video9")
	assert.ErrorIs(t, err, ErrUnknownVideo)
}

func TestStopAll(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)
	for _, id := range []string{"video1_s0", "video2_s5"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}
	for _, key := range []string{"video1", "video2"} {
		started, err := h.s.StartPreview(key)
		require.NoError(t, err)
		require.True(t, started)
	}

	assert.Equal(t, 2, h.s.StopAll())
	assert.Equal(t, 0, h.s.StopAll())
}

func TestJumpAndPreviewSegment(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	require.NoError(t, h.s.Jump("video2_s3"))
	assert.Equal(t, []float64{30}, h.els["video2"].seekLog())
	assert.False(t, h.els["video2"].Paused())

	require.NoError(t, h.s.PreviewSegment("video1_s6"))
	assert.Equal(t, []float64{60}, h.els["video1"].seekLog())

	assert.ErrorIs(t, h.s.Jump("nope"), ErrUnknownSegment)
	assert.ErrorIs(t, h.s.PreviewSegment("nope"), ErrUnknownSegment)
}

func TestSeek(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	assert.ErrorIs(t, h.s.Seek("video1", 0.5), ErrDurationUnknown)
	assert.Empty(t, h.els["video1"].seekLog())

	h.els["video1"].reportMetadata(120)
	require.NoError(t, h.s.Seek("video1", 0.25))
	require.NoError(t, h.s.Seek("video1", 1))
	assert.Equal(t, []float64{30, 120}, h.els["video1"].seekLog())
	assert.Empty(t, h.els["video2"].seekLog())

	for _, f := range []float64{-0.1, 1.5, math.NaN()} {
		assert.ErrorIs(t, h.s.Seek("video1", f), ErrInvalidFraction, "fraction %g", f)
	}
	assert.ErrorIs(t, h.s.Seek("video9", 0.5), ErrUnknownVideo)
}

func TestElementReportsPublishUIEvents(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	h.els["video2"].reportMetadata(95.5)
	h.els["video1"].reportPosition(12.25)
	h.els["video1"].reportPosition(13)

	meta := h.bus.events(EventMetadata)
	require.Len(t, meta, 1)
	assert.Equal(t, "video2", meta[0].VideoKey)
	require.NotNil(t, meta[0].Duration)
	assert.Equal(t, 95.5, *meta[0].Duration)

	pos := h.bus.events(EventPosition)
	require.Len(t, pos, 2)
	for _, ev := range pos {
		assert.Equal(t, "video1", ev.VideoKey)
		require.NotNil(t, ev.Position)
	}
	assert.Equal(t, 12.25, *pos[0].Position)
	assert.Equal(t, 13.0, *pos[1].Position)
}

func TestConcatenated_HighlightCarriesSourceColour(t *testing.T) {
	doc := catalog.Document{}
	sources := []string{"src_a", "src_a", "src_b", "src_b"}
	for i, src := range sources {
		start := float64(i) * 10
		doc["tl"] = append(doc["tl"], json.RawMessage(fmt.Sprintf(
			`{"segment_number":%d,"start":%g,"end":%g,"duration":10,"original_video":%q,"original_segment_number":%d}`,
			i, start, start+10, src, i%2)))
	}
	cat, err := catalog.New(doc, []string{"tl"}, catalog.LayoutConcatenated)
	require.NoError(t, err)
	h := newHarnessFor(t, cat, submit.ModeStandalone)

	_, err = h.s.Toggle("concat_s2")
	require.NoError(t, err)
	started, err := h.s.StartPreview(catalog.ConcatVideoKey)
	require.NoError(t, err)
	require.True(t, started)

	colors := catalog.Palette(cat)
	hl := h.bus.events(EventSegmentHighlight)
	require.Len(t, hl, 1)
	assert.Equal(t, "src_b", hl[0].SourceVideoID)
	assert.Equal(t, colors["src_b"], hl[0].Color)
	assert.NotEqual(t, colors["src_a"], colors["src_b"])

	segs, err := h.s.Segments("")
	require.NoError(t, err)
	require.Len(t, segs, 4)
	assert.Equal(t, colors["src_a"], segs[0].Color)
	assert.True(t, segs[2].Selected)
	assert.False(t, segs[3].Selected)

	videos, err := h.s.Videos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.Equal(t, "https://cdn.example/videos/asia/tokyo/tl.mp4", videos[0].URL)

	h.s.StopAll()
}

func TestStatusAndVideos(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)
	for _, id := range []string{"video1_s0", "video2_s9"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}

	st := h.s.Status()
	assert.Equal(t, "session-1", st.ID)
	assert.Equal(t, catalog.LayoutMulti, st.Layout)
	assert.Equal(t, submit.ModeStandalone, st.Mode)
	assert.Equal(t, 20, st.TotalSegments)
	assert.Equal(t, 2, st.SelectedSegments)
	assert.InDelta(t, 200.0, st.TotalDuration, 1e-9)
	assert.InDelta(t, 20.0, st.SelectedDuration, 1e-9)
	assert.InDelta(t, 10.0, st.Percentage, 1e-9)
	assert.True(t, st.WithinBounds)
	require.Len(t, st.Videos, 2)
	assert.Equal(t, "yt_b", st.Videos[1].SourceID)
	assert.Equal(t, 1, st.Videos[1].Selected)
	assert.True(t, st.Videos[1].Attached)
	assert.True(t, st.Videos[1].Controls.PreviewEnabled)
	assert.False(t, st.Previewing)

	started, err := h.s.StartPreview("video2")
	require.NoError(t, err)
	require.True(t, started)
	st = h.s.Status()
	assert.True(t, st.Previewing)
	assert.Equal(t, preview.Idle, st.Videos[0].Preview.State)
	assert.Equal(t, preview.Playing, st.Videos[1].Preview.State)
	assert.Equal(t, "video2_s9", st.Videos[1].Preview.SegmentID)
	assert.True(t, st.Videos[1].Controls.StopVisible)
	h.s.StopAll()

	videos, err := h.s.Videos(context.Background())
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "https://cdn.example/videos/asia/tokyo/yt_a.mp4", videos[0].URL)
	assert.Equal(t, 10, videos[0].Segments)

	segs, err := h.s.Segments("video2")
	require.NoError(t, err)
	require.Len(t, segs, 10)
	assert.True(t, segs[9].Selected)

	_, err = h.s.Segments("video3")
	assert.ErrorIs(t, err, ErrUnknownVideo)
}

func TestEDL_FollowsPreviewOrder(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)
	for _, id := range []string{"video2_s0", "video1_s3", "video1_s1"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}

	edl := h.s.EDL("", 25)
	lines := strings.Split(edl, "\n")
	assert.Equal(t, "TITLE: Tokyo", lines[0])

	assert.Contains(t, edl, "001  AX       V     C        00:00:10:00 00:00:20:00 00:00:00:00 00:00:10:00")
	assert.Contains(t, edl, "002  AX       V     C        00:00:30:00 00:00:40:00 00:00:10:00 00:00:20:00")
	assert.Contains(t, edl, "003  AX       V     C        00:00:00:00 00:00:10:00 00:00:20:00 00:00:30:00")
	assert.Contains(t, edl, "* MEDIA PATH:  asia/tokyo/yt_a.mp4")
	assert.Contains(t, edl, "* MEDIA PATH:  asia/tokyo/yt_b.mp4")
}

func TestSubmit_StandaloneWritesResult(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)

	_, err := h.s.Submit(context.Background())
	var verr *result.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0.0, verr.Percentage)

	for _, id := range []string{"video1_s0", "video2_s9"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}
	sub, err := h.s.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-1", sub.SessionID)
	assert.Equal(t, 2, sub.SelectedSegments)

	data, err := os.ReadFile(filepath.Join(h.dir, result.Filename("Tokyo", fixedNow)))
	require.NoError(t, err)
	var doc result.Result
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 20, doc.TotalSegments)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", doc.Timestamp)
}

func TestHandleMessage_HostSaveRequest(t *testing.T) {
	h := newHarness(t, submit.ModeAMT)
	save := realtime.Inbound{ClientID: "c1", Role: realtime.RoleHost, Type: submit.MsgSaveRequest}

	h.s.HandleMessage(save)
	msgs := h.bus.hostMessages()
	require.Len(t, msgs, 1)
	saveErr, ok := msgs[0].(submit.SaveError)
	require.True(t, ok, "got %T", msgs[0])
	assert.Equal(t, submit.MsgSaveError, saveErr.Type)
	assert.Contains(t, saveErr.Message, "Current: 0.0%")

	for _, id := range []string{"video1_s0", "video1_s1", "video2_s2"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}
	h.s.HandleMessage(save)
	msgs = h.bus.hostMessages()
	require.Len(t, msgs, 2)
	saved, ok := msgs[1].(submit.ResultsSaved)
	require.True(t, ok, "got %T", msgs[1])
	assert.Equal(t, submit.MsgResultsSaved, saved.Type)
	assert.Equal(t, 3, saved.Results.SelectedSegments)
	assert.InDelta(t, 15.0, saved.Results.Percentage, 1e-9)

	h.s.HandleMessage(realtime.Inbound{Role: realtime.RoleUI, Type: "ping"})
	assert.Len(t, h.bus.hostMessages(), 2, "other message types are ignored")
}

func TestSubmit_DeliveryFailureSurfaces(t *testing.T) {
	h := newHarness(t, submit.ModeStandalone)
	// A file where the results directory should be makes delivery fail.
	require.NoError(t, os.MkdirAll(filepath.Dir(h.dir), 0755))
	require.NoError(t, os.WriteFile(h.dir, []byte("x"), 0644))

	for _, id := range []string{"video1_s0", "video2_s9"} {
		_, err := h.s.Toggle(id)
		require.NoError(t, err)
	}
	_, err := h.s.Submit(context.Background())
	require.Error(t, err)
	var verr *result.ValidationError
	assert.False(t, errors.As(err, &verr))
}
