package selection

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heimdex/heimdex-annotator/internal/catalog"
)

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

func TestStore_ToggleScenario(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a"}, 20, 10)
	s := NewStore(cat)

	assert.Equal(t, 0.0, s.Percentage())

	selected, ok := s.Toggle("video1_s3")
	require.True(t, ok)
	assert.True(t, selected)
	assert.Equal(t, 5.0, s.Percentage())

	s.Toggle("video1_s7")
	assert.Equal(t, 2, s.Count())
	assert.Equal(t, 20.0, s.Duration())
	assert.Equal(t, 10.0, s.Percentage())
	assert.True(t, s.IsSelected("video1_s7"))

	selected, ok = s.Toggle("video1_s7")
	require.True(t, ok)
	assert.False(t, selected)
	assert.False(t, s.IsSelected("video1_s7"))
	assert.Equal(t, 1, s.Count())
}

func TestStore_ToggleUnknownIsNoop(t *testing.T) {
	s := NewStore(uniformCatalog(t, []string{"yt_a"}, 3, 10))

	var notified int
	s.Subscribe(func(Change) { notified++ })

	selected, ok := s.Toggle("video9_s1")
	assert.False(t, ok)
	assert.False(t, selected)
	assert.Zero(t, s.Count())
	assert.Zero(t, s.Duration())
	assert.Zero(t, notified)
}

func TestStore_DurationMatchesSelectionAfterEveryToggle(t *testing.T) {
	doc := catalog.Document{}
	durations := []float64{0.1, 0.2, 0.3, 1.7, 2.35, 9.99, 0.01, 3.333}
	start := 0.0
	for i, d := range durations {
		doc["yt_a"] = append(doc["yt_a"], json.RawMessage(fmt.Sprintf(
			`{"segment_number":%d,"start":%g,"end":%g,"duration":%g}`, i, start, start+d, d)))
		start += d
	}
	cat, err := catalog.New(doc, []string{"yt_a"}, catalog.LayoutMulti)
	require.NoError(t, err)
	s := NewStore(cat)

	rng := rand.New(rand.NewSource(7))
	for step := 0; step < 500; step++ {
		s.Toggle(catalog.SegmentID("video1", rng.Intn(len(durations))))

		var want int64
		for _, e := range s.Entries() {
			want += catalog.Micros(e.Duration)
		}
		require.Equal(t, catalog.Seconds(want), s.Duration(), "step %d", step)
	}
}

func TestStore_ToggleIsItsOwnInverse(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a"}, 10, 3.3)
	s := NewStore(cat)
	s.Toggle("video1_s1")
	s.Toggle("video1_s4")

	for _, id := range []string{"video1_s1", "video1_s2", "video1_s9"} {
		beforeSelected := s.IsSelected(id)
		beforeDuration := s.Duration()
		beforeCount := s.Count()

		s.Toggle(id)
		s.Toggle(id)

		assert.Equal(t, beforeSelected, s.IsSelected(id), id)
		assert.Equal(t, beforeDuration, s.Duration(), id)
		assert.Equal(t, beforeCount, s.Count(), id)
	}
}

func TestStore_IncludeAtTime(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a"}, 5, 10)
	s := NewStore(cat)

	seg, added, err := s.IncludeAtTime("video1", 10)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, "video1_s0", seg.ID, "shared boundary belongs to the earlier segment")

	seg, added, err = s.IncludeAtTime("video1", 5)
	require.NoError(t, err)
	assert.False(t, added, "already selected segment is not toggled off")
	assert.Equal(t, "video1_s0", seg.ID)
	assert.True(t, s.IsSelected("video1_s0"))

	_, _, err = s.IncludeAtTime("video1", 50.5)
	assert.ErrorIs(t, err, ErrNoSegmentAtPosition)
	assert.Equal(t, 1, s.Count())

	_, _, err = s.IncludeAtTime("video7", 1)
	assert.ErrorIs(t, err, ErrNoSegmentAtPosition)
}

func TestStore_SnapshotOrderedBySegmentNumber(t *testing.T) {
	cat := uniformCatalog(t, []string{"yt_a", "yt_b"}, 10, 5)
	s := NewStore(cat)

	for _, id := range []string{"video1_s8", "video1_s2", "video2_s1", "video1_s5", "video1_s0"} {
		s.Toggle(id)
	}

	snap := s.Snapshot("video1")
	require.Len(t, snap, 4)
	for i, want := range []int{0, 2, 5, 8} {
		assert.Equal(t, want, snap[i].SegmentNumber)
	}

	assert.Equal(t, 4, s.CountFor("video1"))
	assert.Equal(t, 1, s.CountFor("video2"))
	assert.Nil(t, s.Snapshot("video5"))
}

func TestStore_SubscribeReceivesAggregates(t *testing.T) {
	s := NewStore(uniformCatalog(t, []string{"yt_a"}, 20, 10))

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })

	s.Toggle("video1_s0")
	s.Toggle("video1_s1")
	s.Toggle("video1_s0")

	require.Len(t, changes, 3)
	last := changes[2]
	assert.Equal(t, "video1_s0", last.SegmentID)
	assert.False(t, last.Selected)
	assert.Equal(t, 1, last.Count)
	assert.Equal(t, 1, last.VideoCount)
	assert.Equal(t, 10.0, last.Duration)
	assert.Equal(t, 5.0, last.Percentage)
}

func TestStore_PercentageZeroTotal(t *testing.T) {
	s := NewStore(&catalog.Catalog{})

	_, ok := s.Toggle("video1_s0")
	assert.False(t, ok)
	assert.Equal(t, 0.0, s.Percentage())
}

func TestStore_FreezeIsDetached(t *testing.T) {
	s := NewStore(uniformCatalog(t, []string{"yt_a"}, 20, 10))
	s.Toggle("video1_s0")
	s.Toggle("video1_s3")

	f := s.Freeze()
	s.Toggle("video1_s4")
	s.Toggle("video1_s0")

	assert.Equal(t, 2, f.Count)
	assert.Len(t, f.IDs, 2)
	assert.Equal(t, int64(20_000_000), f.Micros)
	assert.Equal(t, 10.0, f.Percentage)
	assert.True(t, f.Has("video1_s0"))
	assert.False(t, f.Has("video1_s4"))
}
