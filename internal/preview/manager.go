package preview

import (
	"log/slog"
	"sort"

	"github.com/heimdex/heimdex-annotator/internal/playback"
)

// Manager owns one isolated sequencer per independently controlled media
// element. A concatenated session has exactly one.
type Manager struct {
	sequencers map[string]*Sequencer
	keys       []string
}

func NewManager(elements map[string]playback.Element, src Source, pres Presenter, sched Scheduler, cfg Config, logger *slog.Logger) *Manager {
	m := &Manager{sequencers: make(map[string]*Sequencer, len(elements))}
	for key, el := range elements {
		m.sequencers[key] = NewSequencer(key, el, src, pres, sched, cfg, logger)
		m.keys = append(m.keys, key)
	}
	sort.Strings(m.keys)
	return m
}

func (m *Manager) Get(key string) (*Sequencer, bool) {
	s, ok := m.sequencers[key]
	return s, ok
}

func (m *Manager) Keys() []string {
	return append([]string(nil), m.keys...)
}

// StopAll stops every running preview and returns how many were stopped.
func (m *Manager) StopAll() int {
	n := 0
	for _, key := range m.keys {
		if m.sequencers[key].Stop() {
			n++
		}
	}
	return n
}

func (m *Manager) Statuses() []Status {
	out := make([]Status, 0, len(m.keys))
	for _, key := range m.keys {
		out = append(out, m.sequencers[key].Status())
	}
	return out
}

// Playing reports whether any sequencer is running.
func (m *Manager) Playing() bool {
	for _, s := range m.sequencers {
		if s.State() == Playing {
			return true
		}
	}
	return false
}
