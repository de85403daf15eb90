package terrain

import (
	"sync/atomic"

	"github.com/annel0/voxel-terrain/internal/scheduler"
)

// counters обновляются из потока тика, кроме received/rejected
type counters struct {
	ticks        uint64
	skippedTicks uint64
	regenerated  uint64
	messages     uint64
	malformed    uint64
	loadErrors   uint64

	received atomic.Uint64
	rejected atomic.Uint64
}

// Stats - снимок состояния актора для служебного API
type Stats struct {
	Participant    string             `json:"participant"`
	Database       string             `json:"database"`
	LoadState      string             `json:"load_state"`
	Remote         bool               `json:"remote"`
	Paused         bool               `json:"paused"`
	Entered        bool               `json:"entered"`
	Grids          int                `json:"grids"`
	ActiveVoxels   int                `json:"active_voxels"`
	Blocks         int                `json:"blocks"`
	ResidentBlocks int                `json:"resident_blocks"`
	DirtyCells     int                `json:"dirty_cells"`
	Marks          uint64             `json:"dirty_marks"`
	Ticks          uint64             `json:"ticks"`
	SkippedTicks   uint64             `json:"skipped_ticks"`
	Regenerated    uint64             `json:"cells_regenerated"`
	Messages       uint64             `json:"messages_applied"`
	Received       uint64             `json:"messages_received"`
	Rejected       uint64             `json:"messages_rejected"`
	Malformed      uint64             `json:"malformed_entries"`
	LoadErrors     uint64             `json:"load_errors"`
	ResetCount     uint64             `json:"reset_count"`
	LastDecision   scheduler.Decision `json:"last_decision"`
}

// Stats возвращает последний снимок. Безопасен для вызова из любой горутины.
func (t *Terrain) Stats() Stats {
	t.statsMu.RLock()
	defer t.statsMu.RUnlock()
	s := t.snapshot
	s.Received = t.counters.received.Load()
	s.Rejected = t.counters.rejected.Load()
	return s
}

// publishStats снимает состояние в потоке тика
func (t *Terrain) publishStats() {
	s := Stats{
		Participant:  t.id.String(),
		Database:     t.database,
		LoadState:    t.pending.State().String(),
		Remote:       t.opts.Remote,
		Paused:       t.paused,
		Entered:      t.entered,
		Grids:        t.store.Len(),
		Ticks:        t.counters.ticks,
		SkippedTicks: t.counters.skippedTicks,
		Regenerated:  t.counters.regenerated,
		Messages:     t.counters.messages,
		Malformed:    t.counters.malformed,
		LoadErrors:   t.counters.loadErrors,
		ResetCount:   t.resetCount,
		LastDecision: t.lastDecision,
	}
	if g := t.store.Primary(); g != nil {
		s.ActiveVoxels = g.ActiveCount()
	}
	if t.part != nil {
		blocks := t.part.Blocks()
		s.Blocks = len(blocks)
		for _, b := range blocks {
			if b.Resident {
				s.ResidentBlocks++
			}
		}
	}
	if t.tracker != nil {
		s.DirtyCells = t.tracker.DirtyCount()
		s.Marks = t.tracker.Marks()
	}

	t.statsMu.Lock()
	t.snapshot = s
	t.statsMu.Unlock()
}
