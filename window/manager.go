package window

import (
	"sync"

	"github.com/nebulastream/exec-core/aggregate"
)

// Manager binds one Store to one operator's Watermark, so a single
// per-origin watermark update both advances the merged watermark and
// triggers whatever windows the advance makes due (spec §4.4
// "triggering").
type Manager struct {
	mu        sync.Mutex
	store     *Store
	watermark *Watermark
}

// NewManager builds a window manager for one (size, slide) assignment and
// aggregation, starting with an empty watermark.
func NewManager(assigner *Assigner, agg aggregate.Aggregation) *Manager {
	return &Manager{
		store:     NewStore(assigner, agg),
		watermark: NewWatermark(),
	}
}

// Ingest routes one record into its slice. It returns nothing and emits
// no windows; emission happens only in AdvanceWatermark.
func (m *Manager) Ingest(originID uint64, key string, ts int64, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Ingest(key, ts, value)
}

// AdvanceWatermark updates originID's watermark, recomputes the merged
// output watermark, and finalizes/emits every window across every key
// that the new watermark makes due.
func (m *Manager) AdvanceWatermark(originID uint64, ts int64) (merged int64, emitted []EmittedWindow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merged = m.watermark.Update(originID, ts)
	emitted = m.store.Advance(merged)
	return merged, emitted
}

// CurrentWatermark reports the operator's merged output watermark.
func (m *Manager) CurrentWatermark() (int64, bool) {
	return m.watermark.Current()
}
