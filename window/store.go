package window

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/nebulastream/exec-core/aggregate"
)

const stripeCount = 32

// sliceState is the per-slice accumulator: its bounds plus the running
// partial every record landing in it has been combined into.
type sliceState struct {
	bound   Slice
	partial aggregate.Partial
	records int64
}

// windowState is the per-window accumulator: its bounds plus the running
// partial of every finalized slice folded into it so far.
type windowState struct {
	bound   Window
	partial aggregate.Partial
}

// keyBucket holds every slice and window currently open for one grouping
// key, guarded by its own lock; Ingest and every advance take it
// exclusively.
type keyBucket struct {
	mu      sync.RWMutex
	key     string
	slices  map[int64]*sliceState // keyed by Slice.Start
	windows map[int64]*windowState
}

// Store is the slice store for one windowed operator: keyed by grouping
// key (an unkeyed aggregation uses a single implicit bucket), it holds
// every open slice and window and triggers finalization/emission as the
// operator's watermark advances.
type Store struct {
	assigner *Assigner
	agg      aggregate.Aggregation

	stripes [stripeCount]sync.Mutex
	buckets map[uint64]*keyBucket
	mu      sync.RWMutex // guards buckets map membership only
}

// NewStore builds a slice store for one (assigner, aggregation) pair.
func NewStore(assigner *Assigner, agg aggregate.Aggregation) *Store {
	return &Store{
		assigner: assigner,
		agg:      agg,
		buckets:  make(map[uint64]*keyBucket),
	}
}

func keyHash(key string) uint64 {
	return xxhash.Sum64String(key)
}

func (s *Store) bucketFor(key string) *keyBucket {
	h := keyHash(key)
	stripe := &s.stripes[h%stripeCount]
	stripe.Lock()
	defer stripe.Unlock()

	s.mu.RLock()
	b, ok := s.buckets[h]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[h]; ok {
		return b
	}
	b = &keyBucket{
		key:     key,
		slices:  make(map[int64]*sliceState),
		windows: make(map[int64]*windowState),
	}
	s.buckets[h] = b
	return b
}

// Ingest locates or creates the slice containing ts and combines value's
// lifted partial into it (spec §4.4 slice store steps 1-3).
func (s *Store) Ingest(key string, ts int64, value float64) {
	b := s.bucketFor(key)
	sl := s.assigner.SliceFor(ts)

	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.slices[sl.Start]
	if !ok {
		st = &sliceState{bound: sl, partial: s.agg.Identity()}
		b.slices[sl.Start] = st
	}
	st.partial = s.agg.Combine(st.partial, s.agg.Lift(value))
	st.records++
}

// EmittedWindow is one finalized window's aggregate, ready for the
// operator to encode into an output buffer.
type EmittedWindow struct {
	Key    string
	Window Window
	Value  float64
}

// Advance finalizes every slice with sliceEnd <= watermark, folds each
// into every window it belongs to, and emits (then deletes) every window
// whose own end has also passed the watermark (spec §4.4 triggering).
func (s *Store) Advance(watermark int64) []EmittedWindow {
	s.mu.RLock()
	buckets := make([]*keyBucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.mu.RUnlock()

	var out []EmittedWindow
	for _, b := range buckets {
		out = append(out, s.advanceBucket(b, b.key, watermark)...)
	}
	return out
}

// AdvanceKey runs Advance scoped to a single known grouping key — the
// common case, since most callers already know which key a tuple arrived
// on and want to trigger only that key's windows.
func (s *Store) AdvanceKey(key string, watermark int64) []EmittedWindow {
	return s.advanceBucket(s.bucketFor(key), key, watermark)
}

func (s *Store) advanceBucket(b *keyBucket, key string, watermark int64) []EmittedWindow {
	b.mu.Lock()
	defer b.mu.Unlock()

	for start, sl := range b.slices {
		if sl.bound.End > watermark {
			continue
		}
		for _, win := range s.assigner.AllWindowsForSlice(sl.bound) {
			ws, ok := b.windows[win.Start]
			if !ok {
				ws = &windowState{bound: win, partial: s.agg.Identity()}
				b.windows[win.Start] = ws
			}
			ws.partial = s.agg.Combine(ws.partial, sl.partial)
		}
		delete(b.slices, start)
	}

	var out []EmittedWindow
	for start, ws := range b.windows {
		if ws.bound.End > watermark {
			continue
		}
		out = append(out, EmittedWindow{Key: key, Window: ws.bound, Value: s.agg.Lower(ws.partial)})
		delete(b.windows, start)
	}
	return out
}
