package join

import (
	"fmt"

	"github.com/nebulastream/exec-core/coreerr"
)

// Pair is one matched (left, right) record pair emitted by a probe.
type Pair struct {
	WindowStart int64
	WindowEnd   int64
	Key         string
	Left        map[string]interface{}
	Right       map[string]interface{}
}

// Window runs the two-phase build/probe protocol for a single join
// window: it merges every worker's thread-local Table for both sides and
// probes for matches once the caller (the window's watermark trigger)
// decides the window is closed.
type Window struct {
	Start, End     int64
	numPartitions  int
	joinSizeInByte int64

	leftTables  []*Table
	rightTables []*Table
	sizeBytes   int64
}

// NewWindow builds an empty join window; workers call AddLeftTable /
// AddRightTable as each finishes its build phase.
func NewWindow(start, end int64, numPartitions int, joinSizeInByte int64) *Window {
	return &Window{Start: start, End: end, numPartitions: numPartitions, joinSizeInByte: joinSizeInByte}
}

// AddLeftTable registers a worker's finished left-side build table.
// Returns coreerr.ErrResourceExhausted once the window's memory budget is
// exceeded — spec §4.5: "exceeding the budget transitions the EQP to
// ErrorState; the core does not spill to disk."
func (w *Window) AddLeftTable(t *Table) error {
	return w.addTable(&w.leftTables, t)
}

// AddRightTable registers a worker's finished right-side build table.
func (w *Window) AddRightTable(t *Table) error {
	return w.addTable(&w.rightTables, t)
}

func (w *Window) addTable(dst *[]*Table, t *Table) error {
	w.sizeBytes += t.SizeBytes()
	if w.joinSizeInByte > 0 && w.sizeBytes > w.joinSizeInByte {
		return fmt.Errorf("join: window [%d,%d) exceeded %d bytes: %w", w.Start, w.End, w.joinSizeInByte, coreerr.ErrResourceExhausted)
	}
	*dst = append(*dst, t)
	return nil
}

// Probe merges every worker's per-partition buckets on both sides and,
// for each partition, scans the smaller side's merged bucket against the
// opposite side's, emitting one Pair per matching (l, r) with equal keys
// (spec §4.5 probe phase steps 1-3).
func (w *Window) Probe() []Pair {
	var out []Pair
	for p := 0; p < w.numPartitions; p++ {
		left := mergeBucket(w.leftTables, p)
		right := mergeBucket(w.rightTables, p)

		scanSide, probeSide, scanIsLeft := left, right, true
		if len(right) < len(left) {
			scanSide, probeSide, scanIsLeft = right, left, false
		}

		probeIndex := make(map[string][]Record, len(probeSide))
		for _, r := range probeSide {
			probeIndex[r.Key] = append(probeIndex[r.Key], r)
		}

		for _, s := range scanSide {
			for _, match := range probeIndex[s.Key] {
				l, r := s, match
				if !scanIsLeft {
					l, r = match, s
				}
				out = append(out, Pair{
					WindowStart: w.Start, WindowEnd: w.End, Key: s.Key,
					Left: l.Value, Right: r.Value,
				})
			}
		}
	}
	return out
}

func mergeBucket(tables []*Table, partition int) []Record {
	var out []Record
	for _, t := range tables {
		out = append(out, t.Bucket(partition)...)
	}
	return out
}

// Release drops every table this window held, returning its memory for
// the pool to reclaim once probe has completed (spec §4.5 invariant:
// "memory for a closed window's hash tables is released after its probe
// completes").
func (w *Window) Release() {
	w.leftTables = nil
	w.rightTables = nil
}
