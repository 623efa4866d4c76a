// Package handler binds stateful operator behavior — window aggregation,
// stream join, and watermark propagation — to an executable query plan's
// pipeline.PipelineContext handler table (spec §4.2: "pipelines are
// stateless; all mutable state lives in operator handlers").
package handler

import (
	"sync"

	"github.com/nebulastream/exec-core/aggregate"
	"github.com/nebulastream/exec-core/join"
	"github.com/nebulastream/exec-core/window"
)

// WindowHandler binds a window.Manager to one pipeline's handler slot. A
// pipeline's compiled stage type-asserts pctx.Handler(idx).(*WindowHandler)
// to reach it.
type WindowHandler struct {
	Manager *window.Manager
}

// NewWindowHandler builds a window handler for one (assigner, aggregation)
// pair, the behavior a tumbling, sliding, or gapped window operator needs.
func NewWindowHandler(assigner *window.Assigner, agg aggregate.Aggregation) *WindowHandler {
	return &WindowHandler{Manager: window.NewManager(assigner, agg)}
}

// Ingest routes one record into the handler's slice store.
func (h *WindowHandler) Ingest(originID uint64, key string, ts int64, value float64) {
	h.Manager.Ingest(originID, key, ts, value)
}

// AdvanceWatermark updates originID's watermark and returns every window
// the new merged watermark makes due for emission.
func (h *WindowHandler) AdvanceWatermark(originID uint64, ts int64) (int64, []window.EmittedWindow) {
	return h.Manager.AdvanceWatermark(originID, ts)
}

// JoinHandler binds the active join windows for one join operator,
// keyed by window start so a build-phase append and a later probe agree
// on which window a record belongs to. Many workers build and commit
// tables for the same window concurrently (spec §4.5), so every access
// to windows/closedUpTo goes through mu; the Table each worker builds
// stays unlocked (single-owner) until the moment it is committed here.
type JoinHandler struct {
	mu sync.Mutex

	numPartitions  int
	pageSize       int
	recordSize     int64
	joinSizeInByte int64

	windows    map[int64]*join.Window
	closedUpTo int64
}

// NewJoinHandler builds a join handler with the window's fixed
// configuration (spec §4.5: "pageSize, numPartitions, per-window memory
// budget joinSizeInByte").
func NewJoinHandler(numPartitions, pageSize int, recordSize, joinSizeInByte int64) *JoinHandler {
	return &JoinHandler{
		numPartitions:  numPartitions,
		pageSize:       pageSize,
		recordSize:     recordSize,
		joinSizeInByte: joinSizeInByte,
		windows:        make(map[int64]*join.Window),
	}
}

// WindowFor returns (creating if necessary) the join.Window for the
// half-open interval [start, end).
func (h *JoinHandler) WindowFor(start, end int64) *join.Window {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.windowForLocked(start, end)
}

func (h *JoinHandler) windowForLocked(start, end int64) *join.Window {
	w, ok := h.windows[start]
	if !ok {
		w = join.NewWindow(start, end, h.numPartitions, h.joinSizeInByte)
		h.windows[start] = w
	}
	return w
}

// NewTable builds a fresh thread-local build table sized per this
// handler's page configuration, for one worker's build phase.
func (h *JoinHandler) NewTable() *join.Table {
	return join.NewTable(h.numPartitions, h.pageSize, h.recordSize)
}

// CommitLeft registers a worker's finished left-side build table for the
// window [start, end), creating the window on first commit. Safe to call
// concurrently from every worker building against the same window.
func (h *JoinHandler) CommitLeft(start, end int64, t *join.Table) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.windowForLocked(start, end).AddLeftTable(t)
}

// CommitRight is CommitLeft's right-side counterpart.
func (h *JoinHandler) CommitRight(start, end int64, t *join.Table) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.windowForLocked(start, end).AddRightTable(t)
}

// CloseWindow probes and releases the window starting at start, removing
// it from the handler once the caller is done with the result (spec
// §4.5: "memory for a closed window's hash tables is released after its
// probe completes").
func (h *JoinHandler) CloseWindow(start int64) []join.Pair {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[start]
	if !ok {
		return nil
	}
	pairs := w.Probe()
	w.Release()
	delete(h.windows, start)
	return pairs
}

// DueWindows advances the handler's close cursor across every
// windowSize-wide interval whose end is now at or before watermark,
// returning the start of each one that actually has a window (i.e. saw
// at least one committed table). The cursor guarantees a window is
// never handed back twice even if the caller's watermark jumps by more
// than one window in a single advance.
func (h *JoinHandler) DueWindows(watermark, windowSize int64) []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var due []int64
	for start := h.closedUpTo; start+windowSize <= watermark; start += windowSize {
		if _, ok := h.windows[start]; ok {
			due = append(due, start)
		}
		h.closedUpTo = start + windowSize
	}
	return due
}

// WatermarkHandler is the minimal stateful handler a non-windowed,
// non-join pipeline still needs to merge and propagate watermarks across
// origins (spec §4.6).
type WatermarkHandler struct {
	watermark *window.Watermark
}

// NewWatermarkHandler builds a bare per-origin watermark tracker.
func NewWatermarkHandler() *WatermarkHandler {
	return &WatermarkHandler{watermark: window.NewWatermark()}
}

// Update records originID's watermark and returns the operator's newly
// merged output watermark.
func (h *WatermarkHandler) Update(originID uint64, ts int64) int64 {
	return h.watermark.Update(originID, ts)
}

// Current reports the operator's merged output watermark.
func (h *WatermarkHandler) Current() (int64, bool) {
	return h.watermark.Current()
}
