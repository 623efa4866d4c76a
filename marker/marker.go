// Package marker implements the reconfiguration markers that flow through
// the data plane alongside tuple buffers (spec §4.6): DrainQuery,
// EpochTrim, and SourceReuse, plus the barrier every worker decrements
// when it processes one.
package marker

import (
	"sync"

	"github.com/google/uuid"
)

// Kind identifies which reconfiguration marker this is.
type Kind int

const (
	// DrainQuery requests a graceful stop: sources stop reading after
	// emitting it, pipelines forward it once prior data has drained, and
	// sinks acknowledge it.
	DrainQuery Kind = iota
	// EpochTrim carries a barrier timestamp storage components may use to
	// trim buffered history. Propagated sink-to-source.
	EpochTrim
	// SourceReuse binds an old EQP's sources to a replacement plan's
	// pipelines without re-reading input.
	SourceReuse
)

func (k Kind) String() string {
	switch k {
	case DrainQuery:
		return "DrainQuery"
	case EpochTrim:
		return "EpochTrim"
	case SourceReuse:
		return "SourceReuse"
	default:
		return "Unknown"
	}
}

// Marker is one reconfiguration event. Metadata is kind-specific:
// EpochTrim carries an epoch timestamp, SourceReuse carries a
// sourceId→newSuccessors mapping.
type Marker struct {
	ID       uuid.UUID
	Kind     Kind
	SourceID uint64
	Metadata interface{}
}

// New creates a marker with a fresh id, tagged with the source that
// injected it.
func New(kind Kind, sourceID uint64, metadata interface{}) Marker {
	return Marker{ID: uuid.New(), Kind: kind, SourceID: sourceID, Metadata: metadata}
}

// EpochTrimMetadata is the Metadata payload for an EpochTrim marker.
type EpochTrimMetadata struct {
	EpochTimestamp int64
}

// SourceReuseMetadata is the Metadata payload for a SourceReuse marker.
type SourceReuseMetadata struct {
	NewSuccessors map[uint64][]uint64 // sourceId -> newSuccessor pipeline ids
}

// Barrier tracks convergence of a single marker at a single sink: the
// marker must be delivered exactly once per source that injected a
// matching reconfiguration, and the sink's acknowledgment count must
// equal the number of sources that must converge at it (spec §4.6
// invariants).
type Barrier struct {
	mu        sync.Mutex
	required  int
	acked     map[uint64]bool // sourceId -> acknowledged
	done      chan struct{}
	closeOnce sync.Once
}

// NewBarrier builds a barrier awaiting acknowledgment from `required`
// distinct sources.
func NewBarrier(required int) *Barrier {
	return &Barrier{
		required: required,
		acked:    make(map[uint64]bool, required),
		done:     make(chan struct{}),
	}
}

// Ack records sourceID's acknowledgment. A source acknowledging more than
// once is idempotent — it only counts toward convergence once.
func (b *Barrier) Ack(sourceID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acked[sourceID] {
		return
	}
	b.acked[sourceID] = true
	if len(b.acked) >= b.required {
		b.closeOnce.Do(func() { close(b.done) })
	}
}

// Done returns a channel closed once every required source has
// acknowledged — callers wanting a blocking reconfiguration (spec §4.3
// "blocking=true causes the caller to wait on the barrier") select on it.
func (b *Barrier) Done() <-chan struct{} {
	return b.done
}

// Converged reports whether every required source has acknowledged.
func (b *Barrier) Converged() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked) >= b.required
}
