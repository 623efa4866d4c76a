// Package queryengine implements the query manager: task dispatch over
// one or more MPMC queues, a worker thread pool, reconfiguration message
// posting with barrier convergence, and statistics wiring (spec §4.3).
package queryengine

import (
	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/marker"
	"github.com/nebulastream/exec-core/plan"
)

// MessageKind tags a reconfiguration message's variant.
type MessageKind int

const (
	MsgStart MessageKind = iota
	MsgStop
	MsgFail
	MsgUpdateWatermark
	MsgDrain
	MsgPropagateMarker
	MsgEpochTrim
	MsgSourceReuse
)

// ReconfigMessage is a control task every worker thread assigned to its
// plan's queue(s) must execute, stamped with a barrier the blocking
// caller can wait on (spec §4.3).
type ReconfigMessage struct {
	Kind              MessageKind
	Plan              *plan.Plan
	SharedQueryID     string
	DecomposedQueryID string
	Version           uint64
	Marker            *marker.Marker
	Barrier           *marker.Barrier
}

// Task is a data buffer dispatched to one pipeline. Reconfiguration
// messages bypass this queue entirely: they travel over each worker's
// own control channel (see Manager.AddReconfigurationMessage) since a
// barrier needs delivery to every worker sharing a queue, not just
// whichever one happens to dequeue a single shared-queue task.
type Task struct {
	Plan       *plan.Plan
	PipelineID plan.PipelineID
	Buffer     *buffer.TupleBuffer
}
