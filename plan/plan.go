// Package plan implements the executable query plan (EQP): its identity,
// its pipeline DAG, and its lifecycle state machine (spec §3 "Executable
// query plan (EQP)", §4.3 "Executable query plan and query manager").
package plan

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nebulastream/exec-core/pipeline"
)

// State is one point in the EQP lifecycle.
type State int

const (
	Created State = iota
	Deployed
	Running
	Finished
	Stopped
	ErrorState
	Invalid
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Deployed:
		return "Deployed"
	case Running:
		return "Running"
	case Finished:
		return "Finished"
	case Stopped:
		return "Stopped"
	case ErrorState:
		return "ErrorState"
	case Invalid:
		return "Invalid"
	default:
		return "Unknown"
	}
}

// legalTransitions enumerates every State → State edge spec §3's lifecycle
// allows. Anything not listed here is rejected by Transition.
var legalTransitions = map[State][]State{
	Created:  {Deployed, Invalid, ErrorState},
	Deployed: {Running, ErrorState, Stopped},
	Running:  {Finished, Stopped, ErrorState},
}

// PipelineID addresses one pipeline within an EQP's DAG.
type PipelineID uint64

// PipelineNode is one DAG node: a compiled stage plus the ids of the
// pipelines it feeds output buffers to.
type PipelineNode struct {
	ID         PipelineID
	Stage      pipeline.ExecutablePipelineStage
	Successors []PipelineID
}

// Plan is one executable query plan: identified by (DecomposedQueryID,
// Version) and belonging to a SharedQueryID shared across plan reuses
// (SourceReuse, spec §4.6).
type Plan struct {
	DecomposedQueryID uuid.UUID
	SharedQueryID     uuid.UUID
	Version           uint64

	mu    sync.Mutex
	state State

	Pipelines map[PipelineID]*PipelineNode
	Sources   []uint64 // source operator ids, ordered
	Sinks     []uint64 // sink operator ids, ordered

	Handlers []interface{} // operator handlers, indexed by pipeline.HandlerIndex
}

// New builds a Plan in state Created, belonging to sharedQueryID (pass a
// fresh uuid.New() for a brand-new shared query, or an existing one when
// this Plan is a replacement version).
func New(sharedQueryID uuid.UUID, version uint64) *Plan {
	return &Plan{
		DecomposedQueryID: uuid.New(),
		SharedQueryID:     sharedQueryID,
		Version:           version,
		state:             Created,
		Pipelines:         make(map[PipelineID]*PipelineNode),
	}
}

// State reports the plan's current lifecycle state.
func (p *Plan) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Transition moves the plan to next, rejecting any edge legalTransitions
// does not list for the current state. ErrorState and Stopped are
// terminal except that either may be reached from any non-terminal state
// (a failure or hard stop can happen at any point).
func (p *Plan) Transition(next State) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if next == ErrorState || next == Stopped {
		if p.state == Finished || p.state == ErrorState || p.state == Stopped || p.state == Invalid {
			return fmt.Errorf("plan: cannot transition %v -> %v: terminal state", p.state, next)
		}
		p.state = next
		return nil
	}

	for _, allowed := range legalTransitions[p.state] {
		if allowed == next {
			p.state = next
			return nil
		}
	}
	return fmt.Errorf("plan: illegal transition %v -> %v", p.state, next)
}

// AddPipeline registers a DAG node. Registration order does not need to
// follow topological order; successors may reference ids not yet added.
func (p *Plan) AddPipeline(node *PipelineNode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Pipelines[node.ID] = node
}

// Pipeline looks up a DAG node by id.
func (p *Plan) Pipeline(id PipelineID) (*PipelineNode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	node, ok := p.Pipelines[id]
	return node, ok
}
