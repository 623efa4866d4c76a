// Package pipeline defines the executable pipeline stage contract (spec
// §4.2): a pure function the query manager invokes once per input buffer,
// plus the two context types it can call back into.
package pipeline

import (
	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/utils/cast"
)

// ExecutionResult is the three-valued outcome an ExecutablePipelineStage
// reports back to its caller.
type ExecutionResult int

const (
	// Ok means the stage consumed the input and (optionally) emitted output.
	Ok ExecutionResult = iota
	// Error means the stage failed on this input; the owning EQP alone is
	// torn down, other EQPs are unaffected (spec §4.3 failure semantics).
	Error
	// Finished means the stage has no more output to produce ever again
	// (e.g. it observed the end of its upstream) and should not be
	// scheduled again.
	Finished
)

func (r ExecutionResult) String() string {
	switch r {
	case Ok:
		return "Ok"
	case Error:
		return "Error"
	case Finished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// HandlerIndex addresses a stateful operator handler registered on an EQP.
type HandlerIndex int

// EmitFunc hands an output buffer to the query manager, which converts it
// into a downstream task. Stages never address a successor directly.
type EmitFunc func(out *buffer.TupleBuffer)

// PipelineContext is the callback surface a stage may use while executing:
// emitting output, reaching a stateful handler by index, and allocating
// scratch memory from the task's arena. Pipelines themselves are stateless
// (spec §4.2) — all mutable state lives behind Handler.
type PipelineContext struct {
	PipelineID HandlerIndex
	emit       EmitFunc
	handlers   []interface{}
	arena      *buffer.Arena
}

// NewPipelineContext constructs a context bound to one task's emit sink,
// handler table, and scratch arena.
func NewPipelineContext(id HandlerIndex, emit EmitFunc, handlers []interface{}, arena *buffer.Arena) *PipelineContext {
	return &PipelineContext{PipelineID: id, emit: emit, handlers: handlers, arena: arena}
}

// Emit hands out to the query manager as a new downstream task.
func (c *PipelineContext) Emit(out *buffer.TupleBuffer) {
	c.emit(out)
}

// Handler returns the stateful operator handler registered at idx. Callers
// type-assert to the concrete handler interface they expect (window, join,
// or watermark-processor).
func (c *PipelineContext) Handler(idx HandlerIndex) interface{} {
	if int(idx) < 0 || int(idx) >= len(c.handlers) {
		return nil
	}
	return c.handlers[idx]
}

// Arena returns the task-scoped VariableSizedData allocator.
func (c *PipelineContext) Arena() *buffer.Arena {
	return c.arena
}

// arenaScratchCapacity sizes a worker's reusable task arena; it matches
// buffer.Pool's default per-segment byte capacity, since the variable-sized
// payloads an arena holds (e.g. an emitted window's group-by key) come from
// the same rows.
const arenaScratchCapacity = 4096

// WorkerContext carries the per-worker-thread resources a stage may need:
// its own scratch buffer pool tier, an identity used for thread-local state
// lookups (e.g. a join's thread-local hash table, spec §4.5), and a
// VariableSizedData arena reset before each task rather than reallocated.
type WorkerContext struct {
	WorkerID int
	Pool     *buffer.Pool
	Arena    *buffer.Arena
}

// NewWorkerContext binds a worker's identity to its buffer pool handle and
// gives it its own scratch arena.
func NewWorkerContext(workerID int, pool *buffer.Pool) *WorkerContext {
	return &WorkerContext{WorkerID: workerID, Pool: pool, Arena: buffer.NewArena(arenaScratchCapacity)}
}

// resolveVarSizedKey stringifies env[field], resolving a VarSized
// descriptor ([2]int64 offset/length pair, schema.DecodeRow's documented
// contract) through the task's arena rather than stringifying the raw
// pair, which would fracture one real key into many whenever two rows'
// arena offsets differ. ok is false only when field is VarSized and the
// task has no arena to resolve it against.
func resolveVarSizedKey(env map[string]interface{}, field string, pctx *PipelineContext) (key string, ok bool) {
	pair, isVarSized := env[field].([2]int64)
	if !isVarSized {
		return cast.ToString(env[field]), true
	}
	arena := pctx.Arena()
	if arena == nil {
		return "", false
	}
	return string(arena.Get(buffer.VariableSizedData{Offset: int(pair[0]), Length: int(pair[1])})), true
}

// ExecutablePipelineStage is the opaque, pure function the query manager
// invokes once per input buffer. Implementations must be safe for
// concurrent invocation on distinct input buffers (spec §4.2: "the core
// treats the execute function as opaque and only requires it to be
// thread-safe for concurrent invocations on distinct input buffers").
type ExecutablePipelineStage func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult
