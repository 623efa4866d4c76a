// Package execcore is the root facade of the execution core: it wires a
// tiered buffer pool, the query manager's worker pool, and a per-plan
// statistics registry into one constructor, and exposes the EQP lifecycle
// operations (register, start, stop) spec.md §3-§4 describe as methods on
// a single long-lived Engine (the role streamsql.Streamsql plays for its
// own SQL-to-pipeline pipeline).
package execcore

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/coreerr"
	"github.com/nebulastream/exec-core/marker"
	"github.com/nebulastream/exec-core/plan"
	"github.com/nebulastream/exec-core/queryengine"
	"github.com/nebulastream/exec-core/stats"
)

// Engine owns the process-wide buffer pool and worker pool every
// registered plan shares (spec §4.3: "the worker pool is shared
// process-wide across every registered plan").
type Engine struct {
	pool     *buffer.Pool
	manager  *queryengine.Manager
	statsReg prometheus.Registerer

	globalBuffers int
	sourceBuffers int
	workerBuffers int
	bufferSize    int

	mode            queryengine.DispatchMode
	numQueues       int
	threadsPerQueue int
	queueCapacity   int
}

// New builds an Engine. Defaults favor correctness over footprint (1024
// global, 256 source and 256 worker buffers, 8 worker threads on a single
// dynamic queue); override
// via Option for production sizing.
func New(options ...Option) *Engine {
	e := &Engine{
		globalBuffers:   1024,
		sourceBuffers:   256,
		workerBuffers:   256,
		bufferSize:      4096,
		mode:            queryengine.Dynamic,
		numQueues:       1,
		threadsPerQueue: 8,
		queueCapacity:   4096,
		statsReg:        prometheus.DefaultRegisterer,
	}
	for _, opt := range options {
		opt(e)
	}

	e.pool = buffer.NewPool(e.globalBuffers, e.sourceBuffers, e.workerBuffers, buffer.WithBufferSize(e.bufferSize))
	e.manager = queryengine.New(queryengine.Config{
		Mode:            e.mode,
		NumQueues:       e.numQueues,
		ThreadsPerQueue: e.threadsPerQueue,
		QueueCapacity:   e.queueCapacity,
		Pool:            e.pool,
	})
	return e
}

// Pool returns the engine's tiered buffer pool, for sources and sinks
// built outside this module that still need to acquire/release buffers
// against the shared pool.
func (e *Engine) Pool() *buffer.Pool {
	return e.pool
}

// RegisterExecutableQueryPlan validates p, allocates its statistics
// registry, and pins it to a dispatch queue (spec §4.3
// "registerExecutableQueryPlan"). p must be freshly constructed via
// plan.New and in the Created state.
func (e *Engine) RegisterExecutableQueryPlan(p *plan.Plan) error {
	return e.manager.RegisterExecutableQueryPlan(p, e.statsReg)
}

// Unregister drops p's queue pinning and statistics registration. Call
// after p reaches a terminal state (Finished/Stopped/ErrorState).
func (e *Engine) Unregister(p *plan.Plan) {
	e.manager.Unregister(p, e.statsReg)
}

// Start transitions p Created -> Deployed -> Running.
func (e *Engine) Start(p *plan.Plan) error {
	return e.manager.Start(p)
}

// Stop initiates a graceful drain (waits up to drainTimeout for p's
// in-flight buffers to finish and for every worker on p's queue to
// acknowledge a DrainQuery message before escalating to a hard stop), a
// hard stop, or marks p failed.
func (e *Engine) Stop(p *plan.Plan, kind queryengine.StopKind, drainTimeout time.Duration) error {
	return e.manager.Stop(p, kind, drainTimeout)
}

// AddWorkForNextPipeline hands buf to successor's pipeline stage on p's
// assigned dispatch queue — the entry point sources use to feed data
// into the plan (spec §4.3 "addWorkForNextPipeline").
func (e *Engine) AddWorkForNextPipeline(p *plan.Plan, successor plan.PipelineID, buf *buffer.TupleBuffer) {
	e.manager.AddWorkForNextPipeline(p, successor, buf)
}

// InjectEpochBarrier posts an EpochTrim marker originating at
// sourceOperatorID, returning a barrier that closes once every worker
// thread assigned to p's queue(s) has acknowledged it (spec §4.3, §5).
func (e *Engine) InjectEpochBarrier(p *plan.Plan, epochTimestamp int64, sourceOperatorID uint64) (*marker.Barrier, error) {
	return e.manager.InjectEpochBarrier(p, epochTimestamp, sourceOperatorID)
}

// ReuseSource binds oldPlan's already-running sources to newPlan instead
// of a full stop/restart, draining and retiring oldPlan once every
// worker has observed the SourceReuse marker (spec §4.6). newSuccessors
// maps each reused source operator id to the pipeline ids it must target
// on newPlan from now on.
func (e *Engine) ReuseSource(oldPlan, newPlan *plan.Plan, newSuccessors map[uint64][]uint64, drainTimeout time.Duration) error {
	return e.manager.ReuseSource(oldPlan, newPlan, newSuccessors, drainTimeout)
}

// Stats returns p's statistics registry, if p is currently registered.
func (e *Engine) Stats(p *plan.Plan) (*stats.Registry, error) {
	reg, ok := e.manager.Stats(p)
	if !ok {
		return nil, fmt.Errorf("execcore: plan %s is not registered: %w", p.DecomposedQueryID, coreerr.ErrInvalidPlan)
	}
	return reg, nil
}

// Shutdown tears down the engine's worker pool. No plan may be started
// or stopped through this Engine afterward.
func (e *Engine) Shutdown() {
	e.manager.Shutdown()
}
