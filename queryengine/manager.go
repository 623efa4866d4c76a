package queryengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/coreerr"
	"github.com/nebulastream/exec-core/logger"
	"github.com/nebulastream/exec-core/marker"
	"github.com/nebulastream/exec-core/pipeline"
	"github.com/nebulastream/exec-core/plan"
	"github.com/nebulastream/exec-core/stats"
)

// DispatchMode selects how pipelines are pinned to worker threads (spec
// §4.3 "two dispatch modes").
type DispatchMode int

const (
	// Dynamic uses a single MPMC queue; every worker competes for every
	// task. Preferred when operators are lightweight and fungible.
	Dynamic DispatchMode = iota
	// MultiQueue uses numQueues MPMC queues with threadsPerQueue workers
	// pinned to each; every decomposed plan is pinned to one queue on
	// registration, round-robin. Preferred when operator locality matters.
	MultiQueue
)

// StopKind selects how Manager.Stop tears a plan down.
type StopKind int

const (
	Graceful StopKind = iota
	Hard
	Failure
)

type registeredPlan struct {
	plan       *plan.Plan
	queueIndex int
	stats      *stats.Registry
	pending    int64 // data tasks pushed but not yet finished processing
}

// Config configures a Manager at construction.
type Config struct {
	Mode            DispatchMode
	NumQueues       int // ignored for Dynamic (always 1)
	ThreadsPerQueue int
	QueueCapacity   int
	Pool            *buffer.Pool
}

// Manager is the query manager (spec §4.3): it owns the worker pool, the
// dispatch queues, and the registry of every currently-registered plan.
type Manager struct {
	mode            DispatchMode
	queues          []*TaskQueue
	threadsPerQueue int
	control         [][]chan *ReconfigMessage // control[queueIdx][workerSlot]
	pool            *buffer.Pool

	mu        sync.Mutex
	plans     map[string]*registeredPlan
	nextQueue int64

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group
}

// New builds a Manager and starts its worker pool immediately — the
// worker pool is process-wide, shared by every plan registered with it.
func New(cfg Config) *Manager {
	numQueues := cfg.NumQueues
	if cfg.Mode == Dynamic || numQueues < 1 {
		numQueues = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)
	m := &Manager{
		mode:            cfg.Mode,
		threadsPerQueue: cfg.ThreadsPerQueue,
		pool:            cfg.Pool,
		plans:           make(map[string]*registeredPlan),
		ctx:             egCtx,
		cancel:          cancel,
		eg:              eg,
	}
	for i := 0; i < numQueues; i++ {
		m.queues = append(m.queues, NewTaskQueue(cfg.QueueCapacity))
		workerControls := make([]chan *ReconfigMessage, cfg.ThreadsPerQueue)
		for j := range workerControls {
			workerControls[j] = make(chan *ReconfigMessage, 4)
		}
		m.control = append(m.control, workerControls)
	}
	for qi, q := range m.queues {
		for wi := 0; wi < cfg.ThreadsPerQueue; wi++ {
			workerID := qi*cfg.ThreadsPerQueue + wi
			control := m.control[qi][wi]
			m.eg.Go(func() error {
				return m.runWorker(workerID, q, control)
			})
		}
	}
	return m
}

// Shutdown poisons every queue, waits for every worker to exit, and
// surfaces the first worker error (if any) to the log — a worker
// propagating an error through the errgroup cancels the shared context,
// which the rest of the pool observes via ctx.Done() the same way a
// graceful Stop's drain would (spec §5 cancellation).
func (m *Manager) Shutdown() {
	m.cancel()
	for _, q := range m.queues {
		q.Poison()
	}
	if err := m.eg.Wait(); err != nil {
		logger.Error("queryengine: worker pool stopped with error: %v", err)
	}
}

// RegisterExecutableQueryPlan validates p and pins it to a dispatch
// queue, round-robin for MultiQueue mode (spec §4.3
// "registerExecutableQueryPlan(eqp) — validates the plan, allocates
// handlers, transitions to Created").
func (m *Manager) RegisterExecutableQueryPlan(p *plan.Plan, statsReg prometheus.Registerer) error {
	if p == nil {
		return fmt.Errorf("queryengine: nil plan: %w", coreerr.ErrInvalidPlan)
	}
	if p.State() != plan.Created {
		return fmt.Errorf("queryengine: plan must be Created to register, got %v: %w", p.State(), coreerr.ErrInvalidPlan)
	}
	if len(p.Pipelines) == 0 {
		return fmt.Errorf("queryengine: plan has no pipelines: %w", coreerr.ErrInvalidPlan)
	}

	queueIdx := 0
	if m.mode == MultiQueue {
		queueIdx = int(atomic.AddInt64(&m.nextQueue, 1)-1) % len(m.queues)
	}

	reg := stats.New(statsReg, p.DecomposedQueryID.String())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.DecomposedQueryID.String()] = &registeredPlan{plan: p, queueIndex: queueIdx, stats: reg}
	return nil
}

// Stats returns the statistics registry bound to p at registration, if
// p is currently registered.
func (m *Manager) Stats(p *plan.Plan) (*stats.Registry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rp, ok := m.plans[p.DecomposedQueryID.String()]
	if !ok {
		return nil, false
	}
	return rp.stats, true
}

// Unregister drops p's dispatch-queue pinning and statistics registry,
// unregistering its collectors from reg (spec §4.3: a plan reusing its
// sources re-registers under the same decomposed-query id).
func (m *Manager) Unregister(p *plan.Plan, reg prometheus.Registerer) {
	m.mu.Lock()
	rp, ok := m.plans[p.DecomposedQueryID.String()]
	if ok {
		delete(m.plans, p.DecomposedQueryID.String())
	}
	m.mu.Unlock()
	if ok {
		rp.stats.Unregister(reg)
	}
}

// Start transitions a registered plan Created -> Deployed -> Running
// (spec §3 lifecycle). It only changes the plan's state; sources live
// outside this package and are not signalled.
func (m *Manager) Start(p *plan.Plan) error {
	if err := p.Transition(plan.Deployed); err != nil {
		return err
	}
	return p.Transition(plan.Running)
}

// Stop initiates end-of-stream propagation (Graceful) or an immediate
// halt (Hard/Failure) for p (spec §4.3, §5 cancellation).
func (m *Manager) Stop(p *plan.Plan, kind StopKind, drainTimeout time.Duration) error {
	switch kind {
	case Graceful:
		deadline := time.Now().Add(drainTimeout)
		if !m.awaitQueueDrain(p, deadline) {
			logger.Error("queryengine: graceful stop of %s timed out waiting for in-flight buffers, escalating to hard stop", p.DecomposedQueryID)
			return m.Stop(p, Hard, 0)
		}

		barrier, err := m.AddReconfigurationMessage(p, MsgDrain, nil)
		if err != nil {
			return err
		}
		select {
		case <-barrier.Done():
			return p.Transition(plan.Finished)
		case <-time.After(time.Until(deadline)):
			logger.Error("queryengine: graceful stop of %s timed out, escalating to hard stop", p.DecomposedQueryID)
			return m.Stop(p, Hard, 0)
		}
	case Failure:
		return p.Transition(plan.ErrorState)
	default: // Hard
		return p.Transition(plan.Stopped)
	}
}

// AddWorkForNextPipeline enqueues a data task for successor on p's
// assigned dispatch queue (spec §4.3 "addWorkForNextPipeline(buffer,
// successor, queueId)").
func (m *Manager) AddWorkForNextPipeline(p *plan.Plan, successor plan.PipelineID, buf *buffer.TupleBuffer) {
	m.mu.Lock()
	rp, ok := m.plans[p.DecomposedQueryID.String()]
	m.mu.Unlock()
	if !ok {
		buf.Release()
		return
	}
	atomic.AddInt64(&rp.pending, 1)
	m.queues[rp.queueIndex].Push(Task{Plan: p, PipelineID: successor, Buffer: buf})
}

// awaitQueueDrain blocks until every data buffer already pushed for p has
// finished processing, so the DrainQuery marker that follows converges
// only after the sink has seen every buffer emitted ahead of it (spec §5
// "drain completeness": every data buffer is received, then the marker,
// in that order). Returns false if deadline passes first.
func (m *Manager) awaitQueueDrain(p *plan.Plan, deadline time.Time) bool {
	m.mu.Lock()
	rp, ok := m.plans[p.DecomposedQueryID.String()]
	m.mu.Unlock()
	if !ok {
		return true
	}

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if atomic.LoadInt64(&rp.pending) <= 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// AddReconfigurationMessage enqueues a control task that every worker
// thread assigned to p's queue must execute, stamped with a barrier sized
// to that worker count (spec §4.3). The caller selects on the returned
// barrier's Done() channel itself when blocking=true semantics are
// needed; Stop does this for Graceful stop.
func (m *Manager) AddReconfigurationMessage(p *plan.Plan, kind MessageKind, mk *marker.Marker) (*marker.Barrier, error) {
	m.mu.Lock()
	rp, ok := m.plans[p.DecomposedQueryID.String()]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("queryengine: plan %s not registered: %w", p.DecomposedQueryID, coreerr.ErrInvalidPlan)
	}

	barrier := marker.NewBarrier(m.threadsPerQueue)
	msg := &ReconfigMessage{
		Kind: kind, Plan: p, SharedQueryID: p.SharedQueryID.String(), DecomposedQueryID: p.DecomposedQueryID.String(),
		Marker: mk, Barrier: barrier,
	}
	for _, ch := range m.control[rp.queueIndex] {
		ch <- msg
	}
	return barrier, nil
}

// InjectEpochBarrier inserts an EpochTrim trimming event, propagated
// back-pressure-wise from the named source operator.
func (m *Manager) InjectEpochBarrier(p *plan.Plan, epochTimestamp int64, sourceOperatorID uint64) (*marker.Barrier, error) {
	mk := marker.New(marker.EpochTrim, sourceOperatorID, marker.EpochTrimMetadata{EpochTimestamp: epochTimestamp})
	return m.AddReconfigurationMessage(p, MsgEpochTrim, &mk)
}

// ReuseSource binds oldPlan's already-running sources to newPlan in place
// of a full stop/restart of the source (spec §4.6; SPEC_FULL.md §1's
// binding Open-Question decision: "the old EQP's sinks always receive a
// terminal DrainQuery-equivalent marker when a SourceReuse transition
// completes; the new plan's sources never re-emit historical data —
// reused sources simply rebind their successor pipeline table entry").
//
// newSuccessors maps each reused source operator id to the pipeline ids
// it must target on newPlan from now on. Rebinding the source's own
// dispatch target is the source's responsibility (sources live outside
// this package); ReuseSource's job is to drain and retire oldPlan only
// once that mapping has been delivered to every worker still servicing
// it, and to guarantee oldPlan's downstream stops accepting work the
// instant the old source stops being the one feeding it — the same
// drain-then-barrier sequence Stop(Graceful) uses, with a SourceReuse
// marker standing in for the terminal marker instead of DrainQuery.
func (m *Manager) ReuseSource(oldPlan, newPlan *plan.Plan, newSuccessors map[uint64][]uint64, drainTimeout time.Duration) error {
	m.mu.Lock()
	_, oldOK := m.plans[oldPlan.DecomposedQueryID.String()]
	_, newOK := m.plans[newPlan.DecomposedQueryID.String()]
	m.mu.Unlock()
	if !oldOK {
		return fmt.Errorf("queryengine: old plan %s not registered: %w", oldPlan.DecomposedQueryID, coreerr.ErrInvalidPlan)
	}
	if !newOK {
		return fmt.Errorf("queryengine: replacement plan %s not registered: %w", newPlan.DecomposedQueryID, coreerr.ErrInvalidPlan)
	}

	deadline := time.Now().Add(drainTimeout)
	if !m.awaitQueueDrain(oldPlan, deadline) {
		logger.Error("queryengine: source reuse for %s timed out waiting for in-flight buffers, escalating to hard stop", oldPlan.DecomposedQueryID)
		return m.Stop(oldPlan, Hard, 0)
	}

	mk := marker.New(marker.SourceReuse, 0, marker.SourceReuseMetadata{NewSuccessors: newSuccessors})
	barrier, err := m.AddReconfigurationMessage(oldPlan, MsgSourceReuse, &mk)
	if err != nil {
		return err
	}
	select {
	case <-barrier.Done():
		// oldPlan's pipelines are now Finished: handleTask already drops
		// any buffer it sees for a Stopped/ErrorState/Finished plan, and the source
		// itself has stopped targeting oldPlan, so no further task will
		// ever reach it — this is the "old downstream torn down" half of
		// the decision.
		return oldPlan.Transition(plan.Finished)
	case <-time.After(time.Until(deadline)):
		logger.Error("queryengine: source reuse for %s timed out waiting for barrier convergence, escalating to hard stop", oldPlan.DecomposedQueryID)
		return m.Stop(oldPlan, Hard, 0)
	}
}

func (m *Manager) runWorker(workerID int, q *TaskQueue, control <-chan *ReconfigMessage) (err error) {
	wctx := pipeline.NewWorkerContext(workerID, m.pool)

	for {
		select {
		case <-m.ctx.Done():
			return nil
		case msg, ok := <-control:
			if !ok {
				return nil
			}
			m.handleReconfig(workerID, msg)
		case t, ok := <-q.Chan():
			if !ok {
				return nil
			}
			m.safeHandleTask(workerID, t, wctx)
		}
	}
}

// safeHandleTask recovers a panicking pipeline stage and posts MsgFail for
// its owning plan alone, the same outcome the non-panic pipeline.Error path
// reaches in handleTask — a stage bug must only fail the one EQP that
// raised it (spec §4.3 "a pipeline returning Error terminates only the
// owning EQP; other EQPs continue"). It never returns an error: this
// worker is shared by every other concurrently-registered plan's tasks via
// the process-wide errgroup, and returning an error here would cancel
// every worker's shared context, terminating the whole pool over one
// plan's bug.
func (m *Manager) safeHandleTask(workerID int, t Task, wctx *pipeline.WorkerContext) {
	defer func() {
		if r := recover(); r != nil {
			if t.Buffer != nil {
				t.Buffer.Release()
			}
			logger.Error("worker %d: pipeline stage panicked on plan %s: %v", workerID, t.Plan.DecomposedQueryID, r)
			_, _ = m.AddReconfigurationMessage(t.Plan, MsgFail, nil)
		}
	}()
	m.handleTask(t, wctx)
}

func (m *Manager) handleReconfig(workerID int, msg *ReconfigMessage) {
	defer func() {
		if msg.Barrier != nil {
			msg.Barrier.Ack(uint64(workerID))
		}
	}()

	if msg.Kind == MsgFail {
		logger.Error("queryengine: worker %d observed failure on plan %s", workerID, msg.DecomposedQueryID)
		if msg.Plan != nil {
			_ = msg.Plan.Transition(plan.ErrorState) // idempotent: terminal-state re-entry is a no-op error
		}
	}
	if msg.Kind == MsgSourceReuse {
		logger.Info("queryengine: worker %d observed source reuse for plan %s", workerID, msg.DecomposedQueryID)
	}
}

func (m *Manager) handleTask(t Task, wctx *pipeline.WorkerContext) {
	if t.Buffer == nil {
		return
	}

	m.mu.Lock()
	rp := m.plans[t.Plan.DecomposedQueryID.String()]
	m.mu.Unlock()
	if rp != nil {
		defer atomic.AddInt64(&rp.pending, -1)
	}

	switch t.Plan.State() {
	case plan.Stopped, plan.ErrorState, plan.Finished:
		t.Buffer.Release()
		return
	}

	node, ok := t.Plan.Pipeline(t.PipelineID)
	if !ok {
		t.Buffer.Release()
		return
	}

	successors := node.Successors
	emit := func(out *buffer.TupleBuffer) {
		for _, succ := range successors {
			out.Retain()
			m.AddWorkForNextPipeline(t.Plan, succ, out)
		}
		out.Release() // drop handleTask's own reference; successors hold theirs
	}
	wctx.Arena.Reset()
	pctx := pipeline.NewPipelineContext(pipeline.HandlerIndex(t.PipelineID), emit, t.Plan.Handlers, wctx.Arena)

	start := time.Now()
	result := node.Stage(t.Buffer, pctx, wctx)
	elapsed := time.Since(start).Seconds()

	if rp != nil {
		rp.stats.RecordTaskLatency(elapsed)
		rp.stats.ProcessedTasks.Inc()
	}

	switch result {
	case pipeline.Ok:
		if rp != nil {
			rp.stats.ProcessedBuffers.Inc()
			rp.stats.ProcessedTuples.Add(float64(t.Buffer.TupleCount()))
		}
	case pipeline.Error:
		if rp != nil {
			rp.stats.Errors.Inc()
		}
		_, _ = m.AddReconfigurationMessage(t.Plan, MsgFail, nil)
	case pipeline.Finished:
	}

	t.Buffer.Release()
}
