package queryengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/exec-core/aggregate"
	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/handler"
	"github.com/nebulastream/exec-core/pipeline"
	"github.com/nebulastream/exec-core/plan"
	"github.com/nebulastream/exec-core/schema"
	"github.com/nebulastream/exec-core/window"
)

func passThroughStage(sink chan<- *buffer.TupleBuffer) pipeline.ExecutablePipelineStage {
	return func(input *buffer.TupleBuffer, pctx *pipeline.PipelineContext, wctx *pipeline.WorkerContext) pipeline.ExecutionResult {
		sink <- input
		return pipeline.Ok
	}
}

func newTestManager(t *testing.T) (*Manager, *buffer.Pool) {
	t.Helper()
	pool := buffer.NewPool(8, 8, 8, buffer.WithBufferSize(256))
	m := New(Config{Mode: Dynamic, ThreadsPerQueue: 2, QueueCapacity: 16, Pool: pool})
	t.Cleanup(m.Shutdown)
	return m, pool
}

func TestRegisterStartAndDeliverToSink(t *testing.T) {
	m, pool := newTestManager(t)

	sinkCh := make(chan *buffer.TupleBuffer, 8)
	p := plan.New(uuid.New(), 1)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(sinkCh)})

	require.NoError(t, m.RegisterExecutableQueryPlan(p, prometheus.NewRegistry()))
	require.NoError(t, m.Start(p))
	assert.Equal(t, plan.Running, p.State())

	buf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	buf.SetTupleCount(3)
	m.AddWorkForNextPipeline(p, 1, buf)

	select {
	case got := <-sinkCh:
		assert.Equal(t, 3, got.TupleCount())
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("task was not delivered to the pipeline stage")
	}
}

func TestGracefulStopReachesFinished(t *testing.T) {
	m, _ := newTestManager(t)

	p := plan.New(uuid.New(), 1)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(make(chan *buffer.TupleBuffer, 1))})
	require.NoError(t, m.RegisterExecutableQueryPlan(p, prometheus.NewRegistry()))
	require.NoError(t, m.Start(p))

	require.NoError(t, m.Stop(p, Graceful, time.Second))
	assert.Equal(t, plan.Finished, p.State())
}

func TestHardStopDropsSubsequentTasks(t *testing.T) {
	m, pool := newTestManager(t)

	p := plan.New(uuid.New(), 1)
	sinkCh := make(chan *buffer.TupleBuffer, 8)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(sinkCh)})
	require.NoError(t, m.RegisterExecutableQueryPlan(p, prometheus.NewRegistry()))
	require.NoError(t, m.Start(p))
	require.NoError(t, m.Stop(p, Hard, 0))
	assert.Equal(t, plan.Stopped, p.State())

	before := pool.FreeCount(buffer.TierWorker)
	buf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	m.AddWorkForNextPipeline(p, 1, buf)

	select {
	case <-sinkCh:
		t.Fatal("a stopped plan must not reach its pipeline stage")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Eventually(t, func() bool {
		return pool.FreeCount(buffer.TierWorker) == before
	}, time.Second, 10*time.Millisecond, "dropped task's buffer must be released back to the pool")
}

// TestGracefulStopWaitsForInFlightBuffers pins down drain completeness:
// a slow-draining backlog of data buffers must all reach the sink before
// the DrainQuery marker converges and the plan transitions to Finished.
func TestGracefulStopWaitsForInFlightBuffers(t *testing.T) {
	m, pool := newTestManager(t)

	sinkCh := make(chan *buffer.TupleBuffer, 32)
	slowStage := func(input *buffer.TupleBuffer, pctx *pipeline.PipelineContext, wctx *pipeline.WorkerContext) pipeline.ExecutionResult {
		time.Sleep(20 * time.Millisecond)
		sinkCh <- input
		return pipeline.Ok
	}
	p := plan.New(uuid.New(), 1)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: slowStage})
	require.NoError(t, m.RegisterExecutableQueryPlan(p, prometheus.NewRegistry()))
	require.NoError(t, m.Start(p))

	const bufCount = 10
	for i := 0; i < bufCount; i++ {
		buf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
		require.NoError(t, err)
		buf.SetTupleCount(1)
		m.AddWorkForNextPipeline(p, 1, buf)
	}

	require.NoError(t, m.Stop(p, Graceful, 2*time.Second))
	assert.Equal(t, plan.Finished, p.State())
	assert.Len(t, sinkCh, bufCount, "every buffer enqueued before the drain must reach the sink before Finished")
}

// TestPanicInOnePlanDoesNotStopSiblingPlan exercises two concurrently
// registered plans sharing one worker pool: one pipeline stage panics on
// every buffer, the other is ordinary passthrough. Only the panicking
// plan's state may end up in ErrorState; the sibling plan must keep
// processing buffers through the very same worker pool (spec §4.3: "A
// pipeline returning Error terminates only the owning EQP; other EQPs
// continue").
func TestPanicInOnePlanDoesNotStopSiblingPlan(t *testing.T) {
	m, pool := newTestManager(t)

	panicking := plan.New(uuid.New(), 1)
	panicking.AddPipeline(&plan.PipelineNode{ID: 1, Stage: func(input *buffer.TupleBuffer, pctx *pipeline.PipelineContext, wctx *pipeline.WorkerContext) pipeline.ExecutionResult {
		panic("boom")
	}})
	require.NoError(t, m.RegisterExecutableQueryPlan(panicking, prometheus.NewRegistry()))
	require.NoError(t, m.Start(panicking))

	sinkCh := make(chan *buffer.TupleBuffer, 8)
	healthy := plan.New(uuid.New(), 1)
	healthy.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(sinkCh)})
	require.NoError(t, m.RegisterExecutableQueryPlan(healthy, prometheus.NewRegistry()))
	require.NoError(t, m.Start(healthy))

	buf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	m.AddWorkForNextPipeline(panicking, 1, buf)

	assert.Eventually(t, func() bool {
		return panicking.State() == plan.ErrorState
	}, time.Second, 10*time.Millisecond, "the panicking plan must reach ErrorState")

	healthyBuf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	healthyBuf.SetTupleCount(7)
	m.AddWorkForNextPipeline(healthy, 1, healthyBuf)

	select {
	case got := <-sinkCh:
		assert.Equal(t, 7, got.TupleCount())
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("sibling plan's buffer never reached its pipeline stage: worker pool was killed by the other plan's panic")
	}
}

// TestWindowedQueryRunsThroughRealManager drives pipeline.CompileWindowIngest
// and pipeline.CompileWatermarkAdvance through the actual Manager dispatch
// path rather than a hand-built PipelineContext, the one path that had never
// been exercised end to end: NewPipelineContext's arena argument used to be
// hard-coded nil in handleTask, and CompileWatermarkAdvance returns Error
// whenever it has a window to emit but no arena to encode the key into.
func TestWindowedQueryRunsThroughRealManager(t *testing.T) {
	m, pool := newTestManager(t)

	ingestSchema := schema.New(schema.RowMajor,
		schema.Field{Name: "key", Type: schema.Int64},
		schema.Field{Name: "value", Type: schema.Float64},
		schema.Field{Name: "ts", Type: schema.Int64},
	)
	emitSchema := schema.New(schema.RowMajor,
		schema.Field{Name: "key", Type: schema.VarSized},
		schema.Field{Name: "window_start", Type: schema.Int64},
		schema.Field{Name: "window_end", Type: schema.Int64},
		schema.Field{Name: "value", Type: schema.Float64},
	)

	h := handler.NewWindowHandler(window.NewAssigner(1000, 1000), aggregate.Sum)
	ingestStage, err := pipeline.CompileWindowIngest(ingestSchema, "key", "value", "ts", h)
	require.NoError(t, err)
	advanceStage, err := pipeline.CompileWatermarkAdvance(emitSchema, h)
	require.NoError(t, err)

	sinkCh := make(chan *buffer.TupleBuffer, 4)
	p := plan.New(uuid.New(), 1)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: ingestStage, Successors: []plan.PipelineID{2}})
	p.AddPipeline(&plan.PipelineNode{ID: 2, Stage: advanceStage, Successors: []plan.PipelineID{3}})
	p.AddPipeline(&plan.PipelineNode{ID: 3, Stage: passThroughStage(sinkCh)})
	require.NoError(t, m.RegisterExecutableQueryPlan(p, prometheus.NewRegistry()))
	require.NoError(t, m.Start(p))

	const originID = uint64(42)
	rowSize := ingestSchema.RowSize()
	dataBuf, err := pool.Acquire(context.Background(), buffer.TierWorker, rowSize)
	require.NoError(t, err)
	rows := dataBuf.Bytes()
	require.NoError(t, ingestSchema.EncodeRow(rows[0:rowSize], map[string]interface{}{"key": int64(1), "value": 5.0, "ts": int64(100)}))
	require.NoError(t, ingestSchema.EncodeRow(rows[rowSize:2*rowSize], map[string]interface{}{"key": int64(1), "value": 5.0, "ts": int64(500)}))
	dataBuf.SetTupleCount(2)
	dataBuf.Stamp(time.Unix(0, 0), 0, originID)
	m.AddWorkForNextPipeline(p, 1, dataBuf)

	trigger, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	trigger.Stamp(time.Unix(0, 1000), 1, originID)
	m.AddWorkForNextPipeline(p, 2, trigger)

	select {
	case got := <-sinkCh:
		assert.Equal(t, 1, got.TupleCount())
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("windowed output never reached the sink: the watermark-advance stage hit its nil-arena Error path")
	}
}

// TestReuseSourceRetiresOldPlanAndAcceptsNoMoreWork exercises the
// SourceReuse protocol (spec §4.6): after ReuseSource converges, the old
// plan must be Finished and any buffer still addressed to it must be
// dropped rather than reaching its pipeline stage — exactly as if the
// source itself had stopped targeting it, per the decision that a reused
// source never re-reads history into the replacement plan.
func TestReuseSourceRetiresOldPlanAndAcceptsNoMoreWork(t *testing.T) {
	m, pool := newTestManager(t)

	oldSinkCh := make(chan *buffer.TupleBuffer, 4)
	oldPlan := plan.New(uuid.New(), 1)
	oldPlan.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(oldSinkCh)})
	require.NoError(t, m.RegisterExecutableQueryPlan(oldPlan, prometheus.NewRegistry()))
	require.NoError(t, m.Start(oldPlan))

	newSinkCh := make(chan *buffer.TupleBuffer, 4)
	newPlan := plan.New(oldPlan.SharedQueryID, 2)
	newPlan.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(newSinkCh)})
	require.NoError(t, m.RegisterExecutableQueryPlan(newPlan, prometheus.NewRegistry()))
	require.NoError(t, m.Start(newPlan))

	const sourceID = uint64(7)
	newSuccessors := map[uint64][]uint64{sourceID: {1}}
	require.NoError(t, m.ReuseSource(oldPlan, newPlan, newSuccessors, time.Second))
	assert.Equal(t, plan.Finished, oldPlan.State())

	before := pool.FreeCount(buffer.TierWorker)
	buf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	m.AddWorkForNextPipeline(oldPlan, 1, buf)

	select {
	case <-oldSinkCh:
		t.Fatal("a retired plan must not reach its pipeline stage")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Eventually(t, func() bool {
		return pool.FreeCount(buffer.TierWorker) == before
	}, time.Second, 10*time.Millisecond, "the dropped buffer must be released back to the pool")

	// The rebound source now targets newPlan directly, as
	// marker.SourceReuseMetadata's mapping says it should.
	newBuf, err := pool.Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	newBuf.SetTupleCount(5)
	m.AddWorkForNextPipeline(newPlan, plan.PipelineID(newSuccessors[sourceID][0]), newBuf)

	select {
	case got := <-newSinkCh:
		assert.Equal(t, 5, got.TupleCount())
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("replacement plan never received the rebound source's buffer")
	}
}
