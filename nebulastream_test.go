package execcore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/pipeline"
	"github.com/nebulastream/exec-core/plan"
	"github.com/nebulastream/exec-core/queryengine"
)

func passThroughStage(sink chan<- *buffer.TupleBuffer) pipeline.ExecutablePipelineStage {
	return func(input *buffer.TupleBuffer, pctx *pipeline.PipelineContext, wctx *pipeline.WorkerContext) pipeline.ExecutionResult {
		sink <- input
		return pipeline.Ok
	}
}

func TestNewAppliesOptionsAndBuildsEngine(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(
		WithBufferPoolSizes(16, 16, 16, 256),
		WithDispatchMode(queryengine.Dynamic),
		WithWorkerPool(1, 2),
		WithQueueCapacity(8),
		WithStatsRegisterer(reg),
	)
	t.Cleanup(e.Shutdown)

	require.NotNil(t, e.Pool())
	assert.Equal(t, int64(16), e.Pool().FreeCount(buffer.TierWorker))
}

func TestEngineRegisterStartDeliverAndStop(t *testing.T) {
	e := New(WithBufferPoolSizes(8, 8, 8, 256), WithStatsRegisterer(prometheus.NewRegistry()))
	t.Cleanup(e.Shutdown)

	sinkCh := make(chan *buffer.TupleBuffer, 8)
	p := plan.New(uuid.New(), 1)
	p.AddPipeline(&plan.PipelineNode{ID: 1, Stage: passThroughStage(sinkCh)})

	require.NoError(t, e.RegisterExecutableQueryPlan(p))
	require.NoError(t, e.Start(p))
	assert.Equal(t, plan.Running, p.State())

	buf, err := e.Pool().Acquire(context.Background(), buffer.TierWorker, 8)
	require.NoError(t, err)
	buf.SetTupleCount(5)
	e.AddWorkForNextPipeline(p, 1, buf)

	select {
	case got := <-sinkCh:
		assert.Equal(t, 5, got.TupleCount())
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("buffer never reached the pipeline stage")
	}

	reg, err := e.Stats(p)
	require.NoError(t, err)
	reg.ProcessedBuffers.Inc()

	require.NoError(t, e.Stop(p, queryengine.Graceful, time.Second))
	assert.Equal(t, plan.Finished, p.State())

	e.Unregister(p)
	_, err = e.Stats(p)
	assert.Error(t, err)
}

func TestStatsErrorsForUnregisteredPlan(t *testing.T) {
	e := New(WithBufferPoolSizes(4, 4, 4, 256), WithStatsRegisterer(prometheus.NewRegistry()))
	t.Cleanup(e.Shutdown)

	p := plan.New(uuid.New(), 1)
	_, err := e.Stats(p)
	assert.Error(t, err)
}
