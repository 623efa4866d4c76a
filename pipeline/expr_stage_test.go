package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/schema"
)

func testSchema() *schema.Schema {
	return schema.New(schema.RowMajor,
		schema.Field{Name: "key", Type: schema.Int64},
		schema.Field{Name: "value", Type: schema.Float64},
	)
}

func fillInput(t *testing.T, pool *buffer.Pool, sc *schema.Schema, rows []map[string]interface{}) *buffer.TupleBuffer {
	t.Helper()
	buf, err := pool.Acquire(context.Background(), buffer.TierWorker, sc.RowSize())
	require.NoError(t, err)
	data := buf.Bytes()
	for i, row := range rows {
		require.NoError(t, sc.EncodeRow(data[i*sc.RowSize():(i+1)*sc.RowSize()], row))
	}
	buf.SetTupleCount(len(rows))
	return buf
}

func TestCompileFilterKeepsMatchingRows(t *testing.T) {
	sc := testSchema()
	stage, err := CompileFilter(sc, "value > 10")
	require.NoError(t, err)

	pool := buffer.NewPool(4, 4, 4, buffer.WithBufferSize(256))
	input := fillInput(t, pool, sc, []map[string]interface{}{
		{"key": int64(1), "value": 5.0},
		{"key": int64(2), "value": 20.0},
		{"key": int64(3), "value": 30.0},
	})

	var emitted *buffer.TupleBuffer
	pctx := NewPipelineContext(0, func(out *buffer.TupleBuffer) { emitted = out }, nil, nil)
	wctx := NewWorkerContext(0, pool)

	result := stage(input, pctx, wctx)
	require.Equal(t, Ok, result)
	require.NotNil(t, emitted)
	assert.Equal(t, 2, emitted.TupleCount())

	row0 := sc.DecodeRow(emitted.Bytes()[0:sc.RowSize()])
	assert.EqualValues(t, 2, row0["key"])
}

func TestCompileFilterEmitsNothingWhenAllRowsRejected(t *testing.T) {
	sc := testSchema()
	stage, err := CompileFilter(sc, "value > 1000")
	require.NoError(t, err)

	pool := buffer.NewPool(4, 4, 4, buffer.WithBufferSize(256))
	input := fillInput(t, pool, sc, []map[string]interface{}{
		{"key": int64(1), "value": 5.0},
	})

	emitCount := 0
	pctx := NewPipelineContext(0, func(out *buffer.TupleBuffer) { emitCount++ }, nil, nil)
	wctx := NewWorkerContext(0, pool)

	result := stage(input, pctx, wctx)
	require.Equal(t, Ok, result)
	assert.Equal(t, 0, emitCount)
}

func TestCompileMapProjectsFields(t *testing.T) {
	inSchema := testSchema()
	outSchema := schema.New(schema.RowMajor,
		schema.Field{Name: "key", Type: schema.Int64},
		schema.Field{Name: "doubled", Type: schema.Float64},
	)
	stage, err := CompileMap(inSchema, outSchema, map[string]string{
		"doubled": "value * 2",
	})
	require.NoError(t, err)

	pool := buffer.NewPool(4, 4, 4, buffer.WithBufferSize(256))
	input := fillInput(t, pool, inSchema, []map[string]interface{}{
		{"key": int64(9), "value": 4.0},
	})

	var emitted *buffer.TupleBuffer
	pctx := NewPipelineContext(0, func(out *buffer.TupleBuffer) { emitted = out }, nil, nil)
	wctx := NewWorkerContext(0, pool)

	result := stage(input, pctx, wctx)
	require.Equal(t, Ok, result)
	require.NotNil(t, emitted)

	row := outSchema.DecodeRow(emitted.Bytes()[0:outSchema.RowSize()])
	assert.EqualValues(t, 9, row["key"])
	assert.Equal(t, 8.0, row["doubled"])
}
