package pipeline

import (
	"fmt"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/handler"
	"github.com/nebulastream/exec-core/schema"
	"github.com/nebulastream/exec-core/utils/cast"
)

// CompileWindowIngest builds an ExecutablePipelineStage that decodes each
// row of the input buffer against inSchema and feeds keyField/valueField/
// tsField into h, keyed by originID (spec §4.4: window ingestion is a
// per-row handler call, not a whole-buffer operation, since a slice can
// span many input buffers). It never emits a buffer itself — aggregation
// results only leave the handler when a watermark advance closes a
// window; triggering that is a separate stage (CompileWatermarkAdvance).
//
// valueField is coerced with the teacher's own strict utils/cast.ToFloat,
// which panics on a value that cannot mean a number, rather than
// schema.Coerce's lenient zero-on-failure rule: a window input column
// that holds garbage is a pipeline bug, not a row to silently zero out,
// and queryengine's worker recovers the panic and posts a failure
// reconfiguration for the owning plan so it reaches ErrorState instead of
// crashing the pool.
func CompileWindowIngest(inSchema *schema.Schema, keyField, valueField, tsField string, h *handler.WindowHandler) (ExecutablePipelineStage, error) {
	if inSchema.IndexOf(valueField) < 0 {
		return nil, fmt.Errorf("pipeline: schema has no field %q to ingest", valueField)
	}
	if inSchema.IndexOf(tsField) < 0 {
		return nil, fmt.Errorf("pipeline: schema has no timestamp field %q", tsField)
	}

	rowSize := inSchema.RowSize()
	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		in := input.Bytes()
		origin := input.OriginID()
		for i := 0; i < input.TupleCount(); i++ {
			row := in[i*rowSize : (i+1)*rowSize]
			env := inSchema.DecodeRow(row)

			ts := int64(cast.ToFloat(env[tsField]))
			value := cast.ToFloat(env[valueField])

			key, ok := resolveVarSizedKey(env, keyField, pctx)
			if !ok {
				return Error
			}

			h.Ingest(origin, key, ts, value)
		}
		return Ok
	}, nil
}

// CompileWatermarkAdvance builds an ExecutablePipelineStage that advances
// h's watermark to the input buffer's stamped watermark and emits every
// window the new merged watermark closes, encoded against outSchema as
// (key, windowStart, windowEnd, value) rows (spec §4.4 triggering, §4.6
// watermark merge). Sources stamp a TupleBuffer's watermark on ingestion
// (buffer.TupleBuffer.Stamp); this stage is how that stamp reaches the
// window manager.
func CompileWatermarkAdvance(outSchema *schema.Schema, h *handler.WindowHandler) (ExecutablePipelineStage, error) {
	for _, want := range []string{"key", "window_start", "window_end", "value"} {
		if outSchema.IndexOf(want) < 0 {
			return nil, fmt.Errorf("pipeline: watermark-advance output schema missing field %q", want)
		}
	}
	outRowSize := outSchema.RowSize()

	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		_, emitted := h.AdvanceWatermark(input.OriginID(), input.Watermark().UnixNano())
		if len(emitted) == 0 {
			return Ok
		}

		arena := pctx.Arena()
		if arena == nil {
			return Error
		}

		out, ok := wctx.Pool.TryAcquire(buffer.TierWorker, outRowSize)
		if !ok {
			return Error
		}
		dst := out.Bytes()
		for i, w := range emitted {
			keyData := arena.Alloc([]byte(w.Key))
			err := outSchema.EncodeRow(dst[i*outRowSize:(i+1)*outRowSize], map[string]interface{}{
				"key":          [2]int64{int64(keyData.Offset), int64(keyData.Length)},
				"window_start": w.Window.Start,
				"window_end":   w.Window.End,
				"value":        w.Value,
			})
			if err != nil {
				out.Release()
				return Error
			}
		}
		out.SetTupleCount(len(emitted))
		out.Stamp(input.Watermark(), input.SequenceNumber(), input.OriginID())
		pctx.Emit(out)
		return Ok
	}, nil
}
