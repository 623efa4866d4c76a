package pipeline

import (
	"fmt"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/handler"
	"github.com/nebulastream/exec-core/join"
	"github.com/nebulastream/exec-core/schema"
	"github.com/nebulastream/exec-core/utils/cast"
)

// CompileJoinBuild builds an ExecutablePipelineStage for one side (left or
// right) of a stream join's build phase: it assigns each row to its
// tumbling window [windowSize-aligned start, start+windowSize), appends it
// to a fresh per-invocation join.Table keyed by that window, and commits
// the finished table to h once the buffer is exhausted (spec §4.5: "a
// record is fully owned by one worker until window close" — the table
// built here is never touched again by this goroutine after commit).
// Building one table per (buffer, window) rather than accumulating across
// many buffers keeps the stage itself stateless, matching CompileFilter
// and CompileMap; JoinHandler.CloseWindow merges however many tables each side
// ends up contributing.
func CompileJoinBuild(inSchema *schema.Schema, keyField, tsField string, isLeft bool, windowSize int64, h *handler.JoinHandler) (ExecutablePipelineStage, error) {
	if inSchema.IndexOf(keyField) < 0 {
		return nil, fmt.Errorf("pipeline: schema has no field %q to join on", keyField)
	}
	if inSchema.IndexOf(tsField) < 0 {
		return nil, fmt.Errorf("pipeline: schema has no timestamp field %q", tsField)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("pipeline: join window size must be positive, got %d", windowSize)
	}

	rowSize := inSchema.RowSize()
	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		in := input.Bytes()
		byWindow := make(map[int64]*join.Table)

		for i := 0; i < input.TupleCount(); i++ {
			row := in[i*rowSize : (i+1)*rowSize]
			env := inSchema.DecodeRow(row)

			ts := int64(cast.ToFloat(env[tsField]))
			key, ok := resolveVarSizedKey(env, keyField, pctx)
			if !ok {
				return Error
			}

			start := (ts / windowSize) * windowSize
			t, ok := byWindow[start]
			if !ok {
				t = h.NewTable()
				byWindow[start] = t
			}
			t.Append(join.Record{Key: key, TS: ts, Value: env})
		}

		for start, t := range byWindow {
			end := start + windowSize
			var err error
			if isLeft {
				err = h.CommitLeft(start, end, t)
			} else {
				err = h.CommitRight(start, end, t)
			}
			if err != nil {
				return Error
			}
		}
		return Ok
	}, nil
}

// CompileJoinProbe builds an ExecutablePipelineStage that advances the
// join's merged watermark and, for every window the new watermark closes,
// probes h for matching pairs and emits one output row per pair encoded
// against outSchema as (key, window_start, window_end) (spec §4.5 probe
// phase, §4.6 watermark-triggered emission — the same pattern
// CompileWatermarkAdvance uses for window aggregation).
func CompileJoinProbe(outSchema *schema.Schema, windowSize int64, h *handler.JoinHandler, wm *handler.WatermarkHandler) (ExecutablePipelineStage, error) {
	for _, want := range []string{"key", "window_start", "window_end"} {
		if outSchema.IndexOf(want) < 0 {
			return nil, fmt.Errorf("pipeline: join-probe output schema missing field %q", want)
		}
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("pipeline: join window size must be positive, got %d", windowSize)
	}
	outRowSize := outSchema.RowSize()

	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		newWatermark := wm.Update(input.OriginID(), input.Watermark().UnixNano())

		var pairs []join.Pair
		for _, start := range h.DueWindows(newWatermark, windowSize) {
			pairs = append(pairs, h.CloseWindow(start)...)
		}
		if len(pairs) == 0 {
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
		for i, pr := range pairs {
			keyData := arena.Alloc([]byte(pr.Key))
			err := outSchema.EncodeRow(dst[i*outRowSize:(i+1)*outRowSize], map[string]interface{}{
				"key":          [2]int64{int64(keyData.Offset), int64(keyData.Length)},
				"window_start": pr.WindowStart,
				"window_end":   pr.WindowEnd,
			})
			if err != nil {
				out.Release()
				return Error
			}
		}
		out.SetTupleCount(len(pairs))
		out.Stamp(input.Watermark(), input.SequenceNumber(), input.OriginID())
		pctx.Emit(out)
		return Ok
	}, nil
}
