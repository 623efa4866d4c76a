package pipeline

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/nebulastream/exec-core/buffer"
	"github.com/nebulastream/exec-core/condition"
	"github.com/nebulastream/exec-core/logger"
	"github.com/nebulastream/exec-core/schema"
)

// CompileFilter builds an ExecutablePipelineStage that evaluates an
// expr-lang predicate against each row of the input buffer, row-major
// packing the surviving rows into a freshly acquired output buffer (spec
// §4.2: the compiled stage is opaque to the core, only required to be a
// pure, thread-safe execute function). A row for which the predicate
// errors is treated as non-matching rather than failing the whole task.
func CompileFilter(sc *schema.Schema, expression string) (ExecutablePipelineStage, error) {
	cond, err := condition.NewExprCondition(expression)
	if err != nil {
		return nil, err
	}

	rowSize := sc.RowSize()
	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		out, ok := wctx.Pool.TryAcquire(buffer.TierWorker, rowSize)
		if !ok {
			return Error
		}

		in := input.Bytes()
		dst := out.Bytes()
		written := 0
		for i := 0; i < input.TupleCount(); i++ {
			row := in[i*rowSize : (i+1)*rowSize]
			env := sc.DecodeRow(row)
			if !cond.Evaluate(env) {
				continue
			}
			copy(dst[written*rowSize:(written+1)*rowSize], row)
			written++
		}

		if written == 0 {
			out.Release()
			return Ok
		}
		out.SetTupleCount(written)
		out.Stamp(input.Watermark(), input.SequenceNumber(), input.OriginID())
		pctx.Emit(out)
		return Ok
	}, nil
}

// CompileMap builds an ExecutablePipelineStage that evaluates an
// expr-lang expression per output field (fieldExprs keyed by out field
// name) against each input row, re-encoding the result against outSchema.
// Unlike CompileFilter's condition.ExprCondition, a projection's result is
// not forced to bool, so the field expressions are compiled directly
// against expr-lang rather than through the condition package.
func CompileMap(inSchema, outSchema *schema.Schema, fieldExprs map[string]string) (ExecutablePipelineStage, error) {
	projections := make(map[string]*vm.Program, len(fieldExprs))
	for name, expression := range fieldExprs {
		program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
		if err != nil {
			return nil, err
		}
		projections[name] = program
	}

	inRowSize := inSchema.RowSize()
	outRowSize := outSchema.RowSize()

	return func(input *buffer.TupleBuffer, pctx *PipelineContext, wctx *WorkerContext) ExecutionResult {
		out, ok := wctx.Pool.TryAcquire(buffer.TierWorker, outRowSize)
		if !ok {
			return Error
		}

		in := input.Bytes()
		dst := out.Bytes()
		count := input.TupleCount()
		for i := 0; i < count; i++ {
			row := in[i*inRowSize : (i+1)*inRowSize]
			env := inSchema.DecodeRow(row)

			projected := make(map[string]interface{}, len(outSchema.Fields))
			for _, f := range outSchema.Fields {
				program, ok := projections[f.Name]
				if !ok {
					projected[f.Name] = env[f.Name]
					continue
				}
				v, err := expr.Run(program, env)
				if err != nil {
					logger.Debug("pipeline: map projection %q failed: %v", f.Name, err)
					out.Release()
					return Error
				}
				projected[f.Name] = v
			}

			if err := outSchema.EncodeRow(dst[i*outRowSize:(i+1)*outRowSize], projected); err != nil {
				out.Release()
				return Error
			}
		}

		out.SetTupleCount(count)
		out.Stamp(input.Watermark(), input.SequenceNumber(), input.OriginID())
		pctx.Emit(out)
		return Ok
	}, nil
}
