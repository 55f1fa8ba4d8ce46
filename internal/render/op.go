package render

import (
	"context"

	"github.com/born-ml/diffrast/internal/autodiff"
	"github.com/born-ml/diffrast/internal/autodiff/ops"
	"github.com/born-ml/diffrast/internal/tensor"
)

// RasterizeOp is the autograd node for one rasterizer forward call.
//
// Inputs: [vertices, color]. Backward returns their gradients through the
// module's reverse-mode entry point.
type RasterizeOp struct {
	rasterizer *Rasterizer
	ctx        context.Context // Context passed to Record, reused by Backward
	saved      *Context
	inputs     []*tensor.RawTensor
}

var _ ops.Operation = (*RasterizeOp)(nil)

// Backward implements ops.Operation.
func (op *RasterizeOp) Backward(outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	grads, err := op.rasterizer.Backward(op.ctx, op.saved, outputGrad)
	if err != nil {
		return nil, err
	}
	return []*tensor.RawTensor{grads.Vertices, grads.Color}, nil
}

// Inputs implements ops.Operation.
func (op *RasterizeOp) Inputs() []*tensor.RawTensor { return op.inputs }

// Output implements ops.Operation.
func (op *RasterizeOp) Output() *tensor.RawTensor { return op.saved.output }

// Record renders vertices and color and records the node on tape. Gradients
// reach vertices and color under the same tensor pointers that were passed
// in.
func (r *Rasterizer) Record(ctx context.Context, tape *autodiff.GradientTape, vertices, color *tensor.RawTensor) (*tensor.RawTensor, error) {
	out, saved, err := r.Forward(ctx, vertices, color)
	if err != nil {
		return nil, err
	}
	tape.Record(&RasterizeOp{
		rasterizer: r,
		ctx:        ctx,
		saved:      saved,
		inputs:     []*tensor.RawTensor{vertices, color},
	})
	return out, nil
}
