package ops

import (
	"fmt"

	"github.com/born-ml/diffrast/internal/tensor"
)

// MSEOp represents the mean squared error loss: output = mean((pred - target)^2).
//
// Backward pass:
//   - d(loss)/d(pred) = 2 * (pred - target) / n
//   - target is treated as a constant and receives no gradient
type MSEOp struct {
	inputs []*tensor.RawTensor // [pred, target]
	output *tensor.RawTensor   // scalar loss, shape (1)
}

// MSE computes the mean squared error between pred and target and returns
// the scalar loss together with the operation to record on a tape.
func MSE(pred, target *tensor.RawTensor) (*tensor.RawTensor, *MSEOp, error) {
	if !pred.Shape().Equal(target.Shape()) {
		return nil, nil, fmt.Errorf("mse: prediction shape %v does not match target shape %v",
			pred.Shape(), target.Shape())
	}

	p := pred.Contiguous().AsFloat32()
	t := target.Contiguous().AsFloat32()

	var sum float64
	for i := range p {
		d := float64(p[i]) - float64(t[i])
		sum += d * d
	}

	loss, err := tensor.FromSlice([]float32{float32(sum / float64(len(p)))}, tensor.Shape{1})
	if err != nil {
		return nil, nil, err
	}

	op := &MSEOp{
		inputs: []*tensor.RawTensor{pred, target},
		output: loss,
	}
	return loss, op, nil
}

// Backward computes the prediction gradient.
func (op *MSEOp) Backward(outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error) {
	g, err := scalarValue(outputGrad)
	if err != nil {
		return nil, fmt.Errorf("mse backward: %w", err)
	}

	pred := op.inputs[0].Contiguous()
	target := op.inputs[1].Contiguous()
	p := pred.AsFloat32()
	t := target.AsFloat32()

	grad := tensor.ZerosLike(pred)
	dst := grad.AsFloat32()
	scale := 2 * g / float32(len(p))
	for i := range dst {
		dst[i] = scale * (p[i] - t[i])
	}

	return []*tensor.RawTensor{grad, nil}, nil
}

// Inputs returns the input tensors [pred, target].
func (op *MSEOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the scalar loss.
func (op *MSEOp) Output() *tensor.RawTensor {
	return op.output
}
