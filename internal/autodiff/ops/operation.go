// Package ops defines operation interfaces and implementations for automatic differentiation.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the function that builds the operation
//   - Backward pass: computes gradients for inputs given output gradient
//
// Supported operations:
//   - MSEOp: mean squared error loss (d(mean((p-t)^2))/dp = 2(p-t)/n)
//
// Kernel-backed operations such as the rasterizer node live next to the
// kernel they wrap and implement the same interface.
package ops

import "github.com/born-ml/diffrast/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor.
	// A nil entry means no gradient flows to that input.
	//
	// Example for MSEOp:
	//   inputs: [pred, target]
	//   outputGrad: dL/d(loss)
	//   returns: [dL/d(loss) * 2(pred-target)/n, nil]
	Backward(outputGrad *tensor.RawTensor) ([]*tensor.RawTensor, error)

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}
