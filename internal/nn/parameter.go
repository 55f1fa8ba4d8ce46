// Package nn holds the trainable scene parameters consumed by the optimizers.
package nn

import (
	"fmt"

	"github.com/born-ml/diffrast/internal/autodiff/ops"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Parameter represents a trainable tensor.
//
// Parameters are tensors that require gradient computation during training.
// Here they are the scene being fitted: polygon vertices and fill color.
//
// Example:
//
//	// Create a vertex parameter
//	verts := nn.NewParameter("vertices", vertexTensor)
//
//	// Access the tensor
//	v := verts.Tensor()
//
//	// Get gradient after backward pass
//	grad := verts.Grad()
type Parameter struct {
	name   string            // Parameter name (e.g., "vertices", "color")
	tensor *tensor.RawTensor // The parameter tensor
	grad   *tensor.RawTensor // Gradient tensor (computed during backward pass)
}

// NewParameter creates a new trainable parameter.
//
// The parameter tensor should be initialized before creating the Parameter.
// Gradient will be allocated during the first backward pass.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
		grad:   nil, // Gradient allocated on first backward pass
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.RawTensor {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter) Grad() *tensor.RawTensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.RawTensor) {
	p.grad = grad
}

// AccumulateGrad adds grad onto the current gradient, allocating it on first
// use. grad must have the parameter's shape.
func (p *Parameter) AccumulateGrad(grad *tensor.RawTensor) error {
	if !grad.Shape().Equal(p.tensor.Shape()) {
		return fmt.Errorf("parameter %q: gradient shape %v does not match %v",
			p.name, grad.Shape(), p.tensor.Shape())
	}
	if p.grad == nil {
		p.grad = grad.Clone()
		return nil
	}
	sum, err := ops.Add(p.grad, grad)
	if err != nil {
		return fmt.Errorf("parameter %q: %w", p.name, err)
	}
	p.grad = sum
	return nil
}

// ZeroGrad clears the gradient tensor.
//
// This should be called after each optimizer step to avoid
// accumulating gradients from previous iterations.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}
