// Package optim implements optimization algorithms for fitting scene parameters.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Design inspired by PyTorch's torch.optim but adapted for Go.
//
// Example usage:
//
//	optimizer := optim.NewAdam([]*nn.Parameter{vertices, color}, optim.AdamConfig{
//	    LR: 5e-3,
//	})
//
//	for i := range iterations {
//	    tape.StartRecording()
//	    img, _ := rasterizer.Record(tape, vertices.Tensor(), color.Tensor())
//	    loss, op, _ := ops.MSE(img, target)
//	    tape.Record(op)
//	    grads, _ := autodiff.Backward(tape, loss)
//
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	    tape.Clear()
//	}
package optim

import (
	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// All optimizers must implement:
//   - Step: Apply gradient updates to parameters
//   - ZeroGrad: Clear gradients before next iteration
//   - GetLR: Get current learning rate (for monitoring/scheduling)
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// Takes a gradient map from Backward() and updates parameters in-place.
	// Parameters missing from the map fall back to their accumulated Grad.
	// A nil map uses accumulated gradients only.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient(param *nn.Parameter, grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	if g, ok := grads[param.Tensor()]; ok {
		return g.Contiguous()
	}
	if g := param.Grad(); g != nil {
		return g.Contiguous()
	}
	return nil
}
