// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation over a
// gradient tape.
//
// Operations record themselves on the tape during the forward pass; Backward
// walks the tape in reverse and returns the gradient of every recorded input.
//
// Example:
//
//	import (
//	    "github.com/born-ml/diffrast/autodiff"
//	    "github.com/born-ml/diffrast/render"
//	)
//
//	func step(r *render.Rasterizer, verts, color, target *tensor.RawTensor) {
//	    tape := autodiff.NewGradientTape()
//	    tape.StartRecording()
//	    img, _ := r.Record(ctx, tape, verts, color)
//	    loss, op, _ := autodiff.MSE(img, target)
//	    tape.Record(op)
//
//	    grads, _ := autodiff.Backward(tape, loss)
//	    dVerts := grads[verts]
//	}
package autodiff

import (
	"github.com/born-ml/diffrast/internal/autodiff"
	"github.com/born-ml/diffrast/internal/autodiff/ops"
	"github.com/born-ml/diffrast/internal/tensor"
)

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// Operation is a differentiable node recorded on a tape.
type Operation = ops.Operation

// MSEOp is the mean squared error node.
type MSEOp = ops.MSEOp

// ErrEmptyTape is returned by Backward when nothing was recorded.
var ErrEmptyTape = autodiff.ErrEmptyTape

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return autodiff.NewGradientTape()
}

// Backward computes gradients of out with respect to every recorded input,
// seeding the walk with ones.
func Backward(tape *GradientTape, out *tensor.RawTensor) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	return autodiff.Backward(tape, out)
}

// MSE computes mean((pred - target)^2) and returns the loss with its node.
func MSE(pred, target *tensor.RawTensor) (*tensor.RawTensor, *MSEOp, error) {
	return ops.MSE(pred, target)
}
