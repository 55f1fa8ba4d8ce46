// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Parameter represents a trainable tensor.
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
//
// Methods:
//
//	Name() string
//	    Returns the parameter name (e.g., "vertices", "color").
//
//	Tensor() *tensor.RawTensor
//	    Returns the parameter tensor.
//
//	Grad() *tensor.RawTensor
//	    Returns the gradient tensor (nil if not computed yet).
//
//	AccumulateGrad(grad *tensor.RawTensor) error
//	    Adds grad onto the current gradient.
//
//	ZeroGrad()
//	    Clears the gradient tensor.
type Parameter = nn.Parameter

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.RawTensor) *Parameter {
	return nn.NewParameter(name, t)
}
