// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the trainable parameters fitted by the optimizers.
//
// # Overview
//
// A Parameter pairs a tensor with its accumulated gradient. In a rendering
// scene the parameters are the polygon vertices and the fill color.
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/diffrast/nn"
//	    "github.com/born-ml/diffrast/optim"
//	)
//
//	func main() {
//	    verts := nn.NewParameter("vertices", vertexTensor)
//	    color := nn.NewParameter("color", colorTensor)
//
//	    optimizer := optim.NewAdam([]*nn.Parameter{verts, color}, optim.AdamConfig{LR: 5e-3})
//	    // ... backward pass ...
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	}
package nn
