// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimization algorithms for fitting scene
// parameters.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/diffrast/nn"
//	    "github.com/born-ml/diffrast/optim"
//	)
//
//	func main() {
//	    params := []*nn.Parameter{verts, color}
//	    optimizer := optim.NewAdam(params, optim.AdamConfig{
//	        LR:    5e-3,
//	        Betas: [2]float32{0.9, 0.999},
//	    })
//
//	    for i := range iterations {
//	        // 1. Forward pass and loss
//	        // 2. Backward pass
//	        grads, _ := autodiff.Backward(tape, loss)
//
//	        // 3. Update parameters
//	        optimizer.Step(grads)
//
//	        // 4. Reset gradients
//	        optimizer.ZeroGrad()
//	    }
//	}
//
// # Optimizers
//
// SGD (Stochastic Gradient Descent):
//
//	optimizer := optim.NewSGD(params, optim.SGDConfig{
//	    LR:       0.01,
//	    Momentum: 0.9,
//	})
//
// Adam (Adaptive Moment Estimation):
//
//	optimizer := optim.NewAdam(params, optim.AdamConfig{
//	    LR:    0.001,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
package optim
