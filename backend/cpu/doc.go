// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go rasterizer kernel module.
//
// # Overview
//
// The CPU module implements the rasterize and rasterize_forward_diff entry
// points, plus the reverse-mode derivative of rasterize, without a GPU or a
// native toolchain:
//   - Pure Go implementation (no CGO)
//   - Thread blocks fanned out over a worker pool
//   - Deterministic gradients (per-block partials reduced in block order)
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/diffrast/backend/cpu"
//	    "github.com/born-ml/diffrast/render"
//	)
//
//	func main() {
//	    module := cpu.New("soft-rasterizer2d")
//	    defer module.Close()
//
//	    cam := render.NewCamera([2]float32{0, 0}, [2]float32{1, 1}, 1024, 1024)
//	    r, _ := render.NewRasterizer(module, cam, 0.02)
//	}
//
// # Thread Safety
//
// A module is safe for concurrent dispatches. Each dispatch writes only its
// own output and gradient tensors.
package cpu
