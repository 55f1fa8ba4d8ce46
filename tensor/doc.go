// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the dense float32 buffers exchanged with kernel
// modules.
//
// # Overview
//
// A RawTensor is a row-major float32 buffer with a shape. Images rendered by
// the rasterizer are (W, H, 3) tensors indexed [x][y][channel]; polygon
// vertices are (N, 2) and colors (3).
//
// # Basic Usage
//
//	import "github.com/born-ml/diffrast/tensor"
//
//	func main() {
//	    verts, _ := tensor.FromSlice([]float32{0.5, -0.5, -0.5, 0.5, -0.5, -0.5}, tensor.Shape{3, 2})
//	    img, _ := tensor.Zeros(tensor.Shape{1024, 1024, 3})
//
//	    // Row-major view of the image for display
//	    rows, _ := img.Permute(1, 0, 2)
//	    packed := rows.Contiguous()
//	}
//
// # Views
//
// Permute returns a view sharing memory with its source. Data and AsFloat32
// require a contiguous tensor; call Contiguous first.
package tensor
