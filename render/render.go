// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package render provides the differentiable soft rasterizer.
//
// A Rasterizer dispatches the entry points of a loaded kernel module:
//   - Forward renders an (N, 2) polygon with a (3) color into a (W, H, 3) image
//   - ForwardDiff renders the finite difference under a +x translation
//   - Backward returns vertex and color gradients for a forward call
//
// Example:
//
//	import (
//	    "github.com/born-ml/diffrast/backend/cpu"
//	    "github.com/born-ml/diffrast/render"
//	)
//
//	func main() {
//	    cam := render.NewCamera([2]float32{0, 0}, [2]float32{1, 1}, 1024, 1024)
//	    r, _ := render.NewRasterizer(cpu.New("soft-rasterizer2d"), cam, 0.02)
//
//	    img, saved, _ := r.Forward(ctx, verts, color)
//	    grads, _ := r.Backward(ctx, saved, dLossDImg)
//	}
package render

import (
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/render"
)

// Module is a loaded kernel module.
type Module = kernel.Module

// Camera maps pixel coordinates to world coordinates.
type Camera = kernel.Camera

// LaunchConfig describes a raw kernel launch.
type LaunchConfig = kernel.LaunchConfig

// Rasterizer dispatches a rasterizer module for one camera.
type Rasterizer = render.Rasterizer

// Context records one forward call for the matching backward call.
type Context = render.Context

// Grads holds vertex and color gradients.
type Grads = render.Grads

// RasterizeOp is the autograd node recorded by Rasterizer.Record.
type RasterizeOp = render.RasterizeOp

// Errors returned by Backward.
var (
	ErrNoContext       = render.ErrNoContext
	ErrContextConsumed = render.ErrContextConsumed
	ErrShapeMismatch   = kernel.ErrShapeMismatch
)

// Entry point names.
const (
	EntryRasterize            = kernel.EntryRasterize
	EntryRasterizeForwardDiff = kernel.EntryRasterizeForwardDiff
)

// NewCamera creates a camera for a width x height frame centered on origin
// with half extent scale.
func NewCamera(origin, scale [2]float32, width, height int) Camera {
	return kernel.NewCamera(origin, scale, width, height)
}

// NewRasterizer creates a rasterizer over module with edge smoothing sigma.
func NewRasterizer(module Module, camera Camera, sigma float32) (*Rasterizer, error) {
	return render.NewRasterizer(module, camera, sigma)
}

// LaunchFor returns the launch configuration covering a width x height image.
func LaunchFor(width, height int) LaunchConfig {
	return kernel.LaunchFor(width, height)
}
