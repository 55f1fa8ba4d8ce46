// Package webgpu implements the soft rasterizer kernel module on the GPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// The WGSL sources are compiled by naga when the module is built, so shader
// errors surface at build time on every platform. Dispatch needs the native
// wgpu library and is available on Windows only; elsewhere New returns
// ErrUnavailable.
package webgpu

import "errors"

// ErrUnavailable is returned when WebGPU cannot be initialized.
var ErrUnavailable = errors.New("webgpu: not available")

// DefaultForwardDiffStep is the translation used by rasterize_forward_diff.
const DefaultForwardDiffStep = 1e-3
