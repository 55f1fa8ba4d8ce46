// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU rasterizer kernel module.
//
// The module runs WGSL compute shaders through wgpu-native. It is available
// on Windows; elsewhere New returns ErrUnavailable.
//
// Example:
//
//	import (
//	    "github.com/born-ml/diffrast/backend/cpu"
//	    "github.com/born-ml/diffrast/backend/webgpu"
//	)
//
//	func main() {
//	    var module render.Module
//	    if webgpu.IsAvailable() {
//	        module, _ = webgpu.New("soft-rasterizer2d")
//	    } else {
//	        module = cpu.New("soft-rasterizer2d")
//	    }
//	    defer module.Close()
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/diffrast/internal/backend/webgpu"
	"github.com/born-ml/diffrast/internal/kernel"
)

// ErrUnavailable is returned by New when WebGPU cannot be used.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// New creates a WebGPU module reporting the given name.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
// Call Close when done to free GPU resources.
func New(name string) (kernel.Module, error) {
	return internalwebgpu.New(name)
}

// IsAvailable checks if WebGPU is available on the current system.
//
// It's useful for graceful fallback to the CPU module when no GPU is
// present.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}

// Shaders returns the WGSL source of every entry point, keyed by entry name.
func Shaders() map[string]string {
	return internalwebgpu.Shaders()
}
