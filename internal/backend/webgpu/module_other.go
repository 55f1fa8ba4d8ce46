//go:build !windows

package webgpu

import (
	"fmt"
	"runtime"

	"github.com/born-ml/diffrast/internal/kernel"
)

// New always fails on this platform.
func New(name string) (kernel.Module, error) {
	return nil, fmt.Errorf("%w: module %s: no WebGPU dispatch on %s", ErrUnavailable, name, runtime.GOOS)
}

// IsAvailable reports whether WebGPU dispatch is supported.
func IsAvailable() bool {
	return false
}
