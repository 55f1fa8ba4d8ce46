// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	"github.com/born-ml/diffrast/internal/kernel"
	internalcpu "github.com/born-ml/diffrast/internal/kernel/cpu"
)

// Module is the CPU rasterizer kernel module.
type Module = internalcpu.Module

// Option configures a Module.
type Option = internalcpu.Option

// Compile-time check that Module implements kernel.Module.
var _ kernel.Module = (*Module)(nil)

// DefaultForwardDiffStep is the translation used by rasterize_forward_diff.
const DefaultForwardDiffStep = internalcpu.DefaultForwardDiffStep

// New creates a CPU module reporting the given name.
//
// Example:
//
//	module := cpu.New("soft-rasterizer2d", cpu.WithForwardDiffStep(1e-3))
func New(name string, opts ...Option) *Module {
	return internalcpu.New(name, opts...)
}

// WithForwardDiffStep sets the translation used by rasterize_forward_diff.
func WithForwardDiffStep(h float64) Option {
	return internalcpu.WithForwardDiffStep(h)
}
