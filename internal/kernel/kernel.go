// Package kernel defines the contract between the rendering driver and a
// loaded kernel module.
//
// A kernel module is produced by the build-and-load step (see package
// extension) and exposes named entry points. Entry points are dispatched
// over a grid of thread blocks, mirroring CUDA's launch model:
//
//	k, err := module.Kernel(kernel.EntryRasterize)
//	cfg := kernel.LaunchFor(width, height)
//	err = k.LaunchRaw(ctx, kernel.Args{Camera: cam, Sigma: 0.02, ...}, cfg)
//
// Differentiable entry points additionally implement Bwd, the reverse-mode
// derivative that takes (value, gradient) pairs.
package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/born-ml/diffrast/internal/tensor"
)

// Entry point names exported by rasterizer modules.
const (
	EntryRasterize            = "rasterize"
	EntryRasterizeForwardDiff = "rasterize_forward_diff"
)

// Common errors.
var (
	ErrUnknownEntry      = errors.New("kernel: unknown entry point")
	ErrNotDifferentiable = errors.New("kernel: entry point has no reverse-mode derivative")
	ErrShapeMismatch     = errors.New("kernel: tensor shape mismatch")
	ErrInvalidLaunch     = errors.New("kernel: invalid launch configuration")
	ErrModuleClosed      = errors.New("kernel: module is closed")
)

// Module is a loaded kernel module. It owns compiled code for the lifetime of
// the process or until Close.
type Module interface {
	// Name returns the module name the loader derived from the shader file.
	Name() string

	// Kernel looks up an entry point. Returns ErrUnknownEntry if the module
	// does not export it.
	Kernel(entry string) (Kernel, error)

	// Close releases resources held by the module.
	Close() error
}

// Kernel is a dispatchable entry point.
type Kernel interface {
	// Name returns the entry point name.
	Name() string

	// LaunchRaw dispatches the kernel over cfg.Grid blocks of cfg.Block
	// threads and returns once the output has been written.
	LaunchRaw(ctx context.Context, args Args, cfg LaunchConfig) error
}

// Differentiable is an entry point with a reverse-mode derivative.
type Differentiable interface {
	Kernel

	// Bwd dispatches the reverse-mode derivative. Gradients are accumulated
	// into the Grad tensors of Vertices and Color; Output.Grad carries the
	// upstream gradient.
	Bwd(ctx context.Context, args BwdArgs, cfg LaunchConfig) error
}

// DiffPair is a (value, gradient) tuple passed to reverse-mode dispatches.
type DiffPair struct {
	Value *tensor.RawTensor
	Grad  *tensor.RawTensor
}

// Args are the arguments of a forward dispatch.
type Args struct {
	Camera   Camera
	Sigma    float32           // Edge smoothing width in world units
	Vertices *tensor.RawTensor // (N, 2)
	Color    *tensor.RawTensor // (3)
	Output   *tensor.RawTensor // (W, H, 3), written by the kernel
}

// BwdArgs are the arguments of a reverse-mode dispatch.
type BwdArgs struct {
	Camera   Camera
	Sigma    float32
	Vertices DiffPair
	Color    DiffPair
	Output   DiffPair
}

// Forward returns the forward arguments carried by a reverse-mode dispatch.
func (a BwdArgs) Forward() Args {
	return Args{
		Camera:   a.Camera,
		Sigma:    a.Sigma,
		Vertices: a.Vertices.Value,
		Color:    a.Color.Value,
		Output:   a.Output.Value,
	}
}

// Validate checks tensor shapes against the camera frame.
func (a Args) Validate() error {
	if a.Vertices == nil || a.Color == nil || a.Output == nil {
		return fmt.Errorf("%w: missing tensor argument", ErrShapeMismatch)
	}
	if vs := a.Vertices.Shape(); len(vs) != 2 || vs[1] != 2 {
		return fmt.Errorf("%w: vertices must be (N, 2), got %v", ErrShapeMismatch, vs)
	}
	if cs := a.Color.Shape(); !cs.Equal(tensor.Shape{3}) {
		return fmt.Errorf("%w: color must be (3), got %v", ErrShapeMismatch, cs)
	}
	want := tensor.Shape{a.Camera.FrameDim[0], a.Camera.FrameDim[1], 3}
	if got := a.Output.Shape(); !got.Equal(want) {
		return fmt.Errorf("%w: output must be %v, got %v", ErrShapeMismatch, want, got)
	}
	if a.Sigma <= 0 {
		return fmt.Errorf("kernel: sigma must be positive, got %g", a.Sigma)
	}
	return nil
}

// Validate checks the forward arguments and that every gradient buffer
// matches the shape of its value.
func (a BwdArgs) Validate() error {
	if err := a.Forward().Validate(); err != nil {
		return err
	}
	pairs := []struct {
		name string
		p    DiffPair
	}{
		{"vertices", a.Vertices},
		{"color", a.Color},
		{"output", a.Output},
	}
	for _, pair := range pairs {
		if pair.p.Grad == nil {
			return fmt.Errorf("%w: missing %s gradient", ErrShapeMismatch, pair.name)
		}
		if !pair.p.Grad.Shape().Equal(pair.p.Value.Shape()) {
			return fmt.Errorf("%w: %s gradient %v does not match value %v",
				ErrShapeMismatch, pair.name, pair.p.Grad.Shape(), pair.p.Value.Shape())
		}
	}
	return nil
}
