// Package render wraps a loaded rasterizer module in a differentiable
// operation.
//
// Forward renders the polygon and returns a Context recording its inputs;
// Backward consumes the Context exactly once and returns gradients for the
// vertices and the color:
//
//	r, _ := render.NewRasterizer(module, camera, 0.02)
//	img, saved, _ := r.Forward(ctx, vertices, color)
//	grads, _ := r.Backward(ctx, saved, dLossDImg)
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Common errors.
var (
	ErrNoContext       = errors.New("render: backward called without a forward context")
	ErrContextConsumed = errors.New("render: forward context already consumed by backward")
)

// Rasterizer dispatches the forward, forward-difference and reverse entry
// points of a rasterizer module for one camera.
type Rasterizer struct {
	module kernel.Module
	camera kernel.Camera
	sigma  float32
	launch kernel.LaunchConfig
}

// NewRasterizer creates a rasterizer over module.
// sigma is the edge smoothing width in world units and must be positive.
func NewRasterizer(module kernel.Module, camera kernel.Camera, sigma float32) (*Rasterizer, error) {
	if module == nil {
		return nil, errors.New("render: nil module")
	}
	if camera.Width() <= 0 || camera.Height() <= 0 {
		return nil, fmt.Errorf("render: invalid frame %dx%d", camera.Width(), camera.Height())
	}
	if sigma <= 0 {
		return nil, fmt.Errorf("render: sigma must be positive, got %g", sigma)
	}
	return &Rasterizer{
		module: module,
		camera: camera,
		sigma:  sigma,
		launch: kernel.LaunchFor(camera.Width(), camera.Height()),
	}, nil
}

// Camera returns the camera images are rendered with.
func (r *Rasterizer) Camera() kernel.Camera { return r.camera }

// Sigma returns the edge smoothing width.
func (r *Rasterizer) Sigma() float32 { return r.sigma }

// Launch returns the launch configuration used for every dispatch.
func (r *Rasterizer) Launch() kernel.LaunchConfig { return r.launch }

// OutputShape returns the shape of rendered images: (width, height, 3).
func (r *Rasterizer) OutputShape() tensor.Shape {
	return tensor.Shape{r.camera.Width(), r.camera.Height(), 3}
}

// Forward renders vertices (N, 2) filled with color (3) into a freshly
// allocated (width, height, 3) image.
func (r *Rasterizer) Forward(ctx context.Context, vertices, color *tensor.RawTensor) (*tensor.RawTensor, *Context, error) {
	out, err := r.dispatch(ctx, kernel.EntryRasterize, vertices, color)
	if err != nil {
		return nil, nil, err
	}
	saved := &Context{
		camera:   r.camera,
		sigma:    r.sigma,
		vertices: vertices,
		color:    color,
		output:   out,
	}
	return out, saved, nil
}

// ForwardDiff renders the one-sided finite difference of the image with
// respect to a uniform +x translation of all vertices. The result takes no
// part in gradient flow.
func (r *Rasterizer) ForwardDiff(ctx context.Context, vertices, color *tensor.RawTensor) (*tensor.RawTensor, error) {
	return r.dispatch(ctx, kernel.EntryRasterizeForwardDiff, vertices, color)
}

func (r *Rasterizer) dispatch(ctx context.Context, entry string, vertices, color *tensor.RawTensor) (*tensor.RawTensor, error) {
	out, err := tensor.Zeros(r.OutputShape())
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	args := kernel.Args{
		Camera:   r.camera,
		Sigma:    r.sigma,
		Vertices: contiguous(vertices),
		Color:    contiguous(color),
		Output:   out,
	}
	if err := args.Validate(); err != nil {
		return nil, fmt.Errorf("render: %s: %w", entry, err)
	}

	k, err := r.module.Kernel(entry)
	if err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	if err := k.LaunchRaw(ctx, args, r.launch); err != nil {
		return nil, fmt.Errorf("render: %s: %w", entry, err)
	}
	return out, nil
}

// Grads holds the gradients returned by Backward. Camera, sigma and the
// frame size receive none.
type Grads struct {
	Vertices *tensor.RawTensor // (N, 2)
	Color    *tensor.RawTensor // (3)
}

// Backward runs the reverse-mode entry point for the forward call recorded in
// saved. gradOutput must have the forward output's shape. saved is consumed:
// a second Backward with the same Context returns ErrContextConsumed.
func (r *Rasterizer) Backward(ctx context.Context, saved *Context, gradOutput *tensor.RawTensor) (Grads, error) {
	if saved == nil {
		return Grads{}, ErrNoContext
	}
	if saved.consumed {
		return Grads{}, ErrContextConsumed
	}
	if gradOutput == nil {
		return Grads{}, fmt.Errorf("render: backward: %w: missing output gradient", kernel.ErrShapeMismatch)
	}

	gradOutput = gradOutput.Contiguous()
	if !gradOutput.Shape().Equal(saved.output.Shape()) {
		return Grads{}, fmt.Errorf("render: backward: %w: output gradient %v, output %v",
			kernel.ErrShapeMismatch, gradOutput.Shape(), saved.output.Shape())
	}

	k, err := r.module.Kernel(kernel.EntryRasterize)
	if err != nil {
		return Grads{}, fmt.Errorf("render: %w", err)
	}
	bwd, ok := k.(kernel.Differentiable)
	if !ok {
		return Grads{}, fmt.Errorf("render: %s: %w", kernel.EntryRasterize, kernel.ErrNotDifferentiable)
	}

	vertices := contiguous(saved.vertices)
	color := contiguous(saved.color)
	grads := Grads{
		Vertices: tensor.ZerosLike(vertices),
		Color:    tensor.ZerosLike(color),
	}
	args := kernel.BwdArgs{
		Camera:   saved.camera,
		Sigma:    saved.sigma,
		Vertices: kernel.DiffPair{Value: vertices, Grad: grads.Vertices},
		Color:    kernel.DiffPair{Value: color, Grad: grads.Color},
		Output:   kernel.DiffPair{Value: saved.output, Grad: gradOutput},
	}

	saved.consumed = true

	start := time.Now()
	if err := bwd.Bwd(ctx, args, r.launch); err != nil {
		return Grads{}, fmt.Errorf("render: %s backward: %w", kernel.EntryRasterize, err)
	}
	logging.Logger().Debug("render: backward dispatch", "module", r.module.Name(), "duration", time.Since(start))

	return grads, nil
}

func contiguous(t *tensor.RawTensor) *tensor.RawTensor {
	if t == nil {
		return nil
	}
	return t.Contiguous()
}
