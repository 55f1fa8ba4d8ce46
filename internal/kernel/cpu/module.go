// Package cpu implements the soft rasterizer kernel module in pure Go.
//
// It exports the same entry points as the compiled shader module
// (rasterize with its reverse-mode derivative, and rasterize_forward_diff)
// and honors raw launch semantics: every thread of every block computes at
// most one pixel, and threads outside the frame do nothing. Blocks are
// spread over a worker pool; reverse-mode partial sums are kept per block
// and reduced in block order, so results do not depend on scheduling.
package cpu

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/parallel"
)

// DefaultForwardDiffStep is the translation used by rasterize_forward_diff.
const DefaultForwardDiffStep = 1e-3

// Module is the pure-Go rasterizer kernel module.
type Module struct {
	name   string
	cfg    parallel.Config
	fdStep float64
	closed atomic.Bool
}

// Option configures a Module.
type Option func(*Module)

// WithParallel overrides the worker pool configuration.
func WithParallel(cfg parallel.Config) Option {
	return func(m *Module) { m.cfg = cfg }
}

// WithForwardDiffStep overrides the finite-difference step.
func WithForwardDiffStep(h float64) Option {
	return func(m *Module) { m.fdStep = h }
}

// New creates a module registered under name.
func New(name string, opts ...Option) *Module {
	m := &Module{
		name:   name,
		cfg:    parallel.BlockConfig(),
		fdStep: DefaultForwardDiffStep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the module name.
func (m *Module) Name() string {
	return m.name
}

// Kernel looks up an entry point.
func (m *Module) Kernel(entry string) (kernel.Kernel, error) {
	if m.closed.Load() {
		return nil, kernel.ErrModuleClosed
	}
	switch entry {
	case kernel.EntryRasterize:
		return &rasterizeKernel{m: m}, nil
	case kernel.EntryRasterizeForwardDiff:
		return &forwardDiffKernel{m: m}, nil
	default:
		return nil, fmt.Errorf("%w: %s.%s", kernel.ErrUnknownEntry, m.name, entry)
	}
}

// Close marks the module closed. Kernels obtained earlier keep working.
func (m *Module) Close() error {
	m.closed.Store(true)
	return nil
}

// pixelFunc computes one output pixel.
type pixelFunc func(px, py int, wx, wy float64) (r, g, b float64)

// launchPixels runs fn for every in-frame thread of the launch and stores the
// result in out, shaped (W, H, 3).
func (m *Module) launchPixels(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig, fn pixelFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := args.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cam := args.Camera
	w, h := cam.Width(), cam.Height()
	out := args.Output.AsFloat32()

	parallel.ForGrid(cfg.Grid.X, cfg.Grid.Y, func(bx, by int) {
		if ctx.Err() != nil {
			return
		}
		for ty := 0; ty < cfg.Block.Y; ty++ {
			py := by*cfg.Block.Y + ty
			if py >= h {
				break
			}
			for tx := 0; tx < cfg.Block.X; tx++ {
				px := bx*cfg.Block.X + tx
				if px >= w {
					break
				}
				wx, wy := cam.PixelCenter(px, py)
				r, g, b := fn(px, py, float64(wx), float64(wy))
				base := (px*h + py) * 3
				out[base] = float32(r)
				out[base+1] = float32(g)
				out[base+2] = float32(b)
			}
		}
	}, m.cfg)

	return ctx.Err()
}

// rasterizeKernel renders soft coverage times color.
type rasterizeKernel struct {
	m *Module
}

func (k *rasterizeKernel) Name() string { return kernel.EntryRasterize }

func (k *rasterizeKernel) LaunchRaw(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig) error {
	if err := args.Validate(); err != nil {
		return err
	}
	pg := newPolygon(args.Vertices.AsFloat32())
	color := args.Color.AsFloat32()
	sigma := float64(args.Sigma)
	return k.m.launchPixels(ctx, args, cfg, func(_, _ int, wx, wy float64) (float64, float64, float64) {
		alpha := pg.coverage(wx, wy, sigma)
		return alpha * float64(color[0]), alpha * float64(color[1]), alpha * float64(color[2])
	})
}

// Bwd accumulates d(loss)/d(vertices) and d(loss)/d(color) given the
// upstream gradient in args.Output.Grad.
func (k *rasterizeKernel) Bwd(ctx context.Context, args kernel.BwdArgs, cfg kernel.LaunchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := args.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cam := args.Camera
	w, h := cam.Width(), cam.Height()
	pg := newPolygon(args.Vertices.Value.AsFloat32())
	color := args.Color.Value.AsFloat32()
	upstream := args.Output.Grad.AsFloat32()
	sigma := float64(args.Sigma)
	nv := len(pg.xs)

	// Per-block partial sums: 2*nv vertex entries followed by 3 color entries.
	width := 2*nv + 3
	partials := make([]float64, cfg.Grid.X*cfg.Grid.Y*width)

	parallel.ForGrid(cfg.Grid.X, cfg.Grid.Y, func(bx, by int) {
		if ctx.Err() != nil {
			return
		}
		acc := partials[(by*cfg.Grid.X+bx)*width : (by*cfg.Grid.X+bx+1)*width]
		for ty := 0; ty < cfg.Block.Y; ty++ {
			py := by*cfg.Block.Y + ty
			if py >= h {
				break
			}
			for tx := 0; tx < cfg.Block.X; tx++ {
				px := bx*cfg.Block.X + tx
				if px >= w {
					break
				}
				base := (px*h + py) * 3
				g0, g1, g2 := float64(upstream[base]), float64(upstream[base+1]), float64(upstream[base+2])
				if g0 == 0 && g1 == 0 && g2 == 0 {
					continue
				}

				fx, fy := cam.PixelCenter(px, py)
				wx, wy := float64(fx), float64(fy)
				d, edge := pg.signedDistance(wx, wy)
				if edge < 0 {
					continue
				}
				alpha := sigmoid(d / sigma)

				acc[2*nv] += g0 * alpha
				acc[2*nv+1] += g1 * alpha
				acc[2*nv+2] += g2 * alpha

				dAlpha := g0*float64(color[0]) + g1*float64(color[1]) + g2*float64(color[2])
				dDist := dAlpha * alpha * (1 - alpha) / sigma
				if dDist == 0 {
					continue
				}
				dax, day, dbx, dby := pg.edgeGradient(edge, wx, wy)
				j := (edge + 1) % nv
				acc[2*edge] += dDist * dax
				acc[2*edge+1] += dDist * day
				acc[2*j] += dDist * dbx
				acc[2*j+1] += dDist * dby
			}
		}
	}, k.m.cfg)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Reduce in block order.
	total := make([]float64, width)
	for b := 0; b < cfg.Grid.X*cfg.Grid.Y; b++ {
		for i, v := range partials[b*width : (b+1)*width] {
			total[i] += v
		}
	}

	gradV := args.Vertices.Grad.AsFloat32()
	for i := 0; i < 2*nv; i++ {
		gradV[i] += float32(total[i])
	}
	gradC := args.Color.Grad.AsFloat32()
	for c := 0; c < 3; c++ {
		gradC[c] += float32(total[2*nv+c])
	}
	return nil
}

// forwardDiffKernel renders a one-sided finite difference of the image with
// respect to translating every vertex by +x.
type forwardDiffKernel struct {
	m *Module
}

func (k *forwardDiffKernel) Name() string { return kernel.EntryRasterizeForwardDiff }

func (k *forwardDiffKernel) LaunchRaw(ctx context.Context, args kernel.Args, cfg kernel.LaunchConfig) error {
	if err := args.Validate(); err != nil {
		return err
	}
	base := newPolygon(args.Vertices.AsFloat32())
	step := k.m.fdStep
	moved := base.translated(step, 0)
	color := args.Color.AsFloat32()
	sigma := float64(args.Sigma)
	return k.m.launchPixels(ctx, args, cfg, func(_, _ int, wx, wy float64) (float64, float64, float64) {
		dAlpha := (moved.coverage(wx, wy, sigma) - base.coverage(wx, wy, sigma)) / step
		return dAlpha * float64(color[0]), dAlpha * float64(color[1]), dAlpha * float64(color[2])
	})
}

// Compile-time interface checks.
var (
	_ kernel.Module         = (*Module)(nil)
	_ kernel.Differentiable = (*rasterizeKernel)(nil)
	_ kernel.Kernel         = (*forwardDiffKernel)(nil)
)
