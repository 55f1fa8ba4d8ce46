package train

import (
	"context"
	"fmt"
	"time"

	"github.com/born-ml/diffrast/internal/autodiff"
	"github.com/born-ml/diffrast/internal/autodiff/ops"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/logging"
	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/optim"
	"github.com/born-ml/diffrast/internal/render"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Snapshot is the three-panel state emitted every SnapshotEvery iterations.
type Snapshot struct {
	Iteration   int
	Loss        float32
	Output      *tensor.RawTensor // (W, H, 3), values in [0, 1]
	ForwardDiff *tensor.RawTensor // (W, H, 3), values in [-1, 1]
	Target      *tensor.RawTensor // (W, H, 3), values in [0, 1]
}

// Observer receives training progress.
type Observer interface {
	// OnIteration is called after every optimizer step.
	OnIteration(iteration int, loss float32)

	// OnSnapshot is called every SnapshotEvery iterations. An error stops
	// training.
	OnSnapshot(s Snapshot) error
}

// NopObserver ignores all progress.
type NopObserver struct{}

// OnIteration implements Observer.
func (NopObserver) OnIteration(int, float32) {}

// OnSnapshot implements Observer.
func (NopObserver) OnSnapshot(Snapshot) error { return nil }

// Result is the outcome of Run.
type Result struct {
	Losses   []float32         // Loss per completed iteration
	Vertices *tensor.RawTensor // Final (N, 2) vertices
	Color    *tensor.RawTensor // Final (3) color
	Aborted  bool              // Run stopped by cancellation
	Elapsed  time.Duration
}

// Trainer runs the optimization loop.
type Trainer struct {
	cfg        Config
	rasterizer *render.Rasterizer
	observer   Observer
	target     *tensor.RawTensor
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return func(t *Trainer) { t.observer = o }
}

// WithTarget uses img as the target image instead of rendering
// Config.TargetVertices.
func WithTarget(img *tensor.RawTensor) Option {
	return func(t *Trainer) { t.target = img }
}

// New creates a trainer rendering through module. Zero fields of cfg take
// their DefaultConfig values.
func New(module kernel.Module, cfg Config, opts ...Option) (*Trainer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r, err := render.NewRasterizer(module, cfg.Camera(), cfg.Sigma)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	t := &Trainer{cfg: cfg, rasterizer: r, observer: NopObserver{}}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Config returns the effective configuration.
func (t *Trainer) Config() Config { return t.cfg }

// Rasterizer returns the rasterizer used for rendering.
func (t *Trainer) Rasterizer() *render.Rasterizer { return t.rasterizer }

// Run renders the target, then runs Config.Iterations steps of
// render, MSE loss, backward, Adam step and gradient reset.
//
// ctx is checked once per iteration, after the step completes; cancellation
// is reported through Result.Aborted, not as an error. Kernel dispatches
// inside an iteration are not interrupted.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	dispatchCtx := context.WithoutCancel(ctx)
	log := logging.Logger()

	target, err := t.renderTarget(dispatchCtx)
	if err != nil {
		return nil, err
	}

	vertices, err := tensor.FromSlice(t.cfg.StartVertices, tensor.Shape{len(t.cfg.StartVertices) / 2, 2})
	if err != nil {
		return nil, fmt.Errorf("train: start vertices: %w", err)
	}
	color, err := tensor.FromSlice(t.cfg.StartColor[:], tensor.Shape{3})
	if err != nil {
		return nil, fmt.Errorf("train: start color: %w", err)
	}
	params := []*nn.Parameter{
		nn.NewParameter("vertices", vertices),
		nn.NewParameter("color", color),
	}
	optimizer := optim.NewAdam(params, optim.AdamConfig{LR: t.cfg.LR})
	tape := autodiff.NewGradientTape()

	res := &Result{Losses: make([]float32, 0, t.cfg.Iterations)}
	for i := 0; i < t.cfg.Iterations; i++ {
		img, loss, err := t.step(dispatchCtx, tape, params, target)
		if err != nil {
			return nil, fmt.Errorf("train: iteration %d: %w", i, err)
		}
		optimizer.Step(nil)
		optimizer.ZeroGrad()

		res.Losses = append(res.Losses, loss)
		t.observer.OnIteration(i, loss)

		if t.cfg.SnapshotEvery > 0 && i%t.cfg.SnapshotEvery == 0 {
			log.Info("train: iteration", "iter", i, "loss", loss)
			if err := t.snapshot(dispatchCtx, i, loss, img, vertices, color, target); err != nil {
				return nil, err
			}
		}

		if ctx.Err() != nil {
			log.Info("train: aborted", "iter", i)
			res.Aborted = true
			break
		}
	}

	res.Vertices = vertices.Clone()
	res.Color = color.Clone()
	res.Elapsed = time.Since(start)
	return res, nil
}

func (t *Trainer) renderTarget(ctx context.Context) (*tensor.RawTensor, error) {
	if t.target != nil {
		return t.target, nil
	}
	v, err := tensor.FromSlice(t.cfg.TargetVertices, tensor.Shape{len(t.cfg.TargetVertices) / 2, 2})
	if err != nil {
		return nil, fmt.Errorf("train: target vertices: %w", err)
	}
	c, err := tensor.FromSlice(t.cfg.TargetColor[:], tensor.Shape{3})
	if err != nil {
		return nil, fmt.Errorf("train: target color: %w", err)
	}
	img, _, err := t.rasterizer.Forward(ctx, v, c)
	if err != nil {
		return nil, fmt.Errorf("train: render target: %w", err)
	}
	return img, nil
}

// step records forward and loss, runs backward and accumulates gradients
// onto params. It returns the rendered image and the loss.
func (t *Trainer) step(ctx context.Context, tape *autodiff.GradientTape, params []*nn.Parameter, target *tensor.RawTensor) (*tensor.RawTensor, float32, error) {
	tape.Clear()
	tape.StartRecording()
	img, err := t.rasterizer.Record(ctx, tape, params[0].Tensor(), params[1].Tensor())
	if err != nil {
		tape.StopRecording()
		return nil, 0, err
	}
	loss, op, err := ops.MSE(img, target)
	if err != nil {
		tape.StopRecording()
		return nil, 0, err
	}
	tape.Record(op)
	tape.StopRecording()

	grads, err := autodiff.Backward(tape, loss)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range params {
		g, ok := grads[p.Tensor()]
		if !ok {
			continue
		}
		if err := p.AccumulateGrad(g); err != nil {
			return nil, 0, err
		}
	}
	return img, loss.AsFloat32()[0], nil
}

// snapshot renders the finite difference for the updated parameters and
// hands it to the observer with the iteration's output.
func (t *Trainer) snapshot(ctx context.Context, i int, loss float32, out, vertices, color, target *tensor.RawTensor) error {
	fd, err := t.rasterizer.ForwardDiff(ctx, vertices, color)
	if err != nil {
		return fmt.Errorf("train: snapshot %d: %w", i, err)
	}
	err = t.observer.OnSnapshot(Snapshot{
		Iteration:   i,
		Loss:        loss,
		Output:      out,
		ForwardDiff: fd,
		Target:      target,
	})
	if err != nil {
		return fmt.Errorf("train: snapshot %d: %w", i, err)
	}
	return nil
}
