// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train fits a soft-rasterized polygon to a target image.
//
// Each iteration renders the current polygon, computes the mean squared
// error against the target, backpropagates through the rasterizer and takes
// an Adam step. Every SnapshotEvery iterations the forward difference is
// rendered and a three-panel snapshot (output, fwd_diff, target) is handed
// to the observer.
//
// Example:
//
//	import (
//	    "github.com/born-ml/diffrast/backend/cpu"
//	    "github.com/born-ml/diffrast/train"
//	)
//
//	func main() {
//	    fig, _ := train.NewFigure(0)
//	    defer fig.Close()
//	    w, _ := train.NewSnapshotWriter("out", fig)
//
//	    t, _ := train.New(cpu.New("soft-rasterizer2d"), train.DefaultConfig(), train.WithObserver(w))
//	    res, _ := t.Run(ctx)
//	    fmt.Println(res.Losses[len(res.Losses)-1])
//	}
package train

import (
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/plot"
	"github.com/born-ml/diffrast/internal/train"
)

// Config holds the training configuration.
type Config = train.Config

// Trainer runs the optimization loop.
type Trainer = train.Trainer

// Option configures a Trainer.
type Option = train.Option

// Observer receives training progress.
type Observer = train.Observer

// NopObserver ignores all progress.
type NopObserver = train.NopObserver

// Snapshot is the three-panel state emitted periodically.
type Snapshot = train.Snapshot

// Result is the outcome of Trainer.Run.
type Result = train.Result

// Figure renders snapshots as three-panel images.
type Figure = plot.Figure

// SnapshotWriter is an Observer writing snapshot PNGs.
type SnapshotWriter = plot.SnapshotWriter

// NoSnapshots as Config.SnapshotEvery disables snapshots.
const NoSnapshots = train.NoSnapshots

// DefaultConfig returns the reference scene and hyperparameters.
func DefaultConfig() Config {
	return train.DefaultConfig()
}

// New creates a trainer rendering through module.
func New(module kernel.Module, cfg Config, opts ...Option) (*Trainer, error) {
	return train.New(module, cfg, opts...)
}

// WithObserver sets the progress observer.
func WithObserver(o Observer) Option {
	return train.WithObserver(o)
}

// NewFigure creates a snapshot figure with panelSize pixel panels
// (0 selects the default).
func NewFigure(panelSize int) (*Figure, error) {
	return plot.NewFigure(panelSize)
}

// NewSnapshotWriter returns an Observer writing <dir>/iter_NNNN.png.
func NewSnapshotWriter(dir string, fig *Figure) (*SnapshotWriter, error) {
	return plot.NewSnapshotWriter(dir, fig)
}
