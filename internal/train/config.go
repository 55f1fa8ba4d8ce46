// Package train fits a soft-rasterized polygon to a target image by
// gradient descent through a rasterizer module.
package train

import (
	"fmt"

	"github.com/born-ml/diffrast/internal/kernel"
)

// NoSnapshots as Config.SnapshotEvery disables snapshots. A zero interval
// takes the default instead.
const NoSnapshots = -1

// Config holds the training configuration. Zero fields take their
// DefaultConfig values; TargetColor and StartColor are only filled together
// with their vertices, so a custom polygon with a zero color is black.
type Config struct {
	Width  int // Frame width in pixels (default: 1024)
	Height int // Frame height in pixels (default: 1024)

	Origin [2]float32 // Camera origin (default: 0, 0)
	Scale  [2]float32 // Camera half extent (default: 1, 1)

	Iterations    int     // Optimization steps (default: 400)
	LR            float32 // Adam learning rate (default: 5e-3)
	Sigma         float32 // Edge smoothing width (default: 0.02)
	SnapshotEvery int     // Snapshot interval in iterations (default: 10, NoSnapshots disables)

	TargetVertices []float32 // Flattened (N, 2) target polygon
	TargetColor    [3]float32
	StartVertices  []float32 // Flattened (N, 2) initial polygon
	StartColor     [3]float32
}

// DefaultConfig returns the reference scene: a green triangle as target and
// a red triangle as starting point.
func DefaultConfig() Config {
	return Config{
		Width:          1024,
		Height:         1024,
		Origin:         [2]float32{0, 0},
		Scale:          [2]float32{1, 1},
		Iterations:     400,
		LR:             5e-3,
		Sigma:          0.02,
		SnapshotEvery:  10,
		TargetVertices: []float32{0.7, -0.3, -0.3, 0.2, -0.6, -0.6},
		TargetColor:    [3]float32{0.3, 0.8, 0.3},
		StartVertices:  []float32{0.5, -0.5, -0.5, 0.5, -0.5, -0.5},
		StartColor:     [3]float32{0.8, 0.3, 0.3},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.Scale == ([2]float32{}) {
		c.Scale = d.Scale
	}
	if c.Iterations == 0 {
		c.Iterations = d.Iterations
	}
	if c.LR == 0 {
		c.LR = d.LR
	}
	if c.Sigma == 0 {
		c.Sigma = d.Sigma
	}
	if c.SnapshotEvery == 0 {
		c.SnapshotEvery = d.SnapshotEvery
	}
	if c.TargetVertices == nil {
		c.TargetVertices = d.TargetVertices
		c.TargetColor = d.TargetColor
	}
	if c.StartVertices == nil {
		c.StartVertices = d.StartVertices
		c.StartColor = d.StartColor
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("train: invalid frame %dx%d", c.Width, c.Height)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("train: negative iteration count %d", c.Iterations)
	}
	if c.LR <= 0 || c.Sigma <= 0 {
		return fmt.Errorf("train: lr and sigma must be positive (lr=%g, sigma=%g)", c.LR, c.Sigma)
	}
	for name, v := range map[string][]float32{"target": c.TargetVertices, "start": c.StartVertices} {
		if len(v) == 0 || len(v)%2 != 0 {
			return fmt.Errorf("train: %s vertices must be (N, 2), got %d values", name, len(v))
		}
	}
	return nil
}

// Camera returns the camera described by the configuration.
func (c Config) Camera() kernel.Camera {
	return kernel.NewCamera(c.Origin, c.Scale, c.Width, c.Height)
}
