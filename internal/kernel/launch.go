package kernel

import "fmt"

// BlockEdge is the edge length of the square thread blocks used for image
// kernels.
const BlockEdge = 16

// Dim3 is a three-dimensional launch extent.
type Dim3 struct {
	X, Y, Z int
}

// Count returns X*Y*Z.
func (d Dim3) Count() int {
	return d.X * d.Y * d.Z
}

// LaunchConfig describes a raw kernel launch: Grid blocks of Block threads.
type LaunchConfig struct {
	Block Dim3
	Grid  Dim3
}

// GridFor returns the number of blocks needed to cover a width x height plane:
// (ceil(width/block.X), ceil(height/block.Y), 1).
func GridFor(width, height int, block Dim3) Dim3 {
	return Dim3{
		X: (width + block.X - 1) / block.X,
		Y: (height + block.Y - 1) / block.Y,
		Z: 1,
	}
}

// LaunchFor returns the launch configuration covering a width x height image
// with BlockEdge x BlockEdge blocks.
//
// Example:
//
//	kernel.LaunchFor(1024, 1024) // Block {16 16 1}, Grid {64 64 1}
func LaunchFor(width, height int) LaunchConfig {
	block := Dim3{X: BlockEdge, Y: BlockEdge, Z: 1}
	return LaunchConfig{
		Block: block,
		Grid:  GridFor(width, height, block),
	}
}

// Validate checks that all extents are positive.
func (c LaunchConfig) Validate() error {
	if c.Block.X <= 0 || c.Block.Y <= 0 || c.Block.Z <= 0 {
		return fmt.Errorf("%w: block %+v", ErrInvalidLaunch, c.Block)
	}
	if c.Grid.X <= 0 || c.Grid.Y <= 0 || c.Grid.Z <= 0 {
		return fmt.Errorf("%w: grid %+v", ErrInvalidLaunch, c.Grid)
	}
	return nil
}
