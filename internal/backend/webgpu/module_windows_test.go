//go:build windows

package webgpu

import (
	"context"
	"testing"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/kernel/cpu"
	"github.com/born-ml/diffrast/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGPU(t *testing.T) kernel.Module {
	t.Helper()
	if !IsAvailable() {
		t.Skip("WebGPU not available")
	}
	m, err := New("test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func sceneArgs(t *testing.T, w, h int) kernel.Args {
	t.Helper()
	verts, err := tensor.FromSlice([]float32{-0.5, -0.5, 0.5, -0.5, 0, 0.5}, tensor.Shape{3, 2})
	require.NoError(t, err)
	color, err := tensor.FromSlice([]float32{0.3, 0.8, 0.3}, tensor.Shape{3})
	require.NoError(t, err)
	out, err := tensor.Zeros(tensor.Shape{w, h, 3})
	require.NoError(t, err)
	return kernel.Args{
		Camera:   kernel.NewCamera([2]float32{0, 0}, [2]float32{1, 1}, w, h),
		Sigma:    0.05,
		Vertices: verts,
		Color:    color,
		Output:   out,
	}
}

func TestGPU_MatchesCPU(t *testing.T) {
	gpu := newGPU(t)
	ref := cpu.New("ref")

	const w, h = 40, 24
	gk, err := gpu.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)
	ck, err := ref.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)

	ga, ca := sceneArgs(t, w, h), sceneArgs(t, w, h)
	require.NoError(t, gk.LaunchRaw(context.Background(), ga, kernel.LaunchFor(w, h)))
	require.NoError(t, ck.LaunchRaw(context.Background(), ca, kernel.LaunchFor(w, h)))
	assert.InDeltaSlice(t, ca.Output.AsFloat32(), ga.Output.AsFloat32(), 1e-4)
}

func TestGPU_RejectsForeignBlockSize(t *testing.T) {
	gpu := newGPU(t)
	k, err := gpu.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)

	cfg := kernel.LaunchConfig{Block: kernel.Dim3{X: 8, Y: 8, Z: 1}, Grid: kernel.Dim3{X: 1, Y: 1, Z: 1}}
	require.ErrorIs(t, k.LaunchRaw(context.Background(), sceneArgs(t, 8, 8), cfg), kernel.ErrInvalidLaunch)
}

func differentiable(t *testing.T, m kernel.Module) kernel.Differentiable {
	t.Helper()
	k, err := m.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)
	d, ok := k.(kernel.Differentiable)
	require.True(t, ok)
	return d
}

// runBwd rasterizes the scene with k and back-propagates an upstream
// gradient of ones, returning vertex and color gradients.
func runBwd(t *testing.T, k kernel.Differentiable, w, h int) (gradV, gradC []float32) {
	t.Helper()
	args := sceneArgs(t, w, h)
	cfg := kernel.LaunchFor(w, h)
	require.NoError(t, k.LaunchRaw(context.Background(), args, cfg))

	upstream := tensor.ZerosLike(args.Output)
	upstream.Fill(1)
	bwd := kernel.BwdArgs{
		Camera:   args.Camera,
		Sigma:    args.Sigma,
		Vertices: kernel.DiffPair{Value: args.Vertices, Grad: tensor.ZerosLike(args.Vertices)},
		Color:    kernel.DiffPair{Value: args.Color, Grad: tensor.ZerosLike(args.Color)},
		Output:   kernel.DiffPair{Value: args.Output, Grad: upstream},
	}
	require.NoError(t, k.Bwd(context.Background(), bwd, cfg))
	return bwd.Vertices.Grad.AsFloat32(), bwd.Color.Grad.AsFloat32()
}

func TestGPU_BwdMatchesCPU(t *testing.T) {
	gpu := newGPU(t)

	// 40x24 leaves partial workgroups on both axes.
	const w, h = 40, 24
	gv, gc := runBwd(t, differentiable(t, gpu), w, h)
	cv, cc := runBwd(t, differentiable(t, cpu.New("ref")), w, h)

	require.Len(t, gv, len(cv))
	for i := range cv {
		assert.InDelta(t, cv[i], gv[i], float64(1e-3*abs32(cv[i])+1e-3), "vertex coordinate %d", i)
	}
	for c := range cc {
		assert.InDelta(t, cc[c], gc[c], float64(1e-3*abs32(cc[c])+1e-3), "color channel %d", c)
	}
}

func TestGPU_ForwardDiffMatchesCPU(t *testing.T) {
	gpu := newGPU(t)
	ref := cpu.New("ref")

	const w, h = 40, 24
	gk, err := gpu.Kernel(kernel.EntryRasterizeForwardDiff)
	require.NoError(t, err)
	ck, err := ref.Kernel(kernel.EntryRasterizeForwardDiff)
	require.NoError(t, err)
	_, hasBwd := gk.(kernel.Differentiable)
	assert.False(t, hasBwd)

	ga, ca := sceneArgs(t, w, h), sceneArgs(t, w, h)
	require.NoError(t, gk.LaunchRaw(context.Background(), ga, kernel.LaunchFor(w, h)))
	require.NoError(t, ck.LaunchRaw(context.Background(), ca, kernel.LaunchFor(w, h)))
	assert.InDeltaSlice(t, ca.Output.AsFloat32(), ga.Output.AsFloat32(), 1e-2)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
