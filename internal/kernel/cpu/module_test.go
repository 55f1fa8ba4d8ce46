package cpu_test

import (
	"context"
	"math"
	"testing"

	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/kernel/cpu"
	"github.com/born-ml/diffrast/internal/parallel"
	"github.com/born-ml/diffrast/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTensor(t *testing.T, data []float32, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return r
}

func newArgs(t *testing.T, w, h int, sigma float32, vertices []float32, color []float32) kernel.Args {
	t.Helper()
	out, err := tensor.Zeros(tensor.Shape{w, h, 3})
	require.NoError(t, err)
	return kernel.Args{
		Camera:   kernel.NewCamera([2]float32{0, 0}, [2]float32{1, 1}, w, h),
		Sigma:    sigma,
		Vertices: mustTensor(t, vertices, tensor.Shape{len(vertices) / 2, 2}),
		Color:    mustTensor(t, color, tensor.Shape{3}),
		Output:   out,
	}
}

func rasterize(t *testing.T, m *cpu.Module) kernel.Differentiable {
	t.Helper()
	k, err := m.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)
	d, ok := k.(kernel.Differentiable)
	require.True(t, ok)
	return d
}

var triangle = []float32{-0.5, -0.5, 0.5, -0.5, 0, 0.5}

func TestRasterize_ShapesForPolygonSizes(t *testing.T) {
	m := cpu.New("test")
	k := rasterize(t, m)

	polys := map[string][]float32{
		"triangle": triangle,
		"quad":     {-0.5, -0.5, 0.5, -0.5, 0.5, 0.5, -0.5, 0.5},
		"pentagon": {0, -0.6, 0.6, -0.2, 0.4, 0.5, -0.4, 0.5, -0.6, -0.2},
	}
	for name, verts := range polys {
		t.Run(name, func(t *testing.T) {
			args := newArgs(t, 20, 12, 0.02, verts, []float32{0.3, 0.8, 0.1})
			require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(20, 12)))
			assert.True(t, args.Output.Shape().Equal(tensor.Shape{20, 12, 3}))

			// Center pixel is well inside, corner pixel well outside.
			assert.InDelta(t, 0.8, args.Output.At(10, 6, 1), 1e-3)
			assert.InDelta(t, 0, args.Output.At(0, 0, 1), 1e-3)
		})
	}
}

func TestRasterize_OrientationIndependent(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	ccw := newArgs(t, 16, 16, 0.05, triangle, []float32{1, 1, 1})
	cw := newArgs(t, 16, 16, 0.05, []float32{0, 0.5, 0.5, -0.5, -0.5, -0.5}, []float32{1, 1, 1})

	cfg := kernel.LaunchFor(16, 16)
	require.NoError(t, k.LaunchRaw(context.Background(), ccw, cfg))
	require.NoError(t, k.LaunchRaw(context.Background(), cw, cfg))
	assert.InDeltaSlice(t, ccw.Output.AsFloat32(), cw.Output.AsFloat32(), 1e-6)
}

func TestRasterize_DegenerateCoversNothing(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	cases := map[string][]float32{
		"collinear":     {-0.5, 0, 0, 0, 0.5, 0},
		"single vertex": {0, 0},
		"segment":       {-0.5, -0.5, 0.5, 0.5},
	}
	for name, verts := range cases {
		t.Run(name, func(t *testing.T) {
			args := newArgs(t, 8, 8, 0.02, verts, []float32{1, 1, 1})
			args.Output.Fill(7)
			require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(8, 8)))
			for _, v := range args.Output.AsFloat32() {
				require.Zero(t, v)
			}
		})
	}
}

func TestRasterize_Idempotent(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	args := newArgs(t, 33, 17, 0.02, triangle, []float32{0.2, 0.4, 0.6})
	cfg := kernel.LaunchFor(33, 17)

	require.NoError(t, k.LaunchRaw(context.Background(), args, cfg))
	first := args.Output.Clone()
	require.NoError(t, k.LaunchRaw(context.Background(), args, cfg))
	assert.Equal(t, first.AsFloat32(), args.Output.AsFloat32())
}

func TestRasterize_OversizedLaunchIgnoresOutOfFrameThreads(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	want := newArgs(t, 10, 10, 0.02, triangle, []float32{1, 0, 0})
	got := newArgs(t, 10, 10, 0.02, triangle, []float32{1, 0, 0})

	require.NoError(t, k.LaunchRaw(context.Background(), want, kernel.LaunchFor(10, 10)))
	big := kernel.LaunchConfig{
		Block: kernel.Dim3{X: 8, Y: 8, Z: 2},
		Grid:  kernel.Dim3{X: 4, Y: 3, Z: 1},
	}
	require.NoError(t, k.LaunchRaw(context.Background(), got, big))
	assert.Equal(t, want.Output.AsFloat32(), got.Output.AsFloat32())
}

func TestRasterize_InvalidArgs(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	args := newArgs(t, 8, 8, 0.02, triangle, []float32{1, 1, 1})

	bad := args
	bad.Output = mustTensor(t, make([]float32, 8*9*3), tensor.Shape{8, 9, 3})
	require.ErrorIs(t, k.LaunchRaw(context.Background(), bad, kernel.LaunchFor(8, 8)), kernel.ErrShapeMismatch)

	require.ErrorIs(t, k.LaunchRaw(context.Background(), args, kernel.LaunchConfig{}), kernel.ErrInvalidLaunch)
}

func TestRasterize_CancelledContext(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	args := newArgs(t, 8, 8, 0.02, triangle, []float32{1, 1, 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, k.LaunchRaw(ctx, args, kernel.LaunchFor(8, 8)), context.Canceled)
}

func bwdArgs(t *testing.T, fwd kernel.Args) kernel.BwdArgs {
	t.Helper()
	upstream := tensor.ZerosLike(fwd.Output)
	upstream.Fill(1)
	return kernel.BwdArgs{
		Camera:   fwd.Camera,
		Sigma:    fwd.Sigma,
		Vertices: kernel.DiffPair{Value: fwd.Vertices, Grad: tensor.ZerosLike(fwd.Vertices)},
		Color:    kernel.DiffPair{Value: fwd.Color, Grad: tensor.ZerosLike(fwd.Color)},
		Output:   kernel.DiffPair{Value: fwd.Output, Grad: upstream},
	}
}

func sumOutput(t *testing.T, k kernel.Kernel, args kernel.Args) float64 {
	t.Helper()
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(args.Camera.Width(), args.Camera.Height())))
	var s float64
	for _, v := range args.Output.AsFloat32() {
		s += float64(v)
	}
	return s
}

func TestBwd_MatchesFiniteDifferences(t *testing.T) {
	const (
		w, h  = 24, 24
		sigma = 0.2
		step  = 1e-3
	)
	k := rasterize(t, cpu.New("test"))
	verts := []float32{-0.6, -0.4, 0.5, -0.5, 0.1, 0.6}
	color := []float32{0.9, 0.5, 0.2}

	args := newArgs(t, w, h, sigma, verts, color)
	base := sumOutput(t, k, args)
	bwd := bwdArgs(t, args)
	require.NoError(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(w, h)))
	analytic := bwd.Vertices.Grad.AsFloat32()

	// The edge distance is a min over edges, so the image sum has kinks where
	// a pixel center sits on a tie. The analytic slope follows the active
	// edge and lies between the two one-sided slopes.
	for i := range verts {
		plus := append([]float32(nil), verts...)
		minus := append([]float32(nil), verts...)
		plus[i] += step
		minus[i] -= step

		right := (sumOutput(t, k, newArgs(t, w, h, sigma, plus, color)) - base) / step
		left := (base - sumOutput(t, k, newArgs(t, w, h, sigma, minus, color))) / step
		lo, hi := math.Min(left, right), math.Max(left, right)

		tol := 0.05*math.Max(math.Abs(lo), math.Abs(hi)) + 0.05
		got := float64(analytic[i])
		assert.GreaterOrEqual(t, got, lo-tol, "vertex coordinate %d", i)
		assert.LessOrEqual(t, got, hi+tol, "vertex coordinate %d", i)
	}
}

func TestBwd_ColorGradientIsCoverage(t *testing.T) {
	const w, h = 16, 16
	k := rasterize(t, cpu.New("test"))
	color := []float32{0.5, 0.25, 1}
	args := newArgs(t, w, h, 0.05, triangle, color)
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(w, h)))

	bwd := bwdArgs(t, args)
	require.NoError(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(w, h)))

	out := args.Output.AsFloat32()
	for c := 0; c < 3; c++ {
		var coverage float64
		for p := 0; p < w*h; p++ {
			coverage += float64(out[p*3+c]) / float64(color[c])
		}
		assert.InDelta(t, coverage, float64(bwd.Color.Grad.AsFloat32()[c]), 1e-3*coverage)
	}
}

func TestBwd_DeterministicAcrossWorkerCounts(t *testing.T) {
	const w, h = 40, 40
	run := func(cfg parallel.Config) []float32 {
		k := rasterize(t, cpu.New("test", cpu.WithParallel(cfg)))
		args := newArgs(t, w, h, 0.05, triangle, []float32{0.3, 0.6, 0.9})
		require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(w, h)))
		bwd := bwdArgs(t, args)
		require.NoError(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(w, h)))
		return append(bwd.Vertices.Grad.AsFloat32(), bwd.Color.Grad.AsFloat32()...)
	}

	sequential := run(parallel.Config{Enabled: false})
	for i := 0; i < 3; i++ {
		assert.Equal(t, sequential, run(parallel.BlockConfig()))
	}
}

func TestBwd_Accumulates(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	args := newArgs(t, 16, 16, 0.05, triangle, []float32{1, 1, 1})
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(16, 16)))
	bwd := bwdArgs(t, args)

	require.NoError(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(16, 16)))
	once := bwd.Vertices.Grad.Clone().AsFloat32()
	require.NoError(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(16, 16)))
	for i, v := range bwd.Vertices.Grad.AsFloat32() {
		assert.InDelta(t, 2*once[i], v, 1e-4)
	}
}

func TestBwd_GradientShapeMismatch(t *testing.T) {
	k := rasterize(t, cpu.New("test"))
	args := newArgs(t, 8, 8, 0.05, triangle, []float32{1, 1, 1})
	bwd := bwdArgs(t, args)
	bwd.Output.Grad = mustTensor(t, make([]float32, 8*8), tensor.Shape{8, 8, 1})
	require.ErrorIs(t, k.Bwd(context.Background(), bwd, kernel.LaunchFor(8, 8)), kernel.ErrShapeMismatch)
}

func TestForwardDiff(t *testing.T) {
	m := cpu.New("test")
	k, err := m.Kernel(kernel.EntryRasterizeForwardDiff)
	require.NoError(t, err)
	assert.Equal(t, kernel.EntryRasterizeForwardDiff, k.Name())
	_, differentiable := k.(kernel.Differentiable)
	assert.False(t, differentiable)

	args := newArgs(t, 32, 32, 0.05, triangle, []float32{1, 1, 1})
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(32, 32)))
	first := args.Output.Clone()
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(32, 32)))
	assert.Equal(t, first.AsFloat32(), args.Output.AsFloat32())

	// Moving right uncovers the left side and covers the right side.
	var neg, pos bool
	for x := 0; x < 32; x++ {
		v := args.Output.At(x, 12, 0)
		if x < 16 && v < -0.1 {
			neg = true
		}
		if x >= 16 && v > 0.1 {
			pos = true
		}
	}
	assert.True(t, neg, "expected negative derivative on the left edge")
	assert.True(t, pos, "expected positive derivative on the right edge")
}

func TestModule_Lookup(t *testing.T) {
	m := cpu.New("soft_rasterizer2d")
	assert.Equal(t, "soft_rasterizer2d", m.Name())

	_, err := m.Kernel("no_such_entry")
	require.ErrorIs(t, err, kernel.ErrUnknownEntry)

	k, err := m.Kernel(kernel.EntryRasterize)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	_, err = m.Kernel(kernel.EntryRasterize)
	require.ErrorIs(t, err, kernel.ErrModuleClosed)

	// Previously obtained kernels stay usable.
	args := newArgs(t, 4, 4, 0.02, triangle, []float32{1, 1, 1})
	require.NoError(t, k.LaunchRaw(context.Background(), args, kernel.LaunchFor(4, 4)))
}
