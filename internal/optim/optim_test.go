package optim_test

import (
	"testing"

	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/optim"
	"github.com/born-ml/diffrast/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func param(t *testing.T, name string, values ...float32) *nn.Parameter {
	t.Helper()
	raw, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	return nn.NewParameter(name, raw)
}

func grad(t *testing.T, values ...float32) *tensor.RawTensor {
	t.Helper()
	raw, err := tensor.FromSlice(values, tensor.Shape{len(values)})
	require.NoError(t, err)
	return raw
}

func TestSGD_SimpleUpdate(t *testing.T) {
	p := param(t, "x", 2.0)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1})

	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor(): grad(t, 1.0)})

	// x_new = 2.0 - 0.1 * 1.0
	assert.InDelta(t, 1.9, p.Tensor().AsFloat32()[0], 1e-6)
}

func TestSGD_WithMomentum(t *testing.T) {
	p := param(t, "x", 1.0)
	opt := optim.NewSGD([]*nn.Parameter{p}, optim.SGDConfig{LR: 0.1, Momentum: 0.9})

	grads := map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor(): grad(t, 1.0)}
	opt.Step(grads)
	// v = 1, x = 1 - 0.1
	assert.InDelta(t, 0.9, p.Tensor().AsFloat32()[0], 1e-6)

	opt.Step(grads)
	// v = 0.9 + 1 = 1.9, x = 0.9 - 0.19
	assert.InDelta(t, 0.71, p.Tensor().AsFloat32()[0], 1e-6)
}

func TestSGD_Defaults(t *testing.T) {
	opt := optim.NewSGD(nil, optim.SGDConfig{})
	assert.InDelta(t, 0.01, opt.GetLR(), 1e-9)
	opt.SetLR(0.5)
	assert.InDelta(t, 0.5, opt.GetLR(), 1e-9)
}

func TestAdam_FirstStepMovesByLR(t *testing.T) {
	p := param(t, "x", 1.0, -1.0)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 5e-3})

	// After bias correction the first Adam step is lr * sign(grad).
	opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor(): grad(t, 3.0, -0.25)})
	assert.InDelta(t, 1.0-5e-3, p.Tensor().AsFloat32()[0], 1e-6)
	assert.InDelta(t, -1.0+5e-3, p.Tensor().AsFloat32()[1], 1e-6)
}

func TestAdam_MinimizesQuadratic(t *testing.T) {
	p := param(t, "x", 3.0)
	opt := optim.NewAdam([]*nn.Parameter{p}, optim.AdamConfig{LR: 0.1})

	for i := 0; i < 500; i++ {
		x := p.Tensor().AsFloat32()[0]
		// d/dx (x - 1)^2
		require.NoError(t, p.AccumulateGrad(grad(t, 2*(x-1))))
		opt.Step(nil)
		opt.ZeroGrad()
	}
	assert.InDelta(t, 1.0, p.Tensor().AsFloat32()[0], 0.1)
	assert.Nil(t, p.Grad())
}

func TestAdam_Defaults(t *testing.T) {
	opt := optim.NewAdam(nil, optim.AdamConfig{})
	assert.InDelta(t, 0.001, opt.GetLR(), 1e-9)
}

func TestStep_SkipsParametersWithoutGradient(t *testing.T) {
	a := param(t, "a", 1.0)
	b := param(t, "b", 1.0)
	for _, opt := range []optim.Optimizer{
		optim.NewSGD([]*nn.Parameter{a, b}, optim.SGDConfig{LR: 0.1}),
		optim.NewAdam([]*nn.Parameter{a, b}, optim.AdamConfig{LR: 0.1}),
	} {
		opt.Step(map[*tensor.RawTensor]*tensor.RawTensor{a.Tensor(): grad(t, 1.0)})
		assert.Equal(t, float32(1.0), b.Tensor().AsFloat32()[0])
	}
	assert.Less(t, a.Tensor().AsFloat32()[0], float32(1.0))
}
