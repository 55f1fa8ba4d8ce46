package optim

import (
	"math"

	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient       // First moment
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²      // Second moment
//	m_hat = m_t / (1 - beta1^t)                        // Bias correction
//	v_hat = v_t / (1 - beta2^t)                        // Bias correction
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)  // Parameter update
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
//
// Example:
//
//	optimizer := optim.NewAdam(params, optim.AdamConfig{
//	    LR:    5e-3,
//	    Betas: [2]float32{0.9, 0.999},
//	    Eps:   1e-8,
//	})
type Adam struct {
	params []*nn.Parameter
	lr     float32
	beta1  float32
	beta2  float32
	eps    float32
	t      int                                 // Timestep for bias correction
	m      map[*nn.Parameter]*tensor.RawTensor // First moment estimates
	v      map[*nn.Parameter]*tensor.RawTensor // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer.
//
// Default hyperparameters:
//   - LR: 0.001
//   - Beta1: 0.9
//   - Beta2: 0.999
//   - Eps: 1e-8
func NewAdam(params []*nn.Parameter, config AdamConfig) *Adam {
	// Set defaults
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}

	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		t:      0,
		m:      make(map[*nn.Parameter]*tensor.RawTensor),
		v:      make(map[*nn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single optimization step using Adam algorithm.
//
// Parameters with no gradient are skipped.
func (a *Adam) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	// Increment timestep
	a.t++

	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, param := range a.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		m, mExists := a.m[param]
		if !mExists {
			m = tensor.ZerosLike(param.Tensor())
			a.m[param] = m
		}

		v, vExists := a.v[param]
		if !vExists {
			v = tensor.ZerosLike(param.Tensor())
			a.v[param] = v
		}

		a.updateParameter(param, grad, m, v, biasCorrection1, biasCorrection2)
	}
}

// updateParameter performs Adam update for a single parameter.
func (a *Adam) updateParameter(
	param *nn.Parameter,
	grad, m, v *tensor.RawTensor,
	biasCorrection1, biasCorrection2 float32,
) {
	gradData := grad.AsFloat32()
	mData := m.AsFloat32()
	vData := v.AsFloat32()
	paramData := param.Tensor().AsFloat32()

	for i := range paramData {
		g := gradData[i]

		mData[i] = a.beta1*mData[i] + (1.0-a.beta1)*g
		vData[i] = a.beta2*vData[i] + (1.0-a.beta2)*g*g

		mHat := mData[i] / biasCorrection1
		vHat := vData[i] / biasCorrection2

		paramData[i] -= a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
	}
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float32 {
	return a.lr
}

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float32) {
	a.lr = lr
}
