package optim

import (
	"github.com/born-ml/diffrast/internal/nn"
	"github.com/born-ml/diffrast/internal/tensor"
)

// SGD implements Stochastic Gradient Descent optimizer with optional momentum.
//
// Update rule without momentum:
//
//	param = param - lr * gradient
//
// Update rule with momentum:
//
//	velocity = momentum * velocity + gradient
//	param = param - lr * velocity
type SGD struct {
	params     []*nn.Parameter
	lr         float32
	momentum   float32
	velocities map[*nn.Parameter]*tensor.RawTensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR       float32 // Learning rate (default: 0.01)
	Momentum float32 // Momentum factor (default: 0.0, range: [0, 1))
}

// NewSGD creates a new SGD optimizer.
func NewSGD(params []*nn.Parameter, config SGDConfig) *SGD {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD{
		params:     params,
		lr:         config.LR,
		momentum:   config.Momentum,
		velocities: make(map[*nn.Parameter]*tensor.RawTensor),
	}
}

// Step performs a single optimization step.
//
// Parameters with no gradient (not in computational graph) are skipped.
func (s *SGD) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		gradData := grad.AsFloat32()
		paramData := param.Tensor().AsFloat32()

		if s.momentum == 0 {
			for i := range paramData {
				paramData[i] -= s.lr * gradData[i]
			}
			continue
		}

		velocity, exists := s.velocities[param]
		if !exists {
			velocity = tensor.ZerosLike(param.Tensor())
			s.velocities[param] = velocity
		}
		vData := velocity.AsFloat32()
		for i := range paramData {
			vData[i] = s.momentum*vData[i] + gradData[i]
			paramData[i] -= s.lr * vData[i]
		}
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float32) {
	s.lr = lr
}
