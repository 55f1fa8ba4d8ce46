package autodiff

import (
	"errors"
	"fmt"

	"github.com/born-ml/diffrast/internal/tensor"
)

// ErrEmptyTape is returned by Backward when no operation was recorded.
var ErrEmptyTape = errors.New("backward: no operations recorded (did you forget to call StartRecording?)")

// Backward computes gradients of out with respect to every tensor recorded on
// the tape, seeding the walk with ones shaped like out.
//
// Example:
//
//	loss, op, _ := ops.MSE(pred, target)
//	tape.Record(op)
//	grads, err := autodiff.Backward(tape, loss)
//	gradPred := grads[pred]
func Backward(tape *GradientTape, out *tensor.RawTensor) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	if tape.NumOps() == 0 {
		return nil, ErrEmptyTape
	}

	// Create output gradient: ones with same shape as output
	outputGrad, err := tensor.NewRaw(out.Shape(), out.DType(), out.Device())
	if err != nil {
		return nil, fmt.Errorf("backward: failed to create output gradient: %w", err)
	}
	outputGrad.Fill(1)

	return tape.Backward(outputGrad)
}
