// Package autodiff implements reverse-mode automatic differentiation over a
// recorded tape of operations.
//
// Operations are recorded in execution order while the tape is recording and
// replayed in reverse by Backward. Kernel-backed nodes (see package render)
// record themselves on the same tape as the loss operations, so a single
// Backward call drives the whole graph:
//
//	tape := autodiff.NewGradientTape()
//	tape.StartRecording()
//	img, _ := rasterizer.Record(tape, vertices, color)
//	loss, op, _ := ops.MSE(img, target)
//	tape.Record(op)
//	grads, err := autodiff.Backward(tape, loss)
package autodiff

import (
	"fmt"

	"github.com/born-ml/diffrast/internal/autodiff/ops"
	"github.com/born-ml/diffrast/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations ...
//	gradients, err := tape.Backward(outputGrad)
type GradientTape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool            // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 8),
		recording:  false,
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	t.operations = t.operations[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}

// Backward computes gradients for all inputs by walking the tape in reverse.
//
// Algorithm:
//  1. Start with the output gradient (typically ones for scalar loss)
//  2. Walk operations in reverse order
//  3. For each operation, compute input gradients using chain rule
//  4. Accumulate gradients when the same tensor is used multiple times
//
// Returns a map from RawTensor to its accumulated gradient. The first error
// returned by an operation stops the walk.
func (t *GradientTape) Backward(outputGrad *tensor.RawTensor) (map[*tensor.RawTensor]*tensor.RawTensor, error) {
	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	if len(t.operations) == 0 {
		return grads, nil
	}

	// Stop recording during backward pass to prevent recording gradient operations
	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	lastOp := t.operations[len(t.operations)-1]
	if !outputGrad.Shape().Equal(lastOp.Output().Shape()) {
		return nil, fmt.Errorf("backward: output gradient shape %v does not match output shape %v",
			outputGrad.Shape(), lastOp.Output().Shape())
	}
	grads[lastOp.Output()] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		opOutputGrad, hasGrad := grads[op.Output()]
		if !hasGrad {
			continue
		}
		inputGrads, err := op.Backward(opOutputGrad)
		if err != nil {
			return nil, fmt.Errorf("backward: operation %d (%T): %w", i, op, err)
		}
		if err := accumulateGrads(op, inputGrads, grads); err != nil {
			return nil, fmt.Errorf("backward: operation %d (%T): %w", i, op, err)
		}
	}

	return grads, nil
}

// accumulateGrads accumulates gradients for each input tensor.
func accumulateGrads(
	op ops.Operation,
	inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
) error {
	inputs := op.Inputs()
	for j, input := range inputs {
		if j >= len(inputGrads) {
			break
		}
		inputGrad := inputGrads[j]
		if inputGrad == nil {
			continue
		}
		existing, ok := grads[input]
		if !ok {
			grads[input] = inputGrad
			continue
		}
		sum, err := ops.Add(existing, inputGrad)
		if err != nil {
			return err
		}
		grads[input] = sum
	}
	return nil
}
