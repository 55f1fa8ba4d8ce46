package ops

import (
	"fmt"

	"github.com/born-ml/diffrast/internal/tensor"
)

// Add returns the element-wise sum a + b of two tensors with equal shapes.
// Used by the tape to accumulate gradients of tensors consumed more than once.
func Add(a, b *tensor.RawTensor) (*tensor.RawTensor, error) {
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("add: shape mismatch %v vs %v", a.Shape(), b.Shape())
	}
	out := a.Contiguous().Clone()
	dst := out.AsFloat32()
	src := b.Contiguous().AsFloat32()
	for i := range dst {
		dst[i] += src[i]
	}
	return out, nil
}

// scalarValue returns the single element of a one-element tensor.
func scalarValue(t *tensor.RawTensor) (float32, error) {
	if t.NumElements() != 1 {
		return 0, fmt.Errorf("expected a scalar gradient, got shape %v", t.Shape())
	}
	return t.Contiguous().AsFloat32()[0], nil
}
