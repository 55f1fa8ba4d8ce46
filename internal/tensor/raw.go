package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level tensor representation shared with kernel modules.
//
// Data lives in a byte buffer so it can be uploaded to GPU modules without
// conversion. Views created by Permute share the buffer and carry their own
// strides; Contiguous materializes a view into row-major order.
type RawTensor struct {
	data   []byte   // Backing buffer, shared by views
	shape  Shape    // Tensor dimensions
	stride []int    // Element strides
	dtype  DataType // Runtime type information
	device Device   // Where the data was produced
	offset int      // Element offset into data
}

// NewRaw creates a new zero-filled RawTensor with the given shape.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}

	return &RawTensor{
		data:   make([]byte, shape.NumElements()*dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// Zeros creates a zero-filled float32 CPU tensor.
func Zeros(shape Shape) (*RawTensor, error) {
	return NewRaw(shape, Float32, CPU)
}

// ZerosLike creates a zero-filled contiguous tensor with the shape, dtype and
// device of t.
func ZerosLike(t *RawTensor) *RawTensor {
	r, err := NewRaw(t.shape, t.dtype, t.device)
	if err != nil {
		// t already holds a validated shape.
		panic(err)
	}
	return r
}

// FromSlice creates a float32 CPU tensor from a Go slice.
// The slice is copied into the tensor's memory.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	r, err := Zeros(shape)
	if err != nil {
		return nil, err
	}
	copy(r.AsFloat32(), data)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// Strides returns the tensor's element strides.
func (r *RawTensor) Strides() []int {
	return r.stride
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// Device returns the tensor's device.
func (r *RawTensor) Device() Device {
	return r.device
}

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// ByteSize returns the size of the tensor's elements in bytes.
func (r *RawTensor) ByteSize() int {
	return r.NumElements() * r.dtype.Size()
}

// IsContiguous reports whether the tensor is laid out in row-major order
// with no offset.
func (r *RawTensor) IsContiguous() bool {
	if r.offset != 0 {
		return false
	}
	want := r.shape.ComputeStrides()
	for i := range want {
		if r.shape[i] != 1 && r.stride[i] != want[i] {
			return false
		}
	}
	return true
}

// Data returns the raw bytes of a contiguous tensor.
// WARNING: Direct access to underlying memory. Use with caution.
// Panics if the tensor is a non-contiguous view.
func (r *RawTensor) Data() []byte {
	r.mustBeContiguous()
	return r.data[:r.ByteSize()]
}

// AsFloat32 interprets the data of a contiguous tensor as []float32.
// Panics if the dtype is not Float32 or the tensor is a non-contiguous view.
func (r *RawTensor) AsFloat32() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("tensor dtype is %s, not float32", r.dtype))
	}
	r.mustBeContiguous()
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), r.NumElements())
}

// At returns the element at the given multi-dimensional index.
// Works on views as well as contiguous tensors.
func (r *RawTensor) At(idx ...int) float32 {
	if len(idx) != len(r.shape) {
		panic(fmt.Sprintf("At: got %d indices for shape %v", len(idx), r.shape))
	}
	pos := r.offset
	for i, v := range idx {
		if v < 0 || v >= r.shape[i] {
			panic(fmt.Sprintf("At: index %v out of range for shape %v", idx, r.shape))
		}
		pos += v * r.stride[i]
	}
	//nolint:gosec // unsafe.Slice for zero-copy performance, bounds checked by len(data)
	all := unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), len(r.data)/4)
	return all[pos]
}

// Permute returns a view of the tensor with its dimensions reordered.
// The view shares memory with r; call Contiguous to get a packed copy.
//
// Example:
//
//	img, _ := tensor.Zeros(tensor.Shape{W, H, 3})
//	rows, _ := img.Permute(1, 0, 2) // shape (H, W, 3)
func (r *RawTensor) Permute(axes ...int) (*RawTensor, error) {
	shape, err := r.shape.Permute(axes)
	if err != nil {
		return nil, err
	}
	stride := make([]int, len(axes))
	for i, ax := range axes {
		stride[i] = r.stride[ax]
	}
	return &RawTensor{
		data:   r.data,
		shape:  shape,
		stride: stride,
		dtype:  r.dtype,
		device: r.device,
		offset: r.offset,
	}, nil
}

// Contiguous returns r itself if it is already contiguous, otherwise a packed
// row-major copy.
func (r *RawTensor) Contiguous() *RawTensor {
	if r.IsContiguous() {
		return r
	}
	out := ZerosLike(r)
	dst := out.AsFloat32()
	idx := make([]int, len(r.shape))
	for i := range dst {
		dst[i] = r.At(idx...)
		// Advance the row-major index.
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < r.shape[d] {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

// Clone returns a contiguous deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	src := r.Contiguous()
	out := ZerosLike(src)
	copy(out.data, src.Data())
	return out
}

// Fill sets every element of a contiguous tensor to v.
func (r *RawTensor) Fill(v float32) {
	data := r.AsFloat32()
	for i := range data {
		data[i] = v
	}
}

// WithDevice returns a shallow copy of the tensor tagged with another device.
// Used by GPU modules for buffers read back to host memory.
func (r *RawTensor) WithDevice(d Device) *RawTensor {
	c := *r
	c.device = d
	return &c
}

func (r *RawTensor) mustBeContiguous() {
	if !r.IsContiguous() {
		panic(fmt.Sprintf("tensor with shape %v and strides %v is not contiguous (call Contiguous first)", r.shape, r.stride))
	}
}
