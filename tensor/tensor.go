// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/diffrast/internal/tensor"

// RawTensor is a float32 buffer with a shape and strides.
//
// Example:
//
//	raw, _ := tensor.NewRaw(tensor.Shape{2, 3}, tensor.Float32, tensor.CPU)
//	data := raw.AsFloat32()
//	clone := raw.Clone() // Deep copy
type RawTensor = tensor.RawTensor

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// DataType is the element type of a tensor.
type DataType = tensor.DataType

// Device records where a tensor's data was produced.
type Device = tensor.Device

// Supported data types.
const (
	Float32 = tensor.Float32
)

// Supported devices.
const (
	CPU    = tensor.CPU
	WebGPU = tensor.WebGPU
)

// NewRaw creates a zero-filled tensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// Zeros creates a zero-filled float32 CPU tensor.
func Zeros(shape Shape) (*RawTensor, error) {
	return tensor.Zeros(shape)
}

// ZerosLike creates a zero-filled tensor shaped like t.
func ZerosLike(t *RawTensor) *RawTensor {
	return tensor.ZerosLike(t)
}

// FromSlice copies data into a new tensor of the given shape.
func FromSlice(data []float32, shape Shape) (*RawTensor, error) {
	return tensor.FromSlice(data, shape)
}
