// Package tensor provides the dense float32 buffers passed between the
// training loop and kernel modules.
package tensor

// DataType represents runtime type information for tensors.
type DataType int

// Supported data types for tensors.
// Kernel modules only exchange float32 buffers.
const (
	Float32 DataType = iota
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	default:
		return "unknown"
	}
}

// Device represents where a tensor's data was produced.
type Device int

// Supported devices.
const (
	CPU Device = iota
	WebGPU
)

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}
