package render

import (
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/tensor"
)

// Context records the inputs and output of one Forward call for the
// matching Backward. It is single-use and not safe for concurrent use.
type Context struct {
	camera   kernel.Camera
	sigma    float32
	vertices *tensor.RawTensor
	color    *tensor.RawTensor
	output   *tensor.RawTensor
	consumed bool
}

// Output returns the image produced by the forward call.
func (c *Context) Output() *tensor.RawTensor { return c.output }

// Consumed reports whether Backward has used the context.
func (c *Context) Consumed() bool { return c.consumed }
