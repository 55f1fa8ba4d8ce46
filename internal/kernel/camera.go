package kernel

// Camera maps pixel coordinates to world coordinates.
// It is built once and shared read-only by every dispatch.
type Camera struct {
	Origin   [2]float32 // World position of the frame center
	Scale    [2]float32 // Half extent of the frame in world units
	FrameDim [2]int     // Frame width and height in pixels
}

// NewCamera creates a camera for a width x height frame.
func NewCamera(origin, scale [2]float32, width, height int) Camera {
	return Camera{
		Origin:   origin,
		Scale:    scale,
		FrameDim: [2]int{width, height},
	}
}

// Width returns the frame width in pixels.
func (c Camera) Width() int { return c.FrameDim[0] }

// Height returns the frame height in pixels.
func (c Camera) Height() int { return c.FrameDim[1] }

// ScreenToWorld maps a position in pixel units to world coordinates.
// The frame spans [-1, 1] in normalized device coordinates along both axes.
func (c Camera) ScreenToWorld(u, v float32) (x, y float32) {
	ndcX := u/float32(c.FrameDim[0])*2 - 1
	ndcY := v/float32(c.FrameDim[1])*2 - 1
	return ndcX*c.Scale[0] + c.Origin[0], ndcY*c.Scale[1] + c.Origin[1]
}

// PixelCenter returns the world position of the center of pixel (px, py).
func (c Camera) PixelCenter(px, py int) (x, y float32) {
	return c.ScreenToWorld(float32(px)+0.5, float32(py)+0.5)
}
