// Package plot renders training snapshots as a three-panel figure:
// current output, forward difference and target.
//
// Images are (W, H, 3) buffers indexed [x][y]. Panels show them transposed
// with the origin at the lower left, so x grows to the right and y upward.
package plot

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/text"
	"golang.org/x/image/draw"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/born-ml/diffrast/internal/tensor"
)

// Panel titles, left to right.
const (
	TitleOutput      = "output (0,1)"
	TitleForwardDiff = "fwd_diff (-1,1)"
	TitleTarget      = "target (0,1)"
)

const (
	defaultPanelSize = 384
	margin           = 16
	titleHeight      = 32
	fontSize         = 16
)

// Mapping converts a pixel value to display intensity in [0, 1].
type Mapping func(v float32) float64

// Unit displays values in [0, 1] as is.
func Unit(v float32) float64 { return float64(v) }

// Signed displays values in [-1, 1] as 0.5 + 0.5*v.
func Signed(v float32) float64 { return 0.5 + 0.5*float64(v) }

// Figure lays out panels side by side with a title above each.
type Figure struct {
	panelSize int
	source    *text.FontSource
	face      text.Face
}

// NewFigure creates a figure whose panels are panelSize pixels square.
// panelSize <= 0 selects the default.
func NewFigure(panelSize int) (*Figure, error) {
	if panelSize <= 0 {
		panelSize = defaultPanelSize
	}
	source, err := text.NewFontSource(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("plot: load font: %w", err)
	}
	return &Figure{
		panelSize: panelSize,
		source:    source,
		face:      source.Face(fontSize),
	}, nil
}

// Close releases the font.
func (f *Figure) Close() error {
	return f.source.Close()
}

// PanelSize returns the edge length of a panel in pixels.
func (f *Figure) PanelSize() int { return f.panelSize }

// Size returns the width and height of a figure with n panels.
func (f *Figure) Size(n int) (width, height int) {
	return n*f.panelSize + (n+1)*margin, f.panelSize + titleHeight + 2*margin
}

// Panel is one titled image of a figure.
type Panel struct {
	Title   string
	Image   *tensor.RawTensor // (W, H, 3)
	Mapping Mapping
}

// Snapshot returns the output, forward-difference and target panels.
func Snapshot(output, forwardDiff, target *tensor.RawTensor) []Panel {
	return []Panel{
		{Title: TitleOutput, Image: output, Mapping: Unit},
		{Title: TitleForwardDiff, Image: forwardDiff, Mapping: Signed},
		{Title: TitleTarget, Image: target, Mapping: Unit},
	}
}

// Render draws panels into a new drawing context. The caller closes it.
func (f *Figure) Render(panels []Panel) (*gg.Context, error) {
	if len(panels) == 0 {
		return nil, fmt.Errorf("plot: no panels")
	}
	w, h := f.Size(len(panels))
	dc := gg.NewContext(w, h)
	dc.ClearWithColor(gg.RGB(1, 1, 1))
	dc.SetFont(f.face)
	dc.SetRGB(0, 0, 0)

	for i, p := range panels {
		img, err := ToImage(p.Image, p.Mapping)
		if err != nil {
			_ = dc.Close()
			return nil, fmt.Errorf("plot: panel %q: %w", p.Title, err)
		}
		x := margin + i*(f.panelSize+margin)
		y := margin + titleHeight

		scaled := image.NewRGBA(image.Rect(0, 0, f.panelSize, f.panelSize))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
		dc.DrawImage(gg.ImageBufFromImage(scaled), float64(x), float64(y))

		dc.DrawStringAnchored(p.Title, float64(x)+float64(f.panelSize)/2, float64(margin+titleHeight/2), 0.5, 0.5)
	}
	return dc, nil
}

// SavePNG renders panels and writes them to path.
func (f *Figure) SavePNG(path string, panels []Panel) error {
	dc, err := f.Render(panels)
	if err != nil {
		return err
	}
	defer func() { _ = dc.Close() }()
	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("plot: save %s: %w", path, err)
	}
	return nil
}

// ToImage converts a (W, H, 3) buffer to a W x H image, flipping y so that
// buffer row y = 0 is the bottom row. Values are mapped through m (Unit when
// nil) and clamped to [0, 1].
func ToImage(t *tensor.RawTensor, m Mapping) (*image.RGBA, error) {
	if t == nil {
		return nil, fmt.Errorf("missing image")
	}
	shape := t.Shape()
	if len(shape) != 3 || shape[2] != 3 {
		return nil, fmt.Errorf("image must be (W, H, 3), got %v", shape)
	}
	if m == nil {
		m = Unit
	}
	w, h := shape[0], shape[1]
	data := t.Contiguous().AsFloat32()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			base := (x*h + y) * 3
			img.SetRGBA(x, h-1-y, color.RGBA{
				R: toByte(m(data[base])),
				G: toByte(m(data[base+1])),
				B: toByte(m(data[base+2])),
				A: 0xff,
			})
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 1:
		return 0xff
	default:
		return uint8(v*255 + 0.5)
	}
}
