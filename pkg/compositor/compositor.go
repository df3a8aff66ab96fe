// Package compositor combines normalized nucleus and eosin channels into an
// H&E-like RGB image with a Beer-Lambert absorbance model.
//
// Each output color is the light transmitted through both stains:
//
//	out_c = exp(-(coef[hematoxylin][c]*H + coef[eosin][c]*E) * k)
//
// so an unstained pixel (H = E = 0) is white and a strongly stained pixel
// darkens in the colors its stain absorbs.
package compositor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"

	"virtualhe/internal/models"
)

// DefaultK is the global stain darkness applied to both channels
const DefaultK = 2.5

// Params holds the read-only absorbance model parameters
type Params struct {
	// Table holds the attenuation coefficient per stain and color
	Table models.StainTable

	// K scales both channels before exponentiation
	K float64
}

// DefaultParams returns the published stain table with k = 2.5
func DefaultParams() Params {
	return Params{
		Table: models.DefaultStainTable(),
		K:     DefaultK,
	}
}

// Validate rejects negative or non-finite coefficients
func (p Params) Validate() error {
	if !finiteNonNegative(p.K) {
		return fmt.Errorf("invalid scaling constant k=%v", p.K)
	}
	for _, s := range []models.Stain{models.Hematoxylin, models.Eosin} {
		for _, c := range models.Colors {
			if v := p.Table.Coef(s, c); !finiteNonNegative(v) {
				return fmt.Errorf("invalid %s coefficient for %s: %v", s, c, v)
			}
		}
	}
	return nil
}

// ShapeMismatchError reports nucleus and eosin channels of different sizes
type ShapeMismatchError struct {
	NucleusWidth, NucleusHeight int
	EosinWidth, EosinHeight     int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: nucleus is %dx%d, eosin is %dx%d",
		e.NucleusWidth, e.NucleusHeight, e.EosinWidth, e.EosinHeight)
}

// Composite is the floating-point RGB result before quantization
type Composite struct {
	// Planes holds the red, green and blue planes, indexed by models.Color
	Planes [3]*mat.Dense
}

// Width returns the number of columns
func (c *Composite) Width() int {
	_, cols := c.Planes[models.Red].Dims()
	return cols
}

// Height returns the number of rows
func (c *Composite) Height() int {
	rows, _ := c.Planes[models.Red].Dims()
	return rows
}

// At returns the red, green and blue values at image coordinates (x, y)
func (c *Composite) At(x, y int) [3]float64 {
	return [3]float64{
		c.Planes[models.Red].At(y, x),
		c.Planes[models.Green].At(y, x),
		c.Planes[models.Blue].At(y, x),
	}
}

// Compositor applies the absorbance model with fixed parameters
type Compositor struct {
	params Params
}

// New creates a compositor after validating the parameters
func New(params Params) (*Compositor, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Compositor{params: params}, nil
}

// Params returns a copy of the model parameters
func (c *Compositor) Params() Params {
	return c.params
}

// Composite computes the three color planes from normalized channels h
// (nucleus) and e (eosin). Values are clipped to [0, 1].
func (c *Compositor) Composite(h, e *models.Channel) (*Composite, error) {
	if h == nil || h.Data == nil || e == nil || e.Data == nil {
		return nil, fmt.Errorf("composite: missing input channel")
	}
	if !h.SameShape(e) {
		return nil, &ShapeMismatchError{
			NucleusWidth:  h.Width(),
			NucleusHeight: h.Height(),
			EosinWidth:    e.Width(),
			EosinHeight:   e.Height(),
		}
	}

	rows, cols := h.Data.Dims()
	k := c.params.K
	out := &Composite{}
	for _, col := range models.Colors {
		betaH := c.params.Table.Coef(models.Hematoxylin, col)
		betaE := c.params.Table.Coef(models.Eosin, col)

		plane := mat.NewDense(rows, cols, nil)
		plane.Apply(func(i, j int, hv float64) float64 {
			ev := e.Data.At(i, j)
			return clip(math.Exp(-(betaH*hv + betaE*ev) * k))
		}, h.Data)
		out.Planes[col] = plane
	}
	return out, nil
}

// Render composites h and e and quantizes the result to 8 bits
func (c *Compositor) Render(h, e *models.Channel) (*image.NRGBA, error) {
	comp, err := c.Composite(h, e)
	if err != nil {
		return nil, err
	}
	return Quantize(comp), nil
}

// QuantizeValue maps [0, 1] to [0, 255] rounding half to even, the same
// float-to-uint8 convention as scikit-image. 0.5 maps to 128.
func QuantizeValue(v float64) uint8 {
	return uint8(math.RoundToEven(clip(v) * 255))
}

// Quantize converts the composite to an opaque 8-bit image
func Quantize(comp *Composite) *image.NRGBA {
	width, height := comp.Width(), comp.Height()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := comp.At(x, y)
			img.SetNRGBA(x, y, color.NRGBA{
				R: QuantizeValue(px[models.Red]),
				G: QuantizeValue(px[models.Green]),
				B: QuantizeValue(px[models.Blue]),
				A: 255,
			})
		}
	}
	return img
}

// Quantize16 converts the composite to an opaque 16-bit image, used for
// intermediary output where 8 bits would hide small differences
func Quantize16(comp *Composite) *image.NRGBA64 {
	width, height := comp.Width(), comp.Height()
	img := image.NewNRGBA64(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			px := comp.At(x, y)
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: uint16(math.Round(clip(px[models.Red]) * 65535)),
				G: uint16(math.Round(clip(px[models.Green]) * 65535)),
				B: uint16(math.Round(clip(px[models.Blue]) * 65535)),
				A: 65535,
			})
		}
	}
	return img
}

func clip(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	}
	return v
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
