package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Channel represents a single fluorescence channel as a 2-D grid of real samples
type Channel struct {
	// Data holds the samples with one row per image line (rows = height, cols = width)
	Data *mat.Dense

	// Name is a label for logs, usually the source filename
	Name string
}

// NewChannel wraps row-major samples of a width x height image.
// A nil data slice allocates a zero-filled grid.
func NewChannel(name string, width, height int, data []float64) (*Channel, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("channel %q: invalid dimensions %dx%d", name, width, height)
	}
	if data != nil && len(data) != width*height {
		return nil, fmt.Errorf("channel %q: %d samples for %dx%d image", name, len(data), width, height)
	}
	return &Channel{
		Data: mat.NewDense(height, width, data),
		Name: name,
	}, nil
}

// Width returns the number of columns
func (c *Channel) Width() int {
	_, cols := c.Data.Dims()
	return cols
}

// Height returns the number of rows
func (c *Channel) Height() int {
	rows, _ := c.Data.Dims()
	return rows
}

// Len returns the number of pixels
func (c *Channel) Len() int {
	rows, cols := c.Data.Dims()
	return rows * cols
}

// At returns the sample at image coordinates (x, y)
func (c *Channel) At(x, y int) float64 {
	return c.Data.At(y, x)
}

// SameShape reports whether both channels have identical dimensions
func (c *Channel) SameShape(o *Channel) bool {
	r1, c1 := c.Data.Dims()
	r2, c2 := o.Data.Dims()
	return r1 == r2 && c1 == c2
}

// Values returns a row-major copy of the samples
func (c *Channel) Values() []float64 {
	rows, cols := c.Data.Dims()
	out := make([]float64, 0, rows*cols)
	for y := 0; y < rows; y++ {
		out = append(out, c.Data.RawRowView(y)...)
	}
	return out
}

// Stain identifies one of the two simulated dyes
type Stain int

const (
	Hematoxylin Stain = iota
	Eosin
)

func (s Stain) String() string {
	switch s {
	case Hematoxylin:
		return "hematoxylin"
	case Eosin:
		return "eosin"
	}
	return fmt.Sprintf("Stain(%d)", int(s))
}

// Color identifies an output color channel
type Color int

const (
	Red Color = iota
	Green
	Blue
)

// Colors lists the output channels in RGB order
var Colors = [3]Color{Red, Green, Blue}

func (c Color) String() string {
	switch c {
	case Red:
		return "red"
	case Green:
		return "green"
	case Blue:
		return "blue"
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

// Absorbance holds the attenuation coefficient of one stain for each output color
type Absorbance struct {
	Red   float64 `yaml:"red"`
	Green float64 `yaml:"green"`
	Blue  float64 `yaml:"blue"`
}

// Coef returns the coefficient for color c
func (a Absorbance) Coef(c Color) float64 {
	switch c {
	case Red:
		return a.Red
	case Green:
		return a.Green
	default:
		return a.Blue
	}
}

// StainTable maps (stain, color) to an attenuation coefficient
type StainTable struct {
	Hematoxylin Absorbance `yaml:"hematoxylin"`
	Eosin       Absorbance `yaml:"eosin"`
}

// Coef returns the coefficient of stain s for color c
func (t StainTable) Coef(s Stain, c Color) float64 {
	if s == Eosin {
		return t.Eosin.Coef(c)
	}
	return t.Hematoxylin.Coef(c)
}

// DefaultStainTable returns the published hematoxylin/eosin coefficients
// (doi:10.1371/journal.pone.0159337, Table 1)
func DefaultStainTable() StainTable {
	return StainTable{
		Hematoxylin: Absorbance{Red: 0.860, Green: 1.000, Blue: 0.300},
		Eosin:       Absorbance{Red: 0.050, Green: 1.000, Blue: 0.544},
	}
}
