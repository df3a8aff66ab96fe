// Package imageio decodes fluorescence channels from disk and encodes the
// composite image back to it.
package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"virtualhe/internal/models"
)

// ReadChannel loads a single fluorescence channel from path.
// The format is detected from the file contents.
// Failures are returned as *ReadError.
func ReadChannel(path string) (*models.Channel, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	file, err := os.Open(expanded)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer file.Close()

	ch, err := DecodeChannel(file, filepath.Base(path))
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return ch, nil
}

// DecodeChannel decodes an image from r and converts it to a channel.
// Floating-point grayscale TIFFs keep their sample values unscaled.
func DecodeChannel(r io.Reader, name string) (*models.Channel, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		var unsupported tiff.UnsupportedError
		if errors.As(err, &unsupported) {
			return decodeFloatTIFF(data, name, err)
		}
		return nil, err
	}
	ch, err := ToChannel(img, name)
	if err != nil {
		return nil, fmt.Errorf("%s image: %w", format, err)
	}
	return ch, nil
}

// ToChannel converts an image to real-valued samples.
//
// 8-bit samples are divided by 255 and 16-bit samples by 65535, so the
// result lies in [0, 1]. Color images are reduced to their luminance.
func ToChannel(img image.Image, name string) (*models.Channel, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("empty image %dx%d", width, height)
	}
	data := make([]float64, width*height)

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y) / 255.0
			}
		}
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y) / 65535.0
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				data[y*width+x] = float64(g.Y) / 65535.0
			}
		}
	}

	return models.NewChannel(name, width, height, data)
}
