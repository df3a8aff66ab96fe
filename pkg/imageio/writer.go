package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"virtualhe/internal/models"
)

// DefaultJPEGQuality is used when Options leaves the quality unset
const DefaultJPEGQuality = 95

// Options tunes encoding
type Options struct {
	// JPEGQuality ranges from 1 to 100; 0 selects DefaultJPEGQuality
	JPEGQuality int
}

// CheckWritable verifies that path has an encodable extension and that its
// parent directory exists, before any work is done
func CheckWritable(path string) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	format, err := PathFormat(expanded)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if !format.CanEncode() {
		return &WriteError{Path: path, Err: fmt.Errorf("%s encoding not supported", format)}
	}

	info, err := os.Stat(filepath.Dir(expanded))
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return &WriteError{Path: path, Err: fmt.Errorf("%s is not a directory", filepath.Dir(expanded))}
	}
	return nil
}

// WriteImage encodes img in the format implied by the extension of path.
// The file only appears once it is complete; on failure nothing is left
// behind. Failures are returned as *WriteError.
func WriteImage(path string, img image.Image, opts Options) error {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	format, err := PathFormat(expanded)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, img, format, opts); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	if err := writeAtomic(expanded, buf.Bytes()); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// Encode writes img to w in the given format
func Encode(w io.Writer, img image.Image, format Format, opts Options) error {
	switch format {
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case PNG:
		return png.Encode(w, img)
	case JPEG:
		quality := opts.JPEGQuality
		if quality == 0 {
			quality = DefaultJPEGQuality
		}
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case GIF:
		return gif.Encode(w, img, nil)
	case BMP:
		return bmp.Encode(w, img)
	}
	return fmt.Errorf("%s encoding not supported", format)
}

// writeAtomic writes data next to path and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".virtualhe-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		return errors.Join(err, os.Remove(tmpName))
	}
	return nil
}

// ChannelToGray16 converts a [0, 1] channel to a 16-bit grayscale image
func ChannelToGray16(ch *models.Channel) *image.Gray16 {
	width, height := ch.Width(), ch.Height()
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := math.Max(0, math.Min(1, ch.At(x, y)))
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v * 65535))})
		}
	}
	return img
}
