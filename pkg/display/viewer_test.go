package display

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestImage creates an RGB test image with a horizontal gradient
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x % 256), G: 100, B: 200, A: 255})
		}
	}
	return img
}

func TestPreviewKeepsSmallImages(t *testing.T) {
	viewer := NewViewer(64)
	src := createTestImage(20, 10)

	preview := viewer.Preview(src)
	assert.Equal(t, src.Bounds().Size(), preview.Bounds().Size())
	assert.Equal(t, src.NRGBAAt(5, 5), preview.NRGBAAt(5, 5))
}

func TestPreviewBoundsLargeImages(t *testing.T) {
	viewer := NewViewer(50)
	preview := viewer.Preview(createTestImage(200, 100))

	assert.Equal(t, 50, preview.Bounds().Dx())
	assert.Equal(t, 25, preview.Bounds().Dy())
}

func TestSavePreview(t *testing.T) {
	viewer := NewViewer(16)
	filename := filepath.Join(t.TempDir(), "preview.png")

	require.NoError(t, viewer.SavePreview(createTestImage(32, 32), filename))

	f, err := os.Open(filename)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("tEXtTitle\x00"+DefaultTitle)))
}

func TestShowOpensPreview(t *testing.T) {
	dir := t.TempDir()
	var opened string
	viewer := NewViewer(1024).WithDir(dir).WithOpener(func(path string) error {
		opened = path
		return nil
	})

	path, err := viewer.Show(createTestImage(8, 8))
	require.NoError(t, err)
	assert.Equal(t, path, opened)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "Virtual-H-E-RGB-Image-"), filepath.Base(path))
	assert.Equal(t, ".png", filepath.Ext(path))

	// the title chunk must keep the file decodable
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("tEXtTitle\x00Virtual H&E RGB Image")))
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8, img.Bounds().Dx())
}

func TestShowUsesCustomTitle(t *testing.T) {
	dir := t.TempDir()
	viewer := NewViewer(1024).WithDir(dir).WithTitle("Slide 7 (uint8)").WithOpener(func(string) error {
		return nil
	})

	path, err := viewer.Show(createTestImage(4, 4))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "Slide-7-uint8-"), filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(data, []byte("Title\x00Slide 7 (uint8)")))
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "Virtual-H-E-RGB-Image", fileStem(DefaultTitle))
	assert.Equal(t, "preview", fileStem(" & "))
}

func TestShowReportsOpenerFailure(t *testing.T) {
	boom := errors.New("no display")
	viewer := NewViewer(1024).WithDir(t.TempDir()).WithOpener(func(string) error {
		return boom
	})

	_, err := viewer.Show(createTestImage(4, 4))
	assert.ErrorIs(t, err, boom)
}
