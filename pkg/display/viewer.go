package display

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
)

// DefaultTitle names the preview window
const DefaultTitle = "Virtual H&E RGB Image"

// Opener hands a file to an interactive viewer
type Opener func(path string) error

// Viewer shows the composite in the platform image viewer. It renders a
// bounded-size preview so that whole-slide outputs stay responsive; the
// written output file is never affected.
type Viewer struct {
	// maxSize bounds the longest side of the preview
	maxSize int

	// dir receives preview files, the system temp dir when empty
	dir string

	// title names the preview file and is stored in its PNG Title text
	title string

	open Opener
}

// NewViewer creates a viewer using the system opener
func NewViewer(maxSize int) *Viewer {
	return &Viewer{
		maxSize: maxSize,
		title:   DefaultTitle,
		open:    SystemOpener,
	}
}

// WithTitle replaces the preview title
func (v *Viewer) WithTitle(title string) *Viewer {
	v.title = title
	return v
}

// WithOpener replaces the function used to launch the viewer
func (v *Viewer) WithOpener(open Opener) *Viewer {
	v.open = open
	return v
}

// WithDir sets the directory for preview files
func (v *Viewer) WithDir(dir string) *Viewer {
	v.dir = dir
	return v
}

// Preview downscales img so its longest side is at most maxSize.
// Smaller images are copied unchanged.
func (v *Viewer) Preview(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if v.maxSize <= 0 || (b.Dx() <= v.maxSize && b.Dy() <= v.maxSize) {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, v.maxSize, v.maxSize, imaging.Lanczos)
}

// SavePreview writes the preview of img as a PNG file carrying the
// viewer title
func (v *Viewer) SavePreview(img image.Image, filename string) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, v.Preview(img)); err != nil {
		return fmt.Errorf("encode preview: %w", err)
	}
	return os.WriteFile(filename, withTitle(buf.Bytes(), v.title), 0644)
}

// Show writes a preview named after the title to a temporary file and
// opens it. It returns the preview path.
func (v *Viewer) Show(img image.Image) (string, error) {
	file, err := os.CreateTemp(v.dir, fileStem(v.title)+"-*.png")
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	path := file.Name()
	file.Close()

	if err := v.SavePreview(img, path); err != nil {
		os.Remove(path)
		return "", err
	}

	if err := v.open(path); err != nil {
		return path, fmt.Errorf("open viewer: %w", err)
	}
	return path, nil
}

// fileStem turns a title into a file name prefix
func fileStem(title string) string {
	words := strings.FieldsFunc(title, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "preview"
	}
	return strings.Join(words, "-")
}

// withTitle inserts a tEXt "Title" chunk right after IHDR.
// The encoder always emits the 8-byte signature and a 25-byte IHDR first.
func withTitle(data []byte, title string) []byte {
	const ihdrEnd = 8 + 25
	if title == "" || len(data) < ihdrEnd {
		return data
	}

	text := append([]byte("Title\x00"), title...)
	chunk := binary.BigEndian.AppendUint32(nil, uint32(len(text)))
	chunk = append(chunk, "tEXt"...)
	chunk = append(chunk, text...)
	chunk = binary.BigEndian.AppendUint32(chunk, crc32.ChecksumIEEE(chunk[4:]))

	out := make([]byte, 0, len(data)+len(chunk))
	out = append(out, data[:ihdrEnd]...)
	out = append(out, chunk...)
	return append(out, data[ihdrEnd:]...)
}

// SystemOpener launches the desktop's default handler for path without
// waiting for it to exit
func SystemOpener(path string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
