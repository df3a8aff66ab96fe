package imageio

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format is an image encoding selected from a file extension
type Format int

// The supported encodings
const (
	None Format = iota
	TIFF
	PNG
	JPEG
	GIF
	BMP
	WebP
)

var formatNames = map[Format]string{
	None: "none",
	TIFF: "tiff",
	PNG:  "png",
	JPEG: "jpeg",
	GIF:  "gif",
	BMP:  "bmp",
	WebP: "webp",
}

func (f Format) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// CanEncode reports whether images can be written in this format
func (f Format) CanEncode() bool {
	switch f {
	case TIFF, PNG, JPEG, GIF, BMP:
		return true
	}
	return false
}

// ExtToFormat returns the format for a filename extension, with or without
// the leading dot
func ExtToFormat(ext string) (Format, error) {
	if len(ext) == 0 {
		return None, errors.New("empty file extension")
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	switch ext {
	case "tif", "tiff":
		return TIFF, nil
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "gif":
		return GIF, nil
	case "bmp":
		return BMP, nil
	case "webp":
		return WebP, nil
	}
	return None, fmt.Errorf("extension %q not recognized", ext)
}

// PathFormat returns the format implied by the extension of path
func PathFormat(path string) (Format, error) {
	return ExtToFormat(filepath.Ext(path))
}
