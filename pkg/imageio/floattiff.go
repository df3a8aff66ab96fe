package imageio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"virtualhe/internal/models"
)

// TIFF tags read by the floating-point fallback
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagStripByteCounts = 279
	tagPredictor       = 317
	tagTileWidth       = 322
	tagSampleFormat    = 339
)

const (
	dtShort = 3
	dtLong  = 4

	compressionNone       = 1
	compressionDeflate    = 8
	compressionDeflateOld = 32946
	sampleFormatIEEEFloat = 3
)

// decodeFloatTIFF reads single-channel float32/float64 TIFFs, which
// golang.org/x/image/tiff rejects. Samples are kept as stored, without
// rescaling. Files that are not floating point return cause unchanged.
func decodeFloatTIFF(data []byte, name string, cause error) (*models.Channel, error) {
	if len(data) < 8 {
		return nil, cause
	}
	var order binary.ByteOrder
	switch string(data[:4]) {
	case "II*\x00":
		order = binary.LittleEndian
	case "MM\x00*":
		order = binary.BigEndian
	default:
		return nil, cause
	}

	tags, err := readIFD(data, order, int64(order.Uint32(data[4:8])))
	if err != nil {
		return nil, err
	}
	if tagValue(tags, tagSampleFormat, 1) != sampleFormatIEEEFloat {
		return nil, cause
	}

	width := int(tagValue(tags, tagImageWidth, 0))
	height := int(tagValue(tags, tagImageLength, 0))
	bits := tagValue(tags, tagBitsPerSample, 1)
	switch {
	case width <= 0 || height <= 0:
		return nil, fmt.Errorf("float tiff: invalid dimensions %dx%d", width, height)
	case tagValue(tags, tagSamplesPerPixel, 1) != 1:
		return nil, errors.New("float tiff: only single-channel images are supported")
	case bits != 32 && bits != 64:
		return nil, fmt.Errorf("float tiff: unsupported bits per sample %d", bits)
	case tagValue(tags, tagPredictor, 1) != 1:
		return nil, errors.New("float tiff: predictors are not supported")
	case tags[tagTileWidth] != nil:
		return nil, errors.New("float tiff: tiled images are not supported")
	}

	pixels, err := readStrips(data, tags, tagValue(tags, tagCompression, compressionNone))
	if err != nil {
		return nil, err
	}

	size := int(bits / 8)
	n := width * height
	if len(pixels) < n*size {
		return nil, fmt.Errorf("float tiff: %d bytes of pixel data for %dx%d image", len(pixels), width, height)
	}

	samples := make([]float64, n)
	for i := range samples {
		if size == 4 {
			samples[i] = float64(math.Float32frombits(order.Uint32(pixels[i*4:])))
		} else {
			samples[i] = math.Float64frombits(order.Uint64(pixels[i*8:]))
		}
	}
	return models.NewChannel(name, width, height, samples)
}

// readIFD returns the SHORT and LONG entries of the directory at offset
func readIFD(data []byte, order binary.ByteOrder, offset int64) (map[uint16][]uint32, error) {
	if offset < 8 || offset+2 > int64(len(data)) {
		return nil, errors.New("float tiff: invalid IFD offset")
	}
	count := int64(order.Uint16(data[offset:]))
	if offset+2+count*12 > int64(len(data)) {
		return nil, errors.New("float tiff: truncated IFD")
	}

	tags := make(map[uint16][]uint32, count)
	for i := int64(0); i < count; i++ {
		entry := data[offset+2+i*12 : offset+14+i*12]
		tag := order.Uint16(entry[0:])
		dt := order.Uint16(entry[2:])
		n := int64(order.Uint32(entry[4:]))

		var size int64
		switch dt {
		case dtShort:
			size = 2
		case dtLong:
			size = 4
		default:
			continue
		}

		raw := entry[8:12]
		if n*size > 4 {
			start := int64(order.Uint32(raw))
			if start+n*size > int64(len(data)) {
				return nil, fmt.Errorf("float tiff: tag %d points past end of file", tag)
			}
			raw = data[start : start+n*size]
		}

		values := make([]uint32, n)
		for j := range values {
			if size == 2 {
				values[j] = uint32(order.Uint16(raw[j*2:]))
			} else {
				values[j] = order.Uint32(raw[j*4:])
			}
		}
		tags[tag] = values
	}
	return tags, nil
}

// readStrips concatenates and decompresses all strips in file order
func readStrips(data []byte, tags map[uint16][]uint32, compression uint32) ([]byte, error) {
	offsets := tags[tagStripOffsets]
	counts := tags[tagStripByteCounts]
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, errors.New("float tiff: missing strip layout")
	}

	var out bytes.Buffer
	for i, off := range offsets {
		start, end := int64(off), int64(off)+int64(counts[i])
		if end > int64(len(data)) {
			return nil, errors.New("float tiff: strip past end of file")
		}
		strip := data[start:end]

		switch compression {
		case compressionNone:
			out.Write(strip)
		case compressionDeflate, compressionDeflateOld:
			zr, err := zlib.NewReader(bytes.NewReader(strip))
			if err != nil {
				return nil, fmt.Errorf("float tiff: %w", err)
			}
			_, err = io.Copy(&out, zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("float tiff: %w", err)
			}
		default:
			return nil, fmt.Errorf("float tiff: unsupported compression %d", compression)
		}
	}
	return out.Bytes(), nil
}

func tagValue(tags map[uint16][]uint32, tag uint16, def uint32) uint32 {
	if v := tags[tag]; len(v) > 0 {
		return v[0]
	}
	return def
}
