package imageio

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
)

type ifdEntry struct {
	tag   uint16
	value uint32
}

// floatTIFF builds a single-strip grayscale TIFF holding the given samples
// stored with the given bit depth, sample format and compression
func floatTIFF(t *testing.T, order binary.ByteOrder, width, height int, bits, sampleFormat, compression uint32, samples []float64) []byte {
	t.Helper()

	var pixels bytes.Buffer
	for _, v := range samples {
		if bits == 32 {
			require.NoError(t, binary.Write(&pixels, order, math.Float32bits(float32(v))))
		} else {
			require.NoError(t, binary.Write(&pixels, order, math.Float64bits(v)))
		}
	}
	strip := pixels.Bytes()
	if compression == compressionDeflate {
		var zbuf bytes.Buffer
		zw := zlib.NewWriter(&zbuf)
		_, err := zw.Write(strip)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
		strip = zbuf.Bytes()
	}

	entries := []ifdEntry{
		{tagImageWidth, uint32(width)},
		{tagImageLength, uint32(height)},
		{tagBitsPerSample, bits},
		{tagCompression, compression},
		{262, 1}, // PhotometricInterpretation: black is zero
		{tagStripOffsets, 0},
		{tagSamplesPerPixel, 1},
		{278, uint32(height)}, // RowsPerStrip
		{tagStripByteCounts, uint32(len(strip))},
		{tagSampleFormat, sampleFormat},
	}
	stripOffset := uint32(8 + 2 + 12*len(entries) + 4)

	var out bytes.Buffer
	if order == binary.LittleEndian {
		out.WriteString("II*\x00")
	} else {
		out.WriteString("MM\x00*")
	}
	require.NoError(t, binary.Write(&out, order, uint32(8)))
	require.NoError(t, binary.Write(&out, order, uint16(len(entries))))
	for _, e := range entries {
		if e.tag == tagStripOffsets {
			e.value = stripOffset
		}
		dt := uint16(dtShort)
		if e.tag == tagStripOffsets || e.tag == tagStripByteCounts {
			dt = dtLong
		}
		require.NoError(t, binary.Write(&out, order, e.tag))
		require.NoError(t, binary.Write(&out, order, dt))
		require.NoError(t, binary.Write(&out, order, uint32(1)))
		if dt == dtShort {
			require.NoError(t, binary.Write(&out, order, uint16(e.value)))
			require.NoError(t, binary.Write(&out, order, uint16(0)))
		} else {
			require.NoError(t, binary.Write(&out, order, e.value))
		}
	}
	require.NoError(t, binary.Write(&out, order, uint32(0)))
	out.Write(strip)
	return out.Bytes()
}

func TestReadChannelFloat32TIFF(t *testing.T) {
	dir := t.TempDir()
	data := floatTIFF(t, binary.LittleEndian, 2, 2, 32, sampleFormatIEEEFloat, compressionNone,
		[]float64{0.25, 1.5, 0, 3.0})
	path := filepath.Join(dir, "nucleus.tif")
	require.NoError(t, os.WriteFile(path, data, 0644))

	ch, err := ReadChannel(path)
	require.NoError(t, err)

	assert.Equal(t, 2, ch.Width())
	assert.Equal(t, 2, ch.Height())
	assert.Equal(t, "nucleus.tif", ch.Name)
	// samples are kept as stored, not rescaled into [0,1]
	assert.Equal(t, []float64{0.25, 1.5, 0, 3.0}, ch.Values())
	assert.Equal(t, 1.5, ch.At(1, 0))
	assert.Equal(t, 3.0, ch.At(1, 1))
}

func TestDecodeChannelFloat64BigEndianDeflate(t *testing.T) {
	samples := []float64{0.1, 1234.5678, 42, 1e-9, 7, 0}
	data := floatTIFF(t, binary.BigEndian, 3, 2, 64, sampleFormatIEEEFloat, compressionDeflate, samples)

	ch, err := DecodeChannel(bytes.NewReader(data), "eosin")
	require.NoError(t, err)

	assert.Equal(t, 3, ch.Width())
	assert.Equal(t, 2, ch.Height())
	assert.Equal(t, samples, ch.Values())
}

func TestDecodeChannelUnsupportedTIFFKeepsCause(t *testing.T) {
	// 32-bit unsigned integers are neither decoded by x/image/tiff nor floating point
	data := floatTIFF(t, binary.LittleEndian, 2, 2, 32, 1, compressionNone, []float64{1, 2, 3, 4})

	_, err := DecodeChannel(bytes.NewReader(data), "n")
	require.Error(t, err)

	var unsupported tiff.UnsupportedError
	assert.True(t, errors.As(err, &unsupported))
}

func TestDecodeChannelFloatTIFFErrors(t *testing.T) {
	t.Run("truncated strip", func(t *testing.T) {
		data := floatTIFF(t, binary.LittleEndian, 2, 2, 32, sampleFormatIEEEFloat, compressionNone,
			[]float64{1, 2, 3, 4})
		_, err := DecodeChannel(bytes.NewReader(data[:len(data)-4]), "n")
		assert.Error(t, err)
	})

	t.Run("half precision", func(t *testing.T) {
		data := floatTIFF(t, binary.LittleEndian, 2, 2, 32, sampleFormatIEEEFloat, compressionNone,
			[]float64{1, 2, 3, 4})
		// BitsPerSample is the third IFD entry; its value sits at offset 8+2+2*12+8
		binary.LittleEndian.PutUint16(data[8+2+2*12+8:], 16)
		_, err := DecodeChannel(bytes.NewReader(data), "n")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bits per sample 16")
	})
}
