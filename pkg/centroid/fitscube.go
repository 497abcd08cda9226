package centroid

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/astrogo/fitsio"
)

// ReadFitsCube reads the primary image HDU of a FITS file as an image cube.
func ReadFitsCube(path string) (ImageCube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FITS file: %w", err)
	}
	defer f.Close()
	cube, err := ReadFitsCubeFrom(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cube, nil
}

// ReadFitsCubeFrom decodes the primary image HDU of a FITS stream. A 2D image
// becomes a one-frame cube; a 3D image yields NAXIS3 frames of
// NAXIS2 x NAXIS1. BSCALE and BZERO are applied.
func ReadFitsCubeFrom(r io.Reader) (ImageCube, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("parsing FITS: %w", err)
	}
	defer f.Close()

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, fmt.Errorf("primary HDU is not an image")
	}
	hdr := img.Header()
	axes := hdr.Axes()
	var cols, rows, frames int
	switch len(axes) {
	case 2:
		cols, rows, frames = axes[0], axes[1], 1
	case 3:
		cols, rows, frames = axes[0], axes[1], axes[2]
	default:
		return nil, fmt.Errorf("invalid FITS: NAXIS=%d, want 2 or 3", len(axes))
	}
	if cols <= 0 || rows <= 0 || frames <= 0 {
		return nil, fmt.Errorf("invalid FITS: axes %v", axes)
	}

	bzero := cardFloat(hdr, "BZERO", 0)
	bscale := cardFloat(hdr, "BSCALE", 1)
	values, err := decodePixels(img.Raw(), hdr.Bitpix(), cols*rows*frames, bscale, bzero)
	if err != nil {
		return nil, err
	}

	cube := make(ImageCube, frames)
	n := rows * cols
	for i := range cube {
		cube[i] = Frame{Rows: rows, Cols: cols, Pix: values[i*n : (i+1)*n]}
	}
	return cube, nil
}

// ReadFitsFrames reads several FITS files and concatenates their frames in
// argument order. All frames must share one shape.
func ReadFitsFrames(paths []string) (ImageCube, error) {
	var cube ImageCube
	for _, p := range paths {
		c, err := ReadFitsCube(p)
		if err != nil {
			return nil, err
		}
		cube = append(cube, c...)
	}
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	return cube, nil
}

// WriteFitsCube writes cube as a BITPIX -64 primary image: NAXIS=2 for a
// single frame, NAXIS=3 otherwise.
func WriteFitsCube(w io.Writer, cube ImageCube) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	n, rows, cols := cube.Shape()
	axes := []int{cols, rows}
	if n > 1 {
		axes = append(axes, n)
	}

	data := make([]float64, 0, n*rows*cols)
	for _, f := range cube {
		data = append(data, f.Pix...)
	}

	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("creating FITS stream: %w", err)
	}
	img := fitsio.NewImage(-64, axes)
	defer img.Close()
	if err := img.Write(&data); err != nil {
		return fmt.Errorf("encoding FITS image: %w", err)
	}
	if err := f.Write(img); err != nil {
		return fmt.Errorf("writing FITS image: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing FITS stream: %w", err)
	}
	return nil
}

func cardFloat(hdr *fitsio.Header, key string, def float64) float64 {
	card := hdr.Get(key)
	if card == nil {
		return def
	}
	switch v := card.Value.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return def
	}
}

// decodePixels converts big-endian FITS data to physical float64 values.
func decodePixels(raw []byte, bitpix, count int, bscale, bzero float64) ([]float64, error) {
	size := abs(bitpix) / 8
	if size == 0 || len(raw) < count*size {
		return nil, fmt.Errorf("reading pixel data: have %d bytes, need %d for BITPIX %d", len(raw), count*max(size, 1), bitpix)
	}
	out := make([]float64, count)
	for i := range out {
		b := raw[i*size:]
		var v float64
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(binary.BigEndian.Uint16(b)))
		case 32:
			v = float64(int32(binary.BigEndian.Uint32(b)))
		case 64:
			v = float64(int64(binary.BigEndian.Uint64(b)))
		case -32:
			v = float64(math.Float32frombits(binary.BigEndian.Uint32(b)))
		case -64:
			v = math.Float64frombits(binary.BigEndian.Uint64(b))
		default:
			return nil, fmt.Errorf("unsupported BITPIX: %d", bitpix)
		}
		out[i] = v*bscale + bzero
	}
	return out, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
