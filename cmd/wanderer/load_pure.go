//go:build purego || js

package main

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	_ "golang.org/x/image/tiff"

	"github.com/exowanderer/Wanderer/pkg/centroid"
)

// loadImageFrame decodes a PNG, JPEG or TIFF file into 16-bit luminance.
func loadImageFrame(path string) (centroid.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return centroid.Frame{}, fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return centroid.Frame{}, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	frame := centroid.NewFrame(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			frame.Set(y, x, float64(g.Y))
		}
	}
	return frame, nil
}
