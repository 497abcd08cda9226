//go:build !purego && !js

package main

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/exowanderer/Wanderer/pkg/centroid"
)

// loadImageFrame reads a single-channel image at its native bit depth.
func loadImageFrame(path string) (centroid.Frame, error) {
	src := gocv.IMRead(path, gocv.IMReadAnyDepth)
	if src.Empty() {
		return centroid.Frame{}, fmt.Errorf("could not load image: %s", path)
	}
	defer src.Close()

	floatMat := gocv.NewMat()
	defer floatMat.Close()
	src.ConvertTo(&floatMat, gocv.MatTypeCV64F)

	data, err := floatMat.DataPtrFloat64()
	if err != nil {
		return centroid.Frame{}, fmt.Errorf("reading pixels of %s: %w", path, err)
	}
	frame := centroid.NewFrame(floatMat.Rows(), floatMat.Cols())
	copy(frame.Pix, data)
	return frame, nil
}
