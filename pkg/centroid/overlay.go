package centroid

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// RenderFitOverlay draws frame with the fit window and every fitted center
// on top of it and writes the result to outputPath as a JPEG.
func RenderFitOverlay(frame Frame, window Window, results *FitResultSet, outputPath string) error {
	img, err := renderFitImage(frame, window, results)
	if err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create overlay file: %w", err)
	}
	defer f.Close()

	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

// RenderFitOverlayBytes is RenderFitOverlay returning the JPEG bytes.
func RenderFitOverlayBytes(frame Frame, window Window, results *FitResultSet) ([]byte, error) {
	img, err := renderFitImage(frame, window, results)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderFitImage(frame Frame, window Window, results *FitResultSet) (*image.RGBA, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("no frame to render")
	}
	if results == nil || results.Len() == 0 {
		return nil, fmt.Errorf("no fit results")
	}

	// Frames are tiny; scale them up to roughly 512px wide.
	const (
		targetWidth  = 512
		stripHeight  = 60
		outlineWidth = 2
	)
	scale := max(targetWidth/frame.Cols, 1)
	plot := image.Rect(0, 0, frame.Cols*scale, frame.Rows*scale)
	img := image.NewRGBA(image.Rect(0, 0, plot.Dx(), plot.Dy()+stripHeight))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	lo, hi := stretchLimits(frame.Pix)
	for y := 0; y < frame.Rows; y++ {
		for x := 0; x < frame.Cols; x++ {
			g := grayLevel(frame.At(y, x), lo, hi)
			cell := image.Rect(x*scale, y*scale, (x+1)*scale, (y+1)*scale)
			draw.Draw(img, cell, image.NewUniform(color.Gray{Y: g}), image.Point{}, draw.Src)
		}
	}

	box := image.Rect(window.XLower*scale, window.YLower*scale, window.XUpper*scale, window.YUpper*scale)
	drawOutline(img, box.Intersect(plot), outlineWidth, color.RGBA{80, 160, 255, 255})

	// Pixel (y, x) covers [x*scale, (x+1)*scale); its center is at +scale/2.
	toImage := func(v float64) int { return int(math.Round((v + 0.5) * float64(scale))) }

	for i := 0; i < results.Len(); i++ {
		cy, cx := results.CenterY[i], results.CenterX[i]
		if math.IsNaN(cy) || math.IsNaN(cx) {
			continue
		}
		img.Set(toImage(cx), toImage(cy), statusColor(results.Status[i]))
	}

	medY := finiteMedian(results.CenterY)
	medX := finiteMedian(results.CenterX)
	medWY := finiteMedian(results.WidthY)
	medWX := finiteMedian(results.WidthX)
	if !math.IsNaN(medY) && !math.IsNaN(medX) && !math.IsNaN(medWY) && !math.IsNaN(medWX) {
		radius := max(int(math.Sqrt(medWY*medWX)*float64(scale)), 3)
		drawCircle(img, toImage(medX), toImage(medY), radius, color.RGBA{255, 200, 60, 255})
	}

	face := basicfont.Face7x13
	textColor := color.RGBA{220, 220, 220, 255}
	baseline := plot.Dy() + 18
	line1 := fmt.Sprintf("frames: %d  converged: %d  window: %v",
		results.Len(), results.CountStatus(StatusConverged), window)
	line2 := fmt.Sprintf("median center: (%.3f, %.3f)  width: (%.3f, %.3f)", medY, medX, medWY, medWX)
	for i, line := range []string{line1, line2} {
		(&font.Drawer{Dst: img, Src: image.NewUniform(textColor), Face: face, Dot: fixed.P(10, baseline+18*i)}).DrawString(line)
	}

	return img, nil
}

// stretchLimits returns the finite min and max of pix.
func stretchLimits(pix []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range pix {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// grayLevel maps v into 0..255 with a square-root stretch between lo and hi.
func grayLevel(v, lo, hi float64) uint8 {
	if math.IsNaN(v) || !(hi > lo) {
		return 0
	}
	t := math.Sqrt(clampFloat64((v-lo)/(hi-lo), 0, 1))
	return uint8(t * 255)
}

func statusColor(s FitStatus) color.RGBA {
	switch s {
	case StatusConverged:
		return color.RGBA{60, 220, 60, 255}
	case StatusNotConverged:
		return color.RGBA{240, 200, 40, 255}
	default:
		return color.RGBA{240, 60, 60, 255}
	}
}

// drawOutline strokes the inside edge of r with the given thickness.
func drawOutline(img *image.RGBA, r image.Rectangle, width int, c color.RGBA) {
	if r.Empty() {
		return
	}
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+width),
		image.Rect(r.Min.X, r.Max.Y-width, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+width, r.Max.Y),
		image.Rect(r.Max.X-width, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(r), src, image.Point{}, draw.Src)
	}
}

// drawCircle plots a circle outline, stepping the angle finely enough that
// neighbouring points are at most one pixel apart.
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	steps := max(int(2*math.Pi*float64(radius))+1, 8)
	for i := 0; i < steps; i++ {
		theta := 2 * math.Pi * float64(i) / float64(steps)
		x := cx + int(math.Round(float64(radius)*math.Cos(theta)))
		y := cy + int(math.Round(float64(radius)*math.Sin(theta)))
		img.SetRGBA(x, y, c)
	}
}
