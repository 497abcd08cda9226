package centroid

// DebayerLuminance turns a raw RGGB mosaic into a luminance frame. Each
// output pixel is (R+G+B)/3, where the two channels missing at a site are
// bilinear averages of their nearest same-color neighbours:
//
//	even row, even col: R
//	even row, odd col:  G (red row)
//	odd row, even col:  G (blue row)
//	odd row, odd col:   B
//
// Lookups past the edge replicate the border pixel.
func DebayerLuminance(f Frame) Frame {
	out := NewFrame(f.Rows, f.Cols)
	at := func(y, x int) float64 {
		return f.At(clampIndex(y, f.Rows), clampIndex(x, f.Cols))
	}
	cross := func(y, x int) float64 {
		return (at(y-1, x) + at(y+1, x) + at(y, x-1) + at(y, x+1)) / 4
	}
	diagonal := func(y, x int) float64 {
		return (at(y-1, x-1) + at(y-1, x+1) + at(y+1, x-1) + at(y+1, x+1)) / 4
	}
	vertical := func(y, x int) float64 { return (at(y-1, x) + at(y+1, x)) / 2 }
	horizontal := func(y, x int) float64 { return (at(y, x-1) + at(y, x+1)) / 2 }

	for y := 0; y < f.Rows; y++ {
		for x := 0; x < f.Cols; x++ {
			var r, g, b float64
			switch y%2<<1 | x%2 {
			case 0b00:
				r, g, b = at(y, x), cross(y, x), diagonal(y, x)
			case 0b01:
				r, g, b = horizontal(y, x), at(y, x), vertical(y, x)
			case 0b10:
				r, g, b = vertical(y, x), at(y, x), horizontal(y, x)
			default:
				r, g, b = diagonal(y, x), cross(y, x), at(y, x)
			}
			out.Set(y, x, (r+g+b)/3)
		}
	}
	return out
}

// Debayer returns a new cube with DebayerLuminance applied to every frame.
func (c ImageCube) Debayer() ImageCube {
	out := make(ImageCube, len(c))
	for i, f := range c {
		out[i] = DebayerLuminance(f)
	}
	return out
}
