package align

import (
	"fmt"
	"math"

	"stackalign/internal/frame"
)

// Apply runs the scale, rotate, translate chain on a single frame and returns
// the transformed copy. The output always keeps the input geometry: scaling
// resamples and then center-crops (scale > 1) or center-pads with zeros
// (scale < 1). Samples pushed outside the frame by rotation or translation
// are dropped; uncovered regions are zero-filled.
func Apply(f frame.Frame, p Params) (frame.Frame, error) {
	out := f
	if p.Scale != 1.0 {
		var err error
		out, err = rescale(out, p.Scale)
		if err != nil {
			return frame.Frame{}, err
		}
	}
	out = rotate(out, p.Rotation)
	return translate(out, p.YShift, p.XShift), nil
}

// rescale resamples f by the given factor and restores the original geometry
// around the center.
func rescale(f frame.Frame, scale float64) (frame.Frame, error) {
	if scale <= 0 {
		return frame.Frame{}, fmt.Errorf("scale %g is not positive", scale)
	}
	sh := int(math.RoundToEven(float64(f.Height) * scale))
	sw := int(math.RoundToEven(float64(f.Width) * scale))
	if sh < 1 || sw < 1 {
		return frame.Frame{}, fmt.Errorf("scale %g collapses %dx%d frame below one pixel", scale, f.Height, f.Width)
	}
	scaled := resample(f, sh, sw)
	if scale > 1 {
		return centerCrop(scaled, f.Height, f.Width), nil
	}
	return centerPad(scaled, f.Height, f.Width), nil
}

// resample produces an oh-by-ow nearest-neighbor resampling of f. Output
// coordinates map onto the input so that the first and last samples of each
// axis coincide.
func resample(f frame.Frame, oh, ow int) frame.Frame {
	out := frame.New(oh, ow)
	fy := sampleStep(f.Height, oh)
	fx := sampleStep(f.Width, ow)
	for y := 0; y < oh; y++ {
		sy := int(math.Floor(float64(y)*fy + 0.5))
		src := sy * f.Width
		dst := y * ow
		for x := 0; x < ow; x++ {
			sx := int(math.Floor(float64(x)*fx + 0.5))
			out.Pix[dst+x] = f.Pix[src+sx]
		}
	}
	return out
}

func sampleStep(in, out int) float64 {
	if out <= 1 {
		return 1
	}
	return float64(in-1) / float64(out-1)
}

// centerCrop cuts an h-by-w window from the middle of f. f must be at least
// h-by-w.
func centerCrop(f frame.Frame, h, w int) frame.Frame {
	offY := (f.Height - h) / 2
	offX := (f.Width - w) / 2
	out := frame.New(h, w)
	for y := 0; y < h; y++ {
		src := (y+offY)*f.Width + offX
		copy(out.Pix[y*w:(y+1)*w], f.Pix[src:src+w])
	}
	return out
}

// centerPad places f in the middle of a zero-filled h-by-w frame. f must be
// at most h-by-w.
func centerPad(f frame.Frame, h, w int) frame.Frame {
	offY := (h - f.Height) / 2
	offX := (w - f.Width) / 2
	out := frame.New(h, w)
	for y := 0; y < f.Height; y++ {
		dst := (y+offY)*w + offX
		copy(out.Pix[dst:dst+f.Width], f.Pix[y*f.Width:(y+1)*f.Width])
	}
	return out
}

// rotate turns f counterclockwise by the given angle in degrees about the
// frame center, keeping the input geometry. Each output sample is pulled from
// the nearest source sample under the inverse rotation; sources falling
// outside the frame become zero.
func rotate(f frame.Frame, degrees float64) frame.Frame {
	sin, cos := sincosdeg(degrees)
	out := frame.New(f.Height, f.Width)
	cy := float64(f.Height-1) / 2
	cx := float64(f.Width-1) / 2
	for y := 0; y < f.Height; y++ {
		dy := float64(y) - cy
		for x := 0; x < f.Width; x++ {
			dx := float64(x) - cx
			sy := cos*dy + sin*dx + cy
			sx := -sin*dy + cos*dx + cx
			out.Pix[y*f.Width+x] = sampleAt(f, sy, sx)
		}
	}
	return out
}

// sampleAt rounds a continuous source coordinate to the nearest sample. The
// bounds test runs on the continuous coordinate, so a coordinate that would
// round into range from just outside the frame still reads as zero.
func sampleAt(f frame.Frame, y, x float64) uint16 {
	if y < 0 || x < 0 || y > float64(f.Height-1) || x > float64(f.Width-1) {
		return 0
	}
	iy := int(math.Floor(y + 0.5))
	ix := int(math.Floor(x + 0.5))
	return f.Pix[iy*f.Width+ix]
}

// sincosdeg evaluates sine and cosine of an angle given in degrees, exact at
// multiples of 90 so right-angle rotations land back on the sample grid.
func sincosdeg(degrees float64) (sin, cos float64) {
	m := math.Mod(degrees, 360)
	if m < 0 {
		m += 360
	}
	switch m {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	rad := degrees * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

// translate moves f down by dy rows and right by dx columns, dropping samples
// shifted out of the frame and zero-filling the vacated region.
func translate(f frame.Frame, dy, dx int) frame.Frame {
	out := frame.New(f.Height, f.Width)
	for y := 0; y < f.Height; y++ {
		sy := y - dy
		if sy < 0 || sy >= f.Height {
			continue
		}
		for x := 0; x < f.Width; x++ {
			sx := x - dx
			if sx < 0 || sx >= f.Width {
				continue
			}
			out.Pix[y*f.Width+x] = f.Pix[sy*f.Width+sx]
		}
	}
	return out
}
