// Package verify decides whether two rasterized formula renderings are the
// same picture. Markup is not canonical, so answers are compared in pixel
// space with a perceptual tolerance instead of as strings.
package verify

import (
	"errors"
	"image"
	"image/color"
)

var ErrDimensionMismatch = errors.New("image dimensions differ")

// DefaultThreshold is the fraction of the maximum perceptual distance a pixel
// may differ by before it counts as different.
const DefaultThreshold = 0.1

// maxYIQDelta is the largest possible weighted YIQ distance between two
// opaque colors.
const maxYIQDelta = 35215.0

type Verifier struct {
	Threshold float64
}

// Func matches Verifier.Equal so callers can swap in a stub.
type Func func(goal, candidate image.Image) bool

func Default() Verifier {
	return Verifier{Threshold: DefaultThreshold}
}

// Equal reports a match iff both images have the same size and no pixel
// exceeds the threshold.
func Equal(goal, candidate image.Image) bool {
	return Default().Equal(goal, candidate)
}

func (v Verifier) Equal(goal, candidate image.Image) bool {
	n, err := v.Diff(goal, candidate)
	return err == nil && n == 0
}

// Diff counts the pixels whose perceptual distance exceeds the threshold.
func (v Verifier) Diff(a, b image.Image) (int, error) {
	if a == nil || b == nil {
		return 0, ErrDimensionMismatch
	}
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, ErrDimensionMismatch
	}

	t := v.Threshold
	if t < 0 {
		t = 0
	}
	limit := maxYIQDelta * t * t

	diff := 0
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ca := color.NRGBAModel.Convert(a.At(ab.Min.X+x, ab.Min.Y+y)).(color.NRGBA)
			cb := color.NRGBAModel.Convert(b.At(bb.Min.X+x, bb.Min.Y+y)).(color.NRGBA)
			if ca == cb {
				continue
			}
			if colorDelta(ca, cb) > limit {
				diff++
			}
		}
	}
	return diff, nil
}

// colorDelta is the weighted squared YIQ distance after blending both colors
// onto a white background.
func colorDelta(a, b color.NRGBA) float64 {
	r1, g1, b1 := blendWhite(a)
	r2, g2, b2 := blendWhite(b)

	dy := yiqY(r1, g1, b1) - yiqY(r2, g2, b2)
	di := yiqI(r1, g1, b1) - yiqI(r2, g2, b2)
	dq := yiqQ(r1, g1, b1) - yiqQ(r2, g2, b2)

	return 0.5053*dy*dy + 0.299*di*di + 0.1957*dq*dq
}

func blendWhite(c color.NRGBA) (float64, float64, float64) {
	a := float64(c.A) / 255
	blend := func(v uint8) float64 { return 255 + (float64(v)-255)*a }
	return blend(c.R), blend(c.G), blend(c.B)
}

func yiqY(r, g, b float64) float64 { return r*0.29889531 + g*0.58662247 + b*0.11448223 }
func yiqI(r, g, b float64) float64 { return r*0.59597799 - g*0.27417610 - b*0.32180189 }
func yiqQ(r, g, b float64) float64 { return r*0.21147017 - g*0.52261711 + b*0.31114694 }
