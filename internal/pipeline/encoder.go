package pipeline

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

type ChannelOrder string

const (
	ChannelOrderRGB ChannelOrder = "rgb"
	ChannelOrderBGR ChannelOrder = "bgr"
)

func ParseChannelOrder(s string) (ChannelOrder, error) {
	switch ChannelOrder(s) {
	case ChannelOrderRGB, ChannelOrderBGR:
		return ChannelOrder(s), nil
	}
	return "", fmt.Errorf("unknown channel order %q", s)
}

// ZeroMotionColor is the encoding of a zero displacement in either channel order.
var ZeroMotionColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

const magnitudeEpsilon = 1e-5

// Encoder renders displacement fields with the Middlebury color wheel: direction selects
// the hue, magnitude relative to maxMagnitude selects saturation. Vectors longer than
// maxMagnitude keep full saturation and are darkened.
//
// maxMagnitude is fixed per Encoder so rasters from different videos stay comparable.
type Encoder struct {
	maxMagnitude float64
	order        ChannelOrder
	wheel        [][3]float64
}

func NewEncoder(maxMagnitude float64, order ChannelOrder) (*Encoder, error) {
	if maxMagnitude <= 0 || math.IsNaN(maxMagnitude) || math.IsInf(maxMagnitude, 0) {
		return nil, fmt.Errorf("max magnitude must be a positive finite number, got %v", maxMagnitude)
	}
	if _, err := ParseChannelOrder(string(order)); err != nil {
		return nil, err
	}
	return &Encoder{
		maxMagnitude: maxMagnitude,
		order:        order,
		wheel:        colorWheel(),
	}, nil
}

func (e *Encoder) MaxMagnitude() float64 {
	return e.maxMagnitude
}

// Encode returns an opaque raster with the field's dimensions.
func (e *Encoder) Encode(field entity.DisplacementField) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, field.Width, field.Height))
	scale := e.maxMagnitude + magnitudeEpsilon

	for y := 0; y < field.Height; y++ {
		for x := 0; x < field.Width; x++ {
			dx, dy := field.At(x, y)
			c := e.colorFor(float64(dx)/scale, float64(dy)/scale)
			o := img.PixOffset(x, y)
			img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3] = c[0], c[1], c[2], 255
		}
	}
	return img
}

func (e *Encoder) colorFor(u, v float64) [3]uint8 {
	// Non-finite model output renders as no motion.
	if math.IsNaN(u) || math.IsNaN(v) || math.IsInf(u, 0) || math.IsInf(v, 0) {
		u, v = 0, 0
	}

	ncols := len(e.wheel)
	rad := math.Hypot(u, v)
	a := math.Atan2(-v, -u) / math.Pi
	fk := (a + 1) / 2 * float64(ncols-1)
	k0 := int(math.Floor(fk))
	k1 := k0 + 1
	if k1 == ncols {
		k1 = 0
	}
	f := fk - float64(k0)

	var out [3]uint8
	for i := 0; i < 3; i++ {
		col0 := e.wheel[k0][i] / 255
		col1 := e.wheel[k1][i] / 255
		col := (1-f)*col0 + f*col1
		if rad <= 1 {
			col = 1 - rad*(1-col)
		} else {
			col *= 0.75
		}

		ch := i
		if e.order == ChannelOrderBGR {
			ch = 2 - i
		}
		out[ch] = uint8(math.Floor(255 * col))
	}
	return out
}

func colorWheel() [][3]float64 {
	const (
		ry = 15
		yg = 6
		gc = 4
		cb = 11
		bm = 13
		mr = 6
	)
	step := func(i, n int) float64 { return math.Floor(255 * float64(i) / float64(n)) }

	wheel := make([][3]float64, 0, ry+yg+gc+cb+bm+mr)
	for i := 0; i < ry; i++ {
		wheel = append(wheel, [3]float64{255, step(i, ry), 0})
	}
	for i := 0; i < yg; i++ {
		wheel = append(wheel, [3]float64{255 - step(i, yg), 255, 0})
	}
	for i := 0; i < gc; i++ {
		wheel = append(wheel, [3]float64{0, 255, step(i, gc)})
	}
	for i := 0; i < cb; i++ {
		wheel = append(wheel, [3]float64{0, 255 - step(i, cb), 255})
	}
	for i := 0; i < bm; i++ {
		wheel = append(wheel, [3]float64{step(i, bm), 0, 255})
	}
	for i := 0; i < mr; i++ {
		wheel = append(wheel, [3]float64{255, 0, 255 - step(i, mr)})
	}
	return wheel
}
