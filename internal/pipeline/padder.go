package pipeline

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/fiapx/fiapx-flowscore-service/internal/domain/entity"
)

// DefaultStride is the spatial multiple the flow model requires on both axes.
const DefaultStride = 8

// Padder aligns frame pairs to the flow model stride and crops fields back afterwards.
// Padding is split symmetrically and edge pixels are replicated into the border.
type Padder struct {
	stride int
}

func NewPadder(stride int) *Padder {
	if stride <= 0 {
		stride = DefaultStride
	}
	return &Padder{stride: stride}
}

func (p *Padder) Stride() int {
	return p.stride
}

// PaddingFor returns the minimal padding that makes width and height multiples of the stride.
func (p *Padder) PaddingFor(width, height int) entity.Padding {
	padW := (p.stride - width%p.stride) % p.stride
	padH := (p.stride - height%p.stride) % p.stride
	return entity.Padding{
		Top:    padH / 2,
		Bottom: padH - padH/2,
		Left:   padW / 2,
		Right:  padW - padW/2,
	}
}

// Pad returns both images padded with the same descriptor. The images must have equal size.
func (p *Padder) Pad(a, b image.Image) (*image.RGBA, *image.RGBA, entity.Padding, error) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Empty() {
		return nil, nil, entity.Padding{}, fmt.Errorf("empty frame")
	}
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return nil, nil, entity.Padding{}, fmt.Errorf("frame size mismatch: %dx%d vs %dx%d",
			ab.Dx(), ab.Dy(), bb.Dx(), bb.Dy())
	}

	pad := p.PaddingFor(ab.Dx(), ab.Dy())
	return replicatePad(a, pad), replicatePad(b, pad), pad, nil
}

// Unpad crops a field computed on padded inputs back to the original resolution.
func (p *Padder) Unpad(field entity.DisplacementField, pad entity.Padding) (entity.DisplacementField, error) {
	if err := field.Validate(); err != nil {
		return entity.DisplacementField{}, err
	}
	if pad.Top < 0 || pad.Bottom < 0 || pad.Left < 0 || pad.Right < 0 {
		return entity.DisplacementField{}, fmt.Errorf("negative padding %+v", pad)
	}
	if pad.IsZero() {
		return field, nil
	}

	w := field.Width - pad.Left - pad.Right
	h := field.Height - pad.Top - pad.Bottom
	if w <= 0 || h <= 0 {
		return entity.DisplacementField{}, fmt.Errorf("padding %+v exceeds field %dx%d", pad, field.Width, field.Height)
	}

	out := entity.NewDisplacementField(w, h)
	for y := 0; y < h; y++ {
		src := ((y+pad.Top)*field.Width + pad.Left) * 2
		copy(out.Data[y*w*2:(y+1)*w*2], field.Data[src:src+w*2])
	}
	return out, nil
}

func replicatePad(src image.Image, pad entity.Padding) *image.RGBA {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	w, h := sw+pad.Left+pad.Right, sh+pad.Top+pad.Bottom

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	inner := image.Rect(pad.Left, pad.Top, pad.Left+sw, pad.Top+sh)
	draw.Draw(dst, inner, src, sb.Min, draw.Src)
	if pad.IsZero() {
		return dst
	}

	for y := 0; y < h; y++ {
		sy := clamp(y, inner.Min.Y, inner.Max.Y-1)
		for x := 0; x < w; x++ {
			if (image.Point{X: x, Y: y}).In(inner) {
				continue
			}
			sx := clamp(x, inner.Min.X, inner.Max.X-1)
			d, s := dst.PixOffset(x, y), dst.PixOffset(sx, sy)
			copy(dst.Pix[d:d+4], dst.Pix[s:s+4])
		}
	}
	return dst
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
