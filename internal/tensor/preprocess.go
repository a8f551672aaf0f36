/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tensor

import (
	"encoding/binary"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Preprocessor resizes images to a model shape and encodes them.
// It holds no per-request state and is safe for concurrent use.
type Preprocessor struct {
	resampler Resampler
}

// NewPreprocessor returns a Preprocessor using r, or Bilinear when r is nil.
func NewPreprocessor(r Resampler) *Preprocessor {
	if r == nil {
		r = Bilinear
	}
	return &Preprocessor{resampler: r}
}

var defaultPreprocessor = NewPreprocessor(nil)

// Preprocess encodes img for shape with the default bilinear resampler.
func Preprocess(img image.Image, shape Shape) (Input, error) {
	return defaultPreprocessor.Preprocess(img, shape)
}

// Preprocess stretches img to shape.Width x shape.Height, ignoring aspect
// ratio, and writes the pixels row by row, R,G,B per pixel (luma for one
// channel). Float32 values are scaled to [0,1].
func (p *Preprocessor) Preprocess(img image.Image, shape Shape) (Input, error) {
	if err := shape.Validate(); err != nil {
		return Input{}, err
	}
	if img == nil {
		return Input{}, errors.Wrap(ErrInvalidShape, "nil image")
	}
	if img.Bounds().Empty() {
		return Input{}, errors.Wrap(ErrInvalidShape, "empty image")
	}

	px := toNRGBA(p.resampler.Resample(img, shape.Width, shape.Height))
	if px.Rect.Dx() != shape.Width || px.Rect.Dy() != shape.Height {
		return Input{}, errors.Wrapf(ErrInvalidShape, "resampler returned %dx%d, want %dx%d",
			px.Rect.Dx(), px.Rect.Dy(), shape.Width, shape.Height)
	}

	data := make([]byte, shape.ByteSize())
	put := byteWriter(shape.Type, data)
	for y := 0; y < shape.Height; y++ {
		row := px.Pix[y*px.Stride : y*px.Stride+shape.Width*4]
		for x := 0; x < shape.Width; x++ {
			r, g, b := row[x*4], row[x*4+1], row[x*4+2]
			if shape.Channels == 1 {
				put(luma(r, g, b))
				continue
			}
			put(r)
			put(g)
			put(b)
		}
	}
	return Input{Shape: shape, Data: data}, nil
}

// byteWriter returns a function appending one channel value to data.
func byteWriter(t ElementType, data []byte) func(v uint8) {
	off := 0
	if t == Float32 {
		return func(v uint8) {
			binary.LittleEndian.PutUint32(data[off:], math.Float32bits(float32(v)/255))
			off += 4
		}
	}
	return func(v uint8) {
		data[off] = v
		off++
	}
}

func luma(r, g, b uint8) uint8 {
	return color.GrayModel.Convert(color.NRGBA{R: r, G: g, B: b, A: 0xff}).(color.Gray).Y
}

// toNRGBA returns 8-bit non-premultiplied pixels anchored at the origin.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}
