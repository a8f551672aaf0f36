/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package detection

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var regularFont = mustParseFont(goregular.TTF)

func mustParseFont(ttf []byte) *truetype.Font {
	f, err := truetype.Parse(ttf)
	if err != nil {
		panic(err)
	}
	return f
}

// AnnotateOptions control box and caption rendering. Zero fields take the
// DefaultAnnotateOptions value.
type AnnotateOptions struct {
	Color       color.Color
	StrokeWidth float64
	FontSize    float64
	// TextOffset is the distance between the caption baseline and the box top.
	TextOffset float64
}

// DefaultAnnotateOptions draws red 4px boxes with 40pt captions.
func DefaultAnnotateOptions() AnnotateOptions {
	return AnnotateOptions{
		Color:       color.RGBA{R: 0xff, A: 0xff},
		StrokeWidth: 4,
		FontSize:    40,
		TextOffset:  10,
	}
}

// Annotator draws detections onto copies of images.
type Annotator struct {
	opts AnnotateOptions
}

// NewAnnotator returns an Annotator with opts, filling unset fields with defaults.
func NewAnnotator(opts AnnotateOptions) *Annotator {
	def := DefaultAnnotateOptions()
	if opts.Color == nil {
		opts.Color = def.Color
	}
	if opts.StrokeWidth <= 0 {
		opts.StrokeWidth = def.StrokeWidth
	}
	if opts.FontSize <= 0 {
		opts.FontSize = def.FontSize
	}
	if opts.TextOffset == 0 {
		opts.TextOffset = def.TextOffset
	}
	return &Annotator{opts: opts}
}

var defaultAnnotator = NewAnnotator(DefaultAnnotateOptions())

// Annotate draws dets onto a copy of img with the default options.
func Annotate(img image.Image, dets []Detection) *image.RGBA {
	return defaultAnnotator.Annotate(img, dets)
}

// Annotate returns a copy of img with an outlined box and caption per
// detection, drawn in order. img is not modified. Detections without a box
// are skipped; anything outside the canvas is clipped.
func (a *Annotator) Annotate(img image.Image, dets []Detection) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)

	dc := gg.NewContextForRGBA(dst)
	// faces cache glyphs and are not safe to share between goroutines
	dc.SetFontFace(truetype.NewFace(regularFont, &truetype.Options{Size: a.opts.FontSize}))
	dc.SetColor(a.opts.Color)
	dc.SetLineWidth(a.opts.StrokeWidth)

	w, h := float64(b.Dx()), float64(b.Dy())
	for _, d := range dets {
		if d.Box == nil {
			continue
		}
		left := float64(d.Box.XMin) * w
		top := float64(d.Box.YMin) * h
		right := float64(d.Box.XMax) * w
		bottom := float64(d.Box.YMax) * h

		dc.DrawRectangle(left, top, right-left, bottom-top)
		dc.Stroke()
		dc.DrawString(d.Caption(), left, top-a.opts.TextOffset)
	}
	return dst
}
