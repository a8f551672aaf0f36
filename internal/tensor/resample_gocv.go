//go:build gocv

/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

package tensor

import (
	"image"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

func init() {
	RegisterResampler("opencv", ResamplerFunc(opencvResize))
}

// opencvResize resizes through OpenCV and falls back to imaging when the
// image cannot be converted to a Mat.
func opencvResize(img image.Image, width, height int) image.Image {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return imaging.Resize(img, width, height, imaging.Linear)
	}
	defer mat.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, gocv.InterpolationLinear)

	out, err := resized.ToImage()
	if err != nil {
		return imaging.Resize(img, width, height, imaging.Linear)
	}
	return out
}
