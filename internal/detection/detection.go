/* ---------------------------------------------------------------------------
** This software is in the public domain, furnished "as is", without technical
** support, and with no warranty, express or implied, as to its usefulness for
** any purpose.
** -------------------------------------------------------------------------*/

// Package detection ranks raw model outputs and draws them onto images.
package detection

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
)

// UnknownLabel is reported for class indices outside the label table.
const UnknownLabel = "Unknown"

// Box is a bounding box in normalized [0,1] coordinates.
type Box struct {
	YMin float32 `json:"ymin"`
	XMin float32 `json:"xmin"`
	YMax float32 `json:"ymax"`
	XMax float32 `json:"xmax"`
}

// PixelRect scales b to an image of the given size.
func (b Box) PixelRect(width, height int) image.Rectangle {
	w, h := float32(width), float32(height)
	return image.Rect(
		int(math32.Round(b.XMin*w)), int(math32.Round(b.YMin*h)),
		int(math32.Round(b.XMax*w)), int(math32.Round(b.YMax*h)),
	)
}

// Detection is one ranked result. Box is nil for classification models.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	ClassIndex int     `json:"class_index"`
	Box        *Box    `json:"box,omitempty"`
}

// Caption formats the detection as "label NN%".
func (d Detection) Caption() string {
	return fmt.Sprintf("%s %d%%", d.Label, int(math32.Round(d.Confidence*100)))
}

func (d Detection) String() string {
	if d.Box == nil {
		return fmt.Sprintf("%s (class %d)", d.Caption(), d.ClassIndex)
	}
	return fmt.Sprintf("%s (class %d) [%.3f %.3f %.3f %.3f]", d.Caption(), d.ClassIndex,
		d.Box.YMin, d.Box.XMin, d.Box.YMax, d.Box.XMax)
}

// Labels maps class indices to names. It is shared read-only by all requests.
type Labels []string

// Lookup returns the name for class, or UnknownLabel when out of range.
func (l Labels) Lookup(class int) string {
	if class < 0 || class >= len(l) {
		return UnknownLabel
	}
	return l[class]
}
